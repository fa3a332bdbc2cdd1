// Package realtime pushes in-app notifications to connected websocket clients.
package realtime

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"marketnotify/internal/monitor"
	"marketnotify/pkg/log"
	"marketnotify/pkg/queue"
)

const (
	// Topic carries Envelopes from the in-app channel to the hub.
	Topic = "notifications.in_app"

	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 << 10

	defaultBufferSize = 64
)

// Envelope is what the hub writes to a client socket.
type Envelope struct {
	UserID string          `json:"user_id"`
	Event  string          `json:"event"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// Hub tracks websocket connections per user.
type Hub struct {
	mu       sync.RWMutex
	clients  map[string]map[*connection]struct{}
	total    int
	upgrader websocket.Upgrader
	metrics  *monitor.MetricsCollector
	logger   *log.Entry
}

// NewHub allowedOrigins empty means same host or loopback only.
func NewHub(allowedOrigins []string, metrics *monitor.MetricsCollector) *Hub {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[hostWithoutPort(o)] = struct{}{}
	}
	h := &Hub{
		clients: make(map[string]map[*connection]struct{}),
		metrics: metrics,
		logger:  log.Component("realtime"),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			originHost := hostWithoutPort(origin)
			if _, ok := allowed[originHost]; ok {
				return true
			}
			if _, ok := allowed["*"]; ok {
				return true
			}
			return originHost == hostWithoutPort(r.Host) || isLoopback(originHost)
		},
	}
	return h
}

// Run consumes the in-app topic until ctx is done.
func (h *Hub) Run(ctx context.Context, q queue.Queue) error {
	return q.Subscribe(ctx, Topic, func(_ context.Context, _ string, payload []byte) error {
		var env Envelope
		if err := json.Unmarshal(payload, &env); err != nil {
			return err
		}
		h.SendToUser(env.UserID, env)
		return nil
	})
}

// Serve upgrades the request and blocks until the client goes away.
func (h *Hub) Serve(userID string, w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("websocket upgrade failed")
		return
	}

	c := &connection{
		hub:    h,
		socket: conn,
		userID: userID,
		send:   make(chan Envelope, defaultBufferSize),
	}
	h.register(c)

	go c.writeLoop()
	c.readLoop()
}

// SendToUser returns the number of connections the envelope was queued on.
func (h *Hub) SendToUser(userID string, env Envelope) int {
	if userID == "" {
		return 0
	}
	h.mu.RLock()
	targets := make([]*connection, 0, len(h.clients[userID]))
	for c := range h.clients[userID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	sent := 0
	for _, c := range targets {
		if c.enqueue(env) {
			sent++
		}
	}
	return sent
}

// Connections number of live connections for userID, or all users when empty.
func (h *Hub) Connections(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if userID == "" {
		return h.total
	}
	return len(h.clients[userID])
}

func (h *Hub) register(c *connection) {
	h.mu.Lock()
	if h.clients[c.userID] == nil {
		h.clients[c.userID] = make(map[*connection]struct{})
	}
	h.clients[c.userID][c] = struct{}{}
	h.total++
	total := h.total
	h.mu.Unlock()

	h.metrics.SetRealtimeClients(total)
	h.logger.WithField("user_id", c.userID).Debug("client connected")
}

func (h *Hub) unregister(c *connection) {
	h.mu.Lock()
	conns := h.clients[c.userID]
	if _, ok := conns[c]; ok {
		delete(conns, c)
		h.total--
		if len(conns) == 0 {
			delete(h.clients, c.userID)
		}
	}
	total := h.total
	h.mu.Unlock()

	h.metrics.SetRealtimeClients(total)
}

type connection struct {
	hub    *Hub
	socket *websocket.Conn
	userID string

	mu     sync.Mutex
	closed bool
	send   chan Envelope
}

// enqueue drops slow clients instead of blocking the hub.
func (c *connection) enqueue(env Envelope) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- env:
		return true
	default:
		c.hub.logger.WithField("user_id", c.userID).Warn("dropping slow websocket client")
		c.closeLocked()
		return false
	}
}

func (c *connection) readLoop() {
	defer c.close()

	c.socket.SetReadLimit(maxMessageSize)
	_ = c.socket.SetReadDeadline(time.Now().Add(pongWait))
	c.socket.SetPongHandler(func(string) error {
		return c.socket.SetReadDeadline(time.Now().Add(pongWait))
	})

	// the stream is server to client only, reads just keep the deadline moving
	for {
		if _, _, err := c.socket.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.WithField("user_id", c.userID).WithError(err).Debug("unexpected close")
			}
			return
		}
	}
}

func (c *connection) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.socket.Close()
	}()

	for {
		select {
		case env, ok := <-c.send:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.socket.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.socket.WriteJSON(env); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *connection) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *connection) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
	c.hub.unregister(c)
}

func hostWithoutPort(host string) string {
	host = strings.TrimSpace(host)
	host = strings.TrimPrefix(host, "http://")
	host = strings.TrimPrefix(host, "https://")
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}

func isLoopback(host string) bool {
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return strings.EqualFold(host, "localhost")
}

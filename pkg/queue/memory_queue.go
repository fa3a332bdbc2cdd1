package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"marketnotify/pkg/log"
)

// MemoryQueue is an in-process queue. Each topic has one buffered channel and
// one dispatcher goroutine that fans every message out to all subscribers.
type MemoryQueue struct {
	config *MemoryQueueConfig
	mu     sync.RWMutex
	topics map[string]*topic
	done   chan struct{}
	closed bool
	wg     sync.WaitGroup

	published atomic.Int64
	delivered atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

type topic struct {
	name     string
	messages chan []byte
	mu       sync.RWMutex
	nextID   int
	handlers map[int]MessageHandler
}

// MemoryQueueConfig memory queue configuration
type MemoryQueueConfig struct {
	BufferSize int           `json:"buffer_size" mapstructure:"buffer_size"`
	Timeout    time.Duration `json:"timeout" mapstructure:"timeout"`
}

// NewMemoryQueue creates a new memory queue instance
func NewMemoryQueue(config *MemoryQueueConfig) (*MemoryQueue, error) {
	if config == nil {
		config = &MemoryQueueConfig{}
	}
	if config.BufferSize <= 0 {
		config.BufferSize = 1000
	}
	if config.Timeout <= 0 {
		config.Timeout = time.Second
	}

	return &MemoryQueue{
		config: config,
		topics: make(map[string]*topic),
		done:   make(chan struct{}),
	}, nil
}

func (mq *MemoryQueue) topic(name string) (*topic, error) {
	mq.mu.RLock()
	t, ok := mq.topics[name]
	closed := mq.closed
	mq.mu.RUnlock()
	if closed {
		return nil, ErrQueueClosed
	}
	if ok {
		return t, nil
	}

	mq.mu.Lock()
	defer mq.mu.Unlock()
	if mq.closed {
		return nil, ErrQueueClosed
	}
	if t, ok = mq.topics[name]; ok {
		return t, nil
	}
	t = &topic{
		name:     name,
		messages: make(chan []byte, mq.config.BufferSize),
		handlers: make(map[int]MessageHandler),
	}
	mq.topics[name] = t
	mq.wg.Add(1)
	go mq.dispatch(t)
	return t, nil
}

// Publish enqueues message, waiting at most the configured timeout when the
// topic buffer is full.
func (mq *MemoryQueue) Publish(ctx context.Context, name string, message []byte) error {
	if name == "" {
		return ErrEmptyTopic
	}
	t, err := mq.topic(name)
	if err != nil {
		return err
	}

	select {
	case t.messages <- message:
		mq.published.Add(1)
		return nil
	default:
	}

	timer := time.NewTimer(mq.config.Timeout)
	defer timer.Stop()
	select {
	case t.messages <- message:
		mq.published.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-mq.done:
		return ErrQueueClosed
	case <-timer.C:
		return ErrPublishTimeout
	}
}

// Subscribe adds handler to topic. The handler is removed once ctx is done.
func (mq *MemoryQueue) Subscribe(ctx context.Context, name string, handler MessageHandler) error {
	if name == "" {
		return ErrEmptyTopic
	}
	t, err := mq.topic(name)
	if err != nil {
		return err
	}

	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.handlers[id] = handler
	t.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-mq.done:
		}
		t.mu.Lock()
		delete(t.handlers, id)
		t.mu.Unlock()
	}()
	return nil
}

func (mq *MemoryQueue) dispatch(t *topic) {
	defer mq.wg.Done()
	for {
		select {
		case <-mq.done:
			return
		case message := <-t.messages:
			mq.deliver(t, message)
		}
	}
}

func (mq *MemoryQueue) deliver(t *topic, message []byte) {
	t.mu.RLock()
	handlers := make([]MessageHandler, 0, len(t.handlers))
	for _, h := range t.handlers {
		handlers = append(handlers, h)
	}
	t.mu.RUnlock()

	if len(handlers) == 0 {
		mq.dropped.Add(1)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), mq.config.Timeout)
	defer cancel()
	for _, h := range handlers {
		if err := h(ctx, t.name, message); err != nil {
			mq.failed.Add(1)
			log.WithField("topic", t.name).WithError(err).Warn("queue handler failed")
			continue
		}
		mq.delivered.Add(1)
	}
}

// Close stops all dispatchers. Messages still buffered are discarded.
func (mq *MemoryQueue) Close() error {
	mq.mu.Lock()
	if mq.closed {
		mq.mu.Unlock()
		return nil
	}
	mq.closed = true
	close(mq.done)
	mq.mu.Unlock()

	mq.wg.Wait()
	return nil
}

// Health checks the health of the queue
func (mq *MemoryQueue) Health() error {
	mq.mu.RLock()
	defer mq.mu.RUnlock()

	if mq.closed {
		return ErrQueueClosed
	}
	return nil
}

// GetStats returns queue statistics
func (mq *MemoryQueue) GetStats() *QueueStats {
	mq.mu.RLock()
	defer mq.mu.RUnlock()

	stats := &QueueStats{
		Topics:    len(mq.topics),
		Published: mq.published.Load(),
		Delivered: mq.delivered.Load(),
		Failed:    mq.failed.Load(),
		Dropped:   mq.dropped.Load(),
		Closed:    mq.closed,
	}
	for _, t := range mq.topics {
		t.mu.RLock()
		stats.Subscribers += len(t.handlers)
		t.mu.RUnlock()
	}
	return stats
}

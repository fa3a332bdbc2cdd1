package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketnotify/internal/monitor"
	"marketnotify/internal/utils"
	"marketnotify/pkg/limiter"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	m.Run()
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func whoami(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"user_id": MustGetUserID(c)})
}

func TestAuth(t *testing.T) {
	jwtManager := utils.NewJWTManager("secret", "marketnotify", time.Hour)
	token, err := jwtManager.GenerateToken("u1")
	require.NoError(t, err)

	r := gin.New()
	r.GET("/me", Auth(jwtManager.UserID), whoami)
	r.GET("/stream", AuthWithConfig(AuthConfig{TokenValidator: jwtManager.UserID, QueryParam: "access_token"}), whoami)

	tests := []struct {
		name   string
		path   string
		header string
		status int
	}{
		{"valid bearer", "/me", "Bearer " + token, http.StatusOK},
		{"missing header", "/me", "", http.StatusUnauthorized},
		{"wrong scheme", "/me", "Basic " + token, http.StatusUnauthorized},
		{"empty token", "/me", "Bearer ", http.StatusUnauthorized},
		{"bad token", "/me", "Bearer nope", http.StatusUnauthorized},
		{"query token", "/stream?access_token=" + token, "", http.StatusOK},
		{"query ignored elsewhere", "/me?access_token=" + token, "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set(AuthorizationHeader, tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, tt.status, w.Code)
			if tt.status == http.StatusOK {
				assert.Equal(t, "u1", decode(t, w)["user_id"])
			}
		})
	}
}

func TestAuthSkipPaths(t *testing.T) {
	r := gin.New()
	r.Use(AuthWithConfig(AuthConfig{
		TokenValidator: func(string) (string, error) { return "", errors.New("never") },
		SkipPaths:      []string{"/health"},
	}))
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestGetUserID(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	_, ok := GetUserID(c)
	assert.False(t, ok)
	assert.Panics(t, func() { MustGetUserID(c) })

	c.Set(UserIDKey, "u9")
	id, ok := GetUserID(c)
	assert.True(t, ok)
	assert.Equal(t, "u9", id)
}

func TestIngestKey(t *testing.T) {
	tests := []struct {
		name   string
		key    string
		sent   string
		status int
	}{
		{"match", "k3y", "k3y", http.StatusOK},
		{"mismatch", "k3y", "nope", http.StatusUnauthorized},
		{"missing", "k3y", "", http.StatusUnauthorized},
		{"disabled", "", "", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := gin.New()
			r.POST("/ingest", IngestKey(tt.key), func(c *gin.Context) { c.Status(http.StatusOK) })

			req := httptest.NewRequest(http.MethodPost, "/ingest", nil)
			if tt.sent != "" {
				req.Header.Set(IngestKeyHeader, tt.sent)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.status, w.Code)
		})
	}
}

func TestRecovery(t *testing.T) {
	r := gin.New()
	r.Use(RequestID(), Recovery())
	r.GET("/panic", func(c *gin.Context) { panic("boom") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	body := decode(t, w)
	assert.Equal(t, "internal server error", body["message"])
	assert.NotContains(t, w.Body.String(), "boom")
}

func TestRequestID(t *testing.T) {
	r := gin.New()
	r.Use(RequestID())
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, c.GetString(RequestIDKey)) })

	t.Run("generated", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		id := w.Header().Get(RequestIDHeader)
		assert.Len(t, id, 36)
		assert.Equal(t, id, w.Body.String())
	})

	t.Run("propagated", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(RequestIDHeader, "abc-123")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, "abc-123", w.Header().Get(RequestIDHeader))
	})

	t.Run("oversized replaced", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(RequestIDHeader, strings.Repeat("x", 100))
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Len(t, w.Header().Get(RequestIDHeader), 36)
	})
}

func TestLogger(t *testing.T) {
	r := gin.New()
	r.Use(RequestID(), Logger())
	r.GET("/ok", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/bad", func(c *gin.Context) { c.Status(http.StatusBadRequest) })
	r.GET("/fail", func(c *gin.Context) {
		_ = c.Error(errors.New("kaput"))
		c.Status(http.StatusInternalServerError)
	})

	for path, status := range map[string]int{"/ok": 200, "/bad": 400, "/fail": 500} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path+"?q=1", nil))
		assert.Equal(t, status, w.Code, path)
	}
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := monitor.NewMetricsCollector(reg)

	r := gin.New()
	r.Use(Metrics(metrics))
	r.GET("/api/v1/notifications/:id", func(c *gin.Context) { c.Status(http.StatusOK) })

	for _, id := range []string{"1", "2"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/notifications/"+id, nil))
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nowhere", nil))

	expected := `
# HELP marketnotify_http_requests_total HTTP requests by method, route and status.
# TYPE marketnotify_http_requests_total counter
marketnotify_http_requests_total{method="GET",path="/api/v1/notifications/:id",status="200"} 2
marketnotify_http_requests_total{method="GET",path="unmatched",status="404"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "marketnotify_http_requests_total"))
}

func TestRateLimit(t *testing.T) {
	t.Run("per user", func(t *testing.T) {
		r := gin.New()
		r.Use(func(c *gin.Context) {
			c.Set(UserIDKey, c.GetHeader("X-User"))
			c.Next()
		})
		r.Use(RateLimit(limiter.NewKeyedLimiter(0.001, 2, 0)))
		r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

		send := func(user string) *httptest.ResponseRecorder {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("X-User", user)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			return w
		}

		assert.Equal(t, http.StatusOK, send("a").Code)
		assert.Equal(t, http.StatusOK, send("a").Code)
		w := send("a")
		assert.Equal(t, http.StatusTooManyRequests, w.Code)
		assert.Equal(t, "1", w.Header().Get("Retry-After"))
		assert.Equal(t, http.StatusOK, send("b").Code)
	})

	t.Run("redis window by ip", func(t *testing.T) {
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { client.Close() })

		r := gin.New()
		r.Use(RateLimit(limiter.NewSlidingWindowLimiter(client, "api:", 1, time.Minute)))
		r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusOK, w.Code)

		w = httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusTooManyRequests, w.Code)

		keys := mr.Keys()
		require.Len(t, keys, 1)
		assert.True(t, strings.HasPrefix(keys[0], "api:ip:"))
	})

	t.Run("limiter down", func(t *testing.T) {
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { client.Close() })
		l := limiter.NewSlidingWindowLimiter(client, "", 1, time.Minute)
		mr.Close()

		open := gin.New()
		open.Use(RateLimit(l))
		open.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })
		w := httptest.NewRecorder()
		open.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusOK, w.Code)

		closed := gin.New()
		closed.Use(RateLimitWithConfig(RateLimitConfig{Limiter: l}))
		closed.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })
		w = httptest.NewRecorder()
		closed.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}

func TestTimeout(t *testing.T) {
	r := gin.New()
	r.Use(TimeoutWithConfig(TimeoutConfig{Timeout: 20 * time.Millisecond, SkipFunc: SkipWebsocket}))
	r.GET("/slow", func(c *gin.Context) {
		<-c.Request.Context().Done()
	})
	r.GET("/fast", func(c *gin.Context) {
		_, hasDeadline := c.Request.Context().Deadline()
		c.JSON(http.StatusOK, gin.H{"deadline": hasDeadline})
	})
	r.GET("/ws", func(c *gin.Context) {
		_, hasDeadline := c.Request.Context().Deadline()
		c.JSON(http.StatusOK, gin.H{"deadline": hasDeadline})
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/slow", nil))
	assert.Equal(t, http.StatusGatewayTimeout, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/fast", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["deadline"])

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Connection", "upgrade")
	req.Header.Set("Upgrade", "websocket")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, false, decode(t, w)["deadline"])
}

func TestTimeoutDisabled(t *testing.T) {
	r := gin.New()
	r.Use(Timeout(0))
	r.GET("/", func(c *gin.Context) {
		_, hasDeadline := c.Request.Context().Deadline()
		assert.False(t, hasDeadline)
		c.Status(http.StatusNoContent)
	})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestCORS(t *testing.T) {
	t.Run("allow list", func(t *testing.T) {
		r := gin.New()
		r.Use(CORS([]string{"https://app.example.com"}))
		r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

		req := httptest.NewRequest(http.MethodOptions, "/", nil)
		req.Header.Set("Origin", "https://app.example.com")
		req.Header.Set("Access-Control-Request-Method", "GET")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))

		req = httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Origin", "https://evil.example.com")
		w = httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("allow all", func(t *testing.T) {
		r := gin.New()
		r.Use(CORS(nil))
		r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Origin", "https://anywhere.example.com")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	})
}

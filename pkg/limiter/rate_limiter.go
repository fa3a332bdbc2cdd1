package limiter

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// RateLimiter rate limiter interface
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window_start = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local window_ms = tonumber(ARGV[4])

redis.call('ZREMRANGEBYSCORE', key, 0, window_start)

if redis.call('ZCARD', key) < limit then
	redis.call('ZADD', key, now, ARGV[5])
	redis.call('PEXPIRE', key, window_ms)
	return 1
end
return 0
`)

// SlidingWindowLimiter limits calls per key across instances, using a Redis sorted set per key.
type SlidingWindowLimiter struct {
	client redis.Cmdable
	prefix string
	limit  int
	window time.Duration
	now    func() time.Time
}

// NewSlidingWindowLimiter creates a new sliding window rate limiter
func NewSlidingWindowLimiter(client redis.Cmdable, prefix string, limit int, window time.Duration) *SlidingWindowLimiter {
	if prefix == "" {
		prefix = "rate_limit:"
	}
	return &SlidingWindowLimiter{
		client: client,
		prefix: prefix,
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

// Allow records a call for key if the window has room.
func (l *SlidingWindowLimiter) Allow(ctx context.Context, key string) (bool, error) {
	now := l.now().UnixMilli()
	windowStart := now - l.window.Milliseconds()
	// members must be unique or two calls in the same millisecond collapse into one
	member := strconv.FormatInt(now, 10) + "-" + uuid.NewString()

	result, err := slidingWindowScript.Run(ctx, l.client,
		[]string{l.prefix + key},
		now,
		windowStart,
		l.limit,
		l.window.Milliseconds(),
		member,
	).Int()
	if err != nil {
		return false, err
	}
	return result == 1, nil
}

// KeyedLimiter keeps one token bucket per key. Buckets unused for ttl are dropped.
type KeyedLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	ttl     time.Duration
	buckets map[string]*bucket
	now     func() time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewKeyedLimiter rps <= 0 means unlimited.
func NewKeyedLimiter(rps float64, burst int, ttl time.Duration) *KeyedLimiter {
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	return &KeyedLimiter{
		limit:   limit,
		burst:   burst,
		ttl:     ttl,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

func (l *KeyedLimiter) get(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	return b.limiter
}

// Allow takes a token for key without waiting.
func (l *KeyedLimiter) Allow(_ context.Context, key string) (bool, error) {
	return l.get(key).AllowN(l.now(), 1), nil
}

// Wait blocks until key has a token or ctx is done.
func (l *KeyedLimiter) Wait(ctx context.Context, key string) error {
	return l.get(key).Wait(ctx)
}

// Sweep drops buckets idle longer than ttl and returns how many were removed.
func (l *KeyedLimiter) Sweep() int {
	if l.ttl <= 0 {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.ttl)
	removed := 0
	for key, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, key)
			removed++
		}
	}
	return removed
}

// Len number of live buckets
func (l *KeyedLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// RunSweeper sweeps every interval until ctx is done.
func (l *KeyedLimiter) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Sweep()
		}
	}
}

package limiter

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client, mr
}

func TestSlidingWindowLimiter(t *testing.T) {
	client, _ := setupRedis(t)
	ctx := context.Background()

	t.Run("RejectAfterLimit", func(t *testing.T) {
		limiter := NewSlidingWindowLimiter(client, "", 3, time.Minute)
		for i := 0; i < 3; i++ {
			allowed, err := limiter.Allow(ctx, "caller-a")
			require.NoError(t, err)
			assert.True(t, allowed, "request %d", i+1)
		}
		allowed, err := limiter.Allow(ctx, "caller-a")
		require.NoError(t, err)
		assert.False(t, allowed)
	})

	t.Run("DifferentKeys", func(t *testing.T) {
		limiter := NewSlidingWindowLimiter(client, "", 1, time.Minute)
		a, err := limiter.Allow(ctx, "key1")
		require.NoError(t, err)
		b, err := limiter.Allow(ctx, "key2")
		require.NoError(t, err)
		assert.True(t, a)
		assert.True(t, b)
	})

	t.Run("SameMillisecond", func(t *testing.T) {
		limiter := NewSlidingWindowLimiter(client, "burst:", 2, time.Minute)
		fixed := time.UnixMilli(1718010000000)
		limiter.now = func() time.Time { return fixed }

		first, _ := limiter.Allow(ctx, "k")
		second, _ := limiter.Allow(ctx, "k")
		third, _ := limiter.Allow(ctx, "k")
		assert.True(t, first)
		assert.True(t, second)
		assert.False(t, third)
	})

	t.Run("WindowSlides", func(t *testing.T) {
		limiter := NewSlidingWindowLimiter(client, "slide:", 1, time.Second)
		current := time.UnixMilli(1718010000000)
		limiter.now = func() time.Time { return current }

		allowed, _ := limiter.Allow(ctx, "k")
		assert.True(t, allowed)
		allowed, _ = limiter.Allow(ctx, "k")
		assert.False(t, allowed)

		current = current.Add(1500 * time.Millisecond)
		allowed, _ = limiter.Allow(ctx, "k")
		assert.True(t, allowed)
	})
}

func TestSlidingWindowLimiterRedisDown(t *testing.T) {
	client, mr := setupRedis(t)
	limiter := NewSlidingWindowLimiter(client, "", 1, time.Minute)
	mr.Close()

	_, err := limiter.Allow(context.Background(), "k")
	assert.Error(t, err)
}

func TestKeyedLimiter(t *testing.T) {
	ctx := context.Background()

	t.Run("BurstPerKey", func(t *testing.T) {
		l := NewKeyedLimiter(1, 2, time.Minute)
		fixed := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		l.now = func() time.Time { return fixed }

		for i := 0; i < 2; i++ {
			ok, _ := l.Allow(ctx, "email")
			assert.True(t, ok)
		}
		ok, _ := l.Allow(ctx, "email")
		assert.False(t, ok)

		ok, _ = l.Allow(ctx, "push")
		assert.True(t, ok)
	})

	t.Run("Unlimited", func(t *testing.T) {
		l := NewKeyedLimiter(0, 0, 0)
		for i := 0; i < 1000; i++ {
			ok, _ := l.Allow(ctx, "in_app")
			require.True(t, ok)
		}
	})

	t.Run("WaitHonoursContext", func(t *testing.T) {
		l := NewKeyedLimiter(0.001, 1, 0)
		require.NoError(t, l.Wait(ctx, "email"))

		cctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()
		assert.Error(t, l.Wait(cctx, "email"))
	})

	t.Run("ConcurrentAllow", func(t *testing.T) {
		l := NewKeyedLimiter(0.001, 10, 0)
		var granted atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if ok, _ := l.Allow(ctx, "shared"); ok {
					granted.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(10), granted.Load())
	})

	t.Run("Sweep", func(t *testing.T) {
		l := NewKeyedLimiter(1, 1, time.Minute)
		current := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		l.now = func() time.Time { return current }

		l.Allow(ctx, "a")
		current = current.Add(30 * time.Second)
		l.Allow(ctx, "b")
		current = current.Add(45 * time.Second)

		assert.Equal(t, 1, l.Sweep())
		assert.Equal(t, 1, l.Len())
	})
}

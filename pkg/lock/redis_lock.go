package lock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrLockFailed lock acquisition failed
	ErrLockFailed = errors.New("failed to acquire lock")
	// ErrLockNotHeld lock is not held
	ErrLockNotHeld = errors.New("lock not held")
)

var (
	unlockScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)
	extendScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0
`)
)

// RedisLock distributed lock based on Redis. The value is a random token so only
// the holder can release or extend it.
type RedisLock struct {
	client redis.Cmdable
	key    string
	value  string
	ttl    time.Duration
}

// NewRedisLock creates a new Redis lock
func NewRedisLock(client redis.Cmdable, key string, ttl time.Duration) *RedisLock {
	return &RedisLock{
		client: client,
		key:    key,
		value:  uuid.NewString(),
		ttl:    ttl,
	}
}

func (l *RedisLock) Key() string {
	return l.key
}

// Lock acquires the lock once
func (l *RedisLock) Lock(ctx context.Context) error {
	success, err := l.client.SetNX(ctx, l.key, l.value, l.ttl).Result()
	if err != nil {
		return err
	}
	if !success {
		return ErrLockFailed
	}
	return nil
}

// TryLock retries Lock until it succeeds, maxRetries is spent or ctx is done.
func (l *RedisLock) TryLock(ctx context.Context, maxRetries int, retryDelay time.Duration) error {
	for i := 0; i < maxRetries; i++ {
		err := l.Lock(ctx)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrLockFailed) {
			return err
		}

		timer := time.NewTimer(retryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return ErrLockFailed
}

// Unlock releases the lock
func (l *RedisLock) Unlock(ctx context.Context) error {
	result, err := unlockScript.Run(ctx, l.client, []string{l.key}, l.value).Int()
	if err != nil {
		return err
	}
	if result == 0 {
		return ErrLockNotHeld
	}
	return nil
}

// Extend extends the lock TTL
func (l *RedisLock) Extend(ctx context.Context, ttl time.Duration) error {
	result, err := extendScript.Run(ctx, l.client, []string{l.key}, l.value, ttl.Milliseconds()).Int()
	if err != nil {
		return err
	}
	if result == 0 {
		return ErrLockNotHeld
	}
	return nil
}

// IsHeld checks if the lock is held by this instance
func (l *RedisLock) IsHeld(ctx context.Context) (bool, error) {
	value, err := l.client.Get(ctx, l.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}
	return value == l.value, nil
}

// Locker hands out locks under a common prefix.
type Locker struct {
	client     redis.Cmdable
	prefix     string
	ttl        time.Duration
	retries    int
	retryDelay time.Duration
}

func NewLocker(client redis.Cmdable, prefix string, ttl time.Duration) *Locker {
	return &Locker{
		client:     client,
		prefix:     prefix,
		ttl:        ttl,
		retries:    50,
		retryDelay: 100 * time.Millisecond,
	}
}

// WithRetry changes how long Acquire keeps trying.
func (lk *Locker) WithRetry(retries int, delay time.Duration) *Locker {
	lk.retries = retries
	lk.retryDelay = delay
	return lk
}

// Acquire blocks (bounded by the retry budget and ctx) until name is locked.
func (lk *Locker) Acquire(ctx context.Context, name string) (*RedisLock, error) {
	l := NewRedisLock(lk.client, lk.prefix+name, lk.ttl)
	if err := l.TryLock(ctx, lk.retries, lk.retryDelay); err != nil {
		return nil, err
	}
	return l, nil
}

// TryAcquire makes a single attempt; ErrLockFailed means someone else holds it.
func (lk *Locker) TryAcquire(ctx context.Context, name string) (*RedisLock, error) {
	l := NewRedisLock(lk.client, lk.prefix+name, lk.ttl)
	if err := l.Lock(ctx); err != nil {
		return nil, err
	}
	return l, nil
}

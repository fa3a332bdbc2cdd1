package throttle

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	redisx "marketnotify/internal/redis"
	"marketnotify/pkg/log"
)

// Counters outlive the day window by a margin so a late snapshot still sees them.
const counterTTL = 48 * time.Hour

// RedisTracker shares counters across instances. Every reservation is one Lua call,
// which Redis runs atomically per key.
type RedisTracker struct {
	client    redis.Cmdable
	scripts   *redisx.LuaScript
	keyPrefix string
}

func NewRedisTracker(client redis.Cmdable, keyPrefix string) *RedisTracker {
	return &RedisTracker{
		client:    client,
		scripts:   redisx.NewLuaScript(client),
		keyPrefix: keyPrefix,
	}
}

func (r *RedisTracker) key(userID string) string {
	return r.keyPrefix + userID
}

func (r *RedisTracker) Snapshot(ctx context.Context, userID string, now time.Time) (Snapshot, error) {
	values, err := r.client.HMGet(ctx, r.key(userID), "hour_start", "hour_count", "day_start", "day_count").Result()
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	s := Snapshot{
		HourWindowStart: unixField(values[0]),
		HourCount:       intField(values[1]),
		DayWindowStart:  unixField(values[2]),
		DayCount:        intField(values[3]),
	}
	return rollover(s, now), nil
}

func (r *RedisTracker) TryReserve(ctx context.Context, userID string, limits Limits, now time.Time) (bool, error) {
	res, err := r.scripts.ThrottleReserve(ctx, r.key(userID), HourWindow(now), DayWindow(now), limits.PerHour, limits.PerDay, counterTTL)
	if err != nil {
		log.Component("throttle").WithFields(map[string]interface{}{
			"user_id": userID,
			"error":   err.Error(),
		}).Warn("reservation failed, treating as rate limited")
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return res.Granted, nil
}

func intField(v interface{}) int {
	s, ok := v.(string)
	if !ok {
		return 0
	}
	n, _ := strconv.Atoi(s)
	return n
}

func unixField(v interface{}) time.Time {
	s, ok := v.(string)
	if !ok {
		return time.Time{}
	}
	sec, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

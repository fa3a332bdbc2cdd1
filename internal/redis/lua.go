package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// Per-user fixed-window counters in one hash. Windows only move forward;
	// a caller with a stale clock counts against the newer window.
	// Returns {granted, hour_count, day_count}.
	ThrottleReserveScript = `
		local key = KEYS[1]
		local hour_start = tonumber(ARGV[1])
		local day_start = tonumber(ARGV[2])
		local per_hour = tonumber(ARGV[3])
		local per_day = tonumber(ARGV[4])
		local ttl = tonumber(ARGV[5])

		local state = redis.call('HMGET', key, 'hour_start', 'hour_count', 'day_start', 'day_count')
		local hs = tonumber(state[1]) or 0
		local hc = tonumber(state[2]) or 0
		local ds = tonumber(state[3]) or 0
		local dc = tonumber(state[4]) or 0

		if hour_start > hs then
			hs = hour_start
			hc = 0
		end
		if day_start > ds then
			ds = day_start
			dc = 0
		end

		if hc >= per_hour or dc >= per_day then
			return {0, hc, dc}
		end

		hc = hc + 1
		dc = dc + 1
		redis.call('HSET', key, 'hour_start', hs, 'hour_count', hc, 'day_start', ds, 'day_count', dc)
		redis.call('EXPIRE', key, ttl)

		return {1, hc, dc}
	`

	// Pops up to ARGV[1] items from the head of a list in one step.
	DrainListScript = `
		local key = KEYS[1]
		local n = tonumber(ARGV[1])
		local items = redis.call('LRANGE', key, 0, n - 1)
		if #items > 0 then
			redis.call('LTRIM', key, #items, -1)
		end
		return items
	`
)

// ReserveResult outcome of one throttle reservation
type ReserveResult struct {
	Granted   bool
	HourCount int
	DayCount  int
}

// LuaScript script manager
type LuaScript struct {
	client redis.Cmdable

	throttleReserveScript *redis.Script
	drainListScript       *redis.Script
}

func NewLuaScript(client redis.Cmdable) *LuaScript {
	return &LuaScript{
		client:                client,
		throttleReserveScript: redis.NewScript(ThrottleReserveScript),
		drainListScript:       redis.NewScript(DrainListScript),
	}
}

// LoadScripts preloads every script so the first call does not pay for EVAL.
func (ls *LuaScript) LoadScripts(ctx context.Context) error {
	for _, script := range []*redis.Script{ls.throttleReserveScript, ls.drainListScript} {
		if err := script.Load(ctx, ls.client).Err(); err != nil {
			return fmt.Errorf("failed to load lua script: %w", err)
		}
	}
	return nil
}

// ThrottleReserve runs the check-and-increment for one user key.
func (ls *LuaScript) ThrottleReserve(ctx context.Context, key string, hourStart, dayStart time.Time, perHour, perDay int, ttl time.Duration) (ReserveResult, error) {
	args := []interface{}{hourStart.Unix(), dayStart.Unix(), perHour, perDay, int(ttl.Seconds())}

	result, err := ls.throttleReserveScript.Run(ctx, ls.client, []string{key}, args...).Result()
	if err != nil {
		return ReserveResult{}, err
	}

	values, ok := result.([]interface{})
	if !ok || len(values) != 3 {
		return ReserveResult{}, fmt.Errorf("invalid script result: %v", result)
	}

	granted, _ := values[0].(int64)
	hourCount, _ := values[1].(int64)
	dayCount, _ := values[2].(int64)

	return ReserveResult{
		Granted:   granted == 1,
		HourCount: int(hourCount),
		DayCount:  int(dayCount),
	}, nil
}

// DrainList pops at most n items from the head of key.
func (ls *LuaScript) DrainList(ctx context.Context, key string, n int) ([]string, error) {
	result, err := ls.drainListScript.Run(ctx, ls.client, []string{key}, n).StringSlice()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}
	return result, nil
}

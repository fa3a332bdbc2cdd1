package degrade

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	statusKeyPrefix   = "degrade:status:"
	strategyKeyPrefix = "degrade:strategy:"
)

// Strategy describes how a degraded feature should behave
type Strategy struct {
	Mode    string    `json:"mode"` // e.g. fallback_only
	Reason  string    `json:"reason"`
	SetBy   string    `json:"set_by,omitempty"`
	SetAt   time.Time `json:"set_at"`
	Expires time.Time `json:"expires,omitempty"`
}

type cachedStatus struct {
	degraded bool
	at       time.Time
}

// DegradeManager operator switches shared through Redis. Lookups are cached
// for cacheTTL so hot paths do not pay a round trip per call.
type DegradeManager struct {
	redis    redis.Cmdable
	cacheTTL time.Duration
	cache    sync.Map // feature -> cachedStatus
	now      func() time.Time
}

func NewDegradeManager(client redis.Cmdable, cacheTTL time.Duration) *DegradeManager {
	return &DegradeManager{
		redis:    client,
		cacheTTL: cacheTTL,
		now:      time.Now,
	}
}

// IsDegraded reports whether feature is switched to degraded mode.
// Redis errors read as not degraded.
func (dm *DegradeManager) IsDegraded(ctx context.Context, feature string) bool {
	if dm.cacheTTL > 0 {
		if v, ok := dm.cache.Load(feature); ok {
			c := v.(cachedStatus)
			if dm.now().Sub(c.at) < dm.cacheTTL {
				return c.degraded
			}
		}
	}

	val, err := dm.redis.Get(ctx, statusKeyPrefix+feature).Result()
	degraded := err == nil && val == "1"

	if dm.cacheTTL > 0 && (err == nil || err == redis.Nil) {
		dm.cache.Store(feature, cachedStatus{degraded: degraded, at: dm.now()})
	}
	return degraded
}

// GetStrategy returns the stored strategy, or nil when none is set.
func (dm *DegradeManager) GetStrategy(ctx context.Context, feature string) (*Strategy, error) {
	data, err := dm.redis.Get(ctx, strategyKeyPrefix+feature).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get degrade strategy: %w", err)
	}

	var strategy Strategy
	if err := json.Unmarshal(data, &strategy); err != nil {
		return nil, fmt.Errorf("failed to decode degrade strategy: %w", err)
	}
	return &strategy, nil
}

// Enable degrades feature. A zero ttl keeps it degraded until Disable.
func (dm *DegradeManager) Enable(ctx context.Context, feature string, strategy Strategy, ttl time.Duration) error {
	strategy.SetAt = dm.now().UTC()
	if ttl > 0 {
		strategy.Expires = strategy.SetAt.Add(ttl)
	}

	data, err := json.Marshal(strategy)
	if err != nil {
		return fmt.Errorf("failed to marshal strategy: %w", err)
	}

	pipe := dm.redis.TxPipeline()
	pipe.Set(ctx, statusKeyPrefix+feature, "1", ttl)
	pipe.Set(ctx, strategyKeyPrefix+feature, data, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to enable degrade: %w", err)
	}

	dm.cache.Delete(feature)
	return nil
}

func (dm *DegradeManager) Disable(ctx context.Context, feature string) error {
	if err := dm.redis.Del(ctx, statusKeyPrefix+feature, strategyKeyPrefix+feature).Err(); err != nil {
		return fmt.Errorf("failed to disable degrade: %w", err)
	}
	dm.cache.Delete(feature)
	return nil
}

// Status lists every degraded feature and its strategy.
func (dm *DegradeManager) Status(ctx context.Context) (map[string]*Strategy, error) {
	result := make(map[string]*Strategy)

	iter := dm.redis.Scan(ctx, 0, statusKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		feature := strings.TrimPrefix(iter.Val(), statusKeyPrefix)
		strategy, err := dm.GetStrategy(ctx, feature)
		if err != nil {
			return nil, err
		}
		result[feature] = strategy
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan degrade keys: %w", err)
	}

	return result, nil
}

package classifier

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/allegro/bigcache/v3"

	"marketnotify/internal/model"
	"marketnotify/internal/monitor"
	"marketnotify/pkg/log"
)

// CacheConfig local draft cache settings
type CacheConfig struct {
	TTL          time.Duration
	MaxSizeMB    int
	CleanWindow  time.Duration
	MaxEntrySize int
}

// Cached memoizes drafts from next. Identical events for a user with the same
// context produce the same draft, so repeated upstream calls are skipped.
// Only successful drafts are stored.
type Cached struct {
	next    Classifier
	cache   *bigcache.BigCache
	metrics *monitor.MetricsCollector
}

func NewCached(ctx context.Context, next Classifier, cfg CacheConfig, metrics *monitor.MetricsCollector) (*Cached, error) {
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Minute
	}
	bc := bigcache.DefaultConfig(cfg.TTL)
	if cfg.MaxSizeMB > 0 {
		bc.HardMaxCacheSize = cfg.MaxSizeMB
	}
	if cfg.CleanWindow > 0 {
		bc.CleanWindow = cfg.CleanWindow
	}
	if cfg.MaxEntrySize > 0 {
		bc.MaxEntrySize = cfg.MaxEntrySize
	}
	bc.Verbose = false

	cache, err := bigcache.New(ctx, bc)
	if err != nil {
		return nil, fmt.Errorf("failed to create draft cache: %w", err)
	}
	return &Cached{next: next, cache: cache, metrics: metrics}, nil
}

func (c *Cached) Classify(ctx context.Context, event model.MarketChangeEvent, uc model.UserContext) (model.NotificationDraft, error) {
	key := Fingerprint(event, uc)

	if raw, err := c.cache.Get(key); err == nil {
		var draft model.NotificationDraft
		if err := json.Unmarshal(raw, &draft); err == nil {
			c.metrics.RecordCacheLookup(true)
			return draft, nil
		}
	} else if !errors.Is(err, bigcache.ErrEntryNotFound) {
		log.Component("classifier").WithError(err).Warn("draft cache read failed")
	}
	c.metrics.RecordCacheLookup(false)

	draft, err := c.next.Classify(ctx, event, uc)
	if err != nil {
		return draft, err
	}

	if raw, err := json.Marshal(draft); err == nil {
		if err := c.cache.Set(key, raw); err != nil {
			log.Component("classifier").WithError(err).Debug("draft not cached")
		}
	}
	return draft, nil
}

func (c *Cached) Len() int {
	return c.cache.Len()
}

func (c *Cached) Close() error {
	return c.cache.Close()
}

// Fingerprint identifies the inputs a draft depends on. ObservedAt is left out
// so the same movement reported twice hits the cache.
func Fingerprint(event model.MarketChangeEvent, uc model.UserContext) string {
	h := sha256.New()
	h.Write([]byte(event.UserID))
	h.Write([]byte{0})
	h.Write([]byte(event.Market))
	h.Write([]byte{0})
	h.Write([]byte(event.MetricType))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatFloat(event.Delta, 'g', -1, 64)))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatFloat(event.AbsoluteValue, 'g', -1, 64)))
	h.Write([]byte{0})
	ctxJSON, _ := json.Marshal(uc)
	h.Write(ctxJSON)
	return hex.EncodeToString(h.Sum(nil))
}

package scheduler

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"marketnotify/internal/model"
	iredis "marketnotify/internal/redis"
	"marketnotify/pkg/log"
)

// BatchSource hands out pending user batches. Each batch is returned once.
type BatchSource interface {
	Next(ctx context.Context, max int) ([]model.UserBatch, error)
}

// RedisBatchSource reads JSON encoded batches from a Redis list. Entries that
// do not decode are moved to "<key>:dead" so they are not retried forever.
type RedisBatchSource struct {
	client  redis.Cmdable
	scripts *iredis.LuaScript
	key     string
}

func NewRedisBatchSource(client redis.Cmdable, key string) *RedisBatchSource {
	return &RedisBatchSource{
		client:  client,
		scripts: iredis.NewLuaScript(client),
		key:     key,
	}
}

func (s *RedisBatchSource) Key() string {
	return s.key
}

func (s *RedisBatchSource) DeadKey() string {
	return s.key + ":dead"
}

// Enqueue appends batches to the pending list.
func (s *RedisBatchSource) Enqueue(ctx context.Context, batches ...model.UserBatch) error {
	if len(batches) == 0 {
		return nil
	}
	values := make([]interface{}, 0, len(batches))
	for _, b := range batches {
		data, err := json.Marshal(b)
		if err != nil {
			return fmt.Errorf("encode batch for %s: %w", b.UserID, err)
		}
		values = append(values, data)
	}
	return s.client.RPush(ctx, s.key, values...).Err()
}

// Pending number of batches waiting.
func (s *RedisBatchSource) Pending(ctx context.Context) (int64, error) {
	return s.client.LLen(ctx, s.key).Result()
}

func (s *RedisBatchSource) Next(ctx context.Context, max int) ([]model.UserBatch, error) {
	items, err := s.scripts.DrainList(ctx, s.key, max)
	if err != nil {
		return nil, fmt.Errorf("drain %s: %w", s.key, err)
	}

	batches := make([]model.UserBatch, 0, len(items))
	for _, item := range items {
		var b model.UserBatch
		if err := json.Unmarshal([]byte(item), &b); err != nil || b.UserID == "" {
			log.WithField("key", s.key).WithError(err).Warn("moving undecodable batch to dead list")
			if err := s.client.RPush(ctx, s.DeadKey(), item).Err(); err != nil {
				log.WithField("key", s.DeadKey()).WithError(err).Error("failed to park batch")
			}
			continue
		}
		batches = append(batches, b)
	}
	return batches, nil
}

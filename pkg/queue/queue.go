package queue

import (
	"context"
	"errors"
)

// Queue is a topic based publish/subscribe queue.
type Queue interface {
	// Publish publishes a message to the specified topic
	Publish(ctx context.Context, topic string, message []byte) error

	// Subscribe registers handler on topic until ctx is done
	Subscribe(ctx context.Context, topic string, handler MessageHandler) error

	// Close closes the queue
	Close() error

	// Health checks the health of the queue
	Health() error
}

// MessageHandler handles incoming messages
type MessageHandler func(ctx context.Context, topic string, message []byte) error

// QueueStats represents queue statistics
type QueueStats struct {
	Topics      int   `json:"topics"`
	Subscribers int   `json:"subscribers"`
	Published   int64 `json:"published"`
	Delivered   int64 `json:"delivered"`
	Failed      int64 `json:"failed"`
	Dropped     int64 `json:"dropped"`
	Closed      bool  `json:"closed"`
}

// Common errors
var (
	ErrQueueClosed    = errors.New("queue is closed")
	ErrPublishTimeout = errors.New("publish timeout")
	ErrEmptyTopic     = errors.New("topic is empty")
)

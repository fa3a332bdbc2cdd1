package delivery

import (
	"context"
	"encoding/json"
	"fmt"

	"marketnotify/internal/model"
	"marketnotify/internal/realtime"
	"marketnotify/pkg/queue"
)

// EventNotificationCreated is the realtime event name for new notifications.
const EventNotificationCreated = "notification.created"

// InAppChannel publishes to the realtime topic. The notification row itself is
// the in-app inbox, so a successful publish counts as delivered.
type InAppChannel struct {
	queue queue.Queue
}

func NewInAppChannel(q queue.Queue) *InAppChannel {
	return &InAppChannel{queue: q}
}

func (c *InAppChannel) Name() model.Channel {
	return model.ChannelInApp
}

func (c *InAppChannel) Send(ctx context.Context, n *model.Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("in_app: encode notification: %w", err)
	}
	payload, err := json.Marshal(realtime.Envelope{
		UserID: n.UserID,
		Event:  EventNotificationCreated,
		Data:   data,
	})
	if err != nil {
		return fmt.Errorf("in_app: encode envelope: %w", err)
	}
	if err := c.queue.Publish(ctx, realtime.Topic, payload); err != nil {
		return fmt.Errorf("in_app: publish: %w", err)
	}
	return nil
}

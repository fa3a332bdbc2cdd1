// Package delivery fans allowed notifications out to the user's channels.
package delivery

import (
	"context"
	"errors"

	"marketnotify/internal/model"
)

// Channel sends one notification over one medium. Send is attempted once.
type Channel interface {
	Name() model.Channel
	Send(ctx context.Context, n *model.Notification) error
}

var (
	// ErrChannelNotConfigured the user asked for a channel this instance does not run
	ErrChannelNotConfigured = errors.New("delivery: channel not configured")
	// ErrNoRecipient no address could be derived for the user
	ErrNoRecipient = errors.New("delivery: no recipient for user")
)

// StatusRecorder persists the per-channel outcome on the notification.
type StatusRecorder interface {
	UpdateDeliveryChannels(ctx context.Context, id int64, statuses []model.DeliveryStatus) error
}

// Package notification owns the client-driven lifecycle of persisted notifications:
// unread to read, and either to dismissed.
package notification

import (
	"context"
	"errors"
	"time"

	"marketnotify/internal/model"
	"marketnotify/internal/monitor"
	"marketnotify/internal/repository"
	"marketnotify/pkg/log"
	"marketnotify/pkg/utils"
)

// ListOptions query parameters for List
type ListOptions struct {
	UnreadOnly bool           `form:"unread_only"`
	Category   model.Category `form:"category" validate:"omitempty,oneof=market_trend competitor_activity opportunity warning insight recommendation"`
	Limit      int            `form:"limit" validate:"omitempty,min=1,max=100"`
	Cursor     string         `form:"cursor"`
}

// StateManager client state operations. Every call is scoped to the owner;
// a notification of another user reads as not found.
type StateManager interface {
	MarkRead(ctx context.Context, userID string, id int64) error
	Dismiss(ctx context.Context, userID string, id int64) error
	MarkAllRead(ctx context.Context, userID string) (int64, error)
	UnreadCount(ctx context.Context, userID string) (int64, error)
	List(ctx context.Context, userID string, opts ListOptions) (*repository.ListPage, error)
}

type stateManager struct {
	repo    repository.NotificationRepository
	metrics *monitor.MetricsCollector
	now     func() time.Time
}

// NewStateManager creates a state manager
func NewStateManager(repo repository.NotificationRepository, metrics *monitor.MetricsCollector) StateManager {
	return &stateManager{
		repo:    repo,
		metrics: metrics,
		now:     time.Now,
	}
}

// MarkRead is a no-op for notifications already read or dismissed.
func (s *stateManager) MarkRead(ctx context.Context, userID string, id int64) error {
	changed, err := s.repo.MarkRead(ctx, userID, id, s.now())
	if err != nil {
		return s.mapError(err, "failed to mark notification read")
	}
	s.metrics.RecordStateChange("mark_read", changed)
	return nil
}

// Dismiss is terminal. Dismissing twice is a no-op; read_at survives.
func (s *stateManager) Dismiss(ctx context.Context, userID string, id int64) error {
	changed, err := s.repo.Dismiss(ctx, userID, id, s.now())
	if err != nil {
		return s.mapError(err, "failed to dismiss notification")
	}
	s.metrics.RecordStateChange("dismiss", changed)
	return nil
}

func (s *stateManager) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	n, err := s.repo.MarkAllRead(ctx, userID, s.now())
	if err != nil {
		return 0, s.mapError(err, "failed to mark notifications read")
	}
	s.metrics.RecordStateChange("mark_all_read", n > 0)

	log.Component("notification").WithFields(map[string]interface{}{
		"user_id": userID,
		"updated": n,
	}).Debug("Marked all notifications read")
	return n, nil
}

func (s *stateManager) UnreadCount(ctx context.Context, userID string) (int64, error) {
	n, err := s.repo.CountUnread(ctx, userID)
	if err != nil {
		return 0, s.mapError(err, "failed to count unread notifications")
	}
	return n, nil
}

func (s *stateManager) List(ctx context.Context, userID string, opts ListOptions) (*repository.ListPage, error) {
	if err := utils.ValidateStruct(opts); err != nil {
		return nil, err
	}

	page, err := s.repo.List(ctx, userID, repository.ListFilter{
		UnreadOnly: opts.UnreadOnly,
		Category:   opts.Category,
		Limit:      opts.Limit,
		Cursor:     opts.Cursor,
	})
	if err != nil {
		return nil, s.mapError(err, "failed to list notifications")
	}
	if page.Items == nil {
		page.Items = []*model.Notification{}
	}
	return page, nil
}

func (s *stateManager) mapError(err error, message string) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return utils.ErrNotificationNotFound
	case errors.Is(err, repository.ErrInvalidCursor):
		return utils.NewErrorWithErr(utils.CodeInvalidParam, "invalid cursor", err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}
	return utils.WrapError(err, utils.CodeDatabaseError, message)
}

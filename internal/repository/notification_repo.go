package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"marketnotify/internal/model"
)

const unreadCondition = "read_at IS NULL AND dismissed_at IS NULL"

// ListFilter notification query options
type ListFilter struct {
	UnreadOnly       bool
	IncludeDismissed bool
	Category         model.Category
	Limit            int
	Cursor           string
}

// ListPage one page of notifications, newest first
type ListPage struct {
	Items      []*model.Notification
	NextCursor string
}

// NotificationRepository notification repository interface
type NotificationRepository interface {
	// Create persists a new notification
	Create(ctx context.Context, n *model.Notification) error

	// GetByID only finds notifications owned by userID
	GetByID(ctx context.Context, userID string, id int64) (*model.Notification, error)

	// List pages through a user's notifications ordered by created_at then id, descending
	List(ctx context.Context, userID string, filter ListFilter) (*ListPage, error)

	// CountUnread counts notifications neither read nor dismissed
	CountUnread(ctx context.Context, userID string) (int64, error)

	// MarkRead sets read_at if unset and not dismissed. changed is false for a no-op.
	MarkRead(ctx context.Context, userID string, id int64, at time.Time) (changed bool, err error)

	// MarkAllRead marks every unread notification of userID as read
	MarkAllRead(ctx context.Context, userID string, at time.Time) (int64, error)

	// Dismiss sets dismissed_at if unset. read_at is left as is.
	Dismiss(ctx context.Context, userID string, id int64, at time.Time) (changed bool, err error)

	// UpdateDeliveryChannels records per-channel delivery outcomes
	UpdateDeliveryChannels(ctx context.Context, id int64, statuses []model.DeliveryStatus) error
}

type notificationRepository struct {
	db *gorm.DB
}

// NewNotificationRepository creates a new notification repository
func NewNotificationRepository(db *gorm.DB) NotificationRepository {
	return &notificationRepository{db: db}
}

func (r *notificationRepository) Create(ctx context.Context, n *model.Notification) error {
	return r.db.WithContext(ctx).Create(n).Error
}

func (r *notificationRepository) GetByID(ctx context.Context, userID string, id int64) (*model.Notification, error) {
	var n model.Notification
	err := r.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&n).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &n, nil
}

func (r *notificationRepository) List(ctx context.Context, userID string, filter ListFilter) (*ListPage, error) {
	limit := clampLimit(filter.Limit)

	query := r.db.WithContext(ctx).Model(&model.Notification{}).Where("user_id = ?", userID)

	switch {
	case filter.UnreadOnly:
		query = query.Where(unreadCondition)
	case !filter.IncludeDismissed:
		query = query.Where("dismissed_at IS NULL")
	}

	if filter.Category != "" {
		query = query.Where("category = ?", filter.Category)
	}

	if filter.Cursor != "" {
		createdAt, id, err := DecodeCursor(filter.Cursor)
		if err != nil {
			return nil, err
		}
		query = query.Where("(created_at < ? OR (created_at = ? AND id < ?))", createdAt, createdAt, id)
	}

	var items []*model.Notification
	err := query.Order("created_at DESC").Order("id DESC").Limit(limit + 1).Find(&items).Error
	if err != nil {
		return nil, err
	}

	page := &ListPage{Items: items}
	if len(items) > limit {
		page.Items = items[:limit]
		last := page.Items[limit-1]
		page.NextCursor = EncodeCursor(last.CreatedAt, last.ID)
	}
	return page, nil
}

func (r *notificationRepository) CountUnread(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Notification{}).
		Where("user_id = ?", userID).
		Where(unreadCondition).
		Count(&count).Error
	return count, err
}

func (r *notificationRepository) MarkRead(ctx context.Context, userID string, id int64, at time.Time) (bool, error) {
	result := r.db.WithContext(ctx).Model(&model.Notification{}).
		Where("id = ? AND user_id = ?", id, userID).
		Where(unreadCondition).
		Update("read_at", at.UTC())
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected > 0 {
		return true, nil
	}
	return false, r.ensureOwned(ctx, userID, id)
}

func (r *notificationRepository) MarkAllRead(ctx context.Context, userID string, at time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Model(&model.Notification{}).
		Where("user_id = ?", userID).
		Where(unreadCondition).
		Update("read_at", at.UTC())
	return result.RowsAffected, result.Error
}

func (r *notificationRepository) Dismiss(ctx context.Context, userID string, id int64, at time.Time) (bool, error) {
	result := r.db.WithContext(ctx).Model(&model.Notification{}).
		Where("id = ? AND user_id = ?", id, userID).
		Where("dismissed_at IS NULL").
		Update("dismissed_at", at.UTC())
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected > 0 {
		return true, nil
	}
	return false, r.ensureOwned(ctx, userID, id)
}

func (r *notificationRepository) UpdateDeliveryChannels(ctx context.Context, id int64, statuses []model.DeliveryStatus) error {
	result := r.db.WithContext(ctx).Model(&model.Notification{}).
		Where("id = ?", id).
		Update("delivery_channels", datatypes.NewJSONSlice(statuses))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ensureOwned tells a no-op update apart from a missing or foreign notification.
func (r *notificationRepository) ensureOwned(ctx context.Context, userID string, id int64) error {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Notification{}).
		Where("id = ? AND user_id = ?", id, userID).
		Count(&count).Error
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrNotFound
	}
	return nil
}

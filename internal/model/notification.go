package model

import (
	"time"

	"gorm.io/datatypes"
)

// Category notification category
type Category string

const (
	CategoryMarketTrend        Category = "market_trend"
	CategoryCompetitorActivity Category = "competitor_activity"
	CategoryOpportunity        Category = "opportunity"
	CategoryWarning            Category = "warning"
	CategoryInsight            Category = "insight"
	CategoryRecommendation     Category = "recommendation"
)

// AllCategories in display order
var AllCategories = []Category{
	CategoryMarketTrend,
	CategoryCompetitorActivity,
	CategoryOpportunity,
	CategoryWarning,
	CategoryInsight,
	CategoryRecommendation,
}

func (c Category) Valid() bool {
	for _, known := range AllCategories {
		if c == known {
			return true
		}
	}
	return false
}

// Priority notification priority, critical is highest
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// Rank orders priorities, higher is more urgent. Unknown priorities rank 0.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 4
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	}
	return 0
}

func (p Priority) Valid() bool {
	return p.Rank() > 0
}

// AtLeast reports whether p is at or above threshold.
func (p Priority) AtLeast(threshold Priority) bool {
	return p.Rank() >= threshold.Rank()
}

// Channel delivery channel
type Channel string

const (
	ChannelInApp Channel = "in_app"
	ChannelEmail Channel = "email"
	ChannelPush  Channel = "push"
)

func (c Channel) Valid() bool {
	switch c {
	case ChannelInApp, ChannelEmail, ChannelPush:
		return true
	}
	return false
}

// DraftSource which classifier produced a draft
type DraftSource string

const (
	SourceAI        DraftSource = "ai"
	SourceHeuristic DraftSource = "heuristic"
)

// NotificationDraft classifier output, not yet persisted
type NotificationDraft struct {
	Title       string      `json:"title"`
	Message     string      `json:"message"`
	Category    Category    `json:"category"`
	Priority    Priority    `json:"priority"`
	AIInsight   string      `json:"ai_insight"`
	Actionable  bool        `json:"actionable"`
	ActionURL   *string     `json:"action_url,omitempty"`
	ActionLabel *string     `json:"action_label,omitempty"`
	Source      DraftSource `json:"source"`
}

// DeliveryOutcome result of one channel attempt
type DeliveryOutcome string

const (
	DeliveryDelivered DeliveryOutcome = "delivered"
	DeliveryFailed    DeliveryOutcome = "failed"
	DeliverySkipped   DeliveryOutcome = "skipped"
)

// DeliveryStatus per-channel delivery record
type DeliveryStatus struct {
	Channel Channel         `json:"channel"`
	Status  DeliveryOutcome `json:"status"`
	Error   string          `json:"error,omitempty"`
}

// Notification persisted notification. Never deleted; ReadAt and DismissedAt are never cleared.
type Notification struct {
	ID               int64                               `gorm:"primaryKey;autoIncrement:false" json:"id,string"`
	UserID           string                              `gorm:"type:varchar(64);not null;index:idx_notifications_user_created,priority:1" json:"user_id"`
	Market           string                              `gorm:"type:varchar(128);not null" json:"market"`
	MetricType       MetricType                          `gorm:"type:varchar(32);not null" json:"metric_type"`
	Title            string                              `gorm:"type:varchar(255);not null" json:"title"`
	Message          string                              `gorm:"type:text;not null" json:"message"`
	Category         Category                            `gorm:"type:varchar(32);not null;index" json:"category"`
	Priority         Priority                            `gorm:"type:varchar(16);not null" json:"priority"`
	AIInsight        string                              `gorm:"type:text" json:"ai_insight"`
	Actionable       bool                                `json:"actionable"`
	ActionURL        *string                             `gorm:"type:varchar(512)" json:"action_url,omitempty"`
	ActionLabel      *string                             `gorm:"type:varchar(128)" json:"action_label,omitempty"`
	Source           DraftSource                         `gorm:"type:varchar(16);not null" json:"source"`
	DeliveryChannels datatypes.JSONSlice[DeliveryStatus] `json:"delivery_channels"`
	CreatedAt        time.Time                           `gorm:"not null;index:idx_notifications_user_created,priority:2" json:"created_at"`
	ReadAt           *time.Time                          `json:"read_at,omitempty"`
	DismissedAt      *time.Time                          `json:"dismissed_at,omitempty"`
}

// TableName set name
func (Notification) TableName() string {
	return "notifications"
}

// NewNotification builds the row persisted for an allowed draft.
func NewNotification(id int64, event MarketChangeEvent, draft NotificationDraft, createdAt time.Time) *Notification {
	return &Notification{
		ID:          id,
		UserID:      event.UserID,
		Market:      event.Market,
		MetricType:  event.MetricType,
		Title:       draft.Title,
		Message:     draft.Message,
		Category:    draft.Category,
		Priority:    draft.Priority,
		AIInsight:   draft.AIInsight,
		Actionable:  draft.Actionable,
		ActionURL:   draft.ActionURL,
		ActionLabel: draft.ActionLabel,
		Source:      draft.Source,
		CreatedAt:   createdAt.UTC(),
	}
}

func (n *Notification) IsRead() bool {
	return n.ReadAt != nil
}

func (n *Notification) IsDismissed() bool {
	return n.DismissedAt != nil
}

// Unread means neither read nor dismissed.
func (n *Notification) Unread() bool {
	return n.ReadAt == nil && n.DismissedAt == nil
}

package model

import (
	"time"
)

// MetricType kind of market signal an event was extracted from
type MetricType string

const (
	MetricPrice              MetricType = "price"
	MetricInventory          MetricType = "inventory"
	MetricCompetitorActivity MetricType = "competitor_activity"
	MetricTrend              MetricType = "trend"
)

// Valid reports whether m is a known metric type.
func (m MetricType) Valid() bool {
	switch m {
	case MetricPrice, MetricInventory, MetricCompetitorActivity, MetricTrend:
		return true
	}
	return false
}

// MarketChangeEvent one detected change for one user. Delta is fractional, 0.05 means +5%.
type MarketChangeEvent struct {
	UserID        string     `json:"user_id" validate:"required"`
	Market        string     `json:"market" validate:"required"`
	MetricType    MetricType `json:"metric_type" validate:"required,oneof=price inventory competitor_activity trend"`
	Delta         float64    `json:"delta"`
	AbsoluteValue float64    `json:"absolute_value"`
	ObservedAt    time.Time  `json:"observed_at"`
}

// UserContext what the classifier knows about the recipient
type UserContext struct {
	MarketFocus    []string `json:"market_focus,omitempty"`
	RecentActivity []string `json:"recent_activity,omitempty"`
	Goals          []string `json:"goals,omitempty"`
}

// UserBatch all events detected for one user in one monitoring cycle
type UserBatch struct {
	UserID string              `json:"user_id" validate:"required"`
	Events []MarketChangeEvent `json:"events" validate:"dive"`
}

package model

import (
	"time"

	"gorm.io/datatypes"
)

// QuietHours daily window, in the user's timezone, during which non-critical notifications are held back
type QuietHours struct {
	Enabled bool   `gorm:"column:quiet_enabled" json:"enabled"`
	Start   string `gorm:"column:quiet_start;type:varchar(5)" json:"start" validate:"hhmm"`
	End     string `gorm:"column:quiet_end;type:varchar(5)" json:"end" validate:"hhmm"`
}

// FrequencyLimits per-user notification caps
type FrequencyLimits struct {
	PerHour int `gorm:"column:limit_per_hour" json:"per_hour" validate:"positive"`
	PerDay  int `gorm:"column:limit_per_day" json:"per_day" validate:"positive,gtefield=PerHour"`
}

// NotificationPreferences per-user delivery preferences
type NotificationPreferences struct {
	UserID            string                        `gorm:"primaryKey;type:varchar(64)" json:"user_id"`
	Enabled           bool                          `json:"enabled"`
	Channels          datatypes.JSONSlice[Channel]  `json:"channels" validate:"unique,dive,oneof=in_app email push"`
	EnabledCategories datatypes.JSONSlice[Category] `json:"enabled_categories" validate:"unique,dive,oneof=market_trend competitor_activity opportunity warning insight recommendation"`
	PriorityThreshold Priority                      `gorm:"type:varchar(16)" json:"priority_threshold" validate:"required,oneof=critical high medium low"`
	QuietHours        QuietHours                    `gorm:"embedded" json:"quiet_hours"`
	FrequencyLimits   FrequencyLimits               `gorm:"embedded" json:"frequency_limits"`
	MarketFocus       datatypes.JSONSlice[string]   `json:"market_focus" validate:"dive,required"`
	Timezone          string                        `gorm:"type:varchar(64)" json:"timezone" validate:"iana_tz"`
	CreatedAt         time.Time                     `json:"created_at"`
	UpdatedAt         time.Time                     `json:"updated_at"`
}

// TableName set name
func (NotificationPreferences) TableName() string {
	return "notification_preferences"
}

// DefaultPreferences returned for users that never saved preferences.
func DefaultPreferences(userID string) *NotificationPreferences {
	return &NotificationPreferences{
		UserID:            userID,
		Enabled:           true,
		Channels:          datatypes.JSONSlice[Channel]{ChannelInApp},
		EnabledCategories: append(datatypes.JSONSlice[Category]{}, AllCategories...),
		PriorityThreshold: PriorityMedium,
		QuietHours: QuietHours{
			Enabled: false,
			Start:   "22:00",
			End:     "07:00",
		},
		FrequencyLimits: FrequencyLimits{
			PerHour: 5,
			PerDay:  20,
		},
		MarketFocus: datatypes.JSONSlice[string]{},
		Timezone:    "UTC",
	}
}

// CategoryEnabled reports whether c is in the enabled set.
func (p *NotificationPreferences) CategoryEnabled(c Category) bool {
	for _, enabled := range p.EnabledCategories {
		if enabled == c {
			return true
		}
	}
	return false
}

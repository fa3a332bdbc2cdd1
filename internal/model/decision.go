package model

// Reason why an event was or was not turned into a notification
type Reason string

const (
	ReasonAllowed          Reason = "allowed"
	ReasonDisabled         Reason = "disabled"
	ReasonCategoryFiltered Reason = "category_filtered"
	ReasonBelowThreshold   Reason = "below_threshold"
	ReasonOutOfFocus       Reason = "out_of_focus"
	ReasonQuietHours       Reason = "quiet_hours"
	ReasonRateLimited      Reason = "rate_limited"

	// Set by the ingestor, outside the policy checks.
	ReasonThrottleUnavailable    Reason = "throttle_unavailable"
	ReasonPersistFailed          Reason = "persist_failed"
	ReasonCancelled              Reason = "cancelled"
	ReasonInvalidEvent           Reason = "invalid_event"
	ReasonPreferencesUnavailable Reason = "preferences_unavailable"
	ReasonLockUnavailable        Reason = "lock_unavailable"
	ReasonClassificationFailed   Reason = "classification_failed"
)

// Decision policy verdict for one draft
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  Reason `json:"reason"`
}

func Allow() Decision {
	return Decision{Allowed: true, Reason: ReasonAllowed}
}

func Suppress(reason Reason) Decision {
	return Decision{Allowed: false, Reason: reason}
}

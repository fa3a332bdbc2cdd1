// Package policy decides whether a classified draft may reach its user.
//
// Evaluate is pure: it reads preferences and a throttle snapshot and never
// touches stores, so it is safe to call from any goroutine.
package policy

import (
	"strings"
	"time"

	"marketnotify/internal/model"
	"marketnotify/internal/service/throttle"
	"marketnotify/pkg/utils"
)

// Evaluate applies the checks in a fixed order; the first failing check is the reason.
// Critical drafts bypass quiet hours but not frequency limits.
func Evaluate(draft model.NotificationDraft, market string, prefs *model.NotificationPreferences, snapshot throttle.Snapshot, now time.Time) model.Decision {
	if !prefs.Enabled {
		return model.Suppress(model.ReasonDisabled)
	}

	if !prefs.CategoryEnabled(draft.Category) {
		return model.Suppress(model.ReasonCategoryFiltered)
	}

	if !draft.Priority.AtLeast(prefs.PriorityThreshold) {
		return model.Suppress(model.ReasonBelowThreshold)
	}

	if !inFocus(market, prefs.MarketFocus) {
		return model.Suppress(model.ReasonOutOfFocus)
	}

	if draft.Priority != model.PriorityCritical && InQuietHours(prefs, now) {
		return model.Suppress(model.ReasonQuietHours)
	}

	if snapshot.Exceeds(LimitsOf(prefs)) {
		return model.Suppress(model.ReasonRateLimited)
	}

	return model.Allow()
}

// LimitsOf converts stored frequency limits into throttle limits.
func LimitsOf(prefs *model.NotificationPreferences) throttle.Limits {
	return throttle.Limits{
		PerHour: prefs.FrequencyLimits.PerHour,
		PerDay:  prefs.FrequencyLimits.PerDay,
	}
}

// An empty focus list matches every market.
func inFocus(market string, focus []string) bool {
	if len(focus) == 0 {
		return true
	}
	for _, m := range focus {
		if strings.EqualFold(strings.TrimSpace(m), strings.TrimSpace(market)) {
			return true
		}
	}
	return false
}

// InQuietHours evaluates the quiet window in the user's timezone.
// Unparseable bounds disable the window rather than suppress everything.
func InQuietHours(prefs *model.NotificationPreferences, now time.Time) bool {
	qh := prefs.QuietHours
	if !qh.Enabled {
		return false
	}

	start, err := utils.ParseClock(qh.Start)
	if err != nil {
		return false
	}
	end, err := utils.ParseClock(qh.End)
	if err != nil {
		return false
	}

	local := now.In(utils.LoadLocationOrUTC(prefs.Timezone))
	return utils.InDailyWindow(utils.ClockOf(local), start, end)
}

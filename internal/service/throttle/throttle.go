package throttle

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable the counter store could not be reached. Callers treat it as a failed reservation.
var ErrUnavailable = errors.New("throttle store unavailable")

// Limits per-user frequency caps
type Limits struct {
	PerHour int
	PerDay  int
}

// Snapshot read-only view of a user's counters at some instant.
// Windows are fixed and clock-aligned in UTC: the hour starts on the hour,
// the day at 00:00 UTC.
type Snapshot struct {
	HourWindowStart time.Time `json:"hour_window_start"`
	HourCount       int       `json:"hour_count"`
	DayWindowStart  time.Time `json:"day_window_start"`
	DayCount        int       `json:"day_count"`
}

// Exceeds reports whether one more notification would break either cap.
func (s Snapshot) Exceeds(l Limits) bool {
	return s.HourCount >= l.PerHour || s.DayCount >= l.PerDay
}

// Tracker keeps per-user notification counters.
type Tracker interface {
	Snapshot(ctx context.Context, userID string, now time.Time) (Snapshot, error)
	// TryReserve atomically increments both windows when under limits.
	// It never mutates counters when it returns false.
	TryReserve(ctx context.Context, userID string, limits Limits, now time.Time) (bool, error)
}

func HourWindow(now time.Time) time.Time {
	return now.UTC().Truncate(time.Hour)
}

func DayWindow(now time.Time) time.Time {
	y, m, d := now.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// rollover resets any window that now has moved past. Windows never move backwards.
func rollover(s Snapshot, now time.Time) Snapshot {
	if hour := HourWindow(now); hour.After(s.HourWindowStart) {
		s.HourWindowStart = hour
		s.HourCount = 0
	}
	if day := DayWindow(now); day.After(s.DayWindowStart) {
		s.DayWindowStart = day
		s.DayCount = 0
	}
	return s
}

package utils

import (
	"fmt"
	"time"
	_ "time/tzdata"
)

const (
	TimeFormat  = "2006-01-02 15:04:05"
	ClockFormat = "15:04"
)

// Clock is a wall-clock time of day, stored as minutes since midnight.
type Clock int

// ParseClock parses a strict "HH:MM" 24-hour value.
func ParseClock(s string) (Clock, error) {
	if len(s) != 5 || s[2] != ':' {
		return 0, fmt.Errorf("invalid clock %q: want HH:MM", s)
	}
	t, err := time.Parse(ClockFormat, s)
	if err != nil {
		return 0, fmt.Errorf("invalid clock %q: %w", s, err)
	}
	return Clock(t.Hour()*60 + t.Minute()), nil
}

// ClockOf returns the time of day of t in t's own location.
func ClockOf(t time.Time) Clock {
	return Clock(t.Hour()*60 + t.Minute())
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

// InDailyWindow reports whether c falls in [start, end). A window whose end is
// earlier than its start wraps past midnight; start == end is an empty window.
func InDailyWindow(c, start, end Clock) bool {
	switch {
	case start == end:
		return false
	case start < end:
		return c >= start && c < end
	default:
		return c >= start || c < end
	}
}

// LoadLocationOrUTC resolves an IANA zone name, falling back to UTC.
func LoadLocationOrUTC(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

package utils

import (
	"fmt"
	"strings"
	"time"
)

// ParseRFC3339 returns a time from the provided string or an error.
func ParseRFC3339(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("empty time value")
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time: %w", err)
	}
	return t, nil
}

// DurationMinutes converts a pair of timestamps into minute duration.
func DurationMinutes(start, end time.Time) float64 {
	if end.Before(start) {
		start, end = end, start
	}
	return end.Sub(start).Minutes()
}

// MonthKey returns the lowercase English month name for a timestamp.
// Model and pattern artifacts are keyed by this value.
func MonthKey(t time.Time) string {
	return strings.ToLower(t.Month().String())
}

// HourKey returns the pattern-store key for an hour of day ("0".."23").
func HourKey(t time.Time) string {
	return fmt.Sprintf("%d", t.Hour())
}

// WeekdayKey returns the pattern-store key for a day of week, Monday=0.
func WeekdayKey(t time.Time) string {
	wd := (int(t.Weekday()) + 6) % 7
	return fmt.Sprintf("%d", wd)
}

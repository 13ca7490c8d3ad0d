package utils

import (
	"testing"
	"time"
)

func TestParseRFC3339(t *testing.T) {
	got, err := ParseRFC3339("2025-10-15T19:00:00Z")
	if err != nil {
		t.Fatalf("ParseRFC3339: %v", err)
	}
	if got.Hour() != 19 || got.Month() != time.October {
		t.Errorf("parsed %v", got)
	}

	if _, err := ParseRFC3339(""); err == nil {
		t.Error("empty value should error")
	}
	if _, err := ParseRFC3339("not-a-time"); err == nil {
		t.Error("garbage value should error")
	}
}

func TestMonthKey(t *testing.T) {
	if got := MonthKey(time.Date(2025, 10, 15, 0, 0, 0, 0, time.UTC)); got != "october" {
		t.Errorf("MonthKey = %q, want october", got)
	}
	if got := MonthKey(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)); got != "january" {
		t.Errorf("MonthKey = %q, want january", got)
	}
}

func TestWeekdayKey(t *testing.T) {
	// 2025-10-13 is a Monday; keys count Monday as 0.
	monday := time.Date(2025, 10, 13, 0, 0, 0, 0, time.UTC)
	if got := WeekdayKey(monday); got != "0" {
		t.Errorf("Monday key = %q, want 0", got)
	}
	if got := WeekdayKey(monday.AddDate(0, 0, 6)); got != "6" {
		t.Errorf("Sunday key = %q, want 6", got)
	}
}

func TestHourKey(t *testing.T) {
	if got := HourKey(time.Date(2025, 10, 15, 3, 0, 0, 0, time.UTC)); got != "3" {
		t.Errorf("HourKey = %q, want 3", got)
	}
	if got := HourKey(time.Date(2025, 10, 15, 23, 0, 0, 0, time.UTC)); got != "23" {
		t.Errorf("HourKey = %q, want 23", got)
	}
}

// Package baseline serves the hourly demand patterns learned offline from
// historical grid data. The store is read-only after load and backs the
// "expected demand" side of severity classification.
package baseline

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/gridsight/gridsight-engine/internal/utils"
)

// ErrBaselineUnavailable signals that no pattern artifact is loaded or the
// requested slot has no coverage. Callers degrade rather than fail.
var ErrBaselineUnavailable = errors.New("baseline patterns unavailable")

// Slot is the demand distribution for one hour-of-day bucket.
type Slot struct {
	Mean   float64 `json:"mean"`
	Std    float64 `json:"std"`
	Median float64 `json:"median"`
	P25    float64 `json:"p25"`
	P75    float64 `json:"p75"`
	P95    float64 `json:"p95"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

type artifact struct {
	GeneratedAt  string          `json:"generated_at"`
	SampleCount  int             `json:"sample_count"`
	OverallStats *Slot           `json:"overall_stats"`
	HourlyStats  map[string]Slot `json:"hourly_patterns"`
	WeekdayStats map[string]Slot `json:"day_of_week_patterns"`
	PeakHours    []int           `json:"peak_hours"`
}

// Store holds immutable baseline patterns. Safe for concurrent readers.
type Store struct {
	overall Slot
	hourly  map[string]Slot
	weekday map[string]Slot
	peak    map[int]bool
	loaded  bool
}

// Empty returns a store with no patterns; every lookup reports
// ErrBaselineUnavailable.
func Empty() *Store {
	return &Store{}
}

// Load reads a pattern artifact from disk.
func Load(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read baseline artifact: %w", err)
	}
	var art artifact
	if err := json.Unmarshal(data, &art); err != nil {
		return nil, fmt.Errorf("parse baseline artifact %s: %w", path, err)
	}
	if art.OverallStats == nil {
		return nil, fmt.Errorf("baseline artifact %s missing overall_stats", path)
	}
	if len(art.HourlyStats) == 0 {
		return nil, fmt.Errorf("baseline artifact %s has no hourly patterns", path)
	}

	peak := make(map[int]bool, len(art.PeakHours))
	for _, h := range art.PeakHours {
		peak[h] = true
	}
	return &Store{
		overall: *art.OverallStats,
		hourly:  art.HourlyStats,
		weekday: art.WeekdayStats,
		peak:    peak,
		loaded:  true,
	}, nil
}

// Expected returns the hourly slot stats for the timestamp. When the hour
// bucket is missing it falls back to the overall distribution.
func (s *Store) Expected(t time.Time) (Slot, error) {
	if !s.loaded {
		return Slot{}, ErrBaselineUnavailable
	}
	if slot, ok := s.hourly[utils.HourKey(t)]; ok {
		return slot, nil
	}
	return s.overall, nil
}

// ExpectedWeekday returns the day-of-week slot stats, Monday first.
func (s *Store) ExpectedWeekday(t time.Time) (Slot, error) {
	if !s.loaded {
		return Slot{}, ErrBaselineUnavailable
	}
	if slot, ok := s.weekday[utils.WeekdayKey(t)]; ok {
		return slot, nil
	}
	return s.overall, nil
}

// IsPeakHour reports whether the timestamp falls inside a learned peak hour.
func (s *Store) IsPeakHour(t time.Time) bool {
	return s.loaded && s.peak[t.Hour()]
}

// Loaded reports whether patterns are available.
func (s *Store) Loaded() bool { return s.loaded }

// Package registry loads per-period anomaly models and resolves which model
// scores a given timestamp. Period selection is a pure function of the
// timestamp; the same instant always maps to the same model.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gridsight/gridsight-engine/internal/utils"
)

// ErrModelNotFound signals that no model covers the requested period.
var ErrModelNotFound = errors.New("no model for period")

// Registry holds the loaded period models. Immutable after LoadDir; safe for
// unlimited concurrent readers.
type Registry struct {
	models map[string]*PeriodModel
	logger *slog.Logger
}

// monthIndex maps period keys back to calendar positions for nearest-period
// substitution.
var monthIndex = map[string]int{
	"january": 1, "february": 2, "march": 3, "april": 4,
	"may": 5, "june": 6, "july": 7, "august": 8,
	"september": 9, "october": 10, "november": 11, "december": 12,
}

// LoadDir reads every *.json artifact from dir. Invalid artifacts fail the
// load; an empty directory yields a registry that rejects every lookup.
func LoadDir(dir string, logger *slog.Logger) (*Registry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read model dir: %w", err)
	}

	reg := &Registry{models: make(map[string]*PeriodModel), logger: logger}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		model, err := loadModel(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, utils.NewAppError("registry.load", "invalid model artifact "+entry.Name(), err)
		}
		key := strings.ToLower(model.PeriodKey)
		if _, dup := reg.models[key]; dup {
			return nil, fmt.Errorf("duplicate model for period %q", key)
		}
		reg.models[key] = model
		logger.Info("loaded period model",
			"period", key,
			"trees", len(model.Forest.Trees),
			"trained_on", model.Metadata.TrainedOnSampleCount)
	}

	if len(reg.models) == 0 {
		logger.Warn("model directory contains no artifacts", "dir", dir)
	}
	return reg, nil
}

// Periods returns the loaded period keys in calendar order.
func (r *Registry) Periods() []string {
	keys := make([]string, 0, len(r.models))
	for k := range r.models {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return monthIndex[keys[i]] < monthIndex[keys[j]] })
	return keys
}

// Select returns the model for the timestamp's period, or ErrModelNotFound.
func (r *Registry) Select(t time.Time) (*PeriodModel, error) {
	key := utils.MonthKey(t)
	model, ok := r.models[key]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrModelNotFound, key)
	}
	return model, nil
}

// SelectOrNearest returns the timestamp's model when present, otherwise the
// model whose period is closest on the calendar ring. Substitution is
// deterministic (ties resolve to the earlier month) and always logged.
func (r *Registry) SelectOrNearest(t time.Time) (*PeriodModel, error) {
	if model, err := r.Select(t); err == nil {
		return model, nil
	}
	if len(r.models) == 0 {
		return nil, fmt.Errorf("%w: registry is empty", ErrModelNotFound)
	}

	want := int(t.Month())
	bestKey := ""
	bestDist := 13
	for _, key := range r.Periods() {
		dist := monthDistance(want, monthIndex[key])
		if dist < bestDist {
			bestDist = dist
			bestKey = key
		}
	}

	r.logger.Warn("substituting nearest period model",
		"requested", utils.MonthKey(t),
		"substituted", bestKey,
		"distance_months", bestDist)
	return r.models[bestKey], nil
}

func monthDistance(a, b int) int {
	d := a - b
	if d < 0 {
		d = -d
	}
	if 12-d < d {
		d = 12 - d
	}
	return d
}

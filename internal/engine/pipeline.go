package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/gridsight/gridsight-engine/internal/baseline"
	"github.com/gridsight/gridsight-engine/internal/features"
	"github.com/gridsight/gridsight-engine/internal/models"
	"github.com/gridsight/gridsight-engine/internal/registry"
)

// ModelSource resolves the scoring model for a timestamp.
type ModelSource interface {
	Select(t time.Time) (*registry.PeriodModel, error)
	SelectOrNearest(t time.Time) (*registry.PeriodModel, error)
}

// BaselineSource provides expected demand for a timestamp.
type BaselineSource interface {
	Expected(t time.Time) (baseline.Slot, error)
}

// Pipeline runs the scoring flow: forecast points through feature building,
// period-model scoring, and severity classification into an AnomalySummary.
type Pipeline struct {
	logger            *slog.Logger
	models            ModelSource
	baseline          BaselineSource
	classifier        *Classifier
	substituteNearest bool
}

// NewPipeline constructs the scoring pipeline.
func NewPipeline(logger *slog.Logger, models ModelSource, base BaselineSource, classifier *Classifier, substituteNearest bool) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		logger:            logger,
		models:            models,
		baseline:          base,
		classifier:        classifier,
		substituteNearest: substituteNearest,
	}
}

// Analyze scores every forecast point. History points seed the rolling
// statistics only and are never scored. Per-point failures land in the
// summary's skipped list; the batch itself only fails on cancellation.
func (p *Pipeline) Analyze(ctx context.Context, history, forecast []models.DemandPoint) (models.AnomalySummary, error) {
	summary := models.AnomalySummary{GeneratedAt: time.Now().UTC()}
	if len(forecast) == 0 {
		return summary, nil
	}

	series := make([]models.DemandPoint, 0, len(history)+len(forecast))
	series = append(series, history...)
	series = append(series, forecast...)
	sort.SliceStable(series, func(i, j int) bool {
		return series[i].Timestamp.Before(series[j].Timestamp)
	})

	firstForecast := forecast[0].Timestamp
	for _, pt := range forecast[1:] {
		if pt.Timestamp.Before(firstForecast) {
			firstForecast = pt.Timestamp
		}
	}

	periodKeys := make(map[string]bool)
	for i, pt := range series {
		if pt.Timestamp.Before(firstForecast) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return models.AnomalySummary{}, err
		}
		summary.TotalPoints++

		rec, skip := p.scorePoint(pt, series, i, periodKeys)
		if skip != nil {
			summary.Skipped = append(summary.Skipped, *skip)
			continue
		}
		if rec.IsAnomaly {
			summary.AnomaliesDetected++
		}
		summary.Predictions = append(summary.Predictions, rec)
	}

	if summary.TotalPoints > 0 {
		summary.AnomalyRatePct = float64(summary.AnomaliesDetected) / float64(summary.TotalPoints) * 100
	}
	summary.PeriodKey = joinKeys(periodKeys)

	p.logger.Info("forecast analysis complete",
		"points", summary.TotalPoints,
		"anomalies", summary.AnomaliesDetected,
		"skipped", len(summary.Skipped),
		"period", summary.PeriodKey)
	return summary, nil
}

func (p *Pipeline) scorePoint(pt models.DemandPoint, series []models.DemandPoint, idx int, periodKeys map[string]bool) (models.AnomalyRecord, *models.SkippedPoint) {
	skip := func(err error) (models.AnomalyRecord, *models.SkippedPoint) {
		p.logger.Debug("point skipped", "timestamp", pt.Timestamp, "reason", err)
		return models.AnomalyRecord{}, &models.SkippedPoint{Timestamp: pt.Timestamp, Reason: err.Error()}
	}

	vec, err := features.Build(pt, seriesWindow(series, idx))
	if err != nil {
		return skip(fmt.Errorf("build features: %w", err))
	}

	var model *registry.PeriodModel
	if p.substituteNearest {
		model, err = p.models.SelectOrNearest(pt.Timestamp)
	} else {
		model, err = p.models.Select(pt.Timestamp)
	}
	if err != nil {
		return skip(err)
	}
	periodKeys[model.PeriodKey] = true

	score, flagged, err := model.Score(vec)
	if err != nil {
		return skip(fmt.Errorf("score with %s model: %w", model.PeriodKey, err))
	}

	rec := models.AnomalyRecord{
		Timestamp: pt.Timestamp,
		DemandMW:  pt.DemandMW,
	}
	expected, berr := p.baseline.Expected(pt.Timestamp)
	p.classifier.Classify(&rec, score, flagged, expected, berr == nil)
	return rec, nil
}

func seriesWindow(series []models.DemandPoint, i int) []models.DemandPoint {
	start := i - features.RollingWindow
	if start < 0 {
		start = 0
	}
	return series[start:i]
}

func joinKeys(keys map[string]bool) string {
	out := make([]string, 0, len(keys))
	for k := range keys {
		out = append(out, k)
	}
	sort.Strings(out)
	return strings.Join(out, ",")
}

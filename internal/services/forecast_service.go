package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gridsight/gridsight-engine/internal/ai"
	"github.com/gridsight/gridsight-engine/internal/engine"
	"github.com/gridsight/gridsight-engine/internal/metrics"
	"github.com/gridsight/gridsight-engine/internal/models"
	"github.com/gridsight/gridsight-engine/internal/utils"
)

// FeedClient supplies forecast and trailing history points.
type FeedClient interface {
	FetchForecast(ctx context.Context) ([]models.DemandPoint, error)
	FetchHistory(ctx context.Context) ([]models.DemandPoint, error)
}

// PriceClient supplies hourly prices for the analysis window.
type PriceClient interface {
	FetchPrices(ctx context.Context, start time.Time, hours int) ([]models.PricePoint, error)
}

// Recommender is the AI adapter surface the service depends on.
type Recommender interface {
	Recommend(ctx context.Context, summary models.AnomalySummary, prices engine.PriceLookup, currentDemand float64) models.RecommendationSummary
	RecommendOne(ctx context.Context, rec models.AnomalyRecord, currentDemand float64) (models.Recommendation, error)
}

// ErrNoAnomaly is returned by the single-anomaly path when the requested
// timestamp has no anomalous record.
var ErrNoAnomaly = errors.New("no anomaly at requested timestamp")

// ForecastService ties feeds, the scoring pipeline, and the recommendation
// engines together behind one facade.
type ForecastService struct {
	logger    *slog.Logger
	feed      FeedClient
	prices    PriceClient
	pipeline  *engine.Pipeline
	rules     *engine.RuleEngine
	adapter   Recommender
	aiEnabled bool
	latencies *utils.LatencyTracker
}

// NewForecastService constructs the service facade. adapter may be nil when
// AI is disabled.
func NewForecastService(logger *slog.Logger, feed FeedClient, prices PriceClient, pipeline *engine.Pipeline, rules *engine.RuleEngine, adapter Recommender, aiEnabled bool) *ForecastService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ForecastService{
		logger:    logger,
		feed:      feed,
		prices:    prices,
		pipeline:  pipeline,
		rules:     rules,
		adapter:   adapter,
		aiEnabled: aiEnabled && adapter != nil,
		latencies: utils.NewLatencyTracker(1024),
	}
}

// Analyze fetches the feed and scores the full forecast horizon.
func (s *ForecastService) Analyze(ctx context.Context) (models.AnomalySummary, error) {
	start := time.Now()
	summary, err := s.analyze(ctx)
	duration := time.Since(start)
	if err != nil {
		metrics.ObserveAnalysis(duration, metrics.OutcomeError, 0, 0)
		return models.AnomalySummary{}, err
	}

	s.latencies.Observe(duration)
	metrics.ObserveAnalysis(duration, metrics.OutcomeSuccess, summary.AnomaliesDetected, len(summary.Skipped))
	if count := s.latencies.Count(); count >= 20 && count%20 == 0 {
		s.logger.Info("analysis latency", slog.Duration("p95", s.latencies.Percentile(95)), slog.Int("samples", count))
	}
	return summary, nil
}

func (s *ForecastService) analyze(ctx context.Context) (models.AnomalySummary, error) {
	forecast, err := s.feed.FetchForecast(ctx)
	if err != nil {
		return models.AnomalySummary{}, fmt.Errorf("fetch forecast: %w", err)
	}

	history, err := s.feed.FetchHistory(ctx)
	if err != nil {
		// Rolling statistics degrade without history but scoring still works.
		s.logger.Warn("history fetch failed, rolling stats start cold", slog.Any("error", err))
		history = nil
	}

	return s.pipeline.Analyze(ctx, history, forecast)
}

// Recommendations analyzes the horizon and generates recommendations.
// useAI selects the AI adapter when it is enabled; the result always covers
// every anomaly regardless of AI availability.
func (s *ForecastService) Recommendations(ctx context.Context, useAI bool) (models.AnomalySummary, models.RecommendationSummary, error) {
	summary, err := s.Analyze(ctx)
	if err != nil {
		return models.AnomalySummary{}, models.RecommendationSummary{}, err
	}

	lookup := s.priceLookup(ctx, summary)
	if useAI && s.aiEnabled {
		recs := s.adapter.Recommend(ctx, summary, lookup, currentDemand(summary))
		return summary, recs, nil
	}
	return summary, s.rules.RecommendAll(summary, lookup), nil
}

// AnalyzeBatch scores caller-supplied points instead of fetching the feed,
// then generates recommendations the same way Recommendations does.
func (s *ForecastService) AnalyzeBatch(ctx context.Context, history, forecast []models.DemandPoint, useAI bool) (models.AnomalySummary, models.RecommendationSummary, error) {
	start := time.Now()
	summary, err := s.pipeline.Analyze(ctx, history, forecast)
	duration := time.Since(start)
	if err != nil {
		metrics.ObserveAnalysis(duration, metrics.OutcomeError, 0, 0)
		return models.AnomalySummary{}, models.RecommendationSummary{}, err
	}
	metrics.ObserveAnalysis(duration, metrics.OutcomeSuccess, summary.AnomaliesDetected, len(summary.Skipped))

	lookup := s.priceLookup(ctx, summary)
	if useAI && s.aiEnabled {
		return summary, s.adapter.Recommend(ctx, summary, lookup, currentDemand(summary)), nil
	}
	return summary, s.rules.RecommendAll(summary, lookup), nil
}

// RecommendAt serves the AI-required single-anomaly path. It fails with
// ai.ErrUnavailable when the backend cannot answer, never degrading.
func (s *ForecastService) RecommendAt(ctx context.Context, ts time.Time) (models.Recommendation, error) {
	if !s.aiEnabled {
		return models.Recommendation{}, fmt.Errorf("%w: ai disabled", ai.ErrUnavailable)
	}

	summary, err := s.Analyze(ctx)
	if err != nil {
		return models.Recommendation{}, err
	}
	for _, rec := range summary.Anomalies() {
		if rec.Timestamp.Equal(ts) {
			return s.adapter.RecommendOne(ctx, rec, currentDemand(summary))
		}
	}
	return models.Recommendation{}, fmt.Errorf("%w: %s", ErrNoAnomaly, ts.Format(time.RFC3339))
}

func (s *ForecastService) priceLookup(ctx context.Context, summary models.AnomalySummary) engine.PriceLookup {
	if s.prices == nil || len(summary.Predictions) == 0 {
		return nil
	}
	start := summary.Predictions[0].Timestamp
	points, err := s.prices.FetchPrices(ctx, start, len(summary.Predictions)+1)
	if err != nil || len(points) == 0 {
		return nil
	}
	index := make(map[time.Time]float64, len(points))
	for _, pt := range points {
		index[pt.Timestamp.UTC().Truncate(time.Hour)] = pt.PricePerMWh
	}
	return func(t time.Time) float64 {
		return index[t.UTC().Truncate(time.Hour)]
	}
}

// currentDemand approximates "now" with the first forecast point, matching
// the feed's publication cadence.
func currentDemand(summary models.AnomalySummary) float64 {
	if len(summary.Predictions) == 0 {
		return 0
	}
	return summary.Predictions[0].DemandMW
}

// LatencyP95 returns the current p95 analysis latency.
func (s *ForecastService) LatencyP95() time.Duration {
	return s.latencies.Percentile(95)
}

package services

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/gridsight/gridsight-engine/internal/ai"
	"github.com/gridsight/gridsight-engine/internal/baseline"
	"github.com/gridsight/gridsight-engine/internal/config"
	"github.com/gridsight/gridsight-engine/internal/engine"
	"github.com/gridsight/gridsight-engine/internal/models"
	"github.com/gridsight/gridsight-engine/internal/registry"
)

type fakeFeed struct {
	forecast   []models.DemandPoint
	history    []models.DemandPoint
	err        error
	historyErr error
}

func (f *fakeFeed) FetchForecast(context.Context) ([]models.DemandPoint, error) {
	return f.forecast, f.err
}

func (f *fakeFeed) FetchHistory(context.Context) ([]models.DemandPoint, error) {
	return f.history, f.historyErr
}

type fakePrices struct {
	price float64
	err   error
}

func (f *fakePrices) FetchPrices(_ context.Context, start time.Time, hours int) ([]models.PricePoint, error) {
	if f.err != nil {
		return nil, f.err
	}
	points := make([]models.PricePoint, 0, hours)
	for i := 0; i < hours; i++ {
		points = append(points, models.PricePoint{
			Timestamp:   start.Add(time.Duration(i) * time.Hour),
			PricePerMWh: f.price,
		})
	}
	return points, nil
}

type fakeRecommender struct {
	batchCalls int
	oneCalls   int
	oneErr     error
}

func (f *fakeRecommender) Recommend(_ context.Context, summary models.AnomalySummary, _ engine.PriceLookup, _ float64) models.RecommendationSummary {
	f.batchCalls++
	out := models.RecommendationSummary{AIPowered: true}
	for range summary.Anomalies() {
		out.Recommendations = append(out.Recommendations, models.Recommendation{Source: models.SourceLLM})
	}
	out.Tally()
	return out
}

func (f *fakeRecommender) RecommendOne(context.Context, models.AnomalyRecord, float64) (models.Recommendation, error) {
	f.oneCalls++
	if f.oneErr != nil {
		return models.Recommendation{}, f.oneErr
	}
	return models.Recommendation{Source: models.SourceLLM}, nil
}

type stubModels struct{ model *registry.PeriodModel }

func (s stubModels) Select(time.Time) (*registry.PeriodModel, error)          { return s.model, nil }
func (s stubModels) SelectOrNearest(time.Time) (*registry.PeriodModel, error) { return s.model, nil }

type stubBaseline struct{ mean float64 }

func (s stubBaseline) Expected(time.Time) (baseline.Slot, error) {
	return baseline.Slot{Mean: s.mean, Std: 200}, nil
}

func serviceModel() *registry.PeriodModel {
	width := 15
	cols := make([]string, width)
	mean := make([]float64, width)
	scale := make([]float64, width)
	for i := range cols {
		cols[i] = "col"
		scale[i] = 1
	}
	return &registry.PeriodModel{
		PeriodKey:      "october",
		FeatureColumns: cols,
		Scaler:         registry.Scaler{Mean: mean, Scale: scale},
		Forest: registry.Forest{
			MaxSamples: 256,
			Offset:     -0.7,
			Trees: []registry.Tree{{
				ChildLeft:   []int{1, -1, -1},
				ChildRight:  []int{2, -1, -1},
				Features:    []int{9, 0, 0},
				Thresholds:  []float64{5000, 0, 0},
				NodeSamples: []int{256, 128, 1},
			}},
		},
	}
}

func testService(t *testing.T, feed FeedClient, prices PriceClient, adapter Recommender, aiEnabled bool) *ForecastService {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	scoring := config.ScoringConfig{
		ConfidenceThreshold: 50,
		SeverityThresholds:  []float64{10, 25, 50, 100},
		ReferenceDemandMW:   3000,
		SignificanceGate: config.GateConfig{
			Enabled:         true,
			MinDeviationPct: 30,
			MinDeviationMW:  800,
		},
	}
	pipeline := engine.NewPipeline(logger, stubModels{model: serviceModel()}, stubBaseline{mean: 2800}, engine.NewClassifier(scoring), false)
	rules := engine.NewRuleEngine(logger, 100)
	return NewForecastService(logger, feed, prices, pipeline, rules, adapter, aiEnabled)
}

func spikyForecast() []models.DemandPoint {
	start := time.Date(2025, 10, 15, 12, 0, 0, 0, time.UTC)
	demands := []float64{2900, 2950, 8500, 2850}
	points := make([]models.DemandPoint, 0, len(demands))
	for i, d := range demands {
		points = append(points, models.DemandPoint{
			Timestamp:  start.Add(time.Duration(i) * time.Hour),
			DemandMW:   d,
			IsForecast: true,
		})
	}
	return points
}

func TestAnalyzeEndToEnd(t *testing.T) {
	feed := &fakeFeed{forecast: spikyForecast()}
	svc := testService(t, feed, &fakePrices{price: 120}, nil, false)

	summary, err := svc.Analyze(context.Background())
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if summary.AnomaliesDetected != 1 {
		t.Fatalf("AnomaliesDetected = %d, want 1", summary.AnomaliesDetected)
	}
}

func TestAnalyzeFeedFailure(t *testing.T) {
	feed := &fakeFeed{err: errors.New("connection refused")}
	svc := testService(t, feed, nil, nil, false)

	if _, err := svc.Analyze(context.Background()); err == nil {
		t.Fatal("expected error when the forecast feed is down")
	}
}

func TestAnalyzeToleratesHistoryFailure(t *testing.T) {
	feed := &fakeFeed{forecast: spikyForecast(), historyErr: errors.New("timeout")}
	svc := testService(t, feed, nil, nil, false)

	summary, err := svc.Analyze(context.Background())
	if err != nil {
		t.Fatalf("history failure must not abort analysis: %v", err)
	}
	if summary.TotalPoints != 4 {
		t.Errorf("TotalPoints = %d, want 4", summary.TotalPoints)
	}
}

func TestRecommendationsRuleMode(t *testing.T) {
	adapter := &fakeRecommender{}
	svc := testService(t, &fakeFeed{forecast: spikyForecast()}, &fakePrices{price: 120}, adapter, true)

	_, recs, err := svc.Recommendations(context.Background(), false)
	if err != nil {
		t.Fatalf("Recommendations: %v", err)
	}
	if adapter.batchCalls != 0 {
		t.Error("rules mode must not touch the AI adapter")
	}
	if len(recs.Recommendations) != 1 || recs.Recommendations[0].Source != models.SourceRuleBased {
		t.Errorf("recs = %+v", recs.Recommendations)
	}
}

func TestRecommendationsAIMode(t *testing.T) {
	adapter := &fakeRecommender{}
	svc := testService(t, &fakeFeed{forecast: spikyForecast()}, &fakePrices{price: 120}, adapter, true)

	_, recs, err := svc.Recommendations(context.Background(), true)
	if err != nil {
		t.Fatalf("Recommendations: %v", err)
	}
	if adapter.batchCalls != 1 {
		t.Errorf("adapter called %d times, want 1", adapter.batchCalls)
	}
	if !recs.AIPowered {
		t.Error("AI mode output should be marked ai_powered")
	}
}

func TestRecommendationsAIDisabledFallsToRules(t *testing.T) {
	svc := testService(t, &fakeFeed{forecast: spikyForecast()}, nil, nil, false)

	_, recs, err := svc.Recommendations(context.Background(), true)
	if err != nil {
		t.Fatalf("Recommendations: %v", err)
	}
	if recs.AIPowered {
		t.Error("disabled AI must fall back to rules")
	}
	if len(recs.Recommendations) != 1 {
		t.Errorf("got %d recommendations, want 1", len(recs.Recommendations))
	}
}

func TestAnalyzeBatchScoresSuppliedPoints(t *testing.T) {
	// The feed errors; batch input must not touch it.
	svc := testService(t, &fakeFeed{err: errors.New("down")}, nil, nil, false)

	summary, recs, err := svc.AnalyzeBatch(context.Background(), nil, spikyForecast(), false)
	if err != nil {
		t.Fatalf("AnalyzeBatch: %v", err)
	}
	if summary.AnomaliesDetected != 1 {
		t.Errorf("AnomaliesDetected = %d, want 1", summary.AnomaliesDetected)
	}
	if len(recs.Recommendations) != 1 {
		t.Errorf("got %d recommendations, want 1", len(recs.Recommendations))
	}
}

func TestRecommendAtRequiresAI(t *testing.T) {
	svc := testService(t, &fakeFeed{forecast: spikyForecast()}, nil, nil, false)
	_, err := svc.RecommendAt(context.Background(), time.Now())
	if !errors.Is(err, ai.ErrUnavailable) {
		t.Fatalf("expected ai.ErrUnavailable, got %v", err)
	}
}

func TestRecommendAtUnknownTimestamp(t *testing.T) {
	adapter := &fakeRecommender{}
	svc := testService(t, &fakeFeed{forecast: spikyForecast()}, nil, adapter, true)

	_, err := svc.RecommendAt(context.Background(), time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC))
	if !errors.Is(err, ErrNoAnomaly) {
		t.Fatalf("expected ErrNoAnomaly, got %v", err)
	}
	if adapter.oneCalls != 0 {
		t.Error("adapter must not be called for a non-anomalous timestamp")
	}
}

func TestRecommendAtMatchesAnomaly(t *testing.T) {
	adapter := &fakeRecommender{}
	svc := testService(t, &fakeFeed{forecast: spikyForecast()}, nil, adapter, true)

	// The spike sits two hours into the forecast.
	ts := time.Date(2025, 10, 15, 14, 0, 0, 0, time.UTC)
	rec, err := svc.RecommendAt(context.Background(), ts)
	if err != nil {
		t.Fatalf("RecommendAt: %v", err)
	}
	if rec.Source != models.SourceLLM {
		t.Errorf("Source = %q, want llm", rec.Source)
	}
	if adapter.oneCalls != 1 {
		t.Errorf("adapter called %d times, want 1", adapter.oneCalls)
	}
}

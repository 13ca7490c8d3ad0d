package features

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/gridsight/gridsight-engine/internal/models"
)

func point(ts string, demand float64) models.DemandPoint {
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		panic(err)
	}
	return models.DemandPoint{Timestamp: t, DemandMW: demand}
}

func TestBuildVectorWidthAndOrder(t *testing.T) {
	vec, err := Build(point("2025-10-15T19:00:00-07:00", 8500), nil)
	if err != nil {
		t.Fatalf("Build returned error: %v", err)
	}
	if len(vec) != len(Columns) {
		t.Fatalf("expected %d features, got %d", len(Columns), len(vec))
	}

	// 2025-10-15 is a Wednesday; hour 19, October.
	if got := vec[0]; math.Abs(got-math.Sin(2*math.Pi*19/24)) > 1e-12 {
		t.Errorf("hour_sin = %v", got)
	}
	if got := vec[4]; got != 0 {
		t.Errorf("is_weekend = %v for a Wednesday", got)
	}
	if got := vec[5]; got != 10 {
		t.Errorf("month = %v, want 10", got)
	}
	if got := vec[7]; got != 0 {
		t.Errorf("is_summer = %v for October", got)
	}
	if got := vec[9]; got != 8500 {
		t.Errorf("demand_mw = %v, want 8500", got)
	}
}

func TestBuildIsDeterministic(t *testing.T) {
	window := []models.DemandPoint{
		point("2025-10-15T17:00:00-07:00", 3000),
		point("2025-10-15T18:00:00-07:00", 3200),
	}
	p := point("2025-10-15T19:00:00-07:00", 3400)

	first, err := Build(p, window)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	second, err := Build(p, window)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("feature %s differs between identical calls: %v vs %v", Columns[i], first[i], second[i])
		}
	}
}

func TestBuildRollingStats(t *testing.T) {
	window := []models.DemandPoint{
		point("2025-10-15T17:00:00-07:00", 3000),
		point("2025-10-15T18:00:00-07:00", 3000),
	}
	vec, err := Build(point("2025-10-15T19:00:00-07:00", 3600), window)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	wantMean := 3200.0
	if math.Abs(vec[10]-wantMean) > 1e-9 {
		t.Errorf("rolling_mean = %v, want %v", vec[10], wantMean)
	}
	// diff and pct_change compare against the immediately preceding point.
	if vec[12] != 600 {
		t.Errorf("diff = %v, want 600", vec[12])
	}
	if math.Abs(vec[13]-0.2) > 1e-12 {
		t.Errorf("pct_change = %v, want 0.2", vec[13])
	}
	if vec[14] <= 0 {
		t.Errorf("zscore = %v, want positive for above-mean demand", vec[14])
	}
}

func TestBuildEmptyWindow(t *testing.T) {
	vec, err := Build(point("2025-10-15T19:00:00-07:00", 3400), nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if vec[10] != 3400 {
		t.Errorf("rolling_mean with no history = %v, want the point itself", vec[10])
	}
	if vec[12] != 0 || vec[13] != 0 {
		t.Errorf("diff/pct_change with no history = %v/%v, want zeros", vec[12], vec[13])
	}
}

func TestBuildRejectsNonFiniteDemand(t *testing.T) {
	for _, demand := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		_, err := Build(point("2025-10-15T19:00:00-07:00", demand), nil)
		if !errors.Is(err, ErrNonFiniteDemand) {
			t.Errorf("demand %v: expected ErrNonFiniteDemand, got %v", demand, err)
		}
	}
}

func TestValidateShape(t *testing.T) {
	if err := Validate(make([]float64, 15), 15); err != nil {
		t.Fatalf("matching width rejected: %v", err)
	}
	err := Validate(make([]float64, 14), 15)
	var shapeErr *ShapeError
	if !errors.As(err, &shapeErr) {
		t.Fatalf("expected ShapeError, got %v", err)
	}
	if shapeErr.Got != 14 || shapeErr.Want != 15 {
		t.Errorf("ShapeError = %+v", shapeErr)
	}
}

func TestBuildSeriesIsolatesBadPoints(t *testing.T) {
	points := []models.DemandPoint{
		point("2025-10-15T17:00:00-07:00", 3000),
		{Timestamp: time.Date(2025, 10, 15, 18, 0, 0, 0, time.UTC), DemandMW: math.NaN()},
		point("2025-10-15T19:00:00-07:00", 3400),
	}
	vectors, errs := BuildSeries(points)
	if errs[0] != nil || errs[2] != nil {
		t.Fatalf("valid points errored: %v, %v", errs[0], errs[2])
	}
	if !errors.Is(errs[1], ErrNonFiniteDemand) {
		t.Fatalf("expected ErrNonFiniteDemand for NaN point, got %v", errs[1])
	}
	if vectors[2] == nil {
		t.Fatal("point after bad point should still build")
	}
}

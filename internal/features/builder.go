// Package features turns forecast points into the fixed-order vectors the
// trained period models expect. The column order is part of the model
// contract and must match the offline training layout exactly.
package features

import (
	"errors"
	"fmt"
	"math"

	"github.com/gridsight/gridsight-engine/internal/models"
)

// Columns is the training-time feature layout, in order.
var Columns = []string{
	"hour_sin", "hour_cos", "dow_sin", "dow_cos", "is_weekend",
	"month", "week_of_year", "is_summer", "is_winter",
	"demand_mw",
	"demand_mw_rolling_mean", "demand_mw_rolling_std",
	"demand_mw_diff", "demand_mw_pct_change", "demand_mw_zscore",
}

// RollingWindow is the number of trailing hourly samples used for rolling
// statistics, matching the training window.
const RollingWindow = 24

// ErrNonFiniteDemand rejects NaN or infinite demand readings.
var ErrNonFiniteDemand = errors.New("demand value is not finite")

// ShapeError reports a vector whose width does not match a model's expected
// feature count. Never coerced; the point is skipped instead.
type ShapeError struct {
	Got  int
	Want int
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("feature vector has %d columns, model expects %d", e.Got, e.Want)
}

// Build computes the feature vector for a point given its trailing demand
// window (older points first, the scored point excluded). Pure function of
// its inputs.
func Build(point models.DemandPoint, window []models.DemandPoint) ([]float64, error) {
	if !isFinite(point.DemandMW) {
		return nil, ErrNonFiniteDemand
	}

	t := point.Timestamp
	hour := float64(t.Hour())
	dow := float64((int(t.Weekday()) + 6) % 7) // Monday=0 per training layout
	month := int(t.Month())
	_, week := t.ISOWeek()

	rollingMean, rollingStd := rollingStats(point, window)
	diff, pctChange := rateOfChange(point, window)
	zscore := (point.DemandMW - rollingMean) / (rollingStd + 1e-8)

	vec := []float64{
		math.Sin(2 * math.Pi * hour / 24),
		math.Cos(2 * math.Pi * hour / 24),
		math.Sin(2 * math.Pi * dow / 7),
		math.Cos(2 * math.Pi * dow / 7),
		boolFeature(dow >= 5),
		float64(month),
		float64(week),
		boolFeature(month >= 6 && month <= 9),
		boolFeature(month == 12 || month <= 2),
		point.DemandMW,
		rollingMean,
		rollingStd,
		diff,
		pctChange,
		zscore,
	}
	return vec, nil
}

// rollingStats averages the scored point together with up to RollingWindow-1
// trailing samples, mirroring the training-side trailing window.
func rollingStats(point models.DemandPoint, window []models.DemandPoint) (mean, std float64) {
	values := []float64{point.DemandMW}
	start := len(window) - (RollingWindow - 1)
	if start < 0 {
		start = 0
	}
	for _, p := range window[start:] {
		if isFinite(p.DemandMW) {
			values = append(values, p.DemandMW)
		}
	}

	var sum float64
	for _, v := range values {
		sum += v
	}
	mean = sum / float64(len(values))

	if len(values) > 1 {
		var ss float64
		for _, v := range values {
			d := v - mean
			ss += d * d
		}
		// Sample variance, matching the training statistics.
		std = math.Sqrt(ss / float64(len(values)-1))
	}
	return mean, std
}

func rateOfChange(point models.DemandPoint, window []models.DemandPoint) (diff, pctChange float64) {
	if len(window) == 0 {
		return 0, 0
	}
	prev := window[len(window)-1].DemandMW
	if !isFinite(prev) {
		return 0, 0
	}
	diff = point.DemandMW - prev
	if prev != 0 {
		pctChange = diff / prev
	}
	return diff, pctChange
}

// Validate checks a vector against a model's expected width.
func Validate(vec []float64, want int) error {
	if len(vec) != want {
		return &ShapeError{Got: len(vec), Want: want}
	}
	return nil
}

func boolFeature(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// windowBefore returns the slice of points strictly preceding index i,
// bounded to the rolling window, assuming points sorted by time.
func windowBefore(points []models.DemandPoint, i int) []models.DemandPoint {
	start := i - RollingWindow
	if start < 0 {
		start = 0
	}
	return points[start:i]
}

// BuildSeries builds vectors for every point in a time-sorted series, using
// each point's trailing neighbours as its rolling window. The second return
// value carries per-point errors aligned by index; a nil entry means the
// vector at that index is valid.
func BuildSeries(points []models.DemandPoint) ([][]float64, []error) {
	vectors := make([][]float64, len(points))
	errs := make([]error, len(points))
	for i, p := range points {
		vec, err := Build(p, windowBefore(points, i))
		vectors[i] = vec
		errs[i] = err
	}
	return vectors, errs
}

package models

import "time"

// DemandPoint is a single sample from the demand forecast feed.
type DemandPoint struct {
	Timestamp  time.Time `json:"timestamp"`
	DemandMW   float64   `json:"demand_mw"`
	IsForecast bool      `json:"is_forecast"`
}

// PricePoint is a single sample from the price forecast feed.
type PricePoint struct {
	Timestamp   time.Time `json:"timestamp"`
	PricePerMWh float64   `json:"price_per_mwh"`
}

// Severity captures how far a scored point deviates from expectation.
type Severity string

const (
	SeverityNormal   Severity = "normal"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities from normal (0) to critical (4).
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

// AnomalyRecord is the scored and classified view of one forecast point.
// Records are read-only once emitted by the pipeline.
type AnomalyRecord struct {
	Timestamp           time.Time `json:"timestamp"`
	DemandMW            float64   `json:"demand_mw"`
	PredictedDemand     float64   `json:"predicted_demand"`
	RawScore            float64   `json:"raw_score"`
	IsAnomaly           bool      `json:"is_anomaly"`
	Confidence          float64   `json:"confidence"`
	Severity            Severity  `json:"severity"`
	DeviationPct        float64   `json:"deviation_pct"`
	BaselineUnavailable bool      `json:"baseline_unavailable,omitempty"`
}

// SkippedPoint reports a forecast point the pipeline could not score.
type SkippedPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason"`
}

// AnomalySummary is the batch output of an analysis run. Normal points are
// retained in Predictions so callers can render the full horizon.
type AnomalySummary struct {
	TotalPoints       int             `json:"total_points"`
	AnomaliesDetected int             `json:"anomalies_detected"`
	AnomalyRatePct    float64         `json:"anomaly_rate_pct"`
	PeriodKey         string          `json:"period_key"`
	GeneratedAt       time.Time       `json:"generated_at"`
	Predictions       []AnomalyRecord `json:"predictions"`
	Skipped           []SkippedPoint  `json:"skipped,omitempty"`
}

// Anomalies returns only the flagged records from the summary.
func (s AnomalySummary) Anomalies() []AnomalyRecord {
	anomalies := make([]AnomalyRecord, 0, s.AnomaliesDetected)
	for _, rec := range s.Predictions {
		if rec.IsAnomaly {
			anomalies = append(anomalies, rec)
		}
	}
	return anomalies
}

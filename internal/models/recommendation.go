package models

import "time"

// Priority is the operator-facing urgency of a recommendation.
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
)

// Rank orders priorities from LOW (0) to HIGH (2).
func (p Priority) Rank() int {
	switch p {
	case PriorityMedium:
		return 1
	case PriorityHigh:
		return 2
	default:
		return 0
	}
}

// Recommendation sources.
const (
	SourceRuleBased = "rule-based"
	SourceLLM       = "llm"
)

// AnomalyCategory is the closed set of deterministic recommendation
// categories. Every anomaly maps to exactly one.
type AnomalyCategory string

const (
	CategorySpikeHigh          AnomalyCategory = "spike-high"
	CategorySpikeLow           AnomalyCategory = "spike-low"
	CategorySustainedDeviation AnomalyCategory = "sustained-deviation"
	CategoryDataGap            AnomalyCategory = "data-gap"
)

// Action is one concrete step an operator should take.
type Action struct {
	Icon      string `json:"icon"`
	Action    string `json:"action"`
	Details   string `json:"details"`
	Timeframe string `json:"timeframe"`
}

// Impact estimates the consequence of leaving an anomaly unaddressed.
type Impact struct {
	Financial        string  `json:"financial"`
	FinancialType    string  `json:"financial_type"`
	ReliabilityRisk  string  `json:"reliability_risk"`
	MagnitudeMW      float64 `json:"magnitude_mw"`
	DurationEstimate string  `json:"duration_estimate"`
}

// Recommendation is one actionable item derived from a scored anomaly.
type Recommendation struct {
	ID             string          `json:"id"`
	Priority       Priority        `json:"priority"`
	Title          string          `json:"title"`
	Why            string          `json:"why"`
	Actions        []Action        `json:"actions"`
	Impact         Impact          `json:"impact"`
	Confidence     float64         `json:"confidence"`
	Source         string          `json:"source"`
	Category       AnomalyCategory `json:"category"`
	FallbackReason string          `json:"fallback_reason,omitempty"`
	TimeSensitive  bool            `json:"time_sensitive"`
	CreatedAt      time.Time       `json:"created_at"`
}

// RecommendationSummary is the batch output of recommendation generation.
type RecommendationSummary struct {
	TotalAnomalies  int              `json:"total_anomalies"`
	HighPriority    int              `json:"high_priority"`
	MediumPriority  int              `json:"medium_priority"`
	LowPriority     int              `json:"low_priority"`
	AIPowered       bool             `json:"ai_powered"`
	GeneratedAt     time.Time        `json:"generated_at"`
	Recommendations []Recommendation `json:"recommendations"`
}

// Tally recounts the priority buckets from the recommendation list.
func (s *RecommendationSummary) Tally() {
	s.TotalAnomalies = len(s.Recommendations)
	s.HighPriority, s.MediumPriority, s.LowPriority = 0, 0, 0
	for _, rec := range s.Recommendations {
		switch rec.Priority {
		case PriorityHigh:
			s.HighPriority++
		case PriorityMedium:
			s.MediumPriority++
		default:
			s.LowPriority++
		}
	}
}

package engine

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/gridsight/gridsight-engine/internal/models"
)

// PriceLookup resolves the energy price at a timestamp, in $/MWh.
type PriceLookup func(t time.Time) float64

// RuleEngine produces deterministic recommendations from classified
// anomalies. Every anomaly maps to exactly one category and every category
// has a template, so the engine always returns a result.
type RuleEngine struct {
	logger       *slog.Logger
	assumedPrice float64
}

// NewRuleEngine constructs the deterministic engine. assumedPrice is used
// when no price lookup is available for a slot.
func NewRuleEngine(logger *slog.Logger, assumedPrice float64) *RuleEngine {
	if logger == nil {
		logger = slog.Default()
	}
	if assumedPrice <= 0 {
		assumedPrice = 100
	}
	return &RuleEngine{logger: logger, assumedPrice: assumedPrice}
}

// RecommendAll generates one recommendation per anomaly in the summary,
// sorted by priority then confidence. Only anomalous records participate.
func (e *RuleEngine) RecommendAll(summary models.AnomalySummary, prices PriceLookup) models.RecommendationSummary {
	out := models.RecommendationSummary{GeneratedAt: time.Now().UTC()}

	sustained := sustainedRuns(summary.Predictions)
	for i, rec := range summary.Predictions {
		if !rec.IsAnomaly {
			continue
		}
		category := categorize(rec, sustained[i])
		out.Recommendations = append(out.Recommendations, e.Recommend(rec, category, prices))
	}

	sort.SliceStable(out.Recommendations, func(i, j int) bool {
		a, b := out.Recommendations[i], out.Recommendations[j]
		if a.Priority.Rank() != b.Priority.Rank() {
			return a.Priority.Rank() > b.Priority.Rank()
		}
		return a.Confidence > b.Confidence
	})
	out.Tally()
	return out
}

// Recommend builds the deterministic recommendation for one anomaly.
func (e *RuleEngine) Recommend(rec models.AnomalyRecord, category models.AnomalyCategory, prices PriceLookup) models.Recommendation {
	price := e.assumedPrice
	if prices != nil {
		if p := prices(rec.Timestamp); p > 0 {
			price = p
		}
	}

	deviationMW := math.Abs(rec.DemandMW - rec.PredictedDemand)
	priority := priorityFor(rec.Severity)
	r := models.Recommendation{
		ID:            uuid.NewString(),
		Priority:      priority,
		Confidence:    rec.Confidence,
		Source:        models.SourceRuleBased,
		Category:      category,
		TimeSensitive: priority == models.PriorityHigh,
		CreatedAt:     time.Now().UTC(),
		Impact: models.Impact{
			Financial:        fmt.Sprintf("$%.0f", deviationMW*price),
			MagnitudeMW:      deviationMW,
			ReliabilityRisk:  reliabilityRisk(rec.DeviationPct),
			DurationEstimate: "1 hour interval",
		},
	}

	when := rec.Timestamp.Format("Jan 2 3:04 PM")
	switch category {
	case models.CategorySpikeHigh:
		r.Title = fmt.Sprintf("Demand spike expected at %s", when)
		r.Why = fmt.Sprintf("Forecast demand of %.0f MW is %.1f%% above the expected %.0f MW for this hour.",
			rec.DemandMW, math.Abs(rec.DeviationPct), rec.PredictedDemand)
		r.Impact.FinancialType = "Additional Cost"
		r.Actions = e.spikeActions(rec, price)
	case models.CategorySpikeLow:
		r.Title = fmt.Sprintf("Demand drop expected at %s", when)
		r.Why = fmt.Sprintf("Forecast demand of %.0f MW is %.1f%% below the expected %.0f MW for this hour.",
			rec.DemandMW, math.Abs(rec.DeviationPct), rec.PredictedDemand)
		r.Impact.FinancialType = "Potential Issue"
		r.Actions = e.dropActions(rec, price)
	case models.CategorySustainedDeviation:
		r.Title = fmt.Sprintf("Sustained abnormal demand starting %s", when)
		r.Why = fmt.Sprintf("Three or more consecutive hours deviate from expected levels; at %s the forecast is %.0f MW against an expected %.0f MW.",
			when, rec.DemandMW, rec.PredictedDemand)
		r.Impact.FinancialType = "Additional Cost"
		r.Impact.DurationEstimate = "3+ hours"
		r.Actions = e.sustainedActions(rec)
	case models.CategoryDataGap:
		r.Title = fmt.Sprintf("Missing demand data at %s", when)
		r.Why = "The forecast reports zero demand, which indicates a feed outage or telemetry gap rather than real load."
		r.Impact.FinancialType = "Data Quality"
		r.Impact.ReliabilityRisk = "Unknown"
		r.Actions = e.dataGapActions()
	}

	if rec.BaselineUnavailable {
		r.Why += " Baseline patterns were unavailable for this hour; the estimate relies on the model score alone."
	}
	return r
}

func (e *RuleEngine) spikeActions(rec models.AnomalyRecord, price float64) []models.Action {
	deviation := math.Abs(rec.DeviationPct)
	actions := []models.Action{
		{
			Icon:      "📢",
			Action:    "Alert Operations Team",
			Details:   fmt.Sprintf("Notify shift supervisor of the %.1f%% demand spike", deviation),
			Timeframe: "Immediate",
		},
	}
	if price > 120 {
		actions = append(actions, models.Action{
			Icon:      "📉",
			Action:    "Activate Demand Response",
			Details:   fmt.Sprintf("Reduce non-critical loads by %.0f%% to offset the spike", math.Min(15, deviation/2)),
			Timeframe: "Next 30 minutes",
		})
	}
	if price > 150 {
		actions = append(actions, models.Action{
			Icon:      "🔋",
			Action:    "Discharge Battery Storage",
			Details:   fmt.Sprintf("Deploy stored energy to avoid purchasing at $%.2f/MWh", price),
			Timeframe: "Immediate",
		})
	}
	if deviation > 15 {
		actions = append(actions, models.Action{
			Icon:      "🔍",
			Action:    "Investigate Root Cause",
			Details:   "Check SCADA for equipment issues or unexpected large load activation",
			Timeframe: "Within 1 hour",
		})
	}
	return actions
}

func (e *RuleEngine) dropActions(rec models.AnomalyRecord, price float64) []models.Action {
	deviation := math.Abs(rec.DeviationPct)
	actions := []models.Action{
		{
			Icon:      "🔍",
			Action:    "Verify Meter Data",
			Details:   "Confirm the drop is real and not a data quality issue",
			Timeframe: "Immediate",
		},
	}
	if price < 80 {
		actions = append(actions, models.Action{
			Icon:      "⚡",
			Action:    "Charge Battery Storage",
			Details:   fmt.Sprintf("Take advantage of low prices ($%.2f/MWh) and reduced load", price),
			Timeframe: "Next 2 hours",
		})
	}
	if deviation > 15 {
		actions = append(actions, models.Action{
			Icon:      "🔧",
			Action:    "Check for Outages",
			Details:   fmt.Sprintf("Investigate the %.1f%% demand drop, possible facility outage or equipment failure", deviation),
			Timeframe: "Within 30 minutes",
		})
	}
	actions = append(actions, models.Action{
		Icon:      "📞",
		Action:    "Contact Major Customers",
		Details:   "Verify large industrial customers are operational",
		Timeframe: "Within 1 hour",
	})
	return actions
}

func (e *RuleEngine) sustainedActions(rec models.AnomalyRecord) []models.Action {
	return []models.Action{
		{
			Icon:      "📢",
			Action:    "Escalate to Grid Operations",
			Details:   "Multi-hour deviation warrants supervisor review and generation planning",
			Timeframe: "Immediate",
		},
		{
			Icon:      "🔍",
			Action:    "Review Generation Schedule",
			Details:   "Adjust dispatch plan to cover the sustained deviation window",
			Timeframe: "Within 1 hour",
		},
		{
			Icon:      "📞",
			Action:    "Coordinate with Balancing Authority",
			Details:   "Confirm interchange schedules can absorb the sustained change",
			Timeframe: "Within 2 hours",
		},
	}
}

func (e *RuleEngine) dataGapActions() []models.Action {
	return []models.Action{
		{
			Icon:      "🔧",
			Action:    "Check Forecast Feed",
			Details:   "Confirm upstream forecast service is publishing and telemetry links are up",
			Timeframe: "Immediate",
		},
		{
			Icon:      "🔍",
			Action:    "Fall Back to Baseline",
			Details:   "Use historical baseline patterns for scheduling until the feed recovers",
			Timeframe: "Until resolved",
		},
	}
}

// sustainedRuns marks indices that belong to a run of three or more
// consecutive anomalous predictions.
func sustainedRuns(predictions []models.AnomalyRecord) []bool {
	marks := make([]bool, len(predictions))
	runStart := -1
	flush := func(end int) {
		if runStart >= 0 && end-runStart >= 3 {
			for i := runStart; i < end; i++ {
				marks[i] = true
			}
		}
		runStart = -1
	}
	for i, rec := range predictions {
		if rec.IsAnomaly {
			if runStart < 0 {
				runStart = i
			}
			continue
		}
		flush(i)
	}
	flush(len(predictions))
	return marks
}

func categorize(rec models.AnomalyRecord, sustained bool) models.AnomalyCategory {
	switch {
	case rec.DemandMW <= 0:
		return models.CategoryDataGap
	case sustained:
		return models.CategorySustainedDeviation
	case rec.DemandMW >= rec.PredictedDemand:
		return models.CategorySpikeHigh
	default:
		return models.CategorySpikeLow
	}
}

func priorityFor(severity models.Severity) models.Priority {
	switch severity {
	case models.SeverityCritical, models.SeverityHigh:
		return models.PriorityHigh
	case models.SeverityMedium:
		return models.PriorityMedium
	default:
		return models.PriorityLow
	}
}

func reliabilityRisk(deviationPct float64) string {
	switch {
	case math.Abs(deviationPct) > 20:
		return "High"
	case math.Abs(deviationPct) > 10:
		return "Medium"
	default:
		return "Low"
	}
}

package engine

import (
	"math"

	"github.com/gridsight/gridsight-engine/internal/baseline"
	"github.com/gridsight/gridsight-engine/internal/config"
	"github.com/gridsight/gridsight-engine/internal/models"
)

// Classifier turns raw model scores into operator-facing severity and
// confidence. It is the only writer of the IsAnomaly and Confidence fields,
// which keeps the two in agreement: a record is anomalous exactly when its
// confidence clears the configured threshold.
type Classifier struct {
	confidenceThreshold float64
	pctThresholds       []float64
	mwThresholds        []float64
	gate                config.GateConfig
}

// NewClassifier builds a classifier from validated scoring config. Absolute
// thresholds cover near-zero expected demand and derive from the percentage
// thresholds at the configured reference demand.
func NewClassifier(cfg config.ScoringConfig) *Classifier {
	mw := make([]float64, len(cfg.SeverityThresholds))
	for i, pct := range cfg.SeverityThresholds {
		mw[i] = pct / 100 * cfg.ReferenceDemandMW
	}
	return &Classifier{
		confidenceThreshold: cfg.ConfidenceThreshold,
		pctThresholds:       cfg.SeverityThresholds,
		mwThresholds:        mw,
		gate:                cfg.SignificanceGate,
	}
}

// Classify fills the scoring fields of a record. rawScore and flagged come
// from the period model; expected is the baseline slot, with ok=false when
// the baseline store had no coverage.
func (c *Classifier) Classify(rec *models.AnomalyRecord, rawScore float64, flagged bool, expected baseline.Slot, ok bool) {
	rec.RawScore = rawScore
	confidence := clamp(math.Abs(rawScore)*100, 0, 100)

	var deviationMW, deviationPct float64
	nearZeroExpected := false
	if ok {
		rec.PredictedDemand = expected.Mean
		deviationMW = rec.DemandMW - expected.Mean
		if math.Abs(expected.Mean) > 1 {
			deviationPct = deviationMW / expected.Mean * 100
		} else {
			nearZeroExpected = true
		}
		rec.DeviationPct = deviationPct
	} else {
		rec.BaselineUnavailable = true
	}

	if flagged && ok && c.gate.Enabled {
		significant := math.Abs(deviationPct) >= c.gate.MinDeviationPct &&
			math.Abs(deviationMW) >= c.gate.MinDeviationMW
		if nearZeroExpected {
			significant = math.Abs(deviationMW) >= c.gate.MinDeviationMW
		}
		if !significant {
			flagged = false
			confidence = 0
		}
	}

	rec.IsAnomaly = flagged && confidence >= c.confidenceThreshold
	if !rec.IsAnomaly && confidence >= c.confidenceThreshold {
		// Model flag and confidence disagree only on demoted points;
		// zero the confidence so the two fields stay consistent.
		confidence = 0
	}
	rec.Confidence = confidence

	if !rec.IsAnomaly {
		rec.Severity = models.SeverityNormal
		return
	}
	switch {
	case !ok:
		rec.Severity = c.severityFromConfidence(confidence)
	case nearZeroExpected:
		rec.Severity = c.severityFromScale(math.Abs(deviationMW), c.mwThresholds)
	default:
		rec.Severity = c.severityFromScale(math.Abs(deviationPct), c.pctThresholds)
	}
}

// severityFromScale maps a deviation magnitude onto the ordered thresholds.
// Larger deviation never yields a lower severity.
func (c *Classifier) severityFromScale(dev float64, thresholds []float64) models.Severity {
	switch {
	case dev >= thresholds[3]:
		return models.SeverityCritical
	case dev >= thresholds[2]:
		return models.SeverityHigh
	case dev >= thresholds[1]:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}

// severityFromConfidence is the degraded path when no baseline exists.
func (c *Classifier) severityFromConfidence(confidence float64) models.Severity {
	switch {
	case confidence >= 90:
		return models.SeverityCritical
	case confidence >= 75:
		return models.SeverityHigh
	case confidence >= 60:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels successful operations.
	OutcomeSuccess = "success"
	// OutcomeError labels failed operations.
	OutcomeError = "error"
	// OutcomeFallback labels AI calls that degraded to the rule engine.
	OutcomeFallback = "fallback"
)

var (
	analysesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gridsight",
			Name:      "analyses_total",
			Help:      "Total number of forecast analyses, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	analysisDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "gridsight",
			Name:      "analysis_seconds",
			Help:      "Forecast analysis latency in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5, 8, 10},
		},
	)

	anomaliesDetected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "gridsight",
			Name:      "anomalies_detected_total",
			Help:      "Total anomalous forecast points detected.",
		},
	)

	pointsSkipped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "gridsight",
			Name:      "points_skipped_total",
			Help:      "Forecast points that could not be scored.",
		},
	)

	aiCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gridsight",
			Name:      "ai_calls_total",
			Help:      "AI recommendation requests, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	cacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gridsight",
			Name:      "cache_lookups_total",
			Help:      "Recommendation cache lookups, partitioned by result.",
		},
		[]string{"result"},
	)
)

// Register attaches gridsight collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		analysesTotal,
		analysisDurationSeconds,
		anomaliesDetected,
		pointsSkipped,
		aiCallsTotal,
		cacheLookupsTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveAnalysis records an analysis duration and its outcome.
func ObserveAnalysis(duration time.Duration, outcome string, anomalies, skipped int) {
	label := outcome
	if label != OutcomeError {
		label = OutcomeSuccess
	}
	analysesTotal.WithLabelValues(label).Inc()
	if duration < 0 {
		duration = 0
	}
	analysisDurationSeconds.Observe(duration.Seconds())
	if anomalies > 0 {
		anomaliesDetected.Add(float64(anomalies))
	}
	if skipped > 0 {
		pointsSkipped.Add(float64(skipped))
	}
}

// ObserveAICall records one AI recommendation request outcome.
func ObserveAICall(outcome string) {
	aiCallsTotal.WithLabelValues(outcome).Inc()
}

// ObserveCacheLookup records a recommendation cache hit or miss.
func ObserveCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookupsTotal.WithLabelValues(result).Inc()
}

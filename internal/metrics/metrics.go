// Package metrics exposes the engine's Prometheus instrumentation.
// Metrics are registered globally via promauto; tests measure
// increments rather than absolute values.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	reconciliationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reconciliations_total",
		Help: "Reconciliation runs by gateway and final status.",
	}, []string{"gateway", "status"})

	pollAttempts = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "reconciliation_poll_attempts",
		Help:    "Lookup attempts used per reconciliation run.",
		Buckets: prometheus.LinearBuckets(0, 1, 12),
	})

	runDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "reconciliation_duration_seconds",
		Help:    "Wall-clock duration of reconciliation runs.",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 8),
	})
)

// ObserveRun records one terminal reconciliation run.
func ObserveRun(gateway, status string, attempts int, duration time.Duration) {
	reconciliationsTotal.WithLabelValues(gateway, status).Inc()
	pollAttempts.Observe(float64(attempts))
	runDurationSeconds.Observe(duration.Seconds())
}

// GetReconciliationsTotal returns the counter for a gateway/status
// pair, for tests.
func GetReconciliationsTotal(gateway, status string) prometheus.Counter {
	return reconciliationsTotal.WithLabelValues(gateway, status)
}

// GetPollAttempts returns the attempts histogram, for tests.
func GetPollAttempts() prometheus.Histogram {
	return pollAttempts
}

// GetRunDurationSeconds returns the duration histogram, for tests.
func GetRunDurationSeconds() prometheus.Histogram {
	return runDurationSeconds
}

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for policy reconciliation.
// All methods are safe to call on a nil *Metrics.
type Metrics struct {
	Outcomes         *prometheus.CounterVec
	Attempts         prometheus.Histogram
	Conflicts        prometheus.Counter
	SkippedWrites    prometheus.Counter
	Duration         *prometheus.HistogramVec
	CallbackFailures prometheus.Counter
}

// New registers the reconciliation metrics with the default registry.
func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer registers the metrics with reg; tests pass a fresh registry.
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Outcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "catalogpolicy_reconcile_outcomes_total",
			Help: "Terminal reconciliation outcomes by operation and status",
		}, []string{"operation", "status"}),
		Attempts: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "catalogpolicy_reconcile_attempts",
			Help:    "Fetch/merge/write cycles used per reconciliation",
			Buckets: []float64{1, 2, 3, 4, 5, 8, 13},
		}),
		Conflicts: factory.NewCounter(prometheus.CounterOpts{
			Name: "catalogpolicy_reconcile_conflicts_total",
			Help: "Conditional writes rejected because the document changed",
		}),
		SkippedWrites: factory.NewCounter(prometheus.CounterOpts{
			Name: "catalogpolicy_reconcile_skipped_writes_total",
			Help: "Reconciliations that found the document already in the desired state",
		}),
		Duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "catalogpolicy_reconcile_duration_seconds",
			Help:    "Duration of Reconcile calls",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"operation"}),
		CallbackFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "catalogpolicy_callback_failures_total",
			Help: "Outcome callbacks that could not be delivered",
		}),
	}
}

// ObserveOutcome records a terminal outcome.
// Call with time.Now() captured at the start of the reconciliation.
func (m *Metrics) ObserveOutcome(operation, status string, attempts int, start time.Time) {
	if m == nil {
		return
	}
	m.Outcomes.WithLabelValues(operation, status).Inc()
	m.Duration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	if attempts > 0 {
		m.Attempts.Observe(float64(attempts))
	}
}

func (m *Metrics) IncrementConflicts() {
	if m == nil {
		return
	}
	m.Conflicts.Inc()
}

func (m *Metrics) IncrementSkippedWrites() {
	if m == nil {
		return
	}
	m.SkippedWrites.Inc()
}

func (m *Metrics) IncrementCallbackFailures() {
	if m == nil {
		return
	}
	m.CallbackFailures.Inc()
}

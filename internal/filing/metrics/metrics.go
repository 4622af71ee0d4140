package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the filing lifecycle.
type Metrics struct {
	// Applied transitions by source state, target state and trigger
	Transitions *prometheus.CounterVec

	// Transitions rejected by the state machine, by source and target state
	TransitionsRejected *prometheus.CounterVec

	// Updates lost to a concurrent writer
	VersionConflicts prometheus.Counter
}

// New creates a new Metrics instance with all filing metrics registered.
func New() *Metrics {
	return &Metrics{
		Transitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "taxdesk_filing_transitions_total",
			Help: "Total lifecycle transitions applied by from state, to state and trigger",
		}, []string{"from", "to", "trigger"}),

		TransitionsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "taxdesk_filing_transitions_rejected_total",
			Help: "Total lifecycle transitions rejected as invalid by from and to state",
		}, []string{"from", "to"}),

		VersionConflicts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "taxdesk_filing_version_conflicts_total",
			Help: "Total filing updates rejected due to a stale version",
		}),
	}
}

// IncrementTransition records an applied lifecycle transition.
func (m *Metrics) IncrementTransition(from, to, trigger string) {
	if m != nil {
		m.Transitions.WithLabelValues(from, to, trigger).Inc()
	}
}

// IncrementRejected records a transition the state machine refused.
func (m *Metrics) IncrementRejected(from, to string) {
	if m != nil {
		m.TransitionsRejected.WithLabelValues(from, to).Inc()
	}
}

// IncrementVersionConflict records an optimistic concurrency failure.
func (m *Metrics) IncrementVersionConflict() {
	if m != nil {
		m.VersionConflicts.Inc()
	}
}

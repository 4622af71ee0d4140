package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for gateway submissions.
type Metrics struct {
	// Submission outcomes by result: accepted, rejected, exhausted, deduplicated
	SubmissionOutcome *prometheus.CounterVec

	// Retried dispatch attempts
	DispatchRetries prometheus.Counter

	// Gateway call latency by operation
	GatewayLatency *prometheus.HistogramVec

	// Time from dispatch acceptance to acknowledgment, in seconds
	AckLatency prometheus.Histogram

	// Submissions that never produced an acknowledgment inside the wait window
	AckTimeouts prometheus.Counter
}

// New creates a new Metrics instance with all submission metrics registered.
func New() *Metrics {
	return &Metrics{
		SubmissionOutcome: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "taxdesk_eri_submission_outcomes_total",
			Help: "Total gateway submission outcomes by result",
		}, []string{"outcome"}),

		DispatchRetries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "taxdesk_eri_dispatch_retries_total",
			Help: "Total retried gateway dispatch attempts",
		}),

		GatewayLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "taxdesk_eri_gateway_duration_seconds",
			Help:    "Duration of gateway calls by operation",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"operation"}), // operation: "file_return", "check_status"

		AckLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "taxdesk_eri_ack_duration_seconds",
			Help:    "Time between gateway acceptance and acknowledgment",
			Buckets: []float64{1, 5, 30, 60, 300, 900, 3600, 14400, 86400},
		}),

		AckTimeouts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "taxdesk_eri_ack_timeouts_total",
			Help: "Total submissions abandoned after the acknowledgment wait window",
		}),
	}
}

// IncrementOutcome records a submission outcome.
func (m *Metrics) IncrementOutcome(outcome string) {
	if m != nil {
		m.SubmissionOutcome.WithLabelValues(outcome).Inc()
	}
}

// IncrementRetry records a retried dispatch attempt.
func (m *Metrics) IncrementRetry() {
	if m != nil {
		m.DispatchRetries.Inc()
	}
}

// ObserveGatewayLatency records the duration of a gateway call.
func (m *Metrics) ObserveGatewayLatency(operation string, d time.Duration) {
	if m != nil {
		m.GatewayLatency.WithLabelValues(operation).Observe(d.Seconds())
	}
}

// ObserveAckLatency records how long an acknowledgment took to arrive.
func (m *Metrics) ObserveAckLatency(d time.Duration) {
	if m != nil {
		m.AckLatency.Observe(d.Seconds())
	}
}

// IncrementAckTimeout records an acknowledgment wait that expired.
func (m *Metrics) IncrementAckTimeout() {
	if m != nil {
		m.AckTimeouts.Inc()
	}
}

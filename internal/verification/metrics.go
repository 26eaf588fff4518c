package verification

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains attempt engine metrics.
type Metrics struct {
	OutcomesTotal       *prometheus.CounterVec
	RetriesTotal        prometheus.Counter
	ConfirmationLatency prometheus.Histogram
}

// NewMetrics registers the attempt metrics with the default registry.
func NewMetrics() *Metrics {
	return &Metrics{
		OutcomesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gatekeeper_attempt_outcomes_total",
			Help: "Terminal attempt states by outcome and offline mode",
		}, []string{"state", "offline"}),
		RetriesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gatekeeper_attempt_retries_total",
			Help: "User-triggered retries",
		}),
		ConfirmationLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "gatekeeper_confirmation_latency_seconds",
			Help:    "Round-trip latency of the confirmation call",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
		}),
	}
}

func (m *Metrics) RecordOutcome(state State, offline bool) {
	m.OutcomesTotal.WithLabelValues(string(state), strconv.FormatBool(offline)).Inc()
}

func (m *Metrics) RecordRetry() {
	m.RetriesTotal.Inc()
}

func (m *Metrics) ObserveConfirmation(d time.Duration) {
	m.ConfirmationLatency.Observe(d.Seconds())
}

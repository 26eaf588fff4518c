package resolver

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains provider sweep metrics shared by every resolver instance.
type Metrics struct {
	ProviderAttemptsTotal *prometheus.CounterVec   // attempts by resolver, provider and outcome
	ProviderLatency       *prometheus.HistogramVec // attempt latency by resolver and provider
	ExhaustedTotal        *prometheus.CounterVec   // sweeps that fell back, by resolver
}

// NewMetrics registers the resolver metrics with the default registry.
// Call once per process.
func NewMetrics() *Metrics {
	return &Metrics{
		ProviderAttemptsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gatekeeper_provider_attempts_total",
			Help: "Total provider attempts by resolver, provider and outcome",
		}, []string{"resolver", "provider", "outcome"}),

		ProviderLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gatekeeper_provider_latency_seconds",
			Help:    "Latency of provider attempts in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}, []string{"resolver", "provider"}),

		ExhaustedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gatekeeper_provider_exhausted_total",
			Help: "Total sweeps in which every provider failed",
		}, []string{"resolver"}),
	}
}

func (m *Metrics) RecordAttempt(resolverName, providerID, outcome string, d time.Duration) {
	m.ProviderAttemptsTotal.WithLabelValues(resolverName, providerID, outcome).Inc()
	m.ProviderLatency.WithLabelValues(resolverName, providerID).Observe(d.Seconds())
}

func (m *Metrics) RecordExhausted(resolverName string) {
	m.ExhaustedTotal.WithLabelValues(resolverName).Inc()
}

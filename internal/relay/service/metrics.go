package service

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains relay decision metrics. A nil *Metrics records nothing.
type Metrics struct {
	VerificationsTotal *prometheus.CounterVec   // decisions by outcome and reason
	VerifyDuration     prometheus.Histogram     // end-to-end verify latency
	ChallengeScore     prometheus.Histogram     // scores of tokens the provider accepted
	DownstreamLatency  *prometheus.HistogramVec // authority forward latency by outcome
}

// NewMetrics registers the relay metrics with the default registry.
func NewMetrics() *Metrics {
	return &Metrics{
		VerificationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gatekeeper_relay_verifications_total",
			Help: "Verification decisions by outcome and failure reason",
		}, []string{"outcome", "reason"}),
		VerifyDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "gatekeeper_relay_verify_duration_seconds",
			Help:    "Duration of verify requests",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		ChallengeScore: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "gatekeeper_relay_challenge_score",
			Help:    "Challenge scores returned by the provider",
			Buckets: prometheus.LinearBuckets(0.1, 0.1, 10),
		}),
		DownstreamLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gatekeeper_relay_downstream_latency_seconds",
			Help:    "Latency of authority forward calls",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"outcome"}),
	}
}

func (m *Metrics) RecordVerification(reason string, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if reason != "" {
		outcome = "failure"
	}
	m.VerificationsTotal.WithLabelValues(outcome, reason).Inc()
	m.VerifyDuration.Observe(d.Seconds())
}

func (m *Metrics) ObserveScore(score float64) {
	if m == nil {
		return
	}
	m.ChallengeScore.Observe(score)
}

func (m *Metrics) ObserveDownstream(reason string, d time.Duration) {
	if m == nil {
		return
	}
	outcome := reason
	if outcome == "" {
		outcome = "accepted"
	}
	m.DownstreamLatency.WithLabelValues(outcome).Observe(d.Seconds())
}

// Package metrics holds process-level Prometheus metrics and the scrape handler.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds server-wide gauges. Per-component metrics live with their
// packages (resolver, relay service, verification).
type Metrics struct {
	BuildInfo      *prometheus.GaugeVec // constant 1, labelled with version and environment
	ProvidersTotal *prometheus.GaugeVec // configured providers per resolver
	RelayReady     *prometheus.GaugeVec // 1 when a relay setting is configured
}

// New creates and registers the server metrics.
func New() *Metrics {
	return &Metrics{
		BuildInfo: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gatekeeper_build_info",
			Help: "Build information",
		}, []string{"version", "environment"}),
		ProvidersTotal: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gatekeeper_providers_configured",
			Help: "Number of configured providers per resolver",
		}, []string{"resolver"}),
		RelayReady: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gatekeeper_relay_setting_configured",
			Help: "Whether each relay setting is configured (1) or missing (0)",
		}, []string{"setting"}),
	}
}

func (m *Metrics) SetBuildInfo(version, environment string) {
	m.BuildInfo.WithLabelValues(version, environment).Set(1)
}

func (m *Metrics) SetProviders(resolverName string, n int) {
	m.ProvidersTotal.WithLabelValues(resolverName).Set(float64(n))
}

// SetConfigured records which relay settings are present without exposing their values.
func (m *Metrics) SetConfigured(settings map[string]bool) {
	for name, ok := range settings {
		v := 0.0
		if ok {
			v = 1
		}
		m.RelayReady.WithLabelValues(name).Set(v)
	}
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

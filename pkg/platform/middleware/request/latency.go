package request

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	latency *prometheus.HistogramVec
}

func NewMetrics() *Metrics {
	return &Metrics{
		latency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gatekeeper_endpoint_latency_seconds",
			Help:    "Latency of relay endpoints in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"endpoint", "method", "status"}),
	}
}

// LatencyMiddleware observes per-route latency labelled by the chi route
// pattern, so unmatched paths collapse into "unmatched". A nil m disables it.
func LatencyMiddleware(m *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if m == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			m.latency.WithLabelValues(routePattern(r), r.Method, strconv.Itoa(status)).
				Observe(time.Since(start).Seconds())
		})
	}
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

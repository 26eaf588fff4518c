// Package health provides liveness, readiness and status endpoints.
package health

import (
	"context"
	"maps"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"gatekeeper/pkg/platform/httputil"
)

// Version is set at build time via ldflags.
var Version = "dev"

// DefaultCheckTimeout bounds the whole readiness check.
const DefaultCheckTimeout = 2 * time.Second

// CheckFunc reports a dependency's health; nil means healthy.
type CheckFunc func(ctx context.Context) error

// Handler provides health check endpoints.
type Handler struct {
	startTime    time.Time
	environment  string
	checkTimeout time.Duration

	mu     sync.RWMutex
	checks map[string]CheckFunc
}

func New(environment string) *Handler {
	return &Handler{
		startTime:    time.Now(),
		environment:  environment,
		checkTimeout: DefaultCheckTimeout,
		checks:       make(map[string]CheckFunc),
	}
}

// RegisterCheck adds a named readiness check (redis, kafka).
func (h *Handler) RegisterCheck(name string, check CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check
}

// Register mounts health check routes on the given router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/health", h.HandleStatus)
	r.Get("/health/live", h.HandleLiveness)
	r.Get("/health/ready", h.HandleReadiness)
}

type LivenessResponse struct {
	Status string `json:"status"`
}

// HandleLiveness always answers 200 while the process serves requests.
func (h *Handler) HandleLiveness(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, LivenessResponse{Status: "alive"})
}

type ReadinessResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// HandleReadiness runs every check concurrently and answers 503 if any fails.
func (h *Handler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	checks := maps.Clone(h.checks)
	h.mu.RUnlock()

	ctx, cancel := context.WithTimeout(r.Context(), h.checkTimeout)
	defer cancel()

	var (
		mu      sync.Mutex
		results = make(map[string]string, len(checks))
		healthy = true
		g       errgroup.Group
	)
	for name, check := range checks {
		g.Go(func() error {
			status := "up"
			if err := check(ctx); err != nil {
				status = "down: " + err.Error()
			}
			mu.Lock()
			defer mu.Unlock()
			results[name] = status
			if status != "up" {
				healthy = false
			}
			return nil
		})
	}
	_ = g.Wait()

	resp := ReadinessResponse{Status: "ready", Checks: results}
	if !healthy {
		resp.Status = "not_ready"
		httputil.WriteJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

type StatusResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	Environment   string `json:"environment"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Timestamp     string `json:"timestamp"`
}

func (h *Handler) HandleStatus(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, StatusResponse{
		Status:        "healthy",
		Version:       Version,
		Environment:   h.environment,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
	})
}

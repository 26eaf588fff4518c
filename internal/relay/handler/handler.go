// Package handler exposes the relay over HTTP.
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"gatekeeper/internal/relay/models"
	"gatekeeper/internal/relay/service"
	"gatekeeper/pkg/platform/httputil"
	"gatekeeper/pkg/requestcontext"
)

// Service is the relay decision logic.
type Service interface {
	Config(ctx context.Context) (*models.ConfigResponse, error)
	Verify(ctx context.Context, req *models.VerifyRequest, meta service.Meta) (*models.VerifyResponse, error)
}

// IPResolver reads the client address from forwarding headers.
type IPResolver interface {
	ClientIP(r *http.Request) (ip string, source string)
}

// Handler serves /api/config, /api/verify and /api/ip.
type Handler struct {
	service Service
	ips     IPResolver
	logger  *slog.Logger
}

func New(svc Service, ips IPResolver, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{service: svc, ips: ips, logger: logger}
}

// Register mounts the relay routes.
func (h *Handler) Register(r chi.Router) {
	r.Get("/api/config", h.HandleConfig)
	r.Post("/api/verify", h.HandleVerify)
	r.Get("/api/ip", h.HandleIP)
}

func (h *Handler) HandleConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.service.Config(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "config requested but site key missing",
			"request_id", requestcontext.RequestID(r.Context()),
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, cfg)
}

// HandleVerify decodes only; the service authorizes before validating so an
// unauthenticated caller learns nothing about the body.
func (h *Handler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req, ok := httputil.DecodeJSON[models.VerifyRequest](w, r, h.logger)
	if !ok {
		return
	}

	ip, source := h.clientIP(r)
	resp, err := h.service.Verify(ctx, req, service.Meta{
		IP:            ip,
		IPSource:      source,
		UserAgent:     r.UserAgent(),
		Authorization: r.Header.Get("Authorization"),
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// HandleIP echoes the caller's address and where it came from. Forwarding
// headers (cf-connecting-ip, then x-forwarded-for, then x-real-ip) count only
// when the peer is listed in TRUSTED_PROXIES; otherwise the socket peer is
// reported.
func (h *Handler) HandleIP(w http.ResponseWriter, r *http.Request) {
	ip, source := h.clientIP(r)
	httputil.WriteJSON(w, http.StatusOK, models.IPResponse{IP: ip, Source: source})
}

// clientIP prefers what the metadata middleware stored on the context.
func (h *Handler) clientIP(r *http.Request) (string, string) {
	if ip := requestcontext.ClientIP(r.Context()); ip != "" {
		return ip, requestcontext.ClientIPSource(r.Context())
	}
	if h.ips != nil {
		return h.ips.ClientIP(r)
	}
	return "unknown", "unknown"
}

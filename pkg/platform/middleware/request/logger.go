package request

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"gatekeeper/internal/platform/privacy"
	"gatekeeper/pkg/requestcontext"
)

// quietPaths are polled constantly; they are logged only on server errors.
var quietPaths = map[string]bool{
	"/health":       true,
	"/health/live":  true,
	"/health/ready": true,
	"/metrics":      true,
}

// Logger writes one access line per request. Client errors log at warn,
// server errors at error. The client address is truncated to its network
// prefix.
func Logger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			if quietPaths[r.URL.Path] && status < http.StatusInternalServerError {
				return
			}

			level := slog.LevelInfo
			switch {
			case status >= http.StatusInternalServerError:
				level = slog.LevelError
			case status >= http.StatusBadRequest:
				level = slog.LevelWarn
			}

			ctx := r.Context()
			logger.Log(ctx, level, "http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", requestcontext.RequestID(ctx),
				"client_prefix", privacy.AnonymizeIP(requestcontext.ClientIP(ctx)),
				"ip_source", requestcontext.ClientIPSource(ctx),
			)
		})
	}
}

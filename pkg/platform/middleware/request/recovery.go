package request

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"gatekeeper/pkg/platform/httputil"
	"gatekeeper/pkg/requestcontext"
)

// Recovery turns a handler panic into an opaque 500 and logs the stack.
func Recovery(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				ctx := r.Context()
				logger.ErrorContext(ctx, "panic recovered",
					"error", rec,
					"stack", string(debug.Stack()),
					"method", r.Method,
					"path", r.URL.Path,
					"request_id", requestcontext.RequestID(ctx),
				)
				httputil.WriteJSON(w, http.StatusInternalServerError, httputil.ErrorResponse{Error: "internal_error"})
			}()
			next.ServeHTTP(w, r)
		})
	}
}

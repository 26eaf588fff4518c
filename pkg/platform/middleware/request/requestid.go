package request

import (
	"net/http"
	"regexp"

	"github.com/google/uuid"

	"gatekeeper/pkg/requestcontext"
)

const (
	HeaderRequestID = "X-Request-ID"
	// MaxRequestIDLength bounds caller-supplied ids before they reach logs.
	MaxRequestIDLength = 128
)

var requestIDPattern = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

// RequestID propagates a safe caller-supplied X-Request-ID or mints a UUID,
// echoing it on the response.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderRequestID)
		if !isValidRequestID(id) {
			id = uuid.NewString()
		}
		w.Header().Set(HeaderRequestID, id)
		next.ServeHTTP(w, r.WithContext(requestcontext.WithRequestID(r.Context(), id)))
	})
}

func isValidRequestID(id string) bool {
	return id != "" && len(id) <= MaxRequestIDLength && requestIDPattern.MatchString(id)
}

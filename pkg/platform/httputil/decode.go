package httputil

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	dErrors "gatekeeper/pkg/domain-errors"
	"gatekeeper/pkg/requestcontext"
	"gatekeeper/pkg/validation"
)

// DecodeJSON decodes the request body into a new T. On failure it writes a 400
// and returns false; the handler should return immediately.
func DecodeJSON[T any](w http.ResponseWriter, r *http.Request, logger *slog.Logger) (*T, bool) {
	var req T
	err := json.NewDecoder(r.Body).Decode(&req)
	if err == nil {
		return &req, true
	}

	msg := "invalid request body"
	var tooLarge *http.MaxBytesError
	switch {
	case errors.Is(err, io.EOF):
		msg = "request body is empty"
	case errors.As(err, &tooLarge):
		msg = "request body too large"
	}
	logger.WarnContext(r.Context(), "failed to decode request body",
		"error", err,
		"request_id", requestcontext.RequestID(r.Context()),
	)
	WriteError(w, dErrors.New(dErrors.CodeBadRequest, msg))
	return nil, false
}

type Validatable interface {
	Validate() error
}

type Normalizable interface {
	Normalize()
}

// PrepareRequest normalizes req, checks its struct tags, then runs its
// Validate method when it has one.
func PrepareRequest(req any) error {
	if n, ok := req.(Normalizable); ok {
		n.Normalize()
	}
	if err := validation.Validate(req); err != nil {
		return err
	}
	if v, ok := req.(Validatable); ok {
		if err := v.Validate(); err != nil {
			var de *dErrors.Error
			if errors.As(err, &de) {
				return err
			}
			return dErrors.Wrap(err, dErrors.CodeValidation, err.Error())
		}
	}
	return nil
}

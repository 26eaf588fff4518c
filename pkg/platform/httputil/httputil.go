package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	dErrors "gatekeeper/pkg/domain-errors"
)

// ErrorResponse is the failure body of every relay endpoint. Error holds the
// reason when one is set and the code's label otherwise.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

type errorMapping struct {
	status int
	label  string
}

// A token the challenge provider refused is a caller fault, hence 400.
var errorMappings = map[dErrors.Code]errorMapping{
	dErrors.CodeBadRequest:            {http.StatusBadRequest, "bad_request"},
	dErrors.CodeInvalidInput:          {http.StatusBadRequest, "bad_request"},
	dErrors.CodeValidation:            {http.StatusBadRequest, "validation_error"},
	dErrors.CodeUpstreamRejected:      {http.StatusBadRequest, "verification_failed"},
	dErrors.CodeUnauthorized:          {http.StatusUnauthorized, "unauthorized"},
	dErrors.CodeTimeout:               {http.StatusGatewayTimeout, "timeout"},
	dErrors.CodeConfiguration:         {http.StatusInternalServerError, "configuration_error"},
	dErrors.CodeDownstreamUnavailable: {http.StatusInternalServerError, "downstream_unavailable"},
}

var internalMapping = errorMapping{http.StatusInternalServerError, "internal_error"}

func mappingFor(code dErrors.Code) errorMapping {
	if m, ok := errorMappings[code]; ok {
		return m
	}
	return internalMapping
}

func WriteJSON(w http.ResponseWriter, status int, response any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(response)
}

// WriteError writes err as an ErrorResponse. Errors that are not domain
// errors become opaque 500s.
func WriteError(w http.ResponseWriter, err error) {
	var de *dErrors.Error
	if !errors.As(err, &de) {
		WriteJSON(w, internalMapping.status, ErrorResponse{
			Error: internalMapping.label,
			Code:  string(dErrors.CodeInternal),
		})
		return
	}
	m := mappingFor(de.Code)
	resp := ErrorResponse{Error: m.label, Code: string(de.Code), Details: de.Message}
	if de.Reason != "" {
		resp.Error = de.Reason
	}
	WriteJSON(w, m.status, resp)
}

// Label returns the error label a domain code is served with when no reason
// is set.
func Label(code dErrors.Code) string {
	return mappingFor(code).label
}

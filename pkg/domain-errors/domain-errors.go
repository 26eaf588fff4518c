package domainerrors

import "errors"

// Code represents a domain error category independent of transport layer.
// These codes describe what went wrong in verification terms, not HTTP terms.
type Code string

const (
	CodeBadRequest   Code = "bad_request"
	CodeInvalidInput Code = "invalid_input"
	CodeValidation   Code = "validation_failed"
	CodeUnauthorized Code = "unauthorized"
	CodeInternal     Code = "internal_error"
	CodeTimeout      Code = "timeout"

	// Verification taxonomy
	CodeConfiguration         Code = "configuration_error"    // Missing site key, secret or downstream URL
	CodeChallenge             Code = "challenge_error"        // Script load, execution or empty token
	CodeUpstreamRejected      Code = "upstream_rejected"      // Challenge provider refused the token or scored it too low
	CodeDownstreamUnavailable Code = "downstream_unavailable" // Authority service unreachable or refused the grant
	CodeNetwork               Code = "network_error"          // Client-side transport failure
)

// Error wraps domain or infrastructure failures with a stable code.
// It is transport-agnostic and can be used across service, client, and other layers.
// Reason carries an optional finer-grained cause within the code (e.g. "score_too_low").
type Error struct {
	Code    Code
	Reason  string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Reason != "" {
		return e.Reason
	}
	return string(e.Code)
}

// Unwrap implements error unwrapping for error chains.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is enables errors.Is() to match errors by code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New creates a new domain error with the given code and message.
func New(code Code, msg string) error {
	return &Error{Code: code, Message: msg}
}

// WithReason creates a domain error carrying a sub-cause.
func WithReason(code Code, reason, msg string) error {
	return &Error{Code: code, Reason: reason, Message: msg}
}

// Wrap creates a new domain error wrapping an existing error.
// If the wrapped error is already a domain error, the original code and reason are preserved.
func Wrap(err error, code Code, msg string) error {
	var existing *Error
	if errors.As(err, &existing) {
		return &Error{Code: existing.Code, Reason: existing.Reason, Message: msg, Err: err}
	}
	return &Error{Code: code, Message: msg, Err: err}
}

// HasCode checks if an error is a domain error with the given code.
func HasCode(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// ReasonOf returns the sub-cause of a domain error, or "" when none is set.
func ReasonOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ""
}

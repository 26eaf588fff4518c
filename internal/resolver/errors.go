package resolver

import (
	"errors"
	"fmt"
)

// ErrorCategory defines the normalized failure taxonomy for provider errors.
//
// Every failure, whatever the provider's protocol or response shape, is folded
// into one of these categories so the resolver can log and count failures
// uniformly before moving on to the next provider.
type ErrorCategory string

const (
	// ErrorTimeout indicates the provider took longer than the per-provider budget
	ErrorTimeout ErrorCategory = "timeout"

	// ErrorBadData indicates a non-conforming response: unexpected status, malformed
	// body, missing fields or an adapter panic
	ErrorBadData ErrorCategory = "bad_data"

	// ErrorAuthentication indicates the provider refused the request (401/403)
	ErrorAuthentication ErrorCategory = "authentication"

	// ErrorProviderOutage indicates a transport failure or a 5xx response
	ErrorProviderOutage ErrorCategory = "provider_outage"

	// ErrorRateLimited indicates a 429 response
	ErrorRateLimited ErrorCategory = "rate_limited"

	// ErrorCircuitOpen indicates the provider was skipped because its breaker is open
	ErrorCircuitOpen ErrorCategory = "circuit_open"

	// ErrorCanceled indicates the caller gave up before the provider was tried
	ErrorCanceled ErrorCategory = "canceled"

	// ErrorInternal indicates an unexpected internal error
	ErrorInternal ErrorCategory = "internal"
)

// ProviderError wraps a single provider failure with its category.
type ProviderError struct {
	Category   ErrorCategory
	ProviderID string
	Message    string
	Underlying error
}

// Error implements the error interface
func (e *ProviderError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("provider %s [%s]: %s: %v", e.ProviderID, e.Category, e.Message, e.Underlying)
	}
	return fmt.Sprintf("provider %s [%s]: %s", e.ProviderID, e.Category, e.Message)
}

// Unwrap supports error unwrapping
func (e *ProviderError) Unwrap() error {
	return e.Underlying
}

// NewProviderError creates a new normalized provider error.
func NewProviderError(category ErrorCategory, providerID, message string, underlying error) *ProviderError {
	return &ProviderError{
		Category:   category,
		ProviderID: providerID,
		Message:    message,
		Underlying: underlying,
	}
}

// GetCategory extracts the error category from an error
func GetCategory(err error) ErrorCategory {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Category
	}
	return ErrorInternal
}

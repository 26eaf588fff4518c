// Package models holds the relay wire types and the verification failure
// reasons shared by the relay, its client and the attempt engine.
package models

// Failure reasons carried in the "error" field of relay error responses.
const (
	ReasonConfiguration = "configuration_error"
	ReasonBadRequest    = "bad_request"
	ReasonValidation    = "validation_error"
	ReasonUnauthorized  = "unauthorized"

	ReasonInvalidToken  = "invalid_token"
	ReasonTokenExpired  = "token_expired"
	ReasonMissingToken  = "missing_token"
	ReasonUpstreamError = "upstream_error"
	ReasonScoreTooLow   = "score_too_low"

	ReasonDownstreamTimeout  = "downstream_timeout"
	ReasonDownstreamRefused  = "downstream_refused"
	ReasonDownstream5xx      = "downstream_5xx"
	ReasonDownstream4xx      = "downstream_4xx"
	ReasonDownstreamRejected = "downstream_rejected"

	ReasonNetwork  = "network_error"
	ReasonTimeout  = "timeout"
	ReasonInternal = "internal_error"
)

var messages = map[string]string{
	ReasonConfiguration: "Verification is not configured on this server. Please contact an administrator.",
	ReasonBadRequest:    "The verification request was incomplete. Please reopen the verification link.",
	ReasonValidation:    "The verification request was incomplete. Please reopen the verification link.",
	ReasonUnauthorized:  "This verification link is not authorized. Please request a new one.",

	ReasonInvalidToken:  "The security check could not be validated. Please try again.",
	ReasonTokenExpired:  "The security check expired before it was submitted. Please try again.",
	ReasonMissingToken:  "No security check response was received. Please try again.",
	ReasonUpstreamError: "The security check service returned an error. Please try again.",
	ReasonScoreTooLow:   "Verification failed: your activity looked automated (low score). Please try again.",

	ReasonDownstreamTimeout:  "The community server took too long to respond. Please try again shortly.",
	ReasonDownstreamRefused:  "The community server is offline right now. Please try again later.",
	ReasonDownstream5xx:      "The community server ran into an error. Please try again later.",
	ReasonDownstream4xx:      "The community server refused the verification request.",
	ReasonDownstreamRejected: "The community server could not grant access. Please contact a moderator.",

	ReasonNetwork:  "Network error: could not reach the verification server. Check your connection and try again.",
	ReasonTimeout:  "The verification server took too long to respond. Please try again.",
	ReasonInternal: "Something went wrong during verification. Please try again.",
}

// Message maps a failure reason to a user-facing message.
func Message(reason string) string {
	if m, ok := messages[reason]; ok {
		return m
	}
	return messages[ReasonInternal]
}

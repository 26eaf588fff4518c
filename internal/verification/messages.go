package verification

import (
	"context"
	"errors"

	"gatekeeper/internal/challenge"
	"gatekeeper/internal/relay/models"
	dErrors "gatekeeper/pkg/domain-errors"
)

var challengeMessages = map[error]string{
	challenge.ErrScriptLoad: "The security check could not be loaded. Check your connection or disable content blockers, then try again.",
	challenge.ErrNotReady:   "The security check did not start in time. Please try again.",
	challenge.ErrExecution:  "The security check failed to run. Please try again.",
	challenge.ErrEmptyToken: "The security check returned no response. Please try again.",
}

// ErrorMessage maps an attempt failure to the message shown to the user.
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	if cause := challenge.CauseOf(err); cause != nil {
		if msg, ok := challengeMessages[cause]; ok {
			return msg
		}
	}
	if reason := dErrors.ReasonOf(err); reason != "" {
		return models.Message(reason)
	}

	var de *dErrors.Error
	if errors.As(err, &de) {
		switch de.Code {
		case dErrors.CodeConfiguration:
			return models.Message(models.ReasonConfiguration)
		case dErrors.CodeNetwork:
			return models.Message(models.ReasonNetwork)
		case dErrors.CodeTimeout:
			return models.Message(models.ReasonTimeout)
		case dErrors.CodeUnauthorized:
			return models.Message(models.ReasonUnauthorized)
		case dErrors.CodeInvalidInput, dErrors.CodeBadRequest, dErrors.CodeValidation:
			return models.Message(models.ReasonBadRequest)
		case dErrors.CodeUpstreamRejected:
			return models.Message(models.ReasonInvalidToken)
		case dErrors.CodeDownstreamUnavailable:
			return models.Message(models.ReasonDownstream5xx)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return models.Message(models.ReasonTimeout)
	}
	return models.Message(models.ReasonInternal)
}

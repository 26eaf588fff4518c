package challenge

import (
	"errors"
	"fmt"
)

// Failure causes. Each is distinguishable with errors.Is on the error returned by Load.
var (
	ErrScriptLoad   = errors.New("challenge script failed to load")
	ErrNotReady     = errors.New("challenge library not ready")
	ErrExecution    = errors.New("challenge execution failed")
	ErrEmptyToken   = errors.New("challenge returned no token")
	ErrLeaseRevoked = errors.New("challenge handle owned by a newer attempt")
)

// ChallengeError is a challenge failure with its cause and the underlying fault.
type ChallengeError struct {
	Cause     error
	AttemptID string
	Err       error
}

func (e *ChallengeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%v: %v", e.Cause, e.Err)
	}
	return e.Cause.Error()
}

// Is matches the cause sentinel.
func (e *ChallengeError) Is(target error) bool {
	return e.Cause == target
}

func (e *ChallengeError) Unwrap() error {
	return e.Err
}

func newError(cause error, attemptID string, err error) *ChallengeError {
	return &ChallengeError{Cause: cause, AttemptID: attemptID, Err: err}
}

// CauseOf returns the cause sentinel of a challenge failure, or nil.
func CauseOf(err error) error {
	var ce *ChallengeError
	if errors.As(err, &ce) {
		return ce.Cause
	}
	return nil
}

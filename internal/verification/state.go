package verification

import (
	"errors"
	"fmt"
)

// State is the attempt's process state.
type State string

const (
	StateLoading    State = "loading"
	StateAnalyzing  State = "analyzing"
	StateValidating State = "validating"
	StateSuccess    State = "success"
	StateError      State = "error"
)

// Terminal reports whether the state ends an attempt.
func (s State) Terminal() bool {
	return s == StateSuccess || s == StateError
}

// Event drives a transition.
type Event string

const (
	EventAnalyze  Event = "analyze"  // display delay after the token elapsed
	EventValidate Event = "validate" // second display delay elapsed
	EventSucceed  Event = "succeed"  // result delay elapsed and the relay accepted
	EventFail     Event = "fail"     // a fault before the token, or a rejected result
	EventTick     Event = "tick"     // success countdown
	EventRetry    Event = "retry"    // user-triggered
)

// ErrInvalidTransition is returned for an event the current state does not accept.
var ErrInvalidTransition = errors.New("invalid state transition")

var transitions = map[State]map[Event]State{
	StateLoading: {
		EventAnalyze: StateAnalyzing,
		EventFail:    StateError,
	},
	StateAnalyzing: {
		EventValidate: StateValidating,
	},
	StateValidating: {
		EventSucceed: StateSuccess,
		EventFail:    StateError,
	},
	StateSuccess: {
		EventTick: StateSuccess,
	},
	StateError: {
		EventRetry: StateLoading,
	},
}

// Transition is the pure transition function. Once a token exists an attempt
// can only move loading -> analyzing -> validating -> success|error.
func Transition(from State, ev Event) (State, error) {
	next, ok := transitions[from][ev]
	if !ok {
		return from, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, ev, from)
	}
	return next, nil
}

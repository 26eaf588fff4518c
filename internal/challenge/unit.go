// Package challenge loads and invokes the third-party challenge library to
// obtain a single-use proof token.
package challenge

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"gatekeeper/pkg/platform/clock"
)

const (
	// DefaultSettleDelay absorbs library initialization the readiness signal does not cover.
	DefaultSettleDelay = 1000 * time.Millisecond
	// DefaultReadyTimeout bounds the wait for the readiness signal.
	DefaultReadyTimeout = 10 * time.Second
	// Action labels the token requested from the library.
	Action = "verify"
)

// Library is a loaded challenge library instance.
type Library interface {
	// Ready blocks until the library signals readiness.
	Ready(ctx context.Context) error
	// Execute requests a token for the labelled action.
	Execute(ctx context.Context, siteKey, action string) (string, error)
	// Close discards the instance and its injected script.
	Close() error
}

// Loader injects the challenge script and returns the library it registers.
type Loader interface {
	Load(ctx context.Context, siteKey string) (Library, error)
}

// Unit sequences load, readiness, settle delay and execution for one attempt
// at a time.
type Unit struct {
	loader       Loader
	handle       *Handle
	clock        clock.Clock
	settle       time.Duration
	readyTimeout time.Duration
	logger       *slog.Logger
}

// Option configures a Unit.
type Option func(*Unit)

func WithClock(c clock.Clock) Option {
	return func(u *Unit) { u.clock = c }
}

func WithSettleDelay(d time.Duration) Option {
	return func(u *Unit) { u.settle = d }
}

func WithReadyTimeout(d time.Duration) Option {
	return func(u *Unit) { u.readyTimeout = d }
}

func WithLogger(l *slog.Logger) Option {
	return func(u *Unit) { u.logger = l }
}

func WithHandle(h *Handle) Option {
	return func(u *Unit) { u.handle = h }
}

// NewUnit creates a challenge unit.
func NewUnit(loader Loader, opts ...Option) *Unit {
	u := &Unit{
		loader:       loader,
		handle:       NewHandle(),
		clock:        clock.Real(),
		settle:       DefaultSettleDelay,
		readyTimeout: DefaultReadyTimeout,
		logger:       slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Load obtains a token for attemptID. Any library left by a previous attempt is
// torn down first. The library stays attached until Teardown or the next Load.
func (u *Unit) Load(ctx context.Context, attemptID, siteKey string) (string, error) {
	lease := u.handle.Acquire(attemptID)
	token, err := u.load(ctx, lease, attemptID, siteKey)
	if err != nil {
		// a failed attempt leaves nothing attached for the next one
		lease.Release()
		return "", err
	}
	u.logger.DebugContext(ctx, "challenge token obtained", "attempt_id", attemptID)
	return token, nil
}

func (u *Unit) load(ctx context.Context, lease *Lease, attemptID, siteKey string) (string, error) {
	lib, err := u.loader.Load(ctx, siteKey)
	if err != nil {
		return "", newError(ErrScriptLoad, attemptID, err)
	}
	if err := lease.Attach(lib); err != nil {
		return "", newError(ErrScriptLoad, attemptID, err)
	}

	readyCtx, cancel := context.WithTimeout(ctx, u.readyTimeout)
	err = lib.Ready(readyCtx)
	cancel()
	if err != nil {
		return "", newError(ErrNotReady, attemptID, err)
	}

	if err := clock.Sleep(ctx, u.clock, u.settle); err != nil {
		return "", newError(ErrExecution, attemptID, err)
	}
	if !lease.Valid() {
		return "", newError(ErrExecution, attemptID, ErrLeaseRevoked)
	}

	token, err := lib.Execute(ctx, siteKey, Action)
	if err != nil {
		if errors.Is(err, ErrNotReady) {
			return "", newError(ErrNotReady, attemptID, err)
		}
		return "", newError(ErrExecution, attemptID, err)
	}
	if token == "" {
		return "", newError(ErrEmptyToken, attemptID, nil)
	}
	return token, nil
}

// Teardown discards the current library, whoever owns it.
func (u *Unit) Teardown() {
	u.handle.Teardown()
}

// Package resolver implements best-effort ordered provider fallback.
//
// A Resolver sweeps a list of independent external providers strictly in the
// listed order, one at a time, each bounded by its own timeout. The first usable
// result wins and the remaining providers are never called. When every provider
// fails the caller gets a fallback value, never an error: total exhaustion is an
// expected outcome for free public services of unknown availability.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gatekeeper/pkg/platform/circuit"
)

// DefaultTimeout bounds a single provider call.
const DefaultTimeout = 5 * time.Second

// Provider is one external data source.
type Provider[T any] interface {
	// ID returns a stable identifier used in logs and metrics (e.g. "ipapi.co").
	ID() string
	// Fetch performs one lookup. Implementations should honor ctx; the resolver
	// stops waiting at the deadline either way.
	Fetch(ctx context.Context) (T, error)
}

// Func adapts a function to the Provider interface.
type Func[T any] struct {
	Name string
	Fn   func(ctx context.Context) (T, error)
}

func (f Func[T]) ID() string                           { return f.Name }
func (f Func[T]) Fetch(ctx context.Context) (T, error) { return f.Fn(ctx) }

// Outcome records a single provider attempt.
type Outcome struct {
	ProviderID string
	Err        error
	Duration   time.Duration
}

// OK reports whether the attempt succeeded.
func (o Outcome) OK() bool { return o.Err == nil }

// Result is the outcome of a sweep.
type Result[T any] struct {
	Value      T
	ProviderID string // empty when the fallback was used
	Resolved   bool
	Attempts   []Outcome
}

// Config configures a Resolver.
type Config struct {
	Name    string        // label for logs and metrics, e.g. "geolocation"
	Timeout time.Duration // per-provider budget, DefaultTimeout when zero
	Logger  *slog.Logger
	Metrics *Metrics

	// BreakerThreshold enables a per-provider circuit breaker that opens after
	// this many consecutive failures. Zero disables breakers.
	BreakerThreshold int
	BreakerCooldown  time.Duration
}

// Resolver sweeps provider lists. It is safe for concurrent use.
type Resolver[T any] struct {
	name     string
	timeout  time.Duration
	logger   *slog.Logger
	metrics  *Metrics
	fallback func() T

	breakerThreshold int
	breakerCooldown  time.Duration
	mu               sync.Mutex
	breakers         map[string]*circuit.Breaker
}

// New creates a Resolver. fallback supplies the value returned on exhaustion;
// nil means the zero value of T.
func New[T any](cfg Config, fallback func() T) *Resolver[T] {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if fallback == nil {
		fallback = func() T {
			var zero T
			return zero
		}
	}
	return &Resolver[T]{
		name:             cfg.Name,
		timeout:          cfg.Timeout,
		logger:           cfg.Logger,
		metrics:          cfg.Metrics,
		fallback:         fallback,
		breakerThreshold: cfg.BreakerThreshold,
		breakerCooldown:  cfg.BreakerCooldown,
		breakers:         make(map[string]*circuit.Breaker),
	}
}

// Resolve runs a one-off sweep with the given per-provider timeout and fallback value.
func Resolve[T any](ctx context.Context, providers []Provider[T], timeout time.Duration, fallback T) Result[T] {
	return New(Config{Timeout: timeout}, func() T { return fallback }).Resolve(ctx, providers)
}

// Resolve tries providers in order and returns the first success, or the
// fallback value with Resolved=false when all of them fail.
func (r *Resolver[T]) Resolve(ctx context.Context, providers []Provider[T]) Result[T] {
	result := Result[T]{Attempts: make([]Outcome, 0, len(providers))}

	for _, p := range providers {
		if err := ctx.Err(); err != nil {
			result.Attempts = append(result.Attempts, Outcome{
				ProviderID: p.ID(),
				Err:        NewProviderError(ErrorCanceled, p.ID(), "sweep canceled", err),
			})
			break
		}

		start := time.Now()
		value, err := r.try(ctx, p)
		outcome := Outcome{ProviderID: p.ID(), Err: err, Duration: time.Since(start)}
		result.Attempts = append(result.Attempts, outcome)
		r.record(outcome)

		if err == nil {
			result.Value = value
			result.ProviderID = p.ID()
			result.Resolved = true
			return result
		}

		r.logger.DebugContext(ctx, "provider failed, trying next",
			"resolver", r.name,
			"provider", p.ID(),
			"category", GetCategory(err),
			"error", err,
		)
	}

	if r.metrics != nil {
		r.metrics.RecordExhausted(r.name)
	}
	r.logger.WarnContext(ctx, "all providers failed, using fallback",
		"resolver", r.name,
		"providers", len(providers),
	)
	result.Value = r.fallback()
	return result
}

type fetchResult[T any] struct {
	value T
	err   error
}

// try performs one bounded provider call. Panics and unclassified errors are
// converted into ProviderErrors; the deadline is enforced even if the provider
// ignores its context.
func (r *Resolver[T]) try(ctx context.Context, p Provider[T]) (T, error) {
	var zero T

	breaker := r.breaker(p.ID())
	if breaker != nil && !breaker.Allow() {
		return zero, NewProviderError(ErrorCircuitOpen, p.ID(), "circuit open", nil)
	}

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	done := make(chan fetchResult[T], 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- fetchResult[T]{err: NewProviderError(ErrorBadData, p.ID(), "adapter panic", fmt.Errorf("%v", rec))}
			}
		}()
		v, err := p.Fetch(callCtx)
		done <- fetchResult[T]{value: v, err: err}
	}()

	var res fetchResult[T]
	select {
	case res = <-done:
	case <-callCtx.Done():
		res = fetchResult[T]{err: callCtx.Err()}
	}

	err := classify(p.ID(), callCtx, res.err)
	if breaker != nil {
		if err != nil {
			if breaker.RecordFailure() {
				r.logger.WarnContext(ctx, "provider circuit opened", "resolver", r.name, "provider", p.ID())
			}
		} else {
			breaker.RecordSuccess()
		}
	}
	if err != nil {
		return zero, err
	}
	return res.value, nil
}

func classify(providerID string, callCtx context.Context, err error) error {
	if err == nil {
		return nil
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return NewProviderError(ErrorTimeout, providerID, "request timeout", err)
	}
	if errors.Is(err, context.Canceled) {
		return NewProviderError(ErrorCanceled, providerID, "request canceled", err)
	}
	return NewProviderError(ErrorInternal, providerID, "lookup failed", err)
}

func (r *Resolver[T]) breaker(providerID string) *circuit.Breaker {
	if r.breakerThreshold <= 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[providerID]
	if !ok {
		b = circuit.New(r.name+"/"+providerID,
			circuit.WithFailureThreshold(r.breakerThreshold),
			circuit.WithCooldown(r.breakerCooldown),
		)
		r.breakers[providerID] = b
	}
	return b
}

func (r *Resolver[T]) record(o Outcome) {
	if r.metrics == nil {
		return
	}
	outcome := "success"
	if o.Err != nil {
		outcome = string(GetCategory(o.Err))
	}
	r.metrics.RecordAttempt(r.name, o.ProviderID, outcome, o.Duration)
}

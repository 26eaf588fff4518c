// Package verification drives a single bot-verification attempt from boot
// through challenge execution and server-side confirmation to a terminal
// success or error, with retry, unmount and offline handling.
//
// Presentation delays (analyzing, validating, result) run on a Scheduler over
// an injected clock while the real work runs concurrently underneath. The state
// is never set to a terminal value before the real confirmation result is known.
package verification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"gatekeeper/internal/collector"
	"gatekeeper/internal/publicip"
	"gatekeeper/internal/relay/models"
	dErrors "gatekeeper/pkg/domain-errors"
	"gatekeeper/pkg/platform/clock"
)

const (
	DefaultAnalyzeDelay  = 1500 * time.Millisecond
	DefaultValidateDelay = 2500 * time.Millisecond
	DefaultResultDelay   = 5000 * time.Millisecond
	DefaultCountdown     = 5
	DefaultTick          = time.Second

	MinValidateDelay = 2000 * time.Millisecond
	MaxValidateDelay = 3500 * time.Millisecond
)

var (
	ErrAlreadyStarted = errors.New("verification already started")
	ErrUnmounted      = errors.New("verification unmounted")
)

// eventResultDelay marks the end of the fixed result delay. It is not a state
// transition on its own.
const eventResultDelay Event = "result_delay"

// ConfigSource fetches the public challenge configuration.
type ConfigSource interface {
	Config(ctx context.Context) (*models.ConfigResponse, error)
}

// TokenSource obtains a challenge token and owns the challenge library.
type TokenSource interface {
	Load(ctx context.Context, attemptID, siteKey string) (string, error)
	Teardown()
}

// Collector builds the environment snapshot attached to the confirmation call.
type Collector interface {
	Collect(ctx context.Context, identity collector.Identity, signals collector.Signals) collector.Snapshot
}

// IPDiscoverer finds the client's public address.
type IPDiscoverer interface {
	Discover(ctx context.Context) publicip.Address
}

// Confirmer issues the confirmation call to the relay.
type Confirmer interface {
	Confirm(ctx context.Context, req models.VerifyRequest) (*models.VerifyResponse, error)
}

// Closer closes the interaction surface once the success countdown ends.
type Closer interface {
	Close()
}

// CloserFunc adapts a function to Closer.
type CloserFunc func()

func (f CloserFunc) Close() { f() }

// Observer receives a View after every mutation, in order. It must not call
// back into the Machine synchronously.
type Observer func(View)

// View is the presentation-facing state of the machine.
type View struct {
	AttemptID string   `json:"attemptId"`
	State     State    `json:"state"`
	Retries   int      `json:"retries"`
	Error     string   `json:"error,omitempty"`
	Countdown int      `json:"countdown,omitempty"`
	Offline   bool     `json:"offline,omitempty"`
	Score     *float64 `json:"score,omitempty"`
}

// Step is one recorded state entry.
type Step struct {
	Retries int
	State   State
}

// Timing holds the presentation delays.
type Timing struct {
	AnalyzeDelay  time.Duration // token -> analyzing
	ValidateDelay time.Duration // analyzing -> validating, within [MinValidateDelay, MaxValidateDelay]
	ResultDelay   time.Duration // minimum time from the confirmation call to a terminal state
	Countdown     int
	Tick          time.Duration
}

func (t Timing) withDefaults() (Timing, error) {
	if t.AnalyzeDelay == 0 {
		t.AnalyzeDelay = DefaultAnalyzeDelay
	}
	if t.ValidateDelay == 0 {
		t.ValidateDelay = DefaultValidateDelay
	}
	if t.ResultDelay == 0 {
		t.ResultDelay = DefaultResultDelay
	}
	if t.Countdown == 0 {
		t.Countdown = DefaultCountdown
	}
	if t.Tick == 0 {
		t.Tick = DefaultTick
	}
	if t.ValidateDelay < MinValidateDelay || t.ValidateDelay > MaxValidateDelay {
		return t, fmt.Errorf("validate delay %s outside [%s, %s]", t.ValidateDelay, MinValidateDelay, MaxValidateDelay)
	}
	if t.AnalyzeDelay < 0 || t.ResultDelay < 0 || t.Countdown < 0 || t.Tick < 0 {
		return t, errors.New("timing values must not be negative")
	}
	return t, nil
}

// Config configures a Machine.
type Config struct {
	Params  Params
	Signals collector.Signals
	Timing  Timing
	// OfflineFallback plays a scripted success without a token when no
	// challenge configuration is reachable. Never enable in production.
	OfflineFallback bool
	Clock           clock.Clock
	Logger          *slog.Logger
	Metrics         *Metrics
	Observer        Observer
}

// Deps are the machine's collaborators. Collector, IP and Closer are optional.
type Deps struct {
	Config    ConfigSource
	Tokens    TokenSource
	Collector Collector
	IP        IPDiscoverer
	Confirmer Confirmer
	Closer    Closer
}

type result struct {
	resp *models.VerifyResponse
	err  error
}

// Machine runs verification attempts for one mount.
type Machine struct {
	cfg    Config
	deps   Deps
	timing Timing
	clock  clock.Clock
	sched  *Scheduler
	logger *slog.Logger

	// notifyMu is taken before mu is released so observers see mutations in order.
	mu       sync.Mutex
	notifyMu sync.Mutex
	wg       sync.WaitGroup

	started bool
	alive   bool
	gen     uint64
	parent  context.Context
	cancel  context.CancelFunc
	history []Step

	attemptID string
	state     State
	retries   int
	errMsg    string
	countdown int
	offline   bool
	score     *float64

	confirmIssued bool
	delayElapsed  bool
	result        *result
	closed        bool
}

// New validates the configuration and returns an unstarted Machine.
func New(cfg Config, deps Deps) (*Machine, error) {
	if deps.Config == nil || deps.Tokens == nil || deps.Confirmer == nil {
		return nil, errors.New("config source, token source and confirmer are required")
	}
	timing, err := cfg.Timing.withDefaults()
	if err != nil {
		return nil, err
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	return &Machine{
		cfg:    cfg,
		deps:   deps,
		timing: timing,
		clock:  cfg.Clock,
		sched:  NewScheduler(cfg.Clock),
		logger: cfg.Logger,
		state:  StateLoading,
	}, nil
}

// Start mounts the machine and begins the first attempt.
func (m *Machine) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return ErrAlreadyStarted
	}
	m.started, m.alive = true, true
	m.parent = ctx
	m.beginLocked()
	m.unlockAndNotify()
	return nil
}

// Retry starts a fresh attempt from the error state: the retry counter goes up
// by one, the error detail is cleared and the challenge unit is reloaded.
func (m *Machine) Retry() error {
	m.mu.Lock()
	if !m.alive {
		m.mu.Unlock()
		return ErrUnmounted
	}
	if _, err := Transition(m.state, EventRetry); err != nil {
		m.mu.Unlock()
		return err
	}
	m.cancel()
	m.sched.Cancel()
	m.deps.Tokens.Teardown()
	m.retries++
	if m.cfg.Metrics != nil {
		m.cfg.Metrics.RecordRetry()
	}
	m.logger.Info("verification retry", "retries", m.retries)
	m.beginLocked()
	m.unlockAndNotify()
	return nil
}

// Unmount invalidates every pending timer and continuation. Later completions
// are dropped without side effects.
func (m *Machine) Unmount() {
	m.mu.Lock()
	if !m.alive {
		m.mu.Unlock()
		return
	}
	m.alive = false
	m.gen++
	if m.cancel != nil {
		m.cancel()
	}
	m.sched.Cancel()
	m.mu.Unlock()

	m.deps.Tokens.Teardown()
}

// Wait blocks until background work of every attempt has returned.
func (m *Machine) Wait() {
	m.wg.Wait()
}

// View returns the current state.
func (m *Machine) View() View {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.viewLocked()
}

// History returns every state entered since Start.
func (m *Machine) History() []Step {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Step(nil), m.history...)
}

func (m *Machine) viewLocked() View {
	return View{
		AttemptID: m.attemptID,
		State:     m.state,
		Retries:   m.retries,
		Error:     m.errMsg,
		Countdown: m.countdown,
		Offline:   m.offline,
		Score:     m.score,
	}
}

// unlockAndNotify releases mu and publishes the view captured under it.
func (m *Machine) unlockAndNotify() {
	v := m.viewLocked()
	m.notifyMu.Lock()
	m.mu.Unlock()
	defer m.notifyMu.Unlock()
	if m.cfg.Observer != nil {
		m.cfg.Observer(v)
	}
}

func (m *Machine) currentLocked(gen uint64) bool {
	return m.alive && m.gen == gen
}

// beginLocked resets attempt-scoped fields and launches the attempt.
func (m *Machine) beginLocked() {
	m.gen++
	gen := m.gen
	m.attemptID = uuid.NewString()
	m.state = StateLoading
	m.errMsg = ""
	m.countdown = 0
	m.offline = false
	m.score = nil
	m.confirmIssued = false
	m.delayElapsed = false
	m.result = nil
	m.closed = false
	m.history = append(m.history, Step{Retries: m.retries, State: StateLoading})

	ctx, cancel := context.WithCancel(m.parent)
	m.cancel = cancel
	attemptID := m.attemptID

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.run(ctx, gen, attemptID)
	}()
}

func (m *Machine) run(ctx context.Context, gen uint64, attemptID string) {
	logger := m.logger.With("attempt_id", attemptID)

	siteKey, err := m.siteKey(ctx)
	if err != nil {
		if m.cfg.OfflineFallback && ctx.Err() == nil {
			logger.WarnContext(ctx, "challenge configuration unavailable, running offline", "error", err)
			m.beginOffline(gen)
			return
		}
		m.fail(gen, err)
		return
	}

	token, err := m.deps.Tokens.Load(ctx, attemptID, siteKey)
	if err != nil {
		m.fail(gen, err)
		return
	}

	if !m.issueConfirmation(gen) {
		return
	}
	m.deliver(gen, m.confirm(ctx, token))
}

func (m *Machine) siteKey(ctx context.Context) (string, error) {
	cfg, err := m.deps.Config.Config(ctx)
	if err != nil {
		return "", err
	}
	if cfg == nil || cfg.SiteKey == "" {
		return "", dErrors.WithReason(dErrors.CodeConfiguration, models.ReasonConfiguration, "challenge site key missing")
	}
	return cfg.SiteKey, nil
}

// issueConfirmation marks the single confirmation call of the attempt and
// starts the presentation timeline. It reports false when the attempt is stale
// or a call was already issued.
func (m *Machine) issueConfirmation(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.currentLocked(gen) || m.confirmIssued {
		return false
	}
	m.confirmIssued = true
	m.scheduleTimelineLocked(gen)
	return true
}

func (m *Machine) scheduleTimelineLocked(gen uint64) {
	m.sched.After(gen, m.timing.AnalyzeDelay, EventAnalyze, m.fire)
	m.sched.After(gen, m.timing.AnalyzeDelay+m.timing.ValidateDelay, EventValidate, m.fire)
	m.sched.After(gen, m.timing.ResultDelay, eventResultDelay, m.fire)
}

func (m *Machine) beginOffline(gen uint64) {
	m.mu.Lock()
	if !m.currentLocked(gen) || m.confirmIssued {
		m.mu.Unlock()
		return
	}
	m.offline = true
	m.confirmIssued = true
	m.result = &result{resp: &models.VerifyResponse{Success: true}}
	m.scheduleTimelineLocked(gen)
	m.unlockAndNotify()
}

func (m *Machine) confirm(ctx context.Context, token string) result {
	p := m.cfg.Params
	req := models.VerifyRequest{
		ID:        p.ID,
		Captcha:   token,
		Guild:     p.Guild,
		GuildName: p.GuildName,
		GuildIcon: p.GuildIcon,
	}

	signals := m.cfg.Signals
	if m.deps.IP != nil {
		if addr := m.deps.IP.Discover(ctx); addr.Known() {
			req.IP = addr.IP
			signals.PublicIP = addr.IP
		}
	}
	if m.deps.Collector != nil {
		snap := m.deps.Collector.Collect(ctx, p.Identity(), signals)
		data, err := json.Marshal(snap)
		if err != nil {
			m.logger.WarnContext(ctx, "environment snapshot not attached", "error", err)
		} else {
			req.UserData = data
		}
	}

	start := m.clock.Now()
	resp, err := m.deps.Confirmer.Confirm(ctx, req)
	if m.cfg.Metrics != nil {
		m.cfg.Metrics.ObserveConfirmation(m.clock.Now().Sub(start))
	}
	return result{resp: resp, err: err}
}

func (m *Machine) deliver(gen uint64, r result) {
	m.mu.Lock()
	if !m.currentLocked(gen) {
		m.mu.Unlock()
		return
	}
	m.result = &r
	m.finishLocked(gen)
}

// fire applies one scheduled event.
func (m *Machine) fire(gen uint64, ev Event) {
	m.mu.Lock()
	if !m.currentLocked(gen) {
		m.mu.Unlock()
		return
	}

	switch ev {
	case eventResultDelay:
		m.delayElapsed = true
		m.finishLocked(gen)
		return

	case EventTick:
		if !m.applyLocked(EventTick) {
			m.mu.Unlock()
			return
		}
		m.countdown--
		shouldClose := false
		if m.countdown > 0 {
			m.sched.After(gen, m.timing.Tick, EventTick, m.fire)
		} else if !m.closed {
			m.closed = true
			shouldClose = true
		}
		m.unlockAndNotify()
		if shouldClose && m.deps.Closer != nil {
			m.deps.Closer.Close()
		}
		return

	default:
		if !m.applyLocked(ev) {
			m.mu.Unlock()
			return
		}
		m.unlockAndNotify()
		if ev == EventValidate {
			m.mu.Lock()
			if !m.currentLocked(gen) {
				m.mu.Unlock()
				return
			}
			m.finishLocked(gen)
		}
	}
}

// finishLocked moves validating to a terminal state once the result delay has
// elapsed and the real result is known. It always releases mu.
func (m *Machine) finishLocked(gen uint64) {
	if m.state != StateValidating || !m.delayElapsed || m.result == nil {
		m.mu.Unlock()
		return
	}

	r := m.result
	if r.err == nil && r.resp != nil && r.resp.Success {
		m.applyLocked(EventSucceed)
		m.score = r.resp.Score
		m.countdown = m.timing.Countdown
		if m.countdown > 0 {
			m.sched.After(gen, m.timing.Tick, EventTick, m.fire)
		}
		m.record(StateSuccess, "")
		m.unlockAndNotify()
		return
	}

	m.applyLocked(EventFail)
	m.errMsg = resultMessage(r)
	if r.resp != nil {
		m.score = r.resp.Score
	}
	m.record(StateError, m.errMsg)
	m.unlockAndNotify()
}

func resultMessage(r *result) string {
	if r.err != nil {
		return ErrorMessage(r.err)
	}
	if r.resp != nil && r.resp.Error != "" {
		return models.Message(r.resp.Error)
	}
	return models.Message(models.ReasonInternal)
}

// fail moves a pre-token attempt to error.
func (m *Machine) fail(gen uint64, err error) {
	m.mu.Lock()
	if !m.currentLocked(gen) {
		m.mu.Unlock()
		return
	}
	if !m.applyLocked(EventFail) {
		m.mu.Unlock()
		return
	}
	m.errMsg = ErrorMessage(err)
	m.logger.Warn("verification attempt failed", "attempt_id", m.attemptID, "error", err)
	m.record(StateError, m.errMsg)
	m.unlockAndNotify()
}

// applyLocked runs the transition function and appends state changes to history.
func (m *Machine) applyLocked(ev Event) bool {
	next, err := Transition(m.state, ev)
	if err != nil {
		m.logger.Debug("event ignored", "attempt_id", m.attemptID, "error", err)
		return false
	}
	if next != m.state {
		m.history = append(m.history, Step{Retries: m.retries, State: next})
	}
	m.state = next
	return true
}

func (m *Machine) record(state State, detail string) {
	if m.cfg.Metrics != nil {
		m.cfg.Metrics.RecordOutcome(state, m.offline)
	}
	if state == StateSuccess {
		m.logger.Info("verification succeeded", "attempt_id", m.attemptID, "retries", m.retries, "offline", m.offline)
		return
	}
	m.logger.Info("verification ended in error", "attempt_id", m.attemptID, "retries", m.retries, "detail", detail)
}

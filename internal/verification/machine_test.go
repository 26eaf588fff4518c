package verification

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/goleak"

	"gatekeeper/internal/challenge"
	"gatekeeper/internal/collector"
	"gatekeeper/internal/publicip"
	"gatekeeper/internal/relay/models"
	dErrors "gatekeeper/pkg/domain-errors"
	"gatekeeper/pkg/platform/clock"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeConfig struct {
	siteKey string
	err     error
}

func (f fakeConfig) Config(context.Context) (*models.ConfigResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &models.ConfigResponse{SiteKey: f.siteKey}, nil
}

type fakeTokens struct {
	token     string
	err       error
	loads     atomic.Int32
	teardowns atomic.Int32
}

func (f *fakeTokens) Load(ctx context.Context, _, _ string) (string, error) {
	f.loads.Add(1)
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return f.token, f.err
}

func (f *fakeTokens) Teardown() { f.teardowns.Add(1) }

type fakeConfirmer struct {
	mu    sync.Mutex
	fn    func(ctx context.Context, req models.VerifyRequest) (*models.VerifyResponse, error)
	reqs  []models.VerifyRequest
	calls atomic.Int32
}

func (f *fakeConfirmer) Confirm(ctx context.Context, req models.VerifyRequest) (*models.VerifyResponse, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	return f.fn(ctx, req)
}

func (f *fakeConfirmer) lastRequest() models.VerifyRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reqs[len(f.reqs)-1]
}

func accept(score float64) func(context.Context, models.VerifyRequest) (*models.VerifyResponse, error) {
	return func(context.Context, models.VerifyRequest) (*models.VerifyResponse, error) {
		return &models.VerifyResponse{Success: true, Score: &score, Action: "verify"}, nil
	}
}

func reject(reason string) func(context.Context, models.VerifyRequest) (*models.VerifyResponse, error) {
	return func(context.Context, models.VerifyRequest) (*models.VerifyResponse, error) {
		return nil, dErrors.WithReason(dErrors.CodeUpstreamRejected, reason, reason)
	}
}

type fakeIP struct{ addr publicip.Address }

func (f fakeIP) Discover(context.Context) publicip.Address { return f.addr }

type viewLog struct {
	mu    sync.Mutex
	views []View
}

func (l *viewLog) observe(v View) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.views = append(l.views, v)
}

func (l *viewLog) states() []State {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []State
	for _, v := range l.views {
		if len(out) == 0 || out[len(out)-1] != v.State {
			out = append(out, v.State)
		}
	}
	return out
}

func (l *viewLog) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.views)
}

type MachineSuite struct {
	suite.Suite
	clock     *clock.Fake
	tokens    *fakeTokens
	confirmer *fakeConfirmer
	closes    atomic.Int32
	log       *viewLog
}

func TestMachineSuite(t *testing.T) {
	suite.Run(t, new(MachineSuite))
}

func (s *MachineSuite) SetupTest() {
	s.clock = clock.NewFake(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC))
	s.tokens = &fakeTokens{token: "tok"}
	s.confirmer = &fakeConfirmer{fn: accept(0.9)}
	s.closes.Store(0)
	s.log = &viewLog{}
}

func (s *MachineSuite) newMachine(mutate func(*Config, *Deps)) *Machine {
	cfg := Config{
		Params:   Params{ID: "42", Guild: "7", GuildName: "Rust Club"},
		Signals:  collector.Signals{UserAgent: "Mozilla/5.0", Timezone: "Europe/Paris"},
		Clock:    s.clock,
		Observer: s.log.observe,
	}
	deps := Deps{
		Config:    fakeConfig{siteKey: "site-key"},
		Tokens:    s.tokens,
		Confirmer: s.confirmer,
		Closer:    CloserFunc(func() { s.closes.Add(1) }),
	}
	if mutate != nil {
		mutate(&cfg, &deps)
	}
	m, err := New(cfg, deps)
	s.Require().NoError(err)
	return m
}

func (s *MachineSuite) waitFor(m *Machine, state State) {
	s.Require().Eventually(func() bool { return m.View().State == state }, time.Second, time.Millisecond,
		"expected %s, at %s", state, m.View().State)
}

// runToTerminal walks the presentation timeline with default timings.
func (s *MachineSuite) runToTerminal(m *Machine) {
	s.clock.BlockUntil(3)
	s.Equal(StateLoading, m.View().State)
	s.clock.Advance(DefaultAnalyzeDelay)
	s.Equal(StateAnalyzing, m.View().State)
	s.clock.Advance(DefaultValidateDelay)
	s.Equal(StateValidating, m.View().State)
	s.clock.Advance(DefaultResultDelay - DefaultAnalyzeDelay - DefaultValidateDelay)
}

// =============================================================================
// End-to-end scenarios
// =============================================================================

func (s *MachineSuite) TestHighScoreSucceedsWithCountdown() {
	m := s.newMachine(func(_ *Config, d *Deps) {
		d.IP = fakeIP{addr: publicip.Address{IP: "203.0.113.7", Source: "ipify"}}
		d.Collector = collector.New(nil, collector.WithClock(s.clock))
	})
	s.Require().NoError(m.Start(context.Background()))

	s.runToTerminal(m)
	s.waitFor(m, StateSuccess)

	v := m.View()
	s.Equal(5, v.Countdown)
	s.Require().NotNil(v.Score)
	s.Equal(0.9, *v.Score)
	s.Empty(v.Error)

	req := s.confirmer.lastRequest()
	s.Equal("42", req.ID)
	s.Equal("7", req.Guild)
	s.Equal("tok", req.Captcha)
	s.Equal("203.0.113.7", req.IP)
	s.Contains(string(req.UserData), `"fingerprint"`)

	// Countdown ticks once per second and closes exactly once at zero
	for want := 4; want >= 0; want-- {
		s.clock.BlockUntil(1)
		s.clock.Advance(DefaultTick)
		s.Equal(want, m.View().Countdown)
	}
	s.Equal(int32(1), s.closes.Load())
	s.Equal(0, s.clock.Pending())

	s.Equal([]State{StateLoading, StateAnalyzing, StateValidating, StateSuccess}, s.log.states())
	m.Unmount()
	m.Wait()
}

func (s *MachineSuite) TestLowScoreEndsInErrorWithRetry() {
	s.confirmer.fn = reject(models.ReasonScoreTooLow)
	m := s.newMachine(nil)
	s.Require().NoError(m.Start(context.Background()))

	s.runToTerminal(m)
	s.waitFor(m, StateError)

	v := m.View()
	s.Contains(strings.ToLower(v.Error), "low score")
	s.Equal(0, v.Retries)

	// Retry clears the error, counts once and reloads the challenge
	firstAttempt := v.AttemptID
	s.confirmer.fn = accept(0.7)
	s.Require().NoError(m.Retry())
	v = m.View()
	s.Equal(StateLoading, v.State)
	s.Equal(1, v.Retries)
	s.Empty(v.Error)
	s.NotEqual(firstAttempt, v.AttemptID)
	s.Equal(int32(1), s.tokens.teardowns.Load())

	s.runToTerminal(m)
	s.waitFor(m, StateSuccess)
	s.Equal(int32(2), s.tokens.loads.Load())
	s.Equal(int32(2), s.confirmer.calls.Load())

	s.Equal([]Step{
		{0, StateLoading}, {0, StateAnalyzing}, {0, StateValidating}, {0, StateError},
		{1, StateLoading}, {1, StateAnalyzing}, {1, StateValidating}, {1, StateSuccess},
	}, m.History())
	m.Unmount()
	m.Wait()
}

// =============================================================================
// Ordering guarantees
// =============================================================================

func (s *MachineSuite) TestEarlyFailureStillWalksTheTimeline() {
	s.confirmer.fn = reject(models.ReasonInvalidToken)
	m := s.newMachine(nil)
	s.Require().NoError(m.Start(context.Background()))

	s.clock.BlockUntil(3)
	s.Require().Eventually(func() bool { return s.confirmer.calls.Load() == 1 }, time.Second, time.Millisecond)

	s.clock.Advance(DefaultAnalyzeDelay)
	s.Equal(StateAnalyzing, m.View().State, "a known failure does not skip analyzing")
	s.clock.Advance(DefaultValidateDelay)
	s.Equal(StateValidating, m.View().State)
	s.clock.Advance(time.Second)

	s.waitFor(m, StateError)
	s.Equal([]State{StateLoading, StateAnalyzing, StateValidating, StateError}, s.log.states())
	m.Unmount()
	m.Wait()
}

func (s *MachineSuite) TestTerminalWaitsForLateRealResult() {
	release := make(chan struct{})
	s.confirmer.fn = func(ctx context.Context, _ models.VerifyRequest) (*models.VerifyResponse, error) {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return nil, dErrors.WithReason(dErrors.CodeDownstreamUnavailable, models.ReasonDownstreamTimeout, "timeout")
	}
	m := s.newMachine(nil)
	s.Require().NoError(m.Start(context.Background()))

	s.runToTerminal(m)
	s.clock.Advance(time.Minute)
	s.Equal(StateValidating, m.View().State, "no optimistic terminal before the real result")

	close(release)
	s.waitFor(m, StateError)
	s.Equal(models.Message(models.ReasonDownstreamTimeout), m.View().Error)
	m.Unmount()
	m.Wait()
}

func (s *MachineSuite) TestSingleConfirmationPerAttempt() {
	m := s.newMachine(nil)
	s.Require().NoError(m.Start(context.Background()))
	s.runToTerminal(m)
	s.waitFor(m, StateSuccess)

	s.Equal(int32(1), s.confirmer.calls.Load())
	m.Unmount()
	m.Wait()
}

// =============================================================================
// Pre-token failures and offline mode
// =============================================================================

func (s *MachineSuite) TestMissingSiteKeyIsConfigurationError() {
	m := s.newMachine(func(_ *Config, d *Deps) { d.Config = fakeConfig{} })
	s.Require().NoError(m.Start(context.Background()))

	s.waitFor(m, StateError)
	s.Equal(models.Message(models.ReasonConfiguration), m.View().Error)
	s.Equal(int32(0), s.tokens.loads.Load())
	s.Equal(int32(0), s.confirmer.calls.Load())
	m.Unmount()
	m.Wait()
}

func (s *MachineSuite) TestChallengeFailureOffersRetry() {
	s.tokens.err = &challenge.ChallengeError{Cause: challenge.ErrScriptLoad, Err: errors.New("blocked")}
	m := s.newMachine(nil)
	s.Require().NoError(m.Start(context.Background()))

	s.waitFor(m, StateError)
	s.Contains(m.View().Error, "could not be loaded")

	s.tokens.err = nil
	s.Require().NoError(m.Retry())
	s.runToTerminal(m)
	s.waitFor(m, StateSuccess)
	s.Equal(1, m.View().Retries)
	m.Unmount()
	m.Wait()
}

func (s *MachineSuite) TestOfflineModePlaysScriptedSuccess() {
	m := s.newMachine(func(c *Config, d *Deps) {
		c.OfflineFallback = true
		d.Config = fakeConfig{err: dErrors.New(dErrors.CodeNetwork, "unreachable")}
	})
	s.Require().NoError(m.Start(context.Background()))

	s.runToTerminal(m)
	s.waitFor(m, StateSuccess)

	v := m.View()
	s.True(v.Offline)
	s.Equal(5, v.Countdown)
	s.Equal(int32(0), s.tokens.loads.Load(), "no token is exchanged offline")
	s.Equal(int32(0), s.confirmer.calls.Load())
	m.Unmount()
	m.Wait()
}

// =============================================================================
// Retry and unmount discipline
// =============================================================================

func (s *MachineSuite) TestRetryOnlyFromError() {
	m := s.newMachine(nil)
	s.Require().NoError(m.Start(context.Background()))
	s.ErrorIs(m.Retry(), ErrInvalidTransition)
	s.ErrorIs(m.Start(context.Background()), ErrAlreadyStarted)
	m.Unmount()
	s.ErrorIs(m.Retry(), ErrUnmounted)
	m.Wait()
}

func (s *MachineSuite) TestUnmountDropsPendingWork() {
	release := make(chan struct{})
	s.confirmer.fn = func(ctx context.Context, _ models.VerifyRequest) (*models.VerifyResponse, error) {
		<-release
		score := 0.9
		return &models.VerifyResponse{Success: true, Score: &score}, nil
	}
	m := s.newMachine(nil)
	s.Require().NoError(m.Start(context.Background()))
	s.clock.BlockUntil(3)
	s.Require().Eventually(func() bool { return s.confirmer.calls.Load() == 1 }, time.Second, time.Millisecond)
	before := s.log.len()

	// When
	m.Unmount()
	s.clock.Advance(time.Minute)
	close(release)
	m.Wait()

	// Then nothing observable changed after unmount
	s.Equal(before, s.log.len())
	s.Equal(StateLoading, m.View().State)
	s.Equal(0, s.clock.Pending())
	s.Equal(int32(0), s.closes.Load())
	s.Equal(int32(1), s.tokens.teardowns.Load())
}

func TestNewRejectsBadTiming(t *testing.T) {
	deps := Deps{Config: fakeConfig{}, Tokens: &fakeTokens{}, Confirmer: &fakeConfirmer{}}

	_, err := New(Config{Timing: Timing{ValidateDelay: time.Second}}, deps)
	require.Error(t, err)

	_, err = New(Config{Timing: Timing{ValidateDelay: 3500 * time.Millisecond}}, deps)
	require.NoError(t, err)

	_, err = New(Config{}, Deps{})
	require.Error(t, err)
}

func TestErrorMessage(t *testing.T) {
	cases := map[string]struct {
		err  error
		want string
	}{
		"challenge empty token": {&challenge.ChallengeError{Cause: challenge.ErrEmptyToken}, "returned no response"},
		"relay reason":          {dErrors.WithReason(dErrors.CodeDownstreamUnavailable, models.ReasonDownstreamRefused, ""), "offline"},
		"network code":          {dErrors.New(dErrors.CodeNetwork, "dial"), "Network error"},
		"deadline":              {context.DeadlineExceeded, "too long"},
		"unknown":               {errors.New("boom"), "Something went wrong"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			require.Contains(t, ErrorMessage(tc.err), tc.want)
		})
	}
	require.Empty(t, ErrorMessage(nil))
}

// Package service implements the relay's verification decision: it checks the
// caller, re-validates the challenge token, applies the score threshold and
// forwards accepted verifications to the downstream authority.
package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"gatekeeper/internal/geo"
	"gatekeeper/internal/platform/privacy"
	"gatekeeper/internal/relay/models"
	"gatekeeper/internal/relay/ports"
	dErrors "gatekeeper/pkg/domain-errors"
	"gatekeeper/pkg/platform/clock"
	"gatekeeper/pkg/platform/httputil"
	"gatekeeper/pkg/platform/tracer"
)

const (
	// DefaultScoreThreshold is the minimum accepted challenge score (inclusive).
	DefaultScoreThreshold = 0.5
	// DefaultGeoBudget bounds the server-side geolocation sweep; past it the
	// grant carries Unknown.
	DefaultGeoBudget = 2 * time.Second
	// DefaultSideEffectTimeout bounds each webhook and outcome event, which run
	// after the response on a detached context.
	DefaultSideEffectTimeout = 5 * time.Second
)

// Config holds the relay secrets and policy.
type Config struct {
	SiteKey        string
	SecretKey      string
	SharedSecret   string
	AuthorityURL   string
	ScoreThreshold float64

	GeoBudget         time.Duration
	SideEffectTimeout time.Duration
}

// Meta is what the transport observed about the caller.
type Meta struct {
	IP            string
	IPSource      string
	UserAgent     string
	Authorization string
}

// Service decides verifications.
type Service struct {
	cfg       Config
	verifier  ports.SiteVerifier
	authority ports.Authority
	locator   ports.Locator
	notifier  ports.Notifier
	events    ports.EventPublisher
	tracer    tracer.Tracer
	metrics   *Metrics
	clock     clock.Clock
	logger    *slog.Logger

	background sync.WaitGroup
}

// Option configures the Service.
type Option func(*Service)

func WithLocator(l ports.Locator) Option {
	return func(s *Service) { s.locator = l }
}

func WithNotifier(n ports.Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

func WithEventPublisher(p ports.EventPublisher) Option {
	return func(s *Service) { s.events = p }
}

func WithTracer(t tracer.Tracer) Option {
	return func(s *Service) { s.tracer = t }
}

func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithClock(c clock.Clock) Option {
	return func(s *Service) { s.clock = c }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// New creates the relay service.
func New(cfg Config, verifier ports.SiteVerifier, authority ports.Authority, opts ...Option) *Service {
	if cfg.ScoreThreshold <= 0 {
		cfg.ScoreThreshold = DefaultScoreThreshold
	}
	if cfg.GeoBudget <= 0 {
		cfg.GeoBudget = DefaultGeoBudget
	}
	if cfg.SideEffectTimeout <= 0 {
		cfg.SideEffectTimeout = DefaultSideEffectTimeout
	}
	s := &Service{
		cfg:       cfg,
		verifier:  verifier,
		authority: authority,
		tracer:    tracer.NewNoop(),
		clock:     clock.Real(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Wait blocks until notifications and outcome events started by Verify have
// finished, or ctx ends.
func (s *Service) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.background.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// detach runs fn after the response on a context that outlives the request
// but not SideEffectTimeout.
func (s *Service) detach(ctx context.Context, fn func(ctx context.Context)) {
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.SideEffectTimeout)
		defer cancel()
		fn(ctx)
	}()
}

// Config returns the public challenge configuration.
func (s *Service) Config(_ context.Context) (*models.ConfigResponse, error) {
	if s.cfg.SiteKey == "" {
		return nil, dErrors.WithReason(dErrors.CodeConfiguration, models.ReasonConfiguration, "challenge site key not configured")
	}
	return &models.ConfigResponse{SiteKey: s.cfg.SiteKey}, nil
}

// Verify runs the confirmation pipeline. Every failure is a domain error
// carrying a models.Reason*.
func (s *Service) Verify(ctx context.Context, req *models.VerifyRequest, meta Meta) (resp *models.VerifyResponse, err error) {
	start := s.clock.Now()
	ctx, span := s.tracer.Start(ctx, tracer.SpanVerify,
		tracer.String(tracer.AttrUserHash, privacy.HashIdentifier(req.ID)),
		tracer.Bool(tracer.AttrGuild, req.HasGuild()),
		tracer.String(tracer.AttrIPSource, meta.IPSource),
	)
	defer func() {
		reason := reasonFor(err)
		span.SetAttributes(tracer.String(tracer.AttrReason, reason))
		span.End(err)
		s.metrics.RecordVerification(reason, s.clock.Now().Sub(start))
	}()

	if err := s.authorize(req, meta.Authorization); err != nil {
		s.logger.WarnContext(ctx, "verify request unauthorized",
			"user_hash", privacy.HashIdentifier(req.ID),
			"ip", privacy.AnonymizeIP(meta.IP),
		)
		return nil, err
	}
	if err := httputil.PrepareRequest(req); err != nil {
		return nil, err
	}
	if err := s.checkConfigured(); err != nil {
		s.logger.ErrorContext(ctx, "relay not configured", "error", err)
		return nil, err
	}

	assessment, err := s.assess(ctx, req, meta)
	if err != nil {
		s.emit(ctx, req, meta, 0, err)
		return nil, err
	}
	span.SetAttributes(
		tracer.Float64(tracer.AttrScore, assessment.Score),
		tracer.String(tracer.AttrAction, assessment.Action),
	)

	location := s.locate(ctx, meta.IP)
	if err := s.forward(ctx, req, meta, assessment, location); err != nil {
		s.emit(ctx, req, meta, assessment.Score, err)
		return nil, err
	}

	s.notify(ctx, req, assessment, location)
	s.emit(ctx, req, meta, assessment.Score, nil)

	s.logger.InfoContext(ctx, "verification accepted",
		"user_hash", privacy.HashIdentifier(req.ID),
		"guild", req.Guild,
		"score", assessment.Score,
		"ip", privacy.AnonymizeIP(meta.IP),
	)

	score := assessment.Score
	return &models.VerifyResponse{
		Success:  true,
		Score:    &score,
		Action:   assessment.Action,
		Hostname: assessment.Hostname,
	}, nil
}

// authorize requires the shared bearer secret for requests carrying guild context.
func (s *Service) authorize(req *models.VerifyRequest, header string) error {
	if strings.TrimSpace(req.Guild) == "" {
		return nil
	}
	if s.cfg.SharedSecret == "" {
		return dErrors.WithReason(dErrors.CodeConfiguration, models.ReasonConfiguration, "relay shared secret not configured")
	}
	token, ok := bearerToken(header)
	if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.SharedSecret)) != 1 {
		return dErrors.WithReason(dErrors.CodeUnauthorized, models.ReasonUnauthorized, "missing or invalid bearer token")
	}
	return nil
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func (s *Service) checkConfigured() error {
	switch {
	case s.cfg.SecretKey == "":
		return dErrors.WithReason(dErrors.CodeConfiguration, models.ReasonConfiguration, "challenge secret key not configured")
	case s.cfg.AuthorityURL == "":
		return dErrors.WithReason(dErrors.CodeConfiguration, models.ReasonConfiguration, "authority url not configured")
	}
	return nil
}

// assess re-validates the token and applies the score threshold.
func (s *Service) assess(ctx context.Context, req *models.VerifyRequest, meta Meta) (*models.Assessment, error) {
	ctx, span := s.tracer.Start(ctx, tracer.SpanSiteVerify)
	resp, err := s.verifier.Verify(ctx, req.Captcha, knownIP(meta.IP))
	if err != nil {
		span.End(err)
		s.logger.ErrorContext(ctx, "siteverify call failed", "error", err)
		return nil, &dErrors.Error{
			Code:    dErrors.CodeInternal,
			Reason:  models.ReasonUpstreamError,
			Message: "challenge provider unavailable",
			Err:     err,
		}
	}
	span.End(nil)

	if !resp.Success {
		err := classifySiteVerify(resp.ErrorCodes)
		s.logger.InfoContext(ctx, "challenge token refused",
			"user_hash", privacy.HashIdentifier(req.ID),
			"error_codes", resp.ErrorCodes,
			"reason", dErrors.ReasonOf(err),
		)
		return nil, err
	}

	s.metrics.ObserveScore(resp.Score)
	if resp.Score < s.cfg.ScoreThreshold {
		s.logger.InfoContext(ctx, "challenge score below threshold",
			"user_hash", privacy.HashIdentifier(req.ID),
			"score", resp.Score,
			"threshold", s.cfg.ScoreThreshold,
		)
		return nil, dErrors.WithReason(dErrors.CodeUpstreamRejected, models.ReasonScoreTooLow, "challenge score below threshold")
	}

	return &models.Assessment{
		Score:       resp.Score,
		Action:      resp.Action,
		Hostname:    resp.Hostname,
		ChallengeTS: resp.ChallengeTS,
	}, nil
}

// classifySiteVerify maps provider error codes to a failure reason. The first
// recognized code wins.
func classifySiteVerify(codes []string) error {
	for _, code := range codes {
		switch code {
		case "invalid-input-response", "bad-request":
			return dErrors.WithReason(dErrors.CodeUpstreamRejected, models.ReasonInvalidToken, "challenge token invalid")
		case "timeout-or-duplicate":
			return dErrors.WithReason(dErrors.CodeUpstreamRejected, models.ReasonTokenExpired, "challenge token expired or reused")
		case "missing-input-response":
			return dErrors.WithReason(dErrors.CodeUpstreamRejected, models.ReasonMissingToken, "challenge token missing")
		case "missing-input-secret", "invalid-input-secret":
			return dErrors.WithReason(dErrors.CodeConfiguration, models.ReasonConfiguration, "challenge secret key rejected")
		}
	}
	return dErrors.WithReason(dErrors.CodeUpstreamRejected, models.ReasonUpstreamError, "challenge provider refused the token")
}

func (s *Service) locate(ctx context.Context, ip string) *geo.Result {
	if s.locator == nil || knownIP(ip) == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.GeoBudget)
	defer cancel()
	ctx, span := s.tracer.Start(ctx, tracer.SpanGeo)
	result := s.locator.Locate(ctx, ip, "")
	span.SetAttributes(tracer.String(tracer.AttrGeoStatus, string(result.Status)))
	span.End(nil)
	return &result
}

func (s *Service) forward(ctx context.Context, req *models.VerifyRequest, meta Meta, a *models.Assessment, location *geo.Result) error {
	ctx, span := s.tracer.Start(ctx, tracer.SpanAuthority)
	start := s.clock.Now()

	err := s.authority.Forward(ctx, &models.AuthorityRequest{
		ID:        req.ID,
		Guild:     req.Guild,
		GuildName: req.GuildName,
		GuildIcon: req.GuildIcon,
		UserData:  req.UserData,
		ServerData: models.ServerData{
			IP:          meta.IP,
			IPSource:    meta.IPSource,
			ReportedIP:  req.IP,
			UserAgent:   meta.UserAgent,
			Score:       a.Score,
			Action:      a.Action,
			Hostname:    a.Hostname,
			ChallengeTS: a.ChallengeTS,
			Geo:         location,
			Timestamp:   s.clock.Now().UTC(),
		},
	})
	if err != nil && dErrors.ReasonOf(err) == "" {
		err = &dErrors.Error{
			Code:    dErrors.CodeDownstreamUnavailable,
			Reason:  models.ReasonDownstreamRefused,
			Message: "authority unreachable",
			Err:     err,
		}
	}
	s.metrics.ObserveDownstream(dErrors.ReasonOf(err), s.clock.Now().Sub(start))
	span.End(err)
	if err == nil {
		return nil
	}

	s.logger.ErrorContext(ctx, "authority forward failed",
		"user_hash", privacy.HashIdentifier(req.ID),
		"guild", req.Guild,
		"error", err,
	)
	return err
}

// notify fires the webhook after the response. Failures never affect the
// verification.
func (s *Service) notify(ctx context.Context, req *models.VerifyRequest, a *models.Assessment, location *geo.Result) {
	if s.notifier == nil {
		return
	}
	payload := models.WebhookPayload{
		ID:        req.ID,
		Guild:     req.Guild,
		GuildName: req.GuildName,
		Score:     a.Score,
		Timestamp: s.clock.Now().UTC(),
	}
	if location != nil && location.Resolved() {
		payload.Country = location.Location.Country
	}
	s.detach(ctx, func(ctx context.Context) {
		if err := s.notifier.Notify(ctx, payload); err != nil {
			s.logger.WarnContext(ctx, "webhook notification failed", "error", err)
		}
	})
}

// emit publishes the outcome event after the response. Failures never affect
// the verification.
func (s *Service) emit(ctx context.Context, req *models.VerifyRequest, meta Meta, score float64, cause error) {
	if s.events == nil {
		return
	}
	event := models.OutcomeEvent{
		EventID:   uuid.NewString(),
		Type:      models.EventVerificationCompleted,
		ID:        req.ID,
		Guild:     req.Guild,
		Success:   cause == nil,
		Reason:    dErrors.ReasonOf(cause),
		Score:     score,
		IP:        privacy.AnonymizeIP(meta.IP),
		Timestamp: s.clock.Now().UTC(),
	}
	s.detach(ctx, func(ctx context.Context) {
		if err := s.events.Publish(ctx, event); err != nil {
			s.logger.WarnContext(ctx, "outcome event publish failed", "error", err)
		}
	})
}

// reasonFor names a failure for metrics and traces; "" for success.
func reasonFor(err error) string {
	if err == nil {
		return ""
	}
	var de *dErrors.Error
	if !errors.As(err, &de) {
		return models.ReasonInternal
	}
	if de.Reason != "" {
		return de.Reason
	}
	return httputil.Label(de.Code)
}

// knownIP returns ip when it parses as an address, "" otherwise.
func knownIP(ip string) string {
	if _, err := netip.ParseAddr(ip); err != nil {
		return ""
	}
	return ip
}

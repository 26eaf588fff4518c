package domainerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/suite"
)

// DomainErrorsSuite tests the domain error primitives.
//
// Justification: these primitives carry the verification error taxonomy across
// the client, relay and HTTP boundary. "Wrapped domain errors preserve original
// code and reason" must hold or the user-facing message mapping breaks.
type DomainErrorsSuite struct {
	suite.Suite
}

func TestDomainErrorsSuite(t *testing.T) {
	suite.Run(t, new(DomainErrorsSuite))
}

func (s *DomainErrorsSuite) TestErrorInterface() {
	s.Run("returns message when present", func() {
		err := &Error{Code: CodeUpstreamRejected, Reason: "score_too_low", Message: "score too low"}
		s.Equal("score too low", err.Error())
	})

	s.Run("falls back to reason, then code", func() {
		s.Equal("score_too_low", (&Error{Code: CodeUpstreamRejected, Reason: "score_too_low"}).Error())
		s.Equal("configuration_error", (&Error{Code: CodeConfiguration}).Error())
	})
}

func (s *DomainErrorsSuite) TestIsMatching() {
	s.Run("matches by code only", func() {
		err1 := &Error{Code: CodeDownstreamUnavailable, Reason: "downstream_timeout"}
		err2 := &Error{Code: CodeDownstreamUnavailable, Reason: "downstream_5xx"}
		s.True(err1.Is(err2))
	})

	s.Run("does not match non-domain errors", func() {
		s.False((&Error{Code: CodeNetwork}).Is(errors.New("network_error")))
	})

	s.Run("works with errors.Is through chain", func() {
		inner := &Error{Code: CodeChallenge, Message: "script failed"}
		wrapped := fmt.Errorf("attempt: %w", inner)
		s.True(errors.Is(wrapped, &Error{Code: CodeChallenge}))
	})
}

func (s *DomainErrorsSuite) TestWrap() {
	s.Run("preserves original code and reason when wrapping domain error", func() {
		original := WithReason(CodeUpstreamRejected, "token_expired", "token expired")
		wrapped := Wrap(original, CodeInternal, "relay error")

		var domainErr *Error
		s.Require().True(errors.As(wrapped, &domainErr))
		s.Equal(CodeUpstreamRejected, domainErr.Code)
		s.Equal("token_expired", domainErr.Reason)
		s.Equal("relay error", domainErr.Message)
	})

	s.Run("uses provided code when wrapping non-domain error", func() {
		original := errors.New("dial tcp: connection refused")
		wrapped := Wrap(original, CodeNetwork, "network failure")

		s.True(HasCode(wrapped, CodeNetwork))
		s.True(errors.Is(wrapped, original))
	})
}

func (s *DomainErrorsSuite) TestReasonOf() {
	s.Equal("score_too_low", ReasonOf(fmt.Errorf("x: %w", WithReason(CodeUpstreamRejected, "score_too_low", ""))))
	s.Equal("", ReasonOf(errors.New("plain")))
	s.Equal("", ReasonOf(nil))
}

func (s *DomainErrorsSuite) TestHasCode() {
	s.True(HasCode(New(CodeConfiguration, "missing site key"), CodeConfiguration))
	s.False(HasCode(New(CodeConfiguration, "missing site key"), CodeInternal))
	s.False(HasCode(errors.New("regular error"), CodeInternal))
	s.False(HasCode(nil, CodeInternal))
}

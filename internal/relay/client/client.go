// Package client is the attempt engine's view of the relay: configuration
// fetch, the confirmation call and the IP echo endpoint.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"gatekeeper/internal/relay/models"
	dErrors "gatekeeper/pkg/domain-errors"
)

// DefaultConfirmTimeout bounds the confirmation round trip.
const DefaultConfirmTimeout = 10 * time.Second

const (
	defaultTimeout = 5 * time.Second
	maxBodyBytes   = 64 << 10
)

// HTTPDoer is satisfied by *http.Client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client talks to one relay.
type Client struct {
	baseURL        string
	bearer         string
	http           HTTPDoer
	timeout        time.Duration
	confirmTimeout time.Duration
}

type Option func(*Client)

// WithBearer sets the shared secret sent with guild-scoped confirmations.
func WithBearer(secret string) Option {
	return func(c *Client) { c.bearer = secret }
}

func WithHTTPClient(d HTTPDoer) Option {
	return func(c *Client) { c.http = d }
}

func WithConfirmTimeout(d time.Duration) Option {
	return func(c *Client) { c.confirmTimeout = d }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		http:           &http.Client{},
		timeout:        defaultTimeout,
		confirmTimeout: DefaultConfirmTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Config fetches the public site key.
func (c *Client) Config(ctx context.Context) (*models.ConfigResponse, error) {
	var out models.ConfigResponse
	if err := c.do(ctx, c.timeout, http.MethodGet, "/api/config", nil, nil, &out); err != nil {
		return nil, err
	}
	if out.SiteKey == "" {
		return nil, dErrors.WithReason(dErrors.CodeConfiguration, models.ReasonConfiguration, "relay returned an empty site key")
	}
	return &out, nil
}

// Confirm posts the verification. A relay refusal is returned as a domain
// error carrying the relay's reason.
func (c *Client) Confirm(ctx context.Context, req models.VerifyRequest) (*models.VerifyResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "encode verify request")
	}
	headers := map[string]string{"Content-Type": "application/json"}
	if req.Guild != "" && c.bearer != "" {
		headers["Authorization"] = "Bearer " + c.bearer
	}

	var out models.VerifyResponse
	if err := c.do(ctx, c.confirmTimeout, http.MethodPost, "/api/verify", bytes.NewReader(body), headers, &out); err != nil {
		return nil, err
	}
	if !out.Success {
		reason := out.Error
		if reason == "" {
			reason = models.ReasonInternal
		}
		return &out, dErrors.WithReason(codeForReason(reason, http.StatusOK), reason, out.Details)
	}
	return &out, nil
}

// IP asks the relay which address it sees.
func (c *Client) IP(ctx context.Context) (*models.IPResponse, error) {
	var out models.IPResponse
	if err := c.do(ctx, c.timeout, http.MethodGet, "/api/ip", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, timeout time.Duration, method, path string, body io.Reader, headers map[string]string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeConfiguration, "build relay request")
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return transportError(ctx, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return transportError(ctx, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(resp.StatusCode, raw)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &dErrors.Error{Code: dErrors.CodeInternal, Reason: models.ReasonInternal, Message: "malformed relay response", Err: err}
	}
	return nil
}

func transportError(ctx context.Context, err error) error {
	var netErr net.Error
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &dErrors.Error{Code: dErrors.CodeTimeout, Reason: models.ReasonTimeout, Message: "relay timed out", Err: err}
	}
	return &dErrors.Error{Code: dErrors.CodeNetwork, Reason: models.ReasonNetwork, Message: "relay unreachable", Err: err}
}

// statusError rebuilds the relay's error from its body, falling back to the status.
func statusError(status int, raw []byte) error {
	var body struct {
		Error   string `json:"error"`
		Details string `json:"details"`
	}
	_ = json.Unmarshal(raw, &body)

	reason := body.Error
	if reason == "" {
		reason = reasonForStatus(status)
	}
	msg := body.Details
	if msg == "" {
		msg = fmt.Sprintf("relay returned %d", status)
	}
	return dErrors.WithReason(codeForReason(reason, status), reason, msg)
}

func reasonForStatus(status int) string {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return models.ReasonUnauthorized
	case status == http.StatusGatewayTimeout:
		return models.ReasonTimeout
	case status >= 400 && status < 500:
		return models.ReasonBadRequest
	default:
		return models.ReasonInternal
	}
}

func codeForReason(reason string, status int) dErrors.Code {
	switch reason {
	case models.ReasonConfiguration:
		return dErrors.CodeConfiguration
	case models.ReasonUnauthorized:
		return dErrors.CodeUnauthorized
	case models.ReasonBadRequest, models.ReasonValidation:
		return dErrors.CodeInvalidInput
	case models.ReasonInvalidToken, models.ReasonTokenExpired, models.ReasonMissingToken,
		models.ReasonUpstreamError, models.ReasonScoreTooLow:
		return dErrors.CodeUpstreamRejected
	case models.ReasonDownstreamTimeout, models.ReasonDownstreamRefused, models.ReasonDownstream5xx,
		models.ReasonDownstream4xx, models.ReasonDownstreamRejected:
		return dErrors.CodeDownstreamUnavailable
	case models.ReasonTimeout:
		return dErrors.CodeTimeout
	case models.ReasonNetwork:
		return dErrors.CodeNetwork
	}
	if status >= 400 && status < 500 {
		return dErrors.CodeBadRequest
	}
	return dErrors.CodeInternal
}

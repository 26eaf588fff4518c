// Package authority forwards confirmed verifications to the downstream
// service that grants community access.
package authority

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
	"syscall"
	"time"

	"gatekeeper/internal/relay/models"
	dErrors "gatekeeper/pkg/domain-errors"
)

// DefaultTimeout bounds a single forward call.
const DefaultTimeout = 10 * time.Second

const maxBodyBytes = 64 << 10

// HTTPDoer is satisfied by *http.Client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client posts to {baseURL}/verified with the shared bearer secret.
type Client struct {
	endpoint string
	secret   string
	timeout  time.Duration
	http     HTTPDoer
}

// Option configures the Client.
type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

func WithHTTPClient(d HTTPDoer) Option {
	return func(c *Client) { c.http = d }
}

func New(baseURL, secret string, opts ...Option) *Client {
	c := &Client{
		endpoint: strings.TrimRight(baseURL, "/") + "/verified",
		secret:   secret,
		timeout:  DefaultTimeout,
		http:     &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Forward delivers the confirmation. Failures are domain errors with code
// CodeDownstreamUnavailable and a models.ReasonDownstream* reason.
func (c *Client) Forward(ctx context.Context, in *models.AuthorityRequest) error {
	body, err := json.Marshal(in)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "encode authority request")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeConfiguration, "build authority request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.secret)

	resp, err := c.http.Do(req)
	if err != nil {
		return classifyTransport(ctx, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))

	switch {
	case resp.StatusCode >= 500:
		return downstream(models.ReasonDownstream5xx, fmt.Sprintf("authority returned %d", resp.StatusCode), nil)
	case resp.StatusCode >= 400:
		return downstream(models.ReasonDownstream4xx, fmt.Sprintf("authority returned %d", resp.StatusCode), nil)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return downstream(models.ReasonDownstream4xx, fmt.Sprintf("authority returned %d", resp.StatusCode), nil)
	}

	// an empty or non-JSON 2xx body counts as accepted
	var out models.AuthorityResponse
	if len(bytes.TrimSpace(raw)) > 0 && json.Unmarshal(raw, &out) == nil && out.Rejected() {
		msg := out.Message
		if msg == "" {
			msg = out.Error
		}
		if msg == "" {
			msg = "authority rejected the verification"
		}
		return downstream(models.ReasonDownstreamRejected, msg, nil)
	}
	return nil
}

func classifyTransport(ctx context.Context, err error) error {
	var netErr net.Error
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded),
		errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr) && netErr.Timeout():
		return downstream(models.ReasonDownstreamTimeout, "authority timed out", err)
	case errors.Is(ctx.Err(), context.Canceled), errors.Is(err, context.Canceled):
		// the caller went away; the authority is not at fault
		return &dErrors.Error{
			Code:    dErrors.CodeTimeout,
			Reason:  models.ReasonTimeout,
			Message: "verification request canceled",
			Err:     err,
		}
	case errors.Is(err, syscall.ECONNREFUSED):
		return downstream(models.ReasonDownstreamRefused, "authority refused the connection", err)
	default:
		return downstream(models.ReasonDownstreamRefused, "authority unreachable", err)
	}
}

func downstream(reason, msg string, cause error) error {
	return &dErrors.Error{
		Code:    dErrors.CodeDownstreamUnavailable,
		Reason:  reason,
		Message: msg,
		Err:     cause,
	}
}

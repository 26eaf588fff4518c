// Package siteverify asks the challenge provider whether a token is genuine.
package siteverify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"gatekeeper/internal/relay/models"
)

// DefaultURL is the reCAPTCHA v3 verification endpoint.
const DefaultURL = "https://www.google.com/recaptcha/api/siteverify"

const (
	defaultTimeout = 10 * time.Second
	maxBodyBytes   = 64 << 10
)

// HTTPDoer is satisfied by *http.Client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client posts tokens to the verification endpoint.
type Client struct {
	url    string
	secret string
	http   HTTPDoer
}

// Option configures the Client.
type Option func(*Client)

// WithURL overrides the verification endpoint.
func WithURL(u string) Option {
	return func(c *Client) { c.url = u }
}

// WithHTTPClient overrides the transport.
func WithHTTPClient(d HTTPDoer) Option {
	return func(c *Client) { c.http = d }
}

func New(secret string, opts ...Option) *Client {
	c := &Client{
		url:    DefaultURL,
		secret: secret,
		http:   &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Verify sends secret, response and (when known) remoteip as a form.
// Refused tokens are not errors: inspect Success and ErrorCodes.
func (c *Client) Verify(ctx context.Context, token, remoteIP string) (*models.SiteVerifyResponse, error) {
	form := url.Values{
		"secret":   {c.secret},
		"response": {token},
	}
	if remoteIP != "" {
		form.Set("remoteip", remoteIP)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build siteverify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("siteverify request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("siteverify returned status %d", resp.StatusCode)
	}

	var out models.SiteVerifyResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode siteverify response: %w", err)
	}
	return &out, nil
}

package resolver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// maxBodyBytes caps provider responses; every supported provider answers with
// a small JSON or plain-text document.
const maxBodyBytes = 1 << 20

// HTTPDoer is the minimal interface needed from an HTTP client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Adapter converts a provider response body into a value. Returning an error
// marks the response as non-conforming and the sweep moves on.
type Adapter[T any] func(body []byte) (T, error)

// HTTPConfig configures an HTTPProvider.
type HTTPConfig[T any] struct {
	ID        string
	URL       string
	Client    HTTPDoer
	Adapter   Adapter[T]
	Headers   map[string]string
	UserAgent string
}

// HTTPProvider fetches a value with a single GET request.
type HTTPProvider[T any] struct {
	id        string
	url       string
	client    HTTPDoer
	adapter   Adapter[T]
	headers   map[string]string
	userAgent string
}

// NewHTTPProvider creates a GET-based provider.
func NewHTTPProvider[T any](cfg HTTPConfig[T]) *HTTPProvider[T] {
	client := cfg.Client
	if client == nil {
		// The resolver bounds each call; the client itself carries no timeout.
		client = http.DefaultClient
	}
	return &HTTPProvider[T]{
		id:        cfg.ID,
		url:       cfg.URL,
		client:    client,
		adapter:   cfg.Adapter,
		headers:   cfg.Headers,
		userAgent: cfg.UserAgent,
	}
}

// ID returns the provider identifier
func (p *HTTPProvider[T]) ID() string {
	return p.id
}

// Fetch performs the lookup and runs the adapter over the body.
func (p *HTTPProvider[T]) Fetch(ctx context.Context) (T, error) {
	var zero T

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return zero, NewProviderError(ErrorInternal, p.id, "failed to create request", err)
	}
	req.Header.Set("Accept", "application/json, text/plain;q=0.9")
	if p.userAgent != "" {
		req.Header.Set("User-Agent", p.userAgent)
	}
	for k, v := range p.headers {
		req.Header.Set(k, v)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, NewProviderError(ErrorTimeout, p.id, "request timeout", err)
		}
		return zero, NewProviderError(ErrorProviderOutage, p.id, "failed to execute request", err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(p.id, resp.StatusCode); err != nil {
		return zero, err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, NewProviderError(ErrorTimeout, p.id, "response timeout", err)
		}
		return zero, NewProviderError(ErrorBadData, p.id, "failed to read response", err)
	}

	value, err := p.adapter(body)
	if err != nil {
		return zero, NewProviderError(ErrorBadData, p.id, "unusable response", err)
	}
	return value, nil
}

func classifyStatus(providerID string, status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests:
		return NewProviderError(ErrorRateLimited, providerID, "rate limited", nil)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return NewProviderError(ErrorAuthentication, providerID, fmt.Sprintf("access refused (%d)", status), nil)
	case status >= 500:
		return NewProviderError(ErrorProviderOutage, providerID, fmt.Sprintf("provider error (%d)", status), nil)
	default:
		return NewProviderError(ErrorBadData, providerID, fmt.Sprintf("unexpected status %d", status), nil)
	}
}

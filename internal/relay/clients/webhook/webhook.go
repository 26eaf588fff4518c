// Package webhook delivers signed verification notifications.
//
// Each POST carries a compact HS256 JWT in SignatureHeader whose body_sha256
// claim binds the token to the exact request body.
package webhook

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"gatekeeper/internal/relay/models"
	"gatekeeper/pkg/platform/clock"
)

// SignatureHeader carries the signed token.
const SignatureHeader = "X-Gatekeeper-Signature"

const (
	issuer         = "gatekeeper"
	defaultTTL     = 5 * time.Minute
	defaultTimeout = 5 * time.Second
)

var ErrBodyMismatch = errors.New("webhook body does not match signature")

// Claims is the signature payload.
type Claims struct {
	BodySHA256 string `json:"body_sha256"`
	jwt.RegisteredClaims
}

// HTTPDoer is satisfied by *http.Client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Notifier posts WebhookPayloads.
type Notifier struct {
	url   string
	key   []byte
	ttl   time.Duration
	http  HTTPDoer
	clock clock.Clock
}

type Option func(*Notifier)

func WithHTTPClient(d HTTPDoer) Option {
	return func(n *Notifier) { n.http = d }
}

func WithClock(c clock.Clock) Option {
	return func(n *Notifier) { n.clock = c }
}

func New(url string, signingKey []byte, opts ...Option) *Notifier {
	n := &Notifier{
		url:   url,
		key:   signingKey,
		ttl:   defaultTTL,
		http:  &http.Client{Timeout: defaultTimeout},
		clock: clock.Real(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

func (n *Notifier) Notify(ctx context.Context, payload models.WebhookPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}
	sig, err := n.Sign(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, sig)

	resp, err := n.http.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// Sign issues the signature token for body.
func (n *Notifier) Sign(body []byte) (string, error) {
	now := n.clock.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		BodySHA256: digest(body),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(n.ttl)),
		},
	})
	signed, err := token.SignedString(n.key)
	if err != nil {
		return "", fmt.Errorf("sign webhook: %w", err)
	}
	return signed, nil
}

// Verify checks a received signature against body. Receivers use it to
// authenticate deliveries.
func Verify(signature string, body, key []byte, now time.Time) (*Claims, error) {
	claims := new(Claims)
	_, err := jwt.ParseWithClaims(signature, claims, func(t *jwt.Token) (any, error) {
		return key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("parse webhook signature: %w", err)
	}
	if claims.BodySHA256 != digest(body) {
		return nil, ErrBodyMismatch
	}
	return claims, nil
}

func digest(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

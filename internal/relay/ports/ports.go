// Package ports declares the collaborators the relay service talks to.
package ports

import (
	"context"

	"gatekeeper/internal/geo"
	"gatekeeper/internal/relay/models"
)

//go:generate mockgen -source=ports.go -destination=mocks/ports_mock.go -package=mocks

// SiteVerifier re-validates a challenge token with the challenge provider.
// An error means the provider could not be asked; a refused token is a
// response with Success false.
type SiteVerifier interface {
	Verify(ctx context.Context, token, remoteIP string) (*models.SiteVerifyResponse, error)
}

// Authority grants access once a verification is confirmed.
type Authority interface {
	Forward(ctx context.Context, req *models.AuthorityRequest) error
}

// Notifier delivers the post-success webhook.
type Notifier interface {
	Notify(ctx context.Context, payload models.WebhookPayload) error
}

// EventPublisher emits verification outcome events.
type EventPublisher interface {
	Publish(ctx context.Context, event models.OutcomeEvent) error
}

// Locator geolocates the server-observed client address.
type Locator interface {
	Locate(ctx context.Context, ip, timezone string) geo.Result
}

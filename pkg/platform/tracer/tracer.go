// Package tracer is a small tracing abstraction kept free of OpenTelemetry
// types so services can emit spans without importing the SDK.
//
// Implementations:
//   - Noop: tests and deployments without a collector
//   - OTel: OpenTelemetry adapter over the global tracer provider
package tracer

import (
	"context"
	"time"
)

// Span is an active trace span. End must be called exactly once.
type Span interface {
	// End completes the span; a non-nil err marks it failed.
	End(err error)
	SetAttributes(attrs ...Attribute)
	AddEvent(name string, attrs ...Attribute)
}

// Tracer creates spans. Implementations must be safe for concurrent use.
type Tracer interface {
	//   ctx, span := t.Start(ctx, tracer.SpanVerify, tracer.Bool(tracer.AttrGuild, true))
	//   defer span.End(err)
	Start(ctx context.Context, name string, attrs ...Attribute) (context.Context, Span)
}

// Attribute is a key-value pair attached to a span.
type Attribute struct {
	Key   string
	Value any
}

func String(key, value string) Attribute {
	return Attribute{Key: key, Value: value}
}

func Bool(key string, value bool) Attribute {
	return Attribute{Key: key, Value: value}
}

func Int64(key string, value int64) Attribute {
	return Attribute{Key: key, Value: value}
}

func Float64(key string, value float64) Attribute {
	return Attribute{Key: key, Value: value}
}

// Duration records value in milliseconds.
func Duration(key string, value time.Duration) Attribute {
	return Attribute{Key: key, Value: value.Milliseconds()}
}

// Span names used by the relay.
const (
	SpanVerify     = "relay.verify"
	SpanSiteVerify = "relay.siteverify"
	SpanAuthority  = "relay.authority"
	SpanGeo        = "relay.geolocate"
)

// Attribute keys used by the relay.
const (
	AttrUserHash   = "user.hash" // hashed, never the raw id
	AttrGuild      = "guild.present"
	AttrScore      = "challenge.score"
	AttrAction     = "challenge.action"
	AttrReason     = "verify.reason"
	AttrIPSource   = "client.ip_source"
	AttrGeoStatus  = "geo.status"
	AttrHTTPStatus = "http.status_code"
)

// Event names used by the relay.
const (
	EventWebhookSent    = "webhook.sent"
	EventOutcomeEmitted = "outcome.emitted"
)

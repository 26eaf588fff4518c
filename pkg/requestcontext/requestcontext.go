// Package requestcontext carries per-request metadata (request ID, client IP,
// user agent) through context.Context.
package requestcontext

import "context"

type (
	requestIDKey struct{}
	clientIPKey  struct{}
	ipSourceKey  struct{}
	userAgentKey struct{}
)

// WithRequestID stores the request ID.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// RequestID returns the request ID, or "" when none is set.
func RequestID(ctx context.Context) string {
	v, _ := ctx.Value(requestIDKey{}).(string)
	return v
}

// WithClientMetadata stores the resolved client IP, the header it came from, and the User-Agent.
func WithClientMetadata(ctx context.Context, ip, source, userAgent string) context.Context {
	ctx = context.WithValue(ctx, clientIPKey{}, ip)
	ctx = context.WithValue(ctx, ipSourceKey{}, source)
	return context.WithValue(ctx, userAgentKey{}, userAgent)
}

func ClientIP(ctx context.Context) string {
	v, _ := ctx.Value(clientIPKey{}).(string)
	return v
}

// ClientIPSource names where ClientIP was read from (e.g. "cf-connecting-ip", "remote-addr").
func ClientIPSource(ctx context.Context) string {
	v, _ := ctx.Value(ipSourceKey{}).(string)
	return v
}

func UserAgent(ctx context.Context) string {
	v, _ := ctx.Value(userAgentKey{}).(string)
	return v
}

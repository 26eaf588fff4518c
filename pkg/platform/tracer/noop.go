package tracer

import "context"

// Noop is a tracer that records nothing.
type Noop struct{}

func NewNoop() *Noop {
	return &Noop{}
}

// Start returns ctx unchanged and a span that ignores every call.
func (t *Noop) Start(ctx context.Context, _ string, _ ...Attribute) (context.Context, Span) {
	return ctx, noopSpan{}
}

type noopSpan struct{}

func (noopSpan) End(error)                     {}
func (noopSpan) SetAttributes(...Attribute)    {}
func (noopSpan) AddEvent(string, ...Attribute) {}

var (
	_ Tracer = (*Noop)(nil)
	_ Span   = noopSpan{}
)

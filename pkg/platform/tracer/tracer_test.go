package tracer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace/noop"
)

func TestNoopTracer(t *testing.T) {
	ctx := context.Background()

	newCtx, span := NewNoop().Start(ctx, SpanVerify, String("k", "v"))

	assert.Equal(t, ctx, newCtx)
	require.NotNil(t, span)
	span.SetAttributes(Bool(AttrGuild, true))
	span.AddEvent(EventWebhookSent)
	span.End(errors.New("ignored"))
}

func TestOTelTracerWithInjectedProvider(t *testing.T) {
	tr := NewOTel(WithOTelTracer(noop.NewTracerProvider().Tracer("test")))

	_, span := tr.Start(context.Background(), SpanAuthority, Int64(AttrHTTPStatus, 200))
	require.NotNil(t, span)
	span.SetAttributes(Float64(AttrScore, 0.9))
	span.AddEvent(EventOutcomeEmitted, String(AttrReason, "score_too_low"))
	span.End(errors.New("downstream refused"))
}

func TestConvert(t *testing.T) {
	got := convert([]Attribute{
		String("s", "x"),
		Bool("b", true),
		Int64("i", 7),
		{Key: "n", Value: 3},
		Float64("f", 0.5),
		{Key: "dropped", Value: struct{}{}},
	})

	assert.Equal(t, []attribute.KeyValue{
		attribute.String("s", "x"),
		attribute.Bool("b", true),
		attribute.Int64("i", 7),
		attribute.Int("n", 3),
		attribute.Float64("f", 0.5),
	}, got)
	assert.Nil(t, convert(nil))
}

func TestDurationIsMilliseconds(t *testing.T) {
	assert.Equal(t, int64(150), Duration("latency", 150*time.Millisecond).Value)
}

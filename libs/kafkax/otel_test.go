package kafkax

import (
	"context"
	"testing"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestInjectTraceHeadersAppends(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(prev) })

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	headers := InjectTraceHeaders(ctx, []kafka.Header{
		{Key: "event_id", Value: []byte("evt-1")},
	})

	if got := HeaderValue(headers, "event_id"); got != "evt-1" {
		t.Fatalf("existing header lost: %q", got)
	}
	traceparent := HeaderValue(headers, "traceparent")
	if traceparent == "" {
		t.Fatal("traceparent header was not appended")
	}

	extracted := ExtractTraceContext(context.Background(), kafka.Message{Headers: headers})
	got := trace.SpanContextFromContext(extracted)
	if got.TraceID() != traceID {
		t.Fatalf("trace id did not round-trip: got %s", got.TraceID())
	}
}

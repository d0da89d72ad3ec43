package tracing

import (
	"context"
	"testing"
)

const sampleTraceParent = "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"

func TestExtractAndInjectRoundTrip(t *testing.T) {
	ctx := Extract(context.Background(), sampleTraceParent)

	if got := TraceID(ctx); got != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Fatalf("unexpected trace id %q", got)
	}
	if got := Inject(ctx); got != sampleTraceParent {
		t.Fatalf("round trip mismatch: %q", got)
	}
}

func TestExtractEmptyValue(t *testing.T) {
	ctx := context.Background()
	if got := Extract(ctx, ""); got != ctx {
		t.Fatal("empty traceparent must return ctx unchanged")
	}
	if TraceID(ctx) != "" {
		t.Fatal("no span context means no trace id")
	}
}

func TestExtractMalformedValue(t *testing.T) {
	ctx := Extract(context.Background(), "not-a-traceparent")
	if TraceID(ctx) != "" {
		t.Fatal("malformed traceparent must not yield a trace id")
	}
}

func TestInjectWithoutSpan(t *testing.T) {
	if got := Inject(context.Background()); got != "" {
		t.Fatalf("expected empty traceparent without a span, got %q", got)
	}
}

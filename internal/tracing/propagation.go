// Package tracing carries W3C trace context across the workflow boundary.
// Workflow inputs transport the traceparent header as an opaque string;
// activities re-attach it so their logs and downstream calls correlate with
// the caller's trace.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const traceParentHeader = "traceparent"

var propagator = propagation.TraceContext{}

// Inject serializes the current span context into a traceparent value.
// Returns the empty string when the context carries no valid span.
func Inject(ctx context.Context) string {
	carrier := propagation.MapCarrier{}
	propagator.Inject(ctx, carrier)
	return carrier.Get(traceParentHeader)
}

// Extract attaches the remote span context from a traceparent value. An
// empty or malformed value returns ctx unchanged.
func Extract(ctx context.Context, traceParent string) context.Context {
	if traceParent == "" {
		return ctx
	}
	carrier := propagation.MapCarrier{traceParentHeader: traceParent}
	return propagator.Extract(ctx, carrier)
}

// TraceID returns the hex trace id of the span context attached to ctx, or
// the empty string when there is none.
func TraceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return ""
	}
	return sc.TraceID().String()
}

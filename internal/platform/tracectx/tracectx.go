// Package tracectx carries the W3C trace-context pair (traceparent,
// tracestate) through a turn so the Controller and Emittable Event
// Factory can stamp it onto outbound events without standing up any
// tracing SDK or exporter — distributed tracing infrastructure itself is
// an external collaborator this module does not own.
package tracectx

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

type traceDataKey struct{}

// TraceData is the minimal carrier this module threads through a turn.
type TraceData struct {
	Traceparent string
	Tracestate  string
}

// WithTraceData attaches a TraceData to ctx, overriding any previously
// attached value.
func WithTraceData(ctx context.Context, td *TraceData) context.Context {
	return context.WithValue(ctx, traceDataKey{}, td)
}

// FromContext returns the TraceData attached to ctx, or nil if none was
// ever attached.
func FromContext(ctx context.Context) *TraceData {
	td, _ := ctx.Value(traceDataKey{}).(*TraceData)
	return td
}

// FromSpanContext derives a TraceData from an active otel span context,
// formatting a traceparent header per the W3C spec (version "00"). It
// returns nil when ctx carries no span context with both a trace id and
// a span id, which is the common case when the caller never attached an
// active otel tracer — callers
// should fall back to whatever traceparent arrived on the inbound event.
func FromSpanContext(ctx context.Context) *TraceData {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() || !sc.HasSpanID() {
		return nil
	}
	flags := "00"
	if sc.IsSampled() {
		flags = "01"
	}
	return &TraceData{
		Traceparent: "00-" + sc.TraceID().String() + "-" + sc.SpanID().String() + "-" + flags,
		Tracestate:  sc.TraceState().String(),
	}
}

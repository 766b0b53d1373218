package tracectx

import (
	"context"
	"testing"
)

func TestWithTraceDataRoundTrip(t *testing.T) {
	td := &TraceData{Traceparent: "00-aaaa-bbbb-01", Tracestate: "vendor=x"}
	ctx := WithTraceData(context.Background(), td)
	got := FromContext(ctx)
	if got != td {
		t.Fatalf("FromContext returned %+v, want the same pointer %+v", got, td)
	}
}

func TestFromContextNilWhenNeverAttached(t *testing.T) {
	if got := FromContext(context.Background()); got != nil {
		t.Fatalf("expected nil, got %+v", got)
	}
}

func TestFromSpanContextNilWithoutActiveSpan(t *testing.T) {
	if got := FromSpanContext(context.Background()); got != nil {
		t.Fatalf("expected nil without a recording span, got %+v", got)
	}
}

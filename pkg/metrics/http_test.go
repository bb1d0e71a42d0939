package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.opentelemetry.io/otel/trace"
)

func sampledContext() (context.Context, trace.SpanContext) {
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{0xa, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15},
		SpanID:     trace.SpanID{0xb, 1, 2, 3, 4, 5, 6, 7},
		TraceFlags: trace.FlagsSampled,
	})
	return trace.ContextWithSpanContext(context.Background(), sc), sc
}

func TestRecordHTTPRequest_AttachesTraceExemplar(t *testing.T) {
	m := NewManager(DefaultConfig())
	ctx, sc := sampledContext()

	m.RecordHTTPRequest(ctx, "POST", "/api/v1/spikes", "202", 3*time.Millisecond)
	m.RecordHTTPRequest(context.Background(), "POST", "/api/v1/spikes", "429", time.Millisecond)

	if got := testutil.ToFloat64(m.httpRequests.WithLabelValues("POST", "/api/v1/spikes", "202")); got != 1 {
		t.Errorf("expected one accepted emit, got %v", got)
	}
	if got := testutil.ToFloat64(m.httpRequests.WithLabelValues("POST", "/api/v1/spikes", "429")); got != 1 {
		t.Errorf("expected one limited emit, got %v", got)
	}

	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	var found bool
	for _, mf := range families {
		if mf.GetName() != "spikeflow_http_request_duration_seconds" {
			continue
		}
		for _, metric := range mf.GetMetric() {
			for _, b := range metric.GetHistogram().GetBucket() {
				ex := b.GetExemplar()
				if ex == nil {
					continue
				}
				for _, lp := range ex.GetLabel() {
					if lp.GetName() == "trace_id" && lp.GetValue() == sc.TraceID().String() {
						found = true
					}
				}
			}
		}
	}
	if !found {
		t.Error("expected a bucket exemplar carrying the request trace id")
	}
}

func TestActiveConnections(t *testing.T) {
	m := NewManager(DefaultConfig())
	m.IncActiveConnections()
	m.IncActiveConnections()
	m.DecActiveConnections()

	if got := testutil.ToFloat64(m.httpConnections); got != 1 {
		t.Errorf("expected 1 active connection, got %v", got)
	}
}

func TestTraceExemplarLabels(t *testing.T) {
	ctx, sc := sampledContext()
	labels, ok := traceExemplarLabels(ctx)
	if !ok {
		t.Fatal("expected exemplar labels from a valid span context")
	}
	if labels["trace_id"] != sc.TraceID().String() || labels["span_id"] != sc.SpanID().String() {
		t.Errorf("unexpected labels %v", labels)
	}

	if labels, ok := traceExemplarLabels(context.Background()); ok {
		t.Errorf("expected no labels without a span, got %v", labels)
	}
}

package tracing

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// newSpanRecorder installs a recording tracer provider for one test.
func newSpanRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
	})
	return recorder
}

func TestStartSpan(t *testing.T) {
	recorder := newSpanRecorder(t)

	_, endSpan := StartSpan(context.Background(), "sla.reconcile")
	endSpan(nil)

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Name() != "sla.reconcile" {
		t.Errorf("span name = %q, want sla.reconcile", spans[0].Name())
	}
	if spans[0].Status().Code == codes.Error {
		t.Error("span without error should not carry error status")
	}
}

func TestStartSpanRecordsError(t *testing.T) {
	recorder := newSpanRecorder(t)

	_, endSpan := StartSpan(context.Background(), "retention.cycle")
	endSpan(errors.New("archive sink unavailable"))

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	span := spans[0]
	if span.Status().Code != codes.Error {
		t.Errorf("span status = %v, want error", span.Status().Code)
	}
	if len(span.Events()) == 0 {
		t.Error("expected a recorded error event on the span")
	}
}

func TestAddEventAndSetAttributes(t *testing.T) {
	recorder := newSpanRecorder(t)

	ctx, endSpan := StartSpan(context.Background(), "ingest.flush")
	SetAttributes(ctx, attribute.Int("batch.size", 100))
	AddEvent(ctx, "flush_committed", attribute.Bool("retried", false))
	endSpan(nil)

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	span := spans[0]

	foundAttr := false
	for _, attr := range span.Attributes() {
		if attr.Key == "batch.size" && attr.Value.AsInt64() == 100 {
			foundAttr = true
		}
	}
	if !foundAttr {
		t.Error("batch.size attribute not recorded")
	}

	foundEvent := false
	for _, ev := range span.Events() {
		if ev.Name == "flush_committed" {
			foundEvent = true
		}
	}
	if !foundEvent {
		t.Error("flush_committed event not recorded")
	}
}

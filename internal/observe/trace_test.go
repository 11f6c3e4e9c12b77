package observe

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// newTestTracerProvider returns a TracerProvider with an in-memory exporter
// for inspecting recorded spans.
func newTestTracerProvider(t *testing.T) (*sdktrace.TracerProvider, *tracetest.InMemoryExporter) {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return tp, exp
}

func TestStartSpan_CreatesSpan(t *testing.T) {
	tp, exp := newTestTracerProvider(t)

	// Temporarily override the global provider.
	origTP := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(origTP) })

	ctx, span := StartSpan(context.Background(), "capture-session")
	if !span.SpanContext().HasTraceID() {
		t.Error("StartSpan did not create a span with a trace ID")
	}
	_ = ctx

	span.End()
	spans := exp.GetSpans()
	if len(spans) == 0 {
		t.Fatal("no spans recorded")
	}
	if spans[0].Name != "capture-session" {
		t.Errorf("span name = %q, want %q", spans[0].Name, "capture-session")
	}
}

func TestLogger_NoSpanIsDefault(t *testing.T) {
	l := Logger(context.Background())
	if l == nil {
		t.Fatal("Logger returned nil")
	}
}

func TestLogger_IncludesTraceIDs(t *testing.T) {
	tp, _ := newTestTracerProvider(t)
	tracer := tp.Tracer("test")

	ctx, span := tracer.Start(context.Background(), "test-span")
	defer span.End()

	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(orig) })

	Logger(ctx).Info("hello")

	out := buf.String()
	if !bytes.Contains(buf.Bytes(), []byte("trace_id=")) {
		t.Errorf("log line missing trace_id: %s", out)
	}
	if !bytes.Contains(buf.Bytes(), []byte("span_id=")) {
		t.Errorf("log line missing span_id: %s", out)
	}
}

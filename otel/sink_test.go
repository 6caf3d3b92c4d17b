package otel_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/petal-labs/rootstock/core"
	rsotel "github.com/petal-labs/rootstock/otel"
)

func newTestTracer() (*tracetest.InMemoryExporter, *sdktrace.TracerProvider) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
	)
	return exporter, tp
}

type nextSink struct {
	mu   sync.Mutex
	errs []error
}

func (s *nextSink) Report(_ context.Context, err error, _ ...slog.Attr) {
	s.mu.Lock()
	s.errs = append(s.errs, err)
	s.mu.Unlock()
}

func TestSpanSink_RecordsOnActiveSpan(t *testing.T) {
	exporter, tp := newTestTracer()
	tracer := tp.Tracer("test")

	ctx, span := tracer.Start(context.Background(), "dispatch")
	sink := rsotel.SpanSink{Tracer: tracer}
	sink.Report(ctx, errors.New("listener failed"), slog.String("bus", "server.deploy"))
	span.End()

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("exported %d spans, want 1", len(spans))
	}
	got := spans[0]
	if got.Name != "dispatch" {
		t.Errorf("span name = %q, want the caller's span", got.Name)
	}
	if got.Status.Code != codes.Error {
		t.Errorf("status = %v, want error", got.Status.Code)
	}
	var sawException bool
	for _, ev := range got.Events {
		if ev.Name == "exception" {
			sawException = true
		}
	}
	if !sawException {
		t.Error("error was not recorded as an exception event")
	}
}

func TestSpanSink_CreatesStandaloneSpanWithoutContext(t *testing.T) {
	exporter, tp := newTestTracer()
	tracer := tp.Tracer("test")

	sink := rsotel.SpanSink{Tracer: tracer}
	sink.Report(context.Background(), errors.New("task panicked"), slog.String("task", "cert-renewal"))

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("exported %d spans, want 1 standalone fault span", len(spans))
	}
	if spans[0].Name != "rootstock.fault" {
		t.Errorf("span name = %q, want rootstock.fault", spans[0].Name)
	}
}

func TestSpanSink_ForwardsToNext(t *testing.T) {
	_, tp := newTestTracer()
	tracer := tp.Tracer("test")

	next := &nextSink{}
	sink := rsotel.SpanSink{Tracer: tracer, Next: next}

	wantErr := errors.New("flush failed")
	sink.Report(context.Background(), wantErr)

	next.mu.Lock()
	defer next.mu.Unlock()
	if len(next.errs) != 1 || !errors.Is(next.errs[0], wantErr) {
		t.Errorf("next sink saw %v, want the reported error", next.errs)
	}
}

var _ core.ErrorSink = rsotel.SpanSink{}

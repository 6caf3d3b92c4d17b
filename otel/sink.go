package otel

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/petal-labs/rootstock/core"
)

// SpanSink is an ErrorSink that attaches contained faults to tracing.
// If the reporting context carries an active span, the error is recorded
// on it; otherwise a short standalone span is created so the fault still
// reaches the trace backend. An optional Next sink is always invoked
// afterwards, so SpanSink composes with the default log sink.
type SpanSink struct {
	Tracer trace.Tracer
	Next   core.ErrorSink
}

// Report records err on the active or a fresh span, then forwards to Next.
func (s SpanSink) Report(ctx context.Context, err error, attrs ...slog.Attr) {
	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() && s.Tracer != nil {
		var standalone trace.Span
		_, standalone = s.Tracer.Start(ctx, "rootstock.fault")
		span = standalone
		defer span.End()
	}
	if span.SpanContext().IsValid() || span.IsRecording() {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(toAttributes(attrs)...)
	}
	if s.Next != nil {
		s.Next.Report(ctx, err, attrs...)
	}
}

func toAttributes(attrs []slog.Attr) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(attrs))
	for _, a := range attrs {
		out = append(out, attribute.String(a.Key, a.Value.String()))
	}
	return out
}

var _ core.ErrorSink = SpanSink{}

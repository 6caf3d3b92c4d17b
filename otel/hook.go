package otel

import (
	"context"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/petal-labs/rootstock/hook"
)

// TraceHook wraps a hook pipeline so every Trigger runs inside a span
// named after the lifecycle point (e.g. "hook.server.before_create").
// Pipeline errors are recorded on the span and returned unchanged, so
// the caller's rollback behavior is unaffected.
func TraceHook[E any](tracer trace.Tracer, name string, h *hook.Hook[E]) func(ctx context.Context, e *E) error {
	return func(ctx context.Context, e *E) error {
		ctx, span := tracer.Start(ctx, name)
		defer span.End()

		if err := h.Trigger(ctx, e); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
		return nil
	}
}

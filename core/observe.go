package core

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
)

// ErrorSink receives faults that were contained inside one unit of
// isolated work (a bus listener, a task iteration, a shutdown handler).
// Implementations must be safe for concurrent use.
type ErrorSink interface {
	Report(ctx context.Context, err error, attrs ...slog.Attr)
}

// LogSink reports errors to a structured logger. It is the default sink
// when the host does not wire external error telemetry.
type LogSink struct {
	Logger *slog.Logger
}

// Report logs the error at error level with the given attributes.
func (s LogSink) Report(ctx context.Context, err error, attrs ...slog.Attr) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.LogAttrs(ctx, slog.LevelError, err.Error(), attrs...)
}

// PanicError wraps a recovered panic value so it can travel as an error
// through the sink and task records.
type PanicError struct {
	// Value is the recovered panic payload.
	Value any

	// Stack is the goroutine stack captured at recovery time.
	Stack []byte
}

// Error returns the stringified panic payload.
func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Recovered captures a panic value and the current stack.
// Call it with the result of recover().
func Recovered(v any) *PanicError {
	return &PanicError{Value: v, Stack: debug.Stack()}
}

var _ ErrorSink = LogSink{}

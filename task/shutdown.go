package task

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/petal-labs/rootstock/core"
)

// ShutdownConfig configures a Shutdown coordinator.
type ShutdownConfig struct {
	// Logger receives teardown faults (default slog.Default).
	Logger *slog.Logger

	// Sink receives teardown faults for external telemetry. Optional.
	Sink core.ErrorSink
}

// Shutdown runs registered teardown callbacks sequentially during
// graceful shutdown. Unlike the hook pipeline it never aborts early:
// a failing or panicking handler is logged and the remaining handlers
// still run, on every instance regardless of the primary flag.
type Shutdown struct {
	logger *slog.Logger
	sink   core.ErrorSink

	mu       sync.Mutex
	handlers map[string]Func
}

// NewShutdown creates an empty coordinator.
func NewShutdown(cfg ShutdownConfig) *Shutdown {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Shutdown{
		logger:   logger,
		sink:     cfg.Sink,
		handlers: make(map[string]Func),
	}
}

// Add registers a named teardown callback. Registering the same name
// twice replaces the earlier callback.
func (s *Shutdown) Add(name string, fn Func) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	s.handlers[name] = fn
	s.mu.Unlock()
}

// Len returns the number of pending teardown callbacks.
func (s *Shutdown) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handlers)
}

// Run invokes every registered handler once, in map iteration order.
// Handlers registered after Run starts are not picked up; each entry is
// consumed exactly once.
func (s *Shutdown) Run(ctx context.Context, app *core.App) {
	s.mu.Lock()
	pending := s.handlers
	s.handlers = make(map[string]Func)
	s.mu.Unlock()

	for name, fn := range pending {
		if err := s.runOne(ctx, app, name, fn); err != nil {
			s.logger.LogAttrs(ctx, slog.LevelError, "shutdown handler failed",
				slog.String("handler", name),
				slog.String("error", err.Error()),
			)
			if s.sink != nil {
				s.sink.Report(ctx, err, slog.String("handler", name))
			}
		}
	}
}

func (s *Shutdown) runOne(ctx context.Context, app *core.App, name string, fn Func) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = fmt.Errorf("shutdown handler %s: %w", name, core.Recovered(v))
		}
	}()
	return fn(ctx, app)
}

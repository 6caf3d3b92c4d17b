// Package task owns the long-running background work contributed by
// extensions: supervised periodic loops, cron-paced jobs, and the
// graceful-shutdown handler chain.
package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/petal-labs/rootstock/core"
)

// Func is one unit of background work. Loop bodies are responsible for
// their own pacing (typically an internal delay honoring ctx).
type Func func(ctx context.Context, app *core.App) error

// SupervisorConfig configures a Supervisor.
type SupervisorConfig struct {
	// App is the process context forwarded to every task body. Its
	// Primary flag decides, once at registration time, whether tasks
	// actually spawn on this instance.
	App *core.App

	// Logger receives task faults (default slog.Default).
	Logger *slog.Logger

	// Sink receives task panics and errors for external telemetry. Optional.
	Sink core.ErrorSink

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Supervisor runs one supervised loop goroutine per registered task.
// An error return from a task body is logged and the loop continues; a
// panic is caught, reported, and stops that task's loop permanently.
type Supervisor struct {
	app    *core.App
	logger *slog.Logger
	sink   core.ErrorSink
	now    func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	tasks  map[string]*taskState
	closed bool
}

// NewSupervisor creates a supervisor. Call Close to stop all task loops.
func NewSupervisor(cfg SupervisorConfig) *Supervisor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		app:    cfg.App,
		logger: logger,
		sink:   cfg.Sink,
		now:    now,
		ctx:    ctx,
		cancel: cancel,
		tasks:  make(map[string]*taskState),
	}
}

// Add registers a named task and starts its loop. On a non-primary
// instance Add is a no-op: singleton periodic work must not run across a
// horizontally-scaled fleet, and the flag is checked once here, not per
// iteration.
func (s *Supervisor) Add(name string, fn Func) error {
	return s.add(name, nil, fn)
}

// AddCron registers a task paced by a UTC cron expression. The body runs
// once per scheduled tick, with the same fault policy as Add.
func (s *Supervisor) AddCron(name, expr string, fn Func) error {
	schedule, err := parseCronExpressionUTC(expr)
	if err != nil {
		return fmt.Errorf("task: %s: %w", name, err)
	}
	wait := func(ctx context.Context) bool {
		next := schedule.Next(s.now().UTC())
		timer := time.NewTimer(next.Sub(s.now().UTC()))
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return false
		case <-timer.C:
			return true
		}
	}
	return s.add(name, wait, fn)
}

func (s *Supervisor) add(name string, wait func(context.Context) bool, fn Func) error {
	if name == "" {
		return errors.New("task: name is required")
	}
	if fn == nil {
		return fmt.Errorf("task: %s: func is nil", name)
	}
	if !s.app.IsPrimary() {
		s.logger.Debug("task skipped on non-primary instance", "task", name)
		return nil
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.New("task: supervisor is closed")
	}
	if _, exists := s.tasks[name]; exists {
		s.mu.Unlock()
		return fmt.Errorf("task: %s: already registered", name)
	}
	st := &taskState{name: name}
	s.tasks[name] = st
	s.wg.Add(1)
	s.mu.Unlock()

	go s.loop(st, wait, fn)
	return nil
}

// loop is the supervised run loop for a single task.
func (s *Supervisor) loop(st *taskState, wait func(context.Context) bool, fn Func) {
	defer s.wg.Done()
	for {
		if s.ctx.Err() != nil {
			return
		}
		if wait != nil && !wait(s.ctx) {
			return
		}
		if s.ctx.Err() != nil {
			return
		}

		st.begin(s.now())
		err := s.runOnce(fn)

		var perr *core.PanicError
		if errors.As(err, &perr) {
			st.finish(err, true)
			s.logger.LogAttrs(s.ctx, slog.LevelError, "background task panicked, stopping its loop",
				slog.String("task", st.name),
				slog.String("panic", fmt.Sprint(perr.Value)),
			)
			if s.sink != nil {
				s.sink.Report(s.ctx, err, slog.String("task", st.name))
			}
			return
		}
		if err != nil {
			st.finish(err, false)
			s.logger.LogAttrs(s.ctx, slog.LevelError, "background task failed",
				slog.String("task", st.name),
				slog.String("error", err.Error()),
			)
			if s.sink != nil {
				s.sink.Report(s.ctx, err, slog.String("task", st.name))
			}
			continue
		}
		st.finish(nil, false)
	}
}

func (s *Supervisor) runOnce(fn Func) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = core.Recovered(v)
		}
	}()
	return fn(s.ctx, s.app)
}

// Close stops every task loop and waits for them to exit. Idempotent.
func (s *Supervisor) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.wg.Wait()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}

// Record is a read-only view of one task's state for health endpoints.
type Record struct {
	Name      string    `json:"name"`
	LastRun   time.Time `json:"last_run"`
	Runs      uint64    `json:"runs"`
	Successes uint64    `json:"successes"`
	LastError string    `json:"last_error,omitempty"`
	Stopped   bool      `json:"stopped"`
}

// Records returns a snapshot of all task records, sorted by name.
func (s *Supervisor) Records() []Record {
	s.mu.Lock()
	states := make([]*taskState, 0, len(s.tasks))
	for _, st := range s.tasks {
		states = append(states, st)
	}
	s.mu.Unlock()

	out := make([]Record, 0, len(states))
	for _, st := range states {
		out = append(out, st.record())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// taskState is mutated by exactly one loop goroutine and read by Records.
type taskState struct {
	mu        sync.Mutex
	name      string
	lastRun   time.Time
	runs      uint64
	successes uint64
	lastErr   error
	stopped   bool
}

func (st *taskState) begin(now time.Time) {
	st.mu.Lock()
	st.lastRun = now
	st.runs++
	st.mu.Unlock()
}

func (st *taskState) finish(err error, stopped bool) {
	st.mu.Lock()
	if err != nil {
		st.lastErr = err
	} else {
		st.successes++
	}
	if stopped {
		st.stopped = true
	}
	st.mu.Unlock()
}

func (st *taskState) record() Record {
	st.mu.Lock()
	defer st.mu.Unlock()
	r := Record{
		Name:      st.name,
		LastRun:   st.lastRun,
		Runs:      st.runs,
		Successes: st.successes,
		Stopped:   st.stopped,
	}
	if st.lastErr != nil {
		r.LastError = st.lastErr.Error()
	}
	return r
}

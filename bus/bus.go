// Package bus provides the asynchronous event distribution channel of the
// rootstock extension runtime. The host builds one Bus per concrete event
// type; extensions subscribe listeners against it, and core domain code
// emits events after the fact without knowing who is listening.
//
// Delivery is fire-and-forget and best-effort: Emit never blocks the
// caller beyond a non-blocking channel send, and events are dropped when
// the internal queue is full. A single dispatch goroutine drains the
// queue FIFO and fans each event out to listeners, bounded by a counting
// semaphore. A panicking listener is isolated: its fault is logged and
// reported, and neither sibling listeners nor the dispatch loop are
// affected.
package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/petal-labs/rootstock/core"
	"github.com/petal-labs/rootstock/registry"
)

const (
	// DefaultQueueSize is the emission queue capacity when Config leaves it zero.
	DefaultQueueSize = 64

	// DefaultMaxConcurrent is the listener concurrency bound when Config leaves it zero.
	DefaultMaxConcurrent = 8
)

// Listener handles one delivered event. The envelope is shared by every
// concurrently-running listener for the same emission and must be treated
// as read-only. The context is the bus lifetime context; it is cancelled
// when the bus closes.
type Listener[T any] func(ctx context.Context, app *core.App, e *Envelope[T]) error

// Envelope wraps an emitted event for delivery.
type Envelope[T any] struct {
	// Event is the emitted payload.
	Event T

	// Seq is the dispatch sequence number within this bus, starting at 1.
	Seq uint64

	// Time is when the dispatch loop picked the event up.
	Time time.Time
}

// Config configures a Bus.
type Config struct {
	// Name identifies the bus in logs, metrics, and introspection.
	Name string

	// QueueSize is the emission queue capacity (default DefaultQueueSize).
	QueueSize int

	// MaxConcurrent bounds concurrent listener invocations for this bus
	// (default DefaultMaxConcurrent).
	MaxConcurrent int64

	// Logger receives listener faults (default slog.Default).
	Logger *slog.Logger

	// Sink receives listener faults for external error telemetry. Optional.
	Sink core.ErrorSink
}

// Bus distributes events of type T to registered listeners.
type Bus[T any] struct {
	name      string
	listeners *registry.Registry[Listener[T]]
	queue     chan emission[T]
	sem       *semaphore.Weighted
	logger    *slog.Logger
	sink      core.ErrorSink

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once

	seq       atomic.Uint64
	emitted   atomic.Uint64
	dropped   atomic.Uint64
	delivered atomic.Uint64
	failed    atomic.Uint64
}

type emission[T any] struct {
	app   *core.App
	event T
}

// New creates a bus and starts its dispatch goroutine. The goroutine runs
// until Close is called.
func New[T any](cfg Config) *Bus[T] {
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &Bus[T]{
		name:      cfg.Name,
		listeners: registry.New[Listener[T]](),
		queue:     make(chan emission[T], queueSize),
		sem:       semaphore.NewWeighted(maxConcurrent),
		logger:    logger,
		sink:      cfg.Sink,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	go b.dispatch(ctx)
	return b
}

// Name returns the bus name.
func (b *Bus[T]) Name() string {
	return b.name
}

// Subscribe registers a listener and returns its handle.
func (b *Bus[T]) Subscribe(fn Listener[T]) registry.Handle {
	return b.listeners.Register(fn)
}

// Unsubscribe removes a listener. Unsubscribing twice is a no-op.
func (b *Bus[T]) Unsubscribe(h registry.Handle) {
	b.listeners.Deregister(h)
}

// Emit queues an event for asynchronous delivery and returns immediately.
// If the queue is full the event is dropped: delivery is at-most-once and
// the bus is never a backpressure mechanism on the emitting caller.
func (b *Bus[T]) Emit(app *core.App, event T) {
	select {
	case b.queue <- emission[T]{app: app, event: event}:
		b.emitted.Add(1)
	default:
		b.dropped.Add(1)
	}
}

// Close stops the dispatch goroutine and waits for it to exit. In-flight
// listener invocations observe context cancellation. Close is idempotent.
func (b *Bus[T]) Close() {
	b.closeOnce.Do(func() {
		b.cancel()
		<-b.done
	})
}

// dispatch is the single long-lived drain loop. Events are picked up in
// emission order; listener invocations for one event run concurrently.
func (b *Bus[T]) dispatch(ctx context.Context) {
	defer close(b.done)
	for {
		select {
		case <-ctx.Done():
			return
		case em := <-b.queue:
			b.deliver(ctx, em)
		}
	}
}

func (b *Bus[T]) deliver(ctx context.Context, em emission[T]) {
	env := &Envelope[T]{
		Event: em.event,
		Seq:   b.seq.Add(1),
		Time:  time.Now(),
	}
	for _, fn := range b.listeners.Snapshot() {
		// Acquire fails only when the bus is closing.
		if err := b.sem.Acquire(ctx, 1); err != nil {
			return
		}
		go b.invoke(ctx, fn, em.app, env)
	}
}

func (b *Bus[T]) invoke(ctx context.Context, fn Listener[T], app *core.App, env *Envelope[T]) {
	defer b.sem.Release(1)
	defer func() {
		if v := recover(); v != nil {
			perr := core.Recovered(v)
			b.failed.Add(1)
			b.logger.LogAttrs(ctx, slog.LevelError, "bus listener panicked",
				slog.String("bus", b.name),
				slog.Uint64("seq", env.Seq),
				slog.String("panic", fmt.Sprint(v)),
			)
			if b.sink != nil {
				b.sink.Report(ctx, perr, slog.String("bus", b.name))
			}
		}
	}()

	if err := fn(ctx, app, env); err != nil {
		b.failed.Add(1)
		b.logger.LogAttrs(ctx, slog.LevelError, "bus listener failed",
			slog.String("bus", b.name),
			slog.Uint64("seq", env.Seq),
			slog.String("error", err.Error()),
		)
		if b.sink != nil {
			b.sink.Report(ctx, err, slog.String("bus", b.name))
		}
		return
	}
	b.delivered.Add(1)
}

// Stats is a point-in-time snapshot of bus counters for introspection.
type Stats struct {
	Name      string `json:"name"`
	Listeners int    `json:"listeners"`
	Emitted   uint64 `json:"emitted"`
	Dropped   uint64 `json:"dropped"`
	Delivered uint64 `json:"delivered"`
	Failed    uint64 `json:"failed"`
}

// Stats returns current counters.
func (b *Bus[T]) Stats() Stats {
	return Stats{
		Name:      b.name,
		Listeners: b.listeners.Len(),
		Emitted:   b.emitted.Load(),
		Dropped:   b.dropped.Load(),
		Delivered: b.delivered.Load(),
		Failed:    b.failed.Load(),
	}
}

// Introspector is the type-erased view a bus exposes to health endpoints.
type Introspector interface {
	Name() string
	Stats() Stats
}

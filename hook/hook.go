// Package hook provides the ordered interception pipeline run around
// entity lifecycle operations (create, update, delete). Unlike the event
// bus, hooks run synchronously inside the caller's own transaction
// context, in ascending priority order, and any hook error aborts the
// whole pipeline so the caller can roll back the pending write.
//
// The event type E is chosen by the host per lifecycle point. It
// typically carries the process context, the active transaction, and the
// not-yet-committed model; handlers may mutate it before the next handler
// runs.
package hook

import (
	"context"
	"sort"

	"github.com/petal-labs/rootstock/registry"
)

// Handler intercepts one lifecycle event. Returning an error aborts the
// pipeline; later handlers do not run.
type Handler[E any] func(ctx context.Context, e *E) error

// Hook is a priority-sorted chain of handlers for one lifecycle point of
// one entity type. The zero value is not usable; call New.
type Hook[E any] struct {
	handlers *registry.Registry[boundHandler[E]]
}

type boundHandler[E any] struct {
	priority int
	fn       Handler[E]
}

// New creates an empty hook.
func New[E any]() *Hook[E] {
	return &Hook[E]{
		handlers: registry.New[boundHandler[E]](),
	}
}

// Bind registers a handler at the given priority. Lower priorities run
// first; equal priorities run in registration order.
func (h *Hook[E]) Bind(priority int, fn Handler[E]) registry.Handle {
	return h.handlers.Register(boundHandler[E]{priority: priority, fn: fn})
}

// BindFunc registers a handler at priority 0.
func (h *Hook[E]) BindFunc(fn Handler[E]) registry.Handle {
	return h.Bind(0, fn)
}

// Unbind removes a handler. Unbinding twice is a no-op.
func (h *Hook[E]) Unbind(handle registry.Handle) {
	h.handlers.Deregister(handle)
}

// Len returns the number of bound handlers.
func (h *Hook[E]) Len() int {
	return h.handlers.Len()
}

// Trigger runs every bound handler sequentially in priority order, each
// with mutable access to e. The first error aborts the chain and is
// returned to the caller unchanged.
func (h *Hook[E]) Trigger(ctx context.Context, e *E) error {
	bound := h.handlers.Snapshot()
	// Snapshot preserves registration order, so a stable sort keeps ties
	// in that order.
	sort.SliceStable(bound, func(i, j int) bool { return bound[i].priority < bound[j].priority })

	for _, b := range bound {
		if err := b.fn(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

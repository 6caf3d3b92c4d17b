// Package registry provides the generic listener registry underneath the
// rootstock event bus and hook pipeline. It maps opaque registration
// handles to callbacks and supports concurrent register/deregister with
// lock-free invocation: dispatchers copy a snapshot out under a read
// lock and release it before calling anything.
package registry

import (
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Handle is the opaque token returned by Register. It is the only way to
// deregister a listener. Handles are unique per process.
type Handle string

// NewHandle returns a fresh random handle.
func NewHandle() Handle {
	return Handle(uuid.NewString())
}

// Registry is a concurrency-safe keyed collection of values of type T.
// The zero value is not usable; call New.
type Registry[T any] struct {
	mu      sync.RWMutex
	entries map[Handle]entry[T]
	seq     uint64
}

type entry[T any] struct {
	value T
	seq   uint64
}

// New creates an empty registry.
func New[T any]() *Registry[T] {
	return &Registry[T]{
		entries: make(map[Handle]entry[T]),
	}
}

// Register stores v and returns its handle.
func (r *Registry[T]) Register(v T) Handle {
	h := NewHandle()
	r.mu.Lock()
	r.entries[h] = entry[T]{value: v, seq: r.seq}
	r.seq++
	r.mu.Unlock()
	return h
}

// Deregister removes the entry for h. Removing an unknown or
// already-removed handle is a no-op.
func (r *Registry[T]) Deregister(h Handle) {
	r.mu.Lock()
	delete(r.entries, h)
	r.mu.Unlock()
}

// Snapshot copies out all registered values in insertion order.
// Registrations and deregistrations made after the snapshot was taken do
// not affect it.
func (r *Registry[T]) Snapshot() []T {
	r.mu.RLock()
	ordered := make([]entry[T], 0, len(r.entries))
	for _, e := range r.entries {
		ordered = append(ordered, e)
	}
	r.mu.RUnlock()

	sort.Slice(ordered, func(i, j int) bool { return ordered[i].seq < ordered[j].seq })

	out := make([]T, len(ordered))
	for i, e := range ordered {
		out[i] = e.value
	}
	return out
}

// Len returns the number of registered entries.
func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

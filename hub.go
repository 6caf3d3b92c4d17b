package rootstock

import (
	"fmt"
	"sort"
	"sync"

	"github.com/petal-labs/rootstock/bus"
)

// Hub is the explicit per-event-type bus registry. The host constructs
// one hub at startup, registers one bus per concrete event type under a
// stable name, and both emitters and subscribers look buses up through
// it. There are no hidden package-level singletons.
type Hub struct {
	mu    sync.RWMutex
	buses map[string]hubEntry
}

type hubEntry struct {
	bus   any
	intro bus.Introspector
	close func()
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{buses: make(map[string]hubEntry)}
}

// RegisterBus adds b under its configured name. Registering a second bus
// under the same name is an error: the hub guarantees
// single-instance-per-event-type semantics.
func RegisterBus[T any](h *Hub, b *bus.Bus[T]) error {
	name := b.Name()
	if name == "" {
		return fmt.Errorf("rootstock: bus has no name")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.buses[name]; exists {
		return fmt.Errorf("rootstock: bus %q already registered", name)
	}
	h.buses[name] = hubEntry{bus: b, intro: b, close: b.Close}
	return nil
}

// BusFor looks up the bus registered under name. The event type is
// checked: asking for the wrong T is a programming error reported as an
// error value, not a panic.
func BusFor[T any](h *Hub, name string) (*bus.Bus[T], error) {
	h.mu.RLock()
	e, ok := h.buses[name]
	h.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("rootstock: no bus %q", name)
	}
	b, ok := e.bus.(*bus.Bus[T])
	if !ok {
		return nil, fmt.Errorf("rootstock: bus %q carries a different event type", name)
	}
	return b, nil
}

// Stats returns a snapshot of every registered bus's counters, sorted by
// bus name.
func (h *Hub) Stats() []bus.Stats {
	h.mu.RLock()
	out := make([]bus.Stats, 0, len(h.buses))
	for _, e := range h.buses {
		out = append(out, e.intro.Stats())
	}
	h.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Close stops every registered bus's dispatch loop.
func (h *Hub) Close() {
	h.mu.Lock()
	entries := h.buses
	h.buses = make(map[string]hubEntry)
	h.mu.Unlock()

	for _, e := range entries {
		e.close()
	}
}

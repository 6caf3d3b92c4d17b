package settings

import (
	"context"
	"sync"
)

// MemoryBackend keeps the flat map in process memory. It backs tests and
// ephemeral daemons that do not need settings to survive a restart.
type MemoryBackend struct {
	mu     sync.Mutex
	values map[string]string
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{values: make(map[string]string)}
}

// LoadAll returns a copy of the stored map.
func (b *MemoryBackend) LoadAll(_ context.Context) (map[string]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]string, len(b.values))
	for k, v := range b.values {
		out[k] = v
	}
	return out, nil
}

// SaveAll upserts the given pairs, last write wins.
func (b *MemoryBackend) SaveAll(_ context.Context, pairs []Pair) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, p := range pairs {
		b.values[p.Key] = p.Value
	}
	return nil
}

var _ Backend = (*MemoryBackend)(nil)

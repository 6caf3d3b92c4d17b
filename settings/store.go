package settings

import (
	"context"
	"fmt"
	"sync"
)

// Backend is the persistence boundary for the flat key/value map: load
// everything at startup, write back bulk upserts, last write wins.
type Backend interface {
	LoadAll(ctx context.Context) (map[string]string, error)
	SaveAll(ctx context.Context, pairs []Pair) error
}

// Store holds the in-memory flat map and binds it to a Backend. It is
// safe for concurrent use; serializer and deserializer passes operate on
// copies so they never hold the store lock across user code.
type Store struct {
	backend Backend

	mu     sync.RWMutex
	values map[string]string
}

// NewStore creates a store over the given backend.
func NewStore(backend Backend) *Store {
	return &Store{
		backend: backend,
		values:  make(map[string]string),
	}
}

// Load replaces the in-memory map with the backend's full contents.
func (s *Store) Load(ctx context.Context) error {
	values, err := s.backend.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("settings: load: %w", err)
	}
	if values == nil {
		values = map[string]string{}
	}
	s.mu.Lock()
	s.values = values
	s.mu.Unlock()
	return nil
}

// Save serializes obj under prefix, updates the in-memory map, and
// persists the resulting pairs. Existing keys are overwritten.
func (s *Store) Save(ctx context.Context, prefix string, obj Settings) error {
	ser := NewSerializer(prefix)
	if err := obj.Serialize(ser); err != nil {
		return fmt.Errorf("settings: serialize %q: %w", prefix, err)
	}
	if err := ser.Validate(); err != nil {
		return err
	}
	pairs := ser.Pairs()

	s.mu.Lock()
	for _, p := range pairs {
		s.values[p.Key] = p.Value
	}
	s.mu.Unlock()

	if err := s.backend.SaveAll(ctx, pairs); err != nil {
		return fmt.Errorf("settings: persist %q: %w", prefix, err)
	}
	return nil
}

// Get deserializes obj from the keys under prefix. Absent keys leave the
// object's defaults in place.
func (s *Store) Get(prefix string, obj Settings) error {
	_, err := s.Extract(prefix, obj)
	return err
}

// Extract deserializes obj from the keys under prefix and returns the
// orphaned keys the pass did not consume. The store itself is not
// modified; the pass runs over a copy of the map.
func (s *Store) Extract(prefix string, obj Settings) ([]string, error) {
	d := NewDeserializer(s.snapshot(), prefix)
	if err := obj.Deserialize(d); err != nil {
		return nil, err
	}
	return d.Remaining(), nil
}

// Raw returns a copy of the full flat map, for introspection surfaces.
func (s *Store) Raw() map[string]string {
	return s.snapshot()
}

func (s *Store) snapshot() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

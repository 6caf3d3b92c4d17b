// Package settings serializes extension-owned configuration structures
// into a flat, prefix-namespaced key/value store and recovers them with
// full type fidelity on the way back out.
//
// The flat store only knows strings. Structured values are written as
// JSON text; type recovery happens entirely inside each settings object's
// Deserialize method, with documented per-field defaults for absent keys,
// so a partial settings document is always valid on read. Nesting is the
// only collision-avoidance mechanism: two settings objects serialized
// under different prefixes can never produce overlapping keys.
package settings

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Separator joins nested namespace segments into a full key.
const Separator = "::"

// Pair is one key/value entry ready for bulk persistence.
type Pair struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Settings is implemented by every extension-owned configuration object.
// Deserialize must first reset the receiver to its documented defaults,
// then overwrite fields whose keys are present; it should consume keys
// with TakeRaw so stale entries show up in Remaining.
type Settings interface {
	Serialize(s *Serializer) error
	Deserialize(d *Deserializer) error
}

// As converts a type-erased Settings value to a concrete settings type.
// The conversion is checked: a mismatch is returned as an error, never a
// panic, because the set of extension settings types is open.
func As[T Settings](v Settings) (T, error) {
	t, ok := v.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("settings: value is %T, not %T", v, zero)
	}
	return t, nil
}

func joinKey(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + Separator + key
}

// Serializer flattens one settings object (and any nested children) into
// an ordered list of pairs under a namespace prefix.
type Serializer struct {
	prefix string
	pairs  []Pair
}

// NewSerializer creates a serializer writing under the given prefix.
func NewSerializer(prefix string) *Serializer {
	return &Serializer{prefix: prefix}
}

// Prefix returns the current namespace prefix.
func (s *Serializer) Prefix() string {
	return s.prefix
}

// WriteRaw appends one key/value pair under the current prefix.
func (s *Serializer) WriteRaw(key, value string) {
	s.pairs = append(s.pairs, Pair{Key: joinKey(s.prefix, key), Value: value})
}

// WriteJSON encodes v as JSON and appends it under key.
func (s *Serializer) WriteJSON(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("settings: encode %q: %w", joinKey(s.prefix, key), err)
	}
	s.WriteRaw(key, string(data))
	return nil
}

// Nest serializes child under prefix::sub and merges its output into this
// serializer.
func (s *Serializer) Nest(sub string, child Settings) error {
	cs := NewSerializer(joinKey(s.prefix, sub))
	if err := child.Serialize(cs); err != nil {
		return err
	}
	s.pairs = append(s.pairs, cs.pairs...)
	return nil
}

// Merge appends another serializer's output, for composing independent
// setting groups produced at the same level.
func (s *Serializer) Merge(other *Serializer) {
	if other == nil {
		return
	}
	s.pairs = append(s.pairs, other.pairs...)
}

// Pairs returns a copy of the accumulated pairs, in write order.
func (s *Serializer) Pairs() []Pair {
	return append([]Pair(nil), s.pairs...)
}

// Validate reports duplicate keys in the accumulated output. A duplicate
// means two settings objects collided on the same namespace, which is a
// caller programming error the store does not otherwise detect.
func (s *Serializer) Validate() error {
	seen := make(map[string]bool, len(s.pairs))
	for _, p := range s.pairs {
		if seen[p.Key] {
			return fmt.Errorf("settings: duplicate key %q", p.Key)
		}
		seen[p.Key] = true
	}
	return nil
}

// Deserializer reads typed values back out of a flat key/value map under
// a namespace prefix. It borrows the map for the duration of one
// deserialization pass and holds no locks.
type Deserializer struct {
	prefix string
	values map[string]string
}

// NewDeserializer wraps an already-loaded flat map.
func NewDeserializer(values map[string]string, prefix string) *Deserializer {
	if values == nil {
		values = map[string]string{}
	}
	return &Deserializer{prefix: prefix, values: values}
}

// Prefix returns the current namespace prefix.
func (d *Deserializer) Prefix() string {
	return d.prefix
}

// ReadRaw returns the value for key under the current prefix.
func (d *Deserializer) ReadRaw(key string) (string, bool) {
	v, ok := d.values[joinKey(d.prefix, key)]
	return v, ok
}

// TakeRaw returns the value for key and removes it from the map, so a
// full deserialization pass leaves only orphaned keys behind.
func (d *Deserializer) TakeRaw(key string) (string, bool) {
	full := joinKey(d.prefix, key)
	v, ok := d.values[full]
	if ok {
		delete(d.values, full)
	}
	return v, ok
}

// ReadJSON decodes the JSON value stored under key into out, consuming
// the key. An absent key leaves out untouched and returns nil: missing
// values are never faults, every field keeps its default. A malformed
// stored value is a configuration error.
func (d *Deserializer) ReadJSON(key string, out any) error {
	raw, ok := d.TakeRaw(key)
	if !ok {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("settings: decode %q: %w", joinKey(d.prefix, key), err)
	}
	return nil
}

// Child returns a deserializer for the prefix::sub namespace, sharing the
// same underlying map.
func (d *Deserializer) Child(sub string) *Deserializer {
	return &Deserializer{prefix: joinKey(d.prefix, sub), values: d.values}
}

// Nest deserializes child from the prefix::sub namespace.
func (d *Deserializer) Nest(sub string, child Settings) error {
	return child.Deserialize(d.Child(sub))
}

// Remaining lists keys under the current prefix that were not consumed,
// sorted. After a full deserialization pass these are orphaned or stale
// entries.
func (d *Deserializer) Remaining() []string {
	want := d.prefix
	if want != "" {
		want += Separator
	}
	var out []string
	for k := range d.values {
		if want == "" || strings.HasPrefix(k, want) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

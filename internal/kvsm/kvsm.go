package kvsm

import (
	"maps"
	"slices"

	"github.com/isparth/Distributed-Systems/raftkv/internal/types"
)

// Store is the deterministic key-value state machine. A Store value is
// immutable: Apply returns a new Store and leaves the receiver untouched, so
// readers can hold a Store while the node keeps applying entries.
type Store struct {
	kv map[string]string
}

// New creates an empty Store.
func New() Store {
	return Store{}
}

// Apply folds entries into the store in order, last write wins.
func (s Store) Apply(entries ...types.LogEntry) Store {
	if len(entries) == 0 {
		return s
	}
	kv := make(map[string]string, len(s.kv)+len(entries))
	maps.Copy(kv, s.kv)
	for _, e := range entries {
		kv[e.Key] = e.Value
	}
	return Store{kv: kv}
}

// Get returns the value for a key.
func (s Store) Get(key string) (string, bool) {
	v, ok := s.kv[key]
	return v, ok
}

// Has reports whether key is present.
func (s Store) Has(key string) bool {
	_, ok := s.kv[key]
	return ok
}

// Len returns the number of keys.
func (s Store) Len() int {
	return len(s.kv)
}

// MGet returns values for the keys that are present.
func (s Store) MGet(keys []string) map[string]string {
	result := make(map[string]string, len(keys))
	for _, k := range keys {
		if v, ok := s.kv[k]; ok {
			result[k] = v
		}
	}
	return result
}

// All returns a copy of every key-value pair.
func (s Store) All() map[string]string {
	out := make(map[string]string, len(s.kv))
	maps.Copy(out, s.kv)
	return out
}

// Keys returns the keys in sorted order.
func (s Store) Keys() []string {
	return slices.Sorted(maps.Keys(s.kv))
}

// Equal reports whether both stores hold the same pairs.
func (s Store) Equal(other Store) bool {
	return maps.Equal(s.kv, other.kv)
}

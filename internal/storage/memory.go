// Package storage implements the three storage strategies behind the cache:
// an in-process memory store, a quota-limited JSON file store, and an
// embedded SQLite store. All three satisfy types.Strategy.
package storage

import (
	"context"
	"sync"

	"github.com/tiercache/tiercache/internal/keys"
	"github.com/tiercache/tiercache/pkg/types"
)

// MemoryStore is the in-process tier: a mutex-guarded key→entry map with no
// persistence and no practical capacity limit. Entries are copied on the
// way in and out so callers never share payload bytes with the store.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*types.Entry
}

// NewMemoryStore creates an empty memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*types.Entry),
	}
}

// Get returns the stored entry, or (nil, nil) when the key is absent.
func (m *MemoryStore) Get(_ context.Context, key string) (*types.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.entries[key]
	if !ok {
		return nil, nil
	}
	return entry.Clone(), nil
}

// Set stores the entry under key, replacing any previous entry.
func (m *MemoryStore) Set(_ context.Context, key string, entry *types.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[key] = entry.Clone()
	return nil
}

// Remove deletes the entry for key. Absent keys are not an error.
func (m *MemoryStore) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, key)
	return nil
}

// Clear removes every entry.
func (m *MemoryStore) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = make(map[string]*types.Entry)
	return nil
}

// Keys lists stored keys matching the glob pattern; the empty pattern
// matches everything.
func (m *MemoryStore) Keys(_ context.Context, pattern string) ([]string, error) {
	m.mu.RLock()
	all := make([]string, 0, len(m.entries))
	for key := range m.entries {
		all = append(all, key)
	}
	m.mu.RUnlock()

	return keys.Filter(pattern, all)
}

package schemacache

import (
	"context"
	"sync"
	"time"

	"github.com/dbbridge-io/dbbridge-engine/pkg/schema"
)

// StoredSchema is one persisted cache entry: the schema snapshot plus the
// version counter that advances on every repopulation.
type StoredSchema struct {
	Schema    *schema.CanonicalSchema `json:"schema"`
	Version   uint64                  `json:"version"`
	FetchedAt time.Time               `json:"fetched_at"`
}

// Store persists schema snapshots keyed by normalized connection string.
// The in-process cache is the authority for entry state; the store exists so
// a warm snapshot survives process restarts and, with a shared backend, is
// visible across processes.
type Store interface {
	// Get returns the stored snapshot and whether one exists.
	Get(ctx context.Context, key string) (StoredSchema, bool, error)

	// Set writes a snapshot, replacing any previous one atomically.
	Set(ctx context.Context, key string, stored StoredSchema) error

	// Delete removes a snapshot. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// MemoryStore is the default in-process Store.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]StoredSchema
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]StoredSchema),
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) (StoredSchema, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored, ok := s.entries[key]
	return stored, ok, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, stored StoredSchema) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = stored
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

var _ Store = (*MemoryStore)(nil)

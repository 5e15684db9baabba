package progress

import (
	"context"
	"sync"
)

// MemoryStore is a mutex-guarded in-process store. It does not survive a
// restart, so it only backs tests and throwaway local runs; real runs use
// the Couchbase store.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*Entry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*Entry)}
}

// Load returns a copy of all entries.
func (s *MemoryStore) Load(ctx context.Context) (map[string]*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]*Entry, len(s.entries))
	for k, e := range s.entries {
		copied := *e
		out[k] = &copied
	}
	return out, nil
}

// Upsert stores a copy of the entry.
func (s *MemoryStore) Upsert(ctx context.Context, entry *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *entry
	s.entries[entry.FolderNumber] = &copied
	return nil
}

// Snapshot summarizes the current entries.
func (s *MemoryStore) Snapshot(ctx context.Context) (*RunSummary, error) {
	entries, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	return Summarize(entries), nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}

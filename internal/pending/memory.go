package pending

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	marker    Marker
	expiresAt time.Time
}

// MemoryStore is an in-process Store for tests and single-instance
// deployments without Redis.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// Put implements Store.
func (s *MemoryStore) Put(_ context.Context, sessionID string, m Marker, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[sessionID] = memoryEntry{marker: m, expiresAt: s.now().Add(ttl)}
	return nil
}

// Get implements Store; the marker is removed whether expired or not.
func (s *MemoryStore) Get(_ context.Context, sessionID string) (Marker, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[sessionID]
	if !ok {
		return Marker{}, false, nil
	}
	delete(s.entries, sessionID)
	if s.now().After(entry.expiresAt) {
		return Marker{}, false, nil
	}
	return entry.marker, true, nil
}

package journal

import (
	"context"
	"sync"
	"time"
)

// InMemoryStore keeps entries in process memory.
//
// Settled entries (submitted or failed) expire ttl after their last update;
// a zero ttl keeps them for the life of the process. Expired entries are
// removed lazily on write.
type InMemoryStore struct {
	mu      sync.Mutex
	entries map[string]Entry
	ttl     time.Duration
}

// NewInMemoryStore creates an in-memory store with the given retention
func NewInMemoryStore(ttl time.Duration) *InMemoryStore {
	return &InMemoryStore{
		entries: make(map[string]Entry),
		ttl:     ttl,
	}
}

// Begin implements Store
func (s *InMemoryStore) Begin(ctx context.Context, entry Entry) (*Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleanupExpiredLocked()

	if existing, ok := s.entries[entry.RequestID]; ok && !existing.replaceable() {
		return &existing, false, nil
	}
	entry.Status = StatusPending
	s.entries[entry.RequestID] = entry
	return nil, true, nil
}

// Save implements Store
func (s *InMemoryStore) Save(ctx context.Context, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entry.RequestID] = entry
	s.cleanupExpiredLocked()
	return nil
}

// Get implements Store
func (s *InMemoryStore) Get(ctx context.Context, requestID string) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[requestID]
	if !ok || s.expired(entry, time.Now()) {
		return nil, ErrNotFound
	}
	return &entry, nil
}

// Close implements Store
func (s *InMemoryStore) Close() error {
	return nil
}

func (s *InMemoryStore) expired(entry Entry, now time.Time) bool {
	return s.ttl > 0 && entry.expires() && now.After(entry.UpdatedAt.Add(s.ttl))
}

// cleanupExpiredLocked removes expired entries. Must be called with lock held.
func (s *InMemoryStore) cleanupExpiredLocked() {
	if s.ttl <= 0 {
		return
	}
	now := time.Now()
	for key, entry := range s.entries {
		if s.expired(entry, now) {
			delete(s.entries, key)
		}
	}
}

var _ Store = (*InMemoryStore)(nil)

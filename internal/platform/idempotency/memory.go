package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps reservations in process. It backs tests and single-instance local runs.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]Entry
}

// NewMemoryStore constructs an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) Reserve(_ context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Entry, bool, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now = now.UTC()
	id := documentID(key)

	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.entries[id]; ok && !expired(entry, now) {
		if entry.Fingerprint != fingerprint {
			return Entry{}, false, ErrKeyReused
		}
		return entry, false, nil
	}
	entry := Entry{Key: key, Fingerprint: fingerprint, State: StateInFlight, CreatedAt: now, ExpiresAt: now.Add(ttl)}
	s.entries[id] = entry
	return entry, true, nil
}

func (s *MemoryStore) Complete(_ context.Context, key, fingerprint string, outcome Outcome, now time.Time, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now = now.UTC()
	id := documentID(key)

	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[id]
	if ok && entry.Fingerprint != fingerprint {
		return ErrKeyReused
	}
	if !ok {
		entry = Entry{Key: key, Fingerprint: fingerprint, CreatedAt: now}
	}
	entry.State = StateCompleted
	entry.Outcome = Outcome{
		Status:  outcome.Status,
		Headers: outcome.Headers,
		Body:    append([]byte(nil), outcome.Body...),
	}
	entry.ExpiresAt = now.Add(ttl)
	s.entries[id] = entry
	return nil
}

func (s *MemoryStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, documentID(key))
	return nil
}

func (s *MemoryStore) Purge(_ context.Context, now time.Time, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, entry := range s.entries {
		if limit > 0 && removed >= limit {
			break
		}
		if expired(entry, now.UTC()) {
			delete(s.entries, id)
			removed++
		}
	}
	return removed, nil
}

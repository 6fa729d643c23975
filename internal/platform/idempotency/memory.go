package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps entries in process. It suits a single replica or tests.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]Entry
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

// Reserve implements Store. Expired entries are pruned on the way in.
func (s *MemoryStore) Reserve(_ context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (State, Entry, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked(now)

	id := documentID(key)
	entry, ok := s.entries[id]
	if !ok {
		entry = Entry{Key: key, Fingerprint: fingerprint, ExpiresAt: now.Add(ttl)}
		s.entries[id] = entry
		return StateNew, entry, nil
	}
	if entry.Fingerprint != fingerprint {
		return 0, Entry{}, ErrFingerprintMismatch
	}
	return entry.state(), entry, nil
}

// Complete implements Store.
func (s *MemoryStore) Complete(_ context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id := documentID(key)
	if entry, ok := s.entries[id]; ok && entry.Fingerprint != fingerprint {
		return ErrFingerprintMismatch
	}
	s.entries[id] = Entry{
		Key:         key,
		Fingerprint: fingerprint,
		Completed:   true,
		Status:      resp.Status,
		Header:      storableHeader(resp.Header),
		Body:        append([]byte(nil), resp.Body...),
		ExpiresAt:   now.Add(ttl),
	}
	return nil
}

// Release implements Store.
func (s *MemoryStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, documentID(key))
	return nil
}

// Len reports the number of live entries.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *MemoryStore) pruneLocked(now time.Time) {
	for id, entry := range s.entries {
		if entry.expired(now) {
			delete(s.entries, id)
		}
	}
}

package cache

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"
)

// Entries that have outlived their TTL by this factor are pruned lazily on
// Put. Anything younger may still be served stale in offline mode.
const memPruneAfterTTLs = 10

// MemoryStore is the default in-process Store.
//
// One mutex guards the whole map. Values are copied on Put and Get so
// callers can never alias the stored snapshot.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]Entry

	now func() time.Time
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]Entry),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Close closes the store (noop for in-memory).
func (s *MemoryStore) Close() error { return nil }

// Get returns the entry for key, stale or not.
func (s *MemoryStore) Get(_ context.Context, key Key) (Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key.String()]
	if !ok {
		return Entry{}, false, nil
	}
	return copyEntry(e), true, nil
}

// Put overwrites the entry for key (last writer wins).
func (s *MemoryStore) Put(_ context.Context, key Key, value json.RawMessage, class Class) error {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key.String()] = Entry{
		Value:     append(json.RawMessage(nil), value...),
		FetchedAt: now,
		Class:     class,
	}

	s.pruneLocked(now)
	return nil
}

// Invalidate removes the entry for key.
func (s *MemoryStore) Invalidate(_ context.Context, key Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, key.String())
	return nil
}

// InvalidateType removes every entry of the given resource type.
func (s *MemoryStore) InvalidateType(_ context.Context, resourceType string) error {
	prefix := resourceType + ":"

	s.mu.Lock()
	defer s.mu.Unlock()

	for k := range s.entries {
		if strings.HasPrefix(k, prefix) {
			delete(s.entries, k)
		}
	}
	return nil
}

// InvalidateAll removes everything.
func (s *MemoryStore) InvalidateAll(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = make(map[string]Entry)
	return nil
}

// pruneLocked drops entries that are far past their TTL. Bounds memory
// without a background janitor goroutine.
func (s *MemoryStore) pruneLocked(now time.Time) {
	for k, e := range s.entries {
		if now.Sub(e.FetchedAt) > memPruneAfterTTLs*e.Class.TTL() {
			delete(s.entries, k)
		}
	}
}

func copyEntry(e Entry) Entry {
	e.Value = append(json.RawMessage(nil), e.Value...)
	return e
}

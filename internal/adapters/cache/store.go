// Package cache provides the content-addressed result cache with
// at-most-one-computation-in-flight semantics and TTL expiry.
package cache

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/apexrad/periscan/internal/domain/model"
)

// Entry is one cached fused result with its lifetime bounds. Entries are
// published atomically after full construction; readers never observe a
// partially written entry.
type Entry struct {
	Key       string            `msgpack:"key"`
	Result    model.FusedResult `msgpack:"result"`
	CreatedAt time.Time         `msgpack:"created_at"`
	ExpiresAt time.Time         `msgpack:"expires_at"`
}

// Expired reports whether the entry's TTL has elapsed at time now.
func (e Entry) Expired(now time.Time) bool {
	return !e.ExpiresAt.After(now)
}

// Store is the backing KV store for cache entries. Implementations must be
// safe for concurrent use. A failing store never fails an assessment: the
// cache degrades to pass-through on store errors.
type Store interface {
	// Put publishes a fully constructed entry.
	Put(ctx context.Context, e Entry) error

	// Get returns the entry for key. The second result is false on miss.
	// Expired entries may still be returned; the cache re-checks the TTL.
	Get(ctx context.Context, key string) (Entry, bool, error)

	// Delete removes a single key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// DeletePrefix removes every key with the given prefix and reports how
	// many entries went away. Used for model-version rollovers.
	DeletePrefix(ctx context.Context, prefix string) (int, error)

	// Sweep evicts expired entries and reports how many were removed.
	Sweep(ctx context.Context, now time.Time) (int, error)

	// Close releases store resources.
	Close() error
}

// MemoryStore is the in-memory Store implementation: a plain map under a
// read-write mutex. Expired entries are evicted lazily on Get and in bulk
// by Sweep.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

// Put publishes an entry.
func (s *MemoryStore) Put(_ context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[e.Key] = e
	return nil
}

// Get returns the entry for key, evicting it if expired.
func (s *MemoryStore) Get(_ context.Context, key string) (Entry, bool, error) {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return Entry{}, false, nil
	}
	if e.Expired(time.Now()) {
		s.mu.Lock()
		// Re-check under the write lock: a fresh entry may have replaced
		// the expired one in the interim.
		if cur, ok := s.entries[key]; ok && cur.Expired(time.Now()) {
			delete(s.entries, key)
		}
		s.mu.Unlock()
		return Entry{}, false, nil
	}
	return e, true, nil
}

// Delete removes a single key.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

// DeletePrefix removes every key with the given prefix.
func (s *MemoryStore) DeletePrefix(_ context.Context, prefix string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k := range s.entries {
		if strings.HasPrefix(k, prefix) {
			delete(s.entries, k)
			n++
		}
	}
	return n, nil
}

// Sweep evicts expired entries in deterministic key order.
func (s *MemoryStore) Sweep(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	expired := make([]string, 0)
	for k, e := range s.entries {
		if e.Expired(now) {
			expired = append(expired, k)
		}
	}
	sort.Strings(expired)
	for _, k := range expired {
		delete(s.entries, k)
	}
	return len(expired), nil
}

// Len returns the number of stored entries, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error { return nil }

package cache

import (
	"context"
	"sync"
	"time"
)

const defaultMaxEntries = 4096

// MemoryStore is a process-local Store with per-entry TTLs, an injectable
// clock and a bounded entry count. It backs the materialized-view cache in
// single-instance deployments and all unit tests; expiry is evaluated on
// access so tests never need wall-clock sleeps.
type MemoryStore struct {
	mu         sync.Mutex
	now        func() time.Time
	maxEntries int
	entries    map[string]*memoryEntry
}

type memoryEntry struct {
	value     []byte
	count     int64
	expiresAt time.Time
}

// MemoryOption customises a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock overrides the time source, primarily for tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		if now != nil {
			s.now = now
		}
	}
}

// WithMaxEntries bounds the number of live entries. When the bound is hit the
// entry closest to expiry is evicted first.
func WithMaxEntries(n int) MemoryOption {
	return func(s *MemoryStore) {
		if n > 0 {
			s.maxEntries = n
		}
	}
}

// NewMemoryStore constructs an in-memory Store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		now:        func() time.Time { return time.Now().UTC() },
		maxEntries: defaultMaxEntries,
		entries:    make(map[string]*memoryEntry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IncrementWithTTL increments a fixed-window counter for the supplied key.
func (s *MemoryStore) IncrementWithTTL(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	if window <= 0 {
		window = time.Minute
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	entry, ok := s.entries[key]
	if !ok || !entry.expiresAt.After(now) {
		s.evictLocked(now)
		entry = &memoryEntry{expiresAt: now.Add(window)}
		s.entries[key] = entry
	}

	entry.count++
	return entry.count, entry.expiresAt.Sub(now), nil
}

// Set stores the value with the supplied TTL. A non-positive TTL keeps the
// entry until explicitly deleted.
func (s *MemoryStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	expiry := time.Time{}
	if ttl > 0 {
		expiry = now.Add(ttl)
	}

	if _, exists := s.entries[key]; !exists {
		s.evictLocked(now)
	}

	s.entries[key] = &memoryEntry{value: value, expiresAt: expiry}
	return nil
}

// Get retrieves a value by key, respecting expiry.
func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return nil, false, nil
	}

	if !entry.expiresAt.IsZero() && !entry.expiresAt.After(s.now()) {
		delete(s.entries, key)
		return nil, false, nil
	}

	return entry.value, true, nil
}

// Delete removes keys from the store.
func (s *MemoryStore) Delete(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range keys {
		delete(s.entries, key)
	}
	return nil
}

// Len reports the number of live entries, counting entries that have expired
// but not yet been collected.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// evictLocked drops expired entries, then the entry closest to expiry if the
// store is still at capacity. Callers hold s.mu.
func (s *MemoryStore) evictLocked(now time.Time) {
	if len(s.entries) < s.maxEntries {
		return
	}

	for key, entry := range s.entries {
		if !entry.expiresAt.IsZero() && !entry.expiresAt.After(now) {
			delete(s.entries, key)
		}
	}

	for len(s.entries) >= s.maxEntries {
		var victim string
		var victimExpiry time.Time
		first := true
		for key, entry := range s.entries {
			if first || expiresBefore(entry.expiresAt, victimExpiry) {
				victim = key
				victimExpiry = entry.expiresAt
				first = false
			}
		}
		delete(s.entries, victim)
	}
}

// expiresBefore orders expiries with "never expires" (zero) last.
func expiresBefore(a, b time.Time) bool {
	if a.IsZero() {
		return false
	}
	if b.IsZero() {
		return true
	}
	return a.Before(b)
}

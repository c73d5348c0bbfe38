package cache

import (
	"context"
	"sync"
	"time"
)

// sweepInterval bounds how often writes prune expired entries
const sweepInterval = time.Minute

// entry is a stored value with expiration
type entry struct {
	value     string
	expiresAt time.Time
}

func (e entry) expired(now time.Time) bool {
	return !now.Before(e.expiresAt)
}

// MemoryStore implements Store with an in-process map.
// This is suitable for single-instance deployments and testing;
// locks taken here do not exclude other processes.
type MemoryStore struct {
	mu        sync.Mutex
	entries   map[string]entry
	lastSweep time.Time
	now       func() time.Time
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

// NewMemoryTokenCache creates an in-memory cache for gateway access tokens
func NewMemoryTokenCache() *MemoryStore {
	return NewMemoryStore()
}

// Get returns the live value stored under key
func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || e.expired(s.now()) {
		return "", false, nil
	}
	return e.value, true, nil
}

// Set stores value under key for ttl
func (s *MemoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.sweepLocked(now)
	s.entries[key] = entry{value: value, expiresAt: now.Add(ttl)}
	return nil
}

// Delete removes key
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, key)
	return nil
}

// TryLock takes the lock named key for owner unless another owner holds it.
// An expired lock is free.
func (s *MemoryStore) TryLock(_ context.Context, key, owner string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if e, ok := s.entries[key]; ok && !e.expired(now) {
		return false, nil
	}
	s.sweepLocked(now)
	s.entries[key] = entry{value: owner, expiresAt: now.Add(ttl)}
	return true, nil
}

// Unlock releases key if owner still holds it
func (s *MemoryStore) Unlock(_ context.Context, key, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[key]; ok && e.value == owner {
		delete(s.entries, key)
	}
	return nil
}

// Close is a no-op
func (s *MemoryStore) Close() error {
	return nil
}

// Size returns the number of stored entries, expired ones included
func (s *MemoryStore) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *MemoryStore) sweepLocked(now time.Time) {
	if now.Sub(s.lastSweep) < sweepInterval {
		return
	}
	s.lastSweep = now
	for key, e := range s.entries {
		if e.expired(now) {
			delete(s.entries, key)
		}
	}
}

var _ Store = (*MemoryStore)(nil)

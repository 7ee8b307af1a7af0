package cache

import (
	"context"
	"sync"
	"time"

	"github.com/ekaya-inc/ekaya-query/pkg/models"
)

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*models.CacheEntry
	now     func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*models.CacheEntry),
		now:     time.Now,
	}
}

func (s *MemoryStore) Get(_ context.Context, fingerprint string) (*models.CacheEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[fingerprint]
	if !ok {
		return nil, nil
	}
	if e.Expired(s.now()) {
		delete(s.entries, fingerprint)
		return nil, nil
	}
	cp := *e
	return &cp, nil
}

func (s *MemoryStore) SetIfAbsent(_ context.Context, entry *models.CacheEntry, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if e, ok := s.entries[entry.Fingerprint]; ok && !e.Expired(now) {
		return false, nil
	}

	cp := *entry
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	if ttl > 0 {
		cp.ExpiresAt = now.Add(ttl)
	}
	s.entries[cp.Fingerprint] = &cp
	return true, nil
}

func (s *MemoryStore) InvalidateSource(_ context.Context, sourceFingerprint string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for fp, e := range s.entries {
		if e.SourceFingerprint == sourceFingerprint {
			delete(s.entries, fp)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored entries, including expired ones not yet evicted.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)

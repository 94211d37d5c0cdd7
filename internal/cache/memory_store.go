package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is the in-process entry store. Expired entries are logically
// absent immediately and physically dropped by the janitor or on the next
// write to the same fingerprint.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*Entry),
	}
}

func (s *MemoryStore) Get(ctx context.Context, fingerprint string) (*Entry, error) {
	s.mu.RLock()
	entry, ok := s.entries[fingerprint]
	s.mu.RUnlock()

	if !ok {
		return nil, nil
	}

	if time.Now().After(entry.ExpiresAt) {
		return nil, nil
	}

	return entry, nil
}

func (s *MemoryStore) Set(ctx context.Context, entry *Entry, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[entry.Fingerprint] = entry
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, fingerprint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, fingerprint)
	return nil
}

// Sweep drops expired entries and returns how many were removed
func (s *MemoryStore) Sweep() int {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for fp, entry := range s.entries {
		if now.After(entry.ExpiresAt) {
			delete(s.entries, fp)
			removed++
		}
	}

	return removed
}

// StartJanitor sweeps expired entries until the context is canceled
func (s *MemoryStore) StartJanitor(ctx context.Context, every time.Duration) {
	if every <= 0 {
		return
	}

	t := time.NewTicker(every)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.Sweep()
			}
		}
	}()
}

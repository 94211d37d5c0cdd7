package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// MemoryLimiter keeps one token bucket per key in process memory. It backs
// deployments without Redis and the test suite. Buckets refill at
// limit/window and burst up to limit; idle keys are swept periodically.
type MemoryLimiter struct {
	mu      sync.Mutex
	entries map[string]*memEntry
	limit   int
	window  time.Duration
	idleTTL time.Duration
}

type memEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

func NewMemoryLimiter(limit int, window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		entries: make(map[string]*memEntry),
		limit:   limit,
		window:  window,
		idleTTL: 15 * time.Minute,
	}
}

func (m *MemoryLimiter) get(key string) *rate.Limiter {
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	if ent, ok := m.entries[key]; ok {
		ent.lastSeen = now
		return ent.lim
	}

	rps := rate.Limit(float64(m.limit) / m.window.Seconds())
	lim := rate.NewLimiter(rps, m.limit)
	m.entries[key] = &memEntry{lim: lim, lastSeen: now}
	return lim
}

func (m *MemoryLimiter) Allow(ctx context.Context, key string) (bool, error) {
	return m.get(key).Allow(), nil
}

func (m *MemoryLimiter) Remaining(ctx context.Context, key string) (int, error) {
	tokens := m.get(key).Tokens()
	if tokens < 0 {
		tokens = 0
	}
	return int(tokens), nil
}

func (m *MemoryLimiter) Limit() int {
	return m.limit
}

func (m *MemoryLimiter) Window() time.Duration {
	return m.window
}

func (m *MemoryLimiter) Reset(ctx context.Context, key string) (time.Time, error) {
	lim := m.get(key)

	tokens := lim.Tokens()
	if tokens >= 1 {
		return time.Now(), nil
	}

	// Time until one token refills
	secondsToNext := (1 - tokens) / float64(lim.Limit())
	return time.Now().Add(time.Duration(math.Ceil(secondsToNext*1000)) * time.Millisecond), nil
}

// Cleanup drops keys idle longer than the TTL
func (m *MemoryLimiter) Cleanup() {
	cutoff := time.Now().Add(-m.idleTTL)

	m.mu.Lock()
	defer m.mu.Unlock()

	for k, ent := range m.entries {
		if ent.lastSeen.Before(cutoff) {
			delete(m.entries, k)
		}
	}
}

// StartJanitor sweeps idle keys until the context is canceled
func (m *MemoryLimiter) StartJanitor(ctx context.Context, every time.Duration) {
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
				m.Cleanup()
			}
		}
	}()
}

package ratelimit

import (
	"fmt"
	"sync"
	"time"

	"github.com/pathlane/usage-gate/internal/storage"
)

// Factory builds limiters per (algorithm, limit, window). Redis-backed
// limiters are stateless wrappers and are built per call; memory limiters
// hold per-key state, so the factory keeps one instance per shape.
type Factory struct {
	redis *storage.RedisClient

	mu     sync.Mutex
	memory map[string]*MemoryLimiter
}

// NewFactory returns a factory. With a nil redis client every algorithm
// falls back to the in-process limiter.
func NewFactory(redis *storage.RedisClient) *Factory {
	return &Factory{
		redis:  redis,
		memory: make(map[string]*MemoryLimiter),
	}
}

func (f *Factory) Limiter(algorithm string, limit int, window time.Duration) Limiter {
	// Policy validation rejects sub-second windows, but a limiter must never
	// divide by a zero window regardless of where the rule came from.
	if window < time.Second {
		window = time.Second
	}

	if f.redis == nil {
		return f.memoryLimiter(limit, window)
	}

	switch algorithm {
	case "token_bucket":
		refillRate := limit / int(window.Seconds())
		if refillRate == 0 {
			refillRate = 1
		}
		return NewTokenBucket(f.redis, limit, refillRate)
	case "sliding_window":
		return NewSlidingWindowLimiter(f.redis, limit, window)
	case "fixed_window":
		return NewFixedWindow(f.redis, limit, window)
	default:
		return NewFixedWindow(f.redis, limit, window)
	}
}

func (f *Factory) memoryLimiter(limit int, window time.Duration) *MemoryLimiter {
	key := fmt.Sprintf("%d:%s", limit, window)

	f.mu.Lock()
	defer f.mu.Unlock()

	if lim, ok := f.memory[key]; ok {
		return lim
	}

	lim := NewMemoryLimiter(limit, window)
	f.memory[key] = lim
	return lim
}

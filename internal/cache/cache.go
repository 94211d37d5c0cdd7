package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log"
	"time"
)

// ErrComputeTimeout means the synchronous computation exceeded the bound.
// Callers may fall back to an async enqueue; the failure is transient.
var ErrComputeTimeout = errors.New("cache compute timed out")

// Entry is an opaque cached result plus metadata
type Entry struct {
	Fingerprint string          `json:"fingerprint"`
	Payload     json.RawMessage `json:"payload"`
	CreatedAt   time.Time       `json:"created_at"`
	ExpiresAt   time.Time       `json:"expires_at"`
	Size        int             `json:"size"`
}

// Store holds entries by fingerprint. Get must never return an expired
// entry; physical eviction may lag.
type Store interface {
	Get(ctx context.Context, fingerprint string) (*Entry, error) // nil, nil on miss
	Set(ctx context.Context, entry *Entry, ttl time.Duration) error
	Delete(ctx context.Context, fingerprint string) error
}

// Fingerprint derives the content address for a request. userScope is empty
// for results shared across users; modelTag pins results to the model
// version that produced them.
func Fingerprint(feature string, payload []byte, userScope, modelTag string) string {
	h := sha256.New()
	h.Write([]byte(feature))
	h.Write([]byte{0})
	h.Write(payload)
	h.Write([]byte{0})
	h.Write([]byte(userScope))
	h.Write([]byte{0})
	h.Write([]byte(modelTag))
	return hex.EncodeToString(h.Sum(nil))
}

type ComputeFunc func(ctx context.Context) (json.RawMessage, error)

// Result of a GetOrCompute call
type Result struct {
	Payload   json.RawMessage `json:"payload"`
	FromCache bool            `json:"from_cache"`
	CreatedAt time.Time       `json:"created_at"`
}

// Cache sits in front of expensive synchronous computations. Concurrent
// misses for the same fingerprint may both compute and overwrite - results
// are deterministic enough that the redundant computation wastes cost, not
// correctness - so no cross-instance single-flight is attempted.
type Cache struct {
	store          Store
	computeTimeout time.Duration
}

func New(store Store, computeTimeout time.Duration) *Cache {
	if computeTimeout <= 0 {
		computeTimeout = 30 * time.Second
	}
	return &Cache{
		store:          store,
		computeTimeout: computeTimeout,
	}
}

// Get peeks at a cached result without computing on a miss
func (c *Cache) Get(ctx context.Context, fingerprint string) (*Result, error) {
	entry, err := c.store.Get(ctx, fingerprint)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, nil
	}

	return &Result{
		Payload:   entry.Payload,
		FromCache: true,
		CreatedAt: entry.CreatedAt,
	}, nil
}

// GetOrCompute returns the cached result for the fingerprint, or runs
// computeFn under the configured timeout and caches what it produced. A
// failed cache write is logged and swallowed - the caller still gets the
// computed result.
// An empty fingerprint disables storage and just bounds the computation.
func (c *Cache) GetOrCompute(ctx context.Context, fingerprint string, ttl time.Duration, computeFn ComputeFunc) (*Result, error) {
	if fingerprint != "" {
		entry, err := c.store.Get(ctx, fingerprint)
		if err != nil {
			// A broken cache never blocks the computation
			log.Printf("Cache read failed for %s: %v", fingerprint, err)
		}
		if entry != nil {
			return &Result{
				Payload:   entry.Payload,
				FromCache: true,
				CreatedAt: entry.CreatedAt,
			}, nil
		}
	}

	cctx, cancel := context.WithTimeout(ctx, c.computeTimeout)
	defer cancel()

	type computed struct {
		payload json.RawMessage
		err     error
	}

	done := make(chan computed, 1)
	go func() {
		payload, err := computeFn(cctx)
		done <- computed{payload: payload, err: err}
	}()

	select {
	case <-cctx.Done():
		return nil, ErrComputeTimeout
	case res := <-done:
		if res.err != nil {
			return nil, res.err
		}

		if fingerprint != "" {
			c.Put(ctx, fingerprint, res.payload, ttl)
		}

		return &Result{
			Payload:   res.payload,
			FromCache: false,
			CreatedAt: time.Now(),
		}, nil
	}
}

// Put writes a computed result through to the store. Last write wins.
func (c *Cache) Put(ctx context.Context, fingerprint string, payload json.RawMessage, ttl time.Duration) {
	now := time.Now()
	entry := &Entry{
		Fingerprint: fingerprint,
		Payload:     payload,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
		Size:        len(payload),
	}

	if err := c.store.Set(ctx, entry, ttl); err != nil {
		log.Printf("Cache write failed for %s: %v", fingerprint, err)
	}
}

// Invalidate drops one entry
func (c *Cache) Invalidate(ctx context.Context, fingerprint string) error {
	return c.store.Delete(ctx, fingerprint)
}

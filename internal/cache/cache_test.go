package cache

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestFingerprintDiscriminates(t *testing.T) {
	base := Fingerprint("summarize", []byte(`{"doc":1}`), "", "v1")

	cases := map[string]string{
		"feature":    Fingerprint("translate", []byte(`{"doc":1}`), "", "v1"),
		"payload":    Fingerprint("summarize", []byte(`{"doc":2}`), "", "v1"),
		"user scope": Fingerprint("summarize", []byte(`{"doc":1}`), "user-1", "v1"),
		"model tag":  Fingerprint("summarize", []byte(`{"doc":1}`), "", "v2"),
	}

	for name, fp := range cases {
		if fp == base {
			t.Errorf("changing %s should change the fingerprint", name)
		}
	}

	if again := Fingerprint("summarize", []byte(`{"doc":1}`), "", "v1"); again != base {
		t.Error("identical inputs should produce identical fingerprints")
	}
}

func TestGetOrComputeCachesResult(t *testing.T) {
	c := New(NewMemoryStore(), time.Second)
	ctx := context.Background()

	var calls int32
	fn := func(ctx context.Context) (json.RawMessage, error) {
		atomic.AddInt32(&calls, 1)
		return json.RawMessage(`{"answer":42}`), nil
	}

	first, err := c.GetOrCompute(ctx, "fp-1", time.Minute, fn)
	if err != nil {
		t.Fatalf("GetOrCompute failed: %v", err)
	}
	if first.FromCache {
		t.Error("first call should compute")
	}

	second, err := c.GetOrCompute(ctx, "fp-1", time.Minute, fn)
	if err != nil {
		t.Fatalf("GetOrCompute failed: %v", err)
	}
	if !second.FromCache {
		t.Error("second call should hit the cache")
	}
	if string(second.Payload) != `{"answer":42}` {
		t.Errorf("unexpected cached payload: %s", second.Payload)
	}

	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("compute should run once, ran %d times", n)
	}
}

func TestExpiredEntryIsAMiss(t *testing.T) {
	c := New(NewMemoryStore(), time.Second)
	ctx := context.Background()

	c.Put(ctx, "fp-exp", json.RawMessage(`{}`), time.Millisecond)
	time.Sleep(5 * time.Millisecond)

	result, err := c.Get(ctx, "fp-exp")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if result != nil {
		t.Error("expired entry must never be served")
	}
}

func TestComputeTimeout(t *testing.T) {
	c := New(NewMemoryStore(), 10*time.Millisecond)
	ctx := context.Background()

	_, err := c.GetOrCompute(ctx, "fp-slow", time.Minute, func(ctx context.Context) (json.RawMessage, error) {
		select {
		case <-time.After(time.Second):
		case <-ctx.Done():
		}
		return json.RawMessage(`{}`), nil
	})

	if err != ErrComputeTimeout {
		t.Fatalf("expected ErrComputeTimeout, got %v", err)
	}

	// The timed-out result must not appear later
	if result, _ := c.Get(ctx, "fp-slow"); result != nil {
		t.Error("timed-out computation should not be cached")
	}
}

func TestComputeErrorNotCached(t *testing.T) {
	c := New(NewMemoryStore(), time.Second)
	ctx := context.Background()

	boom := errors.New("backend down")
	if _, err := c.GetOrCompute(ctx, "fp-err", time.Minute, func(ctx context.Context) (json.RawMessage, error) {
		return nil, boom
	}); err != boom {
		t.Fatalf("expected compute error, got %v", err)
	}

	result, err := c.GetOrCompute(ctx, "fp-err", time.Minute, func(ctx context.Context) (json.RawMessage, error) {
		return json.RawMessage(`{"ok":true}`), nil
	})
	if err != nil {
		t.Fatalf("GetOrCompute failed: %v", err)
	}
	if result.FromCache {
		t.Error("failed computation must not have been cached")
	}
}

func TestEmptyFingerprintSkipsStorage(t *testing.T) {
	store := NewMemoryStore()
	c := New(store, time.Second)
	ctx := context.Background()

	result, err := c.GetOrCompute(ctx, "", time.Minute, func(ctx context.Context) (json.RawMessage, error) {
		return json.RawMessage(`{"n":1}`), nil
	})
	if err != nil {
		t.Fatalf("GetOrCompute failed: %v", err)
	}
	if result.FromCache {
		t.Error("non-addressable result cannot come from cache")
	}

	if entry, _ := store.Get(ctx, ""); entry != nil {
		t.Error("nothing should be stored under an empty fingerprint")
	}
}

func TestInvalidate(t *testing.T) {
	c := New(NewMemoryStore(), time.Second)
	ctx := context.Background()

	c.Put(ctx, "fp-del", json.RawMessage(`{}`), time.Minute)

	if err := c.Invalidate(ctx, "fp-del"); err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}

	if result, _ := c.Get(ctx, "fp-del"); result != nil {
		t.Error("invalidated entry should be gone")
	}
}

func TestMemoryStoreSweep(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	now := time.Now()
	store.Set(ctx, &Entry{Fingerprint: "a", CreatedAt: now, ExpiresAt: now.Add(-time.Second)}, time.Minute)
	store.Set(ctx, &Entry{Fingerprint: "b", CreatedAt: now, ExpiresAt: now.Add(time.Hour)}, time.Minute)

	if swept := store.Sweep(); swept != 1 {
		t.Errorf("expected 1 swept entry, got %d", swept)
	}

	if entry, _ := store.Get(ctx, "b"); entry == nil {
		t.Error("live entry should survive the sweep")
	}
}

package ratelimit

import (
	"testing"
	"time"

	"github.com/pathlane/usage-gate/internal/storage"
)

// A zero window used to divide by zero when sizing the token bucket's
// refill rate and the fixed window's bucket index. The factory clamps it
// so a malformed rule degrades to a one-second window instead of a panic.
func TestFactoryClampsDegenerateWindow(t *testing.T) {
	f := NewFactory(&storage.RedisClient{})

	for _, algorithm := range []string{"token_bucket", "fixed_window", "sliding_window"} {
		lim := f.Limiter(algorithm, 5, 0)
		if lim == nil {
			t.Fatalf("%s: nil limiter for zero window", algorithm)
		}
		if lim.Window() < time.Second {
			t.Errorf("%s: window %v not clamped to at least 1s", algorithm, lim.Window())
		}
	}
}

func TestFactoryClampsDegenerateWindowInMemory(t *testing.T) {
	f := NewFactory(nil)

	lim := f.Limiter("fixed_window", 5, 0)
	if lim == nil {
		t.Fatal("nil limiter for zero window")
	}
	if lim.Window() < time.Second {
		t.Errorf("window %v not clamped to at least 1s", lim.Window())
	}
}

package circuitbreaker

import (
	"errors"
	"testing"
	"time"
)

func TestOpensAfterMaxFailures(t *testing.T) {
	cb := New(Config{MaxFailures: 3, Timeout: time.Minute})
	boom := errors.New("backend error")

	for i := 0; i < 3; i++ {
		if err := cb.Call(func() error { return boom }); err != boom {
			t.Fatalf("expected backend error, got %v", err)
		}
	}

	if cb.State() != StateOpen {
		t.Fatalf("expected open after 3 failures, got %s", cb.State())
	}

	called := false
	err := cb.Call(func() error {
		called = true
		return nil
	})
	if err != ErrCircuitOpen {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
	if called {
		t.Error("open circuit must not reach the backend")
	}
}

func TestSuccessResetsFailureCount(t *testing.T) {
	cb := New(Config{MaxFailures: 3, Timeout: time.Minute})
	boom := errors.New("backend error")

	cb.Call(func() error { return boom })
	cb.Call(func() error { return boom })
	cb.Call(func() error { return nil })
	cb.Call(func() error { return boom })
	cb.Call(func() error { return boom })

	if cb.State() != StateClosed {
		t.Errorf("interleaved success should keep the circuit closed, got %s", cb.State())
	}
}

func TestHalfOpenProbe(t *testing.T) {
	cb := New(Config{MaxFailures: 1, Timeout: 10 * time.Millisecond})
	boom := errors.New("backend error")

	cb.Call(func() error { return boom })
	if cb.State() != StateOpen {
		t.Fatalf("expected open, got %s", cb.State())
	}

	time.Sleep(20 * time.Millisecond)

	// Probe succeeds, circuit closes
	if err := cb.Call(func() error { return nil }); err != nil {
		t.Fatalf("probe call failed: %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("successful probe should close the circuit, got %s", cb.State())
	}
}

func TestHalfOpenFailureReopens(t *testing.T) {
	cb := New(Config{MaxFailures: 1, Timeout: 10 * time.Millisecond})
	boom := errors.New("backend error")

	cb.Call(func() error { return boom })
	time.Sleep(20 * time.Millisecond)

	cb.Call(func() error { return boom })
	if cb.State() != StateOpen {
		t.Errorf("failed probe should reopen the circuit, got %s", cb.State())
	}
}

func TestReset(t *testing.T) {
	cb := New(Config{MaxFailures: 1, Timeout: time.Minute})

	cb.Call(func() error { return errors.New("x") })
	if cb.State() != StateOpen {
		t.Fatal("setup: expected open")
	}

	cb.Reset()
	if cb.State() != StateClosed {
		t.Errorf("expected closed after reset, got %s", cb.State())
	}
}

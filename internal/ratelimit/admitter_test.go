package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/pathlane/usage-gate/internal/policy"
)

func testResolver(t *testing.T) *policy.Resolver {
	t.Helper()

	r, err := policy.NewResolver(&policy.StaticSource{Tiers: map[string]*policy.LimitSet{
		"free": {
			Tier: "free",
			Rates: map[string]policy.RateRule{
				"general": {Limit: 3, WindowSec: 60, Algorithm: "fixed_window"},
			},
		},
		"pro": {
			Tier: "pro",
			Rates: map[string]policy.RateRule{
				"general": {Limit: 100, WindowSec: 60, Algorithm: "fixed_window"},
				"ai":      {Limit: 2, WindowSec: 60, Algorithm: "token_bucket"},
			},
		},
	}}, time.Minute)
	if err != nil {
		t.Fatalf("NewResolver failed: %v", err)
	}

	return r
}

func TestAdmitUnderThreshold(t *testing.T) {
	admitter := NewAdmitter(testResolver(t), NewFactory(nil))
	ctx := context.Background()

	decision, err := admitter.Admit(ctx, "user-1", "free", "general")
	if err != nil {
		t.Fatalf("Admit failed: %v", err)
	}
	if !decision.Allowed {
		t.Error("first request should be admitted")
	}
	if decision.Limit != 3 {
		t.Errorf("expected limit 3, got %d", decision.Limit)
	}
}

func TestAdmitDeniesOverThreshold(t *testing.T) {
	admitter := NewAdmitter(testResolver(t), NewFactory(nil))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		decision, err := admitter.Admit(ctx, "user-1", "free", "general")
		if err != nil {
			t.Fatalf("Admit failed: %v", err)
		}
		if !decision.Allowed {
			t.Fatalf("request %d should be admitted", i+1)
		}
	}

	decision, err := admitter.Admit(ctx, "user-1", "free", "general")
	if err != nil {
		t.Fatalf("Admit failed: %v", err)
	}
	if decision.Allowed {
		t.Error("request over the threshold should be denied")
	}
	if decision.RetryAfter < 0 {
		t.Errorf("denied decision needs a non-negative retry hint, got %v", decision.RetryAfter)
	}
}

func TestAdmitUnknownTier(t *testing.T) {
	admitter := NewAdmitter(testResolver(t), NewFactory(nil))

	if _, err := admitter.Admit(context.Background(), "user-1", "enterprise", "general"); err != policy.ErrUnknownTier {
		t.Errorf("expected ErrUnknownTier, got %v", err)
	}
}

func TestAdmitFallsBackToGeneralClass(t *testing.T) {
	admitter := NewAdmitter(testResolver(t), NewFactory(nil))

	// free has no "ai" rule; the general rule applies
	decision, err := admitter.Admit(context.Background(), "user-1", "free", "ai")
	if err != nil {
		t.Fatalf("Admit failed: %v", err)
	}
	if decision.Limit != 3 {
		t.Errorf("expected general limit 3, got %d", decision.Limit)
	}
}

func TestAdmitUsersDoNotShareWindows(t *testing.T) {
	admitter := NewAdmitter(testResolver(t), NewFactory(nil))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		admitter.Admit(ctx, "user-1", "free", "general")
	}

	decision, err := admitter.Admit(ctx, "user-2", "free", "general")
	if err != nil {
		t.Fatalf("Admit failed: %v", err)
	}
	if !decision.Allowed {
		t.Error("another user's exhaustion must not deny this user")
	}
}

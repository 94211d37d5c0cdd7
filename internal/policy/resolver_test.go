package policy

import (
	"context"
	"errors"
	"testing"
	"time"
)

func testTable() map[string]*LimitSet {
	return map[string]*LimitSet{
		"free": {
			Tier:    "free",
			Rates:   map[string]RateRule{"general": {Limit: 10, WindowSec: 60, Algorithm: "fixed_window"}},
			Quotas:  map[string]int64{"summarize": 100},
			Toggles: map[string]bool{"export": false},
		},
		"pro": {
			Tier: "pro",
			Rates: map[string]RateRule{
				"general": {Limit: 100, WindowSec: 60, Algorithm: "sliding_window"},
				"ai":      {Limit: 20, WindowSec: 60, Algorithm: "token_bucket"},
			},
			Quotas:    map[string]int64{"summarize": Unlimited},
			Cacheable: map[string]bool{"summarize": true},
		},
	}
}

func TestResolveKnownTier(t *testing.T) {
	r, err := NewResolver(&StaticSource{Tiers: testTable()}, time.Minute)
	if err != nil {
		t.Fatalf("NewResolver failed: %v", err)
	}
	defer r.Stop()

	ls, err := r.Resolve("pro")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if ls.Tier != "pro" {
		t.Errorf("expected tier pro, got %s", ls.Tier)
	}
}

func TestResolveUnknownTier(t *testing.T) {
	r, err := NewResolver(&StaticSource{Tiers: testTable()}, time.Minute)
	if err != nil {
		t.Fatalf("NewResolver failed: %v", err)
	}
	defer r.Stop()

	if _, err := r.Resolve("enterprise"); err != ErrUnknownTier {
		t.Errorf("expected ErrUnknownTier, got %v", err)
	}
}

func TestRateFallsBackToGeneral(t *testing.T) {
	ls := testTable()["free"]

	rule, ok := ls.Rate("ai")
	if !ok {
		t.Fatal("expected fallback rule")
	}
	if rule.Limit != 10 {
		t.Errorf("expected general rule with limit 10, got %d", rule.Limit)
	}
}

func TestQuotaDefaultsToUnlimited(t *testing.T) {
	ls := testTable()["free"]

	if cap := ls.Quota("summarize"); cap != 100 {
		t.Errorf("expected cap 100, got %d", cap)
	}
	if cap := ls.Quota("translate"); cap != Unlimited {
		t.Errorf("expected unlimited for unknown feature, got %d", cap)
	}
}

func TestTogglesDefaultOn(t *testing.T) {
	ls := testTable()["free"]

	if ls.Enabled("export") {
		t.Error("export should be toggled off")
	}
	if !ls.Enabled("summarize") {
		t.Error("features without a toggle should be on")
	}
}

type flakySource struct {
	table map[string]*LimitSet
	fail  bool
}

func (s *flakySource) Load(ctx context.Context) (map[string]*LimitSet, error) {
	if s.fail {
		return nil, errors.New("backing store down")
	}
	return s.table, nil
}

func TestFailedRefreshKeepsSnapshot(t *testing.T) {
	src := &flakySource{table: testTable()}

	r, err := NewResolver(src, time.Minute)
	if err != nil {
		t.Fatalf("NewResolver failed: %v", err)
	}
	defer r.Stop()

	src.fail = true
	if err := r.Invalidate(context.Background()); err == nil {
		t.Fatal("expected refresh error")
	}

	// Old snapshot still serves
	if _, err := r.Resolve("free"); err != nil {
		t.Errorf("previous snapshot should still resolve: %v", err)
	}
}

func TestInvalidateSwapsWholeTable(t *testing.T) {
	src := &flakySource{table: testTable()}

	r, err := NewResolver(src, time.Minute)
	if err != nil {
		t.Fatalf("NewResolver failed: %v", err)
	}
	defer r.Stop()

	src.table = map[string]*LimitSet{
		"pro": {Tier: "pro", Version: 2},
	}
	if err := r.Invalidate(context.Background()); err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}

	if _, err := r.Resolve("free"); err != ErrUnknownTier {
		t.Errorf("removed tier should be gone, got %v", err)
	}

	ls, err := r.Resolve("pro")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if ls.Version != 2 {
		t.Errorf("expected version 2, got %d", ls.Version)
	}
}

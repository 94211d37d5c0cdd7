package policy

import (
	"context"
	"testing"

	"github.com/pathlane/usage-gate/internal/models"
)

type stubLister struct {
	rows []models.TierPolicy
	err  error
}

func (s *stubLister) List(ctx context.Context) ([]models.TierPolicy, error) {
	return s.rows, s.err
}

func TestDBSourceLoad(t *testing.T) {
	src := NewDBSource(&stubLister{rows: []models.TierPolicy{
		{
			Name:      "pro",
			Version:   3,
			Limits:    `{"general":{"limit":100,"window_sec":60,"algorithm":"sliding_window"}}`,
			Quotas:    `{"summarize":500}`,
			Toggles:   `{"export":true}`,
			Cacheable: `{"summarize":true}`,
		},
	}})

	table, err := src.Load(context.Background())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	ls, ok := table["pro"]
	if !ok {
		t.Fatalf("expected pro tier in table, got %v", table)
	}
	if ls.Version != 3 {
		t.Errorf("expected version 3, got %d", ls.Version)
	}

	rule, ok := ls.Rate("general")
	if !ok || rule.Limit != 100 || rule.WindowSec != 60 {
		t.Errorf("unexpected general rule: %+v", rule)
	}
	if ls.Quota("summarize") != 500 {
		t.Errorf("expected quota 500, got %d", ls.Quota("summarize"))
	}
	if !ls.CacheEligible("summarize") {
		t.Error("expected summarize to be cache eligible")
	}
}

// A row that would break a limiter must not make it into the table, and
// must not take the valid tiers down with it.
func TestDBSourceSkipsInvalidRows(t *testing.T) {
	src := NewDBSource(&stubLister{rows: []models.TierPolicy{
		{
			Name:   "free",
			Limits: `{"general":{"limit":10,"window_sec":60}}`,
			Quotas: `{}`,
		},
		{
			Name:   "broken",
			Limits: `{"general":{"limit":10,"window_sec":0}}`,
			Quotas: `{}`,
		},
		{
			Name:   "mystery",
			Limits: `{"general":{"limit":10,"window_sec":60,"algorithm":"leaky_bucket"}}`,
			Quotas: `{}`,
		},
	}})

	table, err := src.Load(context.Background())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if _, ok := table["free"]; !ok {
		t.Error("valid tier dropped alongside invalid rows")
	}
	if _, ok := table["broken"]; ok {
		t.Error("zero-window rule made it into the table")
	}
	if _, ok := table["mystery"]; ok {
		t.Error("unknown algorithm made it into the table")
	}
}

func TestValidateRates(t *testing.T) {
	cases := []struct {
		name string
		rule RateRule
		ok   bool
	}{
		{"valid", RateRule{Limit: 10, WindowSec: 60, Algorithm: "fixed_window"}, true},
		{"empty algorithm", RateRule{Limit: 10, WindowSec: 60}, true},
		{"zero window", RateRule{Limit: 10, WindowSec: 0}, false},
		{"negative window", RateRule{Limit: 10, WindowSec: -5}, false},
		{"negative limit", RateRule{Limit: -1, WindowSec: 60}, false},
		{"unknown algorithm", RateRule{Limit: 10, WindowSec: 60, Algorithm: "leaky_bucket"}, false},
	}

	for _, tc := range cases {
		err := ValidateRates(map[string]RateRule{"general": tc.rule})
		if tc.ok && err != nil {
			t.Errorf("%s: unexpected error: %v", tc.name, err)
		}
		if !tc.ok && err == nil {
			t.Errorf("%s: expected error, got nil", tc.name)
		}
	}
}

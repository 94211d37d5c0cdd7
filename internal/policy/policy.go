package policy

import (
	"errors"
	"fmt"
)

// ErrUnknownTier is returned when a tier is not in the loaded policy table.
// This is a misconfiguration, not an expected denial.
var ErrUnknownTier = errors.New("unknown subscription tier")

// Quota cap meaning "no cap for this feature"
const Unlimited int64 = -1

// Rate limit rule for one endpoint class
type RateRule struct {
	Limit     int    `json:"limit"`      // admissions per window
	WindowSec int    `json:"window_sec"` // rolling window in seconds
	Algorithm string `json:"algorithm"`  // "fixed_window" "sliding_window" "token_bucket"
}

// ValidateRates rejects rules that would misbehave at admission time. A
// zero-second window in particular must never reach a limiter.
func ValidateRates(rates map[string]RateRule) error {
	for class, rule := range rates {
		if rule.WindowSec < 1 {
			return fmt.Errorf("rate rule %q: window_sec must be >= 1", class)
		}
		if rule.Limit < 0 {
			return fmt.Errorf("rate rule %q: limit must not be negative", class)
		}
		switch rule.Algorithm {
		case "", "fixed_window", "sliding_window", "token_bucket":
		default:
			return fmt.Errorf("rate rule %q: unknown algorithm %q", class, rule.Algorithm)
		}
	}
	return nil
}

// LimitSet is the resolved policy bundle for one tier. Immutable once
// resolved - callers hold it for the lifetime of a request and never see
// in-place updates.
type LimitSet struct {
	Tier      string              `json:"tier"`
	Version   int                 `json:"version"`
	Rates     map[string]RateRule `json:"rates"`     // endpoint class -> rule
	Quotas    map[string]int64    `json:"quotas"`    // feature -> monthly cap (-1 = unlimited)
	Cacheable map[string]bool     `json:"cacheable"` // feature -> response cache eligibility
	Toggles   map[string]bool     `json:"toggles"`
}

// Rate returns the rule for an endpoint class, falling back to "general"
func (ls *LimitSet) Rate(endpointClass string) (RateRule, bool) {
	if rule, ok := ls.Rates[endpointClass]; ok {
		return rule, true
	}
	rule, ok := ls.Rates["general"]
	return rule, ok
}

// Quota returns the monthly cap for a feature. Features without an entry
// are treated as unlimited.
func (ls *LimitSet) Quota(feature string) int64 {
	if cap, ok := ls.Quotas[feature]; ok {
		return cap
	}
	return Unlimited
}

func (ls *LimitSet) CacheEligible(feature string) bool {
	return ls.Cacheable[feature]
}

func (ls *LimitSet) Enabled(feature string) bool {
	enabled, ok := ls.Toggles[feature]
	if !ok {
		// Features without a toggle are on
		return true
	}
	return enabled
}

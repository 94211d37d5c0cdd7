package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/pathlane/usage-gate/internal/policy"
)

// Decision is the outcome of one admission check. Callers surface denied
// decisions as 429s with a Retry-After hint.
type Decision struct {
	Allowed       bool          `json:"allowed"`
	Tier          string        `json:"tier"`
	EndpointClass string        `json:"endpoint_class"`
	Limit         int           `json:"limit"`
	Remaining     int           `json:"remaining"`
	ResetAt       time.Time     `json:"reset_at"`
	RetryAfter    time.Duration `json:"retry_after"`
}

// Admitter answers per-user, per-endpoint-class admission checks against
// the thresholds of the user's resolved tier.
type Admitter struct {
	resolver *policy.Resolver
	factory  *Factory
}

func NewAdmitter(resolver *policy.Resolver, factory *Factory) *Admitter {
	return &Admitter{
		resolver: resolver,
		factory:  factory,
	}
}

// Admit checks one request against the (userID, endpointClass) window.
// Distinct endpoint classes keep independent windows; the same class for
// two users never shares state.
func (a *Admitter) Admit(ctx context.Context, userID, tier, endpointClass string) (*Decision, error) {
	ls, err := a.resolver.Resolve(tier)
	if err != nil {
		return nil, err
	}

	rule, ok := ls.Rate(endpointClass)
	if !ok {
		return nil, fmt.Errorf("tier %q has no rate rule for class %q", tier, endpointClass)
	}

	window := time.Duration(rule.WindowSec) * time.Second
	limiter := a.factory.Limiter(rule.Algorithm, rule.Limit, window)

	key := userID + ":" + endpointClass

	allowed, err := limiter.Allow(ctx, key)
	if err != nil {
		return nil, err
	}

	remaining, _ := limiter.Remaining(ctx, key)
	resetAt, _ := limiter.Reset(ctx, key)

	decision := &Decision{
		Allowed:       allowed,
		Tier:          tier,
		EndpointClass: endpointClass,
		Limit:         limiter.Limit(),
		Remaining:     remaining,
		ResetAt:       resetAt,
	}

	if !allowed {
		retryAfter := time.Until(resetAt)
		if retryAfter < 0 {
			retryAfter = 0
		}
		decision.RetryAfter = retryAfter
	}

	return decision, nil
}

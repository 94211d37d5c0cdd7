package gate

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pathlane/usage-gate/internal/cache"
	"github.com/pathlane/usage-gate/internal/dispatch"
	"github.com/pathlane/usage-gate/internal/models"
	"github.com/pathlane/usage-gate/internal/policy"
	"github.com/pathlane/usage-gate/internal/quota"
	"github.com/pathlane/usage-gate/internal/ratelimit"
)

// RateLimitedError carries the denial decision to the boundary so handlers
// can emit Retry-After.
type RateLimitedError struct {
	Decision *ratelimit.Decision
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited: retry after %v", e.Decision.RetryAfter)
}

// Service is the admission-control facade the record stores call. Every
// operation is synchronous from the caller's perspective; only job
// execution runs out of band.
type Service struct {
	resolver   *policy.Resolver
	admitter   *ratelimit.Admitter
	ledger     *quota.Ledger
	cache      *cache.Cache
	dispatcher *dispatch.Dispatcher
}

func NewService(resolver *policy.Resolver, admitter *ratelimit.Admitter, ledger *quota.Ledger, responseCache *cache.Cache, dispatcher *dispatch.Dispatcher) *Service {
	return &Service{
		resolver:   resolver,
		admitter:   admitter,
		ledger:     ledger,
		cache:      responseCache,
		dispatcher: dispatcher,
	}
}

// Admit runs the short-window admission check for one request
func (s *Service) Admit(ctx context.Context, userID, tier, endpointClass string) (*ratelimit.Decision, error) {
	return s.admitter.Admit(ctx, userID, tier, endpointClass)
}

// CheckAndReserve places a quota reservation for a feature call
func (s *Service) CheckAndReserve(ctx context.Context, userID, tier, feature string) (*quota.Reservation, error) {
	return s.ledger.CheckAndReserve(ctx, userID, tier, feature, time.Now())
}

func (s *Service) Commit(ctx context.Context, reservationID string) error {
	return s.ledger.Commit(ctx, reservationID)
}

func (s *Service) Release(ctx context.Context, reservationID string) error {
	return s.ledger.Release(ctx, reservationID)
}

// GetOrCompute serves a fingerprint from the response cache, computing on
// a miss under the configured timeout
func (s *Service) GetOrCompute(ctx context.Context, fingerprint string, ttl time.Duration, fn cache.ComputeFunc) (*cache.Result, error) {
	return s.cache.GetOrCompute(ctx, fingerprint, ttl, fn)
}

// Enqueue hands a work item to the dispatcher
func (s *Service) Enqueue(ctx context.Context, req dispatch.EnqueueRequest) (uuid.UUID, error) {
	return s.dispatcher.Enqueue(ctx, req)
}

func (s *Service) JobStatus(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	return s.dispatcher.Status(ctx, id)
}

func (s *Service) CancelJob(ctx context.Context, id uuid.UUID) (bool, error) {
	return s.dispatcher.Cancel(ctx, id)
}

func (s *Service) UsageSummary(ctx context.Context, userID, tier, feature, period string) (*quota.Summary, error) {
	if period == "" {
		period = s.ledger.Period(time.Now())
	}
	return s.ledger.Summary(ctx, userID, tier, feature, period)
}

// CorrectUsage applies an administrative adjustment to a committed count
func (s *Service) CorrectUsage(ctx context.Context, userID, feature, period string, delta int64) error {
	return s.ledger.Correct(ctx, userID, feature, period, delta)
}

// FeatureRequest is one quota-bound feature call going through the full
// admission path.
type FeatureRequest struct {
	UserID        string
	Tier          string
	Feature       string
	EndpointClass string
	Payload       json.RawMessage
	ModelTag      string
	UserScoped    bool // result is user-specific, fingerprint includes the user
	Urgent        bool // caller blocks for a synchronous result
	TTL           time.Duration
	Compute       cache.ComputeFunc // sync computation, required when Urgent
	TaskType      models.TaskType   // async task type, required when not Urgent or on timeout fallback
}

type FeatureResponse struct {
	Route  Route           `json:"route"`
	Result json.RawMessage `json:"result,omitempty"`
	JobID  uuid.UUID       `json:"job_id,omitempty"`
}

// ServeFeature runs the full path: rate-limit admission, quota reservation,
// then cache / synchronous compute / async enqueue per Decide. A cache hit
// releases the reservation since no billable work ran; a compute timeout
// falls back to an async job that carries the reservation.
func (s *Service) ServeFeature(ctx context.Context, req FeatureRequest) (*FeatureResponse, error) {
	decision, err := s.admitter.Admit(ctx, req.UserID, req.Tier, req.EndpointClass)
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		return nil, &RateLimitedError{Decision: decision}
	}

	resv, err := s.ledger.CheckAndReserve(ctx, req.UserID, req.Tier, req.Feature, time.Now())
	if err != nil {
		return nil, err
	}

	ls, err := s.resolver.Resolve(req.Tier)
	if err != nil {
		s.ledger.Release(ctx, resv.ID)
		return nil, err
	}

	var fingerprint string
	if ls.CacheEligible(req.Feature) {
		scope := ""
		if req.UserScoped {
			scope = req.UserID
		}
		fingerprint = cache.Fingerprint(req.Feature, req.Payload, scope, req.ModelTag)

		if hit, err := s.cache.Get(ctx, fingerprint); err == nil && hit != nil {
			s.ledger.Release(ctx, resv.ID)
			return &FeatureResponse{Route: RouteCached, Result: hit.Payload}, nil
		}
	}

	if !req.Urgent {
		return s.acceptAsync(ctx, req, resv, fingerprint)
	}

	result, err := s.cache.GetOrCompute(ctx, fingerprint, req.TTL, req.Compute)
	if err == cache.ErrComputeTimeout {
		// A stalled computation becomes a transient failure; retry it
		// out of band with the reservation still pending.
		return s.acceptAsync(ctx, req, resv, fingerprint)
	}
	if err != nil {
		s.ledger.Release(ctx, resv.ID)
		return nil, err
	}

	if result.FromCache {
		s.ledger.Release(ctx, resv.ID)
		return &FeatureResponse{Route: RouteCached, Result: result.Payload}, nil
	}

	if err := s.ledger.Commit(ctx, resv.ID); err != nil {
		return nil, err
	}

	return &FeatureResponse{Route: RouteComputed, Result: result.Payload}, nil
}

func (s *Service) acceptAsync(ctx context.Context, req FeatureRequest, resv *quota.Reservation, fingerprint string) (*FeatureResponse, error) {
	jobID, err := s.dispatcher.Enqueue(ctx, dispatch.EnqueueRequest{
		TaskType:      req.TaskType,
		Payload:       req.Payload,
		UserID:        req.UserID,
		ReservationID: resv.ID,
		Fingerprint:   fingerprint,
		CacheTTLSec:   int(req.TTL.Seconds()),
	})
	if err != nil {
		s.ledger.Release(ctx, resv.ID)
		return nil, err
	}

	return &FeatureResponse{Route: RouteAsync, JobID: jobID}, nil
}

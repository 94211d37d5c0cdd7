package gate

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/pathlane/usage-gate/internal/cache"
	"github.com/pathlane/usage-gate/internal/dispatch"
	"github.com/pathlane/usage-gate/internal/models"
	"github.com/pathlane/usage-gate/internal/policy"
	"github.com/pathlane/usage-gate/internal/quota"
	"github.com/pathlane/usage-gate/internal/ratelimit"
)

type fixture struct {
	service    *Service
	ledger     *quota.Ledger
	cache      *cache.Cache
	dispatcher *dispatch.Dispatcher
	repo       *dispatch.MemoryRepo
}

func newFixture(t *testing.T, computeTimeout time.Duration) *fixture {
	t.Helper()

	resolver, err := policy.NewResolver(&policy.StaticSource{Tiers: map[string]*policy.LimitSet{
		"free": {
			Tier: "free",
			Rates: map[string]policy.RateRule{
				"general": {Limit: 2, WindowSec: 3600, Algorithm: "fixed_window"},
				"ai":      {Limit: 100, WindowSec: 3600, Algorithm: "fixed_window"},
			},
			Quotas:    map[string]int64{"summarize": 3},
			Cacheable: map[string]bool{"summarize": true},
		},
	}}, time.Minute)
	if err != nil {
		t.Fatalf("NewResolver failed: %v", err)
	}
	t.Cleanup(resolver.Stop)

	admitter := ratelimit.NewAdmitter(resolver, ratelimit.NewFactory(nil))
	ledger := quota.NewLedger(resolver, quota.NewMemoryStore(time.Hour), nil, time.UTC)
	responseCache := cache.New(cache.NewMemoryStore(), computeTimeout)

	repo := dispatch.NewMemoryRepo()
	dispatcher := dispatch.New(repo, ledger, responseCache, dispatch.Config{
		Workers:      1,
		PollInterval: 5 * time.Millisecond,
		Backoff:      dispatch.Backoff{Base: time.Millisecond},
	})

	return &fixture{
		service:    NewService(resolver, admitter, ledger, responseCache, dispatcher),
		ledger:     ledger,
		cache:      responseCache,
		dispatcher: dispatcher,
		repo:       repo,
	}
}

func urgentRequest(payload string) FeatureRequest {
	return FeatureRequest{
		UserID:        "user-1",
		Tier:          "free",
		Feature:       "summarize",
		EndpointClass: "ai",
		Payload:       json.RawMessage(payload),
		ModelTag:      "v1",
		Urgent:        true,
		TTL:           time.Minute,
		TaskType:      models.TaskInference,
		Compute: func(ctx context.Context) (json.RawMessage, error) {
			return json.RawMessage(`{"summary":"ok"}`), nil
		},
	}
}

func summary(t *testing.T, f *fixture) *quota.Summary {
	t.Helper()

	s, err := f.service.UsageSummary(context.Background(), "user-1", "free", "summarize", "")
	if err != nil {
		t.Fatalf("UsageSummary failed: %v", err)
	}
	return s
}

func TestServeFeatureComputesAndCommits(t *testing.T) {
	f := newFixture(t, time.Second)

	resp, err := f.service.ServeFeature(context.Background(), urgentRequest(`{"doc":"a"}`))
	if err != nil {
		t.Fatalf("ServeFeature failed: %v", err)
	}
	if resp.Route != RouteComputed {
		t.Fatalf("expected computed route, got %s", resp.Route)
	}
	if string(resp.Result) != `{"summary":"ok"}` {
		t.Errorf("unexpected result: %s", resp.Result)
	}

	s := summary(t, f)
	if s.Committed != 1 || s.Pending != 0 {
		t.Errorf("expected 1 committed / 0 pending, got %d / %d", s.Committed, s.Pending)
	}
}

func TestServeFeatureCacheHitReleasesReservation(t *testing.T) {
	f := newFixture(t, time.Second)
	ctx := context.Background()

	if _, err := f.service.ServeFeature(ctx, urgentRequest(`{"doc":"a"}`)); err != nil {
		t.Fatalf("first call failed: %v", err)
	}

	resp, err := f.service.ServeFeature(ctx, urgentRequest(`{"doc":"a"}`))
	if err != nil {
		t.Fatalf("second call failed: %v", err)
	}
	if resp.Route != RouteCached {
		t.Fatalf("expected cached route, got %s", resp.Route)
	}

	// The cached serve must not consume quota
	s := summary(t, f)
	if s.Committed != 1 || s.Pending != 0 {
		t.Errorf("cache hit must not count, got %d committed / %d pending", s.Committed, s.Pending)
	}
}

func TestServeFeatureDistinctPayloadsMiss(t *testing.T) {
	f := newFixture(t, time.Second)
	ctx := context.Background()

	f.service.ServeFeature(ctx, urgentRequest(`{"doc":"a"}`))

	resp, err := f.service.ServeFeature(ctx, urgentRequest(`{"doc":"b"}`))
	if err != nil {
		t.Fatalf("ServeFeature failed: %v", err)
	}
	if resp.Route != RouteComputed {
		t.Errorf("different payload should miss the cache, got %s", resp.Route)
	}
}

func TestServeFeatureRateLimited(t *testing.T) {
	f := newFixture(t, time.Second)
	ctx := context.Background()

	req := urgentRequest(`{"doc":"a"}`)
	req.EndpointClass = "general" // limit 2

	f.service.ServeFeature(ctx, req)
	req.Payload = json.RawMessage(`{"doc":"b"}`)
	f.service.ServeFeature(ctx, req)

	req.Payload = json.RawMessage(`{"doc":"c"}`)
	_, err := f.service.ServeFeature(ctx, req)

	var rl *RateLimitedError
	if !errors.As(err, &rl) {
		t.Fatalf("expected RateLimitedError, got %v", err)
	}
	if rl.Decision.Allowed {
		t.Error("denied decision should not be marked allowed")
	}

	// Denied requests never touch quota
	s := summary(t, f)
	if s.Pending != 0 {
		t.Errorf("rate-limited request left %d pending debits", s.Pending)
	}
}

func TestServeFeatureQuotaExceeded(t *testing.T) {
	f := newFixture(t, time.Second)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		req := urgentRequest(`{"doc":"` + string(rune('a'+i)) + `"}`)
		if _, err := f.service.ServeFeature(ctx, req); err != nil {
			t.Fatalf("call %d failed: %v", i+1, err)
		}
	}

	if _, err := f.service.ServeFeature(ctx, urgentRequest(`{"doc":"z"}`)); !errors.Is(err, quota.ErrQuotaExceeded) {
		t.Errorf("expected ErrQuotaExceeded, got %v", err)
	}
}

func TestServeFeatureAsyncCarriesReservation(t *testing.T) {
	f := newFixture(t, time.Second)
	ctx := context.Background()

	req := urgentRequest(`{"doc":"a"}`)
	req.Urgent = false

	resp, err := f.service.ServeFeature(ctx, req)
	if err != nil {
		t.Fatalf("ServeFeature failed: %v", err)
	}
	if resp.Route != RouteAsync {
		t.Fatalf("expected async route, got %s", resp.Route)
	}

	job, err := f.service.JobStatus(ctx, resp.JobID)
	if err != nil {
		t.Fatalf("JobStatus failed: %v", err)
	}
	if job.ReservationID == "" {
		t.Error("async job should carry the quota reservation")
	}
	if job.Fingerprint == "" {
		t.Error("cacheable async job should carry its fingerprint")
	}

	s := summary(t, f)
	if s.Pending != 1 {
		t.Errorf("expected the reservation pending until the job settles, got %d", s.Pending)
	}
}

func TestServeFeatureAsyncJobCommitsAndCaches(t *testing.T) {
	f := newFixture(t, time.Second)
	ctx := context.Background()

	f.dispatcher.Register(models.TaskInference, dispatch.ExecutorFunc(func(ctx context.Context, job *models.Job) dispatch.Outcome {
		return dispatch.Success(json.RawMessage(`{"summary":"async"}`))
	}))
	f.dispatcher.Start()
	defer f.dispatcher.Stop()

	req := urgentRequest(`{"doc":"a"}`)
	req.Urgent = false

	resp, err := f.service.ServeFeature(ctx, req)
	if err != nil {
		t.Fatalf("ServeFeature failed: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		job, err := f.service.JobStatus(ctx, resp.JobID)
		if err != nil {
			t.Fatalf("JobStatus failed: %v", err)
		}
		if job.Status == models.JobSucceeded {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("job stuck in %s", job.Status)
		}
		time.Sleep(5 * time.Millisecond)
	}

	s := summary(t, f)
	if s.Committed != 1 || s.Pending != 0 {
		t.Errorf("expected job success to commit, got %d committed / %d pending", s.Committed, s.Pending)
	}

	// Later urgent calls for the same payload hit the cache
	hit, err := f.service.ServeFeature(ctx, urgentRequest(`{"doc":"a"}`))
	if err != nil {
		t.Fatalf("ServeFeature failed: %v", err)
	}
	if hit.Route != RouteCached {
		t.Errorf("async result should be cached, got %s", hit.Route)
	}
}

func TestServeFeatureTimeoutFallsBackToAsync(t *testing.T) {
	f := newFixture(t, 10*time.Millisecond)
	ctx := context.Background()

	req := urgentRequest(`{"doc":"slow"}`)
	req.Compute = func(ctx context.Context) (json.RawMessage, error) {
		select {
		case <-time.After(time.Second):
		case <-ctx.Done():
		}
		return json.RawMessage(`{}`), nil
	}

	resp, err := f.service.ServeFeature(ctx, req)
	if err != nil {
		t.Fatalf("ServeFeature failed: %v", err)
	}
	if resp.Route != RouteAsync {
		t.Fatalf("timeout should fall back to async, got %s", resp.Route)
	}

	// The reservation followed the job instead of being released
	job, err := f.service.JobStatus(ctx, resp.JobID)
	if err != nil {
		t.Fatalf("JobStatus failed: %v", err)
	}
	if job.ReservationID == "" {
		t.Error("fallback job should carry the original reservation")
	}

	s := summary(t, f)
	if s.Pending != 1 {
		t.Errorf("expected 1 pending after fallback, got %d", s.Pending)
	}
}

func TestServeFeatureComputeErrorReleases(t *testing.T) {
	f := newFixture(t, time.Second)
	ctx := context.Background()

	boom := errors.New("backend down")
	req := urgentRequest(`{"doc":"a"}`)
	req.Compute = func(ctx context.Context) (json.RawMessage, error) {
		return nil, boom
	}

	if _, err := f.service.ServeFeature(ctx, req); !errors.Is(err, boom) {
		t.Fatalf("expected compute error, got %v", err)
	}

	s := summary(t, f)
	if s.Pending != 0 || s.Committed != 0 {
		t.Errorf("failed compute must release the reservation, got %d pending / %d committed", s.Pending, s.Committed)
	}
}

package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pathlane/usage-gate/internal/cache"
	"github.com/pathlane/usage-gate/internal/circuitbreaker"
	"github.com/pathlane/usage-gate/internal/models"
	"github.com/pathlane/usage-gate/internal/quota"
)

var (
	ErrUnknownTaskType = errors.New("unknown task type")

	// ErrNotRunning is returned when a result is reported for a job that
	// is not in the running state.
	ErrNotRunning = errors.New("job is not running")
)

// Notifier reports terminal job states back to the originating record so
// the surrounding system can surface them to the user.
type Notifier interface {
	JobSucceeded(ctx context.Context, job *models.Job)
	JobDeadLettered(ctx context.Context, job *models.Job)
}

type nopNotifier struct{}

func (nopNotifier) JobSucceeded(context.Context, *models.Job)    {}
func (nopNotifier) JobDeadLettered(context.Context, *models.Job) {}

// HealthFunc reports whether a task type's backend is currently healthy.
// Unhealthy types are skipped at claim time instead of burning attempts.
type HealthFunc func(taskType models.TaskType) bool

type Config struct {
	Workers      int           // Default: 4
	PollInterval time.Duration // Default: 1s
	ExecTimeout  time.Duration // Default: 2m
	MaxAttempts  int           // Default: 5
	Backoff      Backoff
	Retention    time.Duration // how long terminal jobs are kept; Default: 7d
}

func (c *Config) defaults() {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.ExecTimeout <= 0 {
		c.ExecTimeout = 2 * time.Minute
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.Retention <= 0 {
		c.Retention = 7 * 24 * time.Hour
	}
}

// Dispatcher owns the job state machine: pending -> running -> succeeded,
// or running -> failed -> retrying -> running (bounded), or -> dead_lettered.
// On success it commits the job's quota reservation and writes cacheable
// results through the response cache; on dead-letter it releases the
// reservation.
type Dispatcher struct {
	repo     JobRepo
	ledger   *quota.Ledger
	cache    *cache.Cache
	notifier Notifier
	health   HealthFunc
	cfg      Config

	mu        sync.RWMutex
	executors map[models.TaskType]Executor
	breakers  map[models.TaskType]*circuitbreaker.CircuitBreaker

	stop chan struct{}
	wg   sync.WaitGroup
}

func New(repo JobRepo, ledger *quota.Ledger, resultCache *cache.Cache, cfg Config) *Dispatcher {
	cfg.defaults()

	return &Dispatcher{
		repo:      repo,
		ledger:    ledger,
		cache:     resultCache,
		notifier:  nopNotifier{},
		cfg:       cfg,
		executors: make(map[models.TaskType]Executor),
		breakers:  make(map[models.TaskType]*circuitbreaker.CircuitBreaker),
		stop:      make(chan struct{}),
	}
}

// Register binds an executor to a task type, with its own circuit breaker
func (d *Dispatcher) Register(taskType models.TaskType, ex Executor) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.executors[taskType] = ex
	d.breakers[taskType] = circuitbreaker.New(circuitbreaker.Config{})
}

// SetNotifier installs the terminal-state callback
func (d *Dispatcher) SetNotifier(n Notifier) {
	if n != nil {
		d.notifier = n
	}
}

// SetHealth installs the per-task-type backend health check
func (d *Dispatcher) SetHealth(h HealthFunc) {
	d.health = h
}

type EnqueueRequest struct {
	TaskType       models.TaskType `json:"task_type"`
	Payload        json.RawMessage `json:"payload"`
	UserID         string          `json:"user_id"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	ReservationID  string          `json:"reservation_id,omitempty"`
	Fingerprint    string          `json:"fingerprint,omitempty"`
	CacheTTLSec    int             `json:"cache_ttl_sec,omitempty"`
	MaxAttempts    int             `json:"max_attempts,omitempty"`
}

// Enqueue accepts a work item. With an idempotency key, a duplicate call
// returns the original job's ID instead of creating a second job.
func (d *Dispatcher) Enqueue(ctx context.Context, req EnqueueRequest) (uuid.UUID, error) {
	if !models.ValidTaskType(req.TaskType) {
		return uuid.Nil, fmt.Errorf("%w: %q", ErrUnknownTaskType, req.TaskType)
	}

	if req.IdempotencyKey != "" {
		existing, err := d.repo.FindByIdempotencyKey(ctx, req.IdempotencyKey)
		if err == nil {
			return existing.ID, nil
		}
		if err != ErrJobNotFound {
			return uuid.Nil, err
		}
	}

	maxAttempts := req.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = d.cfg.MaxAttempts
	}

	payload := req.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}

	job := &models.Job{
		TaskType:      req.TaskType,
		Payload:       string(payload),
		UserID:        req.UserID,
		Status:        models.JobPending,
		MaxAttempts:   maxAttempts,
		NextRunAt:     time.Now(),
		ReservationID: req.ReservationID,
		Fingerprint:   req.Fingerprint,
		CacheTTLSec:   req.CacheTTLSec,
	}
	if req.IdempotencyKey != "" {
		key := req.IdempotencyKey
		job.IdempotencyKey = &key
	}

	err := d.repo.Create(ctx, job)
	if err == ErrDuplicateKey {
		// Lost the insert race; the winner's job is the one
		existing, ferr := d.repo.FindByIdempotencyKey(ctx, req.IdempotencyKey)
		if ferr != nil {
			return uuid.Nil, ferr
		}
		return existing.ID, nil
	}
	if err != nil {
		return uuid.Nil, err
	}

	return job.ID, nil
}

// Status returns the job record
func (d *Dispatcher) Status(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	return d.repo.FindByID(ctx, id)
}

// Cancel marks a job canceled while it is still pending. Once running,
// cancellation is advisory only and the attempt runs to a terminal state.
func (d *Dispatcher) Cancel(ctx context.Context, id uuid.UUID) (bool, error) {
	return d.repo.CancelPending(ctx, id)
}

// Start launches the worker pool and the retention sweep
func (d *Dispatcher) Start() {
	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}

	d.wg.Add(1)
	go d.retentionLoop()
}

// Stop waits for in-flight attempts to finish
func (d *Dispatcher) Stop() {
	close(d.stop)
	d.wg.Wait()
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()

	for {
		select {
		case <-d.stop:
			return
		default:
		}

		job, err := d.repo.ClaimNext(context.Background(), time.Now(), d.unhealthyTypes())
		if err != nil {
			log.Printf("Job claim failed: %v", err)
			d.sleep()
			continue
		}
		if job == nil {
			d.sleep()
			continue
		}

		d.runOne(job)
	}
}

func (d *Dispatcher) sleep() {
	select {
	case <-d.stop:
	case <-time.After(d.cfg.PollInterval):
	}
}

func (d *Dispatcher) unhealthyTypes() []models.TaskType {
	if d.health == nil {
		return nil
	}

	var out []models.TaskType
	for _, t := range []models.TaskType{models.TaskInference, models.TaskExport, models.TaskNotification} {
		if !d.health(t) {
			out = append(out, t)
		}
	}
	return out
}

// runOne executes a claimed job and applies the outcome
func (d *Dispatcher) runOne(job *models.Job) {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.ExecTimeout)
	defer cancel()

	out := d.execute(ctx, job)

	if err := d.apply(context.Background(), job, out); err != nil {
		log.Printf("Failed to record outcome for job %s: %v", job.ID, err)
	}
}

func (d *Dispatcher) execute(ctx context.Context, job *models.Job) Outcome {
	d.mu.RLock()
	ex, ok := d.executors[job.TaskType]
	breaker := d.breakers[job.TaskType]
	d.mu.RUnlock()

	if !ok {
		return Permanent(fmt.Errorf("no executor registered for %q", job.TaskType))
	}

	var out Outcome
	err := breaker.Call(func() error {
		out = ex.Execute(ctx, job)
		if out.Kind == OutcomeTransient {
			// Only backend-class failures count against the breaker;
			// a bad payload says nothing about backend health.
			return out.Err
		}
		return nil
	})

	if err == circuitbreaker.ErrCircuitOpen {
		return Transient(err)
	}

	return out
}

// ReportResult applies an externally reported outcome to a running job
func (d *Dispatcher) ReportResult(ctx context.Context, id uuid.UUID, out Outcome) error {
	job, err := d.repo.FindByID(ctx, id)
	if err != nil {
		return err
	}

	if job.Status != models.JobRunning {
		return ErrNotRunning
	}

	return d.apply(ctx, job, out)
}

func (d *Dispatcher) apply(ctx context.Context, job *models.Job, out Outcome) error {
	switch out.Kind {
	case OutcomeSuccess:
		return d.succeed(ctx, job, out.Result)

	case OutcomeTransient:
		job.LastError = outcomeError(out)

		if job.Attempts >= job.MaxAttempts {
			return d.deadLetter(ctx, job)
		}

		// Running -> Failed -> Retrying; the failed hop is not persisted
		// separately, retrying with a backoff deadline captures it.
		job.Status = models.JobRetrying
		job.NextRunAt = time.Now().Add(d.cfg.Backoff.Delay(job.Attempts))
		return d.repo.Update(ctx, job)

	case OutcomePermanent:
		job.LastError = outcomeError(out)
		return d.deadLetter(ctx, job)

	default:
		return fmt.Errorf("unclassified outcome %d for job %s", out.Kind, job.ID)
	}
}

func (d *Dispatcher) succeed(ctx context.Context, job *models.Job, result json.RawMessage) error {
	now := time.Now()
	job.Status = models.JobSucceeded
	job.Result = string(result)
	job.LastError = ""
	job.FinishedAt = &now

	if err := d.repo.Update(ctx, job); err != nil {
		return err
	}

	if job.ReservationID != "" && d.ledger != nil {
		if err := d.ledger.Commit(ctx, job.ReservationID); err != nil && err != quota.ErrUnknownReservation {
			log.Printf("Quota commit failed for job %s: %v", job.ID, err)
		}
	}

	if job.Fingerprint != "" && job.CacheTTLSec > 0 && d.cache != nil {
		d.cache.Put(ctx, job.Fingerprint, result, time.Duration(job.CacheTTLSec)*time.Second)
	}

	d.notifier.JobSucceeded(ctx, job)
	return nil
}

func (d *Dispatcher) deadLetter(ctx context.Context, job *models.Job) error {
	now := time.Now()
	job.Status = models.JobDeadLettered
	job.FinishedAt = &now

	if err := d.repo.Update(ctx, job); err != nil {
		return err
	}

	if job.ReservationID != "" && d.ledger != nil {
		if err := d.ledger.Release(ctx, job.ReservationID); err != nil && err != quota.ErrUnknownReservation {
			log.Printf("Quota release failed for job %s: %v", job.ID, err)
		}
	}

	d.notifier.JobDeadLettered(ctx, job)
	return nil
}

func (d *Dispatcher) retentionLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-d.stop:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-d.cfg.Retention)
			purged, err := d.repo.PurgeTerminal(context.Background(), cutoff)
			if err != nil {
				log.Printf("Job retention purge failed: %v", err)
			} else if purged > 0 {
				log.Printf("Purged %d terminal jobs older than %v", purged, d.cfg.Retention)
			}
		}
	}
}

func outcomeError(out Outcome) string {
	if out.Err != nil {
		return out.Err.Error()
	}
	return out.Kind.String()
}

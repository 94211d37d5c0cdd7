package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pathlane/usage-gate/internal/models"
)

// MemoryRepo is the in-process job store used by tests and single-instance
// deployments. The mutex is the serialization point for claims.
type MemoryRepo struct {
	mu    sync.Mutex
	jobs  map[uuid.UUID]*models.Job
	byKey map[string]uuid.UUID
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		jobs:  make(map[uuid.UUID]*models.Job),
		byKey: make(map[string]uuid.UUID),
	}
}

func (r *MemoryRepo) Create(ctx context.Context, job *models.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if job.IdempotencyKey != nil {
		if _, exists := r.byKey[*job.IdempotencyKey]; exists {
			return ErrDuplicateKey
		}
	}

	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	now := time.Now()
	job.CreatedAt = now
	job.UpdatedAt = now

	clone := *job
	r.jobs[job.ID] = &clone

	if job.IdempotencyKey != nil {
		r.byKey[*job.IdempotencyKey] = job.ID
	}

	return nil
}

func (r *MemoryRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}

	clone := *job
	return &clone, nil
}

func (r *MemoryRepo) FindByIdempotencyKey(ctx context.Context, key string) (*models.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byKey[key]
	if !ok {
		return nil, ErrJobNotFound
	}

	clone := *r.jobs[id]
	return &clone, nil
}

func (r *MemoryRepo) ClaimNext(ctx context.Context, now time.Time, exclude []models.TaskType) (*models.Job, error) {
	excluded := make(map[models.TaskType]bool, len(exclude))
	for _, t := range exclude {
		excluded[t] = true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var next *models.Job
	for _, job := range r.jobs {
		if excluded[job.TaskType] {
			continue
		}

		eligible := job.Status == models.JobPending ||
			(job.Status == models.JobRetrying && !job.NextRunAt.After(now))
		if !eligible {
			continue
		}

		if next == nil || job.NextRunAt.Before(next.NextRunAt) {
			next = job
		}
	}

	if next == nil {
		return nil, nil
	}

	next.Status = models.JobRunning
	next.Attempts++
	next.UpdatedAt = now

	clone := *next
	return &clone, nil
}

func (r *MemoryRepo) Update(ctx context.Context, job *models.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.jobs[job.ID]; !ok {
		return ErrJobNotFound
	}

	job.UpdatedAt = time.Now()
	clone := *job
	r.jobs[job.ID] = &clone
	return nil
}

func (r *MemoryRepo) CancelPending(ctx context.Context, id uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return false, ErrJobNotFound
	}

	if job.Status != models.JobPending {
		return false, nil
	}

	now := time.Now()
	job.Status = models.JobCanceled
	job.FinishedAt = &now
	job.UpdatedAt = now
	return true, nil
}

func (r *MemoryRepo) PurgeTerminal(ctx context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var purged int64
	for id, job := range r.jobs {
		if !job.Status.Terminal() || job.FinishedAt == nil || job.FinishedAt.After(before) {
			continue
		}

		delete(r.jobs, id)
		if job.IdempotencyKey != nil {
			delete(r.byKey, *job.IdempotencyKey)
		}
		purged++
	}

	return purged, nil
}

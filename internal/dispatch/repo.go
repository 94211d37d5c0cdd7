package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/pathlane/usage-gate/internal/models"
)

var (
	ErrJobNotFound = errors.New("job not found")

	// ErrDuplicateKey signals an idempotency-key collision on insert
	ErrDuplicateKey = errors.New("duplicate idempotency key")
)

// JobRepo is the durable job store. ClaimNext must transition exactly one
// eligible job to Running atomically - two concurrent consumers must never
// claim the same job.
type JobRepo interface {
	Create(ctx context.Context, job *models.Job) error

	FindByID(ctx context.Context, id uuid.UUID) (*models.Job, error)

	FindByIdempotencyKey(ctx context.Context, key string) (*models.Job, error)

	// ClaimNext picks the next job that is Pending, or Retrying with
	// next_run_at <= now, skipping excluded task types, marks it Running
	// and increments its attempt count. Returns nil, nil when nothing is
	// eligible.
	ClaimNext(ctx context.Context, now time.Time, exclude []models.TaskType) (*models.Job, error)

	Update(ctx context.Context, job *models.Job) error

	// CancelPending marks a job canceled only if it is still Pending.
	// Returns false when the job already left Pending.
	CancelPending(ctx context.Context, id uuid.UUID) (bool, error)

	// PurgeTerminal deletes terminal jobs that finished before the cutoff
	PurgeTerminal(ctx context.Context, before time.Time) (int64, error)
}

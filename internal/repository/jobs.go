package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/pathlane/usage-gate/internal/dispatch"
	"github.com/pathlane/usage-gate/internal/models"
	"github.com/pathlane/usage-gate/internal/storage"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// JobRepository is the postgres-backed job store shared by all dispatcher
// instances.
type JobRepository struct {
	db *storage.Postgres
}

func NewJobRepository(db *storage.Postgres) *JobRepository {
	return &JobRepository{db: db}
}

func (r *JobRepository) Create(ctx context.Context, job *models.Job) error {
	err := r.db.DB.WithContext(ctx).Create(job).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return dispatch.ErrDuplicateKey
	}
	return err
}

func (r *JobRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	var job models.Job
	err := r.db.DB.WithContext(ctx).
		Where("id = ?", id).
		First(&job).Error

	if err == gorm.ErrRecordNotFound {
		return nil, dispatch.ErrJobNotFound
	}

	return &job, err
}

func (r *JobRepository) FindByIdempotencyKey(ctx context.Context, key string) (*models.Job, error) {
	var job models.Job
	err := r.db.DB.WithContext(ctx).
		Where("idempotency_key = ?", key).
		First(&job).Error

	if err == gorm.ErrRecordNotFound {
		return nil, dispatch.ErrJobNotFound
	}

	return &job, err
}

// ClaimNext locks the oldest eligible row with SKIP LOCKED so concurrent
// consumers never claim the same job, then moves it to running.
func (r *JobRepository) ClaimNext(ctx context.Context, now time.Time, exclude []models.TaskType) (*models.Job, error) {
	var claimed *models.Job

	err := r.db.Transaction(func(tx *gorm.DB) error {
		var job models.Job

		query := tx.WithContext(ctx).
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("(status = ? OR (status = ? AND next_run_at <= ?))",
				models.JobPending, models.JobRetrying, now)

		if len(exclude) > 0 {
			query = query.Where("task_type NOT IN ?", exclude)
		}

		err := query.Order("next_run_at ASC").First(&job).Error
		if err == gorm.ErrRecordNotFound {
			return nil
		}
		if err != nil {
			return err
		}

		job.Status = models.JobRunning
		job.Attempts++

		if err := tx.WithContext(ctx).Save(&job).Error; err != nil {
			return err
		}

		claimed = &job
		return nil
	})

	return claimed, err
}

func (r *JobRepository) Update(ctx context.Context, job *models.Job) error {
	return r.db.DB.WithContext(ctx).Save(job).Error
}

// CancelPending flips a job to canceled only while it is still pending.
// RowsAffected tells us whether we won the race with a consumer.
func (r *JobRepository) CancelPending(ctx context.Context, id uuid.UUID) (bool, error) {
	now := time.Now()

	result := r.db.DB.WithContext(ctx).
		Model(&models.Job{}).
		Where("id = ? AND status = ?", id, models.JobPending).
		Updates(map[string]interface{}{
			"status":      models.JobCanceled,
			"finished_at": now,
		})

	if result.Error != nil {
		return false, result.Error
	}

	if result.RowsAffected == 0 {
		// Either missing or already past pending
		var count int64
		if err := r.db.DB.WithContext(ctx).
			Model(&models.Job{}).
			Where("id = ?", id).
			Count(&count).Error; err != nil {
			return false, err
		}
		if count == 0 {
			return false, dispatch.ErrJobNotFound
		}
		return false, nil
	}

	return true, nil
}

func (r *JobRepository) PurgeTerminal(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.DB.WithContext(ctx).
		Where("status IN ? AND finished_at < ?",
			[]models.JobStatus{models.JobSucceeded, models.JobDeadLettered, models.JobCanceled},
			before).
		Delete(&models.Job{})

	return result.RowsAffected, result.Error
}

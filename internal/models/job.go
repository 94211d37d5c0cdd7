package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type JobStatus string

const (
	JobPending      JobStatus = "pending"
	JobRunning      JobStatus = "running"
	JobSucceeded    JobStatus = "succeeded"
	JobFailed       JobStatus = "failed"
	JobRetrying     JobStatus = "retrying"
	JobDeadLettered JobStatus = "dead_lettered"
	JobCanceled     JobStatus = "canceled"
)

// Terminal states are immutable once reached
func (s JobStatus) Terminal() bool {
	return s == JobSucceeded || s == JobDeadLettered || s == JobCanceled
}

type TaskType string

const (
	TaskInference    TaskType = "inference"
	TaskExport       TaskType = "export"
	TaskNotification TaskType = "notification"
)

func ValidTaskType(t TaskType) bool {
	switch t {
	case TaskInference, TaskExport, TaskNotification:
		return true
	}
	return false
}

type Job struct {
	ID             uuid.UUID  `gorm:"type:uuid;primary_key" json:"id"`
	TaskType       TaskType   `gorm:"not null;index" json:"task_type"`
	Payload        string     `gorm:"type:jsonb;not null" json:"payload"`
	UserID         string     `gorm:"not null;index" json:"user_id"`
	Status         JobStatus  `gorm:"not null;index;default:'pending'" json:"status"`
	Attempts       int        `gorm:"not null;default:0" json:"attempts"`
	MaxAttempts    int        `gorm:"not null" json:"max_attempts"`
	NextRunAt      time.Time  `gorm:"index" json:"next_run_at"`
	LastError      string     `json:"last_error,omitempty"`
	IdempotencyKey *string    `gorm:"uniqueIndex" json:"idempotency_key,omitempty"`
	ReservationID  string     `json:"reservation_id,omitempty"`
	Fingerprint    string     `json:"fingerprint,omitempty"` // set for cacheable task types
	CacheTTLSec    int        `json:"cache_ttl_sec,omitempty"`
	Result         string     `gorm:"type:jsonb" json:"result,omitempty"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func (j *Job) BeforeCreate(tx *gorm.DB) error {
	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	return nil
}

func (Job) TableName() string {
	return "jobs"
}

package models

import (
	"time"

	"github.com/google/uuid"
)

// One admission decision, logged asynchronously for analytics
type AdmissionLog struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	Timestamp     time.Time  `gorm:"index" json:"timestamp"`
	UserID        string     `gorm:"index" json:"user_id"`
	Tier          string     `json:"tier"`
	EndpointClass string     `gorm:"index" json:"endpoint_class"`
	Feature       string     `json:"feature,omitempty"`
	Decision      string     `gorm:"index" json:"decision"` // allowed | rate_limited | quota_exceeded
	RetryAfterMs  int        `json:"retry_after_ms,omitempty"`
	ClientKeyID   *uuid.UUID `gorm:"index" json:"client_key_id,omitempty"`
}

func (AdmissionLog) TableName() string {
	return "admission_logs"
}

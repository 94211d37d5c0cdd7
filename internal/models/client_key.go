package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Credential for a calling service (the workbook record stores). Never a
// user-facing key - end users are identified by the claims the identity
// layer puts in their token.
type ClientKey struct {
	ID         uuid.UUID  `gorm:"type:uuid;primary_key" json:"id"`
	KeyHash    string     `gorm:"uniqueIndex;not null" json:"-"`
	Service    string     `gorm:"not null" json:"service"`
	CreatedBy  string     `json:"created_by"`
	IsActive   bool       `gorm:"default:true" json:"is_active"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}

func (k *ClientKey) BeforeCreate(tx *gorm.DB) error {
	if k.ID == uuid.Nil {
		k.ID = uuid.New()
	}
	return nil
}

func (ClientKey) TableName() string {
	return "client_keys"
}

package models

import "time"

// Monthly usage archive row. One row per (user, feature, period); the hot
// pending/committed counts live in the ledger's counter store, this table is
// the durable record kept for billing and audit. Rows for past periods are
// superseded, never deleted.
type UsageCounter struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    string    `gorm:"uniqueIndex:idx_usage_key;not null" json:"user_id"`
	Feature   string    `gorm:"uniqueIndex:idx_usage_key;not null" json:"feature"`
	Period    string    `gorm:"uniqueIndex:idx_usage_key;not null" json:"period"` // YYYY-MM
	Committed int64     `gorm:"not null;default:0" json:"committed"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (UsageCounter) TableName() string {
	return "usage_counters"
}

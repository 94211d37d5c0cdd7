package models

import "time"

// A published policy row for one subscription tier. Written by the admin
// plane, read by the policy resolver on refresh.
type TierPolicy struct {
	Name      string    `gorm:"primaryKey" json:"name"`
	Version   int       `gorm:"not null;default:1" json:"version"`
	Limits    string    `gorm:"type:jsonb;not null" json:"limits"`  // per-endpoint-class rate limits
	Quotas    string    `gorm:"type:jsonb;not null" json:"quotas"`  // per-feature monthly caps
	Toggles   string    `gorm:"type:jsonb" json:"toggles"`          // feature flags
	Cacheable string    `gorm:"type:jsonb" json:"cacheable"`        // features eligible for response caching
	UpdatedAt time.Time `json:"updated_at"`
}

func (TierPolicy) TableName() string {
	return "tier_policies"
}

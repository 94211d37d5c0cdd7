package repository

import (
	"context"

	"github.com/pathlane/usage-gate/internal/models"
	"github.com/pathlane/usage-gate/internal/storage"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UsageRepository maintains the durable monthly usage archive. It implements
// the ledger's Archiver interface.
type UsageRepository struct {
	db *storage.Postgres
}

func NewUsageRepository(db *storage.Postgres) *UsageRepository {
	return &UsageRepository{db: db}
}

// Increment upserts the period row and bumps its committed count
func (r *UsageRepository) Increment(ctx context.Context, userID, feature, period string, delta int64) error {
	counter := models.UsageCounter{
		UserID:    userID,
		Feature:   feature,
		Period:    period,
		Committed: delta,
	}

	return r.db.DB.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}, {Name: "feature"}, {Name: "period"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"committed": gorm.Expr("usage_counters.committed + ?", delta),
			}),
		}).
		Create(&counter).Error
}

func (r *UsageRepository) Find(ctx context.Context, userID, feature, period string) (*models.UsageCounter, error) {
	var counter models.UsageCounter
	err := r.db.DB.WithContext(ctx).
		Where("user_id = ? AND feature = ? AND period = ?", userID, feature, period).
		First(&counter).Error

	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}

	return &counter, err
}

// History returns all archived periods for a user and feature, newest first
func (r *UsageRepository) History(ctx context.Context, userID, feature string, limit int) ([]models.UsageCounter, error) {
	var counters []models.UsageCounter
	err := r.db.DB.WithContext(ctx).
		Where("user_id = ? AND feature = ?", userID, feature).
		Order("period DESC").
		Limit(limit).
		Find(&counters).Error

	return counters, err
}

// TotalsByFeature sums committed usage per feature for one period
func (r *UsageRepository) TotalsByFeature(ctx context.Context, period string) (map[string]int64, error) {
	rows, err := r.db.DB.WithContext(ctx).
		Model(&models.UsageCounter{}).
		Select("feature, SUM(committed) as total").
		Where("period = ?", period).
		Group("feature").
		Rows()

	if err != nil {
		return nil, err
	}
	defer rows.Close()

	totals := make(map[string]int64)
	for rows.Next() {
		var feature string
		var total int64
		if err := rows.Scan(&feature, &total); err != nil {
			return nil, err
		}
		totals[feature] = total
	}

	return totals, nil
}

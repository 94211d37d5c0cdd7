package repository

import (
	"context"
	"time"

	"github.com/pathlane/usage-gate/internal/models"
	"github.com/pathlane/usage-gate/internal/storage"
)

type AdmissionLogRepository struct {
	db *storage.Postgres
}

func NewAdmissionLogRepository(db *storage.Postgres) *AdmissionLogRepository {
	return &AdmissionLogRepository{db: db}
}

// Inserts multiple decision logs (for batch insertion)
func (r *AdmissionLogRepository) CreateBatch(ctx context.Context, logs []models.AdmissionLog) error {
	if len(logs) == 0 {
		return nil
	}

	return r.db.DB.WithContext(ctx).Create(&logs).Error
}

// Retrieves decisions within a time range
func (r *AdmissionLogRepository) FindByTimeRange(ctx context.Context, from, to time.Time, limit, offset int) ([]models.AdmissionLog, error) {
	var logs []models.AdmissionLog

	err := r.db.DB.WithContext(ctx).
		Where("timestamp BETWEEN ? AND ?", from, to).
		Order("timestamp DESC").
		Limit(limit).
		Offset(offset).
		Find(&logs).Error

	return logs, err
}

// Counts decisions of one kind in a time range
func (r *AdmissionLogRepository) CountByDecision(ctx context.Context, decision string, from, to time.Time) (int64, error) {
	var count int64

	err := r.db.DB.WithContext(ctx).
		Model(&models.AdmissionLog{}).
		Where("decision = ? AND timestamp BETWEEN ? AND ?", decision, from, to).
		Count(&count).Error

	return count, err
}

func (r *AdmissionLogRepository) CountByTimeRange(ctx context.Context, from, to time.Time) (int64, error) {
	var count int64

	err := r.db.DB.WithContext(ctx).
		Model(&models.AdmissionLog{}).
		Where("timestamp BETWEEN ? AND ?", from, to).
		Count(&count).Error

	return count, err
}

// Returns the busiest endpoint classes in a time range
func (r *AdmissionLogRepository) TopEndpointClasses(ctx context.Context, from, to time.Time, limit int) ([]map[string]interface{}, error) {
	rows, err := r.db.DB.WithContext(ctx).
		Model(&models.AdmissionLog{}).
		Select("endpoint_class, COUNT(*) as count").
		Where("timestamp BETWEEN ? AND ?", from, to).
		Group("endpoint_class").
		Order("count DESC").
		Limit(limit).
		Rows()

	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []map[string]interface{}
	for rows.Next() {
		var class string
		var count int64
		if err := rows.Scan(&class, &count); err != nil {
			return nil, err
		}
		results = append(results, map[string]interface{}{
			"endpoint_class": class,
			"count":          count,
		})
	}

	return results, nil
}

// Returns decision counts grouped by tier in a time range
func (r *AdmissionLogRepository) CountByTier(ctx context.Context, from, to time.Time) ([]map[string]interface{}, error) {
	rows, err := r.db.DB.WithContext(ctx).
		Model(&models.AdmissionLog{}).
		Select("tier, decision, COUNT(*) as count").
		Where("timestamp BETWEEN ? AND ?", from, to).
		Group("tier, decision").
		Rows()

	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []map[string]interface{}
	for rows.Next() {
		var tier, decision string
		var count int64
		if err := rows.Scan(&tier, &decision, &count); err != nil {
			return nil, err
		}
		results = append(results, map[string]interface{}{
			"tier":     tier,
			"decision": decision,
			"count":    count,
		})
	}

	return results, nil
}

// Deletes decision logs older than the specified time
func (r *AdmissionLogRepository) DeleteOldLogs(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.DB.WithContext(ctx).
		Where("timestamp < ?", before).
		Delete(&models.AdmissionLog{})

	return result.RowsAffected, result.Error
}

package repository

import (
	"context"

	"github.com/pathlane/usage-gate/internal/models"
	"github.com/pathlane/usage-gate/internal/storage"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PolicyRepository struct {
	db *storage.Postgres
}

func NewPolicyRepository(db *storage.Postgres) *PolicyRepository {
	return &PolicyRepository{db: db}
}

// Retrieves all published tier policies
func (r *PolicyRepository) List(ctx context.Context) ([]models.TierPolicy, error) {
	var policies []models.TierPolicy
	err := r.db.DB.WithContext(ctx).
		Order("name ASC").
		Find(&policies).Error

	return policies, err
}

func (r *PolicyRepository) FindByName(ctx context.Context, name string) (*models.TierPolicy, error) {
	var p models.TierPolicy
	err := r.db.DB.WithContext(ctx).
		Where("name = ?", name).
		First(&p).Error

	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}

	return &p, err
}

// Publishes a tier policy, bumping its version on conflict
func (r *PolicyRepository) Upsert(ctx context.Context, p *models.TierPolicy) error {
	return r.db.DB.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "name"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"version":   gorm.Expr("tier_policies.version + 1"),
				"limits":    p.Limits,
				"quotas":    p.Quotas,
				"toggles":   p.Toggles,
				"cacheable": p.Cacheable,
			}),
		}).
		Create(p).Error
}

func (r *PolicyRepository) Delete(ctx context.Context, name string) error {
	return r.db.DB.WithContext(ctx).
		Where("name = ?", name).
		Delete(&models.TierPolicy{}).Error
}

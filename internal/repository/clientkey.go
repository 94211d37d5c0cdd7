package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pathlane/usage-gate/internal/models"
	"github.com/pathlane/usage-gate/internal/storage"
	"gorm.io/gorm"
)

type ClientKeyRepository struct {
	db *storage.Postgres
}

func NewClientKeyRepository(db *storage.Postgres) *ClientKeyRepository {
	return &ClientKeyRepository{db: db}
}

func (r *ClientKeyRepository) Create(ctx context.Context, key *models.ClientKey) error {
	return r.db.DB.WithContext(ctx).Create(key).Error
}

func (r *ClientKeyRepository) FindByHash(ctx context.Context, hash string) (*models.ClientKey, error) {
	var key models.ClientKey
	err := r.db.DB.WithContext(ctx).
		Where("key_hash = ? AND is_active = ?", hash, true).
		First(&key).Error

	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}

	return &key, err
}

func (r *ClientKeyRepository) FindByID(ctx context.Context, id string) (*models.ClientKey, error) {
	var key models.ClientKey
	err := r.db.DB.WithContext(ctx).
		Where("id = ?", id).
		First(&key).Error

	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}

	return &key, err
}

func (r *ClientKeyRepository) List(ctx context.Context) ([]models.ClientKey, error) {
	var keys []models.ClientKey
	err := r.db.DB.WithContext(ctx).
		Order("created_at DESC").
		Find(&keys).Error

	return keys, err
}

func (r *ClientKeyRepository) UpdateLastUsed(ctx context.Context, id uuid.UUID) error {
	return r.db.DB.WithContext(ctx).
		Model(&models.ClientKey{}).
		Where("id = ?", id).
		Update("last_used_at", time.Now()).Error
}

func (r *ClientKeyRepository) Deactivate(ctx context.Context, id string) error {
	return r.db.DB.WithContext(ctx).
		Model(&models.ClientKey{}).
		Where("id = ?", id).
		Update("is_active", false).Error
}

func (r *ClientKeyRepository) Delete(ctx context.Context, id string) error {
	return r.db.DB.WithContext(ctx).
		Where("id = ?", id).
		Delete(&models.ClientKey{}).Error
}

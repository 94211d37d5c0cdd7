package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pathlane/usage-gate/internal/models"
)

// ClientKeyStore is the slice of the key repository the service needs.
type ClientKeyStore interface {
	Create(ctx context.Context, key *models.ClientKey) error
	FindByHash(ctx context.Context, hash string) (*models.ClientKey, error)
	FindByID(ctx context.Context, id string) (*models.ClientKey, error)
	List(ctx context.Context) ([]models.ClientKey, error)
	UpdateLastUsed(ctx context.Context, id uuid.UUID) error
	Deactivate(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
}

// KeyCache holds validated keys for a short TTL to keep the hot path off
// Postgres. *storage.RedisClient satisfies it.
type KeyCache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

// ClientKeyService issues and validates the service keys the record stores
// present when calling the core.
type ClientKeyService struct {
	repository ClientKeyStore
	cache      KeyCache
}

func NewClientKeyService(repo ClientKeyStore, cache KeyCache) *ClientKeyService {
	return &ClientKeyService{
		repository: repo,
		cache:      cache,
	}
}

func (s *ClientKeyService) Create(ctx context.Context, serviceName, createdBy string) (string, error) {
	keyBytes := make([]byte, 32)
	if _, err := rand.Read(keyBytes); err != nil {
		return "", fmt.Errorf("failed to generate random key: %w", err)
	}

	key := "ug_" + base64.URLEncoding.EncodeToString(keyBytes)

	// Only the hash is stored
	hash := sha256.Sum256([]byte(key))
	keyHash := hex.EncodeToString(hash[:])

	clientKey := models.ClientKey{
		KeyHash:   keyHash,
		Service:   serviceName,
		CreatedBy: createdBy,
		IsActive:  true,
	}

	if err := s.repository.Create(ctx, &clientKey); err != nil {
		return "", fmt.Errorf("failed to create client key: %w", err)
	}

	// Return plain key (only time it's visible)
	return key, nil
}

func (s *ClientKeyService) Validate(ctx context.Context, key string) (*models.ClientKey, error) {
	hash := sha256.Sum256([]byte(key))
	keyHash := hex.EncodeToString(hash[:])

	// Check cache first
	cacheKey := fmt.Sprintf("clientkey:cache:%s", keyHash)
	if s.cache != nil {
		cached, err := s.cache.Get(ctx, cacheKey)
		if err == nil && cached != "" {
			var clientKey models.ClientKey
			if err := json.Unmarshal([]byte(cached), &clientKey); err == nil {
				return &clientKey, nil
			}
		}
	}

	// Cache miss - query database
	clientKey, err := s.repository.FindByHash(ctx, keyHash)
	if err != nil {
		return nil, err
	}

	if clientKey == nil {
		return nil, nil
	}

	if s.cache != nil {
		keyJSON, _ := json.Marshal(clientKey)
		s.cache.Set(ctx, cacheKey, keyJSON, 5*time.Minute)
	}

	return clientKey, nil
}

func (s *ClientKeyService) List(ctx context.Context) ([]models.ClientKey, error) {
	return s.repository.List(ctx)
}

// Deactivate revokes a key. The cache entry is dropped only after the row
// is updated, otherwise a concurrent Validate could re-cache the
// still-active row and keep the revoked key usable for the cache TTL.
func (s *ClientKeyService) Deactivate(ctx context.Context, id string) error {
	clientKey, err := s.repository.FindByID(ctx, id)
	if err != nil {
		return err
	}

	if err := s.repository.Deactivate(ctx, id); err != nil {
		return err
	}

	s.dropCached(ctx, clientKey)
	return nil
}

func (s *ClientKeyService) Delete(ctx context.Context, id string) error {
	// Fetch first; the hash is gone once the row is
	clientKey, err := s.repository.FindByID(ctx, id)
	if err != nil {
		return err
	}

	if err := s.repository.Delete(ctx, id); err != nil {
		return err
	}

	s.dropCached(ctx, clientKey)
	return nil
}

func (s *ClientKeyService) UpdateLastUsed(ctx context.Context, id uuid.UUID) {
	s.repository.UpdateLastUsed(ctx, id)
}

func (s *ClientKeyService) dropCached(ctx context.Context, clientKey *models.ClientKey) {
	if s.cache == nil || clientKey == nil {
		return
	}

	s.cache.Del(ctx, fmt.Sprintf("clientkey:cache:%s", clientKey.KeyHash))
}

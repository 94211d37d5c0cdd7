package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pathlane/usage-gate/internal/storage"
	"github.com/redis/go-redis/v9"
)

// RedisStore keeps entries as JSON envelopes with Redis-side TTL expiry, so
// no sweep is needed.
type RedisStore struct {
	redis *storage.RedisClient
}

func NewRedisStore(redis *storage.RedisClient) *RedisStore {
	return &RedisStore{redis: redis}
}

func cacheKey(fingerprint string) string {
	return fmt.Sprintf("cache:result:%s", fingerprint)
}

func (s *RedisStore) Get(ctx context.Context, fingerprint string) (*Entry, error) {
	data, err := s.redis.Get(ctx, cacheKey(fingerprint))
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var entry Entry
	if err := json.Unmarshal([]byte(data), &entry); err != nil {
		return nil, fmt.Errorf("corrupt cache entry %s: %w", fingerprint, err)
	}

	// Redis TTL should have evicted it already; guard anyway
	if time.Now().After(entry.ExpiresAt) {
		return nil, nil
	}

	return &entry, nil
}

func (s *RedisStore) Set(ctx context.Context, entry *Entry, ttl time.Duration) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	return s.redis.Set(ctx, cacheKey(entry.Fingerprint), payload, ttl)
}

func (s *RedisStore) Delete(ctx context.Context, fingerprint string) error {
	return s.redis.Del(ctx, cacheKey(fingerprint))
}

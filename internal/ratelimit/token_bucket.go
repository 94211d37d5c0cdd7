package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/pathlane/usage-gate/internal/storage"
	"github.com/redis/go-redis/v9"
)

const casRetries = 5

type TokenBucket struct {
	redis      *storage.RedisClient
	capacity   int // Total capacity of the bucket
	refillRate int // Tokens per second
}

type bucketState struct {
	Tokens     float64   `json:"tokens"`
	LastRefill time.Time `json:"last_refill"`
}

func NewTokenBucket(redis *storage.RedisClient, capacity int, refillRate int) *TokenBucket {
	return &TokenBucket{
		redis:      redis,
		capacity:   capacity,
		refillRate: refillRate,
	}
}

// Allow refills the bucket for elapsed time and consumes one token. The
// read-modify-write runs under WATCH so two concurrent callers can't both
// spend the last token; on contention the transaction is retried a bounded
// number of times.
func (t *TokenBucket) Allow(ctx context.Context, key string) (bool, error) {
	redisKey := fmt.Sprintf("ratelimit:bucket:%s", key)

	var allowed bool

	txn := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, redisKey).Result()

		var state bucketState
		if err == redis.Nil {
			state = bucketState{
				Tokens:     float64(t.capacity),
				LastRefill: time.Now(),
			}
		} else if err != nil {
			return err
		} else if err := json.Unmarshal([]byte(data), &state); err != nil {
			// Corrupt state, start over with a full bucket
			state = bucketState{
				Tokens:     float64(t.capacity),
				LastRefill: time.Now(),
			}
		}

		now := time.Now()
		elapsed := now.Sub(state.LastRefill)
		tokensToAdd := elapsed.Seconds() * float64(t.refillRate)
		state.Tokens = math.Min(state.Tokens+tokensToAdd, float64(t.capacity))
		state.LastRefill = now

		allowed = state.Tokens >= 1
		if allowed {
			state.Tokens -= 1
		}

		stateJson, _ := json.Marshal(state)

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, redisKey, stateJson, time.Hour)
			return nil
		})
		return err
	}

	var err error
	for i := 0; i < casRetries; i++ {
		err = t.redis.Watch(ctx, txn, redisKey)
		if err != redis.TxFailedErr {
			break
		}
	}
	if err != nil {
		return false, err
	}

	return allowed, nil
}

func (t *TokenBucket) Remaining(ctx context.Context, key string) (int, error) {
	redisKey := fmt.Sprintf("ratelimit:bucket:%s", key)

	data, err := t.redis.Get(ctx, redisKey)
	if err == redis.Nil {
		return t.capacity, nil
	}
	if err != nil {
		return 0, err
	}

	var state bucketState
	json.Unmarshal([]byte(data), &state)

	now := time.Now()
	elapsed := now.Sub(state.LastRefill)
	tokensToAdd := elapsed.Seconds() * float64(t.refillRate)
	currentTokens := math.Min(state.Tokens+tokensToAdd, float64(t.capacity))

	return int(currentTokens), nil
}

func (t *TokenBucket) Limit() int {
	return t.capacity
}

func (t *TokenBucket) Window() time.Duration {
	// For token bucket, window represents the time to fully refill
	return time.Duration(t.capacity/t.refillRate) * time.Second
}

func (t *TokenBucket) Reset(ctx context.Context, key string) (time.Time, error) {
	redisKey := fmt.Sprintf("ratelimit:bucket:%s", key)

	data, err := t.redis.Get(ctx, redisKey)
	if err == redis.Nil {
		return time.Now(), nil
	}
	if err != nil {
		return time.Time{}, err
	}

	var state bucketState
	json.Unmarshal([]byte(data), &state)

	if state.Tokens >= 1 {
		return time.Now(), nil
	}

	// Time until one token is available
	secondsToNext := (1 - state.Tokens) / float64(t.refillRate)
	return time.Now().Add(time.Duration(secondsToNext * float64(time.Second))), nil
}

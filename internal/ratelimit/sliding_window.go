package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/pathlane/usage-gate/internal/storage"
)

// Lua keeps trim-count-add atomic on the Redis side. A separate
// ZCARD-then-ZADD pipeline would let two concurrent callers both observe
// limit-1 and both admit.
const slidingWindowScript = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, 0, now - window)

local count = redis.call('ZCARD', key)
if count < limit then
	redis.call('ZADD', key, now, ARGV[1] .. '-' .. ARGV[4])
	redis.call('PEXPIRE', key, window)
	return 1
end
return 0
`

type SlidingWindowLimiter struct {
	redis  *storage.RedisClient
	limit  int
	window time.Duration
}

func NewSlidingWindowLimiter(redis *storage.RedisClient, limit int, window time.Duration) *SlidingWindowLimiter {
	return &SlidingWindowLimiter{
		redis:  redis,
		limit:  limit,
		window: window,
	}
}

func (s *SlidingWindowLimiter) Allow(ctx context.Context, key string) (bool, error) {
	redisKey := fmt.Sprintf("ratelimit:sliding:%s", key)
	now := time.Now()

	res, err := s.redis.Eval(ctx, slidingWindowScript,
		[]string{redisKey},
		now.UnixMilli(),
		s.window.Milliseconds(),
		s.limit,
		now.UnixNano(),
	)
	if err != nil {
		return false, err
	}

	allowed, ok := res.(int64)
	if !ok {
		return false, fmt.Errorf("unexpected script result: %v", res)
	}

	return allowed == 1, nil
}

func (s *SlidingWindowLimiter) Remaining(ctx context.Context, key string) (int, error) {
	redisKey := fmt.Sprintf("ratelimit:sliding:%s", key)
	now := time.Now()
	windowStart := now.Add(-s.window)

	count, err := s.redis.ZCount(ctx, redisKey,
		fmt.Sprintf("%d", windowStart.UnixMilli()),
		fmt.Sprintf("%d", now.UnixMilli()))
	if err != nil {
		return 0, err
	}

	remaining := s.limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

func (s *SlidingWindowLimiter) Limit() int {
	return s.limit
}

func (s *SlidingWindowLimiter) Window() time.Duration {
	return s.window
}

func (s *SlidingWindowLimiter) Reset(ctx context.Context, key string) (time.Time, error) {
	redisKey := fmt.Sprintf("ratelimit:sliding:%s", key)

	// The window frees a slot when its oldest entry ages out
	oldest, err := s.redis.ZRange(ctx, redisKey, 0, 0)
	if err != nil || len(oldest) == 0 {
		return time.Now(), nil
	}

	var oldestMs int64
	fmt.Sscanf(oldest[0], "%d", &oldestMs)

	resetTime := time.UnixMilli(oldestMs).Add(s.window)
	return resetTime, nil
}

package quota

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pathlane/usage-gate/internal/storage"
	"github.com/redis/go-redis/v9"
)

// Pending debits live in a sorted set scored by reservation expiry, so an
// abandoned reservation ages out of the count on the next reserve for the
// same key. The check-and-increment runs in Lua to serialize concurrent
// reservations on the Redis side.
const reserveScript = `
redis.call('ZREMRANGEBYSCORE', KEYS[1], 0, ARGV[1])
local pending = redis.call('ZCARD', KEYS[1])
local committed = tonumber(redis.call('GET', KEYS[2]) or '0')
local cap = tonumber(ARGV[2])
if cap >= 0 and committed + pending >= cap then
	return 0
end
redis.call('ZADD', KEYS[1], ARGV[3], ARGV[4])
return 1
`

const settleScript = `
local removed = redis.call('ZREM', KEYS[1], ARGV[1])
if removed == 0 then
	return 0
end
if ARGV[2] == 'commit' then
	redis.call('INCR', KEYS[2])
	redis.call('EXPIRE', KEYS[2], ARGV[3])
end
return 1
`

// RedisStore is the shared durable counter store for multi-instance
// deployments.
type RedisStore struct {
	redis      *storage.RedisClient
	resvTTL    time.Duration
	counterTTL time.Duration
}

func NewRedisStore(redis *storage.RedisClient, resvTTL time.Duration) *RedisStore {
	if resvTTL <= 0 {
		resvTTL = time.Hour
	}
	return &RedisStore{
		redis:      redis,
		resvTTL:    resvTTL,
		counterTTL: 90 * 24 * time.Hour, // hot copy only; the archive table is the durable record
	}
}

func pendingKey(key Key) string {
	return fmt.Sprintf("quota:pending:%s", key)
}

func committedKey(key Key) string {
	return fmt.Sprintf("quota:committed:%s", key)
}

func resvKey(id string) string {
	return fmt.Sprintf("quota:resv:%s", id)
}

func (s *RedisStore) Reserve(ctx context.Context, res *Reservation, cap int64) error {
	key := res.Key()
	now := time.Now()
	expireAt := now.Add(s.resvTTL)

	result, err := s.redis.Eval(ctx, reserveScript,
		[]string{pendingKey(key), committedKey(key)},
		now.Unix(),
		cap,
		expireAt.Unix(),
		res.ID,
	)
	if err != nil {
		return err
	}

	if allowed, _ := result.(int64); allowed != 1 {
		return ErrQuotaExceeded
	}

	payload, _ := json.Marshal(res)
	if err := s.redis.Set(ctx, resvKey(res.ID), payload, s.resvTTL); err != nil {
		// The pending entry expires by score, so a lost reservation record
		// self-heals; the caller just can't commit it.
		return err
	}

	return nil
}

func (s *RedisStore) settle(ctx context.Context, reservationID, mode string) (*Reservation, error) {
	data, err := s.redis.Get(ctx, resvKey(reservationID))
	if err == redis.Nil {
		return nil, ErrUnknownReservation
	}
	if err != nil {
		return nil, err
	}

	var resv Reservation
	if err := json.Unmarshal([]byte(data), &resv); err != nil {
		return nil, fmt.Errorf("corrupt reservation %s: %w", reservationID, err)
	}

	key := resv.Key()
	result, err := s.redis.Eval(ctx, settleScript,
		[]string{pendingKey(key), committedKey(key)},
		reservationID,
		mode,
		int(s.counterTTL.Seconds()),
	)
	if err != nil {
		return nil, err
	}

	s.redis.Del(ctx, resvKey(reservationID))

	if settled, _ := result.(int64); settled != 1 {
		return nil, ErrUnknownReservation
	}

	return &resv, nil
}

func (s *RedisStore) Commit(ctx context.Context, reservationID string) (*Reservation, error) {
	return s.settle(ctx, reservationID, "commit")
}

func (s *RedisStore) Release(ctx context.Context, reservationID string) (*Reservation, error) {
	return s.settle(ctx, reservationID, "release")
}

func (s *RedisStore) Committed(ctx context.Context, key Key) (int64, error) {
	val, err := s.redis.Get(ctx, committedKey(key))
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	var count int64
	fmt.Sscanf(val, "%d", &count)
	return count, nil
}

func (s *RedisStore) Pending(ctx context.Context, key Key) (int64, error) {
	return s.redis.ZCount(ctx, pendingKey(key),
		fmt.Sprintf("%d", time.Now().Unix()),
		"+inf")
}

func (s *RedisStore) Correct(ctx context.Context, key Key, delta int64) error {
	_, err := s.redis.IncrBy(ctx, committedKey(key), delta)
	return err
}

package cache

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rollboy-tz/mult-schools-management-system/internal/ports"
)

const (
	lockoutPrefix   = "schoolauth:lockout:"
	failureCountTTL = 24 * time.Hour
)

// RedisLockoutStore keeps failed-login counters in one hash per login key.
type RedisLockoutStore struct {
	client redis.UniversalClient
}

func NewRedisLockoutStore(client redis.UniversalClient) *RedisLockoutStore {
	return &RedisLockoutStore{client: client}
}

func (s *RedisLockoutStore) Get(ctx context.Context, key string) (ports.LockoutState, error) {
	data, err := s.client.HGetAll(ctx, lockoutPrefix+key).Result()
	if err != nil {
		return ports.LockoutState{}, err
	}
	return parseLockout(data), nil
}

func parseLockout(data map[string]string) ports.LockoutState {
	state := ports.LockoutState{}
	if n, err := strconv.Atoi(data["failed_count"]); err == nil {
		state.FailedCount = n
	}
	if unix, err := strconv.ParseInt(data["locked_until"], 10, 64); err == nil && unix > 0 {
		t := time.Unix(unix, 0).UTC()
		state.LockedUntil = &t
	}
	return state
}

// RecordFailure counts one failure. Reaching threshold stamps locked_until;
// a lock that has already lapsed starts a fresh count.
func (s *RedisLockoutStore) RecordFailure(ctx context.Context, key string, now time.Time, threshold int, lockoutWindow time.Duration) (ports.LockoutState, error) {
	redisKey := lockoutPrefix + key

	current, err := s.Get(ctx, key)
	if err != nil {
		return ports.LockoutState{}, err
	}
	if current.LockedUntil != nil && !current.LockedUntil.After(now) {
		if err := s.client.Del(ctx, redisKey).Err(); err != nil {
			return ports.LockoutState{}, err
		}
	}

	var incr *redis.IntCmd
	if _, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.HIncrBy(ctx, redisKey, "failed_count", 1)
		p.Expire(ctx, redisKey, failureCountTTL)
		return nil
	}); err != nil {
		return ports.LockoutState{}, err
	}

	state := ports.LockoutState{FailedCount: int(incr.Val())}
	if threshold <= 0 || state.FailedCount < threshold {
		return state, nil
	}

	lockedUntil := now.Add(lockoutWindow).UTC()
	if _, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, redisKey, "locked_until", lockedUntil.Unix())
		p.Expire(ctx, redisKey, lockoutWindow)
		return nil
	}); err != nil {
		return ports.LockoutState{}, err
	}
	state.LockedUntil = &lockedUntil
	return state, nil
}

func (s *RedisLockoutStore) Clear(ctx context.Context, key string) error {
	return s.client.Del(ctx, lockoutPrefix+key).Err()
}

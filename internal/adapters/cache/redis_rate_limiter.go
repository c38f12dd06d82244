package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const rateLimitPrefix = "schoolauth:ratelimit:"

// RedisRateLimiter is a fixed-window counter: INCR, with the window TTL set
// by the first hit.
type RedisRateLimiter struct {
	client redis.UniversalClient
}

func NewRedisRateLimiter(client redis.UniversalClient) *RedisRateLimiter {
	return &RedisRateLimiter{client: client}
}

func (l *RedisRateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 {
		return true, nil
	}
	redisKey := rateLimitPrefix + key
	count, err := l.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return false, err
	}
	if count == 1 {
		if err := l.client.PExpire(ctx, redisKey, window).Err(); err != nil {
			return false, err
		}
	} else if ttl, err := l.client.PTTL(ctx, redisKey).Result(); err == nil && ttl < 0 {
		// repair a counter that lost its TTL
		_ = l.client.PExpire(ctx, redisKey, window).Err()
	}
	return count <= int64(limit), nil
}

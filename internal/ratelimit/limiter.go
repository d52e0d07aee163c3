package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const window = time.Minute

// Limiter answers whether an identifier has exhausted its attempts for an
// endpoint within the trailing window.
type Limiter interface {
	Blocked(ctx context.Context, identifier, identifierType, endpoint string) bool
}

// RedisLimiter counts attempts in Redis with a rolling one-minute expiry.
// Errors talking to Redis count as blocked: a flow that cannot check its
// budget does not run.
type RedisLimiter struct {
	cache       *redis.Client
	maxAttempts int
}

// NewRedisLimiter builds a limiter allowing maxAttempts per identifier per
// endpoint per minute.
func NewRedisLimiter(cache *redis.Client, maxAttempts int) *RedisLimiter {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &RedisLimiter{cache: cache, maxAttempts: maxAttempts}
}

// Blocked increments the attempt counter and reports whether the caller is
// over budget. The issuing attempt itself counts.
func (l *RedisLimiter) Blocked(ctx context.Context, identifier, identifierType, endpoint string) bool {
	key := "rl:passkey:" + identifierType + ":" + endpoint + ":" + identifier
	cnt, err := l.cache.Incr(ctx, key).Result()
	if err != nil {
		return true
	}
	if cnt == 1 {
		l.cache.Expire(ctx, key, window)
	}
	return cnt > int64(l.maxAttempts)
}

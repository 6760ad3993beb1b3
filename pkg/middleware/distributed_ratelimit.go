package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/tenantguard/pkg/observability"
)

// DistributedRateLimiter implements fixed window rate limiting in Redis so
// that every instance shares one budget per key
type DistributedRateLimiter struct {
	redis  *redis.Client
	config *RateLimitConfig
	prefix string
}

// NewDistributedRateLimiter creates a new Redis-backed rate limiter
func NewDistributedRateLimiter(redisClient *redis.Client, config *RateLimitConfig, prefix string) *DistributedRateLimiter {
	if config == nil {
		config = DefaultRateLimitConfig()
	}
	if prefix == "" {
		prefix = "tenantguard:ratelimit"
	}

	return &DistributedRateLimiter{
		redis:  redisClient,
		config: config,
		prefix: prefix,
	}
}

// NewDistributedRateLimitMiddleware creates a middleware whose budgets are
// shared through Redis
func NewDistributedRateLimitMiddleware(redisClient *redis.Client, logger *observability.Logger) *RateLimitMiddleware {
	return NewRateLimitMiddleware(
		NewDistributedRateLimiter(redisClient, PerActorRateLimitConfig(), "tenantguard:ratelimit:actor"),
		NewDistributedRateLimiter(redisClient, PerAdminRateLimitConfig(), "tenantguard:ratelimit:admin"),
		NewDistributedRateLimiter(redisClient, DefaultRateLimitConfig(), "tenantguard:ratelimit:anon"),
		logger,
	)
}

func (rl *DistributedRateLimiter) key(key string) string {
	return rl.prefix + ":" + key
}

// Config returns the limits in force
func (rl *DistributedRateLimiter) Config() *RateLimitConfig {
	return rl.config
}

func (rl *DistributedRateLimiter) limit() int64 {
	return int64(rl.config.RequestsPerWindow + rl.config.BurstSize)
}

// Allow counts the request in the current window. The window starts with
// the first request under key.
func (rl *DistributedRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	redisKey := rl.key(key)

	count, err := rl.redis.Incr(ctx, redisKey).Result()
	if err != nil {
		return false, fmt.Errorf("redis incr: %w", err)
	}
	if count == 1 {
		if err := rl.redis.Expire(ctx, redisKey, rl.config.WindowDuration).Err(); err != nil {
			return false, fmt.Errorf("redis expire: %w", err)
		}
	}
	return count <= rl.limit(), nil
}

// Remaining returns the number of remaining requests in the window
func (rl *DistributedRateLimiter) Remaining(ctx context.Context, key string) (int, error) {
	count, err := rl.redis.Get(ctx, rl.key(key)).Int64()
	if err == redis.Nil {
		return int(rl.limit()), nil
	} else if err != nil {
		return 0, err
	}

	remaining := rl.limit() - count
	if remaining < 0 {
		remaining = 0
	}
	return int(remaining), nil
}

// TTL returns the time until the rate limit window resets
func (rl *DistributedRateLimiter) TTL(ctx context.Context, key string) (time.Duration, error) {
	return rl.redis.TTL(ctx, rl.key(key)).Result()
}

// Reset clears the rate limit for a key
func (rl *DistributedRateLimiter) Reset(ctx context.Context, key string) error {
	return rl.redis.Del(ctx, rl.key(key)).Err()
}

// ActiveKeys counts keys with an open window
func (rl *DistributedRateLimiter) ActiveKeys(ctx context.Context) (int, error) {
	var (
		cursor uint64
		total  int
	)
	for {
		keys, next, err := rl.redis.Scan(ctx, cursor, rl.prefix+":*", 100).Result()
		if err != nil {
			return 0, err
		}
		total += len(keys)
		if next == 0 {
			return total, nil
		}
		cursor = next
	}
}

// HealthCheck verifies Redis connectivity for rate limiting
func (rl *DistributedRateLimiter) HealthCheck(ctx context.Context) observability.DependencyStatus {
	start := time.Now()
	if err := rl.redis.Ping(ctx).Err(); err != nil {
		return observability.DependencyStatus{
			Status:    observability.StatusUnhealthy,
			Message:   err.Error(),
			Latency:   time.Since(start),
			Timestamp: time.Now(),
		}
	}
	return observability.DependencyStatus{
		Status:    observability.StatusHealthy,
		Latency:   time.Since(start),
		Timestamp: time.Now(),
	}
}

package ratelimit

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter shares window counters across instances. Redis failures admit
// the request and are logged.
type RedisLimiter struct {
	client  *redis.Client
	logger  *slog.Logger
	prefix  string
	limit   int
	window  time.Duration
	timeout time.Duration
}

// NewRedisLimiter creates a limiter admitting limit requests per window
func NewRedisLimiter(client *redis.Client, limit int, window time.Duration, logger *slog.Logger) *RedisLimiter {
	if window <= 0 {
		window = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisLimiter{
		client:  client,
		logger:  logger,
		prefix:  "deviceflow:ratelimit:",
		limit:   limit,
		window:  window,
		timeout: 250 * time.Millisecond,
	}
}

// Allow counts the request against key's current window. A counter found
// without an expiry gets the window re-armed, so a lost EXPIRE cannot pin a
// key over its limit.
func (rl *RedisLimiter) Allow(ctx context.Context, key string) Decision {
	if rl.limit <= 0 {
		return Decision{Allowed: true}
	}
	ctx, cancel := context.WithTimeout(ctx, rl.timeout)
	defer cancel()

	redisKey := rl.prefix + key
	var incr *redis.IntCmd
	var pttl *redis.DurationCmd
	_, err := rl.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, redisKey)
		pttl = pipe.PTTL(ctx, redisKey)
		return nil
	})
	if err != nil {
		rl.logger.ErrorContext(ctx, "redis rate limiter error", "op", "incr", "error", err)
		return Decision{Allowed: true}
	}

	counter := incr.Val()
	ttl := pttl.Val()
	if ttl <= 0 {
		// new window, or a counter whose expiry was never set
		if err := rl.client.PExpire(ctx, redisKey, rl.window).Err(); err != nil {
			rl.logger.ErrorContext(ctx, "redis rate limiter error", "op", "expire", "error", err)
		}
		ttl = rl.window
	}

	return Decision{
		Allowed:   int(counter) <= rl.limit,
		Count:     int(counter),
		WindowEnd: time.Now().Add(ttl),
	}
}

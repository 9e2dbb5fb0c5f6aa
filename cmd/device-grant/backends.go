package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/wrale/device-grant/internal/csrf"
	"github.com/wrale/device-grant/internal/deviceflow"
	"github.com/wrale/device-grant/internal/ratelimit"
)

// backends are the stores selected by the configured driver
type backends struct {
	flowStore deviceflow.Store
	csrfStore csrf.Store
	limiter   ratelimit.Limiter
	closers   []func()
}

func (b *backends) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

// openBackends connects the device flow store and the CSRF and rate limit
// state. Redis, when configured, also holds CSRF and rate limit state for a
// postgres deployment so several instances agree.
func openBackends(ctx context.Context, cfg Config, log *slog.Logger) (*backends, error) {
	b := &backends{}

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parsing redis url: %w", err)
		}
		rdb = redis.NewClient(opts)
		b.closers = append(b.closers, func() {
			if err := rdb.Close(); err != nil {
				log.Warn("closing redis", "error", err)
			}
		})

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			b.Close()
			return nil, fmt.Errorf("connecting to redis: %w", err)
		}
	}

	switch cfg.StoreDriver {
	case driverRedis:
		b.flowStore = deviceflow.NewRedisStore(rdb, cfg.Retention)
	case driverPostgres:
		pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("connecting to postgres: %w", err)
		}
		b.closers = append(b.closers, pool.Close)

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := pool.Ping(pingCtx); err != nil {
			b.Close()
			return nil, fmt.Errorf("pinging postgres: %w", err)
		}
		b.flowStore = deviceflow.NewPostgresStore(pool)
	default:
		b.flowStore = deviceflow.NewMemoryStore()
	}

	if rdb != nil {
		b.csrfStore = csrf.NewRedisStore(rdb)
		b.limiter = ratelimit.NewRedisLimiter(rdb, cfg.VerifyRateLimit, cfg.VerifyRateWindow, log)
	} else {
		b.csrfStore = csrf.NewMemoryStore()
		b.limiter = ratelimit.NewMemoryLimiter(cfg.VerifyRateLimit, cfg.VerifyRateWindow)
	}

	log.Info("backends ready", "store", cfg.StoreDriver, "shared_state", rdb != nil)
	return b, nil
}

package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/shiva/fastcare/config"
)

// NewRedisClient connects to Redis for the snapshot cache and, when
// FEED_BACKEND=redis, the change feed.
//
// Each Redis feed subscription holds its own pub/sub connection outside the
// pool, so PoolSize only bounds cache traffic.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:                  cfg.Addr(),
		Password:              cfg.Password,
		DB:                    cfg.DB,
		ClientName:            "fastcare",
		PoolSize:              cfg.PoolSize,
		MinIdleConns:          cfg.PoolSize / 10,
		DialTimeout:           5 * time.Second,
		ReadTimeout:           time.Second,
		WriteTimeout:          time.Second,
		ContextTimeoutEnabled: true,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", cfg.Addr(), err)
	}

	return client, nil
}

// HealthCheck pings Redis. A nil client (cache disabled) is healthy.
func HealthCheck(ctx context.Context, client *redis.Client) error {
	if client == nil {
		return nil
	}
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return client.Ping(pingCtx).Err()
}

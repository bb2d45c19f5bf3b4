// Package redis provides the Redis client and the trust snapshot cache built on it.
package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/turtacn/lct/internal/config"
	"github.com/turtacn/lct/pkg/errors"
	"github.com/turtacn/lct/pkg/logger"
)

// NewClient creates a standalone client from cfg and verifies it with a ping.
func NewClient(ctx context.Context, cfg *config.RedisConfig, log logger.Logger) (*redis.Client, error) {
	if cfg == nil || cfg.Address == "" {
		return nil, errors.ErrInvalidArgument("redis.address is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Error(ctx, "Redis ping failed", err, logger.String("addr", cfg.Address))
		_ = client.Close()
		return nil, errors.ErrPersistence("connect redis", err)
	}

	log.Info(ctx, "Redis connection established",
		logger.String("addr", cfg.Address),
		logger.Int("db", cfg.DB),
	)
	return client, nil
}

package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hackgods/hospital-appointment-scheduling/internal/config"
)

const clientName = "appointment-scheduler"

// clientOptions sizes timeouts to the booking lock. A lock call that cannot
// finish well inside the lock TTL is worth less than writing unlocked, so
// the client gives up early with one retry.
func clientOptions(cfg config.Config) *redis.Options {
	timeout := min(max(cfg.LockTTL/4, 100*time.Millisecond), 2*time.Second)

	return &redis.Options{
		Addr:         cfg.RedisAddr,
		Username:     cfg.RedisUsername,
		Password:     cfg.RedisPassword,
		ClientName:   clientName,
		DialTimeout:  timeout,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
		MaxRetries:   1,
		PoolSize:     10,
		MinIdleConns: 1,
	}
}

// NewRedisClient connects to the lock store named in cfg and pings it.
func NewRedisClient(ctx context.Context, cfg config.Config) (*redis.Client, error) {
	rdb := redis.NewClient(clientOptions(cfg))

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.RedisAddr, err)
	}

	return rdb, nil
}

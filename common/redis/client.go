package redis

import (
	"context"
	"fmt"
	"time"

	"kmc-indicators/common/config"

	"github.com/go-redis/redis/v8"
)

// Client aliases the go-redis client.
type Client = redis.Client

// NewRedisClient creates a client from cfg. Zero pool and timeout settings
// keep the go-redis defaults.
func NewRedisClient(cfg *config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		PoolSize:    cfg.PoolSize,
		DialTimeout: cfg.DialTimeout,
		ReadTimeout: cfg.ReadTimeout,
	})
}

// WaitReady pings client up to attempts times, sleeping backoff, then twice
// backoff, between failures. It returns the last ping error.
func WaitReady(ctx context.Context, client *redis.Client, attempts int, backoff time.Duration) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if err = client.Ping(ctx).Err(); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff << i):
		}
	}
	return fmt.Errorf("redis %s not ready after %d attempts: %w", client.Options().Addr, attempts, err)
}

// Close closes the client.
func Close(client *redis.Client) error {
	return client.Close()
}

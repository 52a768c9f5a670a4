package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisOptions tunes the client created by NewRedisClient. Zero values keep the
// go-redis defaults.
type RedisOptions struct {
	MaxRetries int
	PoolSize   int
}

// NewRedisClient parses a redis:// URL, applies bounded timeouts and verifies the
// connection with a ping.
func NewRedisClient(ctx context.Context, url string, opts ...RedisOptions) (*redis.Client, error) {
	options, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	for _, o := range opts {
		if o.MaxRetries != 0 {
			options.MaxRetries = o.MaxRetries
		}
		if o.PoolSize > 0 {
			options.PoolSize = o.PoolSize
		}
	}

	options.DialTimeout = 5 * time.Second
	options.ReadTimeout = 3 * time.Second
	options.WriteTimeout = 3 * time.Second
	options.PoolTimeout = 4 * time.Second

	client := redis.NewClient(options)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return client, nil
}

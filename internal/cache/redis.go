package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/colthorp/vitals-cli-go/internal/core"
)

// RedisBackend stores entries as plain Redis strings without expiry.
// Keys are "<prefix>:<segment>/.../<segment>".
type RedisBackend struct {
	cli    *redis.Client
	prefix string
	logger *slog.Logger
}

// NewRedisBackend connects to Redis and verifies the connection with a ping.
func NewRedisBackend(ctx context.Context, cfg core.RedisConfig, logger *slog.Logger) (*RedisBackend, error) {
	cli := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := cli.Ping(ctx).Err(); err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedisBackendWithClient(cli, cfg.Prefix, logger), nil
}

// NewRedisBackendWithClient wraps an existing client.
func NewRedisBackendWithClient(cli *redis.Client, prefix string, logger *slog.Logger) *RedisBackend {
	if logger == nil {
		logger = core.DiscardLogger()
	}
	return &RedisBackend{cli: cli, prefix: prefix, logger: logger}
}

// Location returns the Redis key for key.
func (b *RedisBackend) Location(key Key) string {
	if b.prefix == "" {
		return key.String()
	}
	return b.prefix + ":" + key.String()
}

// Read returns the stored value. Missing keys and read errors both report false.
func (b *RedisBackend) Read(ctx context.Context, key Key) ([]byte, bool) {
	data, err := b.cli.Get(ctx, b.Location(key)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			b.logger.Debug("redis get failed", "key", b.Location(key), "error", err)
		}
		return nil, false
	}
	return data, true
}

// Write stores data without expiry.
func (b *RedisBackend) Write(ctx context.Context, key Key, data []byte) error {
	return b.cli.Set(ctx, b.Location(key), data, 0).Err()
}

// Close closes the underlying client.
func (b *RedisBackend) Close() error {
	return b.cli.Close()
}

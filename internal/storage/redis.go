package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisConfig points at a centralized Redis instance.
type RedisConfig struct {
	Host     string
	Port     int
	Password string

	// CommandTimeout bounds individual commands. Defaults to 3s.
	CommandTimeout time.Duration
}

// OpenRedis opens and pings a client. Reconnects are handled by the
// client itself with linear backoff.
func OpenRedis(ctx context.Context, cfg RedisConfig, logger *zap.Logger) (*redis.Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	timeout := cfg.CommandTimeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:            fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:        cfg.Password,
		ReadTimeout:     timeout,
		WriteTimeout:    timeout,
		MaxRetries:      5,
		MinRetryBackoff: 100 * time.Millisecond,
		MaxRetryBackoff: 5 * time.Second,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	logger.Info("connected to redis")
	return client, nil
}

package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/mobilbillet/payments/internal/infrastructure/config"
	"github.com/mobilbillet/payments/pkg/retry"
	"github.com/redis/go-redis/v9"
)

// NewClient creates a Redis client and waits for the server to answer PING,
// backing off between attempts.
func NewClient(ctx context.Context, cfg *config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 5,
		MaxRetries:   3,
	})

	if err := retry.Do(ctx, pingPolicy(cfg), func() error {
		return client.Ping(ctx).Err()
	}); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis after %d attempts: %w", pingPolicy(cfg).MaxAttempts, err)
	}

	return client, nil
}

func pingPolicy(cfg *config.RedisConfig) retry.Config {
	attempts := cfg.ConnectRetries
	if attempts <= 0 {
		attempts = 5
	}
	delay := cfg.ConnectRetryDelay
	if delay <= 0 {
		delay = time.Second
	}
	return retry.Config{
		MaxAttempts:  uint(attempts),
		InitialDelay: delay,
		MaxDelay:     time.Duration(attempts) * delay,
		Multiplier:   2,
	}
}

package services

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisConfig holds the connection settings shared by the Redis probe and locker
type RedisConfig struct {
	Address  string
	Password string
	DB       int
}

// NewRedisClient connects to Redis and verifies the connection
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return client, nil
}

// RedisProbe checks Redis connectivity
type RedisProbe struct {
	BaseProbe
	client *redis.Client
}

// NewRedisProbe creates a readiness probe on an existing client
func NewRedisProbe(client *redis.Client) *RedisProbe {
	return &RedisProbe{
		BaseProbe: BaseProbe{name: "redis"},
		client:    client,
	}
}

// HealthCheck verifies Redis connectivity
func (p *RedisProbe) HealthCheck(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

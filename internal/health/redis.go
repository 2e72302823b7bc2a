package health

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisPinger is satisfied by *redis.Client and *redis.ClusterClient.
type RedisPinger interface {
	Ping(ctx context.Context) *redis.StatusCmd
}

// RedisChecker checks the Redis instance backing rate limiting.
type RedisChecker struct {
	client RedisPinger
}

// NewRedisChecker creates a Redis health checker.
func NewRedisChecker(client RedisPinger) *RedisChecker {
	return &RedisChecker{client: client}
}

// HealthCheck sends PING and expects PONG.
func (r *RedisChecker) HealthCheck(ctx context.Context) error {
	if r.client == nil {
		return ErrNotConfigured
	}
	pong, err := r.client.Ping(ctx).Result()
	if err != nil {
		return err
	}
	if pong != "PONG" {
		return fmt.Errorf("unexpected PING reply %q", pong)
	}
	return nil
}

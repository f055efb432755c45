package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sagarrgarg/material-price-control/internal/domain"
)

// RedisCache implements Cache using Redis.
// Used as the cluster cache and as L2 in two-phase caching.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a new Redis cache.
func NewRedisCache(addr, password string, db int) (*RedisCache, error) {
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisCache{client: client}, nil
}

// Get retrieves a value from Redis.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := c.client.Get(ctx, c.makeKey(key)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return val, nil
}

// Set stores a value in Redis with TTL.
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, c.makeKey(key), value, ttl).Err()
}

// Delete removes a value from Redis.
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, c.makeKey(key)).Err()
}

// GetRules retrieves a cached enabled-rule set.
func (c *RedisCache) GetRules(ctx context.Context, scope domain.RuleScope, target string) ([]*domain.ValuationRule, bool, error) {
	return getRulesVia(ctx, c, scope, target)
}

// SetRules caches an enabled-rule set.
func (c *RedisCache) SetRules(ctx context.Context, scope domain.RuleScope, target string, rules []*domain.ValuationRule, ttl time.Duration) error {
	return setRulesVia(ctx, c, scope, target, rules, ttl)
}

// InvalidateRules drops a cached rule set.
func (c *RedisCache) InvalidateRules(ctx context.Context, scope domain.RuleScope, target string) error {
	return c.Delete(ctx, rulesKey(scope, target))
}

// Ping checks Redis connectivity.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) makeKey(key string) string {
	return "mpc:" + key
}

package domain

import (
	"context"
	"time"
)

// Cache defines the interface for caching rule sets and settings between
// checks. Rules change rarely; a short TTL keeps a stale read harmless.
type Cache interface {
	// Get retrieves a value from cache. Returns nil, nil if key not found.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, key string) error

	// GetRules retrieves a cached enabled-rule set for a scope target.
	GetRules(ctx context.Context, scope RuleScope, target string) ([]*ValuationRule, bool, error)

	// SetRules caches the enabled-rule set for a scope target.
	SetRules(ctx context.Context, scope RuleScope, target string, rules []*ValuationRule, ttl time.Duration) error

	// InvalidateRules drops the cached rule set for a scope target.
	InvalidateRules(ctx context.Context, scope RuleScope, target string) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string

	// Local LRU cache settings
	LocalMaxSize int
	LocalTTL     time.Duration

	// Redis settings
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Two-phase settings
	EnableTwoPhase bool // If true, check local first, then Redis
}

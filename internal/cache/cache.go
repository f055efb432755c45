package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sagarrgarg/material-price-control/internal/domain"
)

// New creates a new cache based on configuration.
// Standalone deployments use the in-process LRU cache. Cluster deployments
// use Redis, optionally two-phase with a local L1 in front.
func New(cfg domain.CacheConfig) (domain.Cache, error) {
	switch cfg.Type {
	case "memory":
		return NewLRUCache(cfg.LocalMaxSize), nil

	case "redis":
		if cfg.EnableTwoPhase {
			return NewTwoPhaseCache(cfg)
		}
		return NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)

	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}

// TwoPhaseCache implements the two-phase caching strategy.
// L1: Local LRU cache for fast reads
// L2: Redis for distributed caching
type TwoPhaseCache struct {
	local  *LRUCache
	remote *RedisCache
	l1TTL  time.Duration
}

// NewTwoPhaseCache creates a two-phase cache with LRU + Redis.
func NewTwoPhaseCache(cfg domain.CacheConfig) (*TwoPhaseCache, error) {
	local := NewLRUCache(cfg.LocalMaxSize)

	remote, err := NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis cache: %w", err)
	}

	l1TTL := cfg.LocalTTL
	if l1TTL == 0 {
		l1TTL = 5 * time.Minute
	}

	return &TwoPhaseCache{
		local:  local,
		remote: remote,
		l1TTL:  l1TTL,
	}, nil
}

// Get retrieves from L1 first, then L2. Populates L1 on L2 hit.
func (c *TwoPhaseCache) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := c.local.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if val != nil {
		return val, nil
	}

	val, err = c.remote.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if val != nil {
		// Populate L1 for future reads
		_ = c.local.Set(ctx, key, val, c.l1TTL)
	}

	return val, nil
}

// Set writes to both L1 and L2.
func (c *TwoPhaseCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	l1TTL := c.l1TTL
	if ttl < l1TTL {
		l1TTL = ttl
	}
	if err := c.local.Set(ctx, key, value, l1TTL); err != nil {
		return err
	}

	return c.remote.Set(ctx, key, value, ttl)
}

// Delete removes from both L1 and L2.
func (c *TwoPhaseCache) Delete(ctx context.Context, key string) error {
	if err := c.local.Delete(ctx, key); err != nil {
		return err
	}
	return c.remote.Delete(ctx, key)
}

// GetRules retrieves a cached enabled-rule set.
func (c *TwoPhaseCache) GetRules(ctx context.Context, scope domain.RuleScope, target string) ([]*domain.ValuationRule, bool, error) {
	return getRulesVia(ctx, c, scope, target)
}

// SetRules caches an enabled-rule set.
func (c *TwoPhaseCache) SetRules(ctx context.Context, scope domain.RuleScope, target string, rules []*domain.ValuationRule, ttl time.Duration) error {
	return setRulesVia(ctx, c, scope, target, rules, ttl)
}

// InvalidateRules drops a cached rule set from both layers.
func (c *TwoPhaseCache) InvalidateRules(ctx context.Context, scope domain.RuleScope, target string) error {
	return c.Delete(ctx, rulesKey(scope, target))
}

// Ping checks both L1 and L2 health.
func (c *TwoPhaseCache) Ping(ctx context.Context) error {
	if err := c.local.Ping(ctx); err != nil {
		return fmt.Errorf("L1 ping failed: %w", err)
	}
	if err := c.remote.Ping(ctx); err != nil {
		return fmt.Errorf("L2 ping failed: %w", err)
	}
	return nil
}

// Close closes both L1 and L2.
func (c *TwoPhaseCache) Close() error {
	_ = c.local.Close()
	return c.remote.Close()
}

// Stats returns L1 cache statistics.
func (c *TwoPhaseCache) Stats() (size int, capacity int) {
	return c.local.Stats()
}

// byteStore is the raw key/value surface shared by all cache backends. The
// typed rule-set helpers sit on top of it so every backend serializes rules
// the same way.
type byteStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

func rulesKey(scope domain.RuleScope, target string) string {
	return "rules:" + string(scope) + ":" + target
}

func getRulesVia(ctx context.Context, store byteStore, scope domain.RuleScope, target string) ([]*domain.ValuationRule, bool, error) {
	data, err := store.Get(ctx, rulesKey(scope, target))
	if err != nil || data == nil {
		return nil, false, err
	}

	var rules []*domain.ValuationRule
	if err := json.Unmarshal(data, &rules); err != nil {
		return nil, false, err
	}
	return rules, true, nil
}

func setRulesVia(ctx context.Context, store byteStore, scope domain.RuleScope, target string, rules []*domain.ValuationRule, ttl time.Duration) error {
	data, err := json.Marshal(rules)
	if err != nil {
		return err
	}
	return store.Set(ctx, rulesKey(scope, target), data, ttl)
}

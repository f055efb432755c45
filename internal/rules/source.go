package rules

import (
	"context"
	"time"

	"github.com/sagarrgarg/material-price-control/internal/domain"
)

// CachedSource is a RuleSource that serves enabled-rule sets and item groups
// from cache, falling back to the repository on miss. Rule writes must call
// Invalidate for the affected target.
type CachedSource struct {
	repo  domain.Repository
	cache domain.Cache
	ttl   time.Duration
}

// NewCachedSource wraps a repository with a cache layer.
func NewCachedSource(repo domain.Repository, cache domain.Cache, ttl time.Duration) *CachedSource {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedSource{repo: repo, cache: cache, ttl: ttl}
}

// ListEnabledRules returns the cached rule set for the target, loading from
// the repository on miss.
func (s *CachedSource) ListEnabledRules(ctx context.Context, scope domain.RuleScope, target string) ([]*domain.ValuationRule, error) {
	if cached, ok, err := s.cache.GetRules(ctx, scope, target); err == nil && ok {
		return cached, nil
	}

	loaded, err := s.repo.ListEnabledRules(ctx, scope, target)
	if err != nil {
		return nil, err
	}

	// A cache write failure only costs the next read a repository hit.
	_ = s.cache.SetRules(ctx, scope, target, loaded, s.ttl)
	return loaded, nil
}

// GetItemGroup returns the item's group, cached as a plain string.
func (s *CachedSource) GetItemGroup(ctx context.Context, itemCode string) (string, error) {
	key := "itemgroup:" + itemCode
	if val, err := s.cache.Get(ctx, key); err == nil && val != nil {
		return string(val), nil
	}

	group, err := s.repo.GetItemGroup(ctx, itemCode)
	if err != nil {
		return "", err
	}
	if group != "" {
		_ = s.cache.Set(ctx, key, []byte(group), s.ttl)
	}
	return group, nil
}

// Invalidate drops cached state for a scope target after a rule write.
func (s *CachedSource) Invalidate(ctx context.Context, scope domain.RuleScope, target string) {
	_ = s.cache.InvalidateRules(ctx, scope, target)
}

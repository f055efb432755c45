// Package rules provides valuation rule resolution, anomaly classification,
// and rule validation.
package rules

import (
	"context"
	"fmt"
	"time"

	"github.com/sagarrgarg/material-price-control/internal/domain"
)

// RuleSource supplies enabled rules and item metadata to the resolver.
// Implemented by the repository and by CachedSource.
type RuleSource interface {
	// ListEnabledRules returns enabled rules for a scope target in stable order.
	ListEnabledRules(ctx context.Context, scope domain.RuleScope, target string) ([]*domain.ValuationRule, error)

	// GetItemGroup returns the item's group, or "" when the item is unknown
	// or has no group.
	GetItemGroup(ctx context.Context, itemCode string) (string, error)
}

// Resolver finds the best-matching valuation rule for an item, warehouse,
// and posting date.
type Resolver struct {
	source RuleSource
}

// NewResolver creates a resolver backed by the given rule source.
func NewResolver(source RuleSource) *Resolver {
	return &Resolver{source: source}
}

// Resolve returns the expected rate for the request, or nil when no rule
// matches. Item-level rules always win over item-group rules; within a
// scope level, matching priority is:
//
//  1. dated rule whose range contains the posting date, warehouse matches
//  2. dated rule whose range contains the posting date, no warehouse
//  3. perpetual rule, warehouse matches
//  4. perpetual rule, no warehouse
func (r *Resolver) Resolve(ctx context.Context, itemCode, warehouse string, postingDate time.Time) (*domain.ExpectedRateResult, error) {
	if itemCode == "" {
		return nil, fmt.Errorf("item code is required")
	}
	if postingDate.IsZero() {
		postingDate = time.Now().UTC()
	}

	rule, err := r.findMatch(ctx, domain.ScopeItem, itemCode, warehouse, postingDate)
	if err != nil {
		return nil, err
	}
	if rule != nil {
		return resultFrom(rule, domain.ScopeItem), nil
	}

	group, err := r.source.GetItemGroup(ctx, itemCode)
	if err != nil {
		return nil, err
	}
	if group != "" {
		rule, err = r.findMatch(ctx, domain.ScopeItemGroup, group, warehouse, postingDate)
		if err != nil {
			return nil, err
		}
		if rule != nil {
			return resultFrom(rule, domain.ScopeItemGroup), nil
		}
	}

	return nil, nil
}

// findMatch partitions the target's enabled rules into the four priority
// buckets and returns the first rule of the highest non-empty bucket.
func (r *Resolver) findMatch(ctx context.Context, scope domain.RuleScope, target, warehouse string, postingDate time.Time) (*domain.ValuationRule, error) {
	candidates, err := r.source.ListEnabledRules(ctx, scope, target)
	if err != nil {
		return nil, fmt.Errorf("list rules for %s %s: %w", scope, target, err)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	var (
		datedWithWarehouse     []*domain.ValuationRule
		datedNoWarehouse       []*domain.ValuationRule
		perpetualWithWarehouse []*domain.ValuationRule
		perpetualNoWarehouse   []*domain.ValuationRule
	)

	for _, rule := range candidates {
		warehouseMatch := rule.Warehouse != "" && warehouse != "" && rule.Warehouse == warehouse

		if rule.Dated() {
			if !DateInRange(postingDate, rule.FromDate, rule.ToDate) {
				continue
			}
			if warehouseMatch {
				datedWithWarehouse = append(datedWithWarehouse, rule)
			} else if rule.Warehouse == "" {
				datedNoWarehouse = append(datedNoWarehouse, rule)
			}
		} else {
			if warehouseMatch {
				perpetualWithWarehouse = append(perpetualWithWarehouse, rule)
			} else if rule.Warehouse == "" {
				perpetualNoWarehouse = append(perpetualNoWarehouse, rule)
			}
		}
	}

	for _, bucket := range [][]*domain.ValuationRule{
		datedWithWarehouse, datedNoWarehouse,
		perpetualWithWarehouse, perpetualNoWarehouse,
	} {
		if len(bucket) > 0 {
			return bucket[0], nil
		}
	}

	return nil, nil
}

// DateInRange reports whether d falls within [from, to], treating a nil
// bound as open-ended. Boundaries are inclusive; only the calendar date is
// compared.
func DateInRange(d time.Time, from, to *time.Time) bool {
	day := dateOnly(d)
	if from != nil && dateOnly(*from).After(day) {
		return false
	}
	if to != nil && dateOnly(*to).Before(day) {
		return false
	}
	return true
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func resultFrom(rule *domain.ValuationRule, source domain.RuleScope) *domain.ExpectedRateResult {
	return &domain.ExpectedRateResult{
		ExpectedRate:       rule.ExpectedRate,
		AllowedVariancePct: rule.AllowedVariancePct,
		MinRate:            rule.MinRate,
		MaxRate:            rule.MaxRate,
		RuleSource:         source,
		RuleID:             rule.ID,
	}
}

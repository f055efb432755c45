package rules

import (
	"github.com/sagarrgarg/material-price-control/internal/domain"
)

// Validate checks a rule before it is saved. existing must hold the other
// enabled rules for the same scope target (the rule being updated excluded).
// Violations are returned as *domain.ValidationError.
func Validate(rule *domain.ValuationRule, existing []*domain.ValuationRule) error {
	switch rule.Scope {
	case domain.ScopeItem:
		if rule.ItemCode == "" {
			return domain.NewValidationError("itemCode", "item code is required when scope is Item")
		}
		rule.ItemGroup = ""
	case domain.ScopeItemGroup:
		if rule.ItemGroup == "" {
			return domain.NewValidationError("itemGroup", "item group is required when scope is Item Group")
		}
		rule.ItemCode = ""
	default:
		return domain.NewValidationError("scope", "scope must be %q or %q", domain.ScopeItem, domain.ScopeItemGroup)
	}

	if rule.ExpectedRate <= 0 {
		return domain.NewValidationError("expectedRate", "expected rate must be positive")
	}
	if rule.AllowedVariancePct != nil && *rule.AllowedVariancePct < 0 {
		return domain.NewValidationError("allowedVariancePct", "allowed variance cannot be negative")
	}
	if rule.MinRate != nil && rule.MaxRate != nil && *rule.MinRate > *rule.MaxRate {
		return domain.NewValidationError("minRate", "minimum rate %.2f exceeds maximum rate %.2f", *rule.MinRate, *rule.MaxRate)
	}
	if rule.FromDate != nil && rule.ToDate != nil && dateOnly(*rule.FromDate).After(dateOnly(*rule.ToDate)) {
		return domain.NewValidationError("fromDate", "from date is after to date")
	}

	if !rule.Enabled {
		return nil
	}

	for _, other := range existing {
		if other.ID == rule.ID || !other.Enabled {
			continue
		}
		if other.Warehouse != rule.Warehouse {
			continue
		}
		if !rule.Dated() && !other.Dated() {
			return domain.NewValidationError("", "an enabled perpetual rule already exists for %s %s", rule.Scope, rule.Target())
		}
		if rule.Dated() && other.Dated() && rangesOverlap(rule, other) {
			return domain.NewValidationError("", "date range overlaps enabled rule %s for %s %s", other.ID, rule.Scope, rule.Target())
		}
	}

	return nil
}

// rangesOverlap reports whether two dated rules' inclusive date ranges
// intersect. A nil bound is open-ended.
func rangesOverlap(a, b *domain.ValuationRule) bool {
	if a.FromDate != nil && b.ToDate != nil && dateOnly(*a.FromDate).After(dateOnly(*b.ToDate)) {
		return false
	}
	if b.FromDate != nil && a.ToDate != nil && dateOnly(*b.FromDate).After(dateOnly(*a.ToDate)) {
		return false
	}
	return true
}

// ValidateSettings checks the settings singleton before it is saved.
func ValidateSettings(s *domain.Settings) error {
	if s.Enabled && s.DefaultVariancePct <= 0 {
		return domain.NewValidationError("defaultVariancePct", "default variance %% is required when enabled")
	}
	if s.SevereMultiplier < 1 {
		return domain.NewValidationError("severeMultiplier", "severe multiplier must be at least 1")
	}
	return nil
}

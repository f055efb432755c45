package domain

import (
	"time"
)

// RuleScope determines whether a rule targets a single item or a whole group.
type RuleScope string

const (
	ScopeItem      RuleScope = "Item"
	ScopeItemGroup RuleScope = "Item Group"
)

// ValuationRule defines the expected incoming rate for an item or item group,
// optionally restricted to a warehouse and a date range. A rule with no date
// boundaries is perpetual.
type ValuationRule struct {
	ID    string    `json:"id"`
	Scope RuleScope `json:"scope"`

	// Exactly one of ItemCode/ItemGroup is set, matching Scope.
	ItemCode  string `json:"itemCode,omitempty"`
	ItemGroup string `json:"itemGroup,omitempty"`

	// Empty warehouse means the rule applies to all warehouses.
	Warehouse string `json:"warehouse,omitempty"`

	// Nil bound means open-ended on that side. Both nil = perpetual.
	FromDate *time.Time `json:"fromDate,omitempty"`
	ToDate   *time.Time `json:"toDate,omitempty"`

	ExpectedRate       float64  `json:"expectedRate"`
	AllowedVariancePct *float64 `json:"allowedVariancePct,omitempty"`
	MinRate            *float64 `json:"minRate,omitempty"`
	MaxRate            *float64 `json:"maxRate,omitempty"`

	Enabled bool `json:"enabled"`

	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// Target returns the item code or item group the rule applies to.
func (r *ValuationRule) Target() string {
	if r.Scope == ScopeItemGroup {
		return r.ItemGroup
	}
	return r.ItemCode
}

// Dated reports whether the rule is restricted to a date range.
func (r *ValuationRule) Dated() bool {
	return r.FromDate != nil || r.ToDate != nil
}

// ExpectedRateResult is the outcome of rule resolution for a single
// (item, warehouse, date) request.
type ExpectedRateResult struct {
	ExpectedRate       float64   `json:"expectedRate"`
	AllowedVariancePct *float64  `json:"allowedVariancePct,omitempty"`
	MinRate            *float64  `json:"minRate,omitempty"`
	MaxRate            *float64  `json:"maxRate,omitempty"`
	RuleSource         RuleScope `json:"ruleSource"`
	RuleID             string    `json:"ruleId"`
}

// Severity of a classified anomaly. An empty severity means the rate is
// within limits.
type Severity string

const (
	SeverityNone    Severity = ""
	SeverityWarning Severity = "Warning"
	SeveritySevere  Severity = "Severe"
)

package rules

import (
	"fmt"

	"github.com/sagarrgarg/material-price-control/internal/domain"
)

// Classification is the outcome of checking an incoming rate against an
// expected-rate result.
type Classification struct {
	Severity    domain.Severity
	Reason      string
	VariancePct float64

	// BoundViolated is set when a hard min/max bound tripped; the reason then
	// cites the bound and variance detail is suppressed in messages.
	BoundViolated bool

	AllowedVariancePct float64
	SevereThresholdPct float64
}

// Classify checks an incoming rate against the expected rate. Hard bounds are
// checked first and win over variance reasoning; then the variance is
// compared to the severe threshold (allowed x multiplier) and the allowed
// variance, in that order.
func Classify(incomingRate float64, expected *domain.ExpectedRateResult, defaultVariancePct, severeMultiplier float64) Classification {
	allowed := defaultVariancePct
	if expected.AllowedVariancePct != nil && *expected.AllowedVariancePct > 0 {
		allowed = *expected.AllowedVariancePct
	}
	severeThreshold := allowed * severeMultiplier

	c := Classification{
		VariancePct:        VariancePct(incomingRate, expected.ExpectedRate),
		AllowedVariancePct: allowed,
		SevereThresholdPct: severeThreshold,
	}

	if expected.MinRate != nil && *expected.MinRate > 0 && incomingRate < *expected.MinRate {
		c.Severity = domain.SeveritySevere
		c.BoundViolated = true
		c.Reason = fmt.Sprintf("rate %.2f is below minimum allowed rate %.2f", incomingRate, *expected.MinRate)
		return c
	}
	if expected.MaxRate != nil && *expected.MaxRate > 0 && incomingRate > *expected.MaxRate {
		c.Severity = domain.SeveritySevere
		c.BoundViolated = true
		c.Reason = fmt.Sprintf("rate %.2f is above maximum allowed rate %.2f", incomingRate, *expected.MaxRate)
		return c
	}

	if c.VariancePct > severeThreshold {
		c.Severity = domain.SeveritySevere
		c.Reason = fmt.Sprintf("variance %.1f%% exceeds severe threshold %.1f%%", c.VariancePct, severeThreshold)
		return c
	}
	if c.VariancePct > allowed {
		c.Severity = domain.SeverityWarning
		c.Reason = fmt.Sprintf("variance %.1f%% exceeds allowed variance %.1f%%", c.VariancePct, allowed)
		return c
	}

	return c
}

// VariancePct returns the absolute relative deviation of incoming from
// expected, as a percentage. Returns 0 when expected is 0.
func VariancePct(incoming, expected float64) float64 {
	if expected == 0 {
		return 0
	}
	diff := incoming - expected
	if diff < 0 {
		diff = -diff
	}
	return diff / expected * 100
}

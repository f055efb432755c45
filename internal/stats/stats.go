// Package stats computes control-chart statistics over historical rate
// series and backfills anomaly flags onto each data point.
package stats

import (
	"math"

	"github.com/sagarrgarg/material-price-control/internal/domain"
	"github.com/sagarrgarg/material-price-control/internal/rules"
)

// MinReliableCount is the smallest series for which the 2-sigma control
// limits are trusted; below it sigma is too noisy to classify against.
const MinReliableCount = 5

// Extreme-variance backstop thresholds. Deviations this large are flagged
// even when the control limits miss them (e.g. zero sigma series).
var (
	ExtremeVariancePct       = 100.0
	ExtremeSevereVariancePct = 200.0
)

// Compute returns descriptive statistics and 2-sigma control limits for a
// rate series. Empty input yields all zeros; a single observation has zero
// standard deviation, so UCL = LCL = mean. All values are rounded to two
// decimal places.
func Compute(rates []float64) domain.Statistics {
	n := len(rates)
	if n == 0 {
		return domain.Statistics{}
	}

	var sum, sumSquares float64
	for _, r := range rates {
		sum += r
		sumSquares += r * r
	}
	mean := sum / float64(n)
	rms := math.Sqrt(sumSquares / float64(n))

	// Population standard deviation (divide by n, not n-1).
	stdDev := 0.0
	if n > 1 {
		var variance float64
		for _, r := range rates {
			d := r - mean
			variance += d * d
		}
		stdDev = math.Sqrt(variance / float64(n))
	}

	ucl := mean + 2*stdDev
	lcl := math.Max(0, mean-2*stdDev)

	return domain.Statistics{
		Mean:   round2(mean),
		RMS:    round2(rms),
		StdDev: round2(stdDev),
		UCL:    round2(ucl),
		LCL:    round2(lcl),
		Count:  n,
	}
}

// ComputeFromPoints is Compute over the rates of a data point series.
func ComputeFromPoints(points []*domain.RateDataPoint) domain.Statistics {
	rates := make([]float64, 0, len(points))
	for _, p := range points {
		rates = append(rates, p.Rate)
	}
	return Compute(rates)
}

// Enrich fills variance and anomaly fields on each data point, in place.
//
// The reference rate is the rule's expected rate when one exists, otherwise
// the series mean. Anomaly status comes from the classifier when a rule
// exists; without a rule the 2-sigma control limits apply once the series
// has MinReliableCount points, with 3-sigma marking Severe. The extreme
// variance backstop catches deviations the limits miss.
func Enrich(points []*domain.RateDataPoint, rule *domain.ExpectedRateResult, statistics domain.Statistics, defaultVariancePct, severeMultiplier float64) {
	if len(points) == 0 {
		return
	}

	var (
		referenceRate   float64
		referenceSource domain.ReferenceSource
	)
	switch {
	case rule != nil && rule.ExpectedRate > 0:
		referenceRate = rule.ExpectedRate
		referenceSource = domain.ReferenceRule
	case statistics.Mean > 0:
		referenceRate = statistics.Mean
		referenceSource = domain.ReferenceMean
	}

	hasReliableStats := statistics.Count >= MinReliableCount

	for _, p := range points {
		if referenceRate > 0 {
			ref := round2(referenceRate)
			amount := round2(p.Rate - referenceRate)
			pct := round2(rules.VariancePct(p.Rate, referenceRate))
			p.ReferenceRate = &ref
			p.ReferenceSource = referenceSource
			p.VarianceAmount = &amount
			p.VariancePct = &pct
		} else {
			p.ReferenceRate = nil
			p.ReferenceSource = ""
			p.VarianceAmount = nil
			p.VariancePct = nil
		}

		p.IsAnomaly = false
		p.Severity = domain.SeverityNone

		if rule != nil {
			c := rules.Classify(p.Rate, rule, defaultVariancePct, severeMultiplier)
			if c.Severity != domain.SeverityNone {
				p.IsAnomaly = true
				p.Severity = c.Severity
			}
		} else if hasReliableStats {
			if severity := ClassifyAgainstLimits(p.Rate, statistics); severity != domain.SeverityNone {
				p.IsAnomaly = true
				p.Severity = severity
			}
		}

		// Extreme-variance backstop: gated on a rule or a reliable series so
		// a couple of scattered points cannot flag each other.
		if !p.IsAnomaly && p.VariancePct != nil && (rule != nil || hasReliableStats) {
			if *p.VariancePct > ExtremeVariancePct {
				p.IsAnomaly = true
				if *p.VariancePct > ExtremeSevereVariancePct {
					p.Severity = domain.SeveritySevere
				} else {
					p.Severity = domain.SeverityWarning
				}
			}
		}
	}
}

// ClassifyAgainstLimits grades a rate against a series' control limits.
// Outside 2 sigma is Warning, outside 3 sigma is Severe. A degenerate series
// (zero spread) never flags.
func ClassifyAgainstLimits(rate float64, statistics domain.Statistics) domain.Severity {
	if statistics.StdDev <= 0 {
		return domain.SeverityNone
	}
	if rate <= statistics.UCL && rate >= statistics.LCL {
		return domain.SeverityNone
	}
	severeUCL := statistics.Mean + 3*statistics.StdDev
	severeLCL := math.Max(0, statistics.Mean-3*statistics.StdDev)
	if rate > severeUCL || rate < severeLCL {
		return domain.SeveritySevere
	}
	return domain.SeverityWarning
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

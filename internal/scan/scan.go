// Package scan walks historical stock ledger entries and re-grades them
// against the current valuation rules, for backfilling the anomaly log and
// for ad-hoc audit reports.
package scan

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sagarrgarg/material-price-control/internal/domain"
	"github.com/sagarrgarg/material-price-control/internal/metrics"
	"github.com/sagarrgarg/material-price-control/internal/rules"
	"github.com/sagarrgarg/material-price-control/internal/stats"
)

// DefaultMonths is the scan window when no explicit range is given.
const DefaultMonths = 6

// maxItemsPerScan bounds a single run so a huge ledger cannot wedge the
// nightly job.
const maxItemsPerScan = 1000

// Options controls one scan run.
type Options struct {
	From time.Time
	To   time.Time

	// ItemCode restricts the scan to a single item.
	ItemCode string

	// OnlyAnomalies drops clean rows from the report.
	OnlyAnomalies bool

	// OnlyWithRules drops rows for which no rule resolved, leaving out the
	// statistical fallback grades.
	OnlyWithRules bool

	// Persist writes Warning and Severe rows to the anomaly log. Report-only
	// runs leave the log untouched.
	Persist bool
}

func (o *Options) normalize() {
	if o.To.IsZero() {
		o.To = time.Now().UTC()
	}
	if o.From.IsZero() {
		o.From = o.To.AddDate(0, -DefaultMonths, 0)
	}
}

// Row is one graded historical entry.
type Row struct {
	Date         time.Time        `json:"date"`
	VoucherType  string           `json:"voucherType"`
	VoucherNo    string           `json:"voucherNo"`
	ItemCode     string           `json:"itemCode"`
	Warehouse    string           `json:"warehouse,omitempty"`
	Qty          float64          `json:"qty"`
	IncomingRate float64          `json:"incomingRate"`
	ExpectedRate *float64         `json:"expectedRate,omitempty"`
	RuleSource   domain.RuleScope `json:"ruleSource,omitempty"`
	VariancePct  *float64         `json:"variancePct,omitempty"`
	Severity     domain.Severity  `json:"severity,omitempty"`
}

// Report summarizes a scan run.
type Report struct {
	From           time.Time `json:"from"`
	To             time.Time `json:"to"`
	ItemsScanned   int       `json:"itemsScanned"`
	EntriesScanned int       `json:"entriesScanned"`
	AnomaliesFound int       `json:"anomaliesFound"`
	Logged         int       `json:"logged"`
	Duration       string    `json:"duration"`
	Rows           []Row     `json:"rows"`
}

// Scanner grades historical ledger entries. bus may be nil.
type Scanner struct {
	repo     domain.Repository
	resolver *rules.Resolver
	bus      domain.EventBus
}

func NewScanner(repo domain.Repository, resolver *rules.Resolver, bus domain.EventBus) *Scanner {
	return &Scanner{repo: repo, resolver: resolver, bus: bus}
}

// Run scans the window and returns the graded report. Grading prefers a
// resolved rule per entry; entries without one fall back to the item's
// control limits when the series is long enough to trust.
func (s *Scanner) Run(ctx context.Context, opts Options) (*Report, error) {
	opts.normalize()
	started := time.Now()

	settings, err := s.repo.GetSettings(ctx)
	if err != nil || settings == nil {
		settings = domain.DefaultSettings()
	}

	var itemCodes []string
	if opts.ItemCode != "" {
		itemCodes = []string{opts.ItemCode}
	} else {
		itemCodes, err = s.repo.ListActiveItemCodes(ctx, opts.From, opts.To, maxItemsPerScan)
		if err != nil {
			return nil, fmt.Errorf("failed to list active items: %w", err)
		}
	}

	report := &Report{From: opts.From, To: opts.To}

	for _, itemCode := range itemCodes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := s.scanItem(ctx, itemCode, opts, settings, report); err != nil {
			return nil, err
		}
		report.ItemsScanned++
	}

	report.Duration = time.Since(started).Round(time.Millisecond).String()
	metrics.RecordScan()

	slog.Info("scan completed",
		"items", report.ItemsScanned,
		"entries", report.EntriesScanned,
		"anomalies", report.AnomaliesFound,
		"logged", report.Logged,
		"duration", report.Duration,
	)

	if s.bus != nil {
		payload, _ := json.Marshal(report)
		if err := s.bus.Publish(ctx, domain.TopicScanCompleted, payload); err != nil {
			slog.Error("failed to publish scan event", "error", err)
		}
	}

	return report, nil
}

func (s *Scanner) scanItem(ctx context.Context, itemCode string, opts Options, settings *domain.Settings, report *Report) error {
	points, err := s.repo.GetIncomingRates(ctx, itemCode, opts.From, opts.To)
	if err != nil {
		return fmt.Errorf("failed to load rates for %s: %w", itemCode, err)
	}
	if !settings.IncludeInternalSuppliers {
		kept := points[:0]
		for _, p := range points {
			if !p.IsInternalSupplier {
				kept = append(kept, p)
			}
		}
		points = kept
	}
	if len(points) == 0 {
		return nil
	}

	statistics := stats.ComputeFromPoints(points)
	reliable := statistics.Count >= stats.MinReliableCount

	for _, p := range points {
		report.EntriesScanned++

		// Rules are resolved per entry so dated rules grade each posting
		// against the range it fell in.
		expected, err := s.resolver.Resolve(ctx, itemCode, p.Warehouse, p.Date)
		if err != nil {
			return err
		}
		if expected == nil && opts.OnlyWithRules {
			continue
		}

		row := Row{
			Date:         p.Date,
			VoucherType:  p.VoucherType,
			VoucherNo:    p.VoucherNo,
			ItemCode:     itemCode,
			Warehouse:    p.Warehouse,
			Qty:          p.Qty,
			IncomingRate: p.Rate,
		}

		if expected != nil {
			c := rules.Classify(p.Rate, expected, settings.DefaultVariancePct, settings.SevereMultiplier)
			row.ExpectedRate = &expected.ExpectedRate
			row.RuleSource = expected.RuleSource
			row.VariancePct = &c.VariancePct
			row.Severity = c.Severity
		} else if reliable {
			row.Severity = stats.ClassifyAgainstLimits(p.Rate, statistics)
			if statistics.Mean > 0 {
				mean := statistics.Mean
				pct := rules.VariancePct(p.Rate, mean)
				row.ExpectedRate = &mean
				row.VariancePct = &pct
			}
		}

		if row.Severity == domain.SeverityNone {
			if !opts.OnlyAnomalies {
				report.Rows = append(report.Rows, row)
			}
			continue
		}

		report.AnomaliesFound++
		report.Rows = append(report.Rows, row)

		if opts.Persist {
			if err := s.logRow(ctx, row); err != nil {
				slog.Error("failed to log scanned anomaly",
					"voucher_no", row.VoucherNo, "item_code", itemCode, "error", err)
				continue
			}
			report.Logged++
		}
	}
	return nil
}

func (s *Scanner) logRow(ctx context.Context, row Row) error {
	entry := &domain.AnomalyLogEntry{
		ID:           uuid.New().String(),
		VoucherType:  row.VoucherType,
		VoucherNo:    row.VoucherNo,
		ItemCode:     row.ItemCode,
		Warehouse:    row.Warehouse,
		IncomingRate: row.IncomingRate,
		Severity:     row.Severity,
		Status:       domain.AnomalyStatusOpen,
		CreatedAt:    time.Now().UTC(),
	}
	if row.ExpectedRate != nil {
		entry.ExpectedRate = *row.ExpectedRate
	}
	if row.VariancePct != nil {
		entry.VariancePct = *row.VariancePct
	}
	if err := s.repo.InsertAnomaly(ctx, entry); err != nil {
		return err
	}
	metrics.RecordAnomaly(string(row.Severity))
	return nil
}

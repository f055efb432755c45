// Package ledger serves item rate history from the mirrored stock ledger and
// produces control-chart series for the statistics views.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/sagarrgarg/material-price-control/internal/domain"
	"github.com/sagarrgarg/material-price-control/internal/rules"
	"github.com/sagarrgarg/material-price-control/internal/stats"
)

// DefaultWindowMonths is how far back the rate feed looks when the caller
// gives no explicit range.
const DefaultWindowMonths = 6

// Query selects a slice of an item's rate history.
type Query struct {
	ItemCode  string
	Warehouse string
	From      time.Time
	To        time.Time

	// IncludeInternal keeps observations from internal suppliers. The
	// default mirrors the guard: intra-company transfers carry transfer
	// prices, not market prices, and would skew the control limits.
	IncludeInternal bool
}

func (q *Query) normalize() {
	if q.To.IsZero() {
		q.To = time.Now().UTC()
	}
	if q.From.IsZero() {
		q.From = q.To.AddDate(0, -DefaultWindowMonths, 0)
	}
}

// Service reads rate series and enriches them against the active rule and
// control limits.
type Service struct {
	repo     domain.Repository
	resolver *rules.Resolver
}

func NewService(repo domain.Repository, resolver *rules.Resolver) *Service {
	return &Service{repo: repo, resolver: resolver}
}

// Rates returns the raw observations matching the query, oldest first.
func (s *Service) Rates(ctx context.Context, q Query) ([]*domain.RateDataPoint, error) {
	if q.ItemCode == "" {
		return nil, fmt.Errorf("%w: item code is required", domain.ErrInvalidInput)
	}
	q.normalize()

	points, err := s.repo.GetIncomingRates(ctx, q.ItemCode, q.From, q.To)
	if err != nil {
		return nil, fmt.Errorf("failed to load incoming rates for %s: %w", q.ItemCode, err)
	}

	filtered := points[:0]
	for _, p := range points {
		if q.Warehouse != "" && p.Warehouse != q.Warehouse {
			continue
		}
		if !q.IncludeInternal && p.IsInternalSupplier {
			continue
		}
		filtered = append(filtered, p)
	}
	return filtered, nil
}

// Series is a fully enriched control-chart series for one item.
type Series struct {
	ItemCode   string                     `json:"itemCode"`
	From       time.Time                  `json:"from"`
	To         time.Time                  `json:"to"`
	Statistics domain.Statistics          `json:"statistics"`
	Rule       *domain.ExpectedRateResult `json:"rule,omitempty"`
	Points     []*domain.RateDataPoint    `json:"points"`
}

// Chart loads the item's rate history, computes descriptive statistics, and
// flags each point against the active rule or, absent one, the control
// limits. Thresholds come from the current settings; missing settings fall
// back to defaults so the read-only views keep working while the guard is
// unconfigured.
func (s *Service) Chart(ctx context.Context, q Query) (*Series, error) {
	points, err := s.Rates(ctx, q)
	if err != nil {
		return nil, err
	}
	q.normalize()

	statistics := stats.ComputeFromPoints(points)

	rule, err := s.resolver.Resolve(ctx, q.ItemCode, q.Warehouse, q.To)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve rule for %s: %w", q.ItemCode, err)
	}

	settings, err := s.repo.GetSettings(ctx)
	if err != nil || settings == nil {
		settings = domain.DefaultSettings()
	}

	stats.Enrich(points, rule, statistics, settings.DefaultVariancePct, settings.SevereMultiplier)

	return &Series{
		ItemCode:   q.ItemCode,
		From:       q.From,
		To:         q.To,
		Statistics: statistics,
		Rule:       rule,
		Points:     points,
	}, nil
}

// Ingest validates and stores a batch of mirrored ledger rows. Cancelled
// rows and unsupported voucher types are dropped rather than stored: the
// feed only ever reads live stock-in rows, and the host re-pushes on amend.
func (s *Service) Ingest(ctx context.Context, entries []*domain.LedgerEntry) (int, error) {
	live := make([]*domain.LedgerEntry, 0, len(entries))
	for _, e := range entries {
		if e.ItemCode == "" {
			return 0, fmt.Errorf("%w: ledger entry missing item code", domain.ErrInvalidInput)
		}
		if e.PostingDate.IsZero() {
			return 0, fmt.Errorf("%w: ledger entry for %s missing posting date", domain.ErrInvalidInput, e.ItemCode)
		}
		if e.Cancelled || !domain.IsSupportedVoucher(e.VoucherType) {
			continue
		}
		live = append(live, e)
	}
	if len(live) == 0 {
		return 0, nil
	}
	if err := s.repo.InsertLedgerEntries(ctx, live); err != nil {
		return 0, fmt.Errorf("failed to insert ledger entries: %w", err)
	}
	return len(live), nil
}

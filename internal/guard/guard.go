// Package guard orchestrates rule resolution and anomaly classification for
// incoming stock transactions, and decides whether to log or block.
package guard

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sagarrgarg/material-price-control/internal/domain"
	"github.com/sagarrgarg/material-price-control/internal/metrics"
	"github.com/sagarrgarg/material-price-control/internal/rules"
)

// Guard evaluates normalized transactions. All collaborators are injected;
// the guard holds no ambient state.
type Guard struct {
	resolver *rules.Resolver
	repo     domain.Repository
	bus      domain.EventBus // optional
}

// New creates a guard. bus may be nil when event publishing is not wanted.
func New(resolver *rules.Resolver, repo domain.Repository, bus domain.EventBus) *Guard {
	return &Guard{resolver: resolver, repo: repo, bus: bus}
}

// Check evaluates every qualifying line of the transaction. Warning and
// Severe findings are always persisted to the anomaly log, including when the
// transaction is ultimately blocked, so blocked anomalies stay auditable.
//
// A blocked transaction returns the partial result together with a
// *domain.BlockedError. Missing or disabled settings allow silently: the
// guard never fails a transaction because of its own configuration.
func (g *Guard) Check(ctx context.Context, tx *domain.Transaction, userRoles []string) (*domain.CheckResult, error) {
	metrics.RecordCheck()

	result := &domain.CheckResult{Allowed: true}

	settings, err := g.repo.GetSettings(ctx)
	if err != nil {
		slog.Debug("settings unavailable, guard disabled", "error", err)
		return result, nil
	}
	if settings == nil || !settings.Enabled {
		return result, nil
	}

	if !settings.IncludeInternalSuppliers && tx.Supplier != "" {
		internal, err := g.repo.IsInternalSupplier(ctx, tx.Supplier)
		if err != nil {
			slog.Warn("supplier lookup failed", "supplier", tx.Supplier, "error", err)
		} else if internal {
			return result, nil
		}
	}

	postingDate := tx.PostingDate
	if postingDate.IsZero() {
		postingDate = time.Now().UTC()
	}

	canBypass := settings.CanBypass(userRoles)

	for _, line := range tx.Lines {
		if line.Quantity <= 0 || line.Rate <= 0 {
			result.Findings = append(result.Findings, domain.LineFinding{
				ItemCode:     line.ItemCode,
				Warehouse:    line.Warehouse,
				IncomingRate: line.Rate,
				Skipped:      true,
			})
			continue
		}

		expected, err := g.resolver.Resolve(ctx, line.ItemCode, line.Warehouse, postingDate)
		if err != nil {
			return nil, err
		}

		if expected == nil {
			result.Findings = append(result.Findings, domain.LineFinding{
				ItemCode:     line.ItemCode,
				Warehouse:    line.Warehouse,
				IncomingRate: line.Rate,
				NoRule:       true,
			})
			if settings.BlockIfNoRule {
				if canBypass {
					result.Bypassed = true
					continue
				}
				result.Allowed = false
				blockErr := &domain.BlockedError{
					Kind:         domain.BlockKindMissingRule,
					ItemCode:     line.ItemCode,
					IncomingRate: line.Rate,
					Reason:       "no valuation rule exists for this item",
				}
				g.publishBlocked(ctx, tx, blockErr)
				metrics.RecordBlock(blockErr.Kind)
				return result, blockErr
			}
			continue
		}

		c := rules.Classify(line.Rate, expected, settings.DefaultVariancePct, settings.SevereMultiplier)

		finding := domain.LineFinding{
			ItemCode:     line.ItemCode,
			Warehouse:    line.Warehouse,
			IncomingRate: line.Rate,
			ExpectedRate: expected.ExpectedRate,
			VariancePct:  c.VariancePct,
			RuleID:       expected.RuleID,
			RuleSource:   expected.RuleSource,
			Severity:     c.Severity,
			Reason:       c.Reason,
		}
		result.Findings = append(result.Findings, finding)

		if c.Severity == domain.SeverityNone {
			continue
		}

		entry := g.logAnomaly(ctx, tx, line, expected, c)
		if entry != nil {
			result.AnomaliesLogged++
		}

		if c.Severity == domain.SeveritySevere && settings.BlockSevere {
			if canBypass {
				result.Bypassed = true
				continue
			}
			result.Allowed = false
			blockErr := blockedFromClassification(line, expected, c)
			g.publishBlocked(ctx, tx, blockErr)
			metrics.RecordBlock(blockErr.Kind)
			return result, blockErr
		}
	}

	return result, nil
}

// logAnomaly persists the anomaly log entry and publishes it on the bus.
// A failed insert is logged and swallowed: the audit trail must not turn a
// warning into a failed transaction.
func (g *Guard) logAnomaly(ctx context.Context, tx *domain.Transaction, line domain.TransactionLine, expected *domain.ExpectedRateResult, c rules.Classification) *domain.AnomalyLogEntry {
	entry := &domain.AnomalyLogEntry{
		ID:           uuid.New().String(),
		VoucherType:  tx.VoucherType,
		VoucherNo:    tx.VoucherNo,
		ItemCode:     line.ItemCode,
		Warehouse:    line.Warehouse,
		IncomingRate: line.Rate,
		ExpectedRate: expected.ExpectedRate,
		VariancePct:  c.VariancePct,
		Severity:     c.Severity,
		Status:       domain.AnomalyStatusOpen,
		CreatedAt:    time.Now().UTC(),
	}

	if err := g.repo.InsertAnomaly(ctx, entry); err != nil {
		slog.Error("failed to insert anomaly log",
			"voucher_no", tx.VoucherNo,
			"item_code", line.ItemCode,
			"error", err,
		)
		return nil
	}

	metrics.RecordAnomaly(string(c.Severity))

	if g.bus != nil {
		payload, _ := json.Marshal(entry)
		if err := g.bus.Publish(ctx, domain.TopicAnomalyLogged, payload); err != nil {
			slog.Error("failed to publish anomaly event", "error", err)
		}
	}

	return entry
}

func (g *Guard) publishBlocked(ctx context.Context, tx *domain.Transaction, blockErr *domain.BlockedError) {
	slog.Info("transaction blocked",
		"voucher_type", tx.VoucherType,
		"voucher_no", tx.VoucherNo,
		"item_code", blockErr.ItemCode,
		"kind", blockErr.Kind,
	)
	if g.bus == nil {
		return
	}
	payload, _ := json.Marshal(blockErr)
	if err := g.bus.Publish(ctx, domain.TopicTransactionBlocked, payload); err != nil {
		slog.Error("failed to publish block event", "error", err)
	}
}

func blockedFromClassification(line domain.TransactionLine, expected *domain.ExpectedRateResult, c rules.Classification) *domain.BlockedError {
	blockErr := &domain.BlockedError{
		Kind:               domain.BlockKindSevereAnomaly,
		ItemCode:           line.ItemCode,
		IncomingRate:       line.Rate,
		ExpectedRate:       expected.ExpectedRate,
		VariancePct:        c.VariancePct,
		AllowedVariancePct: c.AllowedVariancePct,
		SevereThresholdPct: c.SevereThresholdPct,
		Reason:             c.Reason,
	}
	if c.BoundViolated {
		blockErr.Kind = domain.BlockKindBoundViolated
		blockErr.MinRate = expected.MinRate
		blockErr.MaxRate = expected.MaxRate
	}
	return blockErr
}

package worker

import (
	"context"
	"testing"
	"time"

	"github.com/sagarrgarg/material-price-control/internal/domain"
	"github.com/sagarrgarg/material-price-control/internal/rules"
	"github.com/sagarrgarg/material-price-control/internal/scan"
)

type fakeStore struct {
	domain.Repository
	anomalies int
}

func (f *fakeStore) GetSettings(ctx context.Context) (*domain.Settings, error) {
	return &domain.Settings{Enabled: true, DefaultVariancePct: 30, SevereMultiplier: 2}, nil
}

func (f *fakeStore) ListActiveItemCodes(ctx context.Context, from, to time.Time, limit int) ([]string, error) {
	return []string{"WIDGET"}, nil
}

func (f *fakeStore) GetIncomingRates(ctx context.Context, itemCode string, from, to time.Time) ([]*domain.RateDataPoint, error) {
	return []*domain.RateDataPoint{
		{Date: to.AddDate(0, 0, -1), Rate: 170, VoucherType: domain.VoucherPurchaseReceipt, VoucherNo: "PR-1"},
	}, nil
}

func (f *fakeStore) ListEnabledRules(ctx context.Context, scope domain.RuleScope, target string) ([]*domain.ValuationRule, error) {
	if scope == domain.ScopeItem && target == "WIDGET" {
		return []*domain.ValuationRule{{
			ID: "r1", Scope: domain.ScopeItem, ItemCode: "WIDGET",
			ExpectedRate: 100, Enabled: true,
		}}, nil
	}
	return nil, nil
}

func (f *fakeStore) GetItemGroup(ctx context.Context, itemCode string) (string, error) {
	return "", nil
}

func (f *fakeStore) InsertAnomaly(ctx context.Context, entry *domain.AnomalyLogEntry) error {
	f.anomalies++
	return nil
}

func TestRunOncePersists(t *testing.T) {
	store := &fakeStore{}
	scanner := scan.NewScanner(store, rules.NewResolver(store), nil)
	w := NewScanWorker(scanner, domain.ScanConfig{Schedule: "0 2 * * *", Months: 6})

	w.runOnce()

	if store.anomalies != 1 {
		t.Errorf("anomalies persisted = %d, want 1", store.anomalies)
	}
}

func TestStartStop(t *testing.T) {
	store := &fakeStore{}
	scanner := scan.NewScanner(store, rules.NewResolver(store), nil)
	w := NewScanWorker(scanner, domain.ScanConfig{})

	if err := w.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	w.Stop()
}

func TestBadSchedule(t *testing.T) {
	store := &fakeStore{}
	scanner := scan.NewScanner(store, rules.NewResolver(store), nil)
	w := NewScanWorker(scanner, domain.ScanConfig{Schedule: "not a cron expr"})

	if err := w.Start(); err == nil {
		t.Error("expected error for invalid schedule")
	}
}

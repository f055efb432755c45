package guard

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sagarrgarg/material-price-control/internal/domain"
	"github.com/sagarrgarg/material-price-control/internal/rules"
)

// fakeStore backs both the resolver and the guard in tests. Repository
// methods the guard never calls are inherited from the embedded nil
// interface and panic if reached.
type fakeStore struct {
	domain.Repository
	settings  *domain.Settings
	rules     map[string][]*domain.ValuationRule
	groups    map[string]string
	internal  map[string]bool
	anomalies []*domain.AnomalyLogEntry
	insertErr error
}

func (f *fakeStore) GetSettings(ctx context.Context) (*domain.Settings, error) {
	if f.settings == nil {
		return nil, errors.New("no settings row")
	}
	return f.settings, nil
}

func (f *fakeStore) ListEnabledRules(ctx context.Context, scope domain.RuleScope, target string) ([]*domain.ValuationRule, error) {
	return f.rules[string(scope)+"/"+target], nil
}

func (f *fakeStore) GetItemGroup(ctx context.Context, itemCode string) (string, error) {
	return f.groups[itemCode], nil
}

func (f *fakeStore) IsInternalSupplier(ctx context.Context, name string) (bool, error) {
	return f.internal[name], nil
}

func (f *fakeStore) InsertAnomaly(ctx context.Context, entry *domain.AnomalyLogEntry) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.anomalies = append(f.anomalies, entry)
	return nil
}

func newTestGuard(store *fakeStore) *Guard {
	return New(rules.NewResolver(store), store, nil)
}

func enabledSettings() *domain.Settings {
	return &domain.Settings{
		Enabled:            true,
		DefaultVariancePct: 30,
		SevereMultiplier:   2,
		BlockSevere:        true,
	}
}

func itemRule(itemCode string, expected float64) *domain.ValuationRule {
	return &domain.ValuationRule{
		ID:           "rule-" + itemCode,
		Scope:        domain.ScopeItem,
		ItemCode:     itemCode,
		ExpectedRate: expected,
		Enabled:      true,
	}
}

func purchaseReceipt(lines ...domain.TransactionLine) *domain.Transaction {
	return &domain.Transaction{
		VoucherType: domain.VoucherPurchaseReceipt,
		VoucherNo:   "PR-0001",
		PostingDate: time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
		Lines:       lines,
	}
}

func TestCheckDisabled(t *testing.T) {
	t.Run("missing settings allow", func(t *testing.T) {
		g := newTestGuard(&fakeStore{})
		result, err := g.Check(context.Background(), purchaseReceipt(domain.TransactionLine{ItemCode: "WIDGET", Quantity: 1, Rate: 999}), nil)
		if err != nil {
			t.Fatalf("Check: %v", err)
		}
		if !result.Allowed || len(result.Findings) != 0 {
			t.Fatalf("expected silent allow, got %+v", result)
		}
	})

	t.Run("disabled settings allow", func(t *testing.T) {
		settings := enabledSettings()
		settings.Enabled = false
		g := newTestGuard(&fakeStore{settings: settings})
		result, err := g.Check(context.Background(), purchaseReceipt(domain.TransactionLine{ItemCode: "WIDGET", Quantity: 1, Rate: 999}), nil)
		if err != nil {
			t.Fatalf("Check: %v", err)
		}
		if !result.Allowed {
			t.Fatal("expected allow when guard disabled")
		}
	})
}

func TestCheckClassification(t *testing.T) {
	store := &fakeStore{
		settings: enabledSettings(),
		rules: map[string][]*domain.ValuationRule{
			"Item/WIDGET": {itemRule("WIDGET", 100)},
		},
	}
	store.settings.BlockSevere = false
	g := newTestGuard(store)

	cases := []struct {
		name      string
		rate      float64
		severity  domain.Severity
		anomalies int
	}{
		{"within allowed", 110, domain.SeverityNone, 0},
		{"warning band", 140, domain.SeverityWarning, 1},
		{"severe band", 170, domain.SeveritySevere, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store.anomalies = nil
			result, err := g.Check(context.Background(), purchaseReceipt(domain.TransactionLine{ItemCode: "WIDGET", Quantity: 5, Rate: tc.rate}), nil)
			if err != nil {
				t.Fatalf("Check: %v", err)
			}
			if !result.Allowed {
				t.Fatal("expected allow when BlockSevere disabled")
			}
			if len(result.Findings) != 1 {
				t.Fatalf("expected 1 finding, got %d", len(result.Findings))
			}
			if result.Findings[0].Severity != tc.severity {
				t.Errorf("severity = %q, want %q", result.Findings[0].Severity, tc.severity)
			}
			if len(store.anomalies) != tc.anomalies {
				t.Errorf("anomalies logged = %d, want %d", len(store.anomalies), tc.anomalies)
			}
		})
	}
}

func TestCheckBlockSevere(t *testing.T) {
	store := &fakeStore{
		settings: enabledSettings(),
		rules: map[string][]*domain.ValuationRule{
			"Item/WIDGET": {itemRule("WIDGET", 100)},
		},
	}
	g := newTestGuard(store)

	result, err := g.Check(context.Background(), purchaseReceipt(domain.TransactionLine{ItemCode: "WIDGET", Quantity: 5, Rate: 170}), nil)
	if err == nil {
		t.Fatal("expected block error")
	}
	var blockErr *domain.BlockedError
	if !errors.As(err, &blockErr) {
		t.Fatalf("expected *domain.BlockedError, got %T", err)
	}
	if blockErr.Kind != domain.BlockKindSevereAnomaly {
		t.Errorf("kind = %q, want %q", blockErr.Kind, domain.BlockKindSevereAnomaly)
	}
	if result == nil || result.Allowed {
		t.Fatal("expected result with Allowed=false")
	}
	// The anomaly is persisted before the block is raised.
	if len(store.anomalies) != 1 {
		t.Fatalf("anomalies logged = %d, want 1", len(store.anomalies))
	}
	if store.anomalies[0].Severity != domain.SeveritySevere {
		t.Errorf("logged severity = %q", store.anomalies[0].Severity)
	}
}

func TestCheckBoundViolation(t *testing.T) {
	minRate := 10.0
	rule := itemRule("WIDGET", 100)
	rule.MinRate = &minRate
	store := &fakeStore{
		settings: enabledSettings(),
		rules:    map[string][]*domain.ValuationRule{"Item/WIDGET": {rule}},
	}
	g := newTestGuard(store)

	_, err := g.Check(context.Background(), purchaseReceipt(domain.TransactionLine{ItemCode: "WIDGET", Quantity: 1, Rate: 5}), nil)
	var blockErr *domain.BlockedError
	if !errors.As(err, &blockErr) {
		t.Fatalf("expected *domain.BlockedError, got %v", err)
	}
	if blockErr.Kind != domain.BlockKindBoundViolated {
		t.Errorf("kind = %q, want %q", blockErr.Kind, domain.BlockKindBoundViolated)
	}
	if blockErr.MinRate == nil || *blockErr.MinRate != minRate {
		t.Errorf("MinRate not carried on block error: %+v", blockErr)
	}
}

func TestCheckBypassRoles(t *testing.T) {
	settings := enabledSettings()
	settings.BypassRoles = []string{"Stock Manager"}
	store := &fakeStore{
		settings: settings,
		rules:    map[string][]*domain.ValuationRule{"Item/WIDGET": {itemRule("WIDGET", 100)}},
	}
	g := newTestGuard(store)

	result, err := g.Check(context.Background(), purchaseReceipt(domain.TransactionLine{ItemCode: "WIDGET", Quantity: 1, Rate: 170}), []string{"Stock Manager"})
	if err != nil {
		t.Fatalf("expected bypass, got %v", err)
	}
	if !result.Allowed || !result.Bypassed {
		t.Fatalf("expected allowed bypassed result, got %+v", result)
	}
	// Bypass skips the block, never the audit trail.
	if len(store.anomalies) != 1 {
		t.Fatalf("anomalies logged = %d, want 1", len(store.anomalies))
	}
}

func TestCheckMissingRule(t *testing.T) {
	t.Run("allowed by default", func(t *testing.T) {
		store := &fakeStore{settings: enabledSettings()}
		g := newTestGuard(store)
		result, err := g.Check(context.Background(), purchaseReceipt(domain.TransactionLine{ItemCode: "UNRULED", Quantity: 1, Rate: 50}), nil)
		if err != nil {
			t.Fatalf("Check: %v", err)
		}
		if !result.Allowed {
			t.Fatal("expected allow without block_if_no_rule")
		}
		if len(result.Findings) != 1 || !result.Findings[0].NoRule {
			t.Fatalf("expected NoRule finding, got %+v", result.Findings)
		}
		if len(store.anomalies) != 0 {
			t.Fatal("missing rule must not produce an anomaly log entry")
		}
	})

	t.Run("blocked when configured", func(t *testing.T) {
		settings := enabledSettings()
		settings.BlockIfNoRule = true
		store := &fakeStore{settings: settings}
		g := newTestGuard(store)
		_, err := g.Check(context.Background(), purchaseReceipt(domain.TransactionLine{ItemCode: "UNRULED", Quantity: 1, Rate: 50}), nil)
		var blockErr *domain.BlockedError
		if !errors.As(err, &blockErr) {
			t.Fatalf("expected block, got %v", err)
		}
		if blockErr.Kind != domain.BlockKindMissingRule {
			t.Errorf("kind = %q", blockErr.Kind)
		}
		if len(store.anomalies) != 0 {
			t.Fatal("missing rule block must not produce an anomaly log entry")
		}
	})
}

func TestCheckInternalSupplierSkip(t *testing.T) {
	store := &fakeStore{
		settings: enabledSettings(),
		rules:    map[string][]*domain.ValuationRule{"Item/WIDGET": {itemRule("WIDGET", 100)}},
		internal: map[string]bool{"ACME Internal": true},
	}
	g := newTestGuard(store)

	tx := purchaseReceipt(domain.TransactionLine{ItemCode: "WIDGET", Quantity: 1, Rate: 999})
	tx.Supplier = "ACME Internal"
	result, err := g.Check(context.Background(), tx, nil)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !result.Allowed || len(result.Findings) != 0 {
		t.Fatalf("expected internal supplier skip, got %+v", result)
	}

	store.settings.IncludeInternalSuppliers = true
	_, err = g.Check(context.Background(), tx, nil)
	if err == nil {
		t.Fatal("expected block once internal suppliers are included")
	}
}

func TestCheckSkipsNonStockLines(t *testing.T) {
	store := &fakeStore{
		settings: enabledSettings(),
		rules:    map[string][]*domain.ValuationRule{"Item/WIDGET": {itemRule("WIDGET", 100)}},
	}
	g := newTestGuard(store)

	result, err := g.Check(context.Background(), purchaseReceipt(
		domain.TransactionLine{ItemCode: "WIDGET", Quantity: 0, Rate: 999},
		domain.TransactionLine{ItemCode: "WIDGET", Quantity: 3, Rate: -1},
	), nil)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !result.Allowed {
		t.Fatal("expected allow")
	}
	for i, f := range result.Findings {
		if !f.Skipped {
			t.Errorf("finding %d not marked skipped", i)
		}
	}
}

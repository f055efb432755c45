package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/sagarrgarg/material-price-control/internal/bus"
	"github.com/sagarrgarg/material-price-control/internal/cache"
	"github.com/sagarrgarg/material-price-control/internal/domain"
	"github.com/sagarrgarg/material-price-control/internal/guard"
	"github.com/sagarrgarg/material-price-control/internal/ledger"
	"github.com/sagarrgarg/material-price-control/internal/repository"
	"github.com/sagarrgarg/material-price-control/internal/rules"
	"github.com/sagarrgarg/material-price-control/internal/scan"
)

// newTestServer wires a full stack over a temp sqlite file.
func newTestServer(t *testing.T) (*httptest.Server, domain.Repository) {
	t.Helper()

	dbFile, err := os.CreateTemp("", "mpc-api-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp db: %v", err)
	}
	dbFile.Close()

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: dbFile.Name(),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}

	c, err := cache.New(domain.CacheConfig{Type: "memory", LocalMaxSize: 100, LocalTTL: time.Minute})
	if err != nil {
		t.Fatalf("failed to create cache: %v", err)
	}
	b, err := bus.New(domain.EventBusConfig{Type: "channel", ChannelBufferSize: 16})
	if err != nil {
		t.Fatalf("failed to create bus: %v", err)
	}

	source := rules.NewCachedSource(repo, c, time.Minute)
	resolver := rules.NewResolver(source)
	g := guard.New(resolver, repo, b)
	ledgerSvc := ledger.NewService(repo, resolver)
	scanner := scan.NewScanner(repo, resolver, b)

	handler := NewHandler(repo, c, b, g, ledgerSvc, scanner, source, "test")
	server := NewServer(domain.ServerConfig{Host: "127.0.0.1", Port: 0, ReadTimeout: 5, WriteTimeout: 5}, handler)

	ts := httptest.NewServer(server.Router())
	t.Cleanup(func() {
		ts.Close()
		repo.Close()
		c.Close()
		b.Close()
		os.Remove(dbFile.Name())
	})
	return ts, repo
}

func doJSON(t *testing.T, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		t.Fatalf("failed to read body: %v", err)
	}
	return resp, buf.Bytes()
}

func TestHealthAndReady(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/health", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}

	resp, body = doJSON(t, http.MethodGet, ts.URL+"/ready", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}
	var ready struct {
		Ready bool `json:"ready"`
	}
	if err := json.Unmarshal(body, &ready); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if !ready.Ready {
		t.Error("expected ready=true")
	}
}

func TestRuleLifecycle(t *testing.T) {
	ts, _ := newTestServer(t)

	variance := 25.0
	rule := &domain.ValuationRule{
		Scope:              domain.ScopeItem,
		ItemCode:           "STEEL-ROD",
		ExpectedRate:       100,
		AllowedVariancePct: &variance,
		Enabled:            true,
	}

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/v1/rules", rule, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}
	var saved domain.ValuationRule
	if err := json.Unmarshal(body, &saved); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if saved.ID == "" {
		t.Fatal("expected generated rule ID")
	}

	t.Run("Get", func(t *testing.T) {
		resp, body := doJSON(t, http.MethodGet, ts.URL+"/v1/rules/"+saved.ID, nil, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
		}
	})

	t.Run("List", func(t *testing.T) {
		resp, body := doJSON(t, http.MethodGet, ts.URL+"/v1/rules/", nil, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
		}
		var list struct {
			Count int `json:"count"`
		}
		if err := json.Unmarshal(body, &list); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if list.Count != 1 {
			t.Errorf("expected 1 rule, got %d", list.Count)
		}
	})

	t.Run("DuplicatePerpetualRejected", func(t *testing.T) {
		dup := &domain.ValuationRule{
			Scope:        domain.ScopeItem,
			ItemCode:     "STEEL-ROD",
			ExpectedRate: 110,
			Enabled:      true,
		}
		resp, body := doJSON(t, http.MethodPost, ts.URL+"/v1/rules", dup, nil)
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d: %s", resp.StatusCode, body)
		}
	})

	t.Run("Disable", func(t *testing.T) {
		resp, body := doJSON(t, http.MethodDelete, ts.URL+"/v1/rules/"+saved.ID, nil, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
		}
	})

	t.Run("GetMissing", func(t *testing.T) {
		resp, _ := doJSON(t, http.MethodGet, ts.URL+"/v1/rules/no-such-rule", nil, nil)
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", resp.StatusCode)
		}
	})
}

func TestSettingsEndpoints(t *testing.T) {
	ts, _ := newTestServer(t)

	t.Run("DefaultsBeforeSave", func(t *testing.T) {
		resp, body := doJSON(t, http.MethodGet, ts.URL+"/v1/settings", nil, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
		}
		var s domain.Settings
		if err := json.Unmarshal(body, &s); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if s.Enabled {
			t.Error("expected checks disabled by default")
		}
	})

	t.Run("SaveAndRead", func(t *testing.T) {
		in := &domain.Settings{
			Enabled:            true,
			DefaultVariancePct: 20,
			SevereMultiplier:   2,
			BlockSevere:        true,
			BypassRoles:        []string{"Stock Manager"},
		}
		resp, body := doJSON(t, http.MethodPut, ts.URL+"/v1/settings", in, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
		}

		resp, body = doJSON(t, http.MethodGet, ts.URL+"/v1/settings", nil, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
		}
		var s domain.Settings
		if err := json.Unmarshal(body, &s); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if !s.Enabled || s.DefaultVariancePct != 20 {
			t.Errorf("settings did not round-trip: %+v", s)
		}
	})

	t.Run("InvalidMultiplierRejected", func(t *testing.T) {
		in := &domain.Settings{Enabled: true, DefaultVariancePct: 20, SevereMultiplier: 0.5}
		resp, _ := doJSON(t, http.MethodPut, ts.URL+"/v1/settings", in, nil)
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", resp.StatusCode)
		}
	})
}

func TestCheckTransaction(t *testing.T) {
	ts, _ := newTestServer(t)

	// Enable checks with blocking on severe anomalies.
	settings := &domain.Settings{
		Enabled:            true,
		DefaultVariancePct: 30,
		SevereMultiplier:   2,
		BlockSevere:        true,
		BypassRoles:        []string{"Stock Manager"},
	}
	resp, body := doJSON(t, http.MethodPut, ts.URL+"/v1/settings", settings, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("failed to save settings: %d %s", resp.StatusCode, body)
	}

	rule := &domain.ValuationRule{
		Scope:        domain.ScopeItem,
		ItemCode:     "STEEL-ROD",
		ExpectedRate: 100,
		Enabled:      true,
	}
	resp, body = doJSON(t, http.MethodPost, ts.URL+"/v1/rules", rule, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("failed to save rule: %d %s", resp.StatusCode, body)
	}

	tx := func(rate float64) *domain.Transaction {
		return &domain.Transaction{
			VoucherType: domain.VoucherPurchaseReceipt,
			VoucherNo:   fmt.Sprintf("PR-%v", rate),
			PostingDate: time.Now().UTC(),
			Lines: []domain.TransactionLine{
				{ItemCode: "STEEL-ROD", Quantity: 10, Rate: rate},
			},
		}
	}

	t.Run("CleanRateAllowed", func(t *testing.T) {
		resp, body := doJSON(t, http.MethodPost, ts.URL+"/v1/check", tx(110), nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
		}
		var result domain.CheckResult
		if err := json.Unmarshal(body, &result); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if !result.Allowed {
			t.Error("expected transaction allowed")
		}
	})

	t.Run("WarningAllowedButLogged", func(t *testing.T) {
		resp, body := doJSON(t, http.MethodPost, ts.URL+"/v1/check", tx(140), nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
		}
		var result domain.CheckResult
		if err := json.Unmarshal(body, &result); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if result.AnomaliesLogged != 1 {
			t.Errorf("expected 1 anomaly logged, got %d", result.AnomaliesLogged)
		}
	})

	t.Run("SevereBlockedWith409", func(t *testing.T) {
		resp, body := doJSON(t, http.MethodPost, ts.URL+"/v1/check", tx(170), nil)
		if resp.StatusCode != http.StatusConflict {
			t.Fatalf("expected 409, got %d: %s", resp.StatusCode, body)
		}
		var blocked struct {
			Allowed bool `json:"allowed"`
			Blocked struct {
				Kind string `json:"kind"`
			} `json:"blocked"`
		}
		if err := json.Unmarshal(body, &blocked); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if blocked.Blocked.Kind != domain.BlockKindSevereAnomaly {
			t.Errorf("expected severe-anomaly block, got %q", blocked.Blocked.Kind)
		}
	})

	t.Run("BypassRoleAllowsSevere", func(t *testing.T) {
		headers := map[string]string{UserRolesHeader: "Accounts User, Stock Manager"}
		resp, body := doJSON(t, http.MethodPost, ts.URL+"/v1/check", tx(170), headers)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
		}
		var result domain.CheckResult
		if err := json.Unmarshal(body, &result); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if !result.Bypassed {
			t.Error("expected bypassed result")
		}
	})

	t.Run("MissingBodyRejected", func(t *testing.T) {
		resp, _ := doJSON(t, http.MethodPost, ts.URL+"/v1/check", map[string]any{}, nil)
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", resp.StatusCode)
		}
	})
}

func TestLedgerAndStatistics(t *testing.T) {
	ts, _ := newTestServer(t)

	base := time.Now().UTC().AddDate(0, -1, 0)
	entries := make([]*domain.LedgerEntry, 0, 5)
	for i, rate := range []float64{100, 110, 90, 105, 95} {
		entries = append(entries, &domain.LedgerEntry{
			ItemCode:     "STEEL-ROD",
			Warehouse:    "Main - C",
			VoucherType:  domain.VoucherPurchaseReceipt,
			VoucherNo:    fmt.Sprintf("PR-%03d", i),
			PostingDate:  base.AddDate(0, 0, i),
			ActualQty:    10,
			IncomingRate: rate,
		})
	}

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/v1/ledger", map[string]any{"entries": entries}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}

	t.Run("Statistics", func(t *testing.T) {
		resp, body := doJSON(t, http.MethodGet, ts.URL+"/v1/items/STEEL-ROD/statistics", nil, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
		}
		var out struct {
			Statistics domain.Statistics `json:"statistics"`
			Reliable   bool              `json:"reliable"`
		}
		if err := json.Unmarshal(body, &out); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if out.Statistics.Mean != 100 {
			t.Errorf("expected mean 100, got %v", out.Statistics.Mean)
		}
		if out.Statistics.Count != 5 || !out.Reliable {
			t.Errorf("expected 5 reliable points, got %+v", out)
		}
	})

	t.Run("Chart", func(t *testing.T) {
		resp, body := doJSON(t, http.MethodGet, ts.URL+"/v1/items/STEEL-ROD/chart", nil, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
		}
		var series ledger.Series
		if err := json.Unmarshal(body, &series); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if len(series.Points) != 5 {
			t.Errorf("expected 5 points, got %d", len(series.Points))
		}
	})

	t.Run("BadDateRejected", func(t *testing.T) {
		resp, _ := doJSON(t, http.MethodGet, ts.URL+"/v1/items/STEEL-ROD/statistics?from=yesterday", nil, nil)
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", resp.StatusCode)
		}
	})
}

func TestScanEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)

	rule := &domain.ValuationRule{
		Scope:        domain.ScopeItem,
		ItemCode:     "STEEL-ROD",
		ExpectedRate: 100,
		Enabled:      true,
	}
	resp, body := doJSON(t, http.MethodPost, ts.URL+"/v1/rules", rule, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("failed to save rule: %d %s", resp.StatusCode, body)
	}

	base := time.Now().UTC().AddDate(0, -1, 0)
	entries := []*domain.LedgerEntry{
		{ItemCode: "STEEL-ROD", VoucherType: domain.VoucherPurchaseReceipt, VoucherNo: "PR-001", PostingDate: base, ActualQty: 10, IncomingRate: 100},
		{ItemCode: "STEEL-ROD", VoucherType: domain.VoucherPurchaseReceipt, VoucherNo: "PR-002", PostingDate: base.AddDate(0, 0, 1), ActualQty: 10, IncomingRate: 170},
	}
	resp, body = doJSON(t, http.MethodPost, ts.URL+"/v1/ledger", map[string]any{"entries": entries}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("failed to ingest entries: %d %s", resp.StatusCode, body)
	}

	resp, body = doJSON(t, http.MethodPost, ts.URL+"/v1/scan", map[string]any{"onlyAnomalies": true}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}
	var report scan.Report
	if err := json.Unmarshal(body, &report); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if report.AnomaliesFound != 1 {
		t.Errorf("expected 1 anomaly, got %d", report.AnomaliesFound)
	}
	if len(report.Rows) != 1 {
		t.Errorf("expected 1 row, got %d", len(report.Rows))
	}
}

func TestDashboardAndAnomalyReview(t *testing.T) {
	ts, repo := newTestServer(t)

	entry := &domain.AnomalyLogEntry{
		ID:           "anomaly-1",
		VoucherType:  domain.VoucherPurchaseReceipt,
		VoucherNo:    "PR-100",
		ItemCode:     "STEEL-ROD",
		IncomingRate: 170,
		ExpectedRate: 100,
		VariancePct:  70,
		Severity:     domain.SeveritySevere,
		Status:       domain.AnomalyStatusOpen,
		CreatedAt:    time.Now().UTC(),
	}
	if err := repo.InsertAnomaly(context.Background(), entry); err != nil {
		t.Fatalf("failed to insert anomaly: %v", err)
	}

	t.Run("Dashboard", func(t *testing.T) {
		resp, body := doJSON(t, http.MethodGet, ts.URL+"/v1/dashboard", nil, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
		}
		var stats domain.DashboardStats
		if err := json.Unmarshal(body, &stats); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if stats.OpenAnomalies != 1 || stats.SevereAnomalies != 1 {
			t.Errorf("unexpected dashboard counts: %+v", stats)
		}
	})

	t.Run("Recent", func(t *testing.T) {
		resp, body := doJSON(t, http.MethodGet, ts.URL+"/v1/anomalies/recent", nil, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
		}
		var out struct {
			Count int `json:"count"`
		}
		if err := json.Unmarshal(body, &out); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if out.Count != 1 {
			t.Errorf("expected 1 anomaly, got %d", out.Count)
		}
	})

	t.Run("Review", func(t *testing.T) {
		resp, body := doJSON(t, http.MethodPatch, ts.URL+"/v1/anomalies/anomaly-1",
			map[string]string{"status": domain.AnomalyStatusReviewed}, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
		}
	})

	t.Run("InvalidStatus", func(t *testing.T) {
		resp, _ := doJSON(t, http.MethodPatch, ts.URL+"/v1/anomalies/anomaly-1",
			map[string]string{"status": "Archived"}, nil)
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", resp.StatusCode)
		}
	})
}

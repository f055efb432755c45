package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/sagarrgarg/material-price-control/internal/domain"
	"github.com/sagarrgarg/material-price-control/internal/guard"
	"github.com/sagarrgarg/material-price-control/internal/ledger"
	"github.com/sagarrgarg/material-price-control/internal/rules"
	"github.com/sagarrgarg/material-price-control/internal/scan"
	"github.com/sagarrgarg/material-price-control/internal/stats"
)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	repo       domain.Repository
	cache      domain.Cache
	bus        domain.EventBus
	guard      *guard.Guard
	ledger     *ledger.Service
	scanner    *scan.Scanner
	ruleSource *rules.CachedSource
	version    string
}

// NewHandler creates a new handler with dependencies.
func NewHandler(
	repo domain.Repository,
	cache domain.Cache,
	bus domain.EventBus,
	g *guard.Guard,
	ledgerSvc *ledger.Service,
	scanner *scan.Scanner,
	ruleSource *rules.CachedSource,
	version string,
) *Handler {
	return &Handler{
		repo:       repo,
		cache:      cache,
		bus:        bus,
		guard:      g,
		ledger:     ledgerSvc,
		scanner:    scanner,
		ruleSource: ruleSource,
		version:    version,
	}
}

// Health returns basic health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": h.version,
	})
}

// Ready checks all dependencies and returns readiness status.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	checks := map[string]string{}
	healthy := true

	if err := h.repo.Ping(ctx); err != nil {
		checks["database"] = err.Error()
		healthy = false
	} else {
		checks["database"] = "ok"
	}

	if err := h.cache.Ping(ctx); err != nil {
		checks["cache"] = err.Error()
		healthy = false
	} else {
		checks["cache"] = "ok"
	}

	if err := h.bus.Ping(ctx); err != nil {
		checks["bus"] = err.Error()
		healthy = false
	} else {
		checks["bus"] = "ok"
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"ready":  healthy,
		"checks": checks,
	})
}

// CheckTransaction runs the guard over a submitted transaction. A blocked
// transaction returns 409 with the structured block detail; the caller's
// roles arrive in the X-User-Roles header.
func (h *Handler) CheckTransaction(w http.ResponseWriter, r *http.Request) {
	var tx domain.Transaction
	if err := json.NewDecoder(r.Body).Decode(&tx); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if tx.VoucherType == "" || len(tx.Lines) == 0 {
		writeError(w, http.StatusBadRequest, "voucherType and lines are required")
		return
	}
	if tx.PostingDate.IsZero() {
		tx.PostingDate = time.Now().UTC()
	}

	result, err := h.guard.Check(r.Context(), &tx, UserRoles(r))
	if err != nil {
		var blocked *domain.BlockedError
		if errors.As(err, &blocked) {
			writeJSON(w, http.StatusConflict, map[string]any{
				"allowed": false,
				"blocked": blocked,
				"error":   blocked.Error(),
				"result":  result,
			})
			return
		}
		slog.Error("transaction check failed", "error", err, "voucher", tx.VoucherNo)
		writeError(w, http.StatusInternalServerError, "check failed")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// ListRules returns all valuation rules.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	list, err := h.repo.ListRules(r.Context())
	if err != nil {
		slog.Error("failed to list rules", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list rules")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"rules": list,
		"count": len(list),
	})
}

// GetRule returns a single rule by ID.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rule, err := h.repo.GetRule(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "rule not found")
			return
		}
		slog.Error("failed to get rule", "error", err, "id", id)
		writeError(w, http.StatusInternalServerError, "failed to get rule")
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// SaveRule creates or updates a valuation rule after validating it against
// the other enabled rules on the same target.
func (h *Handler) SaveRule(w http.ResponseWriter, r *http.Request) {
	var rule domain.ValuationRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if id := chi.URLParam(r, "id"); id != "" {
		rule.ID = id
	}
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}

	existing, err := h.repo.ListEnabledRules(r.Context(), rule.Scope, rule.Target())
	if err != nil {
		slog.Error("failed to load rules for validation", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save rule")
		return
	}
	if err := rules.Validate(&rule, existing); err != nil {
		writeValidationError(w, err)
		return
	}

	if err := h.repo.SaveRule(r.Context(), &rule); err != nil {
		slog.Error("failed to save rule", "error", err, "id", rule.ID)
		writeError(w, http.StatusInternalServerError, "failed to save rule")
		return
	}
	h.ruleSource.Invalidate(r.Context(), rule.Scope, rule.Target())

	writeJSON(w, http.StatusOK, &rule)
}

// DisableRule disables a rule. Rules are never deleted; disabled rules stay
// visible in listings for audit.
func (h *Handler) DisableRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rule, err := h.repo.GetRule(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "rule not found")
			return
		}
		slog.Error("failed to get rule", "error", err, "id", id)
		writeError(w, http.StatusInternalServerError, "failed to disable rule")
		return
	}

	if err := h.repo.DisableRule(r.Context(), id); err != nil {
		slog.Error("failed to disable rule", "error", err, "id", id)
		writeError(w, http.StatusInternalServerError, "failed to disable rule")
		return
	}
	h.ruleSource.Invalidate(r.Context(), rule.Scope, rule.Target())

	writeJSON(w, http.StatusOK, map[string]string{"status": "disabled", "id": id})
}

// GetSettings returns the guard settings, falling back to defaults when none
// have been saved.
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.repo.GetSettings(r.Context())
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeJSON(w, http.StatusOK, domain.DefaultSettings())
			return
		}
		slog.Error("failed to get settings", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get settings")
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

// SaveSettings validates and stores the guard settings.
func (h *Handler) SaveSettings(w http.ResponseWriter, r *http.Request) {
	var settings domain.Settings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := rules.ValidateSettings(&settings); err != nil {
		writeValidationError(w, err)
		return
	}

	if err := h.repo.SaveSettings(r.Context(), &settings); err != nil {
		slog.Error("failed to save settings", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save settings")
		return
	}
	writeJSON(w, http.StatusOK, &settings)
}

// RecentAnomalies returns the latest anomaly log entries.
func (h *Handler) RecentAnomalies(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)

	entries, err := h.repo.ListRecentAnomalies(r.Context(), limit)
	if err != nil {
		slog.Error("failed to list anomalies", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list anomalies")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"anomalies": entries,
		"count":     len(entries),
	})
}

// TopAnomalyItems returns the items with the most logged anomalies.
func (h *Handler) TopAnomalyItems(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 10)

	items, err := h.repo.TopAnomalyItems(r.Context(), limit)
	if err != nil {
		slog.Error("failed to rank anomaly items", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to rank anomaly items")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"count": len(items),
	})
}

// UpdateAnomalyStatus moves an anomaly log entry through review.
func (h *Handler) UpdateAnomalyStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err := h.repo.UpdateAnomalyStatus(r.Context(), id, body.Status)
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid status: "+body.Status)
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "anomaly not found")
	case err != nil:
		slog.Error("failed to update anomaly", "error", err, "id", id)
		writeError(w, http.StatusInternalServerError, "failed to update anomaly")
	default:
		writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": body.Status})
	}
}

// Dashboard assembles the monitoring summary.
func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	open, err := h.repo.CountAnomalies(ctx, domain.AnomalyStatusOpen, domain.SeverityNone)
	if err != nil {
		slog.Error("failed to build dashboard", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to build dashboard")
		return
	}
	severe, err := h.repo.CountAnomalies(ctx, domain.AnomalyStatusOpen, domain.SeveritySevere)
	if err != nil {
		slog.Error("failed to build dashboard", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to build dashboard")
		return
	}
	activeRules, err := h.repo.CountEnabledRules(ctx)
	if err != nil {
		slog.Error("failed to build dashboard", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to build dashboard")
		return
	}
	withoutRules, err := h.repo.CountItemsWithoutRules(ctx)
	if err != nil {
		slog.Error("failed to build dashboard", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to build dashboard")
		return
	}
	topItems, err := h.repo.TopAnomalyItems(ctx, 10)
	if err != nil {
		slog.Error("failed to build dashboard", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to build dashboard")
		return
	}

	writeJSON(w, http.StatusOK, domain.DashboardStats{
		OpenAnomalies:     open,
		SevereAnomalies:   severe,
		ActiveRules:       activeRules,
		ItemsWithoutRules: withoutRules,
		TopAnomalyItems:   topItems,
	})
}

// ItemStatistics returns descriptive statistics over an item's incoming
// rates in the requested window.
func (h *Handler) ItemStatistics(w http.ResponseWriter, r *http.Request) {
	q, err := ledgerQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	points, err := h.ledger.Rates(r.Context(), q)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		slog.Error("failed to load rates", "error", err, "item", q.ItemCode)
		writeError(w, http.StatusInternalServerError, "failed to load rates")
		return
	}

	statistics := stats.ComputeFromPoints(points)
	writeJSON(w, http.StatusOK, map[string]any{
		"itemCode":   q.ItemCode,
		"from":       q.From,
		"to":         q.To,
		"statistics": statistics,
		"reliable":   statistics.Count >= stats.MinReliableCount,
	})
}

// ItemChart returns the full control-chart series with each point graded.
func (h *Handler) ItemChart(w http.ResponseWriter, r *http.Request) {
	q, err := ledgerQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	series, err := h.ledger.Chart(r.Context(), q)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		slog.Error("failed to build chart", "error", err, "item", q.ItemCode)
		writeError(w, http.StatusInternalServerError, "failed to build chart")
		return
	}
	writeJSON(w, http.StatusOK, series)
}

// SaveItem upserts mirrored item metadata.
func (h *Handler) SaveItem(w http.ResponseWriter, r *http.Request) {
	var item domain.Item
	if err := json.NewDecoder(r.Body).Decode(&item); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if item.ItemCode == "" {
		writeError(w, http.StatusBadRequest, "itemCode is required")
		return
	}

	if err := h.repo.SaveItem(r.Context(), &item); err != nil {
		slog.Error("failed to save item", "error", err, "item", item.ItemCode)
		writeError(w, http.StatusInternalServerError, "failed to save item")
		return
	}
	writeJSON(w, http.StatusOK, &item)
}

// SaveSupplier upserts mirrored supplier metadata.
func (h *Handler) SaveSupplier(w http.ResponseWriter, r *http.Request) {
	var supplier domain.Supplier
	if err := json.NewDecoder(r.Body).Decode(&supplier); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if supplier.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	if err := h.repo.SaveSupplier(r.Context(), &supplier); err != nil {
		slog.Error("failed to save supplier", "error", err, "supplier", supplier.Name)
		writeError(w, http.StatusInternalServerError, "failed to save supplier")
		return
	}
	writeJSON(w, http.StatusOK, &supplier)
}

// IngestLedger accepts a batch of mirrored stock ledger entries.
func (h *Handler) IngestLedger(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Entries []*domain.LedgerEntry `json:"entries"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(body.Entries) == 0 {
		writeError(w, http.StatusBadRequest, "entries are required")
		return
	}

	inserted, err := h.ledger.Ingest(r.Context(), body.Entries)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		slog.Error("failed to ingest ledger entries", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to ingest ledger entries")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"inserted": inserted,
		"received": len(body.Entries),
	})
}

// RunScan triggers a historical scan and returns its report.
func (h *Handler) RunScan(w http.ResponseWriter, r *http.Request) {
	var opts scan.Options
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&opts); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	report, err := h.scanner.Run(r.Context(), opts)
	if err != nil {
		slog.Error("scan failed", "error", err)
		writeError(w, http.StatusInternalServerError, "scan failed")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// ledgerQuery builds a ledger query from the URL parameters of an item route.
func ledgerQuery(r *http.Request) (ledger.Query, error) {
	q := ledger.Query{
		ItemCode:  chi.URLParam(r, "code"),
		Warehouse: r.URL.Query().Get("warehouse"),
	}
	if v := r.URL.Query().Get("from"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			return q, errors.New("invalid from date, want YYYY-MM-DD")
		}
		q.From = t
	}
	if v := r.URL.Query().Get("to"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			return q, errors.New("invalid to date, want YYYY-MM-DD")
		}
		q.To = t
	}
	if v := r.URL.Query().Get("include_internal"); v != "" {
		q.IncludeInternal = v == "true" || v == "1"
	}
	return q, nil
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func writeValidationError(w http.ResponseWriter, err error) {
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":      verr.Message,
			"field":      verr.Field,
			"validation": true,
		})
		return
	}
	writeError(w, http.StatusBadRequest, err.Error())
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

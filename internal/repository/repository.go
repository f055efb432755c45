// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/sagarrgarg/material-price-control/internal/domain"
)

// maxLedgerRows bounds a single rate-history read. Six months of postings
// for one item should never come close; this is a guard against runaway
// queries on a mis-filtered ledger.
const maxLedgerRows = 5000

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveRule inserts or updates a valuation rule.
func (r *SQLRepository) SaveRule(ctx context.Context, rule *domain.ValuationRule) error {
	if rule.ID == "" {
		return fmt.Errorf("%w: rule id is required", domain.ErrInvalidInput)
	}

	now := time.Now().UTC()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now

	query := `
		INSERT INTO valuation_rules (
			id, scope, item_code, item_group, warehouse, from_date, to_date,
			expected_rate, allowed_variance_pct, min_rate, max_rate, enabled,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			scope = excluded.scope,
			item_code = excluded.item_code,
			item_group = excluded.item_group,
			warehouse = excluded.warehouse,
			from_date = excluded.from_date,
			to_date = excluded.to_date,
			expected_rate = excluded.expected_rate,
			allowed_variance_pct = excluded.allowed_variance_pct,
			min_rate = excluded.min_rate,
			max_rate = excluded.max_rate,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, string(rule.Scope), rule.ItemCode, rule.ItemGroup, rule.Warehouse,
		nullTime(rule.FromDate), nullTime(rule.ToDate),
		rule.ExpectedRate, nullFloat(rule.AllowedVariancePct),
		nullFloat(rule.MinRate), nullFloat(rule.MaxRate),
		boolInt(rule.Enabled), rule.CreatedAt, rule.UpdatedAt,
	)
	return err
}

const ruleColumns = `id, scope, item_code, item_group, warehouse, from_date, to_date,
	expected_rate, allowed_variance_pct, min_rate, max_rate, enabled, created_at, updated_at`

// GetRule retrieves a valuation rule by ID.
func (r *SQLRepository) GetRule(ctx context.Context, id string) (*domain.ValuationRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM valuation_rules WHERE id = ?`

	rule, err := scanRule(r.db.QueryRowContext(ctx, r.rebind(query), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return rule, err
}

// ListRules retrieves all valuation rules, enabled or not.
func (r *SQLRepository) ListRules(ctx context.Context) ([]*domain.ValuationRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM valuation_rules ORDER BY scope, item_code, item_group`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectRules(rows)
}

// ListEnabledRules retrieves enabled rules for one scope target. The target
// is the item code for item rules and the group name for group rules.
func (r *SQLRepository) ListEnabledRules(ctx context.Context, scope domain.RuleScope, target string) ([]*domain.ValuationRule, error) {
	targetColumn := "item_code"
	if scope == domain.ScopeItemGroup {
		targetColumn = "item_group"
	}

	query := `SELECT ` + ruleColumns + ` FROM valuation_rules
		WHERE scope = ? AND ` + targetColumn + ` = ? AND enabled = 1
		ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), string(scope), target)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectRules(rows)
}

// DisableRule soft-deletes a rule by setting enabled = 0.
func (r *SQLRepository) DisableRule(ctx context.Context, id string) error {
	query := `UPDATE valuation_rules SET enabled = 0, updated_at = ? WHERE id = ?`

	result, err := r.db.ExecContext(ctx, r.rebind(query), time.Now().UTC(), id)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// CountEnabledRules returns the number of enabled rules.
func (r *SQLRepository) CountEnabledRules(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM valuation_rules WHERE enabled = 1`).Scan(&count)
	return count, err
}

// GetSettings retrieves the singleton settings row. Returns ErrNotFound when
// settings have never been saved.
func (r *SQLRepository) GetSettings(ctx context.Context) (*domain.Settings, error) {
	query := `
		SELECT enabled, default_variance_pct, severe_multiplier,
			   block_if_no_rule, block_severe, bypass_roles, include_internal_suppliers
		FROM valuation_settings WHERE id = 1
	`

	var s domain.Settings
	var enabled, blockIfNoRule, blockSevere, includeInternal int
	var bypassRoles string

	err := r.db.QueryRowContext(ctx, query).Scan(
		&enabled, &s.DefaultVariancePct, &s.SevereMultiplier,
		&blockIfNoRule, &blockSevere, &bypassRoles, &includeInternal,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	s.Enabled = enabled == 1
	s.BlockIfNoRule = blockIfNoRule == 1
	s.BlockSevere = blockSevere == 1
	s.IncludeInternalSuppliers = includeInternal == 1
	if bypassRoles != "" {
		json.Unmarshal([]byte(bypassRoles), &s.BypassRoles)
	}

	return &s, nil
}

// SaveSettings upserts the singleton settings row.
func (r *SQLRepository) SaveSettings(ctx context.Context, settings *domain.Settings) error {
	roles, _ := json.Marshal(settings.BypassRoles)
	if settings.BypassRoles == nil {
		roles = []byte("[]")
	}

	query := `
		INSERT INTO valuation_settings (
			id, enabled, default_variance_pct, severe_multiplier,
			block_if_no_rule, block_severe, bypass_roles, include_internal_suppliers, updated_at
		) VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			enabled = excluded.enabled,
			default_variance_pct = excluded.default_variance_pct,
			severe_multiplier = excluded.severe_multiplier,
			block_if_no_rule = excluded.block_if_no_rule,
			block_severe = excluded.block_severe,
			bypass_roles = excluded.bypass_roles,
			include_internal_suppliers = excluded.include_internal_suppliers,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		boolInt(settings.Enabled), settings.DefaultVariancePct, settings.SevereMultiplier,
		boolInt(settings.BlockIfNoRule), boolInt(settings.BlockSevere),
		string(roles), boolInt(settings.IncludeInternalSuppliers),
		time.Now().UTC(),
	)
	return err
}

// InsertAnomaly stores an anomaly log entry.
func (r *SQLRepository) InsertAnomaly(ctx context.Context, entry *domain.AnomalyLogEntry) error {
	if entry.ID == "" {
		return fmt.Errorf("%w: anomaly id is required", domain.ErrInvalidInput)
	}

	query := `
		INSERT INTO anomaly_logs (
			id, voucher_type, voucher_no, item_code, warehouse,
			incoming_rate, expected_rate, variance_pct, severity, status, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		entry.ID, entry.VoucherType, entry.VoucherNo, entry.ItemCode, entry.Warehouse,
		entry.IncomingRate, entry.ExpectedRate, entry.VariancePct,
		string(entry.Severity), entry.Status, entry.CreatedAt,
	)
	return err
}

// ListRecentAnomalies returns the newest anomaly log entries.
func (r *SQLRepository) ListRecentAnomalies(ctx context.Context, limit int) ([]*domain.AnomalyLogEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, voucher_type, voucher_no, item_code, warehouse,
			   incoming_rate, expected_rate, variance_pct, severity, status, created_at
		FROM anomaly_logs
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*domain.AnomalyLogEntry
	for rows.Next() {
		var e domain.AnomalyLogEntry
		var warehouse sql.NullString
		var severity string

		if err := rows.Scan(
			&e.ID, &e.VoucherType, &e.VoucherNo, &e.ItemCode, &warehouse,
			&e.IncomingRate, &e.ExpectedRate, &e.VariancePct, &severity, &e.Status, &e.CreatedAt,
		); err != nil {
			return nil, err
		}

		e.Warehouse = warehouse.String
		e.Severity = domain.Severity(severity)
		entries = append(entries, &e)
	}

	return entries, rows.Err()
}

// CountAnomalies counts anomaly log entries, optionally filtered by status
// and severity. Empty filters match everything.
func (r *SQLRepository) CountAnomalies(ctx context.Context, status string, severity domain.Severity) (int, error) {
	query := `SELECT COUNT(*) FROM anomaly_logs WHERE 1 = 1`
	var args []any

	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	if severity != domain.SeverityNone {
		query += ` AND severity = ?`
		args = append(args, string(severity))
	}

	var count int
	err := r.db.QueryRowContext(ctx, r.rebind(query), args...).Scan(&count)
	return count, err
}

// TopAnomalyItems returns the items with the most anomaly log entries.
func (r *SQLRepository) TopAnomalyItems(ctx context.Context, limit int) ([]domain.ItemAnomalyCount, error) {
	if limit <= 0 {
		limit = 10
	}

	query := `
		SELECT a.item_code,
			   COALESCE(i.item_name, '') AS item_name,
			   COUNT(*) AS anomaly_count,
			   SUM(CASE WHEN a.severity = 'Severe' THEN 1 ELSE 0 END) AS severe_count,
			   SUM(CASE WHEN a.severity = 'Warning' THEN 1 ELSE 0 END) AS warning_count
		FROM anomaly_logs a
		LEFT JOIN items i ON i.item_code = a.item_code
		GROUP BY a.item_code, i.item_name
		ORDER BY anomaly_count DESC, a.item_code
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counts []domain.ItemAnomalyCount
	for rows.Next() {
		var c domain.ItemAnomalyCount
		if err := rows.Scan(&c.ItemCode, &c.ItemName, &c.AnomalyCount, &c.SevereCount, &c.WarningCount); err != nil {
			return nil, err
		}
		counts = append(counts, c)
	}

	return counts, rows.Err()
}

// UpdateAnomalyStatus moves an anomaly log entry through the review workflow.
func (r *SQLRepository) UpdateAnomalyStatus(ctx context.Context, id, status string) error {
	switch status {
	case domain.AnomalyStatusOpen, domain.AnomalyStatusReviewed, domain.AnomalyStatusIgnored:
	default:
		return fmt.Errorf("%w: unknown anomaly status %q", domain.ErrInvalidInput, status)
	}

	result, err := r.db.ExecContext(ctx, r.rebind(`UPDATE anomaly_logs SET status = ? WHERE id = ?`), status, id)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// InsertLedgerEntries stores a batch of mirrored stock ledger rows in one
// transaction. Entries without an ID get one assigned.
func (r *SQLRepository) InsertLedgerEntries(ctx context.Context, entries []*domain.LedgerEntry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := r.rebind(`
		INSERT INTO stock_ledger_entries (
			id, posting_date, item_code, warehouse, actual_qty,
			incoming_rate, stock_value_difference, voucher_type, voucher_no, supplier, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)

	now := time.Now().UTC()
	for _, e := range entries {
		if e.ID == "" {
			e.ID = uuid.New().String()
		}
		if _, err := tx.ExecContext(ctx, query,
			e.ID, e.PostingDate, e.ItemCode, e.Warehouse, e.ActualQty,
			e.IncomingRate, e.StockValueDifference, e.VoucherType, e.VoucherNo, e.Supplier, now,
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetIncomingRates returns the incoming-rate series for an item, oldest
// first. Only receipt legs count; a zero incoming rate falls back to
// |stock_value_difference| / qty when the row carries a value change.
func (r *SQLRepository) GetIncomingRates(ctx context.Context, itemCode string, from, to time.Time) ([]*domain.RateDataPoint, error) {
	query := `
		SELECT e.posting_date, e.actual_qty, e.incoming_rate, e.stock_value_difference,
			   e.voucher_type, e.voucher_no, COALESCE(e.warehouse, ''), COALESCE(e.supplier, ''),
			   COALESCE(s.is_internal, 0)
		FROM stock_ledger_entries e
		LEFT JOIN suppliers s ON s.name = e.supplier
		WHERE e.item_code = ? AND e.actual_qty > 0
		  AND e.posting_date >= ? AND e.posting_date <= ?
		ORDER BY e.posting_date
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), itemCode, from, to, maxLedgerRows)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []*domain.RateDataPoint
	for rows.Next() {
		var p domain.RateDataPoint
		var qty, incomingRate, valueDiff float64
		var isInternal int

		if err := rows.Scan(
			&p.Date, &qty, &incomingRate, &valueDiff,
			&p.VoucherType, &p.VoucherNo, &p.Warehouse, &p.Supplier, &isInternal,
		); err != nil {
			return nil, err
		}

		rate := incomingRate
		if rate <= 0 && qty > 0 {
			rate = math.Abs(valueDiff) / qty
		}
		if rate <= 0 {
			continue
		}

		p.Rate = rate
		p.Qty = qty
		p.IsInternalSupplier = isInternal == 1
		points = append(points, &p)
	}

	return points, rows.Err()
}

// ListActiveItemCodes returns item codes with at least one receipt leg in
// the window, for the backfill scanner.
func (r *SQLRepository) ListActiveItemCodes(ctx context.Context, from, to time.Time, limit int) ([]string, error) {
	if limit <= 0 {
		limit = maxLedgerRows
	}

	query := `
		SELECT DISTINCT item_code
		FROM stock_ledger_entries
		WHERE actual_qty > 0 AND posting_date >= ? AND posting_date <= ?
		ORDER BY item_code
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		codes = append(codes, code)
	}

	return codes, rows.Err()
}

// SaveItem upserts mirrored item metadata.
func (r *SQLRepository) SaveItem(ctx context.Context, item *domain.Item) error {
	if item.ItemCode == "" {
		return fmt.Errorf("%w: item code is required", domain.ErrInvalidInput)
	}

	query := `
		INSERT INTO items (item_code, item_name, item_group) VALUES (?, ?, ?)
		ON CONFLICT(item_code) DO UPDATE SET
			item_name = excluded.item_name,
			item_group = excluded.item_group
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query), item.ItemCode, item.ItemName, item.ItemGroup)
	return err
}

// GetItem retrieves mirrored item metadata.
func (r *SQLRepository) GetItem(ctx context.Context, itemCode string) (*domain.Item, error) {
	query := `SELECT item_code, COALESCE(item_name, ''), COALESCE(item_group, '') FROM items WHERE item_code = ?`

	var item domain.Item
	err := r.db.QueryRowContext(ctx, r.rebind(query), itemCode).Scan(&item.ItemCode, &item.ItemName, &item.ItemGroup)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// GetItemGroup returns the item's group, or "" when the item is unknown.
func (r *SQLRepository) GetItemGroup(ctx context.Context, itemCode string) (string, error) {
	var group string
	err := r.db.QueryRowContext(ctx,
		r.rebind(`SELECT COALESCE(item_group, '') FROM items WHERE item_code = ?`), itemCode,
	).Scan(&group)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return group, err
}

// CountItemsWithoutRules counts items not covered by any enabled rule,
// directly or through their group.
func (r *SQLRepository) CountItemsWithoutRules(ctx context.Context) (int, error) {
	query := `
		SELECT COUNT(*) FROM items i
		WHERE NOT EXISTS (
			SELECT 1 FROM valuation_rules r
			WHERE r.enabled = 1
			  AND ((r.scope = 'Item' AND r.item_code = i.item_code)
				OR (r.scope = 'Item Group' AND r.item_group = i.item_group))
		)
	`

	var count int
	err := r.db.QueryRowContext(ctx, query).Scan(&count)
	return count, err
}

// SaveSupplier upserts the mirrored supplier flag.
func (r *SQLRepository) SaveSupplier(ctx context.Context, supplier *domain.Supplier) error {
	if supplier.Name == "" {
		return fmt.Errorf("%w: supplier name is required", domain.ErrInvalidInput)
	}

	query := `
		INSERT INTO suppliers (name, is_internal) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET is_internal = excluded.is_internal
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query), supplier.Name, boolInt(supplier.Internal))
	return err
}

// IsInternalSupplier reports the mirrored internal flag. Unknown suppliers
// are treated as external.
func (r *SQLRepository) IsInternalSupplier(ctx context.Context, name string) (bool, error) {
	var isInternal int
	err := r.db.QueryRowContext(ctx,
		r.rebind(`SELECT is_internal FROM suppliers WHERE name = ?`), name,
	).Scan(&isInternal)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return isInternal == 1, err
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (*domain.ValuationRule, error) {
	var rule domain.ValuationRule
	var scope string
	var itemCode, itemGroup, warehouse sql.NullString
	var fromDate, toDate sql.NullTime
	var allowedVariance, minRate, maxRate sql.NullFloat64
	var enabled int

	err := row.Scan(
		&rule.ID, &scope, &itemCode, &itemGroup, &warehouse,
		&fromDate, &toDate, &rule.ExpectedRate,
		&allowedVariance, &minRate, &maxRate,
		&enabled, &rule.CreatedAt, &rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	rule.Scope = domain.RuleScope(scope)
	rule.ItemCode = itemCode.String
	rule.ItemGroup = itemGroup.String
	rule.Warehouse = warehouse.String
	rule.FromDate = timePtr(fromDate)
	rule.ToDate = timePtr(toDate)
	rule.AllowedVariancePct = floatPtr(allowedVariance)
	rule.MinRate = floatPtr(minRate)
	rule.MaxRate = floatPtr(maxRate)
	rule.Enabled = enabled == 1

	return &rule, nil
}

func collectRules(rows *sql.Rows) ([]*domain.ValuationRule, error) {
	var rules []*domain.ValuationRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func floatPtr(f sql.NullFloat64) *float64 {
	if !f.Valid {
		return nil
	}
	v := f.Float64
	return &v
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}

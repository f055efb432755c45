package repository

// Schema definitions for the Material Price Control database.
// Compatible with both SQLite and PostgreSQL.

const schemaValuationRules = `
CREATE TABLE IF NOT EXISTS valuation_rules (
    id TEXT PRIMARY KEY,
    scope TEXT NOT NULL,
    item_code TEXT,
    item_group TEXT,
    warehouse TEXT,
    from_date TIMESTAMP,
    to_date TIMESTAMP,
    expected_rate REAL NOT NULL,
    allowed_variance_pct REAL,
    min_rate REAL,
    max_rate REAL,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_valuation_rules_item ON valuation_rules(scope, item_code, enabled);
CREATE INDEX IF NOT EXISTS idx_valuation_rules_group ON valuation_rules(scope, item_group, enabled);
`

// valuation_settings is a singleton row. The CHECK keeps it that way.
const schemaValuationSettings = `
CREATE TABLE IF NOT EXISTS valuation_settings (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    enabled INTEGER NOT NULL DEFAULT 0,
    default_variance_pct REAL NOT NULL DEFAULT 30,
    severe_multiplier REAL NOT NULL DEFAULT 2,
    block_if_no_rule INTEGER NOT NULL DEFAULT 0,
    block_severe INTEGER NOT NULL DEFAULT 0,
    bypass_roles TEXT NOT NULL DEFAULT '[]',
    include_internal_suppliers INTEGER NOT NULL DEFAULT 0,
    updated_at TIMESTAMP NOT NULL
);
`

const schemaAnomalyLogs = `
CREATE TABLE IF NOT EXISTS anomaly_logs (
    id TEXT PRIMARY KEY,
    voucher_type TEXT NOT NULL,
    voucher_no TEXT NOT NULL,
    item_code TEXT NOT NULL,
    warehouse TEXT,
    incoming_rate REAL NOT NULL,
    expected_rate REAL NOT NULL,
    variance_pct REAL NOT NULL,
    severity TEXT NOT NULL,
    status TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_anomaly_logs_item ON anomaly_logs(item_code);
CREATE INDEX IF NOT EXISTS idx_anomaly_logs_status ON anomaly_logs(status, severity);
CREATE INDEX IF NOT EXISTS idx_anomaly_logs_created ON anomaly_logs(created_at);
`

const schemaStockLedgerEntries = `
CREATE TABLE IF NOT EXISTS stock_ledger_entries (
    id TEXT PRIMARY KEY,
    posting_date TIMESTAMP NOT NULL,
    item_code TEXT NOT NULL,
    warehouse TEXT,
    actual_qty REAL NOT NULL,
    incoming_rate REAL NOT NULL DEFAULT 0,
    stock_value_difference REAL NOT NULL DEFAULT 0,
    voucher_type TEXT NOT NULL,
    voucher_no TEXT NOT NULL,
    supplier TEXT,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sle_item_date ON stock_ledger_entries(item_code, posting_date);
CREATE INDEX IF NOT EXISTS idx_sle_date ON stock_ledger_entries(posting_date);
`

const schemaItems = `
CREATE TABLE IF NOT EXISTS items (
    item_code TEXT PRIMARY KEY,
    item_name TEXT,
    item_group TEXT
);

CREATE INDEX IF NOT EXISTS idx_items_group ON items(item_group);
`

const schemaSuppliers = `
CREATE TABLE IF NOT EXISTS suppliers (
    name TEXT PRIMARY KEY,
    is_internal INTEGER NOT NULL DEFAULT 0
);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaValuationRules,
		schemaValuationSettings,
		schemaAnomalyLogs,
		schemaStockLedgerEntries,
		schemaItems,
		schemaSuppliers,
	}
}

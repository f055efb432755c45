// Package domain defines the core types and interfaces for Material Price Control.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
type Repository interface {
	// Valuation rule operations
	SaveRule(ctx context.Context, rule *ValuationRule) error
	GetRule(ctx context.Context, id string) (*ValuationRule, error)
	ListRules(ctx context.Context) ([]*ValuationRule, error)
	ListEnabledRules(ctx context.Context, scope RuleScope, target string) ([]*ValuationRule, error)
	DisableRule(ctx context.Context, id string) error
	CountEnabledRules(ctx context.Context) (int, error)

	// Settings (singleton row)
	GetSettings(ctx context.Context) (*Settings, error)
	SaveSettings(ctx context.Context, settings *Settings) error

	// Anomaly log
	InsertAnomaly(ctx context.Context, entry *AnomalyLogEntry) error
	ListRecentAnomalies(ctx context.Context, limit int) ([]*AnomalyLogEntry, error)
	CountAnomalies(ctx context.Context, status string, severity Severity) (int, error)
	TopAnomalyItems(ctx context.Context, limit int) ([]ItemAnomalyCount, error)
	UpdateAnomalyStatus(ctx context.Context, id, status string) error

	// Mirrored stock ledger
	InsertLedgerEntries(ctx context.Context, entries []*LedgerEntry) error
	GetIncomingRates(ctx context.Context, itemCode string, from, to time.Time) ([]*RateDataPoint, error)
	ListActiveItemCodes(ctx context.Context, from, to time.Time, limit int) ([]string, error)

	// Item and supplier metadata
	SaveItem(ctx context.Context, item *Item) error
	GetItem(ctx context.Context, itemCode string) (*Item, error)
	GetItemGroup(ctx context.Context, itemCode string) (string, error)
	CountItemsWithoutRules(ctx context.Context) (int, error)
	SaveSupplier(ctx context.Context, supplier *Supplier) error
	IsInternalSupplier(ctx context.Context, name string) (bool, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

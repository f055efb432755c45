// Material Price Control - stock valuation anomaly guard for ERP purchase
// and stock transactions.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cast"

	"github.com/sagarrgarg/material-price-control/internal/api"
	"github.com/sagarrgarg/material-price-control/internal/bus"
	"github.com/sagarrgarg/material-price-control/internal/cache"
	"github.com/sagarrgarg/material-price-control/internal/domain"
	"github.com/sagarrgarg/material-price-control/internal/guard"
	"github.com/sagarrgarg/material-price-control/internal/ledger"
	"github.com/sagarrgarg/material-price-control/internal/repository"
	"github.com/sagarrgarg/material-price-control/internal/rules"
	"github.com/sagarrgarg/material-price-control/internal/scan"
	"github.com/sagarrgarg/material-price-control/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	cfg := loadConfig()
	setupLogging(cfg.Logging)

	slog.Info("starting material price control",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"scan_enabled", cfg.Scan.Enabled,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Rule resolution reads through the cache; saves via the API invalidate.
	ruleSource := rules.NewCachedSource(repo, cacheImpl, cfg.Cache.LocalTTL)
	resolver := rules.NewResolver(ruleSource)

	guardSvc := guard.New(resolver, repo, busImpl)
	ledgerSvc := ledger.NewService(repo, resolver)
	scanner := scan.NewScanner(repo, resolver, busImpl)

	var scanWorker *worker.ScanWorker
	if cfg.Scan.Enabled {
		scanWorker = worker.NewScanWorker(scanner, cfg.Scan)
		if err := scanWorker.Start(); err != nil {
			slog.Error("failed to start scan worker", "error", err)
			os.Exit(1)
		}
		slog.Info("scan worker started", "schedule", cfg.Scan.Schedule, "months", cfg.Scan.Months)
	}

	handler := api.NewHandler(repo, cacheImpl, busImpl, guardSvc, ledgerSvc, scanner, ruleSource, Version)
	srv := api.NewServer(cfg.Server, handler)

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("material price control is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)
	printBanner(cfg, Version)

	<-ctx.Done()
	slog.Info("shutting down...")

	if scanWorker != nil {
		scanWorker.Stop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("shutdown complete")
}

// loadConfig builds the configuration from defaults plus MPC_* environment
// overrides. MPC_CLUSTER=true starts from the multi-node profile.
func loadConfig() *domain.Config {
	cfg := domain.DefaultConfig()
	if cast.ToBool(os.Getenv("MPC_CLUSTER")) {
		cfg = domain.ClusterConfig()
	}

	envString(&cfg.Server.Host, "MPC_HOST")
	envInt(&cfg.Server.Port, "MPC_PORT")

	envString(&cfg.Repository.Driver, "MPC_DB_DRIVER")
	envString(&cfg.Repository.SQLitePath, "MPC_SQLITE_PATH")
	envString(&cfg.Repository.PostgresHost, "MPC_PG_HOST")
	envInt(&cfg.Repository.PostgresPort, "MPC_PG_PORT")
	envString(&cfg.Repository.PostgresUser, "MPC_PG_USER")
	envString(&cfg.Repository.PostgresPassword, "MPC_PG_PASSWORD")
	envString(&cfg.Repository.PostgresDB, "MPC_PG_DB")
	envString(&cfg.Repository.PostgresSSLMode, "MPC_PG_SSLMODE")

	envString(&cfg.Cache.Type, "MPC_CACHE_TYPE")
	envString(&cfg.Cache.RedisAddr, "MPC_REDIS_ADDR")
	envString(&cfg.Cache.RedisPassword, "MPC_REDIS_PASSWORD")
	envInt(&cfg.Cache.RedisDB, "MPC_REDIS_DB")

	envString(&cfg.EventBus.Type, "MPC_BUS_TYPE")
	envString(&cfg.EventBus.NATSUrl, "MPC_NATS_URL")
	envString(&cfg.EventBus.NATSToken, "MPC_NATS_TOKEN")

	if v := os.Getenv("MPC_SCAN_ENABLED"); v != "" {
		cfg.Scan.Enabled = cast.ToBool(v)
	}
	envString(&cfg.Scan.Schedule, "MPC_SCAN_SCHEDULE")
	envInt(&cfg.Scan.Months, "MPC_SCAN_MONTHS")

	envString(&cfg.Logging.Level, "MPC_LOG_LEVEL")
	envString(&cfg.Logging.Format, "MPC_LOG_FORMAT")

	return cfg
}

func envString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = cast.ToInt(v)
	}
}

func setupLogging(cfg domain.LoggingConfig) {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(handler))
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  Material Price Control")
	fmt.Println("  Stock valuation anomaly guard")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST  /v1/check                  - Check a transaction")
	fmt.Println("    GET   /v1/rules                  - List valuation rules")
	fmt.Println("    POST  /v1/rules                  - Create or update a rule")
	fmt.Println("    GET   /v1/settings               - Guard settings")
	fmt.Println("    GET   /v1/anomalies/recent       - Recent anomaly log")
	fmt.Println("    GET   /v1/dashboard              - Monitoring summary")
	fmt.Println("    GET   /v1/items/{code}/chart     - Rate control chart")
	fmt.Println("    POST  /v1/ledger                 - Ingest stock ledger entries")
	fmt.Println("    POST  /v1/scan                   - Run a historical scan")
	fmt.Println("    GET   /health                    - Health check")
	fmt.Println()
}

// Package worker schedules the nightly historical scan.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/sagarrgarg/material-price-control/internal/domain"
	"github.com/sagarrgarg/material-price-control/internal/scan"
)

// scanTimeout bounds one scheduled run. A scan that cannot finish within
// this window is aborted rather than allowed to pile up behind the next one.
const scanTimeout = 30 * time.Minute

// ScanWorker runs the backfill scanner on a cron schedule. Scheduled runs
// persist anomalies; the report itself is only logged and published.
type ScanWorker struct {
	scanner  *scan.Scanner
	schedule string
	months   int

	cron *cron.Cron

	mu      sync.Mutex
	running bool
}

// NewScanWorker creates a worker from the scan configuration.
func NewScanWorker(scanner *scan.Scanner, cfg domain.ScanConfig) *ScanWorker {
	schedule := cfg.Schedule
	if schedule == "" {
		schedule = "0 2 * * *"
	}
	months := cfg.Months
	if months <= 0 {
		months = scan.DefaultMonths
	}
	return &ScanWorker{
		scanner:  scanner,
		schedule: schedule,
		months:   months,
		cron:     cron.New(),
	}
}

// Start registers the cron entry and starts the scheduler.
func (w *ScanWorker) Start() error {
	if _, err := w.cron.AddFunc(w.schedule, w.runOnce); err != nil {
		return err
	}
	w.cron.Start()

	slog.Info("scan worker started",
		"schedule", w.schedule,
		"months", w.months,
	)
	return nil
}

// runOnce executes one scheduled scan. Overlapping runs are skipped.
func (w *ScanWorker) runOnce() {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		slog.Warn("previous scan still running, skipping this schedule")
		return
	}
	w.running = true
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), scanTimeout)
	defer cancel()

	to := time.Now().UTC()
	report, err := w.scanner.Run(ctx, scan.Options{
		From:    to.AddDate(0, -w.months, 0),
		To:      to,
		Persist: true,
	})
	if err != nil {
		slog.Error("scheduled scan failed", "error", err)
		return
	}

	slog.Info("scheduled scan finished",
		"items", report.ItemsScanned,
		"anomalies", report.AnomaliesFound,
		"logged", report.Logged,
	)
}

// Stop stops the scheduler and waits for an in-flight run to finish.
func (w *ScanWorker) Stop() {
	ctx := w.cron.Stop()
	<-ctx.Done()
	slog.Info("scan worker stopped")
}

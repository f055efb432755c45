// mpcscan runs a one-shot historical anomaly scan against the mirrored
// stock ledger and prints the graded report.

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/sagarrgarg/material-price-control/internal/domain"
	"github.com/sagarrgarg/material-price-control/internal/repository"
	"github.com/sagarrgarg/material-price-control/internal/rules"
	"github.com/sagarrgarg/material-price-control/internal/scan"
)

func main() {
	var (
		dbDriver      = flag.String("driver", "sqlite", "database driver: sqlite or postgres")
		dbPath        = flag.String("db", "./mpc.db", "sqlite database path")
		fromStr       = flag.String("from", "", "start date (YYYY-MM-DD), default 6 months back")
		toStr         = flag.String("to", "", "end date (YYYY-MM-DD), default today")
		itemCode      = flag.String("item", "", "restrict the scan to one item code")
		onlyAnomalies = flag.Bool("only-anomalies", false, "drop clean rows from the report")
		onlyWithRules = flag.Bool("only-with-rules", false, "drop rows graded by the statistical fallback")
		persist       = flag.Bool("persist", false, "write flagged rows to the anomaly log")
	)
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))

	opts := scan.Options{
		ItemCode:      *itemCode,
		OnlyAnomalies: *onlyAnomalies,
		OnlyWithRules: *onlyWithRules,
		Persist:       *persist,
	}
	var err error
	if opts.From, err = parseDate(*fromStr); err != nil {
		fatalf("invalid -from: %v", err)
	}
	if opts.To, err = parseDate(*toStr); err != nil {
		fatalf("invalid -to: %v", err)
	}

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     *dbDriver,
		SQLitePath: *dbPath,
	})
	if err != nil {
		fatalf("failed to open database: %v", err)
	}
	defer repo.Close()

	resolver := rules.NewResolver(repositorySource{repo})
	scanner := scan.NewScanner(repo, resolver, nil)

	report, err := scanner.Run(context.Background(), opts)
	if err != nil {
		fatalf("scan failed: %v", err)
	}

	printReport(report)
}

// repositorySource feeds the resolver straight from the database. The CLI is
// a one-shot run, so there is nothing to gain from the read-through cache.
type repositorySource struct {
	repo domain.Repository
}

func (s repositorySource) ListEnabledRules(ctx context.Context, scope domain.RuleScope, target string) ([]*domain.ValuationRule, error) {
	return s.repo.ListEnabledRules(ctx, scope, target)
}

func (s repositorySource) GetItemGroup(ctx context.Context, itemCode string) (string, error) {
	return s.repo.GetItemGroup(ctx, itemCode)
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse("2006-01-02", s)
}

func printReport(report *scan.Report) {
	fmt.Printf("Scan %s to %s\n", report.From.Format("2006-01-02"), report.To.Format("2006-01-02"))
	fmt.Printf("Items: %d  Entries: %d  Anomalies: %d  Logged: %d  Took: %s\n\n",
		report.ItemsScanned, report.EntriesScanned, report.AnomaliesFound, report.Logged, report.Duration)

	if len(report.Rows) == 0 {
		fmt.Println("No rows to report.")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "DATE\tVOUCHER\tITEM\tWAREHOUSE\tQTY\tRATE\tEXPECTED\tVARIANCE\tSEVERITY")
	for _, row := range report.Rows {
		expected, variance := "-", "-"
		if row.ExpectedRate != nil {
			expected = fmt.Sprintf("%.2f", *row.ExpectedRate)
		}
		if row.VariancePct != nil {
			variance = fmt.Sprintf("%.1f%%", *row.VariancePct)
		}
		severity := string(row.Severity)
		if severity == "" {
			severity = "OK"
		}
		fmt.Fprintf(w, "%s\t%s %s\t%s\t%s\t%.1f\t%.2f\t%s\t%s\t%s\n",
			row.Date.Format("2006-01-02"), row.VoucherType, row.VoucherNo,
			row.ItemCode, row.Warehouse, row.Qty, row.IncomingRate,
			expected, variance, severity)
	}
	w.Flush()
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

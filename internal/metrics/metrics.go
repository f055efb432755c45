// Package metrics exposes Prometheus counters for guard and scan activity.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	checksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mpc_checks_total",
		Help: "Transactions evaluated by the guard.",
	})

	anomaliesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mpc_anomalies_total",
		Help: "Anomaly log entries written, by severity.",
	}, []string{"severity"})

	blockedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mpc_blocked_total",
		Help: "Transactions blocked by the guard, by kind.",
	}, []string{"kind"})

	scansTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mpc_scans_total",
		Help: "Historical backfill scans completed.",
	})
)

// RecordCheck counts one guard evaluation.
func RecordCheck() { checksTotal.Inc() }

// RecordAnomaly counts one persisted anomaly of the given severity.
func RecordAnomaly(severity string) { anomaliesTotal.WithLabelValues(severity).Inc() }

// RecordBlock counts one blocked transaction.
func RecordBlock(kind string) { blockedTotal.WithLabelValues(kind).Inc() }

// RecordScan counts one completed backfill scan.
func RecordScan() { scansTotal.Inc() }

package domain

import (
	"time"
)

// Anomaly log review statuses.
const (
	AnomalyStatusOpen     = "Open"
	AnomalyStatusReviewed = "Reviewed"
	AnomalyStatusIgnored  = "Ignored"
)

// AnomalyLogEntry is the immutable record written when a transaction line is
// flagged. Only Status is mutated afterwards, by a reviewer.
type AnomalyLogEntry struct {
	ID           string    `json:"id"`
	VoucherType  string    `json:"voucherType"`
	VoucherNo    string    `json:"voucherNo"`
	ItemCode     string    `json:"itemCode"`
	Warehouse    string    `json:"warehouse,omitempty"`
	IncomingRate float64   `json:"incomingRate"`
	ExpectedRate float64   `json:"expectedRate"`
	VariancePct  float64   `json:"variancePct"`
	Severity     Severity  `json:"severity"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"createdAt"`
}

// ItemAnomalyCount aggregates anomalies per item for dashboards.
type ItemAnomalyCount struct {
	ItemCode     string `json:"itemCode"`
	ItemName     string `json:"itemName,omitempty"`
	AnomalyCount int    `json:"anomalyCount"`
	SevereCount  int    `json:"severeCount"`
	WarningCount int    `json:"warningCount"`
}

// DashboardStats is the aggregate view served to the dashboard.
type DashboardStats struct {
	OpenAnomalies     int                `json:"openAnomalies"`
	SevereAnomalies   int                `json:"severeAnomalies"`
	ActiveRules       int                `json:"activeRules"`
	ItemsWithoutRules int                `json:"itemsWithoutRules"`
	TopAnomalyItems   []ItemAnomalyCount `json:"topAnomalyItems"`
}

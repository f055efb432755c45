package domain

import (
	"time"
)

// LedgerEntry is one mirrored stock ledger row pushed by the host. Rates are
// derived at read time: when IncomingRate is 0 the feed falls back to
// |StockValueDifference| / ActualQty.
type LedgerEntry struct {
	ID                   string    `json:"id"`
	PostingDate          time.Time `json:"postingDate"`
	ItemCode             string    `json:"itemCode"`
	Warehouse            string    `json:"warehouse,omitempty"`
	ActualQty            float64   `json:"actualQty"`
	IncomingRate         float64   `json:"incomingRate"`
	StockValueDifference float64   `json:"stockValueDifference,omitempty"`
	VoucherType          string    `json:"voucherType"`
	VoucherNo            string    `json:"voucherNo"`
	Supplier             string    `json:"supplier,omitempty"`
	Cancelled            bool      `json:"cancelled,omitempty"`
}

// ReferenceSource identifies what an enriched data point's variance was
// computed against.
type ReferenceSource string

const (
	ReferenceRule ReferenceSource = "Rule"
	ReferenceMean ReferenceSource = "Mean"
)

// RateDataPoint is one observation in a control-chart series. The enrichment
// fields are populated by the statistics engine.
type RateDataPoint struct {
	Date               time.Time `json:"date"`
	Rate               float64   `json:"rate"`
	Qty                float64   `json:"qty,omitempty"`
	VoucherType        string    `json:"voucherType"`
	VoucherNo          string    `json:"voucherNo"`
	Warehouse          string    `json:"warehouse,omitempty"`
	Supplier           string    `json:"supplier,omitempty"`
	IsInternalSupplier bool      `json:"isInternalSupplier,omitempty"`

	IsAnomaly       bool            `json:"isAnomaly"`
	Severity        Severity        `json:"severity,omitempty"`
	ReferenceRate   *float64        `json:"referenceRate,omitempty"`
	ReferenceSource ReferenceSource `json:"referenceSource,omitempty"`
	VarianceAmount  *float64        `json:"varianceAmount,omitempty"`
	VariancePct     *float64        `json:"variancePct,omitempty"`
}

// Statistics holds control-chart descriptive statistics over a rate series.
// UCL/LCL are the 2-sigma control limits; LCL is floored at zero since rates
// cannot be negative.
type Statistics struct {
	Mean   float64 `json:"mean"`
	RMS    float64 `json:"rms"`
	StdDev float64 `json:"stdDev"`
	UCL    float64 `json:"ucl"`
	LCL    float64 `json:"lcl"`
	Count  int     `json:"count"`
}

// Item is the minimal item metadata the service mirrors from the host.
type Item struct {
	ItemCode  string `json:"itemCode"`
	ItemName  string `json:"itemName,omitempty"`
	ItemGroup string `json:"itemGroup,omitempty"`
}

// Supplier mirrors the host's supplier flag used for internal-supplier
// filtering.
type Supplier struct {
	Name     string `json:"name"`
	Internal bool   `json:"internal"`
}

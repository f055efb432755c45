package domain

import (
	"time"
)

// Supported voucher types for incoming stock valuation.
const (
	VoucherPurchaseReceipt = "Purchase Receipt"
	VoucherPurchaseInvoice = "Purchase Invoice"
	VoucherStockEntry      = "Stock Entry"
)

// SupportedVoucherTypes lists the voucher types the guard and the ledger
// feed recognize.
var SupportedVoucherTypes = []string{
	VoucherPurchaseReceipt,
	VoucherPurchaseInvoice,
	VoucherStockEntry,
}

// IsSupportedVoucher reports whether the voucher type is one the rate feed
// recognizes.
func IsSupportedVoucher(voucherType string) bool {
	for _, v := range SupportedVoucherTypes {
		if v == voucherType {
			return true
		}
	}
	return false
}

// Transaction is the uniform shape the host normalizes every stock-in
// document into before calling the guard. The guard itself is
// transaction-type-agnostic: warehouse naming differences between document
// types are resolved by the caller.
type Transaction struct {
	VoucherType string            `json:"voucherType"`
	VoucherNo   string            `json:"voucherNo"`
	Supplier    string            `json:"supplier,omitempty"`
	PostingDate time.Time         `json:"postingDate"`
	Lines       []TransactionLine `json:"lines"`
}

// TransactionLine is one item row of a normalized transaction.
type TransactionLine struct {
	ItemCode  string  `json:"itemCode"`
	Warehouse string  `json:"warehouse,omitempty"`
	Quantity  float64 `json:"quantity"`
	Rate      float64 `json:"rate"`
}

// LineFinding is the guard's verdict for a single transaction line.
type LineFinding struct {
	ItemCode     string    `json:"itemCode"`
	Warehouse    string    `json:"warehouse,omitempty"`
	IncomingRate float64   `json:"incomingRate"`
	ExpectedRate float64   `json:"expectedRate,omitempty"`
	VariancePct  float64   `json:"variancePct,omitempty"`
	RuleID       string    `json:"ruleId,omitempty"`
	RuleSource   RuleScope `json:"ruleSource,omitempty"`
	Severity     Severity  `json:"severity,omitempty"`
	Reason       string    `json:"reason,omitempty"`
	Skipped      bool      `json:"skipped,omitempty"`
	NoRule       bool      `json:"noRule,omitempty"`
}

// CheckResult summarizes a guard run over one transaction.
type CheckResult struct {
	Allowed         bool          `json:"allowed"`
	Bypassed        bool          `json:"bypassed,omitempty"`
	Findings        []LineFinding `json:"findings,omitempty"`
	AnomaliesLogged int           `json:"anomaliesLogged"`
}

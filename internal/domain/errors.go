package domain

import (
	"errors"
	"fmt"
)

// Common errors returned by repository and service operations.
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
)

// ValidationError reports user-input problems at rule or settings save time.
// It is surfaced verbatim to the caller and never logged as an anomaly.
type ValidationError struct {
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return e.Field + ": " + e.Message
	}
	return e.Message
}

// NewValidationError builds a ValidationError with a formatted message.
func NewValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// Block kinds for BlockedError.
const (
	BlockKindMissingRule   = "missing-rule"
	BlockKindSevereAnomaly = "severe-anomaly"
	BlockKindBoundViolated = "bound-violated"
)

// BlockedError aborts an in-flight transaction. It carries structured detail
// so the presentation layer can render it; the core never builds markup.
type BlockedError struct {
	Kind     string `json:"kind"`
	ItemCode string `json:"itemCode"`

	IncomingRate float64 `json:"incomingRate,omitempty"`
	ExpectedRate float64 `json:"expectedRate,omitempty"`
	VariancePct  float64 `json:"variancePct,omitempty"`

	AllowedVariancePct float64 `json:"allowedVariancePct,omitempty"`
	SevereThresholdPct float64 `json:"severeThresholdPct,omitempty"`

	MinRate *float64 `json:"minRate,omitempty"`
	MaxRate *float64 `json:"maxRate,omitempty"`

	Reason string `json:"reason"`
}

func (e *BlockedError) Error() string {
	switch e.Kind {
	case BlockKindMissingRule:
		return fmt.Sprintf("transaction blocked: no valuation rule exists for item %s", e.ItemCode)
	case BlockKindBoundViolated:
		return fmt.Sprintf("transaction blocked: %s (item %s, rate %.2f)", e.Reason, e.ItemCode, e.IncomingRate)
	default:
		return fmt.Sprintf(
			"transaction blocked: %s (item %s, rate %.2f, expected %.2f, variance %.1f%%, allowed %.1f%%, severe > %.1f%%)",
			e.Reason, e.ItemCode, e.IncomingRate, e.ExpectedRate,
			e.VariancePct, e.AllowedVariancePct, e.SevereThresholdPct,
		)
	}
}

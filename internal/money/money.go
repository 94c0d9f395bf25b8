// Package money holds the decimal arithmetic rules for the terminal:
// monetary amounts are kept at 2 decimal places, weighed quantities at up
// to 3, and amount comparison uses a one-cent tolerance.
package money

import (
	"github.com/shopspring/decimal"

	"cajapos/terminal/internal/fault"
)

// Tolerance is the maximum acceptable drift between a set of payment
// allocations and the sale total: one cent.
var Tolerance = decimal.New(1, -2)

const (
	// Scale is the decimal scale of every monetary amount.
	Scale = 2
	// QuantityScale is the maximum decimal scale of a weighed quantity.
	QuantityScale = 3
)

// Round normalizes an amount to 2 decimal places, rounding half up.
func Round(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(Scale)
}

// IsNonNegativeAmount reports whether amount is a well-formed monetary value
// (>= 0 at 2-decimal scale).
func IsNonNegativeAmount(amount decimal.Decimal) bool {
	return !amount.IsNegative() && amount.Equal(amount.Round(Scale))
}

// WithinTolerance reports whether |a - b| < Tolerance.
func WithinTolerance(a decimal.Decimal, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThan(Tolerance)
}

// ValidateAmount rejects negative or over-scaled monetary inputs.
func ValidateAmount(amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fault.Validationf(fault.CodeInvalidAmount, "amount must not be negative")
	}
	if !amount.Equal(amount.Round(Scale)) {
		return fault.Validationf(fault.CodeInvalidAmount, "amount must have at most %d decimal places", Scale)
	}
	return nil
}

// ValidateQuantity enforces per-unit-type granularity: discrete units need a
// positive integer, weighed units a positive value with at most 3 decimals.
// The unit type is passed as discrete=true/false so this package stays below
// the domain model.
func ValidateQuantity(qty decimal.Decimal, discrete bool) error {
	if !qty.IsPositive() {
		return fault.Validationf(fault.CodeInvalidQuantity, "quantity must be positive")
	}
	if discrete {
		if !qty.IsInteger() {
			return fault.Validationf(fault.CodeInvalidQuantity, "quantity must be a whole number for discrete units")
		}
		return nil
	}
	if !qty.Equal(qty.Round(QuantityScale)) {
		return fault.Validationf(fault.CodeInvalidQuantity, "weighed quantity must have at most %d decimal places", QuantityScale)
	}
	return nil
}

// Max returns the larger of a and b.
func Max(a decimal.Decimal, b decimal.Decimal) decimal.Decimal {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

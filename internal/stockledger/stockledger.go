// Package stockledger builds the immutable movement rows that record every
// stock change with its before/after snapshot. The backend persists the row
// and the new level together.
package stockledger

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"cajapos/terminal/internal/domain"
	"cajapos/terminal/internal/fault"
	"cajapos/terminal/internal/money"
	"cajapos/terminal/internal/xid"
)

// Entry records stock coming in: newStock = previousStock + qty.
func Entry(product domain.Product, previous decimal.Decimal, qty decimal.Decimal, reason string, userID string) (domain.StockMovement, error) {
	if err := validateCommon(product, reason); err != nil {
		return domain.StockMovement{}, err
	}
	if err := money.ValidateQuantity(qty, product.IsDiscrete()); err != nil {
		return domain.StockMovement{}, err
	}
	return newMovement(product.ID, domain.StockEntry, qty, previous, previous.Add(qty), reason, userID), nil
}

// Exit records stock leaving. Exits that would drive stock negative are
// rejected and leave the level unchanged; callers must not clamp to zero.
func Exit(product domain.Product, previous decimal.Decimal, qty decimal.Decimal, reason string, userID string) (domain.StockMovement, error) {
	if err := validateCommon(product, reason); err != nil {
		return domain.StockMovement{}, err
	}
	if err := money.ValidateQuantity(qty, product.IsDiscrete()); err != nil {
		return domain.StockMovement{}, err
	}
	if qty.GreaterThan(previous) {
		return domain.StockMovement{}, fault.Preconditionf(fault.CodeInsufficientStock,
			"insufficient stock for %s: exit of %s exceeds current %s", product.Name, qty.String(), previous.String())
	}
	return newMovement(product.ID, domain.StockExit, qty, previous, previous.Sub(qty), reason, userID), nil
}

// Adjustment sets the level to an absolute value; the ledger row keeps the
// signed delta so the audit trail stays additive.
func Adjustment(product domain.Product, previous decimal.Decimal, absolute decimal.Decimal, reason string, userID string) (domain.StockMovement, error) {
	if err := validateCommon(product, reason); err != nil {
		return domain.StockMovement{}, err
	}
	if absolute.IsNegative() {
		return domain.StockMovement{}, fault.Validationf(fault.CodeInvalidQuantity, "adjusted stock must not be negative")
	}
	if product.IsDiscrete() && !absolute.IsInteger() {
		return domain.StockMovement{}, fault.Validationf(fault.CodeInvalidQuantity, "adjusted stock must be a whole number for discrete units")
	}
	return newMovement(product.ID, domain.StockAdjustment, absolute.Sub(previous), previous, absolute, reason, userID), nil
}

func validateCommon(product domain.Product, reason string) error {
	if strings.TrimSpace(product.ID) == "" {
		return fault.Validationf(fault.CodeInvalidInput, "product id is required")
	}
	if strings.TrimSpace(reason) == "" {
		return fault.Validationf(fault.CodeReasonRequired, "a reason is required for stock movements")
	}
	return nil
}

func newMovement(productID string, movementType domain.StockMovementType, qty decimal.Decimal, previous decimal.Decimal, next decimal.Decimal, reason string, userID string) domain.StockMovement {
	return domain.StockMovement{
		ID:            xid.New("mov"),
		ProductID:     productID,
		Type:          movementType,
		Quantity:      qty,
		PreviousStock: previous,
		NewStock:      next,
		Reason:        strings.TrimSpace(reason),
		UserID:        userID,
		CreatedAt:     time.Now().UTC(),
	}
}

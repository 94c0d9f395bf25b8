// Package payment tracks how the sale total is split across payment methods.
// The allocator runs in one of two modes: single (one implicit allocation
// derived from the final total) or multiple (an explicit, editable list).
package payment

import (
	"strings"

	"github.com/shopspring/decimal"

	"cajapos/terminal/internal/domain"
	"cajapos/terminal/internal/fault"
	"cajapos/terminal/internal/money"
)

type Mode string

const (
	ModeSingle   Mode = "single"
	ModeMultiple Mode = "multiple"
)

// Result is what validate() reports back to the UI after every edit.
type Result struct {
	Valid          bool            `json:"valid"`
	TotalAllocated decimal.Decimal `json:"total_allocated"`
	Difference     decimal.Decimal `json:"difference"`
	Reason         string          `json:"reason,omitempty"`
}

type Allocator struct {
	mode        Mode
	single      domain.PaymentAllocation
	tendered    decimal.Decimal
	allocations []domain.PaymentAllocation
}

func New() *Allocator {
	return &Allocator{
		mode:   ModeSingle,
		single: domain.PaymentAllocation{Method: domain.MethodCash},
	}
}

func (a *Allocator) Mode() Mode { return a.mode }

// SetSingle replaces the single-mode method and metadata. The amount field is
// ignored; it is always derived from the cart total at commit.
func (a *Allocator) SetSingle(alloc domain.PaymentAllocation) error {
	if !isSupportedMethod(alloc.Method) {
		return fault.Validationf(fault.CodeInvalidAllocation, "unsupported payment method %q", alloc.Method)
	}
	a.single = alloc
	return nil
}

// SetTendered records the physical cash handed over for a cash sale.
func (a *Allocator) SetTendered(amount decimal.Decimal) error {
	if err := money.ValidateAmount(amount); err != nil {
		return err
	}
	a.tendered = amount
	return nil
}

func (a *Allocator) Tendered() decimal.Decimal { return a.tendered }

// ToggleMultiple switches modes. Entering multiple mode seeds one allocation
// covering the current final total with the single-mode method; leaving it
// discards the list.
func (a *Allocator) ToggleMultiple(enabled bool, finalTotal decimal.Decimal) {
	if enabled {
		if a.mode == ModeMultiple {
			return
		}
		seed := a.single
		seed.Amount = finalTotal
		a.allocations = []domain.PaymentAllocation{seed}
		a.mode = ModeMultiple
		return
	}
	a.allocations = nil
	a.mode = ModeSingle
}

func (a *Allocator) AddAllocation(alloc domain.PaymentAllocation) error {
	if a.mode != ModeMultiple {
		return fault.Validationf(fault.CodeInvalidAllocation, "allocations can only be added in multiple payment mode")
	}
	if !isSupportedMethod(alloc.Method) {
		return fault.Validationf(fault.CodeInvalidAllocation, "unsupported payment method %q", alloc.Method)
	}
	if !alloc.Amount.IsPositive() {
		return fault.Validationf(fault.CodeInvalidAmount, "allocation amount must be positive")
	}
	a.allocations = append(a.allocations, alloc)
	return nil
}

func (a *Allocator) UpdateAllocation(index int, alloc domain.PaymentAllocation) error {
	if a.mode != ModeMultiple {
		return fault.Validationf(fault.CodeInvalidAllocation, "no allocation list in single payment mode")
	}
	if index < 0 || index >= len(a.allocations) {
		return fault.Validationf(fault.CodeInvalidInput, "allocation index %d out of range", index)
	}
	if !isSupportedMethod(alloc.Method) {
		return fault.Validationf(fault.CodeInvalidAllocation, "unsupported payment method %q", alloc.Method)
	}
	if !alloc.Amount.IsPositive() {
		return fault.Validationf(fault.CodeInvalidAmount, "allocation amount must be positive")
	}
	a.allocations[index] = alloc
	return nil
}

// RemoveAllocation allows emptying the list; an empty list only becomes an
// error at commit time.
func (a *Allocator) RemoveAllocation(index int) error {
	if a.mode != ModeMultiple {
		return fault.Validationf(fault.CodeInvalidAllocation, "no allocation list in single payment mode")
	}
	if index < 0 || index >= len(a.allocations) {
		return fault.Validationf(fault.CodeInvalidInput, "allocation index %d out of range", index)
	}
	a.allocations = append(a.allocations[:index], a.allocations[index+1:]...)
	return nil
}

func (a *Allocator) Allocations() []domain.PaymentAllocation {
	out := make([]domain.PaymentAllocation, len(a.allocations))
	copy(out, a.allocations)
	return out
}

// Resolve returns the effective allocation list for a sale of finalTotal: in
// single mode the one derived allocation, in multiple mode the explicit list.
func (a *Allocator) Resolve(finalTotal decimal.Decimal) []domain.PaymentAllocation {
	if a.mode == ModeSingle {
		derived := a.single
		derived.Amount = finalTotal
		return []domain.PaymentAllocation{derived}
	}
	return a.Allocations()
}

// Method reports the sale-level payment method: the single method, or
// "multiple" when the sale is split.
func (a *Allocator) Method() domain.PaymentMethod {
	if a.mode == ModeMultiple {
		return domain.MethodMultiple
	}
	return a.single.Method
}

// Validate checks the allocation set against finalTotal. Single mode is
// structurally valid by construction; metadata is still checked so the UI can
// surface a missing card number before commit.
func (a *Allocator) Validate(finalTotal decimal.Decimal) Result {
	allocations := a.Resolve(finalTotal)

	if a.mode == ModeMultiple && len(allocations) == 0 {
		return Result{Reason: "at least one payment allocation is required", Difference: finalTotal.Neg()}
	}

	total := decimal.Decimal{}
	for _, alloc := range allocations {
		if a.mode == ModeMultiple && !alloc.Amount.IsPositive() {
			return Result{TotalAllocated: total, Reason: "every allocation must have a positive amount"}
		}
		if err := ValidateMetadata(alloc); err != nil {
			return Result{TotalAllocated: total, Reason: fault.MessageOf(err)}
		}
		total = total.Add(alloc.Amount)
	}

	difference := total.Sub(finalTotal)
	if a.mode == ModeMultiple && !money.WithinTolerance(total, finalTotal) {
		return Result{
			TotalAllocated: total,
			Difference:     difference,
			Reason:         "allocated amounts do not match the sale total",
		}
	}

	return Result{Valid: true, TotalAllocated: total, Difference: difference}
}

// Change returns the cash change owed when cash is the sole method:
// max(0, tendered - finalTotal). A tendered amount below the total is
// rejected later, at commit.
func (a *Allocator) Change(finalTotal decimal.Decimal) decimal.Decimal {
	if a.mode != ModeSingle || a.single.Method != domain.MethodCash {
		return decimal.Decimal{}
	}
	return money.Max(decimal.Decimal{}, a.tendered.Sub(finalTotal))
}

// Reset returns the allocator to its initial single-cash state. Called after
// a successful commit alongside the cart clear.
func (a *Allocator) Reset() {
	a.mode = ModeSingle
	a.single = domain.PaymentAllocation{Method: domain.MethodCash}
	a.tendered = decimal.Decimal{}
	a.allocations = nil
}

// ValidateMetadata enforces the per-method detail struct: card payments need
// the last-4 digits, transfers a reference, account charges a real customer
// (never the walk-in sentinel).
func ValidateMetadata(alloc domain.PaymentAllocation) error {
	switch alloc.Method {
	case domain.MethodCash:
		return nil
	case domain.MethodDebit, domain.MethodCredit:
		if alloc.Card == nil || strings.TrimSpace(alloc.Card.Last4) == "" {
			return fault.Validationf(fault.CodeInvalidAllocation, "%s payment requires the card's last 4 digits", alloc.Method)
		}
	case domain.MethodTransfer:
		if alloc.Transfer == nil || strings.TrimSpace(alloc.Transfer.Reference) == "" {
			return fault.Validationf(fault.CodeInvalidAllocation, "transfer payment requires a reference")
		}
	case domain.MethodAccount:
		if alloc.Account == nil || strings.TrimSpace(alloc.Account.CustomerID) == "" {
			return fault.Validationf(fault.CodeInvalidAllocation, "account payment requires a customer")
		}
		if alloc.Account.CustomerID == domain.WalkInCustomerID {
			return fault.Preconditionf(fault.CodeWalkInAccount, "walk-in customers cannot pay on account")
		}
	default:
		return fault.Validationf(fault.CodeInvalidAllocation, "unsupported payment method %q", alloc.Method)
	}
	return nil
}

func isSupportedMethod(method domain.PaymentMethod) bool {
	switch method {
	case domain.MethodCash, domain.MethodDebit, domain.MethodCredit, domain.MethodTransfer, domain.MethodAccount:
		return true
	default:
		return false
	}
}

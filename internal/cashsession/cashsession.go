// Package cashsession holds the pure reconciliation arithmetic for a cash
// session: bucket updates for sales, cancellations and manual movements, and
// the expected-cash / close-difference computations. Backends apply these
// functions so running totals never drift from the movements that fed them.
package cashsession

import (
	"time"

	"github.com/shopspring/decimal"

	"cajapos/terminal/internal/domain"
	"cajapos/terminal/internal/fault"
)

// ExpectedPhysicalCash is what the drawer should hold right now:
// opening + cash sales + deposits - expenses - withdrawals - cash refunds
// from cancellations.
func ExpectedPhysicalCash(session domain.CashSession) decimal.Decimal {
	t := session.Totals
	return session.OpeningAmount.
		Add(t.CashSales).
		Add(t.Deposits).
		Sub(t.Expenses).
		Sub(t.Withdrawals).
		Sub(t.CancellationsCash)
}

func TotalIncome(t domain.RunningTotals) decimal.Decimal {
	return t.CashSales.
		Add(t.DebitCardSales).
		Add(t.CreditCardSales).
		Add(t.TransferSales).
		Add(t.AccountSales).
		Add(t.Deposits)
}

func TotalOutcome(t domain.RunningTotals) decimal.Decimal {
	return t.Expenses.Add(t.Withdrawals).Add(t.Cancellations)
}

func NetEarnings(t domain.RunningTotals) decimal.Decimal {
	return TotalIncome(t).Sub(TotalOutcome(t))
}

// ApplySale adds each allocation to its method bucket and bumps the sale
// count.
func ApplySale(t *domain.RunningTotals, allocations []domain.PaymentAllocation) {
	for _, alloc := range allocations {
		switch alloc.Method {
		case domain.MethodCash:
			t.CashSales = t.CashSales.Add(alloc.Amount)
		case domain.MethodDebit:
			t.DebitCardSales = t.DebitCardSales.Add(alloc.Amount)
		case domain.MethodCredit:
			t.CreditCardSales = t.CreditCardSales.Add(alloc.Amount)
		case domain.MethodTransfer:
			t.TransferSales = t.TransferSales.Add(alloc.Amount)
		case domain.MethodAccount:
			t.AccountSales = t.AccountSales.Add(alloc.Amount)
		}
	}
	t.SaleCount++
}

// ApplyCancellation records a reversed sale. The original sale buckets stay
// untouched; the full total lands in Cancellations and only the cash portion,
// which physically leaves the drawer as a refund, lands in CancellationsCash.
func ApplyCancellation(t *domain.RunningTotals, sale domain.SaleRecord) {
	cashPortion := decimal.Decimal{}
	for _, alloc := range sale.Allocations {
		if alloc.Method == domain.MethodCash {
			cashPortion = cashPortion.Add(alloc.Amount)
		}
	}
	t.Cancellations = t.Cancellations.Add(sale.Total)
	t.CancellationsCash = t.CancellationsCash.Add(cashPortion)
}

// ApplyMovement updates exactly one bucket for a manual drawer movement.
func ApplyMovement(t *domain.RunningTotals, movementType domain.CashMovementType, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fault.Validationf(fault.CodeInvalidAmount, "movement amount must be positive")
	}
	switch movementType {
	case domain.MovementDeposit:
		t.Deposits = t.Deposits.Add(amount)
	case domain.MovementWithdrawal:
		t.Withdrawals = t.Withdrawals.Add(amount)
	case domain.MovementExpense:
		t.Expenses = t.Expenses.Add(amount)
	default:
		return fault.Validationf(fault.CodeInvalidInput, "unknown movement type %q", movementType)
	}
	return nil
}

// Close reconciles and closes the session. With a physical count the
// difference is count - expected; without one the closing amount defaults to
// the expected cash and the difference is exactly zero.
func Close(session domain.CashSession, physicalCount *decimal.Decimal, notes string, closedBy string, at time.Time) (domain.CashSession, error) {
	if !session.IsOpen {
		return domain.CashSession{}, fault.Preconditionf(fault.CodeCashSessionClosed, "cash session is already closed")
	}

	expected := ExpectedPhysicalCash(session)
	closing := expected
	difference := decimal.Decimal{}
	if physicalCount != nil {
		if physicalCount.IsNegative() {
			return domain.CashSession{}, fault.Validationf(fault.CodeInvalidAmount, "physical count must not be negative")
		}
		closing = *physicalCount
		difference = closing.Sub(expected)
	}

	closed := session
	closed.IsOpen = false
	closed.ClosingAmount = &closing
	closed.Difference = &difference
	closed.ClosingNotes = notes
	closed.ClosedBy = closedBy
	closed.ClosedAt = &at
	return closed, nil
}

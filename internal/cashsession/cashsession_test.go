package cashsession

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"cajapos/terminal/internal/domain"
	"cajapos/terminal/internal/fault"
)

func dec(t *testing.T, value string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(value)
	if err != nil {
		t.Fatalf("bad decimal literal %q: %v", value, err)
	}
	return d
}

func TestExpectedPhysicalCashFormula(t *testing.T) {
	session := domain.CashSession{
		OpeningAmount: dec(t, "1000.00"),
		Totals: domain.RunningTotals{
			CashSales:         dec(t, "500.00"),
			DebitCardSales:    dec(t, "300.00"),
			Deposits:          dec(t, "200.00"),
			Expenses:          dec(t, "50.00"),
			Withdrawals:       dec(t, "100.00"),
			CancellationsCash: dec(t, "30.00"),
		},
	}

	// Card sales never touch the drawer.
	expected := ExpectedPhysicalCash(session)
	if !expected.Equal(dec(t, "1520.00")) {
		t.Fatalf("expected cash = %s, want 1520.00", expected.String())
	}
}

func TestApplySaleBucketsPerMethod(t *testing.T) {
	var totals domain.RunningTotals
	ApplySale(&totals, []domain.PaymentAllocation{
		{Method: domain.MethodCash, Amount: dec(t, "300.00")},
		{Method: domain.MethodAccount, Amount: dec(t, "200.00"), Account: &domain.AccountDetails{CustomerID: "cust-lopez"}},
	})

	if !totals.CashSales.Equal(dec(t, "300.00")) {
		t.Fatalf("cash bucket = %s, want 300.00", totals.CashSales.String())
	}
	if !totals.AccountSales.Equal(dec(t, "200.00")) {
		t.Fatalf("account bucket = %s, want 200.00", totals.AccountSales.String())
	}
	if totals.SaleCount != 1 {
		t.Fatalf("sale count = %d, want 1", totals.SaleCount)
	}
}

func TestApplyCancellationTracksCashPortionOnly(t *testing.T) {
	var totals domain.RunningTotals
	sale := domain.SaleRecord{
		Total: dec(t, "500.00"),
		Allocations: []domain.PaymentAllocation{
			{Method: domain.MethodCash, Amount: dec(t, "300.00")},
			{Method: domain.MethodDebit, Amount: dec(t, "200.00"), Card: &domain.CardDetails{Last4: "4242"}},
		},
	}
	ApplySale(&totals, sale.Allocations)
	ApplyCancellation(&totals, sale)

	if !totals.Cancellations.Equal(dec(t, "500.00")) {
		t.Fatalf("cancellations = %s, want 500.00", totals.Cancellations.String())
	}
	if !totals.CancellationsCash.Equal(dec(t, "300.00")) {
		t.Fatalf("cancellations cash = %s, want only the cash portion 300.00", totals.CancellationsCash.String())
	}
	// The original sale buckets stay as committed.
	if !totals.CashSales.Equal(dec(t, "300.00")) || !totals.DebitCardSales.Equal(dec(t, "200.00")) {
		t.Fatalf("sale buckets must not be rewritten by a cancellation")
	}
}

func TestApplyMovement(t *testing.T) {
	var totals domain.RunningTotals
	if err := ApplyMovement(&totals, domain.MovementDeposit, dec(t, "100.00")); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := ApplyMovement(&totals, domain.MovementExpense, dec(t, "40.00")); err != nil {
		t.Fatalf("expense: %v", err)
	}
	if err := ApplyMovement(&totals, domain.MovementWithdrawal, dec(t, "25.00")); err != nil {
		t.Fatalf("withdrawal: %v", err)
	}

	if err := ApplyMovement(&totals, domain.MovementDeposit, dec(t, "0")); err == nil {
		t.Fatalf("zero amount accepted")
	}
	if err := ApplyMovement(&totals, "refuel", dec(t, "10.00")); err == nil {
		t.Fatalf("unknown movement type accepted")
	}

	if !totals.Deposits.Equal(dec(t, "100.00")) || !totals.Expenses.Equal(dec(t, "40.00")) || !totals.Withdrawals.Equal(dec(t, "25.00")) {
		t.Fatalf("buckets = %+v", totals)
	}
}

func TestCloseWithoutCountHasZeroDifference(t *testing.T) {
	session := domain.CashSession{
		OpeningAmount: dec(t, "1000.00"),
		IsOpen:        true,
		Totals:        domain.RunningTotals{CashSales: dec(t, "500.00")},
	}

	closed, err := Close(session, nil, "", "admin", time.Now().UTC())
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if closed.IsOpen {
		t.Fatalf("session still open after close")
	}
	if closed.ClosingAmount == nil || !closed.ClosingAmount.Equal(dec(t, "1500.00")) {
		t.Fatalf("closing amount must default to the expected cash")
	}
	if closed.Difference == nil || !closed.Difference.IsZero() {
		t.Fatalf("difference must be exactly zero without a physical count")
	}
}

func TestCloseWithCountReportsDifference(t *testing.T) {
	session := domain.CashSession{
		OpeningAmount: dec(t, "1000.00"),
		IsOpen:        true,
		Totals:        domain.RunningTotals{CashSales: dec(t, "500.00")},
	}

	count := dec(t, "1480.00")
	closed, err := Close(session, &count, "short drawer", "admin", time.Now().UTC())
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if closed.Difference == nil || !closed.Difference.Equal(dec(t, "-20.00")) {
		t.Fatalf("difference = %v, want -20.00", closed.Difference)
	}

	negative := dec(t, "-1.00")
	if _, err := Close(session, &negative, "", "admin", time.Now().UTC()); err == nil {
		t.Fatalf("negative physical count accepted")
	}
}

func TestCloseClosedSessionRejected(t *testing.T) {
	session := domain.CashSession{OpeningAmount: dec(t, "100.00"), IsOpen: false}
	_, err := Close(session, nil, "", "admin", time.Now().UTC())
	if err == nil {
		t.Fatalf("closing a closed session accepted")
	}
	if !errors.Is(err, fault.ErrPrecondition) {
		t.Fatalf("expected precondition error, got %v", err)
	}
}

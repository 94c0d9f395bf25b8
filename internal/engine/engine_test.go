package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"cajapos/terminal/internal/backend/memory"
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

func newTestEngine(t *testing.T) (*memory.Store, *Engine, context.Context) {
	t.Helper()
	store := memory.NewSeeded()
	e := New(store, nil, "terminal-1", 0)
	ctx := WithActor(context.Background(), domain.Actor{Username: "cashier", Role: "cashier"})
	return store, e, ctx
}

func mustOpen(t *testing.T, e *Engine, ctx context.Context, amount string) {
	t.Helper()
	if _, err := e.OpenSession(ctx, dec(t, amount), ""); err != nil {
		t.Fatalf("open session: %v", err)
	}
}

func mustAdd(t *testing.T, e *Engine, ctx context.Context, productID string, qty string, tier domain.PriceTier) {
	t.Helper()
	if _, err := e.AddItem(ctx, productID, dec(t, qty), tier); err != nil {
		t.Fatalf("add %s: %v", productID, err)
	}
}

func TestCommitEmptyCart(t *testing.T) {
	_, e, ctx := newTestEngine(t)
	mustOpen(t, e, ctx, "1000.00")

	_, err := e.CommitSale(ctx)
	if err == nil {
		t.Fatalf("empty cart committed")
	}
	if fault.CodeOf(err) != fault.CodeEmptyCart {
		t.Fatalf("code = %s, want %s", fault.CodeOf(err), fault.CodeEmptyCart)
	}
}

func TestCommitSessionClosedCheckedBeforeAllocation(t *testing.T) {
	_, e, ctx := newTestEngine(t)
	mustAdd(t, e, ctx, "prod-soda-01", "1", domain.TierCash)

	// The allocation is invalid too (nothing tendered), but with no session
	// open the session check wins.
	_, err := e.CommitSale(ctx)
	if err == nil {
		t.Fatalf("commit accepted without an open session")
	}
	if fault.CodeOf(err) != fault.CodeCashSessionClosed {
		t.Fatalf("code = %s, want %s", fault.CodeOf(err), fault.CodeCashSessionClosed)
	}
}

func TestFullCashFlow(t *testing.T) {
	store, e, ctx := newTestEngine(t)
	mustOpen(t, e, ctx, "1000.00")

	mustAdd(t, e, ctx, "prod-soda-01", "1", domain.TierCash) // 790.00
	if _, err := e.SetTendered(ctx, dec(t, "800.00")); err != nil {
		t.Fatalf("set tendered: %v", err)
	}

	sale, err := e.CommitSale(ctx)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if !sale.Total.Equal(dec(t, "790.00")) {
		t.Fatalf("total = %s, want 790.00", sale.Total.String())
	}
	if !sale.Change.Equal(dec(t, "10.00")) {
		t.Fatalf("change = %s, want 10.00", sale.Change.String())
	}
	if sale.SoldBy != "cashier" {
		t.Fatalf("sold by = %s, want the acting cashier", sale.SoldBy)
	}

	// Commit clears the in-progress state.
	if view := e.CartView(ctx); len(view.Items) != 0 {
		t.Fatalf("cart not cleared after commit")
	}

	level, _ := store.GetProductStock(ctx, "prod-soda-01")
	if !level.Equal(dec(t, "99")) {
		t.Fatalf("stock = %s, want 99", level.String())
	}

	status, err := e.SessionStatus(ctx)
	if err != nil {
		t.Fatalf("session status: %v", err)
	}
	if !status.ExpectedCash.Equal(dec(t, "1790.00")) {
		t.Fatalf("expected cash = %s, want 1790.00", status.ExpectedCash.String())
	}

	closed, err := e.CloseSession(ctx, "", nil)
	if err != nil {
		t.Fatalf("close session: %v", err)
	}
	if closed.Difference == nil || !closed.Difference.IsZero() {
		t.Fatalf("difference = %v, want exactly zero", closed.Difference)
	}
}

func TestCommitTenderedBelowTotal(t *testing.T) {
	_, e, ctx := newTestEngine(t)
	mustOpen(t, e, ctx, "1000.00")

	mustAdd(t, e, ctx, "prod-soda-01", "1", domain.TierCash) // 790.00
	if _, err := e.SetTendered(ctx, dec(t, "700.00")); err != nil {
		t.Fatalf("set tendered: %v", err)
	}

	_, err := e.CommitSale(ctx)
	if err == nil {
		t.Fatalf("commit accepted with tendered below total")
	}
	if fault.CodeOf(err) != fault.CodeCashBelowTotal {
		t.Fatalf("code = %s, want %s", fault.CodeOf(err), fault.CodeCashBelowTotal)
	}
}

func TestCommitInsufficientStockAfterFreshRead(t *testing.T) {
	store, e, ctx := newTestEngine(t)
	mustOpen(t, e, ctx, "1000.00")

	mustAdd(t, e, ctx, "prod-soda-01", "3", domain.TierCash)
	if _, err := e.SetTendered(ctx, dec(t, "3000.00")); err != nil {
		t.Fatalf("set tendered: %v", err)
	}

	// Stock drained elsewhere between add and commit.
	soda, _ := store.GetProduct(ctx, "prod-soda-01")
	store.SetProduct(*soda, dec(t, "2"))

	_, err := e.CommitSale(ctx)
	if err == nil {
		t.Fatalf("commit accepted past available stock")
	}
	if fault.CodeOf(err) != fault.CodeInsufficientStock {
		t.Fatalf("code = %s, want %s", fault.CodeOf(err), fault.CodeInsufficientStock)
	}
}

func TestCommitCreditRejectionLeavesStateIntact(t *testing.T) {
	store, e, ctx := newTestEngine(t)
	mustOpen(t, e, ctx, "1000.00")

	store.SetProduct(domain.Product{
		ID:        "prod-basket-01",
		Name:      "Gift Basket",
		UnitType:  domain.UnitDiscrete,
		ListPrice: dec(t, "500.00"),
		CashPrice: dec(t, "500.00"),
		Active:    true,
	}, dec(t, "10"))
	store.SetCustomer(domain.Customer{
		ID:             "cust-diaz",
		Name:           "Diaz",
		CurrentBalance: dec(t, "400.00"),
		CreditLimit:    dec(t, "500.00"),
	})

	mustAdd(t, e, ctx, "prod-basket-01", "1", domain.TierList) // 500.00
	e.ToggleMultiplePayment(ctx, true)
	if _, err := e.RemoveAllocation(ctx, 0); err != nil {
		t.Fatalf("remove seed allocation: %v", err)
	}
	if _, err := e.AddAllocation(ctx, domain.PaymentAllocation{Method: domain.MethodCash, Amount: dec(t, "300.00")}); err != nil {
		t.Fatalf("add cash allocation: %v", err)
	}
	if _, err := e.AddAllocation(ctx, domain.PaymentAllocation{
		Method:  domain.MethodAccount,
		Amount:  dec(t, "200.00"),
		Account: &domain.AccountDetails{CustomerID: "cust-diaz"},
	}); err != nil {
		t.Fatalf("add account allocation: %v", err)
	}

	// 400 + 200 would exceed the 500 limit.
	_, err := e.CommitSale(ctx)
	if err == nil {
		t.Fatalf("commit accepted past the credit limit")
	}
	if fault.CodeOf(err) != fault.CodeCreditLimitExceeded {
		t.Fatalf("code = %s, want %s", fault.CodeOf(err), fault.CodeCreditLimitExceeded)
	}

	// Nothing changed: cart, stock and balance all as before.
	if view := e.CartView(ctx); len(view.Items) != 1 {
		t.Fatalf("failed commit must not clear the cart")
	}
	level, _ := store.GetProductStock(ctx, "prod-basket-01")
	if !level.Equal(dec(t, "10")) {
		t.Fatalf("stock = %s, want untouched 10", level.String())
	}
	customer, _ := store.GetCustomer(ctx, "cust-diaz")
	if !customer.CurrentBalance.Equal(dec(t, "400.00")) {
		t.Fatalf("balance = %s, want untouched 400.00", customer.CurrentBalance.String())
	}

	// Once the account has room, the same pending sale goes through.
	store.SetCustomer(domain.Customer{
		ID:             "cust-diaz",
		Name:           "Diaz",
		CurrentBalance: dec(t, "100.00"),
		CreditLimit:    dec(t, "500.00"),
	})
	sale, err := e.CommitSale(ctx)
	if err != nil {
		t.Fatalf("retry after freeing credit: %v", err)
	}
	if sale.PaymentMethod != domain.MethodMultiple {
		t.Fatalf("payment method = %s, want multiple", sale.PaymentMethod)
	}
}

func TestCancelSaleRestoresStockAndDrawer(t *testing.T) {
	store, e, ctx := newTestEngine(t)
	mustOpen(t, e, ctx, "1000.00")

	mustAdd(t, e, ctx, "prod-soda-01", "2", domain.TierCash) // 1580.00
	if _, err := e.SetTendered(ctx, dec(t, "1580.00")); err != nil {
		t.Fatalf("set tendered: %v", err)
	}
	sale, err := e.CommitSale(ctx)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}

	if _, err := e.CancelSale(ctx, sale.ID, "   "); err == nil {
		t.Fatalf("blank cancellation reason accepted")
	}

	if _, err := e.CancelSale(ctx, sale.ID, "wrong items rung up"); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	level, _ := store.GetProductStock(ctx, "prod-soda-01")
	if !level.Equal(dec(t, "100")) {
		t.Fatalf("stock = %s, want restored 100", level.String())
	}
	status, err := e.SessionStatus(ctx)
	if err != nil {
		t.Fatalf("session status: %v", err)
	}
	if !status.ExpectedCash.Equal(dec(t, "1000.00")) {
		t.Fatalf("expected cash = %s, want back to the opening 1000.00", status.ExpectedCash.String())
	}
}

func TestRecordStockExitBeyondAvailable(t *testing.T) {
	_, e, ctx := newTestEngine(t)

	_, err := e.RecordStockExit(ctx, "prod-soda-01", dec(t, "150"), "spoilage")
	if err == nil {
		t.Fatalf("exit past available stock accepted")
	}
	if !errors.Is(err, fault.ErrPrecondition) {
		t.Fatalf("expected precondition error, got %v", err)
	}

	movement, err := e.RecordStockExit(ctx, "prod-soda-01", dec(t, "10"), "spoilage")
	if err != nil {
		t.Fatalf("exit: %v", err)
	}
	if !movement.NewStock.Equal(dec(t, "90")) {
		t.Fatalf("new stock = %s, want 90", movement.NewStock.String())
	}
}

func TestCommitMultipleWithinTolerance(t *testing.T) {
	_, e, ctx := newTestEngine(t)
	mustOpen(t, e, ctx, "1000.00")

	mustAdd(t, e, ctx, "prod-cheese-01", "0.333", domain.TierCash) // 0.333 * 2300 = 765.90
	e.ToggleMultiplePayment(ctx, true)
	if _, err := e.UpdateAllocation(ctx, 0, domain.PaymentAllocation{
		Method: domain.MethodCash,
		Amount: dec(t, "765.90"),
	}); err != nil {
		t.Fatalf("update allocation: %v", err)
	}

	result := e.PaymentState(ctx)
	if !result.Valid {
		t.Fatalf("exact allocation invalid: %s", result.Reason)
	}
	if _, err := e.CommitSale(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

package cart

import (
	"testing"

	"github.com/shopspring/decimal"

	"cajapos/terminal/internal/domain"
)

func dec(t *testing.T, value string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(value)
	if err != nil {
		t.Fatalf("bad decimal literal %q: %v", value, err)
	}
	return d
}

func soda(t *testing.T) domain.Product {
	t.Helper()
	return domain.Product{
		ID:        "prod-soda-01",
		Name:      "Soda 2.25L",
		UnitType:  domain.UnitDiscrete,
		ListPrice: dec(t, "850.00"),
		CashPrice: dec(t, "790.00"),
		Active:    true,
	}
}

func cheese(t *testing.T) domain.Product {
	t.Helper()
	return domain.Product{
		ID:        "prod-cheese-01",
		Name:      "Cheese (per kg)",
		UnitType:  domain.UnitWeighed,
		ListPrice: dec(t, "2450.00"),
		CashPrice: dec(t, "2300.00"),
		Active:    true,
	}
}

func TestTotalsAlwaysConsistent(t *testing.T) {
	c := New()
	if err := c.AddOrReplaceItem(soda(t), dec(t, "2"), domain.TierList, dec(t, "100")); err != nil {
		t.Fatalf("add item: %v", err)
	}
	if err := c.AddOrReplaceItem(cheese(t), dec(t, "0.5"), domain.TierCash, dec(t, "10")); err != nil {
		t.Fatalf("add weighed item: %v", err)
	}
	if err := c.ApplyDiscount(dec(t, "10"), domain.DiscountPercent); err != nil {
		t.Fatalf("apply discount: %v", err)
	}
	if err := c.SetTaxRate(dec(t, "21")); err != nil {
		t.Fatalf("set tax: %v", err)
	}

	view := c.View()
	want := view.Subtotal.Sub(view.Discount).Add(view.TaxAmount)
	if !view.FinalTotal.Equal(want) {
		t.Fatalf("final total %s != subtotal - discount + tax = %s", view.FinalTotal.String(), want.String())
	}
	// 2*850 + 0.5*2300 = 2850
	if !view.Subtotal.Equal(dec(t, "2850.00")) {
		t.Fatalf("subtotal = %s, want 2850.00", view.Subtotal.String())
	}
}

func TestSameProductTwoTiersAreDistinctLines(t *testing.T) {
	c := New()
	if err := c.AddOrReplaceItem(soda(t), dec(t, "1"), domain.TierList, dec(t, "100")); err != nil {
		t.Fatalf("add list line: %v", err)
	}
	if err := c.AddOrReplaceItem(soda(t), dec(t, "1"), domain.TierCash, dec(t, "100")); err != nil {
		t.Fatalf("add cash line: %v", err)
	}
	if got := len(c.Items()); got != 2 {
		t.Fatalf("expected 2 lines, got %d", got)
	}

	// Re-adding the same (product, tier) replaces, not duplicates.
	if err := c.AddOrReplaceItem(soda(t), dec(t, "3"), domain.TierList, dec(t, "100")); err != nil {
		t.Fatalf("replace list line: %v", err)
	}
	items := c.Items()
	if len(items) != 2 {
		t.Fatalf("expected 2 lines after replace, got %d", len(items))
	}
	for _, item := range items {
		if item.PriceTier == domain.TierList && !item.Quantity.Equal(dec(t, "3")) {
			t.Fatalf("list line quantity = %s, want 3", item.Quantity.String())
		}
	}
}

func TestDiscountClamping(t *testing.T) {
	c := New()
	if err := c.AddOrReplaceItem(soda(t), dec(t, "1"), domain.TierList, dec(t, "100")); err != nil {
		t.Fatalf("add item: %v", err)
	}

	if err := c.ApplyDiscount(dec(t, "-5"), domain.DiscountPercent); err == nil {
		t.Fatalf("negative discount accepted")
	}

	if err := c.ApplyDiscount(dec(t, "150"), domain.DiscountPercent); err != nil {
		t.Fatalf("over-100 percent discount rejected instead of clamped: %v", err)
	}
	if !c.Discount().Equal(c.Subtotal()) {
		t.Fatalf("150%% discount = %s, want clamped to subtotal %s", c.Discount().String(), c.Subtotal().String())
	}

	if err := c.ApplyDiscount(dec(t, "99999.00"), domain.DiscountFixed); err != nil {
		t.Fatalf("oversized fixed discount rejected instead of clamped: %v", err)
	}
	if !c.Discount().Equal(c.Subtotal()) {
		t.Fatalf("fixed discount = %s, want clamped to subtotal %s", c.Discount().String(), c.Subtotal().String())
	}
	if c.FinalTotal().IsNegative() {
		t.Fatalf("final total went negative: %s", c.FinalTotal().String())
	}
}

func TestFixedDiscountTracksShrinkingCart(t *testing.T) {
	c := New()
	if err := c.AddOrReplaceItem(soda(t), dec(t, "2"), domain.TierList, dec(t, "100")); err != nil {
		t.Fatalf("add item: %v", err)
	}
	if err := c.ApplyDiscount(dec(t, "1000.00"), domain.DiscountFixed); err != nil {
		t.Fatalf("apply discount: %v", err)
	}
	if !c.Discount().Equal(dec(t, "1000.00")) {
		t.Fatalf("discount = %s, want 1000.00", c.Discount().String())
	}

	// Shrink the cart below the fixed discount; the effective discount follows.
	if err := c.UpdateQuantity(soda(t), domain.TierList, dec(t, "1"), dec(t, "100")); err != nil {
		t.Fatalf("update quantity: %v", err)
	}
	if !c.Discount().Equal(dec(t, "850.00")) {
		t.Fatalf("discount = %s, want clamped to 850.00", c.Discount().String())
	}
}

func TestUpdateQuantityZeroRemovesLine(t *testing.T) {
	c := New()
	if err := c.AddOrReplaceItem(soda(t), dec(t, "2"), domain.TierList, dec(t, "100")); err != nil {
		t.Fatalf("add item: %v", err)
	}
	if err := c.UpdateQuantity(soda(t), domain.TierList, decimal.Decimal{}, dec(t, "100")); err != nil {
		t.Fatalf("update to zero: %v", err)
	}
	if !c.IsEmpty() {
		t.Fatalf("expected empty cart after zero-quantity update")
	}

	// Removing an absent line is a no-op.
	c.RemoveItem("prod-soda-01", domain.TierList)
}

func TestAddRejectsInsufficientStock(t *testing.T) {
	c := New()
	err := c.AddOrReplaceItem(soda(t), dec(t, "5"), domain.TierList, dec(t, "4"))
	if err == nil {
		t.Fatalf("expected insufficient stock error")
	}
	if !c.IsEmpty() {
		t.Fatalf("failed add must not touch the cart")
	}
}

func TestWeighedQuantityGranularity(t *testing.T) {
	c := New()
	if err := c.AddOrReplaceItem(cheese(t), dec(t, "0.755"), domain.TierList, dec(t, "10")); err != nil {
		t.Fatalf("3-decimal weighed quantity rejected: %v", err)
	}
	if err := c.AddOrReplaceItem(soda(t), dec(t, "1.5"), domain.TierList, dec(t, "10")); err == nil {
		t.Fatalf("fractional quantity accepted for discrete product")
	}
}

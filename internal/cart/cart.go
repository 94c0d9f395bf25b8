// Package cart holds the in-progress, uncommitted line items for one sale.
// All totals are recomputed from the authoritative fields on every read;
// nothing in here talks to the network.
package cart

import (
	"github.com/shopspring/decimal"

	"cajapos/terminal/internal/domain"
	"cajapos/terminal/internal/fault"
	"cajapos/terminal/internal/money"
)

var hundred = decimal.NewFromInt(100)

// Cart is an explicit state container. One instance per terminal; the engine
// serializes access.
type Cart struct {
	items         []domain.LineItem
	discountKind  domain.DiscountKind
	discountValue decimal.Decimal
	taxRate       decimal.Decimal
}

func New() *Cart {
	return &Cart{}
}

// AddOrReplaceItem validates quantity granularity and available stock, then
// inserts the line. An existing line for the same (product, tier) pair is
// replaced; the same product at the other tier stays a distinct line.
func (c *Cart) AddOrReplaceItem(product domain.Product, qty decimal.Decimal, tier domain.PriceTier, available decimal.Decimal) error {
	if tier != domain.TierList && tier != domain.TierCash {
		return fault.Validationf(fault.CodeInvalidInput, "unknown price tier %q", tier)
	}
	if err := money.ValidateQuantity(qty, product.IsDiscrete()); err != nil {
		return err
	}
	if qty.GreaterThan(available) {
		return fault.Preconditionf(fault.CodeInsufficientStock,
			"insufficient stock for %s: requested %s, available %s", product.Name, qty.String(), available.String())
	}

	line := domain.LineItem{
		ProductID:   product.ID,
		ProductName: product.Name,
		Quantity:    qty,
		UnitPrice:   product.PriceFor(tier),
		PriceTier:   tier,
	}
	for i, existing := range c.items {
		if existing.ProductID == product.ID && existing.PriceTier == tier {
			c.items[i] = line
			return nil
		}
	}
	c.items = append(c.items, line)
	return nil
}

// UpdateQuantity revalidates like an add. A non-positive quantity removes the
// line.
func (c *Cart) UpdateQuantity(product domain.Product, tier domain.PriceTier, qty decimal.Decimal, available decimal.Decimal) error {
	if !qty.IsPositive() {
		c.RemoveItem(product.ID, tier)
		return nil
	}
	return c.AddOrReplaceItem(product, qty, tier, available)
}

// RemoveItem is a no-op when the line is absent.
func (c *Cart) RemoveItem(productID string, tier domain.PriceTier) {
	for i, existing := range c.items {
		if existing.ProductID == productID && existing.PriceTier == tier {
			c.items = append(c.items[:i], c.items[i+1:]...)
			return
		}
	}
}

// ApplyDiscount records the discount input. Negative values are rejected;
// clamping to [0,100] (percent) or [0,subtotal] (fixed) happens on read so
// the effective discount tracks later cart mutations.
func (c *Cart) ApplyDiscount(value decimal.Decimal, kind domain.DiscountKind) error {
	if kind != domain.DiscountPercent && kind != domain.DiscountFixed {
		return fault.Validationf(fault.CodeInvalidDiscount, "unknown discount kind %q", kind)
	}
	if value.IsNegative() {
		return fault.Validationf(fault.CodeInvalidDiscount, "discount must not be negative")
	}
	if kind == domain.DiscountPercent && value.GreaterThan(hundred) {
		value = hundred
	}
	c.discountKind = kind
	c.discountValue = value
	return nil
}

// SetTaxRate sets the tax percentage applied on (subtotal - discount).
func (c *Cart) SetTaxRate(percent decimal.Decimal) error {
	if percent.IsNegative() || percent.GreaterThan(hundred) {
		return fault.Validationf(fault.CodeInvalidInput, "tax rate must be between 0 and 100")
	}
	c.taxRate = percent
	return nil
}

func (c *Cart) Clear() {
	c.items = nil
	c.discountKind = domain.DiscountNone
	c.discountValue = decimal.Decimal{}
	c.taxRate = decimal.Decimal{}
}

func (c *Cart) IsEmpty() bool {
	return len(c.items) == 0
}

func (c *Cart) Items() []domain.LineItem {
	items := make([]domain.LineItem, len(c.items))
	copy(items, c.items)
	return items
}

func (c *Cart) Subtotal() decimal.Decimal {
	subtotal := decimal.Decimal{}
	for _, item := range c.items {
		subtotal = subtotal.Add(item.LineTotal())
	}
	return subtotal
}

// Discount recomputes the effective discount: percentage of the current
// subtotal or the fixed amount, clamped to [0, subtotal] and rounded half up
// to 2 decimals.
func (c *Cart) Discount() decimal.Decimal {
	subtotal := c.Subtotal()
	var discount decimal.Decimal
	switch c.discountKind {
	case domain.DiscountPercent:
		discount = money.Round(subtotal.Mul(c.discountValue).Div(hundred))
	case domain.DiscountFixed:
		discount = money.Round(c.discountValue)
	default:
		return decimal.Decimal{}
	}
	if discount.GreaterThan(subtotal) {
		return subtotal
	}
	return discount
}

func (c *Cart) TaxAmount() decimal.Decimal {
	base := c.Subtotal().Sub(c.Discount())
	return money.Round(base.Mul(c.taxRate).Div(hundred))
}

func (c *Cart) FinalTotal() decimal.Decimal {
	return c.Subtotal().Sub(c.Discount()).Add(c.TaxAmount())
}

func (c *Cart) View() domain.CartView {
	return domain.CartView{
		Items:      c.Items(),
		Subtotal:   c.Subtotal(),
		Discount:   c.Discount(),
		TaxAmount:  c.TaxAmount(),
		FinalTotal: c.FinalTotal(),
	}
}

package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type UnitType string

const (
	UnitDiscrete UnitType = "unit"
	UnitWeighed  UnitType = "weighed"
)

type PriceTier string

const (
	TierList PriceTier = "list"
	TierCash PriceTier = "cash"
)

type Product struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	UnitType  UnitType        `json:"unit_type"`
	ListPrice decimal.Decimal `json:"list_price"`
	CashPrice decimal.Decimal `json:"cash_price"`
	Active    bool            `json:"active"`
}

func (p Product) PriceFor(tier PriceTier) decimal.Decimal {
	if tier == TierCash {
		return p.CashPrice
	}
	return p.ListPrice
}

func (p Product) IsDiscrete() bool {
	return p.UnitType != UnitWeighed
}

type LineItem struct {
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	PriceTier   PriceTier       `json:"price_tier"`
}

// LineTotal is always derived, never stored, so it cannot drift from its
// inputs.
func (l LineItem) LineTotal() decimal.Decimal {
	return l.Quantity.Mul(l.UnitPrice).Round(2)
}

type DiscountKind string

const (
	DiscountNone    DiscountKind = ""
	DiscountPercent DiscountKind = "percent"
	DiscountFixed   DiscountKind = "fixed"
)

// CartView is the snapshot the API returns after every cart mutation.
type CartView struct {
	Items      []LineItem      `json:"items"`
	Subtotal   decimal.Decimal `json:"subtotal"`
	Discount   decimal.Decimal `json:"discount"`
	TaxAmount  decimal.Decimal `json:"tax_amount"`
	FinalTotal decimal.Decimal `json:"final_total"`
}

type PaymentMethod string

const (
	MethodCash     PaymentMethod = "cash"
	MethodDebit    PaymentMethod = "debit"
	MethodCredit   PaymentMethod = "credit"
	MethodTransfer PaymentMethod = "transfer"
	MethodAccount  PaymentMethod = "account"
	// MethodMultiple marks a sale paid through more than one allocation.
	MethodMultiple PaymentMethod = "multiple"
)

type CardDetails struct {
	Last4 string `json:"last4"`
	Brand string `json:"brand,omitempty"`
}

type TransferDetails struct {
	Reference string `json:"reference"`
}

type AccountDetails struct {
	CustomerID string `json:"customer_id"`
}

// PaymentAllocation assigns a portion of the sale total to one method.
// Exactly the detail struct matching Method must be set; the allocator
// enforces this before commit.
type PaymentAllocation struct {
	Method   PaymentMethod    `json:"method"`
	Amount   decimal.Decimal  `json:"amount"`
	Card     *CardDetails     `json:"card,omitempty"`
	Transfer *TransferDetails `json:"transfer,omitempty"`
	Account  *AccountDetails  `json:"account,omitempty"`
}

// WalkInCustomerID is the sentinel identity for anonymous counter sales.
// It is never eligible for account payment.
const WalkInCustomerID = "walk-in"

type Customer struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	CurrentBalance decimal.Decimal `json:"current_balance"`
	CreditLimit    decimal.Decimal `json:"credit_limit"`
}

func (c Customer) IsWalkIn() bool {
	return c.ID == "" || c.ID == WalkInCustomerID
}

type SaleStatus string

const (
	SaleCompleted SaleStatus = "completed"
	SaleCancelled SaleStatus = "cancelled"
)

type SaleRecord struct {
	ID             string              `json:"id"`
	IdempotencyKey string              `json:"idempotency_key"`
	TerminalID     string              `json:"terminal_id"`
	Items          []LineItem          `json:"items"`
	Subtotal       decimal.Decimal     `json:"subtotal"`
	Discount       decimal.Decimal     `json:"discount"`
	Tax            decimal.Decimal     `json:"tax"`
	Total          decimal.Decimal     `json:"total"`
	CustomerID     string              `json:"customer_id,omitempty"`
	PaymentMethod  PaymentMethod       `json:"payment_method"`
	Allocations    []PaymentAllocation `json:"allocations"`
	AmountTendered decimal.Decimal     `json:"amount_tendered"`
	Change         decimal.Decimal     `json:"change"`
	Status         SaleStatus          `json:"status"`
	CancelReason   string              `json:"cancel_reason,omitempty"`
	CancelledAt    *time.Time          `json:"cancelled_at,omitempty"`
	SoldBy         string              `json:"sold_by"`
	CreatedAt      time.Time           `json:"created_at"`
}

type CashMovementType string

const (
	MovementDeposit    CashMovementType = "deposit"
	MovementWithdrawal CashMovementType = "withdrawal"
	MovementExpense    CashMovementType = "expense"
)

type CashMovement struct {
	ID          string           `json:"id"`
	SessionID   string           `json:"session_id"`
	Type        CashMovementType `json:"type"`
	Amount      decimal.Decimal  `json:"amount"`
	Description string           `json:"description"`
	RecordedBy  string           `json:"recorded_by"`
	CreatedAt   time.Time        `json:"created_at"`
}

// RunningTotals is the per-session bucket ledger. Every committed sale,
// cancellation and manual movement updates exactly one or two buckets.
type RunningTotals struct {
	CashSales         decimal.Decimal `json:"cash_sales"`
	DebitCardSales    decimal.Decimal `json:"debit_card_sales"`
	CreditCardSales   decimal.Decimal `json:"credit_card_sales"`
	TransferSales     decimal.Decimal `json:"transfer_sales"`
	AccountSales      decimal.Decimal `json:"account_sales"`
	Deposits          decimal.Decimal `json:"deposits"`
	Expenses          decimal.Decimal `json:"expenses"`
	Withdrawals       decimal.Decimal `json:"withdrawals"`
	Cancellations     decimal.Decimal `json:"cancellations"`
	CancellationsCash decimal.Decimal `json:"cancellations_cash"`
	SaleCount         int             `json:"sale_count"`
}

type CashSession struct {
	ID            string           `json:"id"`
	OpeningAmount decimal.Decimal  `json:"opening_amount"`
	OpeningNotes  string           `json:"opening_notes,omitempty"`
	OpenedBy      string           `json:"opened_by"`
	OpenedAt      time.Time        `json:"opened_at"`
	IsOpen        bool             `json:"is_open"`
	Totals        RunningTotals    `json:"totals"`
	ClosingAmount *decimal.Decimal `json:"closing_amount,omitempty"`
	Difference    *decimal.Decimal `json:"difference,omitempty"`
	ClosingNotes  string           `json:"closing_notes,omitempty"`
	ClosedBy      string           `json:"closed_by,omitempty"`
	ClosedAt      *time.Time       `json:"closed_at,omitempty"`
}

type StockMovementType string

const (
	StockEntry      StockMovementType = "entry"
	StockExit       StockMovementType = "exit"
	StockAdjustment StockMovementType = "adjustment"
)

// StockMovement is an immutable ledger row. Quantity is the signed delta for
// adjustments and the magnitude for entries/exits; PreviousStock and NewStock
// snapshot the level around the movement.
type StockMovement struct {
	ID            string            `json:"id"`
	ProductID     string            `json:"product_id"`
	Type          StockMovementType `json:"type"`
	Quantity      decimal.Decimal   `json:"quantity"`
	PreviousStock decimal.Decimal   `json:"previous_stock"`
	NewStock      decimal.Decimal   `json:"new_stock"`
	Reason        string            `json:"reason"`
	UserID        string            `json:"user_id"`
	CreatedAt     time.Time         `json:"created_at"`
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

type Actor struct {
	Username string
	Role     string
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

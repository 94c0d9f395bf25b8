// Package engine drives one terminal's sale workflow: the in-progress cart,
// the payment allocation state, and the commit pipeline against the backend.
// Browsing reads go through the snapshot cache; commit always re-reads the
// backend so stale snapshots can only delay a sale, never corrupt one.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"cajapos/terminal/internal/backend"
	"cajapos/terminal/internal/cache"
	"cajapos/terminal/internal/cart"
	"cajapos/terminal/internal/cashsession"
	"cajapos/terminal/internal/credit"
	"cajapos/terminal/internal/domain"
	"cajapos/terminal/internal/fault"
	"cajapos/terminal/internal/payment"
	"cajapos/terminal/internal/stockledger"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Engine struct {
	mu          sync.Mutex
	backend     backend.Backend
	cache       cache.SnapshotCache
	terminalID  string
	snapshotTTL time.Duration

	cart       *cart.Cart
	allocator  *payment.Allocator
	customerID string
	// pendingIdem survives failed commits so a retry of the same sale reuses
	// the same idempotency key.
	pendingIdem string
}

func New(b backend.Backend, c cache.SnapshotCache, terminalID string, snapshotTTL time.Duration) *Engine {
	if c == nil {
		c = cache.NoopSnapshotCache{}
	}
	if terminalID == "" {
		terminalID = "terminal-1"
	}
	if snapshotTTL <= 0 {
		snapshotTTL = 5 * time.Second
	}
	return &Engine{
		backend:     b,
		cache:       c,
		terminalID:  terminalID,
		snapshotTTL: snapshotTTL,
		cart:        cart.New(),
		allocator:   payment.New(),
	}
}

func (e *Engine) TerminalID() string { return e.terminalID }

func actorName(ctx context.Context) string {
	if actor, ok := ActorFromContext(ctx); ok && actor.Username != "" {
		return actor.Username
	}
	return "terminal"
}

// ---- catalog and cart ----

func (e *Engine) Products(ctx context.Context) ([]domain.Product, error) {
	return e.backend.ListProducts(ctx)
}

func (e *Engine) AddItem(ctx context.Context, productID string, qty decimal.Decimal, tier domain.PriceTier) (domain.CartView, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	product, err := e.backend.GetProduct(ctx, productID)
	if err != nil {
		return domain.CartView{}, err
	}
	if !product.Active {
		return domain.CartView{}, fault.Validationf(fault.CodeInvalidInput, "product %s is inactive", product.Name)
	}
	available, err := e.cachedStock(ctx, productID)
	if err != nil {
		return domain.CartView{}, err
	}
	if err := e.cart.AddOrReplaceItem(*product, qty, tier, available); err != nil {
		return domain.CartView{}, err
	}
	return e.cart.View(), nil
}

func (e *Engine) UpdateItemQuantity(ctx context.Context, productID string, tier domain.PriceTier, qty decimal.Decimal) (domain.CartView, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	product, err := e.backend.GetProduct(ctx, productID)
	if err != nil {
		return domain.CartView{}, err
	}
	available, err := e.cachedStock(ctx, productID)
	if err != nil {
		return domain.CartView{}, err
	}
	if err := e.cart.UpdateQuantity(*product, tier, qty, available); err != nil {
		return domain.CartView{}, err
	}
	return e.cart.View(), nil
}

func (e *Engine) RemoveItem(_ context.Context, productID string, tier domain.PriceTier) domain.CartView {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.cart.RemoveItem(productID, tier)
	return e.cart.View()
}

func (e *Engine) ApplyDiscount(_ context.Context, value decimal.Decimal, kind domain.DiscountKind) (domain.CartView, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.cart.ApplyDiscount(value, kind); err != nil {
		return domain.CartView{}, err
	}
	return e.cart.View(), nil
}

func (e *Engine) SetTaxRate(_ context.Context, percent decimal.Decimal) (domain.CartView, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.cart.SetTaxRate(percent); err != nil {
		return domain.CartView{}, err
	}
	return e.cart.View(), nil
}

// ClearCart abandons the in-progress sale: items, discount, payment state and
// the bound customer all reset. The pending idempotency key is dropped too,
// since the next sale is a different sale.
func (e *Engine) ClearCart(_ context.Context) domain.CartView {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.cart.Clear()
	e.allocator.Reset()
	e.customerID = ""
	e.pendingIdem = ""
	return e.cart.View()
}

func (e *Engine) CartView(_ context.Context) domain.CartView {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.cart.View()
}

// ---- customer ----

// SetCustomer binds a customer to the in-progress sale. An empty id reverts
// to the walk-in customer.
func (e *Engine) SetCustomer(ctx context.Context, customerID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	customerID = strings.TrimSpace(customerID)
	if customerID == "" || customerID == domain.WalkInCustomerID {
		e.customerID = ""
		return nil
	}
	if _, err := e.backend.GetCustomer(ctx, customerID); err != nil {
		return err
	}
	e.customerID = customerID
	return nil
}

func (e *Engine) Customer(_ context.Context) string {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.customerID == "" {
		return domain.WalkInCustomerID
	}
	return e.customerID
}

// ---- payment ----

func (e *Engine) SetPaymentMethod(_ context.Context, alloc domain.PaymentAllocation) (payment.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.allocator.SetSingle(alloc); err != nil {
		return payment.Result{}, err
	}
	return e.allocator.Validate(e.cart.FinalTotal()), nil
}

func (e *Engine) SetTendered(_ context.Context, amount decimal.Decimal) (payment.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.allocator.SetTendered(amount); err != nil {
		return payment.Result{}, err
	}
	return e.allocator.Validate(e.cart.FinalTotal()), nil
}

func (e *Engine) ToggleMultiplePayment(_ context.Context, enabled bool) payment.Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.allocator.ToggleMultiple(enabled, e.cart.FinalTotal())
	return e.allocator.Validate(e.cart.FinalTotal())
}

func (e *Engine) AddAllocation(_ context.Context, alloc domain.PaymentAllocation) (payment.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.allocator.AddAllocation(alloc); err != nil {
		return payment.Result{}, err
	}
	return e.allocator.Validate(e.cart.FinalTotal()), nil
}

func (e *Engine) UpdateAllocation(_ context.Context, index int, alloc domain.PaymentAllocation) (payment.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.allocator.UpdateAllocation(index, alloc); err != nil {
		return payment.Result{}, err
	}
	return e.allocator.Validate(e.cart.FinalTotal()), nil
}

func (e *Engine) RemoveAllocation(_ context.Context, index int) (payment.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.allocator.RemoveAllocation(index); err != nil {
		return payment.Result{}, err
	}
	return e.allocator.Validate(e.cart.FinalTotal()), nil
}

func (e *Engine) PaymentState(_ context.Context) payment.Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.allocator.Validate(e.cart.FinalTotal())
}

// ---- commit pipeline ----

// CommitSale runs the precondition checks in a fixed order, then submits the
// sale. Every check re-reads the backend; the snapshot cache is never
// consulted here. On failure nothing changes and the pending idempotency key
// is kept so the retry dedupes server-side.
func (e *Engine) CommitSale(ctx context.Context) (*domain.SaleRecord, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cart.IsEmpty() {
		return nil, fault.Preconditionf(fault.CodeEmptyCart, "cannot commit an empty cart")
	}

	session, err := e.backend.GetCashSession(ctx)
	if err != nil {
		if errors.Is(err, fault.ErrNotFound) {
			return nil, fault.Preconditionf(fault.CodeCashSessionClosed, "no open cash session")
		}
		return nil, err
	}
	if !session.IsOpen {
		return nil, fault.Preconditionf(fault.CodeCashSessionClosed, "no open cash session")
	}

	finalTotal := e.cart.FinalTotal()
	result := e.allocator.Validate(finalTotal)
	if !result.Valid {
		return nil, fault.Validationf(fault.CodeInvalidAllocation, "%s", result.Reason)
	}
	allocations := e.allocator.Resolve(finalTotal)

	if e.allocator.Method() == domain.MethodCash {
		if e.allocator.Tendered().LessThan(finalTotal) {
			return nil, fault.Preconditionf(fault.CodeCashBelowTotal,
				"tendered %s is below the total %s", e.allocator.Tendered().String(), finalTotal.String())
		}
	}

	items := e.cart.Items()
	required := make(map[string]decimal.Decimal, len(items))
	names := make(map[string]string, len(items))
	productIDs := make([]string, 0, len(items))
	for _, item := range items {
		if _, seen := required[item.ProductID]; !seen {
			productIDs = append(productIDs, item.ProductID)
		}
		required[item.ProductID] = required[item.ProductID].Add(item.Quantity)
		names[item.ProductID] = item.ProductName
	}
	stockMap, err := e.backend.GetStockMap(ctx, productIDs)
	if err != nil {
		return nil, err
	}
	for _, id := range productIDs {
		if required[id].GreaterThan(stockMap[id]) {
			return nil, fault.Preconditionf(fault.CodeInsufficientStock,
				"insufficient stock for %s: requested %s, available %s",
				names[id], required[id].String(), stockMap[id].String())
		}
	}

	for customerID, amount := range credit.AccountExposure(allocations) {
		customer, err := e.backend.GetCustomer(ctx, customerID)
		if err != nil {
			return nil, err
		}
		if err := credit.CheckCapacity(*customer, amount); err != nil {
			return nil, err
		}
	}

	if e.pendingIdem == "" {
		e.pendingIdem = uuid.NewString()
	}

	soldBy := actorName(ctx)
	sale := domain.SaleRecord{
		IdempotencyKey: e.pendingIdem,
		TerminalID:     e.terminalID,
		Items:          items,
		Subtotal:       e.cart.Subtotal(),
		Discount:       e.cart.Discount(),
		Tax:            e.cart.TaxAmount(),
		Total:          finalTotal,
		CustomerID:     e.customerID,
		PaymentMethod:  e.allocator.Method(),
		Allocations:    allocations,
		AmountTendered: e.allocator.Tendered(),
		Change:         e.allocator.Change(finalTotal),
		Status:         domain.SaleCompleted,
		SoldBy:         soldBy,
	}

	created, duplicate, err := e.backend.CreateSale(ctx, sale)
	if err != nil {
		return nil, err
	}
	if duplicate {
		log.Printf("[engine] sale %s replayed via idempotency key", created.ID)
	}

	e.invalidateSnapshots(ctx, productIDs)
	e.logAudit(ctx, "sale_commit", "sale", created.ID,
		fmt.Sprintf("total=%s,method=%s,items=%d", created.Total.String(), created.PaymentMethod, len(created.Items)))

	e.cart.Clear()
	e.allocator.Reset()
	e.customerID = ""
	e.pendingIdem = ""

	return created, nil
}

// CancelSale reverses a committed sale. The in-progress cart is untouched.
func (e *Engine) CancelSale(ctx context.Context, saleID string, reason string) (*domain.SaleRecord, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, fault.Validationf(fault.CodeReasonRequired, "a cancellation reason is required")
	}

	cancelled, err := e.backend.CancelSale(ctx, saleID, strings.TrimSpace(reason), actorName(ctx))
	if err != nil {
		return nil, err
	}

	productIDs := make([]string, 0, len(cancelled.Items))
	for _, item := range cancelled.Items {
		productIDs = append(productIDs, item.ProductID)
	}
	e.invalidateSnapshots(ctx, productIDs)
	e.logAudit(ctx, "sale_cancel", "sale", cancelled.ID, "reason="+cancelled.CancelReason)

	return cancelled, nil
}

func (e *Engine) Sale(ctx context.Context, saleID string) (*domain.SaleRecord, error) {
	return e.backend.GetSale(ctx, saleID)
}

// ---- cash session ----

// SessionStatus is the reconciliation view for the current session.
type SessionStatus struct {
	Session      *domain.CashSession `json:"session"`
	ExpectedCash decimal.Decimal     `json:"expected_cash"`
	TotalIncome  decimal.Decimal     `json:"total_income"`
	TotalOutcome decimal.Decimal     `json:"total_outcome"`
	NetEarnings  decimal.Decimal     `json:"net_earnings"`
}

func (e *Engine) SessionStatus(ctx context.Context) (SessionStatus, error) {
	session, err := e.cachedSession(ctx)
	if err != nil {
		return SessionStatus{}, err
	}
	return SessionStatus{
		Session:      session,
		ExpectedCash: cashsession.ExpectedPhysicalCash(*session),
		TotalIncome:  cashsession.TotalIncome(session.Totals),
		TotalOutcome: cashsession.TotalOutcome(session.Totals),
		NetEarnings:  cashsession.NetEarnings(session.Totals),
	}, nil
}

func (e *Engine) OpenSession(ctx context.Context, openingAmount decimal.Decimal, notes string) (*domain.CashSession, error) {
	session, err := e.backend.OpenCashSession(ctx, openingAmount, notes, actorName(ctx))
	if err != nil {
		return nil, err
	}
	if cerr := e.cache.InvalidateSession(ctx); cerr != nil {
		log.Printf("[engine] WARN: session cache invalidation failed: %v", cerr)
	}
	e.logAudit(ctx, "session_open", "cash_session", session.ID, "opening="+session.OpeningAmount.String())
	return session, nil
}

func (e *Engine) CloseSession(ctx context.Context, notes string, physicalCount *decimal.Decimal) (*domain.CashSession, error) {
	session, err := e.backend.CloseCashSession(ctx, notes, physicalCount, actorName(ctx))
	if err != nil {
		return nil, err
	}
	if cerr := e.cache.InvalidateSession(ctx); cerr != nil {
		log.Printf("[engine] WARN: session cache invalidation failed: %v", cerr)
	}
	e.logAudit(ctx, "session_close", "cash_session", session.ID, "difference="+session.Difference.String())
	return session, nil
}

func (e *Engine) RecordMovement(ctx context.Context, movementType domain.CashMovementType, amount decimal.Decimal, description string) (*domain.CashMovement, error) {
	movement, err := e.backend.RecordCashMovement(ctx, movementType, amount, description, actorName(ctx))
	if err != nil {
		return nil, err
	}
	if cerr := e.cache.InvalidateSession(ctx); cerr != nil {
		log.Printf("[engine] WARN: session cache invalidation failed: %v", cerr)
	}
	e.logAudit(ctx, "cash_movement", "cash_movement", movement.ID,
		fmt.Sprintf("type=%s,amount=%s", movement.Type, movement.Amount.String()))
	return movement, nil
}

// ---- stock ----

func (e *Engine) StockLevel(ctx context.Context, productID string) (decimal.Decimal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.cachedStock(ctx, productID)
}

func (e *Engine) RecordStockEntry(ctx context.Context, productID string, qty decimal.Decimal, reason string) (*domain.StockMovement, error) {
	return e.recordStockMovement(ctx, productID, func(product domain.Product, previous decimal.Decimal) (domain.StockMovement, error) {
		return stockledger.Entry(product, previous, qty, reason, actorName(ctx))
	})
}

func (e *Engine) RecordStockExit(ctx context.Context, productID string, qty decimal.Decimal, reason string) (*domain.StockMovement, error) {
	return e.recordStockMovement(ctx, productID, func(product domain.Product, previous decimal.Decimal) (domain.StockMovement, error) {
		return stockledger.Exit(product, previous, qty, reason, actorName(ctx))
	})
}

func (e *Engine) RecordStockAdjustment(ctx context.Context, productID string, absolute decimal.Decimal, reason string) (*domain.StockMovement, error) {
	return e.recordStockMovement(ctx, productID, func(product domain.Product, previous decimal.Decimal) (domain.StockMovement, error) {
		return stockledger.Adjustment(product, previous, absolute, reason, actorName(ctx))
	})
}

// recordStockMovement reads the current level fresh from the backend, builds
// the ledger row, and submits it. The backend rejects the row if the level
// moved in between.
func (e *Engine) recordStockMovement(ctx context.Context, productID string, build func(domain.Product, decimal.Decimal) (domain.StockMovement, error)) (*domain.StockMovement, error) {
	product, err := e.backend.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	previous, err := e.backend.GetProductStock(ctx, productID)
	if err != nil {
		return nil, err
	}

	movement, err := build(*product, previous)
	if err != nil {
		return nil, err
	}
	created, err := e.backend.CreateStockMovement(ctx, movement)
	if err != nil {
		return nil, err
	}

	if cerr := e.cache.InvalidateStock(ctx, []string{productID}); cerr != nil {
		log.Printf("[engine] WARN: stock cache invalidation failed: %v", cerr)
	}
	e.logAudit(ctx, "stock_"+string(created.Type), "stock_movement", created.ID,
		fmt.Sprintf("product=%s,qty=%s,new=%s", created.ProductID, created.Quantity.String(), created.NewStock.String()))

	return created, nil
}

func (e *Engine) StockMovements(ctx context.Context, productID string, limit int) ([]domain.StockMovement, error) {
	return e.backend.ListStockMovements(ctx, productID, limit)
}

// ---- snapshot helpers ----

func (e *Engine) cachedStock(ctx context.Context, productID string) (decimal.Decimal, error) {
	if level, ok, err := e.cache.GetStock(ctx, productID); err == nil && ok {
		return level, nil
	} else if err != nil {
		log.Printf("[engine] WARN: stock cache read failed: %v", err)
	}

	level, err := e.backend.GetProductStock(ctx, productID)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if cerr := e.cache.SetStock(ctx, productID, level, e.snapshotTTL); cerr != nil {
		log.Printf("[engine] WARN: stock cache write failed: %v", cerr)
	}
	return level, nil
}

func (e *Engine) cachedSession(ctx context.Context) (*domain.CashSession, error) {
	if session, ok, err := e.cache.GetSession(ctx); err == nil && ok {
		return session, nil
	} else if err != nil {
		log.Printf("[engine] WARN: session cache read failed: %v", err)
	}

	session, err := e.backend.GetCashSession(ctx)
	if err != nil {
		return nil, err
	}
	if cerr := e.cache.SetSession(ctx, session, e.snapshotTTL); cerr != nil {
		log.Printf("[engine] WARN: session cache write failed: %v", cerr)
	}
	return session, nil
}

func (e *Engine) invalidateSnapshots(ctx context.Context, productIDs []string) {
	if err := e.cache.InvalidateSession(ctx); err != nil {
		log.Printf("[engine] WARN: session cache invalidation failed: %v", err)
	}
	if err := e.cache.InvalidateStock(ctx, productIDs); err != nil {
		log.Printf("[engine] WARN: stock cache invalidation failed: %v", err)
	}
}

// logAudit is best effort: a failed audit write never fails the operation.
func (e *Engine) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, _ := ActorFromContext(ctx)
	err := e.backend.CreateAuditLog(ctx, domain.AuditLog{
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	})
	if err != nil {
		log.Printf("[engine] WARN: audit log write failed action=%s: %v", action, err)
	}
}

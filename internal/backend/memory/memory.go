// Package memory is the in-process backend used in dev mode and in tests.
// One mutex makes every operation atomic, which is exactly the all-or-nothing
// behavior the contract demands from the real system.
package memory

import (
	"context"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"cajapos/terminal/internal/cashsession"
	"cajapos/terminal/internal/credit"
	"cajapos/terminal/internal/domain"
	"cajapos/terminal/internal/fault"
	"cajapos/terminal/internal/xid"
)

type Store struct {
	mu              sync.RWMutex
	products        map[string]domain.Product
	stock           map[string]decimal.Decimal
	customers       map[string]domain.Customer
	salesByID       map[string]*domain.SaleRecord
	salesByIdem     map[string]*domain.SaleRecord
	sessions        []domain.CashSession
	cashMovements   []domain.CashMovement
	stockMovements  []domain.StockMovement
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount
}

func New() *Store {
	return &Store{
		products:        make(map[string]domain.Product),
		stock:           make(map[string]decimal.Decimal),
		customers:       make(map[string]domain.Customer),
		salesByID:       make(map[string]*domain.SaleRecord),
		salesByIdem:     make(map[string]*domain.SaleRecord),
		auditLogs:       make([]domain.AuditLog, 0, 128),
		usersByUsername: make(map[string]domain.UserAccount),
	}
}

// NewSeeded returns a store preloaded with a small catalog (discrete and
// weighed products, both price tiers), the walk-in sentinel and two account
// customers. Used when no DATABASE_URL is configured.
func NewSeeded() *Store {
	s := New()

	products := []domain.Product{
		{ID: "prod-rice-01", Name: "Rice 1kg", UnitType: domain.UnitDiscrete, ListPrice: dec("520.00"), CashPrice: dec("480.00"), Active: true},
		{ID: "prod-oil-01", Name: "Sunflower Oil 900ml", UnitType: domain.UnitDiscrete, ListPrice: dec("980.00"), CashPrice: dec("930.00"), Active: true},
		{ID: "prod-soda-01", Name: "Soda 2.25L", UnitType: domain.UnitDiscrete, ListPrice: dec("850.00"), CashPrice: dec("790.00"), Active: true},
		{ID: "prod-bread-01", Name: "Bread (per kg)", UnitType: domain.UnitWeighed, ListPrice: dec("640.00"), CashPrice: dec("600.00"), Active: true},
		{ID: "prod-cheese-01", Name: "Cheese (per kg)", UnitType: domain.UnitWeighed, ListPrice: dec("2450.00"), CashPrice: dec("2300.00"), Active: true},
		{ID: "prod-soap-01", Name: "Laundry Soap", UnitType: domain.UnitDiscrete, ListPrice: dec("310.00"), CashPrice: dec("290.00"), Active: true},
	}
	for _, p := range products {
		s.products[p.ID] = p
		s.stock[p.ID] = dec("100")
	}

	customers := []domain.Customer{
		{ID: domain.WalkInCustomerID, Name: "Walk-in"},
		{ID: "cust-lopez", Name: "Familia Lopez", CurrentBalance: dec("0"), CreditLimit: dec("5000.00")},
		{ID: "cust-perez", Name: "Almacen Perez", CurrentBalance: dec("1200.00"), CreditLimit: dec("3000.00")},
	}
	for _, c := range customers {
		s.customers[c.ID] = c
	}

	s.usersByUsername = seedUsers()
	return s
}

func seedUsers() map[string]domain.UserAccount {
	now := time.Now().UTC()
	users := make(map[string]domain.UserAccount, 2)
	for _, u := range []struct {
		username string
		envKey   string
		fallback string
		role     string
	}{
		{"admin", "SEED_ADMIN_PASSWORD", "admin123", "admin"},
		{"cashier", "SEED_CASHIER_PASSWORD", "cashier123", "cashier"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(envOr(u.envKey, u.fallback)), bcrypt.DefaultCost)
		if err != nil {
			continue
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

// SetCustomer upserts a customer. Test hook mirroring a backend-side admin
// surface that is out of scope for the terminal.
func (s *Store) SetCustomer(c domain.Customer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.customers[c.ID] = c
}

// SetProduct upserts a product with an initial stock level.
func (s *Store) SetProduct(p domain.Product, stock decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = p
	s.stock[p.ID] = stock
}

func (s *Store) CreateSale(_ context.Context, sale domain.SaleRecord) (*domain.SaleRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sale.IdempotencyKey != "" {
		if existing, ok := s.salesByIdem[sale.IdempotencyKey]; ok {
			replay := cloneSale(*existing)
			return &replay, true, nil
		}
	}

	session := s.openSessionLocked()
	if session == nil {
		return nil, false, fault.Preconditionf(fault.CodeCashSessionClosed, "no open cash session")
	}
	if len(sale.Items) == 0 {
		return nil, false, fault.Validationf(fault.CodeEmptyCart, "sale has no items")
	}

	// Stock check across all items before any mutation.
	for _, item := range sale.Items {
		product, ok := s.products[item.ProductID]
		if !ok || !product.Active {
			return nil, false, fault.NotFoundf(fault.CodeNotFound, "product %s not found", item.ProductID)
		}
		if item.Quantity.GreaterThan(s.stock[item.ProductID]) {
			return nil, false, fault.Conflictf(fault.CodeStockConflict,
				"stock changed for %s: requested %s, available %s", product.Name, item.Quantity.String(), s.stock[item.ProductID].String())
		}
	}

	// Aggregate account exposure and check it against each customer's limit.
	exposure := credit.AccountExposure(sale.Allocations)
	for customerID, amount := range exposure {
		customer, ok := s.customers[customerID]
		if !ok {
			return nil, false, fault.NotFoundf(fault.CodeNotFound, "customer %s not found", customerID)
		}
		if err := credit.CheckCapacity(customer, amount); err != nil {
			return nil, false, err
		}
	}

	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}
	sale.Status = domain.SaleCompleted

	for _, item := range sale.Items {
		previous := s.stock[item.ProductID]
		next := previous.Sub(item.Quantity)
		s.stock[item.ProductID] = next
		s.stockMovements = append(s.stockMovements, domain.StockMovement{
			ID:            xid.New("mov"),
			ProductID:     item.ProductID,
			Type:          domain.StockExit,
			Quantity:      item.Quantity,
			PreviousStock: previous,
			NewStock:      next,
			Reason:        "sale " + sale.ID,
			UserID:        sale.SoldBy,
			CreatedAt:     sale.CreatedAt,
		})
	}

	for customerID, amount := range exposure {
		customer := s.customers[customerID]
		customer.CurrentBalance = customer.CurrentBalance.Add(amount)
		s.customers[customerID] = customer
	}

	cashsession.ApplySale(&session.Totals, sale.Allocations)

	stored := cloneSale(sale)
	s.salesByID[sale.ID] = &stored
	if sale.IdempotencyKey != "" {
		s.salesByIdem[sale.IdempotencyKey] = &stored
	}

	created := cloneSale(stored)
	return &created, false, nil
}

func (s *Store) CancelSale(_ context.Context, saleID string, reason string, userID string) (*domain.SaleRecord, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, fault.Validationf(fault.CodeReasonRequired, "a cancellation reason is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sale, ok := s.salesByID[saleID]
	if !ok {
		return nil, fault.NotFoundf(fault.CodeNotFound, "sale %s not found", saleID)
	}
	if sale.Status != domain.SaleCompleted {
		return nil, fault.Preconditionf(fault.CodeSaleNotCancellable, "sale %s is already %s", saleID, sale.Status)
	}

	session := s.openSessionLocked()
	if session == nil {
		return nil, fault.Preconditionf(fault.CodeCashSessionClosed, "no open cash session")
	}

	now := time.Now().UTC()
	for _, item := range sale.Items {
		previous := s.stock[item.ProductID]
		next := previous.Add(item.Quantity)
		s.stock[item.ProductID] = next
		s.stockMovements = append(s.stockMovements, domain.StockMovement{
			ID:            xid.New("mov"),
			ProductID:     item.ProductID,
			Type:          domain.StockEntry,
			Quantity:      item.Quantity,
			PreviousStock: previous,
			NewStock:      next,
			Reason:        "cancellation of sale " + sale.ID,
			UserID:        userID,
			CreatedAt:     now,
		})
	}

	for customerID, amount := range credit.AccountExposure(sale.Allocations) {
		if customer, ok := s.customers[customerID]; ok {
			customer.CurrentBalance = customer.CurrentBalance.Sub(amount)
			s.customers[customerID] = customer
		}
	}

	cashsession.ApplyCancellation(&session.Totals, *sale)

	sale.Status = domain.SaleCancelled
	sale.CancelReason = strings.TrimSpace(reason)
	sale.CancelledAt = &now

	cancelled := cloneSale(*sale)
	return &cancelled, nil
}

func (s *Store) GetSale(_ context.Context, saleID string) (*domain.SaleRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.salesByID[saleID]
	if !ok {
		return nil, fault.NotFoundf(fault.CodeNotFound, "sale %s not found", saleID)
	}
	found := cloneSale(*sale)
	return &found, nil
}

func (s *Store) GetCashSession(_ context.Context) (*domain.CashSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.sessions) == 0 {
		return nil, fault.NotFoundf(fault.CodeNotFound, "no cash session recorded")
	}
	latest := s.sessions[len(s.sessions)-1]
	return &latest, nil
}

func (s *Store) OpenCashSession(_ context.Context, openingAmount decimal.Decimal, notes string, userID string) (*domain.CashSession, error) {
	if openingAmount.IsNegative() {
		return nil, fault.Validationf(fault.CodeInvalidAmount, "opening amount must not be negative")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.openSessionLocked() != nil {
		return nil, fault.Preconditionf(fault.CodeSessionAlreadyOpen, "a cash session is already open")
	}

	session := domain.CashSession{
		ID:            xid.New("sess"),
		OpeningAmount: openingAmount,
		OpeningNotes:  strings.TrimSpace(notes),
		OpenedBy:      userID,
		OpenedAt:      time.Now().UTC(),
		IsOpen:        true,
	}
	s.sessions = append(s.sessions, session)
	opened := session
	return &opened, nil
}

func (s *Store) CloseCashSession(_ context.Context, notes string, physicalCount *decimal.Decimal, userID string) (*domain.CashSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session := s.openSessionLocked()
	if session == nil {
		return nil, fault.Preconditionf(fault.CodeCashSessionClosed, "no open cash session")
	}

	closed, err := cashsession.Close(*session, physicalCount, strings.TrimSpace(notes), userID, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	*session = closed
	result := closed
	return &result, nil
}

func (s *Store) RecordCashMovement(_ context.Context, movementType domain.CashMovementType, amount decimal.Decimal, description string, userID string) (*domain.CashMovement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session := s.openSessionLocked()
	if session == nil {
		return nil, fault.Preconditionf(fault.CodeCashSessionClosed, "no open cash session")
	}
	if err := cashsession.ApplyMovement(&session.Totals, movementType, amount); err != nil {
		return nil, err
	}

	movement := domain.CashMovement{
		ID:          xid.New("cmv"),
		SessionID:   session.ID,
		Type:        movementType,
		Amount:      amount,
		Description: strings.TrimSpace(description),
		RecordedBy:  userID,
		CreatedAt:   time.Now().UTC(),
	}
	s.cashMovements = append(s.cashMovements, movement)
	recorded := movement
	return &recorded, nil
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if !p.Active {
			continue
		}
		products = append(products, p)
	}
	return products, nil
}

func (s *Store) GetProduct(_ context.Context, productID string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, ok := s.products[productID]
	if !ok {
		return nil, fault.NotFoundf(fault.CodeNotFound, "product %s not found", productID)
	}
	found := product
	return &found, nil
}

func (s *Store) GetProductStock(_ context.Context, productID string) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.products[productID]; !ok {
		return decimal.Decimal{}, fault.NotFoundf(fault.CodeNotFound, "product %s not found", productID)
	}
	return s.stock[productID], nil
}

func (s *Store) GetStockMap(_ context.Context, productIDs []string) (map[string]decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stockMap := make(map[string]decimal.Decimal, len(productIDs))
	for _, id := range productIDs {
		stockMap[id] = s.stock[id]
	}
	return stockMap, nil
}

func (s *Store) CreateStockMovement(_ context.Context, movement domain.StockMovement) (*domain.StockMovement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.products[movement.ProductID]; !ok {
		return nil, fault.NotFoundf(fault.CodeNotFound, "product %s not found", movement.ProductID)
	}
	if !s.stock[movement.ProductID].Equal(movement.PreviousStock) {
		return nil, fault.Conflictf(fault.CodeStockConflict,
			"stock for %s moved from %s to %s since it was read",
			movement.ProductID, movement.PreviousStock.String(), s.stock[movement.ProductID].String())
	}
	if movement.NewStock.IsNegative() {
		return nil, fault.Preconditionf(fault.CodeInsufficientStock, "movement would drive stock below zero")
	}

	if movement.ID == "" {
		movement.ID = xid.New("mov")
	}
	if movement.CreatedAt.IsZero() {
		movement.CreatedAt = time.Now().UTC()
	}
	s.stock[movement.ProductID] = movement.NewStock
	s.stockMovements = append(s.stockMovements, movement)
	created := movement
	return &created, nil
}

func (s *Store) ListStockMovements(_ context.Context, productID string, limit int) ([]domain.StockMovement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit < 1 {
		limit = 100
	}
	result := make([]domain.StockMovement, 0, limit)
	for i := len(s.stockMovements) - 1; i >= 0 && len(result) < limit; i-- {
		movement := s.stockMovements[i]
		if productID != "" && movement.ProductID != productID {
			continue
		}
		result = append(result, movement)
	}
	return result, nil
}

func (s *Store) GetCustomer(_ context.Context, customerID string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customer, ok := s.customers[customerID]
	if !ok {
		return nil, fault.NotFoundf(fault.CodeNotFound, "customer %s not found", customerID)
	}
	found := customer
	return &found, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

// AuditLogs returns a copy of the audit trail, newest last. Test hook.
func (s *Store) AuditLogs() []domain.AuditLog {
	s.mu.RLock()
	defer s.mu.RUnlock()

	logs := make([]domain.AuditLog, len(s.auditLogs))
	copy(logs, s.auditLogs)
	return logs
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.usersByUsername[user.Username]; exists {
		return fault.Conflictf(fault.CodeInvalidInput, "username %s already exists", user.Username)
	}
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.usersByUsername[username]
	if !ok {
		return fault.NotFoundf(fault.CodeNotFound, "user %s not found", username)
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

// openSessionLocked returns a pointer into the sessions slice for the open
// session, or nil. Callers must hold the write lock when mutating through it.
func (s *Store) openSessionLocked() *domain.CashSession {
	for i := len(s.sessions) - 1; i >= 0; i-- {
		if s.sessions[i].IsOpen {
			return &s.sessions[i]
		}
	}
	return nil
}

func cloneSale(sale domain.SaleRecord) domain.SaleRecord {
	items := make([]domain.LineItem, len(sale.Items))
	copy(items, sale.Items)
	allocations := make([]domain.PaymentAllocation, len(sale.Allocations))
	copy(allocations, sale.Allocations)
	sale.Items = items
	sale.Allocations = allocations
	return sale
}

func dec(value string) decimal.Decimal {
	d, _ := decimal.NewFromString(value)
	return d
}

func envOr(key string, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

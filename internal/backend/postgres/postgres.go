// Package postgres implements the backend contract on PostgreSQL. Sale
// commit and cancellation run in serializable transactions so stock, session
// buckets and customer balances move atomically.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"cajapos/terminal/internal/cashsession"
	"cajapos/terminal/internal/credit"
	"cajapos/terminal/internal/domain"
	"cajapos/terminal/internal/fault"
	"cajapos/terminal/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	store := &Store{db: db}
	if err := store.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ensureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS products (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			unit_type TEXT NOT NULL,
			list_price NUMERIC(12,2) NOT NULL,
			cash_price NUMERIC(12,2) NOT NULL,
			active BOOLEAN NOT NULL DEFAULT true
		)`,
		`CREATE TABLE IF NOT EXISTS product_stocks (
			product_id TEXT PRIMARY KEY REFERENCES products(id),
			qty NUMERIC(14,3) NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS customers (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			current_balance NUMERIC(12,2) NOT NULL DEFAULT 0,
			credit_limit NUMERIC(12,2) NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS sales (
			id TEXT PRIMARY KEY,
			idempotency_key TEXT NOT NULL UNIQUE,
			terminal_id TEXT NOT NULL,
			items JSONB NOT NULL,
			subtotal NUMERIC(12,2) NOT NULL,
			discount NUMERIC(12,2) NOT NULL,
			tax NUMERIC(12,2) NOT NULL,
			total NUMERIC(12,2) NOT NULL,
			customer_id TEXT,
			payment_method TEXT NOT NULL,
			allocations JSONB NOT NULL,
			amount_tendered NUMERIC(12,2) NOT NULL,
			change NUMERIC(12,2) NOT NULL,
			status TEXT NOT NULL,
			cancel_reason TEXT,
			cancelled_at TIMESTAMPTZ,
			sold_by TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS cash_sessions (
			id TEXT PRIMARY KEY,
			opening_amount NUMERIC(12,2) NOT NULL,
			opening_notes TEXT NOT NULL DEFAULT '',
			opened_by TEXT NOT NULL,
			opened_at TIMESTAMPTZ NOT NULL,
			is_open BOOLEAN NOT NULL,
			totals JSONB NOT NULL,
			closing_amount NUMERIC(12,2),
			difference NUMERIC(12,2),
			closing_notes TEXT NOT NULL DEFAULT '',
			closed_by TEXT NOT NULL DEFAULT '',
			closed_at TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS cash_movements (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES cash_sessions(id),
			type TEXT NOT NULL,
			amount NUMERIC(12,2) NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			recorded_by TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS stock_movements (
			id TEXT PRIMARY KEY,
			product_id TEXT NOT NULL REFERENCES products(id),
			type TEXT NOT NULL,
			quantity NUMERIC(14,3) NOT NULL,
			previous_stock NUMERIC(14,3) NOT NULL,
			new_stock NUMERIC(14,3) NOT NULL,
			reason TEXT NOT NULL,
			user_id TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS audit_logs (
			id TEXT PRIMARY KEY,
			actor_username TEXT NOT NULL,
			actor_role TEXT NOT NULL,
			action TEXT NOT NULL,
			entity_type TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			detail TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS users (
			username TEXT PRIMARY KEY,
			password TEXT NOT NULL,
			role TEXT NOT NULL,
			active BOOLEAN NOT NULL DEFAULT true,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_stock_movements_product ON stock_movements (product_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_cash_sessions_opened ON cash_sessions (opened_at DESC)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// wrap turns driver-level failures into backend-unavailable faults while
// letting already-typed faults pass through.
func wrap(err error) error {
	if err == nil {
		return nil
	}
	var fe *fault.Error
	if errors.As(err, &fe) {
		return err
	}
	return fault.Unavailable(err)
}

func (s *Store) CreateSale(ctx context.Context, sale domain.SaleRecord) (*domain.SaleRecord, bool, error) {
	if sale.IdempotencyKey == "" || len(sale.Items) == 0 {
		return nil, false, fault.Validationf(fault.CodeInvalidInput, "sale requires items and an idempotency key")
	}

	if existing, err := s.findSale(ctx, "idempotency_key", sale.IdempotencyKey); err == nil {
		return existing, true, nil
	} else if !errors.Is(err, fault.ErrNotFound) {
		return nil, false, err
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, false, wrap(err)
	}
	defer func() { _ = tx.Rollback() }()

	session, err := lockOpenSession(ctx, tx)
	if err != nil {
		return nil, false, err
	}

	now := time.Now().UTC()
	for _, item := range sale.Items {
		var current decimal.Decimal
		err := tx.QueryRowContext(ctx, `
			SELECT qty FROM product_stocks WHERE product_id = $1 FOR UPDATE
		`, item.ProductID).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, fault.NotFoundf(fault.CodeNotFound, "product %s not found", item.ProductID)
		}
		if err != nil {
			return nil, false, wrap(err)
		}
		if item.Quantity.GreaterThan(current) {
			return nil, false, fault.Conflictf(fault.CodeStockConflict,
				"stock for %s changed: %s requested, %s on hand", item.ProductName, item.Quantity.String(), current.String())
		}

		next := current.Sub(item.Quantity)
		if _, err := tx.ExecContext(ctx, `
			UPDATE product_stocks SET qty = $1, updated_at = now() WHERE product_id = $2
		`, next, item.ProductID); err != nil {
			return nil, false, wrap(err)
		}
		if err := insertStockMovement(ctx, tx, domain.StockMovement{
			ID:            xid.New("mov"),
			ProductID:     item.ProductID,
			Type:          domain.StockExit,
			Quantity:      item.Quantity,
			PreviousStock: current,
			NewStock:      next,
			Reason:        "sale " + sale.ID,
			UserID:        sale.SoldBy,
			CreatedAt:     now,
		}); err != nil {
			return nil, false, err
		}
	}

	for customerID, amount := range credit.AccountExposure(sale.Allocations) {
		var customer domain.Customer
		err := tx.QueryRowContext(ctx, `
			SELECT id, name, current_balance, credit_limit FROM customers WHERE id = $1 FOR UPDATE
		`, customerID).Scan(&customer.ID, &customer.Name, &customer.CurrentBalance, &customer.CreditLimit)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, fault.NotFoundf(fault.CodeNotFound, "customer %s not found", customerID)
		}
		if err != nil {
			return nil, false, wrap(err)
		}
		if err := credit.CheckCapacity(customer, amount); err != nil {
			return nil, false, err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE customers SET current_balance = current_balance + $1 WHERE id = $2
		`, amount, customerID); err != nil {
			return nil, false, wrap(err)
		}
	}

	cashsession.ApplySale(&session.Totals, sale.Allocations)
	if err := updateSessionTotals(ctx, tx, session); err != nil {
		return nil, false, err
	}

	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = now
	}
	sale.Status = domain.SaleCompleted

	itemsJSON, err := json.Marshal(sale.Items)
	if err != nil {
		return nil, false, wrap(err)
	}
	allocJSON, err := json.Marshal(sale.Allocations)
	if err != nil {
		return nil, false, wrap(err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sales (
			id, idempotency_key, terminal_id, items, subtotal, discount, tax, total,
			customer_id, payment_method, allocations, amount_tendered, change,
			status, cancel_reason, cancelled_at, sold_by, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
	`, sale.ID, sale.IdempotencyKey, sale.TerminalID, itemsJSON, sale.Subtotal, sale.Discount,
		sale.Tax, sale.Total, nullIfEmpty(sale.CustomerID), sale.PaymentMethod, allocJSON,
		sale.AmountTendered, sale.Change, sale.Status, nullIfEmpty(sale.CancelReason),
		nullTime(sale.CancelledAt), sale.SoldBy, sale.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			existing, lookupErr := s.findSale(ctx, "idempotency_key", sale.IdempotencyKey)
			if lookupErr == nil {
				return existing, true, nil
			}
		}
		return nil, false, wrap(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, wrap(err)
	}
	return &sale, false, nil
}

func (s *Store) CancelSale(ctx context.Context, saleID string, reason string, userID string) (*domain.SaleRecord, error) {
	if reason == "" {
		return nil, fault.Validationf(fault.CodeReasonRequired, "a cancellation reason is required")
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, wrap(err)
	}
	defer func() { _ = tx.Rollback() }()

	sale, err := scanSale(tx.QueryRowContext(ctx, saleQuery+` WHERE id = $1 FOR UPDATE`, saleID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fault.NotFoundf(fault.CodeNotFound, "sale %s not found", saleID)
	}
	if err != nil {
		return nil, wrap(err)
	}
	if sale.Status != domain.SaleCompleted {
		return nil, fault.Preconditionf(fault.CodeSaleNotCancellable, "sale %s is already %s", saleID, sale.Status)
	}

	session, err := lockOpenSession(ctx, tx)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	for _, item := range sale.Items {
		var current decimal.Decimal
		err := tx.QueryRowContext(ctx, `
			SELECT qty FROM product_stocks WHERE product_id = $1 FOR UPDATE
		`, item.ProductID).Scan(&current)
		if err != nil {
			return nil, wrap(err)
		}
		next := current.Add(item.Quantity)
		if _, err := tx.ExecContext(ctx, `
			UPDATE product_stocks SET qty = $1, updated_at = now() WHERE product_id = $2
		`, next, item.ProductID); err != nil {
			return nil, wrap(err)
		}
		if err := insertStockMovement(ctx, tx, domain.StockMovement{
			ID:            xid.New("mov"),
			ProductID:     item.ProductID,
			Type:          domain.StockEntry,
			Quantity:      item.Quantity,
			PreviousStock: current,
			NewStock:      next,
			Reason:        "cancellation of sale " + sale.ID,
			UserID:        userID,
			CreatedAt:     now,
		}); err != nil {
			return nil, err
		}
	}

	for customerID, amount := range credit.AccountExposure(sale.Allocations) {
		if _, err := tx.ExecContext(ctx, `
			UPDATE customers SET current_balance = current_balance - $1 WHERE id = $2
		`, amount, customerID); err != nil {
			return nil, wrap(err)
		}
	}

	cashsession.ApplyCancellation(&session.Totals, *sale)
	if err := updateSessionTotals(ctx, tx, session); err != nil {
		return nil, err
	}

	sale.Status = domain.SaleCancelled
	sale.CancelReason = reason
	sale.CancelledAt = &now
	if _, err := tx.ExecContext(ctx, `
		UPDATE sales SET status = $1, cancel_reason = $2, cancelled_at = $3 WHERE id = $4
	`, sale.Status, sale.CancelReason, sale.CancelledAt, sale.ID); err != nil {
		return nil, wrap(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, wrap(err)
	}
	return sale, nil
}

const saleQuery = `
	SELECT id, idempotency_key, terminal_id, items, subtotal, discount, tax, total,
		COALESCE(customer_id, ''), payment_method, allocations, amount_tendered, change,
		status, COALESCE(cancel_reason, ''), cancelled_at, sold_by, created_at
	FROM sales`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSale(row rowScanner) (*domain.SaleRecord, error) {
	var sale domain.SaleRecord
	var itemsJSON, allocJSON []byte
	var cancelledAt sql.NullTime
	err := row.Scan(&sale.ID, &sale.IdempotencyKey, &sale.TerminalID, &itemsJSON,
		&sale.Subtotal, &sale.Discount, &sale.Tax, &sale.Total, &sale.CustomerID,
		&sale.PaymentMethod, &allocJSON, &sale.AmountTendered, &sale.Change,
		&sale.Status, &sale.CancelReason, &cancelledAt, &sale.SoldBy, &sale.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(itemsJSON, &sale.Items); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(allocJSON, &sale.Allocations); err != nil {
		return nil, err
	}
	if cancelledAt.Valid {
		t := cancelledAt.Time.UTC()
		sale.CancelledAt = &t
	}
	sale.CreatedAt = sale.CreatedAt.UTC()
	return &sale, nil
}

func (s *Store) findSale(ctx context.Context, column string, value string) (*domain.SaleRecord, error) {
	sale, err := scanSale(s.db.QueryRowContext(ctx, saleQuery+` WHERE `+column+` = $1`, value))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fault.NotFoundf(fault.CodeNotFound, "sale not found")
	}
	if err != nil {
		return nil, wrap(err)
	}
	return sale, nil
}

func (s *Store) GetSale(ctx context.Context, saleID string) (*domain.SaleRecord, error) {
	return s.findSale(ctx, "id", saleID)
}

const sessionQuery = `
	SELECT id, opening_amount, opening_notes, opened_by, opened_at, is_open, totals,
		closing_amount, difference, closing_notes, closed_by, closed_at
	FROM cash_sessions`

func scanSession(row rowScanner) (*domain.CashSession, error) {
	var session domain.CashSession
	var totalsJSON []byte
	var closingAmount, difference decimal.NullDecimal
	var closedAt sql.NullTime
	err := row.Scan(&session.ID, &session.OpeningAmount, &session.OpeningNotes,
		&session.OpenedBy, &session.OpenedAt, &session.IsOpen, &totalsJSON,
		&closingAmount, &difference, &session.ClosingNotes, &session.ClosedBy, &closedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(totalsJSON, &session.Totals); err != nil {
		return nil, err
	}
	if closingAmount.Valid {
		session.ClosingAmount = &closingAmount.Decimal
	}
	if difference.Valid {
		session.Difference = &difference.Decimal
	}
	if closedAt.Valid {
		t := closedAt.Time.UTC()
		session.ClosedAt = &t
	}
	session.OpenedAt = session.OpenedAt.UTC()
	return &session, nil
}

// lockOpenSession loads the open session under FOR UPDATE so concurrent
// commits serialize their bucket updates.
func lockOpenSession(ctx context.Context, tx *sql.Tx) (*domain.CashSession, error) {
	session, err := scanSession(tx.QueryRowContext(ctx, sessionQuery+` WHERE is_open = true ORDER BY opened_at DESC LIMIT 1 FOR UPDATE`))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fault.Preconditionf(fault.CodeCashSessionClosed, "no open cash session")
	}
	if err != nil {
		return nil, wrap(err)
	}
	return session, nil
}

func updateSessionTotals(ctx context.Context, tx *sql.Tx, session *domain.CashSession) error {
	totalsJSON, err := json.Marshal(session.Totals)
	if err != nil {
		return wrap(err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE cash_sessions SET totals = $1 WHERE id = $2
	`, totalsJSON, session.ID); err != nil {
		return wrap(err)
	}
	return nil
}

func (s *Store) GetCashSession(ctx context.Context) (*domain.CashSession, error) {
	session, err := scanSession(s.db.QueryRowContext(ctx, sessionQuery+` ORDER BY opened_at DESC LIMIT 1`))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fault.NotFoundf(fault.CodeNotFound, "no cash session has been opened")
	}
	if err != nil {
		return nil, wrap(err)
	}
	return session, nil
}

func (s *Store) OpenCashSession(ctx context.Context, openingAmount decimal.Decimal, notes string, userID string) (*domain.CashSession, error) {
	if openingAmount.IsNegative() {
		return nil, fault.Validationf(fault.CodeInvalidAmount, "opening amount must not be negative")
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, wrap(err)
	}
	defer func() { _ = tx.Rollback() }()

	var openCount int
	if err := tx.QueryRowContext(ctx, `SELECT count(*) FROM cash_sessions WHERE is_open = true`).Scan(&openCount); err != nil {
		return nil, wrap(err)
	}
	if openCount > 0 {
		return nil, fault.Preconditionf(fault.CodeSessionAlreadyOpen, "a cash session is already open")
	}

	session := domain.CashSession{
		ID:            xid.New("cs"),
		OpeningAmount: openingAmount,
		OpeningNotes:  notes,
		OpenedBy:      userID,
		OpenedAt:      time.Now().UTC(),
		IsOpen:        true,
	}
	totalsJSON, err := json.Marshal(session.Totals)
	if err != nil {
		return nil, wrap(err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO cash_sessions (id, opening_amount, opening_notes, opened_by, opened_at, is_open, totals)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, session.ID, session.OpeningAmount, session.OpeningNotes, session.OpenedBy, session.OpenedAt, session.IsOpen, totalsJSON); err != nil {
		return nil, wrap(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, wrap(err)
	}
	return &session, nil
}

func (s *Store) CloseCashSession(ctx context.Context, notes string, physicalCount *decimal.Decimal, userID string) (*domain.CashSession, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, wrap(err)
	}
	defer func() { _ = tx.Rollback() }()

	session, err := lockOpenSession(ctx, tx)
	if err != nil {
		return nil, err
	}

	closed, err := cashsession.Close(*session, physicalCount, notes, userID, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE cash_sessions
		SET is_open = false, closing_amount = $1, difference = $2, closing_notes = $3, closed_by = $4, closed_at = $5
		WHERE id = $6
	`, *closed.ClosingAmount, *closed.Difference, closed.ClosingNotes, closed.ClosedBy, closed.ClosedAt, closed.ID); err != nil {
		return nil, wrap(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, wrap(err)
	}
	return &closed, nil
}

func (s *Store) RecordCashMovement(ctx context.Context, movementType domain.CashMovementType, amount decimal.Decimal, description string, userID string) (*domain.CashMovement, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, wrap(err)
	}
	defer func() { _ = tx.Rollback() }()

	session, err := lockOpenSession(ctx, tx)
	if err != nil {
		return nil, err
	}
	if err := cashsession.ApplyMovement(&session.Totals, movementType, amount); err != nil {
		return nil, err
	}
	if err := updateSessionTotals(ctx, tx, session); err != nil {
		return nil, err
	}

	movement := domain.CashMovement{
		ID:          xid.New("cm"),
		SessionID:   session.ID,
		Type:        movementType,
		Amount:      amount,
		Description: description,
		RecordedBy:  userID,
		CreatedAt:   time.Now().UTC(),
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO cash_movements (id, session_id, type, amount, description, recorded_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, movement.ID, movement.SessionID, movement.Type, movement.Amount, movement.Description, movement.RecordedBy, movement.CreatedAt); err != nil {
		return nil, wrap(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, wrap(err)
	}
	return &movement, nil
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, unit_type, list_price, cash_price, active
		FROM products
		WHERE active = true
		ORDER BY name
	`)
	if err != nil {
		return nil, wrap(err)
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.UnitType, &p.ListPrice, &p.CashPrice, &p.Active); err != nil {
			return nil, wrap(err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap(err)
	}
	return products, nil
}

func (s *Store) GetProduct(ctx context.Context, productID string) (*domain.Product, error) {
	var p domain.Product
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, unit_type, list_price, cash_price, active
		FROM products
		WHERE id = $1
	`, productID).Scan(&p.ID, &p.Name, &p.UnitType, &p.ListPrice, &p.CashPrice, &p.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fault.NotFoundf(fault.CodeNotFound, "product %s not found", productID)
	}
	if err != nil {
		return nil, wrap(err)
	}
	return &p, nil
}

func (s *Store) GetProductStock(ctx context.Context, productID string) (decimal.Decimal, error) {
	var qty decimal.Decimal
	err := s.db.QueryRowContext(ctx, `
		SELECT qty FROM product_stocks WHERE product_id = $1
	`, productID).Scan(&qty)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Decimal{}, fault.NotFoundf(fault.CodeNotFound, "product %s not found", productID)
	}
	if err != nil {
		return decimal.Decimal{}, wrap(err)
	}
	return qty, nil
}

func (s *Store) GetStockMap(ctx context.Context, productIDs []string) (map[string]decimal.Decimal, error) {
	stockMap := make(map[string]decimal.Decimal, len(productIDs))
	if len(productIDs) == 0 {
		return stockMap, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT product_id, qty
		FROM product_stocks
		WHERE product_id = ANY($1)
	`, productIDs)
	if err != nil {
		return nil, wrap(err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var qty decimal.Decimal
		if err := rows.Scan(&id, &qty); err != nil {
			return nil, wrap(err)
		}
		stockMap[id] = qty
	}
	if err := rows.Err(); err != nil {
		return nil, wrap(err)
	}

	for _, id := range productIDs {
		if _, ok := stockMap[id]; !ok {
			stockMap[id] = decimal.Decimal{}
		}
	}
	return stockMap, nil
}

func (s *Store) CreateStockMovement(ctx context.Context, movement domain.StockMovement) (*domain.StockMovement, error) {
	if movement.NewStock.IsNegative() {
		return nil, fault.Validationf(fault.CodeInvalidQuantity, "stock must not go negative")
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, wrap(err)
	}
	defer func() { _ = tx.Rollback() }()

	var current decimal.Decimal
	err = tx.QueryRowContext(ctx, `
		SELECT qty FROM product_stocks WHERE product_id = $1 FOR UPDATE
	`, movement.ProductID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fault.NotFoundf(fault.CodeNotFound, "product %s not found", movement.ProductID)
	}
	if err != nil {
		return nil, wrap(err)
	}
	if !current.Equal(movement.PreviousStock) {
		return nil, fault.Conflictf(fault.CodeStockConflict,
			"stock for %s changed: read %s, now %s", movement.ProductID, movement.PreviousStock.String(), current.String())
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE product_stocks SET qty = $1, updated_at = now() WHERE product_id = $2
	`, movement.NewStock, movement.ProductID); err != nil {
		return nil, wrap(err)
	}

	if movement.ID == "" {
		movement.ID = xid.New("mov")
	}
	if movement.CreatedAt.IsZero() {
		movement.CreatedAt = time.Now().UTC()
	}
	if err := insertStockMovement(ctx, tx, movement); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, wrap(err)
	}
	return &movement, nil
}

func insertStockMovement(ctx context.Context, tx *sql.Tx, movement domain.StockMovement) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO stock_movements (id, product_id, type, quantity, previous_stock, new_stock, reason, user_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, movement.ID, movement.ProductID, movement.Type, movement.Quantity, movement.PreviousStock,
		movement.NewStock, movement.Reason, movement.UserID, movement.CreatedAt); err != nil {
		return wrap(err)
	}
	return nil
}

func (s *Store) ListStockMovements(ctx context.Context, productID string, limit int) ([]domain.StockMovement, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, product_id, type, quantity, previous_stock, new_stock, reason, user_id, created_at
		FROM stock_movements
		WHERE ($1 = '' OR product_id = $1)
		ORDER BY created_at DESC
		LIMIT $2
	`, productID, limit)
	if err != nil {
		return nil, wrap(err)
	}
	defer rows.Close()

	movements := make([]domain.StockMovement, 0, limit)
	for rows.Next() {
		var m domain.StockMovement
		if err := rows.Scan(&m.ID, &m.ProductID, &m.Type, &m.Quantity, &m.PreviousStock, &m.NewStock, &m.Reason, &m.UserID, &m.CreatedAt); err != nil {
			return nil, wrap(err)
		}
		m.CreatedAt = m.CreatedAt.UTC()
		movements = append(movements, m)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap(err)
	}
	return movements, nil
}

func (s *Store) GetCustomer(ctx context.Context, customerID string) (*domain.Customer, error) {
	var c domain.Customer
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, current_balance, credit_limit FROM customers WHERE id = $1
	`, customerID).Scan(&c.ID, &c.Name, &c.CurrentBalance, &c.CreditLimit)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fault.NotFoundf(fault.CodeNotFound, "customer %s not found", customerID)
	}
	if err != nil {
		return nil, wrap(err)
	}
	return &c, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return wrap(err)
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password, role, active, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if isUniqueViolation(err) {
		return fault.Conflictf(fault.CodeInvalidInput, "username %s already exists", user.Username)
	}
	return wrap(err)
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at FROM users ORDER BY username
	`)
	if err != nil {
		return nil, wrap(err)
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 8)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, wrap(err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap(err)
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET password = $1 WHERE username = $2
	`, password, username)
	if err != nil {
		return wrap(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return wrap(err)
	}
	if affected == 0 {
		return fault.NotFoundf(fault.CodeNotFound, "user not found")
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}

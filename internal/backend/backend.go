// Package backend defines the contract the terminal core needs from the
// remote system: sale submission and reversal, cash-session lifecycle,
// product stock, customers and audit rows. Implementations: memory (dev and
// tests), postgres (pgx) and httpclient (remote HTTP/JSON service).
package backend

import (
	"context"

	"github.com/shopspring/decimal"

	"cajapos/terminal/internal/domain"
)

type Backend interface {
	// CreateSale commits a sale atomically: stock decrements, session
	// buckets and customer balances move together or not at all. The
	// idempotency key dedupes retries; a replay returns the original record
	// with duplicate=true and no state change.
	CreateSale(ctx context.Context, sale domain.SaleRecord) (created *domain.SaleRecord, duplicate bool, err error)
	// CancelSale reverses a committed sale's stock and financial movements.
	CancelSale(ctx context.Context, saleID string, reason string, userID string) (*domain.SaleRecord, error)
	GetSale(ctx context.Context, saleID string) (*domain.SaleRecord, error)

	// GetCashSession returns the most recent session, open or closed;
	// fault.ErrNotFound when none was ever opened.
	GetCashSession(ctx context.Context) (*domain.CashSession, error)
	OpenCashSession(ctx context.Context, openingAmount decimal.Decimal, notes string, userID string) (*domain.CashSession, error)
	CloseCashSession(ctx context.Context, notes string, physicalCount *decimal.Decimal, userID string) (*domain.CashSession, error)
	RecordCashMovement(ctx context.Context, movementType domain.CashMovementType, amount decimal.Decimal, description string, userID string) (*domain.CashMovement, error)

	ListProducts(ctx context.Context) ([]domain.Product, error)
	GetProduct(ctx context.Context, productID string) (*domain.Product, error)
	GetProductStock(ctx context.Context, productID string) (decimal.Decimal, error)
	GetStockMap(ctx context.Context, productIDs []string) (map[string]decimal.Decimal, error)
	// CreateStockMovement appends the ledger row and applies NewStock,
	// rejecting with fault.ErrConflict when the level moved since
	// PreviousStock was read.
	CreateStockMovement(ctx context.Context, movement domain.StockMovement) (*domain.StockMovement, error)
	ListStockMovements(ctx context.Context, productID string, limit int) ([]domain.StockMovement, error)

	GetCustomer(ctx context.Context, customerID string) (*domain.Customer, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
}

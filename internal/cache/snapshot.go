// Package cache provides short-lived snapshots of backend reads. Stock
// levels and the current cash session change rarely between keystrokes, so
// browsing reads are served from here; commit always re-reads the backend.
package cache

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"cajapos/terminal/internal/domain"
)

type SnapshotCache interface {
	GetStock(ctx context.Context, productID string) (decimal.Decimal, bool, error)
	SetStock(ctx context.Context, productID string, level decimal.Decimal, ttl time.Duration) error
	GetSession(ctx context.Context) (*domain.CashSession, bool, error)
	SetSession(ctx context.Context, session *domain.CashSession, ttl time.Duration) error
	// InvalidateSession drops the session snapshot so the next read goes to
	// the backend. Called after every commit, cancellation and movement.
	InvalidateSession(ctx context.Context) error
	InvalidateStock(ctx context.Context, productIDs []string) error
}

// NoopSnapshotCache misses on every read. Used when no Redis is configured.
type NoopSnapshotCache struct{}

func (NoopSnapshotCache) GetStock(ctx context.Context, productID string) (decimal.Decimal, bool, error) {
	return decimal.Decimal{}, false, nil
}

func (NoopSnapshotCache) SetStock(ctx context.Context, productID string, level decimal.Decimal, ttl time.Duration) error {
	return nil
}

func (NoopSnapshotCache) GetSession(ctx context.Context) (*domain.CashSession, bool, error) {
	return nil, false, nil
}

func (NoopSnapshotCache) SetSession(ctx context.Context, session *domain.CashSession, ttl time.Duration) error {
	return nil
}

func (NoopSnapshotCache) InvalidateSession(ctx context.Context) error { return nil }

func (NoopSnapshotCache) InvalidateStock(ctx context.Context, productIDs []string) error { return nil }

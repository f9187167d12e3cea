// Package store defines the persistence interface for markets, positions,
// and lifecycle events. Implementations include PostgreSQL (source of
// truth), Redis (read-through cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/asterlabs/perp-engine/internal/model"
)

var (
	// ErrNotFound is returned when the requested entity does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrExists is returned when creating an entity whose key is taken.
	ErrExists = errors.New("store: already exists")
)

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Market registry ---

	// CreateMarket persists a new market. Fails with ErrExists if the
	// market id is already taken.
	CreateMarket(ctx context.Context, m *model.Market) error

	// GetMarket retrieves a market by its id.
	GetMarket(ctx context.Context, id string) (*model.Market, error)

	// ListMarkets returns all markets.
	ListMarkets(ctx context.Context) ([]model.Market, error)

	// UpdateMarket overwrites a market's mutable configuration.
	UpdateMarket(ctx context.Context, m *model.Market) error

	// --- Position ledger ---

	// CreatePosition persists a newly opened position.
	CreatePosition(ctx context.Context, p *model.Position) error

	// GetPosition retrieves a position by its id.
	GetPosition(ctx context.Context, id string) (*model.Position, error)

	// ListPositionsByTrader returns all open positions owned by a trader.
	ListPositionsByTrader(ctx context.Context, trader string) ([]model.Position, error)

	// DeletePosition destroys a position on close or liquidation.
	DeletePosition(ctx context.Context, id string) error

	// --- Immutable event records ---

	// InsertEvent appends an immutable lifecycle record.
	InsertEvent(ctx context.Context, e *model.Event) error

	// GetEventsByMarket returns all lifecycle events for a market.
	GetEventsByMarket(ctx context.Context, marketID string) ([]model.Event, error)

	// GetEventsByTrader returns all lifecycle events for a trader.
	GetEventsByTrader(ctx context.Context, trader string) ([]model.Event, error)
}

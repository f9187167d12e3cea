// Package model defines the core domain types shared across the perp engine.
// All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Market is the per-instrument configuration every position-affecting
// operation joins against. Created once by an admin, mutated only through
// admin-authorized updates, never destroyed.
type Market struct {
	ID                   string          `json:"id" db:"id"` // 32-byte market id, hex encoded
	Admin                string          `json:"admin" db:"admin"`
	OracleRef            string          `json:"oracle_ref" db:"oracle_ref"`
	MinCollateral        decimal.Decimal `json:"min_collateral" db:"min_collateral"`
	MaxLeverage          int             `json:"max_leverage" db:"max_leverage"`
	LiquidationThreshold int             `json:"liquidation_threshold" db:"liquidation_threshold"` // percent, (0, 100)
	IsActive             bool            `json:"is_active" db:"is_active"`
	LastFundingIndex     decimal.Decimal `json:"last_funding_index" db:"last_funding_index"`
	LastFundingTime      time.Time       `json:"last_funding_time" db:"last_funding_time"`
	CreatedAt            time.Time       `json:"created_at" db:"created_at"`
}

// VaultAccount returns the treasury account id holding this market's
// collateral. Derivation is deterministic so every code path agrees on it.
func (m *Market) VaultAccount() string {
	return "vault:" + m.ID
}

// Position is one open leveraged trade, exclusively owned by its trader.
// Read-only after open; destroyed by close or liquidation. No partial
// closes, no resizing — all-or-nothing.
type Position struct {
	ID               string          `json:"id" db:"id"`
	Trader           string          `json:"trader" db:"trader"`
	MarketID         string          `json:"market_id" db:"market_id"`
	Collateral       decimal.Decimal `json:"collateral" db:"collateral"`
	Size             decimal.Decimal `json:"size" db:"size"` // collateral × leverage, fixed at open
	IsLong           bool            `json:"is_long" db:"is_long"`
	EntryPrice       decimal.Decimal `json:"entry_price" db:"entry_price"`
	Leverage         int             `json:"leverage" db:"leverage"`
	OpenTime         time.Time       `json:"open_time" db:"open_time"`
	CollateralMint   string          `json:"collateral_mint" db:"collateral_mint"`
	LastFundingIndex decimal.Decimal `json:"last_funding_index" db:"last_funding_index"` // snapshot at open, not yet settled
}

// Event types emitted by the lifecycle controller.
const (
	EventOpened     = "opened"
	EventClosed     = "closed"
	EventLiquidated = "liquidated"
)

// Event is an immutable record of a position lifecycle transition.
// Once created, these are never modified or deleted.
type Event struct {
	ID         string          `json:"id" db:"id"`
	Type       string          `json:"type" db:"type"` // opened | closed | liquidated
	PositionID string          `json:"position_id" db:"position_id"`
	Trader     string          `json:"trader" db:"trader"`
	MarketID   string          `json:"market_id" db:"market_id"`
	IsLong     bool            `json:"is_long" db:"is_long"`
	Collateral decimal.Decimal `json:"collateral" db:"collateral"`
	Size       decimal.Decimal `json:"size" db:"size"`
	Price      decimal.Decimal `json:"price" db:"price"` // entry, close, or liquidation price
	Leverage   int             `json:"leverage" db:"leverage"`
	PnL        decimal.Decimal `json:"pnl" db:"pnl"` // signed; zero for opened
	Fee        decimal.Decimal `json:"fee" db:"fee"` // trading fee, or liquidator reward
	Liquidator string          `json:"liquidator,omitempty" db:"liquidator"`
	Timestamp  time.Time       `json:"timestamp" db:"timestamp"`
}

// PositionView is a position decorated with mark-to-market numbers at the
// current oracle price, for portfolio queries.
type PositionView struct {
	Position
	MarkPrice     decimal.Decimal `json:"mark_price"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	EquityPct     decimal.Decimal `json:"equity_pct"` // (collateral + pnl) × 100 / collateral
	Liquidatable  bool            `json:"liquidatable"`
}

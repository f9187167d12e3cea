// Package margin implements the pure margin-accounting math for leveraged
// perpetual positions: unrealized PnL, trading fees, settlement amounts, and
// liquidation eligibility.
//
// Everything here is a pure function of (position, market config, price) —
// no stored state, no side effects. All arithmetic reproduces fixed-point
// integer math at basis-point precision: divisions truncate toward zero,
// matching on-chain settlement behavior exactly.
//
// All monetary values use shopspring/decimal — never float64 for money.
package margin

import (
	"github.com/shopspring/decimal"

	"github.com/asterlabs/perp-engine/internal/model"
)

var (
	// BpsDenom is the basis-point denominator used for PnL and fee math.
	BpsDenom = decimal.NewFromInt(10000)

	// FeeBps is the flat trading fee in basis points (0.10% of notional
	// size), charged on close regardless of direction or profitability.
	FeeBps = decimal.NewFromInt(10)

	// RewardPct is the liquidator reward as a percentage of the
	// originally posted collateral. Flat 3%, not capped by remaining
	// equity (see DESIGN.md on the solvency consequence).
	RewardPct = decimal.NewFromInt(3)

	hundred = decimal.NewFromInt(100)
)

// divTrunc returns a/b truncated toward zero, the fixed-point equivalent of
// integer division.
func divTrunc(a, b decimal.Decimal) decimal.Decimal {
	q, _ := a.QuoRem(b, 0)
	return q
}

// PnL computes the unrealized profit/loss (signed) and the flat trading fee
// for a position marked at price. The caller guarantees a nonzero entry
// price; open always records an oracle price before the position exists.
//
// A favorable move is always positive: delta = price − entry for longs,
// entry − price for shorts. PnL is computed through a basis-point
// percentage of the entry price applied to notional size, truncating at
// each division.
func PnL(pos *model.Position, price decimal.Decimal) (pnl, fee decimal.Decimal) {
	delta := price.Sub(pos.EntryPrice)
	if !pos.IsLong {
		delta = pos.EntryPrice.Sub(price)
	}

	pnlBps := divTrunc(delta.Mul(BpsDenom), pos.EntryPrice)
	pnl = divTrunc(pnlBps.Mul(pos.Size), BpsDenom)

	fee = divTrunc(pos.Size.Mul(FeeBps), BpsDenom)
	return pnl, fee
}

// Settlement returns the amount paid back to the trader on close. The fee is
// charged on both sides; the result is clamped at zero — a trader can never
// owe more than the posted collateral, the protocol absorbs any shortfall.
func Settlement(collateral, pnl, fee decimal.Decimal) decimal.Decimal {
	remaining := collateral.Add(pnl).Sub(fee)
	if remaining.IsNegative() {
		return decimal.Zero
	}
	return remaining
}

// EquityPct returns the position's equity as an integer percentage of its
// initial collateral: (collateral + pnl) × 100 / collateral, truncated.
// Negative when losses exceed collateral.
func EquityPct(collateral, pnl decimal.Decimal) decimal.Decimal {
	return divTrunc(collateral.Add(pnl).Mul(hundred), collateral)
}

// LiquidationEligible reports whether a position may be liquidated: equity
// percentage at or below the market's liquidation threshold. Must be
// re-evaluated against a freshly fetched price at the moment of
// liquidation — eligibility a moment ago does not carry over.
func LiquidationEligible(collateral, pnl decimal.Decimal, threshold int) bool {
	return EquityPct(collateral, pnl).LessThanOrEqual(decimal.NewFromInt(int64(threshold)))
}

// LiquidationReward returns the flat reward paid to whoever submits the
// liquidation: 3% of originally posted collateral, independent of how far
// below the threshold equity fell.
func LiquidationReward(collateral decimal.Decimal) decimal.Decimal {
	return divTrunc(collateral.Mul(RewardPct), hundred)
}

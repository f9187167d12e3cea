package margin

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/asterlabs/perp-engine/internal/model"
)

// d is a test helper for creating decimals from int64.
func d(i int64) decimal.Decimal {
	return decimal.NewFromInt(i)
}

func longPosition(collateral, leverage, entry int64) *model.Position {
	return &model.Position{
		Collateral: d(collateral),
		Size:       d(collateral * leverage),
		IsLong:     true,
		EntryPrice: d(entry),
		Leverage:   int(leverage),
	}
}

// --- PnL tests ---

func TestPnL_LongProfit(t *testing.T) {
	// collateral=1000, leverage=5 at entry=100 → size=5000.
	// Price rises to 110: pnl_pct=1000 bps, pnl=500, fee=5.
	pos := longPosition(1000, 5, 100)

	pnl, fee := PnL(pos, d(110))
	if !pnl.Equal(d(500)) {
		t.Errorf("expected pnl=500, got %s", pnl)
	}
	if !fee.Equal(d(5)) {
		t.Errorf("expected fee=5, got %s", fee)
	}
}

func TestPnL_LongLoss(t *testing.T) {
	// Same position, price falls to 85: pnl_pct=-1500 bps, pnl=-750.
	pos := longPosition(1000, 5, 100)

	pnl, _ := PnL(pos, d(85))
	if !pnl.Equal(d(-750)) {
		t.Errorf("expected pnl=-750, got %s", pnl)
	}
}

func TestPnL_ShortMirrorsLong(t *testing.T) {
	pos := longPosition(1000, 5, 100)
	pos.IsLong = false

	// A price drop is favorable for a short.
	pnl, _ := PnL(pos, d(85))
	if !pnl.Equal(d(750)) {
		t.Errorf("expected pnl=750 for short on price drop, got %s", pnl)
	}

	pnl, _ = PnL(pos, d(110))
	if !pnl.Equal(d(-500)) {
		t.Errorf("expected pnl=-500 for short on price rise, got %s", pnl)
	}
}

func TestPnL_SamePriceIsZero(t *testing.T) {
	pos := longPosition(1000, 5, 100)

	pnl, fee := PnL(pos, d(100))
	if !pnl.IsZero() {
		t.Errorf("expected zero pnl at entry price, got %s", pnl)
	}
	// Fee is charged regardless.
	if !fee.Equal(d(5)) {
		t.Errorf("expected fee=5, got %s", fee)
	}
}

func TestPnL_TruncatesTowardZero(t *testing.T) {
	// entry=3, price=4, size=10: bps = trunc(10000/3) = 3333,
	// pnl = trunc(3333×10/10000) = 3, fee = trunc(10×10/10000) = 0.
	pos := &model.Position{
		Collateral: d(10),
		Size:       d(10),
		IsLong:     true,
		EntryPrice: d(3),
		Leverage:   1,
	}

	pnl, fee := PnL(pos, d(4))
	if !pnl.Equal(d(3)) {
		t.Errorf("expected pnl=3 (truncated), got %s", pnl)
	}
	if !fee.IsZero() {
		t.Errorf("expected fee=0 (truncated), got %s", fee)
	}

	// Negative side truncates toward zero too: -10000/3 → -3333, not -3334.
	pnl, _ = PnL(pos, d(2))
	if !pnl.Equal(d(-3)) {
		t.Errorf("expected pnl=-3 (truncated toward zero), got %s", pnl)
	}
}

// --- Settlement tests ---

func TestSettlement_Profit(t *testing.T) {
	// collateral + pnl − fee = 1000 + 500 − 5 = 1495.
	s := Settlement(d(1000), d(500), d(5))
	if !s.Equal(d(1495)) {
		t.Errorf("expected settlement=1495, got %s", s)
	}
}

func TestSettlement_LossWithinCollateral(t *testing.T) {
	s := Settlement(d(1000), d(-750), d(5))
	if !s.Equal(d(245)) {
		t.Errorf("expected settlement=245, got %s", s)
	}
}

func TestSettlement_NeverNegative(t *testing.T) {
	// Losses beyond collateral are absorbed by the protocol.
	s := Settlement(d(1000), d(-1250), d(5))
	if !s.IsZero() {
		t.Errorf("expected settlement=0 when loss exceeds collateral, got %s", s)
	}
}

func TestSettlement_RoundTripChargesFee(t *testing.T) {
	// Opening then closing at the same price yields collateral − fee.
	pos := longPosition(1000, 5, 100)
	pnl, fee := PnL(pos, d(100))

	s := Settlement(pos.Collateral, pnl, fee)
	if !s.Equal(d(995)) {
		t.Errorf("expected settlement=995 at unchanged price, got %s", s)
	}
}

// --- Liquidation tests ---

func TestLiquidationEligible_AboveThreshold(t *testing.T) {
	// equity% = (1000 − 750) × 100 / 1000 = 25 > 20 → not liquidatable.
	if LiquidationEligible(d(1000), d(-750), 20) {
		t.Error("position at 25% equity must not be liquidatable at threshold 20")
	}
}

func TestLiquidationEligible_BelowThreshold(t *testing.T) {
	// equity% = (1000 − 1250) × 100 / 1000 = −25 ≤ 20 → liquidatable.
	if !LiquidationEligible(d(1000), d(-1250), 20) {
		t.Error("position at -25% equity must be liquidatable at threshold 20")
	}
}

func TestLiquidationEligible_ExactlyAtThreshold(t *testing.T) {
	// equity% = (1000 − 800) × 100 / 1000 = 20 ≤ 20 → liquidatable.
	if !LiquidationEligible(d(1000), d(-800), 20) {
		t.Error("position exactly at the threshold must be liquidatable")
	}
}

func TestEquityPct(t *testing.T) {
	tests := []struct {
		collateral, pnl, want int64
	}{
		{1000, 0, 100},
		{1000, -750, 25},
		{1000, -1250, -25},
		{1000, 500, 150},
	}
	for _, tt := range tests {
		got := EquityPct(d(tt.collateral), d(tt.pnl))
		if !got.Equal(d(tt.want)) {
			t.Errorf("EquityPct(%d, %d) = %s, want %d", tt.collateral, tt.pnl, got, tt.want)
		}
	}
}

func TestLiquidationReward_FlatThreePercent(t *testing.T) {
	r := LiquidationReward(d(1000))
	if !r.Equal(d(30)) {
		t.Errorf("expected reward=30, got %s", r)
	}

	// Independent of how far equity fell — same collateral, same reward.
	r = LiquidationReward(d(1000))
	if !r.Equal(d(30)) {
		t.Errorf("reward must depend only on collateral, got %s", r)
	}

	// Truncated: 3% of 33 = 0.99 → 0.
	r = LiquidationReward(d(33))
	if !r.IsZero() {
		t.Errorf("expected reward=0 for collateral=33, got %s", r)
	}
}

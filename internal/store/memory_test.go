package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/asterlabs/perp-engine/internal/model"
)

func testMarket(id string) *model.Market {
	return &model.Market{
		ID:                   id,
		Admin:                "admin1",
		OracleRef:            "pyth:sol-usd",
		MinCollateral:        decimal.NewFromInt(100),
		MaxLeverage:          10,
		LiquidationThreshold: 20,
		IsActive:             true,
		CreatedAt:            time.Now().UTC(),
	}
}

func testPosition(id, trader string) *model.Position {
	return &model.Position{
		ID:         id,
		Trader:     trader,
		MarketID:   "m1",
		Collateral: decimal.NewFromInt(1000),
		Size:       decimal.NewFromInt(5000),
		IsLong:     true,
		EntryPrice: decimal.NewFromInt(100),
		Leverage:   5,
		OpenTime:   time.Now().UTC(),
	}
}

func TestMemoryStore_MarketLifecycle(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if err := s.CreateMarket(ctx, testMarket("m1")); err != nil {
		t.Fatalf("create market: %v", err)
	}

	if err := s.CreateMarket(ctx, testMarket("m1")); !errors.Is(err, ErrExists) {
		t.Errorf("expected ErrExists on duplicate, got %v", err)
	}

	m, err := s.GetMarket(ctx, "m1")
	if err != nil {
		t.Fatalf("get market: %v", err)
	}
	if m.MaxLeverage != 10 {
		t.Errorf("expected max_leverage=10, got %d", m.MaxLeverage)
	}

	m.IsActive = false
	if err := s.UpdateMarket(ctx, m); err != nil {
		t.Fatalf("update market: %v", err)
	}
	m2, _ := s.GetMarket(ctx, "m1")
	if m2.IsActive {
		t.Error("update should have deactivated the market")
	}

	if _, err := s.GetMarket(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	s.CreateMarket(ctx, testMarket("m1"))
	m, _ := s.GetMarket(ctx, "m1")
	m.MaxLeverage = 99

	fresh, _ := s.GetMarket(ctx, "m1")
	if fresh.MaxLeverage != 10 {
		t.Error("mutating a returned market must not affect the store")
	}
}

func TestMemoryStore_PositionLifecycle(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if err := s.CreatePosition(ctx, testPosition("p1", "alice")); err != nil {
		t.Fatalf("create position: %v", err)
	}
	s.CreatePosition(ctx, testPosition("p2", "alice"))
	s.CreatePosition(ctx, testPosition("p3", "bob"))

	positions, err := s.ListPositionsByTrader(ctx, "alice")
	if err != nil {
		t.Fatalf("list positions: %v", err)
	}
	if len(positions) != 2 {
		t.Errorf("expected 2 positions for alice, got %d", len(positions))
	}

	if err := s.DeletePosition(ctx, "p1"); err != nil {
		t.Fatalf("delete position: %v", err)
	}
	if _, err := s.GetPosition(ctx, "p1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if err := s.DeletePosition(ctx, "p1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on double delete, got %v", err)
	}
}

func TestMemoryStore_Events(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	s.InsertEvent(ctx, &model.Event{ID: "e1", Type: model.EventOpened, Trader: "alice", MarketID: "m1"})
	s.InsertEvent(ctx, &model.Event{ID: "e2", Type: model.EventClosed, Trader: "alice", MarketID: "m1"})
	s.InsertEvent(ctx, &model.Event{ID: "e3", Type: model.EventOpened, Trader: "bob", MarketID: "m2"})

	byMarket, _ := s.GetEventsByMarket(ctx, "m1")
	if len(byMarket) != 2 {
		t.Errorf("expected 2 events for m1, got %d", len(byMarket))
	}

	byTrader, _ := s.GetEventsByTrader(ctx, "bob")
	if len(byTrader) != 1 {
		t.Errorf("expected 1 event for bob, got %d", len(byTrader))
	}
}

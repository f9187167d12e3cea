package perp

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/asterlabs/perp-engine/internal/margin"
	"github.com/asterlabs/perp-engine/internal/metrics"
	"github.com/asterlabs/perp-engine/internal/model"
	"github.com/asterlabs/perp-engine/internal/treasury"
)

// --- Request/Response types ---

// OpenPositionRequest is the JSON body for POST /positions.
type OpenPositionRequest struct {
	Trader         string          `json:"trader"`
	MarketID       string          `json:"market_id"`
	IsLong         bool            `json:"is_long"`
	Collateral     decimal.Decimal `json:"collateral"`
	Leverage       int             `json:"leverage"`
	CollateralMint string          `json:"collateral_mint"`
	OracleRef      string          `json:"oracle_ref,omitempty"`      // must match the market's bound oracle when set
	ExpectedPrice  decimal.Decimal `json:"expected_price,omitempty"`  // slippage reference
	MaxSlippageBps int             `json:"max_slippage_bps,omitempty"`
}

// ClosePositionRequest is the JSON body for POST /positions/{id}/close.
type ClosePositionRequest struct {
	Trader         string `json:"trader"`
	OracleRef      string `json:"oracle_ref,omitempty"`
	CollateralMint string `json:"collateral_mint,omitempty"`
}

// CloseResponse is returned from a successful close.
type CloseResponse struct {
	PositionID string          `json:"position_id"`
	ClosePrice decimal.Decimal `json:"close_price"`
	PnL        decimal.Decimal `json:"pnl"` // signed
	Fee        decimal.Decimal `json:"fee"`
	Settlement decimal.Decimal `json:"settlement"`
}

// LiquidateRequest is the JSON body for POST /positions/{id}/liquidate.
type LiquidateRequest struct {
	Liquidator     string `json:"liquidator"`
	Trader         string `json:"trader"` // owner of the position being liquidated
	OracleRef      string `json:"oracle_ref,omitempty"`
	CollateralMint string `json:"collateral_mint,omitempty"`
}

// LiquidateResponse is returned from a successful liquidation.
type LiquidateResponse struct {
	PositionID       string          `json:"position_id"`
	LiquidationPrice decimal.Decimal `json:"liquidation_price"`
	Reward           decimal.Decimal `json:"reward"`
}

// Portfolio aggregates a trader's open positions marked at current prices.
type Portfolio struct {
	Trader          string               `json:"trader"`
	Positions       []model.PositionView `json:"positions"`
	TotalCollateral decimal.Decimal      `json:"total_collateral"`
	TotalPnL        decimal.Decimal      `json:"total_pnl"`
}

// --- Lifecycle handlers ---

// OpenPosition handles POST /api/v1/positions
// Posts collateral into the market vault and creates the position at the
// oracle price observed now.
func (s *Service) OpenPosition(w http.ResponseWriter, r *http.Request) {
	var req OpenPositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if req.Trader == "" || req.CollateralMint == "" {
		writeError(w, "trader and collateral_mint are required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()

	s.mu.Lock()
	defer s.mu.Unlock()

	market, err := s.store.GetMarket(ctx, req.MarketID)
	if err != nil {
		writeError(w, "market not found: "+req.MarketID, http.StatusNotFound)
		return
	}

	if !market.IsActive {
		writeError(w, ErrMarketInactive.Error(), statusFor(ErrMarketInactive))
		return
	}
	if req.Leverage < 1 || req.Leverage > market.MaxLeverage {
		writeError(w, ErrInvalidLeverage.Error(), statusFor(ErrInvalidLeverage))
		return
	}
	if req.Collateral.LessThan(market.MinCollateral) || !req.Collateral.IsPositive() {
		writeError(w, ErrInsufficientCollateral.Error(), statusFor(ErrInsufficientCollateral))
		return
	}
	if req.OracleRef != "" && req.OracleRef != market.OracleRef {
		writeError(w, ErrInvalidOracle.Error(), statusFor(ErrInvalidOracle))
		return
	}

	price, err := s.prices.Price(ctx, market.OracleRef)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	if err := checkSlippage(price, req.ExpectedPrice, req.MaxSlippageBps); err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	// Collateral moves trader → vault before the position exists; if the
	// transfer fails nothing has been written.
	auth := treasury.OwnerAuthority(req.Trader)
	if err := s.ledger.Transfer(ctx, req.Trader, market.VaultAccount(), auth, req.Collateral); err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	now := time.Now().UTC()
	position := &model.Position{
		ID:               uuid.New().String(),
		Trader:           req.Trader,
		MarketID:         market.ID,
		Collateral:       req.Collateral,
		Size:             req.Collateral.Mul(decimal.NewFromInt(int64(req.Leverage))),
		IsLong:           req.IsLong,
		EntryPrice:       price,
		Leverage:         req.Leverage,
		OpenTime:         now,
		CollateralMint:   req.CollateralMint,
		LastFundingIndex: market.LastFundingIndex,
	}

	if err := s.store.CreatePosition(ctx, position); err != nil {
		writeError(w, "failed to record position", http.StatusInternalServerError)
		return
	}

	direction := "short"
	if position.IsLong {
		direction = "long"
	}

	s.emit(ctx, &model.Event{
		ID:         uuid.New().String(),
		Type:       model.EventOpened,
		PositionID: position.ID,
		Trader:     position.Trader,
		MarketID:   position.MarketID,
		IsLong:     position.IsLong,
		Collateral: position.Collateral,
		Size:       position.Size,
		Price:      position.EntryPrice,
		Leverage:   position.Leverage,
		PnL:        decimal.Zero,
		Fee:        decimal.Zero,
		Timestamp:  now,
	})

	metrics.PositionsOpened.WithLabelValues(market.ID, direction).Inc()
	metrics.OpenPositions.Inc()

	slog.Info("position opened",
		"position_id", position.ID,
		"trader", position.Trader,
		"market_id", position.MarketID,
		"direction", direction,
		"collateral", position.Collateral.String(),
		"size", position.Size.String(),
		"entry_price", position.EntryPrice.String(),
		"leverage", position.Leverage,
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(position)
}

// ClosePosition handles POST /api/v1/positions/{positionID}/close
// Trader-initiated. Settles PnL minus the trading fee at the current oracle
// price and destroys the position.
func (s *Service) ClosePosition(w http.ResponseWriter, r *http.Request) {
	positionID := chi.URLParam(r, "positionID")

	var req ClosePositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	ctx := r.Context()

	s.mu.Lock()
	defer s.mu.Unlock()

	position, err := s.store.GetPosition(ctx, positionID)
	if err != nil {
		writeError(w, ErrInvalidPosition.Error(), http.StatusNotFound)
		return
	}
	if !position.Size.IsPositive() {
		writeError(w, ErrInvalidPosition.Error(), statusFor(ErrInvalidPosition))
		return
	}
	if req.Trader != position.Trader {
		writeError(w, ErrUnauthorized.Error(), statusFor(ErrUnauthorized))
		return
	}
	if req.CollateralMint != "" && req.CollateralMint != position.CollateralMint {
		writeError(w, ErrInvalidMint.Error(), statusFor(ErrInvalidMint))
		return
	}

	market, err := s.store.GetMarket(ctx, position.MarketID)
	if err != nil {
		writeError(w, "market not found: "+position.MarketID, http.StatusNotFound)
		return
	}
	if req.OracleRef != "" && req.OracleRef != market.OracleRef {
		writeError(w, ErrInvalidOracle.Error(), statusFor(ErrInvalidOracle))
		return
	}

	price, err := s.prices.Price(ctx, market.OracleRef)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	pnl, fee := margin.PnL(position, price)
	settlement := margin.Settlement(position.Collateral, pnl, fee)

	if settlement.IsPositive() {
		if err := s.ledger.Transfer(ctx, market.VaultAccount(), position.Trader,
			s.vaultAuthority(market), settlement); err != nil {
			writeError(w, err.Error(), statusFor(err))
			return
		}
	}

	if err := s.store.DeletePosition(ctx, positionID); err != nil {
		writeError(w, "failed to destroy position", http.StatusInternalServerError)
		return
	}

	now := time.Now().UTC()
	s.emit(ctx, &model.Event{
		ID:         uuid.New().String(),
		Type:       model.EventClosed,
		PositionID: position.ID,
		Trader:     position.Trader,
		MarketID:   position.MarketID,
		IsLong:     position.IsLong,
		Collateral: position.Collateral,
		Size:       position.Size,
		Price:      price,
		Leverage:   position.Leverage,
		PnL:        pnl,
		Fee:        fee,
		Timestamp:  now,
	})

	metrics.PositionsClosed.WithLabelValues(market.ID).Inc()
	metrics.OpenPositions.Dec()

	slog.Info("position closed",
		"position_id", position.ID,
		"trader", position.Trader,
		"close_price", price.String(),
		"pnl", pnl.String(),
		"fee", fee.String(),
		"settlement", settlement.String(),
	)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(CloseResponse{
		PositionID: position.ID,
		ClosePrice: price,
		PnL:        pnl,
		Fee:        fee,
		Settlement: settlement,
	})
}

// LiquidatePosition handles POST /api/v1/positions/{positionID}/liquidate
// Any third party may call this; eligibility is re-checked at the current
// price, and a price that moved back above the threshold fails the call.
func (s *Service) LiquidatePosition(w http.ResponseWriter, r *http.Request) {
	positionID := chi.URLParam(r, "positionID")

	var req LiquidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if req.Liquidator == "" {
		writeError(w, "liquidator is required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()

	s.mu.Lock()
	defer s.mu.Unlock()

	position, err := s.store.GetPosition(ctx, positionID)
	if err != nil {
		writeError(w, ErrInvalidPosition.Error(), http.StatusNotFound)
		return
	}
	if !position.Size.IsPositive() || req.Trader != position.Trader {
		writeError(w, ErrInvalidPosition.Error(), statusFor(ErrInvalidPosition))
		return
	}
	if req.CollateralMint != "" && req.CollateralMint != position.CollateralMint {
		writeError(w, ErrInvalidMint.Error(), statusFor(ErrInvalidMint))
		return
	}

	market, err := s.store.GetMarket(ctx, position.MarketID)
	if err != nil {
		writeError(w, "market not found: "+position.MarketID, http.StatusNotFound)
		return
	}
	if req.OracleRef != "" && req.OracleRef != market.OracleRef {
		writeError(w, ErrInvalidOracle.Error(), statusFor(ErrInvalidOracle))
		return
	}

	price, err := s.prices.Price(ctx, market.OracleRef)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	pnl, _ := margin.PnL(position, price)
	if !margin.LiquidationEligible(position.Collateral, pnl, market.LiquidationThreshold) {
		metrics.LiquidationRejections.Inc()
		writeError(w, ErrCannotLiquidateYet.Error(), statusFor(ErrCannotLiquidateYet))
		return
	}

	reward := margin.LiquidationReward(position.Collateral)
	if reward.IsPositive() {
		// The liquidator may be paying out for the first time.
		if err := s.ledger.CreateAccount(ctx, req.Liquidator); err != nil &&
			!errors.Is(err, treasury.ErrAccountExists) {
			writeError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if err := s.ledger.Transfer(ctx, market.VaultAccount(), req.Liquidator,
			s.vaultAuthority(market), reward); err != nil {
			writeError(w, err.Error(), statusFor(err))
			return
		}
	}

	if err := s.store.DeletePosition(ctx, positionID); err != nil {
		writeError(w, "failed to destroy position", http.StatusInternalServerError)
		return
	}

	now := time.Now().UTC()
	s.emit(ctx, &model.Event{
		ID:         uuid.New().String(),
		Type:       model.EventLiquidated,
		PositionID: position.ID,
		Trader:     position.Trader,
		MarketID:   position.MarketID,
		IsLong:     position.IsLong,
		Collateral: position.Collateral,
		Size:       position.Size,
		Price:      price,
		Leverage:   position.Leverage,
		PnL:        pnl,
		Fee:        reward,
		Liquidator: req.Liquidator,
		Timestamp:  now,
	})

	metrics.PositionsLiquidated.WithLabelValues(market.ID).Inc()
	metrics.OpenPositions.Dec()

	slog.Info("position liquidated",
		"position_id", position.ID,
		"trader", position.Trader,
		"liquidator", req.Liquidator,
		"liquidation_price", price.String(),
		"reward", reward.String(),
	)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(LiquidateResponse{
		PositionID:       position.ID,
		LiquidationPrice: price,
		Reward:           reward,
	})
}

// --- Queries ---

// GetPosition handles GET /api/v1/positions/{positionID}
// Returns the position marked at the current oracle price.
func (s *Service) GetPosition(w http.ResponseWriter, r *http.Request) {
	positionID := chi.URLParam(r, "positionID")
	ctx := r.Context()

	position, err := s.store.GetPosition(ctx, positionID)
	if err != nil {
		writeError(w, "position not found", http.StatusNotFound)
		return
	}

	view, err := s.markPosition(ctx, position)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(view)
}

// GetPortfolio handles GET /api/v1/traders/{trader}/positions
// Returns every open position for a trader with mark-to-market P&L.
func (s *Service) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	trader := chi.URLParam(r, "trader")
	ctx := r.Context()

	positions, err := s.store.ListPositionsByTrader(ctx, trader)
	if err != nil {
		writeError(w, "failed to load positions", http.StatusInternalServerError)
		return
	}

	portfolio := Portfolio{
		Trader:          trader,
		Positions:       []model.PositionView{},
		TotalCollateral: decimal.Zero,
		TotalPnL:        decimal.Zero,
	}

	for i := range positions {
		view, err := s.markPosition(ctx, &positions[i])
		if err != nil {
			writeError(w, err.Error(), statusFor(err))
			return
		}
		portfolio.Positions = append(portfolio.Positions, *view)
		portfolio.TotalCollateral = portfolio.TotalCollateral.Add(view.Collateral)
		portfolio.TotalPnL = portfolio.TotalPnL.Add(view.UnrealizedPnL)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(portfolio)
}

// GetTraderEvents handles GET /api/v1/traders/{trader}/events
func (s *Service) GetTraderEvents(w http.ResponseWriter, r *http.Request) {
	trader := chi.URLParam(r, "trader")

	events, err := s.store.GetEventsByTrader(r.Context(), trader)
	if err != nil {
		writeError(w, "failed to get trader events", http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []model.Event{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(events)
}

// --- Helpers ---

// markPosition decorates a position with mark-to-market numbers at the
// current oracle price of its market.
func (s *Service) markPosition(ctx context.Context, position *model.Position) (*model.PositionView, error) {
	market, err := s.store.GetMarket(ctx, position.MarketID)
	if err != nil {
		return nil, err
	}

	price, err := s.prices.Price(ctx, market.OracleRef)
	if err != nil {
		return nil, err
	}

	pnl, _ := margin.PnL(position, price)
	return &model.PositionView{
		Position:      *position,
		MarkPrice:     price,
		UnrealizedPnL: pnl,
		EquityPct:     margin.EquityPct(position.Collateral, pnl),
		Liquidatable:  margin.LiquidationEligible(position.Collateral, pnl, market.LiquidationThreshold),
	}, nil
}

// checkSlippage rejects a fill whose price deviates from the caller's
// expected price by more than maxBps basis points. Skipped when the caller
// supplies no expectation or no tolerance.
func checkSlippage(price, expected decimal.Decimal, maxBps int) error {
	if maxBps <= 0 || !expected.IsPositive() {
		return nil
	}
	deviation, _ := price.Sub(expected).Abs().Mul(margin.BpsDenom).QuoRem(expected, 0)
	if deviation.GreaterThan(decimal.NewFromInt(int64(maxBps))) {
		return ErrSlippageExceeded
	}
	return nil
}

// emit appends an immutable event record and broadcasts it to WebSocket
// subscribers. Record failures are logged, never fatal — the state
// transition has already committed.
func (s *Service) emit(ctx context.Context, e *model.Event) {
	if err := s.store.InsertEvent(ctx, e); err != nil {
		slog.Error("failed to record event", "type", e.Type, "position_id", e.PositionID, "err", err)
	}
	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:       e.Type,
			PositionID: e.PositionID,
			MarketID:   e.MarketID,
			Trader:     e.Trader,
			Price:      e.Price.String(),
			PnL:        e.PnL.String(),
			Fee:        e.Fee.String(),
			Liquidator: e.Liquidator,
		})
	}
}

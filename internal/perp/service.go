// Package perp provides the HTTP handlers and business logic for the
// perpetual-futures engine: market registry administration and the
// open/close/liquidate position lifecycle.
//
// All monetary values use shopspring/decimal — never float64 for money.
package perp

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"regexp"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/asterlabs/perp-engine/internal/model"
	"github.com/asterlabs/perp-engine/internal/oracle"
	"github.com/asterlabs/perp-engine/internal/store"
	"github.com/asterlabs/perp-engine/internal/treasury"
)

// marketIDRe matches a 32-byte market id, lowercase hex encoded.
var marketIDRe = regexp.MustCompile(`^[0-9a-f]{64}$`)

// Service handles market registry and position lifecycle operations.
// A mutex serializes state-changing operations (single-instance), standing
// in for the host ledger's per-account serialization: every operation sees
// exclusive, atomic access to the entities it touches.
type Service struct {
	store  store.Store
	ledger treasury.Ledger
	prices oracle.Source
	mu     sync.Mutex
	wsHub  *WSHub // optional WebSocket hub for real-time broadcasts
}

// NewService creates a new perp service.
// Pass nil for hub if WebSocket broadcasting is not needed.
func NewService(st store.Store, ledger treasury.Ledger, prices oracle.Source, hub *WSHub) *Service {
	return &Service{
		store:  st,
		ledger: ledger,
		prices: prices,
		wsHub:  hub,
	}
}

// vaultAuthority returns the signing capability for a market's vault.
// Only lifecycle code paths call this; nothing outside the controller can
// move vault funds.
func (s *Service) vaultAuthority(m *model.Market) treasury.Authority {
	return treasury.VaultAuthority(m.VaultAccount())
}

// --- Request types ---

// CreateMarketRequest is the JSON body for POST /markets.
type CreateMarketRequest struct {
	Admin                string          `json:"admin"`
	MarketID             string          `json:"market_id"` // 32 bytes, hex
	OracleRef            string          `json:"oracle_ref"`
	MinCollateral        decimal.Decimal `json:"min_collateral"`
	MaxLeverage          int             `json:"max_leverage"`
	LiquidationThreshold int             `json:"liquidation_threshold"`
}

// UpdateMarketRequest is the JSON body for PATCH /markets/{marketID}.
// Each field is independently optional; only fields present are validated
// and applied.
type UpdateMarketRequest struct {
	Admin                string           `json:"admin"`
	MinCollateral        *decimal.Decimal `json:"min_collateral,omitempty"`
	MaxLeverage          *int             `json:"max_leverage,omitempty"`
	LiquidationThreshold *int             `json:"liquidation_threshold,omitempty"`
	IsActive             *bool            `json:"is_active,omitempty"`
}

// UpdateFundingRequest is the JSON body for POST /markets/{marketID}/funding.
type UpdateFundingRequest struct {
	Admin        string          `json:"admin"`
	FundingIndex decimal.Decimal `json:"funding_index"`
}

// --- Market registry handlers ---

// CreateMarket handles POST /api/v1/markets
func (s *Service) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req CreateMarketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if req.Admin == "" || req.OracleRef == "" {
		writeError(w, "admin and oracle_ref are required", http.StatusBadRequest)
		return
	}
	if !marketIDRe.MatchString(req.MarketID) {
		writeError(w, ErrInvalidMarketID.Error(), http.StatusBadRequest)
		return
	}
	if req.MaxLeverage < 1 || req.MaxLeverage > 100 {
		writeError(w, ErrInvalidLeverage.Error(), http.StatusBadRequest)
		return
	}
	if req.LiquidationThreshold <= 0 || req.LiquidationThreshold >= 100 {
		writeError(w, ErrInvalidLiquidationThreshold.Error(), http.StatusBadRequest)
		return
	}
	if req.MinCollateral.IsNegative() {
		writeError(w, "min_collateral must not be negative", http.StatusBadRequest)
		return
	}

	now := time.Now().UTC()
	market := &model.Market{
		ID:                   req.MarketID,
		Admin:                req.Admin,
		OracleRef:            req.OracleRef,
		MinCollateral:        req.MinCollateral,
		MaxLeverage:          req.MaxLeverage,
		LiquidationThreshold: req.LiquidationThreshold,
		IsActive:             true,
		LastFundingIndex:     decimal.Zero,
		LastFundingTime:      now,
		CreatedAt:            now,
	}

	ctx := r.Context()

	s.mu.Lock()
	defer s.mu.Unlock()

	// The vault account backs every position opened against this market.
	if err := s.ledger.CreateAccount(ctx, market.VaultAccount()); err != nil &&
		!errors.Is(err, treasury.ErrAccountExists) {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if err := s.store.CreateMarket(ctx, market); err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	slog.Info("market created",
		"market_id", market.ID,
		"admin", market.Admin,
		"oracle_ref", market.OracleRef,
		"max_leverage", market.MaxLeverage,
		"liquidation_threshold", market.LiquidationThreshold,
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(market)
}

// UpdateMarket handles PATCH /api/v1/markets/{marketID}
// Partial update: only present fields are validated and applied.
func (s *Service) UpdateMarket(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")

	var req UpdateMarketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	ctx := r.Context()

	s.mu.Lock()
	defer s.mu.Unlock()

	market, err := s.store.GetMarket(ctx, marketID)
	if err != nil {
		writeError(w, "market not found", http.StatusNotFound)
		return
	}

	if req.Admin != market.Admin {
		writeError(w, ErrUnauthorized.Error(), http.StatusForbidden)
		return
	}

	if req.MinCollateral != nil {
		if req.MinCollateral.IsNegative() {
			writeError(w, "min_collateral must not be negative", http.StatusBadRequest)
			return
		}
		market.MinCollateral = *req.MinCollateral
	}
	if req.MaxLeverage != nil {
		if *req.MaxLeverage < 1 || *req.MaxLeverage > 100 {
			writeError(w, ErrInvalidLeverage.Error(), http.StatusBadRequest)
			return
		}
		market.MaxLeverage = *req.MaxLeverage
	}
	if req.LiquidationThreshold != nil {
		if *req.LiquidationThreshold <= 0 || *req.LiquidationThreshold >= 100 {
			writeError(w, ErrInvalidLiquidationThreshold.Error(), http.StatusBadRequest)
			return
		}
		market.LiquidationThreshold = *req.LiquidationThreshold
	}
	if req.IsActive != nil {
		market.IsActive = *req.IsActive
	}

	if err := s.store.UpdateMarket(ctx, market); err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	slog.Info("market updated", "market_id", market.ID, "is_active", market.IsActive)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(market)
}

// UpdateFunding handles POST /api/v1/markets/{marketID}/funding
// Records a new funding index snapshot. Admin-only. The index is tracked
// for forward compatibility; no per-position funding settlement happens.
func (s *Service) UpdateFunding(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")

	var req UpdateFundingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	ctx := r.Context()

	s.mu.Lock()
	defer s.mu.Unlock()

	market, err := s.store.GetMarket(ctx, marketID)
	if err != nil {
		writeError(w, "market not found", http.StatusNotFound)
		return
	}

	if req.Admin != market.Admin {
		writeError(w, ErrUnauthorized.Error(), http.StatusForbidden)
		return
	}

	market.LastFundingIndex = req.FundingIndex
	market.LastFundingTime = time.Now().UTC()

	if err := s.store.UpdateMarket(ctx, market); err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	slog.Info("funding updated",
		"market_id", market.ID,
		"funding_index", market.LastFundingIndex.String(),
	)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(market)
}

// GetMarket handles GET /api/v1/markets/{marketID}
func (s *Service) GetMarket(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")

	market, err := s.store.GetMarket(r.Context(), marketID)
	if err != nil {
		writeError(w, "market not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(market)
}

// ListMarkets handles GET /api/v1/markets
func (s *Service) ListMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := s.store.ListMarkets(r.Context())
	if err != nil {
		writeError(w, "failed to list markets", http.StatusInternalServerError)
		return
	}
	if markets == nil {
		markets = []model.Market{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(markets)
}

// GetMarketEvents handles GET /api/v1/markets/{marketID}/events
// Returns the immutable lifecycle records for a market.
func (s *Service) GetMarketEvents(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")

	events, err := s.store.GetEventsByMarket(r.Context(), marketID)
	if err != nil {
		writeError(w, "failed to get market events", http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []model.Event{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(events)
}

// --- Helpers ---

// statusFor maps domain and collaborator errors to HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrExists):
		return http.StatusConflict
	case errors.Is(err, treasury.ErrInsufficientFunds):
		return http.StatusConflict
	case errors.Is(err, treasury.ErrUnknownAccount):
		return http.StatusConflict
	case errors.Is(err, oracle.ErrUnknownFeed), errors.Is(err, oracle.ErrBadPrice):
		return http.StatusBadGateway
	case errors.Is(err, ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, ErrMarketInactive),
		errors.Is(err, ErrCannotLiquidateYet),
		errors.Is(err, ErrInvalidPosition),
		errors.Is(err, ErrSlippageExceeded):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidLeverage),
		errors.Is(err, ErrInvalidLiquidationThreshold),
		errors.Is(err, ErrInsufficientCollateral),
		errors.Is(err, ErrInvalidOracle),
		errors.Is(err, ErrInvalidMint),
		errors.Is(err, ErrInvalidMarketID):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

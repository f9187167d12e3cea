package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/asterlabs/perp-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (s *PostgresStore) CreateMarket(ctx context.Context, m *model.Market) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO markets (id, admin, oracle_ref, min_collateral, max_leverage,
		                      liquidation_threshold, is_active, last_funding_index,
		                      last_funding_time, created_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5, $6, $7, $8::NUMERIC, $9, $10)`,
		m.ID, m.Admin, m.OracleRef, m.MinCollateral.String(), m.MaxLeverage,
		m.LiquidationThreshold, m.IsActive, m.LastFundingIndex.String(),
		m.LastFundingTime, m.CreatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: market %s", ErrExists, m.ID)
	}
	return err
}

const marketColumns = `id, admin, oracle_ref, min_collateral::TEXT, max_leverage,
	liquidation_threshold, is_active, last_funding_index::TEXT,
	last_funding_time, created_at`

func scanMarket(row pgx.Row) (*model.Market, error) {
	var m model.Market
	var minCol, fundingIdx string

	if err := row.Scan(&m.ID, &m.Admin, &m.OracleRef, &minCol, &m.MaxLeverage,
		&m.LiquidationThreshold, &m.IsActive, &fundingIdx,
		&m.LastFundingTime, &m.CreatedAt); err != nil {
		return nil, err
	}

	m.MinCollateral, _ = decimal.NewFromString(minCol)
	m.LastFundingIndex, _ = decimal.NewFromString(fundingIdx)
	return &m, nil
}

func (s *PostgresStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	m, err := scanMarket(s.pool.QueryRow(ctx,
		`SELECT `+marketColumns+` FROM markets WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: market %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get market %s: %w", id, err)
	}
	return m, nil
}

func (s *PostgresStore) ListMarkets(ctx context.Context) ([]model.Market, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+marketColumns+` FROM markets ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var markets []model.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, err
		}
		markets = append(markets, *m)
	}
	return markets, rows.Err()
}

func (s *PostgresStore) UpdateMarket(ctx context.Context, m *model.Market) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE markets
		 SET min_collateral = $2::NUMERIC, max_leverage = $3,
		     liquidation_threshold = $4, is_active = $5,
		     last_funding_index = $6::NUMERIC, last_funding_time = $7
		 WHERE id = $1`,
		m.ID, m.MinCollateral.String(), m.MaxLeverage,
		m.LiquidationThreshold, m.IsActive,
		m.LastFundingIndex.String(), m.LastFundingTime,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: market %s", ErrNotFound, m.ID)
	}
	return nil
}

func (s *PostgresStore) CreatePosition(ctx context.Context, p *model.Position) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO positions (id, trader, market_id, collateral, size, is_long,
		                        entry_price, leverage, open_time, collateral_mint,
		                        last_funding_index)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6, $7::NUMERIC, $8, $9, $10, $11::NUMERIC)`,
		p.ID, p.Trader, p.MarketID, p.Collateral.String(), p.Size.String(), p.IsLong,
		p.EntryPrice.String(), p.Leverage, p.OpenTime, p.CollateralMint,
		p.LastFundingIndex.String(),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: position %s", ErrExists, p.ID)
	}
	return err
}

const positionColumns = `id, trader, market_id, collateral::TEXT, size::TEXT, is_long,
	entry_price::TEXT, leverage, open_time, collateral_mint, last_funding_index::TEXT`

func scanPosition(row pgx.Row) (*model.Position, error) {
	var p model.Position
	var collateral, size, entryPrice, fundingIdx string

	if err := row.Scan(&p.ID, &p.Trader, &p.MarketID, &collateral, &size, &p.IsLong,
		&entryPrice, &p.Leverage, &p.OpenTime, &p.CollateralMint, &fundingIdx); err != nil {
		return nil, err
	}

	p.Collateral, _ = decimal.NewFromString(collateral)
	p.Size, _ = decimal.NewFromString(size)
	p.EntryPrice, _ = decimal.NewFromString(entryPrice)
	p.LastFundingIndex, _ = decimal.NewFromString(fundingIdx)
	return &p, nil
}

func (s *PostgresStore) GetPosition(ctx context.Context, id string) (*model.Position, error) {
	p, err := scanPosition(s.pool.QueryRow(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: position %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get position %s: %w", id, err)
	}
	return p, nil
}

func (s *PostgresStore) ListPositionsByTrader(ctx context.Context, trader string) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE trader = $1 ORDER BY open_time`, trader)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []model.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, *p)
	}
	return positions, rows.Err()
}

func (s *PostgresStore) DeletePosition(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM positions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: position %s", ErrNotFound, id)
	}
	return nil
}

func (s *PostgresStore) InsertEvent(ctx context.Context, e *model.Event) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO events (id, type, position_id, trader, market_id, is_long,
		                     collateral, size, price, leverage, pnl, fee, liquidator, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10,
		         $11::NUMERIC, $12::NUMERIC, $13, $14)`,
		e.ID, e.Type, e.PositionID, e.Trader, e.MarketID, e.IsLong,
		e.Collateral.String(), e.Size.String(), e.Price.String(), e.Leverage,
		e.PnL.String(), e.Fee.String(), e.Liquidator, e.Timestamp,
	)
	return err
}

const eventColumns = `id, type, position_id, trader, market_id, is_long,
	collateral::TEXT, size::TEXT, price::TEXT, leverage, pnl::TEXT, fee::TEXT,
	liquidator, timestamp`

func (s *PostgresStore) GetEventsByMarket(ctx context.Context, marketID string) ([]model.Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+eventColumns+` FROM events WHERE market_id = $1 ORDER BY timestamp`, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEvents(rows)
}

func (s *PostgresStore) GetEventsByTrader(ctx context.Context, trader string) ([]model.Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+eventColumns+` FROM events WHERE trader = $1 ORDER BY timestamp`, trader)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEvents(rows)
}

func scanEvents(rows pgx.Rows) ([]model.Event, error) {
	var events []model.Event
	for rows.Next() {
		var e model.Event
		var collateral, size, price, pnl, fee string

		if err := rows.Scan(&e.ID, &e.Type, &e.PositionID, &e.Trader, &e.MarketID, &e.IsLong,
			&collateral, &size, &price, &e.Leverage, &pnl, &fee,
			&e.Liquidator, &e.Timestamp); err != nil {
			return nil, err
		}

		e.Collateral, _ = decimal.NewFromString(collateral)
		e.Size, _ = decimal.NewFromString(size)
		e.Price, _ = decimal.NewFromString(price)
		e.PnL, _ = decimal.NewFromString(pnl)
		e.Fee, _ = decimal.NewFromString(fee)

		events = append(events, e)
	}
	return events, rows.Err()
}

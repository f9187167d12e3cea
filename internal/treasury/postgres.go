package treasury

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// PostgresLedger implements Ledger on PostgreSQL. Balances are stored as
// NUMERIC for exact decimal precision; each transfer runs in a single
// transaction so both sides move or neither does.
type PostgresLedger struct {
	pool *pgxpool.Pool
}

// NewPostgresLedger creates a PostgreSQL-backed ledger.
func NewPostgresLedger(pool *pgxpool.Pool) *PostgresLedger {
	return &PostgresLedger{pool: pool}
}

func (l *PostgresLedger) CreateAccount(ctx context.Context, id string) error {
	_, err := l.pool.Exec(ctx,
		`INSERT INTO treasury_accounts (id, balance) VALUES ($1, 0)`, id)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", ErrAccountExists, id)
	}
	return err
}

func (l *PostgresLedger) Balance(ctx context.Context, id string) (decimal.Decimal, error) {
	var balS string
	err := l.pool.QueryRow(ctx,
		`SELECT balance::TEXT FROM treasury_accounts WHERE id = $1`, id).Scan(&balS)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrUnknownAccount, id)
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("balance %s: %w", id, err)
	}
	bal, _ := decimal.NewFromString(balS)
	return bal, nil
}

func (l *PostgresLedger) Transfer(ctx context.Context, from, to string, auth Authority, amount decimal.Decimal) error {
	if !auth.Covers(from) {
		return fmt.Errorf("%w: from=%s", ErrBadAuthority, from)
	}

	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	// Debit only when the balance covers the amount; zero rows affected
	// means either a short balance or a missing account.
	tag, err := tx.Exec(ctx,
		`UPDATE treasury_accounts
		 SET balance = balance - $2::NUMERIC
		 WHERE id = $1 AND balance >= $2::NUMERIC`,
		from, amount.String())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM treasury_accounts WHERE id = $1)`, from).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("%w: %s", ErrUnknownAccount, from)
		}
		return fmt.Errorf("%w: %s needs %s", ErrInsufficientFunds, from, amount)
	}

	tag, err = tx.Exec(ctx,
		`UPDATE treasury_accounts SET balance = balance + $2::NUMERIC WHERE id = $1`,
		to, amount.String())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrUnknownAccount, to)
	}

	return tx.Commit(ctx)
}

package treasury

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

// MemoryLedger implements Ledger with an in-memory balance map. Used for
// testing and development. Not suitable for production (no persistence).
type MemoryLedger struct {
	mu       sync.Mutex
	balances map[string]decimal.Decimal
}

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{balances: make(map[string]decimal.Decimal)}
}

func (l *MemoryLedger) CreateAccount(_ context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.balances[id]; ok {
		return fmt.Errorf("%w: %s", ErrAccountExists, id)
	}
	l.balances[id] = decimal.Zero
	return nil
}

func (l *MemoryLedger) Balance(_ context.Context, id string) (decimal.Decimal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	bal, ok := l.balances[id]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrUnknownAccount, id)
	}
	return bal, nil
}

// Deposit credits an account from outside the system. External on-ramp for
// tests and development; not part of the Ledger interface.
func (l *MemoryLedger) Deposit(_ context.Context, id string, amount decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	bal, ok := l.balances[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAccount, id)
	}
	l.balances[id] = bal.Add(amount)
	return nil
}

func (l *MemoryLedger) Transfer(_ context.Context, from, to string, auth Authority, amount decimal.Decimal) error {
	if !auth.Covers(from) {
		return fmt.Errorf("%w: from=%s", ErrBadAuthority, from)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	src, ok := l.balances[from]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAccount, from)
	}
	dst, ok := l.balances[to]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAccount, to)
	}
	if src.LessThan(amount) {
		return fmt.Errorf("%w: %s has %s, need %s", ErrInsufficientFunds, from, src, amount)
	}

	l.balances[from] = src.Sub(amount)
	l.balances[to] = dst.Add(amount)
	return nil
}

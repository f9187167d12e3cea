// Package treasury moves collateral between trader wallets, per-market
// vaults, and liquidator wallets.
//
// Every transfer is authorized either by the debited owner (user-initiated,
// e.g. posting collateral) or by a vault Authority — a capability minted
// once per market at creation and held only by the lifecycle controller.
// Nothing outside the controller can move vault funds.
package treasury

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrInsufficientFunds is returned when the debited account's balance
	// is below the transfer amount.
	ErrInsufficientFunds = errors.New("treasury: insufficient funds")

	// ErrUnknownAccount is returned for transfers touching an account
	// that was never created.
	ErrUnknownAccount = errors.New("treasury: unknown account")

	// ErrAccountExists is returned when creating an account that already exists.
	ErrAccountExists = errors.New("treasury: account already exists")

	// ErrBadAuthority is returned when the presented authority does not
	// cover the debited account.
	ErrBadAuthority = errors.New("treasury: authority does not cover debited account")
)

// Authority is the capability required to debit an account. The zero value
// authorizes nothing.
type Authority struct {
	account string
	vault   bool
}

// OwnerAuthority authorizes debits from the owner's own account. The host
// has already verified the owner's signature before the engine runs; this
// carries that fact into the ledger.
func OwnerAuthority(account string) Authority {
	return Authority{account: account}
}

// VaultAuthority mints the capability scoped to one market's vault.
// Issued once at market creation; never exposed outside the lifecycle
// controller.
func VaultAuthority(vaultAccount string) Authority {
	return Authority{account: vaultAccount, vault: true}
}

// Covers reports whether the authority permits debiting the given account.
func (a Authority) Covers(account string) bool {
	return a.account != "" && a.account == account
}

// Ledger is the collateral transfer boundary. Implementations must apply
// each transfer atomically: either both sides move or neither does.
type Ledger interface {
	// CreateAccount registers a new zero-balance account.
	CreateAccount(ctx context.Context, id string) error

	// Balance returns the current balance of an account.
	Balance(ctx context.Context, id string) (decimal.Decimal, error)

	// Transfer moves amount from one account to another under the given
	// authority. Fails with ErrInsufficientFunds when the source balance
	// is short, with no partial movement.
	Transfer(ctx context.Context, from, to string, auth Authority, amount decimal.Decimal) error
}

package perp

import "errors"

// Domain errors surfaced by the lifecycle controller and market registry.
// Handlers map these to HTTP statuses; every failure aborts the whole
// operation with no partial state mutation and no fund movement.
var (
	// ErrMarketInactive rejects new positions on a deactivated market.
	// Existing positions may still be closed or liquidated.
	ErrMarketInactive = errors.New("perp: market is not active")

	// ErrInvalidLeverage rejects leverage outside [1, market max] on open,
	// or outside [1, 100] on market configuration.
	ErrInvalidLeverage = errors.New("perp: invalid leverage")

	// ErrInvalidLiquidationThreshold rejects thresholds outside (0, 100).
	ErrInvalidLiquidationThreshold = errors.New("perp: invalid liquidation threshold")

	// ErrInsufficientCollateral rejects opens below the market minimum.
	ErrInsufficientCollateral = errors.New("perp: insufficient collateral")

	// ErrInvalidPosition marks a position that is already closed, has zero
	// size, or does not belong to the referenced trader.
	ErrInvalidPosition = errors.New("perp: invalid position")

	// ErrCannotLiquidateYet means the equity re-check at the current price
	// found the position above the liquidation threshold.
	ErrCannotLiquidateYet = errors.New("perp: cannot liquidate yet")

	// ErrUnauthorized means the caller identity does not match the
	// required admin or trader.
	ErrUnauthorized = errors.New("perp: unauthorized")

	// ErrInvalidOracle means the supplied price source does not match the
	// market's bound oracle.
	ErrInvalidOracle = errors.New("perp: invalid oracle")

	// ErrInvalidMint means the collateral token does not match the one
	// the position was opened with.
	ErrInvalidMint = errors.New("perp: invalid collateral mint")

	// ErrSlippageExceeded means the fetched price deviates from the
	// caller's expected price by more than max_slippage_bps.
	ErrSlippageExceeded = errors.New("perp: slippage tolerance exceeded")

	// ErrInvalidMarketID rejects market ids that are not 32 bytes of hex.
	ErrInvalidMarketID = errors.New("perp: market id must be 32 bytes, hex encoded")
)

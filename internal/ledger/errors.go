package ledger

import "errors"

// Operation failures are non-retryable validation/business errors. Every
// failure aborts the whole orchestrated operation with no partial mutation.
var (
	ErrUnknownAsset           = errors.New("ledger: unknown or unsupported asset")
	ErrAlreadyInitialized     = errors.New("ledger: asset already initialized")
	ErrSameAsset              = errors.New("ledger: borrow and collateral asset must differ")
	ErrInsufficientBalance    = errors.New("ledger: insufficient deposit balance")
	ErrInsufficientCollateral = errors.New("ledger: insufficient collateral for borrow")
	ErrNotLiquidatable        = errors.New("ledger: position is not liquidatable")
	ErrPriceUnavailable       = errors.New("ledger: price unavailable")
	ErrTransferFailed         = errors.New("ledger: asset transfer failed")
	ErrUnauthorized           = errors.New("ledger: caller is not the owner")
	ErrInvalidAmount          = errors.New("ledger: amount must be positive")
	ErrNoDebt                 = errors.New("ledger: no outstanding debt to repay")
)

package event

import "LendLedger/internal/ledger"

// AssetRegistered records an administrative asset initialization.
type AssetRegistered struct {
	Asset            ledger.AssetID      `json:"asset"`
	PriceSource      string              `json:"price_source"`
	Kind             ledger.TransferKind `json:"kind"`
	ReserveFactorBps int64               `json:"reserve_factor_bps"`
}

func (AssetRegistered) EventType() Type { return TypeAssetRegistered }

// PriceSourceUpdated records an administrative oracle rebinding.
type PriceSourceUpdated struct {
	Asset     ledger.AssetID `json:"asset"`
	OldSource string         `json:"old_source"`
	NewSource string         `json:"new_source"`
}

func (PriceSourceUpdated) EventType() Type { return TypePriceSourceUpdated }

// InterestAccrued records one pool-level accrual advance. Emitted whenever an
// operation accrues an asset and elapsed > 0, so replaying deltas reproduces
// the exact totals.
type InterestAccrued struct {
	Asset           ledger.AssetID `json:"asset"`
	BorrowInterest  int64          `json:"borrow_interest"`
	DepositInterest int64          `json:"deposit_interest"`
	AccruedTo       int64          `json:"accrued_to"` // unix seconds
}

func (InterestAccrued) EventType() Type { return TypeInterestAccrued }

// Deposited records a user supply into the pool.
type Deposited struct {
	Asset  ledger.AssetID `json:"asset"`
	User   ledger.UserID  `json:"user"`
	Amount int64          `json:"amount"`
}

func (Deposited) EventType() Type { return TypeDeposited }

// Withdrawn records a user withdrawal from the pool.
type Withdrawn struct {
	Asset  ledger.AssetID `json:"asset"`
	User   ledger.UserID  `json:"user"`
	Amount int64          `json:"amount"`
}

func (Withdrawn) EventType() Type { return TypeWithdrawn }

// Borrowed records an opened or increased borrow and the collateral asset it
// was checked against.
type Borrowed struct {
	BorrowAsset     ledger.AssetID `json:"borrow_asset"`
	CollateralAsset ledger.AssetID `json:"collateral_asset"`
	User            ledger.UserID  `json:"user"`
	Amount          int64          `json:"amount"`
	CollateralValue int64          `json:"collateral_value"`
	BorrowValue     int64          `json:"borrow_value"`
}

func (Borrowed) EventType() Type { return TypeBorrowed }

// Repaid records a borrow reduction. Amount is the applied repayment after
// clamping to the outstanding balance; Refunded is any overpayment returned.
type Repaid struct {
	Asset    ledger.AssetID `json:"asset"`
	User     ledger.UserID  `json:"user"`
	Amount   int64          `json:"amount"`
	Refunded int64          `json:"refunded"`
}

func (Repaid) EventType() Type { return TypeRepaid }

// Liquidated records a partial liquidation: the liquidator repaid
// RepaidAmount of the borrower's debt and seized SeizedCollateral from the
// borrower's deposit.
type Liquidated struct {
	Borrower         ledger.UserID  `json:"borrower"`
	Liquidator       ledger.UserID  `json:"liquidator"`
	BorrowAsset      ledger.AssetID `json:"borrow_asset"`
	CollateralAsset  ledger.AssetID `json:"collateral_asset"`
	RepaidAmount     int64          `json:"repaid_amount"`
	SeizedCollateral int64          `json:"seized_collateral"`
}

func (Liquidated) EventType() Type { return TypeLiquidated }

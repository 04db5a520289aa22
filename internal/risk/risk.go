// Package risk values positions in a common unit and evaluates the
// collateralization invariant and the liquidation trigger.
package risk

import (
	"context"

	"LendLedger/internal/fixed"
	"LendLedger/internal/ledger"
	"LendLedger/internal/oracle"
)

const (
	// LiquidationThreshold: collateral value must stay at or above this
	// percentage of borrow value.
	LiquidationThreshold int64 = 150

	// LiquidationBonus: percentage of the outstanding borrow liquidated per
	// call. Each call is a partial, bounded liquidation, not a full seizure.
	LiquidationBonus int64 = 2
)

// Engine computes valuations from fresh oracle quotes. Stateless apart from
// the price directory reference.
type Engine struct {
	prices *oracle.Directory
}

func NewEngine(prices *oracle.Directory) *Engine {
	return &Engine{prices: prices}
}

// ValueOf converts an asset amount to common-unit value:
// price * amount / PriceScale. Fails with ErrPriceUnavailable when the
// oracle errors or reports a non-positive price.
func (e *Engine) ValueOf(ctx context.Context, asset ledger.AssetID, amount int64) (int64, error) {
	q, err := e.prices.GetPrice(ctx, asset)
	if err != nil {
		return 0, err
	}
	return fixed.Value(q.Price, amount), nil
}

// AmountOf is the inverse of ValueOf: value * PriceScale / price.
func (e *Engine) AmountOf(ctx context.Context, asset ledger.AssetID, value int64) (int64, error) {
	q, err := e.prices.GetPrice(ctx, asset)
	if err != nil {
		return 0, err
	}
	return fixed.Amount(q.Price, value), nil
}

// MeetsCollateralRequirement reports whether collateralValue covers
// borrowValue at the liquidation threshold:
// collateralValue * 100 >= borrowValue * 150.
func MeetsCollateralRequirement(collateralValue, borrowValue int64) bool {
	return fixed.MulDiv(collateralValue, 100, 1) >= fixed.MulDiv(borrowValue, LiquidationThreshold, 1)
}

// IsUndercollateralized evaluates the liquidation trigger for a single
// (borrow, collateral) asset pair: collateralValue < borrowValue * 150 / 100.
// This check never aggregates a user's other positions; each borrow is
// measured only against the one collateral asset named when it was opened.
func (e *Engine) IsUndercollateralized(ctx context.Context, collateralAsset, borrowAsset ledger.AssetID, collateralAmount, borrowAmount int64) (bool, error) {
	collateralValue, err := e.ValueOf(ctx, collateralAsset, collateralAmount)
	if err != nil {
		return false, err
	}
	borrowValue, err := e.ValueOf(ctx, borrowAsset, borrowAmount)
	if err != nil {
		return false, err
	}
	return collateralValue < fixed.MulDiv(borrowValue, LiquidationThreshold, 100), nil
}

// MaxBorrowable returns the largest borrow-asset amount a hypothetical
// collateral amount supports at the threshold:
// amountOf(borrowAsset, collateralValue * 100 / 150).
func (e *Engine) MaxBorrowable(ctx context.Context, collateralAsset, borrowAsset ledger.AssetID, collateralAmount int64) (int64, error) {
	collateralValue, err := e.ValueOf(ctx, collateralAsset, collateralAmount)
	if err != nil {
		return 0, err
	}
	maxBorrowValue := fixed.MulDiv(collateralValue, 100, LiquidationThreshold)
	return e.AmountOf(ctx, borrowAsset, maxBorrowValue)
}

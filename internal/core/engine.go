// Package core orchestrates the lending ledger: it owns the asset registry
// and the position book, serializes every mutation behind a single write
// lock, and runs each operation as an all-or-nothing staged transaction.
package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"LendLedger/internal/event"
	"LendLedger/internal/fixed"
	"LendLedger/internal/ledger"
	"LendLedger/internal/observability"
	"LendLedger/internal/oracle"
	"LendLedger/internal/risk"
	"LendLedger/internal/transfer"
)

// EventSink receives committed events in sequence order, under the write
// lock. Implementations must not block indefinitely.
type EventSink interface {
	Emit(event.Envelope)
}

// SinkFunc adapts a function to the EventSink interface.
type SinkFunc func(event.Envelope)

func (f SinkFunc) Emit(env event.Envelope) { f(env) }

const defaultCallTimeout = 5 * time.Second

// Config wires the engine's collaborators and policy knobs.
type Config struct {
	Prices    *oracle.Directory
	Transfers transfer.Transferer
	Sink      EventSink
	Metrics   *observability.Metrics
	Logger    zerolog.Logger

	// Rates defaults to ledger.DefaultRates when zero.
	Rates ledger.Rates

	// StrictWithdrawals re-checks collateralization of borrows backed by
	// the withdrawn asset. Off by default for parity with the reference
	// behavior.
	StrictWithdrawals bool

	// CallTimeout bounds each oracle and transfer call.
	CallTimeout time.Duration

	// Clock overrides time.Now, for tests and replay.
	Clock func() time.Time
}

// Engine is the single writer over all ledger state.
type Engine struct {
	mu sync.Mutex

	registry *ledger.Registry
	book     *ledger.Book
	prices   *oracle.Directory
	risk     *risk.Engine

	transfers transfer.Transferer
	sink      EventSink
	metrics   *observability.Metrics
	log       zerolog.Logger

	params Params
	clock  func() time.Time
	seq    int64
}

// Params are the engine's runtime policy knobs.
type Params struct {
	Rates             ledger.Rates
	StrictWithdrawals bool
	CallTimeout       time.Duration
}

func NewEngine(cfg Config) *Engine {
	rates := cfg.Rates
	if rates == (ledger.Rates{}) {
		rates = ledger.DefaultRates
	}
	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	prices := cfg.Prices
	if prices == nil {
		prices = oracle.NewDirectory()
	}
	return &Engine{
		registry:  ledger.NewRegistry(),
		book:      ledger.NewBook(),
		prices:    prices,
		risk:      risk.NewEngine(prices),
		transfers: cfg.Transfers,
		sink:      cfg.Sink,
		metrics:   cfg.Metrics,
		log:       cfg.Logger.With().Str("component", "engine").Logger(),
		params: Params{
			Rates:             rates,
			StrictWithdrawals: cfg.StrictWithdrawals,
			CallTimeout:       timeout,
		},
		clock: clock,
		seq:   1,
	}
}

// Sequence returns the next event sequence number to be assigned.
func (e *Engine) Sequence() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.seq
}

func (e *Engine) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.params.CallTimeout)
}

// Deposit supplies amount of asset from user into the pool. NativeValue
// assets validate attachedValue and refund any excess; ExternalToken assets
// pull from the user's external account.
func (e *Engine) Deposit(ctx context.Context, user ledger.UserID, asset ledger.AssetID, amount, attachedValue int64) error {
	return e.run("deposit", func(t *tx) error {
		if amount <= 0 {
			return ledger.ErrInvalidAmount
		}
		a, err := t.asset(asset)
		if err != nil {
			return err
		}
		t.accrue(a)

		if err := e.transferIn(ctx, a, user, amount, attachedValue); err != nil {
			return err
		}
		if a.Kind == ledger.TransferKindNativeValue && attachedValue > amount {
			if err := e.transferOut(ctx, a, user, attachedValue-amount); err != nil {
				// Return what was pulled so the custodian stays balanced.
				if rerr := e.transferOut(ctx, a, user, attachedValue); rerr != nil {
					e.log.Error().Err(rerr).Str("asset", string(asset)).
						Str("user", string(user)).
						Msg("compensating refund failed after deposit refund failure")
				}
				return err
			}
		}

		dep := t.deposit(asset, user)
		dep.Amount += amount
		dep.LastUpdate = t.now
		a.TotalDeposits += amount

		t.stage(&event.Deposited{Asset: asset, User: user, Amount: amount})
		e.log.Info().Str("asset", string(asset)).Str("user", string(user)).
			Int64("amount", amount).Msg("deposit applied")
		return nil
	})
}

// Withdraw returns amount of a user's deposit. Fails with
// ErrInsufficientBalance when the deposit cannot cover it. With strict
// withdrawals enabled, it also rejects withdrawals that would leave any of
// the user's borrows backed by this asset undercollateralized.
func (e *Engine) Withdraw(ctx context.Context, user ledger.UserID, asset ledger.AssetID, amount int64) error {
	return e.run("withdraw", func(t *tx) error {
		if amount <= 0 {
			return ledger.ErrInvalidAmount
		}
		a, err := t.asset(asset)
		if err != nil {
			return err
		}
		t.accrue(a)

		dep := t.deposit(asset, user)
		if dep.Amount < amount {
			return ledger.ErrInsufficientBalance
		}
		dep.Amount -= amount
		dep.LastUpdate = t.now
		a.TotalDeposits = clampSub(a.TotalDeposits, amount)

		if e.params.StrictWithdrawals {
			if err := e.checkBackedBorrows(ctx, t, user, asset, dep.Amount); err != nil {
				return err
			}
		}

		if err := e.transferOut(ctx, a, user, amount); err != nil {
			return err
		}

		t.stage(&event.Withdrawn{Asset: asset, User: user, Amount: amount})
		e.log.Info().Str("asset", string(asset)).Str("user", string(user)).
			Int64("amount", amount).Msg("withdrawal applied")
		return nil
	})
}

// checkBackedBorrows re-evaluates every borrow of user collateralized by
// asset against the reduced deposit amount.
func (e *Engine) checkBackedBorrows(ctx context.Context, t *tx, user ledger.UserID, asset ledger.AssetID, remaining int64) error {
	for key, rec := range e.book.BorrowEntries() {
		if key.User != user || rec.Amount == 0 || rec.Collateral != asset {
			continue
		}
		borrowAmount := rec.Amount
		if staged, ok := t.borrows[key]; ok {
			borrowAmount = staged.Amount
		}
		if borrowAmount == 0 {
			continue
		}
		cctx, cancel := e.callCtx(ctx)
		collateralValue, err := e.risk.ValueOf(cctx, asset, remaining)
		cancel()
		if err != nil {
			return err
		}
		cctx, cancel = e.callCtx(ctx)
		borrowValue, err := e.risk.ValueOf(cctx, key.Asset, borrowAmount)
		cancel()
		if err != nil {
			return err
		}
		if !risk.MeetsCollateralRequirement(collateralValue, borrowValue) {
			return ledger.ErrInsufficientCollateral
		}
	}
	return nil
}

// Borrow opens or increases a borrow of borrowAsset against the user's full
// deposit in collateralAsset. The pair must be distinct and the requested
// amount must satisfy collateralValue >= borrowValue * 150%. Prior borrows
// do not count against the check; once the position drops below the
// threshold it becomes liquidatable instead. A borrow naming a new
// collateral asset rebinds the position's pair.
func (e *Engine) Borrow(ctx context.Context, user ledger.UserID, borrowAsset, collateralAsset ledger.AssetID, amount int64) error {
	return e.run("borrow", func(t *tx) error {
		if amount <= 0 {
			return ledger.ErrInvalidAmount
		}
		if borrowAsset == collateralAsset {
			return ledger.ErrSameAsset
		}
		ba, err := t.asset(borrowAsset)
		if err != nil {
			return err
		}
		ca, err := t.asset(collateralAsset)
		if err != nil {
			return err
		}
		t.accrue(ba)
		t.accrue(ca)

		dep := t.deposit(collateralAsset, user)
		rec := t.borrow(borrowAsset, user)

		cctx, cancel := e.callCtx(ctx)
		collateralValue, err := e.risk.ValueOf(cctx, collateralAsset, dep.Amount)
		cancel()
		if err != nil {
			return err
		}
		cctx, cancel = e.callCtx(ctx)
		borrowValue, err := e.risk.ValueOf(cctx, borrowAsset, amount)
		cancel()
		if err != nil {
			return err
		}
		if !risk.MeetsCollateralRequirement(collateralValue, borrowValue) {
			return ledger.ErrInsufficientCollateral
		}

		rec.Amount += amount
		rec.Collateral = collateralAsset
		rec.LastUpdate = t.now
		ba.TotalBorrows += amount

		if err := e.transferOut(ctx, ba, user, amount); err != nil {
			return err
		}

		t.stage(&event.Borrowed{
			BorrowAsset:     borrowAsset,
			CollateralAsset: collateralAsset,
			User:            user,
			Amount:          amount,
			CollateralValue: collateralValue,
			BorrowValue:     borrowValue,
		})
		e.log.Info().Str("borrow_asset", string(borrowAsset)).
			Str("collateral_asset", string(collateralAsset)).
			Str("user", string(user)).Int64("amount", amount).
			Int64("collateral_value", collateralValue).
			Int64("borrow_value", borrowValue).Msg("borrow applied")
		return nil
	})
}

// Repay reduces a user's borrow by min(amount, outstanding). For NativeValue
// assets the attached value covers the applied repayment and any excess is
// refunded. Returns the applied amount and the refund.
func (e *Engine) Repay(ctx context.Context, user ledger.UserID, asset ledger.AssetID, amount, attachedValue int64) (applied, refunded int64, err error) {
	err = e.run("repay", func(t *tx) error {
		if amount <= 0 {
			return ledger.ErrInvalidAmount
		}
		a, aerr := t.asset(asset)
		if aerr != nil {
			return aerr
		}
		t.accrue(a)

		rec := t.borrow(asset, user)
		if rec.Amount == 0 {
			return ledger.ErrNoDebt
		}
		applied = fixed.Min(amount, rec.Amount)

		if terr := e.transferIn(ctx, a, user, applied, attachedValue); terr != nil {
			return terr
		}
		if a.Kind == ledger.TransferKindNativeValue && attachedValue > applied {
			refunded = attachedValue - applied
			if terr := e.transferOut(ctx, a, user, refunded); terr != nil {
				// Return what was pulled so the custodian stays balanced.
				if rerr := e.transferOut(ctx, a, user, attachedValue); rerr != nil {
					e.log.Error().Err(rerr).Str("asset", string(asset)).
						Str("user", string(user)).
						Msg("compensating refund failed after repay refund failure")
				}
				return terr
			}
		}

		rec.Amount -= applied
		rec.LastUpdate = t.now
		a.TotalBorrows = clampSub(a.TotalBorrows, applied)

		t.stage(&event.Repaid{Asset: asset, User: user, Amount: applied, Refunded: refunded})
		e.log.Info().Str("asset", string(asset)).Str("user", string(user)).
			Int64("applied", applied).Int64("refunded", refunded).Msg("repayment applied")
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return applied, refunded, nil
}

// LiquidationResult reports what a liquidation moved.
type LiquidationResult struct {
	RepaidAmount     int64
	SeizedCollateral int64
}

// Liquidate partially liquidates an undercollateralized borrow: the
// liquidator repays 2% of the outstanding borrow and receives collateral of
// equal value from the borrower's deposit, clamped to what the deposit
// holds. Healthy positions fail with ErrNotLiquidatable.
func (e *Engine) Liquidate(ctx context.Context, liquidator, borrower ledger.UserID, borrowAsset, collateralAsset ledger.AssetID, attachedValue int64) (LiquidationResult, error) {
	var res LiquidationResult
	err := e.run("liquidate", func(t *tx) error {
		if borrowAsset == collateralAsset {
			return ledger.ErrSameAsset
		}
		ba, err := t.asset(borrowAsset)
		if err != nil {
			return err
		}
		ca, err := t.asset(collateralAsset)
		if err != nil {
			return err
		}
		t.accrue(ba)
		t.accrue(ca)

		rec := t.borrow(borrowAsset, borrower)
		dep := t.deposit(collateralAsset, borrower)
		if rec.Amount == 0 {
			return ledger.ErrNotLiquidatable
		}

		cctx, cancel := e.callCtx(ctx)
		under, err := e.risk.IsUndercollateralized(cctx, collateralAsset, borrowAsset, dep.Amount, rec.Amount)
		cancel()
		if err != nil {
			return err
		}
		if !under {
			if e.metrics != nil {
				e.metrics.LiquidationsRejected.Inc()
			}
			return ledger.ErrNotLiquidatable
		}

		repaid := fixed.MulDiv(rec.Amount, risk.LiquidationBonus, 100)
		cctx, cancel = e.callCtx(ctx)
		repaidValue, err := e.risk.ValueOf(cctx, borrowAsset, repaid)
		cancel()
		if err != nil {
			return err
		}
		cctx, cancel = e.callCtx(ctx)
		seized, err := e.risk.AmountOf(cctx, collateralAsset, repaidValue)
		cancel()
		if err != nil {
			return err
		}
		seized = fixed.Min(seized, dep.Amount)

		if err := e.transferIn(ctx, ba, liquidator, repaid, attachedValue); err != nil {
			return err
		}
		pulled := repaid
		if ba.Kind == ledger.TransferKindNativeValue {
			pulled = attachedValue
		}
		if err := e.transferOut(ctx, ca, liquidator, seized); err != nil {
			// Return what was pulled so the custodian stays balanced.
			if rerr := e.transferOut(ctx, ba, liquidator, pulled); rerr != nil {
				e.log.Error().Err(rerr).Str("asset", string(borrowAsset)).
					Str("liquidator", string(liquidator)).
					Msg("compensating refund failed after seize failure")
			}
			return err
		}
		if ba.Kind == ledger.TransferKindNativeValue && attachedValue > repaid {
			if err := e.transferOut(ctx, ba, liquidator, attachedValue-repaid); err != nil {
				return err
			}
		}

		rec.Amount -= repaid
		rec.LastUpdate = t.now
		ba.TotalBorrows = clampSub(ba.TotalBorrows, repaid)
		dep.Amount = clampSub(dep.Amount, seized)
		dep.LastUpdate = t.now
		ca.TotalDeposits = clampSub(ca.TotalDeposits, seized)

		res = LiquidationResult{RepaidAmount: repaid, SeizedCollateral: seized}
		t.stage(&event.Liquidated{
			Borrower:         borrower,
			Liquidator:       liquidator,
			BorrowAsset:      borrowAsset,
			CollateralAsset:  collateralAsset,
			RepaidAmount:     repaid,
			SeizedCollateral: seized,
		})
		if e.metrics != nil {
			e.metrics.LiquidationsTotal.WithLabelValues(string(borrowAsset), string(collateralAsset)).Inc()
			e.metrics.CollateralSeized.WithLabelValues(string(collateralAsset)).Add(float64(seized))
		}
		e.log.Info().Str("borrower", string(borrower)).Str("liquidator", string(liquidator)).
			Str("borrow_asset", string(borrowAsset)).Str("collateral_asset", string(collateralAsset)).
			Int64("repaid", repaid).Int64("seized", seized).Msg("liquidation applied")
		return nil
	})
	if err != nil {
		return LiquidationResult{}, err
	}
	return res, nil
}

// RegisterAsset initializes a new supported asset with zero totals and binds
// its oracle source. Re-registering fails with ErrAlreadyInitialized.
func (e *Engine) RegisterAsset(asset ledger.AssetID, priceSource string, kind ledger.TransferKind, reserveFactorBps int64) error {
	return e.run("register_asset", func(t *tx) error {
		if e.registry.IsSupported(asset) {
			return fmt.Errorf("%w: %s", ledger.ErrAlreadyInitialized, asset)
		}
		if err := e.prices.Bind(asset, priceSource); err != nil {
			return err
		}
		if _, err := e.registry.Register(asset, priceSource, kind, reserveFactorBps, t.now); err != nil {
			return err
		}
		t.stage(&event.AssetRegistered{
			Asset:            asset,
			PriceSource:      priceSource,
			Kind:             kind,
			ReserveFactorBps: reserveFactorBps,
		})
		e.log.Info().Str("asset", string(asset)).Str("price_source", priceSource).
			Str("kind", kind.String()).Msg("asset registered")
		return nil
	})
}

// SetPriceSource rebinds a registered asset's oracle source.
func (e *Engine) SetPriceSource(asset ledger.AssetID, source string) error {
	return e.run("set_price_source", func(t *tx) error {
		a, err := t.asset(asset)
		if err != nil {
			return err
		}
		if err := e.prices.Bind(asset, source); err != nil {
			return err
		}
		old := a.PriceSource
		a.PriceSource = source
		t.stage(&event.PriceSourceUpdated{Asset: asset, OldSource: old, NewSource: source})
		e.log.Info().Str("asset", string(asset)).Str("old", old).Str("new", source).
			Msg("price source updated")
		return nil
	})
}

// AssetPrice returns the current oracle quote for a registered asset.
func (e *Engine) AssetPrice(ctx context.Context, asset ledger.AssetID) (oracle.Quote, error) {
	e.mu.Lock()
	_, err := e.registry.Get(asset)
	e.mu.Unlock()
	if err != nil {
		return oracle.Quote{}, err
	}
	cctx, cancel := e.callCtx(ctx)
	defer cancel()
	return e.prices.GetPrice(cctx, asset)
}

// AccruedInterest estimates the interest a user's borrow has accrued since
// its last update. This is the position-level view, computed from principal
// and elapsed time; it is independent of pool accrual bookkeeping.
func (e *Engine) AccruedInterest(user ledger.UserID, asset ledger.AssetID) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.registry.Get(asset); err != nil {
		return 0, err
	}
	return ledger.EstimateBorrowInterest(e.book.Borrow(asset, user), e.clock(), e.params.Rates), nil
}

// MaxBorrowable reports the largest borrow the given collateral amount
// supports at the threshold.
func (e *Engine) MaxBorrowable(ctx context.Context, collateralAsset, borrowAsset ledger.AssetID, collateralAmount int64) (int64, error) {
	e.mu.Lock()
	_, errC := e.registry.Get(collateralAsset)
	_, errB := e.registry.Get(borrowAsset)
	e.mu.Unlock()
	if errC != nil {
		return 0, errC
	}
	if errB != nil {
		return 0, errB
	}
	cctx, cancel := e.callCtx(ctx)
	defer cancel()
	return e.risk.MaxBorrowable(cctx, collateralAsset, borrowAsset, collateralAmount)
}

// IsLiquidatable reports whether the borrower's (borrowAsset, collateralAsset)
// position currently trips the liquidation trigger. Read-only: no accrual.
func (e *Engine) IsLiquidatable(ctx context.Context, borrower ledger.UserID, borrowAsset, collateralAsset ledger.AssetID) (bool, error) {
	e.mu.Lock()
	_, errB := e.registry.Get(borrowAsset)
	_, errC := e.registry.Get(collateralAsset)
	borrowAmount := e.book.Borrow(borrowAsset, borrower).Amount
	depositAmount := e.book.Deposit(collateralAsset, borrower).Amount
	e.mu.Unlock()
	if errB != nil {
		return false, errB
	}
	if errC != nil {
		return false, errC
	}
	if borrowAmount == 0 {
		return false, nil
	}
	cctx, cancel := e.callCtx(ctx)
	defer cancel()
	return e.risk.IsUndercollateralized(cctx, collateralAsset, borrowAsset, depositAmount, borrowAmount)
}

// Positions lists every non-empty position a user holds.
func (e *Engine) Positions(user ledger.UserID) []ledger.UserPosition {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.book.UserPositions(user)
}

// AssetState returns a copy of the asset's pooled state.
func (e *Engine) AssetState(asset ledger.AssetID) (ledger.Asset, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	a, err := e.registry.Get(asset)
	if err != nil {
		return ledger.Asset{}, err
	}
	return *a, nil
}

// run executes one staged transaction under the global write lock, committing
// only when fn returns nil.
func (e *Engine) run(op string, fn func(*tx) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	t := e.begin()
	err := fn(t)
	if e.metrics != nil {
		e.metrics.OpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		if e.metrics != nil {
			e.metrics.OpsRejected.WithLabelValues(op, rejectReason(err)).Inc()
		}
		e.log.Debug().Err(err).Str("op", op).Msg("operation rejected")
		return err
	}
	t.commit()
	if e.metrics != nil {
		e.metrics.OpsApplied.WithLabelValues(op).Inc()
	}
	return nil
}

func (e *Engine) transferIn(ctx context.Context, a *ledger.Asset, from ledger.UserID, amount, attachedValue int64) error {
	if e.transfers == nil {
		return nil
	}
	cctx, cancel := e.callCtx(ctx)
	defer cancel()
	if err := e.transfers.TransferIn(cctx, a, from, amount, attachedValue); err != nil {
		if errors.Is(err, ledger.ErrTransferFailed) {
			return err
		}
		return fmt.Errorf("%w: %v", ledger.ErrTransferFailed, err)
	}
	return nil
}

func (e *Engine) transferOut(ctx context.Context, a *ledger.Asset, to ledger.UserID, amount int64) error {
	if e.transfers == nil {
		return nil
	}
	if amount == 0 {
		return nil
	}
	cctx, cancel := e.callCtx(ctx)
	defer cancel()
	if err := e.transfers.TransferOut(cctx, a, to, amount); err != nil {
		if errors.Is(err, ledger.ErrTransferFailed) {
			return err
		}
		return fmt.Errorf("%w: %v", ledger.ErrTransferFailed, err)
	}
	return nil
}

func clampSub(total, amount int64) int64 {
	if amount >= total {
		return 0
	}
	return total - amount
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, ledger.ErrUnknownAsset):
		return "unknown_asset"
	case errors.Is(err, ledger.ErrAlreadyInitialized):
		return "already_initialized"
	case errors.Is(err, ledger.ErrSameAsset):
		return "same_asset"
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ledger.ErrInsufficientCollateral):
		return "insufficient_collateral"
	case errors.Is(err, ledger.ErrNotLiquidatable):
		return "not_liquidatable"
	case errors.Is(err, ledger.ErrPriceUnavailable):
		return "price_unavailable"
	case errors.Is(err, ledger.ErrTransferFailed):
		return "transfer_failed"
	case errors.Is(err, ledger.ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ledger.ErrNoDebt):
		return "no_debt"
	default:
		return "internal"
	}
}

package ledger

import (
	"time"

	"LendLedger/internal/fixed"
)

// Rates holds the fixed annual simple rates applied by the accrual engine,
// in basis points.
type Rates struct {
	BorrowRateBps  int64
	DepositRateBps int64
}

// DefaultRates mirrors the reference configuration: 5% borrow, 3% deposit.
var DefaultRates = Rates{BorrowRateBps: 500, DepositRateBps: 300}

// AccrualResult reports the interest added to each pooled total.
type AccrualResult struct {
	BorrowInterest  int64
	DepositInterest int64
}

// Accrue advances the asset's pooled totals from LastAccrualTime to now using
// simple (non-compounding) annual rates. Interest is computed against the
// pre-accrual totals, then added. Calling again at the same instant is a
// no-op, and accrual never runs backward: a now before LastAccrualTime leaves
// the asset untouched.
//
// Accrual is pool-level only. Individual positions are not advanced here;
// EstimateBorrowInterest below provides the per-position view, which can
// diverge from the pool figure. That asymmetry is preserved from the
// reference behavior.
func Accrue(a *Asset, now time.Time, rates Rates) AccrualResult {
	elapsed := now.Unix() - a.LastAccrualTime.Unix()
	if elapsed <= 0 {
		return AccrualResult{}
	}
	res := AccrualResult{
		BorrowInterest:  fixed.SimpleInterest(a.TotalBorrows, rates.BorrowRateBps, elapsed),
		DepositInterest: fixed.SimpleInterest(a.TotalDeposits, rates.DepositRateBps, elapsed),
	}
	a.TotalBorrows += res.BorrowInterest
	a.TotalDeposits += res.DepositInterest
	a.LastAccrualTime = now
	return res
}

// EstimateBorrowInterest computes a borrower's accrued interest on demand
// from the position's own last-update time. This is an estimate independent
// of pool bookkeeping: the pool accrues against totals while this uses the
// position principal, so the two views drift apart between position updates.
func EstimateBorrowInterest(borrow *Record, now time.Time, rates Rates) int64 {
	if borrow == nil || borrow.Amount <= 0 {
		return 0
	}
	elapsed := now.Unix() - borrow.LastUpdate.Unix()
	if elapsed <= 0 {
		return 0
	}
	return fixed.SimpleInterest(borrow.Amount, rates.BorrowRateBps, elapsed)
}

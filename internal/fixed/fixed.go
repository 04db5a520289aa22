package fixed

import (
	"math"
	"math/big"
	"sync"
)

// All ledger amounts and prices are int64 fixed-point values scaled by
// PriceScale. Intermediate products use big.Int so a*b never overflows;
// results that fall outside the int64 range saturate at the bounds.
const (
	// PriceScale is the fixed decimal base for prices and amounts (1e8).
	PriceScale int64 = 100_000_000

	// BpsScale is the denominator for basis-point fractions.
	BpsScale int64 = 10_000

	// SecondsPerYear is the accrual year used by the simple-interest model.
	SecondsPerYear int64 = 31_536_000
)

var intPool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getInt() *big.Int {
	return intPool.Get().(*big.Int)
}

func putInt(v *big.Int) {
	v.SetInt64(0)
	intPool.Put(v)
}

// saturate narrows v to int64, clamping to the int64 bounds when the
// quotient itself does not fit.
func saturate(v *big.Int) int64 {
	if v.IsInt64() {
		return v.Int64()
	}
	if v.Sign() > 0 {
		return math.MaxInt64
	}
	return math.MinInt64
}

// MulDiv computes a * b / div with big.Int intermediates, truncating toward
// zero and saturating at the int64 bounds. div must be non-zero.
func MulDiv(a, b, div int64) int64 {
	prod := getInt()
	prod.Mul(big.NewInt(a), big.NewInt(b))
	prod.Quo(prod, big.NewInt(div))
	out := saturate(prod)
	putInt(prod)
	return out
}

// MulDiv3 computes a * b * c / div, used for rate * elapsed interest terms.
func MulDiv3(a, b, c, div int64) int64 {
	prod := getInt()
	prod.Mul(big.NewInt(a), big.NewInt(b))
	prod.Mul(prod, big.NewInt(c))
	prod.Quo(prod, big.NewInt(div))
	out := saturate(prod)
	putInt(prod)
	return out
}

// Value converts an asset amount to its common-unit value at the given
// 1e8-scaled price: price * amount / PriceScale.
func Value(price, amount int64) int64 {
	return MulDiv(price, amount, PriceScale)
}

// Amount is the inverse of Value: value * PriceScale / price.
// price must be positive.
func Amount(price, value int64) int64 {
	return MulDiv(value, PriceScale, price)
}

// SimpleInterest computes principal * rateBps * elapsedSeconds over a
// non-compounding year: principal * rateBps * elapsed / (BpsScale * year).
func SimpleInterest(principal, rateBps, elapsedSeconds int64) int64 {
	if principal <= 0 || rateBps <= 0 || elapsedSeconds <= 0 {
		return 0
	}
	return MulDiv3(principal, rateBps, elapsedSeconds, BpsScale*SecondsPerYear)
}

// Min returns the smaller of two int64 values.
func Min(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

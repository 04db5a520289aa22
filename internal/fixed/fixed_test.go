package fixed

import (
	"math"
	"testing"
)

func TestMulDiv(t *testing.T) {
	if got := MulDiv(10, 20, 4); got != 50 {
		t.Errorf("MulDiv(10,20,4) = %d, want 50", got)
	}
	// Truncates toward zero.
	if got := MulDiv(7, 3, 2); got != 10 {
		t.Errorf("MulDiv(7,3,2) = %d, want 10", got)
	}
}

func TestMulDivNoOverflow(t *testing.T) {
	// price 100_000e8 * amount 1_000e8 overflows int64 as a raw product but
	// the divided result still fits.
	price := int64(100_000) * PriceScale
	amount := int64(1_000) * PriceScale
	got := Value(price, amount)
	want := int64(100_000) * int64(1_000) * PriceScale
	if got != want {
		t.Errorf("Value = %d, want %d", got, want)
	}
}

func TestMulDivSaturates(t *testing.T) {
	// A quotient beyond int64 clamps at the bound instead of wrapping.
	price := int64(100_000) * PriceScale
	amount := int64(1_000_000) * PriceScale
	if got := Value(price, amount); got != math.MaxInt64 {
		t.Errorf("Value = %d, want math.MaxInt64", got)
	}
	if got := Value(-price, amount); got != math.MinInt64 {
		t.Errorf("negative Value = %d, want math.MinInt64", got)
	}
	if got := MulDiv3(price, amount, 2, 1); got != math.MaxInt64 {
		t.Errorf("MulDiv3 = %d, want math.MaxInt64", got)
	}
}

func TestValueAmountInverse(t *testing.T) {
	price := int64(2000) * PriceScale
	amount := int64(3) * PriceScale / 10 // 0.3

	value := Value(price, amount)
	if value != 600*PriceScale {
		t.Errorf("Value = %d, want %d", value, 600*PriceScale)
	}
	back := Amount(price, value)
	if back != amount {
		t.Errorf("Amount = %d, want %d", back, amount)
	}
}

func TestSimpleInterest(t *testing.T) {
	principal := int64(1000) * PriceScale

	// 5% over a full year.
	got := SimpleInterest(principal, 500, SecondsPerYear)
	if want := int64(50) * PriceScale; got != want {
		t.Errorf("full year = %d, want %d", got, want)
	}

	// Half a year halves the interest.
	got = SimpleInterest(principal, 500, SecondsPerYear/2)
	if want := int64(25) * PriceScale; got != want {
		t.Errorf("half year = %d, want %d", got, want)
	}

	if SimpleInterest(0, 500, SecondsPerYear) != 0 {
		t.Error("zero principal should accrue nothing")
	}
	if SimpleInterest(principal, 500, 0) != 0 {
		t.Error("zero elapsed should accrue nothing")
	}
	if SimpleInterest(principal, 500, -10) != 0 {
		t.Error("negative elapsed should accrue nothing")
	}
}

func TestMin(t *testing.T) {
	if Min(3, 5) != 3 || Min(5, 3) != 3 || Min(-1, 0) != -1 {
		t.Error("Min returned the wrong value")
	}
}

// Package decimalx wraps shopspring/decimal comparisons for price math.
// Float comparison on quotes is unreliable near the pip boundary, so every
// stop/target check in the engine goes through these helpers.
package decimalx

import (
	"math"

	"github.com/shopspring/decimal"
)

var eps = decimal.NewFromFloat(1e-8)

func fromFloat(v float64) decimal.Decimal {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(v)
}

func Cmp(a, b float64) int { return fromFloat(a).Cmp(fromFloat(b)) }

func LTE(a, b float64) bool { return Cmp(a, b) <= 0 }
func GTE(a, b float64) bool { return Cmp(a, b) >= 0 }
func LT(a, b float64) bool  { return Cmp(a, b) < 0 }
func GT(a, b float64) bool  { return Cmp(a, b) > 0 }

// Eq treats values within 1e-8 of each other as equal.
func Eq(a, b float64) bool {
	diff := fromFloat(a).Sub(fromFloat(b)).Abs()
	return diff.Cmp(eps) <= 0
}

// Mul multiplies through decimal to avoid drift in chained price scaling.
func Mul(a, b float64) float64 {
	f, _ := fromFloat(a).Mul(fromFloat(b)).Float64()
	return f
}

// Div returns 0 when the divisor is 0.
func Div(a, b float64) float64 {
	bd := fromFloat(b)
	if bd.IsZero() {
		return 0
	}
	f, _ := fromFloat(a).Div(bd).Float64()
	return f
}

// Round rounds to the given number of decimal places.
func Round(v float64, places int32) float64 {
	f, _ := fromFloat(v).Round(places).Float64()
	return f
}

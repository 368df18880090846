package risk

import (
	"zepix/internal/pkg/decimalx"
	"zepix/internal/pkg/pip"
	"zepix/internal/signal"
)

// ATRStop derives a volatility-scaled stop price from an ATR reading.
func ATRStop(symbol, direction string, entry, atr, multiplier float64) float64 {
	if entry <= 0 || atr <= 0 {
		return 0
	}
	if multiplier <= 0 {
		multiplier = 1.5
	}
	dist := decimalx.Mul(atr, multiplier)
	if direction == signal.DirectionBuy {
		return decimalx.Round(entry-dist, pip.Digits(symbol))
	}
	return decimalx.Round(entry+dist, pip.Digits(symbol))
}

// ATRTarget derives a volatility-scaled take-profit price.
func ATRTarget(symbol, direction string, entry, atr, multiplier float64) float64 {
	if entry <= 0 || atr <= 0 {
		return 0
	}
	if multiplier <= 0 {
		multiplier = 2.0
	}
	dist := decimalx.Mul(atr, multiplier)
	if direction == signal.DirectionBuy {
		return decimalx.Round(entry+dist, pip.Digits(symbol))
	}
	return decimalx.Round(entry-dist, pip.Digits(symbol))
}

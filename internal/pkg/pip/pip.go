// Package pip holds per-symbol pip geometry for the supported forex pairs.
package pip

import (
	"strings"

	"zepix/internal/pkg/decimalx"
)

// Size returns the pip size for a symbol: 0.01 for JPY crosses, 0.1 for
// metals, 0.0001 otherwise.
func Size(symbol string) float64 {
	sym := strings.ToUpper(strings.TrimSpace(symbol))
	switch {
	case sym == "XAUUSD" || sym == "XAGUSD":
		return 0.1
	case strings.HasSuffix(sym, "JPY"):
		return 0.01
	default:
		return 0.0001
	}
}

// Digits returns the broker quote precision used when rounding SL/TP prices.
func Digits(symbol string) int32 {
	sym := strings.ToUpper(strings.TrimSpace(symbol))
	switch {
	case sym == "XAUUSD" || sym == "XAGUSD":
		return 2
	case strings.HasSuffix(sym, "JPY"):
		return 3
	default:
		return 5
	}
}

// ValuePerLot returns the account-currency value of one pip for one
// standard lot. USD-quoted pairs and metals settle at 10 per pip.
func ValuePerLot(symbol string) float64 {
	return 10.0
}

// ToPips converts a price distance into pips for the symbol.
func ToPips(symbol string, distance float64) float64 {
	size := Size(symbol)
	if size <= 0 {
		return 0
	}
	if distance < 0 {
		distance = -distance
	}
	// quoted to 0.0001 pip so subtraction noise never flips a threshold
	return decimalx.Round(distance/size, 4)
}

// FromPips converts pips into a price distance for the symbol.
func FromPips(symbol string, pips float64) float64 {
	return pips * Size(symbol)
}

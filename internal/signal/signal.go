// Package signal defines the typed trading signal and the boundary decoder
// that produces it. The lifecycle engine only ever sees the typed struct;
// raw alert payloads never cross into the core.
package signal

import (
	"strings"
	"time"
)

// Direction of a trade.
const (
	DirectionBuy  = "BUY"
	DirectionSell = "SELL"
)

// Known signal types emitted by the charting alerts.
const (
	TypeInstitutionalLaunchpad = "Institutional_Launchpad"
	TypeLiquidityTrap          = "Liquidity_Trap"
	TypeLiquidityTrapReversal  = "Liquidity_Trap_Reversal"
	TypeMomentumBreakout       = "Momentum_Breakout"
	TypeMitigationTest         = "Mitigation_Test"
	TypeGoldenPocketFlip       = "Golden_Pocket_Flip"
	TypeScreenerFullBullish    = "Screener_Full_Bullish"
	TypeScreenerFullBearish    = "Screener_Full_Bearish"
	TypeSidewaysBreakout       = "Sideways_Breakout"
	TypeVolatilitySqueeze      = "Volatility_Squeeze"
	TypeTrendPulse             = "Trend_Pulse"
	TypeBullishExit            = "Bullish_Exit"
	TypeBearishExit            = "Bearish_Exit"
)

// Kind classifies what the engine should do with a signal.
type Kind int

const (
	KindUnknown Kind = iota
	KindEntry
	KindExit
	KindInfo
)

// Signal is the immutable, fully parsed trading signal. It arrives once per
// alert event; recovery orders synthesize new instances with a raised
// ChainLevel.
type Signal struct {
	SignalType      string
	Symbol          string
	Direction       string
	Timeframe       string
	EntryPrice      float64
	SLPrice         float64
	TPPrices        []float64
	ConfidenceScore float64
	ConsensusScore  int

	// ChainLevel is 0 for external signals; recovery re-entries carry the
	// level of the chain they extend.
	ChainLevel int

	ReceivedAt time.Time
}

// Kind classifies the signal by its type name.
func (s Signal) Kind() Kind {
	switch s.SignalType {
	case TypeBullishExit, TypeBearishExit:
		return KindExit
	case TypeVolatilitySqueeze, TypeTrendPulse:
		return KindInfo
	case TypeInstitutionalLaunchpad, TypeLiquidityTrap, TypeLiquidityTrapReversal,
		TypeMomentumBreakout, TypeMitigationTest, TypeGoldenPocketFlip,
		TypeScreenerFullBullish, TypeScreenerFullBearish, TypeSidewaysBreakout:
		return KindEntry
	default:
		return KindUnknown
	}
}

// TP1 returns the first take-profit target, or 0 when absent.
func (s Signal) TP1() float64 {
	if len(s.TPPrices) > 0 {
		return s.TPPrices[0]
	}
	return 0
}

// TP2 returns the extended target, falling back to TP1.
func (s Signal) TP2() float64 {
	if len(s.TPPrices) > 1 {
		return s.TPPrices[1]
	}
	return s.TP1()
}

// StopDistance returns the absolute entry-to-stop distance.
func (s Signal) StopDistance() float64 {
	d := s.EntryPrice - s.SLPrice
	if d < 0 {
		d = -d
	}
	return d
}

// OppositeDirection flips BUY/SELL.
func OppositeDirection(dir string) string {
	if strings.EqualFold(strings.TrimSpace(dir), DirectionBuy) {
		return DirectionSell
	}
	return DirectionBuy
}

// NormalizeDirection maps buy/long and sell/short spellings onto the
// canonical constants. Empty string means unrecognized.
func NormalizeDirection(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "buy", "long", "bull", "bullish":
		return DirectionBuy
	case "sell", "short", "bear", "bearish":
		return DirectionSell
	default:
		return ""
	}
}

package engine

import (
	"time"

	"zepix/internal/route"
	"zepix/internal/signal"
	"zepix/internal/strategy"
)

// Status is the lifecycle state of a managed trade.
type Status string

const (
	StatusPlaced       Status = "PLACED"
	StatusOpen         Status = "OPEN"
	StatusClosedSL     Status = "CLOSED_SL"
	StatusClosedTP     Status = "CLOSED_TP"
	StatusClosedManual Status = "CLOSED_MANUAL"
)

// Close reasons carried by close events.
const (
	ReasonSL     = "SL"
	ReasonTP     = "TP"
	ReasonManual = "MANUAL"
)

// Trade is a dual-order position tracked by the engine. Order A carries
// the trailing stop and take-profit, Order B carries a fixed dollar
// stop. A zero ticket means that leg was never filled.
type Trade struct {
	ID           string
	Symbol       string
	Direction    string
	OrderATicket int64
	OrderBTicket int64
	ChainLevel   int
	Status       Status
	LotSize      float64
	EntryPrice   float64
	SLPrice      float64
	TPPrice      float64
	Route        route.Route
	Origin       signal.Signal
	Trailing     *strategy.TrailingParams
	CloseReason  string
	PnL          float64
	OpenedAt     time.Time
	ClosedAt     time.Time

	// trailing stop state for Order A
	trailActive bool
	trailSL     float64
	bestPrice   float64
}

// Terminal reports whether the trade reached a closed state.
func (t *Trade) Terminal() bool {
	switch t.Status {
	case StatusClosedSL, StatusClosedTP, StatusClosedManual:
		return true
	}
	return false
}

func statusForReason(reason string) Status {
	switch reason {
	case ReasonSL:
		return StatusClosedSL
	case ReasonTP:
		return StatusClosedTP
	default:
		return StatusClosedManual
	}
}

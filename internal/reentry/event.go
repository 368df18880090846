package reentry

import (
	"time"

	"zepix/internal/signal"
)

// EventType selects which recovery monitor handles a closed trade.
type EventType string

const (
	// SLHunt watches for a retracement after a stop-loss close.
	SLHunt EventType = "SL_HUNT"
	// TPContinuation re-enters immediately after a take-profit close.
	TPContinuation EventType = "TP_CONTINUATION"
	// ExitContinuation watches for a same-direction signal shortly
	// after a manual or exit-signal close.
	ExitContinuation EventType = "EXIT_CONTINUATION"
)

// Event describes a closed trade handed to the re-entry manager.
type Event struct {
	Type       EventType
	TradeID    string
	Symbol     string
	Direction  string
	EntryPrice float64
	SLPrice    float64
	LotSize    float64
	ChainLevel int
	Origin     signal.Signal
	ClosedAt   time.Time
}

// StopDistance returns the absolute distance between entry and stop of
// the closed trade.
func (e Event) StopDistance() float64 {
	d := e.EntryPrice - e.SLPrice
	if d < 0 {
		d = -d
	}
	return d
}

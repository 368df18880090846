package engine

import (
	"time"

	"zepix/internal/signal"
)

type EventType string

const (
	// EvtSignalEntry carries a decoded entry signal.
	EvtSignalEntry EventType = "SIGNAL_ENTRY"
	// EvtSignalExit carries a decoded exit signal.
	EvtSignalExit EventType = "SIGNAL_EXIT"
	// EvtTradeClose reports a broker-side close of a tracked trade.
	EvtTradeClose EventType = "TRADE_CLOSE"
	// EvtPriceTick drives trailing stop updates for a symbol.
	EvtPriceTick EventType = "PRICE_TICK"
	// EvtModify requests a stop or target change on a tracked trade.
	EvtModify EventType = "MODIFY"
	// EvtSnapshot copies the active trade book out of the loop.
	EvtSnapshot EventType = "SNAPSHOT"
)

type snapshotRequest struct {
	collect func(trades []Trade)
}

// EventEnvelope is the unit of work processed by the engine loop.
type EventEnvelope struct {
	ID        string
	Type      EventType
	Payload   any
	CreatedAt time.Time

	// ReplyCh, when set, receives the handling result exactly once.
	ReplyCh chan error
}

// SignalPayload wraps a decoded signal for entry and exit events.
type SignalPayload struct {
	Signal signal.Signal
}

// ClosePayload reports that a tracked trade left the market.
type ClosePayload struct {
	TradeID   string
	Reason    string
	ExitPrice float64
	ClosedAt  time.Time
}

// PricePayload is a market tick for one symbol.
type PricePayload struct {
	Symbol string
	Price  float64
	At     time.Time
}

// ModifyPayload requests new stop and target levels. Zero values leave
// the corresponding level unchanged.
type ModifyPayload struct {
	TradeID string
	SLPrice float64
	TPPrice float64
}

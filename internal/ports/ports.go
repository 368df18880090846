// Package ports declares the boundary interfaces the lifecycle engine
// consumes. Broker, market-data, clock and persistence bindings live behind
// these so the core never imports a terminal API directly.
package ports

import (
	"context"
	"time"
)

// MarketData exposes read-only quote access.
type MarketData interface {
	// Price returns the current bid for the symbol.
	Price(ctx context.Context, symbol string) (float64, error)
	// Spread returns the current spread in pips.
	Spread(ctx context.Context, symbol string) (float64, error)
	// ATR returns the average true range for the symbol/timeframe.
	ATR(ctx context.Context, symbol, timeframe string) (float64, error)
	// MarketOpen reports whether the symbol is currently tradeable.
	MarketOpen(ctx context.Context, symbol string) (bool, error)
}

// Execution is the broker order surface. Implementations must be safe for
// concurrent use; the engine additionally serializes calls per symbol.
type Execution interface {
	// PlaceOrder submits a market order and returns the broker ticket.
	PlaceOrder(ctx context.Context, symbol, direction string, lot, sl, tp float64) (int64, error)
	// ModifyOrder updates SL/TP on an open ticket.
	ModifyOrder(ctx context.Context, ticket int64, sl, tp float64) error
	// CloseOrder closes a single ticket.
	CloseOrder(ctx context.Context, ticket int64) error
	// ClosePositionsByDirection closes every open position on the given side
	// for the symbol and returns the number closed.
	ClosePositionsByDirection(ctx context.Context, symbol, direction string) (int, error)
}

// Timer is a cancellable one-shot timer.
type Timer interface {
	C() <-chan time.Time
	Stop() bool
}

// Clock abstracts time so recovery windows are testable.
type Clock interface {
	Now() time.Time
	After(d time.Duration) Timer
}

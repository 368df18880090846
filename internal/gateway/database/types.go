// Package database declares the persistence records and store interface the
// engine depends on. Concrete storage lives in internal/store/gormstore.
package database

import (
	"context"
	"time"
)

// TradeRecord is the persisted form of a lifecycle trade.
type TradeRecord struct {
	TradeID      string
	Symbol       string
	Direction    string
	OrderATicket int64
	OrderBTicket int64
	ChainLevel   int
	Status       string
	SignalType   string
	Timeframe    string
	EntryPrice   float64
	SLPrice      float64
	LotSize      float64
	LogicRoute   string
	CloseReason  string
	PnL          float64
	OpenedAt     time.Time
	ClosedAt     *time.Time
	UpdatedAt    time.Time
}

// RiskStateRecord is the persisted risk counters plus the idempotency set of
// trade ids already booked into them.
type RiskStateRecord struct {
	DailyPnL       float64
	LifetimePnL    float64
	DayKey         string
	RecordedTrades []string
	UpdatedAt      time.Time
}

// TradeStore is the persistence port. SaveTrade upserts by trade id.
type TradeStore interface {
	SaveTrade(ctx context.Context, rec TradeRecord) error
	LoadActiveTrades(ctx context.Context) ([]TradeRecord, error)
	SaveRiskState(ctx context.Context, rec RiskStateRecord) error
	LoadRiskState(ctx context.Context) (RiskStateRecord, bool, error)
	Close() error
}

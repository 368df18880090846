package model

import "gorm.io/datatypes"

// TradeModel is the persisted row for one lifecycle trade.
type TradeModel struct {
	ID           int64   `gorm:"column:id;primaryKey"`
	TradeID      string  `gorm:"column:trade_id;uniqueIndex"`
	Symbol       string  `gorm:"column:symbol;index"`
	Direction    string  `gorm:"column:direction"`
	OrderATicket int64   `gorm:"column:order_a_ticket"`
	OrderBTicket int64   `gorm:"column:order_b_ticket"`
	ChainLevel   int     `gorm:"column:chain_level"`
	Status       string  `gorm:"column:status;index"`
	SignalType   string  `gorm:"column:signal_type"`
	Timeframe    string  `gorm:"column:timeframe"`
	EntryPrice   float64 `gorm:"column:entry_price"`
	SLPrice      float64 `gorm:"column:sl_price"`
	LotSize      float64 `gorm:"column:lot_size"`
	LogicRoute   string  `gorm:"column:logic_route"`
	CloseReason  string  `gorm:"column:close_reason"`
	PnL          float64 `gorm:"column:pnl"`
	OpenedAtUnix int64   `gorm:"column:opened_at"`
	ClosedAtUnix *int64  `gorm:"column:closed_at"`
	UpdatedAt    int64   `gorm:"column:updated_at"`
}

func (TradeModel) TableName() string { return "trades" }

// RiskStateModel is the single-row persisted risk counter set. The
// recorded trade ids keep PnL booking idempotent across restarts.
type RiskStateModel struct {
	ID            int64          `gorm:"column:id;primaryKey"`
	DailyPnL      float64        `gorm:"column:daily_pnl"`
	LifetimePnL   float64        `gorm:"column:lifetime_pnl"`
	DayKey        string         `gorm:"column:day_key"`
	RecordedJSON  datatypes.JSON `gorm:"column:recorded_trades;type:TEXT"`
	UpdatedAtUnix int64          `gorm:"column:updated_at"`
}

func (RiskStateModel) TableName() string { return "risk_state" }

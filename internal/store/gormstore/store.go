// Package gormstore is the SQLite implementation of the persistence port.
package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"zepix/internal/gateway/database"
	storemodel "zepix/internal/store/model"
)

type tradeModel = storemodel.TradeModel
type riskStateModel = storemodel.RiskStateModel

// Store implements database.TradeStore on Gorm + SQLite.
type Store struct {
	db *gorm.DB
}

var _ database.TradeStore = (*Store)(nil)

// New opens (or creates) the SQLite file and migrates the schema.
func New(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("gorm store: db path is empty")
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&tradeModel{}, &riskStateModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL: a little parallelism for status reads without lock churn
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) SaveTrade(ctx context.Context, rec database.TradeRecord) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store not initialized")
	}
	m := tradeModelFrom(rec)
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "trade_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"symbol", "direction", "order_a_ticket", "order_b_ticket",
				"chain_level", "status", "signal_type", "timeframe",
				"entry_price", "sl_price", "lot_size", "logic_route",
				"close_reason", "pnl", "opened_at", "closed_at", "updated_at",
			}),
		}).
		Create(&m).Error
}

func (s *Store) LoadActiveTrades(ctx context.Context) ([]database.TradeRecord, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store not initialized")
	}
	var models []tradeModel
	err := s.db.WithContext(ctx).
		Where("status IN ?", []string{"PLACED", "OPEN"}).
		Order("opened_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]database.TradeRecord, 0, len(models))
	for _, m := range models {
		out = append(out, tradeRecordFrom(m))
	}
	return out, nil
}

func (s *Store) SaveRiskState(ctx context.Context, rec database.RiskStateRecord) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store not initialized")
	}
	recorded, err := json.Marshal(rec.RecordedTrades)
	if err != nil {
		return err
	}
	m := riskStateModel{
		ID:            1,
		DailyPnL:      rec.DailyPnL,
		LifetimePnL:   rec.LifetimePnL,
		DayKey:        rec.DayKey,
		RecordedJSON:  recorded,
		UpdatedAtUnix: rec.UpdatedAt.Unix(),
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"daily_pnl", "lifetime_pnl", "day_key", "recorded_trades", "updated_at",
			}),
		}).
		Create(&m).Error
}

func (s *Store) LoadRiskState(ctx context.Context) (database.RiskStateRecord, bool, error) {
	if s == nil || s.db == nil {
		return database.RiskStateRecord{}, false, fmt.Errorf("gorm store not initialized")
	}
	var m riskStateModel
	err := s.db.WithContext(ctx).First(&m, 1).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return database.RiskStateRecord{}, false, nil
	}
	if err != nil {
		return database.RiskStateRecord{}, false, err
	}
	rec := database.RiskStateRecord{
		DailyPnL:    m.DailyPnL,
		LifetimePnL: m.LifetimePnL,
		DayKey:      m.DayKey,
		UpdatedAt:   time.Unix(m.UpdatedAtUnix, 0).UTC(),
	}
	if len(m.RecordedJSON) > 0 {
		if err := json.Unmarshal(m.RecordedJSON, &rec.RecordedTrades); err != nil {
			return database.RiskStateRecord{}, false, fmt.Errorf("decode recorded trades: %w", err)
		}
	}
	return rec, true, nil
}

func tradeModelFrom(rec database.TradeRecord) tradeModel {
	m := tradeModel{
		TradeID:      rec.TradeID,
		Symbol:       rec.Symbol,
		Direction:    rec.Direction,
		OrderATicket: rec.OrderATicket,
		OrderBTicket: rec.OrderBTicket,
		ChainLevel:   rec.ChainLevel,
		Status:       rec.Status,
		SignalType:   rec.SignalType,
		Timeframe:    rec.Timeframe,
		EntryPrice:   rec.EntryPrice,
		SLPrice:      rec.SLPrice,
		LotSize:      rec.LotSize,
		LogicRoute:   rec.LogicRoute,
		CloseReason:  rec.CloseReason,
		PnL:          rec.PnL,
		OpenedAtUnix: rec.OpenedAt.Unix(),
		UpdatedAt:    rec.UpdatedAt.Unix(),
	}
	if rec.ClosedAt != nil {
		closed := rec.ClosedAt.Unix()
		m.ClosedAtUnix = &closed
	}
	return m
}

func tradeRecordFrom(m tradeModel) database.TradeRecord {
	rec := database.TradeRecord{
		TradeID:      m.TradeID,
		Symbol:       m.Symbol,
		Direction:    m.Direction,
		OrderATicket: m.OrderATicket,
		OrderBTicket: m.OrderBTicket,
		ChainLevel:   m.ChainLevel,
		Status:       m.Status,
		SignalType:   m.SignalType,
		Timeframe:    m.Timeframe,
		EntryPrice:   m.EntryPrice,
		SLPrice:      m.SLPrice,
		LotSize:      m.LotSize,
		LogicRoute:   m.LogicRoute,
		CloseReason:  m.CloseReason,
		PnL:          m.PnL,
		OpenedAt:     time.Unix(m.OpenedAtUnix, 0).UTC(),
		UpdatedAt:    time.Unix(m.UpdatedAt, 0).UTC(),
	}
	if m.ClosedAtUnix != nil {
		closed := time.Unix(*m.ClosedAtUnix, 0).UTC()
		rec.ClosedAt = &closed
	}
	return rec
}

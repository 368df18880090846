package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// AlertLogRecord is one received webhook alert and what became of it.
type AlertLogRecord struct {
	ID         int64     `json:"id"`
	ReceivedAt time.Time `json:"received_at"`
	SignalType string    `json:"signal_type"`
	Symbol     string    `json:"symbol"`
	Direction  string    `json:"direction"`
	Timeframe  string    `json:"timeframe"`
	ChainLevel int       `json:"chain_level"`
	Outcome    string    `json:"outcome"`
	Detail     string    `json:"detail,omitempty"`
	RawPayload string    `json:"raw_payload,omitempty"`
}

// AlertLogStore keeps an append-only audit trail of every alert the
// webhook saw, accepted or not. Separate file from the trade store so a
// chatty alert source can never contend with order persistence.
type AlertLogStore struct {
	mu sync.Mutex
	db *sql.DB
}

func NewAlertLogStore(path string) (*AlertLogStore, error) {
	if path == "" {
		return nil, fmt.Errorf("alert log path is empty")
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := ensureAlertLogSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &AlertLogStore{db: db}, nil
}

func ensureAlertLogSchema(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS alert_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		received_at INTEGER NOT NULL,
		signal_type TEXT,
		symbol TEXT,
		direction TEXT,
		timeframe TEXT,
		chain_level INTEGER,
		outcome TEXT,
		detail TEXT,
		raw_payload TEXT
	)`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_alert_logs_received ON alert_logs(received_at DESC)`)
	return err
}

func (s *AlertLogStore) Append(ctx context.Context, rec AlertLogRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return fmt.Errorf("alert log store closed")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO alert_logs (received_at, signal_type, symbol, direction, timeframe, chain_level, outcome, detail, raw_payload)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ReceivedAt.Unix(), rec.SignalType, rec.Symbol, rec.Direction,
		rec.Timeframe, rec.ChainLevel, rec.Outcome, rec.Detail, rec.RawPayload)
	return err
}

// Recent returns the latest alerts, newest first.
func (s *AlertLogStore) Recent(ctx context.Context, limit int) ([]AlertLogRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, fmt.Errorf("alert log store closed")
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, received_at, signal_type, symbol, direction, timeframe, chain_level, outcome, detail, raw_payload
		 FROM alert_logs ORDER BY received_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []AlertLogRecord
	for rows.Next() {
		var rec AlertLogRecord
		var ts int64
		if err := rows.Scan(&rec.ID, &ts, &rec.SignalType, &rec.Symbol, &rec.Direction,
			&rec.Timeframe, &rec.ChainLevel, &rec.Outcome, &rec.Detail, &rec.RawPayload); err != nil {
			return nil, err
		}
		rec.ReceivedAt = time.Unix(ts, 0).UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *AlertLogStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

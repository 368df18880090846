// Package risk implements lot sizing and loss-limit accounting. All
// mutation of the risk counters funnels through RecordTradeResult under a
// single mutex, so concurrent closes cannot lose updates.
package risk

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"zepix/internal/gateway/database"
	"zepix/internal/logger"
	"zepix/internal/pkg/decimalx"
	"zepix/internal/pkg/pip"
	"zepix/internal/ports"
)

// ErrLimitExceeded is returned when the daily or lifetime loss cap blocks a
// new trade. It is a normal control-flow outcome, never retried.
var ErrLimitExceeded = fmt.Errorf("risk limit exceeded")

// Tier maps an account-balance bracket to a fixed lot.
type Tier struct {
	MinBalance float64 `mapstructure:"min_balance"`
	Lot        float64 `mapstructure:"lot"`
}

// Config is the risk engine configuration.
type Config struct {
	RiskPct       float64            `mapstructure:"risk_pct"`
	DailyLimit    float64            `mapstructure:"daily_limit"`
	LifetimeLimit float64            `mapstructure:"lifetime_limit"`
	MinLot        float64            `mapstructure:"min_lot"`
	MaxLot        float64            `mapstructure:"max_lot"`
	LotStep       float64            `mapstructure:"lot_step"`
	Tiers         []Tier             `mapstructure:"tiers"`
	ManualLots    map[string]float64 `mapstructure:"manual_lots"`
}

// DefaultTiers is the stock balance-bracket lot table.
func DefaultTiers() []Tier {
	return []Tier{
		{MinBalance: 0, Lot: 0.01},
		{MinBalance: 1000, Lot: 0.02},
		{MinBalance: 2500, Lot: 0.05},
		{MinBalance: 5000, Lot: 0.10},
		{MinBalance: 10000, Lot: 0.20},
		{MinBalance: 25000, Lot: 0.50},
		{MinBalance: 50000, Lot: 1.00},
	}
}

func (c *Config) applyDefaults() {
	if c.RiskPct <= 0 {
		c.RiskPct = 1.0
	}
	if c.MinLot <= 0 {
		c.MinLot = 0.01
	}
	if c.MaxLot <= 0 {
		c.MaxLot = 5.0
	}
	if c.LotStep <= 0 {
		c.LotStep = 0.01
	}
	if len(c.Tiers) == 0 {
		c.Tiers = DefaultTiers()
	}
	sort.Slice(c.Tiers, func(i, j int) bool { return c.Tiers[i].MinBalance < c.Tiers[j].MinBalance })
}

// Engine owns the process-wide risk state.
type Engine struct {
	cfg   Config
	clock ports.Clock
	store database.TradeStore

	mu          sync.Mutex
	dailyPnL    float64
	lifetimePnL float64
	dayKey      string
	recorded    map[string]bool
	degraded    bool
	limitFired  bool

	onDailyLimit func()
}

// NewEngine builds the engine and hydrates persisted counters. A failed
// load leaves the engine degraded: limit checks then fail closed until
// state is re-established, because trading on unknown counters could blow
// straight through the daily cap.
func NewEngine(cfg Config, clock ports.Clock, store database.TradeStore) *Engine {
	cfg.applyDefaults()
	e := &Engine{
		cfg:      cfg,
		clock:    clock,
		store:    store,
		recorded: make(map[string]bool),
		dayKey:   dayKeyFor(clock.Now()),
	}
	if store == nil {
		return e
	}
	rec, found, err := store.LoadRiskState(context.Background())
	if err != nil {
		logger.Errorf("risk: load state failed, failing closed: %v", err)
		e.degraded = true
		return e
	}
	if found {
		e.lifetimePnL = rec.LifetimePnL
		if rec.DayKey == e.dayKey {
			e.dailyPnL = rec.DailyPnL
			for _, id := range rec.RecordedTrades {
				e.recorded[id] = true
			}
		}
		logger.Infof("risk: state hydrated (daily=%.2f lifetime=%.2f)", e.dailyPnL, e.lifetimePnL)
	}
	return e
}

// SetDailyLimitCallback registers the fire-and-forget limit notification.
func (e *Engine) SetDailyLimitCallback(fn func()) {
	e.mu.Lock()
	e.onDailyLimit = fn
	e.mu.Unlock()
}

// CheckDailyLimit reports whether new trades may open and how much daily
// budget remains. Degraded state blocks trading.
func (e *Engine) CheckDailyLimit() (bool, float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rollDayLocked()
	if e.degraded {
		return false, 0
	}
	if e.cfg.DailyLimit <= 0 {
		return true, 0
	}
	remaining := e.cfg.DailyLimit + e.dailyPnL // dailyPnL is negative on loss
	if remaining <= 0 {
		return false, 0
	}
	return true, remaining
}

// CheckLifetimeLimit mirrors CheckDailyLimit for the lifetime cap.
func (e *Engine) CheckLifetimeLimit() (bool, float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.degraded {
		return false, 0
	}
	if e.cfg.LifetimeLimit <= 0 {
		return true, 0
	}
	remaining := e.cfg.LifetimeLimit + e.lifetimePnL
	if remaining <= 0 {
		return false, 0
	}
	return true, remaining
}

// CalculateLotSize sizes a position from risk percent and stop distance:
// (balance * riskPct/100) / (slPips * pipValue), clamped to broker limits
// and snapped down to the lot step.
func (e *Engine) CalculateLotSize(symbol string, riskPct, slPips, balance float64) float64 {
	if riskPct <= 0 {
		riskPct = e.cfg.RiskPct
	}
	if slPips <= 0 || balance <= 0 {
		return e.cfg.MinLot
	}
	riskAmount := decimalx.Mul(balance, riskPct/100)
	perLot := decimalx.Mul(slPips, pip.ValuePerLot(symbol))
	lot := decimalx.Div(riskAmount, perLot)
	return e.clampLot(lot)
}

// FixedLotForTier looks up the fixed lot for the balance bracket. A manual
// override (keyed "default" or by symbol elsewhere) takes precedence.
func (e *Engine) FixedLotForTier(balance float64) float64 {
	if override, ok := e.cfg.ManualLots["default"]; ok && override > 0 {
		return e.clampLot(override)
	}
	lot := e.cfg.MinLot
	for _, tier := range e.cfg.Tiers {
		if balance >= tier.MinBalance {
			lot = tier.Lot
		}
	}
	return e.clampLot(lot)
}

// FixedLotForSymbol applies a per-symbol manual override before the tier
// table.
func (e *Engine) FixedLotForSymbol(symbol string, balance float64) float64 {
	if override, ok := e.cfg.ManualLots[strings.ToUpper(strings.TrimSpace(symbol))]; ok && override > 0 {
		return e.clampLot(override)
	}
	return e.FixedLotForTier(balance)
}

// SmartLot scales the base lot down as the daily budget is consumed:
// full size above 50% remaining, 75% between 25% and 50%, half below 25%.
// It never scales up.
func (e *Engine) SmartLot(base float64) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if base <= 0 || e.cfg.DailyLimit <= 0 {
		return base
	}
	remaining := e.cfg.DailyLimit + e.dailyPnL
	frac := remaining / e.cfg.DailyLimit
	switch {
	case frac > 0.5:
		return base
	case frac > 0.25:
		return e.snapLot(decimalx.Mul(base, 0.75))
	default:
		return e.snapLot(decimalx.Mul(base, 0.50))
	}
}

// RecordTradeResult books a closed trade's PnL exactly once per trade id.
// Duplicate deliveries are dropped with a warning.
func (e *Engine) RecordTradeResult(ctx context.Context, tradeID string, pnl float64) {
	e.mu.Lock()
	e.rollDayLocked()
	if e.recorded[tradeID] {
		e.mu.Unlock()
		logger.Warnf("risk: duplicate result for trade %s dropped", tradeID)
		return
	}
	e.recorded[tradeID] = true
	e.dailyPnL += pnl
	e.lifetimePnL += pnl
	crossed := e.cfg.DailyLimit > 0 && e.cfg.DailyLimit+e.dailyPnL <= 0 && !e.limitFired
	if crossed {
		e.limitFired = true
	}
	rec := e.snapshotLocked()
	cb := e.onDailyLimit
	e.mu.Unlock()

	if e.store != nil {
		if err := e.store.SaveRiskState(ctx, rec); err != nil {
			logger.Errorf("risk: persist state failed: %v", err)
		}
	}
	if crossed {
		logger.Warnf("risk: daily loss limit reached (daily=%.2f limit=%.2f)", rec.DailyPnL, e.cfg.DailyLimit)
		if cb != nil {
			go cb()
		}
	}
}

// State returns the current counters for the status API.
func (e *Engine) State() database.RiskStateRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

func (e *Engine) snapshotLocked() database.RiskStateRecord {
	ids := make([]string, 0, len(e.recorded))
	for id := range e.recorded {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return database.RiskStateRecord{
		DailyPnL:       e.dailyPnL,
		LifetimePnL:    e.lifetimePnL,
		DayKey:         e.dayKey,
		RecordedTrades: ids,
		UpdatedAt:      e.clock.Now(),
	}
}

// rollDayLocked resets the daily counters when the calendar day changes.
// The external reset scheduler remains authoritative; this is the fallback
// for long-running processes.
func (e *Engine) rollDayLocked() {
	key := dayKeyFor(e.clock.Now())
	if key == e.dayKey {
		return
	}
	logger.Infof("risk: daily counters reset (%s -> %s)", e.dayKey, key)
	e.dayKey = key
	e.dailyPnL = 0
	e.limitFired = false
	e.recorded = make(map[string]bool)
}

func (e *Engine) clampLot(lot float64) float64 {
	if lot < e.cfg.MinLot {
		return e.cfg.MinLot
	}
	if lot > e.cfg.MaxLot {
		lot = e.cfg.MaxLot
	}
	return e.snapLot(lot)
}

// snapLot floors the lot onto the broker step so modification requests are
// never rejected for precision.
func (e *Engine) snapLot(lot float64) float64 {
	step := e.cfg.LotStep
	if step <= 0 {
		return lot
	}
	steps := int(decimalx.Div(lot, step) + 1e-9)
	snapped := decimalx.Mul(float64(steps), step)
	if snapped < e.cfg.MinLot {
		return e.cfg.MinLot
	}
	return decimalx.Round(snapped, 2)
}

func dayKeyFor(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

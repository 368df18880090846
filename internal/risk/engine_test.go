package risk

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zepix/internal/gateway/database"
	"zepix/internal/ports"
)

type stubTimer struct{ ch chan time.Time }

func (s stubTimer) C() <-chan time.Time { return s.ch }
func (s stubTimer) Stop() bool          { return true }

type stubClock struct {
	mu  sync.Mutex
	now time.Time
}

func newStubClock() *stubClock {
	return &stubClock{now: time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC)}
}

func (c *stubClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stubClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *stubClock) After(d time.Duration) ports.Timer {
	return stubTimer{ch: make(chan time.Time)}
}

type memStore struct {
	mu    sync.Mutex
	state *database.RiskStateRecord
}

func (m *memStore) SaveTrade(ctx context.Context, rec database.TradeRecord) error { return nil }
func (m *memStore) LoadActiveTrades(ctx context.Context) ([]database.TradeRecord, error) {
	return nil, nil
}
func (m *memStore) SaveRiskState(ctx context.Context, rec database.RiskStateRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := rec
	m.state = &cp
	return nil
}
func (m *memStore) LoadRiskState(ctx context.Context) (database.RiskStateRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		return database.RiskStateRecord{}, false, nil
	}
	return *m.state, true, nil
}
func (m *memStore) Close() error { return nil }

func newTestEngine(cfg Config) *Engine {
	return NewEngine(cfg, newStubClock(), nil)
}

func TestCalculateLotSize(t *testing.T) {
	e := newTestEngine(Config{})

	// 10000 * 1% = 100 risked; 50 pips * $10/pip per lot = $500 per lot.
	lot := e.CalculateLotSize("EURUSD", 1.0, 50, 10000)
	assert.InDelta(t, 0.20, lot, 1e-9)

	t.Run("clamped to min", func(t *testing.T) {
		lot := e.CalculateLotSize("EURUSD", 0.1, 200, 1000)
		assert.InDelta(t, 0.01, lot, 1e-9)
	})

	t.Run("clamped to max", func(t *testing.T) {
		e := newTestEngine(Config{MaxLot: 2.0})
		lot := e.CalculateLotSize("EURUSD", 5.0, 10, 100000)
		assert.InDelta(t, 2.0, lot, 1e-9)
	})

	t.Run("invalid inputs fall back to min lot", func(t *testing.T) {
		assert.InDelta(t, 0.01, e.CalculateLotSize("EURUSD", 1.0, 0, 10000), 1e-9)
		assert.InDelta(t, 0.01, e.CalculateLotSize("EURUSD", 1.0, 50, 0), 1e-9)
	})
}

func TestFixedLotForTier(t *testing.T) {
	e := newTestEngine(Config{})

	assert.InDelta(t, 0.01, e.FixedLotForTier(500), 1e-9)
	assert.InDelta(t, 0.05, e.FixedLotForTier(3000), 1e-9)
	assert.InDelta(t, 1.00, e.FixedLotForTier(80000), 1e-9)

	t.Run("manual override wins", func(t *testing.T) {
		e := newTestEngine(Config{ManualLots: map[string]float64{"default": 0.33}})
		assert.InDelta(t, 0.33, e.FixedLotForTier(80000), 1e-9)
	})

	t.Run("per symbol override", func(t *testing.T) {
		e := newTestEngine(Config{ManualLots: map[string]float64{"XAUUSD": 0.02}})
		assert.InDelta(t, 0.02, e.FixedLotForSymbol("XAUUSD", 80000), 1e-9)
		assert.InDelta(t, 1.00, e.FixedLotForSymbol("EURUSD", 80000), 1e-9)
	})
}

func TestSmartLotNeverScalesUp(t *testing.T) {
	cases := []struct {
		name     string
		dailyPnL float64
		want     float64
	}{
		{"full budget", 0, 1.0},
		{"above half", -40, 1.0},
		{"between quarter and half", -60, 0.75},
		{"below quarter", -80, 0.50},
		{"budget exhausted", -100, 0.50},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := newTestEngine(Config{DailyLimit: 100})
			if tc.dailyPnL != 0 {
				e.RecordTradeResult(context.Background(), "t1", tc.dailyPnL)
			}
			got := e.SmartLot(1.0)
			assert.InDelta(t, tc.want, got, 1e-9)
			assert.LessOrEqual(t, got, 1.0)
		})
	}
}

func TestRecordTradeResultIdempotent(t *testing.T) {
	e := newTestEngine(Config{DailyLimit: 100})
	ctx := context.Background()

	e.RecordTradeResult(ctx, "trade-1", -30)
	e.RecordTradeResult(ctx, "trade-1", -30)

	state := e.State()
	assert.InDelta(t, -30, state.DailyPnL, 1e-9)
	assert.InDelta(t, -30, state.LifetimePnL, 1e-9)
}

func TestDailyLimitBlocksAndNotifiesOnce(t *testing.T) {
	e := newTestEngine(Config{DailyLimit: 50})
	fired := make(chan struct{}, 2)
	e.SetDailyLimitCallback(func() { fired <- struct{}{} })
	ctx := context.Background()

	ok, remaining := e.CheckDailyLimit()
	require.True(t, ok)
	assert.InDelta(t, 50, remaining, 1e-9)

	e.RecordTradeResult(ctx, "t1", -30)
	ok, remaining = e.CheckDailyLimit()
	assert.True(t, ok)
	assert.InDelta(t, 20, remaining, 1e-9)

	e.RecordTradeResult(ctx, "t2", -30)
	ok, _ = e.CheckDailyLimit()
	assert.False(t, ok)

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("daily limit callback not fired")
	}

	// A further loss must not re-fire the callback.
	e.RecordTradeResult(ctx, "t3", -10)
	select {
	case <-fired:
		t.Fatal("daily limit callback fired twice")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDailyRollover(t *testing.T) {
	clk := newStubClock()
	e := NewEngine(Config{DailyLimit: 50}, clk, nil)
	ctx := context.Background()

	e.RecordTradeResult(ctx, "t1", -60)
	ok, _ := e.CheckDailyLimit()
	require.False(t, ok)

	clk.Advance(24 * time.Hour)
	ok, remaining := e.CheckDailyLimit()
	assert.True(t, ok)
	assert.InDelta(t, 50, remaining, 1e-9)

	// Lifetime PnL survives the rollover.
	assert.InDelta(t, -60, e.State().LifetimePnL, 1e-9)
}

func TestStatePersistsAndHydrates(t *testing.T) {
	store := &memStore{}
	clk := newStubClock()
	ctx := context.Background()

	first := NewEngine(Config{DailyLimit: 100}, clk, store)
	first.RecordTradeResult(ctx, "t1", -40)

	second := NewEngine(Config{DailyLimit: 100}, clk, store)
	state := second.State()
	assert.InDelta(t, -40, state.DailyPnL, 1e-9)
	assert.Contains(t, state.RecordedTrades, "t1")

	// The hydrated idempotency set still dedupes.
	second.RecordTradeResult(ctx, "t1", -40)
	assert.InDelta(t, -40, second.State().DailyPnL, 1e-9)
}

func TestConcurrentRecordsSingleWriter(t *testing.T) {
	e := newTestEngine(Config{DailyLimit: 10000})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			e.RecordTradeResult(ctx, tradeID(n), -1)
		}(i)
	}
	wg.Wait()
	assert.InDelta(t, -50, e.State().DailyPnL, 1e-9)
}

func tradeID(n int) string {
	return "trade-" + strconv.Itoa(n)
}

package reentry

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zepix/internal/clock"
	"zepix/internal/signal"
)

type recordingPlacer struct {
	mu      sync.Mutex
	signals []signal.Signal
	err     error
}

func (p *recordingPlacer) HandleSignal(ctx context.Context, sig signal.Signal) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.signals = append(p.signals, sig)
	return nil
}

func (p *recordingPlacer) all() []signal.Signal {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]signal.Signal, len(p.signals))
	copy(out, p.signals)
	return out
}

type priceFeed struct {
	mu     sync.Mutex
	prices map[string]float64
}

func (f *priceFeed) set(symbol string, px float64) {
	f.mu.Lock()
	f.prices[symbol] = px
	f.mu.Unlock()
}

func (f *priceFeed) Price(ctx context.Context, symbol string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if px, ok := f.prices[symbol]; ok {
		return px, nil
	}
	return 0, fmt.Errorf("no price for %s", symbol)
}

func (f *priceFeed) Spread(ctx context.Context, symbol string) (float64, error) { return 1, nil }
func (f *priceFeed) ATR(ctx context.Context, symbol, tf string) (float64, error) {
	return 0.0010, nil
}
func (f *priceFeed) MarketOpen(ctx context.Context, symbol string) (bool, error) { return true, nil }

func fastConfig() Config {
	return Config{
		SLHunt: SLHuntConfig{
			DefaultWindow: 250 * time.Millisecond,
			Windows:       map[string]time.Duration{},
			PollInterval:  2 * time.Millisecond,
		},
		ExitCont: ExitContConfig{Window: 2 * time.Second},
	}
}

func newTestManager(t *testing.T, cfg Config) (*Manager, *recordingPlacer, *priceFeed) {
	t.Helper()
	placer := &recordingPlacer{}
	feed := &priceFeed{prices: map[string]float64{}}
	mgr := NewManager(cfg, placer, feed, clock.New())
	mgr.Start()
	t.Cleanup(mgr.Stop)
	return mgr, placer, feed
}

func slHuntEvent() Event {
	return Event{
		Type:       SLHunt,
		TradeID:    "t-1",
		Symbol:     "EURUSD",
		Direction:  signal.DirectionBuy,
		EntryPrice: 1.1000,
		SLPrice:    1.0950,
		LotSize:    0.25,
		Origin: signal.Signal{
			SignalType: signal.TypeInstitutionalLaunchpad,
			Symbol:     "EURUSD",
			Direction:  signal.DirectionBuy,
			Timeframe:  "15",
		},
	}
}

func monitorState(mgr *Manager, tradeID string) (State, bool) {
	for _, mon := range mgr.Monitors() {
		if mon.TradeID == tradeID {
			return mon.State, true
		}
	}
	return "", false
}

func TestSLHuntRecoversOnRetracement(t *testing.T) {
	mgr, placer, feed := newTestManager(t, fastConfig())
	feed.set("EURUSD", 1.0940) // still below the stop

	mgr.Dispatch(slHuntEvent())
	require.Eventually(t, func() bool {
		st, ok := monitorState(mgr, "t-1")
		return ok && st == StateMonitoring
	}, time.Second, time.Millisecond)

	// 70% of the 50 pip stop distance puts the trigger at 1.0985
	feed.set("EURUSD", 1.0980)
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, placer.all())

	feed.set("EURUSD", 1.0986)
	require.Eventually(t, func() bool { return len(placer.all()) == 1 }, time.Second, time.Millisecond)

	sig := placer.all()[0]
	assert.Equal(t, 1, sig.ChainLevel)
	assert.Equal(t, signal.DirectionBuy, sig.Direction)
	assert.InDelta(t, 1.0986, sig.EntryPrice, 1e-9)
	// stop distance is carried over unchanged
	assert.InDelta(t, 1.0936, sig.SLPrice, 1e-9)

	st, ok := monitorState(mgr, "t-1")
	require.True(t, ok)
	assert.Equal(t, StateRecovered, st)
}

func TestSLHuntExpiresWhenPriceNeverReturns(t *testing.T) {
	cfg := fastConfig()
	cfg.SLHunt.DefaultWindow = 30 * time.Millisecond
	mgr, placer, feed := newTestManager(t, cfg)
	feed.set("EURUSD", 1.0900)

	mgr.Dispatch(slHuntEvent())
	require.Eventually(t, func() bool {
		st, ok := monitorState(mgr, "t-1")
		return ok && st == StateExpired
	}, time.Second, time.Millisecond)
	assert.Empty(t, placer.all())
}

func TestSLHuntWindowPerSymbol(t *testing.T) {
	cfg := fastConfig()
	cfg.SLHunt.DefaultWindow = time.Hour
	cfg.SLHunt.Windows = map[string]time.Duration{"GBPUSD": time.Minute}
	mgr := NewManager(cfg, &recordingPlacer{}, &priceFeed{prices: map[string]float64{}}, clock.New())

	assert.Equal(t, time.Minute, mgr.slWindow("GBPUSD"))
	assert.Equal(t, time.Hour, mgr.slWindow("EURUSD"))
}

func TestTPContinuationKeepsDistanceAtChainStart(t *testing.T) {
	mgr, placer, feed := newTestManager(t, fastConfig())
	feed.set("EURUSD", 1.1105)

	evt := slHuntEvent()
	evt.Type = TPContinuation
	mgr.Dispatch(evt)

	require.Eventually(t, func() bool { return len(placer.all()) == 1 }, time.Second, time.Millisecond)
	sig := placer.all()[0]
	assert.Equal(t, 1, sig.ChainLevel)
	// the first continuation re-enters with the full 50 pip distance
	assert.InDelta(t, 1.1055, sig.SLPrice, 1e-9)
}

func TestTPContinuationTightensStop(t *testing.T) {
	mgr, placer, feed := newTestManager(t, fastConfig())
	feed.set("EURUSD", 1.1105)

	evt := slHuntEvent()
	evt.Type = TPContinuation
	evt.ChainLevel = 2
	mgr.Dispatch(evt)

	require.Eventually(t, func() bool { return len(placer.all()) == 1 }, time.Second, time.Millisecond)
	sig := placer.all()[0]
	assert.Equal(t, 3, sig.ChainLevel)
	// a trade closing at level 2 tightens the 50 pip distance by 20%: 40 pips
	assert.InDelta(t, 1.1065, sig.SLPrice, 1e-9)
}

func TestTPContinuationFloorsTightening(t *testing.T) {
	mgr, placer, feed := newTestManager(t, fastConfig())
	feed.set("EURUSD", 1.1105)

	evt := slHuntEvent()
	evt.Type = TPContinuation
	evt.ChainLevel = 8
	mgr.Dispatch(evt)

	require.Eventually(t, func() bool { return len(placer.all()) == 1 }, time.Second, time.Millisecond)
	// floor at 50% of the original 50 pips
	assert.InDelta(t, 1.1080, placer.all()[0].SLPrice, 1e-9)
}

func TestExitContinuationAdoptsSameDirectionSignal(t *testing.T) {
	mgr, _, _ := newTestManager(t, fastConfig())

	evt := slHuntEvent()
	evt.Type = ExitContinuation
	mgr.Dispatch(evt)
	require.Eventually(t, func() bool {
		st, ok := monitorState(mgr, "t-1")
		return ok && st == StateMonitoring
	}, time.Second, time.Millisecond)

	next := signal.Signal{
		SignalType: signal.TypeMomentumBreakout,
		Symbol:     "EURUSD",
		Direction:  signal.DirectionBuy,
		Timeframe:  "15",
		EntryPrice: 1.1010,
		SLPrice:    1.0970,
	}
	got := mgr.Annotate(next)
	assert.Equal(t, 1, got.ChainLevel)

	st, ok := monitorState(mgr, "t-1")
	require.True(t, ok)
	assert.Equal(t, StateRecovered, st)

	// the chain is settled, a second signal passes through untouched
	again := mgr.Annotate(next)
	assert.Zero(t, again.ChainLevel)
}

func TestExitContinuationIgnoresOppositeDirection(t *testing.T) {
	mgr, _, _ := newTestManager(t, fastConfig())

	evt := slHuntEvent()
	evt.Type = ExitContinuation
	mgr.Dispatch(evt)
	require.Eventually(t, func() bool {
		_, ok := monitorState(mgr, "t-1")
		return ok
	}, time.Second, time.Millisecond)

	sell := signal.Signal{
		SignalType: signal.TypeMomentumBreakout,
		Symbol:     "EURUSD",
		Direction:  signal.DirectionSell,
		EntryPrice: 1.0990,
		SLPrice:    1.1030,
	}
	got := mgr.Annotate(sell)
	assert.Zero(t, got.ChainLevel)
}

func TestExitContinuationExpires(t *testing.T) {
	cfg := fastConfig()
	cfg.ExitCont.Window = 20 * time.Millisecond
	mgr, _, _ := newTestManager(t, cfg)

	evt := slHuntEvent()
	evt.Type = ExitContinuation
	mgr.Dispatch(evt)

	require.Eventually(t, func() bool {
		st, ok := monitorState(mgr, "t-1")
		return ok && st == StateExpired
	}, time.Second, time.Millisecond)

	got := mgr.Annotate(signal.Signal{
		SignalType: signal.TypeMomentumBreakout,
		Symbol:     "EURUSD",
		Direction:  signal.DirectionBuy,
		EntryPrice: 1.1010,
		SLPrice:    1.0970,
	})
	assert.Zero(t, got.ChainLevel)
}

func TestDuplicateEventsFirstWins(t *testing.T) {
	mgr, _, feed := newTestManager(t, fastConfig())
	feed.set("EURUSD", 1.0900)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			mgr.Dispatch(slHuntEvent())
		}()
	}
	wg.Wait()

	require.Eventually(t, func() bool {
		_, ok := monitorState(mgr, "t-1")
		return ok
	}, time.Second, time.Millisecond)

	running := 0
	for _, mon := range mgr.Monitors() {
		if mon.TradeID == "t-1" {
			running++
		}
	}
	assert.Equal(t, 1, running)
}

func TestRejectedPlacementCancelsChain(t *testing.T) {
	placer := &recordingPlacer{err: fmt.Errorf("daily limit reached")}
	feed := &priceFeed{prices: map[string]float64{"EURUSD": 1.1105}}
	mgr := NewManager(fastConfig(), placer, feed, clock.New())
	mgr.Start()
	t.Cleanup(mgr.Stop)

	evt := slHuntEvent()
	evt.Type = TPContinuation
	mgr.Dispatch(evt)

	require.Eventually(t, func() bool {
		st, ok := monitorState(mgr, "t-1")
		return ok && st == StateCancelled
	}, time.Second, time.Millisecond)
}

func TestStopCancelsRunningMonitors(t *testing.T) {
	placer := &recordingPlacer{}
	feed := &priceFeed{prices: map[string]float64{"EURUSD": 1.0900}}
	cfg := fastConfig()
	cfg.SLHunt.DefaultWindow = time.Hour
	mgr := NewManager(cfg, placer, feed, clock.New())
	mgr.Start()

	mgr.Dispatch(slHuntEvent())
	require.Eventually(t, func() bool {
		st, ok := monitorState(mgr, "t-1")
		return ok && st == StateMonitoring
	}, time.Second, time.Millisecond)

	mgr.Stop()
	st, ok := monitorState(mgr, "t-1")
	require.True(t, ok)
	assert.Equal(t, StateCancelled, st)
	assert.Empty(t, placer.all())
}

func TestFinishedMonitorHistoryStaysBounded(t *testing.T) {
	mgr := NewManager(fastConfig(), &recordingPlacer{}, &priceFeed{prices: map[string]float64{}}, clock.New())

	mgr.mu.Lock()
	for i := 0; i < historyLimit+25; i++ {
		mgr.archive(Monitor{TradeID: fmt.Sprintf("t-%d", i), State: StateExpired})
	}
	mgr.mu.Unlock()

	mons := mgr.Monitors()
	require.Len(t, mons, historyLimit)
	// oldest entries roll off first
	assert.Equal(t, "t-25", mons[0].TradeID)
}

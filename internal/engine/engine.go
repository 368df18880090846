// Package engine is the order orchestrator: a single event-loop actor
// that owns every tracked trade. Signals, broker closes, price ticks and
// modification requests are all queued onto one channel and processed
// sequentially, so trade state never needs a lock.
package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"zepix/internal/gateway/database"
	"zepix/internal/logger"
	"zepix/internal/pkg/circuit"
	"zepix/internal/ports"
	"zepix/internal/reentry"
	"zepix/internal/risk"
	"zepix/internal/route"
	"zepix/internal/session"
	"zepix/internal/signal"
	"zepix/internal/strategy"
)

// Sizing modes for the base lot.
const (
	SizingTier = "tier"
	SizingRisk = "risk"
)

// Config tunes the orchestrator.
type Config struct {
	// AccountBalance feeds tier lookup and percent-risk sizing.
	AccountBalance float64 `mapstructure:"account_balance"`
	// SizingMode selects "tier" (fixed lot table) or "risk" (percent of
	// balance against the stop distance).
	SizingMode string  `mapstructure:"sizing_mode"`
	RiskPct    float64 `mapstructure:"risk_pct"`
	QueueSize  int     `mapstructure:"queue_size"`
	// ATRStopMult and ATRTargetMult scale the volatility-derived levels
	// used when a signal carries no stop of its own. Zero selects the
	// stock multipliers.
	ATRStopMult   float64 `mapstructure:"atr_stop_mult"`
	ATRTargetMult float64 `mapstructure:"atr_target_mult"`
}

func (c *Config) applyDefaults() {
	if c.AccountBalance <= 0 {
		c.AccountBalance = 10000
	}
	if c.SizingMode == "" {
		c.SizingMode = SizingTier
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 100
	}
}

// RecoverySink receives close events that qualify for a recovery monitor.
type RecoverySink interface {
	Dispatch(evt reentry.Event)
}

// Callbacks are fire-and-forget notifications. Each is invoked on its own
// goroutine so a slow consumer can never stall the event loop.
type Callbacks struct {
	TradeOpened func(t Trade)
	TradeClosed func(t Trade)
	// RecoveryPlaced fires when an entry with a chain level above zero
	// opens, i.e. a monitor's re-entry filled.
	RecoveryPlaced func(t Trade)
}

// State is the in-memory trade book. Single goroutine access only.
type State struct {
	Trades map[string]*Trade
	BySym  map[string]map[string]bool
}

func NewState() *State {
	return &State{
		Trades: make(map[string]*Trade),
		BySym:  make(map[string]map[string]bool),
	}
}

func (s *State) index(t *Trade) {
	s.Trades[t.ID] = t
	set, ok := s.BySym[t.Symbol]
	if !ok {
		set = make(map[string]bool)
		s.BySym[t.Symbol] = set
	}
	set[t.ID] = true
}

// Engine is the event-driven orchestrator.
type Engine struct {
	cfg      Config
	gate     *session.Gate
	risk     *risk.Engine
	exec     ports.Execution
	market   ports.MarketData
	clock    ports.Clock
	store    database.TradeStore
	breaker  *circuit.Breaker
	profiles []strategy.Profile

	sink      RecoverySink
	callbacks Callbacks

	msgCh    chan EventEnvelope
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	state *State

	// session rollover tracking for force close, loop goroutine only
	sessionSeen bool
	lastWindow  *session.Window

	registry map[EventType]func(EventEnvelope) error
}

// New wires the orchestrator. Profiles are consulted in order; the first
// one accepting a signal owns it.
func New(cfg Config, gate *session.Gate, riskEng *risk.Engine, exec ports.Execution,
	market ports.MarketData, clock ports.Clock, store database.TradeStore,
	breaker *circuit.Breaker, profiles ...strategy.Profile) *Engine {
	cfg.applyDefaults()
	e := &Engine{
		cfg:      cfg,
		gate:     gate,
		risk:     riskEng,
		exec:     exec,
		market:   market,
		clock:    clock,
		store:    store,
		breaker:  breaker,
		profiles: profiles,
		msgCh:    make(chan EventEnvelope, cfg.QueueSize),
		stopCh:   make(chan struct{}),
		state:    NewState(),
	}
	e.registry = map[EventType]func(EventEnvelope) error{
		EvtSignalEntry: e.handleSignalEntry,
		EvtSignalExit:  e.handleSignalExit,
		EvtTradeClose:  e.handleTradeClose,
		EvtPriceTick:   e.handlePriceTick,
		EvtModify:      e.handleModify,
	}
	return e
}

// SetRecoverySink attaches the re-entry manager. Call before Start.
func (e *Engine) SetRecoverySink(s RecoverySink) { e.sink = s }

// SetCallbacks attaches notification hooks. Call before Start.
func (e *Engine) SetCallbacks(cb Callbacks) { e.callbacks = cb }

// Recover rebuilds the trade book from persisted open trades. Trailing
// state restarts from the stored stop.
func (e *Engine) Recover(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	recs, err := e.store.LoadActiveTrades(ctx)
	if err != nil {
		return fmt.Errorf("load active trades: %w", err)
	}
	e.state = NewState()
	for _, rec := range recs {
		t := tradeFromRecord(rec)
		e.state.index(t)
	}
	logger.Infof("engine: recovered %d active trades", len(recs))
	return nil
}

func (e *Engine) Start() {
	e.wg.Add(1)
	go e.runLoop()
}

func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
	e.wg.Wait()
}

func (e *Engine) Send(evt EventEnvelope) error {
	select {
	case e.msgCh <- evt:
		return nil
	case <-e.stopCh:
		return ErrEngineStopped
	}
}

func (e *Engine) SendSync(ctx context.Context, evt EventEnvelope) error {
	if evt.ReplyCh == nil {
		evt.ReplyCh = make(chan error, 1)
	}
	if err := e.Send(evt); err != nil {
		return err
	}
	select {
	case err := <-evt.ReplyCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-e.stopCh:
		return ErrEngineStopped
	}
}

// HandleSignal routes a decoded signal into the loop and waits for the
// outcome. Info signals are dropped here.
func (e *Engine) HandleSignal(ctx context.Context, sig signal.Signal) error {
	switch sig.Kind() {
	case signal.KindEntry:
		return e.SendSync(ctx, e.envelope(EvtSignalEntry, SignalPayload{Signal: sig}))
	case signal.KindExit:
		return e.SendSync(ctx, e.envelope(EvtSignalExit, SignalPayload{Signal: sig}))
	case signal.KindInfo:
		logger.Debugf("engine: info signal %s ignored", sig.SignalType)
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrProfileRejected, sig.SignalType)
	}
}

// NotifyClose reports a broker-side close. Async; duplicates are dropped
// inside the loop.
func (e *Engine) NotifyClose(tradeID, reason string, exitPrice float64) {
	evt := e.envelope(EvtTradeClose, ClosePayload{
		TradeID:   tradeID,
		Reason:    reason,
		ExitPrice: exitPrice,
		ClosedAt:  e.clock.Now(),
	})
	if err := e.Send(evt); err != nil {
		logger.Warnf("engine: close event for %s dropped: %v", tradeID, err)
	}
}

// OnPrice feeds a tick into the loop for trailing stop maintenance.
func (e *Engine) OnPrice(symbol string, price float64) {
	evt := e.envelope(EvtPriceTick, PricePayload{Symbol: symbol, Price: price, At: e.clock.Now()})
	select {
	case e.msgCh <- evt:
	case <-e.stopCh:
	default:
		// ticks are disposable under backpressure
	}
}

// Modify requests new stop/target levels on a tracked trade.
func (e *Engine) Modify(ctx context.Context, tradeID string, sl, tp float64) error {
	return e.SendSync(ctx, e.envelope(EvtModify, ModifyPayload{TradeID: tradeID, SLPrice: sl, TPPrice: tp}))
}

// ActiveTrades returns copies of all non-terminal trades.
func (e *Engine) ActiveTrades(ctx context.Context) ([]Trade, error) {
	var out []Trade
	err := e.SendSync(ctx, EventEnvelope{
		ID:   uuid.NewString(),
		Type: EvtSnapshot,
		Payload: snapshotRequest{collect: func(trades []Trade) {
			out = trades
		}},
		CreatedAt: e.clock.Now(),
	})
	return out, err
}

func (e *Engine) envelope(typ EventType, payload any) EventEnvelope {
	return EventEnvelope{
		ID:        uuid.NewString(),
		Type:      typ,
		Payload:   payload,
		CreatedAt: e.clock.Now(),
	}
}

func (e *Engine) runLoop() {
	defer e.wg.Done()
	logger.Infof("engine: actor started")
	for {
		select {
		case evt := <-e.msgCh:
			e.handleEvent(evt)
		case <-e.stopCh:
			logger.Infof("engine: actor stopping")
			return
		}
	}
}

// handleEvent dispatches one envelope. Panics are contained so a bad
// handler cannot take the loop down, and the reply channel is always
// answered so SendSync callers never hang.
func (e *Engine) handleEvent(evt EventEnvelope) {
	var err error
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("engine: panic handling %s: %v", evt.Type, r)
			debug.PrintStack()
			err = fmt.Errorf("panic: %v", r)
		}
		if evt.ReplyCh != nil {
			evt.ReplyCh <- err
			close(evt.ReplyCh)
		}
		if dur := time.Since(start); dur > 100*time.Millisecond {
			logger.Warnf("engine: slow event %s took %v", evt.Type, dur)
		}
	}()

	if evt.Type == EvtSnapshot {
		err = e.handleSnapshot(evt)
		return
	}

	handler, ok := e.registry[evt.Type]
	if !ok {
		logger.Warnf("engine: no handler for event type %s", evt.Type)
		return
	}
	err = handler(evt)
	if err != nil {
		logger.Debugf("engine: event %s finished with: %v", evt.Type, err)
	}
}

func (e *Engine) handleSnapshot(evt EventEnvelope) error {
	req, ok := evt.Payload.(snapshotRequest)
	if !ok {
		return fmt.Errorf("bad snapshot payload")
	}
	out := make([]Trade, 0, len(e.state.Trades))
	for _, t := range e.state.Trades {
		if t.Terminal() {
			continue
		}
		cp := *t
		out = append(out, cp)
	}
	req.collect(out)
	return nil
}

func (e *Engine) profileFor(sig signal.Signal) strategy.Profile {
	for _, p := range e.profiles {
		if ok, _ := p.Accepts(sig); ok {
			return p
		}
	}
	return nil
}

func tradeFromRecord(rec database.TradeRecord) *Trade {
	t := &Trade{
		ID:           rec.TradeID,
		Symbol:       rec.Symbol,
		Direction:    rec.Direction,
		OrderATicket: rec.OrderATicket,
		OrderBTicket: rec.OrderBTicket,
		ChainLevel:   rec.ChainLevel,
		Status:       Status(rec.Status),
		LotSize:      rec.LotSize,
		EntryPrice:   rec.EntryPrice,
		SLPrice:      rec.SLPrice,
		Route:        route.Route(rec.LogicRoute),
		CloseReason:  rec.CloseReason,
		PnL:          rec.PnL,
		OpenedAt:     rec.OpenedAt,
	}
	t.Origin = signal.Signal{
		SignalType: rec.SignalType,
		Symbol:     rec.Symbol,
		Direction:  rec.Direction,
		Timeframe:  rec.Timeframe,
		EntryPrice: rec.EntryPrice,
		SLPrice:    rec.SLPrice,
		ChainLevel: rec.ChainLevel,
	}
	t.trailSL = rec.SLPrice
	if rec.ClosedAt != nil {
		t.ClosedAt = *rec.ClosedAt
	}
	return t
}

func (e *Engine) recordFor(t *Trade) database.TradeRecord {
	rec := database.TradeRecord{
		TradeID:      t.ID,
		Symbol:       t.Symbol,
		Direction:    t.Direction,
		OrderATicket: t.OrderATicket,
		OrderBTicket: t.OrderBTicket,
		ChainLevel:   t.ChainLevel,
		Status:       string(t.Status),
		SignalType:   t.Origin.SignalType,
		Timeframe:    t.Origin.Timeframe,
		EntryPrice:   t.EntryPrice,
		SLPrice:      t.SLPrice,
		LotSize:      t.LotSize,
		LogicRoute:   string(t.Route),
		CloseReason:  t.CloseReason,
		PnL:          t.PnL,
		OpenedAt:     t.OpenedAt,
		UpdatedAt:    e.clock.Now(),
	}
	if !t.ClosedAt.IsZero() {
		closed := t.ClosedAt
		rec.ClosedAt = &closed
	}
	return rec
}

func (e *Engine) persist(t *Trade) {
	if e.store == nil {
		return
	}
	if err := e.store.SaveTrade(context.Background(), e.recordFor(t)); err != nil {
		logger.Errorf("engine: persist trade %s failed: %v", t.ID, err)
	}
}

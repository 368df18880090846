package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"zepix/internal/logger"
	"zepix/internal/pkg/decimalx"
	"zepix/internal/pkg/pip"
	"zepix/internal/reentry"
	"zepix/internal/risk"
	"zepix/internal/signal"
	"zepix/internal/strategy"
)

// handleSignalEntry runs the full admission pipeline for an entry signal:
// profile selection, chain cap, session gate, risk limits, routing, lot
// sizing, optional aggressive reversal, then dual-order placement.
func (e *Engine) handleSignalEntry(evt EventEnvelope) error {
	p, ok := evt.Payload.(SignalPayload)
	if !ok {
		return fmt.Errorf("bad entry payload")
	}
	sig := p.Signal

	prof := e.profileFor(sig)
	if prof == nil {
		logger.Infof("engine: no profile accepts %s %s tf=%s, skipped", sig.SignalType, sig.Symbol, sig.Timeframe)
		return ErrProfileRejected
	}
	if sig.ChainLevel > prof.MaxChainLevel() {
		logger.Warnf("engine: %s chain level %d exceeds cap %d", sig.Symbol, sig.ChainLevel, prof.MaxChainLevel())
		return ErrChainCapReached
	}

	now := e.clock.Now()
	admitted, win := e.gate.Admit(sig.Symbol, now)
	if !admitted {
		name := "none"
		if win != nil {
			name = win.Name
		}
		logger.Infof("engine: %s %s blocked by session gate (window=%s)", sig.Symbol, sig.Direction, name)
		return ErrAdmissionDenied
	}
	if ok, remaining := e.risk.CheckDailyLimit(); !ok {
		logger.Warnf("engine: %s rejected, daily loss limit reached", sig.Symbol)
		return ErrRiskLimitExceeded
	} else if remaining > 0 {
		logger.Debugf("engine: daily budget remaining %.2f", remaining)
	}
	if ok, _ := e.risk.CheckLifetimeLimit(); !ok {
		logger.Warnf("engine: %s rejected, lifetime loss limit reached", sig.Symbol)
		return ErrRiskLimitExceeded
	}
	if sig.StopDistance() <= 0 {
		if err := e.deriveATRLevels(&sig); err != nil {
			return err
		}
	}

	dec, err := prof.Route(sig)
	if err != nil {
		return err
	}

	total := e.risk.SmartLot(decimalx.Mul(e.baseLot(sig), dec.LotMultiplier))
	lotA, lotB := splitLot(total)

	var cfgB *strategy.OrderConfig
	if lotB > 0 {
		cfgB, err = prof.OrderBConfig(sig, lotB)
		if err != nil {
			return err
		}
	}
	if cfgB == nil {
		lotA = total
	}
	cfgA, err := prof.OrderAConfig(sig, lotA)
	if err != nil {
		return err
	}

	if prof.IsAggressiveReversal(sig) {
		e.closeOpposite(sig)
	}

	ticketA, errA := e.placeLeg(sig, cfgA)
	var (
		ticketB int64
		errB    error
	)
	if cfgB != nil {
		ticketB, errB = e.placeLeg(sig, *cfgB)
	}
	if errA != nil && (cfgB == nil || errB != nil) {
		return fmt.Errorf("%w: %v", ErrPlacementFailed, errA)
	}
	if errA != nil {
		logger.Warnf("engine: %s order A leg failed, continuing with B only: %v", sig.Symbol, errA)
	}
	if cfgB != nil && errB != nil {
		logger.Warnf("engine: %s order B leg failed, continuing with A only: %v", sig.Symbol, errB)
	}

	t := &Trade{
		ID:           uuid.NewString(),
		Symbol:       sig.Symbol,
		Direction:    sig.Direction,
		OrderATicket: ticketA,
		OrderBTicket: ticketB,
		ChainLevel:   sig.ChainLevel,
		Status:       StatusPlaced,
		LotSize:      total,
		EntryPrice:   sig.EntryPrice,
		SLPrice:      cfgA.SLPrice,
		TPPrice:      cfgA.TPPrice,
		Route:        dec.Route,
		Origin:       sig,
		Trailing:     cfgA.Trailing,
		OpenedAt:     now,
	}
	t.trailSL = cfgA.SLPrice
	t.bestPrice = sig.EntryPrice

	// Market orders fill on submission; promote as soon as a ticket exists.
	t.Status = StatusOpen
	e.state.index(t)
	e.persist(t)

	logger.Infof("engine: opened %s %s %s lot=%.2f route=%s chain=%d tickets=%d/%d",
		t.ID, t.Symbol, t.Direction, t.LotSize, t.Route, t.ChainLevel, ticketA, ticketB)

	cp := *t
	if e.callbacks.TradeOpened != nil {
		go e.callbacks.TradeOpened(cp)
	}
	if t.ChainLevel > 0 && e.callbacks.RecoveryPlaced != nil {
		go e.callbacks.RecoveryPlaced(cp)
	}
	return nil
}

// deriveATRLevels fills the stop from the symbol's volatility when a
// signal arrives without a usable one, and the first target when none was
// given. Sizing and routing then run on the derived levels like any other
// entry.
func (e *Engine) deriveATRLevels(sig *signal.Signal) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	atr, err := e.market.ATR(ctx, sig.Symbol, sig.Timeframe)
	if err != nil {
		return fmt.Errorf("%s has no stop and no ATR reading: %w", sig.Symbol, err)
	}
	sl := risk.ATRStop(sig.Symbol, sig.Direction, sig.EntryPrice, atr, e.cfg.ATRStopMult)
	if sl <= 0 {
		return fmt.Errorf("cannot derive a stop for %s from ATR %.5f", sig.Symbol, atr)
	}
	sig.SLPrice = sl
	if len(sig.TPPrices) == 0 {
		if tp := risk.ATRTarget(sig.Symbol, sig.Direction, sig.EntryPrice, atr, e.cfg.ATRTargetMult); tp > 0 {
			sig.TPPrices = []float64{tp}
		}
	}
	logger.Infof("engine: %s levels derived from ATR %.5f (sl=%.5f)", sig.Symbol, atr, sl)
	return nil
}

func (e *Engine) baseLot(sig signal.Signal) float64 {
	if e.cfg.SizingMode == SizingRisk {
		slPips := pip.ToPips(sig.Symbol, sig.StopDistance())
		return e.risk.CalculateLotSize(sig.Symbol, e.cfg.RiskPct, slPips, e.cfg.AccountBalance)
	}
	return e.risk.FixedLotForSymbol(sig.Symbol, e.cfg.AccountBalance)
}

// splitLot halves the total across both legs, snapped to the broker step.
// A remainder from rounding goes to leg B so the legs always sum back. A
// total below two broker steps cannot split without doubling the sized
// exposure, so it rides on leg A alone.
func splitLot(total float64) (float64, float64) {
	if total < 0.02 {
		return total, 0
	}
	half := decimalx.Round(decimalx.Div(total, 2), 2)
	rest := decimalx.Round(total-half, 2)
	return half, rest
}

// placeLeg submits one order through the circuit breaker.
func (e *Engine) placeLeg(sig signal.Signal, cfg strategy.OrderConfig) (int64, error) {
	if e.breaker != nil && !e.breaker.Allow() {
		return 0, fmt.Errorf("execution breaker open")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	ticket, err := e.exec.PlaceOrder(ctx, sig.Symbol, sig.Direction, cfg.LotSize, cfg.SLPrice, cfg.TPPrice)
	if e.breaker != nil {
		if err != nil {
			e.breaker.RecordFailure()
		} else {
			e.breaker.RecordSuccess()
		}
	}
	return ticket, err
}

// closeOpposite flattens the opposite side before an aggressive reversal
// entry. The closes take the normal manual-close path, so each can still
// open an exit-continuation window for its own direction; the reversal
// entry itself never matches those windows.
func (e *Engine) closeOpposite(sig signal.Signal) {
	opposite := signal.OppositeDirection(sig.Direction)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	n, err := e.exec.ClosePositionsByDirection(ctx, sig.Symbol, opposite)
	if err != nil {
		logger.Errorf("engine: reversal close %s %s failed: %v", sig.Symbol, opposite, err)
		return
	}
	if n > 0 {
		logger.Infof("engine: aggressive reversal closed %d %s %s positions", n, sig.Symbol, opposite)
	}
	for id := range e.state.BySym[sig.Symbol] {
		t := e.state.Trades[id]
		if t == nil || t.Terminal() || t.Direction != opposite {
			continue
		}
		e.applyClose(t, ReasonManual, 0, e.clock.Now(), true)
	}
}

func (e *Engine) handleSignalExit(evt EventEnvelope) error {
	p, ok := evt.Payload.(SignalPayload)
	if !ok {
		return fmt.Errorf("bad exit payload")
	}
	sig := p.Signal

	// A bullish exit clears shorts, a bearish exit clears longs.
	var target string
	switch sig.SignalType {
	case signal.TypeBullishExit:
		target = signal.DirectionSell
	case signal.TypeBearishExit:
		target = signal.DirectionBuy
	default:
		return fmt.Errorf("unsupported exit signal %s", sig.SignalType)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := e.exec.ClosePositionsByDirection(ctx, sig.Symbol, target); err != nil {
		logger.Errorf("engine: exit close %s %s failed: %v", sig.Symbol, target, err)
	}

	now := e.clock.Now()
	closed := 0
	for id := range e.state.BySym[sig.Symbol] {
		t := e.state.Trades[id]
		if t == nil || t.Terminal() || t.Direction != target {
			continue
		}
		e.applyClose(t, ReasonManual, 0, now, true)
		closed++
	}
	logger.Infof("engine: exit signal %s closed %d %s %s trades", sig.SignalType, closed, sig.Symbol, target)
	return nil
}

func (e *Engine) handleTradeClose(evt EventEnvelope) error {
	p, ok := evt.Payload.(ClosePayload)
	if !ok {
		return fmt.Errorf("bad close payload")
	}
	t, ok := e.state.Trades[p.TradeID]
	if !ok {
		logger.Warnf("engine: close for unknown trade %s ignored", p.TradeID)
		return ErrUnknownTrade
	}
	e.applyClose(t, p.Reason, p.ExitPrice, p.ClosedAt, true)
	return nil
}

// applyClose transitions a trade to its terminal state exactly once,
// books the PnL and optionally hands the close to the re-entry manager.
func (e *Engine) applyClose(t *Trade, reason string, exitPrice float64, at time.Time, emitRecovery bool) {
	if t.Terminal() {
		logger.Warnf("engine: duplicate close for trade %s (%s) dropped", t.ID, reason)
		return
	}
	if exitPrice <= 0 {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		px, err := e.market.Price(ctx, t.Symbol)
		cancel()
		if err != nil {
			logger.Warnf("engine: no exit price for %s, booking at stop: %v", t.ID, err)
			px = t.SLPrice
		}
		exitPrice = px
	}

	t.Status = statusForReason(reason)
	t.CloseReason = reason
	t.ClosedAt = at
	t.PnL = e.tradePnL(t, exitPrice)
	e.persist(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	e.risk.RecordTradeResult(ctx, t.ID, t.PnL)
	cancel()

	logger.Infof("engine: closed %s %s %s reason=%s pnl=%.2f chain=%d",
		t.ID, t.Symbol, t.Direction, reason, t.PnL, t.ChainLevel)

	cp := *t
	if e.callbacks.TradeClosed != nil {
		go e.callbacks.TradeClosed(cp)
	}
	if emitRecovery {
		e.dispatchRecovery(t)
	}
}

// dispatchRecovery emits the re-entry event matching the close reason.
// Dispatch happens inside the loop so close ordering is preserved, and is
// skipped entirely once the chain cap would be exceeded.
func (e *Engine) dispatchRecovery(t *Trade) {
	if e.sink == nil {
		return
	}
	limit := e.chainCapFor(t)
	if t.ChainLevel+1 > limit {
		logger.Infof("engine: trade %s ended chain at level %d (cap %d)", t.ID, t.ChainLevel, limit)
		return
	}
	var typ reentry.EventType
	switch t.Status {
	case StatusClosedSL:
		typ = reentry.SLHunt
	case StatusClosedTP:
		typ = reentry.TPContinuation
	default:
		typ = reentry.ExitContinuation
	}
	e.sink.Dispatch(reentry.Event{
		Type:       typ,
		TradeID:    t.ID,
		Symbol:     t.Symbol,
		Direction:  t.Direction,
		EntryPrice: t.EntryPrice,
		SLPrice:    t.SLPrice,
		LotSize:    t.LotSize,
		ChainLevel: t.ChainLevel,
		Origin:     t.Origin,
		ClosedAt:   t.ClosedAt,
	})
}

func (e *Engine) chainCapFor(t *Trade) int {
	if prof := e.profileFor(t.Origin); prof != nil {
		return prof.MaxChainLevel()
	}
	if len(e.profiles) > 0 {
		return e.profiles[0].MaxChainLevel()
	}
	return 0
}

func (e *Engine) tradePnL(t *Trade, exitPrice float64) float64 {
	diff := exitPrice - t.EntryPrice
	pips := pip.ToPips(t.Symbol, diff)
	if diff < 0 {
		pips = -pips
	}
	if t.Direction == signal.DirectionSell {
		pips = -pips
	}
	return decimalx.Round(decimalx.Mul(decimalx.Mul(pips, pip.ValuePerLot(t.Symbol)), t.LotSize), 2)
}

func (e *Engine) handleModify(evt EventEnvelope) error {
	p, ok := evt.Payload.(ModifyPayload)
	if !ok {
		return fmt.Errorf("bad modify payload")
	}
	t, ok := e.state.Trades[p.TradeID]
	if !ok || t.Terminal() {
		return ErrUnknownTrade
	}
	newSL := t.SLPrice
	if p.SLPrice > 0 {
		newSL = p.SLPrice
	}
	newTP := t.TPPrice
	if p.TPPrice > 0 {
		newTP = p.TPPrice
	}
	if decimalx.Eq(newSL, t.SLPrice) && decimalx.Eq(newTP, t.TPPrice) {
		return nil
	}
	if t.OrderATicket == 0 {
		return ErrModificationRejected
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.exec.ModifyOrder(ctx, t.OrderATicket, newSL, newTP); err != nil {
		return fmt.Errorf("%w: %v", ErrModificationRejected, err)
	}
	t.SLPrice = newSL
	t.TPPrice = newTP
	t.trailSL = newSL
	e.persist(t)
	return nil
}

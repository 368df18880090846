package engine

import (
	"context"
	"fmt"
	"time"

	"zepix/internal/logger"
	"zepix/internal/pkg/decimalx"
	"zepix/internal/pkg/pip"
	"zepix/internal/signal"
)

func (e *Engine) handlePriceTick(evt EventEnvelope) error {
	p, ok := evt.Payload.(PricePayload)
	if !ok {
		return fmt.Errorf("bad price payload")
	}
	e.checkSessionRollover()
	for id := range e.state.BySym[p.Symbol] {
		t := e.state.Trades[id]
		if t == nil || t.Status != StatusOpen {
			continue
		}
		e.updateTrailing(t, p.Price)
	}
	return nil
}

// checkSessionRollover flattens every open trade when a window flagged for
// force close ends. These closes book as manual and never spawn recovery
// monitors; the conditions that justified the trades ended with the session.
func (e *Engine) checkSessionRollover() {
	now := e.clock.Now()
	win := e.gate.ActiveWindow(now)
	if !e.sessionSeen {
		e.sessionSeen = true
		e.lastWindow = win
		return
	}
	prev := e.lastWindow
	e.lastWindow = win
	if prev == nil || !prev.ForceClose {
		return
	}
	if win != nil && win.ID == prev.ID {
		return
	}
	closed := 0
	for _, t := range e.state.Trades {
		if t.Terminal() {
			continue
		}
		e.closeTickets(t)
		e.applyClose(t, ReasonManual, 0, now, false)
		closed++
	}
	if closed > 0 {
		logger.Infof("engine: session %s ended, force closed %d trades", prev.ID, closed)
	}
}

func (e *Engine) closeTickets(t *Trade) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, ticket := range []int64{t.OrderATicket, t.OrderBTicket} {
		if ticket == 0 {
			continue
		}
		if err := e.exec.CloseOrder(ctx, ticket); err != nil {
			logger.Warnf("engine: force close ticket %d for %s failed: %v", ticket, t.ID, err)
		}
	}
}

// updateTrailing moves Order A's stop behind price. The stop arms once
// price has advanced start_pips past entry, then ratchets in whole steps.
// It only ever moves in the profit direction; a rejected modification
// leaves the tracked stop untouched so the next tick retries.
func (e *Engine) updateTrailing(t *Trade, price float64) {
	if t.Trailing == nil || t.OrderATicket == 0 || price <= 0 {
		return
	}
	tr := t.Trailing
	buy := t.Direction == signal.DirectionBuy

	advance := price - t.EntryPrice
	if !buy {
		advance = t.EntryPrice - price
	}
	if !t.trailActive {
		if advance <= 0 || pip.ToPips(t.Symbol, advance) < tr.StartPips {
			return
		}
		t.trailActive = true
		logger.Debugf("engine: trailing armed for %s at %.5f", t.ID, price)
	}

	dist := pip.FromPips(t.Symbol, tr.StartPips)
	step := pip.FromPips(t.Symbol, tr.StepPips)
	digits := pip.Digits(t.Symbol)

	var candidate float64
	if buy {
		candidate = decimalx.Round(price-dist, digits)
		if decimalx.LT(candidate, t.trailSL+step) {
			return
		}
	} else {
		candidate = decimalx.Round(price+dist, digits)
		if decimalx.GT(candidate, t.trailSL-step) {
			return
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.exec.ModifyOrder(ctx, t.OrderATicket, candidate, t.TPPrice); err != nil {
		logger.Warnf("engine: trailing update for %s rejected, retrying next tick: %v", t.ID, err)
		return
	}
	t.trailSL = candidate
	t.SLPrice = candidate
	if buy && price > t.bestPrice {
		t.bestPrice = price
	}
	if !buy && (t.bestPrice == 0 || price < t.bestPrice) {
		t.bestPrice = price
	}
	e.persist(t)
	logger.Debugf("engine: trailing stop for %s moved to %.5f", t.ID, candidate)
}

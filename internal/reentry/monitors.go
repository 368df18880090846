package reentry

import (
	"context"
	"time"

	"zepix/internal/logger"
	"zepix/internal/pkg/decimalx"
	"zepix/internal/pkg/pip"
	"zepix/internal/signal"
)

// runSLHunt polls price until it retraces the configured fraction of the
// stop distance back toward the old entry, or the window expires. A stop
// hunt that reverses like this re-arms the original idea one level deeper.
func (m *Manager) runSLHunt(mon *monitor) {
	defer m.wg.Done()

	evt := mon.evt
	dist := evt.StopDistance()
	if dist <= 0 {
		m.finish(mon, StateCancelled)
		return
	}
	retrace := decimalx.Mul(dist, m.cfg.SLHunt.RetracePct)
	buy := evt.Direction == signal.DirectionBuy
	var target float64
	if buy {
		target = evt.SLPrice + retrace
	} else {
		target = evt.SLPrice - retrace
	}

	deadline := m.clock.After(m.slWindow(evt.Symbol))
	for {
		poll := m.clock.After(m.cfg.SLHunt.PollInterval)
		select {
		case <-m.stopCh:
			poll.Stop()
			deadline.Stop()
			m.finish(mon, StateCancelled)
			return
		case <-deadline.C():
			poll.Stop()
			m.finish(mon, StateExpired)
			return
		case <-poll.C():
			px, err := m.price(evt.Symbol)
			if err != nil {
				logger.Debugf("reentry: price poll for %s failed: %v", evt.Symbol, err)
				continue
			}
			reached := (buy && decimalx.GTE(px, target)) || (!buy && decimalx.LTE(px, target))
			if !reached {
				continue
			}
			deadline.Stop()
			logger.Infof("reentry: stop hunt retrace confirmed for trade %s at %.5f", mon.TradeID, px)
			m.place(mon, m.chainSignal(evt, px, dist))
			return
		}
	}
}

// runTPContinuation re-enters immediately with the stop tightened by
// tighten_step per chain level already completed, floored at min_factor.
// The first continuation in a chain carries the distance unchanged.
func (m *Manager) runTPContinuation(mon *monitor) {
	defer m.wg.Done()

	evt := mon.evt
	dist := evt.StopDistance()
	if dist <= 0 {
		m.finish(mon, StateCancelled)
		return
	}
	factor := 1 - decimalx.Mul(m.cfg.TPCont.TightenStep, float64(evt.ChainLevel))
	if factor < m.cfg.TPCont.MinFactor {
		factor = m.cfg.TPCont.MinFactor
	}
	px, err := m.price(evt.Symbol)
	if err != nil {
		logger.Warnf("reentry: no price for %s continuation: %v", evt.Symbol, err)
		m.finish(mon, StateCancelled)
		return
	}
	m.place(mon, m.chainSignal(evt, px, decimalx.Mul(dist, factor)))
}

// runExitContinuation waits out the adoption window. Recovery itself
// happens in Annotate when a matching signal arrives; this goroutine only
// expires the monitor.
func (m *Manager) runExitContinuation(mon *monitor) {
	defer m.wg.Done()

	deadline := m.clock.After(m.cfg.ExitCont.Window)
	select {
	case <-m.stopCh:
		deadline.Stop()
		m.finish(mon, StateCancelled)
	case <-deadline.C():
		m.finish(mon, StateExpired)
	}
}

// Annotate folds an incoming signal into a waiting exit-continuation
// chain. A fresh same-direction entry inside the window gets the next
// chain level stamped on it; everything else passes through untouched.
func (m *Manager) Annotate(sig signal.Signal) signal.Signal {
	if sig.Kind() != signal.KindEntry || sig.ChainLevel != 0 {
		return sig
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, mon := range m.active {
		if mon.Type != ExitContinuation || mon.State != StateMonitoring {
			continue
		}
		if mon.Symbol != sig.Symbol || signal.NormalizeDirection(mon.Direction) != signal.NormalizeDirection(sig.Direction) {
			continue
		}
		mon.State = StateRecovered
		delete(m.active, mon.TradeID)
		m.archive(mon.Monitor)
		sig.ChainLevel = mon.ChainLevel + 1
		logger.Infof("reentry: signal %s adopted into chain of trade %s (level %d)",
			sig.SignalType, mon.TradeID, sig.ChainLevel)
		return sig
	}
	return sig
}

// chainSignal derives the next entry in the chain from the closed trade:
// same idea and direction, fresh entry at the current price, stop at the
// given distance.
func (m *Manager) chainSignal(evt Event, px, dist float64) signal.Signal {
	digits := pip.Digits(evt.Symbol)
	sig := evt.Origin
	sig.Symbol = evt.Symbol
	sig.Direction = evt.Direction
	sig.EntryPrice = px
	if evt.Direction == signal.DirectionBuy {
		sig.SLPrice = decimalx.Round(px-dist, digits)
	} else {
		sig.SLPrice = decimalx.Round(px+dist, digits)
	}
	sig.TPPrices = nil
	sig.ChainLevel = evt.ChainLevel + 1
	sig.ReceivedAt = m.clock.Now()
	return sig
}

func (m *Manager) price(symbol string) (float64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.market.Price(ctx, symbol)
}

package strategy

import (
	"fmt"

	"zepix/internal/pkg/decimalx"
	"zepix/internal/pkg/pip"
	"zepix/internal/route"
	"zepix/internal/signal"
)

// PriceActionConfig tunes the conservative intraday family.
type PriceActionConfig struct {
	Routing             route.Config `mapstructure:"routing"`
	Timeframe           string       `mapstructure:"timeframe"`
	ConfidenceThreshold float64      `mapstructure:"confidence_threshold"`
	TrailingStartPips   float64      `mapstructure:"trailing_start_pips"`
	TrailingStepPips    float64      `mapstructure:"trailing_step_pips"`
	RewardRatio         float64      `mapstructure:"reward_ratio"`
	MaxChain            int          `mapstructure:"max_chain_level"`
}

func (c *PriceActionConfig) applyDefaults() {
	if c.Timeframe == "" {
		c.Timeframe = "15"
	}
	if c.ConfidenceThreshold <= 0 {
		c.ConfidenceThreshold = 60
	}
	if c.TrailingStartPips <= 0 {
		c.TrailingStartPips = 20
	}
	if c.TrailingStepPips <= 0 {
		c.TrailingStepPips = 8
	}
	if c.RewardRatio <= 0 {
		c.RewardRatio = 2.0
	}
	if c.MaxChain <= 0 {
		c.MaxChain = 3
	}
	if len(c.Routing.Timeframes) == 0 && len(c.Routing.Overrides) == 0 {
		c.Routing = route.Config{
			Default: route.L2,
			Multipliers: map[route.Route]float64{
				route.L1: 1.0,
				route.L2: 1.0,
				route.L3: 1.0,
			},
		}
	}
}

// PriceAction is the conservative intraday family: a single Order-A leg,
// a confidence floor on entries, and a shorter recovery chain.
type PriceAction struct {
	cfg    PriceActionConfig
	router *route.Router
}

func NewPriceAction(cfg PriceActionConfig) *PriceAction {
	cfg.applyDefaults()
	return &PriceAction{cfg: cfg, router: route.NewRouter(cfg.Routing)}
}

func (p *PriceAction) Name() string { return "priceaction" }

func (p *PriceAction) Accepts(sig signal.Signal) (bool, string) {
	if sig.Kind() != signal.KindEntry {
		return false, fmt.Sprintf("signal %s is not an entry type", sig.SignalType)
	}
	if sig.Timeframe != p.cfg.Timeframe {
		return false, fmt.Sprintf("timeframe %s outside profile window %s", sig.Timeframe, p.cfg.Timeframe)
	}
	if sig.ConfidenceScore > 0 && sig.ConfidenceScore < p.cfg.ConfidenceThreshold {
		return false, fmt.Sprintf("confidence %.0f below threshold %.0f", sig.ConfidenceScore, p.cfg.ConfidenceThreshold)
	}
	return true, ""
}

func (p *PriceAction) Route(sig signal.Signal) (route.Decision, error) {
	return p.router.Route(sig)
}

func (p *PriceAction) OrderAConfig(sig signal.Signal, lot float64) (OrderConfig, error) {
	if lot <= 0 {
		return OrderConfig{}, fmt.Errorf("order A: lot must be positive")
	}
	dist := sig.StopDistance()
	if dist <= 0 {
		return OrderConfig{}, fmt.Errorf("order A: zero stop distance")
	}
	tp := sig.TP1()
	if tp <= 0 {
		target := decimalx.Mul(dist, p.cfg.RewardRatio)
		if sig.Direction == signal.DirectionBuy {
			tp = decimalx.Round(sig.EntryPrice+target, pip.Digits(sig.Symbol))
		} else {
			tp = decimalx.Round(sig.EntryPrice-target, pip.Digits(sig.Symbol))
		}
	}
	return OrderConfig{
		Slot:    SlotA,
		SLType:  SLTypeSmartTrailing,
		LotSize: lot,
		SLPrice: sig.SLPrice,
		TPPrice: tp,
		Trailing: &TrailingParams{
			StartPips: p.cfg.TrailingStartPips,
			StepPips:  p.cfg.TrailingStepPips,
		},
	}, nil
}

// OrderBConfig returns nil: this family trades Order A only.
func (p *PriceAction) OrderBConfig(signal.Signal, float64) (*OrderConfig, error) {
	return nil, nil
}

// IsAggressiveReversal is always false for the conservative family; it
// never force-closes opposite exposure.
func (p *PriceAction) IsAggressiveReversal(signal.Signal) bool { return false }

func (p *PriceAction) MaxChainLevel() int { return p.cfg.MaxChain }

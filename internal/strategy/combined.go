package strategy

import (
	"fmt"

	"zepix/internal/pkg/decimalx"
	"zepix/internal/pkg/pip"
	"zepix/internal/route"
	"zepix/internal/signal"
)

// CombinedConfig tunes the combined (dual-order) family.
type CombinedConfig struct {
	Routing           route.Config `mapstructure:"routing"`
	TrailingStartPips float64      `mapstructure:"trailing_start_pips"`
	TrailingStepPips  float64      `mapstructure:"trailing_step_pips"`
	// FixedRiskUSD is the dollar risk behind Order-B's stop.
	FixedRiskUSD float64 `mapstructure:"fixed_risk_usd"`
	// RewardRatio scales Order-A's target from the stop distance.
	RewardRatio float64 `mapstructure:"reward_ratio"`
	MaxChain    int     `mapstructure:"max_chain_level"`
	// AggressiveSignals trigger close-opposite-then-open handling.
	AggressiveSignals []string `mapstructure:"aggressive_signals"`
	// ConsensusThreshold marks any signal at or above it as an aggressive
	// reversal regardless of type.
	ConsensusThreshold int `mapstructure:"consensus_threshold"`
}

func (c *CombinedConfig) applyDefaults() {
	if c.TrailingStartPips <= 0 {
		c.TrailingStartPips = 15
	}
	if c.TrailingStepPips <= 0 {
		c.TrailingStepPips = 5
	}
	if c.FixedRiskUSD <= 0 {
		c.FixedRiskUSD = 10
	}
	if c.RewardRatio <= 0 {
		c.RewardRatio = 2.0
	}
	if c.MaxChain <= 0 {
		c.MaxChain = 5
	}
	if len(c.AggressiveSignals) == 0 {
		c.AggressiveSignals = []string{
			signal.TypeLiquidityTrapReversal,
			signal.TypeGoldenPocketFlip,
			signal.TypeScreenerFullBullish,
			signal.TypeScreenerFullBearish,
		}
	}
	if c.ConsensusThreshold <= 0 {
		c.ConsensusThreshold = 7
	}
	if len(c.Routing.Timeframes) == 0 && len(c.Routing.Overrides) == 0 {
		c.Routing = route.DefaultConfig()
	}
}

// Combined is the aggressive dual-order family: Order A carries a smart
// trailing stop and a 2:1 target, Order B carries a fixed-dollar-risk stop
// and leaves profit booking to the external chain.
type Combined struct {
	cfg    CombinedConfig
	router *route.Router
}

func NewCombined(cfg CombinedConfig) *Combined {
	cfg.applyDefaults()
	return &Combined{cfg: cfg, router: route.NewRouter(cfg.Routing)}
}

func (p *Combined) Name() string { return "combined" }

func (p *Combined) Accepts(sig signal.Signal) (bool, string) {
	if sig.Kind() != signal.KindEntry {
		return false, fmt.Sprintf("signal %s is not an entry type", sig.SignalType)
	}
	return true, ""
}

func (p *Combined) Route(sig signal.Signal) (route.Decision, error) {
	return p.router.Route(sig)
}

func (p *Combined) OrderAConfig(sig signal.Signal, lot float64) (OrderConfig, error) {
	if lot <= 0 {
		return OrderConfig{}, fmt.Errorf("order A: lot must be positive")
	}
	dist := sig.StopDistance()
	if dist <= 0 {
		return OrderConfig{}, fmt.Errorf("order A: zero stop distance")
	}
	// An explicit first target on the signal wins; otherwise the reward
	// ratio derives one from the stop distance.
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

// OrderBConfig places the stop at a fixed dollar risk behind entry and sets
// no target: the external profit-booking chain owns the exit. Deriving a TP
// here would bypass that chain.
func (p *Combined) OrderBConfig(sig signal.Signal, lot float64) (*OrderConfig, error) {
	if lot <= 0 {
		return nil, fmt.Errorf("order B: lot must be positive")
	}
	perPip := decimalx.Mul(pip.ValuePerLot(sig.Symbol), lot)
	slPips := decimalx.Div(p.cfg.FixedRiskUSD, perPip)
	if slPips <= 0 {
		return nil, fmt.Errorf("order B: cannot derive stop distance")
	}
	dist := pip.FromPips(sig.Symbol, slPips)
	var sl float64
	if sig.Direction == signal.DirectionBuy {
		sl = decimalx.Round(sig.EntryPrice-dist, pip.Digits(sig.Symbol))
	} else {
		sl = decimalx.Round(sig.EntryPrice+dist, pip.Digits(sig.Symbol))
	}
	return &OrderConfig{
		Slot:    SlotB,
		SLType:  SLTypeFixedRisk,
		LotSize: lot,
		SLPrice: sl,
		TPPrice: 0,
	}, nil
}

func (p *Combined) IsAggressiveReversal(sig signal.Signal) bool {
	if sig.ConsensusScore >= p.cfg.ConsensusThreshold {
		return true
	}
	for _, t := range p.cfg.AggressiveSignals {
		if t == sig.SignalType {
			return true
		}
	}
	return false
}

func (p *Combined) MaxChainLevel() int { return p.cfg.MaxChain }

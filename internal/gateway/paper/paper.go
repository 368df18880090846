// Package paper is the dry-run broker: market orders fill instantly at the
// simulated quote, stops and targets are honored against the price walk,
// and fills are reported back to the orchestrator like a real terminal
// would. It implements both the execution and market-data ports.
package paper

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	talib "github.com/markcheno/go-talib"

	"zepix/internal/logger"
	"zepix/internal/pkg/decimalx"
	"zepix/internal/pkg/pip"
	"zepix/internal/ports"
	"zepix/internal/signal"
)

// Config seeds the simulated quotes.
type Config struct {
	// Seeds maps symbol to its starting price. Symbols without a seed
	// cannot trade.
	Seeds map[string]float64 `mapstructure:"seeds"`
	// SpreadPips is the fixed quoted spread.
	SpreadPips float64 `mapstructure:"spread_pips"`
	// DriftPips bounds the per-tick random walk.
	DriftPips float64 `mapstructure:"drift_pips"`
	// TickInterval is the simulated quote cadence.
	TickInterval time.Duration `mapstructure:"tick_interval"`
	// CandlePeriod is the bar length backing ATR.
	CandlePeriod time.Duration `mapstructure:"candle_period"`
	// ATRPeriod is the lookback for the average true range.
	ATRPeriod int `mapstructure:"atr_period"`
	// Seed fixes the random walk for reproducible runs; 0 means random.
	Seed int64 `mapstructure:"seed"`
}

func (c *Config) applyDefaults() {
	if len(c.Seeds) == 0 {
		c.Seeds = map[string]float64{
			"EURUSD": 1.1000,
			"GBPUSD": 1.2700,
			"USDJPY": 148.50,
			"XAUUSD": 2350.0,
		}
	}
	if c.SpreadPips <= 0 {
		c.SpreadPips = 1.0
	}
	if c.DriftPips <= 0 {
		c.DriftPips = 2.0
	}
	if c.TickInterval <= 0 {
		c.TickInterval = time.Second
	}
	if c.CandlePeriod <= 0 {
		c.CandlePeriod = time.Minute
	}
	if c.ATRPeriod <= 0 {
		c.ATRPeriod = 14
	}
}

type position struct {
	ticket    int64
	tradeID   string
	symbol    string
	direction string
	lot       float64
	sl, tp    float64
}

type candle struct {
	high, low, close float64
}

type series struct {
	price   float64
	current candle
	candles []candle
	barEnd  time.Time
}

// CloseFunc reports a simulated stop or target fill: trade id, reason
// ("SL" or "TP") and the fill price.
type CloseFunc func(tradeID, reason string, price float64)

// TickFunc receives every simulated quote.
type TickFunc func(symbol string, price float64)

// Gateway is the simulated broker.
type Gateway struct {
	cfg   Config
	clock ports.Clock
	rng   *rand.Rand

	mu         sync.Mutex
	series     map[string]*series
	positions  map[int64]*position
	nextTicket int64

	onClose CloseFunc
	onTick  TickFunc

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

var (
	_ ports.Execution  = (*Gateway)(nil)
	_ ports.MarketData = (*Gateway)(nil)
)

func New(cfg Config, clock ports.Clock) *Gateway {
	cfg.applyDefaults()
	src := rand.NewSource(cfg.Seed)
	if cfg.Seed == 0 {
		src = rand.NewSource(time.Now().UnixNano())
	}
	g := &Gateway{
		cfg:       cfg,
		clock:     clock,
		rng:       rand.New(src),
		series:    make(map[string]*series),
		positions: make(map[int64]*position),
		stopCh:    make(chan struct{}),
	}
	now := clock.Now()
	for sym, seed := range cfg.Seeds {
		g.series[sym] = &series{
			price:   seed,
			current: candle{high: seed, low: seed, close: seed},
			barEnd:  now.Add(cfg.CandlePeriod),
		}
	}
	return g
}

// SetCloseFunc registers the stop/target fill callback. Call before Start.
func (g *Gateway) SetCloseFunc(fn CloseFunc) { g.onClose = fn }

// SetTickFunc registers the quote callback. Call before Start.
func (g *Gateway) SetTickFunc(fn TickFunc) { g.onTick = fn }

// BindTrade associates a broker ticket with an orchestrator trade id so
// stop fills can be reported against the right trade.
func (g *Gateway) BindTrade(ticket int64, tradeID string) {
	g.mu.Lock()
	if pos, ok := g.positions[ticket]; ok {
		pos.tradeID = tradeID
	}
	g.mu.Unlock()
}

func (g *Gateway) Start() {
	g.wg.Add(1)
	go g.tickLoop()
}

func (g *Gateway) Stop() {
	g.stopOnce.Do(func() { close(g.stopCh) })
	g.wg.Wait()
}

func (g *Gateway) tickLoop() {
	defer g.wg.Done()
	for {
		timer := g.clock.After(g.cfg.TickInterval)
		select {
		case <-g.stopCh:
			timer.Stop()
			return
		case <-timer.C():
			g.step()
		}
	}
}

// step advances every symbol one tick and settles crossed stops/targets.
func (g *Gateway) step() {
	type fill struct {
		tradeID, reason string
		price           float64
	}
	var fills []fill
	var ticks []struct {
		symbol string
		price  float64
	}

	g.mu.Lock()
	now := g.clock.Now()
	for sym, s := range g.series {
		drift := pip.FromPips(sym, (g.rng.Float64()*2-1)*g.cfg.DriftPips)
		s.price = decimalx.Round(s.price+drift, pip.Digits(sym))
		if s.price <= 0 {
			s.price = pip.FromPips(sym, 1)
		}
		s.roll(now, g.cfg.CandlePeriod, g.cfg.ATRPeriod)
		ticks = append(ticks, struct {
			symbol string
			price  float64
		}{sym, s.price})

		for ticket, pos := range g.positions {
			if pos.symbol != sym {
				continue
			}
			reason, px := pos.crossed(s.price)
			if reason == "" {
				continue
			}
			delete(g.positions, ticket)
			if pos.tradeID != "" {
				fills = append(fills, fill{pos.tradeID, reason, px})
			}
			logger.Infof("paper: ticket %d %s %s filled %s at %.5f", ticket, sym, pos.direction, reason, px)
		}
	}
	onClose := g.onClose
	onTick := g.onTick
	g.mu.Unlock()

	if onTick != nil {
		for _, t := range ticks {
			onTick(t.symbol, t.price)
		}
	}
	if onClose != nil {
		for _, f := range fills {
			onClose(f.tradeID, f.reason, f.price)
		}
	}
}

// crossed checks whether the tick passed the stop or target.
func (p *position) crossed(price float64) (string, float64) {
	buy := p.direction == signal.DirectionBuy
	if p.sl > 0 {
		if (buy && decimalx.LTE(price, p.sl)) || (!buy && decimalx.GTE(price, p.sl)) {
			return "SL", p.sl
		}
	}
	if p.tp > 0 {
		if (buy && decimalx.GTE(price, p.tp)) || (!buy && decimalx.LTE(price, p.tp)) {
			return "TP", p.tp
		}
	}
	return "", 0
}

// roll folds the tick into the current bar and closes bars on schedule.
func (s *series) roll(now time.Time, period time.Duration, keep int) {
	if s.price > s.current.high {
		s.current.high = s.price
	}
	if s.price < s.current.low || s.current.low == 0 {
		s.current.low = s.price
	}
	s.current.close = s.price
	if now.Before(s.barEnd) {
		return
	}
	s.candles = append(s.candles, s.current)
	if limit := keep*4 + 1; len(s.candles) > limit {
		s.candles = s.candles[len(s.candles)-limit:]
	}
	s.current = candle{high: s.price, low: s.price, close: s.price}
	s.barEnd = now.Add(period)
}

// ---- ports.Execution ----

func (g *Gateway) PlaceOrder(ctx context.Context, symbol, direction string, lot, sl, tp float64) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.series[symbol]
	if !ok {
		return 0, fmt.Errorf("paper: unknown symbol %s", symbol)
	}
	if lot <= 0 {
		return 0, fmt.Errorf("paper: invalid lot %.2f", lot)
	}
	g.nextTicket++
	g.positions[g.nextTicket] = &position{
		ticket:    g.nextTicket,
		symbol:    symbol,
		direction: signal.NormalizeDirection(direction),
		lot:       lot,
		sl:        sl,
		tp:        tp,
	}
	logger.Infof("paper: ticket %d %s %s lot=%.2f filled at %.5f sl=%.5f tp=%.5f",
		g.nextTicket, symbol, direction, lot, s.price, sl, tp)
	return g.nextTicket, nil
}

func (g *Gateway) ModifyOrder(ctx context.Context, ticket int64, sl, tp float64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	pos, ok := g.positions[ticket]
	if !ok {
		return fmt.Errorf("paper: ticket %d not found", ticket)
	}
	if sl > 0 {
		pos.sl = sl
	}
	if tp > 0 {
		pos.tp = tp
	}
	return nil
}

func (g *Gateway) CloseOrder(ctx context.Context, ticket int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.positions[ticket]; !ok {
		return fmt.Errorf("paper: ticket %d not found", ticket)
	}
	delete(g.positions, ticket)
	return nil
}

func (g *Gateway) ClosePositionsByDirection(ctx context.Context, symbol, direction string) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	dir := signal.NormalizeDirection(direction)
	n := 0
	for ticket, pos := range g.positions {
		if pos.symbol == symbol && pos.direction == dir {
			delete(g.positions, ticket)
			n++
		}
	}
	return n, nil
}

// ---- ports.MarketData ----

func (g *Gateway) Price(ctx context.Context, symbol string) (float64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.series[symbol]
	if !ok {
		return 0, fmt.Errorf("paper: unknown symbol %s", symbol)
	}
	return s.price, nil
}

func (g *Gateway) Spread(ctx context.Context, symbol string) (float64, error) {
	return g.cfg.SpreadPips, nil
}

// ATR computes the average true range from the simulated bars. The
// timeframe argument is accepted for interface parity; the paper feed has
// a single bar series per symbol.
func (g *Gateway) ATR(ctx context.Context, symbol, timeframe string) (float64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.series[symbol]
	if !ok {
		return 0, fmt.Errorf("paper: unknown symbol %s", symbol)
	}
	if len(s.candles) <= g.cfg.ATRPeriod {
		// not enough history yet, fall back to a spread-scaled guess
		return pip.FromPips(symbol, g.cfg.SpreadPips*10), nil
	}
	highs := make([]float64, len(s.candles))
	lows := make([]float64, len(s.candles))
	closes := make([]float64, len(s.candles))
	for i, c := range s.candles {
		highs[i], lows[i], closes[i] = c.high, c.low, c.close
	}
	atr := talib.Atr(highs, lows, closes, g.cfg.ATRPeriod)
	last := atr[len(atr)-1]
	if math.IsNaN(last) || last <= 0 {
		return pip.FromPips(symbol, g.cfg.SpreadPips*10), nil
	}
	return last, nil
}

func (g *Gateway) MarketOpen(ctx context.Context, symbol string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.series[symbol]
	return ok, nil
}

// SetPrice pins a symbol's quote. Test and replay hook.
func (g *Gateway) SetPrice(symbol string, price float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if s, ok := g.series[symbol]; ok {
		s.price = price
	}
}

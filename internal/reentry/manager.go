// Package reentry runs the recovery monitors that decide whether a closed
// trade continues its chain. Each qualifying close spawns exactly one
// monitor; a monitor ends in RECOVERED, EXPIRED or CANCELLED and a trade
// id is never monitored twice.
package reentry

import (
	"context"
	"sync"
	"time"

	"zepix/internal/logger"
	"zepix/internal/ports"
	"zepix/internal/signal"
)

// State of one recovery monitor.
type State string

const (
	StateMonitoring State = "MONITORING"
	StateRecovered  State = "RECOVERED"
	StateExpired    State = "EXPIRED"
	StateCancelled  State = "CANCELLED"
)

// historyLimit bounds the finished-monitor ring kept for the status API.
const historyLimit = 200

// Placer submits a recovery entry. The orchestrator satisfies this.
type Placer interface {
	HandleSignal(ctx context.Context, sig signal.Signal) error
}

// SLHuntConfig tunes the stop-hunt monitor: wait for price to retrace a
// fraction of the stop distance back toward the old entry.
type SLHuntConfig struct {
	RetracePct    float64                  `mapstructure:"retrace_pct"`
	DefaultWindow time.Duration            `mapstructure:"default_window"`
	Windows       map[string]time.Duration `mapstructure:"windows"`
	PollInterval  time.Duration            `mapstructure:"poll_interval"`
}

// TPContConfig tunes take-profit continuation: re-enter immediately with a
// stop tightened per chain level.
type TPContConfig struct {
	TightenStep float64 `mapstructure:"tighten_step"`
	MinFactor   float64 `mapstructure:"min_factor"`
}

// ExitContConfig tunes exit continuation: adopt the next same-direction
// signal arriving inside the window into the chain.
type ExitContConfig struct {
	Window time.Duration `mapstructure:"window"`
}

type Config struct {
	QueueSize int            `mapstructure:"queue_size"`
	SLHunt    SLHuntConfig   `mapstructure:"sl_hunt"`
	TPCont    TPContConfig   `mapstructure:"tp_continuation"`
	ExitCont  ExitContConfig `mapstructure:"exit_continuation"`
}

func (c *Config) applyDefaults() {
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.SLHunt.RetracePct <= 0 {
		c.SLHunt.RetracePct = 0.70
	}
	if c.SLHunt.DefaultWindow <= 0 {
		c.SLHunt.DefaultWindow = 30 * time.Minute
	}
	if c.SLHunt.Windows == nil {
		c.SLHunt.Windows = map[string]time.Duration{
			"EURUSD": 30 * time.Minute,
			"GBPUSD": 20 * time.Minute,
		}
	}
	if c.SLHunt.PollInterval <= 0 {
		c.SLHunt.PollInterval = 5 * time.Second
	}
	if c.TPCont.TightenStep <= 0 {
		c.TPCont.TightenStep = 0.10
	}
	if c.TPCont.MinFactor <= 0 {
		c.TPCont.MinFactor = 0.50
	}
	if c.ExitCont.Window <= 0 {
		c.ExitCont.Window = 60 * time.Second
	}
}

// Monitor is the externally visible state of one recovery watch.
type Monitor struct {
	TradeID    string
	Symbol     string
	Direction  string
	Type       EventType
	State      State
	ChainLevel int
	StartedAt  time.Time
	Deadline   time.Time
}

type monitor struct {
	Monitor
	evt Event
}

// Manager owns all running monitors.
type Manager struct {
	cfg    Config
	placer Placer
	market ports.MarketData
	clock  ports.Clock

	evtCh    chan Event
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu      sync.Mutex
	active  map[string]*monitor
	history []Monitor
}

func NewManager(cfg Config, placer Placer, market ports.MarketData, clock ports.Clock) *Manager {
	cfg.applyDefaults()
	return &Manager{
		cfg:    cfg,
		placer: placer,
		market: market,
		clock:  clock,
		evtCh:  make(chan Event, cfg.QueueSize),
		stopCh: make(chan struct{}),
		active: make(map[string]*monitor),
	}
}

func (m *Manager) Start() {
	m.wg.Add(1)
	go m.runLoop()
}

// Stop cancels every running monitor and waits for them to finish.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()
}

// Dispatch hands a close event to the manager. Never blocks the caller;
// under backpressure the event is dropped with an error log because a
// stale recovery is worse than none.
func (m *Manager) Dispatch(evt Event) {
	select {
	case m.evtCh <- evt:
	case <-m.stopCh:
	default:
		logger.Errorf("reentry: queue full, event for trade %s dropped", evt.TradeID)
	}
}

func (m *Manager) runLoop() {
	defer m.wg.Done()
	logger.Infof("reentry: manager started")
	for {
		select {
		case evt := <-m.evtCh:
			m.admit(evt)
		case <-m.stopCh:
			logger.Infof("reentry: manager stopping")
			return
		}
	}
}

// admit registers a monitor for the event. The first event for a trade id
// wins; any later one is dropped.
func (m *Manager) admit(evt Event) {
	m.mu.Lock()
	if _, dup := m.active[evt.TradeID]; dup {
		m.mu.Unlock()
		logger.Warnf("reentry: duplicate event for trade %s ignored, first monitor wins", evt.TradeID)
		return
	}
	now := m.clock.Now()
	mon := &monitor{
		Monitor: Monitor{
			TradeID:    evt.TradeID,
			Symbol:     evt.Symbol,
			Direction:  evt.Direction,
			Type:       evt.Type,
			State:      StateMonitoring,
			ChainLevel: evt.ChainLevel,
			StartedAt:  now,
		},
		evt: evt,
	}
	switch evt.Type {
	case SLHunt:
		mon.Deadline = now.Add(m.slWindow(evt.Symbol))
	case ExitContinuation:
		mon.Deadline = now.Add(m.cfg.ExitCont.Window)
	}
	m.active[evt.TradeID] = mon
	m.mu.Unlock()

	logger.Infof("reentry: %s monitor started for trade %s (%s %s chain=%d)",
		evt.Type, evt.TradeID, evt.Symbol, evt.Direction, evt.ChainLevel)

	m.wg.Add(1)
	switch evt.Type {
	case SLHunt:
		go m.runSLHunt(mon)
	case TPContinuation:
		go m.runTPContinuation(mon)
	case ExitContinuation:
		go m.runExitContinuation(mon)
	default:
		m.wg.Done()
		m.finish(mon, StateCancelled)
	}
}

func (m *Manager) slWindow(symbol string) time.Duration {
	if w, ok := m.cfg.SLHunt.Windows[symbol]; ok && w > 0 {
		return w
	}
	return m.cfg.SLHunt.DefaultWindow
}

// finish moves a monitor out of MONITORING exactly once. Later calls are
// no-ops, which is what makes a recovery racing its own timeout safe.
func (m *Manager) finish(mon *monitor, state State) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if mon.State != StateMonitoring {
		return false
	}
	mon.State = state
	delete(m.active, mon.TradeID)
	m.archive(mon.Monitor)
	logger.Infof("reentry: monitor for trade %s finished %s", mon.TradeID, state)
	return true
}

// archive appends to the bounded history ring. Caller holds m.mu.
func (m *Manager) archive(mon Monitor) {
	m.history = append(m.history, mon)
	if len(m.history) > historyLimit {
		m.history = m.history[len(m.history)-historyLimit:]
	}
}

// Monitors returns running monitors followed by recent finished ones.
func (m *Manager) Monitors() []Monitor {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Monitor, 0, len(m.active)+len(m.history))
	for _, mon := range m.active {
		out = append(out, mon.Monitor)
	}
	out = append(out, m.history...)
	return out
}

// place submits the chained entry and settles the monitor state from the
// outcome. Any rejection (session, risk, chain cap) cancels the chain.
func (m *Manager) place(mon *monitor, sig signal.Signal) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := m.placer.HandleSignal(ctx, sig); err != nil {
		logger.Warnf("reentry: recovery entry for trade %s rejected: %v", mon.TradeID, err)
		m.finish(mon, StateCancelled)
		return
	}
	m.finish(mon, StateRecovered)
}

package app

import (
	"context"
	"fmt"
	"time"

	"zepix/internal/clock"
	"zepix/internal/config"
	"zepix/internal/engine"
	"zepix/internal/gateway/database"
	"zepix/internal/gateway/notifier"
	"zepix/internal/gateway/paper"
	"zepix/internal/logger"
	"zepix/internal/pkg/circuit"
	"zepix/internal/reentry"
	"zepix/internal/risk"
	"zepix/internal/session"
	"zepix/internal/signal"
	"zepix/internal/store/gormstore"
	"zepix/internal/strategy"
	transporthttp "zepix/internal/transport/http"
)

const (
	breakerThreshold = 3
	breakerCooldown  = time.Minute
)

// AppBuilder assembles the application graph. The provider function fields
// exist so tests can swap heavy dependencies (disk stores, the Telegram
// transport) for in-memory stand-ins.
type AppBuilder struct {
	cfg *config.Config

	tradeStoreFn func(config.StoreConfig) (database.TradeStore, error)
	alertStoreFn func(config.StoreConfig) (*database.AlertLogStore, error)
	notifierFn   func(config.NotifyConfig) notifier.TextNotifier
	gateFn       func(config.SessionConfig) (*session.Gate, error)
}

type AppBuilderOption func(*AppBuilder)

// WithTradeStore overrides the trade persistence layer.
func WithTradeStore(s database.TradeStore) AppBuilderOption {
	return func(b *AppBuilder) {
		b.tradeStoreFn = func(config.StoreConfig) (database.TradeStore, error) { return s, nil }
	}
}

// WithNotifier overrides the outbound notification transport.
func WithNotifier(n notifier.TextNotifier) AppBuilderOption {
	return func(b *AppBuilder) {
		b.notifierFn = func(config.NotifyConfig) notifier.TextNotifier { return n }
	}
}

// WithGate overrides the session admission gate.
func WithGate(g *session.Gate) AppBuilderOption {
	return func(b *AppBuilder) {
		b.gateFn = func(config.SessionConfig) (*session.Gate, error) { return g, nil }
	}
}

func NewAppBuilder(cfg *config.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:          cfg,
		tradeStoreFn: buildTradeStore,
		alertStoreFn: buildAlertStore,
		notifierFn:   buildNotifier,
		gateFn:       buildGate,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func buildTradeStore(cfg config.StoreConfig) (database.TradeStore, error) {
	return gormstore.New(cfg.TradeDBPath)
}

func buildAlertStore(cfg config.StoreConfig) (*database.AlertLogStore, error) {
	if cfg.AlertLogPath == "" {
		return nil, nil
	}
	return database.NewAlertLogStore(cfg.AlertLogPath)
}

func buildNotifier(cfg config.NotifyConfig) notifier.TextNotifier {
	if !cfg.Enabled {
		return notifier.Nop{}
	}
	return notifier.NewTelegram(cfg.TelegramToken, cfg.TelegramChatID)
}

func buildGate(cfg config.SessionConfig) (*session.Gate, error) {
	return session.NewGate(cfg.SettingsPath)
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg
	logger.SetLevel(cfg.Log.Level)

	clk := clock.New()

	store, err := b.tradeStoreFn(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open trade store: %w", err)
	}
	alerts, err := b.alertStoreFn(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open alert log: %w", err)
	}

	gate, err := b.gateFn(cfg.Session)
	if err != nil {
		return nil, fmt.Errorf("load session settings: %w", err)
	}
	watching := false
	if cfg.Session.WatchReload {
		if err := gate.Watch(); err != nil {
			logger.Warnf("app: session watch unavailable: %v", err)
		} else {
			watching = true
		}
	}

	riskEng := risk.NewEngine(cfg.Risk, clk, store)

	profiles := []strategy.Profile{strategy.NewCombined(cfg.Strategy.Combined)}
	if cfg.Strategy.EnablePriceAction {
		profiles = append(profiles, strategy.NewPriceAction(cfg.Strategy.PriceAction))
	}

	gw := paper.New(cfg.Paper, clk)
	breaker := circuit.NewBreaker("execution", breakerThreshold, breakerCooldown)

	eng := engine.New(cfg.Engine, gate, riskEng, gw, gw, clk, store, breaker, profiles...)
	mgr := reentry.NewManager(cfg.Reentry, eng, gw, clk)
	eng.SetRecoverySink(mgr)

	notify := b.notifierFn(cfg.Notify)
	wireNotifications(eng, riskEng, gw, notify, cfg.Risk.DailyLimit, clk)

	gw.SetTickFunc(eng.OnPrice)
	gw.SetCloseFunc(eng.NotifyClose)

	if err := eng.Recover(ctx); err != nil {
		return nil, fmt.Errorf("recover trades: %w", err)
	}

	httpSrv, err := transporthttp.NewServer(transporthttp.ServerConfig{
		Addr:    cfg.HTTP.Listen,
		Token:   cfg.HTTP.WebhookToken,
		Decoder: signal.NewDecoder(clk),
		Engine:  eng,
		Manager: mgr,
		Gate:    gate,
		Risk:    riskEng,
		Alerts:  alerts,
	})
	if err != nil {
		return nil, fmt.Errorf("build http server: %w", err)
	}

	return &App{
		cfg:      cfg,
		store:    store,
		alerts:   alerts,
		gate:     gate,
		watching: watching,
		engine:   eng,
		manager:  mgr,
		gateway:  gw,
		httpSrv:  httpSrv,
	}, nil
}

// wireNotifications connects trade lifecycle callbacks to the outbound
// channel and binds broker tickets so simulated fills map back to trades.
func wireNotifications(eng *engine.Engine, riskEng *risk.Engine, gw *paper.Gateway,
	notify notifier.TextNotifier, dailyLimit float64, clk clock.Real) {
	send := func(msg notifier.StructuredMessage) {
		if err := notify.SendText(msg.RenderMarkdown()); err != nil {
			logger.Warnf("app: notification failed: %v", err)
		}
	}

	eng.SetCallbacks(engine.Callbacks{
		TradeOpened: func(t engine.Trade) {
			gw.BindTrade(t.OrderATicket, t.ID)
			gw.BindTrade(t.OrderBTicket, t.ID)
			send(notifier.TradeOpenedMessage(t.ID, t.Symbol, t.Direction, string(t.Route),
				t.LotSize, t.EntryPrice, t.SLPrice, t.ChainLevel, t.OpenedAt))
		},
		TradeClosed: func(t engine.Trade) {
			send(notifier.TradeClosedMessage(t.ID, t.Symbol, t.Direction, t.CloseReason,
				t.PnL, t.ChainLevel, t.ClosedAt))
		},
		RecoveryPlaced: func(t engine.Trade) {
			logger.Infof("app: re-entry filled trade=%s symbol=%s chain=%d", t.ID, t.Symbol, t.ChainLevel)
		},
	})

	riskEng.SetDailyLimitCallback(func() {
		st := riskEng.State()
		send(notifier.DailyLimitMessage(st.DailyPnL, dailyLimit, clk.Now()))
	})
}

// Package app assembles the trade lifecycle service: config in, a running
// webhook server plus the orchestration loop out.
package app

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"zepix/internal/config"
	"zepix/internal/engine"
	"zepix/internal/gateway/database"
	"zepix/internal/gateway/paper"
	"zepix/internal/logger"
	"zepix/internal/reentry"
	"zepix/internal/session"
	transporthttp "zepix/internal/transport/http"
)

// App owns the assembled component graph. Build it with NewApp, run it
// with Run; Run blocks until the context ends and tears everything down.
type App struct {
	cfg      *config.Config
	store    database.TradeStore
	alerts   *database.AlertLogStore
	gate     *session.Gate
	watching bool
	engine   *engine.Engine
	manager  *reentry.Manager
	gateway  *paper.Gateway
	httpSrv  *transporthttp.Server
}

// NewApp builds the application from config without starting it.
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	return buildAppWithWire(context.Background(), cfg)
}

// Run starts the engine, the re-entry manager, the simulated feed and the
// HTTP front, then blocks until ctx is cancelled or the server fails.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}

	a.engine.Start()
	a.manager.Start()
	a.gateway.Start()
	logger.Infof("app: %s up (env=%s listen=%s)", a.cfg.App.Name, a.cfg.App.Env, a.httpSrv.Addr())

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := a.httpSrv.Start(ctx); err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		a.shutdown()
		return nil
	})
	return group.Wait()
}

// shutdown stops components in dependency order: the feed first so no new
// ticks arrive, then the monitors, then the engine loop, then storage.
func (a *App) shutdown() {
	a.gateway.Stop()
	a.manager.Stop()
	a.engine.Stop()
	if a.watching {
		if err := a.gate.Close(); err != nil {
			logger.Warnf("app: session watcher close: %v", err)
		}
	}
	if a.alerts != nil {
		if err := a.alerts.Close(); err != nil {
			logger.Warnf("app: alert log close: %v", err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			logger.Warnf("app: trade store close: %v", err)
		}
	}
}

// Engine exposes the orchestrator for replay harnesses and tests.
func (a *App) Engine() *engine.Engine {
	if a == nil {
		return nil
	}
	return a.engine
}

// Package transporthttp exposes the webhook ingest and status API.
package transporthttp

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"zepix/internal/engine"
	"zepix/internal/gateway/database"
	"zepix/internal/logger"
	"zepix/internal/reentry"
	"zepix/internal/risk"
	"zepix/internal/session"
	"zepix/internal/signal"
)

const maxAlertBody = 64 << 10

// ServerConfig wires the API dependencies.
type ServerConfig struct {
	Addr    string
	Token   string
	Decoder *signal.Decoder
	Engine  *engine.Engine
	Manager *reentry.Manager
	Gate    *session.Gate
	Risk    *risk.Engine
	Alerts  *database.AlertLogStore
}

// Server is the gin front of the lifecycle engine.
type Server struct {
	cfg    ServerConfig
	router *gin.Engine
}

func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Decoder == nil || cfg.Engine == nil {
		return nil, errors.New("http server requires decoder and engine")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	s := &Server{cfg: cfg, router: router}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.POST("/webhook/alert", s.handleAlert)

	api := router.Group("/api")
	api.GET("/status", s.handleStatus)
	api.GET("/trades", s.handleTrades)
	api.GET("/monitors", s.handleMonitors)
	api.GET("/alerts", s.handleAlerts)
	api.GET("/session", s.handleSession)

	return s, nil
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) Addr() string { return s.cfg.Addr }

// Start serves until the context ends, then drains with a short timeout.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{Addr: s.cfg.Addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

// handleAlert ingests one TradingView-style alert. Delivery always gets a
// 2xx once the payload decodes; the outcome field tells the operator what
// the engine decided. Alert sources retry on 5xx, and a rejected signal
// is not a server fault.
func (s *Server) handleAlert(c *gin.Context) {
	if s.cfg.Token != "" {
		token := c.Query("token")
		if token == "" {
			token = c.GetHeader("X-Webhook-Token")
		}
		if token != s.cfg.Token {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "bad token"})
			return
		}
	}
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxAlertBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	sig, err := s.cfg.Decoder.Decode(raw)
	if err != nil {
		s.logAlert(signal.Signal{}, "rejected", err.Error(), string(raw))
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if s.cfg.Manager != nil {
		sig = s.cfg.Manager.Annotate(sig)
	}

	outcome := "accepted"
	detail := ""
	if err := s.cfg.Engine.HandleSignal(c.Request.Context(), sig); err != nil {
		outcome = outcomeFor(err)
		detail = err.Error()
	}
	s.logAlert(sig, outcome, detail, string(raw))
	c.JSON(http.StatusOK, gin.H{
		"outcome":     outcome,
		"detail":      detail,
		"signal_type": sig.SignalType,
		"symbol":      sig.Symbol,
		"chain_level": sig.ChainLevel,
	})
}

func outcomeFor(err error) string {
	switch {
	case errors.Is(err, engine.ErrAdmissionDenied):
		return "session_blocked"
	case errors.Is(err, engine.ErrRiskLimitExceeded):
		return "risk_blocked"
	case errors.Is(err, engine.ErrChainCapReached):
		return "chain_capped"
	case errors.Is(err, engine.ErrProfileRejected):
		return "no_profile"
	case errors.Is(err, engine.ErrPlacementFailed):
		return "placement_failed"
	default:
		return "error"
	}
}

func (s *Server) logAlert(sig signal.Signal, outcome, detail, raw string) {
	if s.cfg.Alerts == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	rec := database.AlertLogRecord{
		ReceivedAt: time.Now(),
		SignalType: sig.SignalType,
		Symbol:     sig.Symbol,
		Direction:  sig.Direction,
		Timeframe:  sig.Timeframe,
		ChainLevel: sig.ChainLevel,
		Outcome:    outcome,
		Detail:     detail,
		RawPayload: raw,
	}
	if err := s.cfg.Alerts.Append(ctx, rec); err != nil {
		logger.Warnf("http: alert log append failed: %v", err)
	}
}

func (s *Server) handleStatus(c *gin.Context) {
	resp := gin.H{"status": "ok"}
	if s.cfg.Gate != nil {
		now := time.Now()
		resp["session"] = s.cfg.Gate.CurrentSession(now)
		if next, ok := s.cfg.Gate.NextTransition(now); ok {
			resp["next_transition"] = next
		}
	}
	if s.cfg.Risk != nil {
		state := s.cfg.Risk.State()
		resp["risk"] = gin.H{
			"daily_pnl":    state.DailyPnL,
			"lifetime_pnl": state.LifetimePnL,
			"day_key":      state.DayKey,
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleTrades(c *gin.Context) {
	trades, err := s.cfg.Engine.ActiveTrades(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	out := make([]gin.H, 0, len(trades))
	for _, t := range trades {
		out = append(out, gin.H{
			"trade_id":       t.ID,
			"symbol":         t.Symbol,
			"direction":      t.Direction,
			"status":         string(t.Status),
			"chain_level":    t.ChainLevel,
			"lot_size":       t.LotSize,
			"entry_price":    t.EntryPrice,
			"sl_price":       t.SLPrice,
			"tp_price":       t.TPPrice,
			"logic_route":    string(t.Route),
			"order_a_ticket": t.OrderATicket,
			"order_b_ticket": t.OrderBTicket,
			"opened_at":      t.OpenedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"trades": out})
}

func (s *Server) handleMonitors(c *gin.Context) {
	if s.cfg.Manager == nil {
		c.JSON(http.StatusOK, gin.H{"monitors": []any{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"monitors": s.cfg.Manager.Monitors()})
}

func (s *Server) handleAlerts(c *gin.Context) {
	if s.cfg.Alerts == nil {
		c.JSON(http.StatusOK, gin.H{"alerts": []any{}})
		return
	}
	limit := 100
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	alerts, err := s.cfg.Alerts.Recent(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"alerts": alerts})
}

func (s *Server) handleSession(c *gin.Context) {
	if s.cfg.Gate == nil {
		c.JSON(http.StatusOK, gin.H{})
		return
	}
	c.JSON(http.StatusOK, s.cfg.Gate.Snapshot())
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		method := c.Request.Method
		path := c.Request.URL.Path
		c.Next()
		logger.Debugf("HTTP %s %s status=%d ip=%s dur=%s",
			method, path, c.Writer.Status(), c.ClientIP(), time.Since(start))
	}
}

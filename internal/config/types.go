// Package config loads the layered YAML configuration. A file may name
// other files in an `include` list; includes are merged first, so the
// top file wins on conflicts.
package config

import (
	"fmt"
	"strings"

	"zepix/internal/engine"
	"zepix/internal/gateway/paper"
	"zepix/internal/reentry"
	"zepix/internal/risk"
	"zepix/internal/strategy"
)

type AppConfig struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

type HTTPConfig struct {
	Listen string `mapstructure:"listen"`
	// WebhookToken, when set, is required on alert ingestion requests.
	WebhookToken string `mapstructure:"webhook_token"`
}

type SessionConfig struct {
	SettingsPath string `mapstructure:"settings_path"`
	// WatchReload hot-reloads the settings file on change.
	WatchReload bool `mapstructure:"watch_reload"`
}

type StoreConfig struct {
	TradeDBPath  string `mapstructure:"trade_db_path"`
	AlertLogPath string `mapstructure:"alert_log_path"`
}

type NotifyConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	TelegramToken  string `mapstructure:"telegram_token"`
	TelegramChatID string `mapstructure:"telegram_chat_id"`
}

type StrategyConfig struct {
	Combined    strategy.CombinedConfig    `mapstructure:"combined"`
	PriceAction strategy.PriceActionConfig `mapstructure:"price_action"`
	// EnablePriceAction turns the secondary logic family on.
	EnablePriceAction bool `mapstructure:"enable_price_action"`
}

type Config struct {
	App      AppConfig       `mapstructure:"app"`
	Log      LogConfig       `mapstructure:"log"`
	HTTP     HTTPConfig      `mapstructure:"http"`
	Session  SessionConfig   `mapstructure:"session"`
	Store    StoreConfig     `mapstructure:"store"`
	Engine   engine.Config   `mapstructure:"engine"`
	Risk     risk.Config     `mapstructure:"risk"`
	Reentry  reentry.Config  `mapstructure:"reentry"`
	Strategy StrategyConfig  `mapstructure:"strategy"`
	Paper    paper.Config    `mapstructure:"paper"`
	Notify   NotifyConfig    `mapstructure:"notify"`
	Include  []string        `mapstructure:"include"`
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "zepix"
	}
	if c.App.Env == "" {
		c.App.Env = "paper"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.HTTP.Listen == "" {
		c.HTTP.Listen = ":8080"
	}
	if c.Session.SettingsPath == "" {
		c.Session.SettingsPath = "data/session_settings.json"
	}
	if c.Store.TradeDBPath == "" {
		c.Store.TradeDBPath = "data/zepix.db"
	}
	if c.Store.AlertLogPath == "" {
		c.Store.AlertLogPath = "data/alerts.db"
	}
}

func validate(c *Config) error {
	switch c.Engine.SizingMode {
	case "", engine.SizingTier, engine.SizingRisk:
	default:
		return fmt.Errorf("engine.sizing_mode must be %q or %q", engine.SizingTier, engine.SizingRisk)
	}
	if c.Risk.RiskPct < 0 || c.Risk.RiskPct > 100 {
		return fmt.Errorf("risk.risk_pct out of range: %v", c.Risk.RiskPct)
	}
	if c.Notify.Enabled {
		if strings.TrimSpace(c.Notify.TelegramToken) == "" || strings.TrimSpace(c.Notify.TelegramChatID) == "" {
			return fmt.Errorf("notify.enabled requires telegram_token and telegram_chat_id")
		}
	}
	return nil
}

// Package route maps an incoming signal onto a logic route and lot
// multiplier through a two-tier matrix: explicit signal overrides first,
// then structural rules, then the timeframe table, then the configured
// default. Routing is deterministic and side-effect free so every decision
// can be reproduced in audit and tests.
package route

import (
	"fmt"
	"strings"

	"zepix/internal/signal"
)

// Route identifies one of the three logic tiers.
type Route string

const (
	// L1 is the aggressive tier (short timeframes, larger sizing).
	L1 Route = "combinedlogic-1"
	// L2 is the standard tier and the stock default.
	L2 Route = "combinedlogic-2"
	// L3 is the conservative tier (long timeframes, reduced sizing).
	L3 Route = "combinedlogic-3"
)

// ErrUnknownSignalType is returned for signals that no tier of the matrix
// can place.
var ErrUnknownSignalType = fmt.Errorf("unknown signal type")

// Decision is the routing outcome. Derived, never persisted.
type Decision struct {
	Route         Route
	LotMultiplier float64
}

// Config is the routing matrix.
type Config struct {
	// Overrides maps exact signal types onto routes and wins over
	// everything else.
	Overrides map[string]Route `mapstructure:"overrides"`
	// Timeframes maps chart timeframes ("5", "15", "60", "240") to routes.
	Timeframes map[string]Route `mapstructure:"timeframes"`
	// Default applies when no other rule matches.
	Default Route `mapstructure:"default"`
	// Multipliers maps each route to its lot multiplier.
	Multipliers map[Route]float64 `mapstructure:"multipliers"`
	// Strict rejects signals whose type is not in the known set.
	Strict bool `mapstructure:"strict"`
}

// DefaultConfig returns the stock matrix: short timeframes aggressive,
// hourly standard, four-hour conservative.
func DefaultConfig() Config {
	return Config{
		Overrides: map[string]Route{},
		Timeframes: map[string]Route{
			"5":   L1,
			"15":  L1,
			"60":  L2,
			"240": L3,
		},
		Default: L2,
		Multipliers: map[Route]float64{
			L1: 1.25,
			L2: 1.0,
			L3: 0.625,
		},
	}
}

// Router evaluates the matrix.
type Router struct {
	cfg Config
}

func NewRouter(cfg Config) *Router {
	if cfg.Default == "" {
		cfg.Default = L2
	}
	if len(cfg.Multipliers) == 0 {
		cfg.Multipliers = DefaultConfig().Multipliers
	}
	return &Router{cfg: cfg}
}

// Route resolves the logic route for a signal. Rules are evaluated in
// strict priority order; the first match wins with no fallthrough.
func (r *Router) Route(sig signal.Signal) (Decision, error) {
	sigType := strings.TrimSpace(sig.SignalType)
	if sigType == "" {
		return Decision{}, fmt.Errorf("%w: empty", ErrUnknownSignalType)
	}
	if r.cfg.Strict && sig.Kind() == signal.KindUnknown {
		return Decision{}, fmt.Errorf("%w: %s", ErrUnknownSignalType, sigType)
	}

	if route, ok := r.cfg.Overrides[sigType]; ok {
		return r.decide(route), nil
	}

	// Structural rules: screener-full consensus signals always take the
	// conservative tier, and a pocket flip on long timeframes does too.
	switch sigType {
	case signal.TypeScreenerFullBullish, signal.TypeScreenerFullBearish:
		return r.decide(L3), nil
	case signal.TypeGoldenPocketFlip:
		if sig.Timeframe == "60" || sig.Timeframe == "240" {
			return r.decide(L3), nil
		}
	}

	if route, ok := r.cfg.Timeframes[sig.Timeframe]; ok {
		return r.decide(route), nil
	}

	return r.decide(r.cfg.Default), nil
}

func (r *Router) decide(route Route) Decision {
	mult, ok := r.cfg.Multipliers[route]
	if !ok || mult <= 0 {
		mult = 1.0
	}
	return Decision{Route: route, LotMultiplier: mult}
}

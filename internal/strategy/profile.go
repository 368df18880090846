// Package strategy models the logic families as capability profiles. A
// profile owns its routing matrix, its order templates and its chain cap;
// the engine selects one profile at configuration time and never switches
// at runtime.
package strategy

import (
	"zepix/internal/route"
	"zepix/internal/signal"
)

// Slot names the leg of a dual placement.
type Slot string

const (
	SlotA Slot = "A"
	SlotB Slot = "B"
)

// SLType describes how a leg's stop is managed after entry.
type SLType string

const (
	// SLTypeSmartTrailing stops trail toward breakeven as price advances.
	SLTypeSmartTrailing SLType = "SMART_TRAILING"
	// SLTypeFixedRisk stops are placed at a fixed dollar risk and never move.
	SLTypeFixedRisk SLType = "FIXED_RISK"
)

// TrailingParams bound the trailing updates on a smart-stop leg.
type TrailingParams struct {
	// StartPips is how far price must advance before the stop first moves.
	StartPips float64
	// StepPips is the minimum further advance between stop moves.
	StepPips float64
}

// OrderConfig is the fully resolved configuration for one leg.
type OrderConfig struct {
	Slot     Slot
	SLType   SLType
	LotSize  float64
	SLPrice  float64
	TPPrice  float64 // 0 = no fixed target
	Trailing *TrailingParams
}

// Profile is the capability surface a logic family implements.
type Profile interface {
	Name() string

	// Accepts filters signals before any order work; the reason is a
	// structured skip string surfaced to the caller.
	Accepts(sig signal.Signal) (bool, string)

	// Route resolves the logic route and lot multiplier.
	Route(sig signal.Signal) (route.Decision, error)

	// OrderAConfig builds the primary leg for the given per-leg lot.
	OrderAConfig(sig signal.Signal, lot float64) (OrderConfig, error)

	// OrderBConfig builds the secondary leg, or nil when the family
	// trades a single leg.
	OrderBConfig(sig signal.Signal, lot float64) (*OrderConfig, error)

	// IsAggressiveReversal reports whether opposite-side positions must be
	// closed before this signal is placed.
	IsAggressiveReversal(sig signal.Signal) bool

	// MaxChainLevel is the hard cap on recovery re-entries per chain.
	MaxChainLevel() int
}

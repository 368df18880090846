package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Window is one trading-session window. Start/End are "HH:MM" in the
// configured timezone; a window whose end precedes its start wraps midnight.
type Window struct {
	ID             string   `json:"-" mapstructure:"-"`
	Name           string   `json:"name" mapstructure:"name"`
	StartTime      string   `json:"start_time" mapstructure:"start_time"`
	EndTime        string   `json:"end_time" mapstructure:"end_time"`
	AllowedSymbols []string `json:"allowed_symbols" mapstructure:"allowed_symbols"`
	ForceClose     bool     `json:"force_close_enabled" mapstructure:"force_close_enabled"`
}

// Settings is the on-disk session configuration. The file format matches the
// legacy data/session_settings.json layout so an existing deployment keeps
// its admin-edited tables.
type Settings struct {
	Version      string            `json:"version" mapstructure:"version"`
	MasterSwitch bool              `json:"master_switch" mapstructure:"master_switch"`
	Timezone     string            `json:"timezone" mapstructure:"timezone"`
	Sessions     map[string]Window `json:"sessions" mapstructure:"sessions"`
}

// DefaultSettings returns the stock five-session forex table (IST).
func DefaultSettings() Settings {
	return Settings{
		Version:      "4.0",
		MasterSwitch: true,
		Timezone:     "Asia/Kolkata",
		Sessions: map[string]Window{
			"asian": {
				Name:           "Asian Session",
				StartTime:      "05:00",
				EndTime:        "13:30",
				AllowedSymbols: []string{"USDJPY", "AUDJPY", "AUDUSD", "NZDUSD"},
			},
			"london": {
				Name:           "London Session",
				StartTime:      "13:30",
				EndTime:        "18:30",
				AllowedSymbols: []string{"EURUSD", "GBPUSD", "EURGBP", "GBPJPY", "EURJPY", "XAUUSD"},
			},
			"overlap": {
				Name:           "Overlap Session",
				StartTime:      "18:30",
				EndTime:        "22:30",
				AllowedSymbols: []string{"EURUSD", "GBPUSD", "XAUUSD", "USDJPY"},
			},
			"ny_late": {
				Name:           "NY Late Session",
				StartTime:      "22:30",
				EndTime:        "03:30",
				AllowedSymbols: []string{"USDJPY", "XAUUSD", "USDCAD"},
			},
			"dead_zone": {
				Name:           "Dead Zone",
				StartTime:      "03:30",
				EndTime:        "05:00",
				AllowedSymbols: nil,
				ForceClose:     true,
			},
		},
	}
}

// LoadSettings reads the settings file, writing defaults when it is absent.
func LoadSettings(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		def := DefaultSettings()
		if saveErr := SaveSettings(path, def); saveErr != nil {
			return Settings{}, saveErr
		}
		return def, nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("session settings: %w", err)
	}
	var s Settings
	if err := json.Unmarshal(data, &s); err != nil {
		return Settings{}, fmt.Errorf("session settings: parse %s: %w", path, err)
	}
	if len(s.Sessions) == 0 {
		return Settings{}, fmt.Errorf("session settings: no sessions defined in %s", path)
	}
	return s, nil
}

// SaveSettings writes atomically (temp file + rename) so a crashed write
// never leaves a truncated table behind.
func SaveSettings(path string, s Settings) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("session settings: %w", err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("session settings: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("session settings: %w", err)
	}
	return os.Rename(tmp, path)
}

// Location resolves the configured timezone, defaulting to UTC on error.
func (s Settings) Location() *time.Location {
	loc, err := time.LoadLocation(strings.TrimSpace(s.Timezone))
	if err != nil || loc == nil {
		return time.UTC
	}
	return loc
}

// sortedIDs gives deterministic iteration for logging and the status API.
func (s Settings) sortedIDs() []string {
	ids := make([]string, 0, len(s.Sessions))
	for id := range s.Sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// parseMinutes converts "HH:MM" to minutes since midnight.
func parseMinutes(hhmm string) (int, error) {
	parts := strings.SplitN(strings.TrimSpace(hhmm), ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid time %q", hhmm)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("invalid time %q", hhmm)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("invalid time %q", hhmm)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid time %q", hhmm)
	}
	return h*60 + m, nil
}

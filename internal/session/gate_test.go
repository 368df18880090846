package session

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func istTime(t *testing.T, hour, min int) time.Time {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)
	return time.Date(2026, 3, 5, hour, min, 0, 0, loc)
}

func TestGateAdmit(t *testing.T) {
	gate := NewGateFromSettings(DefaultSettings())

	t.Run("allowed symbol inside window", func(t *testing.T) {
		ok, win := gate.Admit("EURUSD", istTime(t, 14, 0))
		assert.True(t, ok)
		require.NotNil(t, win)
		assert.Equal(t, "london", win.ID)
	})

	t.Run("blocked symbol inside window", func(t *testing.T) {
		ok, win := gate.Admit("EURUSD", istTime(t, 6, 0))
		assert.False(t, ok)
		require.NotNil(t, win)
		assert.Equal(t, "asian", win.ID)
	})

	t.Run("dead zone blocks everything", func(t *testing.T) {
		ok, win := gate.Admit("USDJPY", istTime(t, 4, 0))
		assert.False(t, ok)
		require.NotNil(t, win)
		assert.Equal(t, "dead_zone", win.ID)
		assert.True(t, win.ForceClose)
	})

	t.Run("wrap midnight window", func(t *testing.T) {
		ok, win := gate.Admit("USDCAD", istTime(t, 1, 0))
		assert.True(t, ok)
		require.NotNil(t, win)
		assert.Equal(t, "ny_late", win.ID)
	})
}

func TestGateOverlapPrefersLatestStart(t *testing.T) {
	s := DefaultSettings()
	s.Sessions = map[string]Window{
		"early": {
			Name: "Early", StartTime: "08:00", EndTime: "16:00",
			AllowedSymbols: []string{"EURUSD"},
		},
		"late": {
			Name: "Late", StartTime: "12:00", EndTime: "18:00",
			AllowedSymbols: []string{"GBPUSD"},
		},
	}
	gate := NewGateFromSettings(s)

	// During the overlap the latest-start window decides, so EURUSD is
	// rejected even though "early" still covers the instant.
	ok, win := gate.Admit("EURUSD", istTime(t, 13, 0))
	assert.False(t, ok)
	require.NotNil(t, win)
	assert.Equal(t, "late", win.ID)

	ok, _ = gate.Admit("GBPUSD", istTime(t, 13, 0))
	assert.True(t, ok)
}

func TestGateMasterSwitchBypass(t *testing.T) {
	s := DefaultSettings()
	s.MasterSwitch = false
	gate := NewGateFromSettings(s)

	ok, win := gate.Admit("EURUSD", istTime(t, 4, 0))
	assert.True(t, ok)
	assert.Nil(t, win)
}

func TestGateNoActiveWindow(t *testing.T) {
	s := DefaultSettings()
	s.Sessions = map[string]Window{
		"tiny": {Name: "Tiny", StartTime: "10:00", EndTime: "11:00", AllowedSymbols: []string{"EURUSD"}},
	}
	gate := NewGateFromSettings(s)

	ok, win := gate.Admit("EURUSD", istTime(t, 12, 0))
	assert.False(t, ok)
	assert.Nil(t, win)
}

func TestSettingsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session_settings.json")

	// First load creates the default file.
	first, err := LoadSettings(path)
	require.NoError(t, err)
	assert.True(t, first.MasterSwitch)
	assert.Len(t, first.Sessions, 5)

	first.MasterSwitch = false
	require.NoError(t, SaveSettings(path, first))

	second, err := LoadSettings(path)
	require.NoError(t, err)
	assert.False(t, second.MasterSwitch)
}

func TestCurrentSession(t *testing.T) {
	gate := NewGateFromSettings(DefaultSettings())
	assert.Equal(t, "london", gate.CurrentSession(istTime(t, 15, 0)))

	s := DefaultSettings()
	s.Sessions = map[string]Window{
		"tiny": {Name: "Tiny", StartTime: "10:00", EndTime: "11:00"},
	}
	assert.Equal(t, "none", NewGateFromSettings(s).CurrentSession(istTime(t, 20, 0)))
}

func TestActiveWindow(t *testing.T) {
	gate := NewGateFromSettings(DefaultSettings())

	win := gate.ActiveWindow(istTime(t, 14, 0))
	require.NotNil(t, win)
	assert.Equal(t, "london", win.ID)

	off := DefaultSettings()
	off.MasterSwitch = false
	assert.Nil(t, NewGateFromSettings(off).ActiveWindow(istTime(t, 14, 0)))
}

func TestNextTransition(t *testing.T) {
	s := DefaultSettings()
	s.Timezone = "UTC"
	s.Sessions = map[string]Window{
		"morning": {Name: "Morning", StartTime: "08:00", EndTime: "12:00"},
		"evening": {Name: "Evening", StartTime: "16:00", EndTime: "20:00"},
	}
	gate := NewGateFromSettings(s)
	at := time.Date(2026, 3, 5, 10, 30, 0, 0, time.UTC)

	next, ok := gate.NextTransition(at)
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC), next)

	// after the last boundary of the day the next one wraps to tomorrow
	next, ok = gate.NextTransition(time.Date(2026, 3, 5, 21, 0, 0, 0, time.UTC))
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 3, 6, 8, 0, 0, 0, time.UTC), next)

	s.MasterSwitch = false
	_, ok = NewGateFromSettings(s).NextTransition(at)
	assert.False(t, ok)
}

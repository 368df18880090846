// Package session implements time-of-day admission control: each forex
// session window allows a configured symbol subset, and signals outside any
// window (or for a blocked symbol) are rejected before risk sizing runs.
package session

import (
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"zepix/internal/logger"
)

// Gate evaluates session windows. Admission is a pure function of the
// loaded window table and the supplied time; the only mutable state is the
// table itself, swapped wholesale on reload.
type Gate struct {
	mu       sync.RWMutex
	settings Settings
	loc      *time.Location
	path     string

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewGate loads the settings file (creating defaults when missing).
func NewGate(path string) (*Gate, error) {
	s, err := LoadSettings(path)
	if err != nil {
		return nil, err
	}
	return &Gate{settings: s, loc: s.Location(), path: path}, nil
}

// NewGateFromSettings builds a gate from an in-memory table (tests, dry-run).
func NewGateFromSettings(s Settings) *Gate {
	return &Gate{settings: s, loc: s.Location()}
}

// Admit reports whether the symbol may trade at the given instant. The
// returned window is the one that decided the answer; nil means no window
// was active or the master switch is off.
func (g *Gate) Admit(symbol string, at time.Time) (bool, *Window) {
	g.mu.RLock()
	s := g.settings
	loc := g.loc
	g.mu.RUnlock()

	if !s.MasterSwitch {
		return true, nil
	}

	win := activeWindow(s, at.In(loc))
	if win == nil {
		return false, nil
	}
	sym := strings.ToUpper(strings.TrimSpace(symbol))
	for _, allowed := range win.AllowedSymbols {
		if strings.EqualFold(allowed, sym) {
			return true, win
		}
	}
	return false, win
}

// CurrentSession returns the active window's id, or "none".
func (g *Gate) CurrentSession(at time.Time) string {
	g.mu.RLock()
	s := g.settings
	loc := g.loc
	g.mu.RUnlock()
	if win := activeWindow(s, at.In(loc)); win != nil {
		return win.ID
	}
	return "none"
}

// ActiveWindow returns a copy of the window covering the instant, or nil
// when none is active.
func (g *Gate) ActiveWindow(at time.Time) *Window {
	g.mu.RLock()
	s := g.settings
	loc := g.loc
	g.mu.RUnlock()
	if !s.MasterSwitch {
		return nil
	}
	win := activeWindow(s, at.In(loc))
	if win == nil {
		return nil
	}
	cp := *win
	return &cp
}

// NextTransition returns the next window boundary (any start or end) after
// the instant. ok is false when the master switch is off or no window has a
// parseable boundary.
func (g *Gate) NextTransition(at time.Time) (time.Time, bool) {
	g.mu.RLock()
	s := g.settings
	loc := g.loc
	g.mu.RUnlock()
	if !s.MasterSwitch || len(s.Sessions) == 0 {
		return time.Time{}, false
	}
	local := at.In(loc)
	nowMins := local.Hour()*60 + local.Minute()
	best := -1
	for _, win := range s.Sessions {
		for _, raw := range []string{win.StartTime, win.EndTime} {
			mark, err := parseMinutes(raw)
			if err != nil {
				continue
			}
			delta := mark - nowMins
			if delta <= 0 {
				delta += 24 * 60
			}
			if best < 0 || delta < best {
				best = delta
			}
		}
	}
	if best < 0 {
		return time.Time{}, false
	}
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return midnight.Add(time.Duration(nowMins+best) * time.Minute), true
}

// Snapshot returns a copy of the current settings for the status API.
func (g *Gate) Snapshot() Settings {
	g.mu.RLock()
	defer g.mu.RUnlock()
	cp := g.settings
	cp.Sessions = make(map[string]Window, len(g.settings.Sessions))
	for id, w := range g.settings.Sessions {
		cp.Sessions[id] = w
	}
	return cp
}

// activeWindow finds all windows containing the instant and, when several
// overlap, keeps the one with the latest start time. A window spanning
// midnight matches both before and after the wrap.
func activeWindow(s Settings, local time.Time) *Window {
	nowMins := local.Hour()*60 + local.Minute()

	var best *Window
	bestStart := -1
	for _, id := range s.sortedIDs() {
		win := s.Sessions[id]
		start, err := parseMinutes(win.StartTime)
		if err != nil {
			logger.Warnf("session %s: %v", id, err)
			continue
		}
		end, err := parseMinutes(win.EndTime)
		if err != nil {
			logger.Warnf("session %s: %v", id, err)
			continue
		}
		var active bool
		if start > end {
			active = nowMins >= start || nowMins < end
		} else {
			active = nowMins >= start && nowMins < end
		}
		if !active {
			continue
		}
		if start > bestStart {
			w := win
			w.ID = id
			best = &w
			bestStart = start
		}
	}
	return best
}

// Watch reloads the settings file whenever it changes on disk. Call Close
// to stop the watcher.
func (g *Gate) Watch() error {
	if g.path == "" {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(g.path); err != nil {
		w.Close()
		return err
	}
	g.watcher = w
	g.done = make(chan struct{})
	go g.watchLoop()
	return nil
}

func (g *Gate) watchLoop() {
	for {
		select {
		case evt, ok := <-g.watcher.Events:
			if !ok {
				return
			}
			if evt.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			s, err := LoadSettings(g.path)
			if err != nil {
				logger.Errorf("session reload failed: %v", err)
				continue
			}
			g.mu.Lock()
			g.settings = s
			g.loc = s.Location()
			g.mu.Unlock()
			logger.Infof("session settings reloaded (%d windows, master=%v)", len(s.Sessions), s.MasterSwitch)
		case err, ok := <-g.watcher.Errors:
			if !ok {
				return
			}
			logger.Warnf("session watcher: %v", err)
		case <-g.done:
			return
		}
	}
}

// Close stops the file watcher, if one is running.
func (g *Gate) Close() error {
	if g.watcher == nil {
		return nil
	}
	close(g.done)
	return g.watcher.Close()
}

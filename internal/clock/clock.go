// Package clock provides the wall-clock implementation of ports.Clock.
package clock

import (
	"time"

	"zepix/internal/ports"
)

type realTimer struct {
	t *time.Timer
}

func (r realTimer) C() <-chan time.Time { return r.t.C }
func (r realTimer) Stop() bool          { return r.t.Stop() }

// Real is the production clock.
type Real struct{}

func New() Real { return Real{} }

func (Real) Now() time.Time { return time.Now() }

func (Real) After(d time.Duration) ports.Timer {
	return realTimer{t: time.NewTimer(d)}
}

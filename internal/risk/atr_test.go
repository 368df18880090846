package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"zepix/internal/signal"
)

func TestATRStop(t *testing.T) {
	// 10-pip ATR, default 1.5x multiplier
	sl := ATRStop("EURUSD", signal.DirectionBuy, 1.1000, 0.0010, 0)
	assert.InDelta(t, 1.0985, sl, 1e-9)

	sl = ATRStop("EURUSD", signal.DirectionSell, 1.1000, 0.0010, 2.0)
	assert.InDelta(t, 1.1020, sl, 1e-9)

	assert.Zero(t, ATRStop("EURUSD", signal.DirectionBuy, 1.1000, 0, 1.5))
}

func TestATRTarget(t *testing.T) {
	tp := ATRTarget("EURUSD", signal.DirectionBuy, 1.1000, 0.0010, 0)
	assert.InDelta(t, 1.1020, tp, 1e-9)

	tp = ATRTarget("USDJPY", signal.DirectionSell, 148.500, 0.150, 2.0)
	assert.InDelta(t, 148.200, tp, 1e-9)

	assert.Zero(t, ATRTarget("EURUSD", signal.DirectionBuy, 0, 0.0010, 2.0))
}

package pip

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSizePerSymbolClass(t *testing.T) {
	assert.InDelta(t, 0.0001, Size("EURUSD"), 1e-12)
	assert.InDelta(t, 0.01, Size("USDJPY"), 1e-12)
	assert.InDelta(t, 0.01, Size("gbpjpy"), 1e-12)
	assert.InDelta(t, 0.1, Size("XAUUSD"), 1e-12)
}

func TestDigits(t *testing.T) {
	assert.Equal(t, int32(5), Digits("EURUSD"))
	assert.Equal(t, int32(3), Digits("USDJPY"))
	assert.Equal(t, int32(2), Digits("XAUUSD"))
}

func TestToPipsAbsorbsFloatNoise(t *testing.T) {
	// 1.1015 - 1.1000 carries binary representation noise; the pip count
	// must still land exactly on 15.
	assert.InDelta(t, 15.0, ToPips("EURUSD", 1.1015-1.1000), 1e-9)
	assert.InDelta(t, 15.0, ToPips("EURUSD", 1.1000-1.1015), 1e-9)
}

func TestRoundTrip(t *testing.T) {
	assert.InDelta(t, 0.0050, FromPips("EURUSD", 50), 1e-12)
	assert.InDelta(t, 50.0, ToPips("EURUSD", FromPips("EURUSD", 50)), 1e-9)
	assert.InDelta(t, 0.30, FromPips("USDJPY", 30), 1e-12)
}

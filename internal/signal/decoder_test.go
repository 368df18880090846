package signal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEntryAlert(t *testing.T) {
	d := NewDecoder(nil)
	sig, err := d.Decode([]byte(`{
		"signal_type": "Institutional_Launchpad",
		"symbol": "eurusd",
		"direction": "buy",
		"tf": "15",
		"entry_price": 1.1000,
		"sl_price": 1.0950,
		"tp_prices": [1.1050, 1.1100],
		"confidence_score": 82.5,
		"consensus_score": 4
	}`))
	require.NoError(t, err)
	assert.Equal(t, TypeInstitutionalLaunchpad, sig.SignalType)
	assert.Equal(t, "EURUSD", sig.Symbol)
	assert.Equal(t, DirectionBuy, sig.Direction)
	assert.Equal(t, "15", sig.Timeframe)
	assert.Equal(t, KindEntry, sig.Kind())
	assert.InDelta(t, 1.1050, sig.TP1(), 1e-9)
	assert.InDelta(t, 1.1100, sig.TP2(), 1e-9)
	assert.InDelta(t, 0.0050, sig.StopDistance(), 1e-9)
	assert.Equal(t, 4, sig.ConsensusScore)
	assert.False(t, sig.ReceivedAt.IsZero())
}

func TestDecodeAcceptsTickerAndTimeframeAliases(t *testing.T) {
	d := NewDecoder(nil)
	sig, err := d.Decode([]byte(`{
		"signal_type": "Momentum_Breakout",
		"ticker": "GBPUSD",
		"direction": "short",
		"timeframe": "60",
		"entry_price": 1.2700,
		"sl_price": 1.2750
	}`))
	require.NoError(t, err)
	assert.Equal(t, "GBPUSD", sig.Symbol)
	assert.Equal(t, DirectionSell, sig.Direction)
	assert.Equal(t, "60", sig.Timeframe)
}

func TestDecodeNumericTimeframe(t *testing.T) {
	d := NewDecoder(nil)
	sig, err := d.Decode([]byte(`{
		"signal_type": "Bullish_Exit",
		"symbol": "EURUSD",
		"tf": 15
	}`))
	require.NoError(t, err)
	assert.Equal(t, "15", sig.Timeframe)
	assert.Equal(t, KindExit, sig.Kind())
}

func TestDecodeExitAlertNeedsNoPrices(t *testing.T) {
	d := NewDecoder(nil)
	sig, err := d.Decode([]byte(`{"signal_type": "Bearish_Exit", "symbol": "USDJPY"}`))
	require.NoError(t, err)
	assert.Equal(t, KindExit, sig.Kind())
	assert.Zero(t, sig.EntryPrice)
}

func TestDecodeEntryWithoutStopPrice(t *testing.T) {
	d := NewDecoder(nil)
	sig, err := d.Decode([]byte(`{
		"signal_type": "Momentum_Breakout",
		"symbol": "EURUSD",
		"direction": "buy",
		"tf": "15",
		"entry_price": 1.1000
	}`))
	require.NoError(t, err)
	assert.Equal(t, KindEntry, sig.Kind())
	assert.Zero(t, sig.SLPrice)
}

func TestDecodeRejections(t *testing.T) {
	d := NewDecoder(nil)
	cases := map[string]string{
		"empty":              ``,
		"invalid json":       `{broken`,
		"no signal_type":     `{"symbol": "EURUSD"}`,
		"no symbol":          `{"signal_type": "Momentum_Breakout", "direction": "buy", "entry_price": 1.1, "sl_price": 1.09}`,
		"entry no direction": `{"signal_type": "Momentum_Breakout", "symbol": "EURUSD", "entry_price": 1.1, "sl_price": 1.09}`,
		"entry no prices":    `{"signal_type": "Momentum_Breakout", "symbol": "EURUSD", "direction": "buy"}`,
		"zero stop":          `{"signal_type": "Momentum_Breakout", "symbol": "EURUSD", "direction": "buy", "entry_price": 1.1, "sl_price": 1.1}`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := d.Decode([]byte(payload))
			assert.Error(t, err)
		})
	}
}

func TestDecodeUnknownTypePassesThrough(t *testing.T) {
	d := NewDecoder(nil)
	sig, err := d.Decode([]byte(`{"signal_type": "Future_Thing", "symbol": "EURUSD"}`))
	require.NoError(t, err)
	assert.Equal(t, KindUnknown, sig.Kind())
}

func TestNormalizeDirection(t *testing.T) {
	assert.Equal(t, DirectionBuy, NormalizeDirection(" Long "))
	assert.Equal(t, DirectionSell, NormalizeDirection("BEARISH"))
	assert.Equal(t, "", NormalizeDirection("sideways"))
}

func TestOppositeDirection(t *testing.T) {
	assert.Equal(t, DirectionSell, OppositeDirection(DirectionBuy))
	assert.Equal(t, DirectionBuy, OppositeDirection(DirectionSell))
}

package signal

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"

	"zepix/internal/ports"
)

// alertSchema validates the minimum shape of an incoming alert before any
// field extraction happens. Price fields stay optional: exit and info
// alerts carry none.
const alertSchema = `{
  "type": "object",
  "properties": {
    "signal_type": {"type": "string", "minLength": 1},
    "symbol": {"type": "string"},
    "ticker": {"type": "string"},
    "direction": {"type": "string"},
    "tf": {"type": ["string", "number"]},
    "entry_price": {"type": "number"},
    "sl_price": {"type": "number"},
    "tp_prices": {"type": "array", "items": {"type": "number"}},
    "confidence_score": {"type": "number"},
    "consensus_score": {"type": ["number", "integer"]}
  },
  "required": ["signal_type"]
}`

var compiledAlertSchema = jsonschema.MustCompileString("alert.json", alertSchema)

// Decoder turns raw alert payloads into typed Signals. It is the only place
// in the repository that touches unparsed alert JSON.
type Decoder struct {
	clock ports.Clock
}

func NewDecoder(clock ports.Clock) *Decoder {
	return &Decoder{clock: clock}
}

// Decode parses and validates a raw alert. Unknown signal types decode
// successfully; the router decides whether to reject them.
func (d *Decoder) Decode(raw []byte) (Signal, error) {
	body := strings.TrimSpace(string(raw))
	if body == "" {
		return Signal{}, fmt.Errorf("decode alert: empty payload")
	}
	if !gjson.Valid(body) {
		return Signal{}, fmt.Errorf("decode alert: invalid json")
	}
	var doc any
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return Signal{}, fmt.Errorf("decode alert: %w", err)
	}
	if err := compiledAlertSchema.Validate(doc); err != nil {
		return Signal{}, fmt.Errorf("decode alert: schema: %w", err)
	}

	parsed := gjson.Parse(body)
	sig := Signal{
		SignalType:      strings.TrimSpace(parsed.Get("signal_type").String()),
		Symbol:          extractSymbol(parsed),
		Direction:       NormalizeDirection(parsed.Get("direction").String()),
		Timeframe:       extractTimeframe(parsed),
		EntryPrice:      parsed.Get("entry_price").Float(),
		SLPrice:         parsed.Get("sl_price").Float(),
		ConfidenceScore: parsed.Get("confidence_score").Float(),
		ConsensusScore:  int(parsed.Get("consensus_score").Int()),
		ReceivedAt:      d.now(),
	}
	for _, tp := range parsed.Get("tp_prices").Array() {
		sig.TPPrices = append(sig.TPPrices, tp.Float())
	}

	if sig.Symbol == "" {
		return Signal{}, fmt.Errorf("decode alert: missing symbol")
	}
	if sig.Kind() == KindEntry {
		if sig.Direction == "" {
			return Signal{}, fmt.Errorf("decode alert %s: missing direction", sig.SignalType)
		}
		if sig.EntryPrice <= 0 {
			return Signal{}, fmt.Errorf("decode alert %s: entry price required", sig.SignalType)
		}
		// A missing stop is allowed; the orchestrator derives one from
		// volatility. A stop equal to entry is a template mistake.
		if sig.SLPrice > 0 && sig.StopDistance() <= 0 {
			return Signal{}, fmt.Errorf("decode alert %s: zero stop distance", sig.SignalType)
		}
	}
	return sig, nil
}

func (d *Decoder) now() time.Time {
	if d.clock != nil {
		return d.clock.Now()
	}
	return time.Now()
}

// Alerts spell the pair field either way depending on the chart template.
func extractSymbol(parsed gjson.Result) string {
	sym := strings.TrimSpace(parsed.Get("symbol").String())
	if sym == "" {
		sym = strings.TrimSpace(parsed.Get("ticker").String())
	}
	return strings.ToUpper(sym)
}

func extractTimeframe(parsed gjson.Result) string {
	tf := strings.TrimSpace(parsed.Get("tf").String())
	if tf == "" {
		tf = strings.TrimSpace(parsed.Get("timeframe").String())
	}
	return tf
}

package notifier

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRenderMarkdownFullMessage(t *testing.T) {
	msg := StructuredMessage{
		Icon:  "🟢",
		Title: "Opened EURUSD BUY",
		Sections: []MessageSection{
			{Title: "Order", Lines: []string{"Lot: 0.25", "Entry: 1.10000"}},
			{Title: "Risk", Lines: []string{"SL: 1.09500"}},
		},
		Footer:    "trade t-1",
		Timestamp: time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC),
	}
	out := msg.RenderMarkdown()
	assert.True(t, strings.HasPrefix(out, "🟢 Opened EURUSD BUY"))
	assert.Contains(t, out, "```")
	assert.Contains(t, out, "- Lot: 0.25")
	assert.Contains(t, out, "Risk")
	assert.Contains(t, out, "trade t-1")
	assert.Contains(t, out, "Time: 2026-03-05 12:00:00 UTC")
}

func TestRenderMarkdownSkipsEmptySections(t *testing.T) {
	msg := StructuredMessage{
		Title:    "bare",
		Sections: []MessageSection{{Title: "Empty", Lines: []string{"", "  "}}},
	}
	out := msg.RenderMarkdown()
	assert.Equal(t, "bare", out)
}

func TestRenderMarkdownSanitizesCodeFences(t *testing.T) {
	msg := StructuredMessage{
		Title:    "note",
		Sections: []MessageSection{{Lines: []string{"payload ``` injection"}}},
	}
	out := msg.RenderMarkdown()
	assert.Contains(t, out, "'''")
	assert.Equal(t, 2, strings.Count(out, "```"))
}

func TestRenderMarkdownTruncatesLongBody(t *testing.T) {
	long := strings.Repeat("x", 5000)
	msg := StructuredMessage{Title: "big", Footer: long}
	out := msg.RenderMarkdown()
	assert.LessOrEqual(t, len(out), maxStructuredMessageLen+3)
	assert.True(t, strings.HasSuffix(out, "..."))
}

func TestTradeMessagesCarrySymbolAndChain(t *testing.T) {
	at := time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC)

	opened := TradeOpenedMessage("t-1", "EURUSD", "BUY", "L1", 0.25, 1.1000, 1.0950, 2, at)
	body := opened.RenderMarkdown()
	assert.Contains(t, body, "EURUSD")
	assert.Contains(t, body, "chain 2")

	closed := TradeClosedMessage("t-1", "EURUSD", "BUY", "SL", -125.0, 0, at)
	assert.Contains(t, closed.RenderMarkdown(), "-125.00")

	limit := DailyLimitMessage(-510.0, 500.0, at)
	assert.Contains(t, limit.RenderMarkdown(), "blocked")
}

package notifier

import (
	"fmt"
	"time"
)

// TradeOpenedMessage formats a dual-order entry notification.
func TradeOpenedMessage(tradeID, symbol, direction, route string, lot, entry, sl float64, chainLevel int, at time.Time) StructuredMessage {
	icon := "🟢"
	if direction == "SELL" {
		icon = "🔴"
	}
	title := fmt.Sprintf("Opened %s %s", symbol, direction)
	if chainLevel > 0 {
		title = fmt.Sprintf("Re-entry %s %s (chain %d)", symbol, direction, chainLevel)
	}
	return StructuredMessage{
		Icon:  icon,
		Title: title,
		Sections: []MessageSection{{
			Title: "Order",
			Lines: []string{
				fmt.Sprintf("Trade: %s", tradeID),
				fmt.Sprintf("Route: %s", route),
				fmt.Sprintf("Lots: %.2f", lot),
				fmt.Sprintf("Entry: %.5f", entry),
				fmt.Sprintf("Stop: %.5f", sl),
			},
		}},
		Timestamp: at,
	}
}

// TradeClosedMessage formats a close notification.
func TradeClosedMessage(tradeID, symbol, direction, reason string, pnl float64, chainLevel int, at time.Time) StructuredMessage {
	icon := "✅"
	if pnl < 0 {
		icon = "⛔"
	}
	return StructuredMessage{
		Icon:  icon,
		Title: fmt.Sprintf("Closed %s %s (%s)", symbol, direction, reason),
		Sections: []MessageSection{{
			Title: "Result",
			Lines: []string{
				fmt.Sprintf("Trade: %s", tradeID),
				fmt.Sprintf("PnL: %.2f USD", pnl),
				fmt.Sprintf("Chain level: %d", chainLevel),
			},
		}},
		Timestamp: at,
	}
}

// DailyLimitMessage announces that the daily loss cap blocked new entries.
func DailyLimitMessage(dailyPnL, limit float64, at time.Time) StructuredMessage {
	return StructuredMessage{
		Icon:  "🚫",
		Title: "Daily loss limit reached",
		Sections: []MessageSection{{
			Title: "Risk",
			Lines: []string{
				fmt.Sprintf("Daily PnL: %.2f USD", dailyPnL),
				fmt.Sprintf("Limit: %.2f USD", limit),
				"New entries blocked until the daily reset. Open trades keep running.",
			},
		}},
		Timestamp: at,
	}
}

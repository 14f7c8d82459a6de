package ports

import (
	"context"

	"cryptoPilot/internal/domain"
)

// MarketSnapshot is the compact market state handed to an advisor when
// requesting a signal. It is deliberately small: the advisor adapter decides
// how to present it to the underlying model.
type MarketSnapshot struct {
	Symbol       string
	Price        float64
	Change24hPct float64
	ATR          float64 // Current volatility (ATR of recent klines)
	RSI          float64
	EMAFast      float64
	EMASlow      float64
	Balance      float64 // Available balance in the quote currency
}

// AdviceRequest asks an advisor for a trading signal for one bot.
type AdviceRequest struct {
	BotID    int64
	Model    string // Model identifier, from the bot configuration
	Snapshot MarketSnapshot
}

// Advisor is an AI signal provider (typically an LLM behind an HTTP API).
type Advisor interface {
	// Advise requests a trading recommendation for the given market state.
	// The returned recommendation has no ID or status assigned yet; the
	// recommendation service owns those.
	Advise(ctx context.Context, req AdviceRequest) (*domain.Recommendation, error)
}

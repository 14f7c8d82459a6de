package domain

import "time"

// Bot is a configured trading bot. A bot ties a symbol to a portfolio, a set
// of risk parameters and an advisor model, and is polled for signals while
// its status is active.
type Bot struct {
	ID          int64
	Name        string
	Symbol      string // Trading symbol the bot operates on
	PortfolioID int64  // Portfolio funding this bot
	Status      BotStatus

	// Risk parameters applied to positions the bot opens.
	Quantity           float64 // Order size in base asset units
	Leverage           int
	StopLossPercent    float64 // Initial stop distance as a fraction of entry (e.g., 0.02)
	TakeProfitPercent  float64 // Initial target distance as a fraction of entry
	TrailingActivation float64 // Unrealized gain fraction at which trailing engages
	ATRMultiplier      float64 // Stop distance in ATR units once trailing is live
	MaxDailyTrades     int

	// Advisor settings.
	AdvisorModel string        // Model identifier passed to the advisor provider
	PollInterval time.Duration // How often the advisor is polled for this bot

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsActive reports whether the bot should be polled and its positions managed.
func (b *Bot) IsActive() bool {
	return b.Status == BotActive
}

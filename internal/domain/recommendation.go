package domain

import "time"

// Recommendation is a trading signal produced by an AI advisor for a bot.
type Recommendation struct {
	ID         string // UUID assigned when the signal is received
	BotID      int64
	Symbol     string
	Provider   string // Advisor provider name (e.g., "openai")
	Model      string // Model that produced the signal
	Action     RecommendationAction
	Confidence float64 // 0..1
	EntryPrice float64 // Suggested entry (0 for hold)
	StopLoss   float64 // Suggested protective stop (0 for hold)
	TakeProfit float64 // Suggested target (0 for hold)
	Reasoning  string  // Free-text rationale returned by the model
	Status     RecommendationStatus
	CreatedAt  time.Time
	ExpiresAt  time.Time // Pending signals past this moment are expired
}

// IsActionable reports whether the signal proposes opening a position.
func (r *Recommendation) IsActionable() bool {
	return r.Action == ActionBuy || r.Action == ActionSell
}

// Side maps the recommended action to a position direction.
// Only meaningful for actionable recommendations.
func (r *Recommendation) Side() PositionSide {
	if r.Action == ActionSell {
		return Short
	}
	return Long
}

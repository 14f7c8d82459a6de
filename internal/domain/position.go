package domain

import "time"

// Position represents a trade tracked by the platform from the moment a
// recommendation is accepted until it is closed out.
type Position struct {
	ID           int64        // Unique identifier for the position (usually from DB)
	BotID        int64        // Bot that owns this position (0 if entered manually)
	Symbol       string       // Trading symbol (e.g., "ETHUSDT")
	Side         PositionSide // LONG or SHORT
	PlannedEntry float64      // Entry price proposed by the recommendation
	EntryPrice   float64      // Actual fill price (0 while pending)
	ExitPrice    float64      // Price at which the position was exited (0 if open)
	Quantity     float64      // Size of the position
	Leverage     int          // Leverage used for the position

	// Protective levels, recomputed from volatility and structure data
	// while the position is active.
	StopLoss          float64
	TakeProfit        float64
	TrailingActive    bool    // Whether the trailing stop has engaged
	TrailingStopPrice float64 // Current trailing stop level (0 until trailing engages)
	HighWaterMark     float64 // Best price seen since entry (highest for longs, lowest for shorts)

	Phase            PositionPhase // pending, active or closed
	EntryDeadline    time.Time     // Pending entries not filled by this time expire
	EntryTime        time.Time     // Timestamp when the position was entered
	ExitTime         time.Time     // Timestamp when the position was exited (zero value if open)
	CloseReason      CloseReason   // Reason for closing (SL, TP, trailing, expired, ...)
	PNL              float64       // Profit and Loss for the position (calculated on close)
	RecommendationID string        // Recommendation that originated this position (empty if none)

	// Associated order IDs for SL/TP management (nullable in DB)
	StopLossOrderID   *string `db:"stop_loss_order_id"`
	TakeProfitOrderID *string `db:"take_profit_order_id"`
}

// IsPending reports whether the position is still awaiting entry validation.
func (p *Position) IsPending() bool {
	return p.Phase == PhasePending
}

// IsActive reports whether the position is filled and being protected.
func (p *Position) IsActive() bool {
	return p.Phase == PhaseActive
}

// IsOpen reports whether the position has not yet been closed.
func (p *Position) IsOpen() bool {
	return p.Phase != PhaseClosed
}

// EffectiveStop returns the stop level currently protecting the position:
// the trailing stop once it has engaged, the initial stop loss before that.
func (p *Position) EffectiveStop() float64 {
	if p.TrailingActive && p.TrailingStopPrice != 0 {
		return p.TrailingStopPrice
	}
	return p.StopLoss
}

// UnrealizedPNL computes the open profit at the given price.
func (p *Position) UnrealizedPNL(price float64) float64 {
	if p.Phase != PhaseActive {
		return 0
	}
	if p.Side == Short {
		return (p.EntryPrice - price) * p.Quantity
	}
	return (price - p.EntryPrice) * p.Quantity
}

package domain

// OrderSide represents the side of an order (BUY or SELL).
type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// PositionSide represents the direction of a position.
type PositionSide string

const (
	Long  PositionSide = "LONG"
	Short PositionSide = "SHORT"
)

// EntrySide returns the order side used to open a position in this direction.
func (s PositionSide) EntrySide() OrderSide {
	if s == Short {
		return Sell
	}
	return Buy
}

// ExitSide returns the order side used to close a position in this direction.
func (s PositionSide) ExitSide() OrderSide {
	if s == Short {
		return Buy
	}
	return Sell
}

// PositionPhase represents where a position sits in its lifecycle.
// A position starts pending while its entry is validated, becomes active
// once filled (trailing is a mode of active), and ends closed.
type PositionPhase string

const (
	PhasePending PositionPhase = "pending"
	PhaseActive  PositionPhase = "active"
	PhaseClosed  PositionPhase = "closed"
)

// CloseReason indicates why a position was closed.
type CloseReason string

const (
	CloseReasonStopLoss      CloseReason = "SL"
	CloseReasonTakeProfit    CloseReason = "TP"
	CloseReasonTrailingStop  CloseReason = "TRAILING_STOP"
	CloseReasonExpired       CloseReason = "ENTRY_EXPIRED" // Entry validation deadline passed without a fill
	CloseReasonManual        CloseReason = "MANUAL"
	CloseReasonRiskLimit     CloseReason = "RISK_LIMIT"
	CloseReasonLiquidation   CloseReason = "Liquidation"
	CloseReasonTrendReversal CloseReason = "TREND_REVERSAL"
	CloseReasonUnknown       CloseReason = "Unknown"
)

// BotStatus represents the lifecycle state of a configured bot.
type BotStatus string

const (
	BotActive BotStatus = "active"
	BotPaused BotStatus = "paused"
)

// RecommendationAction is the trading action suggested by an advisor.
type RecommendationAction string

const (
	ActionBuy  RecommendationAction = "buy"
	ActionSell RecommendationAction = "sell"
	ActionHold RecommendationAction = "hold"
)

// RecommendationStatus tracks what happened to an advisor signal.
type RecommendationStatus string

const (
	RecommendationPending  RecommendationStatus = "pending"
	RecommendationAccepted RecommendationStatus = "accepted"
	RecommendationRejected RecommendationStatus = "rejected"
	RecommendationExpired  RecommendationStatus = "expired"
)

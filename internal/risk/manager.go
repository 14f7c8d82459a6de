package risk

import (
	"context"
	"fmt"
	"math"
	"time"

	"cryptoPilot/internal/domain"
)

// RiskConfig holds configuration for risk management
type RiskConfig struct {
	MaxPositionSize     float64
	MaxLeverage         int
	MaxDrawdown         float64
	MaxDailyLoss        float64
	MaxOpenPositions    int
	PositionSizePercent float64
	StopLossPercent     float64
	TakeProfitPercent   float64
	MaxDailyTrades      int
}

// RiskManager implements risk management functionality
type RiskManager struct {
	config RiskConfig
	stats  *RiskStats
}

// RiskStats holds risk management statistics
type RiskStats struct {
	DailyPnL        float64
	CurrentDrawdown float64
	OpenPositions   int
	TotalExposure   float64
	DailyTrades     int
	MaxDailyTrades  int
	LastResetTime   int64
}

// NewRiskManager creates a new risk manager instance
func NewRiskManager(config RiskConfig) *RiskManager {
	maxDaily := config.MaxDailyTrades
	if maxDaily <= 0 {
		maxDaily = 100
	}
	return &RiskManager{
		config: config,
		stats: &RiskStats{
			MaxDailyTrades: maxDaily,
		},
	}
}

// ValidatePosition validates if a new position can be opened
func (r *RiskManager) ValidatePosition(ctx context.Context, position *domain.Position, accountBalance float64) error {
	// Check position size
	if position.Quantity > r.config.MaxPositionSize {
		return fmt.Errorf("position size %f exceeds maximum allowed %f", position.Quantity, r.config.MaxPositionSize)
	}

	// Check leverage
	if position.Leverage > r.config.MaxLeverage {
		return fmt.Errorf("leverage %d exceeds maximum allowed %d", position.Leverage, r.config.MaxLeverage)
	}

	// Check number of open positions
	if r.stats.OpenPositions >= r.config.MaxOpenPositions {
		return fmt.Errorf("number of open positions %d exceeds maximum allowed %d", r.stats.OpenPositions, r.config.MaxOpenPositions)
	}

	// Pending positions carry their planned entry until the fill happens
	entryPrice := position.EntryPrice
	if entryPrice == 0 {
		entryPrice = position.PlannedEntry
	}

	// Check daily loss limit against the worst case for this position
	positionValue := position.Quantity * entryPrice * float64(position.Leverage)
	if r.stats.DailyPnL-positionValue*r.config.StopLossPercent < -r.config.MaxDailyLoss*accountBalance {
		return fmt.Errorf("potential daily loss would exceed maximum allowed")
	}

	// Check total exposure
	newTotalExposure := r.stats.TotalExposure + positionValue
	if newTotalExposure > accountBalance*float64(r.config.MaxOpenPositions) {
		return fmt.Errorf("total exposure would exceed maximum allowed")
	}

	return nil
}

// ValidateBot checks a bot configuration against the platform risk limits.
// Called before a bot is created or updated.
func (r *RiskManager) ValidateBot(bot *domain.Bot) error {
	if bot.Quantity <= 0 {
		return fmt.Errorf("bot quantity must be positive")
	}
	if bot.Quantity > r.config.MaxPositionSize {
		return fmt.Errorf("bot quantity %f exceeds maximum position size %f", bot.Quantity, r.config.MaxPositionSize)
	}
	if bot.Leverage <= 0 || bot.Leverage > r.config.MaxLeverage {
		return fmt.Errorf("bot leverage %d outside allowed range 1..%d", bot.Leverage, r.config.MaxLeverage)
	}
	if bot.StopLossPercent <= 0 || bot.StopLossPercent >= 1 {
		return fmt.Errorf("bot stop loss percent %f must be in (0, 1)", bot.StopLossPercent)
	}
	if bot.TakeProfitPercent <= 0 {
		return fmt.Errorf("bot take profit percent must be positive")
	}
	if bot.TrailingActivation <= 0 {
		return fmt.Errorf("bot trailing activation must be positive")
	}
	if bot.ATRMultiplier <= 0 {
		return fmt.Errorf("bot ATR multiplier must be positive")
	}
	if bot.MaxDailyTrades <= 0 || bot.MaxDailyTrades > r.stats.MaxDailyTrades {
		return fmt.Errorf("bot max daily trades %d outside allowed range 1..%d", bot.MaxDailyTrades, r.stats.MaxDailyTrades)
	}
	return nil
}

// RecordOpen updates statistics when a pending position fills.
func (r *RiskManager) RecordOpen(ctx context.Context, position *domain.Position) {
	r.stats.OpenPositions++
	r.stats.TotalExposure += position.Quantity * position.EntryPrice * float64(position.Leverage)
	r.stats.DailyTrades++
}

// RecordClose updates statistics when a position closes out.
func (r *RiskManager) RecordClose(ctx context.Context, trade *domain.Trade, accountBalance float64) {
	r.stats.DailyPnL += trade.PNL

	if trade.PNL < 0 && accountBalance > 0 {
		r.stats.CurrentDrawdown = math.Max(r.stats.CurrentDrawdown, -trade.PNL/accountBalance)
	}

	r.stats.OpenPositions--
	r.stats.TotalExposure -= trade.Quantity * trade.EntryPrice * float64(trade.Leverage)
}

// ResetDailyStats resets daily statistics
func (r *RiskManager) ResetDailyStats(ctx context.Context) {
	r.stats.DailyPnL = 0
	r.stats.DailyTrades = 0
	r.stats.LastResetTime = time.Now().Unix()
}

// GetPositionSize calculates the appropriate position size based on risk parameters
func (r *RiskManager) GetPositionSize(ctx context.Context, accountBalance float64, currentPrice float64) float64 {
	positionSize := accountBalance * r.config.PositionSizePercent / currentPrice

	// Ensure position size doesn't exceed maximum allowed
	return math.Min(positionSize, r.config.MaxPositionSize)
}

// GetStopLoss calculates the fallback stop loss price for a position
func (r *RiskManager) GetStopLoss(ctx context.Context, entryPrice float64, side domain.PositionSide) float64 {
	if side == domain.Short {
		return entryPrice * (1 + r.config.StopLossPercent)
	}
	return entryPrice * (1 - r.config.StopLossPercent)
}

// GetTakeProfit calculates the fallback take profit price for a position
func (r *RiskManager) GetTakeProfit(ctx context.Context, entryPrice float64, side domain.PositionSide) float64 {
	if side == domain.Short {
		return entryPrice * (1 - r.config.TakeProfitPercent)
	}
	return entryPrice * (1 + r.config.TakeProfitPercent)
}

// CheckRiskLimits checks if any risk limits have been exceeded
func (r *RiskManager) CheckRiskLimits(ctx context.Context, accountBalance float64) error {
	// Check drawdown limit
	if r.stats.CurrentDrawdown > r.config.MaxDrawdown {
		return fmt.Errorf("current drawdown %f exceeds maximum allowed %f", r.stats.CurrentDrawdown, r.config.MaxDrawdown)
	}

	// Check daily loss limit
	if r.stats.DailyPnL < -r.config.MaxDailyLoss*accountBalance {
		return fmt.Errorf("daily loss %f exceeds maximum allowed %f", r.stats.DailyPnL, -r.config.MaxDailyLoss*accountBalance)
	}

	// Check daily trades limit
	if r.stats.DailyTrades >= r.stats.MaxDailyTrades {
		return fmt.Errorf("daily trades %d exceeds maximum allowed %d", r.stats.DailyTrades, r.stats.MaxDailyTrades)
	}

	return nil
}

// GetStats returns the current risk management statistics
func (r *RiskManager) GetStats() *RiskStats {
	return r.stats
}

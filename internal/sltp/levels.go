package sltp

import (
	"context"
	"fmt"
	"math"

	"cryptoPilot/internal/domain"
	"cryptoPilot/internal/strategy/indicators"
)

// LevelConfig holds the parameters used to derive protective price levels.
type LevelConfig struct {
	ATRPeriod         int     // ATR period for the volatility component
	ATRMultiplier     float64 // Stop distance in ATR units
	SwingLookback     int     // Bars each side of a confirmed swing point
	StopLossPercent   float64 // Fallback stop distance as a fraction of entry
	TakeProfitPercent float64 // Fallback target distance as a fraction of entry
}

// Levels holds the protective prices for a position.
type Levels struct {
	StopLoss   float64
	TakeProfit float64
}

// LevelCalculator derives stop-loss and take-profit levels from volatility
// (ATR) and price structure (confirmed swing points), falling back to fixed
// percentages when not enough history is available.
type LevelCalculator struct {
	cfg   LevelConfig
	atr   *indicators.ATR
	swing *indicators.Swing
}

// NewLevelCalculator validates the configuration and builds a calculator.
func NewLevelCalculator(cfg LevelConfig) (*LevelCalculator, error) {
	if cfg.ATRPeriod <= 0 {
		return nil, fmt.Errorf("ATRPeriod must be positive")
	}
	if cfg.ATRMultiplier <= 0 {
		return nil, fmt.Errorf("ATRMultiplier must be positive")
	}
	if cfg.SwingLookback <= 0 {
		return nil, fmt.Errorf("SwingLookback must be positive")
	}
	if cfg.StopLossPercent <= 0 || cfg.StopLossPercent >= 1 {
		return nil, fmt.Errorf("StopLossPercent must be between 0 and 1 (exclusive)")
	}
	if cfg.TakeProfitPercent <= 0 {
		return nil, fmt.Errorf("TakeProfitPercent must be positive")
	}
	return &LevelCalculator{
		cfg:   cfg,
		atr:   indicators.NewATR(indicators.ATRConfig{IndicatorConfig: indicators.IndicatorConfig{Period: cfg.ATRPeriod}}),
		swing: indicators.NewSwing(indicators.SwingConfig{Lookback: cfg.SwingLookback}),
	}, nil
}

// RequiredDataPoints returns the number of klines needed for a full
// volatility + structure computation.
func (c *LevelCalculator) RequiredDataPoints() int {
	atrNeed := c.cfg.ATRPeriod + 1
	swingNeed := 2*c.cfg.SwingLookback + 1
	if atrNeed > swingNeed {
		return atrNeed
	}
	return swingNeed
}

// Initial computes entry-time protective levels.
//
// The stop starts at the fixed-percent distance and is tightened toward the
// entry by the volatility stop (entry -/+ ATR*multiplier) and by the latest
// confirmed swing point, whichever of the valid candidates is closest to the
// entry. The target starts at the fixed-percent distance and is tightened to
// the opposing swing point when one sits between entry and target.
func (c *LevelCalculator) Initial(ctx context.Context, side domain.PositionSide, entryPrice float64, klines []*domain.Kline) (Levels, error) {
	if entryPrice <= 0 {
		return Levels{}, fmt.Errorf("entry price must be positive, got %f", entryPrice)
	}

	var lv Levels
	if side == domain.Short {
		lv.StopLoss = entryPrice * (1 + c.cfg.StopLossPercent)
		lv.TakeProfit = entryPrice * (1 - c.cfg.TakeProfitPercent)
	} else {
		lv.StopLoss = entryPrice * (1 - c.cfg.StopLossPercent)
		lv.TakeProfit = entryPrice * (1 + c.cfg.TakeProfitPercent)
	}

	if len(klines) < c.RequiredDataPoints() {
		// Not enough history for volatility/structure refinement.
		return lv, nil
	}

	atrValue, err := c.atr.Calculate(ctx, klines)
	if err != nil {
		return Levels{}, fmt.Errorf("ATR calculation failed: %w", err)
	}

	if side == domain.Short {
		if cand := entryPrice + c.cfg.ATRMultiplier*atrValue; cand < lv.StopLoss {
			lv.StopLoss = cand
		}
		if high, err := c.swing.LastSwingHigh(ctx, klines); err == nil && high > entryPrice && high < lv.StopLoss {
			lv.StopLoss = high
		}
		if low, err := c.swing.LastSwingLow(ctx, klines); err == nil && low < entryPrice && low > lv.TakeProfit {
			lv.TakeProfit = low
		}
	} else {
		if cand := entryPrice - c.cfg.ATRMultiplier*atrValue; cand > lv.StopLoss {
			lv.StopLoss = cand
		}
		if low, err := c.swing.LastSwingLow(ctx, klines); err == nil && low < entryPrice && low > lv.StopLoss {
			lv.StopLoss = low
		}
		if high, err := c.swing.LastSwingHigh(ctx, klines); err == nil && high > entryPrice && high < lv.TakeProfit {
			lv.TakeProfit = high
		}
	}

	return lv, nil
}

// Trail computes a refreshed trailing stop for an active position from its
// high-water mark and fresh volatility/structure data. The returned stop
// never loosens the position's current effective stop.
func (c *LevelCalculator) Trail(ctx context.Context, pos *domain.Position, klines []*domain.Kline) (float64, error) {
	if !pos.IsActive() {
		return 0, fmt.Errorf("cannot trail position %d in phase %s", pos.ID, pos.Phase)
	}
	if len(klines) < c.RequiredDataPoints() {
		return pos.EffectiveStop(), nil
	}

	atrValue, err := c.atr.Calculate(ctx, klines)
	if err != nil {
		return 0, fmt.Errorf("ATR calculation failed: %w", err)
	}

	current := pos.EffectiveStop()
	if pos.Side == domain.Short {
		candidate := pos.HighWaterMark + c.cfg.ATRMultiplier*atrValue
		if high, err := c.swing.LastSwingHigh(ctx, klines); err == nil && high > pos.HighWaterMark {
			candidate = math.Min(candidate, high)
		}
		// Ratchet: a short stop only ever moves down.
		return math.Min(current, candidate), nil
	}

	candidate := pos.HighWaterMark - c.cfg.ATRMultiplier*atrValue
	if low, err := c.swing.LastSwingLow(ctx, klines); err == nil && low < pos.HighWaterMark {
		candidate = math.Max(candidate, low)
	}
	// Ratchet: a long stop only ever moves up.
	return math.Max(current, candidate), nil
}

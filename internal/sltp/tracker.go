package sltp

import (
	"context"
	"fmt"
	"math"
	"time"

	"cryptoPilot/internal/domain"
	"cryptoPilot/internal/ports"
	"cryptoPilot/internal/strategy/indicators"
)

// Outcome describes what a tick did to a position.
type Outcome string

const (
	OutcomeNone     Outcome = "none"     // No state change
	OutcomeEntered  Outcome = "entered"  // Pending entry validated and filled
	OutcomeAdjusted Outcome = "adjusted" // Protective levels moved
	OutcomeClosed   Outcome = "closed"   // Position closed by a trigger
	OutcomeExpired  Outcome = "expired"  // Pending entry expired unfilled
)

// TickResult reports the effect of a single tick on a position.
type TickResult struct {
	Outcome   Outcome
	Reason    domain.CloseReason // Set when Outcome is closed or expired
	ExitPrice float64            // Set when Outcome is closed
}

// Config holds the tracker parameters.
type Config struct {
	// Entry validation (pending phase).
	EntryTolerance float64 // Max |price-planned|/planned for a fill
	EMAFastPeriod  int     // Trend filter fast EMA
	EMASlowPeriod  int     // Trend filter slow EMA
	RSIPeriod      int
	RSIOverbought  float64 // Longs are not entered above this RSI
	RSIOversold    float64 // Shorts are not entered below this RSI

	// Trailing (active phase).
	TrailingActivation float64 // Unrealized gain fraction at which trailing engages

	Levels LevelConfig
}

// Tracker drives a position through its lifecycle: it validates pending
// entries, arms protective levels on fill, ratchets the trailing stop while
// the position is active, and closes the position when a trigger fires.
// It mutates the position it is handed; persistence belongs to the caller.
type Tracker struct {
	cfg     Config
	logger  ports.Logger
	levels  *LevelCalculator
	rsi     *indicators.RSI
	emaFast *indicators.MovingAverage
	emaSlow *indicators.MovingAverage
}

// New validates the configuration and builds a tracker.
func New(cfg Config, logger ports.Logger) (*Tracker, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for SL/TP tracker")
	}
	if cfg.EntryTolerance <= 0 || cfg.EntryTolerance >= 1 {
		return nil, fmt.Errorf("EntryTolerance must be between 0 and 1 (exclusive)")
	}
	if cfg.EMAFastPeriod <= 0 || cfg.EMASlowPeriod <= 0 || cfg.EMAFastPeriod >= cfg.EMASlowPeriod {
		return nil, fmt.Errorf("EMA periods must be positive with fast < slow")
	}
	if cfg.RSIPeriod <= 0 {
		return nil, fmt.Errorf("RSIPeriod must be positive")
	}
	if cfg.RSIOverbought <= cfg.RSIOversold || cfg.RSIOverbought > 100 || cfg.RSIOversold < 0 {
		return nil, fmt.Errorf("invalid RSI thresholds")
	}
	if cfg.TrailingActivation <= 0 {
		return nil, fmt.Errorf("TrailingActivation must be positive")
	}
	levels, err := NewLevelCalculator(cfg.Levels)
	if err != nil {
		return nil, fmt.Errorf("invalid level configuration: %w", err)
	}

	return &Tracker{
		cfg:    cfg,
		logger: logger,
		levels: levels,
		rsi: indicators.NewRSI(indicators.RSIConfig{
			IndicatorConfig: indicators.IndicatorConfig{Period: cfg.RSIPeriod},
			Overbought:      cfg.RSIOverbought,
			Oversold:        cfg.RSIOversold,
		}),
		emaFast: indicators.NewMovingAverage(indicators.MovingAverageConfig{
			IndicatorConfig: indicators.IndicatorConfig{Period: cfg.EMAFastPeriod},
			Type:            indicators.ExponentialMovingAverage,
		}),
		emaSlow: indicators.NewMovingAverage(indicators.MovingAverageConfig{
			IndicatorConfig: indicators.IndicatorConfig{Period: cfg.EMASlowPeriod},
			Type:            indicators.ExponentialMovingAverage,
		}),
	}, nil
}

// RequiredDataPoints returns the klines needed for full tick processing.
func (t *Tracker) RequiredDataPoints() int {
	need := t.levels.RequiredDataPoints()
	for _, n := range []int{t.cfg.EMASlowPeriod, t.cfg.RSIPeriod + 1} {
		if n > need {
			need = n
		}
	}
	return need
}

// OnTick advances the position state machine with the latest price and the
// most recent klines for its symbol. The position is mutated in place.
func (t *Tracker) OnTick(ctx context.Context, pos *domain.Position, price float64, klines []*domain.Kline, now time.Time) (TickResult, error) {
	if pos == nil {
		return TickResult{}, fmt.Errorf("nil position")
	}
	if price <= 0 {
		return TickResult{}, fmt.Errorf("invalid tick price %f for position %d", price, pos.ID)
	}

	switch pos.Phase {
	case domain.PhasePending:
		return t.tickPending(ctx, pos, price, klines, now)
	case domain.PhaseActive:
		return t.tickActive(ctx, pos, price, klines, now)
	case domain.PhaseClosed:
		return TickResult{Outcome: OutcomeNone}, nil
	default:
		return TickResult{}, fmt.Errorf("position %d has unknown phase %q", pos.ID, pos.Phase)
	}
}

// tickPending validates the entry conditions for a pending position.
func (t *Tracker) tickPending(ctx context.Context, pos *domain.Position, price float64, klines []*domain.Kline, now time.Time) (TickResult, error) {
	if !pos.EntryDeadline.IsZero() && now.After(pos.EntryDeadline) {
		pos.Phase = domain.PhaseClosed
		pos.CloseReason = domain.CloseReasonExpired
		pos.ExitTime = now.UTC()
		t.logger.Info(ctx, "Pending entry expired unfilled", map[string]interface{}{
			"positionID": pos.ID, "symbol": pos.Symbol, "plannedEntry": pos.PlannedEntry,
		})
		return TickResult{Outcome: OutcomeExpired, Reason: domain.CloseReasonExpired}, nil
	}

	ok, reason := t.validateEntry(ctx, pos, price, klines)
	if !ok {
		t.logger.Debug(ctx, "Entry validation not satisfied", map[string]interface{}{
			"positionID": pos.ID, "symbol": pos.Symbol, "price": price, "reason": reason,
		})
		return TickResult{Outcome: OutcomeNone}, nil
	}

	lv, err := t.levels.Initial(ctx, pos.Side, price, klines)
	if err != nil {
		return TickResult{}, fmt.Errorf("initial level computation failed for position %d: %w", pos.ID, err)
	}

	pos.Phase = domain.PhaseActive
	pos.EntryPrice = price
	pos.EntryTime = now.UTC()
	pos.HighWaterMark = price
	pos.StopLoss = lv.StopLoss
	pos.TakeProfit = lv.TakeProfit

	t.logger.Info(ctx, "Entry validated, position active", map[string]interface{}{
		"positionID": pos.ID, "symbol": pos.Symbol, "side": pos.Side,
		"entryPrice": price, "stopLoss": lv.StopLoss, "takeProfit": lv.TakeProfit,
	})
	return TickResult{Outcome: OutcomeEntered}, nil
}

// validateEntry checks price proximity to the planned entry plus trend and
// momentum filters. Filters are skipped when there is not enough history to
// compute them.
func (t *Tracker) validateEntry(ctx context.Context, pos *domain.Position, price float64, klines []*domain.Kline) (bool, string) {
	if pos.PlannedEntry <= 0 {
		return false, "no planned entry price"
	}
	if math.Abs(price-pos.PlannedEntry)/pos.PlannedEntry > t.cfg.EntryTolerance {
		return false, "price outside entry tolerance"
	}

	if len(klines) < t.RequiredDataPoints() {
		return false, "not enough history for entry filters"
	}

	fast, err := t.emaFast.Calculate(ctx, klines)
	if err != nil {
		return false, "fast EMA unavailable"
	}
	slow, err := t.emaSlow.Calculate(ctx, klines)
	if err != nil {
		return false, "slow EMA unavailable"
	}
	rsiValue, err := t.rsi.Calculate(ctx, klines)
	if err != nil {
		return false, "RSI unavailable"
	}

	if pos.Side == domain.Short {
		if fast > slow {
			return false, "trend filter rejects short"
		}
		if t.rsi.IsOversold(rsiValue) {
			return false, "RSI oversold, short entry rejected"
		}
	} else {
		if fast < slow {
			return false, "trend filter rejects long"
		}
		if t.rsi.IsOverbought(rsiValue) {
			return false, "RSI overbought, long entry rejected"
		}
	}
	return true, ""
}

// tickActive checks protective triggers, engages trailing once the
// activation threshold is reached, and ratchets the trailing stop.
func (t *Tracker) tickActive(ctx context.Context, pos *domain.Position, price float64, klines []*domain.Kline, now time.Time) (TickResult, error) {
	// Track the best price seen since entry.
	if pos.Side == domain.Short {
		if pos.HighWaterMark == 0 || price < pos.HighWaterMark {
			pos.HighWaterMark = price
		}
	} else if price > pos.HighWaterMark {
		pos.HighWaterMark = price
	}

	// Trigger checks come before any level adjustment: levels in force at
	// tick time decide the close.
	if hit, reason := t.checkTriggers(pos, price); hit {
		t.close(ctx, pos, price, reason, now)
		return TickResult{Outcome: OutcomeClosed, Reason: reason, ExitPrice: price}, nil
	}

	adjusted := false

	// Engage trailing once unrealized gain crosses the activation threshold.
	if !pos.TrailingActive && pos.EntryPrice > 0 {
		gain := (price - pos.EntryPrice) / pos.EntryPrice
		if pos.Side == domain.Short {
			gain = (pos.EntryPrice - price) / pos.EntryPrice
		}
		if gain >= t.cfg.TrailingActivation {
			pos.TrailingActive = true
			pos.TrailingStopPrice = pos.StopLoss
			adjusted = true
			t.logger.Info(ctx, "Trailing stop engaged", map[string]interface{}{
				"positionID": pos.ID, "symbol": pos.Symbol, "price": price, "gain": gain,
			})
		}
	}

	if pos.TrailingActive {
		newStop, err := t.levels.Trail(ctx, pos, klines)
		if err != nil {
			return TickResult{}, fmt.Errorf("trailing stop refresh failed for position %d: %w", pos.ID, err)
		}
		if newStop != pos.EffectiveStop() {
			pos.TrailingStopPrice = newStop
			adjusted = true
			t.logger.Debug(ctx, "Trailing stop ratcheted", map[string]interface{}{
				"positionID": pos.ID, "symbol": pos.Symbol, "trailingStop": newStop,
			})
		} else if pos.TrailingStopPrice == 0 {
			pos.TrailingStopPrice = newStop
		}
	}

	if adjusted {
		return TickResult{Outcome: OutcomeAdjusted}, nil
	}
	return TickResult{Outcome: OutcomeNone}, nil
}

// checkTriggers reports whether the current price fires the stop or target.
func (t *Tracker) checkTriggers(pos *domain.Position, price float64) (bool, domain.CloseReason) {
	stop := pos.EffectiveStop()
	if pos.Side == domain.Short {
		if stop > 0 && price >= stop {
			if pos.TrailingActive {
				return true, domain.CloseReasonTrailingStop
			}
			return true, domain.CloseReasonStopLoss
		}
		if pos.TakeProfit > 0 && price <= pos.TakeProfit {
			return true, domain.CloseReasonTakeProfit
		}
		return false, ""
	}

	if stop > 0 && price <= stop {
		if pos.TrailingActive {
			return true, domain.CloseReasonTrailingStop
		}
		return true, domain.CloseReasonStopLoss
	}
	if pos.TakeProfit > 0 && price >= pos.TakeProfit {
		return true, domain.CloseReasonTakeProfit
	}
	return false, ""
}

// Close force-closes an open position at the given price (manual close or
// risk-limit shutdown).
func (t *Tracker) Close(ctx context.Context, pos *domain.Position, price float64, reason domain.CloseReason, now time.Time) error {
	if !pos.IsOpen() {
		return fmt.Errorf("position %d is already closed", pos.ID)
	}
	if pos.IsPending() {
		pos.Phase = domain.PhaseClosed
		pos.CloseReason = reason
		pos.ExitTime = now.UTC()
		return nil
	}
	t.close(ctx, pos, price, reason, now)
	return nil
}

func (t *Tracker) close(ctx context.Context, pos *domain.Position, price float64, reason domain.CloseReason, now time.Time) {
	pos.ExitPrice = price
	pos.ExitTime = now.UTC()
	pos.CloseReason = reason
	pos.PNL = pos.UnrealizedPNL(price)
	pos.Phase = domain.PhaseClosed

	t.logger.Info(ctx, "Position closed", map[string]interface{}{
		"positionID": pos.ID, "symbol": pos.Symbol, "reason": reason,
		"exitPrice": price, "pnl": pos.PNL,
	})
}

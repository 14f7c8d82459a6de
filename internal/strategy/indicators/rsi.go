package indicators

import (
	"context"

	"cryptoPilot/internal/domain"
)

// RSIConfig configures the Relative Strength Index indicator.
type RSIConfig struct {
	IndicatorConfig
	Overbought float64
	Oversold   float64
}

// RSI is the Relative Strength Index with Wilder smoothing. The tracker uses
// the threshold helpers as entry sanity filters.
type RSI struct {
	period     int
	overbought float64
	oversold   float64
}

// NewRSI creates a Relative Strength Index indicator.
func NewRSI(config RSIConfig) *RSI {
	return &RSI{
		period:     config.Period,
		overbought: config.Overbought,
		oversold:   config.Oversold,
	}
}

func (r *RSI) Name() string { return "RSI" }

// RequiredDataPoints is one more than the period: changes are computed
// between consecutive closes.
func (r *RSI) RequiredDataPoints() int { return r.period + 1 }

// Calculate averages gains and losses over the first period of close-to-close
// changes, then Wilder-smooths both across the remainder of the window.
func (r *RSI) Calculate(ctx context.Context, klines []*domain.Kline) (float64, error) {
	if len(klines) < r.RequiredDataPoints() {
		return 0, errNotEnoughData(r.Name(), r.RequiredDataPoints(), len(klines))
	}

	var avgGain, avgLoss float64
	for i := 1; i <= r.period; i++ {
		change := klines[i].Close - klines[i-1].Close
		if change > 0 {
			avgGain += change
		} else {
			avgLoss -= change
		}
	}
	avgGain /= float64(r.period)
	avgLoss /= float64(r.period)

	for i := r.period + 1; i < len(klines); i++ {
		change := klines[i].Close - klines[i-1].Close
		var gain, loss float64
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = wilder(avgGain, gain, r.period)
		avgLoss = wilder(avgLoss, loss, r.period)
	}

	if avgLoss == 0 {
		if avgGain == 0 {
			// Flat series carries no momentum signal either way.
			return 50, nil
		}
		return 100, nil
	}
	return 100 - 100/(1+avgGain/avgLoss), nil
}

// IsOverbought reports whether the value is at or above the configured
// overbought threshold.
func (r *RSI) IsOverbought(value float64) bool { return value >= r.overbought }

// IsOversold reports whether the value is at or below the configured
// oversold threshold.
func (r *RSI) IsOversold(value float64) bool { return value <= r.oversold }

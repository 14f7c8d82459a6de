package indicators

import (
	"context"
	"math"

	"cryptoPilot/internal/domain"
)

// ATRConfig configures the Average True Range indicator.
type ATRConfig struct {
	IndicatorConfig
}

// ATR measures recent volatility as a Wilder-smoothed true range. The level
// calculator sizes stop distances in multiples of it.
type ATR struct {
	period int
}

// NewATR creates an Average True Range indicator.
func NewATR(config ATRConfig) *ATR {
	return &ATR{period: config.Period}
}

func (a *ATR) Name() string { return "ATR" }

// RequiredDataPoints is one more than the period: the first true range needs
// a previous close.
func (a *ATR) RequiredDataPoints() int { return a.period + 1 }

// Calculate seeds with the simple average of the first period of true ranges
// and applies Wilder's smoothing across the remainder of the window.
func (a *ATR) Calculate(ctx context.Context, klines []*domain.Kline) (float64, error) {
	if len(klines) < a.RequiredDataPoints() {
		return 0, errNotEnoughData(a.Name(), a.RequiredDataPoints(), len(klines))
	}

	ranges := make([]float64, len(klines))
	ranges[0] = klines[0].Range()
	for i := 1; i < len(klines); i++ {
		ranges[i] = trueRange(klines[i-1], klines[i])
	}

	var atr float64
	for _, r := range ranges[:a.period] {
		atr += r
	}
	atr /= float64(a.period)

	for _, r := range ranges[a.period:] {
		atr = wilder(atr, r, a.period)
	}
	return atr, nil
}

// trueRange is the candle's range extended across any gap from the previous
// close.
func trueRange(prev, cur *domain.Kline) float64 {
	r := cur.Range()
	if d := math.Abs(cur.High - prev.Close); d > r {
		r = d
	}
	if d := math.Abs(cur.Low - prev.Close); d > r {
		r = d
	}
	return r
}

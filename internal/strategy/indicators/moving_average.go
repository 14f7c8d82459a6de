package indicators

import (
	"context"
	"fmt"

	"cryptoPilot/internal/domain"
)

// MovingAverageType selects the averaging method.
type MovingAverageType string

const (
	SimpleMovingAverage      MovingAverageType = "SMA"
	ExponentialMovingAverage MovingAverageType = "EMA"
)

// MovingAverageConfig configures a moving average indicator.
type MovingAverageConfig struct {
	IndicatorConfig
	Type MovingAverageType
}

// MovingAverage computes a close-price average over the most recent window.
// The tracker pairs a fast and a slow EMA as its trend filter.
type MovingAverage struct {
	period int
	kind   MovingAverageType
}

// NewMovingAverage creates a moving average indicator of the configured type.
func NewMovingAverage(config MovingAverageConfig) *MovingAverage {
	return &MovingAverage{period: config.Period, kind: config.Type}
}

func (m *MovingAverage) Name() string { return string(m.kind) }

func (m *MovingAverage) RequiredDataPoints() int { return m.period }

func (m *MovingAverage) Calculate(ctx context.Context, klines []*domain.Kline) (float64, error) {
	if len(klines) < m.period {
		return 0, errNotEnoughData(m.Name(), m.period, len(klines))
	}
	switch m.kind {
	case SimpleMovingAverage:
		return m.sma(klines[len(klines)-m.period:]), nil
	case ExponentialMovingAverage:
		return m.ema(klines), nil
	default:
		return 0, fmt.Errorf("unknown moving average type %q", m.kind)
	}
}

// sma averages the closes of exactly one period window.
func (m *MovingAverage) sma(klines []*domain.Kline) float64 {
	var total float64
	for _, k := range klines {
		total += k.Close
	}
	return total / float64(m.period)
}

// ema seeds with the SMA of the first window, then folds in the remaining
// closes with a 2/(period+1) multiplier.
func (m *MovingAverage) ema(klines []*domain.Kline) float64 {
	alpha := 2.0 / float64(m.period+1)
	ema := m.sma(klines[:m.period])
	for _, k := range klines[m.period:] {
		ema += (k.Close - ema) * alpha
	}
	return ema
}

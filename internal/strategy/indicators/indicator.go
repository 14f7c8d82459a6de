package indicators

import (
	"context"
	"fmt"

	"cryptoPilot/internal/domain"
)

// Indicator is a technical indicator computed over a window of klines.
// Calculate returns the indicator's value as of the most recent kline.
type Indicator interface {
	Calculate(ctx context.Context, klines []*domain.Kline) (float64, error)

	// RequiredDataPoints is the minimum window length Calculate accepts.
	RequiredDataPoints() int

	Name() string
}

// IndicatorConfig holds settings shared by all indicators.
type IndicatorConfig struct {
	Period int
}

// wilder folds one new sample into a Wilder-smoothed average.
func wilder(avg, sample float64, period int) float64 {
	return (avg*float64(period-1) + sample) / float64(period)
}

func errNotEnoughData(name string, need, got int) error {
	return fmt.Errorf("%s needs %d klines, got %d", name, need, got)
}

package indicators

import (
	"context"
	"cryptoPilot/internal/domain"
	"fmt"
)

// SwingConfig holds configuration for swing point detection.
// Lookback is the number of klines on each side a candidate extreme must
// dominate to count as a confirmed swing point.
type SwingConfig struct {
	Lookback int
}

// Swing detects confirmed swing highs and swing lows in recent price
// structure. The SL/TP tracker uses the latest swing points to anchor
// protective levels.
type Swing struct {
	config SwingConfig
}

// NewSwing creates a new swing detector instance.
func NewSwing(config SwingConfig) *Swing {
	return &Swing{config: config}
}

// Name returns the name of the indicator.
func (s *Swing) Name() string {
	return "Swing"
}

// RequiredDataPoints returns the minimum number of klines needed for detection.
func (s *Swing) RequiredDataPoints() int {
	return 2*s.config.Lookback + 1
}

// LastSwingLow returns the most recent confirmed swing low.
// A swing low at index i requires Low[i] to be the strict minimum of the
// window [i-lookback, i+lookback].
func (s *Swing) LastSwingLow(ctx context.Context, klines []*domain.Kline) (float64, error) {
	lb := s.config.Lookback
	if len(klines) < s.RequiredDataPoints() {
		return 0, fmt.Errorf("not enough data points for swing detection: need %d, got %d", s.RequiredDataPoints(), len(klines))
	}

	for i := len(klines) - 1 - lb; i >= lb; i-- {
		if s.isSwingLow(klines, i) {
			return klines[i].Low, nil
		}
	}
	return 0, fmt.Errorf("no confirmed swing low in %d klines", len(klines))
}

// LastSwingHigh returns the most recent confirmed swing high.
func (s *Swing) LastSwingHigh(ctx context.Context, klines []*domain.Kline) (float64, error) {
	lb := s.config.Lookback
	if len(klines) < s.RequiredDataPoints() {
		return 0, fmt.Errorf("not enough data points for swing detection: need %d, got %d", s.RequiredDataPoints(), len(klines))
	}

	for i := len(klines) - 1 - lb; i >= lb; i-- {
		if s.isSwingHigh(klines, i) {
			return klines[i].High, nil
		}
	}
	return 0, fmt.Errorf("no confirmed swing high in %d klines", len(klines))
}

func (s *Swing) isSwingLow(klines []*domain.Kline, i int) bool {
	for j := i - s.config.Lookback; j <= i+s.config.Lookback; j++ {
		if j == i {
			continue
		}
		if klines[j].Low <= klines[i].Low {
			return false
		}
	}
	return true
}

func (s *Swing) isSwingHigh(klines []*domain.Kline, i int) bool {
	for j := i - s.config.Lookback; j <= i+s.config.Lookback; j++ {
		if j == i {
			continue
		}
		if klines[j].High >= klines[i].High {
			return false
		}
	}
	return true
}

package sltp

import (
	"context"
	"testing"
	"time"

	"cryptoPilot/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

func testTrackerConfig() Config {
	return Config{
		EntryTolerance:     0.01,
		EMAFastPeriod:      5,
		EMASlowPeriod:      10,
		RSIPeriod:          14,
		RSIOverbought:      80.0,
		RSIOversold:        20.0,
		TrailingActivation: 0.02,
		Levels:             testLevelConfig(),
	}
}

func newTestTracker(t *testing.T) *Tracker {
	t.Helper()
	tr, err := New(testTrackerConfig(), &mockLogger{})
	require.NoError(t, err)
	return tr
}

// zigzagUp builds an overall-rising series: closes alternate +1.0 / -0.5
// around a steady uptrend so the fast EMA sits above the slow EMA while the
// RSI stays in a moderate band.
func zigzagUp(n int, start float64) []*domain.Kline {
	klines := make([]*domain.Kline, 0, n)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	price := start
	for i := 0; i < n; i++ {
		if i%2 == 0 {
			price += 1.0
		} else {
			price -= 0.5
		}
		klines = append(klines, &domain.Kline{
			OpenTime:  base.Add(time.Duration(i) * time.Minute),
			CloseTime: base.Add(time.Duration(i+1) * time.Minute),
			Symbol:    "ETHUSDT",
			Interval:  "1m",
			Open:      price - 0.2,
			High:      price + 0.5,
			Low:       price - 0.7,
			Close:     price,
			IsFinal:   true,
		})
	}
	return klines
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero entry tolerance", func(c *Config) { c.EntryTolerance = 0 }},
		{"fast EMA not below slow", func(c *Config) { c.EMAFastPeriod = 10 }},
		{"zero RSI period", func(c *Config) { c.RSIPeriod = 0 }},
		{"inverted RSI thresholds", func(c *Config) { c.RSIOverbought = 10; c.RSIOversold = 50 }},
		{"zero trailing activation", func(c *Config) { c.TrailingActivation = 0 }},
		{"bad level config", func(c *Config) { c.Levels.ATRPeriod = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testTrackerConfig()
			tt.mutate(&cfg)
			_, err := New(cfg, &mockLogger{})
			assert.Error(t, err)
		})
	}

	_, err := New(testTrackerConfig(), nil)
	assert.Error(t, err, "nil logger must be rejected")
}

func TestOnTick_PendingExpires(t *testing.T) {
	tr := newTestTracker(t)
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	pos := &domain.Position{
		ID:            1,
		Symbol:        "ETHUSDT",
		Side:          domain.Long,
		Phase:         domain.PhasePending,
		PlannedEntry:  2000,
		EntryDeadline: now.Add(-time.Minute),
	}

	res, err := tr.OnTick(context.Background(), pos, 2000, nil, now)
	require.NoError(t, err)
	assert.Equal(t, OutcomeExpired, res.Outcome)
	assert.Equal(t, domain.PhaseClosed, pos.Phase)
	assert.Equal(t, domain.CloseReasonExpired, pos.CloseReason)
	assert.False(t, pos.ExitTime.IsZero())
}

func TestOnTick_PendingRejectsPriceOutsideTolerance(t *testing.T) {
	tr := newTestTracker(t)
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	klines := zigzagUp(30, 100)
	pos := &domain.Position{
		ID:            2,
		Symbol:        "ETHUSDT",
		Side:          domain.Long,
		Phase:         domain.PhasePending,
		PlannedEntry:  100,
		EntryDeadline: now.Add(time.Hour),
	}

	// 3% away from the planned entry with a 1% tolerance.
	res, err := tr.OnTick(context.Background(), pos, 103, klines, now)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNone, res.Outcome)
	assert.Equal(t, domain.PhasePending, pos.Phase)
}

func TestOnTick_PendingEntersOnValidation(t *testing.T) {
	tr := newTestTracker(t)
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	klines := zigzagUp(30, 100)
	last := klines[len(klines)-1].Close

	pos := &domain.Position{
		ID:            3,
		Symbol:        "ETHUSDT",
		Side:          domain.Long,
		Phase:         domain.PhasePending,
		Quantity:      1,
		PlannedEntry:  last,
		EntryDeadline: now.Add(time.Hour),
	}

	res, err := tr.OnTick(context.Background(), pos, last, klines, now)
	require.NoError(t, err)
	assert.Equal(t, OutcomeEntered, res.Outcome)
	assert.Equal(t, domain.PhaseActive, pos.Phase)
	assert.Equal(t, last, pos.EntryPrice)
	assert.Equal(t, last, pos.HighWaterMark)
	assert.Greater(t, pos.StopLoss, 0.0)
	assert.Less(t, pos.StopLoss, last)
	assert.Greater(t, pos.TakeProfit, last)
}

func TestOnTick_PendingShortRejectedInUptrend(t *testing.T) {
	tr := newTestTracker(t)
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	klines := zigzagUp(30, 100)
	last := klines[len(klines)-1].Close

	pos := &domain.Position{
		ID:            4,
		Symbol:        "ETHUSDT",
		Side:          domain.Short,
		Phase:         domain.PhasePending,
		PlannedEntry:  last,
		EntryDeadline: now.Add(time.Hour),
	}

	res, err := tr.OnTick(context.Background(), pos, last, klines, now)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNone, res.Outcome, "trend filter should reject a short in an uptrend")
	assert.Equal(t, domain.PhasePending, pos.Phase)
}

func activeLong(id int64) *domain.Position {
	return &domain.Position{
		ID:            id,
		Symbol:        "ETHUSDT",
		Side:          domain.Long,
		Phase:         domain.PhaseActive,
		Quantity:      2,
		EntryPrice:    100,
		StopLoss:      95,
		TakeProfit:    110,
		HighWaterMark: 100,
		EntryTime:     time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestOnTick_ActiveStopLossTriggers(t *testing.T) {
	tr := newTestTracker(t)
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	pos := activeLong(5)

	res, err := tr.OnTick(context.Background(), pos, 94.5, flatKlines(20, 99, 101, 100), now)
	require.NoError(t, err)
	assert.Equal(t, OutcomeClosed, res.Outcome)
	assert.Equal(t, domain.CloseReasonStopLoss, res.Reason)
	assert.Equal(t, domain.PhaseClosed, pos.Phase)
	assert.InDelta(t, (94.5-100.0)*2, pos.PNL, 1e-9)
}

func TestOnTick_ActiveTakeProfitTriggers(t *testing.T) {
	tr := newTestTracker(t)
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	pos := activeLong(6)

	res, err := tr.OnTick(context.Background(), pos, 111, flatKlines(20, 99, 101, 100), now)
	require.NoError(t, err)
	assert.Equal(t, OutcomeClosed, res.Outcome)
	assert.Equal(t, domain.CloseReasonTakeProfit, res.Reason)
	assert.InDelta(t, (111.0-100.0)*2, pos.PNL, 1e-9)
}

func TestOnTick_TrailingEngagesAndCloses(t *testing.T) {
	tr := newTestTracker(t)
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	pos := activeLong(7)
	klines := flatKlines(20, 99, 101, 100) // ATR exactly 2

	// 3% unrealized gain crosses the 2% activation threshold; the stop
	// ratchets to high-water (103) minus 1*ATR (2) = 101.
	res, err := tr.OnTick(context.Background(), pos, 103, klines, now)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAdjusted, res.Outcome)
	assert.True(t, pos.TrailingActive)
	assert.InDelta(t, 101.0, pos.TrailingStopPrice, 1e-9)
	assert.InDelta(t, 103.0, pos.HighWaterMark, 1e-9)

	// Price falls through the trailing stop.
	res, err = tr.OnTick(context.Background(), pos, 100.5, klines, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, OutcomeClosed, res.Outcome)
	assert.Equal(t, domain.CloseReasonTrailingStop, res.Reason)
	assert.InDelta(t, (100.5-100.0)*2, pos.PNL, 1e-9)
}

func TestOnTick_TrailingStopNeverLoosens(t *testing.T) {
	tr := newTestTracker(t)
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	pos := activeLong(8)
	klines := flatKlines(20, 99, 101, 100)

	_, err := tr.OnTick(context.Background(), pos, 105, klines, now)
	require.NoError(t, err)
	require.True(t, pos.TrailingActive)
	stopAfterRally := pos.TrailingStopPrice

	// A pullback that stays above the stop must not move it down.
	_, err = tr.OnTick(context.Background(), pos, 103.5, klines, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, stopAfterRally, pos.TrailingStopPrice)
}

func TestOnTick_ClosedPositionIsInert(t *testing.T) {
	tr := newTestTracker(t)
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	pos := activeLong(9)
	pos.Phase = domain.PhaseClosed

	res, err := tr.OnTick(context.Background(), pos, 50, nil, now)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNone, res.Outcome)
}

func TestOnTick_RejectsBadPrice(t *testing.T) {
	tr := newTestTracker(t)
	_, err := tr.OnTick(context.Background(), activeLong(10), 0, nil, time.Now())
	assert.Error(t, err)
}

func TestClose_Manual(t *testing.T) {
	tr := newTestTracker(t)
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	pos := activeLong(11)
	err := tr.Close(context.Background(), pos, 102, domain.CloseReasonManual, now)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseClosed, pos.Phase)
	assert.Equal(t, domain.CloseReasonManual, pos.CloseReason)
	assert.InDelta(t, (102.0-100.0)*2, pos.PNL, 1e-9)

	err = tr.Close(context.Background(), pos, 102, domain.CloseReasonManual, now)
	assert.Error(t, err, "closing twice must fail")
}

func TestClose_PendingDiscardsWithoutPNL(t *testing.T) {
	tr := newTestTracker(t)
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	pos := &domain.Position{
		ID:           12,
		Symbol:       "ETHUSDT",
		Side:         domain.Long,
		Phase:        domain.PhasePending,
		PlannedEntry: 100,
	}
	err := tr.Close(context.Background(), pos, 100, domain.CloseReasonManual, now)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseClosed, pos.Phase)
	assert.Zero(t, pos.PNL)
}

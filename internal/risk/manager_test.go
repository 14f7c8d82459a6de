package risk

import (
	"context"
	"testing"
	"time"

	"cryptoPilot/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRiskConfig() RiskConfig {
	return RiskConfig{
		MaxPositionSize:     1.0,
		MaxLeverage:         5,
		MaxDrawdown:         0.1,
		MaxDailyLoss:        0.05,
		MaxOpenPositions:    3,
		PositionSizePercent: 0.1,
		StopLossPercent:     0.02,
		TakeProfitPercent:   0.04,
	}
}

func TestRiskManager_ValidatePosition(t *testing.T) {
	manager := NewRiskManager(testRiskConfig())

	position := &domain.Position{
		Symbol:     "BTCUSDT",
		Side:       domain.Long,
		Phase:      domain.PhaseActive,
		EntryPrice: 50000,
		Quantity:   0.5,
		Leverage:   3,
	}

	assert.NoError(t, manager.ValidatePosition(context.Background(), position, 100000))

	// Position size limit
	position.Quantity = 2.0
	assert.Error(t, manager.ValidatePosition(context.Background(), position, 100000))

	// Leverage limit
	position.Quantity = 0.5
	position.Leverage = 10
	assert.Error(t, manager.ValidatePosition(context.Background(), position, 100000))

	// A pending position is sized against its planned entry price
	pending := &domain.Position{
		Symbol:       "BTCUSDT",
		Side:         domain.Long,
		Phase:        domain.PhasePending,
		PlannedEntry: 50000,
		Quantity:     0.5,
		Leverage:     3,
	}
	assert.NoError(t, manager.ValidatePosition(context.Background(), pending, 100000))
}

func TestRiskManager_ValidateBot(t *testing.T) {
	manager := NewRiskManager(testRiskConfig())

	valid := domain.Bot{
		Symbol:             "ETHUSDT",
		Quantity:           0.5,
		Leverage:           3,
		StopLossPercent:    0.02,
		TakeProfitPercent:  0.04,
		TrailingActivation: 0.015,
		ATRMultiplier:      1.5,
		MaxDailyTrades:     10,
	}
	require.NoError(t, manager.ValidateBot(&valid))

	tests := []struct {
		name   string
		mutate func(*domain.Bot)
	}{
		{"zero quantity", func(b *domain.Bot) { b.Quantity = 0 }},
		{"oversized quantity", func(b *domain.Bot) { b.Quantity = 2.0 }},
		{"excess leverage", func(b *domain.Bot) { b.Leverage = 10 }},
		{"zero leverage", func(b *domain.Bot) { b.Leverage = 0 }},
		{"stop loss out of range", func(b *domain.Bot) { b.StopLossPercent = 1.5 }},
		{"zero take profit", func(b *domain.Bot) { b.TakeProfitPercent = 0 }},
		{"zero trailing activation", func(b *domain.Bot) { b.TrailingActivation = 0 }},
		{"zero ATR multiplier", func(b *domain.Bot) { b.ATRMultiplier = 0 }},
		{"excess daily trades", func(b *domain.Bot) { b.MaxDailyTrades = 1000 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bot := valid
			tt.mutate(&bot)
			assert.Error(t, manager.ValidateBot(&bot))
		})
	}
}

func TestRiskManager_Levels(t *testing.T) {
	manager := NewRiskManager(testRiskConfig())

	size := manager.GetPositionSize(context.Background(), 100000, 50000)
	assert.InDelta(t, 100000*0.1/50000, size, 1e-9)

	assert.InDelta(t, 50000*(1-0.02), manager.GetStopLoss(context.Background(), 50000, domain.Long), 1e-9)
	assert.InDelta(t, 50000*(1+0.02), manager.GetStopLoss(context.Background(), 50000, domain.Short), 1e-9)
	assert.InDelta(t, 50000*(1+0.04), manager.GetTakeProfit(context.Background(), 50000, domain.Long), 1e-9)
	assert.InDelta(t, 50000*(1-0.04), manager.GetTakeProfit(context.Background(), 50000, domain.Short), 1e-9)
}

func TestRiskManager_Stats(t *testing.T) {
	manager := NewRiskManager(testRiskConfig())

	opened := &domain.Position{
		Symbol:     "BTCUSDT",
		Side:       domain.Long,
		Phase:      domain.PhaseActive,
		EntryPrice: 50000,
		Quantity:   0.1,
		Leverage:   2,
	}
	manager.RecordOpen(context.Background(), opened)

	stats := manager.GetStats()
	assert.Equal(t, 1, stats.OpenPositions)
	assert.InDelta(t, 10000.0, stats.TotalExposure, 1e-9)
	assert.Equal(t, 1, stats.DailyTrades)

	trade := &domain.Trade{
		PositionID:  1,
		Symbol:      "BTCUSDT",
		Side:        domain.Long,
		EntryPrice:  50000,
		ExitPrice:   49000,
		Quantity:    0.1,
		Leverage:    2,
		PNL:         -200,
		EntryTime:   time.Now().Add(-1 * time.Hour),
		ExitTime:    time.Now(),
		CloseReason: domain.CloseReasonStopLoss,
	}
	manager.RecordClose(context.Background(), trade, 100000)

	assert.InDelta(t, -200.0, stats.DailyPnL, 1e-9)
	assert.InDelta(t, 0.002, stats.CurrentDrawdown, 1e-9)
	assert.Equal(t, 0, stats.OpenPositions)
	assert.InDelta(t, 0.0, stats.TotalExposure, 1e-9)
}

func TestRiskManager_CheckRiskLimits(t *testing.T) {
	manager := NewRiskManager(testRiskConfig())

	assert.NoError(t, manager.CheckRiskLimits(context.Background(), 100000))

	// Daily loss limit
	manager.stats.DailyPnL = -6000
	assert.Error(t, manager.CheckRiskLimits(context.Background(), 100000))

	// Drawdown limit
	manager.stats.DailyPnL = 0
	manager.stats.CurrentDrawdown = 0.15
	assert.Error(t, manager.CheckRiskLimits(context.Background(), 100000))

	// Daily trades limit
	manager.stats.CurrentDrawdown = 0
	manager.stats.DailyTrades = 101
	assert.Error(t, manager.CheckRiskLimits(context.Background(), 100000))
}

func TestRiskManager_ResetDailyStats(t *testing.T) {
	manager := NewRiskManager(testRiskConfig())

	manager.stats.DailyPnL = 1000
	manager.stats.DailyTrades = 50

	manager.ResetDailyStats(context.Background())

	stats := manager.GetStats()
	assert.Zero(t, stats.DailyPnL)
	assert.Zero(t, stats.DailyTrades)
	assert.NotZero(t, stats.LastResetTime)
}

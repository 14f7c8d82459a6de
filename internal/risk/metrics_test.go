package risk

import (
	"testing"
	"time"

	"cryptoPilot/internal/domain"

	"github.com/stretchr/testify/assert"
)

func closedTrade(pnl float64, entry, exit time.Time) *domain.Trade {
	return &domain.Trade{
		Symbol:    "ETHUSDT",
		Side:      domain.Long,
		PNL:       pnl,
		EntryTime: entry,
		ExitTime:  exit,
	}
}

func TestComputeMetrics_Empty(t *testing.T) {
	m := ComputeMetrics(nil, 10000)
	assert.Equal(t, 0, m.TotalTrades)
	assert.Equal(t, 10000.0, m.FinalBalance)
	assert.Zero(t, m.MaxDrawdown)
}

func TestComputeMetrics_BasicFigures(t *testing.T) {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	trades := []*domain.Trade{
		closedTrade(1000, base, base.Add(2*time.Hour)),
		closedTrade(-500, base.Add(3*time.Hour), base.Add(4*time.Hour)),
		closedTrade(-500, base.Add(5*time.Hour), base.Add(6*time.Hour)),
		closedTrade(2000, base.Add(7*time.Hour), base.Add(9*time.Hour)),
	}

	m := ComputeMetrics(trades, 10000)

	assert.Equal(t, 4, m.TotalTrades)
	assert.Equal(t, 2, m.WinningTrades)
	assert.Equal(t, 2, m.LosingTrades)
	assert.InDelta(t, 0.5, m.WinRate, 1e-9)
	assert.InDelta(t, 2000.0, m.TotalProfit, 1e-9)
	assert.InDelta(t, 12000.0, m.FinalBalance, 1e-9)
	assert.InDelta(t, 0.2, m.ROI, 1e-9)
	assert.InDelta(t, 1500.0, m.AverageWin, 1e-9)
	assert.InDelta(t, -500.0, m.AverageLoss, 1e-9)
	assert.InDelta(t, 3.0, m.ProfitFactor, 1e-9) // 3000 gross profit / 1000 gross loss
	assert.InDelta(t, 500.0, m.Expectancy, 1e-9)
	assert.Equal(t, 1, m.MaxConsecutiveWins)
	assert.Equal(t, 2, m.MaxConsecutiveLosses)
	assert.Equal(t, 90*time.Minute, m.AverageTradeDuration)
	assert.Len(t, m.EquityCurve, 4)
}

func TestComputeMetrics_Drawdown(t *testing.T) {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	trades := []*domain.Trade{
		closedTrade(1000, base, base.Add(1*time.Hour)),  // balance 11000, peak 11000
		closedTrade(-2200, base.Add(2*time.Hour), base.Add(3*time.Hour)), // balance 8800
		closedTrade(500, base.Add(4*time.Hour), base.Add(5*time.Hour)),
	}

	m := ComputeMetrics(trades, 10000)
	assert.InDelta(t, 0.2, m.MaxDrawdown, 1e-9) // (11000-8800)/11000
}

func TestComputeMetrics_SortsOutOfOrderTrades(t *testing.T) {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	trades := []*domain.Trade{
		closedTrade(500, base.Add(4*time.Hour), base.Add(5*time.Hour)),
		closedTrade(-1000, base, base.Add(1*time.Hour)),
	}

	m := ComputeMetrics(trades, 10000)
	// The losing trade comes first in exit order, so drawdown is 10%.
	assert.InDelta(t, 0.1, m.MaxDrawdown, 1e-9)
	assert.InDelta(t, 9500.0, m.FinalBalance, 1e-9)
}

func TestComputeMetrics_SharpeSignFollowsEdge(t *testing.T) {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	winning := []*domain.Trade{
		closedTrade(100, base, base.Add(time.Hour)),
		closedTrade(300, base.Add(2*time.Hour), base.Add(3*time.Hour)),
		closedTrade(200, base.Add(4*time.Hour), base.Add(5*time.Hour)),
	}
	assert.Greater(t, ComputeMetrics(winning, 10000).SharpeRatio, 0.0)

	losing := []*domain.Trade{
		closedTrade(-100, base, base.Add(time.Hour)),
		closedTrade(-300, base.Add(2*time.Hour), base.Add(3*time.Hour)),
	}
	assert.Less(t, ComputeMetrics(losing, 10000).SharpeRatio, 0.0)
}

package risk

import (
	"math"
	"sort"
	"time"

	"cryptoPilot/internal/domain"
)

// Metrics holds the risk and performance figures computed over a set of
// closed trades. Served by the reporting endpoints and the export tool.
type Metrics struct {
	TotalTrades   int
	WinningTrades int
	LosingTrades  int
	WinRate       float64
	TotalProfit   float64
	AverageWin    float64
	AverageLoss   float64
	ProfitFactor  float64 // Gross profit / gross loss
	Expectancy    float64 // Expected PNL per trade
	SharpeRatio   float64 // Mean per-trade return over its standard deviation
	MaxDrawdown   float64 // Deepest peak-to-trough equity decline, as a fraction
	FinalBalance  float64
	ROI           float64

	MaxConsecutiveWins   int
	MaxConsecutiveLosses int
	AverageTradeDuration time.Duration
	EquityCurve          []EquityPoint
}

// EquityPoint is a point on the equity curve, recorded at each trade exit.
type EquityPoint struct {
	Time     time.Time
	Balance  float64
	Drawdown float64 // Decline from the running peak, as a fraction
}

// ComputeMetrics walks the closed trades in exit order and derives the full
// metric set relative to an initial balance.
func ComputeMetrics(trades []*domain.Trade, initialBalance float64) *Metrics {
	m := &Metrics{FinalBalance: initialBalance}
	if len(trades) == 0 || initialBalance <= 0 {
		return m
	}

	sorted := make([]*domain.Trade, len(trades))
	copy(sorted, trades)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].ExitTime.Before(sorted[j].ExitTime)
	})

	var (
		balance        = initialBalance
		peak           = initialBalance
		grossProfit    float64
		grossLoss      float64
		streakWins     int
		streakLosses   int
		totalDuration  time.Duration
		returns        = make([]float64, 0, len(sorted))
		sumWin, sumLos float64
	)

	for _, trade := range sorted {
		m.TotalTrades++
		if trade.PNL > 0 {
			m.WinningTrades++
			streakWins++
			streakLosses = 0
			grossProfit += trade.PNL
			sumWin += trade.PNL
		} else {
			m.LosingTrades++
			streakLosses++
			streakWins = 0
			grossLoss -= trade.PNL
			sumLos += trade.PNL
		}
		if streakWins > m.MaxConsecutiveWins {
			m.MaxConsecutiveWins = streakWins
		}
		if streakLosses > m.MaxConsecutiveLosses {
			m.MaxConsecutiveLosses = streakLosses
		}

		returns = append(returns, trade.PNL/balance)
		balance += trade.PNL
		m.TotalProfit += trade.PNL
		totalDuration += trade.ExitTime.Sub(trade.EntryTime)

		if balance > peak {
			peak = balance
		}
		dd := (peak - balance) / peak
		if dd > m.MaxDrawdown {
			m.MaxDrawdown = dd
		}
		m.EquityCurve = append(m.EquityCurve, EquityPoint{
			Time:     trade.ExitTime,
			Balance:  balance,
			Drawdown: dd,
		})
	}

	m.FinalBalance = balance
	m.WinRate = float64(m.WinningTrades) / float64(m.TotalTrades)
	m.ROI = (balance - initialBalance) / initialBalance
	m.AverageTradeDuration = totalDuration / time.Duration(m.TotalTrades)
	if m.WinningTrades > 0 {
		m.AverageWin = sumWin / float64(m.WinningTrades)
	}
	if m.LosingTrades > 0 {
		m.AverageLoss = sumLos / float64(m.LosingTrades)
	}
	if grossLoss > 0 {
		m.ProfitFactor = grossProfit / grossLoss
	}
	m.Expectancy = m.WinRate*m.AverageWin + (1-m.WinRate)*m.AverageLoss
	m.SharpeRatio = sharpe(returns)

	return m
}

// sharpe computes the mean/stddev ratio of per-trade returns.
// Returns 0 when there is no variance to normalize by.
func sharpe(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	var sum float64
	for _, r := range returns {
		sum += r
	}
	mean := sum / float64(len(returns))

	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns) - 1)
	if variance == 0 {
		return 0
	}
	return mean / math.Sqrt(variance)
}

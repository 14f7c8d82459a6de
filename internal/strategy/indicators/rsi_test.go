package indicators

import (
	"context"
	"testing"

	"cryptoPilot/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRSI(period int) *RSI {
	return NewRSI(RSIConfig{
		IndicatorConfig: IndicatorConfig{Period: period},
		Overbought:      70,
		Oversold:        30,
	})
}

func TestRSI_MixedSeries(t *testing.T) {
	rsi := newTestRSI(3)

	// Alternating +2/-1 changes, Wilder-smoothed over the tail.
	klines := klinesFromCloses([]float64{100, 102, 101, 103, 102, 104})

	value, err := rsi.Calculate(context.Background(), klines)
	require.NoError(t, err)
	assert.InDelta(t, 77.2727, value, 0.001)
}

func TestRSI_OnlyGainsPinsToHundred(t *testing.T) {
	rsi := newTestRSI(3)

	value, err := rsi.Calculate(context.Background(), klinesFromCloses([]float64{100, 101, 103, 104, 106}))
	require.NoError(t, err)
	assert.Equal(t, 100.0, value)
	assert.True(t, rsi.IsOverbought(value))
}

func TestRSI_OnlyLossesPinsToZero(t *testing.T) {
	rsi := newTestRSI(3)

	value, err := rsi.Calculate(context.Background(), klinesFromCloses([]float64{106, 104, 103, 101, 100}))
	require.NoError(t, err)
	assert.Equal(t, 0.0, value)
	assert.True(t, rsi.IsOversold(value))
}

func TestRSI_FlatSeriesIsNeutral(t *testing.T) {
	rsi := newTestRSI(3)

	value, err := rsi.Calculate(context.Background(), klinesFromCloses([]float64{100, 100, 100, 100, 100}))
	require.NoError(t, err)
	assert.Equal(t, 50.0, value)
	assert.False(t, rsi.IsOverbought(value))
	assert.False(t, rsi.IsOversold(value))
}

func TestRSI_Thresholds(t *testing.T) {
	rsi := newTestRSI(14)

	assert.True(t, rsi.IsOverbought(70))
	assert.False(t, rsi.IsOverbought(69.9))
	assert.True(t, rsi.IsOversold(30))
	assert.False(t, rsi.IsOversold(30.1))
}

func TestRSI_NotEnoughData(t *testing.T) {
	rsi := newTestRSI(14)

	var klines []*domain.Kline
	_, err := rsi.Calculate(context.Background(), klines)
	assert.Error(t, err)

	_, err = rsi.Calculate(context.Background(), klinesFromCloses(make([]float64, 14)))
	assert.Error(t, err)
}

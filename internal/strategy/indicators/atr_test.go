package indicators

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestATR_Calculate(t *testing.T) {
	atr := NewATR(ATRConfig{IndicatorConfig{Period: 3}})

	// Constant 4-point ranges with closes inside each range: every true
	// range is 4, so seeding and smoothing both land on 4.
	klines := makeKlines([][2]float64{
		{104, 100}, {105, 101}, {106, 102}, {105, 101}, {104, 100},
	})

	value, err := atr.Calculate(context.Background(), klines)
	require.NoError(t, err)
	assert.InDelta(t, 4.0, value, 1e-9)
}

func TestATR_GapExtendsTrueRange(t *testing.T) {
	atr := NewATR(ATRConfig{IndicatorConfig{Period: 2}})

	// The last candle gaps well below the prior close of 101: its true
	// range runs from that close down to the low, not just high-low.
	klines := makeKlines([][2]float64{
		{103, 99}, {103, 99}, {90, 86},
	})

	// Seed avg(4, 4) = 4, then fold TR = 101 - 86 = 15 at period 2.
	value, err := atr.Calculate(context.Background(), klines)
	require.NoError(t, err)
	assert.InDelta(t, 9.5, value, 1e-9)
}

func TestATR_NotEnoughData(t *testing.T) {
	atr := NewATR(ATRConfig{IndicatorConfig{Period: 14}})
	assert.Equal(t, 15, atr.RequiredDataPoints())

	_, err := atr.Calculate(context.Background(), makeKlines([][2]float64{{104, 100}}))
	assert.Error(t, err)
}

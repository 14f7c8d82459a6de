package domain

import "time"

// Kline is one candlestick of market data for a symbol at a fixed interval.
// Indicator values and the tracker's level refreshes are computed over
// slices of these, newest last.
type Kline struct {
	OpenTime  time.Time
	CloseTime time.Time
	Symbol    string
	Interval  string // e.g. "1m", "1h"
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	IsFinal   bool // closed candle, values are no longer updating
}

// Range returns the high-low spread of the candle.
func (k *Kline) Range() float64 { return k.High - k.Low }

package market

import "time"

// Candle represents OHLC (Open, High, Low, Close) candlestick data
type Candle struct {
	Open   float64
	High   float64
	Low    float64
	Close  float64
	time.Time
	Volume    float64
	TickCount int
}

// Mid returns the midpoint between high and low.
func (c Candle) Mid() float64 {
	return (c.High + c.Low) / 2
}

// Range returns high - low.
func (c Candle) Range() float64 {
	return c.High - c.Low
}

// TypicalPrice returns (high + low + close) / 3.
func (c Candle) TypicalPrice() float64 {
	return (c.High + c.Low + c.Close) / 3
}

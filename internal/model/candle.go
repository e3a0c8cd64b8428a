package model

import (
	"encoding/json"
	"time"
)

// Candle represents one OHLC bucket for a (symbol, timeframe) pair.
// Exactly one non-closed candle exists per pair at any time; it is mutated
// in place by every tick inside its bucket and frozen on boundary crossing.
type Candle struct {
	Symbol string        `json:"symbol"`
	TF     time.Duration `json:"tf"`     // timeframe duration
	TS     time.Time     `json:"ts"`     // bucket start (UTC, TF-aligned)
	Open   float64       `json:"open"`
	High   float64       `json:"high"`
	Low    float64       `json:"low"`
	Close  float64       `json:"close"`
	Volume float64       `json:"volume"`
	Closed bool          `json:"closed"`
}

// Bullish reports whether the candle closed (or is forming) above its open.
func (c *Candle) Bullish() bool { return c.Close > c.Open }

// Bearish reports whether the candle closed (or is forming) below its open.
func (c *Candle) Bearish() bool { return c.Close < c.Open }

// Body returns the absolute open-to-close distance.
func (c *Candle) Body() float64 {
	b := c.Close - c.Open
	if b < 0 {
		return -b
	}
	return b
}

// UpperWick returns the length of the upper shadow.
func (c *Candle) UpperWick() float64 {
	if c.Bullish() {
		return c.High - c.Close
	}
	return c.High - c.Open
}

// LowerWick returns the length of the lower shadow.
func (c *Candle) LowerWick() float64 {
	if c.Bullish() {
		return c.Open - c.Low
	}
	return c.Close - c.Low
}

// Range returns high minus low.
func (c *Candle) Range() float64 { return c.High - c.Low }

// JSON returns the JSON-encoded candle (ignoring errors for hot-path usage).
func (c *Candle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}

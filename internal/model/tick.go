package model

import "time"

// Tick represents a single trade-price update for one instrument.
// Prices are float64: USDT-M futures symbols quote at arbitrary precision
// and every downstream consumer works in fractional percentages anyway.
type Tick struct {
	Symbol string    `json:"symbol"`
	Price  float64   `json:"price"`
	Qty    float64   `json:"qty"`
	TS     time.Time `json:"ts"` // exchange event time, UTC
}

// UnixMs returns the tick timestamp in epoch milliseconds.
func (t *Tick) UnixMs() int64 {
	return t.TS.UnixMilli()
}

// Valid reports whether the tick carries a usable price. Zero, negative or
// NaN prices are rejected at ingress so they never reach the detector.
func (t *Tick) Valid() bool {
	return t.Price > 0 && t.Price == t.Price && !t.TS.IsZero()
}

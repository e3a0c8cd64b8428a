package model

import (
	"fmt"
	"time"
)

// SpikeType classifies the shape of a detected pin.
type SpikeType string

const (
	SpikeUpPin   SpikeType = "UP_PIN"   // fast rise expected to revert down
	SpikeDownPin SpikeType = "DOWN_PIN" // fast fall expected to revert up
)

// SpikeDirection is the trade direction implied by a spike: inverted from
// the raw move, since the strategy fades the pin.
type SpikeDirection string

const (
	DirectionUp   SpikeDirection = "UP"   // go long (after a down pin)
	DirectionDown SpikeDirection = "DOWN" // go short (after an up pin)
)

// SpikeSignal is an immutable detection result. It is consumed exactly once
// by the hedge manager, or discarded if the symbol already has a position.
type SpikeSignal struct {
	Symbol    string         `json:"symbol"`
	Type      SpikeType      `json:"type"`
	Direction SpikeDirection `json:"direction"`

	EntryPrice   float64 `json:"entry_price"`   // price at detection
	ExtremePrice float64 `json:"extreme_price"` // spike peak (up) or trough (down)
	StartPrice   float64 `json:"start_price"`   // open of the oldest bar in the lookback

	Confidence int `json:"confidence"` // 0..100

	ATRValue         float64 `json:"atr_value"`
	SpikeThreshold   float64 `json:"spike_threshold"`   // fractional, vs velocity
	RetraceThreshold float64 `json:"retrace_threshold"` // fractional, drives hedge target

	Velocity         float64 `json:"velocity"` // signed fractional move over the window
	ShadowRatio      float64 `json:"shadow_ratio"`
	HasLongShadow    bool    `json:"has_long_shadow"`
	HasColorReversal bool    `json:"has_color_reversal"`
	HasFalseBreakout bool    `json:"has_false_breakout"`

	DetectedAt time.Time `json:"detected_at"`
}

// ID returns a stable identifier for the signal, used as the position's
// correlation ID in the event stream.
func (s *SpikeSignal) ID() string {
	return fmt.Sprintf("%s-%d", s.Symbol, s.DetectedAt.UnixNano())
}

// FirstLegSide returns the side of the first (counter-spike) leg.
func (s *SpikeSignal) FirstLegSide() Side {
	if s.Direction == DirectionDown {
		return SideShort
	}
	return SideLong
}

// SecondLegSide returns the side of the hedge leg, opposite the first.
func (s *SpikeSignal) SecondLegSide() Side {
	if s.Direction == DirectionDown {
		return SideLong
	}
	return SideShort
}

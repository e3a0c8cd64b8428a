package model

import (
	"encoding/json"
	"time"
)

// Event names emitted by the hedge pipeline. Together they reconstruct the
// full trade timeline without re-deriving it from raw ticks.
const (
	EventSignalDetected = "signal_detected"
	EventOrderFilled    = "order_filled"
	EventPositionOpened = "position_opened"
	EventHedgeOpened    = "hedge_opened"
	EventFirstLegClosed = "first_leg_closed"
	EventHedgeClosed    = "hedge_closed"
	EventPositionClosed = "position_closed"
	EventStuckPosition  = "stuck_position"
)

// TradeEvent is one state-transition record. Fields carries the prices,
// quantities, PnL and reason codes specific to the event.
type TradeEvent struct {
	Symbol        string         `json:"symbol"`
	Event         string         `json:"event"`
	TS            time.Time      `json:"ts"`
	CorrelationID string         `json:"correlation_id"`
	Fields        map[string]any `json:"fields,omitempty"`
}

// StreamKey returns the Redis stream key for this event's symbol.
func (e *TradeEvent) StreamKey() string {
	return "hedge:events:" + e.Symbol
}

// JSON returns the JSON-encoded event (ignoring errors for hot-path usage).
func (e *TradeEvent) JSON() []byte {
	b, _ := json.Marshal(e)
	return b
}

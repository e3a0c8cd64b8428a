package exchange

import (
	"context"
	"time"

	"pinhedge/internal/model"
)

// TimedGateway wraps a Gateway and reports the round-trip latency of every
// order placement. Failed placements are observed too, since a slow failure
// stalls the state machine just like a slow fill.
type TimedGateway struct {
	Gateway
	observe func(time.Duration)
}

func NewTimed(gw Gateway, observe func(time.Duration)) *TimedGateway {
	return &TimedGateway{Gateway: gw, observe: observe}
}

func (t *TimedGateway) PlaceMarketOrder(ctx context.Context, symbol, side string, positionSide model.Side, qty float64) (*model.Order, error) {
	start := time.Now()
	order, err := t.Gateway.PlaceMarketOrder(ctx, symbol, side, positionSide, qty)
	if t.observe != nil {
		t.observe(time.Since(start))
	}
	return order, err
}

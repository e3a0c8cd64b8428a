// Package exchange provides the order/quote gateway the hedge manager talks
// to. The live implementation targets Binance USDT-M futures; a paper
// implementation backs replay and simulation runs.
package exchange

import (
	"context"
	"errors"

	"pinhedge/internal/model"
)

// ErrOrderRejected is returned when the exchange refuses an order outright.
var ErrOrderRejected = errors.New("exchange: order rejected")

// Gateway is the minimal surface the hedge state machine requires.
type Gateway interface {
	// PlaceMarketOrder submits a market order. The returned order may still
	// be pending; use GetOrder to confirm the fill.
	PlaceMarketOrder(ctx context.Context, symbol, side string, positionSide model.Side, qty float64) (*model.Order, error)

	// GetOrder fetches the current state of an order.
	GetOrder(ctx context.Context, symbol, orderID string) (*model.Order, error)

	// CancelAllOrders cancels every open order for the symbol.
	CancelAllOrders(ctx context.Context, symbol string) error

	// GetTickerPrice returns the last traded price for the symbol.
	GetTickerPrice(ctx context.Context, symbol string) (float64, error)
}

// LeverageSetter is implemented by gateways that need leverage configured
// per symbol before the first order.
type LeverageSetter interface {
	SetLeverage(ctx context.Context, symbol string, leverage int) error
}

// QuantityRounder is implemented by gateways that know the symbol's lot
// step. Quantity computed from notional is rounded down to the step so the
// exchange never rejects on precision.
type QuantityRounder interface {
	RoundQuantity(symbol string, qty float64) float64
}

// CalcQuantity converts a notional position size into a base-asset quantity
// at the given price, applying leverage, and rounds via g when supported.
func CalcQuantity(g Gateway, symbol string, notionalUSDT float64, price float64, leverage int) float64 {
	if price <= 0 {
		return 0
	}
	qty := notionalUSDT * float64(leverage) / price
	if r, ok := g.(QuantityRounder); ok {
		qty = r.RoundQuantity(symbol, qty)
	}
	return qty
}

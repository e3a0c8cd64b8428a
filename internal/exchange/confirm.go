package exchange

import (
	"context"
	"log"
	"time"

	"pinhedge/internal/model"
)

// ConfirmConfig bounds the fill-confirmation poll loop.
type ConfirmConfig struct {
	Attempts int           // max GetOrder polls
	Interval time.Duration // gap between polls
	Deadline time.Duration // overall budget for the whole confirmation
}

// DefaultConfirm is tuned for market orders, which normally fill within one
// round trip.
var DefaultConfirm = ConfirmConfig{
	Attempts: 5,
	Interval: 100 * time.Millisecond,
	Deadline: 3 * time.Second,
}

// ConfirmFill polls until the order reaches a terminal status or the budget
// runs out, and returns the price the state machine should proceed with.
//
// The state machine must never stall for want of a fill price: if polling is
// exhausted with the order still pending, the current ticker price is used
// as the best available estimate. A terminal non-FILLED status returns
// ErrOrderRejected.
func ConfirmFill(ctx context.Context, g Gateway, order *model.Order, cfg ConfirmConfig) (float64, error) {
	if order.Status == model.OrderFilled && order.AvgPrice > 0 {
		return order.AvgPrice, nil
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.Deadline)
	defer cancel()

	for attempt := 0; attempt < cfg.Attempts; attempt++ {
		updated, err := g.GetOrder(ctx, order.Symbol, order.OrderID)
		if err == nil {
			switch {
			case updated.Status == model.OrderFilled:
				if updated.AvgPrice > 0 {
					return updated.AvgPrice, nil
				}
				return fallbackPrice(ctx, g, order)
			case updated.Status.Terminal():
				// CANCELED / REJECTED / EXPIRED: the order will never fill.
				return 0, ErrOrderRejected
			}
		} else {
			log.Printf("[exchange] confirm poll %s %s: %v", order.Symbol, order.OrderID, err)
		}

		select {
		case <-ctx.Done():
			return fallbackPrice(context.Background(), g, order)
		case <-time.After(cfg.Interval):
		}
	}

	return fallbackPrice(context.Background(), g, order)
}

// fallbackPrice resolves the best available price when confirmation never
// arrived: the partial fill average if any, else the live ticker.
func fallbackPrice(ctx context.Context, g Gateway, order *model.Order) (float64, error) {
	if order.AvgPrice > 0 {
		return order.AvgPrice, nil
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	price, err := g.GetTickerPrice(ctx, order.Symbol)
	if err != nil {
		return 0, err
	}
	log.Printf("[exchange] %s order %s unconfirmed, using ticker price %.8f",
		order.Symbol, order.OrderID, price)
	return price, nil
}

package model

import "time"

// Side is a position side on a dual-side futures account.
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// OrderSide maps a position side and open/close intent to the wire order side.
func (s Side) OrderSide(closing bool) string {
	long := s == SideLong
	if closing {
		long = !long
	}
	if long {
		return "BUY"
	}
	return "SELL"
}

// OrderStatus is the lifecycle status reported by the exchange.
type OrderStatus string

const (
	OrderNew      OrderStatus = "NEW"
	OrderFilled   OrderStatus = "FILLED"
	OrderRejected OrderStatus = "REJECTED"
	OrderCanceled OrderStatus = "CANCELED"
	OrderExpired  OrderStatus = "EXPIRED"
)

// Terminal reports whether the status will never change again.
func (s OrderStatus) Terminal() bool {
	return s == OrderFilled || s == OrderRejected || s == OrderCanceled || s == OrderExpired
}

// Order is the gateway's view of a market order.
type Order struct {
	OrderID      string      `json:"order_id"`
	ClientID     string      `json:"client_id"`
	Symbol       string      `json:"symbol"`
	Side         string      `json:"side"`          // BUY or SELL
	PositionSide Side        `json:"position_side"` // LONG or SHORT
	Qty          float64     `json:"qty"`
	ExecutedQty  float64     `json:"executed_qty"`
	AvgPrice     float64     `json:"avg_price"`
	Status       OrderStatus `json:"status"`
	CreatedAt    time.Time   `json:"created_at"`
}

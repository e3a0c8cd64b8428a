package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"

	"pinhedge/internal/model"
)

// Paper simulates order execution without broker calls. Fills are immediate
// at the last known price plus configurable slippage. Used by replay runs
// and tests.
type Paper struct {
	mu     sync.Mutex
	prices map[string]float64
	orders map[string]*model.Order
	fills  []model.Order
	seq    int64

	// SlippageBps is simulated slippage in basis points (5 = 0.05%).
	SlippageBps float64

	// RejectNext forces the next placement to be rejected (test hook).
	RejectNext bool
}

// NewPaper creates a paper gateway.
func NewPaper(slippageBps float64) *Paper {
	return &Paper{
		prices:      make(map[string]float64),
		orders:      make(map[string]*model.Order),
		SlippageBps: slippageBps,
	}
}

// SetPrice updates the simulated market price for a symbol.
func (p *Paper) SetPrice(symbol string, price float64) {
	p.mu.Lock()
	p.prices[symbol] = price
	p.mu.Unlock()
}

// Fills returns a snapshot of all filled orders.
func (p *Paper) Fills() []model.Order {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]model.Order, len(p.fills))
	copy(out, p.fills)
	return out
}

func (p *Paper) PlaceMarketOrder(ctx context.Context, symbol, side string, positionSide model.Side, qty float64) (*model.Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.RejectNext {
		p.RejectNext = false
		return nil, fmt.Errorf("%w: paper reject", ErrOrderRejected)
	}

	price, ok := p.prices[symbol]
	if !ok || price <= 0 {
		return nil, fmt.Errorf("paper: no price for %s", symbol)
	}

	slip := price * p.SlippageBps / 10000
	fill := price
	if side == "BUY" {
		fill += slip
	} else {
		fill -= slip
	}

	p.seq++
	o := &model.Order{
		OrderID:      fmt.Sprintf("PAPER-%d", p.seq),
		Symbol:       symbol,
		Side:         side,
		PositionSide: positionSide,
		Qty:          qty,
		ExecutedQty:  qty,
		AvgPrice:     fill,
		Status:       model.OrderFilled,
		CreatedAt:    time.Now().UTC(),
	}
	p.orders[o.OrderID] = o
	p.fills = append(p.fills, *o)
	return o, nil
}

func (p *Paper) GetOrder(ctx context.Context, symbol, orderID string) (*model.Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("paper: unknown order %s", orderID)
	}
	cp := *o
	return &cp, nil
}

func (p *Paper) CancelAllOrders(ctx context.Context, symbol string) error {
	return nil
}

func (p *Paper) GetTickerPrice(ctx context.Context, symbol string) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	price, ok := p.prices[symbol]
	if !ok {
		return 0, fmt.Errorf("paper: no price for %s", symbol)
	}
	return price, nil
}

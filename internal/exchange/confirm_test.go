package exchange

import (
	"context"
	"errors"
	"testing"
	"time"

	"pinhedge/internal/model"
)

// pollGateway scripts GetOrder responses for confirmation tests.
type pollGateway struct {
	*Paper
	responses []*model.Order
	polls     int
}

func newPollGateway(responses ...*model.Order) *pollGateway {
	return &pollGateway{Paper: NewPaper(0), responses: responses}
}

func (g *pollGateway) GetOrder(ctx context.Context, symbol, orderID string) (*model.Order, error) {
	if g.polls < len(g.responses) {
		o := g.responses[g.polls]
		g.polls++
		return o, nil
	}
	g.polls++
	return nil, errors.New("no response scripted")
}

func fastConfirm() ConfirmConfig {
	return ConfirmConfig{Attempts: 3, Interval: time.Millisecond, Deadline: time.Second}
}

func TestConfirmFillShortCircuitsOnFilledOrder(t *testing.T) {
	order := &model.Order{Symbol: "BTCUSDT", OrderID: "1", Status: model.OrderFilled, AvgPrice: 100.5}
	price, err := ConfirmFill(context.Background(), NewPaper(0), order, fastConfirm())
	if err != nil {
		t.Fatalf("ConfirmFill: %v", err)
	}
	if price != 100.5 {
		t.Errorf("price = %v, want 100.5", price)
	}
}

func TestConfirmFillPollsUntilFilled(t *testing.T) {
	g := newPollGateway(
		&model.Order{Symbol: "BTCUSDT", OrderID: "1", Status: model.OrderNew},
		&model.Order{Symbol: "BTCUSDT", OrderID: "1", Status: model.OrderFilled, AvgPrice: 101.25},
	)
	order := &model.Order{Symbol: "BTCUSDT", OrderID: "1", Status: model.OrderNew}

	price, err := ConfirmFill(context.Background(), g, order, fastConfirm())
	if err != nil {
		t.Fatalf("ConfirmFill: %v", err)
	}
	if price != 101.25 {
		t.Errorf("price = %v, want 101.25", price)
	}
	if g.polls != 2 {
		t.Errorf("polls = %d, want 2", g.polls)
	}
}

func TestConfirmFillTerminalStatusRejects(t *testing.T) {
	g := newPollGateway(
		&model.Order{Symbol: "BTCUSDT", OrderID: "1", Status: model.OrderCanceled},
	)
	order := &model.Order{Symbol: "BTCUSDT", OrderID: "1", Status: model.OrderNew}

	if _, err := ConfirmFill(context.Background(), g, order, fastConfirm()); !errors.Is(err, ErrOrderRejected) {
		t.Fatalf("err = %v, want ErrOrderRejected", err)
	}
}

func TestConfirmFillFallsBackToTicker(t *testing.T) {
	g := newPollGateway() // every poll errors
	g.SetPrice("BTCUSDT", 99.75)
	order := &model.Order{Symbol: "BTCUSDT", OrderID: "1", Status: model.OrderNew}

	price, err := ConfirmFill(context.Background(), g, order, fastConfirm())
	if err != nil {
		t.Fatalf("ConfirmFill: %v", err)
	}
	if price != 99.75 {
		t.Errorf("price = %v, want ticker 99.75", price)
	}
}

func TestConfirmFillPrefersPartialFillAverage(t *testing.T) {
	g := newPollGateway()
	order := &model.Order{Symbol: "BTCUSDT", OrderID: "1", Status: model.OrderNew, AvgPrice: 100.2}

	price, err := ConfirmFill(context.Background(), g, order, fastConfirm())
	if err != nil {
		t.Fatalf("ConfirmFill: %v", err)
	}
	if price != 100.2 {
		t.Errorf("price = %v, want partial average 100.2", price)
	}
}

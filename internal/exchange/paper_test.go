package exchange

import (
	"context"
	"errors"
	"math"
	"testing"

	"pinhedge/internal/model"
)

func TestPaperFillsAtLastPrice(t *testing.T) {
	p := NewPaper(0)
	p.SetPrice("BTCUSDT", 65000)

	o, err := p.PlaceMarketOrder(context.Background(), "BTCUSDT", "SELL", model.SideShort, 0.005)
	if err != nil {
		t.Fatalf("PlaceMarketOrder: %v", err)
	}
	if o.Status != model.OrderFilled {
		t.Errorf("Status = %s, want FILLED", o.Status)
	}
	if o.AvgPrice != 65000 {
		t.Errorf("AvgPrice = %v, want 65000", o.AvgPrice)
	}
	if o.ExecutedQty != 0.005 {
		t.Errorf("ExecutedQty = %v, want 0.005", o.ExecutedQty)
	}

	got, err := p.GetOrder(context.Background(), "BTCUSDT", o.OrderID)
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if got.OrderID != o.OrderID {
		t.Errorf("GetOrder returned %s, want %s", got.OrderID, o.OrderID)
	}
}

func TestPaperAppliesSlippageAgainstTaker(t *testing.T) {
	p := NewPaper(10) // 0.1%
	p.SetPrice("BTCUSDT", 100)

	buy, _ := p.PlaceMarketOrder(context.Background(), "BTCUSDT", "BUY", model.SideLong, 1)
	if math.Abs(buy.AvgPrice-100.1) > 1e-9 {
		t.Errorf("BUY fill = %v, want 100.1", buy.AvgPrice)
	}
	sell, _ := p.PlaceMarketOrder(context.Background(), "BTCUSDT", "SELL", model.SideShort, 1)
	if math.Abs(sell.AvgPrice-99.9) > 1e-9 {
		t.Errorf("SELL fill = %v, want 99.9", sell.AvgPrice)
	}
}

func TestPaperRejectsWithoutPrice(t *testing.T) {
	p := NewPaper(0)
	if _, err := p.PlaceMarketOrder(context.Background(), "BTCUSDT", "BUY", model.SideLong, 1); err == nil {
		t.Fatal("expected error with no price set")
	}
}

func TestPaperRejectNextHook(t *testing.T) {
	p := NewPaper(0)
	p.SetPrice("BTCUSDT", 100)
	p.RejectNext = true

	if _, err := p.PlaceMarketOrder(context.Background(), "BTCUSDT", "BUY", model.SideLong, 1); !errors.Is(err, ErrOrderRejected) {
		t.Fatalf("err = %v, want ErrOrderRejected", err)
	}
	// One-shot: the next order goes through.
	if _, err := p.PlaceMarketOrder(context.Background(), "BTCUSDT", "BUY", model.SideLong, 1); err != nil {
		t.Fatalf("second order rejected: %v", err)
	}
	if len(p.Fills()) != 1 {
		t.Errorf("fills = %d, want 1", len(p.Fills()))
	}
}

func TestCalcQuantityAppliesLeverage(t *testing.T) {
	p := NewPaper(0)
	// 15 USDT at 20x on a 60000 price: 0.005 base units.
	qty := CalcQuantity(p, "BTCUSDT", 15, 60000, 20)
	if math.Abs(qty-0.005) > 1e-12 {
		t.Errorf("qty = %v, want 0.005", qty)
	}
	if got := CalcQuantity(p, "BTCUSDT", 15, 0, 20); got != 0 {
		t.Errorf("qty at zero price = %v, want 0", got)
	}
}

package volatility

import (
	"math"
	"testing"

	"pinhedge/internal/model"
)

func closedCandle(high, low, close float64) model.Candle {
	return model.Candle{High: high, Low: low, Close: close, Closed: true}
}

func TestATRSeedsWithSimpleAverage(t *testing.T) {
	a := New(3, 0.5, 0.3)

	// Ranges 2, 4, 6 with closes keeping TR = high-low.
	a.Update(closedCandle(102, 100, 101))
	if a.Ready() {
		t.Fatal("ready before seed window filled")
	}
	a.Update(closedCandle(103, 99, 101)) // TR = max(4, |103-101|, |99-101|) = 4
	a.Update(closedCandle(104, 98, 101)) // TR = 6

	if !a.Ready() {
		t.Fatal("not ready after seed window")
	}
	if got, want := a.Value(), 4.0; math.Abs(got-want) > 1e-9 {
		t.Errorf("seed ATR = %v, want %v", got, want)
	}
}

func TestATRWilderSmoothing(t *testing.T) {
	a := New(3, 0.5, 0.3)
	a.Update(closedCandle(102, 100, 101))
	a.Update(closedCandle(103, 99, 101))
	a.Update(closedCandle(104, 98, 101)) // ATR = 4

	// Next candle TR = 7: ATR = 4*(2/3) + 7*(1/3) = 5
	got := a.Update(closedCandle(106, 99, 100))
	if math.Abs(got-5.0) > 1e-9 {
		t.Errorf("smoothed ATR = %v, want 5", got)
	}
}

func TestATRTrueRangeUsesGapFromPrevClose(t *testing.T) {
	a := New(2, 0.5, 0.3)
	a.Update(closedCandle(101, 100, 100))
	// Gap up: high-low is 1 but high-prevClose is 10.
	a.Update(closedCandle(110, 109, 110))

	if got, want := a.Value(), (1.0+10.0)/2; math.Abs(got-want) > 1e-9 {
		t.Errorf("ATR = %v, want %v", got, want)
	}
}

func TestATRIgnoresFormingCandles(t *testing.T) {
	a := New(2, 0.5, 0.3)
	a.Update(closedCandle(101, 100, 100))
	before := a.Value()
	a.Update(model.Candle{High: 200, Low: 50, Close: 100}) // not closed
	if a.Value() != before {
		t.Error("forming candle changed the ATR")
	}
	if a.Ready() {
		t.Error("forming candle counted toward the seed window")
	}
}

func TestThresholdsScaleWithPrice(t *testing.T) {
	a := New(2, 0.5, 0.3)
	a.Update(closedCandle(102, 100, 101))
	a.Update(closedCandle(103, 101, 102)) // TRs 2,2 -> ATR 2

	th := a.ThresholdsAt(100)
	if math.Abs(th.ATR-2.0) > 1e-9 {
		t.Fatalf("ATR = %v, want 2", th.ATR)
	}
	if math.Abs(th.SpikePct-0.5*2/100) > 1e-12 {
		t.Errorf("SpikePct = %v, want %v", th.SpikePct, 0.5*2/100)
	}
	if math.Abs(th.RetracePct-0.3*2/100) > 1e-12 {
		t.Errorf("RetracePct = %v, want %v", th.RetracePct, 0.3*2/100)
	}
}

func TestATRReset(t *testing.T) {
	a := New(2, 0.5, 0.3)
	a.Update(closedCandle(102, 100, 101))
	a.Update(closedCandle(103, 101, 102))
	a.Reset()

	if a.Ready() || a.Value() != 0 {
		t.Errorf("after reset: ready=%v value=%v", a.Ready(), a.Value())
	}
}

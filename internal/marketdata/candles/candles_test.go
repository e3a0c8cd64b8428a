package candles

import (
	"testing"
	"time"

	"pinhedge/internal/model"
)

var testTFs = []time.Duration{30 * time.Second, time.Minute}

func at(sec int) time.Time {
	return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC).Add(time.Duration(sec) * time.Second)
}

func TestBookBuildsOHLCWithinBucket(t *testing.T) {
	b := NewBook("BTCUSDT", testTFs, 10)

	b.OnTick(100, 1, at(0))
	b.OnTick(103, 1, at(5))
	b.OnTick(99, 1, at(10))
	b.OnTick(101, 1, at(20))

	c, ok := b.Current(30 * time.Second)
	if !ok {
		t.Fatal("no current candle")
	}
	if c.Open != 100 || c.High != 103 || c.Low != 99 || c.Close != 101 {
		t.Errorf("OHLC = %v/%v/%v/%v, want 100/103/99/101", c.Open, c.High, c.Low, c.Close)
	}
	if c.Closed {
		t.Error("in-progress candle marked closed")
	}
	if _, ok := b.LastClosed(30 * time.Second); ok {
		t.Error("LastClosed before any boundary crossing")
	}
}

func TestBookClosesOnBoundaryCrossing(t *testing.T) {
	b := NewBook("BTCUSDT", testTFs, 10)

	b.OnTick(100, 1, at(0))
	b.OnTick(102, 1, at(29))
	rolled := b.OnTick(104, 1, at(31)) // crosses the 30s boundary, not the 1m

	if len(rolled) != 1 || rolled[0] != 30*time.Second {
		t.Fatalf("rolled = %v, want [30s]", rolled)
	}

	closed, ok := b.LastClosed(30 * time.Second)
	if !ok {
		t.Fatal("no closed candle")
	}
	if !closed.Closed || closed.Close != 102 {
		t.Errorf("closed candle = %+v, want Closed with close 102", closed)
	}

	// The new candle opens at the previous close, no gap.
	cur, _ := b.Current(30 * time.Second)
	if cur.Open != 102 {
		t.Errorf("new candle open = %v, want previous close 102", cur.Open)
	}
	if cur.High != 104 || cur.Close != 104 {
		t.Errorf("new candle high/close = %v/%v, want 104/104", cur.High, cur.Close)
	}

	// The 1m candle is still forming.
	if _, ok := b.LastClosed(time.Minute); ok {
		t.Error("1m candle closed too early")
	}
}

func TestBookSkipsIntermediateEmptyBuckets(t *testing.T) {
	b := NewBook("BTCUSDT", testTFs, 10)

	b.OnTick(100, 1, at(0))
	b.OnTick(105, 1, at(95)) // three 30s buckets later

	// Only the candle that was actually forming gets archived.
	if got := b.ClosedCount(30 * time.Second); got != 1 {
		t.Errorf("ClosedCount = %d, want 1", got)
	}
	cur, _ := b.Current(30 * time.Second)
	if cur.TS != at(90) {
		t.Errorf("current bucket = %v, want %v", cur.TS, at(90))
	}
}

func TestBookDropsLateTicks(t *testing.T) {
	b := NewBook("BTCUSDT", testTFs, 10)

	b.OnTick(100, 1, at(35))
	b.OnTick(999, 1, at(5)) // behind the current bucket

	cur, _ := b.Current(30 * time.Second)
	if cur.High == 999 {
		t.Error("late tick corrupted the current candle")
	}
}

func TestBookRingEviction(t *testing.T) {
	b := NewBook("BTCUSDT", []time.Duration{30 * time.Second}, 3)

	// Close 5 candles: opens at 0,30,...; each bucket gets one tick.
	for i := 0; i <= 5; i++ {
		b.OnTick(100+float64(i), 1, at(i*30))
	}

	if got := b.ClosedCount(30 * time.Second); got != 3 {
		t.Fatalf("ClosedCount = %d, want capacity 3", got)
	}

	recent := b.Recent(30*time.Second, 10, false)
	if len(recent) != 3 {
		t.Fatalf("Recent returned %d candles, want 3", len(recent))
	}
	// Oldest first, most recent candle closed at 103->104 boundary.
	for i := 1; i < len(recent); i++ {
		if !recent[i].TS.After(recent[i-1].TS) {
			t.Errorf("Recent not oldest-first: %v then %v", recent[i-1].TS, recent[i].TS)
		}
	}
	last, _ := b.LastClosed(30 * time.Second)
	if last.TS != recent[2].TS {
		t.Errorf("LastClosed %v disagrees with Recent tail %v", last.TS, recent[2].TS)
	}
}

func TestBookRecentIncludesCurrent(t *testing.T) {
	b := NewBook("BTCUSDT", []time.Duration{30 * time.Second}, 10)
	b.OnTick(100, 1, at(0))
	b.OnTick(101, 1, at(31))

	with := b.Recent(30*time.Second, 10, true)
	without := b.Recent(30*time.Second, 10, false)
	if len(with) != len(without)+1 {
		t.Errorf("includeCurrent added %d candles, want 1", len(with)-len(without))
	}
	if with[len(with)-1].Closed {
		t.Error("current candle reported as closed")
	}
}

func TestBookHighLowSpanCandles(t *testing.T) {
	b := NewBook("BTCUSDT", []time.Duration{30 * time.Second}, 10)
	b.OnTick(100, 1, at(0))
	b.OnTick(110, 1, at(10))
	b.OnTick(95, 1, at(31))
	b.OnTick(105, 1, at(40))

	if h := b.High(30*time.Second, 5); h != 110 {
		t.Errorf("High = %v, want 110", h)
	}
	if l := b.Low(30*time.Second, 5); l != 95 {
		t.Errorf("Low = %v, want 95", l)
	}
}

func TestBookForecast(t *testing.T) {
	b := NewBook("BTCUSDT", []time.Duration{30 * time.Second}, 10)
	b.OnTick(100, 1, at(0))
	b.OnTick(102, 1, at(31)) // closes first candle at 100

	if !b.ForecastBullish(30 * time.Second) {
		t.Error("price above prior close should forecast bullish")
	}
	b.OnTick(98, 1, at(40))
	if !b.ForecastBearish(30 * time.Second) {
		t.Error("price below prior close should forecast bearish")
	}
}

func TestBookUnknownTimeframe(t *testing.T) {
	b := NewBook("BTCUSDT", testTFs, 10)
	b.OnTick(100, 1, at(0))

	if _, ok := b.Current(5 * time.Minute); ok {
		t.Error("Current for unconfigured timeframe")
	}
	if got := b.Recent(5*time.Minute, 3, true); got != nil {
		t.Errorf("Recent for unconfigured timeframe = %v", got)
	}
}

func TestCandleMorphologyHelpers(t *testing.T) {
	c := model.Candle{Open: 100, High: 106, Low: 99, Close: 101}
	if !c.Bullish() || c.Bearish() {
		t.Error("close above open should be bullish")
	}
	if c.Body() != 1 {
		t.Errorf("Body = %v, want 1", c.Body())
	}
	if c.UpperWick() != 5 {
		t.Errorf("UpperWick = %v, want 5", c.UpperWick())
	}
}

func TestBookAccumulatesVolume(t *testing.T) {
	b := NewBook("BTCUSDT", testTFs, 10)

	b.OnTick(100, 0.5, at(0))
	b.OnTick(101, 0.25, at(10))
	b.OnTick(102, 1.0, at(31)) // rolls the 30s candle

	closed, ok := b.LastClosed(30 * time.Second)
	if !ok {
		t.Fatal("no closed candle")
	}
	if closed.Volume != 0.75 {
		t.Errorf("closed volume = %v, want 0.75", closed.Volume)
	}
	cur, ok := b.Current(30 * time.Second)
	if !ok {
		t.Fatal("no current candle")
	}
	if cur.Volume != 1.0 {
		t.Errorf("current volume = %v, want 1.0", cur.Volume)
	}
}

// Package candles builds multi-timeframe OHLC candles from a stream of
// trade ticks, without waiting for timeframe boundaries. Each tick updates
// the in-progress candle of every configured timeframe in O(1); a candle is
// frozen and archived the instant a tick lands in a later bucket.
package candles

import (
	"time"

	"pinhedge/internal/model"
)

// series holds the candle state for one (symbol, timeframe) pair.
type series struct {
	tf      time.Duration
	current *model.Candle
	closed  []model.Candle // ring, oldest first
	head    int            // write index once the ring is full
	full    bool
}

// Book tracks candles across all configured timeframes for one symbol.
// Not goroutine-safe: the engine delivers a symbol's ticks in order from a
// single worker.
type Book struct {
	symbol   string
	tfs      []time.Duration
	series   []*series
	capacity int

	lastPrice float64
	lastTS    time.Time
}

// NewBook creates a Book for one symbol. capacity bounds the closed-candle
// history per timeframe; the oldest candle is evicted once full.
func NewBook(symbol string, tfs []time.Duration, capacity int) *Book {
	if capacity < 1 {
		capacity = 1
	}
	b := &Book{
		symbol:   symbol,
		tfs:      tfs,
		capacity: capacity,
	}
	for _, tf := range tfs {
		b.series = append(b.series, &series{
			tf:     tf,
			closed: make([]model.Candle, 0, capacity),
		})
	}
	return b
}

// Symbol returns the instrument this book tracks.
func (b *Book) Symbol() string { return b.symbol }

// LastPrice returns the most recent tick price seen (0 before the first tick).
func (b *Book) LastPrice() float64 { return b.lastPrice }

// OnTick folds a tick into every timeframe's current candle and returns the
// timeframes whose candle just closed (nil most of the time).
func (b *Book) OnTick(price, qty float64, ts time.Time) []time.Duration {
	b.lastPrice = price
	b.lastTS = ts
	tsMs := ts.UnixMilli()

	var rolled []time.Duration
	for _, s := range b.series {
		if b.update(s, price, qty, tsMs) {
			rolled = append(rolled, s.tf)
		}
	}
	return rolled
}

// update advances one series by one tick. Returns true if a candle closed.
func (b *Book) update(s *series, price, qty float64, tsMs int64) bool {
	tfMs := s.tf.Milliseconds()
	bucket := tsMs / tfMs * tfMs

	if s.current == nil {
		s.current = &model.Candle{
			Symbol: b.symbol,
			TF:     s.tf,
			TS:     time.UnixMilli(bucket).UTC(),
			Open:   price,
			High:   price,
			Low:    price,
			Close:  price,
			Volume: qty,
		}
		return false
	}

	curBucket := s.current.TS.UnixMilli()
	if bucket < curBucket {
		// Late tick behind the current bucket: drop rather than corrupt
		// an already-advancing candle.
		return false
	}

	if bucket > curBucket {
		prev := *s.current
		prev.Closed = true
		b.archive(s, prev)

		// The new candle opens at the previous close so consecutive
		// candles never show an artificial gap, then immediately
		// extends to the tick.
		c := &model.Candle{
			Symbol: b.symbol,
			TF:     s.tf,
			TS:     time.UnixMilli(bucket).UTC(),
			Open:   prev.Close,
			High:   maxf(prev.Close, price),
			Low:    minf(prev.Close, price),
			Close:  price,
			Volume: qty,
		}
		s.current = c
		return true
	}

	c := s.current
	if price > c.High {
		c.High = price
	}
	if price < c.Low {
		c.Low = price
	}
	c.Close = price
	c.Volume += qty
	return false
}

func (b *Book) archive(s *series, c model.Candle) {
	if !s.full {
		s.closed = append(s.closed, c)
		if len(s.closed) == b.capacity {
			s.full = true
		}
		return
	}
	s.closed[s.head] = c
	s.head = (s.head + 1) % b.capacity
}

func (b *Book) find(tf time.Duration) *series {
	for _, s := range b.series {
		if s.tf == tf {
			return s
		}
	}
	return nil
}

// Current returns a copy of the in-progress candle for tf, or false if no
// tick has been seen yet.
func (b *Book) Current(tf time.Duration) (model.Candle, bool) {
	s := b.find(tf)
	if s == nil || s.current == nil {
		return model.Candle{}, false
	}
	return *s.current, true
}

// LastClosed returns the most recently closed candle for tf.
func (b *Book) LastClosed(tf time.Duration) (model.Candle, bool) {
	s := b.find(tf)
	if s == nil || (len(s.closed) == 0) {
		return model.Candle{}, false
	}
	if !s.full {
		return s.closed[len(s.closed)-1], true
	}
	return s.closed[(s.head+b.capacity-1)%b.capacity], true
}

// Recent returns up to n candles for tf, oldest first. When includeCurrent
// is set the in-progress candle is appended last.
func (b *Book) Recent(tf time.Duration, n int, includeCurrent bool) []model.Candle {
	s := b.find(tf)
	if s == nil {
		return nil
	}

	var out []model.Candle
	if !s.full {
		out = append(out, s.closed...)
	} else {
		out = append(out, s.closed[s.head:]...)
		out = append(out, s.closed[:s.head]...)
	}
	if includeCurrent && s.current != nil {
		out = append(out, *s.current)
	}
	if len(out) > n {
		out = out[len(out)-n:]
	}
	return out
}

// ClosedCount returns the number of archived candles for tf.
func (b *Book) ClosedCount(tf time.Duration) int {
	s := b.find(tf)
	if s == nil {
		return 0
	}
	if s.full {
		return b.capacity
	}
	return len(s.closed)
}

// High returns the highest high of the last n candles (including current).
func (b *Book) High(tf time.Duration, n int) float64 {
	ks := b.Recent(tf, n, true)
	if len(ks) == 0 {
		return 0
	}
	h := ks[0].High
	for _, k := range ks[1:] {
		if k.High > h {
			h = k.High
		}
	}
	return h
}

// Low returns the lowest low of the last n candles (including current).
func (b *Book) Low(tf time.Duration, n int) float64 {
	ks := b.Recent(tf, n, true)
	if len(ks) == 0 {
		return 0
	}
	l := ks[0].Low
	for _, k := range ks[1:] {
		if k.Low < l {
			l = k.Low
		}
	}
	return l
}

// ForecastBearish reports whether the forming candle of tf is on track to
// close red: the live price has crossed back below the prior candle's close.
func (b *Book) ForecastBearish(tf time.Duration) bool {
	if last, ok := b.LastClosed(tf); ok {
		return b.lastPrice < last.Close
	}
	if cur, ok := b.Current(tf); ok {
		return b.lastPrice < cur.Open
	}
	return false
}

// ForecastBullish is the mirror of ForecastBearish.
func (b *Book) ForecastBullish(tf time.Duration) bool {
	if last, ok := b.LastClosed(tf); ok {
		return b.lastPrice > last.Close
	}
	if cur, ok := b.Current(tf); ok {
		return b.lastPrice > cur.Open
	}
	return false
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

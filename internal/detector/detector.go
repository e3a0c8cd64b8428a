// Package detector implements the ATR-adaptive spike ("pin") detector.
//
// A signal requires three things to line up on the same tick: velocity over
// the detection window above the ATR-scaled threshold, at least one
// morphological confirmation on the reference-timeframe candle, and an
// expired per-symbol cooldown. The emitted direction fades the move: a fast
// rise is a short signal, a fast fall is a long signal.
package detector

import (
	"time"

	"pinhedge/internal/marketdata/candles"
	"pinhedge/internal/model"
	"pinhedge/internal/volatility"
)

// Config holds the tunables for one detector instance.
type Config struct {
	ATRPeriod        int
	SpikeMultiplier  float64       // k1
	RetraceMult      float64       // k2
	Window           time.Duration // velocity lookback
	Cooldown         time.Duration // min gap between signals per symbol
	ShadowRatio      float64       // wick must exceed body by this factor
	FalseBreakoutPct float64       // fractional margin for breakout + revert
	Timeframe        time.Duration // reference TF for ATR and morphology
}

type pricePoint struct {
	ts    int64 // epoch ms
	price float64
}

// Detector holds per-symbol detection state. Not goroutine-safe; owned by
// the symbol's engine worker.
type Detector struct {
	symbol string
	cfg    Config
	atr    *volatility.ATR

	window        []pricePoint
	lastDetection int64 // epoch ms of the last emitted signal, 0 = never
}

// New creates a detector for one symbol.
func New(symbol string, cfg Config) *Detector {
	return &Detector{
		symbol: symbol,
		cfg:    cfg,
		atr:    volatility.New(cfg.ATRPeriod, cfg.SpikeMultiplier, cfg.RetraceMult),
	}
}

// ATRReady reports whether the volatility estimator has a full seed window.
func (d *Detector) ATRReady() bool { return d.atr.Ready() }

// ATRValue returns the current ATR in price units.
func (d *Detector) ATRValue() float64 { return d.atr.Value() }

// OnTick records the price into the bounded velocity window.
func (d *Detector) OnTick(price float64, ts time.Time) {
	tsMs := ts.UnixMilli()
	cutoff := tsMs - d.cfg.Window.Milliseconds()

	// Trim in place: points at or before the cutoff are dead.
	keep := 0
	for keep < len(d.window) && d.window[keep].ts <= cutoff {
		keep++
	}
	if keep > 0 {
		d.window = append(d.window[:0], d.window[keep:]...)
	}
	d.window = append(d.window, pricePoint{ts: tsMs, price: price})
}

// OnCandleClose feeds a closed reference-timeframe candle into the ATR.
// Candles from other timeframes are ignored.
func (d *Detector) OnCandleClose(c model.Candle) {
	if c.TF != d.cfg.Timeframe {
		return
	}
	d.atr.Update(c)
}

// Velocity returns the signed fractional price change across the window.
func (d *Detector) Velocity(currentPrice float64) float64 {
	if len(d.window) < 2 {
		return 0
	}
	start := d.window[0].price
	if start <= 0 {
		return 0
	}
	return (currentPrice - start) / currentPrice
}

// Detect evaluates the current tick for a spike signal. Returns nil when no
// signal fires; a missed detection is a missed trade, never an error.
func (d *Detector) Detect(book *candles.Book, price float64, ts time.Time) *model.SpikeSignal {
	tsMs := ts.UnixMilli()

	if d.lastDetection > 0 && tsMs-d.lastDetection < d.cfg.Cooldown.Milliseconds() {
		return nil
	}
	if !d.atr.Ready() {
		return nil
	}
	if book.ClosedCount(d.cfg.Timeframe) < d.cfg.ATRPeriod {
		return nil
	}

	thr := d.atr.ThresholdsAt(price)
	velocity := d.Velocity(price)
	if velocity < thr.SpikePct && velocity > -thr.SpikePct {
		return nil
	}

	var sig *model.SpikeSignal
	if velocity > 0 {
		sig = d.detectPin(book, price, velocity, thr, model.SpikeUpPin)
	} else {
		sig = d.detectPin(book, price, velocity, thr, model.SpikeDownPin)
	}
	if sig != nil {
		d.lastDetection = tsMs
		sig.DetectedAt = ts
	}
	return sig
}

// detectPin runs the morphology confirmations for one spike shape and
// assembles the signal if at least one confirms.
func (d *Detector) detectPin(book *candles.Book, price, velocity float64, thr volatility.Thresholds, kind model.SpikeType) *model.SpikeSignal {
	cur, ok := book.Current(d.cfg.Timeframe)
	if !ok {
		return nil
	}

	up := kind == model.SpikeUpPin
	body := cur.Body()

	var wick float64
	var colorReversal, falseBreakout bool
	if up {
		wick = cur.UpperWick()
		colorReversal = book.ForecastBearish(d.cfg.Timeframe)
		falseBreakout = d.falseBreakoutUp(book, price)
	} else {
		wick = cur.LowerWick()
		colorReversal = book.ForecastBullish(d.cfg.Timeframe)
		falseBreakout = d.falseBreakoutDown(book, price)
	}
	longShadow := wick > body*d.cfg.ShadowRatio

	if !longShadow && !colorReversal && !falseBreakout {
		return nil
	}

	recent := book.Recent(d.cfg.Timeframe, d.cfg.ATRPeriod, true)
	extreme := price
	start := price
	if len(recent) > 0 {
		start = recent[0].Open
		if up {
			extreme = book.High(d.cfg.Timeframe, d.cfg.ATRPeriod)
		} else {
			extreme = book.Low(d.cfg.Timeframe, d.cfg.ATRPeriod)
		}
	}

	absV := velocity
	if absV < 0 {
		absV = -absV
	}

	confidence := 50
	for _, flag := range []bool{longShadow, colorReversal, falseBreakout} {
		if flag {
			confidence += 15
		}
	}
	// Bonus scales with how far velocity overshot the threshold.
	if thr.SpikePct > 0 {
		bonus := int((absV/thr.SpikePct - 1) * 10)
		if bonus > 10 {
			bonus = 10
		}
		if bonus > 0 {
			confidence += bonus
		}
	}
	if confidence > 100 {
		confidence = 100
	}

	direction := model.DirectionDown
	if !up {
		direction = model.DirectionUp
	}

	shadowRatio := 0.0
	if denom := maxf(body, 1e-9); denom > 0 {
		shadowRatio = wick / denom
	}

	return &model.SpikeSignal{
		Symbol:           d.symbol,
		Type:             kind,
		Direction:        direction,
		EntryPrice:       price,
		ExtremePrice:     extreme,
		StartPrice:       start,
		Confidence:       confidence,
		ATRValue:         thr.ATR,
		SpikeThreshold:   thr.SpikePct,
		RetraceThreshold: thr.RetracePct,
		Velocity:         velocity,
		ShadowRatio:      shadowRatio,
		HasLongShadow:    longShadow,
		HasColorReversal: colorReversal,
		HasFalseBreakout: falseBreakout,
	}
}

// falseBreakoutUp reports a poke above the recent high that has already
// reverted back through it by the same margin.
func (d *Detector) falseBreakoutUp(book *candles.Book, price float64) bool {
	ks := book.Recent(d.cfg.Timeframe, 3, true)
	if len(ks) < 2 {
		return false
	}
	recentHigh := ks[0].High
	for _, k := range ks[:len(ks)-1] {
		if k.High > recentHigh {
			recentHigh = k.High
		}
	}
	last := ks[len(ks)-1]
	m := d.cfg.FalseBreakoutPct
	return last.High > recentHigh*(1+m) && price < last.High*(1-m)
}

// falseBreakoutDown is the mirror: a poke below the recent low that bounced.
func (d *Detector) falseBreakoutDown(book *candles.Book, price float64) bool {
	ks := book.Recent(d.cfg.Timeframe, 3, true)
	if len(ks) < 2 {
		return false
	}
	recentLow := ks[0].Low
	for _, k := range ks[:len(ks)-1] {
		if k.Low < recentLow {
			recentLow = k.Low
		}
	}
	last := ks[len(ks)-1]
	m := d.cfg.FalseBreakoutPct
	return last.Low < recentLow*(1-m) && price > last.Low*(1+m)
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

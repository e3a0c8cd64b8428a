// Package volatility maintains a smoothed Average True Range per symbol and
// derives the adaptive thresholds the spike detector compares velocity
// against. Update is O(1) per closed candle — no history scans.
package volatility

import "pinhedge/internal/model"

// Thresholds are the ATR-scaled fractional thresholds at a given price.
type Thresholds struct {
	ATR        float64 // price units
	SpikePct   float64 // k1*ATR/price, compared against |velocity|
	RetracePct float64 // k2*ATR/price, drives the hedge target
}

// ATR computes Wilder-style Average True Range over closed candles.
// The first value is a simple average of the seed window; every later
// update is an exponential blend with alpha = 1/period.
type ATR struct {
	period    int
	k1        float64 // spike multiplier
	k2        float64 // retrace multiplier
	trs       []float64
	count     int
	prevClose float64
	current   float64
	ready     bool
}

// New creates an ATR estimator. k1 and k2 scale the derived thresholds.
func New(period int, k1, k2 float64) *ATR {
	return &ATR{
		period: period,
		k1:     k1,
		k2:     k2,
		trs:    make([]float64, 0, period),
	}
}

// Update feeds one closed candle and returns the current ATR value.
// Non-closed candles are ignored.
func (a *ATR) Update(c model.Candle) float64 {
	if !c.Closed {
		return a.current
	}

	tr := c.High - c.Low
	if a.prevClose > 0 {
		if hc := abs(c.High - a.prevClose); hc > tr {
			tr = hc
		}
		if lc := abs(c.Low - a.prevClose); lc > tr {
			tr = lc
		}
	}
	a.prevClose = c.Close
	a.count++

	if !a.ready {
		a.trs = append(a.trs, tr)
		if len(a.trs) > a.period {
			a.trs = a.trs[1:]
		}
		if len(a.trs) == a.period {
			sum := 0.0
			for _, v := range a.trs {
				sum += v
			}
			a.current = sum / float64(a.period)
			a.ready = true
		}
		return a.current
	}

	alpha := 1.0 / float64(a.period)
	a.current = a.current*(1-alpha) + tr*alpha
	return a.current
}

// Value returns the current ATR (0 until Ready).
func (a *ATR) Value() float64 { return a.current }

// Ready reports whether a full seed window of closed candles has been seen.
func (a *ATR) Ready() bool { return a.ready }

// Period returns the configured smoothing period.
func (a *ATR) Period() int { return a.period }

// ThresholdsAt derives the fractional thresholds at the given price.
// The caller guarantees price > 0; zero prices are rejected at ingress.
func (a *ATR) ThresholdsAt(price float64) Thresholds {
	return Thresholds{
		ATR:        a.current,
		SpikePct:   a.k1 * a.current / price,
		RetracePct: a.k2 * a.current / price,
	}
}

// Reset clears all state for reuse.
func (a *ATR) Reset() {
	a.trs = a.trs[:0]
	a.count = 0
	a.prevClose = 0
	a.current = 0
	a.ready = false
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

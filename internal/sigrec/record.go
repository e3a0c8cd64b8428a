// Package sigrec records detected pin signals with post-signal price marks
// to daily NDJSON files, and simulates fixed-hold trades over those records
// to report which hold period the detector's signals actually pay on.
package sigrec

import (
	"math"
	"time"

	"github.com/google/uuid"

	"pinhedge/internal/model"
)

// HoldPeriods are the sampled post-signal horizons, in seconds.
var HoldPeriods = []int{30, 60, 90, 180}

// Record is one detected signal plus how the price moved afterwards.
// Zero marks mean the tracker was shut down before the horizon elapsed.
type Record struct {
	ID         string    `json:"id"`
	Symbol     string    `json:"symbol"`
	Direction  string    `json:"direction"` // UP or DOWN, trade direction
	DetectedAt time.Time `json:"detected_at"`

	StartPrice   float64 `json:"start_price"`
	ExtremePrice float64 `json:"peak_price"`
	EntryPrice   float64 `json:"current_price"` // price at detection

	AmplitudePct float64 `json:"amplitude_percent"` // start to extreme
	RetracePct   float64 `json:"retracement_percent"`
	Confidence   int     `json:"confidence"`

	PriceAfter30s  float64 `json:"price_after_30s,omitempty"`
	PriceAfter60s  float64 `json:"price_after_60s,omitempty"`
	PriceAfter90s  float64 `json:"price_after_90s,omitempty"`
	PriceAfter180s float64 `json:"price_after_180s,omitempty"`

	// BestEntryPrice is the deepest retrace seen before the last mark, the
	// fill a perfectly timed entry would have gotten.
	BestEntryPrice float64   `json:"best_entry_price,omitempty"`
	BestEntryTime  time.Time `json:"best_entry_time,omitempty"`
}

// NewRecord builds a Record from a detector signal.
func NewRecord(sig *model.SpikeSignal) *Record {
	r := &Record{
		ID:           uuid.NewString(),
		Symbol:       sig.Symbol,
		Direction:    string(sig.Direction),
		DetectedAt:   sig.DetectedAt,
		StartPrice:   sig.StartPrice,
		ExtremePrice: sig.ExtremePrice,
		EntryPrice:   sig.EntryPrice,
		Confidence:   sig.Confidence,
	}
	if sig.StartPrice > 0 {
		r.AmplitudePct = math.Abs(sig.ExtremePrice-sig.StartPrice) / sig.StartPrice * 100
	}
	if sig.ExtremePrice > 0 {
		r.RetracePct = math.Abs(sig.ExtremePrice-sig.EntryPrice) / sig.ExtremePrice * 100
	}
	return r
}

// PriceAfter returns the mark for the given hold period, if sampled.
func (r *Record) PriceAfter(seconds int) (float64, bool) {
	var p float64
	switch seconds {
	case 30:
		p = r.PriceAfter30s
	case 60:
		p = r.PriceAfter60s
	case 90:
		p = r.PriceAfter90s
	case 180:
		p = r.PriceAfter180s
	}
	return p, p > 0
}

func (r *Record) setPriceAfter(seconds int, price float64) {
	switch seconds {
	case 30:
		r.PriceAfter30s = price
	case 60:
		r.PriceAfter60s = price
	case 90:
		r.PriceAfter90s = price
	case 180:
		r.PriceAfter180s = price
	}
}

// observeEntry keeps the most favorable fill for the record's direction.
func (r *Record) observeEntry(price float64, ts time.Time) {
	better := r.BestEntryPrice == 0 ||
		(r.Direction == string(model.DirectionUp) && price < r.BestEntryPrice) ||
		(r.Direction == string(model.DirectionDown) && price > r.BestEntryPrice)
	if better {
		r.BestEntryPrice = price
		r.BestEntryTime = ts
	}
}

// complete reports whether every hold-period mark has been sampled.
func (r *Record) complete() bool {
	return r.PriceAfter30s > 0 && r.PriceAfter60s > 0 &&
		r.PriceAfter90s > 0 && r.PriceAfter180s > 0
}

// Package hedge implements the per-symbol two-leg hedged position state
// machine: open the first leg against a detected spike, open the opposite
// hedge leg if the price moves through the hedge target, then run each
// leg's exit rules independently until the position is fully closed.
package hedge

import (
	"time"

	"pinhedge/internal/model"
)

// State is the authoritative position state. Per-leg closed flags refine it;
// there is no implicit state encoded in flag combinations.
type State string

const (
	StateNone     State = "none"      // no position
	StateFirstLeg State = "first_leg" // leg 1 filled, waiting for hedge or TP
	StateHedged   State = "hedged"    // both legs open
	StateClosing  State = "closing"   // close in progress
)

// Close reasons emitted in events and journal rows.
const (
	ReasonFirstLegTP        = "first_leg_tp"
	ReasonFirstLegBreakeven = "first_leg_sl_breakeven"
	ReasonHedgeTimeout      = "timeout"
	ReasonQuickTP           = "second_leg_quick_tp"
	ReasonBreakevenSL       = "breakeven_sl"
	ReasonTrailingSL        = "second_leg_trailing_sl"
	ReasonSecondLegTimeout  = "second_leg_timeout"
	ReasonShutdown          = "shutdown"
	ReasonManual            = "manual"
)

// Leg is one side of a hedge position.
type Leg struct {
	Side       model.Side `json:"side"`
	EntryPrice float64    `json:"entry_price"`
	Qty        float64    `json:"qty"`
	OrderID    string     `json:"order_id"`
	Filled     bool       `json:"filled"`
	OpenedAt   time.Time  `json:"opened_at"`

	TakeProfit float64 `json:"take_profit,omitempty"` // leg 1 only
	StopLoss   float64 `json:"stop_loss,omitempty"`

	// MaxProfitPct tracks the running peak unrealized profit (price %,
	// unleveraged) for the trailing stop. Leg 2 only.
	MaxProfitPct float64 `json:"max_profit_pct,omitempty"`

	Closed    bool    `json:"closed"`
	ExitPrice float64 `json:"exit_price,omitempty"`
	PnL       float64 `json:"pnl"` // realized, USDT, leverage- and fee-adjusted
}

// ProfitPct returns the unrealized profit at price as an unleveraged
// percentage in the leg's favorable direction.
func (l *Leg) ProfitPct(price float64) float64 {
	if l.EntryPrice <= 0 {
		return 0
	}
	if l.Side == model.SideLong {
		return (price - l.EntryPrice) / l.EntryPrice * 100
	}
	return (l.EntryPrice - price) / l.EntryPrice * 100
}

// Position is the unit of execution state, one per symbol while active.
type Position struct {
	Symbol string             `json:"symbol"`
	Signal *model.SpikeSignal `json:"signal"`
	State  State              `json:"state"`

	First  Leg `json:"first"`  // counter-spike leg
	Second Leg `json:"second"` // hedge leg

	// HedgeTarget is the price beyond which the hedge leg opens: the spike
	// continuing against the first leg by the retrace threshold.
	HedgeTarget float64 `json:"hedge_target"`

	// MaxProfitMode flips when leg 1 closes: leg 2's stop tightens to the
	// breakeven band and never loosens again.
	MaxProfitMode bool `json:"max_profit_mode"`

	TotalPnL    float64   `json:"total_pnl"`
	CloseReason string    `json:"close_reason,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	ClosedAt    time.Time `json:"closed_at,omitempty"`
}

// NewPosition creates the nascent position for an accepted signal. The legs'
// sides are derived from the signal; nothing is filled yet.
func NewPosition(sig *model.SpikeSignal) *Position {
	return &Position{
		Symbol:    sig.Symbol,
		Signal:    sig,
		State:     StateNone,
		First:     Leg{Side: sig.FirstLegSide()},
		Second:    Leg{Side: sig.SecondLegSide()},
		CreatedAt: sig.DetectedAt,
	}
}

// CorrelationID ties all events of this position together.
func (p *Position) CorrelationID() string { return p.Signal.ID() }

// Done reports whether every opened leg has been closed.
func (p *Position) Done() bool {
	if !p.First.Filled {
		return false
	}
	if !p.First.Closed {
		return false
	}
	if p.Second.Filled && !p.Second.Closed {
		return false
	}
	return true
}

// Age returns the position age at the given observation time.
func (p *Position) Age(now time.Time) time.Duration {
	return now.Sub(p.CreatedAt)
}

// computeHedgeTarget sets the hedge trigger on the adverse side of leg 1:
// the spike continuing through it means the expected reversion failed and
// the opposite leg caps the loss. Uses the signal's dynamic retrace
// threshold when present, else the configured fixed percent.
func (p *Position) computeHedgeTarget(fixedPct float64) {
	pct := p.Signal.RetraceThreshold
	if pct <= 0 {
		pct = fixedPct
	}
	entry := p.First.EntryPrice
	if p.First.Side == model.SideShort {
		p.HedgeTarget = entry * (1 + pct)
	} else {
		p.HedgeTarget = entry * (1 - pct)
	}
}

// hedgeTargetHit reports whether price has crossed the hedge trigger.
func (p *Position) hedgeTargetHit(price float64) bool {
	if p.First.Side == model.SideShort {
		return price >= p.HedgeTarget
	}
	return price <= p.HedgeTarget
}

// computeFirstLegTargets sets leg 1's exits after its fill: stop at entry
// (breakeven) and take-profit at 40% of the spike's retracement room.
func (p *Position) computeFirstLegTargets() {
	entry := p.First.EntryPrice
	p.First.StopLoss = entry

	move := p.Signal.ExtremePrice - entry
	if move < 0 {
		move = -move
	}
	if p.First.Side == model.SideShort {
		p.First.TakeProfit = entry - move*0.4
	} else {
		p.First.TakeProfit = entry + move*0.4
	}
}

// firstLegTPHit reports whether leg 1's take-profit has been reached.
func (p *Position) firstLegTPHit(price float64) bool {
	if p.First.TakeProfit <= 0 {
		return false
	}
	if p.First.Side == model.SideShort {
		return price <= p.First.TakeProfit
	}
	return price >= p.First.TakeProfit
}

// firstLegBreakevenHit reports whether the price has crossed back through
// leg 1's entry in its favorable direction. Only meaningful once hedged:
// the hedge opened on the adverse side, so any favorable re-cross means the
// leg can exit flat.
func (p *Position) firstLegBreakevenHit(price float64) bool {
	if p.First.Side == model.SideShort {
		return price <= p.First.StopLoss
	}
	return price >= p.First.StopLoss
}

// legPnL computes realized PnL in USDT for a closed leg: price-change
// percent in the leg's favorable direction, leverage-scaled on the
// notional, minus the round-trip fee.
func legPnL(side model.Side, entry, exit, notional float64, leverage int, feeRate float64) float64 {
	if entry <= 0 {
		return 0
	}
	var pct float64
	if side == model.SideShort {
		pct = (entry - exit) / entry
	} else {
		pct = (exit - entry) / entry
	}
	fee := notional * feeRate * 2
	return notional*pct*float64(leverage) - fee
}

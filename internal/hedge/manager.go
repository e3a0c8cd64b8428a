package hedge

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"pinhedge/config"
	"pinhedge/internal/exchange"
	"pinhedge/internal/model"
)

const (
	closeRetries = 3
	closeBackoff = 100 * time.Millisecond

	// history of finished positions kept in memory for the API
	closedHistoryCap = 200
)

// Emitter receives trade lifecycle events. Implementations must not block;
// the manager calls it while holding the symbol lock.
type Emitter interface {
	Emit(ev *model.TradeEvent)
}

// Stats are cumulative execution counters.
type Stats struct {
	SignalsAccepted int     `json:"signals_accepted"`
	SignalsSkipped  int     `json:"signals_skipped"`
	PositionsOpened int     `json:"positions_opened"`
	HedgesOpened    int     `json:"hedges_opened"`
	PositionsClosed int     `json:"positions_closed"`
	StuckPositions  int     `json:"stuck_positions"`
	TotalPnL        float64 `json:"total_pnl"`
}

// Manager drives one position state machine per symbol. Signals open the
// first leg; every subsequent tick advances the machine. All exchange calls
// for a symbol happen under that symbol's lock, so a force-close cannot
// interleave with the tick path.
type Manager struct {
	cfg     config.HedgeConfig
	gw      exchange.Gateway
	confirm exchange.ConfirmConfig
	emitter Emitter

	// OnClosed is called with a snapshot of every finished position, after
	// its terminal event. Runs on the closing goroutine.
	OnClosed func(pos Position)

	mu    sync.Mutex
	slots map[string]*slot

	statsMu sync.Mutex
	stats   Stats
	closed  []*Position
}

type slot struct {
	mu  sync.Mutex
	pos *Position
}

// NewManager wires the state machine to an exchange gateway. emitter may be
// nil when no event sink is attached (backtests).
func NewManager(cfg config.HedgeConfig, gw exchange.Gateway, emitter Emitter) *Manager {
	return &Manager{
		cfg:     cfg,
		gw:      gw,
		confirm: exchange.DefaultConfirm,
		emitter: emitter,
		slots:   make(map[string]*slot),
	}
}

func (m *Manager) slot(symbol string) *slot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[symbol]
	if !ok {
		s = &slot{}
		m.slots[symbol] = s
	}
	return s
}

// OnSignal opens the first leg for an accepted spike signal. At most one
// position per symbol: signals arriving while one is active are skipped.
func (m *Manager) OnSignal(ctx context.Context, sig *model.SpikeSignal) error {
	s := m.slot(sig.Symbol)
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pos != nil {
		m.bumpStats(func(st *Stats) { st.SignalsSkipped++ })
		log.Printf("[hedge] %s signal skipped, position active (state=%s)", sig.Symbol, s.pos.State)
		return nil
	}

	pos := NewPosition(sig)
	m.emit(pos, model.EventSignalDetected, map[string]any{
		"type":       string(sig.Type),
		"direction":  string(sig.Direction),
		"confidence": sig.Confidence,
		"entry":      sig.EntryPrice,
		"velocity":   sig.Velocity,
	})

	if ls, ok := m.gw.(exchange.LeverageSetter); ok {
		if err := ls.SetLeverage(ctx, sig.Symbol, m.cfg.Leverage); err != nil {
			return fmt.Errorf("set leverage %s: %w", sig.Symbol, err)
		}
	}

	qty := exchange.CalcQuantity(m.gw, sig.Symbol, m.cfg.NotionalUSDT, sig.EntryPrice, m.cfg.Leverage)
	if qty <= 0 {
		return fmt.Errorf("zero quantity for %s at %.8f", sig.Symbol, sig.EntryPrice)
	}

	order, err := m.gw.PlaceMarketOrder(ctx, sig.Symbol, pos.First.Side.OrderSide(false), pos.First.Side, qty)
	if err != nil {
		if errors.Is(err, exchange.ErrOrderRejected) {
			log.Printf("[hedge] %s first leg rejected: %v", sig.Symbol, err)
			return nil
		}
		return fmt.Errorf("open first leg %s: %w", sig.Symbol, err)
	}
	fill, err := exchange.ConfirmFill(ctx, m.gw, order, m.confirm)
	if err != nil {
		return fmt.Errorf("confirm first leg %s: %w", sig.Symbol, err)
	}

	pos.First.EntryPrice = fill
	pos.First.Qty = order.Qty
	pos.First.OrderID = order.OrderID
	pos.First.Filled = true
	pos.First.OpenedAt = sig.DetectedAt
	pos.computeFirstLegTargets()
	pos.computeHedgeTarget(m.cfg.RetracementPct)
	pos.State = StateFirstLeg
	s.pos = pos

	m.bumpStats(func(st *Stats) {
		st.SignalsAccepted++
		st.PositionsOpened++
	})
	m.emit(pos, model.EventOrderFilled, map[string]any{
		"leg": "first", "side": string(pos.First.Side), "price": fill, "qty": order.Qty, "order_id": order.OrderID,
	})
	m.emit(pos, model.EventPositionOpened, map[string]any{
		"side": string(pos.First.Side), "entry": fill, "qty": order.Qty,
		"take_profit": pos.First.TakeProfit, "hedge_target": pos.HedgeTarget,
	})
	log.Printf("[hedge] %s opened %s %.6f @ %.6f tp=%.6f hedge_target=%.6f",
		sig.Symbol, pos.First.Side, order.Qty, fill, pos.First.TakeProfit, pos.HedgeTarget)
	return nil
}

// OnTick advances the symbol's state machine by one price observation.
// Timeouts are measured against the tick timestamp, not wall clock, so
// replayed streams behave exactly like live ones.
func (m *Manager) OnTick(ctx context.Context, tick *model.Tick) error {
	s := m.slot(tick.Symbol)
	s.mu.Lock()
	defer s.mu.Unlock()

	pos := s.pos
	if pos == nil {
		return nil
	}

	var err error
	switch pos.State {
	case StateFirstLeg:
		err = m.tickFirstLeg(ctx, pos, tick)
	case StateHedged:
		err = m.tickHedged(ctx, pos, tick)
	case StateClosing:
		err = m.tickClosing(ctx, pos, tick)
	}
	if pos.Done() {
		m.finalize(s, pos, tick.TS)
	}
	return err
}

func (m *Manager) tickFirstLeg(ctx context.Context, pos *Position, tick *model.Tick) error {
	if pos.Age(tick.TS) >= m.cfg.WaitTimeout {
		return m.closeFirstLeg(ctx, pos, tick.TS, ReasonHedgeTimeout)
	}
	if pos.firstLegTPHit(tick.Price) {
		return m.closeFirstLeg(ctx, pos, tick.TS, ReasonFirstLegTP)
	}
	if pos.hedgeTargetHit(tick.Price) {
		return m.openHedgeLeg(ctx, pos, tick)
	}
	return nil
}

func (m *Manager) tickHedged(ctx context.Context, pos *Position, tick *model.Tick) error {
	if !pos.First.Closed {
		if pos.firstLegTPHit(tick.Price) {
			return m.closeFirstLeg(ctx, pos, tick.TS, ReasonFirstLegTP)
		}
		if pos.firstLegBreakevenHit(tick.Price) {
			return m.closeFirstLeg(ctx, pos, tick.TS, ReasonFirstLegBreakeven)
		}
		return nil
	}
	if !pos.Second.Closed {
		return m.tickSecondLeg(ctx, pos, tick)
	}
	return nil
}

// tickClosing keeps retrying closes that failed their bounded-retry budget.
// The position is committed to exiting at this point, so legs are only ever
// closed here, never re-managed.
func (m *Manager) tickClosing(ctx context.Context, pos *Position, tick *model.Tick) error {
	if pos.First.Filled && !pos.First.Closed {
		if err := m.closeFirstLeg(ctx, pos, tick.TS, pos.CloseReason); err != nil {
			return err
		}
	}
	if pos.Second.Filled && !pos.Second.Closed {
		return m.closeSecondLeg(ctx, pos, pos.CloseReason)
	}
	return nil
}

// openHedgeLeg opens leg 2 at the hedge target with the same quantity as
// leg 1, freezing net exposure.
func (m *Manager) openHedgeLeg(ctx context.Context, pos *Position, tick *model.Tick) error {
	order, err := m.gw.PlaceMarketOrder(ctx, pos.Symbol, pos.Second.Side.OrderSide(false), pos.Second.Side, pos.First.Qty)
	if err != nil {
		if errors.Is(err, exchange.ErrOrderRejected) {
			log.Printf("[hedge] %s hedge leg rejected: %v", pos.Symbol, err)
			return nil
		}
		return fmt.Errorf("open hedge leg %s: %w", pos.Symbol, err)
	}
	fill, err := exchange.ConfirmFill(ctx, m.gw, order, m.confirm)
	if err != nil {
		return fmt.Errorf("confirm hedge leg %s: %w", pos.Symbol, err)
	}

	pos.Second.EntryPrice = fill
	pos.Second.Qty = order.Qty
	pos.Second.OrderID = order.OrderID
	pos.Second.Filled = true
	pos.Second.OpenedAt = tick.TS
	pos.State = StateHedged

	m.bumpStats(func(st *Stats) { st.HedgesOpened++ })
	m.emit(pos, model.EventOrderFilled, map[string]any{
		"leg": "second", "side": string(pos.Second.Side), "price": fill, "qty": order.Qty, "order_id": order.OrderID,
	})
	m.emit(pos, model.EventHedgeOpened, map[string]any{
		"side": string(pos.Second.Side), "entry": fill, "target": pos.HedgeTarget,
	})
	log.Printf("[hedge] %s hedged %s %.6f @ %.6f (target %.6f)",
		pos.Symbol, pos.Second.Side, order.Qty, fill, pos.HedgeTarget)
	return nil
}

// closeFirstLeg closes leg 1 and, if a hedge leg is running, arms max-profit
// mode: leg 2's stop jumps to the band around its entry and from then on only
// tightens.
func (m *Manager) closeFirstLeg(ctx context.Context, pos *Position, ts time.Time, reason string) error {
	if pos.First.Closed {
		return nil
	}
	// With no hedge running this close terminates the position, so commit
	// to the closing state first. A failed close then keeps retrying on
	// subsequent ticks instead of re-evaluating exit conditions.
	if !pos.Second.Filled {
		pos.State = StateClosing
		pos.CloseReason = reason
	}
	exit, err := m.closeLeg(ctx, pos, &pos.First, reason)
	if err != nil {
		return err
	}
	m.emit(pos, model.EventFirstLegClosed, map[string]any{
		"reason": reason, "exit": exit, "pnl": pos.First.PnL,
	})
	log.Printf("[hedge] %s first leg closed @ %.6f reason=%s pnl=%.4f", pos.Symbol, exit, reason, pos.First.PnL)

	if pos.Second.Filled && !pos.Second.Closed {
		pos.enterMaxProfitMode(m.cfg.BreakevenBandPct)
	}
	return nil
}

// enterMaxProfitMode sets leg 2's initial protective stop.
func (p *Position) enterMaxProfitMode(bandPct float64) {
	p.MaxProfitMode = true
	entry := p.Second.EntryPrice
	if p.Second.Side == model.SideLong {
		p.tightenSecondStop(entry * (1 - bandPct))
	} else {
		p.tightenSecondStop(entry * (1 + bandPct))
	}
}

// tightenSecondStop moves leg 2's stop only in the protective direction.
func (p *Position) tightenSecondStop(stop float64) {
	cur := p.Second.StopLoss
	if cur == 0 {
		p.Second.StopLoss = stop
		return
	}
	if p.Second.Side == model.SideLong {
		if stop > cur {
			p.Second.StopLoss = stop
		}
	} else if stop < cur {
		p.Second.StopLoss = stop
	}
}

// tickSecondLeg runs the leg 2 exit priority: quick take-profit, then the
// protective stop (breakeven band or trailing), then the max-hold timeout.
func (m *Manager) tickSecondLeg(ctx context.Context, pos *Position, tick *model.Tick) error {
	leg := &pos.Second
	profit := leg.ProfitPct(tick.Price)
	if profit > leg.MaxProfitPct {
		leg.MaxProfitPct = profit
	}

	if m.cfg.QuickTPEnabled && profit >= m.cfg.QuickTPPct {
		return m.closeSecondLeg(ctx, pos, ReasonQuickTP)
	}

	if leg.MaxProfitPct >= m.cfg.TrailArmPct {
		// Protect half the peak gain under 1% profit, and all but the
		// configured pullback fraction above it.
		protect := 0.5
		if leg.MaxProfitPct >= 1.0 {
			protect = 1 - m.cfg.TrailPullback
		}
		var stop float64
		if leg.Side == model.SideLong {
			stop = leg.EntryPrice * (1 + leg.MaxProfitPct*protect/100)
		} else {
			stop = leg.EntryPrice * (1 - leg.MaxProfitPct*protect/100)
		}
		pos.tightenSecondStop(stop)
	}

	if stopHit(leg, tick.Price) {
		reason := ReasonBreakevenSL
		if leg.MaxProfitPct >= m.cfg.TrailArmPct {
			reason = ReasonTrailingSL
		}
		return m.closeSecondLeg(ctx, pos, reason)
	}

	if tick.TS.Sub(leg.OpenedAt) >= m.cfg.MaxHold {
		return m.closeSecondLeg(ctx, pos, ReasonSecondLegTimeout)
	}
	return nil
}

func stopHit(leg *Leg, price float64) bool {
	if leg.StopLoss == 0 {
		return false
	}
	if leg.Side == model.SideLong {
		return price <= leg.StopLoss
	}
	return price >= leg.StopLoss
}

func (m *Manager) closeSecondLeg(ctx context.Context, pos *Position, reason string) error {
	if pos.Second.Closed {
		return nil
	}
	// Leg 2 closes only when the position is terminating.
	pos.State = StateClosing
	pos.CloseReason = reason
	exit, err := m.closeLeg(ctx, pos, &pos.Second, reason)
	if err != nil {
		return err
	}
	m.emit(pos, model.EventHedgeClosed, map[string]any{
		"reason": reason, "exit": exit, "pnl": pos.Second.PnL, "max_profit_pct": pos.Second.MaxProfitPct,
	})
	log.Printf("[hedge] %s hedge leg closed @ %.6f reason=%s pnl=%.4f", pos.Symbol, exit, reason, pos.Second.PnL)
	return nil
}

// closeLeg submits the closing market order with bounded retries and marks
// the leg closed only after a confirmed (or fallback-priced) fill, so a
// replayed tick can never double-close.
func (m *Manager) closeLeg(ctx context.Context, pos *Position, leg *Leg, reason string) (float64, error) {
	var lastErr error
	for attempt := 1; attempt <= closeRetries; attempt++ {
		order, err := m.gw.PlaceMarketOrder(ctx, pos.Symbol, leg.Side.OrderSide(true), leg.Side, leg.Qty)
		if err == nil {
			exit, cerr := exchange.ConfirmFill(ctx, m.gw, order, m.confirm)
			if cerr == nil {
				leg.Closed = true
				leg.ExitPrice = exit
				leg.PnL = legPnL(leg.Side, leg.EntryPrice, exit, m.cfg.NotionalUSDT, m.cfg.Leverage, m.cfg.FeeRate)
				return exit, nil
			}
			err = cerr
		}
		lastErr = err
		log.Printf("[hedge] %s close attempt %d/%d failed (%s): %v", pos.Symbol, attempt, closeRetries, reason, err)
		if attempt < closeRetries {
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(closeBackoff):
			}
		}
	}
	m.bumpStats(func(st *Stats) { st.StuckPositions++ })
	m.emit(pos, model.EventStuckPosition, map[string]any{
		"reason": reason, "side": string(leg.Side), "qty": leg.Qty, "error": lastErr.Error(),
	})
	return 0, fmt.Errorf("close %s %s after %d attempts: %w", pos.Symbol, leg.Side, closeRetries, lastErr)
}

// finalize retires a fully closed position and records its totals.
func (m *Manager) finalize(s *slot, pos *Position, ts time.Time) {
	pos.TotalPnL = pos.First.PnL + pos.Second.PnL
	pos.ClosedAt = ts
	pos.State = StateNone
	s.pos = nil

	m.bumpStats(func(st *Stats) {
		st.PositionsClosed++
		st.TotalPnL += pos.TotalPnL
	})
	m.statsMu.Lock()
	m.closed = append(m.closed, pos)
	if len(m.closed) > closedHistoryCap {
		m.closed = m.closed[len(m.closed)-closedHistoryCap:]
	}
	m.statsMu.Unlock()

	m.emit(pos, model.EventPositionClosed, map[string]any{
		"reason": pos.CloseReason, "total_pnl": pos.TotalPnL, "hedged": pos.Second.Filled,
	})
	log.Printf("[hedge] %s position closed reason=%s total_pnl=%.4f", pos.Symbol, pos.CloseReason, pos.TotalPnL)
	if m.OnClosed != nil {
		m.OnClosed(*pos)
	}
}

// ForceCloseAll market-closes every open leg across symbols, used on
// shutdown and by the manual close endpoint.
func (m *Manager) ForceCloseAll(ctx context.Context, reason string) error {
	m.mu.Lock()
	slots := make(map[string]*slot, len(m.slots))
	for sym, s := range m.slots {
		slots[sym] = s
	}
	m.mu.Unlock()

	var firstErr error
	for _, s := range slots {
		s.mu.Lock()
		pos := s.pos
		if pos == nil {
			s.mu.Unlock()
			continue
		}
		if pos.First.Filled && !pos.First.Closed {
			if err := m.closeFirstLeg(ctx, pos, time.Now().UTC(), reason); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		if pos.Second.Filled && !pos.Second.Closed {
			if err := m.closeSecondLeg(ctx, pos, reason); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		if pos.Done() {
			pos.CloseReason = reason
			m.finalize(s, pos, time.Now().UTC())
		}
		s.mu.Unlock()
	}
	return firstErr
}

// Active returns snapshots of the currently open positions.
func (m *Manager) Active() []Position {
	m.mu.Lock()
	slots := make([]*slot, 0, len(m.slots))
	for _, s := range m.slots {
		slots = append(slots, s)
	}
	m.mu.Unlock()

	var out []Position
	for _, s := range slots {
		s.mu.Lock()
		if s.pos != nil {
			out = append(out, *s.pos)
		}
		s.mu.Unlock()
	}
	return out
}

// Closed returns up to n most recent finished positions, newest last.
func (m *Manager) Closed(n int) []Position {
	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	if n <= 0 || n > len(m.closed) {
		n = len(m.closed)
	}
	out := make([]Position, 0, n)
	for _, p := range m.closed[len(m.closed)-n:] {
		out = append(out, *p)
	}
	return out
}

// Stats returns a copy of the cumulative counters.
func (m *Manager) Stats() Stats {
	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	return m.stats
}

func (m *Manager) bumpStats(fn func(*Stats)) {
	m.statsMu.Lock()
	fn(&m.stats)
	m.statsMu.Unlock()
}

func (m *Manager) emit(pos *Position, event string, fields map[string]any) {
	if m.emitter == nil {
		return
	}
	m.emitter.Emit(&model.TradeEvent{
		Symbol:        pos.Symbol,
		Event:         event,
		TS:            time.Now().UTC(),
		CorrelationID: pos.CorrelationID(),
		Fields:        fields,
	})
}

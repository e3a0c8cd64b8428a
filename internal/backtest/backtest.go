// Package backtest runs a recorded tick file through the full pipeline
// (candles, detector, hedge manager) against the paper gateway and reports
// what the strategy would have done.
package backtest

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"pinhedge/config"
	"pinhedge/internal/engine"
	"pinhedge/internal/exchange"
	"pinhedge/internal/hedge"
	"pinhedge/internal/marketdata/replay"
	"pinhedge/internal/model"
)

// Result summarizes one backtest run.
type Result struct {
	Ticks    int64         `json:"ticks"`
	Dropped  int64         `json:"dropped"`
	Signals  int64         `json:"signals"`
	Duration time.Duration `json:"duration"`

	Stats  hedge.Stats      `json:"stats"`
	Closed []hedge.Position `json:"closed"`
}

// Runner replays one file through a fresh pipeline. Each Run builds its own
// manager and engine so runs are independent.
type Runner struct {
	cfg         *config.Config
	slippageBps float64

	// OnEvent, when set, receives every trade event (for verbose output).
	OnEvent func(ev *model.TradeEvent)
}

// New creates a runner. slippageBps is applied by the paper gateway to every
// simulated fill.
func New(cfg *config.Config, slippageBps float64) *Runner {
	return &Runner{cfg: cfg, slippageBps: slippageBps}
}

// Run replays tickFile at the given speed (0 = as fast as possible) and
// returns the aggregated result. Open positions are flattened at the last
// seen price when the file ends.
func (r *Runner) Run(ctx context.Context, tickFile string, speed float64) (*Result, error) {
	gw := exchange.NewPaper(r.slippageBps)

	var emitter hedge.Emitter
	if r.OnEvent != nil {
		emitter = hedge.EmitterFunc(r.OnEvent)
	}
	mgr := hedge.NewManager(r.cfg.Hedge, gw, emitter)

	var signals atomic.Int64
	eng := engine.New(r.cfg, mgr, gw, engine.Hooks{
		OnSignal: func(*model.SpikeSignal) { signals.Add(1) },
	})

	tickCh := make(chan *model.Tick, 4096)
	engineDone := make(chan struct{})
	go func() {
		eng.Run(ctx, tickCh)
		close(engineDone)
	}()

	start := time.Now()
	err := replay.New(tickFile).Run(ctx, speed, tickCh)
	close(tickCh)
	<-engineDone
	if err != nil && ctx.Err() == nil {
		return nil, fmt.Errorf("backtest: %w", err)
	}

	// Flatten whatever the file left open so the report covers every entry.
	if err := mgr.ForceCloseAll(context.Background(), hedge.ReasonShutdown); err != nil {
		return nil, fmt.Errorf("backtest: force close: %w", err)
	}

	closed := mgr.Closed(0)
	sort.Slice(closed, func(i, j int) bool { return closed[i].CreatedAt.Before(closed[j].CreatedAt) })

	return &Result{
		Ticks:    eng.Processed(),
		Dropped:  eng.Dropped(),
		Signals:  signals.Load(),
		Duration: time.Since(start),
		Stats:    mgr.Stats(),
		Closed:   closed,
	}, nil
}

// Report renders a plain-text summary of the run.
func (res *Result) Report() string {
	s := res.Stats
	out := fmt.Sprintf(
		"ticks=%d dropped=%d signals=%d elapsed=%s\n"+
			"positions: opened=%d hedged=%d closed=%d stuck=%d\n"+
			"pnl: total=%.4f USDT\n",
		res.Ticks, res.Dropped, res.Signals, res.Duration.Round(time.Millisecond),
		s.PositionsOpened, s.HedgesOpened, s.PositionsClosed, s.StuckPositions,
		s.TotalPnL,
	)
	byReason := map[string]int{}
	for _, p := range res.Closed {
		byReason[p.CloseReason]++
	}
	reasons := make([]string, 0, len(byReason))
	for r := range byReason {
		reasons = append(reasons, r)
	}
	sort.Strings(reasons)
	for _, r := range reasons {
		out += fmt.Sprintf("  close[%s]=%d\n", r, byReason[r])
	}
	return out
}

// Package engine fans the tick stream out to per-symbol workers. Each worker
// owns that symbol's candle book and detector and drives the hedge manager,
// so all detection state is single-writer and lock-free.
package engine

import (
	"context"
	"log"
	"sync"
	"sync/atomic"

	"pinhedge/config"
	"pinhedge/internal/detector"
	"pinhedge/internal/hedge"
	"pinhedge/internal/marketdata/candles"
	"pinhedge/internal/model"
)

const defaultQueueSize = 1024

// PriceSink receives the latest price per symbol. The paper gateway
// implements it so simulated fills track the stream.
type PriceSink interface {
	SetPrice(symbol string, price float64)
}

// Hooks are optional taps on the pipeline. All run on the symbol's worker
// goroutine and must be fast.
type Hooks struct {
	OnTFCandle func(c model.Candle)         // every closed candle, any timeframe
	OnSignal   func(sig *model.SpikeSignal) // every emitted spike signal
	OnDrop     func(symbol string)          // tick dropped on a full queue
}

// Engine dispatches ticks to one worker per configured symbol. Ticks for
// unknown symbols are dropped. A slow worker sheds load instead of stalling
// the feed.
type Engine struct {
	cfg   *config.Config
	mgr   *hedge.Manager
	hooks Hooks
	sink  PriceSink

	queues map[string]chan *model.Tick

	processed atomic.Int64
	dropped   atomic.Int64
}

// New builds the engine. sink may be nil for live trading where fills come
// from the exchange.
func New(cfg *config.Config, mgr *hedge.Manager, sink PriceSink, hooks Hooks) *Engine {
	queues := make(map[string]chan *model.Tick, len(cfg.Symbols))
	for _, sym := range cfg.Symbols {
		queues[sym] = make(chan *model.Tick, defaultQueueSize)
	}
	return &Engine{cfg: cfg, mgr: mgr, hooks: hooks, sink: sink, queues: queues}
}

// Run consumes ticks until the input closes or the context is canceled,
// then drains the workers. Blocking call.
func (e *Engine) Run(ctx context.Context, in <-chan *model.Tick) {
	var wg sync.WaitGroup
	for sym, q := range e.queues {
		wg.Add(1)
		go func(sym string, q chan *model.Tick) {
			defer wg.Done()
			e.worker(ctx, sym, q)
		}(sym, q)
	}

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case tick, ok := <-in:
			if !ok {
				break loop
			}
			e.dispatch(tick)
		}
	}

	for _, q := range e.queues {
		close(q)
	}
	wg.Wait()
	log.Printf("[engine] stopped, processed=%d dropped=%d", e.processed.Load(), e.dropped.Load())
}

func (e *Engine) dispatch(tick *model.Tick) {
	if tick == nil || !tick.Valid() {
		return
	}
	q, ok := e.queues[tick.Symbol]
	if !ok {
		return
	}
	select {
	case q <- tick:
	default:
		n := e.dropped.Add(1)
		if n%1000 == 1 {
			log.Printf("[engine] %s queue full, dropped=%d", tick.Symbol, n)
		}
		if e.hooks.OnDrop != nil {
			e.hooks.OnDrop(tick.Symbol)
		}
	}
}

// worker is the per-symbol pipeline: candle book, detector, hedge manager.
func (e *Engine) worker(ctx context.Context, symbol string, q <-chan *model.Tick) {
	book := candles.NewBook(symbol, e.cfg.Timeframes, e.cfg.CandleHistory)
	det := detector.New(symbol, detectorConfig(e.cfg.Detector))

	for tick := range q {
		e.processed.Add(1)
		if e.sink != nil {
			e.sink.SetPrice(tick.Symbol, tick.Price)
		}

		closedTFs := book.OnTick(tick.Price, tick.Qty, tick.TS)
		det.OnTick(tick.Price, tick.TS)
		for _, tf := range closedTFs {
			c, ok := book.LastClosed(tf)
			if !ok {
				continue
			}
			det.OnCandleClose(c)
			if e.hooks.OnTFCandle != nil {
				e.hooks.OnTFCandle(c)
			}
		}

		if sig := det.Detect(book, tick.Price, tick.TS); sig != nil {
			log.Printf("[engine] %s %s signal conf=%d velocity=%.5f atr=%.6f",
				symbol, sig.Type, sig.Confidence, sig.Velocity, sig.ATRValue)
			if e.hooks.OnSignal != nil {
				e.hooks.OnSignal(sig)
			}
			if err := e.mgr.OnSignal(ctx, sig); err != nil {
				log.Printf("[engine] %s open failed: %v", symbol, err)
			}
		}

		if err := e.mgr.OnTick(ctx, tick); err != nil {
			log.Printf("[engine] %s position update failed: %v", symbol, err)
		}
	}
}

// Processed returns the count of ticks handed to workers.
func (e *Engine) Processed() int64 { return e.processed.Load() }

// Dropped returns the count of ticks shed on full queues.
func (e *Engine) Dropped() int64 { return e.dropped.Load() }

func detectorConfig(d config.DetectorConfig) detector.Config {
	return detector.Config{
		ATRPeriod:        d.ATRPeriod,
		SpikeMultiplier:  d.SpikeMultiplier,
		RetraceMult:      d.RetraceMult,
		Window:           d.Window,
		Cooldown:         d.Cooldown,
		ShadowRatio:      d.ShadowRatio,
		FalseBreakoutPct: d.FalseBreakoutPct,
		Timeframe:        d.Timeframe,
	}
}

package redis

import (
	"context"
	"log"
	"sync"

	"pinhedge/internal/model"
)

// eventWriter is the sink behind the circuit breaker.
type eventWriter interface {
	Publish(ctx context.Context, ev *model.TradeEvent) error
}

// BufferedPublisher wraps a Publisher with a circuit breaker.
// During circuit-open state, events are buffered locally and flushed
// when the circuit closes again, so a Redis outage loses nothing.
type BufferedPublisher struct {
	writer eventWriter
	cb     *CircuitBreaker
	ctx    context.Context

	mu     sync.Mutex
	buffer []*model.TradeEvent
	maxBuf int // max buffered events before dropping oldest

	// Callbacks
	OnBuffer func()          // called when an event is buffered (for metrics)
	OnFlush  func(count int) // called after flushing buffered events
}

// NewBufferedPublisher creates a BufferedPublisher wrapping the given writer.
func NewBufferedPublisher(ctx context.Context, w eventWriter, cb *CircuitBreaker, maxBufferSize int) *BufferedPublisher {
	if maxBufferSize <= 0 {
		maxBufferSize = 10000
	}
	bp := &BufferedPublisher{
		writer: w,
		cb:     cb,
		ctx:    ctx,
		buffer: make([]*model.TradeEvent, 0, 256),
		maxBuf: maxBufferSize,
	}

	// Register flush on circuit close
	prevCallback := cb.OnStateChange
	cb.OnStateChange = func(from, to State) {
		if prevCallback != nil {
			prevCallback(from, to)
		}
		if to == StateClosed {
			go bp.flush()
		}
	}

	return bp
}

// Emit implements the hedge manager's event sink. Never blocks the trading
// path on Redis: failures count against the breaker, open-circuit events are
// buffered.
func (bp *BufferedPublisher) Emit(ev *model.TradeEvent) {
	err := bp.cb.Execute(func() error {
		return bp.writer.Publish(bp.ctx, ev)
	})
	if err == ErrCircuitOpen {
		bp.bufferEvent(ev)
		return
	}
	if err != nil {
		log.Printf("[buffered-publisher] publish %s/%s: %v", ev.Symbol, ev.Event, err)
	}
}

// Run consumes events from a channel, for wiring behind the fanout bus.
func (bp *BufferedPublisher) Run(ctx context.Context, eventCh <-chan *model.TradeEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-eventCh:
			if !ok {
				return
			}
			bp.Emit(ev)
		}
	}
}

func (bp *BufferedPublisher) bufferEvent(ev *model.TradeEvent) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	if len(bp.buffer) >= bp.maxBuf {
		// Buffer full — drop oldest
		bp.buffer = bp.buffer[1:]
	}
	bp.buffer = append(bp.buffer, ev)

	if bp.OnBuffer != nil {
		bp.OnBuffer()
	}
}

// flush replays all buffered events through the underlying writer.
func (bp *BufferedPublisher) flush() {
	bp.mu.Lock()
	if len(bp.buffer) == 0 {
		bp.mu.Unlock()
		return
	}
	// Take ownership of the buffer
	toFlush := bp.buffer
	bp.buffer = make([]*model.TradeEvent, 0, 256)
	bp.mu.Unlock()

	flushed := 0
	for _, ev := range toFlush {
		if err := bp.writer.Publish(bp.ctx, ev); err != nil {
			log.Printf("[buffered-publisher] flush %s/%s: %v", ev.Symbol, ev.Event, err)
			continue
		}
		flushed++
	}

	log.Printf("[buffered-publisher] flushed %d buffered events", flushed)
	if bp.OnFlush != nil {
		bp.OnFlush(flushed)
	}
}

// PendingCount returns the number of buffered events waiting to be flushed.
func (bp *BufferedPublisher) PendingCount() int {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	return len(bp.buffer)
}

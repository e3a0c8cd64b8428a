package recorder

import (
	"context"
	"log"
	"time"

	"pinhedge/internal/model"
	"pinhedge/internal/ringbuf"
)

const drainInterval = 10 * time.Millisecond

// AsyncRecorder decouples tick recording from the hot path: Offer pushes
// into a lock-free ring and returns immediately, a single writer goroutine
// drains the ring to disk. Full-ring ticks are dropped, not blocked on.
type AsyncRecorder struct {
	rec  *Recorder
	ring *ringbuf.Ring[*model.Tick]
}

// NewAsync wraps rec with a ring of the given capacity.
func NewAsync(rec *Recorder, capacity int) *AsyncRecorder {
	return &AsyncRecorder{
		rec:  rec,
		ring: ringbuf.New[*model.Tick](capacity),
	}
}

// Offer enqueues a tick for recording. Returns false if the ring was full.
func (a *AsyncRecorder) Offer(tick *model.Tick) bool {
	return a.ring.Push(tick)
}

// Dropped returns the number of ticks lost to a full ring.
func (a *AsyncRecorder) Dropped() uint64 {
	return a.ring.Overflow()
}

// Run drains the ring until ctx is cancelled, then writes what is left and
// closes the underlying file.
func (a *AsyncRecorder) Run(ctx context.Context) {
	t := time.NewTicker(drainInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			a.drain()
			if err := a.rec.Close(); err != nil {
				log.Printf("[recorder] close: %v", err)
			}
			return
		case <-t.C:
			a.drain()
		}
	}
}

func (a *AsyncRecorder) drain() {
	for {
		tick, ok := a.ring.Pop()
		if !ok {
			return
		}
		if err := a.rec.Record(tick); err != nil {
			log.Printf("[recorder] write: %v", err)
			return
		}
	}
}

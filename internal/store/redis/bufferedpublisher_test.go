package redis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"pinhedge/internal/model"
)

// fakeWriter counts publishes and can be toggled to fail.
type fakeWriter struct {
	mu        sync.Mutex
	fail      bool
	published []*model.TradeEvent
}

func (f *fakeWriter) Publish(ctx context.Context, ev *model.TradeEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("redis down")
	}
	f.published = append(f.published, ev)
	return nil
}

func (f *fakeWriter) setFail(v bool) {
	f.mu.Lock()
	f.fail = v
	f.mu.Unlock()
}

func (f *fakeWriter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

func event(symbol, name string) *model.TradeEvent {
	return &model.TradeEvent{Symbol: symbol, Event: name, TS: time.Now().UTC()}
}

func TestBufferedPublisher_PassthroughWhenHealthy(t *testing.T) {
	fw := &fakeWriter{}
	cb := NewCircuitBreaker(3, 50*time.Millisecond)
	bp := NewBufferedPublisher(context.Background(), fw, cb, 100)

	bp.Emit(event("BTCUSDT", model.EventPositionOpened))
	if fw.count() != 1 {
		t.Fatalf("published = %d, want 1", fw.count())
	}
	if bp.PendingCount() != 0 {
		t.Fatalf("pending = %d, want 0", bp.PendingCount())
	}
}

func TestBufferedPublisher_BuffersWhileOpenThenFlushes(t *testing.T) {
	fw := &fakeWriter{}
	cb := NewCircuitBreaker(2, 30*time.Millisecond)
	bp := NewBufferedPublisher(context.Background(), fw, cb, 100)

	// Trip the breaker.
	fw.setFail(true)
	bp.Emit(event("BTCUSDT", model.EventPositionOpened))
	bp.Emit(event("BTCUSDT", model.EventHedgeOpened))
	if cb.CurrentState() != StateOpen {
		t.Fatalf("state = %v, want open", cb.CurrentState())
	}

	// Open circuit: events buffer instead of hitting Redis.
	bp.Emit(event("BTCUSDT", model.EventFirstLegClosed))
	bp.Emit(event("BTCUSDT", model.EventPositionClosed))
	if bp.PendingCount() != 2 {
		t.Fatalf("pending = %d, want 2", bp.PendingCount())
	}

	// Recovery: probe succeeds, breaker closes, buffer flushes.
	fw.setFail(false)
	time.Sleep(40 * time.Millisecond)
	bp.Emit(event("BTCUSDT", model.EventStuckPosition))

	deadline := time.Now().Add(time.Second)
	for bp.PendingCount() > 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if bp.PendingCount() != 0 {
		t.Fatalf("pending = %d after flush", bp.PendingCount())
	}
	if fw.count() != 3 { // probe event + 2 flushed
		t.Fatalf("published = %d, want 3", fw.count())
	}
}

func TestBufferedPublisher_DropsOldestWhenFull(t *testing.T) {
	fw := &fakeWriter{fail: true}
	cb := NewCircuitBreaker(1, time.Minute)
	bp := NewBufferedPublisher(context.Background(), fw, cb, 2)

	bp.Emit(event("BTCUSDT", "a")) // trips the breaker
	bp.Emit(event("BTCUSDT", "b"))
	bp.Emit(event("BTCUSDT", "c"))
	bp.Emit(event("BTCUSDT", "d"))

	if bp.PendingCount() != 2 {
		t.Fatalf("pending = %d, want cap of 2", bp.PendingCount())
	}
}

package bus

import (
	"context"
	"log"
	"sync"
	"time"

	"pinhedge/internal/model"
)

// FanOut broadcasts ticks from a single input channel to N output channels.
// If an output channel is full, the tick is dropped for that consumer to
// prevent a slow consumer from blocking the feed.
type FanOut struct {
	mu      sync.RWMutex
	outputs []output
	bufSize int

	// OnDrop is called when a tick is dropped for a subscriber.
	OnDrop func(name string)
}

type output struct {
	name string
	ch   chan *model.Tick
}

// New creates a FanOut with the given buffer size for output channels.
func New(outputBufferSize int) *FanOut {
	return &FanOut{
		bufSize: outputBufferSize,
	}
}

// Subscribe creates and returns a new named output channel.
func (f *FanOut) Subscribe(name string) <-chan *model.Tick {
	ch := make(chan *model.Tick, f.bufSize)
	f.mu.Lock()
	f.outputs = append(f.outputs, output{name: name, ch: ch})
	f.mu.Unlock()
	return ch
}

// Run reads from the input channel and fans out to all subscribers.
// Blocks until ctx is cancelled or input is closed.
func (f *FanOut) Run(ctx context.Context, input <-chan *model.Tick) {
	defer func() {
		f.mu.RLock()
		for _, o := range f.outputs {
			close(o.ch)
		}
		f.mu.RUnlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case tick, ok := <-input:
			if !ok {
				return
			}
			f.mu.RLock()
			for _, o := range f.outputs {
				select {
				case o.ch <- tick:
				default:
					if f.OnDrop != nil {
						f.OnDrop(o.name)
					} else {
						log.Printf("[bus] subscriber %q full, dropping %s tick", o.name, tick.Symbol)
					}
				}
			}
			f.mu.RUnlock()
		}
	}
}

// ChannelStat is (length, capacity) for one subscriber channel.
// Used for reporting channel saturation percentage.
type ChannelStat struct {
	Name string
	Len  int
	Cap  int
}

func (f *FanOut) ChannelStats() []ChannelStat {
	f.mu.RLock()
	defer f.mu.RUnlock()
	stats := make([]ChannelStat, len(f.outputs))
	for i, o := range f.outputs {
		stats[i] = ChannelStat{Name: o.name, Len: len(o.ch), Cap: cap(o.ch)}
	}
	return stats
}

// SampleSaturation reports each subscriber channel's fill percentage through
// set on a fixed interval until ctx is done.
func (f *FanOut) SampleSaturation(ctx context.Context, every time.Duration, set func(name string, pct float64)) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			f.sampleOnce(set)
		}
	}
}

func (f *FanOut) sampleOnce(set func(name string, pct float64)) {
	for _, st := range f.ChannelStats() {
		if st.Cap == 0 {
			continue
		}
		set(st.Name, float64(st.Len)/float64(st.Cap)*100)
	}
}

package hedge

import (
	"log"

	"pinhedge/internal/model"
)

// EmitterFunc adapts a function to the Emitter interface.
type EmitterFunc func(ev *model.TradeEvent)

func (f EmitterFunc) Emit(ev *model.TradeEvent) { f(ev) }

// MultiEmitter forwards each event to every child emitter in order.
type MultiEmitter []Emitter

func (m MultiEmitter) Emit(ev *model.TradeEvent) {
	for _, e := range m {
		if e != nil {
			e.Emit(ev)
		}
	}
}

// ChanEmitter decouples event consumers from the trading path: Emit never
// blocks, events are shed if the consumer falls behind.
type ChanEmitter struct {
	ch chan *model.TradeEvent

	// OnDrop is called when an event is shed on a full channel.
	OnDrop func()
}

// NewChanEmitter creates a channel-backed emitter with the given buffer.
func NewChanEmitter(size int) *ChanEmitter {
	return &ChanEmitter{ch: make(chan *model.TradeEvent, size)}
}

// Ch returns the consumer side.
func (c *ChanEmitter) Ch() <-chan *model.TradeEvent { return c.ch }

// Close closes the channel once no more events will be emitted.
func (c *ChanEmitter) Close() { close(c.ch) }

func (c *ChanEmitter) Emit(ev *model.TradeEvent) {
	select {
	case c.ch <- ev:
	default:
		if c.OnDrop != nil {
			c.OnDrop()
		} else {
			log.Printf("[hedge] event channel full, dropping %s/%s", ev.Symbol, ev.Event)
		}
	}
}

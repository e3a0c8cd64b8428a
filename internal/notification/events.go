package notification

import (
	"context"
	"fmt"
	"time"

	"pinhedge/internal/model"
)

// EventRouter turns trade lifecycle events into alerts. Only events a human
// would act on are forwarded; fills and signals stay in the event stream.
type EventRouter struct {
	notifier Notifier
}

// NewEventRouter wires a notifier to the event stream.
func NewEventRouter(n Notifier) *EventRouter {
	return &EventRouter{notifier: n}
}

// Run consumes events until ctx is cancelled or the channel closes.
func (r *EventRouter) Run(ctx context.Context, eventCh <-chan *model.TradeEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-eventCh:
			if !ok {
				return
			}
			if alert, ok := alertFor(ev); ok {
				sendCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
				r.notifier.Send(sendCtx, alert)
				cancel()
			}
		}
	}
}

// alertFor maps an event to an alert, or reports that it is not alert-worthy.
func alertFor(ev *model.TradeEvent) (Alert, bool) {
	switch ev.Event {
	case model.EventPositionOpened:
		return Alert{
			Level: AlertInfo,
			Title: fmt.Sprintf("%s position opened", ev.Symbol),
			Message: fmt.Sprintf("side=%v entry=%v hedge_target=%v",
				ev.Fields["side"], ev.Fields["entry"], ev.Fields["hedge_target"]),
		}, true
	case model.EventHedgeOpened:
		return Alert{
			Level:   AlertWarning,
			Title:   fmt.Sprintf("%s hedged", ev.Symbol),
			Message: fmt.Sprintf("side=%v entry=%v", ev.Fields["side"], ev.Fields["entry"]),
		}, true
	case model.EventPositionClosed:
		return Alert{
			Level: AlertInfo,
			Title: fmt.Sprintf("%s position closed", ev.Symbol),
			Message: fmt.Sprintf("reason=%v pnl=%v hedged=%v",
				ev.Fields["reason"], ev.Fields["total_pnl"], ev.Fields["hedged"]),
		}, true
	case model.EventStuckPosition:
		return Alert{
			Level: AlertCritical,
			Title: fmt.Sprintf("%s STUCK POSITION", ev.Symbol),
			Message: fmt.Sprintf("manual close required: side=%v qty=%v error=%v",
				ev.Fields["side"], ev.Fields["qty"], ev.Fields["error"]),
		}, true
	}
	return Alert{}, false
}

package workers

import (
	"context"
	"log/slog"

	"join-code/contract"
	"join-code/domain/event"
)

// BusDispatcher drains decoded bus events into the router, one at a time,
// preserving bus delivery order.
type BusDispatcher struct {
	log     *slog.Logger
	handler contract.BusHandler
	events  <-chan event.ReplicatedEvent
}

func NewBusDispatcher(log *slog.Logger, handler contract.BusHandler, events <-chan event.ReplicatedEvent) *BusDispatcher {
	return &BusDispatcher{log: log, handler: handler, events: events}
}

func (d *BusDispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			d.log.Debug("Context done, stopping bus dispatch")
			return nil
		case evt, ok := <-d.events:
			if !ok {
				return nil
			}
			d.handler.OnBusMessage(ctx, evt)
		}
	}
}

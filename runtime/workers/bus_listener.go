package workers

import (
	"context"
	"log/slog"

	"join-code/contract"
	"join-code/domain/event"
)

// BusListener is the single goroutine owning the bus subscription.
// It decodes every message and hands it to the dispatcher through events,
// so no new execution context is created per message.
type BusListener struct {
	log     *slog.Logger
	bus     contract.Bus
	channel string
	events  chan<- event.ReplicatedEvent
}

func NewBusListener(log *slog.Logger, bus contract.Bus, channel string, events chan<- event.ReplicatedEvent) *BusListener {
	return &BusListener{log: log, bus: bus, channel: channel, events: events}
}

func (l *BusListener) Run(ctx context.Context) error {
	l.log.Info("Subscribing to bus", "channel", l.channel)
	err := l.bus.Subscribe(ctx, l.channel, func(payload []byte) {
		evt, err := event.Unmarshal(payload)
		if err != nil {
			l.log.Warn("Dropping undecodable bus message", "channel", l.channel, "error", err)
			return
		}
		select {
		case l.events <- evt:
		case <-ctx.Done():
		}
	})
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// Package runtime holds the room synchronization engine: the room registry,
// turn arbitration, fan-out and the background workers replicating rooms
// across instances.
package runtime

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"join-code/contract"
	"join-code/domain/event"
	"join-code/runtime/workers"
)

// Orchestrator wires the bus workers under the supervisor.
type Orchestrator struct {
	mu         sync.Mutex
	log        *slog.Logger
	supervisor contract.ISupervisor
	router     *Router
	bus        contract.Bus
	channel    string
	events     chan event.ReplicatedEvent

	monitorInterval      time.Duration
	lowCapacityThreshold int

	lockKeeper      contract.LockKeeper
	refreshInterval time.Duration
}

func NewOrchestrator(log *slog.Logger, supervisor contract.ISupervisor, router *Router,
	bus contract.Bus, channel string, bufferSize int) *Orchestrator {
	return &Orchestrator{
		log:        log,
		supervisor: supervisor,
		router:     router,
		bus:        bus,
		channel:    channel,
		events:     make(chan event.ReplicatedEvent, bufferSize),
	}
}

// WithHealthMonitor adds a periodic health report to the supervised workers.
func (o *Orchestrator) WithHealthMonitor(interval time.Duration, lowCapacityThreshold int) *Orchestrator {
	o.monitorInterval = interval
	o.lowCapacityThreshold = lowCapacityThreshold
	return o
}

// WithLockRefresher keeps the shared locks of local holders alive.
func (o *Orchestrator) WithLockRefresher(keeper contract.LockKeeper, interval time.Duration) *Orchestrator {
	o.lockKeeper = keeper
	o.refreshInterval = interval
	return o
}

// Start registers the bus listener and dispatcher, then blocks running the
// supervisor until ctx is canceled or Stop is called.
func (o *Orchestrator) Start(ctx context.Context) error {
	listener := workers.NewBusListener(o.log, o.bus, o.channel, o.events)
	dispatcher := workers.NewBusDispatcher(o.log, o.router, o.events)

	o.mu.Lock()
	o.supervisor.Add(listener, dispatcher)
	if o.monitorInterval > 0 {
		channels := []workers.NamedChannel{{Name: "bus_events", Channel: o.events}}
		o.supervisor.Add(workers.NewHealthMonitor(o.log, gauges{o.router}, channels, o.monitorInterval, o.lowCapacityThreshold))
	}
	if o.lockKeeper != nil && o.refreshInterval > 0 {
		o.supervisor.Add(workers.NewLockRefresher(o.log, o.lockKeeper, o.refreshInterval))
	}
	o.mu.Unlock()

	o.log.Info("Starting orchestrator and all supervised workers", "instance_id", o.router.InstanceID())
	o.supervisor.Run(ctx)
	return nil
}

func (o *Orchestrator) Stop() {
	o.log.Info("Requesting orchestrator shutdown")
	o.supervisor.Stop()
}

type gauges struct {
	router *Router
}

func (g gauges) Rooms() int { return g.router.registry.Len() }

func (g gauges) Connections() int { return g.router.registry.Connections() }

func (g gauges) Suppressed() uint64 { return g.router.Suppressed() }

package runtime

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"join-code/contract"
	"join-code/domain"
	"join-code/infrastructure/bus"
	"join-code/infrastructure/storage"
	"join-code/mocks"
	"join-code/runtime/workers"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestOrchestrator_Registers_Bus_Workers(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	supervisor := mocks.NewMockISupervisor(ctrl)
	n := newLocalNode(domain.ModeAdvisory)

	// Given a supervisor expecting the listener and the dispatcher
	supervisor.EXPECT().Add(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ws ...contract.Worker) contract.ISupervisor {
			req.IsType(&workers.BusListener{}, ws[0])
			req.IsType(&workers.BusDispatcher{}, ws[1])
			return supervisor
		})
	supervisor.EXPECT().Run(gomock.Any())

	orchestrator := NewOrchestrator(slog.Default(), supervisor, n.router, bus.NewMemoryBus(1), "broadcast", 1)

	req.NoError(orchestrator.Start(context.Background()))
}

func TestOrchestrator_Stop_Ends_Start(t *testing.T) {
	req := require.New(t)
	memBus := bus.NewMemoryBus(8)
	n := newNode("i1", domain.ModeAdvisory, memBus, bus.NewMemoryLocker(), storage.NewMemoryStore("main.py", ""))
	orchestrator := NewOrchestrator(slog.Default(), workers.NewSupervisor(slog.Default(), time.Millisecond), n.router, memBus, "broadcast", 8)

	done := make(chan error, 1)
	go func() { done <- orchestrator.Start(context.Background()) }()
	req.Eventually(func() bool { return memBus.Subscribers("broadcast") == 1 }, time.Second, 5*time.Millisecond)

	orchestrator.Stop()

	select {
	case err := <-done:
		req.NoError(err)
	case <-time.After(time.Second):
		req.Fail("orchestrator did not stop")
	}
	req.Zero(memBus.Subscribers("broadcast"))
}

func TestOrchestrator_Registers_Health_Monitor(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	supervisor := mocks.NewMockISupervisor(ctrl)
	n := newLocalNode(domain.ModeAdvisory)

	gomock.InOrder(
		supervisor.EXPECT().Add(gomock.Any(), gomock.Any()).Return(supervisor),
		supervisor.EXPECT().Add(gomock.AssignableToTypeOf(&workers.HealthMonitor{})).Return(supervisor),
		supervisor.EXPECT().Run(gomock.Any()),
	)

	orchestrator := NewOrchestrator(slog.Default(), supervisor, n.router, bus.NewMemoryBus(1), "broadcast", 1).
		WithHealthMonitor(time.Minute, 1)

	req.NoError(orchestrator.Start(context.Background()))
}

func TestOrchestrator_Registers_Lock_Refresher(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	supervisor := mocks.NewMockISupervisor(ctrl)
	n := newLocalNode(domain.ModeStrict)

	gomock.InOrder(
		supervisor.EXPECT().Add(gomock.Any(), gomock.Any()).Return(supervisor),
		supervisor.EXPECT().Add(gomock.AssignableToTypeOf(&workers.LockRefresher{})).Return(supervisor),
		supervisor.EXPECT().Run(gomock.Any()),
	)

	orchestrator := NewOrchestrator(slog.Default(), supervisor, n.router, bus.NewMemoryBus(1), "broadcast", 1).
		WithLockRefresher(n.arbiter, time.Minute)

	req.NoError(orchestrator.Start(context.Background()))
}

func TestGauges(t *testing.T) {
	req := require.New(t)
	n := newLocalNode(domain.ModeAdvisory)
	n.join(t, "room-1", "alice")
	n.join(t, "room-1", "bob")
	n.join(t, "room-2", "carol")

	g := gauges{n.router}

	req.Equal(2, g.Rooms())
	req.Equal(3, g.Connections())
	req.Zero(g.Suppressed())
}

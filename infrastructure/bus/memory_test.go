package bus

import (
	"context"
	"sync"
	"testing"
	"time"

	"join-code/domain"

	"github.com/stretchr/testify/require"
)

func TestMemoryBus_Delivers_To_Every_Subscriber(t *testing.T) {
	req := require.New(t)
	bus := NewMemoryBus(8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	received := map[int][]string{}
	for i := 0; i < 2; i++ {
		go func() {
			_ = bus.Subscribe(ctx, "broadcast", func(payload []byte) {
				mu.Lock()
				received[i] = append(received[i], string(payload))
				mu.Unlock()
			})
		}()
	}

	// Given two live subscriptions
	req.Eventually(func() bool { return bus.Subscribers("broadcast") == 2 }, time.Second, 5*time.Millisecond)

	// When two messages are published
	req.NoError(bus.Publish(ctx, "broadcast", []byte("a")))
	req.NoError(bus.Publish(ctx, "broadcast", []byte("b")))

	// Then both subscribers see them in order
	req.Eventually(func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received[0]) == 2 && len(received[1]) == 2
	}, time.Second, 5*time.Millisecond)
	mu.Lock()
	req.Equal([]string{"a", "b"}, received[0])
	req.Equal([]string{"a", "b"}, received[1])
	mu.Unlock()
}

func TestMemoryBus_Other_Channel_Is_Not_Delivered(t *testing.T) {
	req := require.New(t)
	bus := NewMemoryBus(8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan []byte, 1)
	go func() { _ = bus.Subscribe(ctx, "broadcast", func(p []byte) { got <- p }) }()
	req.Eventually(func() bool { return bus.Subscribers("broadcast") == 1 }, time.Second, 5*time.Millisecond)

	req.NoError(bus.Publish(ctx, "elsewhere", []byte("x")))

	select {
	case <-got:
		req.Fail("message published on another channel was delivered")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryBus_Publish_Never_Blocks_On_Slow_Subscriber(t *testing.T) {
	req := require.New(t)
	bus := NewMemoryBus(1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	block := make(chan struct{})
	go func() { _ = bus.Subscribe(ctx, "broadcast", func([]byte) { <-block }) }()
	req.Eventually(func() bool { return bus.Subscribers("broadcast") == 1 }, time.Second, 5*time.Millisecond)

	// Given a subscriber stuck in its handler
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			_ = bus.Publish(ctx, "broadcast", []byte("x"))
		}
		close(done)
	}()

	// Then publishers are not held back
	select {
	case <-done:
	case <-time.After(time.Second):
		req.Fail("publish blocked on a slow subscriber")
	}
	close(block)
}

func TestMemoryBus_Subscribe_Returns_On_Cancel(t *testing.T) {
	req := require.New(t)
	bus := NewMemoryBus(1)
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- bus.Subscribe(ctx, "broadcast", func([]byte) {}) }()
	req.Eventually(func() bool { return bus.Subscribers("broadcast") == 1 }, time.Second, 5*time.Millisecond)

	cancel()

	select {
	case err := <-errCh:
		req.NoError(err)
	case <-time.After(time.Second):
		req.Fail("subscribe did not return after cancel")
	}
	req.Zero(bus.Subscribers("broadcast"))
}

func TestMemoryLocker_Only_Holder_Releases(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	locker := NewMemoryLocker()
	room := domain.RoomID("room-1")

	// Given alice holds the lock
	ok, err := locker.Acquire(ctx, room, "i1/alice")
	req.NoError(err)
	req.True(ok)

	// When bob tries to take or release it
	ok, err = locker.Acquire(ctx, room, "i2/bob")
	req.NoError(err)
	req.False(ok)
	ok, err = locker.Release(ctx, room, "i2/bob")
	req.NoError(err)
	req.False(ok)

	// Then alice still holds it until she releases
	holder, held := locker.Holder(room)
	req.True(held)
	req.Equal("i1/alice", holder)

	ok, err = locker.Refresh(ctx, room, "i1/alice")
	req.NoError(err)
	req.True(ok)

	ok, err = locker.Release(ctx, room, "i1/alice")
	req.NoError(err)
	req.True(ok)
	_, held = locker.Holder(room)
	req.False(held)
}

func TestMemoryLocker_Concurrent_Acquire_Grants_Once(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	locker := NewMemoryLocker()

	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := locker.Acquire(ctx, "room-1", "holder")
			if err == nil && ok {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	req.Equal(1, granted)
}

package bus

import (
	"context"
	"sync"

	"join-code/domain"
)

// MemoryBus is an in-process contract.Bus for single-instance deployments
// and tests. Publish never blocks: a subscriber whose buffer is full misses
// the message.
type MemoryBus struct {
	mu     sync.RWMutex
	subs   map[string]map[chan []byte]struct{}
	buffer int
}

func NewMemoryBus(buffer int) *MemoryBus {
	return &MemoryBus{subs: make(map[string]map[chan []byte]struct{}), buffer: buffer}
}

func (b *MemoryBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs[channel] {
		select {
		case ch <- payload:
		default:
			// Drop if subscriber is slow.
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context, channel string, handler func(payload []byte)) error {
	ch := make(chan []byte, b.buffer)
	b.mu.Lock()
	if b.subs[channel] == nil {
		b.subs[channel] = make(map[chan []byte]struct{})
	}
	b.subs[channel][ch] = struct{}{}
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.subs[channel], ch)
		if len(b.subs[channel]) == 0 {
			delete(b.subs, channel)
		}
		b.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case payload := <-ch:
			handler(payload)
		}
	}
}

// Subscribers returns the number of active subscriptions on channel.
func (b *MemoryBus) Subscribers(channel string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[channel])
}

// MemoryLocker is an in-process contract.LockStore. Sharing one instance
// between several routers emulates the Redis lock in tests.
type MemoryLocker struct {
	mu      sync.Mutex
	holders map[domain.RoomID]string
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{holders: make(map[domain.RoomID]string)}
}

func (l *MemoryLocker) Acquire(_ context.Context, room domain.RoomID, holder string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, taken := l.holders[room]; taken {
		return false, nil
	}
	l.holders[room] = holder
	return true, nil
}

func (l *MemoryLocker) Release(_ context.Context, room domain.RoomID, holder string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.holders[room] != holder {
		return false, nil
	}
	delete(l.holders, room)
	return true, nil
}

func (l *MemoryLocker) Refresh(_ context.Context, room domain.RoomID, holder string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.holders[room] == holder, nil
}

// Holder returns the recorded holder of room.
func (l *MemoryLocker) Holder(room domain.RoomID) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	holder, ok := l.holders[room]
	return holder, ok
}

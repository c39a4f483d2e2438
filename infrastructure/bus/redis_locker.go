package bus

import (
	"context"
	"fmt"
	"time"

	"join-code/domain"

	"github.com/redis/go-redis/v9"
)

// Compare-and-delete and compare-and-expire: only the recorded holder may
// release or extend the lock.
var (
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)
	refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
)

// RedisLocker implements contract.LockStore with SET NX PX. The TTL frees
// rooms whose holder instance died without releasing.
type RedisLocker struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisLocker(client *redis.Client, prefix string, ttl time.Duration) *RedisLocker {
	return &RedisLocker{client: client, prefix: prefix, ttl: ttl}
}

func (l *RedisLocker) key(room domain.RoomID) string {
	return l.prefix + string(room)
}

func (l *RedisLocker) Acquire(ctx context.Context, room domain.RoomID, holder string) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key(room), holder, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis lock acquire %s: %w", room, err)
	}
	return ok, nil
}

func (l *RedisLocker) Release(ctx context.Context, room domain.RoomID, holder string) (bool, error) {
	n, err := releaseScript.Run(ctx, l.client, []string{l.key(room)}, holder).Int()
	if err != nil {
		return false, fmt.Errorf("redis lock release %s: %w", room, err)
	}
	return n == 1, nil
}

func (l *RedisLocker) Refresh(ctx context.Context, room domain.RoomID, holder string) (bool, error) {
	n, err := refreshScript.Run(ctx, l.client, []string{l.key(room)}, holder, l.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("redis lock refresh %s: %w", room, err)
	}
	return n == 1, nil
}

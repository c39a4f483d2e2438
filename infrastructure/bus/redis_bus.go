package bus

import (
	"context"
	"fmt"
	"log/slog"

	"join-code/errors"

	"github.com/redis/go-redis/v9"
)

// NewRedisClient connects to Redis and pings it. An unreachable server is
// reported as ErrDependencyUnavailable: the process must not start serving.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	options, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	client := redis.NewClient(options)
	if err = client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: redis at %s: %v", errors.ErrDependencyUnavailable, options.Addr, err)
	}
	return client, nil
}

// RedisBus implements contract.Bus over Redis Pub/Sub.
type RedisBus struct {
	client *redis.Client
	log    *slog.Logger
}

func NewRedisBus(client *redis.Client, log *slog.Logger) *RedisBus {
	return &RedisBus{client: client, log: log}
}

func (b *RedisBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := b.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish on %s: %w", channel, err)
	}
	return nil
}

// Subscribe blocks until ctx is canceled. go-redis buffers messages on its
// own goroutine, so a slow handler never slows down publishers.
func (b *RedisBus) Subscribe(ctx context.Context, channel string, handler func(payload []byte)) error {
	pubsub := b.client.Subscribe(ctx, channel)
	defer func() { _ = pubsub.Close() }()

	// Wait for the subscription confirmation so errors surface here.
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe to %s: %w", channel, err)
	}
	b.log.Info("Subscribed to Redis channel", "channel", channel)

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return fmt.Errorf("redis subscription to %s closed", channel)
			}
			handler([]byte(msg.Payload))
		}
	}
}

package signaling

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const redisChannelPrefix = "meshmeet:signaling:"

// RedisBus is a Bus on a Redis pub/sub channel, for meeting clients running
// as separate processes on one machine.
type RedisBus struct {
	client  *redis.Client
	channel string
	logger  *zap.Logger
}

// NewRedisBus creates a bus on the channel meshmeet:signaling:{name}.
func NewRedisBus(client *redis.Client, name string, logger *zap.Logger) *RedisBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisBus{client: client, channel: redisChannelPrefix + name, logger: logger}
}

// Channel returns the Redis channel name.
func (r *RedisBus) Channel() string { return r.channel }

func (r *RedisBus) Publish(ctx context.Context, payload []byte) error {
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Subscribe waits for the subscription to be confirmed before returning, so
// nothing published after Subscribe returns is missed.
func (r *RedisBus) Subscribe(ctx context.Context, fn func([]byte)) (func(), error) {
	ctx, cancel := context.WithCancel(ctx)
	pubsub := r.client.Subscribe(ctx, r.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		cancel()
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	ch := pubsub.Channel()
	go func() {
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				r.call(fn, []byte(msg.Payload))
			}
		}
	}()
	return cancel, nil
}

func (r *RedisBus) call(fn func([]byte), payload []byte) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("bus subscriber panicked", zap.String("channel", r.channel), zap.Any("panic", rec))
		}
	}()
	fn(payload)
}

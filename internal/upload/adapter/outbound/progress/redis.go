package progress

import (
	"context"
	"fmt"
	"time"

	"github.com/anthanhphan/go-chunked-upload/internal/upload/port"
	"github.com/anthanhphan/gosdk/logger"
	"github.com/redis/go-redis/v9"
)

const publishTimeout = 500 * time.Millisecond

// RedisPublisher publishes progress labels on a Redis channel so every
// service instance can relay them to its own observers.
type RedisPublisher struct {
	client  redis.Cmdable
	channel string
}

// Ensure RedisPublisher implements port.ProgressNotifier.
var _ port.ProgressNotifier = (*RedisPublisher)(nil)

func NewRedisPublisher(client redis.Cmdable, channel string) *RedisPublisher {
	return &RedisPublisher{client: client, channel: channel}
}

// Notify publishes with a short timeout; a failed publish is logged and dropped.
func (p *RedisPublisher) Notify(ctx context.Context, message string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	if err := p.client.Publish(ctx, p.channel, message).Err(); err != nil {
		logger.Warnw("Failed to publish progress", "channel", p.channel, "error", err.Error())
	}
}

// RedisRelay forwards labels from a Redis channel into a local notifier.
type RedisRelay struct {
	client  *redis.Client
	channel string
	target  port.ProgressNotifier
}

func NewRedisRelay(client *redis.Client, channel string, target port.ProgressNotifier) *RedisRelay {
	return &RedisRelay{client: client, channel: channel, target: target}
}

// Run relays until ctx is done. It returns an error only if the subscription cannot be established.
func (r *RedisRelay) Run(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer func() { _ = sub.Close() }()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", r.channel, err)
	}
	logger.Infow("Progress relay subscribed", "channel", r.channel)

	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			r.target.Notify(ctx, msg.Payload)
		}
	}
}

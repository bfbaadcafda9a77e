package events

import (
	"context"
	"encoding/json"
	"fmt"

	"notification-hub/internal/common/errors"
	"notification-hub/internal/common/logger"
	"notification-hub/internal/common/metrics"
	"notification-hub/internal/models"

	"github.com/redis/go-redis/v9"
)

const backendRedis = "redis"

// RedisBus is a Bus backed by Redis pub/sub with one channel per user.
// Any receive error ends the subscription with a channel error: pub/sub has no
// replay, so events may have been lost and the subscriber must resync.
type RedisBus struct {
	client *redis.Client
	prefix string
	logger logger.Logger
}

func NewRedisBus(client *redis.Client, prefix string, log logger.Logger) *RedisBus {
	if prefix == "" {
		prefix = "notifications:user"
	}
	return &RedisBus{
		client: client,
		prefix: prefix,
		logger: log.WithFields(map[string]interface{}{"component": "redis-bus"}),
	}
}

// Channel returns the pub/sub channel name of userID.
func (b *RedisBus) Channel(userID string) string {
	return fmt.Sprintf("%s:%s", b.prefix, userID)
}

func (b *RedisBus) Publish(ctx context.Context, event models.Event) error {
	channel := b.Channel(event.UserID)

	data, err := json.Marshal(event)
	if err != nil {
		return errors.NewPublishError(channel, err)
	}
	if err := b.client.Publish(ctx, channel, data).Err(); err != nil {
		return errors.NewPublishError(channel, err)
	}

	metrics.EventsPublished.WithLabelValues(string(event.Kind)).Inc()
	return nil
}

// Subscribe returns once Redis has confirmed the subscription, so every event
// published after Subscribe returns is delivered.
func (b *RedisBus) Subscribe(ctx context.Context, userID string, handler Handler) (*Subscription, error) {
	channel := b.Channel(userID)

	ps := b.client.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, errors.NewChannelError(userID, err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	sub := newSubscription(userID)
	metrics.ActiveSubscribers.WithLabelValues(backendRedis).Inc()
	sub.addCloseHook(func() {
		cancel()
		ps.Close()
		metrics.ActiveSubscribers.WithLabelValues(backendRedis).Dec()
	})
	sub.bindContext(ctx)

	go b.receive(loopCtx, ps, sub, handler)
	return sub, nil
}

func (b *RedisBus) receive(ctx context.Context, ps *redis.PubSub, sub *Subscription, handler Handler) {
	for {
		msg, err := ps.ReceiveMessage(ctx)
		if err != nil {
			if sub.closed() {
				return
			}
			b.logger.Warn("pub/sub receive failed, closing subscription", map[string]interface{}{
				"userId": sub.UserID(),
				"error":  err,
			})
			metrics.SubscribersDropped.WithLabelValues("connection").Inc()
			sub.finish(errors.NewChannelError(sub.UserID(), err))
			return
		}

		var ev models.Event
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			b.logger.Error("discarding malformed event", map[string]interface{}{
				"channel": msg.Channel,
				"error":   err,
			})
			continue
		}
		if sub.closed() {
			return
		}
		handler(ev)
	}
}

// Close is a no-op; the Redis client is owned by the caller.
func (b *RedisBus) Close() error {
	return nil
}

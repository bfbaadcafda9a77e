package events

import (
	"context"
	"sync"

	"notification-hub/internal/common/errors"
	"notification-hub/internal/common/logger"
	"notification-hub/internal/common/metrics"
	"notification-hub/internal/models"
)

const backendLocal = "local"

type localSubscriber struct {
	id      uint64
	queue   chan models.Event
	sub     *Subscription
	handler Handler
}

// LocalBus is an in-process Bus. Every subscriber has its own bounded queue and
// delivery goroutine, so a slow handler never blocks publishers or other subscribers.
type LocalBus struct {
	mu         sync.RWMutex
	subs       map[string]map[uint64]*localSubscriber
	nextID     uint64
	bufferSize int
	closed     bool
	logger     logger.Logger
}

func NewLocalBus(bufferSize int, log logger.Logger) *LocalBus {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &LocalBus{
		subs:       make(map[string]map[uint64]*localSubscriber),
		bufferSize: bufferSize,
		logger:     log.WithFields(map[string]interface{}{"component": "local-bus"}),
	}
}

func (b *LocalBus) Subscribe(ctx context.Context, userID string, handler Handler) (*Subscription, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, errors.NewChannelError(userID, ErrBusClosed)
	}
	b.nextID++
	ls := &localSubscriber{
		id:      b.nextID,
		queue:   make(chan models.Event, b.bufferSize),
		sub:     newSubscription(userID),
		handler: handler,
	}
	if b.subs[userID] == nil {
		b.subs[userID] = make(map[uint64]*localSubscriber)
	}
	b.subs[userID][ls.id] = ls
	b.mu.Unlock()

	metrics.ActiveSubscribers.WithLabelValues(backendLocal).Inc()
	ls.sub.addCloseHook(func() {
		b.remove(userID, ls.id)
		metrics.ActiveSubscribers.WithLabelValues(backendLocal).Dec()
	})
	ls.sub.bindContext(ctx)

	go ls.run()
	return ls.sub, nil
}

func (ls *localSubscriber) run() {
	for {
		select {
		case <-ls.sub.Done():
			return
		case ev := <-ls.queue:
			if ls.sub.closed() {
				return
			}
			ls.handler(ev)
		}
	}
}

func (b *LocalBus) remove(userID string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if m := b.subs[userID]; m != nil {
		delete(m, id)
		if len(m) == 0 {
			delete(b.subs, userID)
		}
	}
}

// Publish enqueues event for every open subscription of event.UserID without blocking.
// A subscriber whose queue is full is closed with ErrSubscriberLagged.
func (b *LocalBus) Publish(ctx context.Context, event models.Event) error {
	if err := ctx.Err(); err != nil {
		return errors.NewPublishError(event.UserID, err)
	}

	var lagged []*localSubscriber

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return errors.NewPublishError(event.UserID, ErrBusClosed)
	}
	for _, ls := range b.subs[event.UserID] {
		select {
		case ls.queue <- event:
		default:
			lagged = append(lagged, ls)
		}
	}
	b.mu.RUnlock()

	metrics.EventsPublished.WithLabelValues(string(event.Kind)).Inc()

	for _, ls := range lagged {
		b.logger.Warn("dropping lagging subscriber", map[string]interface{}{
			"userId":     event.UserID,
			"bufferSize": b.bufferSize,
		})
		metrics.SubscribersDropped.WithLabelValues("lagged").Inc()
		ls.sub.finish(errors.NewChannelError(event.UserID, ErrSubscriberLagged))
	}
	return nil
}

// Close ends every open subscription with ErrBusClosed.
func (b *LocalBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	var all []*localSubscriber
	for _, m := range b.subs {
		for _, ls := range m {
			all = append(all, ls)
		}
	}
	b.mu.Unlock()

	for _, ls := range all {
		ls.sub.finish(errors.NewChannelError(ls.sub.UserID(), ErrBusClosed))
	}
	return nil
}

// SubscriberCount returns the number of open subscriptions for userID.
func (b *LocalBus) SubscriberCount(userID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[userID])
}

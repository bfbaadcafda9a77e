// Package events carries per-user notification change events from the inbox
// to live subscribers.
package events

import (
	"context"
	stderrors "errors"
	"sync"

	"notification-hub/internal/models"
)

var (
	// ErrSubscriberLagged closes a subscription whose buffer filled up.
	ErrSubscriberLagged = stderrors.New("subscriber lagged behind the event stream")
	// ErrBusClosed closes every subscription still open when the bus shuts down.
	ErrBusClosed = stderrors.New("event bus closed")
)

// Handler receives the events of one subscription, one at a time and in order.
type Handler func(models.Event)

// Bus is a per-user broadcast channel. Events published while a subscription
// is open are delivered to it in publish order; nothing published earlier is replayed.
type Bus interface {
	Publish(ctx context.Context, event models.Event) error
	Subscribe(ctx context.Context, userID string, handler Handler) (*Subscription, error)
	Close() error
}

// Subscription is the handle of one live event stream.
// Done is closed when the stream ends; Err is nil only after Close or context cancellation.
type Subscription struct {
	userID  string
	done    chan struct{}
	once    sync.Once
	mu      sync.Mutex
	err     error
	onClose []func()
}

func newSubscription(userID string) *Subscription {
	return &Subscription{userID: userID, done: make(chan struct{})}
}

func (s *Subscription) UserID() string { return s.userID }

// Close ends the stream immediately. It is safe to call more than once.
func (s *Subscription) Close() {
	s.finish(nil)
}

func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Err reports why the stream ended. It returns nil while the stream is open.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Subscription) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *Subscription) addCloseHook(fn func()) {
	s.mu.Lock()
	s.onClose = append(s.onClose, fn)
	s.mu.Unlock()
}

func (s *Subscription) finish(err error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.err = err
		hooks := s.onClose
		s.onClose = nil
		s.mu.Unlock()

		close(s.done)
		for _, fn := range hooks {
			fn()
		}
	})
}

// bindContext closes the subscription when ctx is cancelled.
func (s *Subscription) bindContext(ctx context.Context) {
	stop := context.AfterFunc(ctx, s.Close)
	s.addCloseHook(func() { stop() })
}

package clientsync

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"notification-hub/internal/common/errors"
	"notification-hub/internal/common/logger"
	"notification-hub/internal/events"
	"notification-hub/internal/models"
	"notification-hub/internal/store"
)

// Inbox is the subset of inbox.Service a session reads from and writes through.
type Inbox interface {
	List(ctx context.Context, userID string, limit, page int) ([]models.Notification, error)
	MarkRead(ctx context.Context, id, userID string) (*models.Notification, bool, error)
	MarkAllRead(ctx context.Context, userID string) (int, error)
	Delete(ctx context.Context, id, userID string) (store.DeleteResult, error)
}

// Subscriber is the subscribing half of events.Bus.
type Subscriber interface {
	Subscribe(ctx context.Context, userID string, handler events.Handler) (*events.Subscription, error)
}

// SessionConfig configures a Session.
type SessionConfig struct {
	Limit    int
	BaseWait time.Duration
	MaxWait  time.Duration
	Clock    func() time.Time
	// OnChange receives every new State, in order. It runs under the session
	// lock and must not call back into the Session.
	OnChange func(State)
}

// Session keeps one user's State in step with the store while it runs.
type Session struct {
	userID string
	inbox  Inbox
	bus    Subscriber
	config SessionConfig
	logger logger.Logger

	mu      sync.Mutex
	state   State
	syncing bool
	pending []models.Event
	ready   chan struct{}
	once    sync.Once
}

func NewSession(userID string, inbox Inbox, bus Subscriber, config SessionConfig, log logger.Logger) *Session {
	if config.Limit <= 0 {
		config.Limit = 20
	}
	if config.BaseWait <= 0 {
		config.BaseWait = 500 * time.Millisecond
	}
	if config.MaxWait < config.BaseWait {
		config.MaxWait = config.BaseWait
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}
	return &Session{
		userID: userID,
		inbox:  inbox,
		bus:    bus,
		config: config,
		logger: log.WithFields(map[string]interface{}{"component": "client-sync", "userId": userID}),
		state:  State{Limit: config.Limit},
		ready:  make(chan struct{}),
	}
}

// Run subscribes, loads the baseline and keeps the state current until ctx is
// cancelled. A dropped subscription is re-established with exponential backoff
// and followed by a full resync. Run returns nil on cancellation and an error
// only when the bus has been shut down.
func (s *Session) Run(ctx context.Context) error {
	attempt := 0
	for {
		sub, err := s.connect(ctx)
		if err == nil {
			attempt = 0
			select {
			case <-ctx.Done():
				sub.Close()
				return nil
			case <-sub.Done():
				err = sub.Err()
			}
		}

		if ctx.Err() != nil {
			return nil
		}
		if stderrors.Is(err, events.ErrBusClosed) {
			return err
		}

		wait := s.backoff(attempt)
		attempt++
		s.logger.Warn("live updates interrupted, resyncing", map[string]interface{}{
			"attempt":   attempt,
			"wait":      wait.String(),
			"errorCode": string(errors.CodeOf(err)),
			"error":     err,
		})

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// connect subscribes before fetching, so no event committed after the fetch
// can be missed. Events delivered during the fetch are replayed on the baseline.
func (s *Session) connect(ctx context.Context) (*events.Subscription, error) {
	s.mu.Lock()
	s.syncing = true
	s.pending = nil
	s.mu.Unlock()

	sub, err := s.bus.Subscribe(ctx, s.userID, s.handle)
	if err != nil {
		s.abortSync()
		return nil, err
	}

	items, err := s.inbox.List(ctx, s.userID, s.config.Limit, 1)
	if err != nil {
		sub.Close()
		s.abortSync()
		return nil, err
	}

	now := s.config.Clock()
	s.mu.Lock()
	st := Resync(items, s.config.Limit, now)
	for _, ev := range s.pending {
		st = Apply(st, ev, now)
	}
	replayed := len(s.pending)
	s.set(st)
	s.syncing = false
	s.pending = nil
	s.mu.Unlock()

	s.once.Do(func() { close(s.ready) })
	s.logger.Debug("resynced", map[string]interface{}{
		"items":    len(st.Items),
		"unread":   st.Unread,
		"replayed": replayed,
	})
	return sub, nil
}

func (s *Session) abortSync() {
	s.mu.Lock()
	s.syncing = false
	s.pending = nil
	s.mu.Unlock()
}

func (s *Session) handle(ev models.Event) {
	s.mu.Lock()
	if s.syncing {
		s.pending = append(s.pending, ev)
		s.mu.Unlock()
		return
	}
	s.set(Apply(s.state, ev, s.config.Clock()))
	s.mu.Unlock()
}

// Ready is closed after the first successful resync.
func (s *Session) Ready() <-chan struct{} {
	return s.ready
}

// State returns the current view with expired notifications pruned.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = Prune(s.state, s.config.Clock())
	return s.state
}

// MarkRead applies the change locally, then writes it through the inbox.
// A failed write is returned; the local change is kept until the next resync.
func (s *Session) MarkRead(ctx context.Context, id string) error {
	s.mu.Lock()
	if st, changed := MarkRead(s.state, id); changed {
		s.set(st)
	}
	s.mu.Unlock()

	_, _, err := s.inbox.MarkRead(ctx, id, s.userID)
	return err
}

func (s *Session) MarkAllRead(ctx context.Context) error {
	s.mu.Lock()
	s.set(MarkAllRead(s.state))
	s.mu.Unlock()

	_, err := s.inbox.MarkAllRead(ctx, s.userID)
	return err
}

func (s *Session) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	s.set(Remove(s.state, id))
	s.mu.Unlock()

	_, err := s.inbox.Delete(ctx, id, s.userID)
	return err
}

// set must be called with s.mu held.
func (s *Session) set(st State) {
	s.state = st
	if s.config.OnChange != nil {
		s.config.OnChange(st)
	}
}

func (s *Session) backoff(attempt int) time.Duration {
	wait := s.config.BaseWait
	for i := 0; i < attempt && wait < s.config.MaxWait; i++ {
		wait *= 2
	}
	if wait > s.config.MaxWait {
		wait = s.config.MaxWait
	}
	return wait
}

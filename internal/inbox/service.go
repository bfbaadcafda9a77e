// Package inbox is the only writer of notification records. It commits each
// mutation to the store and publishes the resulting events while holding a
// per-user lock, so a user's event stream follows store commit order.
package inbox

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"notification-hub/internal/common/errors"
	"notification-hub/internal/common/logger"
	"notification-hub/internal/common/metrics"
	"notification-hub/internal/models"
	"notification-hub/internal/store"
)

const lockStripes = 256

// Store is the subset of store.NotificationStore the inbox needs.
type Store interface {
	Create(ctx context.Context, n *models.Notification) (string, error)
	ListForUser(ctx context.Context, userID string, limit, page int) ([]models.Notification, error)
	UnreadCount(ctx context.Context, userID string) (int, error)
	MarkRead(ctx context.Context, id, userID string) (*models.Notification, bool, error)
	MarkAllRead(ctx context.Context, userID string) ([]models.Notification, error)
	Delete(ctx context.Context, id, userID string) (store.DeleteResult, error)
	DeleteAllForUser(ctx context.Context, userID string) ([]store.DeleteResult, error)
}

// Publisher is the publishing half of events.Bus.
type Publisher interface {
	Publish(ctx context.Context, event models.Event) error
}

type Service struct {
	store   Store
	bus     Publisher
	logger  logger.Logger
	stripes [lockStripes]sync.Mutex
}

func NewService(s Store, bus Publisher, log logger.Logger) *Service {
	return &Service{
		store:  s,
		bus:    bus,
		logger: log.WithFields(map[string]interface{}{"component": "inbox"}),
	}
}

func (s *Service) lock(userID string) func() {
	h := fnv.New32a()
	h.Write([]byte(userID))
	mu := &s.stripes[h.Sum32()%lockStripes]
	mu.Lock()
	return mu.Unlock
}

// Create persists n and publishes an insert event for its recipient.
func (s *Service) Create(ctx context.Context, n *models.Notification) (string, error) {
	unlock := s.lock(n.RecipientID)
	defer unlock()

	id, err := s.store.Create(ctx, n)
	if err != nil {
		return "", err
	}
	s.publish(ctx, models.InsertEvent(*n))
	return id, nil
}

func (s *Service) List(ctx context.Context, userID string, limit, page int) ([]models.Notification, error) {
	return s.store.ListForUser(ctx, userID, limit, page)
}

func (s *Service) UnreadCount(ctx context.Context, userID string) (int, error) {
	return s.store.UnreadCount(ctx, userID)
}

// MarkRead marks one notification read. An update event is published only when
// the call changed the row.
func (s *Service) MarkRead(ctx context.Context, id, userID string) (*models.Notification, bool, error) {
	unlock := s.lock(userID)
	defer unlock()

	n, changed, err := s.store.MarkRead(ctx, id, userID)
	if err != nil {
		return nil, false, err
	}
	if changed {
		s.publish(ctx, models.UpdateEvent(*n))
	}
	return n, changed, nil
}

// MarkAllRead marks the user's current unread notifications and publishes one
// update event per changed row. It returns the number of rows changed.
func (s *Service) MarkAllRead(ctx context.Context, userID string) (int, error) {
	unlock := s.lock(userID)
	defer unlock()

	changed, err := s.store.MarkAllRead(ctx, userID)
	if err != nil {
		return 0, err
	}
	for _, n := range changed {
		s.publish(ctx, models.UpdateEvent(n))
	}
	return len(changed), nil
}

// Delete removes one notification and publishes a delete event if a row was removed.
func (s *Service) Delete(ctx context.Context, id, userID string) (store.DeleteResult, error) {
	unlock := s.lock(userID)
	defer unlock()

	res, err := s.store.Delete(ctx, id, userID)
	if err != nil {
		return res, err
	}
	if res.Deleted {
		s.publish(ctx, models.DeleteEvent(userID, id, res.WasUnread))
	}
	return res, nil
}

// DeleteAll removes every notification of userID.
func (s *Service) DeleteAll(ctx context.Context, userID string) (int, error) {
	unlock := s.lock(userID)
	defer unlock()

	results, err := s.store.DeleteAllForUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	for _, r := range results {
		s.publish(ctx, models.DeleteEvent(userID, r.ID, r.WasUnread))
	}
	return len(results), nil
}

// publish never fails the caller: the write is already committed and
// subscribers recover missed events by resyncing.
func (s *Service) publish(ctx context.Context, ev models.Event) {
	// A cancelled request context must not drop the event of a committed write.
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := s.bus.Publish(pubCtx, ev); err != nil {
		metrics.EventPublishFailures.WithLabelValues(string(ev.Kind)).Inc()
		s.logger.Error("failed to publish notification event", map[string]interface{}{
			"userId":         ev.UserID,
			"kind":           string(ev.Kind),
			"notificationId": ev.NotificationID(),
			"errorCode":      string(errors.CodeOf(err)),
			"error":          err,
		})
	}
}

package store

import (
	"context"
	"database/sql"
	stderrors "errors"
	"time"

	"notification-hub/internal/common/errors"
	"notification-hub/internal/common/logger"
	"notification-hub/internal/common/metrics"
	"notification-hub/internal/models"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const notificationColumns = `id, recipient_id, title, message, type, metadata, link, is_read, created_at, expires_at`

// IN lists are chunked to stay under driver parameter limits.
const maxInListSize = 500

// Options configures a NotificationStore.
type Options struct {
	DefaultLimit int
	MaxLimit     int
	Clock        func() time.Time
}

// DeleteResult reports the outcome of deleting one notification.
type DeleteResult struct {
	ID        string
	Deleted   bool
	WasUnread bool
}

// NotificationStore is the authoritative notification storage.
type NotificationStore struct {
	db           *sqlx.DB
	logger       logger.Logger
	now          func() time.Time
	defaultLimit int
	maxLimit     int
}

func NewNotificationStore(db *sqlx.DB, log logger.Logger, opts Options) *NotificationStore {
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = 20
	}
	if opts.MaxLimit < opts.DefaultLimit {
		opts.MaxLimit = opts.DefaultLimit
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &NotificationStore{
		db:           db,
		logger:       log.WithFields(map[string]interface{}{"component": "notification-store"}),
		now:          opts.Clock,
		defaultLimit: opts.DefaultLimit,
		maxLimit:     opts.MaxLimit,
	}
}

// Now returns the store clock, truncated to the precision persisted by the database.
func (s *NotificationStore) Now() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

// Create assigns id and creation time to n and persists it unread.
func (s *NotificationStore) Create(ctx context.Context, n *models.Notification) (id string, err error) {
	defer observe("create", time.Now(), &err)

	n.ID = uuid.NewString()
	n.CreatedAt = s.Now()
	n.Read = false
	if n.Type == "" {
		n.Type = models.TypeInfo
	}
	if n.ExpiresAt != nil {
		exp := n.ExpiresAt.UTC().Truncate(time.Microsecond)
		n.ExpiresAt = &exp
	}

	query := s.db.Rebind(`INSERT INTO notifications (` + notificationColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	if _, err := s.db.ExecContext(ctx, query,
		n.ID, n.RecipientID, n.Title, n.Message, n.Type,
		n.Metadata, n.Link, false, n.CreatedAt, n.ExpiresAt,
	); err != nil {
		return "", errors.NewStorageError("create notification", err)
	}

	return n.ID, nil
}

// Get returns one notification owned by userID.
func (s *NotificationStore) Get(ctx context.Context, id, userID string) (n *models.Notification, err error) {
	defer observe("get", time.Now(), &err)
	return s.get(ctx, s.db, id, userID)
}

func (s *NotificationStore) get(ctx context.Context, q sqlx.QueryerContext, id, userID string) (*models.Notification, error) {
	var n models.Notification
	query := s.db.Rebind(`SELECT ` + notificationColumns + ` FROM notifications WHERE id = ? AND recipient_id = ?`)
	if err := sqlx.GetContext(ctx, q, &n, query, id, userID); err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.NewNotFoundError("notification", id)
		}
		return nil, errors.NewStorageError("get notification", err)
	}
	normalize(&n)
	return &n, nil
}

// ListForUser returns a page of the user's active notifications, newest first.
// page is 1-based; limit <= 0 selects the default and is capped at the maximum.
func (s *NotificationStore) ListForUser(ctx context.Context, userID string, limit, page int) (items []models.Notification, err error) {
	defer observe("list", time.Now(), &err)

	limit = s.ClampLimit(limit)
	if page < 1 {
		page = 1
	}

	query := s.db.Rebind(`SELECT ` + notificationColumns + ` FROM notifications
		WHERE recipient_id = ? AND (expires_at IS NULL OR expires_at > ?)
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?`)

	items = []models.Notification{}
	if err := s.db.SelectContext(ctx, &items, query, userID, s.Now(), limit, (page-1)*limit); err != nil {
		return nil, errors.NewStorageError("list notifications", err)
	}
	for i := range items {
		normalize(&items[i])
	}
	return items, nil
}

// ClampLimit applies the default and maximum page size.
func (s *NotificationStore) ClampLimit(limit int) int {
	if limit <= 0 {
		return s.defaultLimit
	}
	if limit > s.maxLimit {
		return s.maxLimit
	}
	return limit
}

// UnreadCount counts active unread notifications without loading them.
func (s *NotificationStore) UnreadCount(ctx context.Context, userID string) (count int, err error) {
	defer observe("unread_count", time.Now(), &err)

	query := s.db.Rebind(`SELECT COUNT(*) FROM notifications
		WHERE recipient_id = ? AND is_read = FALSE AND (expires_at IS NULL OR expires_at > ?)`)
	if err := s.db.GetContext(ctx, &count, query, userID, s.Now()); err != nil {
		return 0, errors.NewStorageError("count unread notifications", err)
	}
	return count, nil
}

// MarkRead sets read on a notification owned by userID. The returned bool reports
// whether this call performed the unread -> read transition.
func (s *NotificationStore) MarkRead(ctx context.Context, id, userID string) (n *models.Notification, changed bool, err error) {
	defer observe("mark_read", time.Now(), &err)

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, false, errors.NewStorageError("begin mark read", err)
	}
	defer tx.Rollback()

	query := s.db.Rebind(`UPDATE notifications SET is_read = TRUE
		WHERE id = ? AND recipient_id = ? AND is_read = FALSE`)
	res, err := tx.ExecContext(ctx, query, id, userID)
	if err != nil {
		return nil, false, errors.NewStorageError("mark notification read", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, errors.NewStorageError("mark notification read", err)
	}

	n, err = s.get(ctx, tx, id, userID)
	if err != nil {
		return nil, false, err
	}

	if err := tx.Commit(); err != nil {
		return nil, false, errors.NewStorageError("commit mark read", err)
	}
	return n, affected == 1, nil
}

// MarkAllRead marks every notification that is unread for userID at execution
// time and returns exactly the rows it changed. Rows created afterwards are untouched.
func (s *NotificationStore) MarkAllRead(ctx context.Context, userID string) (changed []models.Notification, err error) {
	defer observe("mark_all_read", time.Now(), &err)

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, errors.NewStorageError("begin mark all read", err)
	}
	defer tx.Rollback()

	query := s.db.Rebind(`SELECT ` + notificationColumns + ` FROM notifications
		WHERE recipient_id = ? AND is_read = FALSE
		ORDER BY created_at DESC, id DESC` + s.lockClause())

	changed = []models.Notification{}
	if err := tx.SelectContext(ctx, &changed, query, userID); err != nil {
		return nil, errors.NewStorageError("select unread notifications", err)
	}
	if len(changed) == 0 {
		return changed, nil
	}

	ids := make([]string, len(changed))
	for i := range changed {
		ids[i] = changed[i].ID
	}

	for start := 0; start < len(ids); start += maxInListSize {
		end := start + maxInListSize
		if end > len(ids) {
			end = len(ids)
		}
		update, args, err := sqlx.In(`UPDATE notifications SET is_read = TRUE
			WHERE recipient_id = ? AND is_read = FALSE AND id IN (?)`, userID, ids[start:end])
		if err != nil {
			return nil, errors.NewStorageError("build mark all read", err)
		}
		if _, err := tx.ExecContext(ctx, s.db.Rebind(update), args...); err != nil {
			return nil, errors.NewStorageError("mark all notifications read", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.NewStorageError("commit mark all read", err)
	}

	for i := range changed {
		changed[i].Read = true
		normalize(&changed[i])
	}
	return changed, nil
}

// Delete removes a notification owned by userID. Deleting a missing or foreign
// notification is not an error; Deleted is false.
func (s *NotificationStore) Delete(ctx context.Context, id, userID string) (result DeleteResult, err error) {
	defer observe("delete", time.Now(), &err)

	result.ID = id

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return result, errors.NewStorageError("begin delete", err)
	}
	defer tx.Rollback()

	var isRead bool
	query := s.db.Rebind(`SELECT is_read FROM notifications WHERE id = ? AND recipient_id = ?` + s.lockClause())
	if err := tx.GetContext(ctx, &isRead, query, id, userID); err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return result, nil
		}
		return result, errors.NewStorageError("select notification for delete", err)
	}

	if _, err := tx.ExecContext(ctx, s.db.Rebind(`DELETE FROM notifications WHERE id = ? AND recipient_id = ?`), id, userID); err != nil {
		return result, errors.NewStorageError("delete notification", err)
	}
	if err := tx.Commit(); err != nil {
		return result, errors.NewStorageError("commit delete", err)
	}

	result.Deleted = true
	result.WasUnread = !isRead
	return result, nil
}

// DeleteAllForUser removes every notification of userID, e.g. when the account is removed.
func (s *NotificationStore) DeleteAllForUser(ctx context.Context, userID string) (results []DeleteResult, err error) {
	defer observe("delete_all", time.Now(), &err)

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, errors.NewStorageError("begin delete all", err)
	}
	defer tx.Rollback()

	var rows []struct {
		ID     string `db:"id"`
		IsRead bool   `db:"is_read"`
	}
	query := s.db.Rebind(`SELECT id, is_read FROM notifications WHERE recipient_id = ?
		ORDER BY created_at DESC, id DESC` + s.lockClause())
	if err := tx.SelectContext(ctx, &rows, query, userID); err != nil {
		return nil, errors.NewStorageError("select notifications for delete", err)
	}

	if _, err := tx.ExecContext(ctx, s.db.Rebind(`DELETE FROM notifications WHERE recipient_id = ?`), userID); err != nil {
		return nil, errors.NewStorageError("delete notifications", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, errors.NewStorageError("commit delete all", err)
	}

	results = make([]DeleteResult, len(rows))
	for i, r := range rows {
		results[i] = DeleteResult{ID: r.ID, Deleted: true, WasUnread: !r.IsRead}
	}

	s.logger.Info("deleted all notifications for user", map[string]interface{}{
		"userId": userID,
		"count":  len(results),
	})
	return results, nil
}

func (s *NotificationStore) lockClause() string {
	if s.db.DriverName() == "postgres" {
		return " FOR UPDATE"
	}
	return ""
}

func normalize(n *models.Notification) {
	n.CreatedAt = n.CreatedAt.UTC()
	if n.ExpiresAt != nil {
		exp := n.ExpiresAt.UTC()
		n.ExpiresAt = &exp
	}
}

func observe(operation string, start time.Time, errp *error) {
	metrics.StoreOperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	if errp != nil && *errp != nil && !errors.IsNotFound(*errp) {
		metrics.StoreOperationErrors.WithLabelValues(operation).Inc()
	}
}

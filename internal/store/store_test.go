package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"notification-hub/internal/common/errors"
	"notification-hub/internal/common/logger"
	"notification-hub/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

// ==========================
// Test helpers
// ==========================

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func setupSQLite(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := sqlx.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, Migrate(context.Background(), db))
	return db
}

func setupStore(t *testing.T) (*NotificationStore, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	s := NewNotificationStore(setupSQLite(t), logger.NewTestLogger(t), Options{
		DefaultLimit: 20,
		MaxLimit:     50,
		Clock:        clock.Now,
	})
	return s, clock
}

func setupMockStore(t *testing.T) (*NotificationStore, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	db := sqlx.NewDb(mockDB, "postgres")
	return NewNotificationStore(db, logger.NewNoOpLogger(), Options{}), mock
}

func mustCreate(t *testing.T, s *NotificationStore, userID, title string) *models.Notification {
	t.Helper()
	n := &models.Notification{RecipientID: userID, Title: title, Message: "body", Type: models.TypeInfo}
	_, err := s.Create(context.Background(), n)
	require.NoError(t, err)
	return n
}

// ==========================
// Migrations
// ==========================

func TestMigrate_Idempotent(t *testing.T) {
	db := setupSQLite(t)
	require.NoError(t, Migrate(context.Background(), db))

	var version int
	require.NoError(t, db.Get(&version, "SELECT MAX(version) FROM schema_version"))
	assert.Equal(t, 2, version)
}

func TestMigrate_UnknownDriver(t *testing.T) {
	mockDB, _, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	err = Migrate(context.Background(), sqlx.NewDb(mockDB, "mysql"))
	assert.Error(t, err)
}

// ==========================
// Create / List
// ==========================

func TestCreate_AssignsIDAndDefaults(t *testing.T) {
	s, clock := setupStore(t)
	ctx := context.Background()

	link := "/jobs/42"
	n := &models.Notification{
		RecipientID: "u1",
		Title:       "Hello",
		Metadata:    models.Metadata{"jobId": "42", "score": float64(7)},
		Link:        &link,
	}
	id, err := s.Create(ctx, n)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, id, n.ID)
	assert.Equal(t, models.TypeInfo, n.Type)
	assert.False(t, n.Read)
	assert.True(t, clock.Now().Equal(n.CreatedAt))

	got, err := s.Get(ctx, id, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Hello", got.Title)
	assert.Equal(t, models.Metadata{"jobId": "42", "score": float64(7)}, got.Metadata)
	require.NotNil(t, got.Link)
	assert.Equal(t, link, *got.Link)
	assert.True(t, n.CreatedAt.Equal(got.CreatedAt))
	assert.Nil(t, got.ExpiresAt)
}

func TestListForUser_NewestFirst(t *testing.T) {
	s, clock := setupStore(t)
	ctx := context.Background()

	first := mustCreate(t, s, "u1", "first")
	clock.Advance(time.Second)
	second := mustCreate(t, s, "u1", "second")
	mustCreate(t, s, "u2", "other user")

	items, err := s.ListForUser(ctx, "u1", 10, 1)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, second.ID, items[0].ID)
	assert.Equal(t, first.ID, items[1].ID)
}

func TestListForUser_TiesBrokenByID(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()

	a := mustCreate(t, s, "u1", "a")
	b := mustCreate(t, s, "u1", "b")

	items, err := s.ListForUser(ctx, "u1", 10, 1)
	require.NoError(t, err)
	require.Len(t, items, 2)

	hi, lo := a.ID, b.ID
	if lo > hi {
		hi, lo = lo, hi
	}
	assert.Equal(t, hi, items[0].ID)
	assert.Equal(t, lo, items[1].ID)
}

func TestListForUser_Pagination(t *testing.T) {
	s, clock := setupStore(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 5; i++ {
		ids = append(ids, mustCreate(t, s, "u1", fmt.Sprintf("n%d", i)).ID)
		clock.Advance(time.Second)
	}

	page1, err := s.ListForUser(ctx, "u1", 2, 1)
	require.NoError(t, err)
	page2, err := s.ListForUser(ctx, "u1", 2, 2)
	require.NoError(t, err)
	page3, err := s.ListForUser(ctx, "u1", 2, 3)
	require.NoError(t, err)

	assert.Equal(t, []string{ids[4], ids[3]}, []string{page1[0].ID, page1[1].ID})
	assert.Equal(t, []string{ids[2], ids[1]}, []string{page2[0].ID, page2[1].ID})
	require.Len(t, page3, 1)
	assert.Equal(t, ids[0], page3[0].ID)

	// page < 1 is treated as the first page
	page0, err := s.ListForUser(ctx, "u1", 2, 0)
	require.NoError(t, err)
	assert.Equal(t, page1, page0)
}

func TestClampLimit(t *testing.T) {
	s, _ := setupStore(t)
	assert.Equal(t, 20, s.ClampLimit(0))
	assert.Equal(t, 20, s.ClampLimit(-3))
	assert.Equal(t, 7, s.ClampLimit(7))
	assert.Equal(t, 50, s.ClampLimit(500))
}

func TestExpiredNotificationsAreInactive(t *testing.T) {
	s, clock := setupStore(t)
	ctx := context.Background()

	exp := clock.Now().Add(time.Minute)
	expiring := &models.Notification{RecipientID: "u1", Title: "flash sale", ExpiresAt: &exp}
	_, err := s.Create(ctx, expiring)
	require.NoError(t, err)
	mustCreate(t, s, "u1", "durable")

	count, err := s.UnreadCount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	clock.Advance(2 * time.Minute)

	items, err := s.ListForUser(ctx, "u1", 10, 1)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "durable", items[0].Title)

	count, err = s.UnreadCount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// expired rows are never deleted implicitly
	got, err := s.Get(ctx, expiring.ID, "u1")
	require.NoError(t, err)
	assert.True(t, got.Expired(clock.Now()))
}

// ==========================
// Read state
// ==========================

func TestMarkRead(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()
	n := mustCreate(t, s, "u1", "x")

	t.Run("foreign user is not found", func(t *testing.T) {
		_, changed, err := s.MarkRead(ctx, n.ID, "u2")
		assert.True(t, errors.IsNotFound(err))
		assert.False(t, changed)
	})

	t.Run("first call transitions", func(t *testing.T) {
		got, changed, err := s.MarkRead(ctx, n.ID, "u1")
		require.NoError(t, err)
		assert.True(t, changed)
		assert.True(t, got.Read)
	})

	t.Run("second call is a no-op", func(t *testing.T) {
		got, changed, err := s.MarkRead(ctx, n.ID, "u1")
		require.NoError(t, err)
		assert.False(t, changed)
		assert.True(t, got.Read)
	})

	t.Run("missing id is not found", func(t *testing.T) {
		_, _, err := s.MarkRead(ctx, "missing", "u1")
		assert.True(t, errors.IsNotFound(err))
	})

	count, err := s.UnreadCount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestMarkAllRead_ReturnsChangedRowsOnly(t *testing.T) {
	s, clock := setupStore(t)
	ctx := context.Background()

	a := mustCreate(t, s, "u1", "a")
	clock.Advance(time.Second)
	b := mustCreate(t, s, "u1", "b")
	clock.Advance(time.Second)
	alreadyRead := mustCreate(t, s, "u1", "c")
	_, _, err := s.MarkRead(ctx, alreadyRead.ID, "u1")
	require.NoError(t, err)
	other := mustCreate(t, s, "u2", "other")

	changed, err := s.MarkAllRead(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, changed, 2)
	assert.Equal(t, b.ID, changed[0].ID)
	assert.Equal(t, a.ID, changed[1].ID)
	for _, n := range changed {
		assert.True(t, n.Read)
	}

	// a notification created after the snapshot stays unread
	clock.Advance(time.Second)
	mustCreate(t, s, "u1", "late")
	count, err := s.UnreadCount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	otherGot, err := s.Get(ctx, other.ID, "u2")
	require.NoError(t, err)
	assert.False(t, otherGot.Read)

	again, err := s.MarkAllRead(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, again, 1)
}

func TestMarkAllRead_NothingUnread(t *testing.T) {
	s, _ := setupStore(t)
	changed, err := s.MarkAllRead(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Empty(t, changed)
}

// ==========================
// Delete
// ==========================

func TestDelete(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()

	unread := mustCreate(t, s, "u1", "unread")
	read := mustCreate(t, s, "u1", "read")
	_, _, err := s.MarkRead(ctx, read.ID, "u1")
	require.NoError(t, err)

	tests := []struct {
		name          string
		id            string
		userID        string
		wantDeleted   bool
		wantWasUnread bool
	}{
		{name: "foreign owner", id: unread.ID, userID: "u2", wantDeleted: false},
		{name: "unread row", id: unread.ID, userID: "u1", wantDeleted: true, wantWasUnread: true},
		{name: "already deleted", id: unread.ID, userID: "u1", wantDeleted: false},
		{name: "read row", id: read.ID, userID: "u1", wantDeleted: true, wantWasUnread: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := s.Delete(ctx, tt.id, tt.userID)
			require.NoError(t, err)
			assert.Equal(t, tt.id, res.ID)
			assert.Equal(t, tt.wantDeleted, res.Deleted)
			assert.Equal(t, tt.wantWasUnread, res.WasUnread)
		})
	}
}

func TestDeleteAllForUser(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()

	a := mustCreate(t, s, "u1", "a")
	b := mustCreate(t, s, "u1", "b")
	_, _, err := s.MarkRead(ctx, b.ID, "u1")
	require.NoError(t, err)
	mustCreate(t, s, "u2", "keep")

	results, err := s.DeleteAllForUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, results, 2)

	byID := map[string]DeleteResult{}
	for _, r := range results {
		byID[r.ID] = r
	}
	assert.True(t, byID[a.ID].WasUnread)
	assert.False(t, byID[b.ID].WasUnread)

	items, err := s.ListForUser(ctx, "u1", 10, 1)
	require.NoError(t, err)
	assert.Empty(t, items)

	items, err = s.ListForUser(ctx, "u2", 10, 1)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

// ==========================
// Storage failures (sqlmock)
// ==========================

func TestCreate_StorageError(t *testing.T) {
	s, mock := setupMockStore(t)

	mock.ExpectExec(`INSERT INTO notifications \(id, recipient_id`).
		WillReturnError(fmt.Errorf("connection refused"))

	_, err := s.Create(context.Background(), &models.Notification{RecipientID: "u1", Title: "x"})
	require.Error(t, err)
	assert.True(t, errors.IsStorage(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListForUser_UsesPostgresPlaceholders(t *testing.T) {
	s, mock := setupMockStore(t)

	rows := sqlmock.NewRows([]string{"id", "recipient_id", "title", "message", "type", "metadata", "link", "is_read", "created_at", "expires_at"}).
		AddRow("n1", "u1", "t", "m", "info", []byte(`{"k":"v"}`), nil, false, time.Now(), nil)

	mock.ExpectQuery(`WHERE recipient_id = \$1 AND \(expires_at IS NULL OR expires_at > \$2\)`).
		WithArgs("u1", sqlmock.AnyArg(), 20, 0).
		WillReturnRows(rows)

	items, err := s.ListForUser(context.Background(), "u1", 0, 1)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, models.Metadata{"k": "v"}, items[0].Metadata)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUnreadCount_StorageError(t *testing.T) {
	s, mock := setupMockStore(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM notifications`).
		WillReturnError(fmt.Errorf("timeout"))

	_, err := s.UnreadCount(context.Background(), "u1")
	assert.True(t, errors.IsStorage(err))
}

func TestMarkRead_RollsBackOnError(t *testing.T) {
	s, mock := setupMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE notifications SET is_read = TRUE`).
		WithArgs("n1", "u1").
		WillReturnError(fmt.Errorf("deadlock"))
	mock.ExpectRollback()

	_, _, err := s.MarkRead(context.Background(), "n1", "u1")
	assert.True(t, errors.IsStorage(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDelete_UsesRowLockOnPostgres(t *testing.T) {
	s, mock := setupMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT is_read FROM notifications WHERE id = \$1 AND recipient_id = \$2 FOR UPDATE`).
		WithArgs("n1", "u1").
		WillReturnRows(sqlmock.NewRows([]string{"is_read"}).AddRow(false))
	mock.ExpectExec(`DELETE FROM notifications WHERE id = \$1 AND recipient_id = \$2`).
		WithArgs("n1", "u1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	res, err := s.Delete(context.Background(), "n1", "u1")
	require.NoError(t, err)
	assert.True(t, res.Deleted)
	assert.True(t, res.WasUnread)
	assert.NoError(t, mock.ExpectationsWereMet())
}

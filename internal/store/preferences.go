package store

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"time"

	"notification-hub/internal/common/errors"
	"notification-hub/internal/models"

	"github.com/jmoiron/sqlx"
)

// PreferenceStore persists one preference map per user. Rows are created on first write.
type PreferenceStore struct {
	db  *sqlx.DB
	now func() time.Time
}

func NewPreferenceStore(db *sqlx.DB, clock func() time.Time) *PreferenceStore {
	if clock == nil {
		clock = time.Now
	}
	return &PreferenceStore{db: db, now: clock}
}

// Get returns the stored preferences of userID, or an empty map if none were ever written.
func (s *PreferenceStore) Get(ctx context.Context, userID string) (prefs models.Preferences, err error) {
	defer observe("preferences_get", time.Now(), &err)

	var raw string
	query := s.db.Rebind(`SELECT preferences FROM user_preferences WHERE user_id = ?`)
	if err := s.db.GetContext(ctx, &raw, query, userID); err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return models.Preferences{}, nil
		}
		return nil, errors.NewStorageError("get preferences", err)
	}
	return decodePreferences(raw)
}

// Set merges update over the stored preferences and returns the merged map.
// Keys not present in update keep their stored value.
func (s *PreferenceStore) Set(ctx context.Context, userID string, update models.Preferences) (merged models.Preferences, err error) {
	defer observe("preferences_set", time.Now(), &err)

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, errors.NewStorageError("begin set preferences", err)
	}
	defer tx.Rollback()

	current := models.Preferences{}
	var raw string
	selectQuery := `SELECT preferences FROM user_preferences WHERE user_id = ?`
	if s.db.DriverName() == "postgres" {
		selectQuery += " FOR UPDATE"
	}
	switch err := tx.GetContext(ctx, &raw, s.db.Rebind(selectQuery), userID); {
	case err == nil:
		if current, err = decodePreferences(raw); err != nil {
			return nil, err
		}
	case stderrors.Is(err, sql.ErrNoRows):
	default:
		return nil, errors.NewStorageError("read preferences for update", err)
	}

	merged = current.Merge(update)
	encoded, err := json.Marshal(merged)
	if err != nil {
		return nil, errors.NewStorageError("encode preferences", err)
	}

	upsert := s.db.Rebind(`INSERT INTO user_preferences (user_id, preferences, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET preferences = excluded.preferences, updated_at = excluded.updated_at`)
	if _, err := tx.ExecContext(ctx, upsert, userID, string(encoded), s.now().UTC()); err != nil {
		return nil, errors.NewStorageError("upsert preferences", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.NewStorageError("commit preferences", err)
	}
	return merged, nil
}

func decodePreferences(raw string) (models.Preferences, error) {
	prefs := models.Preferences{}
	if raw == "" {
		return prefs, nil
	}
	if err := json.Unmarshal([]byte(raw), &prefs); err != nil {
		return nil, errors.NewStorageError("decode preferences", err)
	}
	return prefs, nil
}

package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// Column types differ between the two drivers; everything else is shared.
var dialectTypes = map[string]struct{ timestamp, json string }{
	"postgres": {timestamp: "TIMESTAMPTZ", json: "JSONB"},
	"sqlite":   {timestamp: "DATETIME", json: "TEXT"},
}

func migrationsFor(driver string) ([]migration, error) {
	types, ok := dialectTypes[driver]
	if !ok {
		return nil, fmt.Errorf("no migrations for driver %q", driver)
	}

	return []migration{
		{
			version: 1,
			sql: fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS notifications (
	id           TEXT PRIMARY KEY,
	recipient_id TEXT NOT NULL,
	title        TEXT NOT NULL,
	message      TEXT NOT NULL DEFAULT '',
	type         TEXT NOT NULL DEFAULT 'info',
	metadata     %[2]s,
	link         TEXT,
	is_read      BOOLEAN NOT NULL DEFAULT FALSE,
	created_at   %[1]s NOT NULL,
	expires_at   %[1]s
);

CREATE INDEX IF NOT EXISTS idx_notifications_recipient_created
	ON notifications(recipient_id, created_at DESC, id DESC);
CREATE INDEX IF NOT EXISTS idx_notifications_recipient_unread
	ON notifications(recipient_id, is_read);
`, types.timestamp, types.json),
		},
		{
			version: 2,
			sql: fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS user_preferences (
	user_id     TEXT PRIMARY KEY,
	preferences TEXT NOT NULL DEFAULT '{}',
	updated_at  %[1]s NOT NULL
);
`, types.timestamp),
		},
	}, nil
}

// Migrate applies any outstanding schema migrations in order.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	migrations, err := migrationsFor(db.DriverName())
	if err != nil {
		return err
	}

	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	currentVersion := 0
	if err := db.GetContext(ctx, &currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version"); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		tx, err := db.BeginTxx(ctx, nil)
		if err != nil {
			return fmt.Errorf("beginning migration v%d: %w", m.version, err)
		}
		if _, err := tx.ExecContext(ctx, m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
		if _, err := tx.ExecContext(ctx, db.Rebind("INSERT INTO schema_version (version) VALUES (?)"), m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration v%d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration v%d: %w", m.version, err)
		}
	}

	return nil
}

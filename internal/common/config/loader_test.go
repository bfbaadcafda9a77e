package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFromFile_Defaults(t *testing.T) {
	path := writeConfig(t, `
database:
  driver: sqlite
  sqlite:
    path: ":memory:"
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "notification-hub", cfg.App.Name)
	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, ":memory:", cfg.Database.SQLite.Path)
	assert.Equal(t, EventsLocal, cfg.Events.Backend)
	assert.Equal(t, 64, cfg.Events.BufferSize)
	assert.Equal(t, "notifications:user", cfg.Events.ChannelPrefix)
	assert.Equal(t, 20, cfg.Sync.PageLimit)
	assert.Equal(t, 100, cfg.Sync.MaxPageLimit)
	assert.Equal(t, 8, cfg.Dispatch.BulkConcurrency)
	assert.Equal(t, ":8080", cfg.HTTP.Address)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.NotNil(t, cfg.Workers)
}

func TestLoadFromFile_Sections(t *testing.T) {
	path := writeConfig(t, `
app:
  name: hub
  environment: test
database:
  driver: postgres
  postgres:
    host: db.internal
    port: 5433
    database: notifications
    user: hub
    password: secret
  redis:
    address: localhost:6379
events:
  backend: redis
  channel_prefix: inbox
preferences:
  cache_enabled: true
  cache_ttl: 1000
  key_map:
    job_filled: jobs
dispatch:
  bulk_concurrency: 4
sync:
  page_limit: 10
  resync_base_wait: 250
workers:
  send-notification:
    enabled: true
    max_jobs_active: 3
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "hub", cfg.App.Name)
	assert.Equal(t, "host=db.internal port=5433 user=hub password=secret dbname=notifications sslmode=disable", cfg.Database.Postgres.GetDSN())
	assert.Equal(t, 25, cfg.Database.Postgres.MaxConnections)
	assert.Equal(t, EventsRedis, cfg.Events.Backend)
	assert.Equal(t, "inbox", cfg.Events.ChannelPrefix)
	assert.True(t, cfg.Preferences.CacheEnabled)
	assert.Equal(t, "jobs", cfg.Preferences.KeyMap["job_filled"])
	assert.Equal(t, 4, cfg.Dispatch.BulkConcurrency)
	assert.Equal(t, 10, cfg.Sync.PageLimit)
	assert.Equal(t, 250*time.Millisecond, GetDuration(cfg.Sync.ResyncBaseWait))

	wcfg := GetWorkerConfig(cfg, "send-notification")
	assert.True(t, wcfg.Enabled)
	assert.Equal(t, 3, wcfg.MaxJobsActive)
	assert.Equal(t, 30000, wcfg.Timeout)
	assert.Equal(t, 3, wcfg.MaxRetries)
}

func TestLoadFromFile_ExpandsEnvVars(t *testing.T) {
	t.Setenv("HUB_TEST_DB_HOST", "pg.example")
	path := writeConfig(t, `
database:
  driver: postgres
  postgres:
    host: ${HUB_TEST_DB_HOST}
    database: notifications
    user: hub
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "pg.example", cfg.Database.Postgres.Host)
}

func TestLoadFromFile_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{
			name:    "unknown driver",
			body:    "database:\n  driver: mysql\n",
			wantErr: "database.driver",
		},
		{
			name:    "postgres without host",
			body:    "database:\n  driver: postgres\n  postgres:\n    database: n\n    user: u\n",
			wantErr: "database.postgres.host",
		},
		{
			name:    "redis bus without address",
			body:    "database:\n  driver: sqlite\nevents:\n  backend: redis\n",
			wantErr: "database.redis.address",
		},
		{
			name:    "unknown bus",
			body:    "database:\n  driver: sqlite\nevents:\n  backend: kafka\n",
			wantErr: "events.backend",
		},
		{
			name:    "cache without redis",
			body:    "database:\n  driver: sqlite\npreferences:\n  cache_enabled: true\n",
			wantErr: "preferences.cache_enabled",
		},
		{
			name:    "camunda without broker",
			body:    "database:\n  driver: sqlite\ncamunda:\n  enabled: true\n",
			wantErr: "camunda.broker_address",
		},
		{
			name:    "page limit above max",
			body:    "database:\n  driver: sqlite\nsync:\n  page_limit: 200\n  max_page_limit: 50\n",
			wantErr: "sync.page_limit",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromFile(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadFromFile_MissingFile(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestWorkerDefaults(t *testing.T) {
	cfg := &Config{}

	wcfg := GetWorkerConfig(cfg, "send-bulk-notification")
	assert.True(t, wcfg.Enabled)
	assert.Equal(t, 5, wcfg.MaxJobsActive)
	assert.Equal(t, 30000, wcfg.Timeout)

	cfg.Workers = map[string]WorkerConfig{"send-bulk-notification": {Enabled: false}}
	assert.False(t, GetWorkerConfig(cfg, "send-bulk-notification").Enabled)
}

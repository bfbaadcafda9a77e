// internal/common/config/config.go
package config

import (
	"fmt"
	"time"
)

// Config is the main application configuration struct.
type Config struct {
	App         AppConfig               `mapstructure:"app"`
	Camunda     CamundaConfig           `mapstructure:"camunda"`
	Database    DatabaseConfig          `mapstructure:"database"`
	Events      EventsConfig            `mapstructure:"events"`
	Preferences PreferencesConfig       `mapstructure:"preferences"`
	Dispatch    DispatchConfig          `mapstructure:"dispatch"`
	Sync        SyncConfig              `mapstructure:"sync"`
	HTTP        HTTPConfig              `mapstructure:"http"`
	Workers     map[string]WorkerConfig `mapstructure:"workers"`
	Logging     LoggingConfig           `mapstructure:"logging"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type CamundaConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	BrokerAddress string `mapstructure:"broker_address"`
	MaxJobsActive int    `mapstructure:"max_jobs_active"`
	Timeout       int    `mapstructure:"timeout"` // milliseconds
}

// DatabaseConfig selects the SQL driver backing the notification and preference stores.
type DatabaseConfig struct {
	Driver   string         `mapstructure:"driver"` // postgres or sqlite
	Postgres PostgresConfig `mapstructure:"postgres"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// EventsConfig selects the live event bus.
type EventsConfig struct {
	Backend       string `mapstructure:"backend"` // local or redis
	BufferSize    int    `mapstructure:"buffer_size"`
	ChannelPrefix string `mapstructure:"channel_prefix"`
}

// PreferencesConfig holds the preference cache and the type -> preference key table.
// An empty key_map value means the type is always allowed.
type PreferencesConfig struct {
	CacheEnabled bool              `mapstructure:"cache_enabled"`
	CacheTTL     int               `mapstructure:"cache_ttl"` // milliseconds
	KeyMap       map[string]string `mapstructure:"key_map"`
}

type DispatchConfig struct {
	BulkConcurrency int `mapstructure:"bulk_concurrency"`
	Timeout         int `mapstructure:"timeout"` // milliseconds
}

// SyncConfig configures page sizes and client resync behaviour.
type SyncConfig struct {
	PageLimit      int `mapstructure:"page_limit"`
	MaxPageLimit   int `mapstructure:"max_page_limit"`
	ResyncBaseWait int `mapstructure:"resync_base_wait"` // milliseconds
	ResyncMaxWait  int `mapstructure:"resync_max_wait"`  // milliseconds
}

type HTTPConfig struct {
	Address         string `mapstructure:"address"`
	ShutdownTimeout int    `mapstructure:"shutdown_timeout"` // milliseconds
}

// WorkerConfig holds the core settings applicable to every worker.
type WorkerConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxJobsActive int  `mapstructure:"max_jobs_active"`
	Timeout       int  `mapstructure:"timeout"`     // milliseconds
	MaxRetries    int  `mapstructure:"max_retries"` // For error handling
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// GetDuration converts milliseconds from config to time.Duration
func GetDuration(milliseconds int) time.Duration {
	return time.Duration(milliseconds) * time.Millisecond
}

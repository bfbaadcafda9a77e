package database

import (
	"context"
	"testing"

	"notification-hub/internal/common/config"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSQL_SQLiteMemory(t *testing.T) {
	client, err := NewSQL(config.DatabaseConfig{
		Driver: config.DriverSQLite,
		SQLite: config.SQLiteConfig{Path: ":memory:"},
	})
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.Ping(context.Background()))

	var one int
	require.NoError(t, client.DB.Get(&one, "SELECT 1"))
	assert.Equal(t, 1, one)
}

func TestNewSQL_SQLiteFile(t *testing.T) {
	client, err := NewSQLite(config.SQLiteConfig{Path: t.TempDir() + "/hub.db"})
	require.NoError(t, err)
	defer client.Close()

	_, err = client.DB.Exec("CREATE TABLE t (id INTEGER)")
	require.NoError(t, err)
}

func TestNewSQL_UnsupportedDriver(t *testing.T) {
	_, err := NewSQL(config.DatabaseConfig{Driver: "mysql"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database driver")
}

func TestSQLClient_CloseWithoutDB(t *testing.T) {
	assert.NoError(t, (&SQLClient{}).Close())
}

func TestRedis_Ping(t *testing.T) {
	mr := miniredis.RunT(t)

	client := NewRedis(config.RedisConfig{Address: mr.Addr()})
	defer client.Close()
	require.NoError(t, client.Ping(context.Background()))

	mr.Close()
	err := client.Ping(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis ping failed")
}

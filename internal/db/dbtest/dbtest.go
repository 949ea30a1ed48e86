// Package dbtest opens migrated SQLite databases for tests.
package dbtest

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/goran-ethernal/ChainProjector/internal/db"
	"github.com/goran-ethernal/ChainProjector/internal/logger"
	"github.com/goran-ethernal/ChainProjector/internal/migrations"
	"github.com/goran-ethernal/ChainProjector/pkg/config"
	"github.com/stretchr/testify/require"
)

// Config returns a database config pointing at a fresh file under t.TempDir().
func Config(t *testing.T) config.DatabaseConfig {
	t.Helper()

	cfg := config.DatabaseConfig{Path: filepath.Join(t.TempDir(), "projector.sqlite")}
	cfg.ApplyDefaults()
	return cfg
}

// Open opens the database described by cfg and applies all migrations.
// The database is closed when the test ends.
func Open(t *testing.T, cfg config.DatabaseConfig) *sql.DB {
	t.Helper()

	database, err := db.NewSQLiteDBFromConfig(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	require.NoError(t, migrations.RunMigrations(logger.NewNopLogger(), database))
	return database
}

// New opens a fresh migrated database.
func New(t *testing.T) (*sql.DB, config.DatabaseConfig) {
	t.Helper()

	cfg := Config(t)
	return Open(t, cfg), cfg
}

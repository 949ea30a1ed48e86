package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/goran-ethernal/ChainProjector/internal/common"
	"github.com/goran-ethernal/ChainProjector/internal/logger"
	"github.com/goran-ethernal/ChainProjector/pkg/config"
	"github.com/stretchr/testify/require"
)

// openWALDB opens a WAL database with a small entities-like table.
func openWALDB(t *testing.T) (*sql.DB, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "projector.sqlite")
	cfg := config.DatabaseConfig{Path: path, JournalMode: "WAL", Synchronous: "NORMAL"}
	cfg.ApplyDefaults()

	database, err := NewSQLiteDBFromConfig(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	_, err = database.Exec(`CREATE TABLE items (id TEXT PRIMARY KEY, payload TEXT NOT NULL)`)
	require.NoError(t, err)

	return database, path
}

func writeItems(t *testing.T, database *sql.DB, from, n int) {
	t.Helper()

	for i := from; i < from+n; i++ {
		_, err := database.Exec(`INSERT INTO items (id, payload) VALUES (?, ?)`,
			fmt.Sprintf("item-%d", i), `{"price":"1000000000000000000","sold":false}`)
		require.NoError(t, err)
	}
}

func TestNewMaintenance_WithoutConfig(t *testing.T) {
	t.Parallel()

	database, path := openWALDB(t)

	m := NewMaintenance(database, path, nil, logger.NewNopLogger())
	require.IsType(t, NopMaintenance{}, m)

	require.NoError(t, m.Start(t.Context()))
	m.Guard()()
	require.NoError(t, m.RunMaintenance(t.Context()))
	require.Zero(t, m.Stats().Runs)
	require.NoError(t, m.Stop())
}

func TestCompactor_RunMaintenance_TruncatesWAL(t *testing.T) {
	t.Parallel()

	database, path := openWALDB(t)
	writeItems(t, database, 0, 500)

	wal, err := os.Stat(path + "-wal")
	require.NoError(t, err)
	require.Positive(t, wal.Size())

	c := newCompactor(database, path, config.MaintenanceConfig{WALCheckpointMode: "TRUNCATE"}, logger.NewNopLogger())
	require.NoError(t, c.RunMaintenance(t.Context()))

	stats := c.Stats()
	require.Equal(t, uint64(1), stats.Runs)
	require.NoError(t, stats.LastErr)
	require.WithinDuration(t, time.Now(), stats.LastRun, time.Minute)

	if wal, err := os.Stat(path + "-wal"); err == nil {
		require.Zero(t, wal.Size())
	}

	var count int
	require.NoError(t, database.QueryRow(`SELECT COUNT(*) FROM items`).Scan(&count))
	require.Equal(t, 500, count)
}

func TestCompactor_DefaultsCheckpointMode(t *testing.T) {
	t.Parallel()

	database, path := openWALDB(t)
	c := newCompactor(database, path, config.MaintenanceConfig{}, logger.NewNopLogger())
	require.Equal(t, defaultCheckpointMode, c.cfg.WALCheckpointMode)
	require.NoError(t, c.RunMaintenance(t.Context()))
}

func TestCompactor_WaitsForGuardedBlockWrite(t *testing.T) {
	t.Parallel()

	database, path := openWALDB(t)
	c := newCompactor(database, path, config.MaintenanceConfig{}, logger.NewNopLogger())

	release := c.Guard()

	ran := make(chan error, 1)
	go func() { ran <- c.RunMaintenance(context.Background()) }()

	require.Never(t, func() bool { return len(ran) > 0 }, 100*time.Millisecond, 10*time.Millisecond,
		"maintenance started while a block write was guarded")

	writeItems(t, database, 0, 10)
	release()

	select {
	case err := <-ran:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("maintenance never ran after the guard was released")
	}
}

func TestCompactor_Schedule(t *testing.T) {
	t.Parallel()

	t.Run("runs periodically until stopped", func(t *testing.T) {
		t.Parallel()

		database, path := openWALDB(t)
		c := newCompactor(database, path, config.MaintenanceConfig{
			Enabled:       true,
			CheckInterval: common.NewDuration(20 * time.Millisecond),
		}, logger.NewNopLogger())

		require.NoError(t, c.Start(t.Context()))
		writeItems(t, database, 0, 50)

		require.Eventually(t, func() bool { return c.Stats().Runs >= 2 }, 2*time.Second, 10*time.Millisecond)
		require.NoError(t, c.Stop())

		runs := c.Stats().Runs
		time.Sleep(60 * time.Millisecond)
		require.Equal(t, runs, c.Stats().Runs, "no runs after Stop")
	})

	t.Run("startup run", func(t *testing.T) {
		t.Parallel()

		database, path := openWALDB(t)
		c := newCompactor(database, path, config.MaintenanceConfig{
			Enabled:         true,
			VacuumOnStartup: true,
			CheckInterval:   common.NewDuration(time.Hour),
		}, logger.NewNopLogger())

		require.NoError(t, c.Start(t.Context()))
		t.Cleanup(func() { require.NoError(t, c.Stop()) })
		require.Equal(t, uint64(1), c.Stats().Runs)
	})

	t.Run("disabled never runs", func(t *testing.T) {
		t.Parallel()

		database, path := openWALDB(t)
		c := newCompactor(database, path, config.MaintenanceConfig{
			CheckInterval: common.NewDuration(5 * time.Millisecond),
		}, logger.NewNopLogger())

		require.NoError(t, c.Start(t.Context()))
		time.Sleep(50 * time.Millisecond)
		require.NoError(t, c.Stop())
		require.Zero(t, c.Stats().Runs)
	})
}

func TestCompactor_CanceledContext(t *testing.T) {
	t.Parallel()

	database, path := openWALDB(t)
	c := newCompactor(database, path, config.MaintenanceConfig{}, logger.NewNopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.ErrorIs(t, c.RunMaintenance(ctx), context.Canceled)
	require.Zero(t, c.Stats().Runs)
}

func TestCompactor_InterleavesWithBlockWrites(t *testing.T) {
	t.Parallel()

	database, path := openWALDB(t)
	c := newCompactor(database, path, config.MaintenanceConfig{}, logger.NewNopLogger())

	const writers, blocks = 8, 10
	var wg sync.WaitGroup

	for w := range writers {
		wg.Go(func() {
			for b := range blocks {
				release := c.Guard()
				_, err := database.Exec(`INSERT INTO items (id, payload) VALUES (?, '{}')`,
					fmt.Sprintf("block-%d", w*blocks+b))
				release()
				require.NoError(t, err)
			}
		})
	}
	wg.Go(func() {
		for range 3 {
			require.NoError(t, c.RunMaintenance(context.Background()))
		}
	})
	wg.Wait()

	var count int
	require.NoError(t, database.QueryRow(`SELECT COUNT(*) FROM items`).Scan(&count))
	require.Equal(t, writers*blocks, count)
	require.Equal(t, uint64(3), c.Stats().Runs)
}

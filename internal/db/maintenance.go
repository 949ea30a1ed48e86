package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goran-ethernal/ChainProjector/internal/common"
	"github.com/goran-ethernal/ChainProjector/internal/logger"
	"github.com/goran-ethernal/ChainProjector/pkg/config"
)

const defaultCheckpointMode = "PASSIVE"

// Maintenance compacts the SQLite file between block transactions.
type Maintenance interface {
	Start(ctx context.Context) error
	Stop() error
	// Guard keeps maintenance from starting until the returned release func is called.
	// Every block transaction runs under a guard.
	Guard() (release func())
	Stats() MaintenanceStats
	// RunMaintenance checkpoints the WAL and vacuums the file once.
	RunMaintenance(ctx context.Context) error
}

// MaintenanceStats summarizes the runs made so far.
type MaintenanceStats struct {
	LastRun time.Time
	Runs    uint64
	LastErr error
}

// NopMaintenance is used when no maintenance section is configured.
type NopMaintenance struct{}

func (NopMaintenance) Start(context.Context) error          { return nil }
func (NopMaintenance) Stop() error                          { return nil }
func (NopMaintenance) RunMaintenance(context.Context) error { return nil }
func (NopMaintenance) Guard() func()                        { return func() {} }
func (NopMaintenance) Stats() MaintenanceStats              { return MaintenanceStats{} }

// Compactor runs WAL checkpoints and VACUUM on a timer.
// Block transactions share gate; a run takes it exclusively.
type Compactor struct {
	db   *sql.DB
	path string
	cfg  config.MaintenanceConfig
	log  *logger.Logger

	gate sync.RWMutex

	stop context.CancelFunc
	done sync.WaitGroup

	statsMu sync.Mutex
	stats   MaintenanceStats
}

// NewMaintenance returns a Compactor for the database at path, or NopMaintenance when cfg is nil.
func NewMaintenance(db *sql.DB, path string, cfg *config.MaintenanceConfig, log *logger.Logger) Maintenance {
	if cfg == nil {
		return NopMaintenance{}
	}
	return newCompactor(db, path, *cfg, log)
}

func newCompactor(db *sql.DB, path string, cfg config.MaintenanceConfig, log *logger.Logger) *Compactor {
	if cfg.WALCheckpointMode == "" {
		cfg.WALCheckpointMode = defaultCheckpointMode
	}
	return &Compactor{
		db:   db,
		path: path,
		cfg:  cfg,
		log:  log.WithComponent(common.ComponentMaintenance),
	}
}

// Start optionally runs once, then schedules runs every CheckInterval until Stop.
func (c *Compactor) Start(ctx context.Context) error {
	if !c.cfg.Enabled {
		c.log.Info("Database maintenance disabled")
		return nil
	}

	ctx, c.stop = context.WithCancel(ctx)

	if c.cfg.VacuumOnStartup {
		if err := c.RunMaintenance(ctx); err != nil {
			c.log.Warnf("Startup maintenance failed: %v", err)
		}
	}

	interval := c.cfg.CheckInterval.Duration
	c.done.Go(func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := c.RunMaintenance(ctx); err != nil {
					c.log.Warnf("Scheduled maintenance failed: %v", err)
				}
			}
		}
	})

	c.log.Infof("Database maintenance every %v (wal_checkpoint %s)", interval, c.cfg.WALCheckpointMode)
	return nil
}

// Stop cancels the schedule and waits for a run in progress.
func (c *Compactor) Stop() error {
	if c.stop == nil {
		return nil
	}
	c.stop()
	c.done.Wait()
	return nil
}

func (c *Compactor) Guard() func() {
	c.gate.RLock()
	return c.gate.RUnlock
}

func (c *Compactor) Stats() MaintenanceStats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return c.stats
}

// RunMaintenance waits for the block transaction in flight and blocks new ones until it returns.
// A checkpoint failure does not skip the VACUUM; both errors are reported.
func (c *Compactor) RunMaintenance(ctx context.Context) error {
	c.gate.Lock()
	defer c.gate.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	start := time.Now()
	before, sizeErr := DBTotalSize(c.path)

	runErr := errors.Join(c.checkpoint(ctx), Vacuum(c.db))

	after, err := DBTotalSize(c.path)
	if sizeErr == nil && err != nil {
		sizeErr = err
	}
	if sizeErr != nil {
		c.log.Debugf("Cannot measure database size: %v", sizeErr)
	}

	var reclaimed int64
	if sizeErr == nil && before > after {
		reclaimed = before - after
	}

	elapsed := time.Since(start)
	recordMaintenance(elapsed, after, reclaimed, runErr)

	c.statsMu.Lock()
	c.stats.LastRun = time.Now().UTC()
	c.stats.Runs++
	c.stats.LastErr = runErr
	c.statsMu.Unlock()

	if runErr != nil {
		c.log.Warnf("Maintenance finished with errors after %v: %v", elapsed, runErr)
		return runErr
	}

	c.log.Infof("Maintenance finished in %v, %d MB reclaimed", elapsed, common.BytesToMB(uint64(reclaimed)))
	return nil
}

// checkpoint is a no-op outside WAL mode.
func (c *Compactor) checkpoint(ctx context.Context) error {
	var journal string
	if err := c.db.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&journal); err != nil {
		return fmt.Errorf("failed to read journal mode: %w", err)
	}
	if !strings.EqualFold(journal, "wal") {
		return nil
	}

	mode := strings.ToUpper(c.cfg.WALCheckpointMode)

	var busy, frames, moved int
	err := c.db.QueryRowContext(ctx, fmt.Sprintf("PRAGMA wal_checkpoint(%s)", mode)).Scan(&busy, &frames, &moved)
	if err != nil {
		return fmt.Errorf("wal_checkpoint(%s) failed: %w", mode, err)
	}
	walCheckpoints.WithLabelValues(strings.ToLower(mode)).Inc()

	if busy > 0 {
		c.log.Warnf("wal_checkpoint(%s) was blocked by readers, %d of %d frames moved", mode, moved, frames)
	} else {
		c.log.Debugf("wal_checkpoint(%s) moved %d frames", mode, moved)
	}
	return nil
}

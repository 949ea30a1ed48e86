package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/goran-ethernal/ChainProjector/internal/common"
	"github.com/goran-ethernal/ChainProjector/internal/db"
	"github.com/goran-ethernal/ChainProjector/internal/decoder"
	"github.com/goran-ethernal/ChainProjector/internal/logger"
	"github.com/goran-ethernal/ChainProjector/internal/migrations"
	"github.com/goran-ethernal/ChainProjector/internal/projector"
	"github.com/goran-ethernal/ChainProjector/internal/projector/marketplace"
	"github.com/goran-ethernal/ChainProjector/internal/reorg"
	"github.com/goran-ethernal/ChainProjector/internal/rpc"
	"github.com/goran-ethernal/ChainProjector/internal/store"
	"github.com/goran-ethernal/ChainProjector/pkg/config"
	"github.com/goran-ethernal/ChainProjector/pkg/entity"
)

// app holds the components shared by the CLI commands.
type app struct {
	cfg         *config.Config
	log         *logger.Logger
	database    *sql.DB
	maintenance db.Maintenance
	registry    *entity.Registry
	projector   *projector.Projector
	decoder     *decoder.ABIDecoder
	store       *store.Store
	reorg       *reorg.Manager
}

// newApp opens and migrates the database and registers the event mappings.
func newApp(cfg *config.Config) (*app, error) {
	log := logger.NewComponentLoggerFromConfig(common.ComponentPipeline, cfg.Logging)

	registry, err := entity.NewRegistry()
	if err != nil {
		return nil, err
	}

	proj := projector.New(logger.NewComponentLoggerFromConfig(common.ComponentProjector, cfg.Logging))
	abis, err := registerMappings(proj, registry)
	if err != nil {
		return nil, err
	}

	dec, err := decoder.New(logger.NewComponentLoggerFromConfig(common.ComponentDecoder, cfg.Logging), abis...)
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}

	database, err := db.NewSQLiteDBFromConfig(cfg.Pipeline.DB)
	if err != nil {
		return nil, fmt.Errorf("failed to create database: %w", err)
	}

	if err := migrations.RunMigrations(log, database); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	maintenance := db.NewMaintenance(database, cfg.Pipeline.DB.Path, cfg.Pipeline.Maintenance,
		logger.NewComponentLoggerFromConfig(common.ComponentMaintenance, cfg.Logging))

	entityStore := store.New(database, registry,
		logger.NewComponentLoggerFromConfig(common.ComponentEntityStore, cfg.Logging))

	return &app{
		cfg:         cfg,
		log:         log,
		database:    database,
		maintenance: maintenance,
		registry:    registry,
		projector:   proj,
		decoder:     dec,
		store:       entityStore,
		reorg: reorg.NewManager(database, entityStore,
			logger.NewComponentLoggerFromConfig(common.ComponentReorgManager, cfg.Logging), maintenance),
	}, nil
}

// registerMappings wires every built-in event mapping into proj and returns their ABIs.
func registerMappings(proj *projector.Projector, registry *entity.Registry) ([]abi.ABI, error) {
	parsed, err := marketplace.Register(proj, registry)
	if err != nil {
		return nil, fmt.Errorf("failed to register marketplace mappings: %w", err)
	}
	return []abi.ABI{parsed}, nil
}

// chainClient connects to the configured node.
func (a *app) chainClient(ctx context.Context) (*rpc.ChainClient, error) {
	a.log.Info("Connecting to Ethereum node...")
	eth, err := rpc.NewClient(ctx, a.cfg.Pipeline.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create RPC client: %w", err)
	}

	return rpc.NewChainClient(eth, rpc.ChainClientConfig{
		Addresses:    a.cfg.Pipeline.ContractAddresses(),
		Topics:       a.decoder.Topics(),
		HeadTag:      a.cfg.Pipeline.HeadTag,
		FetchTimeout: a.cfg.Pipeline.FetchTimeout.Duration,
		Retry:        a.cfg.Pipeline.Retry,
	}, logger.NewComponentLoggerFromConfig(common.ComponentChainClient, a.cfg.Logging)), nil
}

// lease returns a pipeline lease owned by this process.
func (a *app) lease() *reorg.Lease {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	owner := fmt.Sprintf("%s/%d", host, os.Getpid())

	return reorg.NewLease(a.database, reorg.PipelineLease, owner, a.cfg.Pipeline.LeaseTTL.Duration,
		logger.NewComponentLoggerFromConfig(common.ComponentReorgManager, a.cfg.Logging))
}

// exclusive runs fn while holding the pipeline lease so no running pipeline writes concurrently.
func (a *app) exclusive(ctx context.Context, fn func() error) error {
	lease := a.lease()
	if err := lease.Acquire(ctx); err != nil {
		return fmt.Errorf("pipeline lease unavailable to %s, stop the running pipeline first: %w", lease.Owner(), err)
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			a.log.Warnf("Failed to release lease: %v", err)
		}
	}()

	return fn()
}

func (a *app) close() {
	a.reorg.Close()
	if err := a.maintenance.Stop(); err != nil {
		a.log.Warnf("Failed to stop maintenance: %v", err)
	}
	if err := a.database.Close(); err != nil {
		a.log.Warnf("Failed to close database: %v", err)
	}
}

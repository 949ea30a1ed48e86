package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/goran-ethernal/ChainProjector/internal/common"
	"github.com/goran-ethernal/ChainProjector/internal/config"
	"github.com/goran-ethernal/ChainProjector/internal/db"
	"github.com/goran-ethernal/ChainProjector/internal/logger"
	"github.com/goran-ethernal/ChainProjector/internal/metrics"
	"github.com/goran-ethernal/ChainProjector/internal/pipeline"
	"github.com/goran-ethernal/ChainProjector/internal/projector"
	"github.com/goran-ethernal/ChainProjector/internal/store"
	"github.com/goran-ethernal/ChainProjector/pkg/api"
	pkgconfig "github.com/goran-ethernal/ChainProjector/pkg/config"
	"github.com/goran-ethernal/ChainProjector/pkg/entity"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const (
	version = "1.0.0"
	banner  = `
╔═══════════════════════════════════════════╗
║         ChainProjector v%s             ║
║    EVM Event-to-Entity Projection Engine  ║
╚═══════════════════════════════════════════╝
`
)

var (
	configPath  string
	rewindBlock uint64
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "projector",
	Short: "ChainProjector - EVM event-to-entity projection engine",
	Long: `ChainProjector follows a chain, decodes contract events and projects them into
entities stored in SQLite. Reorgs are undone block by block and the checkpoint
advances atomically with the entities, so a restart never loses or repeats work.`,
	Version: version,
	RunE:    runProjector,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the stored checkpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		defer a.close()

		cp, err := a.reorg.Load(cmd.Context())
		if err != nil {
			return err
		}
		if cp == nil {
			fmt.Println("No checkpoint: nothing has been processed yet")
			return nil
		}

		out, err := json.MarshalIndent(cp, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

var rewindCmd = &cobra.Command{
	Use:   "rewind",
	Short: "Roll projected state back to a block using the undo log",
	Long: `Roll every entity back to its state after the given block and rewind the checkpoint.
The block must not be below the finalized block. The canonical hash of the block is
fetched from the node, so the pipeline resumes on the current chain.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		a, err := loadApp()
		if err != nil {
			return err
		}
		defer a.close()

		chain, err := a.chainClient(ctx)
		if err != nil {
			return err
		}
		defer chain.Close()

		hash, err := chain.GetBlockHash(ctx, rewindBlock)
		if err != nil {
			return fmt.Errorf("failed to fetch canonical hash of block %d: %w", rewindBlock, err)
		}

		err = a.exclusive(ctx, func() error {
			return a.reorg.RollbackTo(ctx, rewindBlock, hash)
		})
		if err != nil {
			return err
		}

		fmt.Printf("Rewound to block %d (%s)\n", rewindBlock, hash.Hex())
		return nil
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Discard all projected state and the checkpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		defer a.close()

		ctx := cmd.Context()
		if err := a.exclusive(ctx, func() error { return a.reorg.Reset(ctx) }); err != nil {
			return err
		}

		fmt.Printf("Reset complete, the next run resyncs from block %d\n", a.cfg.Pipeline.StartBlock)
		return nil
	},
}

var mappingsCmd = &cobra.Command{
	Use:   "mappings",
	Short: "List the registered event mappings",
	RunE: func(cmd *cobra.Command, args []string) error {
		registry, err := entity.NewRegistry()
		if err != nil {
			return err
		}

		proj := projector.New(logger.NewNopLogger())
		abis, err := registerMappings(proj, registry)
		if err != nil {
			return err
		}

		fmt.Println("Event mappings:")
		for _, name := range proj.Mappings() {
			for _, parsed := range abis {
				if ev, ok := parsed.Events[name]; ok {
					fmt.Printf("  - %s (%s)\n", ev.Sig, ev.ID.Hex())
				}
			}
		}

		fmt.Println("Entity types:")
		for _, t := range registry.Types() {
			fmt.Printf("  - %s\n", t)
		}
		return nil
	},
}

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the JSON schema of the configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		schema, err := pkgconfig.JSONSchema()
		if err != nil {
			return err
		}
		fmt.Println(string(schema))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to configuration file")

	rewindCmd.Flags().Uint64Var(&rewindBlock, "block", 0, "block to rewind to")
	_ = rewindCmd.MarkFlagRequired("block")

	rootCmd.AddCommand(statusCmd, rewindCmd, resetCmd, mappingsCmd, schemaCmd)
}

func loadApp() (*app, error) {
	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return newApp(cfg)
}

func runProjector(cmd *cobra.Command, args []string) error {
	fmt.Printf(banner, version)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.close()

	chain, err := a.chainClient(ctx)
	if err != nil {
		return err
	}
	defer chain.Close()
	a.log.Infof("Connected to Ethereum node, watching %d contract(s)", len(a.cfg.Pipeline.Contracts))

	p, err := pipeline.New(
		pipeline.NewConfig(a.cfg.Pipeline),
		chain,
		a.decoder,
		a.projector,
		a.store,
		a.reorg,
		a.lease(),
		a.maintenance,
		a.log,
	)
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}

	if err := a.maintenance.Start(ctx); err != nil {
		return fmt.Errorf("failed to start maintenance: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	if a.cfg.Metrics != nil && a.cfg.Metrics.Enabled {
		metricsServer := metrics.NewServer(a.cfg.Metrics,
			logger.NewComponentLoggerFromConfig(common.ComponentPipeline, a.cfg.Logging))
		if err := metricsServer.Start(gctx); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		g.Go(func() error {
			<-gctx.Done()
			return metricsServer.Stop(context.WithoutCancel(gctx))
		})
	}

	if a.cfg.API != nil && a.cfg.API.Enabled {
		readDB, err := db.NewReadOnlySQLiteDB(a.cfg.Pipeline.DB)
		if err != nil {
			return fmt.Errorf("failed to open read-only database: %w", err)
		}
		defer readDB.Close()

		apiLog := logger.NewComponentLoggerFromConfig(common.ComponentAPI, a.cfg.Logging)
		apiServer := api.NewServer(a.cfg.API, p, store.New(readDB, a.registry, apiLog), a.registry, apiLog)
		g.Go(func() error {
			return apiServer.Start(gctx)
		})
	}

	g.Go(func() error {
		return p.Run(gctx)
	})

	a.log.Info("Starting ChainProjector...")
	err = g.Wait()

	var halt *pipeline.HaltError
	switch {
	case errors.As(err, &halt):
		a.log.Errorf("ChainProjector halted: %v", halt)
		return halt
	case err != nil && !errors.Is(err, context.Canceled):
		return err
	}

	a.log.Info("ChainProjector stopped successfully")
	return nil
}

// Package pipeline drives events from the chain into the entity store.
//
// One pipeline instance owns the checkpoint. It fetches ordered log batches strictly after the
// checkpoint, projects every block in its own transaction together with the block's undo
// records and the advanced checkpoint, and rolls back blocks that leave the canonical chain.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	internalcommon "github.com/goran-ethernal/ChainProjector/internal/common"
	"github.com/goran-ethernal/ChainProjector/internal/db"
	"github.com/goran-ethernal/ChainProjector/internal/logger"
	"github.com/goran-ethernal/ChainProjector/internal/metrics"
	"github.com/goran-ethernal/ChainProjector/internal/projector"
	"github.com/goran-ethernal/ChainProjector/internal/reorg"
	"github.com/goran-ethernal/ChainProjector/internal/store"
	"github.com/goran-ethernal/ChainProjector/pkg/config"
	"github.com/goran-ethernal/ChainProjector/pkg/event"
	pkgrpc "github.com/goran-ethernal/ChainProjector/pkg/rpc"
)

// Config holds the pipeline tuning knobs.
type Config struct {
	StartBlock        uint64
	BatchSize         uint64
	ConfirmationDepth uint64
	MaxReorgDepth     uint64
	PollInterval      time.Duration
	LagTolerance      uint64
	LeaseTTL          time.Duration
	CommitRetry       *config.RetryConfig
}

// NewConfig extracts the pipeline settings from a validated configuration.
func NewConfig(cfg config.PipelineConfig) Config {
	return Config{
		StartBlock:        cfg.StartBlock,
		BatchSize:         cfg.BatchSize,
		ConfirmationDepth: cfg.ConfirmationDepth,
		MaxReorgDepth:     cfg.MaxReorgDepth,
		PollInterval:      cfg.PollInterval.Duration,
		LagTolerance:      cfg.LagTolerance,
		LeaseTTL:          cfg.LeaseTTL.Duration,
		CommitRetry:       cfg.CommitRetry,
	}
}

// Status is a point-in-time view of the pipeline.
type Status struct {
	State      State             `json:"state"`
	Checkpoint *reorg.Checkpoint `json:"checkpoint,omitempty"`
	ChainHead  uint64            `json:"chain_head"`
	Lag        uint64            `json:"lag"`
	HaltReason string            `json:"halt_reason,omitempty"`
	HaltError  string            `json:"halt_error,omitempty"`
}

// recoveryPlan describes a pending reorg recovery.
type recoveryPlan struct {
	// height is the processed block whose hash no longer matched.
	height uint64
	// observed is the hash the chain reported for height when the mismatch was detected.
	observed common.Hash
	// ambiguous forces a rollback to the finalized block.
	ambiguous bool
	cause     *reorg.ReorgDetectedError
}

// Pipeline is the ingestion state machine.
type Pipeline struct {
	cfg         Config
	chain       pkgrpc.ChainClient
	decoder     event.Decoder
	projector   *projector.Projector
	store       *store.Store
	reorg       *reorg.Manager
	lease       *reorg.Lease
	maintenance db.Maintenance
	log         *logger.Logger
	now         func() time.Time

	ready         bool
	lastRenew     time.Time
	caughtUpSince time.Time
	recovery      *recoveryPlan

	mu         sync.RWMutex
	state      State
	checkpoint *reorg.Checkpoint
	head       uint64
	haltErr    *HaltError
}

// New creates a pipeline. The lease is optional; without it nothing fences concurrent writers.
func New(
	cfg Config,
	chain pkgrpc.ChainClient,
	decoder event.Decoder,
	proj *projector.Projector,
	entityStore *store.Store,
	reorgManager *reorg.Manager,
	lease *reorg.Lease,
	maintenance db.Maintenance,
	log *logger.Logger,
) (*Pipeline, error) {
	if chain == nil {
		return nil, errors.New("chain client is required")
	}
	if decoder == nil {
		return nil, errors.New("decoder is required")
	}
	if proj == nil {
		return nil, errors.New("projector is required")
	}
	if entityStore == nil {
		return nil, errors.New("entity store is required")
	}
	if reorgManager == nil {
		return nil, errors.New("reorg manager is required")
	}
	if log == nil {
		return nil, errors.New("logger is required")
	}
	if cfg.BatchSize == 0 {
		return nil, errors.New("batch size must be greater than 0")
	}
	if cfg.PollInterval <= 0 {
		return nil, errors.New("poll interval must be positive")
	}
	if cfg.MaxReorgDepth == 0 {
		cfg.MaxReorgDepth = cfg.ConfirmationDepth
	}
	if maintenance == nil {
		maintenance = db.NopMaintenance{}
	}

	p := &Pipeline{
		cfg:         cfg,
		chain:       chain,
		decoder:     decoder,
		projector:   proj,
		store:       entityStore,
		reorg:       reorgManager,
		lease:       lease,
		maintenance: maintenance,
		log:         log,
		now:         time.Now,
		state:       StateSyncing,
	}
	metrics.PipelineStateSet(string(StateSyncing), AllStates)

	return p, nil
}

// Run ticks the state machine until ctx is cancelled or the pipeline halts.
// A halt is returned as *HaltError; cancellation returns ctx.Err().
func (p *Pipeline) Run(ctx context.Context) error {
	p.log.Infof("pipeline starting: start_block=%d batch_size=%d confirmation_depth=%d max_reorg_depth=%d",
		p.cfg.StartBlock, p.cfg.BatchSize, p.cfg.ConfirmationDepth, p.cfg.MaxReorgDepth)
	metrics.ComponentHealthSet(internalcommon.ComponentPipeline, true)

	defer p.releaseLease()

	for {
		wait, err := p.Tick(ctx)
		if err != nil {
			var halt *HaltError
			if errors.As(err, &halt) {
				return halt
			}
			if ctx.Err() != nil {
				p.log.Info("pipeline stopped")
				return ctx.Err()
			}

			p.log.Errorf("pipeline tick failed, retrying in %s: %v", p.cfg.PollInterval, err)
			metrics.ErrorsInc(internalcommon.ComponentPipeline, "error")
			wait = p.cfg.PollInterval
		}

		if wait <= 0 {
			if ctx.Err() != nil {
				p.log.Info("pipeline stopped")
				return ctx.Err()
			}
			continue
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			p.log.Info("pipeline stopped")
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Tick runs one step of the state machine and returns how long to wait before the next one.
// Errors that do not halt the pipeline are returned as-is and may be retried.
func (p *Pipeline) Tick(ctx context.Context) (time.Duration, error) {
	if halt := p.halted(); halt != nil {
		return 0, halt
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	wait, err := p.step(ctx)
	if err == nil {
		return wait, nil
	}
	if ctx.Err() != nil {
		return 0, ctx.Err()
	}

	if reason := haltReason(err); reason != "" {
		return 0, p.halt(reason, err)
	}
	return 0, err
}

func (p *Pipeline) step(ctx context.Context) (time.Duration, error) {
	if !p.ready {
		if err := p.prepare(ctx); err != nil {
			return 0, err
		}
	}

	if err := p.keepLease(ctx); err != nil {
		return 0, err
	}

	switch p.State() {
	case StateReorgRecovery:
		return p.recover(ctx)
	default:
		return p.sync(ctx)
	}
}

// prepare claims the lease and loads the checkpoint.
func (p *Pipeline) prepare(ctx context.Context) error {
	if p.lease != nil {
		if err := p.lease.Acquire(ctx); err != nil {
			return err
		}
		p.lastRenew = p.now()
	}

	cp, err := p.reorg.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load checkpoint: %w", err)
	}
	p.setCheckpoint(cp)

	if cp == nil {
		p.log.Infof("starting fresh sync: start_block=%d", p.cfg.StartBlock)
	} else {
		p.log.Infof("resuming from checkpoint: block=%d hash=%s finalized=%d",
			cp.LastProcessedBlock, cp.BlockHash.Hex(), cp.FinalizedBlock)
	}

	p.ready = true
	return nil
}

// keepLease renews the lease once a third of its ttl has passed.
func (p *Pipeline) keepLease(ctx context.Context) error {
	if p.lease == nil || p.now().Sub(p.lastRenew) < p.cfg.LeaseTTL/3 {
		return nil
	}

	if err := p.lease.Renew(ctx); err != nil {
		return err
	}
	p.lastRenew = p.now()
	return nil
}

func (p *Pipeline) releaseLease() {
	if p.lease == nil || !p.ready {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second) //nolint:mnd
	defer cancel()

	if err := p.lease.Release(ctx); err != nil {
		p.log.Warnf("failed to release lease: %v", err)
	}
}

// Status returns the current state, checkpoint and halt reason.
func (p *Pipeline) Status() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()

	status := Status{
		State:     p.state,
		ChainHead: p.head,
	}
	if p.checkpoint != nil {
		cp := *p.checkpoint
		status.Checkpoint = &cp
	}
	if processed := p.processedLocked(); p.head > processed {
		status.Lag = p.head - processed
	}
	if p.haltErr != nil {
		status.HaltReason = p.haltErr.Reason
		status.HaltError = p.haltErr.Err.Error()
	}
	return status
}

// State returns the current state.
func (p *Pipeline) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

func (p *Pipeline) setState(state State) {
	p.mu.Lock()
	prev := p.state
	p.state = state
	p.mu.Unlock()

	if prev != state {
		p.log.Infof("pipeline state: %s -> %s", prev, state)
		metrics.PipelineStateSet(string(state), AllStates)
	}
}

func (p *Pipeline) currentCheckpoint() *reorg.Checkpoint {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.checkpoint
}

func (p *Pipeline) setCheckpoint(cp *reorg.Checkpoint) {
	p.mu.Lock()
	p.checkpoint = cp
	p.mu.Unlock()

	if cp != nil {
		metrics.LastProcessedBlockLog(cp.LastProcessedBlock)
	}
}

func (p *Pipeline) setHead(head uint64) {
	p.mu.Lock()
	p.head = head
	p.mu.Unlock()

	metrics.ChainHeadLog(head)
}

// processedLocked is the highest block whose effects are committed, or StartBlock-1.
func (p *Pipeline) processedLocked() uint64 {
	if p.checkpoint != nil {
		return p.checkpoint.LastProcessedBlock
	}
	if p.cfg.StartBlock > 0 {
		return p.cfg.StartBlock - 1
	}
	return 0
}

func (p *Pipeline) halted() *HaltError {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.haltErr
}

func (p *Pipeline) halt(reason string, err error) *HaltError {
	halt := &HaltError{Reason: reason, Checkpoint: p.currentCheckpoint(), Err: err}

	p.mu.Lock()
	p.haltErr = halt
	p.mu.Unlock()

	p.setState(StateHalted)
	metrics.ErrorsInc(internalcommon.ComponentPipeline, "fatal")
	metrics.ComponentHealthSet(internalcommon.ComponentPipeline, false)
	p.log.Errorf("pipeline halted: reason=%s error=%v", reason, err)

	return halt
}

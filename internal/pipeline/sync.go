package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/goran-ethernal/ChainProjector/internal/db"
	"github.com/goran-ethernal/ChainProjector/internal/metrics"
	"github.com/goran-ethernal/ChainProjector/internal/reorg"
	"github.com/goran-ethernal/ChainProjector/internal/retry"
	"github.com/goran-ethernal/ChainProjector/pkg/event"
	pkgrpc "github.com/goran-ethernal/ChainProjector/pkg/rpc"
	"golang.org/x/sync/errgroup"
)

// blockWork is one block's worth of decoded events, committed in a single transaction.
type blockWork struct {
	number    uint64
	hash      common.Hash
	events    []*event.Event
	lastIndex uint32
}

// sync runs one SYNCING/LIVE step: verify the checkpoint is still canonical, then project the
// next batch of blocks up to the head.
func (p *Pipeline) sync(ctx context.Context) (time.Duration, error) {
	head, err := p.chain.GetHeadBlock(ctx)
	if err != nil {
		return 0, &fetchError{op: "head", err: err}
	}
	p.setHead(head.Number)

	if cp := p.currentCheckpoint(); cp != nil {
		canonical, err := p.canonicalHash(ctx, cp.LastProcessedBlock)
		if err != nil {
			return 0, err
		}
		if canonical != cp.BlockHash {
			p.enterRecovery(&recoveryPlan{
				height:   cp.LastProcessedBlock,
				observed: canonical,
				cause: &reorg.ReorgDetectedError{
					Block:   cp.LastProcessedBlock,
					Details: fmt.Sprintf("hash changed from %s to %s", cp.BlockHash.Hex(), canonical.Hex()),
				},
			})
			return 0, nil
		}
	}

	from := p.processed() + 1
	if from > head.Number {
		p.trackLag(head.Number)
		return p.cfg.PollInterval, nil
	}
	to := min(from+p.cfg.BatchSize-1, head.Number)

	work, err := p.fetchBatch(ctx, from, to)
	if err != nil {
		var ambiguous *ambiguityError
		if errors.As(err, &ambiguous) {
			p.enterRecovery(&recoveryPlan{
				height:    ambiguous.block,
				ambiguous: true,
				cause:     &reorg.ReorgDetectedError{Block: ambiguous.block, Ambiguous: true, Details: ambiguous.Error()},
			})
			return 0, nil
		}
		return 0, err
	}

	for _, blk := range work {
		if err := p.processBlock(ctx, blk); err != nil {
			return 0, err
		}
	}

	p.trackLag(head.Number)
	if to < head.Number {
		return 0, nil
	}
	return p.cfg.PollInterval, nil
}

// ambiguityError reports that the chain gave two hashes for one height within one fetch.
type ambiguityError struct {
	block  uint64
	first  common.Hash
	second common.Hash
}

func (e *ambiguityError) Error() string {
	return fmt.Sprintf("chain reported two hashes for block %d: %s and %s", e.block, e.first.Hex(), e.second.Hex())
}

// maxHashChecks bounds the concurrent block hash lookups made while verifying a batch.
const maxHashChecks = 8

// fetchBatch fetches and decodes the logs in [from, to] and groups them per block. The last
// block of the range is always included so the checkpoint can advance over empty blocks.
//
// The tail hash is read before and after the logs, and every block carrying logs is checked
// against the chain once the logs are in. Any disagreement means the chain moved during the
// fetch and is reported as an ambiguityError, so nothing from the batch is committed.
func (p *Pipeline) fetchBatch(ctx context.Context, from, to uint64) ([]*blockWork, error) {
	tailBefore, err := p.chain.GetBlockHash(ctx, to)
	if err != nil {
		return nil, p.tailError(to, err)
	}

	logs, err := p.chain.GetEvents(ctx, from, to)
	if err != nil {
		return nil, &fetchError{op: "events", err: err}
	}

	tailHash, err := p.chain.GetBlockHash(ctx, to)
	if err != nil {
		return nil, p.tailError(to, err)
	}
	if tailHash != tailBefore {
		return nil, &ambiguityError{block: to, first: tailBefore, second: tailHash}
	}

	work := make([]*blockWork, 0)
	var current *blockWork
	for _, lg := range logs {
		if lg.BlockNumber < from || lg.BlockNumber > to {
			continue
		}

		if current == nil || current.number != lg.BlockNumber {
			current = &blockWork{number: lg.BlockNumber, hash: lg.BlockHash}
			work = append(work, current)
		}
		if lg.BlockHash != current.hash {
			return nil, &ambiguityError{block: lg.BlockNumber, first: current.hash, second: lg.BlockHash}
		}
		current.lastIndex = uint32(lg.Index)

		if ev := p.decode(lg); ev != nil {
			current.events = append(current.events, ev)
		}
	}

	if current != nil && current.number == to {
		if current.hash != tailHash {
			return nil, &ambiguityError{block: to, first: current.hash, second: tailHash}
		}
	} else {
		work = append(work, &blockWork{number: to, hash: tailHash})
	}

	if err := p.verifyBatch(ctx, work[:len(work)-1]); err != nil {
		if errors.Is(err, pkgrpc.ErrBlockNotFound) {
			p.log.Debugf("block in batch %d-%d disappeared, retrying", from, to)
			return nil, nil
		}
		return nil, err
	}

	return work, nil
}

// verifyBatch checks that every block in work still has the hash its logs were served with.
func (p *Pipeline) verifyBatch(ctx context.Context, work []*blockWork) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxHashChecks)

	for _, blk := range work {
		g.Go(func() error {
			canonical, err := p.chain.GetBlockHash(gctx, blk.number)
			switch {
			case errors.Is(err, pkgrpc.ErrBlockNotFound):
				return err
			case err != nil:
				return &fetchError{op: "block hash", err: err}
			case canonical != blk.hash:
				return &ambiguityError{block: blk.number, first: blk.hash, second: canonical}
			}
			return nil
		})
	}
	return g.Wait()
}

// tailError maps a failed tail hash lookup. A missing tail means the chain shrank while
// fetching; the next tick sees the new head.
func (p *Pipeline) tailError(to uint64, err error) error {
	if errors.Is(err, pkgrpc.ErrBlockNotFound) {
		p.log.Debugf("batch tail block %d disappeared, retrying", to)
		return nil
	}
	return &fetchError{op: "block hash", err: err}
}

// decode returns nil for logs that cannot be decoded; those are skipped.
func (p *Pipeline) decode(lg types.Log) *event.Event {
	ev, err := p.decoder.Decode(lg)
	if err == nil {
		return ev
	}

	var decodeErr *event.DecodeError
	if errors.As(err, &decodeErr) {
		p.log.Warnf("skipping undecodable log: %v", decodeErr)
	} else {
		p.log.Warnf("skipping log %d:%d: %v", lg.BlockNumber, lg.Index, err)
	}
	metrics.EventSkippedInc("decode_error")
	return nil
}

// processBlock commits one block, retrying the whole transaction on transient storage errors.
// The transaction itself runs detached from ctx so shutdown never interrupts a block midway.
func (p *Pipeline) processBlock(ctx context.Context, blk *blockWork) error {
	if err := p.keepLease(ctx); err != nil {
		return err
	}

	start := time.Now()
	txCtx := context.WithoutCancel(ctx)
	policy := retry.Policy{
		Retryable: db.IsTransient,
		OnRetry: func(attempt int, err error) {
			metrics.CommitRetryInc()
			p.log.Warnf("block %d commit failed on attempt %d, retrying: %v", blk.number, attempt, err)
		},
	}

	var next *reorg.Checkpoint
	err := retry.Do(ctx, p.cfg.CommitRetry, policy, func() error {
		var err error
		next, err = p.commitBlock(txCtx, blk)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to commit block %d: %w", blk.number, err)
	}

	p.setCheckpoint(next)
	metrics.BlocksProcessedInc()
	metrics.BlockProcessingTimeLog(time.Since(start))

	if len(blk.events) > 0 {
		p.log.Debugf("block committed: block=%d hash=%s events=%d finalized=%d",
			blk.number, blk.hash.Hex(), len(blk.events), next.FinalizedBlock)
	}
	return nil
}

// commitBlock applies blk's events and advances the checkpoint in one transaction.
func (p *Pipeline) commitBlock(ctx context.Context, blk *blockWork) (*reorg.Checkpoint, error) {
	unlock := p.maintenance.Guard()
	defer unlock()

	tx, err := p.store.BeginTx(ctx, blk.number)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback() //nolint:errcheck

	for _, ev := range blk.events {
		if err := p.projector.Apply(ctx, ev, tx); err != nil {
			return nil, &mappingError{err: err}
		}
	}

	if _, err := p.reorg.RecordUndoTx(ctx, tx); err != nil {
		return nil, err
	}

	raw, err := tx.Raw()
	if err != nil {
		return nil, err
	}

	if err := p.reorg.RecordBlockTx(raw, blk.number, blk.hash); err != nil {
		return nil, err
	}

	if p.lease != nil {
		if err := p.lease.VerifyTx(raw); err != nil {
			return nil, err
		}
	}

	var finalized uint64
	if prev := p.currentCheckpoint(); prev != nil {
		finalized = prev.FinalizedBlock
	}
	if blk.number > p.cfg.ConfirmationDepth {
		keep, err := p.reorg.PruneTx(raw, blk.number-p.cfg.ConfirmationDepth)
		if err != nil {
			return nil, err
		}
		finalized = max(finalized, keep)
	}

	next := &reorg.Checkpoint{
		LastProcessedBlock:    blk.number,
		LastProcessedLogIndex: blk.lastIndex,
		BlockHash:             blk.hash,
		FinalizedBlock:        finalized,
		State:                 string(p.State()),
		UpdatedAt:             p.now().UnixMilli(),
	}
	if err := p.reorg.SaveTx(raw, *next); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return next, nil
}

// canonicalHash returns the chain's hash at height; a missing block yields the zero hash,
// which never matches a recorded one.
func (p *Pipeline) canonicalHash(ctx context.Context, height uint64) (common.Hash, error) {
	hash, err := p.chain.GetBlockHash(ctx, height)
	if errors.Is(err, pkgrpc.ErrBlockNotFound) {
		return common.Hash{}, nil
	}
	if err != nil {
		return common.Hash{}, &fetchError{op: "block hash", err: err}
	}
	return hash, nil
}

// trackLag moves SYNCING to LIVE once the processed height stays within the lag tolerance
// of the head for a full poll interval.
func (p *Pipeline) trackLag(head uint64) {
	if p.State() != StateSyncing {
		return
	}

	processed := p.processed()
	if head > processed && head-processed > p.cfg.LagTolerance {
		p.caughtUpSince = time.Time{}
		return
	}

	now := p.now()
	if p.caughtUpSince.IsZero() {
		p.caughtUpSince = now
		return
	}
	if now.Sub(p.caughtUpSince) >= p.cfg.PollInterval {
		p.setState(StateLive)
	}
}

func (p *Pipeline) processed() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.processedLocked()
}

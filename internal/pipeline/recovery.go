package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/goran-ethernal/ChainProjector/internal/reorg"
)

func (p *Pipeline) enterRecovery(plan *recoveryPlan) {
	p.log.Warn(plan.cause.Error())
	p.recovery = plan
	p.caughtUpSince = time.Time{}
	p.setState(StateReorgRecovery)
}

// recover runs one REORG_RECOVERY step: locate the fork point, roll back to it and resume
// syncing. If the chain contradicts itself the rollback goes all the way to the finalized block.
func (p *Pipeline) recover(ctx context.Context) (time.Duration, error) {
	cp := p.currentCheckpoint()
	plan := p.recovery
	if cp == nil || plan == nil {
		p.finishRecovery(cp)
		return 0, nil
	}

	if !plan.ambiguous && plan.height == cp.LastProcessedBlock {
		again, err := p.canonicalHash(ctx, plan.height)
		if err != nil {
			return 0, err
		}
		if again != plan.observed {
			plan.ambiguous = true
			p.log.Warnf("chain reported block %d as %s then %s, rolling back to the finalized block %d",
				plan.height, plan.observed.Hex(), again.Hex(), cp.FinalizedBlock)
		}
	}

	if plan.ambiguous {
		if err := p.rollbackToFinalized(ctx, cp); err != nil {
			return 0, err
		}
		return 0, p.reloadAfterRecovery(ctx)
	}

	forkPoint, hash, found, err := p.findForkPoint(ctx, cp)
	if err != nil {
		return 0, err
	}

	if found {
		if err := p.reorg.RollbackTo(ctx, forkPoint, hash); err != nil {
			return 0, err
		}
	} else {
		p.log.Warnf("fork point precedes every recorded block, resyncing from block %d", p.cfg.StartBlock)
		if err := p.reorg.Reset(ctx); err != nil {
			return 0, err
		}
	}

	return 0, p.reloadAfterRecovery(ctx)
}

// findForkPoint walks the recorded blocks newest first and returns the highest one that is
// still canonical. found is false when none is and the whole history may be replayed.
func (p *Pipeline) findForkPoint(ctx context.Context, cp *reorg.Checkpoint) (uint64, common.Hash, bool, error) {
	floor := cp.FinalizedBlock
	if cp.LastProcessedBlock > p.cfg.MaxReorgDepth {
		floor = max(floor, cp.LastProcessedBlock-p.cfg.MaxReorgDepth)
	}

	var above uint64
	if cp.FinalizedBlock > 0 {
		above = cp.FinalizedBlock - 1
	}
	blocks, err := p.reorg.StoredBlocks(ctx, above)
	if err != nil {
		return 0, common.Hash{}, false, err
	}

	for _, blk := range blocks {
		if blk.BlockNumber >= cp.LastProcessedBlock {
			continue
		}
		if blk.BlockNumber < floor {
			break
		}

		canonical, err := p.canonicalHash(ctx, blk.BlockNumber)
		if err != nil {
			return 0, common.Hash{}, false, err
		}
		if canonical == blk.BlockHash {
			p.log.Infof("fork point found: block=%d hash=%s depth=%d",
				blk.BlockNumber, blk.BlockHash.Hex(), cp.LastProcessedBlock-blk.BlockNumber)
			return blk.BlockNumber, blk.BlockHash, true, nil
		}
	}

	replayFrom := p.cfg.StartBlock
	if cp.FinalizedBlock == 0 && cp.LastProcessedBlock-min(replayFrom, cp.LastProcessedBlock) < p.cfg.MaxReorgDepth {
		return 0, common.Hash{}, false, nil
	}

	return 0, common.Hash{}, false, &reorg.ReorgTooDeepError{
		LastProcessedBlock: cp.LastProcessedBlock,
		FinalizedBlock:     cp.FinalizedBlock,
		MaxDepth:           p.cfg.MaxReorgDepth,
		Details:            fmt.Sprintf("no canonical block recorded at or above block %d", floor),
	}
}

// rollbackToFinalized discards everything above the finalized block, or all projected state
// when nothing has been finalized yet.
func (p *Pipeline) rollbackToFinalized(ctx context.Context, cp *reorg.Checkpoint) error {
	if cp.FinalizedBlock == 0 {
		p.log.Warnf("nothing finalized yet, resyncing from block %d", p.cfg.StartBlock)
		return p.reorg.Reset(ctx)
	}

	if cp.LastProcessedBlock <= cp.FinalizedBlock {
		return &reorg.ReorgTooDeepError{
			LastProcessedBlock: cp.LastProcessedBlock,
			FinalizedBlock:     cp.FinalizedBlock,
			MaxDepth:           p.cfg.MaxReorgDepth,
			Details:            "divergence at the finalized block",
		}
	}

	hash, ok, err := p.reorg.BlockHash(ctx, cp.FinalizedBlock)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("finalized block %d has no recorded hash", cp.FinalizedBlock)
	}

	return p.reorg.RollbackTo(ctx, cp.FinalizedBlock, hash)
}

func (p *Pipeline) reloadAfterRecovery(ctx context.Context) error {
	cp, err := p.reorg.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to reload checkpoint after rollback: %w", err)
	}
	p.finishRecovery(cp)
	return nil
}

func (p *Pipeline) finishRecovery(cp *reorg.Checkpoint) {
	p.setCheckpoint(cp)
	p.recovery = nil

	if cp == nil {
		p.log.Infof("recovery complete, resyncing from block %d", p.cfg.StartBlock)
	} else {
		p.log.Infof("recovery complete, resuming after block %d (%s)", cp.LastProcessedBlock, cp.BlockHash.Hex())
	}
	p.setState(StateSyncing)
}

package reorg

import (
	"errors"
	"fmt"
)

// ErrLeaseHeld is returned when another owner holds an unexpired pipeline lease,
// or when this owner's lease has been lost.
var ErrLeaseHeld = errors.New("pipeline lease held by another owner")

// ReorgDetectedError describes why a processed block is no longer trusted.
// Ambiguous means the chain contradicted itself, so the fork point cannot be searched for.
type ReorgDetectedError struct {
	Block     uint64
	Ambiguous bool
	Details   string
}

func (e *ReorgDetectedError) Error() string {
	if e.Ambiguous {
		return fmt.Sprintf("ambiguous chain at block %d: %s", e.Block, e.Details)
	}
	return fmt.Sprintf("reorg detected at block %d: %s", e.Block, e.Details)
}

// ReorgTooDeepError is returned when the fork point lies below the oldest block that can
// still be undone. Projected state is left untouched.
type ReorgTooDeepError struct {
	LastProcessedBlock uint64
	FinalizedBlock     uint64
	MaxDepth           uint64
	Details            string
}

func (e *ReorgTooDeepError) Error() string {
	return fmt.Sprintf("reorg too deep: last_processed=%d finalized=%d max_depth=%d: %s",
		e.LastProcessedBlock, e.FinalizedBlock, e.MaxDepth, e.Details)
}

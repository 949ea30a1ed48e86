package pipeline

import (
	"errors"
	"fmt"

	"github.com/goran-ethernal/ChainProjector/internal/db"
	"github.com/goran-ethernal/ChainProjector/internal/reorg"
	"github.com/goran-ethernal/ChainProjector/pkg/entity"
)

// State is the pipeline's position in its state machine.
type State string

const (
	// StateSyncing catches up from the checkpoint to the chain head.
	StateSyncing State = "SYNCING"
	// StateLive follows the head block by block.
	StateLive State = "LIVE"
	// StateReorgRecovery rolls back blocks that left the canonical chain.
	StateReorgRecovery State = "REORG_RECOVERY"
	// StateHalted stops the pipeline until an operator intervenes.
	StateHalted State = "HALTED"
)

// AllStates lists every state, used to reset the state gauge.
var AllStates = []string{
	string(StateSyncing),
	string(StateLive),
	string(StateReorgRecovery),
	string(StateHalted),
}

// String returns the string representation of the state.
func (s State) String() string {
	return string(s)
}

// Halt reasons.
const (
	ReasonSchemaMismatch       = "schema_mismatch"
	ReasonMappingFailed        = "mapping_failed"
	ReasonUnrecoverableStorage = "unrecoverable_storage"
	ReasonReorgTooDeep         = "reorg_too_deep"
	ReasonLeaseLost            = "lease_lost"
	ReasonChainFetch           = "chain_fetch"
)

// HaltError is returned once the pipeline has entered HALTED. Checkpoint is the last block
// that was durably committed; nothing after it is visible to readers.
type HaltError struct {
	Reason     string
	Checkpoint *reorg.Checkpoint
	Err        error
}

func (e *HaltError) Error() string {
	at := "before the first block"
	if e.Checkpoint != nil {
		at = fmt.Sprintf("at block %d", e.Checkpoint.LastProcessedBlock)
	}
	return fmt.Sprintf("pipeline halted %s (%s): %v", at, e.Reason, e.Err)
}

func (e *HaltError) Unwrap() error {
	return e.Err
}

// fetchError marks a chain client failure that outlived the client's own retries.
type fetchError struct {
	op  string
	err error
}

func (e *fetchError) Error() string {
	return fmt.Sprintf("chain %s failed: %v", e.op, e.err)
}

func (e *fetchError) Unwrap() error {
	return e.err
}

// mappingError marks a failure returned by a projector mapping.
type mappingError struct {
	err error
}

func (e *mappingError) Error() string {
	return e.err.Error()
}

func (e *mappingError) Unwrap() error {
	return e.err
}

// haltReason classifies err, returning "" for errors the pipeline retries on its next tick.
func haltReason(err error) string {
	var (
		mismatch  *entity.SchemaMismatchError
		tooDeep   *reorg.ReorgTooDeepError
		fetchErr  *fetchError
		mapErr    *mappingError
		transient = db.IsTransient(err)
	)

	switch {
	case errors.As(err, &mismatch):
		return ReasonSchemaMismatch
	case db.IsUnrecoverable(err):
		return ReasonUnrecoverableStorage
	case errors.As(err, &tooDeep):
		return ReasonReorgTooDeep
	case errors.Is(err, reorg.ErrLeaseHeld):
		return ReasonLeaseLost
	case errors.As(err, &fetchErr):
		return ReasonChainFetch
	case errors.As(err, &mapErr) && !transient:
		return ReasonMappingFailed
	default:
		return ""
	}
}

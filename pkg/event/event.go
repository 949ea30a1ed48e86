// Package event defines decoded contract events as consumed by the projector.
package event

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Event is a decoded contract log.
type Event struct {
	BlockNumber uint64
	LogIndex    uint32
	TxHash      common.Hash
	BlockHash   common.Hash
	Address     common.Address
	Name        string
	Params      map[string]any
}

// Less orders events by (BlockNumber, LogIndex), the canonical chain order.
func (e *Event) Less(other *Event) bool {
	if e.BlockNumber != other.BlockNumber {
		return e.BlockNumber < other.BlockNumber
	}
	return e.LogIndex < other.LogIndex
}

// Param returns a named parameter and whether it was present in the event.
func (e *Event) Param(name string) (any, bool) {
	v, ok := e.Params[name]
	return v, ok
}

func (e *Event) String() string {
	return fmt.Sprintf("%s@%d:%d", e.Name, e.BlockNumber, e.LogIndex)
}

// Decoder turns raw logs into events.
type Decoder interface {
	// Decode decodes a raw log. Logs that cannot be decoded fail with *DecodeError.
	Decode(log types.Log) (*Event, error)

	// Topics returns the event signatures the decoder understands, used as the log filter.
	Topics() []common.Hash
}

// DecodeError reports a malformed or unknown log. The pipeline skips such logs.
type DecodeError struct {
	BlockNumber uint64
	LogIndex    uint
	TxHash      common.Hash
	Reason      string
	Err         error
}

// NewDecodeError builds a DecodeError located at the given log.
func NewDecodeError(log types.Log, reason string, err error) *DecodeError {
	return &DecodeError{
		BlockNumber: log.BlockNumber,
		LogIndex:    log.Index,
		TxHash:      log.TxHash,
		Reason:      reason,
		Err:         err,
	}
}

func (e *DecodeError) Error() string {
	msg := fmt.Sprintf("failed to decode log %d:%d (tx %s): %s", e.BlockNumber, e.LogIndex, e.TxHash.Hex(), e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Package decoder turns raw EVM logs into named events using contract ABIs.
package decoder

import (
	"bytes"
	"fmt"
	"slices"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/goran-ethernal/ChainProjector/internal/logger"
	"github.com/goran-ethernal/ChainProjector/pkg/event"
)

var _ event.Decoder = (*ABIDecoder)(nil)

// ABIDecoder decodes logs of the events found in its ABIs, keyed by topic0.
type ABIDecoder struct {
	events map[common.Hash]abi.Event
	log    *logger.Logger
}

// New creates a decoder for every non-anonymous event of the given ABIs.
// Two ABIs declaring the same event signature with different names is an error.
func New(log *logger.Logger, abis ...abi.ABI) (*ABIDecoder, error) {
	d := &ABIDecoder{
		events: make(map[common.Hash]abi.Event),
		log:    log,
	}

	for _, contractABI := range abis {
		for _, ev := range contractABI.Events {
			if ev.Anonymous {
				continue
			}
			if existing, ok := d.events[ev.ID]; ok && existing.RawName != ev.RawName {
				return nil, fmt.Errorf("event signature %s declared as both %s and %s",
					ev.ID.Hex(), existing.RawName, ev.RawName)
			}
			d.events[ev.ID] = ev
		}
	}

	return d, nil
}

// ParseABI parses a JSON ABI definition.
func ParseABI(data []byte) (abi.ABI, error) {
	parsed, err := abi.JSON(bytes.NewReader(data))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("failed to parse ABI: %w", err)
	}
	return parsed, nil
}

// Topics returns the known event signatures in a stable order.
func (d *ABIDecoder) Topics() []common.Hash {
	topics := make([]common.Hash, 0, len(d.events))
	for id := range d.events {
		topics = append(topics, id)
	}
	slices.SortFunc(topics, func(a, b common.Hash) int {
		return bytes.Compare(a[:], b[:])
	})
	return topics
}

// Decode parses indexed arguments from the topics and the rest from the data.
// Removed logs, logs without topics, unknown signatures and malformed payloads fail
// with *event.DecodeError.
func (d *ABIDecoder) Decode(lg types.Log) (*event.Event, error) {
	if lg.Removed {
		return nil, event.NewDecodeError(lg, "log was removed by a reorg", nil)
	}
	if len(lg.Topics) == 0 {
		return nil, event.NewDecodeError(lg, "log has no topics", nil)
	}

	ev, ok := d.events[lg.Topics[0]]
	if !ok {
		return nil, event.NewDecodeError(lg, "unknown event signature "+lg.Topics[0].Hex(), nil)
	}

	indexed, nonIndexed := splitIndexed(ev.Inputs)
	if len(lg.Topics)-1 != len(indexed) {
		return nil, event.NewDecodeError(lg,
			fmt.Sprintf("%s expects %d indexed topics, log has %d", ev.RawName, len(indexed), len(lg.Topics)-1), nil)
	}

	params := make(map[string]any, len(ev.Inputs))
	if err := abi.ParseTopicsIntoMap(params, indexed, lg.Topics[1:]); err != nil {
		return nil, event.NewDecodeError(lg, "malformed topics for "+ev.RawName, err)
	}
	if len(nonIndexed) > 0 {
		if err := nonIndexed.UnpackIntoMap(params, lg.Data); err != nil {
			return nil, event.NewDecodeError(lg, "malformed data for "+ev.RawName, err)
		}
	}

	d.log.Debugf("decoded event: name=%s block=%d log_index=%d", ev.RawName, lg.BlockNumber, lg.Index)

	return &event.Event{
		BlockNumber: lg.BlockNumber,
		LogIndex:    uint32(lg.Index), //nolint:gosec
		TxHash:      lg.TxHash,
		BlockHash:   lg.BlockHash,
		Address:     lg.Address,
		Name:        ev.RawName,
		Params:      params,
	}, nil
}

func splitIndexed(args abi.Arguments) (indexed, nonIndexed abi.Arguments) {
	for _, a := range args {
		if a.Indexed {
			indexed = append(indexed, a)
		} else {
			nonIndexed = append(nonIndexed, a)
		}
	}
	return indexed, nonIndexed
}

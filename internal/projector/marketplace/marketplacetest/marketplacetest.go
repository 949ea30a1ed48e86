// Package marketplacetest builds raw marketplace logs for tests.
package marketplacetest

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/goran-ethernal/ChainProjector/internal/projector/marketplace"
	"github.com/stretchr/testify/require"
)

// Item holds the MarketItemCreated arguments.
type Item struct {
	ItemID      int64
	NFTContract common.Address
	TokenID     int64
	Seller      common.Address
	Owner       common.Address
	Price       int64
	Sold        bool
}

// Log encodes item as a MarketItemCreated log emitted by contract at (block, index).
// The block hash is derived from the block number and fork so tests can model competing chains.
func Log(t *testing.T, contract common.Address, block uint64, index uint, fork byte, item Item) types.Log {
	t.Helper()

	parsed, err := marketplace.ABI()
	require.NoError(t, err)

	ev := parsed.Events[marketplace.MarketItemCreated]
	data, err := ev.Inputs.NonIndexed().Pack(item.Seller, item.Owner, big.NewInt(item.Price), item.Sold)
	require.NoError(t, err)

	return types.Log{
		Address: contract,
		Topics: []common.Hash{
			ev.ID,
			common.BigToHash(big.NewInt(item.ItemID)),
			common.BytesToHash(item.NFTContract.Bytes()),
			common.BigToHash(big.NewInt(item.TokenID)),
		},
		Data:        data,
		BlockNumber: block,
		Index:       index,
		TxHash:      common.BigToHash(new(big.Int).SetUint64(block<<16 | uint64(index))),
		BlockHash:   BlockHash(block, fork),
	}
}

// BlockHash returns the deterministic hash of block on the given fork.
func BlockHash(block uint64, fork byte) common.Hash {
	h := common.BigToHash(new(big.Int).SetUint64(block + 0xb10c))
	h[0] = fork
	return h
}

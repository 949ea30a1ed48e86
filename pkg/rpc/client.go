package rpc

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// BlockRef identifies a block by height and hash.
type BlockRef struct {
	Number uint64
	Hash   common.Hash
}

func (b BlockRef) String() string {
	return fmt.Sprintf("%d (%s)", b.Number, b.Hash.Hex())
}

// ChainClient is the view of the chain the ingestion pipeline needs.
type ChainClient interface {
	// GetHeadBlock returns the current chain head according to the configured head tag.
	GetHeadBlock(ctx context.Context) (BlockRef, error)

	// GetEvents returns the logs of the watched contracts in [from, to], ordered by (block, index).
	GetEvents(ctx context.Context, from, to uint64) ([]types.Log, error)

	// GetBlockHash returns the canonical hash of the block at height.
	GetBlockHash(ctx context.Context, height uint64) (common.Hash, error)

	// Close closes the underlying connection.
	Close()
}

// EthClient defines the raw Ethereum RPC operations ChainClient implementations build on.
// This abstraction allows for easier testing and alternative implementations.
type EthClient interface {
	// Close closes the RPC client connection.
	Close()

	// GetLogs retrieves logs matching the given filter query.
	GetLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error)

	// GetBlockHeader retrieves the header for a specific block number.
	GetBlockHeader(ctx context.Context, blockNum uint64) (*types.Header, error)

	// GetLatestBlockHeader retrieves the latest block header.
	GetLatestBlockHeader(ctx context.Context) (*types.Header, error)

	// GetFinalizedBlockHeader retrieves the finalized block header.
	GetFinalizedBlockHeader(ctx context.Context) (*types.Header, error)

	// GetSafeBlockHeader retrieves the safe block header.
	GetSafeBlockHeader(ctx context.Context) (*types.Header, error)
}

// ErrBlockNotFound is returned by ChainClient.GetBlockHash when the chain has no block at the
// requested height, for example after a reorg to a shorter chain.
var ErrBlockNotFound = errors.New("block not found")

package rpc

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"math/big"
	"slices"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/goran-ethernal/ChainProjector/internal/logger"
	internaltypes "github.com/goran-ethernal/ChainProjector/internal/types"
	"github.com/goran-ethernal/ChainProjector/pkg/config"
	pkgrpc "github.com/goran-ethernal/ChainProjector/pkg/rpc"
)

var _ pkgrpc.ChainClient = (*ChainClient)(nil)

// ChainClientConfig holds what the chain client needs to know about the watched contracts.
type ChainClientConfig struct {
	Addresses    []common.Address
	Topics       []common.Hash
	HeadTag      internaltypes.HeadTag
	FetchTimeout time.Duration
	Retry        *config.RetryConfig
}

// ChainClient adapts an EthClient to the view the pipeline consumes: a head, ordered logs of
// the watched contracts and canonical block hashes.
type ChainClient struct {
	eth pkgrpc.EthClient
	cfg ChainClientConfig
	log *logger.Logger
}

// NewChainClient creates a ChainClient over eth.
func NewChainClient(eth pkgrpc.EthClient, cfg ChainClientConfig, log *logger.Logger) *ChainClient {
	if cfg.HeadTag == "" {
		cfg.HeadTag = internaltypes.HeadLatest
	}

	return &ChainClient{
		eth: eth,
		cfg: cfg,
		log: log,
	}
}

// Close closes the underlying connection.
func (c *ChainClient) Close() {
	c.eth.Close()
}

// GetHeadBlock returns the block selected by the configured head tag.
func (c *ChainClient) GetHeadBlock(ctx context.Context) (pkgrpc.BlockRef, error) {
	var header *types.Header
	err := c.call(ctx, "head_"+c.cfg.HeadTag.String(), func(ctx context.Context) (err error) {
		switch c.cfg.HeadTag {
		case internaltypes.HeadFinalized:
			header, err = c.eth.GetFinalizedBlockHeader(ctx)
		case internaltypes.HeadSafe:
			header, err = c.eth.GetSafeBlockHeader(ctx)
		default:
			header, err = c.eth.GetLatestBlockHeader(ctx)
		}
		return err
	})
	if err != nil {
		return pkgrpc.BlockRef{}, fmt.Errorf("failed to get %s head: %w", c.cfg.HeadTag, err)
	}
	if header == nil || header.Number == nil {
		return pkgrpc.BlockRef{}, fmt.Errorf("empty %s head header", c.cfg.HeadTag)
	}

	return pkgrpc.BlockRef{Number: header.Number.Uint64(), Hash: header.Hash()}, nil
}

// GetBlockHash returns the canonical hash at height, or ErrBlockNotFound.
func (c *ChainClient) GetBlockHash(ctx context.Context, height uint64) (common.Hash, error) {
	var header *types.Header
	err := c.call(ctx, "block_hash", func(ctx context.Context) (err error) {
		header, err = c.eth.GetBlockHeader(ctx, height)
		return err
	})
	if errors.Is(err, ethereum.NotFound) || (err == nil && header == nil) {
		return common.Hash{}, fmt.Errorf("%w: height %d", pkgrpc.ErrBlockNotFound, height)
	}
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to get block %d: %w", height, err)
	}

	return header.Hash(), nil
}

// GetEvents returns the logs of the watched contracts in [from, to] ordered by (block, index).
// Ranges the node refuses as too large are split, following the node's suggestion when it
// offers one.
func (c *ChainClient) GetEvents(ctx context.Context, from, to uint64) ([]types.Log, error) {
	if from > to {
		return nil, nil
	}

	logs, err := c.getLogs(ctx, from, to)
	if err != nil {
		return nil, err
	}

	slices.SortStableFunc(logs, func(a, b types.Log) int {
		if n := cmp.Compare(a.BlockNumber, b.BlockNumber); n != 0 {
			return n
		}
		return cmp.Compare(a.Index, b.Index)
	})

	c.log.Debugf("fetched logs: from_block=%d to_block=%d count=%d", from, to, len(logs))
	return logs, nil
}

func (c *ChainClient) getLogs(ctx context.Context, from, to uint64) ([]types.Log, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: c.cfg.Addresses,
	}
	if len(c.cfg.Topics) > 0 {
		query.Topics = [][]common.Hash{c.cfg.Topics}
	}

	var logs []types.Log
	err := c.call(ctx, "get_logs", func(ctx context.Context) (err error) {
		logs, err = c.eth.GetLogs(ctx, query)
		return err
	})
	if err == nil {
		return logs, nil
	}

	limit, ok := asLogLimit(err)
	if !ok {
		return nil, fmt.Errorf("failed to get logs [%d, %d]: %w", from, to, err)
	}
	if from == to {
		return nil, fmt.Errorf("single block %d exceeds the node's log limit: %w", from, err)
	}

	split := from + (to-from)/2
	if limit.Suggested && limit.From == from && limit.To < to {
		split = limit.To
	}

	rpcRangeSplits.Inc()
	c.log.Debugf("splitting log range: from_block=%d to_block=%d split=%d", from, to, split)

	left, err := c.getLogs(ctx, from, split)
	if err != nil {
		return nil, err
	}
	right, err := c.getLogs(ctx, split+1, to)
	if err != nil {
		return nil, err
	}

	return append(left, right...), nil
}

// call runs fn with the fetch timeout applied to each attempt and retries transport failures.
func (c *ChainClient) call(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	return retryWithBackoff(ctx, c.cfg.Retry, operation, func() error {
		attemptCtx := ctx
		if c.cfg.FetchTimeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, c.cfg.FetchTimeout)
			defer cancel()
		}
		return fn(attemptCtx)
	})
}

package pipeline

import (
	"context"
	"database/sql"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	internalcommon "github.com/goran-ethernal/ChainProjector/internal/common"
	"github.com/goran-ethernal/ChainProjector/internal/db/dbtest"
	"github.com/goran-ethernal/ChainProjector/internal/decoder"
	"github.com/goran-ethernal/ChainProjector/internal/logger"
	"github.com/goran-ethernal/ChainProjector/internal/projector"
	"github.com/goran-ethernal/ChainProjector/internal/projector/marketplace"
	"github.com/goran-ethernal/ChainProjector/internal/projector/marketplace/marketplacetest"
	"github.com/goran-ethernal/ChainProjector/internal/reorg"
	"github.com/goran-ethernal/ChainProjector/internal/store"
	"github.com/goran-ethernal/ChainProjector/pkg/config"
	"github.com/goran-ethernal/ChainProjector/pkg/entity"
	"github.com/goran-ethernal/ChainProjector/pkg/event"
	pkgrpc "github.com/goran-ethernal/ChainProjector/pkg/rpc"
	"github.com/stretchr/testify/require"
)

var market = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")

// fakeChain is an in-memory chain whose blocks can be replaced to model reorgs.
type fakeChain struct {
	t *testing.T

	mu        sync.Mutex
	head      uint64
	hashes    map[uint64]common.Hash
	logs      map[uint64][]types.Log
	flips     map[uint64][]common.Hash
	eventsErr error
}

var _ pkgrpc.ChainClient = (*fakeChain)(nil)

func newFakeChain(t *testing.T) *fakeChain {
	t.Helper()

	return &fakeChain{
		t:      t,
		hashes: make(map[uint64]common.Hash),
		logs:   make(map[uint64][]types.Log),
		flips:  make(map[uint64][]common.Hash),
	}
}

// mine appends block n on fork with one MarketItemCreated log per item. Blocks between the
// current head and n are filled in empty.
func (c *fakeChain) mine(n uint64, fork byte, items ...marketplacetest.Item) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for b := c.head + 1; b < n; b++ {
		if _, ok := c.hashes[b]; !ok {
			c.hashes[b] = marketplacetest.BlockHash(b, fork)
		}
	}

	c.hashes[n] = marketplacetest.BlockHash(n, fork)
	logs := make([]types.Log, 0, len(items))
	for i, item := range items {
		logs = append(logs, marketplacetest.Log(c.t, market, n, uint(i), fork, item))
	}
	c.logs[n] = logs
	c.head = max(c.head, n)
}

// appendLog adds a raw log to block n.
func (c *fakeChain) appendLog(n uint64, lg types.Log) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logs[n] = append(c.logs[n], lg)
}

// rewind drops every block from n on, making n-1 the head.
func (c *fakeChain) rewind(n uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for b := n; b <= c.head; b++ {
		delete(c.hashes, b)
		delete(c.logs, b)
	}
	c.head = n - 1
}

// flip makes the next GetBlockHash calls for height answer hashes in order.
func (c *fakeChain) flip(height uint64, hashes ...common.Hash) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flips[height] = append(c.flips[height], hashes...)
}

func (c *fakeChain) setEventsErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.eventsErr = err
}

func (c *fakeChain) GetHeadBlock(context.Context) (pkgrpc.BlockRef, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return pkgrpc.BlockRef{Number: c.head, Hash: c.hashes[c.head]}, nil
}

func (c *fakeChain) GetEvents(_ context.Context, from, to uint64) ([]types.Log, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.eventsErr != nil {
		return nil, c.eventsErr
	}

	var out []types.Log
	for b := from; b <= to; b++ {
		out = append(out, c.logs[b]...)
	}
	return out, nil
}

func (c *fakeChain) GetBlockHash(_ context.Context, height uint64) (common.Hash, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if queued := c.flips[height]; len(queued) > 0 {
		c.flips[height] = queued[1:]
		return queued[0], nil
	}

	hash, ok := c.hashes[height]
	if !ok || height > c.head {
		return common.Hash{}, pkgrpc.ErrBlockNotFound
	}
	return hash, nil
}

func (c *fakeChain) Close() {}

// shiftingChain runs a hook right after the next GetEvents call returns, modelling a chain
// that changes between the log query and the hash lookups that follow it.
type shiftingChain struct {
	*fakeChain

	hookMu      sync.Mutex
	afterEvents func()
}

func (c *shiftingChain) onNextEvents(fn func()) {
	c.hookMu.Lock()
	defer c.hookMu.Unlock()
	c.afterEvents = fn
}

func (c *shiftingChain) GetEvents(ctx context.Context, from, to uint64) ([]types.Log, error) {
	logs, err := c.fakeChain.GetEvents(ctx, from, to)

	c.hookMu.Lock()
	fn := c.afterEvents
	c.afterEvents = nil
	c.hookMu.Unlock()

	if fn != nil {
		fn()
	}
	return logs, err
}

// dropLogs removes every log of block n.
func (c *fakeChain) dropLogs(n uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.logs, n)
}

// partialDecoder drops every param not listed for the event's block, modelling events that
// only carry some fields.
type partialDecoder struct {
	event.Decoder
	keep map[uint64][]string
}

func (d partialDecoder) Decode(lg types.Log) (*event.Event, error) {
	ev, err := d.Decoder.Decode(lg)
	if err != nil {
		return nil, err
	}

	if names, ok := d.keep[ev.BlockNumber]; ok {
		for name := range ev.Params {
			if !slices.Contains(names, name) {
				delete(ev.Params, name)
			}
		}
	}
	return ev, nil
}

// testEnv wires a pipeline over a fresh database and a fake chain.
type testEnv struct {
	t         *testing.T
	database  *sql.DB
	dbConfig  config.DatabaseConfig
	chain     *fakeChain
	registry  *entity.Registry
	projector *projector.Projector
	decoder   event.Decoder
	store     *store.Store
	reorg     *reorg.Manager
	log       *logger.Logger
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithDB(t, dbtest.Config(t))
}

func newTestEnvWithDB(t *testing.T, dbConfig config.DatabaseConfig) *testEnv {
	t.Helper()

	log := logger.NewNopLogger()
	registry, err := entity.NewRegistry()
	require.NoError(t, err)

	proj := projector.New(log)
	parsed, err := marketplace.Register(proj, registry)
	require.NoError(t, err)

	dec, err := decoder.New(log, parsed)
	require.NoError(t, err)

	database := dbtest.Open(t, dbConfig)
	entityStore := store.New(database, registry, log)

	return &testEnv{
		t:         t,
		database:  database,
		dbConfig:  dbConfig,
		chain:     newFakeChain(t),
		registry:  registry,
		projector: proj,
		decoder:   dec,
		store:     entityStore,
		reorg:     reorg.NewManager(database, entityStore, log, nil),
		log:       log,
	}
}

func testConfig() Config {
	return Config{
		StartBlock:        1,
		BatchSize:         100,
		ConfirmationDepth: 5,
		MaxReorgDepth:     5,
		PollInterval:      10 * time.Millisecond,
		LeaseTTL:          30 * time.Second,
		CommitRetry: &config.RetryConfig{
			MaxAttempts:       3,
			InitialBackoff:    internalcommon.NewDuration(time.Millisecond),
			MaxBackoff:        internalcommon.NewDuration(5 * time.Millisecond),
			BackoffMultiplier: 2.0,
		},
	}
}

func (e *testEnv) newPipeline(cfg Config, lease *reorg.Lease) *Pipeline {
	e.t.Helper()
	return e.newPipelineWith(cfg, e.projector, e.decoder, lease)
}

func (e *testEnv) newPipelineWith(cfg Config, proj *projector.Projector, dec event.Decoder, lease *reorg.Lease) *Pipeline {
	e.t.Helper()

	p, err := New(cfg, e.chain, dec, proj, e.store, e.reorg, lease, nil, e.log)
	require.NoError(e.t, err)
	return p
}

// syncTo ticks p until its checkpoint sits at block on the given fork.
func syncTo(t *testing.T, p *Pipeline, block uint64, fork byte) {
	t.Helper()

	want := marketplacetest.BlockHash(block, fork)
	for range 100 {
		status := p.Status()
		if status.State != StateReorgRecovery && status.Checkpoint != nil &&
			status.Checkpoint.LastProcessedBlock == block && status.Checkpoint.BlockHash == want {
			return
		}

		_, err := p.Tick(context.Background())
		require.NoError(t, err)
	}

	t.Fatalf("pipeline did not reach block %d on fork %d: %+v", block, fork, p.Status())
}

func (e *testEnv) items() []*entity.Entity {
	e.t.Helper()

	list, _, err := e.store.List(context.Background(), marketplace.EntityType, 1000, 0)
	require.NoError(e.t, err)
	return list
}

func (e *testEnv) item(id string) *entity.Entity {
	e.t.Helper()

	item, err := e.store.Get(context.Background(), marketplace.EntityType, id)
	require.NoError(e.t, err)
	return item
}

func (e *testEnv) checkpoint() *reorg.Checkpoint {
	e.t.Helper()

	cp, err := e.reorg.Load(context.Background())
	require.NoError(e.t, err)
	return cp
}

func requireSameEntities(t *testing.T, want, got []*entity.Entity) {
	t.Helper()

	require.Len(t, got, len(want))
	for i := range want {
		require.Equal(t, want[i].ID, got[i].ID)
		require.Equal(t, want[i].UpdatedBlock, got[i].UpdatedBlock, "entity %s", want[i].ID)
		require.True(t, want[i].Fields.Equal(got[i].Fields), "entity %s: want %v got %v",
			want[i].ID, want[i].Fields, got[i].Fields)
	}
}

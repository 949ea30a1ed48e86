package reorg

import (
	"context"
	"database/sql"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/goran-ethernal/ChainProjector/internal/db/dbtest"
	"github.com/goran-ethernal/ChainProjector/internal/logger"
	"github.com/goran-ethernal/ChainProjector/internal/store"
	"github.com/goran-ethernal/ChainProjector/pkg/entity"
	"github.com/stretchr/testify/require"
)

const itemType = "Item"

type testEnv struct {
	db      *sql.DB
	store   *store.Store
	manager *Manager
}

func setupTestManager(t *testing.T) *testEnv {
	t.Helper()

	database, _ := dbtest.New(t)
	registry, err := entity.NewRegistry(entity.Schema{
		Type: itemType,
		Fields: map[string]entity.Kind{
			"price": entity.KindUint256,
			"sold":  entity.KindBool,
		},
	})
	require.NoError(t, err)

	log := logger.NewNopLogger()
	s := store.New(database, registry, log)
	return &testEnv{
		db:      database,
		store:   s,
		manager: NewManager(database, s, log, nil),
	}
}

func blockHash(n uint64) common.Hash {
	return common.BigToHash(new(big.Int).SetUint64(n + 0xb10c))
}

// commitBlock writes one block the way the pipeline does: entity writes, undo, block hash
// and checkpoint in one transaction.
func (e *testEnv) commitBlock(t *testing.T, number uint64, writes map[string]entity.Fields) {
	t.Helper()
	ctx := context.Background()

	tx, err := e.store.BeginTx(ctx, number)
	require.NoError(t, err)
	defer tx.Rollback() //nolint:errcheck

	for id, fields := range writes {
		require.NoError(t, tx.Upsert(ctx, itemType, id, fields))
	}

	_, err = e.manager.RecordUndoTx(ctx, tx)
	require.NoError(t, err)

	raw, err := tx.Raw()
	require.NoError(t, err)
	require.NoError(t, e.manager.RecordBlockTx(raw, number, blockHash(number)))

	cp, err := e.manager.Load(ctx)
	require.NoError(t, err)
	next := Checkpoint{State: "SYNCING"}
	if cp != nil {
		next = *cp
	}
	next.LastProcessedBlock = number
	next.BlockHash = blockHash(number)
	require.NoError(t, e.manager.SaveTx(raw, next))

	require.NoError(t, tx.Commit())
}

func (e *testEnv) snapshot(t *testing.T) map[string]*entity.Entity {
	t.Helper()

	items, _, err := e.store.List(context.Background(), itemType, 1000, 0)
	require.NoError(t, err)

	out := make(map[string]*entity.Entity, len(items))
	for _, item := range items {
		out[item.ID] = item
	}
	return out
}

func price(v int64) entity.Fields {
	return entity.Fields{"price": big.NewInt(v)}
}

func TestManager_CheckpointRoundTrip(t *testing.T) {
	env := setupTestManager(t)
	ctx := context.Background()

	cp, err := env.manager.Load(ctx)
	require.NoError(t, err)
	require.Nil(t, cp)

	env.manager.now = func() time.Time { return time.UnixMilli(1234) }
	want := Checkpoint{
		LastProcessedBlock:    100,
		LastProcessedLogIndex: 7,
		BlockHash:             blockHash(100),
		FinalizedBlock:        40,
		State:                 "LIVE",
	}
	require.NoError(t, env.manager.Save(ctx, want))
	require.NoError(t, env.manager.Save(ctx, want))

	cp, err = env.manager.Load(ctx)
	require.NoError(t, err)
	want.UpdatedAt = 1234
	require.Equal(t, &want, cp)
}

func TestManager_RollbackRestoresPriorState(t *testing.T) {
	env := setupTestManager(t)
	ctx := context.Background()

	env.commitBlock(t, 100, map[string]entity.Fields{"1": price(10), "2": price(20)})
	before := env.snapshot(t)

	env.commitBlock(t, 101, map[string]entity.Fields{"1": price(11), "3": price(30)})
	env.commitBlock(t, 102, map[string]entity.Fields{"1": {"sold": true}, "2": price(21)})

	require.NoError(t, env.manager.RollbackTo(ctx, 100, blockHash(100)))

	require.Equal(t, before, env.snapshot(t))

	cp, err := env.manager.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(100), cp.LastProcessedBlock)
	require.Equal(t, blockHash(100), cp.BlockHash)

	blocks, err := env.manager.StoredBlocks(ctx, 0)
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	require.Equal(t, uint64(100), blocks[0].BlockNumber)

	entries, err := env.manager.UndoEntries(ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, entry := range entries {
		require.Nil(t, entry.Prior)
	}
}

func TestManager_RollbackAboveLastIsNoop(t *testing.T) {
	env := setupTestManager(t)
	ctx := context.Background()

	require.NoError(t, env.manager.RollbackTo(ctx, 50, common.Hash{}))

	env.commitBlock(t, 100, map[string]entity.Fields{"1": price(10)})
	require.NoError(t, env.manager.RollbackTo(ctx, 100, blockHash(100)))
	require.Len(t, env.snapshot(t), 1)
}

func TestManager_BlockHash(t *testing.T) {
	env := setupTestManager(t)
	ctx := context.Background()

	env.commitBlock(t, 7, nil)

	hash, ok, err := env.manager.BlockHash(ctx, 7)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, blockHash(7), hash)

	_, ok, err = env.manager.BlockHash(ctx, 8)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestManager_PruneAndTooDeep(t *testing.T) {
	env := setupTestManager(t)
	ctx := context.Background()

	for n := uint64(1); n <= 10; n++ {
		env.commitBlock(t, n, map[string]entity.Fields{"1": price(int64(n))})
	}

	tx, err := env.db.BeginTx(ctx, nil)
	require.NoError(t, err)
	kept, err := env.manager.PruneTx(tx, 5)
	require.NoError(t, err)
	require.Equal(t, uint64(5), kept)

	cp, err := loadCheckpoint(tx)
	require.NoError(t, err)
	cp.FinalizedBlock = kept
	require.NoError(t, env.manager.SaveTx(tx, *cp))
	require.NoError(t, tx.Commit())

	blocks, err := env.manager.StoredBlocks(ctx, 0)
	require.NoError(t, err)
	require.Len(t, blocks, 6)
	require.Equal(t, uint64(10), blocks[0].BlockNumber)
	require.Equal(t, uint64(5), blocks[len(blocks)-1].BlockNumber)

	entries, err := env.manager.UndoEntries(ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, 5)

	err = env.manager.RollbackTo(ctx, 4, blockHash(4))
	var tooDeep *ReorgTooDeepError
	require.ErrorAs(t, err, &tooDeep)
	require.Equal(t, uint64(5), tooDeep.FinalizedBlock)

	got, err := env.store.Get(ctx, itemType, "1")
	require.NoError(t, err)
	require.Equal(t, 0, big.NewInt(10).Cmp(got.Fields["price"].(*big.Int)))

	require.NoError(t, env.manager.RollbackTo(ctx, 5, blockHash(5)))
	got, err = env.store.Get(ctx, itemType, "1")
	require.NoError(t, err)
	require.Equal(t, 0, big.NewInt(5).Cmp(got.Fields["price"].(*big.Int)))
	require.Equal(t, uint64(5), got.UpdatedBlock)
}

func TestManager_PruneWithNothingRecorded(t *testing.T) {
	env := setupTestManager(t)

	env.commitBlock(t, 100, nil)

	tx, err := env.db.Begin()
	require.NoError(t, err)
	defer tx.Rollback() //nolint:errcheck

	kept, err := env.manager.PruneTx(tx, 50)
	require.NoError(t, err)
	require.Zero(t, kept)
}

func TestManager_Reset(t *testing.T) {
	env := setupTestManager(t)
	ctx := context.Background()

	env.commitBlock(t, 1, map[string]entity.Fields{"1": price(1)})
	env.commitBlock(t, 2, map[string]entity.Fields{"2": price(2)})

	require.NoError(t, env.manager.Reset(ctx))

	require.Empty(t, env.snapshot(t))
	cp, err := env.manager.Load(ctx)
	require.NoError(t, err)
	require.Nil(t, cp)

	blocks, err := env.manager.StoredBlocks(ctx, 0)
	require.NoError(t, err)
	require.Empty(t, blocks)
}

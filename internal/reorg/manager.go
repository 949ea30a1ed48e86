package reorg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	internalcommon "github.com/goran-ethernal/ChainProjector/internal/common"
	"github.com/goran-ethernal/ChainProjector/internal/db"
	"github.com/goran-ethernal/ChainProjector/internal/logger"
	"github.com/goran-ethernal/ChainProjector/internal/metrics"
	"github.com/goran-ethernal/ChainProjector/internal/store"
	"github.com/goran-ethernal/ChainProjector/pkg/entity"
	"github.com/russross/meddler"
)

// Checkpoint is the durable progress marker of the pipeline.
// It only changes inside the transaction that commits a block's entity writes.
type Checkpoint struct {
	LastProcessedBlock    uint64      `json:"last_processed_block"`
	LastProcessedLogIndex uint32      `json:"last_processed_log_index"`
	BlockHash             common.Hash `json:"block_hash"`
	FinalizedBlock        uint64      `json:"finalized_block"`
	State                 string      `json:"state"`
	UpdatedAt             int64       `json:"updated_at"`
}

type checkpointRow struct {
	ID                    int         `meddler:"id"`
	LastProcessedBlock    uint64      `meddler:"last_block"`
	LastProcessedLogIndex uint32      `meddler:"last_log_index"`
	BlockHash             common.Hash `meddler:"block_hash,hash"`
	FinalizedBlock        uint64      `meddler:"finalized_block"`
	State                 string      `meddler:"state"`
	UpdatedAt             int64       `meddler:"updated_at"`
}

// StoredBlock is the recorded hash of a committed block.
type StoredBlock struct {
	BlockNumber uint64      `meddler:"block_number"`
	BlockHash   common.Hash `meddler:"block_hash,hash"`
}

// UndoEntry restores one entity to its value before a block.
// A nil Prior means the entity did not exist.
type UndoEntry struct {
	BlockNumber uint64
	EntityType  string
	EntityID    string
	Prior       *entity.Entity
}

type undoRow struct {
	ID          int64          `meddler:"id,pk"`
	BlockNumber uint64         `meddler:"block_number"`
	EntityType  string         `meddler:"entity_type"`
	EntityID    string         `meddler:"entity_id"`
	PriorFields sql.NullString `meddler:"prior_fields"`
	PriorBlock  uint64         `meddler:"prior_block"`
}

// Manager owns the checkpoint, the undo log and the recorded block hashes.
type Manager struct {
	db          *sql.DB
	store       *store.Store
	log         *logger.Logger
	maintenance db.Maintenance
	now         func() time.Time
}

// NewManager creates a Manager over an already migrated database.
func NewManager(
	database *sql.DB,
	entityStore *store.Store,
	log *logger.Logger,
	maintenance db.Maintenance,
) *Manager {
	if maintenance == nil {
		maintenance = db.NopMaintenance{}
	}

	metrics.ComponentHealthSet(internalcommon.ComponentReorgManager, true)

	return &Manager{
		db:          database,
		store:       entityStore,
		log:         log,
		maintenance: maintenance,
		now:         time.Now,
	}
}

// Load returns the stored checkpoint, or nil when nothing has been processed yet.
func (m *Manager) Load(ctx context.Context) (*Checkpoint, error) {
	return loadCheckpoint(m.db)
}

// Save writes the checkpoint in its own transaction.
func (m *Manager) Save(ctx context.Context, cp Checkpoint) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return db.ClassifyError("begin checkpoint transaction", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			m.log.Errorf("failed to rollback transaction: %v", err)
		}
	}()

	if err := m.SaveTx(tx, cp); err != nil {
		return err
	}

	return db.ClassifyError("commit checkpoint", tx.Commit())
}

// SaveTx replaces the checkpoint inside tx.
func (m *Manager) SaveTx(tx *sql.Tx, cp Checkpoint) error {
	if _, err := tx.Exec("DELETE FROM checkpoint"); err != nil {
		return db.ClassifyError("clear checkpoint", err)
	}

	row := &checkpointRow{
		ID:                    1,
		LastProcessedBlock:    cp.LastProcessedBlock,
		LastProcessedLogIndex: cp.LastProcessedLogIndex,
		BlockHash:             cp.BlockHash,
		FinalizedBlock:        cp.FinalizedBlock,
		State:                 cp.State,
		UpdatedAt:             m.now().UnixMilli(),
	}
	if err := meddler.Insert(tx, "checkpoint", row); err != nil {
		return db.ClassifyError("save checkpoint", err)
	}

	return nil
}

// RecordUndoTx stores, for every key the entity transaction touched, the value it had before
// the transaction. Entries are keyed by the transaction's block.
func (m *Manager) RecordUndoTx(ctx context.Context, tx *store.Tx) (int, error) {
	raw, err := tx.Raw()
	if err != nil {
		return 0, err
	}

	touched := tx.Touched()
	for _, key := range touched {
		prior, err := tx.SnapshotBefore(ctx, key.Type, key.ID)
		if err != nil {
			return 0, err
		}

		row := &undoRow{
			BlockNumber: tx.Block(),
			EntityType:  key.Type,
			EntityID:    key.ID,
		}
		if prior != nil {
			data, err := entity.EncodeFields(prior.Fields)
			if err != nil {
				return 0, fmt.Errorf("failed to encode undo entry for %s: %w", key, err)
			}
			row.PriorFields = sql.NullString{String: string(data), Valid: true}
			row.PriorBlock = prior.UpdatedBlock
		}

		if err := meddler.Insert(raw, "undo_log", row); err != nil {
			return 0, db.ClassifyError("record undo entry", err)
		}
	}

	return len(touched), nil
}

// RecordBlockTx records the hash of a committed block.
func (m *Manager) RecordBlockTx(tx *sql.Tx, number uint64, hash common.Hash) error {
	_, err := tx.Exec(
		"INSERT OR REPLACE INTO block_hashes (block_number, block_hash) VALUES (?, ?)",
		number, hash.Hex(),
	)
	if err != nil {
		return db.ClassifyError(fmt.Sprintf("record block %d", number), err)
	}
	return nil
}

// StoredBlocks returns the recorded blocks above the given height, newest first.
func (m *Manager) StoredBlocks(ctx context.Context, above uint64) ([]*StoredBlock, error) {
	var blocks []*StoredBlock
	err := meddler.QueryAll(m.db, &blocks,
		"SELECT * FROM block_hashes WHERE block_number > ? ORDER BY block_number DESC",
		above)
	if err != nil {
		return nil, db.ClassifyError("query stored blocks", err)
	}
	return blocks, nil
}

// BlockHash returns the recorded hash of a block and whether it was recorded.
func (m *Manager) BlockHash(ctx context.Context, number uint64) (common.Hash, bool, error) {
	var block StoredBlock
	err := meddler.QueryRow(m.db, &block, "SELECT * FROM block_hashes WHERE block_number = ?", number)
	if errors.Is(err, sql.ErrNoRows) {
		return common.Hash{}, false, nil
	}
	if err != nil {
		return common.Hash{}, false, db.ClassifyError("query block hash", err)
	}
	return block.BlockHash, true, nil
}

// PruneTx discards undo records that can no longer be needed. The newest recorded block at or
// below finalHeight is kept as the oldest rollback target; undo entries up to it and block
// hashes below it are deleted. It returns that block, or 0 when nothing is recorded that low.
func (m *Manager) PruneTx(tx *sql.Tx, finalHeight uint64) (uint64, error) {
	var keep sql.NullInt64
	err := tx.QueryRow("SELECT MAX(block_number) FROM block_hashes WHERE block_number <= ?",
		finalHeight).Scan(&keep)
	if err != nil {
		return 0, db.ClassifyError("query prune point", err)
	}
	if !keep.Valid {
		return 0, nil
	}
	keepBlock := uint64(keep.Int64)

	if _, err := tx.Exec("DELETE FROM undo_log WHERE block_number <= ?", keepBlock); err != nil {
		return 0, db.ClassifyError("prune undo log", err)
	}

	result, err := tx.Exec("DELETE FROM block_hashes WHERE block_number < ?", keepBlock)
	if err != nil {
		return 0, db.ClassifyError("prune block hashes", err)
	}

	if rowsAffected, _ := result.RowsAffected(); rowsAffected > 0 {
		UndoBlocksPrunedInc(rowsAffected)
		m.log.Debugf("pruned finalized blocks: keep_block=%d deleted_count=%d", keepBlock, rowsAffected)
	}
	FinalizedBlockLog(keepBlock)

	return keepBlock, nil
}

// UndoEntries returns the undo entries recorded above height in replay order (newest first).
func (m *Manager) UndoEntries(ctx context.Context, height uint64) ([]UndoEntry, error) {
	return m.undoEntries(m.db, height)
}

func (m *Manager) undoEntries(q meddler.DB, height uint64) ([]UndoEntry, error) {
	var rows []*undoRow
	err := meddler.QueryAll(q, &rows,
		"SELECT * FROM undo_log WHERE block_number > ? ORDER BY id DESC", height)
	if err != nil {
		return nil, db.ClassifyError("query undo log", err)
	}

	registry := m.store.Registry()
	entries := make([]UndoEntry, 0, len(rows))
	for _, row := range rows {
		entry := UndoEntry{
			BlockNumber: row.BlockNumber,
			EntityType:  row.EntityType,
			EntityID:    row.EntityID,
		}

		if row.PriorFields.Valid {
			schema, err := registry.Schema(row.EntityType)
			if err != nil {
				return nil, err
			}
			fields, err := schema.DecodeFields([]byte(row.PriorFields.String))
			if err != nil {
				return nil, fmt.Errorf("failed to decode undo entry %d: %w", row.ID, err)
			}
			entry.Prior = &entity.Entity{
				Type:         row.EntityType,
				ID:           row.EntityID,
				Fields:       fields,
				UpdatedBlock: row.PriorBlock,
			}
		}

		entries = append(entries, entry)
	}

	return entries, nil
}

// RollbackTo undoes every block above height and rewinds the checkpoint to (height, hash).
// Undo entries are replayed newest first, then the undo records and block hashes above height
// are discarded. Heights below the finalized block cannot be reached and yield
// ReorgTooDeepError without touching any state.
func (m *Manager) RollbackTo(ctx context.Context, height uint64, hash common.Hash) error {
	unlock := m.maintenance.Guard()
	defer unlock()

	tx, err := m.store.BeginTx(ctx, 0)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	raw, err := tx.Raw()
	if err != nil {
		return err
	}

	cp, err := loadCheckpoint(raw)
	if err != nil {
		return err
	}
	if cp == nil || height >= cp.LastProcessedBlock {
		return nil
	}
	if height < cp.FinalizedBlock {
		return &ReorgTooDeepError{
			LastProcessedBlock: cp.LastProcessedBlock,
			FinalizedBlock:     cp.FinalizedBlock,
			Details:            fmt.Sprintf("rollback target %d is below the finalized block", height),
		}
	}

	entries, err := m.undoEntries(raw, height)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if err := tx.Restore(ctx, entry.EntityType, entry.EntityID, entry.Prior); err != nil {
			return fmt.Errorf("failed to restore %s/%s: %w", entry.EntityType, entry.EntityID, err)
		}
	}

	if _, err := raw.ExecContext(ctx, "DELETE FROM undo_log WHERE block_number > ?", height); err != nil {
		return db.ClassifyError("discard undo log", err)
	}
	if _, err := raw.ExecContext(ctx, "DELETE FROM block_hashes WHERE block_number > ?", height); err != nil {
		return db.ClassifyError("discard block hashes", err)
	}

	rewound := *cp
	rewound.LastProcessedBlock = height
	rewound.LastProcessedLogIndex = 0
	rewound.BlockHash = hash
	if err := m.SaveTx(raw, rewound); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	depth := cp.LastProcessedBlock - height
	ReorgDetectedLog(depth)
	UndoEntriesReplayedInc(len(entries))

	m.log.Infof("rolled back: from_block=%d to_block=%d depth=%d undo_entries=%d",
		cp.LastProcessedBlock, height, depth, len(entries))

	return nil
}

// Reset deletes all projected state: entities, undo records, block hashes and the checkpoint.
// The pipeline then resyncs from its configured start block.
func (m *Manager) Reset(ctx context.Context) error {
	unlock := m.maintenance.Guard()
	defer unlock()

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return db.ClassifyError("begin reset transaction", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			m.log.Errorf("failed to rollback transaction: %v", err)
		}
	}()

	for _, table := range []string{"entities", "undo_log", "block_hashes", "checkpoint"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return db.ClassifyError("reset "+table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return db.ClassifyError("commit reset", err)
	}

	FinalizedBlockLog(0)
	m.log.Warn("projected state reset")

	return nil
}

// Close marks the manager unhealthy. The database is owned by the caller.
func (m *Manager) Close() {
	metrics.ComponentHealthSet(internalcommon.ComponentReorgManager, false)
}

func loadCheckpoint(q meddler.DB) (*Checkpoint, error) {
	var row checkpointRow
	err := meddler.QueryRow(q, &row, "SELECT * FROM checkpoint WHERE id = 1")
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, db.ClassifyError("load checkpoint", err)
	}

	return &Checkpoint{
		LastProcessedBlock:    row.LastProcessedBlock,
		LastProcessedLogIndex: row.LastProcessedLogIndex,
		BlockHash:             row.BlockHash,
		FinalizedBlock:        row.FinalizedBlock,
		State:                 row.State,
		UpdatedAt:             row.UpdatedAt,
	}, nil
}

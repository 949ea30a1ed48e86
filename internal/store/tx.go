package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/goran-ethernal/ChainProjector/internal/db"
	"github.com/goran-ethernal/ChainProjector/pkg/entity"
)

// Key identifies an entity.
type Key struct {
	Type string
	ID   string
}

func (k Key) String() string {
	return k.Type + "/" + k.ID
}

// Tx is a write transaction over the entity store.
// It remembers the committed value of every key it touches so callers can build undo records.
// A Tx is not safe for concurrent use.
type Tx struct {
	tx     *sql.Tx
	store  *Store
	block  uint64
	closed bool

	before  map[Key]*entity.Entity
	touched []Key
}

// Block returns the block number entities written by this transaction are stamped with.
func (t *Tx) Block() uint64 {
	return t.block
}

// Raw returns the underlying SQL transaction so checkpoint and undo rows commit atomically
// with the entity writes.
func (t *Tx) Raw() (*sql.Tx, error) {
	if t.closed {
		return nil, ErrTransactionClosed
	}
	return t.tx, nil
}

// Get returns the entity as seen inside the transaction, or entity.ErrNotFound.
func (t *Tx) Get(ctx context.Context, entityType, id string) (*entity.Entity, error) {
	if t.closed {
		return nil, ErrTransactionClosed
	}
	return t.store.load(t.tx, entityType, id)
}

// Upsert creates the entity or merges fields into it. Fields present in the update replace
// stored values; fields absent from it are kept.
func (t *Tx) Upsert(ctx context.Context, entityType, id string, fields entity.Fields) error {
	if t.closed {
		return ErrTransactionClosed
	}

	if err := t.store.registry.Validate(entityType, fields); err != nil {
		return err
	}

	current, err := t.current(ctx, entityType, id)
	if err != nil {
		return err
	}

	var merged entity.Fields
	block := t.block
	if current != nil {
		merged = current.Fields.Merge(fields)
		if block == 0 {
			block = current.UpdatedBlock
		}
	} else {
		merged = entity.Fields(nil).Merge(fields)
	}

	if err := t.write(ctx, entityType, id, merged, block); err != nil {
		return err
	}

	EntityWriteInc(entityType, "upsert")
	return nil
}

// Delete removes the entity. Deleting an absent entity is a no-op.
func (t *Tx) Delete(ctx context.Context, entityType, id string) error {
	if t.closed {
		return ErrTransactionClosed
	}

	current, err := t.current(ctx, entityType, id)
	if err != nil {
		return err
	}
	if current == nil {
		return nil
	}

	if err := t.delete(ctx, entityType, id); err != nil {
		return err
	}

	EntityWriteInc(entityType, "delete")
	return nil
}

// Restore puts the entity back to prior exactly, including its updated block.
// A nil prior means the entity did not exist and is deleted.
func (t *Tx) Restore(ctx context.Context, entityType, id string, prior *entity.Entity) error {
	if t.closed {
		return ErrTransactionClosed
	}

	if _, err := t.current(ctx, entityType, id); err != nil {
		return err
	}

	if prior == nil {
		if err := t.delete(ctx, entityType, id); err != nil {
			return err
		}
	} else if err := t.write(ctx, entityType, id, prior.Fields, prior.UpdatedBlock); err != nil {
		return err
	}

	EntityWriteInc(entityType, "restore")
	return nil
}

// SnapshotBefore returns the value the key had before this transaction first touched it.
// It returns nil when the entity did not exist.
func (t *Tx) SnapshotBefore(ctx context.Context, entityType, id string) (*entity.Entity, error) {
	if t.closed {
		return nil, ErrTransactionClosed
	}

	key := Key{Type: entityType, ID: id}
	if prior, ok := t.before[key]; ok {
		return prior.Clone(), nil
	}

	current, err := t.store.load(t.tx, entityType, id)
	if errors.Is(err, entity.ErrNotFound) {
		return nil, nil
	}
	return current, err
}

// Touched returns the keys written by this transaction in first-touch order.
func (t *Tx) Touched() []Key {
	out := make([]Key, len(t.touched))
	copy(out, t.touched)
	return out
}

// Commit makes every write visible atomically.
func (t *Tx) Commit() error {
	if t.closed {
		return ErrTransactionClosed
	}
	t.closed = true

	if err := t.tx.Commit(); err != nil {
		TxOutcomeInc("commit_failed")
		return db.ClassifyError("commit", err)
	}

	TxOutcomeInc("committed")
	return nil
}

// Rollback discards every write.
func (t *Tx) Rollback() error {
	if t.closed {
		return ErrTransactionClosed
	}
	t.closed = true

	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return db.ClassifyError("rollback", err)
	}

	TxOutcomeInc("rolled_back")
	return nil
}

// current loads the entity inside the transaction and records its pre-transaction value on
// first touch. It returns nil when the entity is absent.
func (t *Tx) current(ctx context.Context, entityType, id string) (*entity.Entity, error) {
	e, err := t.store.load(t.tx, entityType, id)
	if errors.Is(err, entity.ErrNotFound) {
		e, err = nil, nil
	}
	if err != nil {
		return nil, err
	}

	key := Key{Type: entityType, ID: id}
	if _, ok := t.before[key]; !ok {
		t.before[key] = e.Clone()
		t.touched = append(t.touched, key)
	}

	return e, nil
}

func (t *Tx) write(ctx context.Context, entityType, id string, fields entity.Fields, block uint64) error {
	data, err := entity.EncodeFields(fields)
	if err != nil {
		return fmt.Errorf("failed to encode %s/%s: %w", entityType, id, err)
	}

	if _, err := t.tx.ExecContext(ctx, upsertQuery, entityType, id, string(data), block); err != nil {
		return db.ClassifyError(fmt.Sprintf("write %s/%s", entityType, id), err)
	}
	return nil
}

func (t *Tx) delete(ctx context.Context, entityType, id string) error {
	_, err := t.tx.ExecContext(ctx,
		"DELETE FROM entities WHERE entity_type = ? AND entity_id = ?", entityType, id)
	if err != nil {
		return db.ClassifyError(fmt.Sprintf("delete %s/%s", entityType, id), err)
	}
	return nil
}

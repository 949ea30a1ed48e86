package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/goran-ethernal/ChainProjector/internal/db"
	"github.com/goran-ethernal/ChainProjector/internal/logger"
	"github.com/goran-ethernal/ChainProjector/pkg/entity"
	"github.com/russross/meddler"
)

// entityRow is the stored form of an entity. Fields hold the canonical JSON encoding.
type entityRow struct {
	EntityType   string `meddler:"entity_type"`
	EntityID     string `meddler:"entity_id"`
	Fields       string `meddler:"fields"`
	UpdatedBlock uint64 `meddler:"updated_block"`
}

const upsertQuery = `
	INSERT INTO entities (entity_type, entity_id, fields, updated_block)
	VALUES (?, ?, ?, ?)
	ON CONFLICT (entity_type, entity_id) DO UPDATE SET
		fields = excluded.fields,
		updated_block = excluded.updated_block
`

// Store is the SQLite-backed entity store.
// Writes go through Tx; Get and List read the last committed state.
type Store struct {
	db       *sql.DB
	registry *entity.Registry
	log      *logger.Logger
}

// New creates a Store over an already migrated database.
func New(database *sql.DB, registry *entity.Registry, log *logger.Logger) *Store {
	return &Store{
		db:       database,
		registry: registry,
		log:      log,
	}
}

// Registry returns the schema registry used to validate and decode entities.
func (s *Store) Registry() *entity.Registry {
	return s.registry
}

// Get returns the committed entity or entity.ErrNotFound.
func (s *Store) Get(ctx context.Context, entityType, id string) (*entity.Entity, error) {
	return s.load(s.db, entityType, id)
}

// List returns one page of entities of the given type ordered by id, plus the total count.
// Numeric ids sort numerically.
func (s *Store) List(ctx context.Context, entityType string, limit, offset int) ([]*entity.Entity, int, error) {
	schema, err := s.registry.Schema(entityType)
	if err != nil {
		return nil, 0, err
	}

	var total int
	err = s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM entities WHERE entity_type = ?", entityType).Scan(&total)
	if err != nil {
		return nil, 0, db.ClassifyError("count entities", err)
	}

	const listQuery = `
		SELECT * FROM entities
		WHERE entity_type = ?
		ORDER BY length(entity_id) ASC, entity_id ASC
		LIMIT ? OFFSET ?
	`
	var rows []*entityRow
	if err := meddler.QueryAll(s.db, &rows, listQuery, entityType, limit, offset); err != nil {
		return nil, 0, db.ClassifyError("list entities", err)
	}

	out := make([]*entity.Entity, 0, len(rows))
	for _, row := range rows {
		e, err := rowToEntity(schema, row)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, e)
	}

	return out, total, nil
}

// Upsert creates or merges a single entity in its own transaction.
// The entity keeps its previous updated block.
func (s *Store) Upsert(ctx context.Context, entityType, id string, fields entity.Fields) error {
	tx, err := s.BeginTx(ctx, 0)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	if err := tx.Upsert(ctx, entityType, id, fields); err != nil {
		return err
	}

	return tx.Commit()
}

// BeginTx opens a write transaction. Entities written through it are stamped with block,
// or keep their previous stamp when block is 0.
func (s *Store) BeginTx(ctx context.Context, block uint64) (*Tx, error) {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, db.ClassifyError("begin transaction", err)
	}

	return &Tx{
		tx:      sqlTx,
		store:   s,
		block:   block,
		before:  make(map[Key]*entity.Entity),
		touched: nil,
	}, nil
}

func (s *Store) load(q meddler.DB, entityType, id string) (*entity.Entity, error) {
	schema, err := s.registry.Schema(entityType)
	if err != nil {
		return nil, err
	}

	var row entityRow
	err = meddler.QueryRow(q, &row,
		"SELECT * FROM entities WHERE entity_type = ? AND entity_id = ?", entityType, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entity.ErrNotFound
	}
	if err != nil {
		return nil, db.ClassifyError("get entity", err)
	}

	return rowToEntity(schema, &row)
}

func rowToEntity(schema entity.Schema, row *entityRow) (*entity.Entity, error) {
	fields, err := schema.DecodeFields([]byte(row.Fields))
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s/%s: %w", row.EntityType, row.EntityID, err)
	}

	return &entity.Entity{
		Type:         row.EntityType,
		ID:           row.EntityID,
		Fields:       fields,
		UpdatedBlock: row.UpdatedBlock,
	}, nil
}

package migrations

import (
	"database/sql"
	_ "embed"

	"github.com/goran-ethernal/ChainProjector/internal/db"
	"github.com/goran-ethernal/ChainProjector/internal/logger"
)

//go:embed 001_entities.sql
var mig001 string

//go:embed 002_checkpoint_undo.sql
var mig002 string

//go:embed 003_leases.sql
var mig003 string

// All returns the projector schema migrations in apply order.
func All() []db.Migration {
	return []db.Migration{
		{
			ID:  "001_entities.sql",
			SQL: mig001,
		},
		{
			ID:  "002_checkpoint_undo.sql",
			SQL: mig002,
		},
		{
			ID:  "003_leases.sql",
			SQL: mig003,
		},
	}
}

// RunMigrations brings the projector database schema up to date.
func RunMigrations(log *logger.Logger, database *sql.DB) error {
	return db.RunMigrationsDB(log, database, All())
}

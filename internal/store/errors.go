package store

import (
	"errors"

	"github.com/goran-ethernal/ChainProjector/internal/db"
)

// ErrTransactionClosed is returned by every Tx method called after Commit or Rollback.
var ErrTransactionClosed = errors.New("transaction closed")

type (
	TransientStorageError     = db.TransientStorageError
	UnrecoverableStorageError = db.UnrecoverableStorageError
)

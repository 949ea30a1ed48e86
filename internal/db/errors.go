package db

import (
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
)

// TransientStorageError wraps a storage failure that is expected to clear on retry
// (lock contention, busy database).
type TransientStorageError struct {
	Op  string
	Err error
}

func (e *TransientStorageError) Error() string {
	return fmt.Sprintf("transient storage error during %s: %v", e.Op, e.Err)
}

func (e *TransientStorageError) Unwrap() error {
	return e.Err
}

// UnrecoverableStorageError wraps a storage failure that needs operator intervention
// (disk full, corruption, read-only or missing database).
type UnrecoverableStorageError struct {
	Op  string
	Err error
}

func (e *UnrecoverableStorageError) Error() string {
	return fmt.Sprintf("unrecoverable storage error during %s: %v", e.Op, e.Err)
}

func (e *UnrecoverableStorageError) Unwrap() error {
	return e.Err
}

// ClassifyError wraps SQLite errors into TransientStorageError or UnrecoverableStorageError.
// Errors that are neither, and errors already classified, are wrapped with the operation only.
func ClassifyError(op string, err error) error {
	if err == nil {
		return nil
	}

	var transient *TransientStorageError
	var unrecoverable *UnrecoverableStorageError
	if errors.As(err, &transient) || errors.As(err, &unrecoverable) {
		return err
	}

	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return fmt.Errorf("%s: %w", op, err)
	}

	switch sqliteErr.Code {
	case sqlite3.ErrBusy, sqlite3.ErrLocked:
		storageErrors.WithLabelValues("transient").Inc()
		return &TransientStorageError{Op: op, Err: err}
	case sqlite3.ErrFull, sqlite3.ErrCorrupt, sqlite3.ErrIoErr, sqlite3.ErrNotADB,
		sqlite3.ErrReadonly, sqlite3.ErrCantOpen:
		storageErrors.WithLabelValues("unrecoverable").Inc()
		return &UnrecoverableStorageError{Op: op, Err: err}
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

// IsTransient reports whether err is a TransientStorageError.
func IsTransient(err error) bool {
	var transient *TransientStorageError
	return errors.As(err, &transient)
}

// IsUnrecoverable reports whether err is an UnrecoverableStorageError.
func IsUnrecoverable(err error) bool {
	var unrecoverable *UnrecoverableStorageError
	return errors.As(err, &unrecoverable)
}

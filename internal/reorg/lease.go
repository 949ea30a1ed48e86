package reorg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goran-ethernal/ChainProjector/internal/db"
	"github.com/goran-ethernal/ChainProjector/internal/logger"
)

// PipelineLease is the name of the lease that guards the single writer.
const PipelineLease = "pipeline"

// Lease is a time-bounded exclusive claim stored in the database.
// Block transactions call VerifyTx so a writer that lost its lease can never commit.
type Lease struct {
	db    *sql.DB
	name  string
	owner string
	ttl   time.Duration
	log   *logger.Logger
	now   func() time.Time
}

// NewLease creates a lease handle for owner. Nothing is claimed until Acquire.
func NewLease(database *sql.DB, name, owner string, ttl time.Duration, log *logger.Logger) *Lease {
	return &Lease{
		db:    database,
		name:  name,
		owner: owner,
		ttl:   ttl,
		log:   log,
		now:   time.Now,
	}
}

// Owner returns the identity this handle claims the lease for.
func (l *Lease) Owner() string {
	return l.owner
}

// Acquire claims the lease, failing with ErrLeaseHeld while another owner holds it unexpired.
func (l *Lease) Acquire(ctx context.Context) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return db.ClassifyError("begin lease transaction", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			l.log.Errorf("failed to rollback transaction: %v", err)
		}
	}()

	now := l.now()
	var owner string
	var expiresAt int64
	err = tx.QueryRowContext(ctx, "SELECT owner, expires_at FROM leases WHERE name = ?", l.name).
		Scan(&owner, &expiresAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return db.ClassifyError("read lease", err)
	case owner != l.owner && expiresAt > now.UnixMilli():
		return fmt.Errorf("%w: owner=%s expires_at=%s", ErrLeaseHeld, owner,
			time.UnixMilli(expiresAt).UTC().Format(time.RFC3339))
	}

	_, err = tx.ExecContext(ctx,
		"INSERT OR REPLACE INTO leases (name, owner, expires_at) VALUES (?, ?, ?)",
		l.name, l.owner, now.Add(l.ttl).UnixMilli())
	if err != nil {
		return db.ClassifyError("write lease", err)
	}

	if err := tx.Commit(); err != nil {
		return db.ClassifyError("commit lease", err)
	}

	l.log.Infof("lease acquired: name=%s owner=%s ttl=%s", l.name, l.owner, l.ttl)
	return nil
}

// Renew extends the lease. It fails with ErrLeaseHeld when the lease now belongs to someone else.
func (l *Lease) Renew(ctx context.Context) error {
	result, err := l.db.ExecContext(ctx,
		"UPDATE leases SET expires_at = ? WHERE name = ? AND owner = ?",
		l.now().Add(l.ttl).UnixMilli(), l.name, l.owner)
	if err != nil {
		return db.ClassifyError("renew lease", err)
	}

	if rows, _ := result.RowsAffected(); rows == 0 {
		LeaseLostInc()
		return fmt.Errorf("%w: lease %s no longer owned by %s", ErrLeaseHeld, l.name, l.owner)
	}
	return nil
}

// Release gives the lease up if this owner still holds it.
func (l *Lease) Release(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, "DELETE FROM leases WHERE name = ? AND owner = ?", l.name, l.owner)
	if err != nil {
		return db.ClassifyError("release lease", err)
	}

	l.log.Infof("lease released: name=%s owner=%s", l.name, l.owner)
	return nil
}

// VerifyTx checks inside tx that this owner still holds an unexpired lease.
func (l *Lease) VerifyTx(tx *sql.Tx) error {
	var owner string
	var expiresAt int64
	err := tx.QueryRow("SELECT owner, expires_at FROM leases WHERE name = ?", l.name).
		Scan(&owner, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		LeaseLostInc()
		return fmt.Errorf("%w: lease %s not held", ErrLeaseHeld, l.name)
	}
	if err != nil {
		return db.ClassifyError("verify lease", err)
	}

	if owner != l.owner || expiresAt <= l.now().UnixMilli() {
		LeaseLostInc()
		return fmt.Errorf("%w: lease %s owner=%s expired=%t", ErrLeaseHeld, l.name, owner,
			expiresAt <= l.now().UnixMilli())
	}
	return nil
}

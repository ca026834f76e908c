package postgres

import (
	"context"
	"fmt"
	"time"

	"tassiac-ledger/internal/core/domain"

	"github.com/jackc/pgx/v5"
)

// Transactor implements ports.DBTransactor.
type Transactor struct {
	pool        Pool
	lockTimeout time.Duration
}

// NewTransactor creates a Transactor. lockTimeout bounds every lock wait
// inside serializable units; zero leaves the server default.
func NewTransactor(pool Pool, lockTimeout time.Duration) *Transactor {
	return &Transactor{pool: pool, lockTimeout: lockTimeout}
}

// Begin starts a read-committed transaction.
func (t *Transactor) Begin(ctx context.Context) (pgx.Tx, error) {
	return t.pool.Begin(ctx)
}

// BeginSerializable starts a serializable transaction with the configured
// lock_timeout applied to it alone.
func (t *Transactor) BeginSerializable(ctx context.Context) (pgx.Tx, error) {
	tx, err := t.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return nil, fmt.Errorf("begin serializable: %w", err)
	}
	if t.lockTimeout > 0 {
		// SET does not take bind parameters.
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", t.lockTimeout.Milliseconds())
		if _, err := tx.Exec(ctx, stmt); err != nil {
			_ = tx.Rollback(ctx)
			return nil, fmt.Errorf("set lock_timeout: %w", err)
		}
	}
	return tx, nil
}

// Locker implements ports.KeyLocker with transaction-scoped advisory locks.
// The locks release on commit or rollback.
type Locker struct{}

func NewLocker() *Locker {
	return &Locker{}
}

// LockKeys locks keys in the order given. Callers pass them sorted.
func (l *Locker) LockKeys(ctx context.Context, tx pgx.Tx, keys []domain.WalletKey) error {
	for _, k := range keys {
		if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", k.LockID()); err != nil {
			return fmt.Errorf("advisory lock %s: %w", k, err)
		}
	}
	return nil
}

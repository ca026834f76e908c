package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"tassiac-ledger/internal/core/domain"
	"tassiac-ledger/internal/core/ports"
	"tassiac-ledger/pkg/apperror"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
)

// PostgreSQL error codes that mean "try the whole unit again".
const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgLockNotAvailable     = "55P03"
)

// TxFunc is a unit of work run inside an Updater transaction.
type TxFunc func(ctx context.Context, tx pgx.Tx) error

// RetryPolicy bounds how often a conflicting unit of work is retried.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// Updater is the only component that mutates wallet balances. Each unit of
// work runs in a serializable transaction holding exclusive per-key locks,
// so writers to the same wallet are serialized and writers to different
// wallets proceed in parallel.
type Updater struct {
	transactor ports.DBTransactor
	locker     ports.KeyLocker
	walletRepo ports.WalletRepository
	policy     RetryPolicy
	log        zerolog.Logger
}

// NewUpdater creates a new Updater.
func NewUpdater(
	transactor ports.DBTransactor,
	locker ports.KeyLocker,
	walletRepo ports.WalletRepository,
	policy RetryPolicy,
	log zerolog.Logger,
) *Updater {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	return &Updater{
		transactor: transactor,
		locker:     locker,
		walletRepo: walletRepo,
		policy:     policy,
		log:        log,
	}
}

// Run executes fn inside a locked serializable transaction, retrying the
// whole unit on lock timeouts, serialization failures and deadlocks.
func (u *Updater) Run(ctx context.Context, keys []domain.WalletKey, fn TxFunc) error {
	ordered := SortKeys(keys)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = u.policy.BaseDelay
	b.MaxElapsedTime = 0
	b.Reset()

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		err := u.runOnce(ctx, ordered, fn)
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return backoff.Permanent(err)
		}
		u.log.Warn().Err(err).
			Int("attempt", attempt).
			Int("max_attempts", u.policy.MaxAttempts).
			Int("keys", len(ordered)).
			Msg("transactional unit conflicted, retrying")
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(b, uint64(u.policy.MaxAttempts-1)), ctx))

	if err != nil && IsRetryable(err) {
		return apperror.ErrRetriesExhausted(err)
	}
	return err
}

func (u *Updater) runOnce(ctx context.Context, keys []domain.WalletKey, fn TxFunc) error {
	tx, err := u.transactor.BeginSerializable(ctx)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if len(keys) > 0 {
		if err := u.locker.LockKeys(ctx, tx, keys); err != nil {
			return err
		}
	}

	if err := fn(ctx, tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}
	return nil
}

// ApplyDelta upserts the wallet and applies one delta inside tx. The caller
// must hold the key's lock (see Run). Deposits create the wallet at zero
// when absent; withdrawals require an existing, active wallet.
func (u *Updater) ApplyDelta(ctx context.Context, tx pgx.Tx, d domain.WalletDelta) (*domain.Wallet, error) {
	if !d.Amount.IsPositive() {
		return nil, apperror.Validation("Delta amount must be positive")
	}

	if d.Operation == domain.OperationDeposit {
		if _, err := u.walletRepo.Ensure(ctx, tx, d.Key); err != nil {
			return nil, apperror.InternalError(fmt.Errorf("ensure wallet %s: %w", d.Key, err))
		}
	}

	w, err := u.walletRepo.GetByKeyForUpdate(ctx, tx, d.Key)
	if err != nil {
		return nil, lockFailure("wallet "+d.Key.String(), err)
	}
	if w == nil {
		return nil, apperror.ErrNotFound("wallet " + d.Key.String())
	}
	if d.Operation == domain.OperationWithdrawal && !w.IsActive {
		return nil, apperror.ErrWalletInactive(d.Key.String())
	}

	w.Apply(d)
	if w.Balance.IsNegative() {
		return nil, apperror.ErrInsufficientFunds()
	}
	w.LastUpdated = time.Now().UTC()

	if err := u.walletRepo.UpdateTotals(ctx, tx, w); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("update wallet %s: %w", d.Key, err))
	}
	return w, nil
}

// Apply applies all deltas as one all-or-nothing unit.
func (u *Updater) Apply(ctx context.Context, deltas []domain.WalletDelta) error {
	keys := make([]domain.WalletKey, 0, len(deltas))
	for _, d := range deltas {
		keys = append(keys, d.Key)
	}
	return u.Run(ctx, keys, func(ctx context.Context, tx pgx.Tx) error {
		for _, d := range deltas {
			if _, err := u.ApplyDelta(ctx, tx, d); err != nil {
				return err
			}
		}
		return nil
	})
}

// SortKeys returns the distinct keys in ascending lock order. Every unit
// takes its locks in this order so multi-key units cannot deadlock.
func SortKeys(keys []domain.WalletKey) []domain.WalletKey {
	seen := make(map[domain.WalletKey]struct{}, len(keys))
	out := make([]domain.WalletKey, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		li, lj := out[i].LockID(), out[j].LockID()
		if li != lj {
			return li < lj
		}
		return out[i].String() < out[j].String()
	})
	return out
}

// lockFailure passes lock timeouts through so Run can retry them. Anything
// else is an internal error.
func lockFailure(what string, err error) error {
	if apperror.IsTransient(err) {
		return err
	}
	return apperror.InternalError(fmt.Errorf("lock %s: %w", what, err))
}

// IsRetryable reports whether err is a lock timeout, serialization failure
// or deadlock.
func IsRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgSerializationFailure, pgDeadlockDetected, pgLockNotAvailable:
			return true
		}
	}
	return apperror.HasCode(err, apperror.CodeLockTimeout)
}

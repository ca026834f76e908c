// Package memory is an in-process ledger store for local runs and tests.
//
// Writers are serialized by named locks held until the transaction ends
// (wallet keys and withdrawal rows), which gives the same per-key
// exclusion as the PostgreSQL adapter. Writes are applied immediately and
// undone on rollback, so an uncommitted change is visible to readers that
// do not take the corresponding lock.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"tassiac-ledger/internal/core/domain"
	"tassiac-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

var errForeignTx = errors.New("memory store: transaction was not started by this store")

// Store holds all ledger tables in memory.
type Store struct {
	mu          sync.RWMutex
	wallets     map[string]*domain.Wallet
	payments    map[uuid.UUID]*domain.PaymentEvent
	offerings   map[uuid.UUID]*domain.SpecialOffering
	withdrawals map[uuid.UUID]*domain.WithdrawalRequest
	approvals   []domain.Approval
	postings    []domain.Posting
	posted      map[string]struct{}
	audit       []domain.AuditLog

	locks       *keyedMutex
	lockTimeout time.Duration
}

// NewStore creates an empty store. lockTimeout bounds every lock wait.
func NewStore(lockTimeout time.Duration) *Store {
	if lockTimeout <= 0 {
		lockTimeout = 30 * time.Second
	}
	return &Store{
		wallets:     make(map[string]*domain.Wallet),
		payments:    make(map[uuid.UUID]*domain.PaymentEvent),
		offerings:   make(map[uuid.UUID]*domain.SpecialOffering),
		withdrawals: make(map[uuid.UUID]*domain.WithdrawalRequest),
		posted:      make(map[string]struct{}),
		locks:       newKeyedMutex(),
		lockTimeout: lockTimeout,
	}
}

// AddPayment records a payment as if written by the payment subsystem.
func (s *Store) AddPayment(p domain.PaymentEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payments[p.ID] = &p
}

// AddOffering records a special offering.
func (s *Store) AddOffering(o domain.SpecialOffering) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offerings[o.ID] = &o
}

// SetOfferingActive opens or closes a special offering.
func (s *Store) SetOfferingActive(id uuid.UUID, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.offerings[id]; ok {
		o.IsActive = active
	}
}

// AuditLogs returns a copy of persisted audit entries.
func (s *Store) AuditLogs() []domain.AuditLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.AuditLog(nil), s.audit...)
}

// Ping implements ports.HealthChecker.
func (s *Store) Ping(context.Context) error { return nil }

// Name implements ports.HealthChecker.
func (s *Store) Name() string { return "memory" }

// ---- transactions ----

type memTx struct {
	pgx.Tx // unused methods panic; repos only need Commit/Rollback

	store *Store
	held  []string
	undo  []func()
	done  bool
}

func (t *memTx) Commit(context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	t.undo = nil
	t.release()
	return nil
}

func (t *memTx) Rollback(context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	t.store.mu.Lock()
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.store.mu.Unlock()
	t.undo = nil
	t.release()
	return nil
}

// lock takes a named lock for the rest of the transaction. Re-locking a
// name the transaction already holds is a no-op.
func (t *memTx) lock(ctx context.Context, name string) error {
	for _, h := range t.held {
		if h == name {
			return nil
		}
	}
	if err := t.store.locks.lock(ctx, name, t.store.lockTimeout); err != nil {
		return err
	}
	t.held = append(t.held, name)
	return nil
}

func (t *memTx) release() {
	for i := len(t.held) - 1; i >= 0; i-- {
		t.store.locks.unlock(t.held[i])
	}
	t.held = nil
}

// onRollback registers an undo step. Caller holds store.mu.
func (t *memTx) onRollback(fn func()) {
	t.undo = append(t.undo, fn)
}

func asMemTx(tx pgx.Tx) (*memTx, error) {
	mt, ok := tx.(*memTx)
	if !ok || mt.done {
		return nil, errForeignTx
	}
	return mt, nil
}

// Transactor implements ports.DBTransactor.
type Transactor struct {
	store *Store
}

// NewTransactor creates a Transactor for the store.
func NewTransactor(store *Store) *Transactor {
	return &Transactor{store: store}
}

// Begin starts a transaction.
func (t *Transactor) Begin(context.Context) (pgx.Tx, error) {
	return &memTx{store: t.store}, nil
}

// BeginSerializable starts a transaction. Isolation comes from the
// named locks, so it is the same as Begin.
func (t *Transactor) BeginSerializable(ctx context.Context) (pgx.Tx, error) {
	return t.Begin(ctx)
}

// Locker implements ports.KeyLocker with in-process named locks.
type Locker struct{}

// NewLocker creates a Locker.
func NewLocker() *Locker {
	return &Locker{}
}

// LockKeys takes the wallet locks in the given order.
func (l *Locker) LockKeys(ctx context.Context, tx pgx.Tx, keys []domain.WalletKey) error {
	mt, err := asMemTx(tx)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := mt.lock(ctx, walletLockName(k)); err != nil {
			return err
		}
	}
	return nil
}

func walletLockName(k domain.WalletKey) string {
	return "wallet:" + k.String()
}

func withdrawalLockName(id uuid.UUID) string {
	return "withdrawal:" + id.String()
}

// ---- named locks ----

type keyedMutex struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{slots: make(map[string]chan struct{})}
}

func (k *keyedMutex) slot(name string) chan struct{} {
	k.mu.Lock()
	defer k.mu.Unlock()
	ch, ok := k.slots[name]
	if !ok {
		ch = make(chan struct{}, 1)
		k.slots[name] = ch
	}
	return ch
}

func (k *keyedMutex) lock(ctx context.Context, name string, timeout time.Duration) error {
	ch := k.slot(name)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return apperror.ErrLockTimeout(fmt.Errorf("waiting for %s after %s", name, timeout))
	}
}

func (k *keyedMutex) unlock(name string) {
	<-k.slot(name)
}

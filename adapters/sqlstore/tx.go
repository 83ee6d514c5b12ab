package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/tempohq/tempo/adapters"
)

type txKey struct{ s *Store }

// sqlTx is a database transaction started by BeginTx.
type sqlTx struct {
	tx   *sql.Tx
	done atomic.Bool
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// BeginTx starts a transaction and binds it to the returned context. Store
// operations called with that context run inside it. Calling BeginTx with a
// context that already carries a live transaction of this store joins it; the
// returned Transaction then does nothing and the outer one owns the work.
func (s *Store) BeginTx(ctx context.Context) (context.Context, adapters.Transaction, error) {
	if err := s.check(ctx); err != nil {
		return nil, nil, err
	}
	if tx := s.txFrom(ctx); tx != nil {
		return ctx, joinedTx{}, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("tempo/sqlstore: failed to begin transaction: %w", err)
	}
	t := &sqlTx{tx: tx}
	return context.WithValue(ctx, txKey{s}, t), t, nil
}

// Commit commits the transaction. A second Commit returns adapters.ErrTxDone.
func (t *sqlTx) Commit() error {
	if !t.done.CompareAndSwap(false, true) {
		return adapters.ErrTxDone
	}
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("tempo/sqlstore: failed to commit transaction: %w", err)
	}
	return nil
}

// Rollback aborts the transaction. It is a no-op once the transaction has finished.
func (t *sqlTx) Rollback() error {
	if !t.done.CompareAndSwap(false, true) {
		return nil
	}
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("tempo/sqlstore: failed to roll back transaction: %w", err)
	}
	return nil
}

type joinedTx struct{}

func (joinedTx) Commit() error   { return nil }
func (joinedTx) Rollback() error { return nil }

func (s *Store) txFrom(ctx context.Context) *sqlTx {
	tx, _ := ctx.Value(txKey{s}).(*sqlTx)
	if tx == nil || tx.done.Load() {
		return nil
	}
	return tx
}

// conn returns the transaction bound to ctx, or the database handle.
func (s *Store) conn(ctx context.Context) querier {
	if tx := s.txFrom(ctx); tx != nil {
		return tx.tx
	}
	return s.db
}

// write runs fn inside the transaction bound to ctx. Without one, fn runs in a
// transaction of its own so that a failure leaves nothing behind.
func (s *Store) write(ctx context.Context, fn func(q querier) error) error {
	if tx := s.txFrom(ctx); tx != nil {
		return fn(tx.tx)
	}

	txCtx, tx, err := s.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(s.txFrom(txCtx).tx); err != nil {
		return err
	}
	return tx.Commit()
}

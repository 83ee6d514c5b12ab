package memory

import (
	"context"
	"sync"

	"github.com/tempohq/tempo/adapters"
)

type txKey struct{ a *MemoryAdapter }

// memoryTx is a transaction over a private copy of the adapter state.
type memoryTx struct {
	adapter *MemoryAdapter
	working *state
	once    sync.Once
	done    bool
}

// BeginTx starts a transaction. Only one transaction runs at a time; BeginTx blocks
// until the previous one finishes. Calling it with a context that already carries a
// transaction of this adapter joins that transaction.
func (a *MemoryAdapter) BeginTx(ctx context.Context) (context.Context, adapters.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	if tx := a.txFrom(ctx); tx != nil {
		return ctx, noopTx{}, nil
	}

	a.txMu.Lock()

	a.mu.RLock()
	if a.closed {
		a.mu.RUnlock()
		a.txMu.Unlock()
		return nil, nil, adapters.ErrAdapterClosed
	}
	working := a.state.clone()
	a.mu.RUnlock()

	tx := &memoryTx{adapter: a, working: working}
	return context.WithValue(ctx, txKey{a}, tx), tx, nil
}

// Commit publishes the transaction's state.
func (t *memoryTx) Commit() error {
	if t.done {
		return adapters.ErrTxDone
	}
	a := t.adapter

	a.mu.Lock()
	closed := a.closed
	if !closed {
		a.state = t.working
	}
	a.mu.Unlock()

	t.finish()
	if closed {
		return adapters.ErrAdapterClosed
	}
	return nil
}

// Rollback discards the transaction's state. It is a no-op after Commit.
func (t *memoryTx) Rollback() error {
	t.finish()
	return nil
}

func (t *memoryTx) finish() {
	t.once.Do(func() {
		t.done = true
		t.working = nil
		t.adapter.txMu.Unlock()
	})
}

// noopTx is returned when BeginTx is called inside a transaction; the outer one owns the work.
type noopTx struct{}

func (noopTx) Commit() error   { return nil }
func (noopTx) Rollback() error { return nil }

func (a *MemoryAdapter) txFrom(ctx context.Context) *memoryTx {
	tx, _ := ctx.Value(txKey{a}).(*memoryTx)
	if tx == nil || tx.done {
		return nil
	}
	return tx
}

// read runs fn against the transaction state when ctx carries one, otherwise
// against the committed state under a read lock.
func (a *MemoryAdapter) read(ctx context.Context, fn func(s *state) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if tx := a.txFrom(ctx); tx != nil {
		return fn(tx.working)
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return adapters.ErrAdapterClosed
	}
	return fn(a.state)
}

// write runs fn against the transaction state when ctx carries one. Otherwise it
// runs fn in its own transaction so that a failing fn leaves no partial writes.
func (a *MemoryAdapter) write(ctx context.Context, fn func(s *state) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if tx := a.txFrom(ctx); tx != nil {
		return fn(tx.working)
	}

	txCtx, tx, err := a.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(a.txFrom(txCtx).working); err != nil {
		return err
	}
	return tx.Commit()
}

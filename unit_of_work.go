package tempo

import (
	"context"
	"time"

	"github.com/tempohq/tempo/adapters"
)

type unitKey struct{}

// unit is the state of one running unit of work.
type unit struct {
	afterCommit []func(ctx context.Context)
}

// UnitOfWork runs a group of writes as one storage transaction.
//
// Units nest: Do called with a context that already belongs to a unit runs fn inside
// that unit, and only the outermost Do commits. This lets a repository save join a
// coordinator's cascade without either knowing about the other.
type UnitOfWork struct {
	tx      adapters.TransactionalAdapter
	logger  Logger
	timeout time.Duration
}

// UnitOfWorkOption configures a UnitOfWork.
type UnitOfWorkOption func(*UnitOfWork)

// WithUnitLogger sets the logger used to report rollbacks.
func WithUnitLogger(l Logger) UnitOfWorkOption {
	return func(u *UnitOfWork) {
		u.logger = l
	}
}

// WithTxTimeout bounds each outermost unit when ctx has no deadline of its own.
func WithTxTimeout(d time.Duration) UnitOfWorkOption {
	return func(u *UnitOfWork) {
		u.timeout = d
	}
}

// NewUnitOfWork creates a UnitOfWork over a transactional adapter.
func NewUnitOfWork(tx adapters.TransactionalAdapter, opts ...UnitOfWorkOption) *UnitOfWork {
	u := &UnitOfWork{
		tx:     tx,
		logger: &noopLogger{},
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Do runs fn inside a transaction and commits when fn returns nil.
// Any error from fn rolls the whole transaction back and is returned unchanged.
// Hooks registered with AfterCommit run once the outermost unit has committed.
func (u *UnitOfWork) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if InUnitOfWork(ctx) {
		return fn(ctx)
	}

	outer := ctx
	if u.timeout > 0 {
		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, u.timeout)
			defer cancel()
		}
	}

	txCtx, tx, err := u.tx.BeginTx(ctx)
	if err != nil {
		return wrapStorage("begin transaction", err)
	}

	un := &unit{}
	txCtx = context.WithValue(txCtx, unitKey{}, un)

	committed := false
	defer func() {
		if committed {
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil {
			u.logger.Error("Rollback failed", "error", rbErr)
		}
	}()

	if err := fn(txCtx); err != nil {
		u.logger.Debug("Unit of work rolled back", "error", err)
		return err
	}

	if err := tx.Commit(); err != nil {
		return wrapStorage("commit", err)
	}
	committed = true

	for _, hook := range un.afterCommit {
		hook(outer)
	}
	return nil
}

// InUnitOfWork reports whether ctx belongs to a running unit of work.
func InUnitOfWork(ctx context.Context) bool {
	_, ok := ctx.Value(unitKey{}).(*unit)
	return ok
}

// AfterCommit registers fn to run after the enclosing unit of work commits.
// Without an enclosing unit fn runs immediately. fn receives a context that is
// not bound to the finished transaction.
func AfterCommit(ctx context.Context, fn func(ctx context.Context)) {
	if un, ok := ctx.Value(unitKey{}).(*unit); ok {
		un.afterCommit = append(un.afterCommit, fn)
		return
	}
	fn(ctx)
}

package sietch

import (
	"context"
	"errors"
	"sync"
)

// UnitOfWork groups repository mutations into one atomic change.
//
// A unit starts idle. Begin makes it active; Commit or Rollback return it to
// idle. Close releases backend resources and may be called any number of
// times, with or without a prior Begin. Closing an active unit rolls it back.
type UnitOfWork[T any] interface {
	// Repository is bound to the unit: mutations made through it while the
	// unit is active are part of the transaction.
	Repository() Repository[T]
	Begin(ctx context.Context) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	Close(ctx context.Context) error
	Active() bool
}

// Transactor is the backend side of a unit of work.
type Transactor interface {
	Begin(ctx context.Context) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	// Release frees resources held outside a transaction. It is called by
	// Close after any pending work was rolled back.
	Release(ctx context.Context) error
}

type unitState int

const (
	unitIdle unitState = iota
	unitActive
)

// Unit implements the UnitOfWork state machine on top of a Transactor.
type Unit[T any] struct {
	mu       sync.Mutex
	repo     Repository[T]
	tx       Transactor
	boundary Boundary
	state    unitState
	closed   bool
}

// NewUnitOfWork binds repo and tx into a unit.
func NewUnitOfWork[T any](repo Repository[T], tx Transactor, b Boundary) *Unit[T] {
	return &Unit[T]{repo: repo, tx: tx, boundary: b}
}

func (u *Unit[T]) Repository() Repository[T] {
	return u.repo
}

// Active reports whether a transaction is open.
func (u *Unit[T]) Active() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.state == unitActive
}

// Begin opens a transaction. Calling it on an active unit is a no-op.
func (u *Unit[T]) Begin(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.state == unitActive {
		return nil
	}
	return u.boundary.Do(ctx, "begin", func() error {
		if err := u.tx.Begin(ctx); err != nil {
			return err
		}
		u.state = unitActive
		u.closed = false
		return nil
	})
}

// Commit makes the pending work durable.
func (u *Unit[T]) Commit(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.state != unitActive {
		return u.boundary.Do(ctx, "commit", func() error {
			return Errorf(ErrInvalidQuery, u.boundary.Op("commit"), "no active transaction")
		})
	}
	u.state = unitIdle
	return u.boundary.Do(ctx, "commit", func() error {
		return u.tx.Commit(ctx)
	})
}

// Rollback discards the pending work. On an idle unit it does nothing.
func (u *Unit[T]) Rollback(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.rollback(ctx)
}

// rollback ignores cancellation of ctx: pending work is always discarded.
func (u *Unit[T]) rollback(ctx context.Context) error {
	if u.state != unitActive {
		return nil
	}
	ctx = context.WithoutCancel(ctx)
	u.state = unitIdle
	return u.boundary.Do(ctx, "rollback", func() error {
		return u.tx.Rollback(ctx)
	})
}

// Close rolls back uncommitted work and releases the unit.
func (u *Unit[T]) Close(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.closed {
		return nil
	}
	rbErr := u.rollback(ctx)
	u.closed = true
	ctx = context.WithoutCancel(ctx)
	relErr := u.boundary.Do(ctx, "close", func() error {
		return u.tx.Release(ctx)
	})
	return errors.Join(rbErr, relErr)
}

// Run scopes uow to fn. The unit is begun before fn and closed after it.
// When fn fails or panics the unit is rolled back first. Run never commits;
// fn does that explicitly.
func Run[T any](ctx context.Context, uow UnitOfWork[T], fn func(repo Repository[T]) error) (err error) {
	if err := uow.Begin(ctx); err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			_ = uow.Rollback(ctx)
			_ = uow.Close(ctx)
			panic(p)
		}
	}()

	if err = fn(uow.Repository()); err != nil {
		return errors.Join(err, uow.Rollback(ctx), uow.Close(ctx))
	}
	return uow.Close(ctx)
}

// WithTx executes fn within a transaction and commits when fn succeeds.
// If fn returns an error or panics, the transaction is rolled back.
func WithTx[T any](ctx context.Context, uow UnitOfWork[T], fn func(repo Repository[T]) error) error {
	return Run(ctx, uow, func(repo Repository[T]) error {
		if err := fn(repo); err != nil {
			return err
		}
		return uow.Commit(ctx)
	})
}

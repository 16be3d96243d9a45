package cockroach

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/seb7887/sietch"
)

// transactor runs the statements of its repository inside a pgx.Tx.
type transactor[T any] struct {
	repo *Repository[T]
}

// NewUnitOfWork binds a unit of work to a fresh repository over the same pool
// and table as repo.
func NewUnitOfWork[T any](repo *Repository[T]) *sietch.Unit[T] {
	bound := &Repository[T]{
		pool:     repo.pool,
		model:    repo.model,
		table:    repo.table,
		columns:  repo.columns,
		boundary: repo.boundary,
	}
	return sietch.NewUnitOfWork[T](bound, &transactor[T]{repo: bound}, bound.boundary)
}

func (t *transactor[T]) Begin(ctx context.Context) error {
	tx, err := t.repo.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	t.repo.txMu.Lock()
	t.repo.tx = tx
	t.repo.txMu.Unlock()
	return nil
}

func (t *transactor[T]) take() pgx.Tx {
	t.repo.txMu.Lock()
	defer t.repo.txMu.Unlock()
	tx := t.repo.tx
	t.repo.tx = nil
	return tx
}

func (t *transactor[T]) Commit(ctx context.Context) error {
	tx := t.take()
	if tx == nil {
		return nil
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (t *transactor[T]) Rollback(ctx context.Context) error {
	tx := t.take()
	if tx == nil {
		return nil
	}
	return tx.Rollback(ctx)
}

// Release has nothing to free: the connection goes back to the pool when
// the transaction ends.
func (t *transactor[T]) Release(context.Context) error {
	return nil
}

// Provider registers the cockroach backend. Sessions must be *pgxpool.Pool.
func Provider[T any](model sietch.Model[T], opts ...sietch.Option) sietch.Provider[T] {
	return sietch.Provider[T]{
		Repository: func(session any) (sietch.Repository[T], error) {
			pool, ok := session.(*pgxpool.Pool)
			if !ok {
				return nil, fmt.Errorf("cockroach: unexpected session %T", session)
			}
			r, err := New(pool, model, opts...)
			if err != nil {
				return nil, err
			}
			return r, nil
		},
		UnitOfWork: func(repo sietch.Repository[T]) (sietch.UnitOfWork[T], error) {
			r, ok := repo.(*Repository[T])
			if !ok {
				return nil, fmt.Errorf("cockroach: unexpected repository %T", repo)
			}
			return NewUnitOfWork(r), nil
		},
		Specs: Specs[T]{},
	}
}

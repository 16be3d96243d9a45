package gormsql

import (
	"context"
	"fmt"

	"github.com/seb7887/sietch"
	"gorm.io/gorm"
)

type transactor[T any] struct {
	repo *Repository[T]
}

// NewUnitOfWork binds a unit of work to a fresh repository over the same
// database and table as repo.
func NewUnitOfWork[T any](repo *Repository[T]) *sietch.Unit[T] {
	bound := &Repository[T]{
		db:       repo.db,
		model:    repo.model,
		boundary: repo.boundary,
	}
	return sietch.NewUnitOfWork[T](bound, &transactor[T]{repo: bound}, bound.boundary)
}

func (t *transactor[T]) Begin(ctx context.Context) error {
	tx := t.repo.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return fmt.Errorf("failed to begin transaction: %w", tx.Error)
	}
	t.repo.txMu.Lock()
	t.repo.tx = tx
	t.repo.txMu.Unlock()
	return nil
}

func (t *transactor[T]) take() *gorm.DB {
	t.repo.txMu.Lock()
	defer t.repo.txMu.Unlock()
	tx := t.repo.tx
	t.repo.tx = nil
	return tx
}

func (t *transactor[T]) Commit(context.Context) error {
	tx := t.take()
	if tx == nil {
		return nil
	}
	if err := tx.Commit().Error; err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (t *transactor[T]) Rollback(context.Context) error {
	tx := t.take()
	if tx == nil {
		return nil
	}
	return tx.Rollback().Error
}

func (t *transactor[T]) Release(context.Context) error {
	return nil
}

// Provider registers the gorm backend. Sessions must be *gorm.DB.
func Provider[T any](model sietch.Model[T], opts ...sietch.Option) sietch.Provider[T] {
	return sietch.Provider[T]{
		Repository: func(session any) (sietch.Repository[T], error) {
			db, ok := session.(*gorm.DB)
			if !ok {
				return nil, fmt.Errorf("gormsql: unexpected session %T", session)
			}
			r, err := New(db, model, opts...)
			if err != nil {
				return nil, err
			}
			return r, nil
		},
		UnitOfWork: func(repo sietch.Repository[T]) (sietch.UnitOfWork[T], error) {
			r, ok := repo.(*Repository[T])
			if !ok {
				return nil, fmt.Errorf("gormsql: unexpected repository %T", repo)
			}
			return NewUnitOfWork(r), nil
		},
		Specs: Specs[T]{},
	}
}

package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/seb7887/sietch"
)

// transactor queues writes on a MULTI/EXEC pipeline. Reads made while the
// unit is active go straight to the server and do not see queued writes.
type transactor[T any] struct {
	repo *Repository[T]
}

// NewUnitOfWork binds a unit of work to a fresh repository over the same
// client and keys as repo.
func NewUnitOfWork[T any](repo *Repository[T]) *sietch.Unit[T] {
	bound := &Repository[T]{
		client:   repo.client,
		model:    repo.model,
		ttl:      repo.ttl,
		boundary: repo.boundary,
	}
	return sietch.NewUnitOfWork[T](bound, &transactor[T]{repo: bound}, bound.boundary)
}

func (t *transactor[T]) Begin(context.Context) error {
	t.repo.pipeMu.Lock()
	defer t.repo.pipeMu.Unlock()
	t.repo.pipe = t.repo.client.TxPipeline()
	return nil
}

func (t *transactor[T]) take() goredis.Pipeliner {
	t.repo.pipeMu.Lock()
	defer t.repo.pipeMu.Unlock()
	pipe := t.repo.pipe
	t.repo.pipe = nil
	return pipe
}

func (t *transactor[T]) Commit(ctx context.Context) error {
	pipe := t.take()
	if pipe == nil || pipe.Len() == 0 {
		return nil
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (t *transactor[T]) Rollback(context.Context) error {
	pipe := t.take()
	if pipe == nil {
		return nil
	}
	return pipe.Discard()
}

func (t *transactor[T]) Release(context.Context) error {
	return nil
}

// Provider registers the redis backend. Sessions must be *redis.Client.
func Provider[T any](model sietch.Model[T], ttl time.Duration, opts ...sietch.Option) sietch.Provider[T] {
	return sietch.Provider[T]{
		Repository: func(session any) (sietch.Repository[T], error) {
			client, ok := session.(*goredis.Client)
			if !ok {
				return nil, fmt.Errorf("redis: unexpected session %T", session)
			}
			r, err := New(client, model, ttl, opts...)
			if err != nil {
				return nil, err
			}
			return r, nil
		},
		UnitOfWork: func(repo sietch.Repository[T]) (sietch.UnitOfWork[T], error) {
			r, ok := repo.(*Repository[T])
			if !ok {
				return nil, fmt.Errorf("redis: unexpected repository %T", repo)
			}
			return NewUnitOfWork(r), nil
		},
		Specs: Specs[T]{},
	}
}

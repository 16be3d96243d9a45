package mongo

import (
	"context"
	"fmt"
	"sync"

	"github.com/seb7887/sietch"
	mongodb "go.mongodb.org/mongo-driver/mongo"
)

// sessionHolder carries the session of a running transaction.
type sessionHolder struct {
	mu   sync.Mutex
	sess mongodb.Session
}

// bind attaches the running session to ctx so that operations join the
// transaction.
func (h *sessionHolder) bind(ctx context.Context) context.Context {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sess == nil {
		return ctx
	}
	return mongodb.NewSessionContext(ctx, h.sess)
}

func (h *sessionHolder) take() mongodb.Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	sess := h.sess
	h.sess = nil
	return sess
}

// transactor runs a multi-document transaction. The server must be a replica
// set or a sharded cluster.
type transactor[T any] struct {
	repo *Repository[T]
}

// NewUnitOfWork binds a unit of work to a fresh repository over the same
// collection as repo.
func NewUnitOfWork[T any](repo *Repository[T]) *sietch.Unit[T] {
	bound := &Repository[T]{
		coll:     repo.coll,
		model:    repo.model,
		idKey:    repo.idKey,
		boundary: repo.boundary,
		session:  &sessionHolder{},
	}
	return sietch.NewUnitOfWork[T](bound, &transactor[T]{repo: bound}, bound.boundary)
}

func (t *transactor[T]) Begin(ctx context.Context) error {
	sess, err := t.repo.coll.Database().Client().StartSession()
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	if err := sess.StartTransaction(); err != nil {
		sess.EndSession(ctx)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	t.repo.session.mu.Lock()
	t.repo.session.sess = sess
	t.repo.session.mu.Unlock()
	return nil
}

func (t *transactor[T]) Commit(ctx context.Context) error {
	sess := t.repo.session.take()
	if sess == nil {
		return nil
	}
	defer sess.EndSession(ctx)
	if err := sess.CommitTransaction(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (t *transactor[T]) Rollback(ctx context.Context) error {
	sess := t.repo.session.take()
	if sess == nil {
		return nil
	}
	defer sess.EndSession(ctx)
	return sess.AbortTransaction(ctx)
}

// Release has nothing to free: sessions end with their transaction.
func (t *transactor[T]) Release(context.Context) error {
	return nil
}

// Provider registers the mongo backend over database. Sessions must be
// *mongo.Client.
func Provider[T any](model sietch.Model[T], database string, opts ...sietch.Option) sietch.Provider[T] {
	return sietch.Provider[T]{
		Repository: func(session any) (sietch.Repository[T], error) {
			client, ok := session.(*mongodb.Client)
			if !ok {
				return nil, fmt.Errorf("mongo: unexpected session %T", session)
			}
			r, err := New(client.Database(database), model, opts...)
			if err != nil {
				return nil, err
			}
			return r, nil
		},
		UnitOfWork: func(repo sietch.Repository[T]) (sietch.UnitOfWork[T], error) {
			r, ok := repo.(*Repository[T])
			if !ok {
				return nil, fmt.Errorf("mongo: unexpected repository %T", repo)
			}
			return NewUnitOfWork(r), nil
		},
		Specs: Specs[T]{},
	}
}

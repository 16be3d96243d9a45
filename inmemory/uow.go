package inmemory

import (
	"context"
	"fmt"

	"github.com/seb7887/sietch"
	"github.com/seb7887/sietch/internal/fieldpath"
)

// snapshot implements sietch.Transactor with a private copy of the store.
// Begin copies the session; Commit writes the copy back and removes the
// entities deleted meanwhile; Rollback drops the copy.
type snapshot[T any] struct {
	repo *Repository[T]
	base map[string]struct{}
}

// NewUnitOfWork binds a unit of work to a fresh repository over the same
// session and model as repo.
func NewUnitOfWork[T any](repo *Repository[T]) *sietch.Unit[T] {
	bound := &Repository[T]{
		session:  repo.session,
		model:    repo.model,
		boundary: repo.boundary,
	}
	return sietch.NewUnitOfWork[T](bound, &snapshot[T]{repo: bound}, bound.boundary)
}

func (s *snapshot[T]) Begin(context.Context) error {
	s.repo.session.mu.RLock()
	defer s.repo.session.mu.RUnlock()

	work := make(map[string]*T, len(s.repo.session.items))
	s.base = make(map[string]struct{}, len(s.repo.session.items))
	for id, item := range s.repo.session.items {
		work[id] = fieldpath.DeepCopy(item)
		s.base[id] = struct{}{}
	}

	s.repo.workMu.Lock()
	s.repo.work = work
	s.repo.workMu.Unlock()
	return nil
}

func (s *snapshot[T]) Commit(context.Context) error {
	work := s.detach()

	s.repo.session.mu.Lock()
	defer s.repo.session.mu.Unlock()
	for id, item := range work {
		s.repo.session.items[id] = item
	}
	for id := range s.base {
		if _, ok := work[id]; !ok {
			delete(s.repo.session.items, id)
		}
	}
	s.base = nil
	return nil
}

func (s *snapshot[T]) Rollback(context.Context) error {
	s.detach()
	s.base = nil
	return nil
}

func (s *snapshot[T]) Release(ctx context.Context) error {
	return s.Rollback(ctx)
}

func (s *snapshot[T]) detach() map[string]*T {
	s.repo.workMu.Lock()
	defer s.repo.workMu.Unlock()
	work := s.repo.work
	s.repo.work = nil
	return work
}

// Provider registers the in-memory backend under a registry. Sessions must
// be *Session[T].
func Provider[T any](model sietch.Model[T], opts ...sietch.Option) sietch.Provider[T] {
	return sietch.Provider[T]{
		Repository: func(session any) (sietch.Repository[T], error) {
			s, ok := session.(*Session[T])
			if !ok {
				return nil, fmt.Errorf("inmemory: unexpected session %T", session)
			}
			r, err := New(s, model, opts...)
			if err != nil {
				return nil, err
			}
			return r, nil
		},
		UnitOfWork: func(repo sietch.Repository[T]) (sietch.UnitOfWork[T], error) {
			r, ok := repo.(*Repository[T])
			if !ok {
				return nil, fmt.Errorf("inmemory: unexpected repository %T", repo)
			}
			return NewUnitOfWork(r), nil
		},
		Specs: Specs[T]{},
	}
}

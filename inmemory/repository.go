// Package inmemory keeps entities in a process local map. It is the
// reference backend: every query is evaluated by reflection over the stored
// values.
package inmemory

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/seb7887/sietch"
	"github.com/seb7887/sietch/internal/fieldpath"
)

// Session is the shared store. Repositories over the same session see each
// other's committed writes.
type Session[T any] struct {
	mu    sync.RWMutex
	items map[string]*T
}

func NewSession[T any]() *Session[T] {
	return &Session[T]{items: make(map[string]*T)}
}

// Len returns the number of stored entities.
func (s *Session[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// ErrorWrapper classifies the failures of the in-memory backend.
func ErrorWrapper() *sietch.ErrorWrapper {
	return sietch.NewErrorWrapper([]sietch.ErrorMapping{
		sietch.MapMessage("unknown field", sietch.ErrInvalidQuery),
		sietch.MapMessage("cannot assign", sietch.ErrInvalidQuery),
		sietch.MapMessage("cannot address", sietch.ErrInvalidQuery),
		sietch.MapMessage("cannot set", sietch.ErrInvalidQuery),
	}, sietch.ErrDataLayer)
}

// Repository implements sietch.Repository over a Session. Stored values are
// copied on every read and write, so callers never share memory with the
// store.
type Repository[T any] struct {
	session  *Session[T]
	model    sietch.Model[T]
	specs    Specs[T]
	boundary sietch.Boundary

	// work is the private copy of a running unit of work.
	workMu sync.Mutex
	work   map[string]*T
}

// New creates a repository over session.
func New[T any](session *Session[T], model sietch.Model[T], opts ...sietch.Option) (*Repository[T], error) {
	if session == nil {
		return nil, errors.New("inmemory: session cannot be nil")
	}
	if err := model.Validate(); err != nil {
		return nil, err
	}
	return &Repository[T]{
		session:  session,
		model:    model,
		boundary: sietch.NewBoundary(model.Name, ErrorWrapper(), opts...),
	}, nil
}

func (r *Repository[T]) specContext() sietch.SpecContext {
	return sietch.SpecContext{Repository: r, Model: r.model.Info()}
}

// view runs fn over the visible store: the unit of work copy when one is
// active, else the session map.
func (r *Repository[T]) view(write bool, fn func(items map[string]*T) error) error {
	r.workMu.Lock()
	if r.work != nil {
		defer r.workMu.Unlock()
		return fn(r.work)
	}
	r.workMu.Unlock()

	if write {
		r.session.mu.Lock()
		defer r.session.mu.Unlock()
	} else {
		r.session.mu.RLock()
		defer r.session.mu.RUnlock()
	}
	return fn(r.session.items)
}

// ordered lists the stored entities by id so that queries without an
// explicit order are deterministic.
func ordered[T any](items map[string]*T) []*T {
	ids := make([]string, 0, len(items))
	for id := range items {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]*T, len(ids))
	for i, id := range ids {
		out[i] = items[id]
	}
	return out
}

func (r *Repository[T]) query(items map[string]*T, specs []sietch.Spec) ([]*T, error) {
	return sietch.Apply[[]*T](r.specs, ordered(items), r.specContext(), specs...)
}

func (r *Repository[T]) Get(ctx context.Context, specs ...sietch.Spec) (*T, error) {
	return sietch.Within(ctx, r.boundary, "get", func() (*T, error) {
		items, err := r.filter(specs)
		if err != nil {
			return nil, err
		}
		return sietch.ExactlyOne(r.boundary.Op("get"), items)
	})
}

func (r *Repository[T]) Filter(ctx context.Context, specs ...sietch.Spec) ([]T, error) {
	return sietch.Within(ctx, r.boundary, "filter", func() ([]T, error) {
		return r.filter(specs)
	})
}

func (r *Repository[T]) filter(specs []sietch.Spec) ([]T, error) {
	var out []T
	err := r.view(false, func(items map[string]*T) error {
		matched, err := r.query(items, specs)
		if err != nil {
			return err
		}
		out = make([]T, len(matched))
		for i, m := range matched {
			out[i] = *fieldpath.DeepCopy(m)
		}
		return nil
	})
	return out, err
}

func (r *Repository[T]) Save(ctx context.Context, item *T) (*T, error) {
	return sietch.Within(ctx, r.boundary, "save", func() (*T, error) {
		return r.save(item)
	})
}

func (r *Repository[T]) save(item *T) (*T, error) {
	if item == nil {
		return nil, sietch.Errorf(sietch.ErrInvalidQuery, r.boundary.Op("save"), "item cannot be nil")
	}
	id := r.model.EnsureID(item)
	err := r.view(true, func(items map[string]*T) error {
		items[id] = fieldpath.DeepCopy(item)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return fieldpath.DeepCopy(item), nil
}

func (r *Repository[T]) SaveFields(ctx context.Context, fields sietch.Fields) (*T, error) {
	return sietch.Within(ctx, r.boundary, "save_fields", func() (*T, error) {
		item, err := r.model.Decode(fields)
		if err != nil {
			return nil, err
		}
		return r.save(item)
	})
}

func (r *Repository[T]) Update(ctx context.Context, item *T) error {
	return r.boundary.Do(ctx, "update", func() error {
		id := r.model.GetID(item)
		return r.view(true, func(items map[string]*T) error {
			if _, ok := items[id]; !ok {
				return sietch.Errorf(sietch.ErrNotFound, r.boundary.Op("update"), "entity %q does not exist", id)
			}
			items[id] = fieldpath.DeepCopy(item)
			return nil
		})
	})
}

// UpdateWhere applies fields to copies of the matching entities first, so a
// failing assignment leaves the store untouched.
func (r *Repository[T]) UpdateWhere(ctx context.Context, fields sietch.Fields, specs ...sietch.Spec) error {
	return r.boundary.Do(ctx, "update_where", func() error {
		if err := r.model.CheckUpdate(r.boundary.Op("update_where"), fields); err != nil {
			return err
		}
		typ := r.model.Info().Type
		for path := range fields {
			if err := fieldpath.Check(typ, sietch.NormalizePath(path)); err != nil {
				return sietch.NewError(sietch.ErrInvalidQuery, r.boundary.Op("update_where"), err)
			}
		}
		return r.view(true, func(items map[string]*T) error {
			matched, err := r.query(items, specs)
			if err != nil {
				return err
			}
			updated := make(map[string]*T, len(matched))
			for _, m := range matched {
				id := r.model.GetID(m)
				stored, ok := items[id]
				if !ok {
					continue
				}
				c := fieldpath.DeepCopy(stored)
				for path, value := range fields {
					if err := fieldpath.Set(reflect.ValueOf(c).Elem(), sietch.NormalizePath(path), value); err != nil {
						return fmt.Errorf("update %s: %w", id, err)
					}
				}
				updated[id] = c
			}
			for id, c := range updated {
				items[id] = c
			}
			return nil
		})
	})
}

func (r *Repository[T]) Delete(ctx context.Context, item *T) error {
	return r.boundary.Do(ctx, "delete", func() error {
		id := r.model.GetID(item)
		return r.view(true, func(items map[string]*T) error {
			if _, ok := items[id]; !ok {
				return sietch.Errorf(sietch.ErrNotFound, r.boundary.Op("delete"), "entity %q does not exist", id)
			}
			delete(items, id)
			return nil
		})
	})
}

func (r *Repository[T]) DeleteWhere(ctx context.Context, specs ...sietch.Spec) error {
	return r.boundary.Do(ctx, "delete_where", func() error {
		return r.view(true, func(items map[string]*T) error {
			matched, err := r.query(items, specs)
			if err != nil {
				return err
			}
			for _, m := range matched {
				delete(items, r.model.GetID(m))
			}
			return nil
		})
	})
}

func (r *Repository[T]) Refresh(ctx context.Context, item *T) error {
	return r.boundary.Do(ctx, "refresh", func() error {
		return sietch.RefreshFrom[T](ctx, r, r.model, item)
	})
}

func (r *Repository[T]) IsModified(ctx context.Context, item *T) (bool, error) {
	return sietch.Within(ctx, r.boundary, "is_modified", func() (bool, error) {
		return sietch.ModifiedFrom[T](ctx, r, r.model, item)
	})
}

func (r *Repository[T]) Count(ctx context.Context, specs ...sietch.Spec) (int64, error) {
	return sietch.Within(ctx, r.boundary, "count", func() (int64, error) {
		var n int64
		err := r.view(false, func(items map[string]*T) error {
			if len(specs) == 0 {
				n = int64(len(items))
				return nil
			}
			matched, err := r.query(items, specs)
			n = int64(len(matched))
			return err
		})
		return n, err
	})
}

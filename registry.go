package sietch

import (
	"fmt"
	"sort"
	"sync"
)

// PatternKind selects one of the constructors of a provider.
type PatternKind string

const (
	PatternRepository       PatternKind = "repository"
	PatternUnitOfWork       PatternKind = "uow"
	PatternSpecificationSet PatternKind = "specs"
)

// Provider bundles the constructors of one backend.
type Provider[T any] struct {
	// Repository opens a repository over a backend session.
	Repository func(session any) (Repository[T], error)
	// UnitOfWork binds a unit to a repository created by Repository.
	UnitOfWork func(repo Repository[T]) (UnitOfWork[T], error)
	// Specs is the backend SpecificationSet, typed by its query state.
	Specs any
}

// Registry maps provider names to their constructors.
type Registry[T any] struct {
	mu        sync.RWMutex
	providers map[string]Provider[T]
}

func NewRegistry[T any]() *Registry[T] {
	return &Registry[T]{providers: make(map[string]Provider[T])}
}

// Register adds or replaces a provider.
func (r *Registry[T]) Register(name string, p Provider[T]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[name] = p
}

func (r *Registry[T]) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.providers, name)
}

// Names lists registered providers in lexical order.
func (r *Registry[T]) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for n := range r.providers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Resolve returns the constructor of kind registered under name.
func (r *Registry[T]) Resolve(name string, kind PatternKind) (any, error) {
	r.mu.RLock()
	p, ok := r.providers[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrProviderNotFound, name)
	}

	var out any
	switch kind {
	case PatternRepository:
		if p.Repository != nil {
			out = p.Repository
		}
	case PatternUnitOfWork:
		if p.UnitOfWork != nil {
			out = p.UnitOfWork
		}
	case PatternSpecificationSet:
		out = p.Specs
	}
	if out == nil {
		return nil, fmt.Errorf("%w: %q has no %s", ErrPatternNotFound, name, kind)
	}
	return out, nil
}

// CreateRepository opens the repository of provider name over session.
func (r *Registry[T]) CreateRepository(name string, session any) (Repository[T], error) {
	fn, err := r.Resolve(name, PatternRepository)
	if err != nil {
		return nil, err
	}
	return fn.(func(any) (Repository[T], error))(session)
}

// CreateUnitOfWork opens a repository of provider name over session and
// binds a unit of work to it.
func (r *Registry[T]) CreateUnitOfWork(name string, session any) (UnitOfWork[T], error) {
	fn, err := r.Resolve(name, PatternUnitOfWork)
	if err != nil {
		return nil, err
	}
	repo, err := r.CreateRepository(name, session)
	if err != nil {
		return nil, err
	}
	return fn.(func(Repository[T]) (UnitOfWork[T], error))(repo)
}

// SpecsFor returns the SpecificationSet of provider name for query state Q.
func SpecsFor[Q, T any](r *Registry[T], name string) (SpecificationSet[Q], error) {
	v, err := r.Resolve(name, PatternSpecificationSet)
	if err != nil {
		return nil, err
	}
	set, ok := v.(SpecificationSet[Q])
	if !ok {
		return nil, fmt.Errorf("%w: %q specs are %T", ErrPatternNotFound, name, v)
	}
	return set, nil
}

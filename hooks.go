package sietch

import (
	"context"
	"time"
)

// Hook defines lifecycle callbacks for repository operations
// Implementations can intercept and react to repository events
type Hook[T any] interface {
	// BeforeSave is called before saving an entity
	// Return error to abort the operation
	BeforeSave(ctx context.Context, item *T) error

	// AfterSave is called after successfully saving an entity
	// Errors are logged but don't affect the operation result
	AfterSave(ctx context.Context, item *T) error

	// BeforeUpdate is called before updating an entity
	// Return error to abort the operation
	BeforeUpdate(ctx context.Context, item *T) error

	// AfterUpdate is called after successfully updating an entity
	AfterUpdate(ctx context.Context, item *T) error

	// BeforeDelete is called before deleting an entity
	// Return error to abort the operation
	BeforeDelete(ctx context.Context, item *T) error

	// AfterDelete is called after successfully deleting an entity
	AfterDelete(ctx context.Context, item *T) error

	// BeforeQuery is called before any spec driven operation
	// Return error to abort the operation
	BeforeQuery(ctx context.Context, specs []Spec) error

	// AfterQuery is called after successfully executing a query
	AfterQuery(ctx context.Context, results []T) error
}

// BaseHook provides a default implementation of Hook interface
// Embed this in custom hooks to only implement needed methods
type BaseHook[T any] struct{}

func (h *BaseHook[T]) BeforeSave(ctx context.Context, item *T) error       { return nil }
func (h *BaseHook[T]) AfterSave(ctx context.Context, item *T) error        { return nil }
func (h *BaseHook[T]) BeforeUpdate(ctx context.Context, item *T) error     { return nil }
func (h *BaseHook[T]) AfterUpdate(ctx context.Context, item *T) error      { return nil }
func (h *BaseHook[T]) BeforeDelete(ctx context.Context, item *T) error     { return nil }
func (h *BaseHook[T]) AfterDelete(ctx context.Context, item *T) error      { return nil }
func (h *BaseHook[T]) BeforeQuery(ctx context.Context, specs []Spec) error { return nil }
func (h *BaseHook[T]) AfterQuery(ctx context.Context, results []T) error   { return nil }

// HookRegistry manages a collection of hooks
type HookRegistry[T any] struct {
	hooks []Hook[T]
}

// NewHookRegistry creates a new hook registry
func NewHookRegistry[T any](hooks ...Hook[T]) *HookRegistry[T] {
	return &HookRegistry[T]{hooks: hooks}
}

// AddHook registers a new hook
func (r *HookRegistry[T]) AddHook(hook Hook[T]) {
	r.hooks = append(r.hooks, hook)
}

// RemoveAllHooks clears all registered hooks
func (r *HookRegistry[T]) RemoveAllHooks() {
	r.hooks = nil
}

// before stops at the first failing hook.
func (r *HookRegistry[T]) before(fn func(Hook[T]) error) error {
	for _, hook := range r.hooks {
		if err := fn(hook); err != nil {
			return err
		}
	}
	return nil
}

// after runs every hook and returns the first error.
func (r *HookRegistry[T]) after(fn func(Hook[T]) error) error {
	var firstErr error
	for _, hook := range r.hooks {
		if err := fn(hook); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// HookedRepository runs registered hooks around another repository.
// Before hooks abort the call with a taxonomy error, ErrInvalidQuery unless
// the hook already returned one; after hook failures are logged only.
type HookedRepository[T any] struct {
	inner    Repository[T]
	hooks    *HookRegistry[T]
	boundary Boundary
}

// NewHookedRepository decorates inner, which stores model, with hooks.
func NewHookedRepository[T any](inner Repository[T], model Model[T], hooks *HookRegistry[T], opts ...Option) *HookedRepository[T] {
	if hooks == nil {
		hooks = NewHookRegistry[T]()
	}
	return &HookedRepository[T]{
		inner:    inner,
		hooks:    hooks,
		boundary: NewBoundary(model.Name, NewErrorWrapper(nil, ErrInvalidQuery), opts...),
	}
}

// Hooks exposes the registry so hooks can be added after construction.
func (r *HookedRepository[T]) Hooks() *HookRegistry[T] {
	return r.hooks
}

func (r *HookedRepository[T]) before(ctx context.Context, op string, fn func(Hook[T]) error) error {
	start := time.Now()
	err := r.hooks.before(fn)
	if err == nil {
		return nil
	}
	err = r.boundary.Wrapper.Wrap(r.boundary.Op("before_"+op), err)
	logOperation(r.boundary.Logger, ctx, "before_"+op, r.boundary.Entity, start, err)
	return err
}

func (r *HookedRepository[T]) reportAfter(ctx context.Context, op string, err error) {
	if err != nil {
		logOperation(r.boundary.Logger, ctx, "after_"+op, r.boundary.Entity, time.Now(), err)
	}
}

func (r *HookedRepository[T]) query(ctx context.Context, specs []Spec) error {
	return r.before(ctx, "query", func(h Hook[T]) error { return h.BeforeQuery(ctx, specs) })
}

func (r *HookedRepository[T]) Get(ctx context.Context, specs ...Spec) (*T, error) {
	if err := r.query(ctx, specs); err != nil {
		return nil, err
	}
	item, err := r.inner.Get(ctx, specs...)
	if err != nil {
		return nil, err
	}
	r.reportAfter(ctx, "query", r.hooks.after(func(h Hook[T]) error { return h.AfterQuery(ctx, []T{*item}) }))
	return item, nil
}

func (r *HookedRepository[T]) Filter(ctx context.Context, specs ...Spec) ([]T, error) {
	if err := r.query(ctx, specs); err != nil {
		return nil, err
	}
	items, err := r.inner.Filter(ctx, specs...)
	if err != nil {
		return nil, err
	}
	r.reportAfter(ctx, "query", r.hooks.after(func(h Hook[T]) error { return h.AfterQuery(ctx, items) }))
	return items, nil
}

func (r *HookedRepository[T]) Save(ctx context.Context, item *T) (*T, error) {
	if err := r.before(ctx, "save", func(h Hook[T]) error { return h.BeforeSave(ctx, item) }); err != nil {
		return nil, err
	}
	saved, err := r.inner.Save(ctx, item)
	if err != nil {
		return nil, err
	}
	r.reportAfter(ctx, "save", r.hooks.after(func(h Hook[T]) error { return h.AfterSave(ctx, saved) }))
	return saved, nil
}

// SaveFields decodes through the inner repository, so only after hooks see
// the entity.
func (r *HookedRepository[T]) SaveFields(ctx context.Context, fields Fields) (*T, error) {
	saved, err := r.inner.SaveFields(ctx, fields)
	if err != nil {
		return nil, err
	}
	r.reportAfter(ctx, "save", r.hooks.after(func(h Hook[T]) error { return h.AfterSave(ctx, saved) }))
	return saved, nil
}

func (r *HookedRepository[T]) Update(ctx context.Context, item *T) error {
	if err := r.before(ctx, "update", func(h Hook[T]) error { return h.BeforeUpdate(ctx, item) }); err != nil {
		return err
	}
	if err := r.inner.Update(ctx, item); err != nil {
		return err
	}
	r.reportAfter(ctx, "update", r.hooks.after(func(h Hook[T]) error { return h.AfterUpdate(ctx, item) }))
	return nil
}

func (r *HookedRepository[T]) UpdateWhere(ctx context.Context, fields Fields, specs ...Spec) error {
	if err := r.query(ctx, specs); err != nil {
		return err
	}
	return r.inner.UpdateWhere(ctx, fields, specs...)
}

func (r *HookedRepository[T]) Delete(ctx context.Context, item *T) error {
	if err := r.before(ctx, "delete", func(h Hook[T]) error { return h.BeforeDelete(ctx, item) }); err != nil {
		return err
	}
	if err := r.inner.Delete(ctx, item); err != nil {
		return err
	}
	r.reportAfter(ctx, "delete", r.hooks.after(func(h Hook[T]) error { return h.AfterDelete(ctx, item) }))
	return nil
}

func (r *HookedRepository[T]) DeleteWhere(ctx context.Context, specs ...Spec) error {
	if err := r.query(ctx, specs); err != nil {
		return err
	}
	return r.inner.DeleteWhere(ctx, specs...)
}

func (r *HookedRepository[T]) Refresh(ctx context.Context, item *T) error {
	return r.inner.Refresh(ctx, item)
}

func (r *HookedRepository[T]) IsModified(ctx context.Context, item *T) (bool, error) {
	return r.inner.IsModified(ctx, item)
}

func (r *HookedRepository[T]) Count(ctx context.Context, specs ...Spec) (int64, error) {
	if err := r.query(ctx, specs); err != nil {
		return 0, err
	}
	return r.inner.Count(ctx, specs...)
}

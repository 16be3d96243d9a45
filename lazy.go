package sietch

import (
	"context"
	"iter"
	"reflect"
	"sync"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

// LazyCommand defers a repository call until its result is needed. The call
// runs at most once; the value and the error are both memoised.
type LazyCommand[V any] struct {
	name string
	fn   func() (V, error)

	once  sync.Once
	value V
	err   error
}

// NewLazyCommand captures fn under a display name.
func NewLazyCommand[V any](name string, fn func() (V, error)) *LazyCommand[V] {
	return &LazyCommand[V]{name: name, fn: fn}
}

// Get executes the command on first use and returns the memoised result.
func (c *LazyCommand[V]) Get() (V, error) {
	c.once.Do(func() {
		c.value, c.err = c.fn()
	})
	return c.value, c.err
}

// Err realises the command and returns its error.
func (c *LazyCommand[V]) Err() error {
	_, err := c.Get()
	return err
}

// Bool realises the command and reports whether the result is non-empty:
// a collection with elements or any non-zero value.
func (c *LazyCommand[V]) Bool() (bool, error) {
	v, err := c.Get()
	if err != nil {
		return false, err
	}
	rv := reflect.ValueOf(v)
	if !rv.IsValid() {
		return false, nil
	}
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array, reflect.String, reflect.Chan:
		return rv.Len() > 0, nil
	}
	return !rv.IsZero(), nil
}

// Iter realises the command and yields the elements of a collection result.
// A non-collection result, or a failed command, yields nothing; check Err.
func (c *LazyCommand[V]) Iter() iter.Seq[any] {
	return func(yield func(any) bool) {
		v, err := c.Get()
		if err != nil {
			return
		}
		rv := reflect.ValueOf(v)
		if !rv.IsValid() {
			return
		}
		switch rv.Kind() {
		case reflect.Slice, reflect.Array:
			for i := 0; i < rv.Len(); i++ {
				if !yield(rv.Index(i).Interface()) {
					return
				}
			}
		}
	}
}

// Equal realises the command and compares its value to other.
func (c *LazyCommand[V]) Equal(other V) bool {
	v, err := c.Get()
	if err != nil {
		return false
	}
	return cmp.Equal(v, other, cmpopts.EquateEmpty())
}

func (c *LazyCommand[V]) String() string {
	return "Lazy<" + c.name + ">"
}

// LazyFilter defers repo.Filter.
func LazyFilter[T any](ctx context.Context, repo Repository[T], specs ...Spec) *LazyCommand[[]T] {
	return NewLazyCommand("filter", func() ([]T, error) {
		return repo.Filter(ctx, specs...)
	})
}

// LazyGet defers repo.Get.
func LazyGet[T any](ctx context.Context, repo Repository[T], specs ...Spec) *LazyCommand[*T] {
	return NewLazyCommand("get", func() (*T, error) {
		return repo.Get(ctx, specs...)
	})
}

// LazyCount defers repo.Count.
func LazyCount[T any](ctx context.Context, repo Repository[T], specs ...Spec) *LazyCommand[int64] {
	return NewLazyCommand("count", func() (int64, error) {
		return repo.Count(ctx, specs...)
	})
}

// Elements yields the entities of a deferred filter.
func Elements[T any](c *LazyCommand[[]T]) iter.Seq2[int, T] {
	return func(yield func(int, T) bool) {
		items, err := c.Get()
		if err != nil {
			return
		}
		for i, item := range items {
			if !yield(i, item) {
				return
			}
		}
	}
}

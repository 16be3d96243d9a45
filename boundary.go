package sietch

import (
	"context"
	"time"
)

// Options configure a repository.
type Options struct {
	Logger  QueryLogger
	Wrapper *ErrorWrapper
}

// Option mutates Options.
type Option func(*Options)

// WithLogger sets the logger that receives operation and query events.
func WithLogger(logger QueryLogger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

// WithErrorWrapper replaces the backend's default error wrapper.
func WithErrorWrapper(w *ErrorWrapper) Option {
	return func(o *Options) {
		o.Wrapper = w
	}
}

// NewOptions applies opts over the defaults: a no-op logger and
// DefaultErrorWrapper.
func NewOptions(opts ...Option) Options {
	var o Options
	for _, opt := range opts {
		opt(&o)
	}
	if o.Logger == nil {
		o.Logger = NewNoOpLogger()
	}
	if o.Wrapper == nil {
		o.Wrapper = DefaultErrorWrapper()
	}
	return o
}

// Boundary is the scope every repository operation runs in: errors leaving
// it are translated and every call is timed and logged.
type Boundary struct {
	Entity  string
	Wrapper *ErrorWrapper
	Logger  QueryLogger
}

// NewBoundary builds a boundary for entity. backend is the wrapper used
// unless opts supply one.
func NewBoundary(entity string, backend *ErrorWrapper, opts ...Option) Boundary {
	o := Options{Wrapper: backend}
	for _, opt := range opts {
		opt(&o)
	}
	o = NewOptions(WithLogger(o.Logger), WithErrorWrapper(o.Wrapper))
	return Boundary{Entity: entity, Wrapper: o.Wrapper, Logger: o.Logger}
}

// Op names an operation on the boundary's entity.
func (b Boundary) Op(name string) string {
	return b.Entity + "." + name
}

// Do runs fn inside the boundary. fn is not called once ctx is done.
func (b Boundary) Do(ctx context.Context, name string, fn func() error) error {
	start := time.Now()
	err := ctx.Err()
	if err == nil {
		err = fn()
	}
	err = b.Wrapper.Wrap(b.Op(name), err)
	logOperation(b.Logger, ctx, name, b.Entity, start, err)
	return err
}

// Query logs a native statement executed by the backend.
func (b Boundary) Query(ctx context.Context, name, query string, args []any, start time.Time, err error) {
	logQuery(b.Logger, ctx, b.Op(name), query, args, start, err)
}

// Within executes fn inside b and keeps its value.
func Within[V any](ctx context.Context, b Boundary, name string, fn func() (V, error)) (V, error) {
	var v V
	err := b.Do(ctx, name, func() error {
		var err error
		v, err = fn()
		return err
	})
	return v, err
}

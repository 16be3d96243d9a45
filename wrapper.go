package sietch

import (
	"context"
	"errors"
	"strings"

	pkgerrors "github.com/pkg/errors"
)

// ErrorMapping translates a class of native errors into a taxonomy kind.
type ErrorMapping struct {
	Match func(error) bool
	Kind  error
}

// Map matches errors for which errors.Is(err, target) holds.
func Map(target error, kind error) ErrorMapping {
	return ErrorMapping{
		Match: func(err error) bool { return errors.Is(err, target) },
		Kind:  kind,
	}
}

// MapType matches errors for which errors.As finds an E in the chain.
func MapType[E error](kind error) ErrorMapping {
	return ErrorMapping{
		Match: func(err error) bool {
			var target E
			return errors.As(err, &target)
		},
		Kind: kind,
	}
}

// MapMessage matches errors whose message contains substr.
func MapMessage(substr string, kind error) ErrorMapping {
	return ErrorMapping{
		Match: func(err error) bool { return strings.Contains(err.Error(), substr) },
		Kind:  kind,
	}
}

// MapFunc matches errors accepted by fn.
func MapFunc(fn func(error) bool, kind error) ErrorMapping {
	return ErrorMapping{Match: fn, Kind: kind}
}

// ErrorWrapper normalises native errors into the taxonomy. Mappings are
// tried in order; the first match wins. Errors that match nothing get the
// fallback kind. Skipped errors pass through untouched.
type ErrorWrapper struct {
	mappings []ErrorMapping
	fallback error
	skipped  []error
}

// NewErrorWrapper creates a wrapper. A nil fallback means ErrDataLayer.
func NewErrorWrapper(mappings []ErrorMapping, fallback error, skipped ...error) *ErrorWrapper {
	if fallback == nil {
		fallback = ErrDataLayer
	}
	return &ErrorWrapper{
		mappings: append([]ErrorMapping(nil), mappings...),
		fallback: fallback,
		skipped:  append([]error(nil), skipped...),
	}
}

// DefaultErrorWrapper maps nothing and reports every native error as
// ErrDataLayer.
func DefaultErrorWrapper() *ErrorWrapper {
	return NewErrorWrapper(nil, ErrDataLayer)
}

// With returns a copy of w with extra mappings tried after the existing ones.
func (w *ErrorWrapper) With(mappings ...ErrorMapping) *ErrorWrapper {
	out := NewErrorWrapper(w.mappings, w.fallback, w.skipped...)
	out.mappings = append(out.mappings, mappings...)
	return out
}

// Wrap translates err for the operation op. nil stays nil.
func (w *ErrorWrapper) Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if w.skip(err) {
		return err
	}

	var te *Error
	if errors.As(err, &te) {
		return err
	}
	// bare taxonomy sentinels keep their own kind
	if kind := KindOf(err); kind != nil {
		return &Error{Kind: kind, Op: op, Err: pkgerrors.WithStack(err)}
	}

	kind := w.fallback
	for _, m := range w.mappings {
		if m.Match != nil && m.Match(err) {
			kind = m.Kind
			break
		}
	}
	return &Error{Kind: kind, Op: op, Err: pkgerrors.WithStack(err)}
}

// Do runs fn and translates its error.
func (w *ErrorWrapper) Do(op string, fn func() error) error {
	return w.Wrap(op, fn())
}

// Decorate returns fn with its errors translated.
func (w *ErrorWrapper) Decorate(op string, fn func(ctx context.Context) error) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		return w.Wrap(op, fn(ctx))
	}
}

func (w *ErrorWrapper) skip(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	for _, s := range w.skipped {
		if errors.Is(err, s) {
			return true
		}
	}
	return false
}

// Call runs fn and translates its error, keeping the returned value.
func Call[V any](w *ErrorWrapper, op string, fn func() (V, error)) (V, error) {
	v, err := fn()
	if err != nil {
		return v, w.Wrap(op, err)
	}
	return v, nil
}

package sietch

import (
	"errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// ErrDataLayer is the root of the error taxonomy. Every error produced by a
// repository or unit of work satisfies errors.Is(err, ErrDataLayer).
var ErrDataLayer = errors.New("sietch: data layer error")

var (
	ErrNotFound        error = &kindError{"sietch: not found"}
	ErrInvalidQuery    error = &kindError{"sietch: invalid query"}
	ErrMultipleResults error = &kindError{"sietch: multiple results"}
	ErrParsing         error = &kindError{"sietch: parsing error"}
)

// Configuration errors, raised by the provider registry. They are not part of
// the data layer taxonomy.
var (
	ErrProviderNotFound = errors.New("sietch: provider not found")
	ErrPatternNotFound  = errors.New("sietch: pattern not found")
)

var kinds = []error{ErrNotFound, ErrInvalidQuery, ErrMultipleResults, ErrParsing}

type kindError struct {
	msg string
}

func (k *kindError) Error() string { return k.msg }

func (k *kindError) Is(target error) bool { return target == ErrDataLayer }

// Error is the taxonomy error returned at every repository boundary.
type Error struct {
	// Kind is one of ErrDataLayer, ErrNotFound, ErrInvalidQuery,
	// ErrMultipleResults or ErrParsing.
	Kind error
	// Op is the operation that failed, e.g. "accounts.get".
	Op string
	// Err is the original cause, if any.
	Err error
}

// NewError builds a taxonomy error of the given kind.
func NewError(kind error, op string, cause error) *Error {
	if kind == nil {
		kind = ErrDataLayer
	}
	return &Error{Kind: kind, Op: op, Err: cause}
}

// Errorf builds a taxonomy error whose cause is a formatted message.
func Errorf(kind error, op string, format string, args ...any) *Error {
	return NewError(kind, op, fmt.Errorf(format, args...))
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Cause returns the innermost native error that triggered e.
func (e *Error) Cause() error {
	if e.Err == nil {
		return nil
	}
	return pkgerrors.Cause(e.Err)
}

// KindOf reports the taxonomy kind of err, or nil when err is outside the
// taxonomy.
func KindOf(err error) error {
	if err == nil {
		return nil
	}
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	if errors.Is(err, ErrDataLayer) {
		return ErrDataLayer
	}
	return nil
}

// KindName is a short label for the taxonomy kind of err, suitable for
// metrics and structured logs.
func KindName(err error) string {
	switch KindOf(err) {
	case nil:
		if err == nil {
			return "none"
		}
		return "other"
	case ErrNotFound:
		return "not_found"
	case ErrInvalidQuery:
		return "invalid_query"
	case ErrMultipleResults:
		return "multiple_results"
	case ErrParsing:
		return "parsing"
	default:
		return "data_layer"
	}
}

package inmemory

import (
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"

	"github.com/seb7887/sietch"
	"github.com/seb7887/sietch/internal/fieldpath"
)

// Specs lowers specifications onto a list of entity pointers. It is also
// used by backends that load entities before evaluating the query.
type Specs[T any] struct{}

func entityType(sc sietch.SpecContext, fallback reflect.Type) reflect.Type {
	if sc.Model.Type != nil {
		return sc.Model.Type
	}
	return fallback
}

func typeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

func invalid(format string, args ...any) error {
	return sietch.Errorf(sietch.ErrInvalidQuery, "", format, args...)
}

func (Specs[T]) Filter(f *sietch.Filter) sietch.Specification[[]*T] {
	return sietch.SpecFunc[[]*T](func(items []*T, sc sietch.SpecContext) ([]*T, error) {
		match, err := Compile[T](f, entityType(sc, typeOf[T]()))
		if err != nil {
			return nil, err
		}
		out := make([]*T, 0, len(items))
		for _, item := range items {
			if match(item) {
				out = append(out, item)
			}
		}
		return out, nil
	})
}

func (Specs[T]) Order(o sietch.OrderSpec) sietch.Specification[[]*T] {
	return sietch.SpecFunc[[]*T](func(items []*T, sc sietch.SpecContext) ([]*T, error) {
		typ := entityType(sc, typeOf[T]())
		for _, k := range o.Keys {
			if err := fieldpath.Check(typ, k.Field); err != nil {
				return nil, invalid("order: %v", err)
			}
		}
		out := append([]*T(nil), items...)
		sort.SliceStable(out, func(i, j int) bool {
			a, b := reflect.ValueOf(out[i]), reflect.ValueOf(out[j])
			for _, k := range o.Keys {
				c, ok := fieldpath.Compare(fieldpath.First(a, k.Field), fieldpath.First(b, k.Field))
				if !ok || c == 0 {
					continue
				}
				if k.Desc {
					return c > 0
				}
				return c < 0
			}
			return false
		})
		return out, nil
	})
}

func (Specs[T]) Paginate(p sietch.PaginateSpec) sietch.Specification[[]*T] {
	return sietch.SpecFunc[[]*T](func(items []*T, _ sietch.SpecContext) ([]*T, error) {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if p.Offset != nil {
			if *p.Offset >= len(items) {
				return []*T{}, nil
			}
			items = items[*p.Offset:]
		}
		if p.Limit != nil && *p.Limit < len(items) {
			items = items[:*p.Limit]
		}
		return items, nil
	})
}

// Join is a no-op: related entities are embedded in the stored value.
func (Specs[T]) Join(sietch.JoinSpec) sietch.Specification[[]*T] {
	return sietch.SpecFunc[[]*T](func(items []*T, _ sietch.SpecContext) ([]*T, error) {
		return items, nil
	})
}

// Only replaces each entity with a copy holding the listed fields and the id.
func (Specs[T]) Only(o sietch.OnlySpec) sietch.Specification[[]*T] {
	return sietch.SpecFunc[[]*T](func(items []*T, sc sietch.SpecContext) ([]*T, error) {
		typ := entityType(sc, typeOf[T]())
		paths := o.Fields
		if id := sc.Model.IDField; id != "" {
			paths = append([]string{id}, paths...)
		}
		for _, p := range paths {
			if err := fieldpath.Check(typ, p); err != nil {
				return nil, invalid("only: %v", err)
			}
		}
		out := make([]*T, len(items))
		for i, item := range items {
			projected := new(T)
			for _, p := range paths {
				fieldpath.Copy(reflect.ValueOf(projected).Elem(), reflect.ValueOf(item).Elem(), p)
			}
			out[i] = projected
		}
		return out, nil
	})
}

// Predicate reports whether an entity matches a filter.
type Predicate[T any] func(*T) bool

// Compile turns f into a predicate over T. Unknown fields, invalid patterns
// and unsupported operators are reported before any entity is evaluated.
func Compile[T any](f *sietch.Filter, typ reflect.Type) (Predicate[T], error) {
	return sietch.Fold(f, sietch.FilterVisitor[Predicate[T]]{
		Leaf: func(conds []sietch.Condition) (Predicate[T], error) {
			matchers := make([]matcher, len(conds))
			for i, c := range conds {
				m, err := compileCondition(c, typ)
				if err != nil {
					return nil, err
				}
				matchers[i] = m
			}
			return func(item *T) bool {
				v := reflect.ValueOf(item)
				for _, m := range matchers {
					if !m(v) {
						return false
					}
				}
				return true
			}, nil
		},
		And: func(l, r Predicate[T]) (Predicate[T], error) {
			return func(item *T) bool { return l(item) && r(item) }, nil
		},
		Or: func(l, r Predicate[T]) (Predicate[T], error) {
			return func(item *T) bool { return l(item) || r(item) }, nil
		},
		// comparisons against a nil field are false, so their negation
		// matches it
		Not: func(inner Predicate[T]) (Predicate[T], error) {
			return func(item *T) bool { return !inner(item) }, nil
		},
	})
}

type matcher func(v reflect.Value) bool

func compileCondition(c sietch.Condition, typ reflect.Type) (matcher, error) {
	if err := fieldpath.Check(typ, c.Field); err != nil {
		return nil, invalid("filter: %v", err)
	}
	test, err := compileOperator(c)
	if err != nil {
		return nil, err
	}
	// a list valued query compares against whole collections
	expand := !isList(c.Value)
	return func(v reflect.Value) bool {
		for _, fv := range fieldpath.Values(v, c.Field, expand) {
			if test(fieldpath.Interface(fv)) {
				return true
			}
		}
		return false
	}, nil
}

func isList(v any) bool {
	if v == nil {
		return false
	}
	k := reflect.TypeOf(v).Kind()
	return k == reflect.Slice || k == reflect.Array
}

func compileOperator(c sietch.Condition) (func(any) bool, error) {
	want := c.Value
	switch c.Operator {
	case sietch.OpEq:
		return func(got any) bool { return fieldpath.Equal(got, want) }, nil
	case sietch.OpNot:
		return func(got any) bool { return !fieldpath.Equal(got, want) }, nil
	case sietch.OpIs:
		return func(got any) bool { return fieldpath.Equal(got, want) }, nil
	case sietch.OpGt, sietch.OpGte, sietch.OpLt, sietch.OpLte:
		op := c.Operator
		return func(got any) bool {
			if got == nil || want == nil {
				return false
			}
			cmp, ok := fieldpath.Compare(got, want)
			if !ok {
				return false
			}
			switch op {
			case sietch.OpGt:
				return cmp > 0
			case sietch.OpGte:
				return cmp >= 0
			case sietch.OpLt:
				return cmp < 0
			}
			return cmp <= 0
		}, nil
	case sietch.OpLike, sietch.OpRegex:
		pattern, ok := want.(string)
		if !ok {
			return nil, invalid("%s on %s expects a string pattern, got %T", c.Operator, c.Field, want)
		}
		if c.Operator == sietch.OpLike {
			pattern = LikePattern(pattern)
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, invalid("%s on %s: %v", c.Operator, c.Field, err)
		}
		return func(got any) bool {
			if got == nil {
				return false
			}
			s, ok := got.(string)
			if !ok {
				s = fmt.Sprint(got)
			}
			return re.MatchString(s)
		}, nil
	}
	return nil, invalid("unsupported operator %q on %s", c.Operator, c.Field)
}

// LikePattern translates a SQL LIKE pattern into an anchored regular
// expression: % matches any run of characters and _ exactly one.
func LikePattern(like string) string {
	var b strings.Builder
	b.WriteString("(?s)^")
	for _, r := range like {
		switch r {
		case '%':
			b.WriteString(".*")
		case '_':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return b.String()
}

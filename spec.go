package sietch

import (
	"fmt"
	"reflect"
	"strings"
)

// Spec is a backend-agnostic query fragment: a *Filter, OrderSpec,
// PaginateSpec, JoinSpec, OnlySpec or a Native fragment.
type Spec interface {
	fmt.Stringer
	spec()
}

// ModelInfo describes the entity a repository operates on.
type ModelInfo struct {
	Name    string
	IDField string
	Type    reflect.Type
}

// SpecContext is handed to every specification when it is applied.
type SpecContext struct {
	Repository any
	Model      ModelInfo
}

// Specification transforms a backend query state Q.
type Specification[Q any] interface {
	Apply(q Q, sc SpecContext) (Q, error)
}

// SpecFunc adapts a function to Specification.
type SpecFunc[Q any] func(q Q, sc SpecContext) (Q, error)

func (f SpecFunc[Q]) Apply(q Q, sc SpecContext) (Q, error) {
	return f(q, sc)
}

// SpecificationSet is the per-backend lowering of each Spec kind.
type SpecificationSet[Q any] interface {
	Filter(f *Filter) Specification[Q]
	Order(o OrderSpec) Specification[Q]
	Paginate(p PaginateSpec) Specification[Q]
	Join(j JoinSpec) Specification[Q]
	Only(o OnlySpec) Specification[Q]
}

// Lower resolves s against set.
func Lower[Q any](set SpecificationSet[Q], s Spec) (Specification[Q], error) {
	switch v := s.(type) {
	case *Filter:
		return set.Filter(v), nil
	case OrderSpec:
		return set.Order(v), nil
	case PaginateSpec:
		return set.Paginate(v), nil
	case JoinSpec:
		return set.Join(v), nil
	case OnlySpec:
		return set.Only(v), nil
	case Native[Q]:
		return v.Fn, nil
	case nil:
		return nil, Errorf(ErrInvalidQuery, "", "nil specification")
	}
	return nil, Errorf(ErrInvalidQuery, "", "specification %s is not supported by this backend", s)
}

// Apply lowers specs and threads q through them in argument order.
func Apply[Q any](set SpecificationSet[Q], q Q, sc SpecContext, specs ...Spec) (Q, error) {
	for _, s := range specs {
		spec, err := Lower(set, s)
		if err != nil {
			return q, err
		}
		if q, err = spec.Apply(q, sc); err != nil {
			return q, err
		}
	}
	return q, nil
}

// OrderKey is a single sort key.
type OrderKey struct {
	Field string
	Desc  bool
}

// OrderSpec sorts by its keys; earlier keys take precedence.
type OrderSpec struct {
	Keys []OrderKey
}

// Order builds an OrderSpec. A leading "-" sorts that field descending.
func Order(fields ...string) OrderSpec {
	keys := make([]OrderKey, 0, len(fields))
	for _, f := range fields {
		k := OrderKey{Field: f}
		if strings.HasPrefix(f, "-") {
			k = OrderKey{Field: f[1:], Desc: true}
		}
		k.Field = NormalizePath(k.Field)
		keys = append(keys, k)
	}
	return OrderSpec{Keys: keys}
}

func (o OrderSpec) String() string {
	parts := make([]string, len(o.Keys))
	for i, k := range o.Keys {
		parts[i] = k.Field
		if k.Desc {
			parts[i] = "-" + k.Field
		}
	}
	return "order(" + strings.Join(parts, ", ") + ")"
}

func (OrderSpec) spec() {}

// PaginateSpec skips Offset entities and keeps at most Limit. Nil fields
// leave the corresponding bound open.
type PaginateSpec struct {
	Limit  *int
	Offset *int
}

func Limit(n int) PaginateSpec {
	return PaginateSpec{Limit: &n}
}

func Offset(n int) PaginateSpec {
	return PaginateSpec{Offset: &n}
}

// Paginate sets both bounds.
func Paginate(limit, offset int) PaginateSpec {
	return PaginateSpec{Limit: &limit, Offset: &offset}
}

// Validate rejects negative bounds.
func (p PaginateSpec) Validate() error {
	if p.Limit != nil && *p.Limit < 0 {
		return Errorf(ErrInvalidQuery, "", "negative limit %d", *p.Limit)
	}
	if p.Offset != nil && *p.Offset < 0 {
		return Errorf(ErrInvalidQuery, "", "negative offset %d", *p.Offset)
	}
	return nil
}

func (p PaginateSpec) String() string {
	s := "paginate("
	if p.Limit != nil {
		s += fmt.Sprintf("limit=%d", *p.Limit)
	}
	if p.Offset != nil {
		if p.Limit != nil {
			s += ", "
		}
		s += fmt.Sprintf("offset=%d", *p.Offset)
	}
	return s + ")"
}

func (PaginateSpec) spec() {}

// JoinTarget names a relationship to load. Args are backend specific.
type JoinTarget struct {
	Name string
	Args map[string]any
}

// JoinSpec loads related entities.
type JoinSpec struct {
	Targets []JoinTarget
}

func Join(names ...string) JoinSpec {
	targets := make([]JoinTarget, len(names))
	for i, n := range names {
		targets[i] = JoinTarget{Name: n}
	}
	return JoinSpec{Targets: targets}
}

// JoinWith loads a single relationship with backend arguments.
func JoinWith(name string, args map[string]any) JoinSpec {
	return JoinSpec{Targets: []JoinTarget{{Name: name, Args: args}}}
}

// Arg returns a string argument of t, or def when absent.
func (t JoinTarget) Arg(key, def string) string {
	if v, ok := t.Args[key].(string); ok && v != "" {
		return v
	}
	return def
}

// Flag reports whether a boolean argument of t is set.
func (t JoinTarget) Flag(key string) bool {
	v, _ := t.Args[key].(bool)
	return v
}

func (j JoinSpec) String() string {
	names := make([]string, len(j.Targets))
	for i, t := range j.Targets {
		names[i] = t.Name
	}
	return "join(" + strings.Join(names, ", ") + ")"
}

func (JoinSpec) spec() {}

// OnlySpec restricts the fields loaded into returned entities.
type OnlySpec struct {
	Fields []string
}

func Only(fields ...string) OnlySpec {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = NormalizePath(f)
	}
	return OnlySpec{Fields: out}
}

func (o OnlySpec) String() string {
	return "only(" + strings.Join(o.Fields, ", ") + ")"
}

func (OnlySpec) spec() {}

// Native carries a fragment written against one backend's query state.
// Backends with a different query state reject it with ErrInvalidQuery.
type Native[Q any] struct {
	Name string
	Fn   SpecFunc[Q]
}

// NativeSpec wraps fn as a Spec.
func NativeSpec[Q any](name string, fn func(q Q, sc SpecContext) (Q, error)) Native[Q] {
	return Native[Q]{Name: name, Fn: fn}
}

func (n Native[Q]) String() string {
	return "native(" + n.Name + ")"
}

func (Native[Q]) spec() {}

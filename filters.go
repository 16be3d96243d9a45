package sietch

import (
	"fmt"
	"sort"
	"strings"
)

// Operator is a comparison applied by a Condition.
type Operator string

const (
	OpEq    Operator = "eq"
	OpGt    Operator = "gt"
	OpGte   Operator = "gte"
	OpLt    Operator = "lt"
	OpLte   Operator = "lte"
	OpNot   Operator = "not"
	OpIs    Operator = "is"
	OpLike  Operator = "like"
	OpRegex Operator = "regex"
)

// Valid reports whether o is a known operator.
func (o Operator) Valid() bool {
	switch o {
	case OpEq, OpGt, OpGte, OpLt, OpLte, OpNot, OpIs, OpLike, OpRegex:
		return true
	}
	return false
}

// PathSeparator joins the segments of a field path.
const PathSeparator = "."

// lookupSeparator is accepted in raw filter keys in place of PathSeparator.
const lookupSeparator = "__"

// Condition represents a condition to filter queries
type Condition struct {
	Field    string
	Operator Operator
	Value    any
}

// Path returns the field path segments of c.
func (c Condition) Path() []string {
	return SplitPath(c.Field)
}

func (c Condition) String() string {
	return fmt.Sprintf("%s %s %v", c.Field, c.Operator, c.Value)
}

// SplitPath splits a field path on "." and "__".
func SplitPath(path string) []string {
	return strings.Split(NormalizePath(path), PathSeparator)
}

// NormalizePath rewrites "__" separators to ".".
func NormalizePath(path string) string {
	return strings.ReplaceAll(path, lookupSeparator, PathSeparator)
}

// ParseCondition parses a raw key like "balance__gt" or "owner__name__like".
// A trailing segment naming a known operator selects it; otherwise the
// operator is OpEq and the whole key is the field path.
func ParseCondition(raw string, value any) Condition {
	parts := strings.Split(raw, lookupSeparator)
	op := OpEq
	if len(parts) > 1 {
		if last := Operator(parts[len(parts)-1]); last.Valid() {
			op = last
			parts = parts[:len(parts)-1]
		}
	}
	return Condition{
		Field:    NormalizePath(strings.Join(parts, PathSeparator)),
		Operator: op,
		Value:    value,
	}
}

// FilterKind is the node type of a filter expression tree.
type FilterKind int

const (
	FilterLeaf FilterKind = iota
	FilterAnd
	FilterOr
	FilterNot
)

// Filter is an immutable boolean expression over entity fields. A leaf holds
// a conjunction of conditions; inner nodes combine other filters. A leaf with
// no conditions matches everything.
type Filter struct {
	kind       FilterKind
	conditions []Condition
	left       *Filter
	right      *Filter
}

// NewFilter builds a leaf from conditions.
func NewFilter(conds ...Condition) *Filter {
	return &Filter{kind: FilterLeaf, conditions: append([]Condition(nil), conds...)}
}

// Where builds a single-condition filter from a raw key, see ParseCondition.
func Where(raw string, value any) *Filter {
	return NewFilter(ParseCondition(raw, value))
}

// Match builds a leaf from a map of raw keys. Keys are sorted so that the
// resulting filter is deterministic.
func Match(fields map[string]any) *Filter {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	conds := make([]Condition, 0, len(keys))
	for _, k := range keys {
		conds = append(conds, ParseCondition(k, fields[k]))
	}
	return NewFilter(conds...)
}

// And combines filters so that all must hold.
func And(filters ...*Filter) *Filter {
	var out *Filter
	for _, f := range filters {
		out = out.And(f)
	}
	if out == nil {
		return NewFilter()
	}
	return out
}

// Or combines filters so that at least one must hold.
func Or(filters ...*Filter) *Filter {
	var out *Filter
	for _, f := range filters {
		out = out.Or(f)
	}
	if out == nil {
		return NewFilter()
	}
	return out
}

// Not negates f.
func Not(f *Filter) *Filter {
	return f.Not()
}

func (f *Filter) And(other *Filter) *Filter {
	switch {
	case f == nil:
		return other
	case other == nil:
		return f
	}
	return &Filter{kind: FilterAnd, left: f, right: other}
}

func (f *Filter) Or(other *Filter) *Filter {
	switch {
	case f == nil:
		return other
	case other == nil:
		return f
	}
	return &Filter{kind: FilterOr, left: f, right: other}
}

// Not negates the whole expression f.
func (f *Filter) Not() *Filter {
	if f == nil {
		f = NewFilter()
	}
	return &Filter{kind: FilterNot, left: f}
}

// Kind returns the node type of f.
func (f *Filter) Kind() FilterKind {
	return f.kind
}

// Conditions returns a copy of the conditions of a leaf.
func (f *Filter) Conditions() []Condition {
	return append([]Condition(nil), f.conditions...)
}

// Children returns the operands of an inner node.
func (f *Filter) Children() []*Filter {
	switch f.kind {
	case FilterAnd, FilterOr:
		return []*Filter{f.left, f.right}
	case FilterNot:
		return []*Filter{f.left}
	}
	return nil
}

func (f *Filter) String() string {
	switch f.kind {
	case FilterAnd:
		return "(" + f.left.String() + " AND " + f.right.String() + ")"
	case FilterOr:
		return "(" + f.left.String() + " OR " + f.right.String() + ")"
	case FilterNot:
		return "NOT " + f.left.String()
	}
	parts := make([]string, len(f.conditions))
	for i, c := range f.conditions {
		parts[i] = c.String()
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func (*Filter) spec() {}

// FilterVisitor lowers a filter tree into a backend representation R.
type FilterVisitor[R any] struct {
	Leaf func(conds []Condition) (R, error)
	And  func(left, right R) (R, error)
	Or   func(left, right R) (R, error)
	Not  func(inner R) (R, error)
}

// Fold walks f bottom-up with v.
func Fold[R any](f *Filter, v FilterVisitor[R]) (R, error) {
	var zero R
	if f == nil {
		return v.Leaf(nil)
	}
	switch f.kind {
	case FilterLeaf:
		return v.Leaf(f.conditions)
	case FilterNot:
		inner, err := Fold(f.left, v)
		if err != nil {
			return zero, err
		}
		return v.Not(inner)
	case FilterAnd, FilterOr:
		left, err := Fold(f.left, v)
		if err != nil {
			return zero, err
		}
		right, err := Fold(f.right, v)
		if err != nil {
			return zero, err
		}
		if f.kind == FilterAnd {
			return v.And(left, right)
		}
		return v.Or(left, right)
	}
	return zero, fmt.Errorf("unknown filter kind %d", f.kind)
}

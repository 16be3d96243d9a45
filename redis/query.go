package redis

import (
	"strings"

	"github.com/seb7887/sietch"
)

// Query is the query state of the redis backend: a SCAN pattern selecting
// the candidate keys and the specifications evaluated over the decoded
// entities.
type Query struct {
	Pattern string
	Post    []sietch.Spec
}

func (q *Query) with(s sietch.Spec) *Query {
	return &Query{Pattern: q.Pattern, Post: append(append([]sietch.Spec(nil), q.Post...), s)}
}

// Specs lowers specifications onto a *Query. Everything but the key pattern
// is evaluated after loading, the way the in-memory backend does.
type Specs[T any] struct{}

// exactID returns the id a filter pins down, if it is a single equality on
// the id field.
func exactID(f *sietch.Filter, idField string) (string, bool) {
	if f == nil || f.Kind() != sietch.FilterLeaf || len(f.Conditions()) != 1 {
		return "", false
	}
	c := f.Conditions()[0]
	if c.Operator != sietch.OpEq || !strings.EqualFold(c.Field, idField) {
		return "", false
	}
	id, ok := c.Value.(string)
	return id, ok
}

var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

func (Specs[T]) Filter(f *sietch.Filter) sietch.Specification[*Query] {
	return sietch.SpecFunc[*Query](func(q *Query, sc sietch.SpecContext) (*Query, error) {
		out := q.with(f)
		if id, ok := exactID(f, sc.Model.IDField); ok && strings.HasSuffix(q.Pattern, ":*") {
			out.Pattern = strings.TrimSuffix(q.Pattern, "*") + globEscaper.Replace(id)
		}
		return out, nil
	})
}

func (Specs[T]) Order(o sietch.OrderSpec) sietch.Specification[*Query] {
	return sietch.SpecFunc[*Query](func(q *Query, _ sietch.SpecContext) (*Query, error) {
		return q.with(o), nil
	})
}

func (Specs[T]) Paginate(p sietch.PaginateSpec) sietch.Specification[*Query] {
	return sietch.SpecFunc[*Query](func(q *Query, _ sietch.SpecContext) (*Query, error) {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		return q.with(p), nil
	})
}

// Join is a no-op: values are self-contained documents.
func (Specs[T]) Join(sietch.JoinSpec) sietch.Specification[*Query] {
	return sietch.SpecFunc[*Query](func(q *Query, _ sietch.SpecContext) (*Query, error) {
		return q, nil
	})
}

func (Specs[T]) Only(o sietch.OnlySpec) sietch.Specification[*Query] {
	return sietch.SpecFunc[*Query](func(q *Query, _ sietch.SpecContext) (*Query, error) {
		return q.with(o), nil
	})
}

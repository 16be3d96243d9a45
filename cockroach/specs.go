package cockroach

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/seb7887/sietch"
)

// Specs lowers specifications onto a *SelectQuery.
type Specs[T any] struct{}

func invalid(format string, args ...any) error {
	return sietch.Errorf(sietch.ErrInvalidQuery, "", format, args...)
}

// resolve maps a field path to a qualified column. A single segment names a
// column of the queried table; two segments name a column of a joined table.
func resolve(q *SelectQuery, typ reflect.Type, path string) (string, error) {
	segs := sietch.SplitPath(path)
	switch len(segs) {
	case 1:
		col, ok := lookupColumn(typ, segs[0])
		if !ok {
			return "", invalid("unknown column %q in %s", segs[0], q.Table)
		}
		return column(q.Table, col), nil
	case 2:
		for _, s := range segs {
			if err := sanitizeIdentifier(s); err != nil {
				return "", invalid("field %q: %v", path, err)
			}
		}
		return column(segs[0], segs[1]), nil
	}
	return "", invalid("field %q is nested too deep for a relational query", path)
}

func (Specs[T]) Filter(f *sietch.Filter) sietch.Specification[*SelectQuery] {
	return sietch.SpecFunc[*SelectQuery](func(q *SelectQuery, sc sietch.SpecContext) (*SelectQuery, error) {
		where, err := lowerFilter(q, sc.Model.Type, f)
		if err != nil {
			return nil, err
		}
		out := q.clone()
		out.Where = append(out.Where, where)
		return out, nil
	})
}

func lowerFilter(q *SelectQuery, typ reflect.Type, f *sietch.Filter) (fragment, error) {
	return sietch.Fold(f, sietch.FilterVisitor[fragment]{
		Leaf: func(conds []sietch.Condition) (fragment, error) {
			if len(conds) == 0 {
				return fragment{sql: "TRUE"}, nil
			}
			parts := make([]string, 0, len(conds))
			var args []any
			for _, c := range conds {
				col, err := resolve(q, typ, c.Field)
				if err != nil {
					return fragment{}, err
				}
				frag, err := condition(col, c)
				if err != nil {
					return fragment{}, err
				}
				parts = append(parts, frag.sql)
				args = append(args, frag.args...)
			}
			if len(parts) == 1 {
				return fragment{sql: parts[0], args: args}, nil
			}
			return fragment{sql: "(" + strings.Join(parts, " AND ") + ")", args: args}, nil
		},
		And: func(l, r fragment) (fragment, error) {
			return fragment{sql: "(" + l.sql + " AND " + r.sql + ")", args: append(append([]any(nil), l.args...), r.args...)}, nil
		},
		Or: func(l, r fragment) (fragment, error) {
			return fragment{sql: "(" + l.sql + " OR " + r.sql + ")", args: append(append([]any(nil), l.args...), r.args...)}, nil
		},
		Not: func(in fragment) (fragment, error) {
			return fragment{sql: "NOT (" + in.sql + ")", args: in.args}, nil
		},
	})
}

func condition(col string, c sietch.Condition) (fragment, error) {
	v := c.Value
	switch c.Operator {
	case sietch.OpEq:
		if v == nil {
			return fragment{sql: col + " IS NULL"}, nil
		}
		return fragment{sql: col + " = ?", args: []any{v}}, nil
	case sietch.OpNot:
		if v == nil {
			return fragment{sql: col + " IS NOT NULL"}, nil
		}
		return fragment{sql: col + " IS DISTINCT FROM ?", args: []any{v}}, nil
	case sietch.OpIs:
		switch b := v.(type) {
		case nil:
			return fragment{sql: col + " IS NULL"}, nil
		case bool:
			if b {
				return fragment{sql: col + " IS TRUE"}, nil
			}
			return fragment{sql: col + " IS FALSE"}, nil
		}
		return fragment{sql: col + " = ?", args: []any{v}}, nil
	case sietch.OpGt:
		return fragment{sql: col + " > ?", args: []any{v}}, nil
	case sietch.OpGte:
		return fragment{sql: col + " >= ?", args: []any{v}}, nil
	case sietch.OpLt:
		return fragment{sql: col + " < ?", args: []any{v}}, nil
	case sietch.OpLte:
		return fragment{sql: col + " <= ?", args: []any{v}}, nil
	case sietch.OpLike, sietch.OpRegex:
		if _, ok := v.(string); !ok {
			return fragment{}, invalid("%s on %s expects a string pattern, got %T", c.Operator, c.Field, v)
		}
		if c.Operator == sietch.OpLike {
			return fragment{sql: col + " LIKE ?", args: []any{v}}, nil
		}
		return fragment{sql: col + " ~ ?", args: []any{v}}, nil
	}
	return fragment{}, invalid("unsupported operator %q on %s", c.Operator, c.Field)
}

func (Specs[T]) Order(o sietch.OrderSpec) sietch.Specification[*SelectQuery] {
	return sietch.SpecFunc[*SelectQuery](func(q *SelectQuery, sc sietch.SpecContext) (*SelectQuery, error) {
		out := q.clone()
		for _, k := range o.Keys {
			col, err := resolve(q, sc.Model.Type, k.Field)
			if err != nil {
				return nil, err
			}
			dir := " ASC"
			if k.Desc {
				dir = " DESC"
			}
			out.OrderBy = append(out.OrderBy, col+dir)
		}
		return out, nil
	})
}

func (Specs[T]) Paginate(p sietch.PaginateSpec) sietch.Specification[*SelectQuery] {
	return sietch.SpecFunc[*SelectQuery](func(q *SelectQuery, _ sietch.SpecContext) (*SelectQuery, error) {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		out := q.clone()
		if p.Limit != nil {
			limit := *p.Limit
			out.Limit = &limit
		}
		if p.Offset != nil {
			offset := *p.Offset
			out.Offset = &offset
		}
		return out, nil
	})
}

var joinTypes = map[string]string{
	"left":  "LEFT JOIN",
	"inner": "INNER JOIN",
	"right": "RIGHT JOIN",
	"full":  "FULL JOIN",
}

// Join adds a join per target. Args: "table" (defaults to the target name,
// which is also the alias), "on" (local column, defaults to <name>_id),
// "ref" (remote column, defaults to id) and "type" (left, inner, right or
// full; defaults to left).
func (Specs[T]) Join(j sietch.JoinSpec) sietch.Specification[*SelectQuery] {
	return sietch.SpecFunc[*SelectQuery](func(q *SelectQuery, _ sietch.SpecContext) (*SelectQuery, error) {
		out := q.clone()
		for _, t := range j.Targets {
			table := t.Arg("table", t.Name)
			on := t.Arg("on", t.Name+"_id")
			ref := t.Arg("ref", "id")
			for _, id := range []string{t.Name, table, on, ref} {
				if err := sanitizeIdentifier(id); err != nil {
					return nil, invalid("join %s: %v", t.Name, err)
				}
			}
			kind, ok := joinTypes[strings.ToLower(t.Arg("type", "left"))]
			if !ok {
				return nil, invalid("join %s: unsupported type %q", t.Name, t.Arg("type", ""))
			}
			out.Joins = append(out.Joins, fmt.Sprintf("%s %s AS %s ON %s = %s",
				kind, quoteIdentifier(table), quoteIdentifier(t.Name),
				column(t.Name, ref), column(q.Table, on)))
		}
		return out, nil
	})
}

// Only narrows the selected columns. The id column is always selected.
func (Specs[T]) Only(o sietch.OnlySpec) sietch.Specification[*SelectQuery] {
	return sietch.SpecFunc[*SelectQuery](func(q *SelectQuery, sc sietch.SpecContext) (*SelectQuery, error) {
		id, ok := lookupColumn(sc.Model.Type, sc.Model.IDField)
		if !ok {
			return nil, invalid("unknown id column %q", sc.Model.IDField)
		}
		cols := []string{id}
		for _, f := range o.Fields {
			col, ok := lookupColumn(sc.Model.Type, f)
			if !ok {
				return nil, invalid("only: unknown column %q in %s", f, q.Table)
			}
			if col != id {
				cols = append(cols, col)
			}
		}
		out := q.clone()
		out.Columns = cols
		return out, nil
	})
}

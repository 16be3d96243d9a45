package gormsql

import (
	"fmt"
	"strings"
	"sync"

	"github.com/seb7887/sietch"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/schema"
)

// Specs lowers specifications onto a *gorm.DB statement.
type Specs[T any] struct{}

var schemaCache sync.Map

func schemaOf[T any](db *gorm.DB) (*schema.Schema, error) {
	return schema.Parse(new(T), &schemaCache, db.NamingStrategy)
}

func invalid(format string, args ...any) error {
	return sietch.Errorf(sietch.ErrInvalidQuery, "", format, args...)
}

func validIdentifier(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		if !((r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_') {
			return false
		}
	}
	return true
}

// lookupField finds the db column of a field reference: the column name, the
// Go field name, or the Go field name in any case.
func lookupField(sch *schema.Schema, name string) (string, bool) {
	if f := sch.LookUpField(name); f != nil && f.DBName != "" {
		return f.DBName, true
	}
	for _, f := range sch.Fields {
		if f.DBName != "" && strings.EqualFold(f.Name, name) {
			return f.DBName, true
		}
	}
	return "", false
}

// resolve maps a field path to a column. One segment is a column of the
// queried table, two segments a column of a joined table.
func resolve[T any](db *gorm.DB, path string) (clause.Column, error) {
	segs := sietch.SplitPath(path)
	switch len(segs) {
	case 1:
		sch, err := schemaOf[T](db)
		if err != nil {
			return clause.Column{}, err
		}
		col, ok := lookupField(sch, segs[0])
		if !ok {
			return clause.Column{}, invalid("unknown field %q in %s", segs[0], sch.Name)
		}
		return clause.Column{Table: clause.CurrentTable, Name: col}, nil
	case 2:
		if !validIdentifier(segs[0]) || !validIdentifier(segs[1]) {
			return clause.Column{}, invalid("invalid field %q", path)
		}
		return clause.Column{Table: segs[0], Name: segs[1]}, nil
	}
	return clause.Column{}, invalid("field %q is nested too deep for a relational query", path)
}

// group renders its expressions joined by op, in parentheses.
type group struct {
	op    string
	exprs []clause.Expression
}

func (g group) Build(b clause.Builder) {
	b.WriteByte('(')
	for i, e := range g.exprs {
		if i > 0 {
			b.WriteString(" " + g.op + " ")
		}
		e.Build(b)
	}
	b.WriteByte(')')
}

type negate struct {
	expr clause.Expression
}

func (n negate) Build(b clause.Builder) {
	b.WriteString("NOT (")
	n.expr.Build(b)
	b.WriteByte(')')
}

func isPostgres(db *gorm.DB) bool {
	return db.Dialector != nil && db.Dialector.Name() == "postgres"
}

func (Specs[T]) Filter(f *sietch.Filter) sietch.Specification[*gorm.DB] {
	return sietch.SpecFunc[*gorm.DB](func(q *gorm.DB, _ sietch.SpecContext) (*gorm.DB, error) {
		expr, err := sietch.Fold(f, sietch.FilterVisitor[clause.Expression]{
			Leaf: func(conds []sietch.Condition) (clause.Expression, error) {
				if len(conds) == 0 {
					return clause.Expr{SQL: "1 = 1"}, nil
				}
				exprs := make([]clause.Expression, 0, len(conds))
				for _, c := range conds {
					col, err := resolve[T](q, c.Field)
					if err != nil {
						return nil, err
					}
					e, err := condition(q, col, c)
					if err != nil {
						return nil, err
					}
					exprs = append(exprs, e)
				}
				if len(exprs) == 1 {
					return exprs[0], nil
				}
				return group{op: "AND", exprs: exprs}, nil
			},
			And: func(l, r clause.Expression) (clause.Expression, error) {
				return group{op: "AND", exprs: []clause.Expression{l, r}}, nil
			},
			Or: func(l, r clause.Expression) (clause.Expression, error) {
				return group{op: "OR", exprs: []clause.Expression{l, r}}, nil
			},
			Not: func(in clause.Expression) (clause.Expression, error) {
				return negate{expr: in}, nil
			},
		})
		if err != nil {
			return nil, err
		}
		return q.Where(expr), nil
	})
}

func condition(q *gorm.DB, col clause.Column, c sietch.Condition) (clause.Expression, error) {
	v := c.Value
	switch c.Operator {
	case sietch.OpEq:
		return clause.Eq{Column: col, Value: v}, nil
	case sietch.OpNot:
		if v == nil {
			return clause.Neq{Column: col, Value: nil}, nil
		}
		if isPostgres(q) {
			return clause.Expr{SQL: "? IS DISTINCT FROM ?", Vars: []any{col, v}}, nil
		}
		return clause.Expr{SQL: "? IS NOT ?", Vars: []any{col, v}}, nil
	case sietch.OpIs:
		switch b := v.(type) {
		case nil:
			return clause.Eq{Column: col, Value: nil}, nil
		case bool:
			if b {
				return clause.Expr{SQL: "? IS TRUE", Vars: []any{col}}, nil
			}
			return clause.Expr{SQL: "? IS FALSE", Vars: []any{col}}, nil
		}
		return clause.Eq{Column: col, Value: v}, nil
	case sietch.OpGt:
		return clause.Gt{Column: col, Value: v}, nil
	case sietch.OpGte:
		return clause.Gte{Column: col, Value: v}, nil
	case sietch.OpLt:
		return clause.Lt{Column: col, Value: v}, nil
	case sietch.OpLte:
		return clause.Lte{Column: col, Value: v}, nil
	case sietch.OpLike, sietch.OpRegex:
		if _, ok := v.(string); !ok {
			return nil, invalid("%s on %s expects a string pattern, got %T", c.Operator, c.Field, v)
		}
		if c.Operator == sietch.OpLike {
			return clause.Like{Column: col, Value: v}, nil
		}
		if isPostgres(q) {
			return clause.Expr{SQL: "? ~ ?", Vars: []any{col, v}}, nil
		}
		return clause.Expr{SQL: "? REGEXP ?", Vars: []any{col, v}}, nil
	}
	return nil, invalid("unsupported operator %q on %s", c.Operator, c.Field)
}

func (Specs[T]) Order(o sietch.OrderSpec) sietch.Specification[*gorm.DB] {
	return sietch.SpecFunc[*gorm.DB](func(q *gorm.DB, _ sietch.SpecContext) (*gorm.DB, error) {
		for _, k := range o.Keys {
			col, err := resolve[T](q, k.Field)
			if err != nil {
				return nil, err
			}
			q = q.Order(clause.OrderByColumn{Column: col, Desc: k.Desc})
		}
		return q, nil
	})
}

func (Specs[T]) Paginate(p sietch.PaginateSpec) sietch.Specification[*gorm.DB] {
	return sietch.SpecFunc[*gorm.DB](func(q *gorm.DB, _ sietch.SpecContext) (*gorm.DB, error) {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if p.Offset != nil {
			q = q.Offset(*p.Offset)
		}
		if p.Limit != nil {
			q = q.Limit(*p.Limit)
		}
		return q, nil
	})
}

// Join loads related data per target. With the "preload" flag the target is
// an association preloaded by gorm. With an "on" argument it is a raw join
// on the table named by "table" (defaults to the target name), aliased as
// the target, matching its "ref" column (defaults to id); "type" selects
// LEFT (default), INNER, RIGHT or FULL. Otherwise the target names an
// association joined by gorm.
func (Specs[T]) Join(j sietch.JoinSpec) sietch.Specification[*gorm.DB] {
	return sietch.SpecFunc[*gorm.DB](func(q *gorm.DB, _ sietch.SpecContext) (*gorm.DB, error) {
		for _, t := range j.Targets {
			switch {
			case t.Flag("preload"):
				q = q.Preload(t.Name)
			case t.Arg("on", "") != "":
				table, on, ref := t.Arg("table", t.Name), t.Arg("on", ""), t.Arg("ref", "id")
				for _, id := range []string{t.Name, table, on, ref} {
					if !validIdentifier(id) {
						return nil, invalid("join %s: invalid identifier %q", t.Name, id)
					}
				}
				kind := strings.ToUpper(t.Arg("type", "left"))
				switch kind {
				case "LEFT", "INNER", "RIGHT", "FULL":
				default:
					return nil, invalid("join %s: unsupported type %q", t.Name, kind)
				}
				q = q.Joins(fmt.Sprintf("%s JOIN %s AS %s ON %s = %s",
					kind,
					q.Statement.Quote(table),
					q.Statement.Quote(t.Name),
					q.Statement.Quote(t.Name+"."+ref),
					q.Statement.Quote(clause.Column{Table: clause.CurrentTable, Name: on}),
				))
			default:
				q = q.Joins(t.Name)
			}
		}
		return q, nil
	})
}

// Only selects the listed columns and the id.
func (Specs[T]) Only(o sietch.OnlySpec) sietch.Specification[*gorm.DB] {
	return sietch.SpecFunc[*gorm.DB](func(q *gorm.DB, sc sietch.SpecContext) (*gorm.DB, error) {
		sch, err := schemaOf[T](q)
		if err != nil {
			return nil, err
		}
		id, ok := lookupField(sch, sc.Model.IDField)
		if !ok {
			return nil, invalid("unknown id field %q", sc.Model.IDField)
		}
		cols := []string{id}
		for _, f := range o.Fields {
			col, ok := lookupField(sch, f)
			if !ok {
				return nil, invalid("only: unknown field %q in %s", f, sch.Name)
			}
			if col != id {
				cols = append(cols, col)
			}
		}
		return q.Select(cols), nil
	})
}

package cockroach

import (
	"fmt"
	"strconv"
	"strings"
)

// fragment is a piece of SQL with "?" placeholders and their arguments.
type fragment struct {
	sql  string
	args []any
}

// SelectQuery is the query state of the cockroach backend. Specifications
// add clauses to it; SQL renders the final statement.
type SelectQuery struct {
	Table   string
	Columns []string
	Joins   []string
	Where   []fragment
	OrderBy []string
	Limit   *int
	Offset  *int
}

func newSelectQuery(table string, columns []string) *SelectQuery {
	return &SelectQuery{Table: table, Columns: append([]string(nil), columns...)}
}

func (q *SelectQuery) clone() *SelectQuery {
	c := *q
	c.Columns = append([]string(nil), q.Columns...)
	c.Joins = append([]string(nil), q.Joins...)
	c.Where = append([]fragment(nil), q.Where...)
	c.OrderBy = append([]string(nil), q.OrderBy...)
	return &c
}

func (q *SelectQuery) render(selection string) fragment {
	var b strings.Builder
	var args []any

	b.WriteString("SELECT ")
	b.WriteString(selection)
	b.WriteString(" FROM ")
	b.WriteString(quoteIdentifier(q.Table))
	for _, j := range q.Joins {
		b.WriteString(" ")
		b.WriteString(j)
	}
	if len(q.Where) > 0 {
		b.WriteString(" WHERE ")
		for i, w := range q.Where {
			if i > 0 {
				b.WriteString(" AND ")
			}
			b.WriteString(w.sql)
			args = append(args, w.args...)
		}
	}
	if len(q.OrderBy) > 0 {
		b.WriteString(" ORDER BY ")
		b.WriteString(strings.Join(q.OrderBy, ", "))
	}
	if q.Limit != nil {
		b.WriteString(" LIMIT ?")
		args = append(args, *q.Limit)
	}
	if q.Offset != nil {
		b.WriteString(" OFFSET ?")
		args = append(args, *q.Offset)
	}
	return fragment{sql: b.String(), args: args}
}

func (q *SelectQuery) selectFragment() fragment {
	cols := make([]string, len(q.Columns))
	for i, c := range q.Columns {
		cols[i] = column(q.Table, c)
	}
	return q.render(strings.Join(cols, ", "))
}

// SQL renders the statement with numbered placeholders.
func (q *SelectQuery) SQL() (string, []any) {
	f := q.selectFragment()
	return numbered(f.sql), f.args
}

// CountSQL renders a statement counting the rows q selects.
func (q *SelectQuery) CountSQL() (string, []any) {
	f := q.selectFragment()
	return numbered("SELECT count(*) FROM (" + f.sql + ") AS sub"), f.args
}

// idFragment selects the ids of the rows q matches, for use in a subquery.
func (q *SelectQuery) idFragment(idColumn string) fragment {
	return q.render(column(q.Table, idColumn))
}

// numbered rewrites "?" placeholders to $1, $2...
func numbered(sql string) string {
	var b strings.Builder
	n := 0
	for _, r := range sql {
		if r == '?' {
			n++
			b.WriteString("$")
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func sanitizeIdentifier(name string) error {
	if name == "" {
		return fmt.Errorf("identifier cannot be empty")
	}
	for _, r := range name {
		if !((r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '_') {
			return fmt.Errorf("invalid character in identifier: %c", r)
		}
	}
	return nil
}

func quoteIdentifier(name string) string {
	return `"` + name + `"`
}

func column(table, name string) string {
	return quoteIdentifier(table) + "." + quoteIdentifier(name)
}

func joinQuotedColumns(columns []string) string {
	quoted := make([]string, len(columns))
	for i, col := range columns {
		quoted[i] = quoteIdentifier(col)
	}
	return strings.Join(quoted, ", ")
}

func buildPlaceholders(n int) string {
	placeholders := make([]string, n)
	for i := 0; i < n; i++ {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	return strings.Join(placeholders, ", ")
}

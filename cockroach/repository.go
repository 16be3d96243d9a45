// Package cockroach implements the repository protocol over CockroachDB (or
// any PostgreSQL compatible server) with pgx. Entities map to tables through
// their db struct tags.
package cockroach

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/seb7887/sietch"
)

// Queryable abstracts both pgxpool.Pool and pgx.Tx.
type Queryable interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	return pgxpool.New(ctx, dsn)
}

// sqlState matches server errors whose SQLSTATE starts with one of classes.
func sqlState(classes ...string) func(error) bool {
	return func(err error) bool {
		var pgErr *pgconn.PgError
		if !errors.As(err, &pgErr) {
			return false
		}
		for _, c := range classes {
			if strings.HasPrefix(pgErr.Code, c) {
				return true
			}
		}
		return false
	}
}

// ErrorWrapper classifies pgx and server errors. Integrity violations (class
// 23) and syntax or access errors (class 42) are invalid queries; data
// exceptions (class 22) and scan failures are parsing errors.
func ErrorWrapper() *sietch.ErrorWrapper {
	return sietch.NewErrorWrapper([]sietch.ErrorMapping{
		sietch.Map(pgx.ErrNoRows, sietch.ErrNotFound),
		sietch.MapFunc(sqlState("23", "42"), sietch.ErrInvalidQuery),
		sietch.MapFunc(sqlState("22"), sietch.ErrParsing),
		sietch.MapType[pgx.ScanArgError](sietch.ErrParsing),
		sietch.MapMessage("can't scan", sietch.ErrParsing),
	}, sietch.ErrDataLayer)
}

// Repository implements sietch.Repository over a table.
type Repository[T any] struct {
	pool     *pgxpool.Pool
	model    sietch.Model[T]
	table    string
	columns  []columnField
	specs    Specs[T]
	boundary sietch.Boundary

	txMu sync.Mutex
	tx   pgx.Tx
}

// New creates a repository over the table named by model.Name.
func New[T any](pool *pgxpool.Pool, model sietch.Model[T], opts ...sietch.Option) (*Repository[T], error) {
	if pool == nil {
		return nil, fmt.Errorf("pool cannot be nil")
	}
	if err := model.Validate(); err != nil {
		return nil, err
	}
	if err := sanitizeIdentifier(model.Name); err != nil {
		return nil, fmt.Errorf("invalid table name: %w", err)
	}
	columns, err := columnsOf(model.Info().Type)
	if err != nil {
		return nil, err
	}
	if _, ok := lookupColumn(model.Info().Type, model.Key()); !ok {
		return nil, fmt.Errorf("id field %q has no column", model.Key())
	}
	return &Repository[T]{
		pool:     pool,
		model:    model,
		table:    model.Name,
		columns:  columns,
		boundary: sietch.NewBoundary(model.Name, ErrorWrapper(), opts...),
	}, nil
}

// conn returns the running transaction, or the pool outside a unit of work.
func (r *Repository[T]) conn() Queryable {
	r.txMu.Lock()
	defer r.txMu.Unlock()
	if r.tx != nil {
		return r.tx
	}
	return r.pool
}

func (r *Repository[T]) idColumn() string {
	col, _ := lookupColumn(r.model.Info().Type, r.model.Key())
	return col
}

// Select lowers specs onto a query over the repository table.
func (r *Repository[T]) Select(specs ...sietch.Spec) (*SelectQuery, error) {
	q := newSelectQuery(r.table, columnNames(r.columns))
	return sietch.Apply[*SelectQuery](r.specs, q, sietch.SpecContext{Repository: r, Model: r.model.Info()}, specs...)
}

func (r *Repository[T]) exec(ctx context.Context, op, sql string, args ...any) (pgconn.CommandTag, error) {
	start := time.Now()
	tag, err := r.conn().Exec(ctx, sql, args...)
	r.boundary.Query(ctx, op, sql, args, start, err)
	return tag, err
}

func (r *Repository[T]) query(ctx context.Context, op string, q *SelectQuery) ([]T, error) {
	sql, args := q.SQL()
	start := time.Now()
	rows, err := r.conn().Query(ctx, sql, args...)
	if err != nil {
		r.boundary.Query(ctx, op, sql, args, start, err)
		return nil, err
	}
	defer rows.Close()

	results := []T{}
	for rows.Next() {
		var item T
		dests, err := getScanDestinations(r.columns, q.Columns, &item)
		if err != nil {
			return nil, err
		}
		if err := rows.Scan(dests...); err != nil {
			return nil, err
		}
		results = append(results, item)
	}
	err = rows.Err()
	r.boundary.Query(ctx, op, sql, args, start, err)
	return results, err
}

func (r *Repository[T]) Get(ctx context.Context, specs ...sietch.Spec) (*T, error) {
	return sietch.Within(ctx, r.boundary, "get", func() (*T, error) {
		q, err := r.Select(specs...)
		if err != nil {
			return nil, err
		}
		items, err := r.query(ctx, "get", q)
		if err != nil {
			return nil, err
		}
		return sietch.ExactlyOne(r.boundary.Op("get"), items)
	})
}

func (r *Repository[T]) Filter(ctx context.Context, specs ...sietch.Spec) ([]T, error) {
	return sietch.Within(ctx, r.boundary, "filter", func() ([]T, error) {
		q, err := r.Select(specs...)
		if err != nil {
			return nil, err
		}
		return r.query(ctx, "filter", q)
	})
}

// upsertSQL inserts a row or replaces every non-id column of an existing one.
func (r *Repository[T]) upsertSQL() string {
	id := r.idColumn()
	names := columnNames(r.columns)
	var set []string
	for _, c := range names {
		if c != id {
			set = append(set, fmt.Sprintf("%s = excluded.%s", quoteIdentifier(c), quoteIdentifier(c)))
		}
	}
	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s)",
		quoteIdentifier(r.table),
		joinQuotedColumns(names),
		buildPlaceholders(len(names)),
		quoteIdentifier(id),
	)
	if len(set) == 0 {
		return sql + " DO NOTHING"
	}
	return sql + " DO UPDATE SET " + strings.Join(set, ", ")
}

func (r *Repository[T]) save(ctx context.Context, item *T) (*T, error) {
	if item == nil {
		return nil, sietch.Errorf(sietch.ErrInvalidQuery, r.boundary.Op("save"), "item cannot be nil")
	}
	r.model.EnsureID(item)
	if _, err := r.exec(ctx, "save", r.upsertSQL(), getValues(r.columns, item)...); err != nil {
		return nil, err
	}
	saved := *item
	return &saved, nil
}

func (r *Repository[T]) Save(ctx context.Context, item *T) (*T, error) {
	return sietch.Within(ctx, r.boundary, "save", func() (*T, error) {
		return r.save(ctx, item)
	})
}

func (r *Repository[T]) SaveFields(ctx context.Context, fields sietch.Fields) (*T, error) {
	return sietch.Within(ctx, r.boundary, "save_fields", func() (*T, error) {
		item, err := r.model.Decode(fields)
		if err != nil {
			return nil, err
		}
		return r.save(ctx, item)
	})
}

func (r *Repository[T]) updateSQL() string {
	id := r.idColumn()
	var set []string
	n := 0
	for _, c := range r.columns {
		if c.name == id {
			continue
		}
		n++
		set = append(set, fmt.Sprintf("%s = $%d", quoteIdentifier(c.name), n))
	}
	return fmt.Sprintf("UPDATE %s SET %s WHERE %s = $%d",
		quoteIdentifier(r.table),
		strings.Join(set, ", "),
		quoteIdentifier(id),
		n+1,
	)
}

func (r *Repository[T]) Update(ctx context.Context, item *T) error {
	return r.boundary.Do(ctx, "update", func() error {
		id := r.idColumn()
		values := getValues(r.columns, item)
		var args []any
		for i, c := range r.columns {
			if c.name != id {
				args = append(args, values[i])
			}
		}
		args = append(args, r.model.GetID(item))

		tag, err := r.exec(ctx, "update", r.updateSQL(), args...)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return sietch.Errorf(sietch.ErrNotFound, r.boundary.Op("update"), "entity %q does not exist", r.model.GetID(item))
		}
		return nil
	})
}

// subquery restricts a statement to the ids selected by specs.
func (r *Repository[T]) subquery(specs []sietch.Spec) (fragment, error) {
	q, err := r.Select(specs...)
	if err != nil {
		return fragment{}, err
	}
	inner := q.idFragment(r.idColumn())
	return fragment{
		sql:  quoteIdentifier(r.idColumn()) + " IN (" + inner.sql + ")",
		args: inner.args,
	}, nil
}

// UpdateWhereSQL renders the bulk update of fields over the rows matched by
// specs.
func (r *Repository[T]) UpdateWhereSQL(fields sietch.Fields, specs ...sietch.Spec) (string, []any, error) {
	if err := r.model.CheckUpdate(r.boundary.Op("update_where"), fields); err != nil {
		return "", nil, err
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	set := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys))
	for _, k := range keys {
		col, ok := lookupColumn(r.model.Info().Type, sietch.NormalizePath(k))
		if !ok {
			return "", nil, invalid("unknown column %q in %s", k, r.table)
		}
		set = append(set, quoteIdentifier(col)+" = ?")
		args = append(args, fields[k])
	}
	where, err := r.subquery(specs)
	if err != nil {
		return "", nil, err
	}
	sql := "UPDATE " + quoteIdentifier(r.table) + " SET " + strings.Join(set, ", ") + " WHERE " + where.sql
	return numbered(sql), append(args, where.args...), nil
}

func (r *Repository[T]) UpdateWhere(ctx context.Context, fields sietch.Fields, specs ...sietch.Spec) error {
	return r.boundary.Do(ctx, "update_where", func() error {
		sql, args, err := r.UpdateWhereSQL(fields, specs...)
		if err != nil {
			return err
		}
		_, err = r.exec(ctx, "update_where", sql, args...)
		return err
	})
}

func (r *Repository[T]) Delete(ctx context.Context, item *T) error {
	return r.boundary.Do(ctx, "delete", func() error {
		sql := fmt.Sprintf("DELETE FROM %s WHERE %s = $1", quoteIdentifier(r.table), quoteIdentifier(r.idColumn()))
		tag, err := r.exec(ctx, "delete", sql, r.model.GetID(item))
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return sietch.Errorf(sietch.ErrNotFound, r.boundary.Op("delete"), "entity %q does not exist", r.model.GetID(item))
		}
		return nil
	})
}

// DeleteWhereSQL renders the bulk delete of the rows matched by specs.
func (r *Repository[T]) DeleteWhereSQL(specs ...sietch.Spec) (string, []any, error) {
	where, err := r.subquery(specs)
	if err != nil {
		return "", nil, err
	}
	return numbered("DELETE FROM " + quoteIdentifier(r.table) + " WHERE " + where.sql), where.args, nil
}

func (r *Repository[T]) DeleteWhere(ctx context.Context, specs ...sietch.Spec) error {
	return r.boundary.Do(ctx, "delete_where", func() error {
		sql, args, err := r.DeleteWhereSQL(specs...)
		if err != nil {
			return err
		}
		_, err = r.exec(ctx, "delete_where", sql, args...)
		return err
	})
}

func (r *Repository[T]) Refresh(ctx context.Context, item *T) error {
	return r.boundary.Do(ctx, "refresh", func() error {
		return sietch.RefreshFrom[T](ctx, r, r.model, item)
	})
}

func (r *Repository[T]) IsModified(ctx context.Context, item *T) (bool, error) {
	return sietch.Within(ctx, r.boundary, "is_modified", func() (bool, error) {
		return sietch.ModifiedFrom[T](ctx, r, r.model, item)
	})
}

func (r *Repository[T]) Count(ctx context.Context, specs ...sietch.Spec) (int64, error) {
	return sietch.Within(ctx, r.boundary, "count", func() (int64, error) {
		q, err := r.Select(specs...)
		if err != nil {
			return 0, err
		}
		sql, args := q.CountSQL()
		start := time.Now()
		var n int64
		err = r.conn().QueryRow(ctx, sql, args...).Scan(&n)
		r.boundary.Query(ctx, "count", sql, args, start, err)
		return n, err
	})
}

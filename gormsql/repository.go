// Package gormsql implements the repository protocol on top of gorm. Any gorm
// dialector works; Open wires the pure Go SQLite driver, which is what the
// tests run against.
package gormsql

import (
	"context"
	"database/sql/driver"
	"fmt"
	"regexp"
	"sort"
	"sync"

	"github.com/seb7887/sietch"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
	msqlite "modernc.org/sqlite"
)

var (
	registerOnce sync.Once
	patterns     sync.Map
)

// regexpFunc backs the REGEXP operator of SQLite: X REGEXP Y calls
// regexp(Y, X).
func regexpFunc(_ *msqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	pattern, ok := args[0].(string)
	if !ok {
		return nil, fmt.Errorf("regexp: pattern must be text, got %T", args[0])
	}
	var value string
	switch v := args[1].(type) {
	case nil:
		return int64(0), nil
	case string:
		value = v
	case []byte:
		value = string(v)
	default:
		value = fmt.Sprint(v)
	}
	re, ok := patterns.Load(pattern)
	if !ok {
		compiled, err := regexp.Compile(pattern)
		if err != nil {
			return nil, err
		}
		re, _ = patterns.LoadOrStore(pattern, compiled)
	}
	if re.(*regexp.Regexp).MatchString(value) {
		return int64(1), nil
	}
	return int64(0), nil
}

// Open opens a SQLite database at path (a file name or DSN understood by
// modernc.org/sqlite) with REGEXP support.
func Open(path string) (*gorm.DB, error) {
	registerOnce.Do(func() {
		msqlite.MustRegisterDeterministicScalarFunction("regexp", 2, regexpFunc)
	})
	db, err := gorm.Open(sqlite.Dialector{DriverName: "sqlite", DSN: path}, &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

// Migrate creates or alters the table of model to fit T.
func Migrate[T any](ctx context.Context, db *gorm.DB, model sietch.Model[T]) error {
	return db.WithContext(ctx).Table(model.Name).AutoMigrate(new(T))
}

// ErrorWrapper classifies gorm and driver errors.
func ErrorWrapper() *sietch.ErrorWrapper {
	return sietch.NewErrorWrapper([]sietch.ErrorMapping{
		sietch.Map(gorm.ErrRecordNotFound, sietch.ErrNotFound),
		sietch.Map(gorm.ErrDuplicatedKey, sietch.ErrInvalidQuery),
		sietch.Map(gorm.ErrForeignKeyViolated, sietch.ErrInvalidQuery),
		sietch.Map(gorm.ErrMissingWhereClause, sietch.ErrInvalidQuery),
		sietch.Map(gorm.ErrInvalidField, sietch.ErrInvalidQuery),
		sietch.Map(gorm.ErrPrimaryKeyRequired, sietch.ErrInvalidQuery),
		sietch.MapMessage("no such column", sietch.ErrInvalidQuery),
		sietch.MapMessage("no such table", sietch.ErrInvalidQuery),
		sietch.MapMessage("constraint failed", sietch.ErrInvalidQuery),
		sietch.MapMessage("syntax error", sietch.ErrInvalidQuery),
		sietch.MapMessage("error parsing regexp", sietch.ErrInvalidQuery),
		sietch.MapMessage("Scan error", sietch.ErrParsing),
		sietch.MapMessage("converting", sietch.ErrParsing),
	}, sietch.ErrDataLayer)
}

// Repository implements sietch.Repository over a gorm table.
type Repository[T any] struct {
	db       *gorm.DB
	model    sietch.Model[T]
	specs    Specs[T]
	boundary sietch.Boundary

	txMu sync.Mutex
	tx   *gorm.DB
}

// New creates a repository over the table named by model.Name.
func New[T any](db *gorm.DB, model sietch.Model[T], opts ...sietch.Option) (*Repository[T], error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	if err := model.Validate(); err != nil {
		return nil, err
	}
	if !validIdentifier(model.Name) {
		return nil, fmt.Errorf("invalid table name %q", model.Name)
	}
	sch, err := schemaOf[T](db)
	if err != nil {
		return nil, fmt.Errorf("failed to parse schema: %w", err)
	}
	if _, ok := lookupField(sch, model.Key()); !ok {
		return nil, fmt.Errorf("id field %q has no column", model.Key())
	}
	return &Repository[T]{
		db:       db,
		model:    model,
		boundary: sietch.NewBoundary(model.Name, ErrorWrapper(), opts...),
	}, nil
}

func (r *Repository[T]) conn() *gorm.DB {
	r.txMu.Lock()
	defer r.txMu.Unlock()
	if r.tx != nil {
		return r.tx
	}
	return r.db
}

// session returns the connection with statements traced to the query logger.
func (r *Repository[T]) session(ctx context.Context) *gorm.DB {
	return r.conn().Session(&gorm.Session{Logger: traceLogger{boundary: r.boundary}}).WithContext(ctx)
}

func (r *Repository[T]) base(ctx context.Context) *gorm.DB {
	return r.session(ctx).Table(r.model.Name)
}

func (r *Repository[T]) idColumn() clause.Column {
	sch, _ := schemaOf[T](r.db)
	col, _ := lookupField(sch, r.model.Key())
	return clause.Column{Table: clause.CurrentTable, Name: col}
}

// Select lowers specs onto a statement over the repository table.
func (r *Repository[T]) Select(ctx context.Context, specs ...sietch.Spec) (*gorm.DB, error) {
	return sietch.Apply[*gorm.DB](r.specs, r.base(ctx), sietch.SpecContext{Repository: r, Model: r.model.Info()}, specs...)
}

func (r *Repository[T]) find(ctx context.Context, op string, specs []sietch.Spec) ([]T, error) {
	q, err := r.Select(withOp(ctx, op), specs...)
	if err != nil {
		return nil, err
	}
	results := []T{}
	if err := q.Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *Repository[T]) Get(ctx context.Context, specs ...sietch.Spec) (*T, error) {
	return sietch.Within(ctx, r.boundary, "get", func() (*T, error) {
		items, err := r.find(ctx, "get", specs)
		if err != nil {
			return nil, err
		}
		return sietch.ExactlyOne(r.boundary.Op("get"), items)
	})
}

func (r *Repository[T]) Filter(ctx context.Context, specs ...sietch.Spec) ([]T, error) {
	return sietch.Within(ctx, r.boundary, "filter", func() ([]T, error) {
		return r.find(ctx, "filter", specs)
	})
}

func (r *Repository[T]) save(ctx context.Context, item *T) (*T, error) {
	if item == nil {
		return nil, sietch.Errorf(sietch.ErrInvalidQuery, r.boundary.Op("save"), "item cannot be nil")
	}
	r.model.EnsureID(item)
	if err := r.base(withOp(ctx, "save")).Save(item).Error; err != nil {
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

func (r *Repository[T]) byID(item *T) clause.Expression {
	return clause.Eq{Column: r.idColumn(), Value: r.model.GetID(item)}
}

func (r *Repository[T]) Update(ctx context.Context, item *T) error {
	return r.boundary.Do(ctx, "update", func() error {
		res := r.base(withOp(ctx, "update")).Model(item).Where(r.byID(item)).Select("*").Updates(item)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return sietch.Errorf(sietch.ErrNotFound, r.boundary.Op("update"), "entity %q does not exist", r.model.GetID(item))
		}
		return nil
	})
}

// matching restricts a statement to the ids selected by specs.
func (r *Repository[T]) matching(ctx context.Context, specs []sietch.Spec) (clause.Expression, error) {
	sub, err := r.Select(ctx, specs...)
	if err != nil {
		return nil, err
	}
	id := r.idColumn()
	return clause.Expr{SQL: "? IN (?)", Vars: []any{id, sub.Select(id.Name)}}, nil
}

// assignments maps fields to column names, sorted for a stable statement.
func (r *Repository[T]) assignments(fields sietch.Fields) (map[string]any, error) {
	if err := r.model.CheckUpdate(r.boundary.Op("update_where"), fields); err != nil {
		return nil, err
	}
	sch, err := schemaOf[T](r.db)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	set := make(map[string]any, len(fields))
	for _, k := range keys {
		col, ok := lookupField(sch, sietch.NormalizePath(k))
		if !ok {
			return nil, invalid("unknown field %q in %s", k, r.model.Name)
		}
		set[col] = fields[k]
	}
	return set, nil
}

func (r *Repository[T]) UpdateWhere(ctx context.Context, fields sietch.Fields, specs ...sietch.Spec) error {
	return r.boundary.Do(ctx, "update_where", func() error {
		set, err := r.assignments(fields)
		if err != nil {
			return err
		}
		where, err := r.matching(ctx, specs)
		if err != nil {
			return err
		}
		return r.base(withOp(ctx, "update_where")).Model(new(T)).Where(where).Updates(set).Error
	})
}

func (r *Repository[T]) Delete(ctx context.Context, item *T) error {
	return r.boundary.Do(ctx, "delete", func() error {
		res := r.base(withOp(ctx, "delete")).Where(r.byID(item)).Delete(new(T))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return sietch.Errorf(sietch.ErrNotFound, r.boundary.Op("delete"), "entity %q does not exist", r.model.GetID(item))
		}
		return nil
	})
}

func (r *Repository[T]) DeleteWhere(ctx context.Context, specs ...sietch.Spec) error {
	return r.boundary.Do(ctx, "delete_where", func() error {
		where, err := r.matching(ctx, specs)
		if err != nil {
			return err
		}
		return r.base(withOp(ctx, "delete_where")).Where(where).Delete(new(T)).Error
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
		q, err := r.Select(ctx, specs...)
		if err != nil {
			return 0, err
		}
		var n int64
		err = r.session(withOp(ctx, "count")).Table("(?) AS sub", q).Count(&n).Error
		return n, err
	})
}

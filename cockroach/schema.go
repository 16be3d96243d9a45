package cockroach

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/seb7887/sietch"
)

// ColumnType represents SQL column data types
type ColumnType string

const (
	ColumnTypeInteger   ColumnType = "INTEGER"
	ColumnTypeBigInt    ColumnType = "BIGINT"
	ColumnTypeText      ColumnType = "TEXT"
	ColumnTypeBoolean   ColumnType = "BOOLEAN"
	ColumnTypeTimestamp ColumnType = "TIMESTAMPTZ"
	ColumnTypeJSON      ColumnType = "JSONB"
	ColumnTypeFloat     ColumnType = "FLOAT8"
	ColumnTypeBytes     ColumnType = "BYTES"
)

// ColumnDef defines a table column
type ColumnDef struct {
	Name       string
	Type       ColumnType
	PrimaryKey bool
	NotNull    bool
}

// TableDef defines a complete table schema
type TableDef struct {
	Name    string
	Columns []ColumnDef
}

// InferTableDef derives a table definition from the db tags of T. The id
// column of model is the primary key. Pointer fields are nullable.
func InferTableDef[T any](model sietch.Model[T]) (*TableDef, error) {
	typ := model.Info().Type
	columns, err := columnsOf(typ)
	if err != nil {
		return nil, err
	}
	id, ok := lookupColumn(typ, model.Key())
	if !ok {
		return nil, fmt.Errorf("id field %q has no column", model.Key())
	}

	def := &TableDef{Name: model.Name}
	for _, c := range columns {
		ft := typ.Field(c.index).Type
		def.Columns = append(def.Columns, ColumnDef{
			Name:       c.name,
			Type:       inferColumnType(ft),
			PrimaryKey: c.name == id,
			NotNull:    ft.Kind() != reflect.Ptr,
		})
	}
	return def, nil
}

var timeType = reflect.TypeOf(time.Time{})

// inferColumnType maps Go types to SQL column types
func inferColumnType(t reflect.Type) ColumnType {
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t == timeType {
		return ColumnTypeTimestamp
	}
	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Uint8, reflect.Uint16:
		return ColumnTypeInteger
	case reflect.Int64, reflect.Uint32, reflect.Uint64:
		return ColumnTypeBigInt
	case reflect.String:
		return ColumnTypeText
	case reflect.Bool:
		return ColumnTypeBoolean
	case reflect.Float32, reflect.Float64:
		return ColumnTypeFloat
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			return ColumnTypeBytes
		}
		return ColumnTypeJSON
	case reflect.Map, reflect.Struct:
		return ColumnTypeJSON
	}
	return ColumnTypeText
}

// CreateTableSQL generates CREATE TABLE SQL from a table definition
func CreateTableSQL(def *TableDef) string {
	parts := make([]string, 0, len(def.Columns))
	for _, col := range def.Columns {
		colDef := fmt.Sprintf("%s %s", quoteIdentifier(col.Name), col.Type)
		if col.PrimaryKey {
			colDef += " PRIMARY KEY"
		} else if col.NotNull {
			colDef += " NOT NULL"
		}
		parts = append(parts, colDef)
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n)",
		quoteIdentifier(def.Name),
		strings.Join(parts, ",\n  "),
	)
}

// DropTableSQL generates DROP TABLE SQL
func DropTableSQL(table string) string {
	return fmt.Sprintf("DROP TABLE IF EXISTS %s CASCADE", quoteIdentifier(table))
}

// CreateTable creates the table of model unless it exists. Meant for tests
// and development.
func CreateTable[T any](ctx context.Context, db Queryable, model sietch.Model[T]) error {
	def, err := InferTableDef(model)
	if err != nil {
		return err
	}
	_, err = db.Exec(ctx, CreateTableSQL(def))
	return err
}

// TruncateTable removes all rows from a table
func TruncateTable(ctx context.Context, db Queryable, table string) error {
	_, err := db.Exec(ctx, fmt.Sprintf("TRUNCATE TABLE %s CASCADE", quoteIdentifier(table)))
	return err
}

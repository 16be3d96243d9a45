package cockroach

import (
	"fmt"
	"reflect"
	"strings"
)

type columnField struct {
	name  string
	index int
}

// columnsOf lists the db-tagged fields of typ in declaration order.
func columnsOf(typ reflect.Type) ([]columnField, error) {
	if typ == nil {
		return nil, fmt.Errorf("entity type is unknown")
	}
	if typ.Kind() == reflect.Ptr {
		typ = typ.Elem()
	}
	if typ.Kind() != reflect.Struct {
		return nil, fmt.Errorf("columns must be a struct")
	}

	var columns []columnField
	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		tag := strings.Split(field.Tag.Get("db"), ",")[0]
		if tag == "" || tag == "-" || !field.IsExported() {
			continue
		}
		if err := sanitizeIdentifier(tag); err != nil {
			return nil, fmt.Errorf("invalid column name '%s': %w", tag, err)
		}
		columns = append(columns, columnField{name: tag, index: i})
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("no columns found")
	}
	return columns, nil
}

// lookupColumn finds the column for a field reference: the db tag itself or
// the Go field name, case-insensitively.
func lookupColumn(typ reflect.Type, name string) (string, bool) {
	if typ != nil && typ.Kind() == reflect.Ptr {
		typ = typ.Elem()
	}
	columns, err := columnsOf(typ)
	if err != nil {
		return "", false
	}
	for _, c := range columns {
		if c.name == name {
			return c.name, true
		}
	}
	for _, c := range columns {
		if strings.EqualFold(typ.Field(c.index).Name, name) {
			return c.name, true
		}
	}
	return "", false
}

func columnNames(columns []columnField) []string {
	names := make([]string, len(columns))
	for i, c := range columns {
		names[i] = c.name
	}
	return names
}

func getValues[T any](columns []columnField, item *T) []any {
	v := reflect.ValueOf(item).Elem()
	values := make([]any, len(columns))
	for i, c := range columns {
		values[i] = v.Field(c.index).Interface()
	}
	return values
}

// getScanDestinations returns pointers to the fields of item backing names,
// in order.
func getScanDestinations[T any](columns []columnField, names []string, item *T) ([]any, error) {
	v := reflect.ValueOf(item).Elem()
	dests := make([]any, len(names))
	for i, name := range names {
		found := false
		for _, c := range columns {
			if c.name == name {
				dests[i] = v.Field(c.index).Addr().Interface()
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("no field for column %q", name)
		}
	}
	return dests, nil
}

package sietch

import (
	"errors"
	"reflect"
	"strings"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/mitchellh/mapstructure"
	"github.com/seb7887/sietch/idgen"
)

// Fields is raw entity data keyed by field name.
type Fields map[string]any

// Model describes how a repository identifies and builds entities of type T.
type Model[T any] struct {
	// Name is the table, collection or key prefix.
	Name string
	// IDField is the field path holding the id. Defaults to "id".
	IDField string
	// ID returns a pointer to the id of an entity.
	ID func(*T) *string
	// NewID generates ids for entities saved without one. Defaults to
	// idgen.NewUUID.
	NewID func() string
}

// Validate reports an incomplete descriptor.
func (m Model[T]) Validate() error {
	if m.Name == "" {
		return errors.New("sietch: model name cannot be empty")
	}
	if m.ID == nil {
		return errors.New("sietch: model id accessor cannot be nil")
	}
	var zero T
	if reflect.TypeOf(zero).Kind() != reflect.Struct {
		return errors.New("sietch: model type must be a struct")
	}
	return nil
}

// Key returns the id field path.
func (m Model[T]) Key() string {
	if m.IDField == "" {
		return "id"
	}
	return m.IDField
}

// Info describes the model for specifications.
func (m Model[T]) Info() ModelInfo {
	return ModelInfo{Name: m.Name, IDField: m.Key(), Type: reflect.TypeOf((*T)(nil)).Elem()}
}

// CheckUpdate rejects an empty bulk update and one assigning the id.
func (m Model[T]) CheckUpdate(op string, fields Fields) error {
	if err := RequireFields(op, fields); err != nil {
		return err
	}
	for k := range fields {
		if strings.EqualFold(k, m.Key()) {
			return Errorf(ErrInvalidQuery, op, "field %q is the id and cannot be updated", k)
		}
	}
	return nil
}

// GetID returns the id of item.
func (m Model[T]) GetID(item *T) string {
	return *m.ID(item)
}

// EnsureID assigns a fresh id to item when it has none and returns the id.
func (m Model[T]) EnsureID(item *T) string {
	id := m.ID(item)
	if *id == "" {
		gen := m.NewID
		if gen == nil {
			gen = idgen.NewUUID
		}
		*id = gen()
	}
	return *id
}

// Decode builds an entity from fields. Nested maps are materialised into
// struct-typed fields recursively. Unknown fields are rejected.
func (m Model[T]) Decode(fields Fields) (*T, error) {
	item := new(T)
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:     "db",
		ErrorUnused: true,
		Result:      item,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeHookFunc(time.RFC3339),
			mapstructure.StringToTimeDurationHookFunc(),
		),
	})
	if err != nil {
		return nil, NewError(ErrInvalidQuery, "", err)
	}
	if err := dec.Decode(map[string]any(fields)); err != nil {
		return nil, NewError(ErrInvalidQuery, "", err)
	}
	return item, nil
}

// Equal reports whether a and b hold the same field values.
func (m Model[T]) Equal(a, b *T) bool {
	return cmp.Equal(a, b,
		cmpopts.EquateEmpty(),
		cmpopts.EquateApproxTime(time.Microsecond),
		cmp.Exporter(func(reflect.Type) bool { return true }),
	)
}

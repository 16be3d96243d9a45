package sietch

import "context"

// Repository is the uniform data access protocol. Every method translates
// native errors into the taxonomy.
type Repository[T any] interface {
	// Get returns exactly one entity matching specs, or ErrNotFound /
	// ErrMultipleResults.
	Get(ctx context.Context, specs ...Spec) (*T, error)

	// Filter returns every entity matching specs.
	Filter(ctx context.Context, specs ...Spec) ([]T, error)

	// Save inserts or replaces item, generating its id when empty.
	Save(ctx context.Context, item *T) (*T, error)

	// SaveFields builds an entity from fields and saves it.
	SaveFields(ctx context.Context, fields Fields) (*T, error)

	// Update persists item, which must already exist.
	Update(ctx context.Context, item *T) error

	// UpdateWhere sets fields on every entity matching specs.
	UpdateWhere(ctx context.Context, fields Fields, specs ...Spec) error

	// Delete removes item, which must exist.
	Delete(ctx context.Context, item *T) error

	// DeleteWhere removes every entity matching specs.
	DeleteWhere(ctx context.Context, specs ...Spec) error

	// Refresh overwrites item in place with its persisted state.
	Refresh(ctx context.Context, item *T) error

	// IsModified reports whether item differs from its persisted state.
	// An entity that was never persisted is modified.
	IsModified(ctx context.Context, item *T) (bool, error)

	// Count returns the number of entities matching specs.
	Count(ctx context.Context, specs ...Spec) (int64, error)
}

// ByID selects the entity whose id field equals id.
func ByID[T any](m Model[T], id string) *Filter {
	return NewFilter(Condition{Field: m.Key(), Operator: OpEq, Value: id})
}

// ExactlyOne enforces the single result contract of Get.
func ExactlyOne[T any](op string, items []T) (*T, error) {
	switch len(items) {
	case 0:
		return nil, Errorf(ErrNotFound, op, "no entity matches the query")
	case 1:
		return &items[0], nil
	}
	return nil, Errorf(ErrMultipleResults, op, "%d entities match the query", len(items))
}

// RequireFields rejects an empty bulk update.
func RequireFields(op string, fields Fields) error {
	if len(fields) == 0 {
		return Errorf(ErrInvalidQuery, op, "no fields to update")
	}
	return nil
}

// RefreshFrom implements Refresh on top of Get.
func RefreshFrom[T any](ctx context.Context, repo Repository[T], m Model[T], item *T) error {
	fresh, err := repo.Get(ctx, ByID(m, m.GetID(item)))
	if err != nil {
		return err
	}
	*item = *fresh
	return nil
}

// ModifiedFrom implements IsModified on top of Get.
func ModifiedFrom[T any](ctx context.Context, repo Repository[T], m Model[T], item *T) (bool, error) {
	if m.GetID(item) == "" {
		return true, nil
	}
	stored, err := repo.Get(ctx, ByID(m, m.GetID(item)))
	if err != nil {
		if KindOf(err) == ErrNotFound {
			return true, nil
		}
		return false, err
	}
	return !m.Equal(stored, item), nil
}

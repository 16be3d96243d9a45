package sietch

import (
	"context"
	"errors"
	"time"

	"github.com/seb7887/sietch/wp"
)

// CacheStrategy defines how writes reach the secondary repository
type CacheStrategy string

const (
	// CacheStrategyWriteThrough writes to the secondary synchronously after the primary
	CacheStrategyWriteThrough CacheStrategy = "write_through"

	// CacheStrategyWriteAround only writes the primary and invalidates the secondary
	CacheStrategyWriteAround CacheStrategy = "write_around"

	// CacheStrategyWriteBack writes the secondary asynchronously on a worker pool
	CacheStrategyWriteBack CacheStrategy = "write_back"
)

// DoubleRepository pairs a primary repository with a secondary one, usually
// a cache. Reads are served by the secondary and fall back to the primary on
// any data layer error. Count, Refresh and IsModified use the favoured
// repository, the primary unless WithFavorPrimary(false) is given. Writes
// always go to the primary first; the secondary follows according to the
// strategy. Secondary failures are logged, never returned.
type DoubleRepository[T any] struct {
	primary      Repository[T]
	secondary    Repository[T]
	model        Model[T]
	strategy     CacheStrategy
	favorPrimary bool
	pool         *wp.Pool
	logger       QueryLogger
}

// DoubleOption configures a DoubleRepository.
type DoubleOption[T any] func(*DoubleRepository[T])

// WithStrategy selects how writes reach the secondary.
func WithStrategy[T any](s CacheStrategy) DoubleOption[T] {
	return func(r *DoubleRepository[T]) {
		r.strategy = s
	}
}

// WithFavorPrimary selects the repository answering Count, Refresh and
// IsModified. With false the secondary answers and the primary is the
// fallback.
func WithFavorPrimary[T any](favor bool) DoubleOption[T] {
	return func(r *DoubleRepository[T]) {
		r.favorPrimary = favor
	}
}

// WithPool sets the pool used by CacheStrategyWriteBack.
func WithPool[T any](p *wp.Pool) DoubleOption[T] {
	return func(r *DoubleRepository[T]) {
		r.pool = p
	}
}

// WithDoubleLogger sets the logger receiving secondary failures.
func WithDoubleLogger[T any](l QueryLogger) DoubleOption[T] {
	return func(r *DoubleRepository[T]) {
		r.logger = l
	}
}

// NewDoubleRepository creates a write-through pair by default.
func NewDoubleRepository[T any](primary, secondary Repository[T], model Model[T], opts ...DoubleOption[T]) *DoubleRepository[T] {
	r := &DoubleRepository[T]{
		primary:      primary,
		secondary:    secondary,
		model:        model,
		strategy:     CacheStrategyWriteThrough,
		favorPrimary: true,
		logger:       NewNoOpLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.strategy == CacheStrategyWriteBack && r.pool == nil {
		r.pool = wp.NewPool(4, 64)
	}
	return r
}

// Close drains pending write-back work.
func (r *DoubleRepository[T]) Close() {
	if r.pool != nil {
		r.pool.Stop()
	}
}

func fallback(err error) bool {
	return errors.Is(err, ErrDataLayer)
}

// secondaryWrite applies fn to the secondary according to the strategy.
// invalidate is used instead under CacheStrategyWriteAround.
func (r *DoubleRepository[T]) secondaryWrite(ctx context.Context, key, op string, fn, invalidate func(ctx context.Context) error) {
	run := func(ctx context.Context, fn func(ctx context.Context) error) {
		start := time.Now()
		if err := fn(ctx); err != nil && KindOf(err) != ErrNotFound {
			logOperation(r.logger, ctx, "secondary_"+op, r.model.Name, start, err)
		}
	}
	switch r.strategy {
	case CacheStrategyWriteAround:
		run(ctx, invalidate)
	case CacheStrategyWriteBack:
		bg := context.WithoutCancel(ctx)
		r.pool.Submit(key, func() { run(bg, fn) })
	default:
		run(ctx, fn)
	}
}

func (r *DoubleRepository[T]) Get(ctx context.Context, specs ...Spec) (*T, error) {
	item, err := r.secondary.Get(ctx, specs...)
	if err == nil || !fallback(err) {
		return item, err
	}
	item, err = r.primary.Get(ctx, specs...)
	if err != nil {
		return nil, err
	}
	cached := *item
	populate := func(ctx context.Context) error { _, err := r.secondary.Save(ctx, &cached); return err }
	r.secondaryWrite(ctx, r.model.GetID(item), "populate", populate, populate)
	return item, nil
}

func (r *DoubleRepository[T]) Filter(ctx context.Context, specs ...Spec) ([]T, error) {
	items, err := r.secondary.Filter(ctx, specs...)
	if err == nil || !fallback(err) {
		return items, err
	}
	return r.primary.Filter(ctx, specs...)
}

func (r *DoubleRepository[T]) Count(ctx context.Context, specs ...Spec) (int64, error) {
	if r.favorPrimary {
		return r.primary.Count(ctx, specs...)
	}
	n, err := r.secondary.Count(ctx, specs...)
	if err == nil || !fallback(err) {
		return n, err
	}
	return r.primary.Count(ctx, specs...)
}

func (r *DoubleRepository[T]) replicate(ctx context.Context, op string, item *T) {
	copied := *item
	r.secondaryWrite(ctx, r.model.GetID(item), op,
		func(ctx context.Context) error { _, err := r.secondary.Save(ctx, &copied); return err },
		func(ctx context.Context) error { return r.secondary.Delete(ctx, &copied) },
	)
}

func (r *DoubleRepository[T]) Save(ctx context.Context, item *T) (*T, error) {
	saved, err := r.primary.Save(ctx, item)
	if err != nil {
		return nil, err
	}
	r.replicate(ctx, "save", saved)
	return saved, nil
}

func (r *DoubleRepository[T]) SaveFields(ctx context.Context, fields Fields) (*T, error) {
	saved, err := r.primary.SaveFields(ctx, fields)
	if err != nil {
		return nil, err
	}
	r.replicate(ctx, "save", saved)
	return saved, nil
}

func (r *DoubleRepository[T]) Update(ctx context.Context, item *T) error {
	if err := r.primary.Update(ctx, item); err != nil {
		return err
	}
	r.replicate(ctx, "update", item)
	return nil
}

// bulkWriteBack runs a bulk primary write and queues the secondary follow-up
// per matched id, on the same workers as the entity writes of those ids.
func (r *DoubleRepository[T]) bulkWriteBack(ctx context.Context, op string, specs []Spec, write func() error) error {
	matched, err := r.primary.Filter(ctx, specs...)
	if err != nil {
		return err
	}
	if err := write(); err != nil {
		return err
	}
	for i := range matched {
		id := r.model.GetID(&matched[i])
		follow := func(ctx context.Context) error { return r.sync(ctx, id) }
		r.secondaryWrite(ctx, id, op, follow, follow)
	}
	return nil
}

// sync copies the primary state of id to the secondary, removing it there
// when the primary no longer holds it.
func (r *DoubleRepository[T]) sync(ctx context.Context, id string) error {
	item, err := r.primary.Get(ctx, ByID(r.model, id))
	if KindOf(err) == ErrNotFound {
		return r.secondary.DeleteWhere(ctx, ByID(r.model, id))
	}
	if err != nil {
		return err
	}
	_, err = r.secondary.Save(ctx, item)
	return err
}

func (r *DoubleRepository[T]) UpdateWhere(ctx context.Context, fields Fields, specs ...Spec) error {
	if r.strategy == CacheStrategyWriteBack {
		return r.bulkWriteBack(ctx, "update_where", specs, func() error {
			return r.primary.UpdateWhere(ctx, fields, specs...)
		})
	}
	if err := r.primary.UpdateWhere(ctx, fields, specs...); err != nil {
		return err
	}
	r.secondaryWrite(ctx, r.model.Name, "update_where",
		func(ctx context.Context) error { return r.secondary.UpdateWhere(ctx, fields, specs...) },
		func(ctx context.Context) error { return r.secondary.DeleteWhere(ctx, specs...) },
	)
	return nil
}

// Delete removes item from both repositories whatever the strategy.
func (r *DoubleRepository[T]) Delete(ctx context.Context, item *T) error {
	if err := r.primary.Delete(ctx, item); err != nil {
		return err
	}
	copied := *item
	remove := func(ctx context.Context) error { return r.secondary.Delete(ctx, &copied) }
	r.secondaryWrite(ctx, r.model.GetID(item), "delete", remove, remove)
	return nil
}

func (r *DoubleRepository[T]) DeleteWhere(ctx context.Context, specs ...Spec) error {
	if r.strategy == CacheStrategyWriteBack {
		return r.bulkWriteBack(ctx, "delete_where", specs, func() error {
			return r.primary.DeleteWhere(ctx, specs...)
		})
	}
	if err := r.primary.DeleteWhere(ctx, specs...); err != nil {
		return err
	}
	remove := func(ctx context.Context) error { return r.secondary.DeleteWhere(ctx, specs...) }
	r.secondaryWrite(ctx, r.model.Name, "delete_where", remove, remove)
	return nil
}

func (r *DoubleRepository[T]) Refresh(ctx context.Context, item *T) error {
	if r.favorPrimary {
		return r.primary.Refresh(ctx, item)
	}
	err := r.secondary.Refresh(ctx, item)
	if err == nil || !fallback(err) {
		return err
	}
	return r.primary.Refresh(ctx, item)
}

func (r *DoubleRepository[T]) IsModified(ctx context.Context, item *T) (bool, error) {
	if r.favorPrimary {
		return r.primary.IsModified(ctx, item)
	}
	modified, err := r.secondary.IsModified(ctx, item)
	if err == nil || !fallback(err) {
		return modified, err
	}
	return r.primary.IsModified(ctx, item)
}

// Package redis stores entities as JSON values under "<name>:<id>" keys.
// Queries SCAN the key space and evaluate specifications over the decoded
// values, so every operator the in-memory backend knows is available.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/seb7887/sietch"
	"github.com/seb7887/sietch/inmemory"
	"github.com/seb7887/sietch/internal/fieldpath"
)

const (
	scanCount = 500
	mgetBatch = 500
)

// ErrorWrapper classifies redis failures. Field errors of the in-memory
// evaluator keep their in-memory classification.
func ErrorWrapper() *sietch.ErrorWrapper {
	return inmemory.ErrorWrapper().With(
		sietch.Map(goredis.Nil, sietch.ErrNotFound),
		sietch.MapType[*json.SyntaxError](sietch.ErrParsing),
		sietch.MapType[*json.UnmarshalTypeError](sietch.ErrParsing),
		sietch.MapType[goredis.Error](sietch.ErrInvalidQuery),
	)
}

// Repository implements sietch.Repository over a redis database.
type Repository[T any] struct {
	client   *goredis.Client
	model    sietch.Model[T]
	ttl      time.Duration
	specs    Specs[T]
	post     inmemory.Specs[T]
	boundary sietch.Boundary

	pipeMu sync.Mutex
	pipe   goredis.Pipeliner
}

// New creates a repository keyed by model.Name. Values expire after ttl; zero
// keeps them forever.
func New[T any](client *goredis.Client, model sietch.Model[T], ttl time.Duration, opts ...sietch.Option) (*Repository[T], error) {
	if client == nil {
		return nil, errors.New("redis: client cannot be nil")
	}
	if err := model.Validate(); err != nil {
		return nil, err
	}
	if ttl < 0 {
		return nil, fmt.Errorf("redis: negative ttl %s", ttl)
	}
	return &Repository[T]{
		client:   client,
		model:    model,
		ttl:      ttl,
		boundary: sietch.NewBoundary(model.Name, ErrorWrapper(), opts...),
	}, nil
}

func (r *Repository[T]) key(id string) string {
	return r.model.Name + ":" + id
}

func (r *Repository[T]) specContext() sietch.SpecContext {
	return sietch.SpecContext{Repository: r, Model: r.model.Info()}
}

// pipeline returns the queue of a running unit of work, or nil.
func (r *Repository[T]) pipeline() goredis.Pipeliner {
	r.pipeMu.Lock()
	defer r.pipeMu.Unlock()
	return r.pipe
}

// Select lowers specs onto a query over the repository keys.
func (r *Repository[T]) Select(specs ...sietch.Spec) (*Query, error) {
	return sietch.Apply[*Query](r.specs, &Query{Pattern: r.key("*")}, r.specContext(), specs...)
}

// scan lists the keys matching pattern, sorted and without duplicates.
func (r *Repository[T]) scan(ctx context.Context, pattern string) ([]string, error) {
	seen := make(map[string]struct{})
	var cursor uint64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, pattern, scanCount).Result()
		if err != nil {
			return nil, err
		}
		for _, k := range keys {
			seen[k] = struct{}{}
		}
		if next == 0 {
			break
		}
		cursor = next
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}

// load decodes the values under keys. Keys that vanished since the scan are
// skipped.
func (r *Repository[T]) load(ctx context.Context, keys []string) ([]*T, error) {
	items := make([]*T, 0, len(keys))
	for start := 0; start < len(keys); start += mgetBatch {
		end := start + mgetBatch
		if end > len(keys) {
			end = len(keys)
		}
		values, err := r.client.MGet(ctx, keys[start:end]...).Result()
		if err != nil {
			return nil, err
		}
		for i, v := range values {
			s, ok := v.(string)
			if !ok {
				continue
			}
			item := new(T)
			if err := json.Unmarshal([]byte(s), item); err != nil {
				return nil, fmt.Errorf("decode %s: %w", keys[start+i], err)
			}
			items = append(items, item)
		}
	}
	return items, nil
}

// match runs q: scan, load, then the post-load specifications.
func (r *Repository[T]) match(ctx context.Context, op string, q *Query) ([]*T, error) {
	start := time.Now()
	keys, err := r.scan(ctx, q.Pattern)
	var items []*T
	if err == nil {
		items, err = r.load(ctx, keys)
	}
	r.boundary.Query(ctx, op, "SCAN "+q.Pattern, []any{len(keys)}, start, err)
	if err != nil {
		return nil, err
	}
	return sietch.Apply[[]*T](r.post, items, r.specContext(), q.Post...)
}

func (r *Repository[T]) find(ctx context.Context, op string, specs []sietch.Spec) ([]T, error) {
	q, err := r.Select(specs...)
	if err != nil {
		return nil, err
	}
	matched, err := r.match(ctx, op, q)
	if err != nil {
		return nil, err
	}
	out := make([]T, len(matched))
	for i, m := range matched {
		out[i] = *m
	}
	return out, nil
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
	id := r.model.EnsureID(item)
	data, err := json.Marshal(item)
	if err != nil {
		return nil, err
	}
	var writer goredis.Cmdable = r.client
	if pipe := r.pipeline(); pipe != nil {
		writer = pipe
	}
	start := time.Now()
	err = writer.Set(ctx, r.key(id), data, r.ttl).Err()
	r.boundary.Query(ctx, "save", "SET "+r.key(id), nil, start, err)
	if err != nil {
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

// exists checks a key outside any pending transaction.
func (r *Repository[T]) exists(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, key).Result()
	return n > 0, err
}

func (r *Repository[T]) Update(ctx context.Context, item *T) error {
	return r.boundary.Do(ctx, "update", func() error {
		id := r.model.GetID(item)
		key := r.key(id)
		data, err := json.Marshal(item)
		if err != nil {
			return err
		}
		start := time.Now()
		found := false
		if pipe := r.pipeline(); pipe != nil {
			found, err = r.exists(ctx, key)
			if err == nil && found {
				err = pipe.Set(ctx, key, data, r.ttl).Err()
			}
		} else {
			found, err = r.client.SetXX(ctx, key, data, r.ttl).Result()
			// a missing key answers nil
			if errors.Is(err, goredis.Nil) {
				found, err = false, nil
			}
		}
		r.boundary.Query(ctx, "update", "SET XX "+key, nil, start, err)
		if err != nil {
			return err
		}
		if !found {
			return sietch.Errorf(sietch.ErrNotFound, r.boundary.Op("update"), "entity %q does not exist", id)
		}
		return nil
	})
}

// UpdateWhere assigns fields on copies of the matching entities and writes
// them back in one MULTI/EXEC, or queues them on the running unit of work.
func (r *Repository[T]) UpdateWhere(ctx context.Context, fields sietch.Fields, specs ...sietch.Spec) error {
	return r.boundary.Do(ctx, "update_where", func() error {
		if err := r.model.CheckUpdate(r.boundary.Op("update_where"), fields); err != nil {
			return err
		}
		typ := r.model.Info().Type
		for path := range fields {
			if err := fieldpath.Check(typ, sietch.NormalizePath(path)); err != nil {
				return sietch.NewError(sietch.ErrInvalidQuery, r.boundary.Op("update_where"), err)
			}
		}
		q, err := r.Select(specs...)
		if err != nil {
			return err
		}
		matched, err := r.match(ctx, "update_where", q)
		if err != nil || len(matched) == 0 {
			return err
		}
		values := make(map[string][]byte, len(matched))
		for _, m := range matched {
			for path, value := range fields {
				if err := fieldpath.Set(reflect.ValueOf(m).Elem(), sietch.NormalizePath(path), value); err != nil {
					return fmt.Errorf("update %s: %w", r.model.GetID(m), err)
				}
			}
			data, err := json.Marshal(m)
			if err != nil {
				return err
			}
			values[r.key(r.model.GetID(m))] = data
		}
		return r.write(ctx, "update_where", func(p goredis.Pipeliner) {
			for key, data := range values {
				p.Set(ctx, key, data, r.ttl)
			}
		})
	})
}

// write queues fn on the running unit of work, or runs it in its own
// MULTI/EXEC.
func (r *Repository[T]) write(ctx context.Context, op string, fn func(p goredis.Pipeliner)) error {
	if pipe := r.pipeline(); pipe != nil {
		fn(pipe)
		return nil
	}
	start := time.Now()
	_, err := r.client.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		fn(p)
		return nil
	})
	r.boundary.Query(ctx, op, "MULTI", nil, start, err)
	return err
}

func (r *Repository[T]) Delete(ctx context.Context, item *T) error {
	return r.boundary.Do(ctx, "delete", func() error {
		id := r.model.GetID(item)
		key := r.key(id)
		start := time.Now()
		var (
			found bool
			err   error
		)
		if pipe := r.pipeline(); pipe != nil {
			found, err = r.exists(ctx, key)
			if err == nil && found {
				err = pipe.Del(ctx, key).Err()
			}
		} else {
			var n int64
			n, err = r.client.Del(ctx, key).Result()
			found = n > 0
		}
		r.boundary.Query(ctx, "delete", "DEL "+key, nil, start, err)
		if err != nil {
			return err
		}
		if !found {
			return sietch.Errorf(sietch.ErrNotFound, r.boundary.Op("delete"), "entity %q does not exist", id)
		}
		return nil
	})
}

func (r *Repository[T]) DeleteWhere(ctx context.Context, specs ...sietch.Spec) error {
	return r.boundary.Do(ctx, "delete_where", func() error {
		q, err := r.Select(specs...)
		if err != nil {
			return err
		}
		matched, err := r.match(ctx, "delete_where", q)
		if err != nil || len(matched) == 0 {
			return err
		}
		keys := make([]string, len(matched))
		for i, m := range matched {
			keys[i] = r.key(r.model.GetID(m))
		}
		return r.write(ctx, "delete_where", func(p goredis.Pipeliner) {
			p.Del(ctx, keys...)
		})
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
		matched, err := r.match(ctx, "count", q)
		return int64(len(matched)), err
	})
}

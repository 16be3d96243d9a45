// Package mongo implements the repository protocol over a MongoDB
// collection. Entities map to documents through their bson struct tags; the
// id field is stored as _id.
package mongo

import (
	"context"
	"fmt"
	"time"

	"github.com/seb7887/sietch"
	"go.mongodb.org/mongo-driver/bson"
	mongodb "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Connect opens a client and checks the server answers.
func Connect(ctx context.Context, uri string) (*mongodb.Client, error) {
	client, err := mongodb.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping: %w", err)
	}
	return client, nil
}

// ErrorWrapper classifies driver errors.
func ErrorWrapper() *sietch.ErrorWrapper {
	return sietch.NewErrorWrapper([]sietch.ErrorMapping{
		sietch.Map(mongodb.ErrNoDocuments, sietch.ErrNotFound),
		sietch.MapFunc(mongodb.IsDuplicateKeyError, sietch.ErrInvalidQuery),
		sietch.MapType[mongodb.WriteException](sietch.ErrInvalidQuery),
		sietch.MapType[mongodb.BulkWriteException](sietch.ErrInvalidQuery),
		sietch.MapType[mongodb.CommandError](sietch.ErrInvalidQuery),
		sietch.MapMessage("error decoding key", sietch.ErrParsing),
		sietch.MapMessage("cannot decode", sietch.ErrParsing),
	}, sietch.ErrDataLayer)
}

// Repository implements sietch.Repository over a collection named after
// the model.
type Repository[T any] struct {
	coll     *mongodb.Collection
	model    sietch.Model[T]
	idKey    string
	specs    Specs[T]
	boundary sietch.Boundary

	session *sessionHolder
}

// New creates a repository over db.Collection(model.Name).
func New[T any](db *mongodb.Database, model sietch.Model[T], opts ...sietch.Option) (*Repository[T], error) {
	if db == nil {
		return nil, fmt.Errorf("database cannot be nil")
	}
	if err := model.Validate(); err != nil {
		return nil, err
	}
	idKey, ok := lookupKey(model.Info().Type, model.Key())
	if !ok {
		return nil, fmt.Errorf("id field %q has no bson key", model.Key())
	}
	return &Repository[T]{
		coll:     db.Collection(model.Name),
		model:    model,
		idKey:    idKey,
		boundary: sietch.NewBoundary(model.Name, ErrorWrapper(), opts...),
		session:  &sessionHolder{},
	}, nil
}

// Collection exposes the underlying collection.
func (r *Repository[T]) Collection() *mongodb.Collection {
	return r.coll
}

// Select lowers specs onto a query over the collection.
func (r *Repository[T]) Select(specs ...sietch.Spec) (*Query, error) {
	return sietch.Apply[*Query](r.specs, &Query{}, sietch.SpecContext{Repository: r, Model: r.model.Info()}, specs...)
}

func (r *Repository[T]) byID(id string) bson.D {
	return bson.D{{Key: r.idKey, Value: id}}
}

func findOptions(q *Query) *options.FindOptions {
	opts := options.Find()
	if len(q.Sort) > 0 {
		opts.SetSort(q.Sort)
	}
	if q.Skip != nil {
		opts.SetSkip(*q.Skip)
	}
	if q.Limit != nil {
		opts.SetLimit(*q.Limit)
	}
	if len(q.Projection) > 0 {
		opts.SetProjection(q.Projection)
	}
	return opts
}

func (r *Repository[T]) find(ctx context.Context, op string, specs []sietch.Spec) ([]T, error) {
	q, err := r.Select(specs...)
	if err != nil {
		return nil, err
	}
	results := []T{}
	if q.empty() {
		return results, nil
	}
	filter := q.Filter()
	start := time.Now()
	cur, err := r.coll.Find(r.session.bind(ctx), filter, findOptions(q))
	if err == nil {
		err = cur.All(ctx, &results)
	}
	r.boundary.Query(ctx, op, "find", []any{filter}, start, err)
	if err != nil {
		return nil, err
	}
	return results, nil
}

// ids collects the ids of the documents q matches.
func (r *Repository[T]) ids(ctx context.Context, q *Query) (bson.A, error) {
	if q.empty() {
		return bson.A{}, nil
	}
	opts := findOptions(q).SetProjection(bson.D{{Key: r.idKey, Value: 1}})
	cur, err := r.coll.Find(ctx, q.Filter(), opts)
	if err != nil {
		return nil, err
	}
	var docs []bson.M
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	ids := make(bson.A, len(docs))
	for i, d := range docs {
		ids[i] = d[r.idKey]
	}
	return ids, nil
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
	start := time.Now()
	_, err := r.coll.ReplaceOne(r.session.bind(ctx), r.byID(id), item, options.Replace().SetUpsert(true))
	r.boundary.Query(ctx, "save", "replaceOne", []any{id}, start, err)
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

func (r *Repository[T]) Update(ctx context.Context, item *T) error {
	return r.boundary.Do(ctx, "update", func() error {
		id := r.model.GetID(item)
		start := time.Now()
		res, err := r.coll.ReplaceOne(r.session.bind(ctx), r.byID(id), item)
		r.boundary.Query(ctx, "update", "replaceOne", []any{id}, start, err)
		if err != nil {
			return err
		}
		if res.MatchedCount == 0 {
			return sietch.Errorf(sietch.ErrNotFound, r.boundary.Op("update"), "entity %q does not exist", id)
		}
		return nil
	})
}

// UpdateWhere resolves the matching ids first so that order and pagination
// apply, then sets fields on those documents.
func (r *Repository[T]) UpdateWhere(ctx context.Context, fields sietch.Fields, specs ...sietch.Spec) error {
	return r.boundary.Do(ctx, "update_where", func() error {
		if err := r.model.CheckUpdate(r.boundary.Op("update_where"), fields); err != nil {
			return err
		}
		set := bson.D{}
		for k, v := range fields {
			key, err := resolve(r.model.Info().Type, sietch.NormalizePath(k))
			if err != nil {
				return err
			}
			set = append(set, bson.E{Key: key, Value: v})
		}
		q, err := r.Select(specs...)
		if err != nil {
			return err
		}
		ctx := r.session.bind(ctx)
		ids, err := r.ids(ctx, q)
		if err != nil || len(ids) == 0 {
			return err
		}
		start := time.Now()
		_, err = r.coll.UpdateMany(ctx,
			bson.D{{Key: r.idKey, Value: bson.D{{Key: "$in", Value: ids}}}},
			bson.D{{Key: "$set", Value: set}})
		r.boundary.Query(ctx, "update_where", "updateMany", []any{ids, set}, start, err)
		return err
	})
}

func (r *Repository[T]) Delete(ctx context.Context, item *T) error {
	return r.boundary.Do(ctx, "delete", func() error {
		id := r.model.GetID(item)
		start := time.Now()
		res, err := r.coll.DeleteOne(r.session.bind(ctx), r.byID(id))
		r.boundary.Query(ctx, "delete", "deleteOne", []any{id}, start, err)
		if err != nil {
			return err
		}
		if res.DeletedCount == 0 {
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
		ctx := r.session.bind(ctx)
		ids, err := r.ids(ctx, q)
		if err != nil || len(ids) == 0 {
			return err
		}
		start := time.Now()
		_, err = r.coll.DeleteMany(ctx, bson.D{{Key: r.idKey, Value: bson.D{{Key: "$in", Value: ids}}}})
		r.boundary.Query(ctx, "delete_where", "deleteMany", []any{ids}, start, err)
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
		if q.empty() {
			return 0, nil
		}
		opts := options.Count()
		if q.Skip != nil {
			opts.SetSkip(*q.Skip)
		}
		if q.Limit != nil {
			opts.SetLimit(*q.Limit)
		}
		filter := q.Filter()
		start := time.Now()
		n, err := r.coll.CountDocuments(r.session.bind(ctx), filter, opts)
		r.boundary.Query(ctx, "count", "countDocuments", []any{filter}, start, err)
		return n, err
	})
}

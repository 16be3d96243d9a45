package mongo

import (
	"reflect"
	"strings"

	"github.com/seb7887/sietch"
	"github.com/seb7887/sietch/inmemory"
	"go.mongodb.org/mongo-driver/bson"
)

// Query is the query state of the mongo backend: the arguments of a
// collection Find.
type Query struct {
	Filters    []bson.D
	Sort       bson.D
	Skip       *int64
	Limit      *int64
	Projection bson.D
}

func (q *Query) clone() *Query {
	c := *q
	c.Filters = append([]bson.D(nil), q.Filters...)
	c.Sort = append(bson.D(nil), q.Sort...)
	c.Projection = append(bson.D(nil), q.Projection...)
	return &c
}

// Filter merges the accumulated filters into one document.
func (q *Query) Filter() bson.D {
	switch len(q.Filters) {
	case 0:
		return bson.D{}
	case 1:
		return q.Filters[0]
	}
	and := make(bson.A, len(q.Filters))
	for i, f := range q.Filters {
		and[i] = f
	}
	return bson.D{{Key: "$and", Value: and}}
}

// empty reports a zero limit, which mongo would read as no limit at all.
func (q *Query) empty() bool {
	return q.Limit != nil && *q.Limit == 0
}

// Specs lowers specifications onto a *Query.
type Specs[T any] struct{}

func invalid(format string, args ...any) error {
	return sietch.Errorf(sietch.ErrInvalidQuery, "", format, args...)
}

// bsonName returns the document key of a struct field.
func bsonName(f reflect.StructField) string {
	tag, _, _ := strings.Cut(f.Tag.Get("bson"), ",")
	switch tag {
	case "-":
		return ""
	case "":
		return strings.ToLower(f.Name)
	}
	return tag
}

// lookupKey finds the document key for a field reference: the bson key
// itself or the Go field name, case-insensitively.
func lookupKey(typ reflect.Type, name string) (string, bool) {
	if typ == nil {
		return "", false
	}
	if typ.Kind() == reflect.Ptr {
		typ = typ.Elem()
	}
	if typ.Kind() != reflect.Struct {
		return "", false
	}
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		if f.IsExported() && bsonName(f) == name && name != "" {
			return name, true
		}
	}
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		if f.IsExported() && bsonName(f) != "" && strings.EqualFold(f.Name, name) {
			return bsonName(f), true
		}
	}
	return "", false
}

// resolve maps a field path to a document key. The first segment must be a
// field of the entity; deeper segments address embedded documents as is.
func resolve(typ reflect.Type, path string) (string, error) {
	segs := sietch.SplitPath(path)
	if len(segs) == 0 {
		return "", invalid("empty field path")
	}
	key, ok := lookupKey(typ, segs[0])
	if !ok {
		return "", invalid("unknown field %q", segs[0])
	}
	segs[0] = key
	return strings.Join(segs, "."), nil
}

func (Specs[T]) Filter(f *sietch.Filter) sietch.Specification[*Query] {
	return sietch.SpecFunc[*Query](func(q *Query, sc sietch.SpecContext) (*Query, error) {
		doc, err := lowerFilter(sc.Model.Type, f)
		if err != nil {
			return nil, err
		}
		out := q.clone()
		out.Filters = append(out.Filters, doc)
		return out, nil
	})
}

func lowerFilter(typ reflect.Type, f *sietch.Filter) (bson.D, error) {
	return sietch.Fold(f, sietch.FilterVisitor[bson.D]{
		Leaf: func(conds []sietch.Condition) (bson.D, error) {
			if len(conds) == 0 {
				return bson.D{}, nil
			}
			docs := make(bson.A, 0, len(conds))
			for _, c := range conds {
				key, err := resolve(typ, c.Field)
				if err != nil {
					return nil, err
				}
				op, err := operator(c)
				if err != nil {
					return nil, err
				}
				docs = append(docs, bson.D{{Key: key, Value: op}})
			}
			if len(docs) == 1 {
				return docs[0].(bson.D), nil
			}
			return bson.D{{Key: "$and", Value: docs}}, nil
		},
		And: func(l, r bson.D) (bson.D, error) {
			return bson.D{{Key: "$and", Value: bson.A{l, r}}}, nil
		},
		Or: func(l, r bson.D) (bson.D, error) {
			return bson.D{{Key: "$or", Value: bson.A{l, r}}}, nil
		},
		Not: func(in bson.D) (bson.D, error) {
			return bson.D{{Key: "$nor", Value: bson.A{in}}}, nil
		},
	})
}

func operator(c sietch.Condition) (bson.D, error) {
	v := c.Value
	switch c.Operator {
	case sietch.OpEq, sietch.OpIs:
		return bson.D{{Key: "$eq", Value: v}}, nil
	case sietch.OpNot:
		return bson.D{{Key: "$ne", Value: v}}, nil
	case sietch.OpGt:
		return bson.D{{Key: "$gt", Value: v}}, nil
	case sietch.OpGte:
		return bson.D{{Key: "$gte", Value: v}}, nil
	case sietch.OpLt:
		return bson.D{{Key: "$lt", Value: v}}, nil
	case sietch.OpLte:
		return bson.D{{Key: "$lte", Value: v}}, nil
	case sietch.OpLike, sietch.OpRegex:
		pattern, ok := v.(string)
		if !ok {
			return nil, invalid("%s on %s expects a string pattern, got %T", c.Operator, c.Field, v)
		}
		if c.Operator == sietch.OpLike {
			pattern = inmemory.LikePattern(pattern)
		}
		return bson.D{{Key: "$regex", Value: pattern}}, nil
	}
	return nil, invalid("unsupported operator %q on %s", c.Operator, c.Field)
}

func (Specs[T]) Order(o sietch.OrderSpec) sietch.Specification[*Query] {
	return sietch.SpecFunc[*Query](func(q *Query, sc sietch.SpecContext) (*Query, error) {
		out := q.clone()
		for _, k := range o.Keys {
			key, err := resolve(sc.Model.Type, k.Field)
			if err != nil {
				return nil, err
			}
			dir := 1
			if k.Desc {
				dir = -1
			}
			out.Sort = append(out.Sort, bson.E{Key: key, Value: dir})
		}
		return out, nil
	})
}

func (Specs[T]) Paginate(p sietch.PaginateSpec) sietch.Specification[*Query] {
	return sietch.SpecFunc[*Query](func(q *Query, _ sietch.SpecContext) (*Query, error) {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		out := q.clone()
		if p.Offset != nil {
			skip := int64(*p.Offset)
			out.Skip = &skip
		}
		if p.Limit != nil {
			limit := int64(*p.Limit)
			out.Limit = &limit
		}
		return out, nil
	})
}

// Join is a no-op: related documents are embedded, not joined.
func (Specs[T]) Join(sietch.JoinSpec) sietch.Specification[*Query] {
	return sietch.SpecFunc[*Query](func(q *Query, _ sietch.SpecContext) (*Query, error) {
		return q, nil
	})
}

// Only projects the listed fields and the id.
func (Specs[T]) Only(o sietch.OnlySpec) sietch.Specification[*Query] {
	return sietch.SpecFunc[*Query](func(q *Query, sc sietch.SpecContext) (*Query, error) {
		id, ok := lookupKey(sc.Model.Type, sc.Model.IDField)
		if !ok {
			return nil, invalid("unknown id field %q", sc.Model.IDField)
		}
		out := q.clone()
		out.Projection = bson.D{{Key: id, Value: 1}}
		for _, f := range o.Fields {
			key, err := resolve(sc.Model.Type, f)
			if err != nil {
				return nil, err
			}
			if key != id {
				out.Projection = append(out.Projection, bson.E{Key: key, Value: 1})
			}
		}
		return out, nil
	})
}

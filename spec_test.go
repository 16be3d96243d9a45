package sietch_test

import (
	"testing"

	"github.com/seb7887/sietch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// trace records the specs it lowers as strings.
type trace struct{}

func (trace) step(name string) sietch.Specification[[]string] {
	return sietch.SpecFunc[[]string](func(q []string, _ sietch.SpecContext) ([]string, error) {
		return append(q, name), nil
	})
}

func (s trace) Filter(f *sietch.Filter) sietch.Specification[[]string]  { return s.step(f.String()) }
func (s trace) Order(o sietch.OrderSpec) sietch.Specification[[]string] { return s.step(o.String()) }
func (s trace) Paginate(p sietch.PaginateSpec) sietch.Specification[[]string] {
	return s.step(p.String())
}
func (s trace) Join(j sietch.JoinSpec) sietch.Specification[[]string] { return s.step(j.String()) }
func (s trace) Only(o sietch.OnlySpec) sietch.Specification[[]string] { return s.step(o.String()) }

func TestApply(t *testing.T) {
	native := sietch.NativeSpec("raw", func(q []string, _ sietch.SpecContext) ([]string, error) {
		return append(q, "raw"), nil
	})
	got, err := sietch.Apply[[]string](trace{}, nil, sietch.SpecContext{},
		sietch.Where("name", "A"),
		sietch.Order("-balance", "owner__name"),
		sietch.Paginate(10, 20),
		sietch.Join("owner"),
		sietch.Only("name"),
		native,
	)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"{name eq A}",
		"order(-balance, owner.name)",
		"paginate(limit=10, offset=20)",
		"join(owner)",
		"only(name)",
		"raw",
	}, got)

	foreign := sietch.NativeSpec("bson", func(q int, _ sietch.SpecContext) (int, error) { return q, nil })
	_, err = sietch.Apply[[]string](trace{}, nil, sietch.SpecContext{}, foreign)
	assert.ErrorIs(t, err, sietch.ErrInvalidQuery)

	_, err = sietch.Lower[[]string](trace{}, nil)
	assert.ErrorIs(t, err, sietch.ErrInvalidQuery)
}

func TestPaginateSpec(t *testing.T) {
	assert.NoError(t, sietch.Paginate(0, 0).Validate())
	assert.ErrorIs(t, sietch.Limit(-1).Validate(), sietch.ErrInvalidQuery)
	assert.ErrorIs(t, sietch.Offset(-5).Validate(), sietch.ErrInvalidQuery)
	assert.Equal(t, "paginate(offset=3)", sietch.Offset(3).String())
	assert.Nil(t, sietch.Limit(3).Offset)
}

func TestJoinTarget(t *testing.T) {
	j := sietch.JoinWith("owner", map[string]any{"on": "owner_id", "preload": true})
	target := j.Targets[0]
	assert.Equal(t, "owner_id", target.Arg("on", "id"))
	assert.Equal(t, "left", target.Arg("kind", "left"))
	assert.True(t, target.Flag("preload"))
	assert.False(t, target.Flag("missing"))
}

package fieldpath

import (
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type address struct {
	City string `json:"city"`
}

type order struct {
	Total float64 `db:"total"`
}

type customer struct {
	ID      string            `db:"id"`
	Name    string            `db:"name"`
	Home    *address          `db:"home"`
	Orders  []order           `db:"orders"`
	Tags    []string          `db:"tags"`
	Labels  map[string]string `db:"labels"`
	Created time.Time
	secret  string
}

func TestCheck(t *testing.T) {
	typ := reflect.TypeOf(customer{})
	for _, path := range []string{"id", "name", "home.city", "orders.total", "tags", "labels.team", "created", "Created"} {
		assert.NoError(t, Check(typ, path), path)
	}
	for _, path := range []string{"missing", "name.first", "home.zip", "secret", ""} {
		assert.Error(t, Check(typ, path), path)
	}
}

func TestValues(t *testing.T) {
	c := customer{
		Name:   "Ann",
		Home:   &address{City: "Vilnius"},
		Orders: []order{{Total: 10}, {Total: 25}},
		Tags:   []string{"vip", "eu"},
		Labels: map[string]string{"team": "core"},
	}
	v := reflect.ValueOf(&c)

	assert.Equal(t, "Vilnius", First(v, "home.city"))
	assert.Equal(t, "core", First(v, "labels.team"))

	totals := Values(v, "orders.total", false)
	require.Len(t, totals, 2)
	assert.Equal(t, 25.0, Interface(totals[1]))

	assert.Len(t, Values(v, "tags", true), 2)
	assert.Len(t, Values(v, "tags", false), 1)

	c.Home = nil
	vals := Values(reflect.ValueOf(&c), "home", false)
	require.Len(t, vals, 1)
	assert.Nil(t, Interface(vals[0]))
	assert.Empty(t, Values(reflect.ValueOf(&c), "home.city", false))
}

func TestSet(t *testing.T) {
	var c customer
	v := reflect.ValueOf(&c).Elem()

	require.NoError(t, Set(v, "name", "Bob"))
	require.NoError(t, Set(v, "home.city", "Kaunas"))
	require.NoError(t, Set(v, "labels.team", "ops"))
	assert.Equal(t, "Bob", c.Name)
	assert.Equal(t, "Kaunas", c.Home.City)
	assert.Equal(t, "ops", c.Labels["team"])

	assert.Error(t, Set(v, "name", 12))
	assert.Error(t, Set(v, "missing", "x"))
	assert.Error(t, Set(v, "orders.total", 1))
}

func TestCopyAndDeepCopy(t *testing.T) {
	src := &customer{ID: "1", Name: "Ann", Home: &address{City: "Riga"}, Tags: []string{"a"}, Labels: map[string]string{"k": "v"}}

	cp := DeepCopy(src)
	assert.Equal(t, src, cp)
	cp.Home.City = "Tallinn"
	cp.Tags[0] = "b"
	cp.Labels["k"] = "w"
	assert.Equal(t, "Riga", src.Home.City)
	assert.Equal(t, "a", src.Tags[0])
	assert.Equal(t, "v", src.Labels["k"])

	var dst customer
	Copy(reflect.ValueOf(&dst).Elem(), reflect.ValueOf(src).Elem(), "home.city")
	Copy(reflect.ValueOf(&dst).Elem(), reflect.ValueOf(src).Elem(), "id")
	assert.Equal(t, "1", dst.ID)
	assert.Equal(t, "Riga", dst.Home.City)
	assert.Empty(t, dst.Name)
}

func TestCompare(t *testing.T) {
	tests := []struct {
		a, b any
		want int
		ok   bool
	}{
		{1, 2.5, -1, true},
		{int64(3), 3, 0, true},
		{"b", "a", 1, true},
		{nil, 1, -1, true},
		{false, true, -1, true},
		{time.Unix(2, 0), time.Unix(1, 0), 1, true},
		{"a", 1, 0, false},
		{int64(9007199254740993), int64(9007199254740992), 1, true},
		{uint64(18446744073709551615), int64(-1), 1, true},
		{int64(-1), uint64(1), -1, true},
		{uint64(1 << 63), int64(1<<63 - 1), 1, true},
	}
	for _, tc := range tests {
		got, ok := Compare(tc.a, tc.b)
		assert.Equal(t, tc.ok, ok, "%v vs %v", tc.a, tc.b)
		if ok {
			assert.Equal(t, tc.want, got, "%v vs %v", tc.a, tc.b)
		}
	}

	assert.True(t, Equal(int32(5), 5.0))
	assert.False(t, Equal(nil, 0))
	assert.True(t, Equal(nil, nil))
	assert.False(t, Equal(int64(9007199254740993), int64(9007199254740992)))
	assert.True(t, Equal(uint32(7), int64(7)))
}

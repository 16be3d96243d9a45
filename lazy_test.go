package sietch_test

import (
	"context"
	"errors"
	"testing"

	"github.com/seb7887/sietch"
	"github.com/seb7887/sietch/inmemory"
	"github.com/seb7887/sietch/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLazyCommand_RunsOnce(t *testing.T) {
	calls := 0
	cmd := sietch.NewLazyCommand("numbers", func() ([]int, error) {
		calls++
		return []int{1, 2, 3}, nil
	})
	assert.Equal(t, "Lazy<numbers>", cmd.String())
	assert.Zero(t, calls)

	ok, err := cmd.Bool()
	require.NoError(t, err)
	assert.True(t, ok)

	var seen []any
	for v := range cmd.Iter() {
		seen = append(seen, v)
	}
	assert.Equal(t, []any{1, 2, 3}, seen)
	assert.True(t, cmd.Equal([]int{1, 2, 3}))
	assert.Equal(t, 1, calls)
}

func TestLazyCommand_Errors(t *testing.T) {
	boom := errors.New("boom")
	cmd := sietch.NewLazyCommand("broken", func() (int, error) { return 0, boom })

	assert.ErrorIs(t, cmd.Err(), boom)
	_, err := cmd.Bool()
	assert.ErrorIs(t, err, boom)
	assert.False(t, cmd.Equal(0))
	for range cmd.Iter() {
		t.Fatal("failed command must not yield")
	}
}

func TestLazyCommand_Bool(t *testing.T) {
	empty := sietch.NewLazyCommand("empty", func() ([]int, error) { return nil, nil })
	ok, err := empty.Bool()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, empty.Equal([]int{}))

	zero := sietch.NewLazyCommand("zero", func() (int64, error) { return 0, nil })
	ok, _ = zero.Bool()
	assert.False(t, ok)
}

func TestLazyRepositoryCommands(t *testing.T) {
	repo, err := inmemory.New(inmemory.NewSession[testutils.Account](), testutils.AccountModel())
	require.NoError(t, err)
	ctx := context.Background()

	filter := sietch.LazyFilter[testutils.Account](ctx, repo, sietch.Where("active", true), sietch.Order("name"))
	get := sietch.LazyGet[testutils.Account](ctx, repo, sietch.Where("name", "C"))

	// commands are bound before the data exists
	testutils.Seed(t, repo, testutils.Accounts()...)

	var names []string
	for _, acc := range sietch.Elements(filter) {
		names = append(names, acc.Name)
	}
	assert.Equal(t, []string{"A", "C", "E"}, names)

	acc, err := get.Get()
	require.NoError(t, err)
	assert.Equal(t, "acc-3", acc.ID)

	missing := sietch.LazyGet[testutils.Account](ctx, repo, sietch.Where("name", "Z"))
	assert.ErrorIs(t, missing.Err(), sietch.ErrNotFound)
}

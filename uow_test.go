package sietch_test

import (
	"context"
	"errors"
	"testing"

	"github.com/seb7887/sietch"
	"github.com/seb7887/sietch/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTx struct {
	calls       []string
	commitErr   error
	rollbackErr error
}

func (f *fakeTx) Begin(context.Context) error { f.calls = append(f.calls, "begin"); return nil }
func (f *fakeTx) Commit(context.Context) error {
	f.calls = append(f.calls, "commit")
	return f.commitErr
}
func (f *fakeTx) Rollback(context.Context) error {
	f.calls = append(f.calls, "rollback")
	return f.rollbackErr
}
func (f *fakeTx) Release(context.Context) error { f.calls = append(f.calls, "release"); return nil }

func newUnit(tx sietch.Transactor) *sietch.Unit[testutils.Account] {
	return sietch.NewUnitOfWork[testutils.Account](nil, tx, sietch.NewBoundary("accounts", nil))
}

func TestUnit_StateMachine(t *testing.T) {
	ctx := context.Background()
	tx := &fakeTx{}
	u := newUnit(tx)

	assert.False(t, u.Active())
	assert.ErrorIs(t, u.Commit(ctx), sietch.ErrInvalidQuery)
	assert.NoError(t, u.Rollback(ctx))

	require.NoError(t, u.Begin(ctx))
	require.NoError(t, u.Begin(ctx))
	assert.True(t, u.Active())
	require.NoError(t, u.Commit(ctx))
	assert.False(t, u.Active())

	require.NoError(t, u.Begin(ctx))
	require.NoError(t, u.Close(ctx))
	require.NoError(t, u.Close(ctx))
	assert.False(t, u.Active())

	assert.Equal(t, []string{"begin", "commit", "begin", "rollback", "release"}, tx.calls)
}

func TestUnit_CloseWithoutBegin(t *testing.T) {
	tx := &fakeTx{}
	u := newUnit(tx)
	require.NoError(t, u.Close(context.Background()))
	assert.Equal(t, []string{"release"}, tx.calls)
}

func TestUnit_ErrorsAreWrapped(t *testing.T) {
	ctx := context.Background()
	tx := &fakeTx{commitErr: errors.New("serialization failure")}
	u := newUnit(tx)

	require.NoError(t, u.Begin(ctx))
	err := u.Commit(ctx)
	assert.ErrorIs(t, err, sietch.ErrDataLayer)
	assert.False(t, u.Active())
}

func TestRun(t *testing.T) {
	ctx := context.Background()

	t.Run("success closes without commit", func(t *testing.T) {
		tx := &fakeTx{}
		require.NoError(t, sietch.Run[testutils.Account](ctx, newUnit(tx), func(sietch.Repository[testutils.Account]) error { return nil }))
		assert.Equal(t, []string{"begin", "rollback", "release"}, tx.calls)
	})

	t.Run("failure rolls back", func(t *testing.T) {
		tx := &fakeTx{rollbackErr: errors.New("connection lost")}
		boom := errors.New("boom")
		err := sietch.Run[testutils.Account](ctx, newUnit(tx), func(sietch.Repository[testutils.Account]) error { return boom })
		assert.ErrorIs(t, err, boom)
		assert.ErrorIs(t, err, sietch.ErrDataLayer)
		assert.Equal(t, []string{"begin", "rollback", "release"}, tx.calls)
	})

	t.Run("panic rolls back and propagates", func(t *testing.T) {
		tx := &fakeTx{}
		u := newUnit(tx)
		assert.PanicsWithValue(t, "boom", func() {
			_ = sietch.Run[testutils.Account](ctx, u, func(sietch.Repository[testutils.Account]) error { panic("boom") })
		})
		assert.False(t, u.Active())
		assert.Equal(t, []string{"begin", "rollback", "release"}, tx.calls)
	})

	t.Run("with tx commits", func(t *testing.T) {
		tx := &fakeTx{}
		require.NoError(t, sietch.WithTx[testutils.Account](ctx, newUnit(tx), func(sietch.Repository[testutils.Account]) error { return nil }))
		assert.Equal(t, []string{"begin", "commit", "release"}, tx.calls)
	})

	t.Run("canceled context still rolls back", func(t *testing.T) {
		tx := &fakeTx{}
		u := newUnit(tx)
		cctx, cancel := context.WithCancel(ctx)
		require.NoError(t, u.Begin(cctx))
		cancel()
		require.NoError(t, u.Close(cctx))
		assert.Equal(t, []string{"begin", "rollback", "release"}, tx.calls)
	})
}

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

type Account = testutils.Account

func newPair(t *testing.T) (*inmemory.Repository[Account], *inmemory.Repository[Account]) {
	t.Helper()
	primary, err := inmemory.New(inmemory.NewSession[Account](), testutils.AccountModel())
	require.NoError(t, err)
	secondary, err := inmemory.New(inmemory.NewSession[Account](), testutils.AccountModel())
	require.NoError(t, err)
	return primary, secondary
}

func TestDoubleRepository_Strategies(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		strategy   sietch.CacheStrategy
		wantCached int64
	}{
		{sietch.CacheStrategyWriteThrough, 2},
		{sietch.CacheStrategyWriteAround, 0},
		{sietch.CacheStrategyWriteBack, 2},
	}
	for _, tc := range tests {
		t.Run(string(tc.strategy), func(t *testing.T) {
			primary, secondary := newPair(t)
			repo := sietch.NewDoubleRepository[Account](primary, secondary, testutils.AccountModel(), sietch.WithStrategy[Account](tc.strategy))

			for _, acc := range testutils.Accounts()[:2] {
				_, err := repo.Save(ctx, &acc)
				require.NoError(t, err)
			}
			// Close drains the write-back pool
			repo.Close()

			n, err := secondary.Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, tc.wantCached, n)

			n, err = primary.Count(ctx)
			require.NoError(t, err)
			assert.EqualValues(t, 2, n)
		})
	}
}

func TestDoubleRepository_ReadFallback(t *testing.T) {
	ctx := context.Background()
	primary, secondary := newPair(t)
	testutils.Seed(t, primary, testutils.Accounts()...)

	repo := sietch.NewDoubleRepository[Account](primary, secondary, testutils.AccountModel())

	acc, err := repo.Get(ctx, sietch.Where("name", "C"))
	require.NoError(t, err)
	assert.Equal(t, "acc-3", acc.ID)

	// the miss populated the secondary
	cached, err := secondary.Get(ctx, sietch.Where("id", "acc-3"))
	require.NoError(t, err)
	assert.Equal(t, *acc, *cached)

	_, err = repo.Get(ctx, sietch.Where("name", "Z"))
	assert.ErrorIs(t, err, sietch.ErrNotFound)
}

func TestDoubleRepository_Deletes(t *testing.T) {
	ctx := context.Background()
	primary, secondary := newPair(t)
	repo := sietch.NewDoubleRepository[Account](primary, secondary, testutils.AccountModel())
	for _, acc := range testutils.Accounts() {
		_, err := repo.Save(ctx, &acc)
		require.NoError(t, err)
	}

	victim := testutils.Accounts()[0]
	require.NoError(t, repo.Delete(ctx, &victim))
	require.NoError(t, repo.DeleteWhere(ctx, sietch.Where("active", false)))
	require.NoError(t, repo.UpdateWhere(ctx, sietch.Fields{"balance": 1}, sietch.Where("name", "C")))

	for _, r := range []sietch.Repository[Account]{primary, secondary} {
		left, err := r.Filter(ctx, sietch.Order("name"))
		require.NoError(t, err)
		assert.Equal(t, []string{"C", "E"}, testutils.Names(left))
		assert.EqualValues(t, 1, left[0].Balance)
	}
}

type brokenRepository struct {
	sietch.Repository[Account]
}

func (brokenRepository) Save(context.Context, *Account) (*Account, error) {
	return nil, sietch.NewError(sietch.ErrDataLayer, "cache.save", errors.New("connection refused"))
}

func (brokenRepository) Count(context.Context, ...sietch.Spec) (int64, error) {
	return 0, sietch.NewError(sietch.ErrDataLayer, "cache.count", errors.New("connection refused"))
}

func TestDoubleRepository_SecondaryFailures(t *testing.T) {
	ctx := context.Background()
	primary, _ := newPair(t)
	logger := &recordingLogger{}
	repo := sietch.NewDoubleRepository[Account](primary, brokenRepository{}, testutils.AccountModel(), sietch.WithDoubleLogger[Account](logger))

	_, err := repo.Save(ctx, &Account{ID: "1", Name: "Ann"})
	require.NoError(t, err)
	assert.Equal(t, []string{"secondary_save"}, logger.operations)

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestDoubleRepository_FavoredRepository(t *testing.T) {
	ctx := context.Background()

	t.Run("primary by default", func(t *testing.T) {
		primary, secondary := newPair(t)
		repo := sietch.NewDoubleRepository[Account](primary, secondary, testutils.AccountModel(), sietch.WithStrategy[Account](sietch.CacheStrategyWriteAround))
		for _, acc := range testutils.Accounts() {
			_, err := repo.Save(ctx, &acc)
			require.NoError(t, err)
		}

		n, err := repo.Count(ctx)
		require.NoError(t, err)
		assert.EqualValues(t, 5, n)

		acc := testutils.Accounts()[0]
		acc.Name = "changed"
		modified, err := repo.IsModified(ctx, &acc)
		require.NoError(t, err)
		assert.True(t, modified)

		require.NoError(t, repo.Refresh(ctx, &acc))
		assert.Equal(t, "A", acc.Name)
	})

	t.Run("secondary", func(t *testing.T) {
		primary, secondary := newPair(t)
		testutils.Seed(t, primary, testutils.Accounts()...)
		testutils.Seed(t, secondary, testutils.Accounts()[0])
		repo := sietch.NewDoubleRepository[Account](primary, secondary, testutils.AccountModel(), sietch.WithFavorPrimary[Account](false))

		n, err := repo.Count(ctx)
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)
	})

	t.Run("secondary failing", func(t *testing.T) {
		primary, _ := newPair(t)
		testutils.Seed(t, primary, testutils.Accounts()...)
		repo := sietch.NewDoubleRepository[Account](primary, brokenRepository{}, testutils.AccountModel(), sietch.WithFavorPrimary[Account](false))

		n, err := repo.Count(ctx)
		require.NoError(t, err)
		assert.EqualValues(t, 5, n)
	})
}

func TestDoubleRepository_WriteBackBulkOrdering(t *testing.T) {
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		primary, secondary := newPair(t)
		repo := sietch.NewDoubleRepository[Account](primary, secondary, testutils.AccountModel(), sietch.WithStrategy[Account](sietch.CacheStrategyWriteBack))
		for _, acc := range testutils.Accounts() {
			_, err := repo.Save(ctx, &acc)
			require.NoError(t, err)
		}
		require.NoError(t, repo.UpdateWhere(ctx, sietch.Fields{"balance": 7}, sietch.Where("active", true)))
		require.NoError(t, repo.DeleteWhere(ctx, sietch.Where("active", false)))
		repo.Close()

		for _, r := range []sietch.Repository[Account]{primary, secondary} {
			left, err := r.Filter(ctx, sietch.Order("name"))
			require.NoError(t, err)
			require.Equal(t, []string{"A", "C", "E"}, testutils.Names(left))
			for _, acc := range left {
				require.EqualValues(t, 7, acc.Balance)
			}
		}
	}
}

package inmemory

import (
	"context"
	"testing"

	"github.com/seb7887/sietch"
	"github.com/seb7887/sietch/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type Account = testutils.Account

func newRepository(t *testing.T) *Repository[Account] {
	t.Helper()
	repo, err := New(NewSession[Account](), testutils.AccountModel())
	require.NoError(t, err)
	return repo
}

func TestRepositorySuite(t *testing.T) {
	testutils.RunRepositorySuite(t, func(t *testing.T) (sietch.Repository[Account], sietch.UnitOfWork[Account]) {
		repo := newRepository(t)
		return repo, NewUnitOfWork(repo)
	}, testutils.Features{Regex: true, ReadYourWrites: true, EagerFieldCheck: true})
}

func TestNew(t *testing.T) {
	_, err := New[Account](nil, testutils.AccountModel())
	assert.Error(t, err)

	_, err = New(NewSession[Account](), sietch.Model[Account]{Name: "accounts"})
	assert.Error(t, err)
}

func TestRepository_CopiesValues(t *testing.T) {
	repo := newRepository(t)
	ctx := context.Background()

	acc := Account{ID: "1", Name: "Ann", Balance: 10}
	_, err := repo.Save(ctx, &acc)
	require.NoError(t, err)
	acc.Balance = 99

	got, err := repo.Get(ctx, sietch.Where("id", "1"))
	require.NoError(t, err)
	assert.EqualValues(t, 10, got.Balance)

	got.Balance = 77
	again, err := repo.Get(ctx, sietch.Where("id", "1"))
	require.NoError(t, err)
	assert.EqualValues(t, 10, again.Balance)
}

func TestRepository_UpdateWhereIsAtomic(t *testing.T) {
	repo := newRepository(t)
	ctx := context.Background()
	testutils.Seed(t, repo, testutils.Accounts()...)

	err := repo.UpdateWhere(ctx, sietch.Fields{"balance": "lots"}, sietch.Where("active", true))
	assert.ErrorIs(t, err, sietch.ErrInvalidQuery)

	err = repo.UpdateWhere(ctx, sietch.Fields{"nickname": "x"})
	assert.ErrorIs(t, err, sietch.ErrInvalidQuery)

	all, err := repo.Filter(ctx, sietch.Order("name"))
	require.NoError(t, err)
	assert.Equal(t, testutils.Accounts(), all)
}

func TestRepository_InvalidPatterns(t *testing.T) {
	repo := newRepository(t)
	ctx := context.Background()

	tests := []struct {
		name string
		spec sietch.Spec
	}{
		{"regex syntax", sietch.Where("name__regex", "(")},
		{"like on number", sietch.Where("name__like", 3)},
		{"unknown order", sietch.Order("nickname")},
		{"unknown only", sietch.Only("nickname")},
		{"nil spec", nil},
		{"foreign native", sietch.NativeSpec("raw", func(q string, _ sietch.SpecContext) (string, error) { return q, nil })},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := repo.Filter(ctx, tc.spec)
			assert.ErrorIs(t, err, sietch.ErrInvalidQuery)
		})
	}
}

func TestRepository_NativeSpec(t *testing.T) {
	repo := newRepository(t)
	ctx := context.Background()
	testutils.Seed(t, repo, testutils.Accounts()...)

	evenBalances := sietch.NativeSpec("even", func(items []*Account, _ sietch.SpecContext) ([]*Account, error) {
		var out []*Account
		for _, a := range items {
			if a.Balance%200 == 0 {
				out = append(out, a)
			}
		}
		return out, nil
	})
	got, err := repo.Filter(ctx, evenBalances)
	require.NoError(t, err)
	assert.Equal(t, []string{"B", "D"}, testutils.Names(got))
}

func TestRepository_CanceledContext(t *testing.T) {
	repo := newRepository(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := repo.Filter(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, sietch.ErrDataLayer)
}

func TestUnitOfWork_BypassingReaders(t *testing.T) {
	repo := newRepository(t)
	ctx := context.Background()
	uow := NewUnitOfWork(repo)

	require.NoError(t, uow.Begin(ctx))
	require.NoError(t, uow.Begin(ctx))
	_, err := uow.Repository().Save(ctx, &Account{ID: "pending", Name: "P"})
	require.NoError(t, err)

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, uow.Commit(ctx))
	n, err = repo.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	require.NoError(t, uow.Close(ctx))
}

func TestProvider(t *testing.T) {
	reg := sietch.NewRegistry[Account]()
	reg.Register("internal", Provider(testutils.AccountModel()))

	session := NewSession[Account]()
	uow, err := reg.CreateUnitOfWork("internal", session)
	require.NoError(t, err)

	err = sietch.WithTx(context.Background(), uow, func(r sietch.Repository[Account]) error {
		_, err := r.Save(context.Background(), &Account{ID: "x", Name: "X"})
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 1, session.Len())

	_, err = reg.CreateRepository("internal", "not a session")
	assert.Error(t, err)

	specs, err := sietch.SpecsFor[[]*Account](reg, "internal")
	require.NoError(t, err)
	assert.NotNil(t, specs)
}

type wallet struct {
	ID    string `json:"id"`
	Limit *int64 `json:"limit"`
}

func TestRepository_NegatedComparisonOnNil(t *testing.T) {
	ctx := context.Background()
	repo, err := New(NewSession[wallet](), sietch.Model[wallet]{
		Name: "wallets",
		ID:   func(w *wallet) *string { return &w.ID },
	})
	require.NoError(t, err)

	limit := int64(10)
	for _, w := range []wallet{{ID: "capped", Limit: &limit}, {ID: "open"}} {
		_, err := repo.Save(ctx, &w)
		require.NoError(t, err)
	}

	got, err := repo.Filter(ctx, sietch.Where("limit__gt", 5))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "capped", got[0].ID)

	got, err = repo.Filter(ctx, sietch.Not(sietch.Where("limit__gt", 5)))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "open", got[0].ID)
}

package testutils

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/seb7887/sietch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Backend opens an empty store and returns a repository plus a unit of work
// over the same store.
type Backend func(t *testing.T) (sietch.Repository[Account], sietch.UnitOfWork[Account])

// Features tunes the suite to what a backend supports.
type Features struct {
	// Regex enables the regex operator tests.
	Regex bool
	// ReadYourWrites means reads through a unit's repository see the unit's
	// pending writes.
	ReadYourWrites bool
	// EagerFieldCheck means unknown fields fail with ErrInvalidQuery even
	// when no entity is stored.
	EagerFieldCheck bool
}

// Context returns a short lived test context.
func Context(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// Seed saves accounts and fails the test on error.
func Seed(t *testing.T, repo sietch.Repository[Account], accounts ...Account) {
	t.Helper()
	ctx := Context(t)
	for i := range accounts {
		_, err := repo.Save(ctx, &accounts[i])
		require.NoError(t, err)
	}
}

func sortedNames(accounts []Account) []string {
	names := Names(accounts)
	sort.Strings(names)
	return names
}

// RunRepositorySuite checks the repository and unit of work contracts
// against a backend.
func RunRepositorySuite(t *testing.T, open Backend, features Features) {
	t.Run("exact one", func(t *testing.T) {
		repo, _ := open(t)
		ctx := Context(t)
		Seed(t, repo,
			Account{ID: "1", Name: "Bob", Balance: 50},
			Account{ID: "2", Name: "Ann", Balance: 150},
			Account{ID: "3", Name: "Cid", Balance: 150},
		)

		rich, err := repo.Filter(ctx, sietch.Where("balance__gte", 100))
		require.NoError(t, err)
		assert.Equal(t, []string{"Ann", "Cid"}, sortedNames(rich))

		rich, err = repo.Filter(ctx, sietch.Where("balance__gte", 100), sietch.Order("name"))
		require.NoError(t, err)
		assert.Equal(t, []string{"Ann", "Cid"}, Names(rich))

		_, err = repo.Get(ctx, sietch.Where("balance__gte", 100))
		assert.ErrorIs(t, err, sietch.ErrMultipleResults)
		assert.ErrorIs(t, err, sietch.ErrDataLayer)

		bob, err := repo.Get(ctx, sietch.Where("name", "Bob"))
		require.NoError(t, err)
		assert.Equal(t, Account{ID: "1", Name: "Bob", Balance: 50}, *bob)

		_, err = repo.Get(ctx, sietch.Where("name", "Zed"))
		assert.ErrorIs(t, err, sietch.ErrNotFound)
	})

	t.Run("filter algebra", func(t *testing.T) {
		repo, _ := open(t)
		ctx := Context(t)
		Seed(t, repo, Accounts()...)

		a := sietch.Where("balance__gt", 250)
		b := sietch.Where("active", true)

		tests := []struct {
			name  string
			specs []sietch.Spec
			want  []string
		}{
			{"and", []sietch.Spec{a.And(b)}, []string{"C", "E"}},
			{"sequential filters", []sietch.Spec{a, b}, []string{"C", "E"}},
			{"or", []sietch.Spec{a.Or(b)}, []string{"A", "C", "D", "E"}},
			{"not", []sietch.Spec{a.Not()}, []string{"A", "B"}},
			{"not of conjunction", []sietch.Spec{sietch.Match(map[string]any{"balance__gt": 250, "active": true}).Not()}, []string{"A", "B", "D"}},
			{"idempotent and", []sietch.Spec{a.And(a)}, []string{"C", "D", "E"}},
			{"excluded middle", []sietch.Spec{a.Or(a.Not())}, []string{"A", "B", "C", "D", "E"}},
			{"double negation", []sietch.Spec{a.Not().Not()}, []string{"C", "D", "E"}},
			{"lt", []sietch.Spec{sietch.Where("balance__lt", 200)}, []string{"A"}},
			{"lte", []sietch.Spec{sietch.Where("balance__lte", 200)}, []string{"A", "B"}},
			{"not operator", []sietch.Spec{sietch.Where("name__not", "A")}, []string{"B", "C", "D", "E"}},
			{"is", []sietch.Spec{sietch.Where("active__is", false)}, []string{"B", "D"}},
			{"like", []sietch.Spec{sietch.Where("id__like", "acc-_")}, []string{"A", "B", "C", "D", "E"}},
			{"like prefix", []sietch.Spec{sietch.Where("name__like", "C%")}, []string{"C"}},
			{"empty filter", []sietch.Spec{sietch.NewFilter()}, []string{"A", "B", "C", "D", "E"}},
		}
		for _, tc := range tests {
			t.Run(tc.name, func(t *testing.T) {
				got, err := repo.Filter(ctx, tc.specs...)
				require.NoError(t, err)
				assert.Equal(t, tc.want, sortedNames(got))
			})
		}

		if features.Regex {
			got, err := repo.Filter(ctx, sietch.Where("name__regex", "[BD]"))
			require.NoError(t, err)
			assert.Equal(t, []string{"B", "D"}, sortedNames(got))
		}
	})

	t.Run("order and paginate", func(t *testing.T) {
		repo, _ := open(t)
		ctx := Context(t)
		Seed(t, repo, Accounts()...)

		got, err := repo.Filter(ctx, sietch.Order("name"), sietch.Paginate(2, 1))
		require.NoError(t, err)
		assert.Equal(t, []string{"B", "C"}, Names(got))

		got, err = repo.Filter(ctx, sietch.Order("active", "-balance"))
		require.NoError(t, err)
		assert.Equal(t, []string{"D", "B", "E", "C", "A"}, Names(got))

		got, err = repo.Filter(ctx, sietch.Order("-name"), sietch.Limit(2))
		require.NoError(t, err)
		assert.Equal(t, []string{"E", "D"}, Names(got))

		got, err = repo.Filter(ctx, sietch.Order("name"), sietch.Offset(3))
		require.NoError(t, err)
		assert.Equal(t, []string{"D", "E"}, Names(got))

		_, err = repo.Filter(ctx, sietch.Limit(-1))
		assert.ErrorIs(t, err, sietch.ErrInvalidQuery)
	})

	t.Run("only", func(t *testing.T) {
		repo, _ := open(t)
		ctx := Context(t)
		Seed(t, repo, Accounts()[0])

		got, err := repo.Get(ctx, sietch.Where("id", "acc-1"), sietch.Only("name"))
		require.NoError(t, err)
		assert.Equal(t, "acc-1", got.ID)
		assert.Equal(t, "A", got.Name)
		assert.Zero(t, got.Balance)
	})

	t.Run("unknown field", func(t *testing.T) {
		repo, _ := open(t)
		ctx := Context(t)
		if !features.EagerFieldCheck {
			Seed(t, repo, Accounts()[0])
		}
		_, err := repo.Filter(ctx, sietch.Where("nickname", "x"))
		assert.ErrorIs(t, err, sietch.ErrInvalidQuery)
	})

	t.Run("save generates id", func(t *testing.T) {
		repo, _ := open(t)
		ctx := Context(t)

		saved, err := repo.Save(ctx, &Account{Name: "New", Balance: 10})
		require.NoError(t, err)
		require.NotEmpty(t, saved.ID)

		got, err := repo.Get(ctx, sietch.Where("id", saved.ID))
		require.NoError(t, err)
		assert.Equal(t, *saved, *got)
	})

	t.Run("save fields", func(t *testing.T) {
		repo, _ := open(t)
		ctx := Context(t)

		saved, err := repo.SaveFields(ctx, sietch.Fields{"id": "f-1", "name": "Fields", "balance": 42})
		require.NoError(t, err)
		assert.Equal(t, Account{ID: "f-1", Name: "Fields", Balance: 42}, *saved)

		_, err = repo.SaveFields(ctx, sietch.Fields{"name": "Bad", "nickname": "x"})
		assert.ErrorIs(t, err, sietch.ErrInvalidQuery)
	})

	t.Run("update", func(t *testing.T) {
		repo, _ := open(t)
		ctx := Context(t)
		Seed(t, repo, Accounts()...)

		acc, err := repo.Get(ctx, sietch.Where("name", "A"))
		require.NoError(t, err)
		acc.Balance = 999
		require.NoError(t, repo.Update(ctx, acc))

		got, err := repo.Get(ctx, sietch.Where("id", acc.ID))
		require.NoError(t, err)
		assert.EqualValues(t, 999, got.Balance)

		err = repo.Update(ctx, &Account{ID: "missing", Name: "X"})
		assert.ErrorIs(t, err, sietch.ErrNotFound)
	})

	t.Run("update where", func(t *testing.T) {
		repo, _ := open(t)
		ctx := Context(t)
		Seed(t, repo, Accounts()...)

		require.NoError(t, repo.UpdateWhere(ctx, sietch.Fields{"active": true}, sietch.Where("active", false)))
		n, err := repo.Count(ctx, sietch.Where("active", true))
		require.NoError(t, err)
		assert.EqualValues(t, 5, n)

		err = repo.UpdateWhere(ctx, sietch.Fields{}, sietch.Where("active", true))
		assert.ErrorIs(t, err, sietch.ErrInvalidQuery)

		err = repo.UpdateWhere(ctx, sietch.Fields{"id": "acc-9"}, sietch.Where("name", "A"))
		assert.ErrorIs(t, err, sietch.ErrInvalidQuery)
	})

	t.Run("delete", func(t *testing.T) {
		repo, _ := open(t)
		ctx := Context(t)
		Seed(t, repo, Accounts()...)

		acc := Accounts()[0]
		require.NoError(t, repo.Delete(ctx, &acc))
		assert.ErrorIs(t, repo.Delete(ctx, &acc), sietch.ErrNotFound)

		require.NoError(t, repo.DeleteWhere(ctx, sietch.Where("balance__gte", 400)))
		left, err := repo.Filter(ctx, sietch.Order("name"))
		require.NoError(t, err)
		assert.Equal(t, []string{"B", "C"}, Names(left))
	})

	t.Run("refresh and is modified", func(t *testing.T) {
		repo, _ := open(t)
		ctx := Context(t)
		Seed(t, repo, Accounts()[0])

		acc := Accounts()[0]
		modified, err := repo.IsModified(ctx, &acc)
		require.NoError(t, err)
		assert.False(t, modified)

		acc.Balance = 1
		modified, err = repo.IsModified(ctx, &acc)
		require.NoError(t, err)
		assert.True(t, modified)

		require.NoError(t, repo.Refresh(ctx, &acc))
		assert.EqualValues(t, 100, acc.Balance)

		fresh := Account{ID: "never-saved"}
		modified, err = repo.IsModified(ctx, &fresh)
		require.NoError(t, err)
		assert.True(t, modified)
		assert.ErrorIs(t, repo.Refresh(ctx, &fresh), sietch.ErrNotFound)
	})

	t.Run("count", func(t *testing.T) {
		repo, _ := open(t)
		ctx := Context(t)
		Seed(t, repo, Accounts()...)

		n, err := repo.Count(ctx)
		require.NoError(t, err)
		assert.EqualValues(t, 5, n)

		n, err = repo.Count(ctx, sietch.Where("balance__gt", 300))
		require.NoError(t, err)
		assert.EqualValues(t, 2, n)
	})

	t.Run("lazy", func(t *testing.T) {
		repo, _ := open(t)
		ctx := Context(t)
		Seed(t, repo, Accounts()...)

		eager, err := repo.Filter(ctx, sietch.Order("name"))
		require.NoError(t, err)
		lazy := sietch.LazyFilter(ctx, repo, sietch.Order("name"))
		assert.True(t, lazy.Equal(eager))

		count := sietch.LazyCount(ctx, repo)
		n, err := count.Get()
		require.NoError(t, err)
		assert.EqualValues(t, 5, n)
	})

	t.Run("unit of work rollback", func(t *testing.T) {
		repo, uow := open(t)
		ctx := Context(t)
		Seed(t, repo, Accounts()...)

		require.NoError(t, uow.Begin(ctx))
		_, err := uow.Repository().Save(ctx, &Account{ID: "tx-1", Name: "X", Balance: 1})
		require.NoError(t, err)
		victim := Accounts()[1]
		require.NoError(t, uow.Repository().Delete(ctx, &victim))
		require.NoError(t, uow.Rollback(ctx))
		require.NoError(t, uow.Close(ctx))

		all, err := repo.Filter(ctx, sietch.Order("name"))
		require.NoError(t, err)
		assert.Equal(t, Names(Accounts()), Names(all))
	})

	t.Run("unit of work commit", func(t *testing.T) {
		repo, uow := open(t)
		ctx := Context(t)
		Seed(t, repo, Accounts()...)

		x := Account{ID: "tx-2", Name: "X", Balance: 7}
		require.NoError(t, uow.Begin(ctx))
		_, err := uow.Repository().Save(ctx, &x)
		require.NoError(t, err)
		victim := Accounts()[1]
		require.NoError(t, uow.Repository().Delete(ctx, &victim))
		if features.ReadYourWrites {
			got, err := uow.Repository().Get(ctx, sietch.Where("id", "tx-2"))
			require.NoError(t, err)
			assert.Equal(t, x, *got)
		}
		require.NoError(t, uow.Commit(ctx))
		require.NoError(t, uow.Close(ctx))
		require.NoError(t, uow.Close(ctx))

		got, err := repo.Get(ctx, sietch.Where("id", "tx-2"))
		require.NoError(t, err)
		assert.Equal(t, x, *got)
		_, err = repo.Get(ctx, sietch.Where("id", victim.ID))
		assert.ErrorIs(t, err, sietch.ErrNotFound)
	})

	t.Run("unit of work scope", func(t *testing.T) {
		repo, uow := open(t)
		ctx := Context(t)

		boom := errors.New("boom")
		err := sietch.Run(ctx, uow, func(r sietch.Repository[Account]) error {
			if _, err := r.Save(ctx, &Account{ID: "scoped", Name: "S"}); err != nil {
				return err
			}
			return boom
		})
		assert.ErrorIs(t, err, boom)
		assert.False(t, uow.Active())

		err = sietch.WithTx(ctx, uow, func(r sietch.Repository[Account]) error {
			_, err := r.Save(ctx, &Account{ID: "committed", Name: "C"})
			return err
		})
		require.NoError(t, err)

		n, err := repo.Count(ctx)
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)

		assert.ErrorIs(t, uow.Commit(ctx), sietch.ErrInvalidQuery)
		assert.NoError(t, uow.Rollback(ctx))
		assert.NoError(t, uow.Close(ctx))
	})
}

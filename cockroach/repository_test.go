package cockroach

import (
	"context"
	"os"
	"testing"

	"github.com/seb7887/sietch"
	"github.com/seb7887/sietch/internal/testutils"
	"github.com/stretchr/testify/require"
)

// openTestPool connects to the server named by SIETCH_COCKROACH_DSN, e.g.
// postgresql://root@localhost:26257/defaultdb?sslmode=disable.
func openTestPool(t *testing.T) *Repository[testutils.Account] {
	t.Helper()
	dsn := os.Getenv("SIETCH_COCKROACH_DSN")
	if dsn == "" {
		t.Skip("SIETCH_COCKROACH_DSN is not set")
	}
	ctx := context.Background()
	pool, err := NewPool(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	model := testutils.AccountModel()
	require.NoError(t, CreateTable(ctx, pool, model))
	require.NoError(t, TruncateTable(ctx, pool, model.Name))

	repo, err := New(pool, model)
	require.NoError(t, err)
	return repo
}

func TestRepositorySuite(t *testing.T) {
	testutils.RunRepositorySuite(t, func(t *testing.T) (sietch.Repository[testutils.Account], sietch.UnitOfWork[testutils.Account]) {
		repo := openTestPool(t)
		return repo, NewUnitOfWork(repo)
	}, testutils.Features{Regex: true, ReadYourWrites: true, EagerFieldCheck: true})
}

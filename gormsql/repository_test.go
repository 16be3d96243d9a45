package gormsql

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/seb7887/sietch"
	"github.com/seb7887/sietch/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type Account = testutils.Account

func openDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "sietch.db") + "?_pragma=busy_timeout(5000)")
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, Migrate(context.Background(), db, testutils.AccountModel()))
	return db
}

func newRepository(t *testing.T) *Repository[Account] {
	t.Helper()
	repo, err := New(openDB(t), testutils.AccountModel())
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

	db := openDB(t)
	_, err = New(db, sietch.Model[Account]{Name: "accounts"})
	assert.Error(t, err)

	model := testutils.AccountModel()
	model.Name = "accounts; DROP TABLE accounts"
	_, err = New(db, model)
	assert.Error(t, err)
}

func TestSpecs_Statements(t *testing.T) {
	repo := newRepository(t)
	dry := func(t *testing.T, specs ...sietch.Spec) string {
		t.Helper()
		q, err := repo.Select(context.Background(), specs...)
		require.NoError(t, err)
		var out []Account
		return q.Session(&gorm.Session{DryRun: true}).Find(&out).Statement.SQL.String()
	}

	tests := []struct {
		name  string
		specs []sietch.Spec
		want  []string
	}{
		{"eq", []sietch.Spec{sietch.Where("name", "A")}, []string{"FROM `accounts`", "`accounts`.`name` = ?"}},
		{"nil is null", []sietch.Spec{sietch.Where("name", nil)}, []string{"`accounts`.`name` IS NULL"}},
		{"not nil", []sietch.Spec{sietch.Where("name__not", nil)}, []string{"`accounts`.`name` IS NOT NULL"}},
		{"not value", []sietch.Spec{sietch.Where("name__not", "A")}, []string{"`accounts`.`name` IS NOT ?"}},
		{"is true", []sietch.Spec{sietch.Where("active__is", true)}, []string{"`accounts`.`active` IS TRUE"}},
		{"regex", []sietch.Spec{sietch.Where("name__regex", "^A")}, []string{"`accounts`.`name` REGEXP ?"}},
		{"or", []sietch.Spec{sietch.Where("balance__gt", 1).Or(sietch.Where("balance__lt", 0))}, []string{"(`accounts`.`balance` > ? OR `accounts`.`balance` < ?)"}},
		{"negation", []sietch.Spec{sietch.Where("balance__gte", 1).Not()}, []string{"NOT (`accounts`.`balance` >= ?)"}},
		{"field name", []sietch.Spec{sietch.Where("Balance__lte", 1)}, []string{"`accounts`.`balance` <= ?"}},
		{"order", []sietch.Spec{sietch.Order("name", "-balance")}, []string{"ORDER BY `accounts`.`name`", "`accounts`.`balance` DESC"}},
		{"paginate", []sietch.Spec{sietch.Paginate(2, 1)}, []string{"LIMIT 2", "OFFSET 1"}},
		{"only", []sietch.Spec{sietch.Only("name")}, []string{"`id`", "`name`"}},
		{"raw join", []sietch.Spec{sietch.JoinWith("owner", map[string]any{"table": "users", "on": "owner_id"}), sietch.Where("owner.name", "Z")},
			[]string{"LEFT JOIN `users` AS `owner` ON `owner`.`id` = `accounts`.`owner_id`", "`owner`.`name` = ?"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			sql := dry(t, tc.specs...)
			for _, w := range tc.want {
				assert.Contains(t, sql, w)
			}
		})
	}
}

func TestSpecs_Invalid(t *testing.T) {
	repo := newRepository(t)
	ctx := context.Background()

	tests := []struct {
		name string
		spec sietch.Spec
	}{
		{"like on number", sietch.Where("name__like", 3)},
		{"unknown order", sietch.Order("nickname")},
		{"unknown only", sietch.Only("nickname")},
		{"deep path", sietch.Where("a.b.c", 1)},
		{"join type", sietch.JoinWith("owner", map[string]any{"on": "owner_id", "type": "sideways"})},
		{"join identifier", sietch.JoinWith("owner", map[string]any{"on": "owner id"})},
		{"foreign native", sietch.NativeSpec("raw", func(q string, _ sietch.SpecContext) (string, error) { return q, nil })},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := repo.Filter(ctx, tc.spec)
			assert.ErrorIs(t, err, sietch.ErrInvalidQuery)
		})
	}

	testutils.Seed(t, repo, testutils.Accounts()...)
	_, err := repo.Filter(ctx, sietch.Where("name__regex", "("))
	assert.ErrorIs(t, err, sietch.ErrInvalidQuery)
}

func TestRepository_NativeSpec(t *testing.T) {
	repo := newRepository(t)
	ctx := context.Background()
	testutils.Seed(t, repo, testutils.Accounts()...)

	rich := sietch.NativeSpec("rich", func(q *gorm.DB, _ sietch.SpecContext) (*gorm.DB, error) {
		return q.Where("balance * 2 > ?", 700), nil
	})
	got, err := repo.Filter(ctx, rich, sietch.Order("name"))
	require.NoError(t, err)
	assert.Equal(t, []string{"D", "E"}, testutils.Names(got))
}

func TestRepository_UpdateWhereUnknownField(t *testing.T) {
	repo := newRepository(t)
	ctx := context.Background()
	testutils.Seed(t, repo, testutils.Accounts()...)

	err := repo.UpdateWhere(ctx, sietch.Fields{"nickname": "x"})
	assert.ErrorIs(t, err, sietch.ErrInvalidQuery)

	require.NoError(t, repo.UpdateWhere(ctx, sietch.Fields{"Balance": 1}, sietch.Order("name"), sietch.Limit(2)))
	got, err := repo.Filter(ctx, sietch.Where("balance", 1), sietch.Order("name"))
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, testutils.Names(got))
}

func TestRepository_QueryLogging(t *testing.T) {
	db := openDB(t)
	log := &queryRecorder{}
	repo, err := New(db, testutils.AccountModel(), sietch.WithLogger(log))
	require.NoError(t, err)
	ctx := context.Background()

	_, err = repo.Filter(ctx, sietch.Where("name", "A"))
	require.NoError(t, err)
	_, err = repo.Save(ctx, &Account{ID: "acc-9", Name: "Z"})
	require.NoError(t, err)
	_, err = repo.Count(ctx)
	require.NoError(t, err)

	// save may run an update followed by an upsert
	require.GreaterOrEqual(t, len(log.queries), 3)
	last := len(log.queries) - 1
	assert.Equal(t, "accounts.filter", log.ops[0])
	assert.Contains(t, log.queries[0], "SELECT * FROM `accounts`")
	assert.Contains(t, log.queries[0], "'A'")
	assert.Equal(t, "accounts.save", log.ops[1])
	assert.Contains(t, log.queries[1], "`accounts`")
	assert.Equal(t, "accounts.count", log.ops[last])
	assert.Contains(t, log.queries[last], "count(*)")
	for _, q := range log.queries {
		assert.NotEmpty(t, q)
	}
}

type queryRecorder struct {
	sietch.NoOpLogger
	ops     []string
	queries []string
}

func (r *queryRecorder) LogQuery(_ context.Context, op string, query string, _ []any, _ time.Duration, _ error) {
	r.ops = append(r.ops, op)
	r.queries = append(r.queries, query)
}

func TestProvider(t *testing.T) {
	reg := sietch.NewRegistry[Account]()
	reg.Register("gorm", Provider(testutils.AccountModel()))
	db := openDB(t)

	uow, err := reg.CreateUnitOfWork("gorm", db)
	require.NoError(t, err)
	err = sietch.WithTx(context.Background(), uow, func(r sietch.Repository[Account]) error {
		_, err := r.Save(context.Background(), &Account{ID: "x", Name: "X"})
		return err
	})
	require.NoError(t, err)

	repo, err := reg.CreateRepository("gorm", db)
	require.NoError(t, err)
	n, err := repo.Count(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	_, err = reg.CreateRepository("gorm", "not a session")
	assert.Error(t, err)
}

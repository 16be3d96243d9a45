package sietch_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/seb7887/sietch"
	"github.com/seb7887/sietch/inmemory"
	"github.com/seb7887/sietch/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type auditHook struct {
	sietch.BaseHook[testutils.Account]
	events   []string
	rejectID string
}

func (h *auditHook) BeforeSave(_ context.Context, a *testutils.Account) error {
	if a.ID == h.rejectID {
		return errors.New("rejected")
	}
	h.events = append(h.events, "before_save:"+a.Name)
	return nil
}

func (h *auditHook) AfterSave(_ context.Context, a *testutils.Account) error {
	h.events = append(h.events, "after_save:"+a.Name)
	return nil
}

func (h *auditHook) AfterDelete(_ context.Context, a *testutils.Account) error {
	h.events = append(h.events, "after_delete:"+a.ID)
	return errors.New("audit sink down")
}

func (h *auditHook) BeforeQuery(_ context.Context, specs []sietch.Spec) error {
	h.events = append(h.events, "query")
	return nil
}

type recordingLogger struct {
	sietch.NoOpLogger
	operations []string
}

func (l *recordingLogger) LogOperation(_ context.Context, op, _ string, _ time.Duration, err error) {
	if err != nil {
		l.operations = append(l.operations, op)
	}
}

func TestHookedRepository(t *testing.T) {
	ctx := context.Background()
	inner, err := inmemory.New(inmemory.NewSession[testutils.Account](), testutils.AccountModel())
	require.NoError(t, err)

	hook := &auditHook{rejectID: "blocked"}
	logger := &recordingLogger{}
	repo := sietch.NewHookedRepository[testutils.Account](inner, testutils.AccountModel(), sietch.NewHookRegistry[testutils.Account](hook), sietch.WithLogger(logger))

	_, err = repo.Save(ctx, &testutils.Account{ID: "1", Name: "Ann"})
	require.NoError(t, err)

	_, err = repo.Save(ctx, &testutils.Account{ID: "blocked", Name: "Bob"})
	assert.ErrorIs(t, err, sietch.ErrInvalidQuery)
	assert.ErrorContains(t, err, "rejected")
	assert.Equal(t, "accounts.before_save", err.(*sietch.Error).Op)
	n, err := inner.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	_, err = repo.Filter(ctx)
	require.NoError(t, err)

	require.NoError(t, repo.Delete(ctx, &testutils.Account{ID: "1"}))
	assert.Equal(t, []string{"before_save", "after_delete"}, logger.operations)

	assert.Equal(t, []string{"before_save:Ann", "after_save:Ann", "query", "after_delete:1"}, hook.events)

	repo.Hooks().RemoveAllHooks()
	_, err = repo.Save(ctx, &testutils.Account{ID: "blocked", Name: "Bob"})
	assert.NoError(t, err)
}

type vetoHook struct {
	sietch.BaseHook[testutils.Account]
	err error
}

func (h *vetoHook) BeforeQuery(context.Context, []sietch.Spec) error {
	return h.err
}

func TestHookedRepository_BeforeHookErrors(t *testing.T) {
	ctx := context.Background()
	inner, err := inmemory.New(inmemory.NewSession[testutils.Account](), testutils.AccountModel())
	require.NoError(t, err)

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"plain error", errors.New("closed for maintenance"), sietch.ErrInvalidQuery},
		{"taxonomy error", sietch.Errorf(sietch.ErrNotFound, "tenant", "unknown tenant"), sietch.ErrNotFound},
		{"cancellation", context.Canceled, context.Canceled},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			repo := sietch.NewHookedRepository[testutils.Account](inner, testutils.AccountModel(),
				sietch.NewHookRegistry[testutils.Account](&vetoHook{err: tc.err}))

			_, err := repo.Filter(ctx)
			assert.ErrorIs(t, err, tc.want)
			_, err = repo.Count(ctx)
			assert.ErrorIs(t, err, tc.want)
			assert.ErrorIs(t, repo.DeleteWhere(ctx), tc.want)
		})
	}
}

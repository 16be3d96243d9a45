package sietch_test

import (
	"testing"
	"time"

	"github.com/seb7887/sietch"
	"github.com/seb7887/sietch/idgen"
	"github.com/seb7887/sietch/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type event struct {
	ID      string        `db:"id"`
	At      time.Time     `db:"at"`
	Timeout time.Duration `db:"timeout"`
	Place   struct {
		City string `db:"city"`
	} `db:"place"`
}

func eventModel() sietch.Model[event] {
	return sietch.Model[event]{Name: "events", ID: func(e *event) *string { return &e.ID }}
}

func TestModel_Validate(t *testing.T) {
	assert.NoError(t, testutils.AccountModel().Validate())
	assert.Error(t, sietch.Model[testutils.Account]{ID: testutils.AccountModel().ID}.Validate())
	assert.Error(t, sietch.Model[testutils.Account]{Name: "accounts"}.Validate())
	assert.Error(t, sietch.Model[string]{Name: "s", ID: func(s *string) *string { return s }}.Validate())
}

func TestModel_Decode(t *testing.T) {
	m := eventModel()
	e, err := m.Decode(sietch.Fields{
		"id":      "e-1",
		"at":      "2024-05-01T10:00:00Z",
		"timeout": "5s",
		"place":   map[string]any{"city": "Vilnius"},
	})
	require.NoError(t, err)
	assert.Equal(t, "e-1", e.ID)
	assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), e.At)
	assert.Equal(t, 5*time.Second, e.Timeout)
	assert.Equal(t, "Vilnius", e.Place.City)

	_, err = m.Decode(sietch.Fields{"unknown": 1})
	assert.ErrorIs(t, err, sietch.ErrInvalidQuery)
}

func TestModel_EnsureIDAndEqual(t *testing.T) {
	m := testutils.AccountModel()
	acc := testutils.Account{Name: "New"}
	id := m.EnsureID(&acc)
	assert.True(t, idgen.IsUUID(id))
	assert.Equal(t, id, m.EnsureID(&acc))

	m.NewID = idgen.NewULID
	other := testutils.Account{}
	assert.True(t, idgen.IsULID(m.EnsureID(&other)))

	a, b := testutils.Accounts()[0], testutils.Accounts()[0]
	assert.True(t, m.Equal(&a, &b))
	b.Balance++
	assert.False(t, m.Equal(&a, &b))

	assert.Equal(t, "id", m.Key())
	assert.Equal(t, "accounts", m.Info().Name)
}

func TestModel_CheckUpdate(t *testing.T) {
	m := testutils.AccountModel()

	assert.NoError(t, m.CheckUpdate("accounts.update_where", sietch.Fields{"name": "Z"}))
	assert.ErrorIs(t, m.CheckUpdate("accounts.update_where", nil), sietch.ErrInvalidQuery)
	assert.ErrorIs(t, m.CheckUpdate("accounts.update_where", sietch.Fields{"ID": "x"}), sietch.ErrInvalidQuery)
}

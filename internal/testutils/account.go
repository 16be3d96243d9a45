// Package testutils holds the entity shared by the backend test suites.
package testutils

import (
	"github.com/seb7887/sietch"
)

// Account is a minimal entity mapped by every backend.
type Account struct {
	ID      string `db:"id" json:"id" bson:"_id" gorm:"column:id;primaryKey"`
	Name    string `db:"name" json:"name" bson:"name" gorm:"column:name"`
	Balance int64  `db:"balance" json:"balance" bson:"balance" gorm:"column:balance"`
	Active  bool   `db:"active" json:"active" bson:"active" gorm:"column:active"`
}

// AccountModel describes Account for repositories.
func AccountModel() sietch.Model[Account] {
	return sietch.Model[Account]{
		Name: "accounts",
		ID:   func(a *Account) *string { return &a.ID },
	}
}

// Accounts returns the fixture used across backends: five accounts named
// A to E with increasing balances. B and D are inactive.
func Accounts() []Account {
	return []Account{
		{ID: "acc-1", Name: "A", Balance: 100, Active: true},
		{ID: "acc-2", Name: "B", Balance: 200, Active: false},
		{ID: "acc-3", Name: "C", Balance: 300, Active: true},
		{ID: "acc-4", Name: "D", Balance: 400, Active: false},
		{ID: "acc-5", Name: "E", Balance: 500, Active: true},
	}
}

// Names extracts account names, preserving order.
func Names(accounts []Account) []string {
	out := make([]string, len(accounts))
	for i, a := range accounts {
		out[i] = a.Name
	}
	return out
}

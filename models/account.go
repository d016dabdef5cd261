package models

import (
	"time"
)

// Account represents a wallet's custodial balance. Accounts are created
// lazily on first interaction and keyed by the wallet address.
type Account struct {
	Address        string    `db:"address"`
	Username       string    `db:"username"`
	Balance        int64     `db:"balance"`
	TotalDeposited int64     `db:"total_deposited"`
	TotalWithdrawn int64     `db:"total_withdrawn"`
	TotalWagered   int64     `db:"total_wagered"`
	TotalWon       int64     `db:"total_won"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

package models

import (
	"time"
)

// EntryType represents the type of balance mutation
type EntryType string

const (
	EntryTypeDeposit            EntryType = "deposit"
	EntryTypeWithdrawalReserve  EntryType = "withdrawal_reserve"
	EntryTypeWithdrawalFinalize EntryType = "withdrawal_finalize"
	EntryTypeWithdrawalRelease  EntryType = "withdrawal_release"
	EntryTypeSpinStake          EntryType = "spin_stake"
	EntryTypeClaimPayout        EntryType = "claim_payout"
	EntryTypeRolloverOut        EntryType = "rollover_out"
	EntryTypeRolloverIn         EntryType = "rollover_in"
)

// EntryStatus tracks two-phase entries. Single-phase mutations are recorded
// as completed; withdrawal reservations sit in reserved until the on-chain
// transfer settles one way or the other.
type EntryStatus string

const (
	EntryStatusReserved  EntryStatus = "reserved"
	EntryStatusCompleted EntryStatus = "completed"
	EntryStatusReleased  EntryStatus = "released"
)

// LedgerEntry is an immutable audit record of one balance mutation, with
// before/after snapshots for reconciliation. Append-only; rows are never
// updated except for the reserved->completed/released status transition.
type LedgerEntry struct {
	ID             int64          `db:"id"`
	AccountAddress string         `db:"account_address"`
	EntryType      EntryType      `db:"entry_type"`
	Status         EntryStatus    `db:"status"`
	Amount         int64          `db:"amount"`
	BalanceBefore  int64          `db:"balance_before"`
	BalanceAfter   int64          `db:"balance_after"`
	Reference      string         `db:"reference"`
	Metadata       map[string]any `db:"metadata"`
	CreatedAt      time.Time      `db:"created_at"`
}

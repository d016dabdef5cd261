package models

import (
	"time"
)

// PositionStatus represents the lifecycle state of a locked position
type PositionStatus string

const (
	PositionStatusLocked  PositionStatus = "locked"
	PositionStatusClaimed PositionStatus = "claimed"
)

// Position represents one wagering event: a stake locked for a resolved
// duration. The stake splits into FeeAmount (contributed to the epoch reward
// pool) and Principal (returned on claim, plus any bonus share). Nonce is
// unique per account within an epoch; it feeds outcome derivation so a
// reused nonce would allow re-rolling the same server seed.
//
// A locked position whose UnlocksAt has passed is claimable; there is no
// stored "unlocked" state, the transition is a property of time. The
// locked->claimed transition is guarded by a conditional update so it
// happens exactly once.
type Position struct {
	ID             int64          `db:"id"`
	AccountAddress string         `db:"account_address"`
	EpochID        int64          `db:"epoch_id"`
	Nonce          int64          `db:"nonce"`
	ClientSeed     string         `db:"client_seed"`
	StakeAmount    int64          `db:"stake_amount"`
	FeeAmount      int64          `db:"fee_amount"`
	Principal      int64          `db:"principal"`
	Tier           string         `db:"tier"`
	DurationHours  int64          `db:"duration_hours"`
	MultiplierX10  int64          `db:"multiplier_x10"`
	TicketScore    int64          `db:"ticket_score"`
	BonusEligible  bool           `db:"bonus_eligible"`
	BonusAmount    *int64         `db:"bonus_amount"`
	Status         PositionStatus `db:"status"`
	LockedAt       time.Time      `db:"locked_at"`
	UnlocksAt      time.Time      `db:"unlocks_at"`
	ClaimedAt      *time.Time     `db:"claimed_at"`
	LedgerEntryID  *int64         `db:"ledger_entry_id"`
	CreatedAt      time.Time      `db:"created_at"`
}

// Unlocked reports whether the lock duration has elapsed.
func (p *Position) Unlocked(now time.Time) bool {
	return !now.Before(p.UnlocksAt)
}

// Multiplier returns the tier multiplier as a float for display. Settlement
// math only ever uses MultiplierX10.
func (p *Position) Multiplier() float64 {
	return float64(p.MultiplierX10) / 10.0
}

// SpinResult represents the outcome of a spin (returned to the caller)
type SpinResult struct {
	Position   *Position
	Tier       string
	Duration   int64
	Multiplier float64
	UnlocksAt  time.Time
	NewBalance int64
}

// ClaimResult represents the outcome of a claim (returned to the caller)
type ClaimResult struct {
	Principal  int64
	Bonus      int64
	NewBalance int64
}

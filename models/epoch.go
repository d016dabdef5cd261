package models

import (
	"time"
)

// EpochStatus represents the lifecycle state of an epoch
type EpochStatus string

const (
	EpochStatusPending   EpochStatus = "pending"
	EpochStatusActive    EpochStatus = "active"
	EpochStatusCompleted EpochStatus = "completed"
)

// Epoch represents one fixed-duration betting period. Exactly one epoch is
// active at any instant, enforced by a partial unique index on status.
// RevealedSeed stays null until the epoch completes. EligibleScoreTotal and
// BonusReserved are frozen at close and drive all bonus payouts afterwards.
type Epoch struct {
	ID                 int64       `db:"id"`
	Sequence           int64       `db:"sequence"`
	Status             EpochStatus `db:"status"`
	SeedHash           string      `db:"seed_hash"`
	RevealedSeed       *string     `db:"revealed_seed"`
	RewardPool         int64       `db:"reward_pool"`
	SpinCount          int64       `db:"spin_count"`
	EligibleScoreTotal int64       `db:"eligible_score_total"`
	BonusReserved      int64       `db:"bonus_reserved"`
	StartsAt           time.Time   `db:"starts_at"`
	EndsAt             time.Time   `db:"ends_at"`
	CompletedAt        *time.Time  `db:"completed_at"`
	CreatedAt          time.Time   `db:"created_at"`
}

// CanTransitionTo reports whether the epoch may move to the given status.
// The lifecycle is linear: pending -> active -> completed.
func (e *Epoch) CanTransitionTo(next EpochStatus) bool {
	switch e.Status {
	case EpochStatusPending:
		return next == EpochStatusActive
	case EpochStatusActive:
		return next == EpochStatusCompleted
	default:
		return false
	}
}

// Ended reports whether the epoch's betting window has passed.
func (e *Epoch) Ended(now time.Time) bool {
	return !now.Before(e.EndsAt)
}

// EpochSecret holds the unrevealed server seed for an epoch. It lives in its
// own row, separate from the public Epoch, so epoch reads can never leak the
// seed before reveal. One-to-one with Epoch, created in the same transaction.
type EpochSecret struct {
	EpochID   int64     `db:"epoch_id"`
	Seed      string    `db:"seed"`
	CreatedAt time.Time `db:"created_at"`
}

// EpochVerification is the commit-reveal audit result for a completed epoch.
type EpochVerification struct {
	Sequence       int64  `json:"sequence"`
	SeedHash       string `json:"seed_hash"`
	RevealedSeed   string `json:"revealed_seed"`
	CommitmentOK   bool   `json:"commitment_ok"`
	SpinCount      int64  `json:"spin_count"`
	RewardPool     int64  `json:"reward_pool"`
	BonusReserved  int64  `json:"bonus_reserved"`
	EligibleScores int64  `json:"eligible_score_total"`
	ScoreTotalOK   bool   `json:"score_total_ok"`
}

// EpochInfo is the public view of an epoch returned to callers. The seed is
// only populated for completed epochs.
type EpochInfo struct {
	Sequence     int64       `json:"sequence"`
	Status       EpochStatus `json:"status"`
	SeedHash     string      `json:"seed_hash"`
	RevealedSeed string      `json:"revealed_seed,omitempty"`
	RewardPool   int64       `json:"reward_pool"`
	SpinCount    int64       `json:"spin_count"`
	StartsAt     time.Time   `json:"starts_at"`
	EndsAt       time.Time   `json:"ends_at"`
}

package repository

import (
	"context"
	"fmt"

	"spinvault/apperrors"
	"spinvault/database"
	"spinvault/models"

	"github.com/jackc/pgx/v5"
)

const epochColumns = `id, sequence, status, seed_hash, revealed_seed, reward_pool, spin_count, eligible_score_total, bonus_reserved, starts_at, ends_at, completed_at, created_at`

// EpochRepository implements the EpochRepository interface. It also owns the
// epoch_secrets table: the secret is written in the same transaction that
// creates the epoch and read only by the settlement and reveal paths.
type EpochRepository struct {
	q queryable
}

// NewEpochRepository creates a new epoch repository
func NewEpochRepository(db *database.DB) *EpochRepository {
	return &EpochRepository{q: db.Pool}
}

// newEpochRepositoryWithTx creates a new epoch repository with a transaction
func newEpochRepositoryWithTx(tx queryable) *EpochRepository {
	return &EpochRepository{q: tx}
}

func scanEpoch(row pgx.Row) (*models.Epoch, error) {
	var epoch models.Epoch
	err := row.Scan(
		&epoch.ID,
		&epoch.Sequence,
		&epoch.Status,
		&epoch.SeedHash,
		&epoch.RevealedSeed,
		&epoch.RewardPool,
		&epoch.SpinCount,
		&epoch.EligibleScoreTotal,
		&epoch.BonusReserved,
		&epoch.StartsAt,
		&epoch.EndsAt,
		&epoch.CompletedAt,
		&epoch.CreatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &epoch, nil
}

// GetActive retrieves the currently active epoch, nil if none exists
func (r *EpochRepository) GetActive(ctx context.Context) (*models.Epoch, error) {
	query := fmt.Sprintf(`SELECT %s FROM epochs WHERE status = 'active'`, epochColumns)
	epoch, err := scanEpoch(r.q.QueryRow(ctx, query))
	if err != nil {
		return nil, fmt.Errorf("failed to get active epoch: %w", err)
	}
	return epoch, nil
}

// GetActiveForUpdate retrieves the active epoch with a row lock. The epoch
// coordinator takes this lock for the whole close-and-rollover sequence so
// competing ticks serialize.
func (r *EpochRepository) GetActiveForUpdate(ctx context.Context) (*models.Epoch, error) {
	query := fmt.Sprintf(`SELECT %s FROM epochs WHERE status = 'active' FOR UPDATE`, epochColumns)
	epoch, err := scanEpoch(r.q.QueryRow(ctx, query))
	if err != nil {
		return nil, fmt.Errorf("failed to lock active epoch: %w", err)
	}
	return epoch, nil
}

// GetByID retrieves an epoch by its ID
func (r *EpochRepository) GetByID(ctx context.Context, id int64) (*models.Epoch, error) {
	query := fmt.Sprintf(`SELECT %s FROM epochs WHERE id = $1`, epochColumns)
	epoch, err := scanEpoch(r.q.QueryRow(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("failed to get epoch %d: %w", id, err)
	}
	return epoch, nil
}

// GetBySequence retrieves an epoch by its sequence number
func (r *EpochRepository) GetBySequence(ctx context.Context, sequence int64) (*models.Epoch, error) {
	query := fmt.Sprintf(`SELECT %s FROM epochs WHERE sequence = $1`, epochColumns)
	epoch, err := scanEpoch(r.q.QueryRow(ctx, query, sequence))
	if err != nil {
		return nil, fmt.Errorf("failed to get epoch sequence %d: %w", sequence, err)
	}
	return epoch, nil
}

// NextSequence returns the sequence number the next epoch should carry
func (r *EpochRepository) NextSequence(ctx context.Context) (int64, error) {
	var next int64
	err := r.q.QueryRow(ctx, `SELECT COALESCE(MAX(sequence), 0) + 1 FROM epochs`).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("failed to compute next epoch sequence: %w", err)
	}
	return next, nil
}

// Create inserts a new active epoch together with its server seed secret.
// The one_active_epoch unique index turns a double-creation race into
// ErrActiveEpochExists; callers treat that as "read the winner instead".
func (r *EpochRepository) Create(ctx context.Context, epoch *models.Epoch, seed string) error {
	query := `
		INSERT INTO epochs (sequence, status, seed_hash, reward_pool, starts_at, ends_at)
		VALUES ($1, 'active', $2, $3, $4, $5)
		RETURNING id, status, spin_count, eligible_score_total, bonus_reserved, created_at
	`
	err := r.q.QueryRow(ctx, query,
		epoch.Sequence,
		epoch.SeedHash,
		epoch.RewardPool,
		epoch.StartsAt,
		epoch.EndsAt,
	).Scan(
		&epoch.ID,
		&epoch.Status,
		&epoch.SpinCount,
		&epoch.EligibleScoreTotal,
		&epoch.BonusReserved,
		&epoch.CreatedAt,
	)
	if err != nil {
		// A losing racer can trip either unique constraint: one_active_epoch
		// in the steady state, or epochs_sequence_key when both racers
		// computed the same next sequence (bootstrap on an empty table).
		// Both mean "another epoch won", so both map to the idempotent read.
		if isUniqueViolation(err, "one_active_epoch") || isUniqueViolation(err, "epochs_sequence_key") {
			return apperrors.ErrActiveEpochExists
		}
		return fmt.Errorf("failed to create epoch %d: %w", epoch.Sequence, err)
	}

	_, err = r.q.Exec(ctx, `INSERT INTO epoch_secrets (epoch_id, seed) VALUES ($1, $2)`, epoch.ID, seed)
	if err != nil {
		return fmt.Errorf("failed to store epoch secret for epoch %d: %w", epoch.ID, err)
	}
	return nil
}

// GetSecret returns the unrevealed server seed for an epoch. Only the spin
// settlement path and the reveal step call this.
func (r *EpochRepository) GetSecret(ctx context.Context, epochID int64) (string, error) {
	var seed string
	err := r.q.QueryRow(ctx, `SELECT seed FROM epoch_secrets WHERE epoch_id = $1`, epochID).Scan(&seed)
	if err == pgx.ErrNoRows {
		return "", fmt.Errorf("epoch %d has no stored seed: %w", epochID, apperrors.ErrSeedHashMismatch)
	}
	if err != nil {
		return "", fmt.Errorf("failed to get epoch secret for epoch %d: %w", epochID, err)
	}
	return seed, nil
}

// AddPoolContribution credits a spin fee to the epoch reward pool and bumps
// the spin counter. Only valid while the epoch is active.
func (r *EpochRepository) AddPoolContribution(ctx context.Context, epochID int64, fee int64) error {
	query := `
		UPDATE epochs
		SET reward_pool = reward_pool + $1, spin_count = spin_count + 1
		WHERE id = $2 AND status = 'active'
	`
	result, err := r.q.Exec(ctx, query, fee, epochID)
	if err != nil {
		return fmt.Errorf("failed to credit pool for epoch %d: %w", epochID, err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNoActiveEpoch
	}
	return nil
}

// Complete transitions an active epoch to completed, revealing its seed and
// freezing the pool accounting. The conditional status predicate makes the
// transition exactly-once.
func (r *EpochRepository) Complete(ctx context.Context, epochID int64, revealedSeed string, eligibleScoreTotal, bonusReserved int64) (bool, error) {
	query := `
		UPDATE epochs
		SET status = 'completed',
		    revealed_seed = $1,
		    eligible_score_total = $2,
		    bonus_reserved = $3,
		    completed_at = NOW()
		WHERE id = $4 AND status = 'active'
	`
	result, err := r.q.Exec(ctx, query, revealedSeed, eligibleScoreTotal, bonusReserved, epochID)
	if err != nil {
		return false, fmt.Errorf("failed to complete epoch %d: %w", epochID, err)
	}
	return result.RowsAffected() == 1, nil
}

// ListRecent returns the most recently started epochs, newest first
func (r *EpochRepository) ListRecent(ctx context.Context, limit int) ([]*models.Epoch, error) {
	query := fmt.Sprintf(`SELECT %s FROM epochs ORDER BY sequence DESC LIMIT $1`, epochColumns)
	rows, err := r.q.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list epochs: %w", err)
	}
	defer rows.Close()

	var epochs []*models.Epoch
	for rows.Next() {
		epoch, err := scanEpoch(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan epoch: %w", err)
		}
		epochs = append(epochs, epoch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate epochs: %w", err)
	}
	return epochs, nil
}

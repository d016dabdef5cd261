package repository

import (
	"context"
	"fmt"
	"time"

	"spinvault/apperrors"
	"spinvault/database"
	"spinvault/models"

	"github.com/jackc/pgx/v5"
)

const positionColumns = `id, account_address, epoch_id, nonce, client_seed, stake_amount, fee_amount, principal, tier, duration_hours, multiplier_x10, ticket_score, bonus_eligible, bonus_amount, status, locked_at, unlocks_at, claimed_at, ledger_entry_id, created_at`

// PositionRepository implements the PositionRepository interface
type PositionRepository struct {
	q queryable
}

// NewPositionRepository creates a new position repository
func NewPositionRepository(db *database.DB) *PositionRepository {
	return &PositionRepository{q: db.Pool}
}

// newPositionRepositoryWithTx creates a new position repository with a transaction
func newPositionRepositoryWithTx(tx queryable) *PositionRepository {
	return &PositionRepository{q: tx}
}

func scanPosition(row pgx.Row) (*models.Position, error) {
	var p models.Position
	err := row.Scan(
		&p.ID,
		&p.AccountAddress,
		&p.EpochID,
		&p.Nonce,
		&p.ClientSeed,
		&p.StakeAmount,
		&p.FeeAmount,
		&p.Principal,
		&p.Tier,
		&p.DurationHours,
		&p.MultiplierX10,
		&p.TicketScore,
		&p.BonusEligible,
		&p.BonusAmount,
		&p.Status,
		&p.LockedAt,
		&p.UnlocksAt,
		&p.ClaimedAt,
		&p.LedgerEntryID,
		&p.CreatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Create inserts a new locked position. A nonce collision within the epoch
// surfaces as ErrSeedReuse: the caller must not settle an outcome derived
// from a nonce that was already consumed.
func (r *PositionRepository) Create(ctx context.Context, p *models.Position) error {
	query := `
		INSERT INTO positions
		(account_address, epoch_id, nonce, client_seed, stake_amount, fee_amount, principal,
		 tier, duration_hours, multiplier_x10, ticket_score, bonus_eligible, locked_at, unlocks_at, ledger_entry_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id, status, created_at
	`
	err := r.q.QueryRow(ctx, query,
		p.AccountAddress,
		p.EpochID,
		p.Nonce,
		p.ClientSeed,
		p.StakeAmount,
		p.FeeAmount,
		p.Principal,
		p.Tier,
		p.DurationHours,
		p.MultiplierX10,
		p.TicketScore,
		p.BonusEligible,
		p.LockedAt,
		p.UnlocksAt,
		p.LedgerEntryID,
	).Scan(&p.ID, &p.Status, &p.CreatedAt)
	if err != nil {
		if isUniqueViolation(err, "positions_epoch_account_nonce_key") {
			return apperrors.ErrSeedReuse
		}
		return fmt.Errorf("failed to create position: %w", err)
	}
	return nil
}

// NextNonce returns the next nonce for an account within an epoch. Nonces
// are strictly increasing per (epoch, account) starting at 1; the unique
// constraint backs this up if two spins race to the same value.
func (r *PositionRepository) NextNonce(ctx context.Context, epochID int64, address string) (int64, error) {
	var next int64
	query := `SELECT COALESCE(MAX(nonce), 0) + 1 FROM positions WHERE epoch_id = $1 AND account_address = $2`
	if err := r.q.QueryRow(ctx, query, epochID, address).Scan(&next); err != nil {
		return 0, fmt.Errorf("failed to compute next nonce: %w", err)
	}
	return next, nil
}

// GetByID retrieves a position by its ID
func (r *PositionRepository) GetByID(ctx context.Context, id int64) (*models.Position, error) {
	query := fmt.Sprintf(`SELECT %s FROM positions WHERE id = $1`, positionColumns)
	p, err := scanPosition(r.q.QueryRow(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("failed to get position %d: %w", id, err)
	}
	return p, nil
}

// MarkClaimed transitions a position from locked to claimed, recording the
// bonus that was paid. The conditional update is the exactly-once gate for
// concurrent claims: only the request that flips the row proceeds to credit
// the payout.
func (r *PositionRepository) MarkClaimed(ctx context.Context, id int64, bonus int64, now time.Time) (bool, error) {
	query := `
		UPDATE positions
		SET status = 'claimed', bonus_amount = $1, claimed_at = $2
		WHERE id = $3 AND status = 'locked' AND unlocks_at <= $2
	`
	result, err := r.q.Exec(ctx, query, bonus, now, id)
	if err != nil {
		return false, fmt.Errorf("failed to mark position %d claimed: %w", id, err)
	}
	return result.RowsAffected() == 1, nil
}

// SumEligibleScores returns the total ticket score of bonus-eligible
// positions in an epoch. Called at epoch close to freeze the divisor for
// all subsequent bonus payouts.
func (r *PositionRepository) SumEligibleScores(ctx context.Context, epochID int64) (int64, error) {
	var total int64
	query := `SELECT COALESCE(SUM(ticket_score), 0) FROM positions WHERE epoch_id = $1 AND bonus_eligible`
	if err := r.q.QueryRow(ctx, query, epochID).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to sum eligible scores for epoch %d: %w", epochID, err)
	}
	return total, nil
}

// ListEligibleScores returns the ticket scores of bonus-eligible positions
// in an epoch. Used at close to compute the exact bonus reservation
// (sum of floored shares) so leftover division dust rolls over.
func (r *PositionRepository) ListEligibleScores(ctx context.Context, epochID int64) ([]int64, error) {
	query := `SELECT ticket_score FROM positions WHERE epoch_id = $1 AND bonus_eligible ORDER BY id`
	rows, err := r.q.Query(ctx, query, epochID)
	if err != nil {
		return nil, fmt.Errorf("failed to list eligible scores for epoch %d: %w", epochID, err)
	}
	defer rows.Close()

	var scores []int64
	for rows.Next() {
		var score int64
		if err := rows.Scan(&score); err != nil {
			return nil, fmt.Errorf("failed to scan ticket score: %w", err)
		}
		scores = append(scores, score)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate ticket scores: %w", err)
	}
	return scores, nil
}

// ListByAccount returns an account's positions, newest first
func (r *PositionRepository) ListByAccount(ctx context.Context, address string, limit int) ([]*models.Position, error) {
	query := fmt.Sprintf(`SELECT %s FROM positions WHERE account_address = $1 ORDER BY created_at DESC LIMIT $2`, positionColumns)
	return r.list(ctx, query, address, limit)
}

// ListClaimable returns an account's locked positions whose unlock time has
// passed, oldest first.
func (r *PositionRepository) ListClaimable(ctx context.Context, address string, now time.Time) ([]*models.Position, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM positions
		WHERE account_address = $1 AND status = 'locked' AND unlocks_at <= $2
		ORDER BY unlocks_at`, positionColumns)
	return r.list(ctx, query, address, now)
}

func (r *PositionRepository) list(ctx context.Context, query string, args ...any) ([]*models.Position, error) {
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list positions: %w", err)
	}
	defer rows.Close()

	var positions []*models.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate positions: %w", err)
	}
	return positions, nil
}

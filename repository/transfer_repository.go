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

const transferColumns = `id, reference, account_address, direction, amount, signature, confirmations, status, ledger_entry_id, created_at, resolved_at`

// TransferRepository implements the TransferRepository interface
type TransferRepository struct {
	q queryable
}

// NewTransferRepository creates a new transfer repository
func NewTransferRepository(db *database.DB) *TransferRepository {
	return &TransferRepository{q: db.Pool}
}

// newTransferRepositoryWithTx creates a new transfer repository with a transaction
func newTransferRepositoryWithTx(tx queryable) *TransferRepository {
	return &TransferRepository{q: tx}
}

func scanTransfer(row pgx.Row) (*models.PendingTransfer, error) {
	var t models.PendingTransfer
	err := row.Scan(
		&t.ID,
		&t.Reference,
		&t.AccountAddress,
		&t.Direction,
		&t.Amount,
		&t.Signature,
		&t.Confirmations,
		&t.Status,
		&t.LedgerEntryID,
		&t.CreatedAt,
		&t.ResolvedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Create inserts a new pending transfer. The unique signature constraint
// means a deposit transaction can only ever be tracked (and credited) once.
func (r *TransferRepository) Create(ctx context.Context, t *models.PendingTransfer) error {
	query := `
		INSERT INTO pending_transfers
		(reference, account_address, direction, amount, signature, status, ledger_entry_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, confirmations, created_at
	`
	if t.Status == "" {
		t.Status = models.TransferStatusPending
	}
	err := r.q.QueryRow(ctx, query,
		t.Reference,
		t.AccountAddress,
		t.Direction,
		t.Amount,
		t.Signature,
		t.Status,
		t.LedgerEntryID,
	).Scan(&t.ID, &t.Confirmations, &t.CreatedAt)
	if err != nil {
		if isUniqueViolation(err, "") {
			return apperrors.Conflictf("duplicate_transfer", "transfer already tracked")
		}
		return fmt.Errorf("failed to create pending transfer: %w", err)
	}
	return nil
}

// GetBySignature retrieves a transfer by its on-chain signature
func (r *TransferRepository) GetBySignature(ctx context.Context, signature string) (*models.PendingTransfer, error) {
	query := fmt.Sprintf(`SELECT %s FROM pending_transfers WHERE signature = $1`, transferColumns)
	t, err := scanTransfer(r.q.QueryRow(ctx, query, signature))
	if err != nil {
		return nil, fmt.Errorf("failed to get transfer by signature: %w", err)
	}
	return t, nil
}

// GetByIDForUpdate retrieves a transfer with a row lock so reconciler runs
// and user-facing requests cannot settle the same transfer twice.
func (r *TransferRepository) GetByIDForUpdate(ctx context.Context, id int64) (*models.PendingTransfer, error) {
	query := fmt.Sprintf(`SELECT %s FROM pending_transfers WHERE id = $1 FOR UPDATE`, transferColumns)
	t, err := scanTransfer(r.q.QueryRow(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("failed to lock transfer %d: %w", id, err)
	}
	return t, nil
}

// ListUnresolved returns transfers still awaiting on-chain finality
func (r *TransferRepository) ListUnresolved(ctx context.Context) ([]*models.PendingTransfer, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM pending_transfers
		WHERE status IN ('pending', 'submitted')
		ORDER BY created_at`, transferColumns)
	rows, err := r.q.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list unresolved transfers: %w", err)
	}
	defer rows.Close()

	var transfers []*models.PendingTransfer
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transfer: %w", err)
		}
		transfers = append(transfers, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transfers: %w", err)
	}
	return transfers, nil
}

// MarkSubmitted records the broadcast signature on a pending withdrawal
func (r *TransferRepository) MarkSubmitted(ctx context.Context, id int64, signature string) (bool, error) {
	query := `
		UPDATE pending_transfers
		SET signature = $1, status = 'submitted'
		WHERE id = $2 AND status = 'pending'
	`
	result, err := r.q.Exec(ctx, query, signature, id)
	if err != nil {
		return false, fmt.Errorf("failed to mark transfer %d submitted: %w", id, err)
	}
	return result.RowsAffected() == 1, nil
}

// UpdateConfirmations records the latest observed confirmation count
func (r *TransferRepository) UpdateConfirmations(ctx context.Context, id int64, confirmations int64) error {
	query := `UPDATE pending_transfers SET confirmations = $1 WHERE id = $2`
	if _, err := r.q.Exec(ctx, query, confirmations, id); err != nil {
		return fmt.Errorf("failed to update confirmations for transfer %d: %w", id, err)
	}
	return nil
}

// Resolve conditionally finishes a transfer, reporting whether this call won
// the transition. Reconciler ticks may overlap; only one resolves a row.
func (r *TransferRepository) Resolve(ctx context.Context, id int64, to models.TransferStatus, confirmations int64, now time.Time) (bool, error) {
	query := `
		UPDATE pending_transfers
		SET status = $1, confirmations = $2, resolved_at = $3
		WHERE id = $4 AND status IN ('pending', 'submitted')
	`
	result, err := r.q.Exec(ctx, query, to, confirmations, now, id)
	if err != nil {
		return false, fmt.Errorf("failed to resolve transfer %d: %w", id, err)
	}
	return result.RowsAffected() == 1, nil
}

package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"spinvault/database"
	"spinvault/models"

	"github.com/jackc/pgx/v5"
)

// LedgerRepository implements the LedgerRepository interface. The ledger is
// append-only: the only permitted mutation is the reserved -> completed or
// reserved -> released status transition on two-phase withdrawal entries.
type LedgerRepository struct {
	q queryable
}

// NewLedgerRepository creates a new ledger repository
func NewLedgerRepository(db *database.DB) *LedgerRepository {
	return &LedgerRepository{q: db.Pool}
}

// newLedgerRepositoryWithTx creates a new ledger repository with a transaction
func newLedgerRepositoryWithTx(tx queryable) *LedgerRepository {
	return &LedgerRepository{q: tx}
}

// Record appends a ledger entry with its balance snapshots
func (r *LedgerRepository) Record(ctx context.Context, entry *models.LedgerEntry) error {
	metadataJSON, err := json.Marshal(entry.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal entry metadata: %w", err)
	}
	if entry.Status == "" {
		entry.Status = models.EntryStatusCompleted
	}

	query := `
		INSERT INTO ledger_entries
		(account_address, entry_type, status, amount, balance_before, balance_after, reference, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at
	`
	err = r.q.QueryRow(ctx, query,
		entry.AccountAddress,
		entry.EntryType,
		entry.Status,
		entry.Amount,
		entry.BalanceBefore,
		entry.BalanceAfter,
		entry.Reference,
		metadataJSON,
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record ledger entry: %w", err)
	}
	return nil
}

// TransitionStatus moves a two-phase entry between statuses conditionally,
// reporting whether the transition applied.
func (r *LedgerRepository) TransitionStatus(ctx context.Context, id int64, from, to models.EntryStatus) (bool, error) {
	query := `UPDATE ledger_entries SET status = $1 WHERE id = $2 AND status = $3`
	result, err := r.q.Exec(ctx, query, to, id, from)
	if err != nil {
		return false, fmt.Errorf("failed to transition ledger entry %d: %w", id, err)
	}
	return result.RowsAffected() == 1, nil
}

// ListByAccount returns an account's ledger entries, newest first
func (r *LedgerRepository) ListByAccount(ctx context.Context, address string, limit int) ([]*models.LedgerEntry, error) {
	query := `
		SELECT id, account_address, entry_type, status, amount, balance_before, balance_after, reference, metadata, created_at
		FROM ledger_entries
		WHERE account_address = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`
	rows, err := r.q.Query(ctx, query, address, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger entries for %s: %w", address, err)
	}
	defer rows.Close()

	var entries []*models.LedgerEntry
	for rows.Next() {
		entry, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate ledger entries: %w", err)
	}
	return entries, nil
}

func scanLedgerEntry(row pgx.Row) (*models.LedgerEntry, error) {
	var entry models.LedgerEntry
	var metadataJSON []byte
	err := row.Scan(
		&entry.ID,
		&entry.AccountAddress,
		&entry.EntryType,
		&entry.Status,
		&entry.Amount,
		&entry.BalanceBefore,
		&entry.BalanceAfter,
		&entry.Reference,
		&metadataJSON,
		&entry.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &entry.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal entry metadata: %w", err)
		}
	}
	return &entry, nil
}

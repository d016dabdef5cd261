package repository

import (
	"context"
	"fmt"

	"spinvault/apperrors"
	"spinvault/database"
	"spinvault/models"

	"github.com/jackc/pgx/v5"
)

const accountColumns = `address, username, balance, total_deposited, total_withdrawn, total_wagered, total_won, created_at, updated_at`

// AccountRepository implements the AccountRepository interface
type AccountRepository struct {
	q queryable
}

// NewAccountRepository creates a new account repository
func NewAccountRepository(db *database.DB) *AccountRepository {
	return &AccountRepository{q: db.Pool}
}

// newAccountRepositoryWithTx creates a new account repository with a transaction
func newAccountRepositoryWithTx(tx queryable) *AccountRepository {
	return &AccountRepository{q: tx}
}

func scanAccount(row pgx.Row) (*models.Account, error) {
	var account models.Account
	err := row.Scan(
		&account.Address,
		&account.Username,
		&account.Balance,
		&account.TotalDeposited,
		&account.TotalWithdrawn,
		&account.TotalWagered,
		&account.TotalWon,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// GetByAddress retrieves an account by wallet address, nil if none exists
func (r *AccountRepository) GetByAddress(ctx context.Context, address string) (*models.Account, error) {
	query := fmt.Sprintf(`SELECT %s FROM accounts WHERE address = $1`, accountColumns)
	account, err := scanAccount(r.q.QueryRow(ctx, query, address))
	if err != nil {
		return nil, fmt.Errorf("failed to get account %s: %w", address, err)
	}
	return account, nil
}

// GetByAddressForUpdate retrieves an account with a row lock, serializing
// concurrent balance mutations on the same account.
func (r *AccountRepository) GetByAddressForUpdate(ctx context.Context, address string) (*models.Account, error) {
	query := fmt.Sprintf(`SELECT %s FROM accounts WHERE address = $1 FOR UPDATE`, accountColumns)
	account, err := scanAccount(r.q.QueryRow(ctx, query, address))
	if err != nil {
		return nil, fmt.Errorf("failed to lock account %s: %w", address, err)
	}
	return account, nil
}

// Create creates a new account with a zero balance. Accounts are created
// lazily on first interaction.
func (r *AccountRepository) Create(ctx context.Context, address string) (*models.Account, error) {
	query := fmt.Sprintf(`
		INSERT INTO accounts (address)
		VALUES ($1)
		ON CONFLICT (address) DO NOTHING
		RETURNING %s`, accountColumns)

	account, err := scanAccount(r.q.QueryRow(ctx, query, address))
	if err != nil {
		return nil, fmt.Errorf("failed to create account %s: %w", address, err)
	}
	if account == nil {
		// Lost a creation race; the winner's row is the account.
		return r.GetByAddress(ctx, address)
	}
	return account, nil
}

// UpdateUsername sets the display name on an account
func (r *AccountRepository) UpdateUsername(ctx context.Context, address, username string) error {
	query := `UPDATE accounts SET username = $1, updated_at = NOW() WHERE address = $2`
	result, err := r.q.Exec(ctx, query, username, address)
	if err != nil {
		return fmt.Errorf("failed to update username for %s: %w", address, err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

// AddBalance adds to an account's balance atomically
func (r *AccountRepository) AddBalance(ctx context.Context, address string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("amount must be positive")
	}

	query := `UPDATE accounts SET balance = balance + $1, updated_at = NOW() WHERE address = $2`
	result, err := r.q.Exec(ctx, query, amount, address)
	if err != nil {
		return fmt.Errorf("failed to add balance for %s: %w", address, err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

// DeductBalance deducts from an account's balance atomically, failing with
// ErrInsufficientBalance if the balance does not cover the amount. The
// conditional update is the guard against concurrent overdraws: two racing
// deductions serialize on the row and the second re-checks the predicate.
func (r *AccountRepository) DeductBalance(ctx context.Context, address string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("amount must be positive")
	}

	query := `
		UPDATE accounts
		SET balance = balance - $1, updated_at = NOW()
		WHERE address = $2 AND balance >= $1
	`
	result, err := r.q.Exec(ctx, query, amount, address)
	if err != nil {
		return fmt.Errorf("failed to deduct balance for %s: %w", address, err)
	}
	if result.RowsAffected() == 0 {
		account, err := r.GetByAddress(ctx, address)
		if err != nil {
			return fmt.Errorf("failed to check account: %w", err)
		}
		if account == nil {
			return apperrors.ErrNotFound
		}
		return apperrors.Wrap(apperrors.ErrInsufficientBalance, apperrors.KindConflict,
			"insufficient_balance", fmt.Sprintf("have %d, need %d", account.Balance, amount))
	}
	return nil
}

// IncrementTotals bumps the cumulative counters on an account. Zero deltas
// are allowed and leave the corresponding counter untouched.
func (r *AccountRepository) IncrementTotals(ctx context.Context, address string, deposited, withdrawn, wagered, won int64) error {
	query := `
		UPDATE accounts
		SET total_deposited = total_deposited + $1,
		    total_withdrawn = total_withdrawn + $2,
		    total_wagered = total_wagered + $3,
		    total_won = total_won + $4,
		    updated_at = NOW()
		WHERE address = $5
	`
	result, err := r.q.Exec(ctx, query, deposited, withdrawn, wagered, won, address)
	if err != nil {
		return fmt.Errorf("failed to increment totals for %s: %w", address, err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

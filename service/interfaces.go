package service

import (
	"context"
	"time"

	"spinvault/events"
	"spinvault/models"
)

// AccountRepository defines the interface for account data access
type AccountRepository interface {
	// GetByAddress retrieves an account by wallet address, nil if none exists
	GetByAddress(ctx context.Context, address string) (*models.Account, error)

	// GetByAddressForUpdate retrieves an account with a row lock, serializing
	// concurrent balance mutations on the same account
	GetByAddressForUpdate(ctx context.Context, address string) (*models.Account, error)

	// Create creates a new account with a zero balance
	Create(ctx context.Context, address string) (*models.Account, error)

	// UpdateUsername sets the display name on an account
	UpdateUsername(ctx context.Context, address, username string) error

	// AddBalance adds to an account's balance atomically
	AddBalance(ctx context.Context, address string, amount int64) error

	// DeductBalance deducts from an account's balance atomically, failing
	// with ErrInsufficientBalance if the balance does not cover the amount
	DeductBalance(ctx context.Context, address string, amount int64) error

	// IncrementTotals bumps the cumulative deposit/withdraw/wager/win counters
	IncrementTotals(ctx context.Context, address string, deposited, withdrawn, wagered, won int64) error
}

// EpochRepository defines the interface for epoch data access, including the
// separately stored server seed secrets
type EpochRepository interface {
	// GetActive retrieves the currently active epoch, nil if none exists
	GetActive(ctx context.Context) (*models.Epoch, error)

	// GetActiveForUpdate retrieves the active epoch with a row lock
	GetActiveForUpdate(ctx context.Context) (*models.Epoch, error)

	// GetByID retrieves an epoch by its ID
	GetByID(ctx context.Context, id int64) (*models.Epoch, error)

	// GetBySequence retrieves an epoch by its sequence number
	GetBySequence(ctx context.Context, sequence int64) (*models.Epoch, error)

	// NextSequence returns the sequence number the next epoch should carry
	NextSequence(ctx context.Context) (int64, error)

	// Create inserts a new active epoch together with its seed secret,
	// returning ErrActiveEpochExists if another active epoch won the race
	Create(ctx context.Context, epoch *models.Epoch, seed string) error

	// GetSecret returns the unrevealed server seed for an epoch
	GetSecret(ctx context.Context, epochID int64) (string, error)

	// AddPoolContribution credits a spin fee to the epoch reward pool
	AddPoolContribution(ctx context.Context, epochID int64, fee int64) error

	// Complete transitions an active epoch to completed, revealing its seed
	// and freezing the pool accounting
	Complete(ctx context.Context, epochID int64, revealedSeed string, eligibleScoreTotal, bonusReserved int64) (bool, error)

	// ListRecent returns the most recently started epochs, newest first
	ListRecent(ctx context.Context, limit int) ([]*models.Epoch, error)
}

// PositionRepository defines the interface for position data access
type PositionRepository interface {
	// Create inserts a new locked position, returning ErrSeedReuse on a
	// nonce collision within the epoch
	Create(ctx context.Context, p *models.Position) error

	// NextNonce returns the next nonce for an account within an epoch
	NextNonce(ctx context.Context, epochID int64, address string) (int64, error)

	// GetByID retrieves a position by its ID
	GetByID(ctx context.Context, id int64) (*models.Position, error)

	// MarkClaimed conditionally transitions locked -> claimed, reporting
	// whether this call won the transition
	MarkClaimed(ctx context.Context, id int64, bonus int64, now time.Time) (bool, error)

	// SumEligibleScores totals the ticket scores of bonus-eligible positions
	SumEligibleScores(ctx context.Context, epochID int64) (int64, error)

	// ListEligibleScores returns the ticket scores of bonus-eligible positions
	ListEligibleScores(ctx context.Context, epochID int64) ([]int64, error)

	// ListByAccount returns an account's positions, newest first
	ListByAccount(ctx context.Context, address string, limit int) ([]*models.Position, error)

	// ListClaimable returns locked positions whose unlock time has passed
	ListClaimable(ctx context.Context, address string, now time.Time) ([]*models.Position, error)
}

// LedgerRepository defines the interface for the append-only audit ledger
type LedgerRepository interface {
	// Record appends a ledger entry with its balance snapshots
	Record(ctx context.Context, entry *models.LedgerEntry) error

	// TransitionStatus moves a two-phase entry between statuses conditionally
	TransitionStatus(ctx context.Context, id int64, from, to models.EntryStatus) (bool, error)

	// ListByAccount returns an account's ledger entries, newest first
	ListByAccount(ctx context.Context, address string, limit int) ([]*models.LedgerEntry, error)
}

// TransferRepository defines the interface for pending on-chain transfers
type TransferRepository interface {
	// Create inserts a new pending transfer
	Create(ctx context.Context, t *models.PendingTransfer) error

	// GetBySignature retrieves a transfer by its on-chain signature
	GetBySignature(ctx context.Context, signature string) (*models.PendingTransfer, error)

	// GetByIDForUpdate retrieves a transfer with a row lock
	GetByIDForUpdate(ctx context.Context, id int64) (*models.PendingTransfer, error)

	// ListUnresolved returns transfers still awaiting on-chain finality
	ListUnresolved(ctx context.Context) ([]*models.PendingTransfer, error)

	// MarkSubmitted records the broadcast signature on a pending withdrawal
	MarkSubmitted(ctx context.Context, id int64, signature string) (bool, error)

	// UpdateConfirmations records the latest observed confirmation count
	UpdateConfirmations(ctx context.Context, id int64, confirmations int64) error

	// Resolve conditionally finishes a transfer, reporting whether this call
	// won the transition
	Resolve(ctx context.Context, id int64, to models.TransferStatus, confirmations int64, now time.Time) (bool, error)
}

// SpinService defines the interface for spin settlement
type SpinService interface {
	// Spin validates and settles a stake request: resolves the outcome from
	// the active epoch's committed seed, debits the stake and creates a
	// locked position, all atomically
	Spin(ctx context.Context, address string, stakeAmount int64, clientSeed string) (*models.SpinResult, error)
}

// ClaimService defines the interface for position claim settlement
type ClaimService interface {
	// Claim pays out an unlocked position's principal plus any bonus share,
	// exactly once per position
	Claim(ctx context.Context, address string, positionID int64) (*models.ClaimResult, error)
}

// EpochService defines the interface for epoch lifecycle management
type EpochService interface {
	// Tick advances the epoch lifecycle: closes and reveals an ended epoch,
	// rolls unreserved pool value over and creates the successor. Returns
	// the epoch that is active after the tick.
	Tick(ctx context.Context) (*models.Epoch, error)

	// ActiveEpochInfo returns the public view of the active epoch
	ActiveEpochInfo(ctx context.Context) (*models.EpochInfo, error)

	// EpochInfo returns the public view of an epoch by sequence; the seed is
	// included only after the epoch has completed
	EpochInfo(ctx context.Context, sequence int64) (*models.EpochInfo, error)

	// RecentEpochs returns public views of the most recent epochs, newest
	// first
	RecentEpochs(ctx context.Context, limit int) ([]*models.EpochInfo, error)

	// VerifyEpoch checks a completed epoch's revealed seed against its
	// public commitment
	VerifyEpoch(ctx context.Context, sequence int64) (*models.EpochVerification, error)
}

// TransferService defines the interface for deposit and withdrawal requests
type TransferService interface {
	// Deposit registers an on-chain deposit transaction and credits the
	// account once the transfer is final
	Deposit(ctx context.Context, address, signature string, minExpected int64) (*models.DepositResult, error)

	// Withdraw reserves balance, broadcasts the on-chain transfer and
	// returns its signature
	Withdraw(ctx context.Context, address string, amount int64) (*models.WithdrawResult, error)
}

// ReconcilerService defines the interface for asynchronous transfer settlement
type ReconcilerService interface {
	// Tick inspects pending transfers and settles those that reached
	// on-chain finality, failed, or timed out
	Tick(ctx context.Context) error
}

// AccountService defines the interface for account operations
type AccountService interface {
	// GetOrCreateAccount retrieves an existing account or creates one lazily
	GetOrCreateAccount(ctx context.Context, address string) (*models.Account, error)

	// GetAccount retrieves an account, nil if none exists
	GetAccount(ctx context.Context, address string) (*models.Account, error)

	// UpdateUsername sets the display name on an account
	UpdateUsername(ctx context.Context, address, username string) error

	// History returns an account's ledger entries, newest first
	History(ctx context.Context, address string, limit int) ([]*models.LedgerEntry, error)

	// Positions returns an account's positions, newest first
	Positions(ctx context.Context, address string, limit int) ([]*models.Position, error)

	// Claimable returns an account's positions that are ready to claim
	Claimable(ctx context.Context, address string) ([]*models.Position, error)
}

// EventPublisher defines the interface for publishing events
type EventPublisher interface {
	Publish(event events.Event)
}

// UnitOfWork defines the interface for transactional repository operations
type UnitOfWork interface {
	// Begin starts a new transaction
	Begin(ctx context.Context) error

	// Commit commits the transaction
	Commit() error

	// Rollback rolls back the transaction
	Rollback() error

	// Repository getters
	AccountRepository() AccountRepository
	EpochRepository() EpochRepository
	PositionRepository() PositionRepository
	LedgerRepository() LedgerRepository
	TransferRepository() TransferRepository
	EventBus() EventPublisher
}

// UnitOfWorkFactory defines the interface for creating UnitOfWork instances
type UnitOfWorkFactory interface {
	// Create creates a new UnitOfWork instance
	Create() UnitOfWork
}

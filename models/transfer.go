package models

import (
	"time"
)

// TransferDirection distinguishes deposits from withdrawals
type TransferDirection string

const (
	TransferDirectionDeposit    TransferDirection = "deposit"
	TransferDirectionWithdrawal TransferDirection = "withdrawal"
)

// TransferStatus represents the on-chain settlement state of a transfer
type TransferStatus string

const (
	TransferStatusPending   TransferStatus = "pending"
	TransferStatusSubmitted TransferStatus = "submitted"
	TransferStatusConfirmed TransferStatus = "confirmed"
	TransferStatusFailed    TransferStatus = "failed"
)

// PendingTransfer tracks a deposit or withdrawal whose on-chain finality is
// not yet known. The reconciler polls these rows against the chain and
// settles the ledger when finality is reached. Signature is unique so a
// deposit transaction can only ever be credited once.
type PendingTransfer struct {
	ID             int64             `db:"id"`
	Reference      string            `db:"reference"`
	AccountAddress string            `db:"account_address"`
	Direction      TransferDirection `db:"direction"`
	Amount         int64             `db:"amount"`
	Signature      *string           `db:"signature"`
	Confirmations  int64             `db:"confirmations"`
	Status         TransferStatus    `db:"status"`
	LedgerEntryID  *int64            `db:"ledger_entry_id"`
	CreatedAt      time.Time         `db:"created_at"`
	ResolvedAt     *time.Time        `db:"resolved_at"`
}

// DepositResult represents the outcome of a deposit request
type DepositResult struct {
	Status     TransferStatus
	Amount     int64
	NewBalance int64
}

// WithdrawResult represents the outcome of a withdrawal request
type WithdrawResult struct {
	Reference  string
	Signature  string
	NewBalance int64
}

package chain

import (
	"context"
)

// SignatureStatus describes the observed finality of an on-chain transfer.
type SignatureStatus struct {
	Confirmations int64
	Finalized     bool
	Failed        bool
}

// TransferInfo describes a decoded on-chain token transfer.
type TransferInfo struct {
	From   string
	To     string
	Amount int64
}

// Client is the boundary to the underlying chain. Deposits are verified and
// tracked by signature; withdrawals are broadcast and then polled to
// finality by the reconciler.
type Client interface {
	// SignatureStatus returns the confirmation state of a transaction
	// signature. A signature the chain has never seen reports zero
	// confirmations without error.
	SignatureStatus(ctx context.Context, signature string) (*SignatureStatus, error)

	// TransferInfo decodes the token transfer carried by a confirmed
	// transaction.
	TransferInfo(ctx context.Context, signature string) (*TransferInfo, error)

	// SubmitTransfer broadcasts a transfer from the custodial vault to the
	// recipient and returns the transaction signature.
	SubmitTransfer(ctx context.Context, recipient string, amount int64) (string, error)
}

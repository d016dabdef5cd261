package service

import (
	"context"
	"fmt"

	"spinvault/events"
	"spinvault/models"
)

// RecordLedgerEntry appends a ledger entry and emits the matching balance
// change event. This is the single entry point for all balance audit records
// in the system; the event is held by the transactional bus and published
// only if the surrounding transaction commits.
func RecordLedgerEntry(ctx context.Context, uow UnitOfWork, entry *models.LedgerEntry) error {
	if err := uow.LedgerRepository().Record(ctx, entry); err != nil {
		return fmt.Errorf("failed to record ledger entry: %w", err)
	}

	uow.EventBus().Publish(events.BalanceChangeEvent{
		AccountAddress: entry.AccountAddress,
		OldBalance:     entry.BalanceBefore,
		NewBalance:     entry.BalanceAfter,
		EntryType:      string(entry.EntryType),
		ChangeAmount:   entry.Amount,
	})

	return nil
}

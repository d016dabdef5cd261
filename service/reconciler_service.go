package service

import (
	"context"
	"fmt"
	"time"

	"spinvault/chain"
	"spinvault/config"
	"spinvault/events"
	"spinvault/models"

	log "github.com/sirupsen/logrus"
)

type reconcilerService struct {
	uowFactory  UnitOfWorkFactory
	chainClient chain.Client
}

// NewReconcilerService creates a new transfer reconciler service
func NewReconcilerService(uowFactory UnitOfWorkFactory, chainClient chain.Client) ReconcilerService {
	return &reconcilerService{
		uowFactory:  uowFactory,
		chainClient: chainClient,
	}
}

// Tick sweeps unresolved transfers and settles those that reached finality,
// failed, or timed out. Each transfer settles in its own transaction so one
// bad row cannot wedge the sweep.
func (s *reconcilerService) Tick(ctx context.Context) error {
	transfers, err := s.listUnresolved(ctx)
	if err != nil {
		return err
	}

	for _, transfer := range transfers {
		if err := s.reconcileOne(ctx, transfer); err != nil {
			log.WithFields(log.Fields{
				"transferID": transfer.ID,
				"reference":  transfer.Reference,
				"direction":  transfer.Direction,
			}).WithError(err).Error("Failed to reconcile transfer")
		}
	}

	return nil
}

func (s *reconcilerService) listUnresolved(ctx context.Context) ([]*models.PendingTransfer, error) {
	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	return uow.TransferRepository().ListUnresolved(ctx)
}

func (s *reconcilerService) reconcileOne(ctx context.Context, transfer *models.PendingTransfer) error {
	now := time.Now().UTC()
	cfg := config.Get()

	// A withdrawal that was reserved but never broadcast cannot settle on
	// chain. After the timeout, return the funds.
	if transfer.Signature == nil {
		if transfer.Direction == models.TransferDirectionWithdrawal && now.Sub(transfer.CreatedAt) > cfg.WithdrawalTimeout {
			return s.settle(ctx, transfer.ID, func(ctx context.Context, uow UnitOfWork, t *models.PendingTransfer) error {
				log.WithFields(log.Fields{
					"transferID": t.ID,
					"reference":  t.Reference,
				}).Warn("Releasing withdrawal that was never broadcast")
				return releaseReservation(ctx, uow, t.ID, now)
			})
		}
		return nil
	}

	status, err := s.chainClient.SignatureStatus(ctx, *transfer.Signature)
	if err != nil {
		return err
	}

	switch {
	case status.Failed:
		if transfer.Direction == models.TransferDirectionWithdrawal {
			return s.settle(ctx, transfer.ID, func(ctx context.Context, uow UnitOfWork, t *models.PendingTransfer) error {
				return releaseReservation(ctx, uow, t.ID, now)
			})
		}
		// A failed deposit credits nothing.
		return s.settle(ctx, transfer.ID, func(ctx context.Context, uow UnitOfWork, t *models.PendingTransfer) error {
			_, err := uow.TransferRepository().Resolve(ctx, t.ID, models.TransferStatusFailed, status.Confirmations, now)
			return err
		})

	case status.Finalized || status.Confirmations >= cfg.MinConfirmations:
		if transfer.Direction == models.TransferDirectionDeposit {
			return s.settle(ctx, transfer.ID, func(ctx context.Context, uow UnitOfWork, t *models.PendingTransfer) error {
				account, err := uow.AccountRepository().GetByAddressForUpdate(ctx, t.AccountAddress)
				if err != nil {
					return err
				}
				if account == nil {
					return fmt.Errorf("account %s missing for pending deposit %d", t.AccountAddress, t.ID)
				}
				return creditDeposit(ctx, uow, account, t, status.Confirmations)
			})
		}
		return s.settle(ctx, transfer.ID, func(ctx context.Context, uow UnitOfWork, t *models.PendingTransfer) error {
			return finalizeWithdrawal(ctx, uow, t, status.Confirmations, now)
		})

	default:
		return s.updateConfirmations(ctx, transfer.ID, status.Confirmations)
	}
}

// settle runs fn against a freshly locked copy of the transfer. Re-reading
// under FOR UPDATE after the chain call means a transfer resolved by a
// concurrent sweep is skipped, not settled twice.
func (s *reconcilerService) settle(ctx context.Context, transferID int64, fn func(context.Context, UnitOfWork, *models.PendingTransfer) error) error {
	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	transfer, err := uow.TransferRepository().GetByIDForUpdate(ctx, transferID)
	if err != nil {
		return err
	}
	if transfer == nil || (transfer.Status != models.TransferStatusPending && transfer.Status != models.TransferStatusSubmitted) {
		return nil
	}

	if err := fn(ctx, uow, transfer); err != nil {
		return err
	}

	if err := uow.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *reconcilerService) updateConfirmations(ctx context.Context, transferID, confirmations int64) error {
	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	if err := uow.TransferRepository().UpdateConfirmations(ctx, transferID, confirmations); err != nil {
		return err
	}
	return uow.Commit()
}

// creditDeposit credits a finalized deposit to the locked account and
// resolves the transfer. The caller holds the account row lock.
func creditDeposit(ctx context.Context, uow UnitOfWork, account *models.Account, transfer *models.PendingTransfer, confirmations int64) error {
	now := time.Now().UTC()

	won, err := uow.TransferRepository().Resolve(ctx, transfer.ID, models.TransferStatusConfirmed, confirmations, now)
	if err != nil {
		return err
	}
	if !won {
		return nil
	}

	if err := uow.AccountRepository().AddBalance(ctx, account.Address, transfer.Amount); err != nil {
		return err
	}
	if err := uow.AccountRepository().IncrementTotals(ctx, account.Address, transfer.Amount, 0, 0, 0); err != nil {
		return err
	}

	entry := &models.LedgerEntry{
		AccountAddress: account.Address,
		EntryType:      models.EntryTypeDeposit,
		Amount:         transfer.Amount,
		BalanceBefore:  account.Balance,
		BalanceAfter:   account.Balance + transfer.Amount,
		Reference:      transfer.Reference,
	}
	if transfer.Signature != nil {
		entry.Metadata = map[string]any{"signature": *transfer.Signature}
	}
	if err := RecordLedgerEntry(ctx, uow, entry); err != nil {
		return err
	}

	signature := ""
	if transfer.Signature != nil {
		signature = *transfer.Signature
	}
	uow.EventBus().Publish(events.TransferConfirmedEvent{
		AccountAddress: account.Address,
		Direction:      string(models.TransferDirectionDeposit),
		Amount:         transfer.Amount,
		Signature:      signature,
	})

	log.WithFields(log.Fields{
		"accountAddress": account.Address,
		"amount":         transfer.Amount,
		"signature":      signature,
	}).Info("Deposit credited")

	return nil
}

// finalizeWithdrawal records that the reserved funds have left the vault for
// good. The balance already moved at reservation time; this only closes the
// reserved ledger entry and the counters.
func finalizeWithdrawal(ctx context.Context, uow UnitOfWork, transfer *models.PendingTransfer, confirmations int64, now time.Time) error {
	won, err := uow.TransferRepository().Resolve(ctx, transfer.ID, models.TransferStatusConfirmed, confirmations, now)
	if err != nil {
		return err
	}
	if !won {
		return nil
	}

	if transfer.LedgerEntryID != nil {
		if _, err := uow.LedgerRepository().TransitionStatus(ctx, *transfer.LedgerEntryID, models.EntryStatusReserved, models.EntryStatusCompleted); err != nil {
			return err
		}
	}

	account, err := uow.AccountRepository().GetByAddressForUpdate(ctx, transfer.AccountAddress)
	if err != nil {
		return err
	}
	if account == nil {
		return fmt.Errorf("account %s missing for withdrawal %d", transfer.AccountAddress, transfer.ID)
	}

	if err := uow.AccountRepository().IncrementTotals(ctx, transfer.AccountAddress, 0, transfer.Amount, 0, 0); err != nil {
		return err
	}

	entry := &models.LedgerEntry{
		AccountAddress: transfer.AccountAddress,
		EntryType:      models.EntryTypeWithdrawalFinalize,
		Amount:         0,
		BalanceBefore:  account.Balance,
		BalanceAfter:   account.Balance,
		Reference:      transfer.Reference,
	}
	if transfer.Signature != nil {
		entry.Metadata = map[string]any{"signature": *transfer.Signature}
	}
	if err := RecordLedgerEntry(ctx, uow, entry); err != nil {
		return err
	}

	signature := ""
	if transfer.Signature != nil {
		signature = *transfer.Signature
	}
	uow.EventBus().Publish(events.TransferConfirmedEvent{
		AccountAddress: transfer.AccountAddress,
		Direction:      string(models.TransferDirectionWithdrawal),
		Amount:         transfer.Amount,
		Signature:      signature,
	})

	log.WithFields(log.Fields{
		"accountAddress": transfer.AccountAddress,
		"amount":         transfer.Amount,
		"reference":      transfer.Reference,
	}).Info("Withdrawal finalized")

	return nil
}

// releaseReservation returns a reserved withdrawal to the account after the
// on-chain transfer failed or was never broadcast.
func releaseReservation(ctx context.Context, uow UnitOfWork, transferID int64, now time.Time) error {
	transfer, err := uow.TransferRepository().GetByIDForUpdate(ctx, transferID)
	if err != nil {
		return err
	}
	if transfer == nil {
		return fmt.Errorf("transfer %d not found", transferID)
	}

	won, err := uow.TransferRepository().Resolve(ctx, transfer.ID, models.TransferStatusFailed, transfer.Confirmations, now)
	if err != nil {
		return err
	}
	if !won {
		return nil
	}

	account, err := uow.AccountRepository().GetByAddressForUpdate(ctx, transfer.AccountAddress)
	if err != nil {
		return err
	}
	if account == nil {
		return fmt.Errorf("account %s missing for withdrawal %d", transfer.AccountAddress, transfer.ID)
	}

	if err := uow.AccountRepository().AddBalance(ctx, transfer.AccountAddress, transfer.Amount); err != nil {
		return err
	}

	if transfer.LedgerEntryID != nil {
		if _, err := uow.LedgerRepository().TransitionStatus(ctx, *transfer.LedgerEntryID, models.EntryStatusReserved, models.EntryStatusReleased); err != nil {
			return err
		}
	}

	entry := &models.LedgerEntry{
		AccountAddress: transfer.AccountAddress,
		EntryType:      models.EntryTypeWithdrawalRelease,
		Amount:         transfer.Amount,
		BalanceBefore:  account.Balance,
		BalanceAfter:   account.Balance + transfer.Amount,
		Reference:      transfer.Reference,
	}
	if err := RecordLedgerEntry(ctx, uow, entry); err != nil {
		return err
	}

	log.WithFields(log.Fields{
		"accountAddress": transfer.AccountAddress,
		"amount":         transfer.Amount,
		"reference":      transfer.Reference,
	}).Warn("Withdrawal reservation released")

	return nil
}

package service

import (
	"context"
	"fmt"
	"time"

	"spinvault/apperrors"
	"spinvault/chain"
	"spinvault/config"
	"spinvault/models"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

type transferService struct {
	uowFactory  UnitOfWorkFactory
	chainClient chain.Client
}

// NewTransferService creates a new deposit/withdrawal service
func NewTransferService(uowFactory UnitOfWorkFactory, chainClient chain.Client) TransferService {
	return &transferService{
		uowFactory:  uowFactory,
		chainClient: chainClient,
	}
}

// Deposit registers an on-chain deposit by its transaction signature. The
// signature is unique across all transfers, so resubmitting the same one can
// never double-credit: the caller just gets the existing transfer's status.
func (s *transferService) Deposit(ctx context.Context, address, signature string, minExpected int64) (*models.DepositResult, error) {
	if signature == "" {
		return nil, apperrors.Validationf("missing_signature", "transaction signature is required")
	}

	// Cheap pre-check outside any transaction.
	{
		uow := s.uowFactory.Create()
		if err := uow.Begin(ctx); err != nil {
			return nil, fmt.Errorf("failed to begin transaction: %w", err)
		}
		existing, err := uow.TransferRepository().GetBySignature(ctx, signature)
		uow.Rollback()
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return &models.DepositResult{Status: existing.Status, Amount: existing.Amount}, nil
		}
	}

	status, err := s.chainClient.SignatureStatus(ctx, signature)
	if err != nil {
		return nil, err
	}
	if status.Failed {
		return nil, apperrors.Validationf("transaction_failed", "transaction %s failed on chain", signature)
	}

	info, err := s.chainClient.TransferInfo(ctx, signature)
	if err != nil {
		return nil, err
	}

	cfg := config.Get()
	if info.To != cfg.VaultAddress {
		return nil, apperrors.Validationf("wrong_recipient", "transaction does not pay the vault")
	}
	if info.From != address {
		return nil, apperrors.Validationf("wrong_sender", "transaction was not sent by %s", address)
	}
	if info.Amount <= 0 || info.Amount < minExpected {
		return nil, apperrors.Validationf("amount_too_small", "transferred amount %d is below expected %d", info.Amount, minExpected)
	}

	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	account, err := uow.AccountRepository().GetByAddressForUpdate(ctx, address)
	if err != nil {
		return nil, err
	}
	if account == nil {
		if account, err = uow.AccountRepository().Create(ctx, address); err != nil {
			return nil, err
		}
	}

	sig := signature
	transfer := &models.PendingTransfer{
		Reference:      uuid.New().String(),
		AccountAddress: address,
		Direction:      models.TransferDirectionDeposit,
		Amount:         info.Amount,
		Signature:      &sig,
		Confirmations:  status.Confirmations,
		Status:         models.TransferStatusSubmitted,
	}
	if err := uow.TransferRepository().Create(ctx, transfer); err != nil {
		// Lost a race against a concurrent submission of the same signature.
		if apperrors.CodeOf(err) == "duplicate_transfer" {
			uow.Rollback()
			return s.readDeposit(ctx, signature)
		}
		return nil, err
	}

	result := &models.DepositResult{Status: models.TransferStatusSubmitted, Amount: info.Amount}

	if status.Finalized {
		if err := creditDeposit(ctx, uow, account, transfer, status.Confirmations); err != nil {
			return nil, err
		}
		result.Status = models.TransferStatusConfirmed
		result.NewBalance = account.Balance + info.Amount
	}

	if err := uow.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	log.WithFields(log.Fields{
		"accountAddress": address,
		"signature":      signature,
		"amount":         info.Amount,
		"status":         result.Status,
	}).Info("Deposit registered")

	return result, nil
}

func (s *transferService) readDeposit(ctx context.Context, signature string) (*models.DepositResult, error) {
	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	existing, err := uow.TransferRepository().GetBySignature(ctx, signature)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, apperrors.ErrNotFound
	}
	return &models.DepositResult{Status: existing.Status, Amount: existing.Amount}, nil
}

// Withdraw moves balance out in two phases. Phase one reserves the amount in
// its own committed transaction, so a crash between reserve and broadcast
// leaves a pending transfer the reconciler will time out and release. Phase
// two broadcasts the transfer; a synchronous broadcast failure releases the
// reservation immediately.
func (s *transferService) Withdraw(ctx context.Context, address string, amount int64) (*models.WithdrawResult, error) {
	if amount <= 0 {
		return nil, apperrors.Validationf("invalid_amount", "withdrawal amount must be positive")
	}

	reference := uuid.New().String()

	transferID, newBalance, err := s.reserveWithdrawal(ctx, address, amount, reference)
	if err != nil {
		return nil, err
	}

	signature, err := s.chainClient.SubmitTransfer(ctx, address, amount)
	if err != nil {
		log.WithFields(log.Fields{
			"accountAddress": address,
			"reference":      reference,
			"amount":         amount,
		}).WithError(err).Error("Withdrawal broadcast failed, releasing reservation")
		if releaseErr := s.releaseWithdrawal(ctx, transferID); releaseErr != nil {
			// The reconciler's timeout sweep will release it.
			log.WithField("transferID", transferID).WithError(releaseErr).Error("Failed to release withdrawal reservation")
		}
		return nil, err
	}

	if err := s.markSubmitted(ctx, transferID, signature); err != nil {
		log.WithFields(log.Fields{
			"transferID": transferID,
			"signature":  signature,
		}).WithError(err).Error("Failed to record withdrawal signature")
	}

	log.WithFields(log.Fields{
		"accountAddress": address,
		"reference":      reference,
		"amount":         amount,
		"signature":      signature,
	}).Info("Withdrawal broadcast")

	return &models.WithdrawResult{
		Reference:  reference,
		Signature:  signature,
		NewBalance: newBalance,
	}, nil
}

func (s *transferService) reserveWithdrawal(ctx context.Context, address string, amount int64, reference string) (int64, int64, error) {
	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return 0, 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	account, err := uow.AccountRepository().GetByAddressForUpdate(ctx, address)
	if err != nil {
		return 0, 0, err
	}
	if account == nil {
		return 0, 0, apperrors.ErrInsufficientBalance
	}

	if err := uow.AccountRepository().DeductBalance(ctx, address, amount); err != nil {
		return 0, 0, err
	}

	entry := &models.LedgerEntry{
		AccountAddress: address,
		EntryType:      models.EntryTypeWithdrawalReserve,
		Status:         models.EntryStatusReserved,
		Amount:         -amount,
		BalanceBefore:  account.Balance,
		BalanceAfter:   account.Balance - amount,
		Reference:      reference,
	}
	if err := RecordLedgerEntry(ctx, uow, entry); err != nil {
		return 0, 0, err
	}

	transfer := &models.PendingTransfer{
		Reference:      reference,
		AccountAddress: address,
		Direction:      models.TransferDirectionWithdrawal,
		Amount:         amount,
		Status:         models.TransferStatusPending,
		LedgerEntryID:  &entry.ID,
	}
	if err := uow.TransferRepository().Create(ctx, transfer); err != nil {
		return 0, 0, err
	}

	if err := uow.Commit(); err != nil {
		return 0, 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return transfer.ID, account.Balance - amount, nil
}

func (s *transferService) markSubmitted(ctx context.Context, transferID int64, signature string) error {
	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	if _, err := uow.TransferRepository().MarkSubmitted(ctx, transferID, signature); err != nil {
		return err
	}
	return uow.Commit()
}

func (s *transferService) releaseWithdrawal(ctx context.Context, transferID int64) error {
	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	if err := releaseReservation(ctx, uow, transferID, time.Now().UTC()); err != nil {
		return err
	}
	return uow.Commit()
}

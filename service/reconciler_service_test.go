package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"spinvault/chain"
	"spinvault/models"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func pendingDeposit(id int64, signature string) *models.PendingTransfer {
	sig := signature
	return &models.PendingTransfer{
		ID:             id,
		Reference:      "dep-ref",
		AccountAddress: "addr1",
		Direction:      models.TransferDirectionDeposit,
		Amount:         5000,
		Signature:      &sig,
		Status:         models.TransferStatusSubmitted,
		CreatedAt:      time.Now().UTC(),
	}
}

func pendingWithdrawal(id int64, signature *string) *models.PendingTransfer {
	ledgerID := int64(3)
	return &models.PendingTransfer{
		ID:             id,
		Reference:      "wd-ref",
		AccountAddress: "addr1",
		Direction:      models.TransferDirectionWithdrawal,
		Amount:         4000,
		Signature:      signature,
		Status:         models.TransferStatusPending,
		LedgerEntryID:  &ledgerID,
		CreatedAt:      time.Now().UTC(),
	}
}

func TestReconcile_DepositReachingFinalityIsCredited(t *testing.T) {
	ctx := context.Background()
	f := newSpinFixture()
	chainClient := &MockChainClient{}
	svc := NewReconcilerService(f.factory, chainClient)

	deposit := pendingDeposit(1, "sig1")
	account := &models.Account{Address: "addr1", Balance: 0}

	f.factory.On("Create").Return(f.uow)
	f.uow.On("Begin", ctx).Return(nil)
	f.uow.On("Rollback").Return(nil)
	f.uow.On("Commit").Return(nil)

	f.transferRepo.On("ListUnresolved", ctx).Return([]*models.PendingTransfer{deposit}, nil)
	chainClient.On("SignatureStatus", ctx, "sig1").Return(&chain.SignatureStatus{Confirmations: 40, Finalized: true}, nil)
	f.transferRepo.On("GetByIDForUpdate", ctx, int64(1)).Return(deposit, nil)
	f.accountRepo.On("GetByAddressForUpdate", ctx, "addr1").Return(account, nil)
	f.transferRepo.On("Resolve", ctx, int64(1), models.TransferStatusConfirmed, int64(40), mock.AnythingOfType("time.Time")).Return(true, nil)
	f.accountRepo.On("AddBalance", ctx, "addr1", int64(5000)).Return(nil)
	f.accountRepo.On("IncrementTotals", ctx, "addr1", int64(5000), int64(0), int64(0), int64(0)).Return(nil)
	f.ledgerRepo.On("Record", ctx, mock.MatchedBy(func(e *models.LedgerEntry) bool {
		return e.EntryType == models.EntryTypeDeposit && e.Amount == 5000
	})).Return(nil)

	require.NoError(t, svc.Tick(ctx))
	f.uow.AssertCalled(t, "Commit")
}

func TestReconcile_UnconfirmedDepositOnlyUpdatesCount(t *testing.T) {
	ctx := context.Background()
	f := newSpinFixture()
	chainClient := &MockChainClient{}
	svc := NewReconcilerService(f.factory, chainClient)

	deposit := pendingDeposit(1, "sig1")

	f.factory.On("Create").Return(f.uow)
	f.uow.On("Begin", ctx).Return(nil)
	f.uow.On("Rollback").Return(nil)
	f.uow.On("Commit").Return(nil)

	f.transferRepo.On("ListUnresolved", ctx).Return([]*models.PendingTransfer{deposit}, nil)
	chainClient.On("SignatureStatus", ctx, "sig1").Return(&chain.SignatureStatus{Confirmations: 5}, nil)
	f.transferRepo.On("UpdateConfirmations", ctx, int64(1), int64(5)).Return(nil)

	require.NoError(t, svc.Tick(ctx))
	f.accountRepo.AssertNotCalled(t, "AddBalance", mock.Anything, mock.Anything, mock.Anything)
}

func TestReconcile_FailedWithdrawalIsReleased(t *testing.T) {
	ctx := context.Background()
	f := newSpinFixture()
	chainClient := &MockChainClient{}
	svc := NewReconcilerService(f.factory, chainClient)

	sig := "out-sig"
	withdrawal := pendingWithdrawal(2, &sig)
	account := &models.Account{Address: "addr1", Balance: 6000}

	f.factory.On("Create").Return(f.uow)
	f.uow.On("Begin", ctx).Return(nil)
	f.uow.On("Rollback").Return(nil)
	f.uow.On("Commit").Return(nil)

	f.transferRepo.On("ListUnresolved", ctx).Return([]*models.PendingTransfer{withdrawal}, nil)
	chainClient.On("SignatureStatus", ctx, "out-sig").Return(&chain.SignatureStatus{Failed: true}, nil)
	f.transferRepo.On("GetByIDForUpdate", ctx, int64(2)).Return(withdrawal, nil)
	f.transferRepo.On("Resolve", ctx, int64(2), models.TransferStatusFailed, int64(0), mock.AnythingOfType("time.Time")).Return(true, nil)
	f.accountRepo.On("GetByAddressForUpdate", ctx, "addr1").Return(account, nil)
	f.accountRepo.On("AddBalance", ctx, "addr1", int64(4000)).Return(nil)
	f.ledgerRepo.On("TransitionStatus", ctx, int64(3), models.EntryStatusReserved, models.EntryStatusReleased).Return(true, nil)
	f.ledgerRepo.On("Record", ctx, mock.MatchedBy(func(e *models.LedgerEntry) bool {
		return e.EntryType == models.EntryTypeWithdrawalRelease && e.Amount == 4000
	})).Return(nil)

	require.NoError(t, svc.Tick(ctx))
}

func TestReconcile_FinalizedWithdrawalCompletes(t *testing.T) {
	ctx := context.Background()
	f := newSpinFixture()
	chainClient := &MockChainClient{}
	svc := NewReconcilerService(f.factory, chainClient)

	sig := "out-sig"
	withdrawal := pendingWithdrawal(2, &sig)
	withdrawal.Status = models.TransferStatusSubmitted
	account := &models.Account{Address: "addr1", Balance: 6000}

	f.factory.On("Create").Return(f.uow)
	f.uow.On("Begin", ctx).Return(nil)
	f.uow.On("Rollback").Return(nil)
	f.uow.On("Commit").Return(nil)

	f.transferRepo.On("ListUnresolved", ctx).Return([]*models.PendingTransfer{withdrawal}, nil)
	chainClient.On("SignatureStatus", ctx, "out-sig").Return(&chain.SignatureStatus{Confirmations: 40, Finalized: true}, nil)
	f.transferRepo.On("GetByIDForUpdate", ctx, int64(2)).Return(withdrawal, nil)
	f.transferRepo.On("Resolve", ctx, int64(2), models.TransferStatusConfirmed, int64(40), mock.AnythingOfType("time.Time")).Return(true, nil)
	f.ledgerRepo.On("TransitionStatus", ctx, int64(3), models.EntryStatusReserved, models.EntryStatusCompleted).Return(true, nil)
	f.accountRepo.On("GetByAddressForUpdate", ctx, "addr1").Return(account, nil)
	f.accountRepo.On("IncrementTotals", ctx, "addr1", int64(0), int64(4000), int64(0), int64(0)).Return(nil)
	f.ledgerRepo.On("Record", ctx, mock.MatchedBy(func(e *models.LedgerEntry) bool {
		// Finalize is audit-only: balance already moved at reservation.
		return e.EntryType == models.EntryTypeWithdrawalFinalize && e.Amount == 0
	})).Return(nil)

	require.NoError(t, svc.Tick(ctx))

	// Balance never changes on finalize.
	f.accountRepo.AssertNotCalled(t, "AddBalance", mock.Anything, mock.Anything, mock.Anything)
}

func TestReconcile_StaleUnbroadcastWithdrawalTimesOut(t *testing.T) {
	ctx := context.Background()
	f := newSpinFixture()
	chainClient := &MockChainClient{}
	svc := NewReconcilerService(f.factory, chainClient)

	withdrawal := pendingWithdrawal(2, nil)
	withdrawal.CreatedAt = time.Now().UTC().Add(-time.Hour)
	account := &models.Account{Address: "addr1", Balance: 6000}

	f.factory.On("Create").Return(f.uow)
	f.uow.On("Begin", ctx).Return(nil)
	f.uow.On("Rollback").Return(nil)
	f.uow.On("Commit").Return(nil)

	f.transferRepo.On("ListUnresolved", ctx).Return([]*models.PendingTransfer{withdrawal}, nil)
	f.transferRepo.On("GetByIDForUpdate", ctx, int64(2)).Return(withdrawal, nil)
	f.transferRepo.On("Resolve", ctx, int64(2), models.TransferStatusFailed, int64(0), mock.AnythingOfType("time.Time")).Return(true, nil)
	f.accountRepo.On("GetByAddressForUpdate", ctx, "addr1").Return(account, nil)
	f.accountRepo.On("AddBalance", ctx, "addr1", int64(4000)).Return(nil)
	f.ledgerRepo.On("TransitionStatus", ctx, int64(3), models.EntryStatusReserved, models.EntryStatusReleased).Return(true, nil)
	f.ledgerRepo.On("Record", ctx, mock.Anything).Return(nil)

	require.NoError(t, svc.Tick(ctx))

	// Nothing was ever broadcast, so the chain was never consulted.
	chainClient.AssertNotCalled(t, "SignatureStatus", mock.Anything, mock.Anything)
}

func TestReconcile_FreshUnbroadcastWithdrawalLeftAlone(t *testing.T) {
	ctx := context.Background()
	f := newSpinFixture()
	chainClient := &MockChainClient{}
	svc := NewReconcilerService(f.factory, chainClient)

	withdrawal := pendingWithdrawal(2, nil)

	f.factory.On("Create").Return(f.uow)
	f.uow.On("Begin", ctx).Return(nil)
	f.uow.On("Rollback").Return(nil)
	f.transferRepo.On("ListUnresolved", ctx).Return([]*models.PendingTransfer{withdrawal}, nil)

	require.NoError(t, svc.Tick(ctx))
	f.transferRepo.AssertNotCalled(t, "Resolve", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestReconcile_AlreadyResolvedTransferSkipped(t *testing.T) {
	ctx := context.Background()
	f := newSpinFixture()
	chainClient := &MockChainClient{}
	svc := NewReconcilerService(f.factory, chainClient)

	deposit := pendingDeposit(1, "sig1")
	resolved := pendingDeposit(1, "sig1")
	resolved.Status = models.TransferStatusConfirmed

	f.factory.On("Create").Return(f.uow)
	f.uow.On("Begin", ctx).Return(nil)
	f.uow.On("Rollback").Return(nil)

	f.transferRepo.On("ListUnresolved", ctx).Return([]*models.PendingTransfer{deposit}, nil)
	chainClient.On("SignatureStatus", ctx, "sig1").Return(&chain.SignatureStatus{Finalized: true, Confirmations: 40}, nil)
	// A concurrent sweep resolved it between the list and the lock.
	f.transferRepo.On("GetByIDForUpdate", ctx, int64(1)).Return(resolved, nil)

	require.NoError(t, svc.Tick(ctx))
	f.accountRepo.AssertNotCalled(t, "AddBalance", mock.Anything, mock.Anything, mock.Anything)
	f.uow.AssertNotCalled(t, "Commit")
}

func TestReconcile_OneBadRowDoesNotStopSweep(t *testing.T) {
	ctx := context.Background()
	f := newSpinFixture()
	chainClient := &MockChainClient{}
	svc := NewReconcilerService(f.factory, chainClient)

	bad := pendingDeposit(1, "bad-sig")
	good := pendingDeposit(2, "good-sig")

	f.factory.On("Create").Return(f.uow)
	f.uow.On("Begin", ctx).Return(nil)
	f.uow.On("Rollback").Return(nil)
	f.uow.On("Commit").Return(nil)

	f.transferRepo.On("ListUnresolved", ctx).Return([]*models.PendingTransfer{bad, good}, nil)
	chainClient.On("SignatureStatus", ctx, "bad-sig").Return(nil, errors.New("rpc timeout"))
	chainClient.On("SignatureStatus", ctx, "good-sig").Return(&chain.SignatureStatus{Confirmations: 2}, nil)
	f.transferRepo.On("UpdateConfirmations", ctx, int64(2), int64(2)).Return(nil)

	require.NoError(t, svc.Tick(ctx))
	f.transferRepo.AssertCalled(t, "UpdateConfirmations", ctx, int64(2), int64(2))
}

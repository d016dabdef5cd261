package service

import (
	"context"
	"testing"

	"spinvault/apperrors"
	"spinvault/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestGetOrCreateAccount_CreatesWhenMissing(t *testing.T) {
	ctx := context.Background()
	f := newSpinFixture()
	svc := NewAccountService(f.factory)

	created := &models.Account{Address: "addr1"}

	f.factory.On("Create").Return(f.uow)
	f.uow.On("Begin", ctx).Return(nil)
	f.uow.On("Rollback").Return(nil)
	f.uow.On("Commit").Return(nil)
	f.accountRepo.On("GetByAddress", ctx, "addr1").Return(nil, nil)
	f.accountRepo.On("Create", ctx, "addr1").Return(created, nil)

	account, err := svc.GetOrCreateAccount(ctx, "addr1")
	require.NoError(t, err)
	assert.Equal(t, created, account)
}

func TestGetOrCreateAccount_ReturnsExisting(t *testing.T) {
	ctx := context.Background()
	f := newSpinFixture()
	svc := NewAccountService(f.factory)

	existing := &models.Account{Address: "addr1", Balance: 500}

	f.factory.On("Create").Return(f.uow)
	f.uow.On("Begin", ctx).Return(nil)
	f.uow.On("Rollback").Return(nil)
	f.uow.On("Commit").Return(nil)
	f.accountRepo.On("GetByAddress", ctx, "addr1").Return(existing, nil)

	account, err := svc.GetOrCreateAccount(ctx, "addr1")
	require.NoError(t, err)
	assert.Equal(t, existing, account)
	f.accountRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestUpdateUsername_Validation(t *testing.T) {
	ctx := context.Background()
	f := newSpinFixture()
	svc := NewAccountService(f.factory)

	for _, username := range []string{"", "ab", "has spaces", "way-too!strange", string(make([]byte, 40))} {
		err := svc.UpdateUsername(ctx, "addr1", username)
		assert.Equalf(t, apperrors.KindValidation, apperrors.KindOf(err), "username %q", username)
	}
	f.factory.AssertNotCalled(t, "Create")
}

func TestUpdateUsername_UnknownAccount(t *testing.T) {
	ctx := context.Background()
	f := newSpinFixture()
	svc := NewAccountService(f.factory)

	f.factory.On("Create").Return(f.uow)
	f.uow.On("Begin", ctx).Return(nil)
	f.uow.On("Rollback").Return(nil)
	f.accountRepo.On("GetByAddress", ctx, "ghost").Return(nil, nil)

	err := svc.UpdateUsername(ctx, "ghost", "validname")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestUpdateUsername_Success(t *testing.T) {
	ctx := context.Background()
	f := newSpinFixture()
	svc := NewAccountService(f.factory)

	existing := &models.Account{Address: "addr1"}

	f.factory.On("Create").Return(f.uow)
	f.uow.On("Begin", ctx).Return(nil)
	f.uow.On("Rollback").Return(nil)
	f.uow.On("Commit").Return(nil)
	f.accountRepo.On("GetByAddress", ctx, "addr1").Return(existing, nil)
	f.accountRepo.On("UpdateUsername", ctx, "addr1", "valid_name").Return(nil)

	require.NoError(t, svc.UpdateUsername(ctx, "addr1", "valid_name"))
}

func TestHistory_ClampsLimit(t *testing.T) {
	ctx := context.Background()
	f := newSpinFixture()
	svc := NewAccountService(f.factory)

	f.factory.On("Create").Return(f.uow)
	f.uow.On("Begin", ctx).Return(nil)
	f.uow.On("Rollback").Return(nil)
	f.ledgerRepo.On("ListByAccount", ctx, "addr1", 50).Return([]*models.LedgerEntry{}, nil)

	_, err := svc.History(ctx, "addr1", -5)
	require.NoError(t, err)
	_, err = svc.History(ctx, "addr1", 9999)
	require.NoError(t, err)

	f.ledgerRepo.AssertNumberOfCalls(t, "ListByAccount", 2)
}

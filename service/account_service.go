package service

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"spinvault/apperrors"
	"spinvault/models"
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_]{3,32}$`)

type accountService struct {
	uowFactory UnitOfWorkFactory
}

// NewAccountService creates a new account service
func NewAccountService(uowFactory UnitOfWorkFactory) AccountService {
	return &accountService{
		uowFactory: uowFactory,
	}
}

func (s *accountService) GetOrCreateAccount(ctx context.Context, address string) (*models.Account, error) {
	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	account, err := uow.AccountRepository().GetByAddress(ctx, address)
	if err != nil {
		return nil, err
	}
	if account == nil {
		if account, err = uow.AccountRepository().Create(ctx, address); err != nil {
			return nil, err
		}
	}

	if err := uow.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return account, nil
}

func (s *accountService) GetAccount(ctx context.Context, address string) (*models.Account, error) {
	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	return uow.AccountRepository().GetByAddress(ctx, address)
}

func (s *accountService) UpdateUsername(ctx context.Context, address, username string) error {
	if !usernamePattern.MatchString(username) {
		return apperrors.Validationf("invalid_username", "username must be 3-32 characters of letters, digits or underscore")
	}

	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	account, err := uow.AccountRepository().GetByAddress(ctx, address)
	if err != nil {
		return err
	}
	if account == nil {
		return apperrors.ErrNotFound
	}

	if err := uow.AccountRepository().UpdateUsername(ctx, address, username); err != nil {
		return err
	}

	return uow.Commit()
}

func (s *accountService) History(ctx context.Context, address string, limit int) ([]*models.LedgerEntry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	return uow.LedgerRepository().ListByAccount(ctx, address, limit)
}

func (s *accountService) Positions(ctx context.Context, address string, limit int) ([]*models.Position, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	return uow.PositionRepository().ListByAccount(ctx, address, limit)
}

func (s *accountService) Claimable(ctx context.Context, address string) ([]*models.Position, error) {
	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	return uow.PositionRepository().ListClaimable(ctx, address, time.Now().UTC())
}

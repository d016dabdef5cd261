package service

import (
	"context"
	"fmt"
	"time"

	"spinvault/apperrors"
	"spinvault/events"
	"spinvault/models"
)

type claimService struct {
	uowFactory UnitOfWorkFactory
}

// NewClaimService creates a new claim settlement service
func NewClaimService(uowFactory UnitOfWorkFactory) ClaimService {
	return &claimService{
		uowFactory: uowFactory,
	}
}

func (s *claimService) Claim(ctx context.Context, address string, positionID int64) (*models.ClaimResult, error) {
	// Create unit of work
	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback() // No-op if already committed

	position, err := uow.PositionRepository().GetByID(ctx, positionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get position: %w", err)
	}
	// A position belonging to someone else is indistinguishable from a
	// missing one; ownership is never leaked.
	if position == nil || position.AccountAddress != address {
		return nil, apperrors.ErrNotFound
	}
	if position.Status == models.PositionStatusClaimed {
		return nil, apperrors.ErrAlreadyClaimed
	}

	now := time.Now().UTC()
	if !position.Unlocked(now) {
		return nil, apperrors.ErrStillLocked
	}

	// Bonus shares are paid only from a completed epoch: the pool and the
	// eligible-score divisor are frozen at close, so the payout is stable
	// no matter when or in what order claims arrive.
	var bonus int64
	if position.BonusEligible {
		epoch, err := uow.EpochRepository().GetByID(ctx, position.EpochID)
		if err != nil {
			return nil, fmt.Errorf("failed to get epoch: %w", err)
		}
		if epoch == nil {
			return nil, fmt.Errorf("position %d references missing epoch %d", position.ID, position.EpochID)
		}
		if epoch.Status != models.EpochStatusCompleted {
			return nil, apperrors.ErrEpochOpen
		}
		if epoch.EligibleScoreTotal > 0 {
			bonus = epoch.RewardPool * position.TicketScore / epoch.EligibleScoreTotal
		}
	}

	// Lock the account row before flipping the position so all balance
	// mutations for one account serialize in the same order as spins.
	account, err := uow.AccountRepository().GetByAddressForUpdate(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	if account == nil {
		return nil, apperrors.ErrNotFound
	}

	// The conditional status transition is the exactly-once gate: of N
	// racing claims only the one that flips the row proceeds to credit.
	claimed, err := uow.PositionRepository().MarkClaimed(ctx, position.ID, bonus, now)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, apperrors.ErrAlreadyClaimed
	}

	payout := position.Principal + bonus
	if err := uow.AccountRepository().AddBalance(ctx, address, payout); err != nil {
		return nil, fmt.Errorf("failed to credit payout: %w", err)
	}
	if bonus > 0 {
		if err := uow.AccountRepository().IncrementTotals(ctx, address, 0, 0, 0, bonus); err != nil {
			return nil, fmt.Errorf("failed to update won counter: %w", err)
		}
	}

	entry := &models.LedgerEntry{
		AccountAddress: address,
		EntryType:      models.EntryTypeClaimPayout,
		Amount:         payout,
		BalanceBefore:  account.Balance,
		BalanceAfter:   account.Balance + payout,
		Metadata: map[string]any{
			"position_id": position.ID,
			"principal":   position.Principal,
			"bonus":       bonus,
			"tier":        position.Tier,
		},
	}
	if err := RecordLedgerEntry(ctx, uow, entry); err != nil {
		return nil, err
	}

	uow.EventBus().Publish(events.PositionClaimedEvent{
		AccountAddress: address,
		PositionID:     position.ID,
		Principal:      position.Principal,
		Bonus:          bonus,
	})

	// Commit the transaction
	if err := uow.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return &models.ClaimResult{
		Principal:  position.Principal,
		Bonus:      bonus,
		NewBalance: account.Balance + payout,
	}, nil
}

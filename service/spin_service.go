package service

import (
	"context"
	"fmt"
	"time"

	"spinvault/apperrors"
	"spinvault/config"
	"spinvault/events"
	"spinvault/fairness"
	"spinvault/models"

	log "github.com/sirupsen/logrus"
)

const maxClientSeedLength = 64

type spinService struct {
	uowFactory UnitOfWorkFactory
	tierTable  fairness.TierTable
}

// NewSpinService creates a new spin settlement service
func NewSpinService(uowFactory UnitOfWorkFactory, tierTable fairness.TierTable) SpinService {
	return &spinService{
		uowFactory: uowFactory,
		tierTable:  tierTable,
	}
}

func (s *spinService) Spin(ctx context.Context, address string, stakeAmount int64, clientSeed string) (*models.SpinResult, error) {
	cfg := config.Get()

	// Validate inputs
	if stakeAmount < cfg.MinStake || stakeAmount > cfg.MaxStake {
		return nil, apperrors.Validationf("stake_out_of_bounds",
			"stake must be between %d and %d", cfg.MinStake, cfg.MaxStake)
	}
	if clientSeed == "" {
		return nil, apperrors.Validationf("missing_client_seed", "client seed is required")
	}
	if len(clientSeed) > maxClientSeedLength {
		return nil, apperrors.Validationf("client_seed_too_long",
			"client seed must be at most %d characters", maxClientSeedLength)
	}

	// Create unit of work
	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback() // No-op if already committed

	// Lock the account row first: concurrent spins from one account must
	// serialize here so the balance check and nonce assignment cannot
	// interleave.
	account, err := uow.AccountRepository().GetByAddressForUpdate(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	if account == nil {
		return nil, apperrors.ErrInsufficientBalance
	}

	// Load the active epoch and its unrevealed seed
	epoch, err := uow.EpochRepository().GetActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get active epoch: %w", err)
	}
	now := time.Now().UTC()
	if epoch == nil || epoch.Ended(now) {
		return nil, apperrors.ErrNoActiveEpoch
	}

	serverSeed, err := uow.EpochRepository().GetSecret(ctx, epoch.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load epoch seed: %w", err)
	}
	// The stored seed must still match the published commitment before any
	// outcome is derived from it. A mismatch means seed substitution and
	// halts settlement for this epoch.
	if !fairness.VerifyCommitment(serverSeed, epoch.SeedHash) {
		log.WithFields(log.Fields{
			"epochSequence": epoch.Sequence,
			"seedHash":      epoch.SeedHash,
		}).Error("Stored epoch seed does not match its commitment")
		return nil, apperrors.ErrSeedHashMismatch
	}

	nonce, err := uow.PositionRepository().NextNonce(ctx, epoch.ID, address)
	if err != nil {
		return nil, fmt.Errorf("failed to compute nonce: %w", err)
	}

	outcome, err := fairness.Resolve(serverSeed, clientSeed, nonce, s.tierTable)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve outcome: %w", err)
	}

	// Split the stake: the fee feeds the epoch reward pool, the remainder
	// is the locked principal returned on claim.
	feeAmount := stakeAmount * cfg.FeeBps / 10000
	principal := stakeAmount - feeAmount
	ticketScore := stakeAmount * outcome.MultiplierX10 / 10

	// Debit the full stake in one atomic step
	if err := uow.AccountRepository().DeductBalance(ctx, address, stakeAmount); err != nil {
		return nil, err
	}
	if err := uow.AccountRepository().IncrementTotals(ctx, address, 0, 0, stakeAmount, 0); err != nil {
		return nil, fmt.Errorf("failed to update wager counter: %w", err)
	}
	if err := uow.EpochRepository().AddPoolContribution(ctx, epoch.ID, feeAmount); err != nil {
		return nil, err
	}

	entry := &models.LedgerEntry{
		AccountAddress: address,
		EntryType:      models.EntryTypeSpinStake,
		Amount:         -stakeAmount,
		BalanceBefore:  account.Balance,
		BalanceAfter:   account.Balance - stakeAmount,
		Metadata: map[string]any{
			"epoch_sequence": epoch.Sequence,
			"stake_amount":   stakeAmount,
			"fee_amount":     feeAmount,
			"tier":           outcome.Tier,
		},
	}
	if err := RecordLedgerEntry(ctx, uow, entry); err != nil {
		return nil, err
	}

	position := &models.Position{
		AccountAddress: address,
		EpochID:        epoch.ID,
		Nonce:          nonce,
		ClientSeed:     clientSeed,
		StakeAmount:    stakeAmount,
		FeeAmount:      feeAmount,
		Principal:      principal,
		Tier:           outcome.Tier,
		DurationHours:  outcome.DurationHours,
		MultiplierX10:  outcome.MultiplierX10,
		TicketScore:    ticketScore,
		BonusEligible:  outcome.BonusEligible,
		LockedAt:       now,
		UnlocksAt:      now.Add(time.Duration(outcome.DurationHours) * time.Hour),
		LedgerEntryID:  &entry.ID,
	}
	if err := uow.PositionRepository().Create(ctx, position); err != nil {
		return nil, err
	}

	uow.EventBus().Publish(events.SpinSettledEvent{
		AccountAddress: address,
		PositionID:     position.ID,
		EpochSequence:  epoch.Sequence,
		StakeAmount:    stakeAmount,
		Tier:           outcome.Tier,
		DurationHours:  outcome.DurationHours,
		MultiplierX10:  outcome.MultiplierX10,
		BonusEligible:  outcome.BonusEligible,
	})

	// Commit the transaction
	if err := uow.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return &models.SpinResult{
		Position:   position,
		Tier:       outcome.Tier,
		Duration:   outcome.DurationHours,
		Multiplier: float64(outcome.MultiplierX10) / 10.0,
		UnlocksAt:  position.UnlocksAt,
		NewBalance: account.Balance - stakeAmount,
	}, nil
}

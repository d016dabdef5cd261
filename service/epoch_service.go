package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"spinvault/apperrors"
	"spinvault/config"
	"spinvault/events"
	"spinvault/fairness"
	"spinvault/models"

	log "github.com/sirupsen/logrus"
)

// PoolAccountAddress is the system account carrying rollover audit entries.
// Seeded by migration; it never holds user funds.
const PoolAccountAddress = "pool"

type epochService struct {
	uowFactory UnitOfWorkFactory
}

// NewEpochService creates a new epoch coordinator service
func NewEpochService(uowFactory UnitOfWorkFactory) EpochService {
	return &epochService{
		uowFactory: uowFactory,
	}
}

// Tick advances the epoch lifecycle. The whole close-reveal-create sequence
// runs in one transaction holding the active epoch's row lock, so competing
// coordinator ticks serialize; a tick losing the creation race reads the
// winner's epoch and returns it.
func (s *epochService) Tick(ctx context.Context) (*models.Epoch, error) {
	cfg := config.Get()
	now := time.Now().UTC()

	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback() // No-op if already committed

	active, err := uow.EpochRepository().GetActiveForUpdate(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get active epoch: %w", err)
	}

	// Still inside its window: nothing to do.
	if active != nil && !active.Ended(now) {
		return active, nil
	}

	var rollover int64
	var closedSequence int64
	var revealedSeed string

	if active != nil {
		rollover, revealedSeed, err = s.closeEpoch(ctx, uow, active)
		if err != nil {
			return nil, err
		}
		closedSequence = active.Sequence
	}

	sequence, err := uow.EpochRepository().NextSequence(ctx)
	if err != nil {
		return nil, err
	}

	seed := fairness.GenerateSeed()
	next := &models.Epoch{
		Sequence:   sequence,
		SeedHash:   fairness.HashCommitment(seed),
		RewardPool: rollover,
		StartsAt:   now,
		EndsAt:     now.Add(cfg.EpochDuration),
	}

	if err := uow.EpochRepository().Create(ctx, next, seed); err != nil {
		if errors.Is(err, apperrors.ErrActiveEpochExists) {
			// Another coordinator created the epoch first; its row is the
			// answer. This transaction made no changes worth keeping.
			uow.Rollback()
			return s.readActive(ctx)
		}
		return nil, err
	}

	if rollover > 0 {
		if err := s.recordRollover(ctx, uow, closedSequence, next.Sequence, rollover); err != nil {
			return nil, err
		}
	}

	if active != nil {
		uow.EventBus().Publish(events.EpochRolledEvent{
			ClosedSequence: closedSequence,
			NewSequence:    next.Sequence,
			Rollover:       rollover,
			RevealedSeed:   revealedSeed,
		})
	}

	if err := uow.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	log.WithFields(log.Fields{
		"sequence": next.Sequence,
		"rollover": rollover,
		"endsAt":   next.EndsAt,
	}).Info("Epoch advanced")

	return next, nil
}

// closeEpoch reveals the ended epoch's seed, freezes its bonus accounting
// and marks it completed. Returns the pool value not reserved for bonus
// payouts, which rolls into the successor.
func (s *epochService) closeEpoch(ctx context.Context, uow UnitOfWork, epoch *models.Epoch) (int64, string, error) {
	if !epoch.CanTransitionTo(models.EpochStatusCompleted) {
		return 0, "", fmt.Errorf("epoch %d cannot close from status %s", epoch.Sequence, epoch.Status)
	}

	seed, err := uow.EpochRepository().GetSecret(ctx, epoch.ID)
	if err != nil {
		return 0, "", err
	}

	// Fatal integrity check: a stored seed that no longer matches the
	// public commitment means the commitment scheme is broken. Halt epoch
	// progression rather than revealing a substituted seed.
	if !fairness.VerifyCommitment(seed, epoch.SeedHash) {
		log.WithFields(log.Fields{
			"epochSequence": epoch.Sequence,
			"seedHash":      epoch.SeedHash,
		}).Error("Epoch seed failed commitment verification at close")
		return 0, "", apperrors.ErrSeedHashMismatch
	}

	scores, err := uow.PositionRepository().ListEligibleScores(ctx, epoch.ID)
	if err != nil {
		return 0, "", err
	}

	var scoreTotal int64
	for _, score := range scores {
		scoreTotal += score
	}

	// Reserve the exact sum of floored shares. Division dust plus pools
	// with no eligible positions roll over to the next epoch.
	var reserved int64
	if scoreTotal > 0 {
		for _, score := range scores {
			reserved += epoch.RewardPool * score / scoreTotal
		}
	}

	completed, err := uow.EpochRepository().Complete(ctx, epoch.ID, seed, scoreTotal, reserved)
	if err != nil {
		return 0, "", err
	}
	if !completed {
		return 0, "", fmt.Errorf("epoch %d was no longer active at close", epoch.Sequence)
	}

	return epoch.RewardPool - reserved, seed, nil
}

// recordRollover writes the paired audit entries tracing pool value moving
// from the closed epoch into the new one. The value lives on the epochs'
// reward_pool column, not the pool account's balance, so the entries carry
// amount zero with the rolled value in metadata; that keeps the ledger's
// amount == after - before invariant intact.
func (s *epochService) recordRollover(ctx context.Context, uow UnitOfWork, fromSequence, toSequence, amount int64) error {
	pool, err := uow.AccountRepository().GetByAddress(ctx, PoolAccountAddress)
	if err != nil {
		return fmt.Errorf("failed to get pool account: %w", err)
	}
	if pool == nil {
		return fmt.Errorf("pool system account is missing")
	}

	out := &models.LedgerEntry{
		AccountAddress: PoolAccountAddress,
		EntryType:      models.EntryTypeRolloverOut,
		Amount:         0,
		BalanceBefore:  pool.Balance,
		BalanceAfter:   pool.Balance,
		Metadata: map[string]any{
			"rollover_amount": amount,
			"epoch_sequence":  fromSequence,
			"to_sequence":     toSequence,
		},
	}
	if err := RecordLedgerEntry(ctx, uow, out); err != nil {
		return err
	}

	in := &models.LedgerEntry{
		AccountAddress: PoolAccountAddress,
		EntryType:      models.EntryTypeRolloverIn,
		Amount:         0,
		BalanceBefore:  pool.Balance,
		BalanceAfter:   pool.Balance,
		Metadata: map[string]any{
			"rollover_amount": amount,
			"epoch_sequence":  toSequence,
			"from_sequence":   fromSequence,
		},
	}
	return RecordLedgerEntry(ctx, uow, in)
}

func (s *epochService) readActive(ctx context.Context) (*models.Epoch, error) {
	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	active, err := uow.EpochRepository().GetActive(ctx)
	if err != nil {
		return nil, err
	}
	if active == nil {
		return nil, apperrors.ErrNoActiveEpoch
	}
	return active, nil
}

// ActiveEpochInfo returns the public view of the active epoch
func (s *epochService) ActiveEpochInfo(ctx context.Context) (*models.EpochInfo, error) {
	active, err := s.readActive(ctx)
	if err != nil {
		return nil, err
	}
	return epochInfo(active), nil
}

// EpochInfo returns the public view of an epoch by sequence number
func (s *epochService) EpochInfo(ctx context.Context, sequence int64) (*models.EpochInfo, error) {
	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	epoch, err := uow.EpochRepository().GetBySequence(ctx, sequence)
	if err != nil {
		return nil, err
	}
	if epoch == nil {
		return nil, apperrors.ErrNotFound
	}
	return epochInfo(epoch), nil
}

// RecentEpochs returns public views of the most recently started epochs,
// newest first. Completed epochs carry their revealed seed, so the list
// doubles as the public audit trail.
func (s *epochService) RecentEpochs(ctx context.Context, limit int) ([]*models.EpochInfo, error) {
	if limit <= 0 || limit > 50 {
		limit = 10
	}

	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	epochs, err := uow.EpochRepository().ListRecent(ctx, limit)
	if err != nil {
		return nil, err
	}

	infos := make([]*models.EpochInfo, 0, len(epochs))
	for _, epoch := range epochs {
		infos = append(infos, epochInfo(epoch))
	}
	return infos, nil
}

// VerifyEpoch recomputes the commitment of a completed epoch's revealed
// seed so any caller can audit that no substitution occurred. It also
// re-derives the bonus divisor from the eligible positions still on record
// and reports whether it matches the total frozen at close.
func (s *epochService) VerifyEpoch(ctx context.Context, sequence int64) (*models.EpochVerification, error) {
	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	epoch, err := uow.EpochRepository().GetBySequence(ctx, sequence)
	if err != nil {
		return nil, err
	}
	if epoch == nil {
		return nil, apperrors.ErrNotFound
	}
	if epoch.Status != models.EpochStatusCompleted || epoch.RevealedSeed == nil {
		return nil, apperrors.ErrNotYetRevealable
	}

	scoreTotal, err := uow.PositionRepository().SumEligibleScores(ctx, epoch.ID)
	if err != nil {
		return nil, err
	}

	return &models.EpochVerification{
		Sequence:       epoch.Sequence,
		SeedHash:       epoch.SeedHash,
		RevealedSeed:   *epoch.RevealedSeed,
		CommitmentOK:   fairness.VerifyCommitment(*epoch.RevealedSeed, epoch.SeedHash),
		SpinCount:      epoch.SpinCount,
		RewardPool:     epoch.RewardPool,
		BonusReserved:  epoch.BonusReserved,
		EligibleScores: epoch.EligibleScoreTotal,
		ScoreTotalOK:   scoreTotal == epoch.EligibleScoreTotal,
	}, nil
}

func epochInfo(epoch *models.Epoch) *models.EpochInfo {
	info := &models.EpochInfo{
		Sequence:   epoch.Sequence,
		Status:     epoch.Status,
		SeedHash:   epoch.SeedHash,
		RewardPool: epoch.RewardPool,
		SpinCount:  epoch.SpinCount,
		StartsAt:   epoch.StartsAt,
		EndsAt:     epoch.EndsAt,
	}
	// The seed becomes public only after completion.
	if epoch.Status == models.EpochStatusCompleted && epoch.RevealedSeed != nil {
		info.RevealedSeed = *epoch.RevealedSeed
	}
	return info
}

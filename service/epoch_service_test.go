package service

import (
	"context"
	"testing"
	"time"

	"spinvault/apperrors"
	"spinvault/events"
	"spinvault/fairness"
	"spinvault/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestEpochTick_NoopInsideWindow(t *testing.T) {
	ctx := context.Background()
	f := newSpinFixture()
	svc := NewEpochService(f.factory)

	seed := "live-seed"
	active := activeTestEpoch(seed)

	f.factory.On("Create").Return(f.uow)
	f.uow.On("Begin", ctx).Return(nil)
	f.uow.On("Rollback").Return(nil)
	f.epochRepo.On("GetActiveForUpdate", ctx).Return(active, nil)

	epoch, err := svc.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, active, epoch)

	f.epochRepo.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.uow.AssertNotCalled(t, "Commit")
}

func TestEpochTick_BootstrapCreatesFirstEpoch(t *testing.T) {
	ctx := context.Background()
	f := newSpinFixture()
	svc := NewEpochService(f.factory)

	f.factory.On("Create").Return(f.uow)
	f.uow.On("Begin", ctx).Return(nil)
	f.uow.On("Rollback").Return(nil)
	f.uow.On("Commit").Return(nil)
	f.epochRepo.On("GetActiveForUpdate", ctx).Return(nil, nil)
	f.epochRepo.On("NextSequence", ctx).Return(int64(1), nil)
	f.epochRepo.On("Create", ctx, mock.MatchedBy(func(e *models.Epoch) bool {
		return e.Sequence == 1 && e.RewardPool == 0 && e.SeedHash != ""
	}), mock.MatchedBy(func(seed string) bool {
		return len(seed) == 64
	})).Return(nil)

	epoch, err := svc.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), epoch.Sequence)

	// The commitment stored on the epoch matches the seed handed to Create.
	seed := f.epochRepo.Calls[len(f.epochRepo.Calls)-1].Arguments.String(2)
	assert.Equal(t, fairness.HashCommitment(seed), epoch.SeedHash)

	// No epoch closed, so no rollover audit and no rolled event.
	f.ledgerRepo.AssertNotCalled(t, "Record", mock.Anything, mock.Anything)
	assert.Empty(t, f.bus.Published())
}

func TestEpochTick_ClosesEndedEpochAndRollsOver(t *testing.T) {
	ctx := context.Background()
	f := newSpinFixture()
	svc := NewEpochService(f.factory)

	seed := "closing-seed"
	ended := &models.Epoch{
		ID:         7,
		Sequence:   3,
		Status:     models.EpochStatusActive,
		SeedHash:   fairness.HashCommitment(seed),
		RewardPool: 1000,
		StartsAt:   time.Now().UTC().Add(-25 * time.Hour),
		EndsAt:     time.Now().UTC().Add(-time.Hour),
	}

	f.factory.On("Create").Return(f.uow)
	f.uow.On("Begin", ctx).Return(nil)
	f.uow.On("Rollback").Return(nil)
	f.uow.On("Commit").Return(nil)

	f.epochRepo.On("GetActiveForUpdate", ctx).Return(ended, nil)
	f.epochRepo.On("GetSecret", ctx, int64(7)).Return(seed, nil)
	// Scores 30 and 70 of a 1000 pool: floor shares 300 and 700, no dust.
	f.positionRepo.On("ListEligibleScores", ctx, int64(7)).Return([]int64{30, 70}, nil)
	f.epochRepo.On("Complete", ctx, int64(7), seed, int64(100), int64(1000)).Return(true, nil)
	f.epochRepo.On("NextSequence", ctx).Return(int64(4), nil)
	f.epochRepo.On("Create", ctx, mock.MatchedBy(func(e *models.Epoch) bool {
		return e.Sequence == 4 && e.RewardPool == 0
	}), mock.AnythingOfType("string")).Return(nil)

	epoch, err := svc.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), epoch.Sequence)

	// Fully reserved pool leaves nothing to roll over.
	f.accountRepo.AssertNotCalled(t, "GetByAddress", mock.Anything, mock.Anything)

	published := f.bus.Published()
	require.Len(t, published, 1)
	rolled := published[0].(events.EpochRolledEvent)
	assert.Equal(t, int64(3), rolled.ClosedSequence)
	assert.Equal(t, int64(4), rolled.NewSequence)
	assert.Equal(t, int64(0), rolled.Rollover)
	assert.Equal(t, seed, rolled.RevealedSeed)
}

func TestEpochTick_DustAndEmptyPoolsRollOver(t *testing.T) {
	ctx := context.Background()
	f := newSpinFixture()
	svc := NewEpochService(f.factory)

	seed := "closing-seed"
	ended := &models.Epoch{
		ID:         7,
		Sequence:   3,
		Status:     models.EpochStatusActive,
		SeedHash:   fairness.HashCommitment(seed),
		RewardPool: 1000,
		StartsAt:   time.Now().UTC().Add(-25 * time.Hour),
		EndsAt:     time.Now().UTC().Add(-time.Hour),
	}
	pool := &models.Account{Address: PoolAccountAddress, Balance: 0}

	f.factory.On("Create").Return(f.uow)
	f.uow.On("Begin", ctx).Return(nil)
	f.uow.On("Rollback").Return(nil)
	f.uow.On("Commit").Return(nil)

	f.epochRepo.On("GetActiveForUpdate", ctx).Return(ended, nil)
	f.epochRepo.On("GetSecret", ctx, int64(7)).Return(seed, nil)
	// Three equal scores: each floor(1000/3) = 333, reserving 999, dust 1.
	f.positionRepo.On("ListEligibleScores", ctx, int64(7)).Return([]int64{1, 1, 1}, nil)
	f.epochRepo.On("Complete", ctx, int64(7), seed, int64(3), int64(999)).Return(true, nil)
	f.epochRepo.On("NextSequence", ctx).Return(int64(4), nil)
	f.epochRepo.On("Create", ctx, mock.MatchedBy(func(e *models.Epoch) bool {
		return e.Sequence == 4 && e.RewardPool == 1
	}), mock.AnythingOfType("string")).Return(nil)
	f.accountRepo.On("GetByAddress", ctx, PoolAccountAddress).Return(pool, nil)
	// Rollover value rides in metadata; the entries themselves move no
	// balance, so amount and the snapshots agree.
	f.ledgerRepo.On("Record", ctx, mock.MatchedBy(func(e *models.LedgerEntry) bool {
		return e.EntryType == models.EntryTypeRolloverOut && e.Amount == 0 &&
			e.BalanceBefore == e.BalanceAfter && e.Metadata["rollover_amount"] == int64(1)
	})).Return(nil).Once()
	f.ledgerRepo.On("Record", ctx, mock.MatchedBy(func(e *models.LedgerEntry) bool {
		return e.EntryType == models.EntryTypeRolloverIn && e.Amount == 0 &&
			e.BalanceBefore == e.BalanceAfter && e.Metadata["rollover_amount"] == int64(1)
	})).Return(nil).Once()

	epoch, err := svc.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), epoch.RewardPool)

	f.ledgerRepo.AssertExpectations(t)
}

func TestEpochTick_NoEligiblePositionsRollsWholePool(t *testing.T) {
	ctx := context.Background()
	f := newSpinFixture()
	svc := NewEpochService(f.factory)

	seed := "closing-seed"
	ended := &models.Epoch{
		ID:         7,
		Sequence:   3,
		Status:     models.EpochStatusActive,
		SeedHash:   fairness.HashCommitment(seed),
		RewardPool: 500,
		StartsAt:   time.Now().UTC().Add(-25 * time.Hour),
		EndsAt:     time.Now().UTC().Add(-time.Hour),
	}
	pool := &models.Account{Address: PoolAccountAddress, Balance: 0}

	f.factory.On("Create").Return(f.uow)
	f.uow.On("Begin", ctx).Return(nil)
	f.uow.On("Rollback").Return(nil)
	f.uow.On("Commit").Return(nil)

	f.epochRepo.On("GetActiveForUpdate", ctx).Return(ended, nil)
	f.epochRepo.On("GetSecret", ctx, int64(7)).Return(seed, nil)
	f.positionRepo.On("ListEligibleScores", ctx, int64(7)).Return([]int64{}, nil)
	f.epochRepo.On("Complete", ctx, int64(7), seed, int64(0), int64(0)).Return(true, nil)
	f.epochRepo.On("NextSequence", ctx).Return(int64(4), nil)
	f.epochRepo.On("Create", ctx, mock.MatchedBy(func(e *models.Epoch) bool {
		return e.RewardPool == 500
	}), mock.AnythingOfType("string")).Return(nil)
	f.accountRepo.On("GetByAddress", ctx, PoolAccountAddress).Return(pool, nil)
	f.ledgerRepo.On("Record", ctx, mock.Anything).Return(nil)

	epoch, err := svc.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(500), epoch.RewardPool)
}

func TestEpochTick_SeedMismatchHaltsClose(t *testing.T) {
	ctx := context.Background()
	f := newSpinFixture()
	svc := NewEpochService(f.factory)

	ended := &models.Epoch{
		ID:       7,
		Sequence: 3,
		Status:   models.EpochStatusActive,
		SeedHash: fairness.HashCommitment("the-real-seed"),
		EndsAt:   time.Now().UTC().Add(-time.Hour),
	}

	f.factory.On("Create").Return(f.uow)
	f.uow.On("Begin", ctx).Return(nil)
	f.uow.On("Rollback").Return(nil)
	f.epochRepo.On("GetActiveForUpdate", ctx).Return(ended, nil)
	f.epochRepo.On("GetSecret", ctx, int64(7)).Return("a-substituted-seed", nil)

	_, err := svc.Tick(ctx)
	assert.ErrorIs(t, err, apperrors.ErrSeedHashMismatch)

	// Nothing was marked completed and no successor exists.
	f.epochRepo.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.epochRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything)
	f.uow.AssertNotCalled(t, "Commit")
}

func TestEpochTick_CreationRaceReadsWinner(t *testing.T) {
	ctx := context.Background()
	f := newSpinFixture()
	svc := NewEpochService(f.factory)

	winner := activeTestEpoch("winner-seed")
	winner.Sequence = 9

	f.factory.On("Create").Return(f.uow)
	f.uow.On("Begin", ctx).Return(nil)
	f.uow.On("Rollback").Return(nil)
	f.epochRepo.On("GetActiveForUpdate", ctx).Return(nil, nil)
	f.epochRepo.On("NextSequence", ctx).Return(int64(9), nil)
	f.epochRepo.On("Create", ctx, mock.Anything, mock.Anything).Return(apperrors.ErrActiveEpochExists)
	f.epochRepo.On("GetActive", ctx).Return(winner, nil)

	epoch, err := svc.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(9), epoch.Sequence)
	f.uow.AssertNotCalled(t, "Commit")
}

func TestVerifyEpoch(t *testing.T) {
	ctx := context.Background()
	f := newSpinFixture()
	svc := NewEpochService(f.factory)

	seed := "revealed-seed"
	completed := &models.Epoch{
		ID:                 2,
		Sequence:           2,
		Status:             models.EpochStatusCompleted,
		SeedHash:           fairness.HashCommitment(seed),
		RevealedSeed:       &seed,
		RewardPool:         1000,
		BonusReserved:      900,
		EligibleScoreTotal: 100,
		SpinCount:          12,
	}

	f.factory.On("Create").Return(f.uow)
	f.uow.On("Begin", ctx).Return(nil)
	f.uow.On("Rollback").Return(nil)
	f.epochRepo.On("GetBySequence", ctx, int64(2)).Return(completed, nil)
	f.positionRepo.On("SumEligibleScores", ctx, int64(2)).Return(int64(100), nil)

	verification, err := svc.VerifyEpoch(ctx, 2)
	require.NoError(t, err)
	assert.True(t, verification.CommitmentOK)
	assert.True(t, verification.ScoreTotalOK)
	assert.Equal(t, seed, verification.RevealedSeed)
	assert.Equal(t, int64(12), verification.SpinCount)
}

func TestVerifyEpoch_DivergedScoreTotalFlagged(t *testing.T) {
	ctx := context.Background()
	f := newSpinFixture()
	svc := NewEpochService(f.factory)

	seed := "revealed-seed"
	completed := &models.Epoch{
		ID:                 3,
		Sequence:           3,
		Status:             models.EpochStatusCompleted,
		SeedHash:           fairness.HashCommitment(seed),
		RevealedSeed:       &seed,
		EligibleScoreTotal: 100,
	}

	f.factory.On("Create").Return(f.uow)
	f.uow.On("Begin", ctx).Return(nil)
	f.uow.On("Rollback").Return(nil)
	f.epochRepo.On("GetBySequence", ctx, int64(3)).Return(completed, nil)
	f.positionRepo.On("SumEligibleScores", ctx, int64(3)).Return(int64(70), nil)

	verification, err := svc.VerifyEpoch(ctx, 3)
	require.NoError(t, err)
	assert.True(t, verification.CommitmentOK)
	assert.False(t, verification.ScoreTotalOK)
}

func TestVerifyEpoch_ActiveEpochNotRevealable(t *testing.T) {
	ctx := context.Background()
	f := newSpinFixture()
	svc := NewEpochService(f.factory)

	active := activeTestEpoch("secret")

	f.factory.On("Create").Return(f.uow)
	f.uow.On("Begin", ctx).Return(nil)
	f.uow.On("Rollback").Return(nil)
	f.epochRepo.On("GetBySequence", ctx, int64(5)).Return(active, nil)

	_, err := svc.VerifyEpoch(ctx, 5)
	assert.ErrorIs(t, err, apperrors.ErrNotYetRevealable)
}

func TestEpochInfo_HidesSeedUntilCompleted(t *testing.T) {
	ctx := context.Background()
	f := newSpinFixture()
	svc := NewEpochService(f.factory)

	active := activeTestEpoch("secret")

	f.factory.On("Create").Return(f.uow)
	f.uow.On("Begin", ctx).Return(nil)
	f.uow.On("Rollback").Return(nil)
	f.epochRepo.On("GetBySequence", ctx, int64(5)).Return(active, nil)

	info, err := svc.EpochInfo(ctx, 5)
	require.NoError(t, err)
	assert.Empty(t, info.RevealedSeed)
	assert.NotEmpty(t, info.SeedHash)
}

func TestRecentEpochs(t *testing.T) {
	ctx := context.Background()
	f := newSpinFixture()
	svc := NewEpochService(f.factory)

	seed := "old-seed"
	completed := activeTestEpoch(seed)
	completed.Sequence = 4
	completed.Status = models.EpochStatusCompleted
	completed.RevealedSeed = &seed

	active := activeTestEpoch("live-seed")

	f.factory.On("Create").Return(f.uow)
	f.uow.On("Begin", ctx).Return(nil)
	f.uow.On("Rollback").Return(nil)
	f.epochRepo.On("ListRecent", ctx, 10).Return([]*models.Epoch{active, completed}, nil)

	infos, err := svc.RecentEpochs(ctx, 0)
	require.NoError(t, err)
	require.Len(t, infos, 2)

	// Active epoch keeps its seed hidden; the completed one reveals it.
	assert.Equal(t, int64(5), infos[0].Sequence)
	assert.Empty(t, infos[0].RevealedSeed)
	assert.Equal(t, int64(4), infos[1].Sequence)
	assert.Equal(t, seed, infos[1].RevealedSeed)
}

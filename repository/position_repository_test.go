package repository

import (
	"context"
	"testing"
	"time"

	"spinvault/apperrors"
	"spinvault/fairness"
	"spinvault/models"
	"spinvault/repository/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupPositionFixtures(t *testing.T, testDB *testutil.TestDatabase, addresses ...string) *models.Epoch {
	t.Helper()
	ctx := context.Background()

	accounts := NewAccountRepository(testDB.DB)
	for _, address := range addresses {
		_, err := accounts.Create(ctx, address)
		require.NoError(t, err)
	}

	epochs := NewEpochRepository(testDB.DB)
	seed := fairness.GenerateSeed()
	epoch := testutil.TestEpoch(1, fairness.HashCommitment(seed))
	require.NoError(t, epochs.Create(ctx, epoch, seed))
	return epoch
}

func TestPositionRepository_Create(t *testing.T) {
	testDB := testutil.SetupTestDatabase(t)

	repo := NewPositionRepository(testDB.DB)
	ctx := context.Background()
	epoch := setupPositionFixtures(t, testDB, "addr-pos-1")

	t.Run("creates locked position", func(t *testing.T) {
		position := testutil.TestPosition(epoch.ID, "addr-pos-1", 1)
		require.NoError(t, repo.Create(ctx, position))

		assert.NotZero(t, position.ID)
		assert.Equal(t, models.PositionStatusLocked, position.Status)

		got, err := repo.GetByID(ctx, position.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, int64(1000), got.StakeAmount)
		assert.Equal(t, int64(950), got.Principal)
		assert.Equal(t, "mid", got.Tier)
		assert.Nil(t, got.ClaimedAt)
	})

	t.Run("nonce reuse within epoch rejected", func(t *testing.T) {
		position := testutil.TestPosition(epoch.ID, "addr-pos-1", 1)
		err := repo.Create(ctx, position)
		assert.ErrorIs(t, err, apperrors.ErrSeedReuse)
	})

	t.Run("next nonce advances past existing spins", func(t *testing.T) {
		next, err := repo.NextNonce(ctx, epoch.ID, "addr-pos-1")
		require.NoError(t, err)
		assert.Equal(t, int64(2), next)

		next, err = repo.NextNonce(ctx, epoch.ID, "addr-never-spun")
		require.NoError(t, err)
		assert.Equal(t, int64(1), next)
	})
}

func TestPositionRepository_MarkClaimed(t *testing.T) {
	testDB := testutil.SetupTestDatabase(t)

	repo := NewPositionRepository(testDB.DB)
	ctx := context.Background()
	epoch := setupPositionFixtures(t, testDB, "addr-claim-1")
	now := time.Now().UTC()

	t.Run("unlocked position claims once", func(t *testing.T) {
		position := testutil.TestPosition(epoch.ID, "addr-claim-1", 1)
		position.UnlocksAt = now.Add(-time.Hour)
		require.NoError(t, repo.Create(ctx, position))

		claimed, err := repo.MarkClaimed(ctx, position.ID, 300, now)
		require.NoError(t, err)
		assert.True(t, claimed)

		again, err := repo.MarkClaimed(ctx, position.ID, 300, now)
		require.NoError(t, err)
		assert.False(t, again)

		got, err := repo.GetByID(ctx, position.ID)
		require.NoError(t, err)
		assert.Equal(t, models.PositionStatusClaimed, got.Status)
		require.NotNil(t, got.BonusAmount)
		assert.Equal(t, int64(300), *got.BonusAmount)
		require.NotNil(t, got.ClaimedAt)
	})

	t.Run("locked position cannot be claimed early", func(t *testing.T) {
		position := testutil.TestPosition(epoch.ID, "addr-claim-1", 2)
		require.NoError(t, repo.Create(ctx, position))

		claimed, err := repo.MarkClaimed(ctx, position.ID, 0, now)
		require.NoError(t, err)
		assert.False(t, claimed)

		got, err := repo.GetByID(ctx, position.ID)
		require.NoError(t, err)
		assert.Equal(t, models.PositionStatusLocked, got.Status)
	})
}

func TestPositionRepository_EligibleScores(t *testing.T) {
	testDB := testutil.SetupTestDatabase(t)

	repo := NewPositionRepository(testDB.DB)
	ctx := context.Background()
	epoch := setupPositionFixtures(t, testDB, "addr-sc-1", "addr-sc-2")

	require.NoError(t, repo.Create(ctx, testutil.TestEligiblePosition(epoch.ID, "addr-sc-1", 1, 3000)))
	require.NoError(t, repo.Create(ctx, testutil.TestEligiblePosition(epoch.ID, "addr-sc-2", 1, 7000)))
	require.NoError(t, repo.Create(ctx, testutil.TestPosition(epoch.ID, "addr-sc-1", 2)))

	t.Run("sum skips ineligible positions", func(t *testing.T) {
		total, err := repo.SumEligibleScores(ctx, epoch.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(10000), total)
	})

	t.Run("list returns scores in insertion order", func(t *testing.T) {
		scores, err := repo.ListEligibleScores(ctx, epoch.ID)
		require.NoError(t, err)
		assert.Equal(t, []int64{3000, 7000}, scores)
	})

	t.Run("empty epoch sums to zero", func(t *testing.T) {
		total, err := repo.SumEligibleScores(ctx, 999)
		require.NoError(t, err)
		assert.Equal(t, int64(0), total)
	})
}

func TestPositionRepository_Listing(t *testing.T) {
	testDB := testutil.SetupTestDatabase(t)

	repo := NewPositionRepository(testDB.DB)
	ctx := context.Background()
	epoch := setupPositionFixtures(t, testDB, "addr-list-1", "addr-list-2")
	now := time.Now().UTC()

	unlocked := testutil.TestPosition(epoch.ID, "addr-list-1", 1)
	unlocked.UnlocksAt = now.Add(-2 * time.Hour)
	require.NoError(t, repo.Create(ctx, unlocked))

	locked := testutil.TestPosition(epoch.ID, "addr-list-1", 2)
	require.NoError(t, repo.Create(ctx, locked))

	require.NoError(t, repo.Create(ctx, testutil.TestPosition(epoch.ID, "addr-list-2", 1)))

	t.Run("list by account honors limit", func(t *testing.T) {
		positions, err := repo.ListByAccount(ctx, "addr-list-1", 10)
		require.NoError(t, err)
		assert.Len(t, positions, 2)

		positions, err = repo.ListByAccount(ctx, "addr-list-1", 1)
		require.NoError(t, err)
		assert.Len(t, positions, 1)
	})

	t.Run("claimable returns only unlocked positions", func(t *testing.T) {
		claimable, err := repo.ListClaimable(ctx, "addr-list-1", now)
		require.NoError(t, err)
		require.Len(t, claimable, 1)
		assert.Equal(t, unlocked.ID, claimable[0].ID)
	})

	t.Run("claimed positions drop out of claimable", func(t *testing.T) {
		claimed, err := repo.MarkClaimed(ctx, unlocked.ID, 0, now)
		require.NoError(t, err)
		require.True(t, claimed)

		claimable, err := repo.ListClaimable(ctx, "addr-list-1", now)
		require.NoError(t, err)
		assert.Empty(t, claimable)
	})
}

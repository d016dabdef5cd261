package repository

import (
	"context"
	"testing"

	"spinvault/models"
	"spinvault/repository/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedgerRepository_Record(t *testing.T) {
	testDB := testutil.SetupTestDatabase(t)

	accounts := NewAccountRepository(testDB.DB)
	repo := NewLedgerRepository(testDB.DB)
	ctx := context.Background()

	_, err := accounts.Create(ctx, "addr-ledger-1")
	require.NoError(t, err)

	t.Run("records entry with snapshots and metadata", func(t *testing.T) {
		entry := testutil.TestLedgerEntry("addr-ledger-1", models.EntryTypeDeposit, 1000, 0)
		entry.Metadata = map[string]any{"signature": "sig-abc"}
		require.NoError(t, repo.Record(ctx, entry))

		assert.NotZero(t, entry.ID)
		assert.False(t, entry.CreatedAt.IsZero())

		entries, err := repo.ListByAccount(ctx, "addr-ledger-1", 10)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, models.EntryTypeDeposit, entries[0].EntryType)
		assert.Equal(t, int64(1000), entries[0].Amount)
		assert.Equal(t, int64(0), entries[0].BalanceBefore)
		assert.Equal(t, int64(1000), entries[0].BalanceAfter)
		assert.Equal(t, "sig-abc", entries[0].Metadata["signature"])
	})

	t.Run("empty status defaults to completed", func(t *testing.T) {
		entry := testutil.TestLedgerEntry("addr-ledger-1", models.EntryTypeSpinStake, -500, 1000)
		entry.Status = ""
		require.NoError(t, repo.Record(ctx, entry))
		assert.Equal(t, models.EntryStatusCompleted, entry.Status)
	})
}

func TestLedgerRepository_TransitionStatus(t *testing.T) {
	testDB := testutil.SetupTestDatabase(t)

	accounts := NewAccountRepository(testDB.DB)
	repo := NewLedgerRepository(testDB.DB)
	ctx := context.Background()

	_, err := accounts.Create(ctx, "addr-ledger-2")
	require.NoError(t, err)

	entry := testutil.TestLedgerEntry("addr-ledger-2", models.EntryTypeWithdrawalReserve, -2000, 5000)
	entry.Status = models.EntryStatusReserved
	require.NoError(t, repo.Record(ctx, entry))

	t.Run("reserved entry completes once", func(t *testing.T) {
		ok, err := repo.TransitionStatus(ctx, entry.ID, models.EntryStatusReserved, models.EntryStatusCompleted)
		require.NoError(t, err)
		assert.True(t, ok)

		again, err := repo.TransitionStatus(ctx, entry.ID, models.EntryStatusReserved, models.EntryStatusCompleted)
		require.NoError(t, err)
		assert.False(t, again)
	})

	t.Run("completed entry cannot be released", func(t *testing.T) {
		ok, err := repo.TransitionStatus(ctx, entry.ID, models.EntryStatusReserved, models.EntryStatusReleased)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestLedgerRepository_ListByAccount(t *testing.T) {
	testDB := testutil.SetupTestDatabase(t)

	accounts := NewAccountRepository(testDB.DB)
	repo := NewLedgerRepository(testDB.DB)
	ctx := context.Background()

	_, err := accounts.Create(ctx, "addr-ledger-3")
	require.NoError(t, err)
	_, err = accounts.Create(ctx, "addr-ledger-4")
	require.NoError(t, err)

	balance := int64(0)
	for i := 0; i < 3; i++ {
		entry := testutil.TestLedgerEntry("addr-ledger-3", models.EntryTypeDeposit, 100, balance)
		require.NoError(t, repo.Record(ctx, entry))
		balance += 100
	}
	require.NoError(t, repo.Record(ctx, testutil.TestLedgerEntry("addr-ledger-4", models.EntryTypeDeposit, 50, 0)))

	t.Run("newest first, scoped to account", func(t *testing.T) {
		entries, err := repo.ListByAccount(ctx, "addr-ledger-3", 10)
		require.NoError(t, err)
		require.Len(t, entries, 3)
		assert.Equal(t, int64(200), entries[0].BalanceBefore)
		assert.Equal(t, int64(0), entries[2].BalanceBefore)
	})

	t.Run("limit applies", func(t *testing.T) {
		entries, err := repo.ListByAccount(ctx, "addr-ledger-3", 2)
		require.NoError(t, err)
		assert.Len(t, entries, 2)
	})

	t.Run("unknown account is empty", func(t *testing.T) {
		entries, err := repo.ListByAccount(ctx, "no-such-address", 10)
		require.NoError(t, err)
		assert.Empty(t, entries)
	})
}

package repository

import (
	"context"
	"testing"
	"time"

	"spinvault/events"
	"spinvault/repository/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnitOfWork_CommitPersists(t *testing.T) {
	testDB := testutil.SetupTestDatabase(t)

	factory := NewUnitOfWorkFactory(testDB.DB, events.NewBus())
	ctx := context.Background()

	uow := factory.Create()
	require.NoError(t, uow.Begin(ctx))

	account, err := uow.AccountRepository().Create(ctx, "addr-uow-1")
	require.NoError(t, err)
	require.NoError(t, uow.AccountRepository().AddBalance(ctx, account.Address, 1500))
	require.NoError(t, uow.Commit())

	got, err := NewAccountRepository(testDB.DB).GetByAddress(ctx, "addr-uow-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(1500), got.Balance)
}

func TestUnitOfWork_RollbackDiscards(t *testing.T) {
	testDB := testutil.SetupTestDatabase(t)

	factory := NewUnitOfWorkFactory(testDB.DB, events.NewBus())
	ctx := context.Background()

	uow := factory.Create()
	require.NoError(t, uow.Begin(ctx))

	_, err := uow.AccountRepository().Create(ctx, "addr-uow-2")
	require.NoError(t, err)
	require.NoError(t, uow.Rollback())

	got, err := NewAccountRepository(testDB.DB).GetByAddress(ctx, "addr-uow-2")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestUnitOfWork_EventsFollowTransactionOutcome(t *testing.T) {
	testDB := testutil.SetupTestDatabase(t)

	bus := events.NewBus()
	received := make(chan events.Event, 4)
	bus.Subscribe(events.EventTypeBalanceChange, func(ctx context.Context, event events.Event) {
		received <- event
	})

	factory := NewUnitOfWorkFactory(testDB.DB, bus)
	ctx := context.Background()

	t.Run("events from rolled back work are discarded", func(t *testing.T) {
		uow := factory.Create()
		require.NoError(t, uow.Begin(ctx))
		uow.EventBus().Publish(events.BalanceChangeEvent{AccountAddress: "addr-uow-3", ChangeAmount: 100})
		require.NoError(t, uow.Rollback())

		select {
		case event := <-received:
			t.Fatalf("unexpected event after rollback: %v", event)
		case <-time.After(100 * time.Millisecond):
		}
	})

	t.Run("events flush after commit", func(t *testing.T) {
		uow := factory.Create()
		require.NoError(t, uow.Begin(ctx))
		_, err := uow.AccountRepository().Create(ctx, "addr-uow-3")
		require.NoError(t, err)
		uow.EventBus().Publish(events.BalanceChangeEvent{AccountAddress: "addr-uow-3", ChangeAmount: 100})
		require.NoError(t, uow.Commit())

		select {
		case event := <-received:
			change, ok := event.(events.BalanceChangeEvent)
			require.True(t, ok)
			assert.Equal(t, "addr-uow-3", change.AccountAddress)
			assert.Equal(t, int64(100), change.ChangeAmount)
		case <-time.After(2 * time.Second):
			t.Fatal("expected balance change event after commit")
		}
	})
}

func TestUnitOfWork_BeginTwiceFails(t *testing.T) {
	testDB := testutil.SetupTestDatabase(t)

	factory := NewUnitOfWorkFactory(testDB.DB, events.NewBus())
	ctx := context.Background()

	uow := factory.Create()
	require.NoError(t, uow.Begin(ctx))
	defer func() { _ = uow.Rollback() }()

	assert.Error(t, uow.Begin(ctx))
}

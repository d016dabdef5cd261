package service

import (
	"context"
	"sync"
	"time"

	"spinvault/chain"
	"spinvault/events"
	"spinvault/models"

	"github.com/stretchr/testify/mock"
)

// MockAccountRepository is a mock implementation of AccountRepository
type MockAccountRepository struct {
	mock.Mock
}

func (m *MockAccountRepository) GetByAddress(ctx context.Context, address string) (*models.Account, error) {
	args := m.Called(ctx, address)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Account), args.Error(1)
}

func (m *MockAccountRepository) GetByAddressForUpdate(ctx context.Context, address string) (*models.Account, error) {
	args := m.Called(ctx, address)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Account), args.Error(1)
}

func (m *MockAccountRepository) Create(ctx context.Context, address string) (*models.Account, error) {
	args := m.Called(ctx, address)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Account), args.Error(1)
}

func (m *MockAccountRepository) UpdateUsername(ctx context.Context, address, username string) error {
	args := m.Called(ctx, address, username)
	return args.Error(0)
}

func (m *MockAccountRepository) AddBalance(ctx context.Context, address string, amount int64) error {
	args := m.Called(ctx, address, amount)
	return args.Error(0)
}

func (m *MockAccountRepository) DeductBalance(ctx context.Context, address string, amount int64) error {
	args := m.Called(ctx, address, amount)
	return args.Error(0)
}

func (m *MockAccountRepository) IncrementTotals(ctx context.Context, address string, deposited, withdrawn, wagered, won int64) error {
	args := m.Called(ctx, address, deposited, withdrawn, wagered, won)
	return args.Error(0)
}

// MockEpochRepository is a mock implementation of EpochRepository
type MockEpochRepository struct {
	mock.Mock
}

func (m *MockEpochRepository) GetActive(ctx context.Context) (*models.Epoch, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Epoch), args.Error(1)
}

func (m *MockEpochRepository) GetActiveForUpdate(ctx context.Context) (*models.Epoch, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Epoch), args.Error(1)
}

func (m *MockEpochRepository) GetByID(ctx context.Context, id int64) (*models.Epoch, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Epoch), args.Error(1)
}

func (m *MockEpochRepository) GetBySequence(ctx context.Context, sequence int64) (*models.Epoch, error) {
	args := m.Called(ctx, sequence)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Epoch), args.Error(1)
}

func (m *MockEpochRepository) NextSequence(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockEpochRepository) Create(ctx context.Context, epoch *models.Epoch, seed string) error {
	args := m.Called(ctx, epoch, seed)
	return args.Error(0)
}

func (m *MockEpochRepository) GetSecret(ctx context.Context, epochID int64) (string, error) {
	args := m.Called(ctx, epochID)
	return args.String(0), args.Error(1)
}

func (m *MockEpochRepository) AddPoolContribution(ctx context.Context, epochID int64, fee int64) error {
	args := m.Called(ctx, epochID, fee)
	return args.Error(0)
}

func (m *MockEpochRepository) Complete(ctx context.Context, epochID int64, revealedSeed string, eligibleScoreTotal, bonusReserved int64) (bool, error) {
	args := m.Called(ctx, epochID, revealedSeed, eligibleScoreTotal, bonusReserved)
	return args.Bool(0), args.Error(1)
}

func (m *MockEpochRepository) ListRecent(ctx context.Context, limit int) ([]*models.Epoch, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Epoch), args.Error(1)
}

// MockPositionRepository is a mock implementation of PositionRepository
type MockPositionRepository struct {
	mock.Mock
}

func (m *MockPositionRepository) Create(ctx context.Context, p *models.Position) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}

func (m *MockPositionRepository) NextNonce(ctx context.Context, epochID int64, address string) (int64, error) {
	args := m.Called(ctx, epochID, address)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockPositionRepository) GetByID(ctx context.Context, id int64) (*models.Position, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Position), args.Error(1)
}

func (m *MockPositionRepository) MarkClaimed(ctx context.Context, id int64, bonus int64, now time.Time) (bool, error) {
	args := m.Called(ctx, id, bonus, now)
	return args.Bool(0), args.Error(1)
}

func (m *MockPositionRepository) SumEligibleScores(ctx context.Context, epochID int64) (int64, error) {
	args := m.Called(ctx, epochID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockPositionRepository) ListEligibleScores(ctx context.Context, epochID int64) ([]int64, error) {
	args := m.Called(ctx, epochID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]int64), args.Error(1)
}

func (m *MockPositionRepository) ListByAccount(ctx context.Context, address string, limit int) ([]*models.Position, error) {
	args := m.Called(ctx, address, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Position), args.Error(1)
}

func (m *MockPositionRepository) ListClaimable(ctx context.Context, address string, now time.Time) ([]*models.Position, error) {
	args := m.Called(ctx, address, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Position), args.Error(1)
}

// MockLedgerRepository is a mock implementation of LedgerRepository
type MockLedgerRepository struct {
	mock.Mock
}

func (m *MockLedgerRepository) Record(ctx context.Context, entry *models.LedgerEntry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *MockLedgerRepository) TransitionStatus(ctx context.Context, id int64, from, to models.EntryStatus) (bool, error) {
	args := m.Called(ctx, id, from, to)
	return args.Bool(0), args.Error(1)
}

func (m *MockLedgerRepository) ListByAccount(ctx context.Context, address string, limit int) ([]*models.LedgerEntry, error) {
	args := m.Called(ctx, address, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.LedgerEntry), args.Error(1)
}

// MockTransferRepository is a mock implementation of TransferRepository
type MockTransferRepository struct {
	mock.Mock
}

func (m *MockTransferRepository) Create(ctx context.Context, t *models.PendingTransfer) error {
	args := m.Called(ctx, t)
	return args.Error(0)
}

func (m *MockTransferRepository) GetBySignature(ctx context.Context, signature string) (*models.PendingTransfer, error) {
	args := m.Called(ctx, signature)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.PendingTransfer), args.Error(1)
}

func (m *MockTransferRepository) GetByIDForUpdate(ctx context.Context, id int64) (*models.PendingTransfer, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.PendingTransfer), args.Error(1)
}

func (m *MockTransferRepository) ListUnresolved(ctx context.Context) ([]*models.PendingTransfer, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.PendingTransfer), args.Error(1)
}

func (m *MockTransferRepository) MarkSubmitted(ctx context.Context, id int64, signature string) (bool, error) {
	args := m.Called(ctx, id, signature)
	return args.Bool(0), args.Error(1)
}

func (m *MockTransferRepository) UpdateConfirmations(ctx context.Context, id int64, confirmations int64) error {
	args := m.Called(ctx, id, confirmations)
	return args.Error(0)
}

func (m *MockTransferRepository) Resolve(ctx context.Context, id int64, to models.TransferStatus, confirmations int64, now time.Time) (bool, error) {
	args := m.Called(ctx, id, to, confirmations, now)
	return args.Bool(0), args.Error(1)
}

// RecordingEventPublisher collects published events for assertions
type RecordingEventPublisher struct {
	mu     sync.Mutex
	Events []events.Event
}

func (p *RecordingEventPublisher) Publish(event events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Events = append(p.Events, event)
}

func (p *RecordingEventPublisher) Published() []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Event, len(p.Events))
	copy(out, p.Events)
	return out
}

// MockUnitOfWork is a mock implementation of UnitOfWork. Repository getters
// return whatever SetRepositories installed rather than going through
// testify, since tests always want the same instances back.
type MockUnitOfWork struct {
	mock.Mock

	accountRepo  AccountRepository
	epochRepo    EpochRepository
	positionRepo PositionRepository
	ledgerRepo   LedgerRepository
	transferRepo TransferRepository
	eventBus     EventPublisher
}

func (m *MockUnitOfWork) SetRepositories(
	accountRepo AccountRepository,
	epochRepo EpochRepository,
	positionRepo PositionRepository,
	ledgerRepo LedgerRepository,
	transferRepo TransferRepository,
) {
	m.accountRepo = accountRepo
	m.epochRepo = epochRepo
	m.positionRepo = positionRepo
	m.ledgerRepo = ledgerRepo
	m.transferRepo = transferRepo
	if m.eventBus == nil {
		m.eventBus = &RecordingEventPublisher{}
	}
}

func (m *MockUnitOfWork) SetEventBus(bus EventPublisher) {
	m.eventBus = bus
}

func (m *MockUnitOfWork) Begin(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockUnitOfWork) Commit() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockUnitOfWork) Rollback() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockUnitOfWork) AccountRepository() AccountRepository {
	return m.accountRepo
}

func (m *MockUnitOfWork) EpochRepository() EpochRepository {
	return m.epochRepo
}

func (m *MockUnitOfWork) PositionRepository() PositionRepository {
	return m.positionRepo
}

func (m *MockUnitOfWork) LedgerRepository() LedgerRepository {
	return m.ledgerRepo
}

func (m *MockUnitOfWork) TransferRepository() TransferRepository {
	return m.transferRepo
}

func (m *MockUnitOfWork) EventBus() EventPublisher {
	return m.eventBus
}

// MockUnitOfWorkFactory is a mock implementation of UnitOfWorkFactory
type MockUnitOfWorkFactory struct {
	mock.Mock
}

func (m *MockUnitOfWorkFactory) Create() UnitOfWork {
	args := m.Called()
	return args.Get(0).(UnitOfWork)
}

// MockChainClient is a mock implementation of chain.Client
type MockChainClient struct {
	mock.Mock
}

func (m *MockChainClient) SignatureStatus(ctx context.Context, signature string) (*chain.SignatureStatus, error) {
	args := m.Called(ctx, signature)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*chain.SignatureStatus), args.Error(1)
}

func (m *MockChainClient) TransferInfo(ctx context.Context, signature string) (*chain.TransferInfo, error) {
	args := m.Called(ctx, signature)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*chain.TransferInfo), args.Error(1)
}

func (m *MockChainClient) SubmitTransfer(ctx context.Context, recipient string, amount int64) (string, error) {
	args := m.Called(ctx, recipient, amount)
	return args.String(0), args.Error(1)
}

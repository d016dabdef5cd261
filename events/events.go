package events

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"
)

// EventType represents different types of events in the system
type EventType string

const (
	EventTypeBalanceChange     EventType = "balance_change"
	EventTypeSpinSettled       EventType = "spin_settled"
	EventTypePositionClaimed   EventType = "position_claimed"
	EventTypeEpochRolled       EventType = "epoch_rolled"
	EventTypeTransferConfirmed EventType = "transfer_confirmed"
)

// Event is the base interface for all events
type Event interface {
	Type() EventType
}

// BalanceChangeEvent represents a balance change that occurred
type BalanceChangeEvent struct {
	AccountAddress string
	OldBalance     int64
	NewBalance     int64
	EntryType      string
	ChangeAmount   int64
}

func (e BalanceChangeEvent) Type() EventType {
	return EventTypeBalanceChange
}

// SpinSettledEvent represents a spin that was settled into a locked position
type SpinSettledEvent struct {
	AccountAddress string
	PositionID     int64
	EpochSequence  int64
	StakeAmount    int64
	Tier           string
	DurationHours  int64
	MultiplierX10  int64
	BonusEligible  bool
}

func (e SpinSettledEvent) Type() EventType {
	return EventTypeSpinSettled
}

// PositionClaimedEvent represents a claimed position payout
type PositionClaimedEvent struct {
	AccountAddress string
	PositionID     int64
	Principal      int64
	Bonus          int64
}

func (e PositionClaimedEvent) Type() EventType {
	return EventTypePositionClaimed
}

// EpochRolledEvent represents an epoch close plus successor creation
type EpochRolledEvent struct {
	ClosedSequence int64
	NewSequence    int64
	Rollover       int64
	RevealedSeed   string
}

func (e EpochRolledEvent) Type() EventType {
	return EventTypeEpochRolled
}

// TransferConfirmedEvent represents an on-chain transfer reaching finality
type TransferConfirmedEvent struct {
	AccountAddress string
	Direction      string
	Amount         int64
	Signature      string
}

func (e TransferConfirmedEvent) Type() EventType {
	return EventTypeTransferConfirmed
}

// Handler is a function that handles events
type Handler func(ctx context.Context, event Event)

// Bus manages event subscriptions and dispatching
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
}

// NewBus creates a new event bus
func NewBus() *Bus {
	return &Bus{
		handlers: make(map[EventType][]Handler),
	}
}

// Subscribe adds a handler for a specific event type
func (b *Bus) Subscribe(eventType EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[eventType] = append(b.handlers[eventType], handler)

	log.WithFields(log.Fields{
		"eventType":    eventType,
		"handlerCount": len(b.handlers[eventType]),
	}).Debug("Subscribed handler to event type")
}

// Emit publishes an event to all registered handlers. Handlers run
// asynchronously so a slow subscriber never blocks settlement.
func (b *Bus) Emit(ctx context.Context, event Event) {
	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers[event.Type()]))
	copy(handlers, b.handlers[event.Type()])
	b.mu.RUnlock()

	for _, handler := range handlers {
		go func(h Handler) {
			defer func() {
				if r := recover(); r != nil {
					log.WithFields(log.Fields{
						"eventType": event.Type(),
						"panic":     r,
					}).Error("Event handler panicked")
				}
			}()
			h(ctx, event)
		}(handler)
	}
}

// TransactionalBus stashes events raised inside a unit of work and flushes
// them to the real bus only after the database transaction commits. Events
// from rolled-back transactions are discarded, never published.
type TransactionalBus struct {
	real    *Bus
	pending []Event
}

func NewTransactionalBus(real *Bus) *TransactionalBus {
	return &TransactionalBus{real: real}
}

func (b *TransactionalBus) Publish(e Event) {
	b.pending = append(b.pending, e)
}

// Flush is called after a successful DB commit.
func (b *TransactionalBus) Flush(ctx context.Context) error {
	// Events outlive the transaction context that raised them.
	eventCtx := context.Background()
	for _, ev := range b.pending {
		b.real.Emit(eventCtx, ev)
	}
	b.pending = nil
	return nil
}

// Discard is called after a rollback.
func (b *TransactionalBus) Discard() {
	b.pending = nil
}

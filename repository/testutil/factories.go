package testutil

import (
	"time"

	"spinvault/models"
)

// TestEpoch creates an active epoch with default values
func TestEpoch(sequence int64, seedHash string) *models.Epoch {
	now := time.Now().UTC()
	return &models.Epoch{
		Sequence: sequence,
		Status:   models.EpochStatusActive,
		SeedHash: seedHash,
		StartsAt: now,
		EndsAt:   now.Add(24 * time.Hour),
	}
}

// TestPosition creates a locked position with default values
func TestPosition(epochID int64, address string, nonce int64) *models.Position {
	now := time.Now().UTC()
	return &models.Position{
		AccountAddress: address,
		EpochID:        epochID,
		Nonce:          nonce,
		ClientSeed:     "client-seed",
		StakeAmount:    1000,
		FeeAmount:      50,
		Principal:      950,
		Tier:           "mid",
		DurationHours:  24,
		MultiplierX10:  20,
		TicketScore:    2000,
		Status:         models.PositionStatusLocked,
		LockedAt:       now,
		UnlocksAt:      now.Add(24 * time.Hour),
	}
}

// TestEligiblePosition creates a bonus-eligible locked position
func TestEligiblePosition(epochID int64, address string, nonce, score int64) *models.Position {
	p := TestPosition(epochID, address, nonce)
	p.Tier = "legendary"
	p.MultiplierX10 = 80
	p.BonusEligible = true
	p.TicketScore = score
	return p
}

// TestLedgerEntry creates a completed ledger entry with default values
func TestLedgerEntry(address string, entryType models.EntryType, amount, before int64) *models.LedgerEntry {
	return &models.LedgerEntry{
		AccountAddress: address,
		EntryType:      entryType,
		Status:         models.EntryStatusCompleted,
		Amount:         amount,
		BalanceBefore:  before,
		BalanceAfter:   before + amount,
		Metadata:       map[string]any{"test": true},
	}
}

// TestTransfer creates a pending withdrawal transfer
func TestTransfer(address, reference string, amount int64) *models.PendingTransfer {
	return &models.PendingTransfer{
		Reference:      reference,
		AccountAddress: address,
		Direction:      models.TransferDirectionWithdrawal,
		Amount:         amount,
		Status:         models.TransferStatusPending,
	}
}

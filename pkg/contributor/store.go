package contributor

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// ConfigStore persists the deployment configuration singleton.
type ConfigStore interface {
	GetConfig(ctx context.Context) (*Config, error)
	InsertConfig(ctx context.Context, cfg *Config) error
}

// ReplayStore persists the set of consumed VAA fingerprints.
type ReplayStore interface {
	IsVAAConsumed(ctx context.Context, fingerprint common.Hash) (bool, error)
	InsertConsumedVAA(ctx context.Context, v *ConsumedVAA) error
}

// SaleStore persists sales, their status and both directions of the asset index.
type SaleStore interface {
	GetSale(ctx context.Context, id SaleID) (*Sale, error)
	SaleExists(ctx context.Context, id SaleID) (bool, error)
	// CreateSale writes the sale terms, its status, its times, the asset
	// index and zeroed slot totals.
	CreateSale(ctx context.Context, sale *Sale) error
	UpdateSaleStatus(ctx context.Context, id SaleID, status SaleStatus) error
	GetAcceptedAsset(ctx context.Context, id SaleID, slot uint8) (*AcceptedAsset, error)
	GetAssetSlot(ctx context.Context, id SaleID, asset Asset) (uint8, error)
}

// LedgerStore persists contributions, per-slot totals and contribution events.
type LedgerStore interface {
	GetSlotTotals(ctx context.Context, id SaleID, slot uint8) (*SlotTotals, error)
	ListSlotTotals(ctx context.Context, id SaleID) ([]*SlotTotals, error)
	UpdateSlotTotals(ctx context.Context, totals *SlotTotals) error
	// GetContribution returns ErrNotFound when the buyer has no position.
	GetContribution(ctx context.Context, id SaleID, slot uint8, buyer common.Address) (*Contribution, error)
	UpsertContribution(ctx context.Context, c *Contribution) error
	GetContributionEvent(ctx context.Context, eventID uuid.UUID) (*ContributionEvent, error)
	InsertContributionEvent(ctx context.Context, ev *ContributionEvent) error
	UpdateContributionEvent(ctx context.Context, ev *ContributionEvent) error
}

// InstructionStore persists the outbox of external effects.
type InstructionStore interface {
	InsertInstructions(ctx context.Context, instructions ...*Instruction) error
	ListPendingInstructions(ctx context.Context, limit int) ([]*Instruction, error)
	UpdateInstructionStatus(ctx context.Context, id uuid.UUID, status InstructionStatus, attempts int, lastErr string) error
}

// Tx is the storage view available to a single atomic call.
type Tx interface {
	ConfigStore
	ReplayStore
	SaleStore
	LedgerStore
	InstructionStore
}

// Store runs calls atomically against durable storage.
type Store interface {
	InstructionStore
	// RunInTx runs fn in a transaction. If fn returns an error nothing it
	// wrote is kept.
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Package contributor implements the contributor-side sale lifecycle,
// contribution ledger and claim accounting of a cross-chain token sale.
package contributor

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"github.com/chainsafe/icco-contributor/pkg/icco"
	"github.com/chainsafe/icco-contributor/pkg/vaa"
)

// SaleID identifies a sale across all chains.
type SaleID = icco.SaleID

// Config is the immutable deployment configuration of a contributor.
type Config struct {
	ChainID             vaa.ChainID
	BridgeEndpoint      string
	TokenBridgeEndpoint string
	ConductorChain      vaa.ChainID
	ConductorAddress    vaa.Address
	Owner               common.Address
}

// SaleStatus is the lifecycle state of a sale.
type SaleStatus string

const (
	SaleStatusActive  SaleStatus = "active"
	SaleStatusSealed  SaleStatus = "sealed"
	SaleStatusAborted SaleStatus = "aborted"
)

// IsTerminal reports whether no further transition is possible.
func (s SaleStatus) IsTerminal() bool {
	return s == SaleStatusSealed || s == SaleStatusAborted
}

// Asset is a chain-qualified token identity. A zero address denotes the
// chain's native coin.
type Asset struct {
	Chain   vaa.ChainID
	Address vaa.Address
}

// IsNative reports whether the asset is the native coin of its chain.
func (a Asset) IsNative() bool {
	return a.Address.IsZero()
}

// Key returns the canonical lookup key used by the asset index.
func (a Asset) Key() string {
	return a.Address.String()
}

// AcceptedAsset is one local asset slot of a sale.
type AcceptedAsset struct {
	Slot     uint8
	Asset    Asset
	Decimals uint8
	// Cap is the maximum total contribution for the slot; zero means uncapped.
	Cap *uint256.Int
}

// SaleTimes holds the sale window and allocation unlock time, in unix seconds.
type SaleTimes struct {
	Start  uint64
	End    uint64
	Unlock uint64
}

// Sale holds the immutable terms of a sale plus its current status.
type Sale struct {
	ID                 SaleID
	Token              Asset
	TokenDecimals      uint8
	LocalTokenDecimals uint8
	Recipient          vaa.Address
	Times              SaleTimes
	Status             SaleStatus
	// Assets lists only the slots whose asset lives on this chain.
	Assets    []AcceptedAsset
	CreatedAt time.Time
}

// Slot returns the accepted asset for slot, if it is local to this chain.
func (s *Sale) Slot(slot uint8) (AcceptedAsset, bool) {
	for _, a := range s.Assets {
		if a.Slot == slot {
			return a, true
		}
	}
	return AcceptedAsset{}, false
}

// SlotTotals are the per-slot aggregates of a sale.
type SlotTotals struct {
	SaleID      SaleID
	Slot        uint8
	Contributed *uint256.Int
	Allocation  *uint256.Int
	Excess      *uint256.Int
}

// BuyerStatus tracks which claims a buyer has made for a slot.
type BuyerStatus struct {
	AllocationClaimed   bool
	ExcessRefundClaimed bool
	RefundClaimed       bool
	ClaimedAllocation   *uint256.Int
	ClaimedExcessRefund *uint256.Int
	ClaimedRefund       *uint256.Int
}

// Contribution is a buyer's position in one slot of a sale.
type Contribution struct {
	SaleID          SaleID
	Slot            uint8
	Buyer           common.Address
	Amount          *uint256.Int
	PendingEvents   uint32
	EscrowConfirmed bool
	Status          BuyerStatus
	UpdatedAt       time.Time
}

// ContributionEvent is a single contribute call awaiting escrow confirmation.
type ContributionEvent struct {
	ID           uuid.UUID
	SaleID       SaleID
	Slot         uint8
	Buyer        common.Address
	Requested    *uint256.Int
	Actual       *uint256.Int
	Reconciled   bool
	CreatedAt    time.Time
	ReconciledAt *time.Time
}

// ConsumedVAA records a processed VAA fingerprint.
type ConsumedVAA struct {
	Fingerprint  common.Hash
	Kind         string
	SaleID       SaleID
	EmitterChain vaa.ChainID
	Sequence     uint64
	ConsumedAt   time.Time
}

// InstructionKind identifies the side effect the host must perform.
type InstructionKind string

const (
	// InstructionEscrowPull moves Amount of Asset from Account into custody.
	InstructionEscrowPull InstructionKind = "escrow_pull"
	// InstructionTransfer moves Amount of Asset from custody to Account.
	InstructionTransfer InstructionKind = "transfer"
	// InstructionPublishMessage publishes Payload through the bridge.
	InstructionPublishMessage InstructionKind = "publish_message"
)

// InstructionStatus is the delivery state of an instruction.
type InstructionStatus string

const (
	InstructionStatusPending    InstructionStatus = "pending"
	InstructionStatusDispatched InstructionStatus = "dispatched"
	InstructionStatusFailed     InstructionStatus = "failed"
)

// Instruction is an external effect emitted by a committed call.
type Instruction struct {
	ID        uuid.UUID
	Kind      InstructionKind
	SaleID    SaleID
	Slot      uint8
	Account   common.Address
	Asset     Asset
	Amount    *uint256.Int
	EventID   *uuid.UUID
	Payload   []byte
	Status    InstructionStatus
	Attempts  int
	LastError string
	CreatedAt time.Time
	UpdatedAt time.Time
}

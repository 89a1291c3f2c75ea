package pg

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/uptrace/bun"

	"github.com/chainsafe/icco-contributor/pkg/contributor"
	"github.com/chainsafe/icco-contributor/pkg/vaa"
)

const configRowID = 1

// ConfigDao maps the single row of the 'contributor_config' table.
type ConfigDao struct {
	bun.BaseModel       `bun:"table:contributor_config,alias:cfg"`
	ID                  int16     `bun:"id,pk"`
	ChainID             uint16    `bun:"chain_id,notnull"`
	BridgeEndpoint      string    `bun:"bridge_endpoint,notnull,type:varchar(255)"`
	TokenBridgeEndpoint string    `bun:"token_bridge_endpoint,notnull,type:varchar(255)"`
	ConductorChain      uint16    `bun:"conductor_chain,notnull"`
	ConductorAddress    string    `bun:"conductor_address,notnull,type:varchar(66)"`
	Owner               string    `bun:"owner,notnull,type:varchar(42)"`
	CreatedAt           time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

// ConsumedVAADao maps the 'consumed_vaas' table.
type ConsumedVAADao struct {
	bun.BaseModel `bun:"table:consumed_vaas,alias:cv"`
	Fingerprint   string    `bun:"fingerprint,pk,type:varchar(66)"`
	Kind          string    `bun:"kind,notnull,type:varchar(32)"`
	SaleID        string    `bun:"sale_id,notnull,type:varchar(66)"`
	EmitterChain  uint16    `bun:"emitter_chain,notnull"`
	Sequence      uint64    `bun:"sequence,notnull,type:numeric(20,0)"`
	ConsumedAt    time.Time `bun:"consumed_at,nullzero,notnull,default:current_timestamp"`
}

// SaleDao maps the 'sales' table.
type SaleDao struct {
	bun.BaseModel      `bun:"table:sales,alias:s"`
	SaleID             string    `bun:"sale_id,pk,type:varchar(66)"`
	TokenChain         uint16    `bun:"token_chain,notnull"`
	TokenAddress       string    `bun:"token_address,notnull,type:varchar(66)"`
	TokenDecimals      uint8     `bun:"token_decimals,notnull,type:smallint"`
	LocalTokenDecimals uint8     `bun:"local_token_decimals,notnull,type:smallint"`
	Recipient          string    `bun:"recipient,notnull,type:varchar(66)"`
	SaleStart          uint64    `bun:"sale_start,notnull,type:numeric(20,0)"`
	SaleEnd            uint64    `bun:"sale_end,notnull,type:numeric(20,0)"`
	UnlockTime         uint64    `bun:"unlock_time,notnull,type:numeric(20,0)"`
	Status             string    `bun:"status,notnull,type:varchar(16)"`
	CreatedAt          time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt          time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

// SaleAssetDao maps the 'sale_assets' table, which is both directions of
// the asset index.
type SaleAssetDao struct {
	bun.BaseModel `bun:"table:sale_assets,alias:sa"`
	SaleID        string `bun:"sale_id,pk,type:varchar(66)"`
	Slot          uint8  `bun:"slot,pk,type:smallint"`
	Chain         uint16 `bun:"chain,notnull"`
	Address       string `bun:"address,notnull,type:varchar(66)"`
	Decimals      uint8  `bun:"decimals,notnull,type:smallint"`
	Cap           string `bun:"cap,notnull,type:numeric(78,0)"`
}

// SlotTotalsDao maps the 'slot_totals' table.
type SlotTotalsDao struct {
	bun.BaseModel `bun:"table:slot_totals,alias:st"`
	SaleID        string    `bun:"sale_id,pk,type:varchar(66)"`
	Slot          uint8     `bun:"slot,pk,type:smallint"`
	Contributed   string    `bun:"contributed,notnull,type:numeric(78,0)"`
	Allocation    string    `bun:"allocation,notnull,type:numeric(78,0)"`
	Excess        string    `bun:"excess,notnull,type:numeric(78,0)"`
	UpdatedAt     time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

// ContributionDao maps the 'contributions' table. It also carries the
// buyer's claim flags.
type ContributionDao struct {
	bun.BaseModel       `bun:"table:contributions,alias:c"`
	SaleID              string    `bun:"sale_id,pk,type:varchar(66)"`
	Slot                uint8     `bun:"slot,pk,type:smallint"`
	Buyer               string    `bun:"buyer,pk,type:varchar(42)"`
	Amount              string    `bun:"amount,notnull,type:numeric(78,0)"`
	PendingEvents       uint32    `bun:"pending_events,notnull,type:integer"`
	EscrowConfirmed     bool      `bun:"escrow_confirmed,notnull"`
	AllocationClaimed   bool      `bun:"allocation_claimed,notnull"`
	ExcessRefundClaimed bool      `bun:"excess_refund_claimed,notnull"`
	RefundClaimed       bool      `bun:"refund_claimed,notnull"`
	ClaimedAllocation   string    `bun:"claimed_allocation,notnull,type:numeric(78,0)"`
	ClaimedExcessRefund string    `bun:"claimed_excess_refund,notnull,type:numeric(78,0)"`
	ClaimedRefund       string    `bun:"claimed_refund,notnull,type:numeric(78,0)"`
	UpdatedAt           time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

// ContributionEventDao maps the 'contribution_events' table.
type ContributionEventDao struct {
	bun.BaseModel `bun:"table:contribution_events,alias:ce"`
	ID            uuid.UUID  `bun:"id,pk,type:uuid"`
	SaleID        string     `bun:"sale_id,notnull,type:varchar(66)"`
	Slot          uint8      `bun:"slot,notnull,type:smallint"`
	Buyer         string     `bun:"buyer,notnull,type:varchar(42)"`
	Requested     string     `bun:"requested,notnull,type:numeric(78,0)"`
	Actual        *string    `bun:"actual,type:numeric(78,0)"`
	Reconciled    bool       `bun:"reconciled,notnull"`
	CreatedAt     time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	ReconciledAt  *time.Time `bun:"reconciled_at"`
}

// InstructionDao maps the 'instructions' outbox table.
type InstructionDao struct {
	bun.BaseModel `bun:"table:instructions,alias:i"`
	ID            uuid.UUID  `bun:"id,pk,type:uuid"`
	Kind          string     `bun:"kind,notnull,type:varchar(32)"`
	SaleID        string     `bun:"sale_id,notnull,type:varchar(66)"`
	Slot          uint8      `bun:"slot,notnull,type:smallint"`
	Account       string     `bun:"account,notnull,type:varchar(42)"`
	AssetChain    uint16     `bun:"asset_chain,notnull"`
	AssetAddress  string     `bun:"asset_address,notnull,type:varchar(66)"`
	Amount        string     `bun:"amount,notnull,type:numeric(78,0)"`
	EventID       *uuid.UUID `bun:"event_id,type:uuid"`
	Payload       []byte     `bun:"payload,type:bytea"`
	Status        string     `bun:"status,notnull,type:varchar(16)"`
	Attempts      int        `bun:"attempts,notnull"`
	LastError     *string    `bun:"last_error,type:text"`
	CreatedAt     time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt     time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

// Models lists every table of the contributor database in creation order.
func Models() []any {
	return []any{
		(*ConfigDao)(nil),
		(*ConsumedVAADao)(nil),
		(*SaleDao)(nil),
		(*SaleAssetDao)(nil),
		(*SlotTotalsDao)(nil),
		(*ContributionDao)(nil),
		(*ContributionEventDao)(nil),
		(*InstructionDao)(nil),
	}
}

func amountString(x *uint256.Int) string {
	if x == nil {
		return "0"
	}
	return x.Dec()
}

func parseAmount(s string) (*uint256.Int, error) {
	z, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("invalid stored amount %q: %w", s, err)
	}
	return z, nil
}

func parseSaleID(s string) (contributor.SaleID, error) {
	addr, err := vaa.ParseAddress(s)
	if err != nil {
		return contributor.SaleID{}, fmt.Errorf("invalid stored sale id %q: %w", s, err)
	}
	return contributor.SaleID(addr), nil
}

func toConfigDao(cfg *contributor.Config) *ConfigDao {
	return &ConfigDao{
		ID:                  configRowID,
		ChainID:             uint16(cfg.ChainID),
		BridgeEndpoint:      cfg.BridgeEndpoint,
		TokenBridgeEndpoint: cfg.TokenBridgeEndpoint,
		ConductorChain:      uint16(cfg.ConductorChain),
		ConductorAddress:    cfg.ConductorAddress.String(),
		Owner:               cfg.Owner.Hex(),
	}
}

func toConfig(dao *ConfigDao) (*contributor.Config, error) {
	conductor, err := vaa.ParseAddress(dao.ConductorAddress)
	if err != nil {
		return nil, fmt.Errorf("invalid stored conductor address: %w", err)
	}
	return &contributor.Config{
		ChainID:             vaa.ChainID(dao.ChainID),
		BridgeEndpoint:      dao.BridgeEndpoint,
		TokenBridgeEndpoint: dao.TokenBridgeEndpoint,
		ConductorChain:      vaa.ChainID(dao.ConductorChain),
		ConductorAddress:    conductor,
		Owner:               common.HexToAddress(dao.Owner),
	}, nil
}

func toSaleDao(s *contributor.Sale) *SaleDao {
	return &SaleDao{
		SaleID:             s.ID.String(),
		TokenChain:         uint16(s.Token.Chain),
		TokenAddress:       s.Token.Address.String(),
		TokenDecimals:      s.TokenDecimals,
		LocalTokenDecimals: s.LocalTokenDecimals,
		Recipient:          s.Recipient.String(),
		SaleStart:          s.Times.Start,
		SaleEnd:            s.Times.End,
		UnlockTime:         s.Times.Unlock,
		Status:             string(s.Status),
		CreatedAt:          s.CreatedAt,
		UpdatedAt:          s.CreatedAt,
	}
}

func toSale(dao *SaleDao, assets []SaleAssetDao) (*contributor.Sale, error) {
	id, err := parseSaleID(dao.SaleID)
	if err != nil {
		return nil, err
	}
	token, err := vaa.ParseAddress(dao.TokenAddress)
	if err != nil {
		return nil, fmt.Errorf("invalid stored token address: %w", err)
	}
	recipient, err := vaa.ParseAddress(dao.Recipient)
	if err != nil {
		return nil, fmt.Errorf("invalid stored recipient: %w", err)
	}

	sale := &contributor.Sale{
		ID:                 id,
		Token:              contributor.Asset{Chain: vaa.ChainID(dao.TokenChain), Address: token},
		TokenDecimals:      dao.TokenDecimals,
		LocalTokenDecimals: dao.LocalTokenDecimals,
		Recipient:          recipient,
		Times:              contributor.SaleTimes{Start: dao.SaleStart, End: dao.SaleEnd, Unlock: dao.UnlockTime},
		Status:             contributor.SaleStatus(dao.Status),
		Assets:             make([]contributor.AcceptedAsset, 0, len(assets)),
		CreatedAt:          dao.CreatedAt,
	}
	for i := range assets {
		a, err := toAcceptedAsset(&assets[i])
		if err != nil {
			return nil, err
		}
		sale.Assets = append(sale.Assets, *a)
	}
	return sale, nil
}

func toSaleAssetDao(id contributor.SaleID, a contributor.AcceptedAsset) *SaleAssetDao {
	return &SaleAssetDao{
		SaleID:   id.String(),
		Slot:     a.Slot,
		Chain:    uint16(a.Asset.Chain),
		Address:  a.Asset.Key(),
		Decimals: a.Decimals,
		Cap:      amountString(a.Cap),
	}
}

func toAcceptedAsset(dao *SaleAssetDao) (*contributor.AcceptedAsset, error) {
	addr, err := vaa.ParseAddress(dao.Address)
	if err != nil {
		return nil, fmt.Errorf("invalid stored asset address: %w", err)
	}
	capacity, err := parseAmount(dao.Cap)
	if err != nil {
		return nil, err
	}
	return &contributor.AcceptedAsset{
		Slot:     dao.Slot,
		Asset:    contributor.Asset{Chain: vaa.ChainID(dao.Chain), Address: addr},
		Decimals: dao.Decimals,
		Cap:      capacity,
	}, nil
}

func toSlotTotalsDao(t *contributor.SlotTotals) *SlotTotalsDao {
	return &SlotTotalsDao{
		SaleID:      t.SaleID.String(),
		Slot:        t.Slot,
		Contributed: amountString(t.Contributed),
		Allocation:  amountString(t.Allocation),
		Excess:      amountString(t.Excess),
	}
}

func toSlotTotals(dao *SlotTotalsDao) (*contributor.SlotTotals, error) {
	id, err := parseSaleID(dao.SaleID)
	if err != nil {
		return nil, err
	}
	out := &contributor.SlotTotals{SaleID: id, Slot: dao.Slot}
	if out.Contributed, err = parseAmount(dao.Contributed); err != nil {
		return nil, err
	}
	if out.Allocation, err = parseAmount(dao.Allocation); err != nil {
		return nil, err
	}
	if out.Excess, err = parseAmount(dao.Excess); err != nil {
		return nil, err
	}
	return out, nil
}

func toContributionDao(c *contributor.Contribution) *ContributionDao {
	return &ContributionDao{
		SaleID:              c.SaleID.String(),
		Slot:                c.Slot,
		Buyer:               c.Buyer.Hex(),
		Amount:              amountString(c.Amount),
		PendingEvents:       c.PendingEvents,
		EscrowConfirmed:     c.EscrowConfirmed,
		AllocationClaimed:   c.Status.AllocationClaimed,
		ExcessRefundClaimed: c.Status.ExcessRefundClaimed,
		RefundClaimed:       c.Status.RefundClaimed,
		ClaimedAllocation:   amountString(c.Status.ClaimedAllocation),
		ClaimedExcessRefund: amountString(c.Status.ClaimedExcessRefund),
		ClaimedRefund:       amountString(c.Status.ClaimedRefund),
		UpdatedAt:           c.UpdatedAt,
	}
}

func toContribution(dao *ContributionDao) (*contributor.Contribution, error) {
	id, err := parseSaleID(dao.SaleID)
	if err != nil {
		return nil, err
	}
	c := &contributor.Contribution{
		SaleID:          id,
		Slot:            dao.Slot,
		Buyer:           common.HexToAddress(dao.Buyer),
		PendingEvents:   dao.PendingEvents,
		EscrowConfirmed: dao.EscrowConfirmed,
		Status: contributor.BuyerStatus{
			AllocationClaimed:   dao.AllocationClaimed,
			ExcessRefundClaimed: dao.ExcessRefundClaimed,
			RefundClaimed:       dao.RefundClaimed,
		},
		UpdatedAt: dao.UpdatedAt,
	}
	if c.Amount, err = parseAmount(dao.Amount); err != nil {
		return nil, err
	}
	if c.Status.ClaimedAllocation, err = parseAmount(dao.ClaimedAllocation); err != nil {
		return nil, err
	}
	if c.Status.ClaimedExcessRefund, err = parseAmount(dao.ClaimedExcessRefund); err != nil {
		return nil, err
	}
	if c.Status.ClaimedRefund, err = parseAmount(dao.ClaimedRefund); err != nil {
		return nil, err
	}
	return c, nil
}

func toContributionEventDao(ev *contributor.ContributionEvent) *ContributionEventDao {
	dao := &ContributionEventDao{
		ID:           ev.ID,
		SaleID:       ev.SaleID.String(),
		Slot:         ev.Slot,
		Buyer:        ev.Buyer.Hex(),
		Requested:    amountString(ev.Requested),
		Reconciled:   ev.Reconciled,
		CreatedAt:    ev.CreatedAt,
		ReconciledAt: ev.ReconciledAt,
	}
	if ev.Actual != nil {
		actual := ev.Actual.Dec()
		dao.Actual = &actual
	}
	return dao
}

func toContributionEvent(dao *ContributionEventDao) (*contributor.ContributionEvent, error) {
	id, err := parseSaleID(dao.SaleID)
	if err != nil {
		return nil, err
	}
	ev := &contributor.ContributionEvent{
		ID:           dao.ID,
		SaleID:       id,
		Slot:         dao.Slot,
		Buyer:        common.HexToAddress(dao.Buyer),
		Reconciled:   dao.Reconciled,
		CreatedAt:    dao.CreatedAt,
		ReconciledAt: dao.ReconciledAt,
	}
	if ev.Requested, err = parseAmount(dao.Requested); err != nil {
		return nil, err
	}
	if dao.Actual != nil {
		if ev.Actual, err = parseAmount(*dao.Actual); err != nil {
			return nil, err
		}
	}
	return ev, nil
}

func toInstructionDao(in *contributor.Instruction) *InstructionDao {
	dao := &InstructionDao{
		ID:           in.ID,
		Kind:         string(in.Kind),
		SaleID:       in.SaleID.String(),
		Slot:         in.Slot,
		Account:      in.Account.Hex(),
		AssetChain:   uint16(in.Asset.Chain),
		AssetAddress: in.Asset.Address.String(),
		Amount:       amountString(in.Amount),
		EventID:      in.EventID,
		Payload:      in.Payload,
		Status:       string(in.Status),
		Attempts:     in.Attempts,
		CreatedAt:    in.CreatedAt,
		UpdatedAt:    in.UpdatedAt,
	}
	if in.LastError != "" {
		dao.LastError = &in.LastError
	}
	return dao
}

func toInstruction(dao *InstructionDao) (*contributor.Instruction, error) {
	id, err := parseSaleID(dao.SaleID)
	if err != nil {
		return nil, err
	}
	asset, err := vaa.ParseAddress(dao.AssetAddress)
	if err != nil {
		return nil, fmt.Errorf("invalid stored asset address: %w", err)
	}
	in := &contributor.Instruction{
		ID:        dao.ID,
		Kind:      contributor.InstructionKind(dao.Kind),
		SaleID:    id,
		Slot:      dao.Slot,
		Account:   common.HexToAddress(dao.Account),
		Asset:     contributor.Asset{Chain: vaa.ChainID(dao.AssetChain), Address: asset},
		EventID:   dao.EventID,
		Payload:   dao.Payload,
		Status:    contributor.InstructionStatus(dao.Status),
		Attempts:  dao.Attempts,
		CreatedAt: dao.CreatedAt,
		UpdatedAt: dao.UpdatedAt,
	}
	if dao.LastError != nil {
		in.LastError = *dao.LastError
	}
	if in.Amount, err = parseAmount(dao.Amount); err != nil {
		return nil, err
	}
	return in, nil
}

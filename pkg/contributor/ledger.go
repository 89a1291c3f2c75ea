package contributor

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"github.com/chainsafe/icco-contributor/pkg/amount"
)

// ContributeRequest is a buyer's request to contribute to a sale slot.
type ContributeRequest struct {
	SaleID SaleID
	Slot   uint8
	Buyer  common.Address
	Amount *uint256.Int
}

// ContributeResult is the outcome of a recorded contribution.
type ContributeResult struct {
	Event        *ContributionEvent
	Contribution *Contribution
	Totals       *SlotTotals
	Instruction  *Instruction
}

// Contribute records a provisional contribution and emits an escrow pull
// instruction linked to a new contribution event. A contribution that would
// push the slot total above its cap is rejected, never clipped.
func Contribute(ctx context.Context, tx Tx, env Env, req ContributeRequest) (*ContributeResult, error) {
	sale, err := loadSale(ctx, tx, req.SaleID)
	if err != nil {
		return nil, err
	}
	if sale.Status != SaleStatusActive {
		return nil, fmt.Errorf("%w: %s is %s", ErrSaleNotActive, sale.ID, sale.Status)
	}
	if now := env.unix(); now < sale.Times.Start || now > sale.Times.End {
		return nil, fmt.Errorf("%w: %d not in [%d, %d]", ErrOutsideContributionWindow, now, sale.Times.Start, sale.Times.End)
	}
	asset, ok := sale.Slot(req.Slot)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrInvalidAssetSlot, req.Slot)
	}
	if req.Amount == nil || req.Amount.IsZero() {
		return nil, ErrZeroAmount
	}

	totals, err := tx.GetSlotTotals(ctx, sale.ID, req.Slot)
	if err != nil {
		return nil, fmt.Errorf("failed to load slot totals: %w", err)
	}
	newTotal, err := amount.Add(totals.Contributed, req.Amount)
	if err != nil {
		return nil, err
	}
	if !asset.Cap.IsZero() && newTotal.Gt(asset.Cap) {
		remaining := amount.SubClamp(asset.Cap, totals.Contributed)
		return nil, fmt.Errorf("%w: %s remaining in slot %d", ErrContributionExceedsCap, remaining.Dec(), req.Slot)
	}

	contribution, err := loadContribution(ctx, tx, sale.ID, req.Slot, req.Buyer)
	if err != nil {
		return nil, err
	}
	newAmount, err := amount.Add(contribution.Amount, req.Amount)
	if err != nil {
		return nil, err
	}

	contribution.Amount = newAmount
	contribution.PendingEvents++
	contribution.EscrowConfirmed = false
	contribution.UpdatedAt = env.Now
	totals.Contributed = newTotal

	event := &ContributionEvent{
		ID:        uuid.New(),
		SaleID:    sale.ID,
		Slot:      req.Slot,
		Buyer:     req.Buyer,
		Requested: amount.Clone(req.Amount),
		CreatedAt: env.Now,
	}
	instruction := newInstruction(env, InstructionEscrowPull, sale.ID, req.Slot, req.Buyer, asset.Asset, req.Amount)
	instruction.EventID = &event.ID

	if err := tx.UpdateSlotTotals(ctx, totals); err != nil {
		return nil, fmt.Errorf("failed to update slot totals: %w", err)
	}
	if err := tx.UpsertContribution(ctx, contribution); err != nil {
		return nil, fmt.Errorf("failed to store contribution: %w", err)
	}
	if err := tx.InsertContributionEvent(ctx, event); err != nil {
		return nil, fmt.Errorf("failed to store contribution event: %w", err)
	}
	if err := tx.InsertInstructions(ctx, instruction); err != nil {
		return nil, fmt.Errorf("failed to queue escrow pull: %w", err)
	}

	return &ContributeResult{
		Event:        event,
		Contribution: contribution,
		Totals:       totals,
		Instruction:  instruction,
	}, nil
}

// loadContribution returns the buyer's position, or a zero position when the
// buyer has not interacted with the slot yet.
func loadContribution(ctx context.Context, tx Tx, id SaleID, slot uint8, buyer common.Address) (*Contribution, error) {
	c, err := tx.GetContribution(ctx, id, slot, buyer)
	if errors.Is(err, ErrNotFound) {
		return &Contribution{
			SaleID:          id,
			Slot:            slot,
			Buyer:           buyer,
			Amount:          amount.Zero(),
			EscrowConfirmed: true,
			Status: BuyerStatus{
				ClaimedAllocation:   amount.Zero(),
				ClaimedExcessRefund: amount.Zero(),
				ClaimedRefund:       amount.Zero(),
			},
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load contribution: %w", err)
	}
	return c, nil
}

func newInstruction(
	env Env,
	kind InstructionKind,
	id SaleID,
	slot uint8,
	account common.Address,
	asset Asset,
	value *uint256.Int,
) *Instruction {
	return &Instruction{
		ID:        uuid.New(),
		Kind:      kind,
		SaleID:    id,
		Slot:      slot,
		Account:   account,
		Asset:     asset,
		Amount:    amount.Clone(value),
		Status:    InstructionStatusPending,
		CreatedAt: env.Now,
		UpdatedAt: env.Now,
	}
}

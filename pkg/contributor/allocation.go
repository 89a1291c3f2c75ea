package contributor

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/chainsafe/icco-contributor/pkg/amount"
)

// ClaimKind identifies one of the three buyer claims.
type ClaimKind string

const (
	ClaimKindAllocation ClaimKind = "allocation"
	ClaimKindExcess     ClaimKind = "excess"
	ClaimKindRefund     ClaimKind = "refund"
)

// ClaimResult is the outcome of a successful claim. Instruction is nil when
// the claimed amount is zero.
type ClaimResult struct {
	Kind        ClaimKind
	Amount      *uint256.Int
	Asset       Asset
	Instruction *Instruction
}

// ClaimAllocation pays out the buyer's pro-rata share of the slot's sale token
// allocation, rounded down. Remainders stay with the sale.
func ClaimAllocation(ctx context.Context, tx Tx, env Env, id SaleID, slot uint8, buyer common.Address) (*ClaimResult, error) {
	sale, _, err := loadClaimableSlot(ctx, tx, id, slot, SaleStatusSealed, ErrSaleNotSealed)
	if err != nil {
		return nil, err
	}
	c, err := loadContribution(ctx, tx, id, slot, buyer)
	if err != nil {
		return nil, err
	}
	if c.Status.AllocationClaimed {
		return nil, fmt.Errorf("%w: allocation for slot %d", ErrAlreadyClaimed, slot)
	}
	if env.unix() < sale.Times.Unlock {
		return nil, fmt.Errorf("%w: until %d", ErrAllocationLocked, sale.Times.Unlock)
	}

	totals, err := tx.GetSlotTotals(ctx, id, slot)
	if err != nil {
		return nil, fmt.Errorf("failed to load slot totals: %w", err)
	}
	share, err := amount.MulDiv(totals.Allocation, c.Amount, totals.Contributed)
	if err != nil {
		return nil, err
	}

	c.Status.AllocationClaimed = true
	c.Status.ClaimedAllocation = share
	return settleClaim(ctx, tx, env, c, ClaimKindAllocation, sale.Token, share)
}

// ClaimExcessRefund returns the buyer's pro-rata share of the slot's excess
// contribution after an oversubscribed sale is sealed.
func ClaimExcessRefund(ctx context.Context, tx Tx, env Env, id SaleID, slot uint8, buyer common.Address) (*ClaimResult, error) {
	_, asset, err := loadClaimableSlot(ctx, tx, id, slot, SaleStatusSealed, ErrSaleNotSealed)
	if err != nil {
		return nil, err
	}
	c, err := loadContribution(ctx, tx, id, slot, buyer)
	if err != nil {
		return nil, err
	}
	if c.Status.ExcessRefundClaimed {
		return nil, fmt.Errorf("%w: excess refund for slot %d", ErrAlreadyClaimed, slot)
	}

	totals, err := tx.GetSlotTotals(ctx, id, slot)
	if err != nil {
		return nil, fmt.Errorf("failed to load slot totals: %w", err)
	}
	share, err := amount.MulDiv(totals.Excess, c.Amount, totals.Contributed)
	if err != nil {
		return nil, err
	}

	c.Status.ExcessRefundClaimed = true
	c.Status.ClaimedExcessRefund = share
	return settleClaim(ctx, tx, env, c, ClaimKindExcess, asset.Asset, share)
}

// ClaimRefund returns the buyer's full reconciled contribution after an abort.
func ClaimRefund(ctx context.Context, tx Tx, env Env, id SaleID, slot uint8, buyer common.Address) (*ClaimResult, error) {
	_, asset, err := loadClaimableSlot(ctx, tx, id, slot, SaleStatusAborted, ErrSaleNotAborted)
	if err != nil {
		return nil, err
	}
	c, err := loadContribution(ctx, tx, id, slot, buyer)
	if err != nil {
		return nil, err
	}
	if c.Status.RefundClaimed {
		return nil, fmt.Errorf("%w: refund for slot %d", ErrAlreadyClaimed, slot)
	}
	if c.PendingEvents > 0 {
		return nil, fmt.Errorf("%w: %d escrow confirmations pending", ErrContributionNotReconciled, c.PendingEvents)
	}

	refund := amount.Clone(c.Amount)
	c.Status.RefundClaimed = true
	c.Status.ClaimedRefund = refund
	return settleClaim(ctx, tx, env, c, ClaimKindRefund, asset.Asset, refund)
}

func loadClaimableSlot(
	ctx context.Context,
	tx Tx,
	id SaleID,
	slot uint8,
	want SaleStatus,
	wrongStatus error,
) (*Sale, AcceptedAsset, error) {
	sale, err := loadSale(ctx, tx, id)
	if err != nil {
		return nil, AcceptedAsset{}, err
	}
	if sale.Status != want {
		return nil, AcceptedAsset{}, fmt.Errorf("%w: %s is %s", wrongStatus, id, sale.Status)
	}
	asset, ok := sale.Slot(slot)
	if !ok {
		return nil, AcceptedAsset{}, fmt.Errorf("%w: %d", ErrInvalidAssetSlot, slot)
	}
	return sale, asset, nil
}

func settleClaim(
	ctx context.Context,
	tx Tx,
	env Env,
	c *Contribution,
	kind ClaimKind,
	asset Asset,
	value *uint256.Int,
) (*ClaimResult, error) {
	c.UpdatedAt = env.Now
	if err := tx.UpsertContribution(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to store claim: %w", err)
	}

	res := &ClaimResult{Kind: kind, Amount: value, Asset: asset}
	if value.IsZero() {
		return res, nil
	}
	res.Instruction = newInstruction(env, InstructionTransfer, c.SaleID, c.Slot, c.Buyer, asset, value)
	if err := tx.InsertInstructions(ctx, res.Instruction); err != nil {
		return nil, fmt.Errorf("failed to queue transfer: %w", err)
	}
	return res, nil
}

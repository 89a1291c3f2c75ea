package contributor

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"github.com/chainsafe/icco-contributor/pkg/amount"
)

// ReconcileResult is the outcome of an escrow confirmation.
type ReconcileResult struct {
	Event        *ContributionEvent
	Contribution *Contribution
	Totals       *SlotTotals
	Shortfall    *uint256.Int
}

// ReconcileEscrow settles a contribution event against the amount that
// actually arrived in custody. A shortfall is removed from both the buyer's
// contribution and the slot total, clamped at zero. An actual amount above
// the requested amount credits only what was requested.
//
// Confirmations for an aborted sale still reduce the buyer's refundable
// contribution; the slot total stays as it was at abort. Sealed sales
// reject confirmations since allocations were computed from their totals.
func ReconcileEscrow(ctx context.Context, tx Tx, env Env, eventID uuid.UUID, actual *uint256.Int) (*ReconcileResult, error) {
	event, err := tx.GetContributionEvent(ctx, eventID)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownContributionEvent, eventID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load contribution event: %w", err)
	}
	if event.Reconciled {
		return nil, fmt.Errorf("%w: %s", ErrContributionAlreadyReconciled, eventID)
	}

	sale, err := loadSale(ctx, tx, event.SaleID)
	if err != nil {
		return nil, err
	}
	if sale.Status != SaleStatusActive && sale.Status != SaleStatusAborted {
		return nil, fmt.Errorf("%w: %s is %s", ErrSaleNotActive, sale.ID, sale.Status)
	}

	if actual == nil {
		actual = amount.Zero()
	}
	credited := amount.Min(actual, event.Requested)
	shortfall := amount.SubClamp(event.Requested, credited)

	contribution, err := tx.GetContribution(ctx, event.SaleID, event.Slot, event.Buyer)
	if err != nil {
		return nil, fmt.Errorf("failed to load contribution: %w", err)
	}
	totals, err := tx.GetSlotTotals(ctx, event.SaleID, event.Slot)
	if err != nil {
		return nil, fmt.Errorf("failed to load slot totals: %w", err)
	}

	contribution.Amount = amount.SubClamp(contribution.Amount, shortfall)
	if sale.Status == SaleStatusActive {
		totals.Contributed = amount.SubClamp(totals.Contributed, shortfall)
	}
	if contribution.PendingEvents > 0 {
		contribution.PendingEvents--
	}
	contribution.EscrowConfirmed = contribution.PendingEvents == 0
	contribution.UpdatedAt = env.Now

	now := env.Now
	event.Actual = credited
	event.Reconciled = true
	event.ReconciledAt = &now

	if err := tx.UpsertContribution(ctx, contribution); err != nil {
		return nil, fmt.Errorf("failed to store contribution: %w", err)
	}
	if sale.Status == SaleStatusActive {
		if err := tx.UpdateSlotTotals(ctx, totals); err != nil {
			return nil, fmt.Errorf("failed to update slot totals: %w", err)
		}
	}
	if err := tx.UpdateContributionEvent(ctx, event); err != nil {
		return nil, fmt.Errorf("failed to store contribution event: %w", err)
	}

	return &ReconcileResult{
		Event:        event,
		Contribution: contribution,
		Totals:       totals,
		Shortfall:    shortfall,
	}, nil
}

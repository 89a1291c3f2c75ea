package contributor

import (
	"context"
	"errors"
	"fmt"

	"github.com/chainsafe/icco-contributor/pkg/amount"
	"github.com/chainsafe/icco-contributor/pkg/icco"
)

// InitSale creates a sale from a verified SaleInit message. Only accepted
// tokens native to this chain are indexed; their slot numbers keep the
// position they have in the conductor's list.
func InitSale(ctx context.Context, tx Tx, env Env, a icco.SaleInit) error {
	exists, err := tx.SaleExists(ctx, a.SaleID)
	if err != nil {
		return fmt.Errorf("failed to check sale existence: %w", err)
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrDuplicateSale, a.SaleID)
	}

	cfg := env.Config
	if a.ConductorChain == cfg.ChainID || a.ConductorChain != cfg.ConductorChain {
		return fmt.Errorf("%w: sale names conductor chain %d", ErrUnsupportedConductor, a.ConductorChain)
	}

	sale := &Sale{
		ID:                 a.SaleID,
		Token:              Asset{Chain: a.TokenChain, Address: a.TokenAddress},
		TokenDecimals:      a.TokenDecimals,
		LocalTokenDecimals: a.TokenDecimals,
		Recipient:          a.Recipient,
		Times:              SaleTimes{Start: a.SaleStart, End: a.SaleEnd, Unlock: a.UnlockTime},
		Status:             SaleStatusActive,
		CreatedAt:          env.Now,
	}
	if a.TokenChain != cfg.ChainID {
		sale.LocalTokenDecimals = amount.WrappedDecimals(a.TokenDecimals)
	}

	seen := make(map[string]uint8)
	for i, t := range a.AcceptedTokens {
		if t.TokenChain != cfg.ChainID {
			continue
		}
		asset := Asset{Chain: t.TokenChain, Address: t.TokenAddress}
		if prev, dup := seen[asset.Key()]; dup {
			return fmt.Errorf("%w: asset %s accepted in slots %d and %d",
				ErrUnauthorizedOrMalformedVAA, asset.Key(), prev, i)
		}
		seen[asset.Key()] = uint8(i)
		sale.Assets = append(sale.Assets, AcceptedAsset{
			Slot:     uint8(i),
			Asset:    asset,
			Decimals: t.Decimals,
			Cap:      amount.Clone(t.Cap),
		})
	}

	if err := tx.CreateSale(ctx, sale); err != nil {
		return fmt.Errorf("failed to create sale: %w", err)
	}
	return nil
}

// SealSale finalizes an ended sale and records the per-slot allocations.
// Allocations arrive in the sale token's native precision and are stored in
// its local precision, rounded down.
func SealSale(ctx context.Context, tx Tx, env Env, a icco.SaleSealed) error {
	sale, err := loadEndedActiveSale(ctx, tx, env, a.SaleID)
	if err != nil {
		return err
	}

	allocations := make(map[uint8]icco.Allocation, len(a.Allocations))
	for _, al := range a.Allocations {
		allocations[al.Slot] = al
	}

	for _, asset := range sale.Assets {
		al, ok := allocations[asset.Slot]
		if !ok {
			return fmt.Errorf("%w: no allocation for slot %d", ErrUnauthorizedOrMalformedVAA, asset.Slot)
		}

		totals, err := tx.GetSlotTotals(ctx, sale.ID, asset.Slot)
		if err != nil {
			return fmt.Errorf("failed to load totals for slot %d: %w", asset.Slot, err)
		}

		allocation, err := amount.Rescale(al.Allocated, sale.TokenDecimals, sale.LocalTokenDecimals)
		if err != nil {
			return err
		}
		totals.Allocation = allocation
		totals.Excess = amount.Min(al.ExcessContribution, totals.Contributed)

		if err := tx.UpdateSlotTotals(ctx, totals); err != nil {
			return fmt.Errorf("failed to store allocation for slot %d: %w", asset.Slot, err)
		}
	}

	if err := tx.UpdateSaleStatus(ctx, sale.ID, SaleStatusSealed); err != nil {
		return fmt.Errorf("failed to seal sale: %w", err)
	}
	return nil
}

// AbortSale cancels an ended sale. Refunds become the only exit path.
func AbortSale(ctx context.Context, tx Tx, env Env, a icco.SaleAborted) error {
	sale, err := loadEndedActiveSale(ctx, tx, env, a.SaleID)
	if err != nil {
		return err
	}
	if err := tx.UpdateSaleStatus(ctx, sale.ID, SaleStatusAborted); err != nil {
		return fmt.Errorf("failed to abort sale: %w", err)
	}
	return nil
}

func loadSale(ctx context.Context, tx Tx, id SaleID) (*Sale, error) {
	sale, err := tx.GetSale(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSale, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load sale: %w", err)
	}
	return sale, nil
}

func loadEndedActiveSale(ctx context.Context, tx Tx, env Env, id SaleID) (*Sale, error) {
	sale, err := loadSale(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if sale.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: %s is %s", ErrSaleNotActive, id, sale.Status)
	}
	if env.unix() < sale.Times.End {
		return nil, fmt.Errorf("%w: ends at %d", ErrSaleNotYetEnded, sale.Times.End)
	}
	return sale, nil
}

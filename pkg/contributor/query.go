package contributor

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Instantiate stores the deployment configuration. Repeating it with the same
// values is a no-op.
func Instantiate(ctx context.Context, tx Tx, cfg *Config) error {
	if cfg.ConductorChain == cfg.ChainID {
		return fmt.Errorf("%w: conductor chain %d is this chain", ErrUnsupportedConductor, cfg.ChainID)
	}

	existing, err := tx.GetConfig(ctx)
	switch {
	case errors.Is(err, ErrNotFound):
		if err := tx.InsertConfig(ctx, cfg); err != nil {
			return fmt.Errorf("failed to store config: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("failed to load config: %w", err)
	case *existing == *cfg:
		return nil
	default:
		return ErrConfigAlreadyInitialized
	}
}

// LoadConfig reads the deployment configuration.
func LoadConfig(ctx context.Context, tx Tx) (*Config, error) {
	cfg, err := tx.GetConfig(ctx)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrConfigNotInitialized
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// SlotView is a local slot together with its aggregates.
type SlotView struct {
	Sale   *Sale
	Asset  AcceptedAsset
	Totals *SlotTotals
}

// BuyerView is a buyer's position in a slot with the slot's asset context.
type BuyerView struct {
	SlotView
	Contribution *Contribution
}

// GetSale returns a sale by id.
func GetSale(ctx context.Context, tx Tx, id SaleID) (*Sale, error) {
	return loadSale(ctx, tx, id)
}

// GetSlot returns the accepted asset and totals of a local slot.
func GetSlot(ctx context.Context, tx Tx, id SaleID, slot uint8) (*SlotView, error) {
	sale, err := loadSale(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	asset, err := tx.GetAcceptedAsset(ctx, id, slot)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrInvalidAssetSlot, slot)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load accepted asset: %w", err)
	}
	totals, err := tx.GetSlotTotals(ctx, id, slot)
	if err != nil {
		return nil, fmt.Errorf("failed to load slot totals: %w", err)
	}
	return &SlotView{Sale: sale, Asset: *asset, Totals: totals}, nil
}

// GetAssetSlot resolves a local asset to its slot in a sale.
func GetAssetSlot(ctx context.Context, tx Tx, id SaleID, asset Asset) (uint8, error) {
	if _, err := loadSale(ctx, tx, id); err != nil {
		return 0, err
	}
	slot, err := tx.GetAssetSlot(ctx, id, asset)
	if errors.Is(err, ErrNotFound) {
		return 0, fmt.Errorf("%w: asset %d/%s is not accepted", ErrInvalidAssetSlot, asset.Chain, asset.Address)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to resolve asset slot: %w", err)
	}
	return slot, nil
}

// GetBuyerStatus returns the buyer's position in a slot. Buyers that never
// contributed get a zero position.
func GetBuyerStatus(ctx context.Context, tx Tx, id SaleID, slot uint8, buyer common.Address) (*BuyerView, error) {
	view, err := GetSlot(ctx, tx, id, slot)
	if err != nil {
		return nil, err
	}
	c, err := loadContribution(ctx, tx, id, slot, buyer)
	if err != nil {
		return nil, err
	}
	return &BuyerView{SlotView: *view, Contribution: c}, nil
}

// Package pg is the PostgreSQL implementation of contributor.Store.
package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/chainsafe/icco-contributor/pkg/contributor"
)

type pgStore struct {
	db *bun.DB
}

// NewStore creates a new postgres implementation of the contributor store.
func NewStore(db *bun.DB) *pgStore {
	return &pgStore{db: db}
}

var _ contributor.Store = (*pgStore)(nil)

// RunInTx runs fn in a serializable transaction.
func (s *pgStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx contributor.Tx) error) error {
	return s.db.RunInTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable}, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, &txStore{db: tx})
	})
}

func (s *pgStore) InsertInstructions(ctx context.Context, instructions ...*contributor.Instruction) error {
	return (&txStore{db: s.db}).InsertInstructions(ctx, instructions...)
}

func (s *pgStore) ListPendingInstructions(ctx context.Context, limit int) ([]*contributor.Instruction, error) {
	return (&txStore{db: s.db}).ListPendingInstructions(ctx, limit)
}

func (s *pgStore) UpdateInstructionStatus(
	ctx context.Context,
	id uuid.UUID,
	status contributor.InstructionStatus,
	attempts int,
	lastErr string,
) error {
	return (&txStore{db: s.db}).UpdateInstructionStatus(ctx, id, status, attempts, lastErr)
}

// txStore implements contributor.Tx on top of any bun.IDB.
type txStore struct {
	db bun.IDB
}

func (s *txStore) GetConfig(ctx context.Context) (*contributor.Config, error) {
	dao := new(ConfigDao)
	err := s.db.NewSelect().Model(dao).Where("id = ?", configRowID).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, contributor.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get config: %w", err)
	}
	return toConfig(dao)
}

func (s *txStore) InsertConfig(ctx context.Context, cfg *contributor.Config) error {
	res, err := s.db.NewInsert().
		Model(toConfigDao(cfg)).
		On("CONFLICT (id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to insert config: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return contributor.ErrConfigAlreadyInitialized
	}
	return nil
}

func (s *txStore) IsVAAConsumed(ctx context.Context, fingerprint common.Hash) (bool, error) {
	exists, err := s.db.NewSelect().
		Model((*ConsumedVAADao)(nil)).
		Where("fingerprint = ?", fingerprint.Hex()).
		Exists(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to check consumed vaa: %w", err)
	}
	return exists, nil
}

func (s *txStore) InsertConsumedVAA(ctx context.Context, v *contributor.ConsumedVAA) error {
	_, err := s.db.NewInsert().
		Model(&ConsumedVAADao{
			Fingerprint:  v.Fingerprint.Hex(),
			Kind:         v.Kind,
			SaleID:       v.SaleID.String(),
			EmitterChain: uint16(v.EmitterChain),
			Sequence:     v.Sequence,
			ConsumedAt:   v.ConsumedAt,
		}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to insert consumed vaa: %w", err)
	}
	return nil
}

func (s *txStore) GetSale(ctx context.Context, id contributor.SaleID) (*contributor.Sale, error) {
	dao := new(SaleDao)
	err := s.db.NewSelect().Model(dao).Where("sale_id = ?", id.String()).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, contributor.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get sale: %w", err)
	}

	var assets []SaleAssetDao
	err = s.db.NewSelect().
		Model(&assets).
		Where("sale_id = ?", dao.SaleID).
		Order("slot ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get sale assets: %w", err)
	}
	return toSale(dao, assets)
}

func (s *txStore) SaleExists(ctx context.Context, id contributor.SaleID) (bool, error) {
	exists, err := s.db.NewSelect().
		Model((*SaleDao)(nil)).
		Where("sale_id = ?", id.String()).
		Exists(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to check sale exists: %w", err)
	}
	return exists, nil
}

func (s *txStore) CreateSale(ctx context.Context, sale *contributor.Sale) error {
	if _, err := s.db.NewInsert().Model(toSaleDao(sale)).Exec(ctx); err != nil {
		return fmt.Errorf("failed to insert sale: %w", err)
	}
	if len(sale.Assets) == 0 {
		return nil
	}

	assets := make([]*SaleAssetDao, 0, len(sale.Assets))
	totals := make([]*SlotTotalsDao, 0, len(sale.Assets))
	for _, a := range sale.Assets {
		assets = append(assets, toSaleAssetDao(sale.ID, a))
		totals = append(totals, &SlotTotalsDao{
			SaleID:      sale.ID.String(),
			Slot:        a.Slot,
			Contributed: "0",
			Allocation:  "0",
			Excess:      "0",
			UpdatedAt:   sale.CreatedAt,
		})
	}
	if _, err := s.db.NewInsert().Model(&assets).Exec(ctx); err != nil {
		return fmt.Errorf("failed to insert sale assets: %w", err)
	}
	if _, err := s.db.NewInsert().Model(&totals).Exec(ctx); err != nil {
		return fmt.Errorf("failed to insert slot totals: %w", err)
	}
	return nil
}

func (s *txStore) UpdateSaleStatus(ctx context.Context, id contributor.SaleID, status contributor.SaleStatus) error {
	res, err := s.db.NewUpdate().
		Model((*SaleDao)(nil)).
		Set("status = ?", string(status)).
		Set("updated_at = ?", time.Now().UTC()).
		Where("sale_id = ?", id.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to update sale status: %w", err)
	}
	return requireAffected(res)
}

func (s *txStore) GetAcceptedAsset(ctx context.Context, id contributor.SaleID, slot uint8) (*contributor.AcceptedAsset, error) {
	dao := new(SaleAssetDao)
	err := s.db.NewSelect().
		Model(dao).
		Where("sale_id = ?", id.String()).
		Where("slot = ?", slot).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, contributor.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get accepted asset: %w", err)
	}
	return toAcceptedAsset(dao)
}

func (s *txStore) GetAssetSlot(ctx context.Context, id contributor.SaleID, asset contributor.Asset) (uint8, error) {
	dao := new(SaleAssetDao)
	err := s.db.NewSelect().
		Model(dao).
		Column("slot").
		Where("sale_id = ?", id.String()).
		Where("chain = ?", uint16(asset.Chain)).
		Where("address = ?", asset.Key()).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, contributor.ErrNotFound
		}
		return 0, fmt.Errorf("failed to get asset slot: %w", err)
	}
	return dao.Slot, nil
}

func (s *txStore) GetSlotTotals(ctx context.Context, id contributor.SaleID, slot uint8) (*contributor.SlotTotals, error) {
	dao := new(SlotTotalsDao)
	err := s.db.NewSelect().
		Model(dao).
		Where("sale_id = ?", id.String()).
		Where("slot = ?", slot).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, contributor.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get slot totals: %w", err)
	}
	return toSlotTotals(dao)
}

func (s *txStore) ListSlotTotals(ctx context.Context, id contributor.SaleID) ([]*contributor.SlotTotals, error) {
	var daos []SlotTotalsDao
	err := s.db.NewSelect().
		Model(&daos).
		Where("sale_id = ?", id.String()).
		Order("slot ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list slot totals: %w", err)
	}
	out := make([]*contributor.SlotTotals, 0, len(daos))
	for i := range daos {
		t, err := toSlotTotals(&daos[i])
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *txStore) UpdateSlotTotals(ctx context.Context, totals *contributor.SlotTotals) error {
	dao := toSlotTotalsDao(totals)
	dao.UpdatedAt = time.Now().UTC()
	res, err := s.db.NewUpdate().
		Model(dao).
		Column("contributed", "allocation", "excess", "updated_at").
		WherePK().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to update slot totals: %w", err)
	}
	return requireAffected(res)
}

func (s *txStore) GetContribution(
	ctx context.Context,
	id contributor.SaleID,
	slot uint8,
	buyer common.Address,
) (*contributor.Contribution, error) {
	dao := new(ContributionDao)
	err := s.db.NewSelect().
		Model(dao).
		Where("sale_id = ?", id.String()).
		Where("slot = ?", slot).
		Where("buyer = ?", buyer.Hex()).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, contributor.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get contribution: %w", err)
	}
	return toContribution(dao)
}

func (s *txStore) UpsertContribution(ctx context.Context, c *contributor.Contribution) error {
	dao := toContributionDao(c)
	if dao.UpdatedAt.IsZero() {
		dao.UpdatedAt = time.Now().UTC()
	}
	_, err := s.db.NewInsert().
		Model(dao).
		On("CONFLICT (sale_id, slot, buyer) DO UPDATE").
		Set("amount = EXCLUDED.amount").
		Set("pending_events = EXCLUDED.pending_events").
		Set("escrow_confirmed = EXCLUDED.escrow_confirmed").
		Set("allocation_claimed = EXCLUDED.allocation_claimed").
		Set("excess_refund_claimed = EXCLUDED.excess_refund_claimed").
		Set("refund_claimed = EXCLUDED.refund_claimed").
		Set("claimed_allocation = EXCLUDED.claimed_allocation").
		Set("claimed_excess_refund = EXCLUDED.claimed_excess_refund").
		Set("claimed_refund = EXCLUDED.claimed_refund").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to upsert contribution: %w", err)
	}
	return nil
}

func (s *txStore) GetContributionEvent(ctx context.Context, eventID uuid.UUID) (*contributor.ContributionEvent, error) {
	dao := new(ContributionEventDao)
	err := s.db.NewSelect().Model(dao).Where("id = ?", eventID).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, contributor.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get contribution event: %w", err)
	}
	return toContributionEvent(dao)
}

func (s *txStore) InsertContributionEvent(ctx context.Context, ev *contributor.ContributionEvent) error {
	if _, err := s.db.NewInsert().Model(toContributionEventDao(ev)).Exec(ctx); err != nil {
		return fmt.Errorf("failed to insert contribution event: %w", err)
	}
	return nil
}

func (s *txStore) UpdateContributionEvent(ctx context.Context, ev *contributor.ContributionEvent) error {
	res, err := s.db.NewUpdate().
		Model(toContributionEventDao(ev)).
		Column("actual", "reconciled", "reconciled_at").
		WherePK().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to update contribution event: %w", err)
	}
	return requireAffected(res)
}

func (s *txStore) InsertInstructions(ctx context.Context, instructions ...*contributor.Instruction) error {
	if len(instructions) == 0 {
		return nil
	}
	daos := make([]*InstructionDao, 0, len(instructions))
	for _, in := range instructions {
		daos = append(daos, toInstructionDao(in))
	}
	if _, err := s.db.NewInsert().Model(&daos).Exec(ctx); err != nil {
		return fmt.Errorf("failed to insert instructions: %w", err)
	}
	return nil
}

func (s *txStore) ListPendingInstructions(ctx context.Context, limit int) ([]*contributor.Instruction, error) {
	var daos []InstructionDao
	q := s.db.NewSelect().
		Model(&daos).
		Where("status = ?", string(contributor.InstructionStatusPending)).
		Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("failed to list pending instructions: %w", err)
	}
	out := make([]*contributor.Instruction, 0, len(daos))
	for i := range daos {
		in, err := toInstruction(&daos[i])
		if err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	return out, nil
}

func (s *txStore) UpdateInstructionStatus(
	ctx context.Context,
	id uuid.UUID,
	status contributor.InstructionStatus,
	attempts int,
	lastErr string,
) error {
	var lastError *string
	if lastErr != "" {
		lastError = &lastErr
	}
	res, err := s.db.NewUpdate().
		Model((*InstructionDao)(nil)).
		Set("status = ?", string(status)).
		Set("attempts = ?", attempts).
		Set("last_error = ?", lastError).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to update instruction status: %w", err)
	}
	return requireAffected(res)
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return contributor.ErrNotFound
	}
	return nil
}

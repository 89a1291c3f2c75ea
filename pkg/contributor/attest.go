package contributor

import (
	"context"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/chainsafe/icco-contributor/pkg/amount"
	"github.com/chainsafe/icco-contributor/pkg/icco"
)

// AttestResult carries the contributions attestation queued for publication.
type AttestResult struct {
	Attestation icco.ContributionsSealed
	Instruction *Instruction
}

// AttestContributions reports this chain's per-slot totals to the conductor
// once the sale window has closed. It may be repeated until the sale is
// sealed or aborted.
func AttestContributions(ctx context.Context, tx Tx, env Env, id SaleID) (*AttestResult, error) {
	sale, err := loadSale(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if sale.Status != SaleStatusActive {
		return nil, fmt.Errorf("%w: %s is %s", ErrSaleNotActive, id, sale.Status)
	}
	if env.unix() <= sale.Times.End {
		return nil, fmt.Errorf("%w: ends at %d", ErrSaleNotYetEnded, sale.Times.End)
	}

	totals, err := tx.ListSlotTotals(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list slot totals: %w", err)
	}
	sort.Slice(totals, func(i, j int) bool { return totals[i].Slot < totals[j].Slot })

	att := icco.ContributionsSealed{
		SaleID:        id,
		ChainID:       env.Config.ChainID,
		Contributions: make([]icco.Contribution, 0, len(totals)),
	}
	for _, t := range totals {
		att.Contributions = append(att.Contributions, icco.Contribution{
			Slot:   t.Slot,
			Amount: amount.Clone(t.Contributed),
		})
	}

	instruction := newInstruction(env, InstructionPublishMessage, id, 0, common.Address{}, sale.Token, nil)
	instruction.Payload = att.Encode()
	if err := tx.InsertInstructions(ctx, instruction); err != nil {
		return nil, fmt.Errorf("failed to queue attestation: %w", err)
	}
	return &AttestResult{Attestation: att, Instruction: instruction}, nil
}

// Package mem provides an in-memory contributor.Store. Each transaction
// works on a private copy of the state that replaces the committed state
// only when the transaction succeeds.
package mem

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/chainsafe/icco-contributor/pkg/amount"
	"github.com/chainsafe/icco-contributor/pkg/contributor"
)

type slotKey struct {
	sale contributor.SaleID
	slot uint8
}

type buyerKey struct {
	sale  contributor.SaleID
	slot  uint8
	buyer common.Address
}

type assetKey struct {
	sale  contributor.SaleID
	chain uint16
	addr  string
}

type state struct {
	config       *contributor.Config
	consumed     map[common.Hash]*contributor.ConsumedVAA
	sales        map[contributor.SaleID]*contributor.Sale
	assetIndex   map[assetKey]uint8
	totals       map[slotKey]*contributor.SlotTotals
	contribs     map[buyerKey]*contributor.Contribution
	events       map[uuid.UUID]*contributor.ContributionEvent
	instructions map[uuid.UUID]*contributor.Instruction
	order        []uuid.UUID
}

func newState() *state {
	return &state{
		consumed:     make(map[common.Hash]*contributor.ConsumedVAA),
		sales:        make(map[contributor.SaleID]*contributor.Sale),
		assetIndex:   make(map[assetKey]uint8),
		totals:       make(map[slotKey]*contributor.SlotTotals),
		contribs:     make(map[buyerKey]*contributor.Contribution),
		events:       make(map[uuid.UUID]*contributor.ContributionEvent),
		instructions: make(map[uuid.UUID]*contributor.Instruction),
	}
}

func (s *state) clone() *state {
	c := newState()
	if s.config != nil {
		cfg := *s.config
		c.config = &cfg
	}
	for k, v := range s.consumed {
		cp := *v
		c.consumed[k] = &cp
	}
	for k, v := range s.sales {
		c.sales[k] = cloneSale(v)
	}
	for k, v := range s.assetIndex {
		c.assetIndex[k] = v
	}
	for k, v := range s.totals {
		c.totals[k] = cloneTotals(v)
	}
	for k, v := range s.contribs {
		c.contribs[k] = cloneContribution(v)
	}
	for k, v := range s.events {
		c.events[k] = cloneEvent(v)
	}
	for k, v := range s.instructions {
		c.instructions[k] = cloneInstruction(v)
	}
	c.order = append([]uuid.UUID(nil), s.order...)
	return c
}

// Store is an in-memory contributor.Store.
type Store struct {
	mu    sync.Mutex
	state *state
}

var _ contributor.Store = (*Store)(nil)

// New returns an empty Store.
func New() *Store {
	return &Store{state: newState()}
}

// RunInTx runs fn against a copy of the state and commits it if fn succeeds.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx contributor.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	working := s.state.clone()
	if err := fn(ctx, &tx{state: working}); err != nil {
		return err
	}
	s.state = working
	return nil
}

// InsertInstructions implements contributor.InstructionStore.
func (s *Store) InsertInstructions(ctx context.Context, instructions ...*contributor.Instruction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&tx{state: s.state}).InsertInstructions(ctx, instructions...)
}

// ListPendingInstructions implements contributor.InstructionStore.
func (s *Store) ListPendingInstructions(ctx context.Context, limit int) ([]*contributor.Instruction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&tx{state: s.state}).ListPendingInstructions(ctx, limit)
}

// UpdateInstructionStatus implements contributor.InstructionStore.
func (s *Store) UpdateInstructionStatus(
	ctx context.Context,
	id uuid.UUID,
	status contributor.InstructionStatus,
	attempts int,
	lastErr string,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&tx{state: s.state}).UpdateInstructionStatus(ctx, id, status, attempts, lastErr)
}

// Instructions returns every stored instruction in insertion order.
func (s *Store) Instructions() []*contributor.Instruction {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*contributor.Instruction, 0, len(s.state.order))
	for _, id := range s.state.order {
		out = append(out, cloneInstruction(s.state.instructions[id]))
	}
	return out
}

type tx struct {
	state *state
}

func (t *tx) GetConfig(_ context.Context) (*contributor.Config, error) {
	if t.state.config == nil {
		return nil, contributor.ErrNotFound
	}
	cfg := *t.state.config
	return &cfg, nil
}

func (t *tx) InsertConfig(_ context.Context, cfg *contributor.Config) error {
	if t.state.config != nil {
		return contributor.ErrConfigAlreadyInitialized
	}
	c := *cfg
	t.state.config = &c
	return nil
}

func (t *tx) IsVAAConsumed(_ context.Context, fingerprint common.Hash) (bool, error) {
	_, ok := t.state.consumed[fingerprint]
	return ok, nil
}

func (t *tx) InsertConsumedVAA(_ context.Context, v *contributor.ConsumedVAA) error {
	if _, ok := t.state.consumed[v.Fingerprint]; ok {
		return fmt.Errorf("fingerprint %s already stored", v.Fingerprint.Hex())
	}
	cp := *v
	t.state.consumed[v.Fingerprint] = &cp
	return nil
}

func (t *tx) GetSale(_ context.Context, id contributor.SaleID) (*contributor.Sale, error) {
	s, ok := t.state.sales[id]
	if !ok {
		return nil, contributor.ErrNotFound
	}
	return cloneSale(s), nil
}

func (t *tx) SaleExists(_ context.Context, id contributor.SaleID) (bool, error) {
	_, ok := t.state.sales[id]
	return ok, nil
}

func (t *tx) CreateSale(_ context.Context, sale *contributor.Sale) error {
	if _, ok := t.state.sales[sale.ID]; ok {
		return fmt.Errorf("sale %s already stored", sale.ID)
	}
	t.state.sales[sale.ID] = cloneSale(sale)
	for _, a := range sale.Assets {
		key := assetKey{sale: sale.ID, chain: uint16(a.Asset.Chain), addr: a.Asset.Key()}
		if _, ok := t.state.assetIndex[key]; ok {
			return fmt.Errorf("asset %s already indexed for sale %s", a.Asset.Key(), sale.ID)
		}
		t.state.assetIndex[key] = a.Slot
		t.state.totals[slotKey{sale.ID, a.Slot}] = &contributor.SlotTotals{
			SaleID:      sale.ID,
			Slot:        a.Slot,
			Contributed: amount.Zero(),
			Allocation:  amount.Zero(),
			Excess:      amount.Zero(),
		}
	}
	return nil
}

func (t *tx) UpdateSaleStatus(_ context.Context, id contributor.SaleID, status contributor.SaleStatus) error {
	s, ok := t.state.sales[id]
	if !ok {
		return contributor.ErrNotFound
	}
	s.Status = status
	return nil
}

func (t *tx) GetAcceptedAsset(_ context.Context, id contributor.SaleID, slot uint8) (*contributor.AcceptedAsset, error) {
	s, ok := t.state.sales[id]
	if !ok {
		return nil, contributor.ErrNotFound
	}
	a, ok := s.Slot(slot)
	if !ok {
		return nil, contributor.ErrNotFound
	}
	a.Cap = amount.Clone(a.Cap)
	return &a, nil
}

func (t *tx) GetAssetSlot(_ context.Context, id contributor.SaleID, asset contributor.Asset) (uint8, error) {
	slot, ok := t.state.assetIndex[assetKey{sale: id, chain: uint16(asset.Chain), addr: asset.Key()}]
	if !ok {
		return 0, contributor.ErrNotFound
	}
	return slot, nil
}

func (t *tx) GetSlotTotals(_ context.Context, id contributor.SaleID, slot uint8) (*contributor.SlotTotals, error) {
	v, ok := t.state.totals[slotKey{id, slot}]
	if !ok {
		return nil, contributor.ErrNotFound
	}
	return cloneTotals(v), nil
}

func (t *tx) ListSlotTotals(_ context.Context, id contributor.SaleID) ([]*contributor.SlotTotals, error) {
	var out []*contributor.SlotTotals
	for k, v := range t.state.totals {
		if k.sale == id {
			out = append(out, cloneTotals(v))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slot < out[j].Slot })
	return out, nil
}

func (t *tx) UpdateSlotTotals(_ context.Context, totals *contributor.SlotTotals) error {
	key := slotKey{totals.SaleID, totals.Slot}
	if _, ok := t.state.totals[key]; !ok {
		return contributor.ErrNotFound
	}
	t.state.totals[key] = cloneTotals(totals)
	return nil
}

func (t *tx) GetContribution(
	_ context.Context,
	id contributor.SaleID,
	slot uint8,
	buyer common.Address,
) (*contributor.Contribution, error) {
	c, ok := t.state.contribs[buyerKey{id, slot, buyer}]
	if !ok {
		return nil, contributor.ErrNotFound
	}
	return cloneContribution(c), nil
}

func (t *tx) UpsertContribution(_ context.Context, c *contributor.Contribution) error {
	t.state.contribs[buyerKey{c.SaleID, c.Slot, c.Buyer}] = cloneContribution(c)
	return nil
}

func (t *tx) GetContributionEvent(_ context.Context, eventID uuid.UUID) (*contributor.ContributionEvent, error) {
	ev, ok := t.state.events[eventID]
	if !ok {
		return nil, contributor.ErrNotFound
	}
	return cloneEvent(ev), nil
}

func (t *tx) InsertContributionEvent(_ context.Context, ev *contributor.ContributionEvent) error {
	if _, ok := t.state.events[ev.ID]; ok {
		return fmt.Errorf("contribution event %s already stored", ev.ID)
	}
	t.state.events[ev.ID] = cloneEvent(ev)
	return nil
}

func (t *tx) UpdateContributionEvent(_ context.Context, ev *contributor.ContributionEvent) error {
	if _, ok := t.state.events[ev.ID]; !ok {
		return contributor.ErrNotFound
	}
	t.state.events[ev.ID] = cloneEvent(ev)
	return nil
}

func (t *tx) InsertInstructions(_ context.Context, instructions ...*contributor.Instruction) error {
	for _, in := range instructions {
		if _, ok := t.state.instructions[in.ID]; ok {
			return fmt.Errorf("instruction %s already stored", in.ID)
		}
		t.state.instructions[in.ID] = cloneInstruction(in)
		t.state.order = append(t.state.order, in.ID)
	}
	return nil
}

func (t *tx) ListPendingInstructions(_ context.Context, limit int) ([]*contributor.Instruction, error) {
	var out []*contributor.Instruction
	for _, id := range t.state.order {
		if limit > 0 && len(out) >= limit {
			break
		}
		in := t.state.instructions[id]
		if in.Status == contributor.InstructionStatusPending {
			out = append(out, cloneInstruction(in))
		}
	}
	return out, nil
}

func (t *tx) UpdateInstructionStatus(
	_ context.Context,
	id uuid.UUID,
	status contributor.InstructionStatus,
	attempts int,
	lastErr string,
) error {
	in, ok := t.state.instructions[id]
	if !ok {
		return contributor.ErrNotFound
	}
	in.Status = status
	in.Attempts = attempts
	in.LastError = lastErr
	return nil
}

func cloneSale(s *contributor.Sale) *contributor.Sale {
	cp := *s
	cp.Assets = make([]contributor.AcceptedAsset, len(s.Assets))
	for i, a := range s.Assets {
		a.Cap = amount.Clone(a.Cap)
		cp.Assets[i] = a
	}
	return &cp
}

func cloneTotals(t *contributor.SlotTotals) *contributor.SlotTotals {
	cp := *t
	cp.Contributed = amount.Clone(t.Contributed)
	cp.Allocation = amount.Clone(t.Allocation)
	cp.Excess = amount.Clone(t.Excess)
	return &cp
}

func cloneContribution(c *contributor.Contribution) *contributor.Contribution {
	cp := *c
	cp.Amount = amount.Clone(c.Amount)
	cp.Status.ClaimedAllocation = amount.Clone(c.Status.ClaimedAllocation)
	cp.Status.ClaimedExcessRefund = amount.Clone(c.Status.ClaimedExcessRefund)
	cp.Status.ClaimedRefund = amount.Clone(c.Status.ClaimedRefund)
	return &cp
}

func cloneEvent(ev *contributor.ContributionEvent) *contributor.ContributionEvent {
	cp := *ev
	cp.Requested = amount.Clone(ev.Requested)
	if ev.Actual != nil {
		cp.Actual = amount.Clone(ev.Actual)
	}
	if ev.ReconciledAt != nil {
		at := *ev.ReconciledAt
		cp.ReconciledAt = &at
	}
	return &cp
}

func cloneInstruction(in *contributor.Instruction) *contributor.Instruction {
	cp := *in
	cp.Amount = amount.Clone(in.Amount)
	cp.Payload = append([]byte(nil), in.Payload...)
	if in.EventID != nil {
		id := *in.EventID
		cp.EventID = &id
	}
	return &cp
}

package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	apperrors "github.com/chainsafe/icco-contributor/pkg/app/errors"
	"github.com/chainsafe/icco-contributor/pkg/contributor"
	ct "github.com/chainsafe/icco-contributor/pkg/contributor/contributortest"
	"github.com/chainsafe/icco-contributor/pkg/contributor/store/mem"
	"github.com/chainsafe/icco-contributor/pkg/icco"
)

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func (c *testClock) Set(ts uint64) { c.now = time.Unix(int64(ts), 0) }

type testEnv struct {
	fx    *ct.Fixture
	store *mem.Store
	clock *testClock
	svc   Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	fx := ct.New(t, 1)
	clock := &testClock{}
	clock.Set(ct.SaleStart - 10)
	store := mem.New()
	svc := NewLog(NewService(store, fx.Guardians, zap.NewNop(), WithClock(clock.Now)), zap.NewNop())
	require.NoError(t, svc.Instantiate(context.Background(), fx.Config))
	return &testEnv{fx: fx, store: store, clock: clock, svc: svc}
}

func (e *testEnv) initSale(t *testing.T, id icco.SaleID) {
	t.Helper()
	init := ct.SaleInit(id,
		ct.Token(ct.LocalChain, 0x01, 6, 0),
		ct.Token(ct.ConductorChain, 0x02, 18, 0),
		ct.Token(ct.LocalChain, 0x03, 18, 1000),
	)
	init.TokenDecimals = 8
	_, err := e.svc.SubmitVAA(context.Background(), e.fx.Sign(init.Encode()))
	require.NoError(t, err)
}

func statusCode(t *testing.T, err error) int {
	t.Helper()
	var svcErr *apperrors.ServiceError
	require.True(t, errors.As(err, &svcErr), "expected service error, got %v", err)
	return svcErr.StatusCode()
}

func TestService_Instantiate(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	require.NoError(t, env.svc.Instantiate(ctx, env.fx.Config), "repeat with same values is a no-op")

	changed := *env.fx.Config
	changed.BridgeEndpoint = "0x0000000000000000000000000000000000000bff"
	err := env.svc.Instantiate(ctx, &changed)
	assert.ErrorIs(t, err, contributor.ErrConfigAlreadyInitialized)
	assert.Equal(t, http.StatusConflict, statusCode(t, err))

	got, err := env.svc.GetConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, env.fx.Config, got)
}

func TestService_InstantiateRejectsOwnChainAsConductor(t *testing.T) {
	fx := ct.New(t, 1)
	svc := NewService(mem.New(), fx.Guardians, zap.NewNop())

	cfg := *fx.Config
	cfg.ConductorChain = cfg.ChainID
	err := svc.Instantiate(context.Background(), &cfg)
	assert.ErrorIs(t, err, contributor.ErrUnsupportedConductor)
	assert.Equal(t, http.StatusBadRequest, statusCode(t, err))

	_, err = svc.GetConfig(context.Background())
	assert.ErrorIs(t, err, contributor.ErrConfigNotInitialized)
}

func TestService_CallsRequireConfig(t *testing.T) {
	fx := ct.New(t, 1)
	svc := NewService(mem.New(), fx.Guardians, zap.NewNop())

	_, err := svc.SubmitVAA(context.Background(), fx.Sign(ct.SaleInit(ct.SaleID(1)).Encode()))
	assert.ErrorIs(t, err, contributor.ErrConfigNotInitialized)
	assert.Equal(t, http.StatusNotFound, statusCode(t, err))
}

func TestService_Lifecycle(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	id := ct.SaleID(7)
	buyer := ct.Buyer(1)
	env.initSale(t, id)

	env.clock.Set(ct.SaleStart)
	res, err := env.svc.Contribute(ctx, contributor.ContributeRequest{
		SaleID: id, Slot: 0, Buyer: buyer, Amount: uint256.NewInt(100),
	})
	require.NoError(t, err)

	rec, err := env.svc.ConfirmEscrow(ctx, res.Event.ID, uint256.NewInt(100))
	require.NoError(t, err)
	assert.True(t, rec.Contribution.EscrowConfirmed)

	_, err = env.svc.AttestContributions(ctx, id)
	assert.Equal(t, http.StatusLocked, statusCode(t, err))

	env.clock.Set(ct.SaleEnd + 1)
	att, err := env.svc.AttestContributions(ctx, id)
	require.NoError(t, err)
	require.Len(t, att.Attestation.Contributions, 2)
	assert.Equal(t, uint64(100), att.Attestation.Contributions[0].Amount.Uint64())

	_, err = env.svc.SubmitVAA(ctx, env.fx.Sign(icco.SaleSealed{SaleID: id, Allocations: []icco.Allocation{
		{Slot: 0, Allocated: uint256.NewInt(500), ExcessContribution: uint256.NewInt(10)},
		{Slot: 2, Allocated: uint256.NewInt(0), ExcessContribution: uint256.NewInt(0)},
	}}.Encode()))
	require.NoError(t, err)

	_, err = env.svc.Claim(ctx, contributor.ClaimKindAllocation, id, 0, buyer)
	assert.ErrorIs(t, err, contributor.ErrAllocationLocked)
	assert.Equal(t, http.StatusLocked, statusCode(t, err))

	env.clock.Set(ct.SaleUnlock)
	claim, err := env.svc.Claim(ctx, contributor.ClaimKindAllocation, id, 0, buyer)
	require.NoError(t, err)
	assert.Equal(t, uint64(500), claim.Amount.Uint64())
	require.NotNil(t, claim.Instruction)

	excess, err := env.svc.Claim(ctx, contributor.ClaimKindExcess, id, 0, buyer)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), excess.Amount.Uint64())

	_, err = env.svc.Claim(ctx, contributor.ClaimKindAllocation, id, 0, buyer)
	assert.ErrorIs(t, err, contributor.ErrAlreadyClaimed)
	assert.Equal(t, http.StatusConflict, statusCode(t, err))

	_, err = env.svc.Claim(ctx, contributor.ClaimKindRefund, id, 0, buyer)
	assert.ErrorIs(t, err, contributor.ErrSaleNotAborted)

	_, err = env.svc.Claim(ctx, contributor.ClaimKind("bonus"), id, 0, buyer)
	assert.Equal(t, http.StatusBadRequest, statusCode(t, err))

	view, err := env.svc.GetBuyerStatus(ctx, id, 0, buyer)
	require.NoError(t, err)
	assert.True(t, view.Contribution.Status.AllocationClaimed)
	assert.True(t, view.Contribution.Status.ExcessRefundClaimed)
	assert.False(t, view.Contribution.Status.RefundClaimed)
	assert.Equal(t, contributor.SaleStatusSealed, view.Sale.Status)

	// escrow pull, attestation, allocation transfer, excess transfer
	kinds := make([]contributor.InstructionKind, 0)
	for _, in := range env.store.Instructions() {
		kinds = append(kinds, in.Kind)
	}
	assert.Equal(t, []contributor.InstructionKind{
		contributor.InstructionEscrowPull,
		contributor.InstructionPublishMessage,
		contributor.InstructionTransfer,
		contributor.InstructionTransfer,
	}, kinds)
}

func TestService_QueryErrors(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	id := ct.SaleID(1)

	_, err := env.svc.GetSale(ctx, id)
	assert.ErrorIs(t, err, contributor.ErrUnknownSale)
	assert.Equal(t, http.StatusNotFound, statusCode(t, err))

	env.initSale(t, id)

	_, err = env.svc.GetSlot(ctx, id, 1)
	assert.ErrorIs(t, err, contributor.ErrInvalidAssetSlot)

	slot, err := env.svc.GetAssetSlot(ctx, id, contributor.Asset{Chain: ct.LocalChain, Address: [32]byte{31: 0x03}})
	require.NoError(t, err)
	assert.Equal(t, uint8(2), slot)

	_, err = env.svc.ConfirmEscrow(ctx, uuid.New(), uint256.NewInt(1))
	assert.ErrorIs(t, err, contributor.ErrUnknownContributionEvent)
	assert.Equal(t, http.StatusNotFound, statusCode(t, err))
}

func TestService_ReplayedVAA(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	signed := env.fx.Sign(ct.SaleInit(ct.SaleID(1), ct.Token(ct.LocalChain, 0x01, 6, 0)).Encode())
	_, err := env.svc.SubmitVAA(ctx, signed)
	require.NoError(t, err)

	_, err = env.svc.SubmitVAA(ctx, signed)
	assert.ErrorIs(t, err, contributor.ErrVAAAlreadyConsumed)
	assert.Equal(t, http.StatusConflict, statusCode(t, err))

	_, err = env.svc.SubmitVAA(ctx, []byte{0x01})
	assert.ErrorIs(t, err, contributor.ErrUnauthorizedOrMalformedVAA)
	assert.Equal(t, http.StatusUnauthorized, statusCode(t, err))
}

func TestToServiceError(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{fmt.Errorf("%w: 3", contributor.ErrInvalidAssetSlot), http.StatusBadRequest},
		{contributor.ErrZeroAmount, http.StatusBadRequest},
		{contributor.ErrContributionExceedsCap, http.StatusBadRequest},
		{contributor.ErrArithmeticOverflow, http.StatusBadRequest},
		{contributor.ErrDuplicateSale, http.StatusConflict},
		{contributor.ErrSaleNotActive, http.StatusConflict},
		{contributor.ErrSaleNotSealed, http.StatusConflict},
		{contributor.ErrContributionAlreadyReconciled, http.StatusConflict},
		{contributor.ErrOutsideContributionWindow, http.StatusLocked},
		{contributor.ErrSaleNotYetEnded, http.StatusLocked},
		{contributor.ErrContributionNotReconciled, http.StatusLocked},
		{errors.New("connection reset"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			err := toServiceError(tt.err)
			assert.Equal(t, tt.code, statusCode(t, err))
			assert.ErrorIs(t, err, tt.err)
		})
	}

	assert.NoError(t, toServiceError(nil))
}

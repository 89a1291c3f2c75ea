package dispatcher_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chainsafe/icco-contributor/pkg/contributor"
	"github.com/chainsafe/icco-contributor/pkg/contributor/store/mem"
	"github.com/chainsafe/icco-contributor/pkg/dispatcher"
	"github.com/chainsafe/icco-contributor/pkg/dispatcher/mocks"
	"github.com/chainsafe/icco-contributor/pkg/vaa"
)

func testConfig() dispatcher.Config {
	return dispatcher.Config{
		PollInterval:    10 * time.Millisecond,
		BatchSize:       10,
		MaxAttempts:     3,
		InitialInterval: time.Millisecond,
	}
}

func escrowPull(t *testing.T, store *mem.Store) *contributor.Instruction {
	t.Helper()
	eventID := uuid.New()
	in := &contributor.Instruction{
		ID:        uuid.New(),
		Kind:      contributor.InstructionEscrowPull,
		SaleID:    contributor.SaleID{31: 1},
		Slot:      2,
		Account:   common.HexToAddress("0x00000000000000000000000000000000000000b1"),
		Asset:     contributor.Asset{Chain: 3, Address: vaa.Address{31: 0x03}},
		Amount:    uint256.NewInt(250),
		EventID:   &eventID,
		Status:    contributor.InstructionStatusPending,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	require.NoError(t, store.InsertInstructions(context.Background(), in))
	return in
}

func stored(t *testing.T, store *mem.Store, id uuid.UUID) *contributor.Instruction {
	t.Helper()
	for _, in := range store.Instructions() {
		if in.ID == id {
			return in
		}
	}
	t.Fatalf("instruction %s not found", id)
	return nil
}

func TestDispatchPending_Delivers(t *testing.T) {
	store := mem.New()
	first := escrowPull(t, store)
	second := escrowPull(t, store)

	exec := mocks.NewExecutor(t)
	var order []uuid.UUID
	exec.EXPECT().Execute(mock.Anything, mock.Anything).
		Run(func(_ context.Context, in *contributor.Instruction) { order = append(order, in.ID) }).
		Return(nil).Twice()

	d := dispatcher.New(store, exec, testConfig(), zap.NewNop())
	n, err := d.DispatchPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []uuid.UUID{first.ID, second.ID}, order)

	got := stored(t, store, first.ID)
	assert.Equal(t, contributor.InstructionStatusDispatched, got.Status)
	assert.Equal(t, 1, got.Attempts)
	assert.Empty(t, got.LastError)

	pending, err := store.ListPendingInstructions(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestDispatchPending_RetriesTransientErrors(t *testing.T) {
	store := mem.New()
	in := escrowPull(t, store)

	exec := mocks.NewExecutor(t)
	exec.EXPECT().Execute(mock.Anything, mock.Anything).Return(errors.New("webhook returned 503")).Once()
	exec.EXPECT().Execute(mock.Anything, mock.Anything).Return(nil).Once()

	n, err := dispatcher.New(store, exec, testConfig(), zap.NewNop()).DispatchPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got := stored(t, store, in.ID)
	assert.Equal(t, contributor.InstructionStatusDispatched, got.Status)
	assert.Equal(t, 2, got.Attempts)
}

func TestDispatchPending_PermanentErrorMarksFailed(t *testing.T) {
	store := mem.New()
	in := escrowPull(t, store)

	exec := mocks.NewExecutor(t)
	exec.EXPECT().Execute(mock.Anything, mock.Anything).
		Return(backoff.Permanent(errors.New("webhook returned 422"))).Once()

	n, err := dispatcher.New(store, exec, testConfig(), zap.NewNop()).DispatchPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	got := stored(t, store, in.ID)
	assert.Equal(t, contributor.InstructionStatusFailed, got.Status)
	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, "webhook returned 422", got.LastError)
}

func TestDispatchPending_GivesUpAfterMaxAttempts(t *testing.T) {
	store := mem.New()
	in := escrowPull(t, store)

	exec := mocks.NewExecutor(t)
	exec.EXPECT().Execute(mock.Anything, mock.Anything).Return(errors.New("connection refused")).Times(3)

	_, err := dispatcher.New(store, exec, testConfig(), zap.NewNop()).DispatchPending(context.Background())
	require.NoError(t, err)

	got := stored(t, store, in.ID)
	assert.Equal(t, contributor.InstructionStatusFailed, got.Status)
	assert.Equal(t, 3, got.Attempts)
	assert.Equal(t, "connection refused", got.LastError)
}

func TestRun_StopsOnCancel(t *testing.T) {
	store := mem.New()
	in := escrowPull(t, store)

	ctx, cancel := context.WithCancel(context.Background())
	exec := mocks.NewExecutor(t)
	exec.EXPECT().Execute(mock.Anything, mock.Anything).
		Run(func(context.Context, *contributor.Instruction) { cancel() }).
		Return(nil).Once()

	done := make(chan error, 1)
	go func() { done <- dispatcher.New(store, exec, testConfig(), zap.NewNop()).Run(ctx) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("dispatcher did not stop")
	}
	assert.Equal(t, contributor.InstructionStatusDispatched, stored(t, store, in.ID).Status)
}

func TestWebhookExecutor(t *testing.T) {
	var (
		gotBody dispatcher.WebhookPayload
		gotKey  string
		status  = http.StatusOK
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("Idempotency-Key")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(status)
	}))
	defer srv.Close()

	store := mem.New()
	in := escrowPull(t, store)
	exec := dispatcher.NewWebhookExecutor(srv.URL, time.Second)

	require.NoError(t, exec.Execute(context.Background(), in))
	assert.Equal(t, in.ID.String(), gotKey)
	assert.Equal(t, "escrow_pull", gotBody.Kind)
	assert.Equal(t, "250", gotBody.Amount)
	assert.Equal(t, in.EventID.String(), gotBody.EventID)
	assert.Equal(t, uint8(2), gotBody.Slot)
	assert.Equal(t, in.Account.Hex(), gotBody.Account)
	assert.False(t, gotBody.Asset.Native)

	status = http.StatusUnprocessableEntity
	err := exec.Execute(context.Background(), in)
	require.Error(t, err)
	var permanent *backoff.PermanentError
	assert.ErrorAs(t, err, &permanent)

	status = http.StatusBadGateway
	err = exec.Execute(context.Background(), in)
	require.Error(t, err)
	assert.False(t, errors.As(err, &permanent))
}

func TestNewWebhookPayload_PublishMessage(t *testing.T) {
	in := &contributor.Instruction{
		ID:      uuid.New(),
		Kind:    contributor.InstructionPublishMessage,
		SaleID:  contributor.SaleID{31: 9},
		Payload: []byte{0x02, 0xab},
	}
	p := dispatcher.NewWebhookPayload(in)
	assert.Equal(t, "0x02ab", p.Payload)
	assert.Empty(t, p.Account)
	assert.Empty(t, p.EventID)
	assert.Equal(t, "0", p.Amount)
	assert.True(t, p.Asset.Native)
}

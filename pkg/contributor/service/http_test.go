package service

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chainsafe/icco-contributor/pkg/auth"
	ct "github.com/chainsafe/icco-contributor/pkg/contributor/contributortest"
	"github.com/chainsafe/icco-contributor/pkg/icco"
)

const escrowSecret = "escrow-test-secret"

type httpEnv struct {
	*testEnv
	handler http.Handler
	buyer   *ecdsa.PrivateKey
}

func newHTTPEnv(t *testing.T) *httpEnv {
	t.Helper()
	env := newTestEnv(t)

	r := chi.NewRouter()
	RegisterRoutes(r, env.svc, auth.RequireEscrowToken(auth.NewJWTValidator(escrowSecret, "", "")), zap.NewNop())

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return &httpEnv{testEnv: env, handler: r, buyer: key}
}

func (e *httpEnv) buyerAddress() common.Address {
	return crypto.PubkeyToAddress(e.buyer.PublicKey)
}

type requestOption func(*http.Request)

// signSeq keeps repeated identical requests in one test distinct, since
// each signed message is accepted only once.
var signSeq atomic.Int64

func signedBy(t *testing.T, key *ecdsa.PrivateKey) requestOption {
	return func(req *http.Request) {
		body, err := io.ReadAll(req.Body)
		require.NoError(t, err)
		req.Body = io.NopCloser(bytes.NewReader(body))

		at := time.Now().Add(-time.Duration(signSeq.Add(1)%60) * time.Second)
		msg := auth.BuyerMessage(req.Method, req.URL.Path, at, body)
		sig, err := crypto.Sign(auth.EIP191Hash(msg).Bytes(), key)
		require.NoError(t, err)
		req.Header.Set(auth.HeaderMessage, msg)
		req.Header.Set(auth.HeaderSignature, "0x"+hex.EncodeToString(sig))
	}
}

func withHeaders(from http.Header) requestOption {
	return func(req *http.Request) {
		req.Header.Set(auth.HeaderMessage, from.Get(auth.HeaderMessage))
		req.Header.Set(auth.HeaderSignature, from.Get(auth.HeaderSignature))
	}
}

func bearer(t *testing.T, secret string) requestOption {
	return func(req *http.Request) {
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"sub": "escrow-host",
			"exp": time.Now().Add(time.Hour).Unix(),
		}).SignedString([]byte(secret))
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

func (e *httpEnv) do(method, path string, body any, opts ...requestOption) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	for _, opt := range opts {
		opt(req)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func (e *httpEnv) submit(t *testing.T, payload []byte) *httptest.ResponseRecorder {
	t.Helper()
	return e.do(http.MethodPost, "/api/v1/vaas", SubmitVAARequest{VAA: hex.EncodeToString(e.fx.Sign(payload))})
}

func salePath(id icco.SaleID, suffix string) string {
	return fmt.Sprintf("/api/v1/sales/%s%s", id, suffix)
}

func TestHTTP_SubmitVAA(t *testing.T) {
	env := newHTTPEnv(t)
	id := ct.SaleID(1)

	rec := env.submit(t, ct.SaleInit(id, ct.Token(ct.LocalChain, 0x01, 6, 0)).Encode())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decodeBody(t, rec)
	assert.Equal(t, "sale_init", got["kind"])
	assert.Equal(t, "active", got["status"])
	assert.Equal(t, id.String(), got["sale_id"])

	rec = env.do(http.MethodPost, "/api/v1/vaas", SubmitVAARequest{VAA: "zz"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(http.MethodPost, "/api/v1/vaas", SubmitVAARequest{
		VAA: hex.EncodeToString(env.fx.SignFrom(ct.LocalChain, ct.ConductorAddress, ct.SaleInit(ct.SaleID(2)).Encode())),
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized or malformed vaa", decodeBody(t, rec)["error"])
}

func TestHTTP_InvalidJSON_ReturnsBadRequest(t *testing.T) {
	env := newHTTPEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/vaas", bytes.NewBufferString("{invalid"))
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	got := decodeBody(t, rec)
	assert.Equal(t, "invalid JSON", got["error"])
	assert.Equal(t, float64(http.StatusBadRequest), got["code"])
}

func TestHTTP_ContributeRequiresSignature(t *testing.T) {
	env := newHTTPEnv(t)
	id := ct.SaleID(1)
	env.initSale(t, id)
	env.clock.Set(ct.SaleStart)

	rec := env.do(http.MethodPost, salePath(id, "/contributions"), map[string]any{"slot": 0, "amount": "10"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "signature and message required", decodeBody(t, rec)["error"])

	rec = env.do(http.MethodPost, salePath(id, "/contributions"), map[string]any{"slot": 0, "amount": "10"},
		func(req *http.Request) {
			req.Header.Set(auth.HeaderMessage, "hello")
			req.Header.Set(auth.HeaderSignature, "0x1234")
		})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHTTP_ContributeSignatureCoversBody(t *testing.T) {
	env := newHTTPEnv(t)
	id := ct.SaleID(1)
	env.initSale(t, id)
	env.clock.Set(ct.SaleStart)

	var signed http.Header
	capture := func(req *http.Request) { signed = req.Header.Clone() }

	rec := env.do(http.MethodPost, salePath(id, "/contributions"), map[string]any{"slot": 0, "amount": "1"},
		signedBy(t, env.buyer), capture)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	rec = env.do(http.MethodPost, salePath(id, "/contributions"), map[string]any{"slot": 0, "amount": "999999"},
		withHeaders(signed))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid message", decodeBody(t, rec)["error"])

	rec = env.do(http.MethodPost, salePath(id, "/contributions"), map[string]any{"slot": 0, "amount": "1"},
		withHeaders(signed))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "message already used", decodeBody(t, rec)["error"])

	view, err := env.svc.GetBuyerStatus(context.Background(), id, 0, env.buyerAddress())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), view.Contribution.Amount.Uint64())
}

func TestHTTP_ContributeValidation(t *testing.T) {
	env := newHTTPEnv(t)
	id := ct.SaleID(1)
	env.initSale(t, id)

	env.clock.Set(ct.SaleStart - 1)
	rec := env.do(http.MethodPost, salePath(id, "/contributions"), map[string]any{"slot": 0, "amount": "10"},
		signedBy(t, env.buyer))
	assert.Equal(t, http.StatusLocked, rec.Code)
	assert.Equal(t, "outside contribution window", decodeBody(t, rec)["error"])

	env.clock.Set(ct.SaleStart)
	rec = env.do(http.MethodPost, salePath(id, "/contributions"), map[string]any{"amount": "10"},
		signedBy(t, env.buyer))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(http.MethodPost, salePath(id, "/contributions"), map[string]any{"slot": 0, "amount": "0"},
		signedBy(t, env.buyer))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "amount must be greater than zero", decodeBody(t, rec)["error"])

	rec = env.do(http.MethodPost, salePath(id, "/contributions"), map[string]any{"slot": 2, "amount": "1001"},
		signedBy(t, env.buyer))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "contribution exceeds cap", decodeBody(t, rec)["error"])

	rec = env.do(http.MethodPost, salePath(ct.SaleID(9), "/contributions"), map[string]any{"slot": 0, "amount": "1"},
		signedBy(t, env.buyer))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHTTP_SaleFlow(t *testing.T) {
	env := newHTTPEnv(t)
	id := ct.SaleID(3)
	env.initSale(t, id)
	buyer := env.buyerAddress()

	env.clock.Set(ct.SaleStart)
	rec := env.do(http.MethodPost, salePath(id, "/contributions"), map[string]any{"slot": 0, "amount": "100"},
		signedBy(t, env.buyer))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	contributed := decodeBody(t, rec)
	assert.Equal(t, "100", contributed["total_contribution"])
	eventID := contributed["event_id"].(string)

	confirm := ConfirmEscrowRequest{EventID: eventID, Amount: "90"}
	rec = env.do(http.MethodPost, "/api/v1/escrow/confirmations", confirm)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(http.MethodPost, "/api/v1/escrow/confirmations", confirm, bearer(t, "wrong-secret"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(http.MethodPost, "/api/v1/escrow/confirmations", confirm, bearer(t, escrowSecret))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	reconciled := decodeBody(t, rec)
	assert.Equal(t, "90", reconciled["credited"])
	assert.Equal(t, "10", reconciled["shortfall"])
	assert.Equal(t, true, reconciled["escrow_confirmed"])

	rec = env.do(http.MethodPost, "/api/v1/escrow/confirmations", confirm, bearer(t, escrowSecret))
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(http.MethodGet, salePath(id, "/slots/0/total-contribution"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	total := decodeBody(t, rec)
	assert.Equal(t, "90", total["amount"])
	assert.Equal(t, "0.00009", total["display"])

	env.clock.Set(ct.SaleEnd + 1)
	rec = env.do(http.MethodPost, salePath(id, "/attest"), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	payload, err := hex.DecodeString(decodeBody(t, rec)["payload"].(string)[2:])
	require.NoError(t, err)
	att, err := icco.DecodeContributionsSealed(payload)
	require.NoError(t, err)
	assert.Equal(t, id, att.SaleID)
	assert.Equal(t, uint64(90), att.Contributions[0].Amount.Uint64())

	rec = env.submit(t, icco.SaleSealed{SaleID: id, Allocations: []icco.Allocation{
		{Slot: 0, Allocated: uint256.NewInt(450), ExcessContribution: uint256.NewInt(0)},
		{Slot: 2, Allocated: uint256.NewInt(0), ExcessContribution: uint256.NewInt(0)},
	}}.Encode())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(http.MethodGet, salePath(id, "/status"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "sealed", decodeBody(t, rec)["status"])

	rec = env.do(http.MethodGet, salePath(id, "/slots/0/total-allocation"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "450", decodeBody(t, rec)["amount"])

	env.clock.Set(ct.SaleUnlock)
	rec = env.do(http.MethodPost, salePath(id, "/slots/0/claims/allocation"), nil, signedBy(t, env.buyer))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	claimed := decodeBody(t, rec)
	assert.Equal(t, "450", claimed["amount"])
	assert.NotEmpty(t, claimed["instruction_id"])

	rec = env.do(http.MethodPost, salePath(id, "/slots/0/claims/allocation"), nil, signedBy(t, env.buyer))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "already claimed", decodeBody(t, rec)["error"])

	rec = env.do(http.MethodPost, salePath(id, "/slots/0/claims/refund"), nil, signedBy(t, env.buyer))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "sale is not aborted", decodeBody(t, rec)["error"])

	rec = env.do(http.MethodGet, salePath(id, "/slots/0/buyers/"+buyer.Hex()), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	status := decodeBody(t, rec)
	assert.Equal(t, "90", status["contribution"])
	assert.Equal(t, true, status["allocation_claimed"])
	assert.Equal(t, false, status["refund_claimed"])
	assert.Equal(t, "450", status["claimed_allocation"])
	assert.Equal(t, "sealed", status["sale_status"])
}

func TestHTTP_Queries(t *testing.T) {
	env := newHTTPEnv(t)
	id := ct.SaleID(4)
	env.initSale(t, id)

	rec := env.do(http.MethodGet, "/api/v1/config", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	cfg := decodeBody(t, rec)
	assert.Equal(t, float64(ct.LocalChain), cfg["chain_id"])
	assert.Equal(t, float64(ct.ConductorChain), cfg["conductor_chain"])

	rec = env.do(http.MethodGet, salePath(id, ""), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	sale := decodeBody(t, rec)
	assert.Equal(t, "active", sale["status"])
	assert.Len(t, sale["assets"], 2)

	rec = env.do(http.MethodGet, salePath(id, "/times"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	times := decodeBody(t, rec)
	assert.Equal(t, float64(ct.SaleStart), times["sale_start"])
	assert.Equal(t, float64(ct.SaleEnd), times["sale_end"])
	assert.Equal(t, float64(ct.SaleUnlock), times["unlock_allocation_time"])

	rec = env.do(http.MethodGet, salePath(id, "/asset-index?chain=3&address=0x03"), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, float64(2), decodeBody(t, rec)["slot"])

	rec = env.do(http.MethodGet, salePath(id, "/asset-index?chain=2&address=0x02"), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(http.MethodGet, salePath(id, "/slots/2"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	slot := decodeBody(t, rec)
	assert.Equal(t, "1000", slot["cap"])
	assert.Equal(t, "0", slot["contributed"])

	rec = env.do(http.MethodGet, salePath(id, "/slots/1"), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(http.MethodGet, salePath(id, "/slots/0/buyers/not-an-address"), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(http.MethodGet, "/api/v1/sales/0x1234/status", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid sale id", decodeBody(t, rec)["error"])

	rec = env.do(http.MethodGet, salePath(ct.SaleID(99), "/status"), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

package service

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chainsafe/icco-contributor/pkg/amount"
	apperrors "github.com/chainsafe/icco-contributor/pkg/app/errors"
	apphttp "github.com/chainsafe/icco-contributor/pkg/app/http"
	"github.com/chainsafe/icco-contributor/pkg/auth"
	"github.com/chainsafe/icco-contributor/pkg/contributor"
	"github.com/chainsafe/icco-contributor/pkg/vaa"
)

const maxBodySize = 1 << 20

// HTTP wraps the Service to provide HTTP endpoints
type HTTP struct {
	service  Service
	validate *validator.Validate
	logger   *zap.Logger
}

// RegisterRoutes registers the contributor API on r. Buyer routes require a
// single-use EIP-191 signature over the request; the escrow confirmation
// route requires a token accepted by escrowAuth.
func RegisterRoutes(r chi.Router, service Service, escrowAuth func(http.Handler) http.Handler, logger *zap.Logger) {
	h := &HTTP{
		service:  service,
		validate: validator.New(),
		logger:   logger,
	}
	buyerAuth := auth.NewBuyerAuth()

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/vaas", apphttp.HandleError(h.submitVAA))
		r.Get("/config", apphttp.HandleError(h.getConfig))

		r.Route("/sales/{saleID}", func(r chi.Router) {
			r.Get("/", apphttp.HandleError(h.getSale))
			r.Get("/status", apphttp.HandleError(h.getSaleStatus))
			r.Get("/times", apphttp.HandleError(h.getSaleTimes))
			r.Get("/asset-index", apphttp.HandleError(h.getAssetIndex))
			r.Post("/attest", apphttp.HandleError(h.attest))

			r.With(buyerAuth.Middleware).Post("/contributions", apphttp.HandleError(h.contribute))

			r.Route("/slots/{slot}", func(r chi.Router) {
				r.Get("/", apphttp.HandleError(h.getSlot))
				r.Get("/total-contribution", apphttp.HandleError(h.getTotalContribution))
				r.Get("/total-allocation", apphttp.HandleError(h.getTotalAllocation))
				r.Get("/buyers/{buyer}", apphttp.HandleError(h.getBuyerStatus))
				r.With(buyerAuth.Middleware).Post("/claims/{kind}", apphttp.HandleError(h.claim))
			})
		})

		r.With(escrowAuth).Post("/escrow/confirmations", apphttp.HandleError(h.confirmEscrow))
	})
}

// SubmitVAARequest carries a signed conductor VAA, hex encoded.
type SubmitVAARequest struct {
	VAA string `json:"vaa" validate:"required,hexadecimal"`
}

// ContributeRequest is the buyer's contribution to a slot.
type ContributeRequest struct {
	Slot   *uint8 `json:"slot" validate:"required"`
	Amount string `json:"amount" validate:"required,numeric"`
}

// ConfirmEscrowRequest is sent by the escrow host once a pull has settled.
type ConfirmEscrowRequest struct {
	EventID string `json:"event_id" validate:"required,uuid"`
	Amount  string `json:"amount" validate:"required,numeric"`
}

type vaaResponse struct {
	Fingerprint string `json:"fingerprint"`
	Kind        string `json:"kind"`
	SaleID      string `json:"sale_id"`
	Status      string `json:"status"`
}

type configResponse struct {
	ChainID             uint16 `json:"chain_id"`
	BridgeEndpoint      string `json:"bridge_endpoint"`
	TokenBridgeEndpoint string `json:"token_bridge_endpoint"`
	ConductorChain      uint16 `json:"conductor_chain"`
	ConductorAddress    string `json:"conductor_address"`
	Owner               string `json:"owner"`
}

type assetResponse struct {
	Chain    uint16 `json:"chain"`
	Address  string `json:"address"`
	Native   bool   `json:"native"`
	Decimals uint8  `json:"decimals,omitempty"`
}

type slotResponse struct {
	Slot        uint8         `json:"slot"`
	Asset       assetResponse `json:"asset"`
	Cap         string        `json:"cap"`
	Contributed string        `json:"contributed"`
	Allocation  string        `json:"allocation"`
	Excess      string        `json:"excess"`
}

type timesResponse struct {
	Start  uint64 `json:"sale_start"`
	End    uint64 `json:"sale_end"`
	Unlock uint64 `json:"unlock_allocation_time"`
}

type saleResponse struct {
	SaleID             string         `json:"sale_id"`
	Token              assetResponse  `json:"token"`
	TokenDecimals      uint8          `json:"token_decimals"`
	LocalTokenDecimals uint8          `json:"local_token_decimals"`
	Recipient          string         `json:"recipient"`
	Times              timesResponse  `json:"times"`
	Status             string         `json:"status"`
	Assets             []slotResponse `json:"assets"`
}

type totalResponse struct {
	SaleID  string `json:"sale_id"`
	Slot    uint8  `json:"slot"`
	Amount  string `json:"amount"`
	Display string `json:"display"`
}

type buyerResponse struct {
	SaleID              string        `json:"sale_id"`
	Slot                uint8         `json:"slot"`
	Buyer               string        `json:"buyer"`
	Asset               assetResponse `json:"asset"`
	SaleStatus          string        `json:"sale_status"`
	Contribution        string        `json:"contribution"`
	EscrowConfirmed     bool          `json:"escrow_confirmed"`
	AllocationClaimed   bool          `json:"allocation_claimed"`
	ExcessRefundClaimed bool          `json:"excess_refund_claimed"`
	RefundClaimed       bool          `json:"refund_claimed"`
	ClaimedAllocation   string        `json:"claimed_allocation"`
	ClaimedExcessRefund string        `json:"claimed_excess_refund"`
	ClaimedRefund       string        `json:"claimed_refund"`
}

type contributeResponse struct {
	EventID       string `json:"event_id"`
	Contribution  string `json:"contribution"`
	TotalInSlot   string `json:"total_contribution"`
	InstructionID string `json:"instruction_id"`
}

type reconcileResponse struct {
	EventID         string `json:"event_id"`
	Credited        string `json:"credited"`
	Shortfall       string `json:"shortfall"`
	Contribution    string `json:"contribution"`
	EscrowConfirmed bool   `json:"escrow_confirmed"`
}

type claimResponse struct {
	Kind          string        `json:"kind"`
	Amount        string        `json:"amount"`
	Asset         assetResponse `json:"asset"`
	InstructionID string        `json:"instruction_id,omitempty"`
}

type attestResponse struct {
	SaleID        string         `json:"sale_id"`
	ChainID       uint16         `json:"chain_id"`
	Contributions []totalSummary `json:"contributions"`
	Payload       string         `json:"payload"`
	InstructionID string         `json:"instruction_id"`
}

type totalSummary struct {
	Slot   uint8  `json:"slot"`
	Amount string `json:"amount"`
}

func (h *HTTP) submitVAA(w http.ResponseWriter, r *http.Request) error {
	var req SubmitVAARequest
	if err := h.decode(r, &req); err != nil {
		return err
	}
	signed, err := hex.DecodeString(strings.TrimPrefix(req.VAA, "0x"))
	if err != nil {
		return apperrors.BadRequestError(err, "invalid vaa hex")
	}

	res, err := h.service.SubmitVAA(r.Context(), signed)
	if err != nil {
		return err
	}
	h.writeJSON(w, http.StatusOK, vaaResponse{
		Fingerprint: res.Fingerprint.Hex(),
		Kind:        res.Kind,
		SaleID:      res.SaleID.String(),
		Status:      string(res.Status),
	})
	return nil
}

func (h *HTTP) getConfig(w http.ResponseWriter, r *http.Request) error {
	cfg, err := h.service.GetConfig(r.Context())
	if err != nil {
		return err
	}
	h.writeJSON(w, http.StatusOK, configResponse{
		ChainID:             uint16(cfg.ChainID),
		BridgeEndpoint:      cfg.BridgeEndpoint,
		TokenBridgeEndpoint: cfg.TokenBridgeEndpoint,
		ConductorChain:      uint16(cfg.ConductorChain),
		ConductorAddress:    "0x" + cfg.ConductorAddress.String(),
		Owner:               cfg.Owner.Hex(),
	})
	return nil
}

func (h *HTTP) getSale(w http.ResponseWriter, r *http.Request) error {
	id, err := saleIDParam(r)
	if err != nil {
		return err
	}
	sale, err := h.service.GetSale(r.Context(), id)
	if err != nil {
		return err
	}

	resp := saleResponse{
		SaleID:             sale.ID.String(),
		Token:              toAssetResponse(sale.Token, sale.LocalTokenDecimals),
		TokenDecimals:      sale.TokenDecimals,
		LocalTokenDecimals: sale.LocalTokenDecimals,
		Recipient:          "0x" + sale.Recipient.String(),
		Times:              toTimesResponse(sale.Times),
		Status:             string(sale.Status),
		Assets:             make([]slotResponse, 0, len(sale.Assets)),
	}
	for _, a := range sale.Assets {
		view, err := h.service.GetSlot(r.Context(), id, a.Slot)
		if err != nil {
			return err
		}
		resp.Assets = append(resp.Assets, toSlotResponse(view))
	}
	h.writeJSON(w, http.StatusOK, resp)
	return nil
}

func (h *HTTP) getSaleStatus(w http.ResponseWriter, r *http.Request) error {
	id, err := saleIDParam(r)
	if err != nil {
		return err
	}
	sale, err := h.service.GetSale(r.Context(), id)
	if err != nil {
		return err
	}
	h.writeJSON(w, http.StatusOK, map[string]string{
		"sale_id": sale.ID.String(),
		"status":  string(sale.Status),
	})
	return nil
}

func (h *HTTP) getSaleTimes(w http.ResponseWriter, r *http.Request) error {
	id, err := saleIDParam(r)
	if err != nil {
		return err
	}
	sale, err := h.service.GetSale(r.Context(), id)
	if err != nil {
		return err
	}
	h.writeJSON(w, http.StatusOK, toTimesResponse(sale.Times))
	return nil
}

func (h *HTTP) getAssetIndex(w http.ResponseWriter, r *http.Request) error {
	id, err := saleIDParam(r)
	if err != nil {
		return err
	}
	chain, err := strconv.ParseUint(r.URL.Query().Get("chain"), 10, 16)
	if err != nil {
		return apperrors.BadRequestError(err, "invalid chain")
	}
	addr, err := vaa.ParseAddress(r.URL.Query().Get("address"))
	if err != nil {
		return apperrors.BadRequestError(err, "invalid address")
	}

	slot, err := h.service.GetAssetSlot(r.Context(), id, contributor.Asset{Chain: vaa.ChainID(chain), Address: addr})
	if err != nil {
		return err
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"sale_id": id.String(),
		"slot":    slot,
	})
	return nil
}

func (h *HTTP) getSlot(w http.ResponseWriter, r *http.Request) error {
	view, err := h.slotView(r)
	if err != nil {
		return err
	}
	h.writeJSON(w, http.StatusOK, toSlotResponse(view))
	return nil
}

func (h *HTTP) getTotalContribution(w http.ResponseWriter, r *http.Request) error {
	view, err := h.slotView(r)
	if err != nil {
		return err
	}
	h.writeJSON(w, http.StatusOK, totalResponse{
		SaleID:  view.Sale.ID.String(),
		Slot:    view.Asset.Slot,
		Amount:  view.Totals.Contributed.Dec(),
		Display: amount.Format(view.Totals.Contributed, view.Asset.Decimals),
	})
	return nil
}

func (h *HTTP) getTotalAllocation(w http.ResponseWriter, r *http.Request) error {
	view, err := h.slotView(r)
	if err != nil {
		return err
	}
	h.writeJSON(w, http.StatusOK, totalResponse{
		SaleID:  view.Sale.ID.String(),
		Slot:    view.Asset.Slot,
		Amount:  view.Totals.Allocation.Dec(),
		Display: amount.Format(view.Totals.Allocation, view.Sale.LocalTokenDecimals),
	})
	return nil
}

func (h *HTTP) getBuyerStatus(w http.ResponseWriter, r *http.Request) error {
	id, err := saleIDParam(r)
	if err != nil {
		return err
	}
	slot, err := slotParam(r)
	if err != nil {
		return err
	}
	buyer := chi.URLParam(r, "buyer")
	if !auth.ValidateEVMAddress(buyer) {
		return apperrors.BadRequestError(nil, "invalid buyer address")
	}

	view, err := h.service.GetBuyerStatus(r.Context(), id, slot, common.HexToAddress(buyer))
	if err != nil {
		return err
	}
	c := view.Contribution
	h.writeJSON(w, http.StatusOK, buyerResponse{
		SaleID:              id.String(),
		Slot:                slot,
		Buyer:               c.Buyer.Hex(),
		Asset:               toAssetResponse(view.Asset.Asset, view.Asset.Decimals),
		SaleStatus:          string(view.Sale.Status),
		Contribution:        c.Amount.Dec(),
		EscrowConfirmed:     c.EscrowConfirmed,
		AllocationClaimed:   c.Status.AllocationClaimed,
		ExcessRefundClaimed: c.Status.ExcessRefundClaimed,
		RefundClaimed:       c.Status.RefundClaimed,
		ClaimedAllocation:   c.Status.ClaimedAllocation.Dec(),
		ClaimedExcessRefund: c.Status.ClaimedExcessRefund.Dec(),
		ClaimedRefund:       c.Status.ClaimedRefund.Dec(),
	})
	return nil
}

func (h *HTTP) contribute(w http.ResponseWriter, r *http.Request) error {
	buyer, ok := auth.BuyerFromContext(r.Context())
	if !ok {
		return apperrors.UnAuthorizedError(nil, "buyer not authenticated")
	}
	id, err := saleIDParam(r)
	if err != nil {
		return err
	}
	var req ContributeRequest
	if err := h.decode(r, &req); err != nil {
		return err
	}
	value, err := amount.Parse(req.Amount)
	if err != nil {
		return apperrors.BadRequestError(err, "invalid amount")
	}

	res, err := h.service.Contribute(r.Context(), contributor.ContributeRequest{
		SaleID: id,
		Slot:   *req.Slot,
		Buyer:  buyer,
		Amount: value,
	})
	if err != nil {
		return err
	}
	h.writeJSON(w, http.StatusAccepted, contributeResponse{
		EventID:       res.Event.ID.String(),
		Contribution:  res.Contribution.Amount.Dec(),
		TotalInSlot:   res.Totals.Contributed.Dec(),
		InstructionID: res.Instruction.ID.String(),
	})
	return nil
}

func (h *HTTP) confirmEscrow(w http.ResponseWriter, r *http.Request) error {
	var req ConfirmEscrowRequest
	if err := h.decode(r, &req); err != nil {
		return err
	}
	eventID, err := uuid.Parse(req.EventID)
	if err != nil {
		return apperrors.BadRequestError(err, "invalid event_id")
	}
	actual, err := amount.Parse(req.Amount)
	if err != nil {
		return apperrors.BadRequestError(err, "invalid amount")
	}

	res, err := h.service.ConfirmEscrow(r.Context(), eventID, actual)
	if err != nil {
		return err
	}
	h.writeJSON(w, http.StatusOK, reconcileResponse{
		EventID:         res.Event.ID.String(),
		Credited:        res.Event.Actual.Dec(),
		Shortfall:       res.Shortfall.Dec(),
		Contribution:    res.Contribution.Amount.Dec(),
		EscrowConfirmed: res.Contribution.EscrowConfirmed,
	})
	return nil
}

func (h *HTTP) claim(w http.ResponseWriter, r *http.Request) error {
	buyer, ok := auth.BuyerFromContext(r.Context())
	if !ok {
		return apperrors.UnAuthorizedError(nil, "buyer not authenticated")
	}
	id, err := saleIDParam(r)
	if err != nil {
		return err
	}
	slot, err := slotParam(r)
	if err != nil {
		return err
	}

	kind := contributor.ClaimKind(chi.URLParam(r, "kind"))
	res, err := h.service.Claim(r.Context(), kind, id, slot, buyer)
	if err != nil {
		return err
	}

	resp := claimResponse{
		Kind:   string(res.Kind),
		Amount: res.Amount.Dec(),
		Asset:  toAssetResponse(res.Asset, 0),
	}
	if res.Instruction != nil {
		resp.InstructionID = res.Instruction.ID.String()
	}
	h.writeJSON(w, http.StatusOK, resp)
	return nil
}

func (h *HTTP) attest(w http.ResponseWriter, r *http.Request) error {
	id, err := saleIDParam(r)
	if err != nil {
		return err
	}
	res, err := h.service.AttestContributions(r.Context(), id)
	if err != nil {
		return err
	}

	resp := attestResponse{
		SaleID:        res.Attestation.SaleID.String(),
		ChainID:       uint16(res.Attestation.ChainID),
		Contributions: make([]totalSummary, 0, len(res.Attestation.Contributions)),
		Payload:       "0x" + hex.EncodeToString(res.Instruction.Payload),
		InstructionID: res.Instruction.ID.String(),
	}
	for _, c := range res.Attestation.Contributions {
		resp.Contributions = append(resp.Contributions, totalSummary{Slot: c.Slot, Amount: c.Amount.Dec()})
	}
	h.writeJSON(w, http.StatusOK, resp)
	return nil
}

func (h *HTTP) slotView(r *http.Request) (*contributor.SlotView, error) {
	id, err := saleIDParam(r)
	if err != nil {
		return nil, err
	}
	slot, err := slotParam(r)
	if err != nil {
		return nil, err
	}
	return h.service.GetSlot(r.Context(), id, slot)
}

func (h *HTTP) decode(r *http.Request, dst any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return apperrors.BadRequestError(err, "failed to read request")
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return apperrors.BadRequestError(err, "invalid JSON")
	}
	if err := h.validate.Struct(dst); err != nil {
		return apperrors.BadRequestError(err, fmt.Sprintf("invalid request: %v", err))
	}
	return nil
}

func (h *HTTP) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Warn("failed to write response", zap.Error(err))
	}
}

func saleIDParam(r *http.Request) (contributor.SaleID, error) {
	var id contributor.SaleID
	raw, err := hex.DecodeString(strings.TrimPrefix(chi.URLParam(r, "saleID"), "0x"))
	if err != nil || len(raw) != len(id) {
		return id, apperrors.BadRequestError(err, "invalid sale id")
	}
	copy(id[:], raw)
	return id, nil
}

func slotParam(r *http.Request) (uint8, error) {
	slot, err := strconv.ParseUint(chi.URLParam(r, "slot"), 10, 8)
	if err != nil {
		return 0, apperrors.BadRequestError(err, "invalid slot")
	}
	return uint8(slot), nil
}

func toAssetResponse(a contributor.Asset, decimals uint8) assetResponse {
	return assetResponse{
		Chain:    uint16(a.Chain),
		Address:  "0x" + a.Address.String(),
		Native:   a.IsNative(),
		Decimals: decimals,
	}
}

func toTimesResponse(t contributor.SaleTimes) timesResponse {
	return timesResponse{Start: t.Start, End: t.End, Unlock: t.Unlock}
}

func toSlotResponse(view *contributor.SlotView) slotResponse {
	return slotResponse{
		Slot:        view.Asset.Slot,
		Asset:       toAssetResponse(view.Asset.Asset, view.Asset.Decimals),
		Cap:         view.Asset.Cap.Dec(),
		Contributed: view.Totals.Contributed.Dec(),
		Allocation:  view.Totals.Allocation.Dec(),
		Excess:      view.Totals.Excess.Dec(),
	}
}

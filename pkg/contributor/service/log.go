package service

import (
	"context"
	"encoding/hex"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/chainsafe/icco-contributor/pkg/contributor"
)

const serviceName = "ContributorService"

const vaaDisplaySize = 16

// logService wraps Service with automatic logging of all state-changing calls
type logService struct {
	svc    Service
	logger *zap.Logger
}

// NewLog creates a logging decorator for the contributor Service.
// It logs method entry/exit, duration and errors. Queries are passed through.
func NewLog(svc Service, logger *zap.Logger) Service {
	return &logService{
		svc:    svc,
		logger: logger,
	}
}

func (ls *logService) started(method string, fields ...zap.Field) time.Time {
	ls.logger.Info(method+" started", append(ls.base(method), fields...)...)
	return time.Now()
}

func (ls *logService) finished(method string, start time.Time, err error, fields ...zap.Field) {
	duration := time.Since(start)
	if err != nil {
		ls.logger.Error(method+" failed",
			append(ls.base(method), zap.Duration("duration", duration), zap.Error(err))...,
		)
		return
	}
	ls.logger.Info(method+" completed",
		append(append(ls.base(method), fields...), zap.Duration("duration", duration))...,
	)
}

func (ls *logService) base(method string) []zap.Field {
	return []zap.Field{
		zap.String("service", serviceName),
		zap.String("method", method),
	}
}

func (ls *logService) Instantiate(ctx context.Context, cfg *contributor.Config) (err error) {
	start := ls.started("Instantiate",
		zap.Uint16("chain_id", uint16(cfg.ChainID)),
		zap.Uint16("conductor_chain", uint16(cfg.ConductorChain)),
		zap.String("conductor_address", cfg.ConductorAddress.String()),
	)
	defer func() { ls.finished("Instantiate", start, err) }()

	return ls.svc.Instantiate(ctx, cfg)
}

func (ls *logService) SubmitVAA(ctx context.Context, signed []byte) (res *contributor.VAAResult, err error) {
	start := ls.started("SubmitVAA",
		zap.Int("size", len(signed)),
		zap.String("vaa_prefix", redactVAA(signed)),
	)
	defer func() {
		if err != nil {
			ls.finished("SubmitVAA", start, err)
			return
		}
		ls.finished("SubmitVAA", start, nil,
			zap.String("kind", res.Kind),
			zap.String("sale_id", res.SaleID.String()),
			zap.String("status", string(res.Status)),
			zap.String("fingerprint", res.Fingerprint.Hex()),
		)
	}()

	return ls.svc.SubmitVAA(ctx, signed)
}

func (ls *logService) Contribute(
	ctx context.Context,
	req contributor.ContributeRequest,
) (res *contributor.ContributeResult, err error) {
	start := ls.started("Contribute",
		zap.String("sale_id", req.SaleID.String()),
		zap.Uint8("slot", req.Slot),
		zap.String("buyer", req.Buyer.Hex()),
		zap.Stringer("amount", req.Amount),
	)
	defer func() {
		if err != nil {
			ls.finished("Contribute", start, err)
			return
		}
		ls.finished("Contribute", start, nil,
			zap.String("event_id", res.Event.ID.String()),
			zap.Stringer("slot_total", res.Totals.Contributed),
		)
	}()

	return ls.svc.Contribute(ctx, req)
}

func (ls *logService) ConfirmEscrow(
	ctx context.Context,
	eventID uuid.UUID,
	actual *uint256.Int,
) (res *contributor.ReconcileResult, err error) {
	start := ls.started("ConfirmEscrow",
		zap.String("event_id", eventID.String()),
		zap.Stringer("actual", actual),
	)
	defer func() {
		if err != nil {
			ls.finished("ConfirmEscrow", start, err)
			return
		}
		ls.finished("ConfirmEscrow", start, nil,
			zap.Stringer("shortfall", res.Shortfall),
			zap.Bool("escrow_confirmed", res.Contribution.EscrowConfirmed),
		)
	}()

	return ls.svc.ConfirmEscrow(ctx, eventID, actual)
}

func (ls *logService) Claim(
	ctx context.Context,
	kind contributor.ClaimKind,
	id contributor.SaleID,
	slot uint8,
	buyer common.Address,
) (res *contributor.ClaimResult, err error) {
	start := ls.started("Claim",
		zap.String("kind", string(kind)),
		zap.String("sale_id", id.String()),
		zap.Uint8("slot", slot),
		zap.String("buyer", buyer.Hex()),
	)
	defer func() {
		if err != nil {
			ls.finished("Claim", start, err)
			return
		}
		ls.finished("Claim", start, nil,
			zap.Stringer("amount", res.Amount),
			zap.Bool("transfer_queued", res.Instruction != nil),
		)
	}()

	return ls.svc.Claim(ctx, kind, id, slot, buyer)
}

func (ls *logService) AttestContributions(
	ctx context.Context,
	id contributor.SaleID,
) (res *contributor.AttestResult, err error) {
	start := ls.started("AttestContributions", zap.String("sale_id", id.String()))
	defer func() {
		if err != nil {
			ls.finished("AttestContributions", start, err)
			return
		}
		ls.finished("AttestContributions", start, nil,
			zap.Int("slots", len(res.Attestation.Contributions)),
			zap.String("instruction_id", res.Instruction.ID.String()),
		)
	}()

	return ls.svc.AttestContributions(ctx, id)
}

func (ls *logService) GetConfig(ctx context.Context) (*contributor.Config, error) {
	return ls.svc.GetConfig(ctx)
}

func (ls *logService) GetSale(ctx context.Context, id contributor.SaleID) (*contributor.Sale, error) {
	return ls.svc.GetSale(ctx, id)
}

func (ls *logService) GetSlot(ctx context.Context, id contributor.SaleID, slot uint8) (*contributor.SlotView, error) {
	return ls.svc.GetSlot(ctx, id, slot)
}

func (ls *logService) GetAssetSlot(ctx context.Context, id contributor.SaleID, asset contributor.Asset) (uint8, error) {
	return ls.svc.GetAssetSlot(ctx, id, asset)
}

func (ls *logService) GetBuyerStatus(
	ctx context.Context,
	id contributor.SaleID,
	slot uint8,
	buyer common.Address,
) (*contributor.BuyerView, error) {
	return ls.svc.GetBuyerStatus(ctx, id, slot, buyer)
}

// redactVAA shows only the leading bytes of a signed VAA
func redactVAA(signed []byte) string {
	if len(signed) <= vaaDisplaySize {
		return hex.EncodeToString(signed)
	}
	return hex.EncodeToString(signed[:vaaDisplaySize]) + "..."
}

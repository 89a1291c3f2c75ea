package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/chainsafe/icco-contributor/internal/metrics"
	apperrors "github.com/chainsafe/icco-contributor/pkg/app/errors"
	"github.com/chainsafe/icco-contributor/pkg/contributor"
	"github.com/chainsafe/icco-contributor/pkg/vaa"
)

// Service defines the contributor operations exposed to buyers, the conductor
// relay and the escrow host.
type Service interface {
	Instantiate(ctx context.Context, cfg *contributor.Config) error
	SubmitVAA(ctx context.Context, signed []byte) (*contributor.VAAResult, error)
	Contribute(ctx context.Context, req contributor.ContributeRequest) (*contributor.ContributeResult, error)
	ConfirmEscrow(ctx context.Context, eventID uuid.UUID, actual *uint256.Int) (*contributor.ReconcileResult, error)
	Claim(
		ctx context.Context,
		kind contributor.ClaimKind,
		id contributor.SaleID,
		slot uint8,
		buyer common.Address,
	) (*contributor.ClaimResult, error)
	AttestContributions(ctx context.Context, id contributor.SaleID) (*contributor.AttestResult, error)

	GetConfig(ctx context.Context) (*contributor.Config, error)
	GetSale(ctx context.Context, id contributor.SaleID) (*contributor.Sale, error)
	GetSlot(ctx context.Context, id contributor.SaleID, slot uint8) (*contributor.SlotView, error)
	GetAssetSlot(ctx context.Context, id contributor.SaleID, asset contributor.Asset) (uint8, error)
	GetBuyerStatus(
		ctx context.Context,
		id contributor.SaleID,
		slot uint8,
		buyer common.Address,
	) (*contributor.BuyerView, error)
}

// Option configures the contributor service.
type Option func(*contributorService)

// WithClock overrides the time source used for sale window checks.
func WithClock(now func() time.Time) Option {
	return func(s *contributorService) { s.now = now }
}

type contributorService struct {
	store  contributor.Store
	gate   *contributor.Gate
	logger *zap.Logger
	now    func() time.Time

	// mu serializes state-changing calls.
	mu sync.Mutex
}

// NewService creates a contributor service over store. VAAs are verified
// against verifier.
func NewService(store contributor.Store, verifier vaa.Verifier, logger *zap.Logger, opts ...Option) Service {
	s := &contributorService{
		store:  store,
		gate:   contributor.NewGate(verifier),
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Instantiate stores the deployment config once.
func (s *contributorService) Instantiate(ctx context.Context, cfg *contributor.Config) error {
	return s.write(ctx, "Instantiate", func(ctx context.Context, tx contributor.Tx, _ contributor.Env) error {
		return contributor.Instantiate(ctx, tx, cfg)
	}, false)
}

// SubmitVAA applies a conductor message.
func (s *contributorService) SubmitVAA(ctx context.Context, signed []byte) (*contributor.VAAResult, error) {
	var res *contributor.VAAResult
	err := s.write(ctx, "SubmitVAA", func(ctx context.Context, tx contributor.Tx, env contributor.Env) error {
		var err error
		res, err = s.gate.Apply(ctx, tx, env, signed)
		return err
	}, true)

	if err != nil {
		metrics.VAAsProcessed.WithLabelValues("unknown", metrics.Outcome(err)).Inc()
		return nil, err
	}
	metrics.VAAsProcessed.WithLabelValues(res.Kind, metrics.Outcome(nil)).Inc()
	metrics.SalesByStatus.WithLabelValues(string(res.Status)).Inc()
	return res, nil
}

// Contribute records a provisional contribution and queues the escrow pull.
func (s *contributorService) Contribute(
	ctx context.Context,
	req contributor.ContributeRequest,
) (*contributor.ContributeResult, error) {
	var res *contributor.ContributeResult
	err := s.write(ctx, "Contribute", func(ctx context.Context, tx contributor.Tx, env contributor.Env) error {
		var err error
		res, err = contributor.Contribute(ctx, tx, env, req)
		return err
	}, true)

	metrics.Contributions.WithLabelValues(metrics.Outcome(err)).Inc()
	if err != nil {
		return nil, err
	}
	return res, nil
}

// ConfirmEscrow settles a contribution event with the amount the escrow host received.
func (s *contributorService) ConfirmEscrow(
	ctx context.Context,
	eventID uuid.UUID,
	actual *uint256.Int,
) (*contributor.ReconcileResult, error) {
	var res *contributor.ReconcileResult
	err := s.write(ctx, "ConfirmEscrow", func(ctx context.Context, tx contributor.Tx, env contributor.Env) error {
		var err error
		res, err = contributor.ReconcileEscrow(ctx, tx, env, eventID, actual)
		return err
	}, true)

	shortfall := "false"
	if err == nil && !res.Shortfall.IsZero() {
		shortfall = "true"
	}
	metrics.EscrowReconciliations.WithLabelValues(metrics.Outcome(err), shortfall).Inc()
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Claim settles one of the buyer claims for a slot.
func (s *contributorService) Claim(
	ctx context.Context,
	kind contributor.ClaimKind,
	id contributor.SaleID,
	slot uint8,
	buyer common.Address,
) (*contributor.ClaimResult, error) {
	var claim func(context.Context, contributor.Tx, contributor.Env, contributor.SaleID, uint8, common.Address) (*contributor.ClaimResult, error)
	switch kind {
	case contributor.ClaimKindAllocation:
		claim = contributor.ClaimAllocation
	case contributor.ClaimKindExcess:
		claim = contributor.ClaimExcessRefund
	case contributor.ClaimKindRefund:
		claim = contributor.ClaimRefund
	default:
		return nil, apperrors.BadRequestError(nil, "unknown claim kind")
	}

	var res *contributor.ClaimResult
	err := s.write(ctx, "Claim", func(ctx context.Context, tx contributor.Tx, env contributor.Env) error {
		var err error
		res, err = claim(ctx, tx, env, id, slot, buyer)
		return err
	}, true)

	metrics.Claims.WithLabelValues(string(kind), metrics.Outcome(err)).Inc()
	if err != nil {
		return nil, err
	}
	return res, nil
}

// AttestContributions queues the per-slot totals for the conductor.
func (s *contributorService) AttestContributions(
	ctx context.Context,
	id contributor.SaleID,
) (*contributor.AttestResult, error) {
	var res *contributor.AttestResult
	err := s.write(ctx, "AttestContributions", func(ctx context.Context, tx contributor.Tx, env contributor.Env) error {
		var err error
		res, err = contributor.AttestContributions(ctx, tx, env, id)
		return err
	}, true)

	metrics.Attestations.WithLabelValues(metrics.Outcome(err)).Inc()
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (s *contributorService) GetConfig(ctx context.Context) (*contributor.Config, error) {
	var cfg *contributor.Config
	err := s.read(ctx, func(ctx context.Context, tx contributor.Tx) error {
		var err error
		cfg, err = contributor.LoadConfig(ctx, tx)
		return err
	})
	return cfg, err
}

func (s *contributorService) GetSale(ctx context.Context, id contributor.SaleID) (*contributor.Sale, error) {
	var sale *contributor.Sale
	err := s.read(ctx, func(ctx context.Context, tx contributor.Tx) error {
		var err error
		sale, err = contributor.GetSale(ctx, tx, id)
		return err
	})
	return sale, err
}

func (s *contributorService) GetSlot(ctx context.Context, id contributor.SaleID, slot uint8) (*contributor.SlotView, error) {
	var view *contributor.SlotView
	err := s.read(ctx, func(ctx context.Context, tx contributor.Tx) error {
		var err error
		view, err = contributor.GetSlot(ctx, tx, id, slot)
		return err
	})
	return view, err
}

func (s *contributorService) GetAssetSlot(ctx context.Context, id contributor.SaleID, asset contributor.Asset) (uint8, error) {
	var slot uint8
	err := s.read(ctx, func(ctx context.Context, tx contributor.Tx) error {
		var err error
		slot, err = contributor.GetAssetSlot(ctx, tx, id, asset)
		return err
	})
	return slot, err
}

func (s *contributorService) GetBuyerStatus(
	ctx context.Context,
	id contributor.SaleID,
	slot uint8,
	buyer common.Address,
) (*contributor.BuyerView, error) {
	var view *contributor.BuyerView
	err := s.read(ctx, func(ctx context.Context, tx contributor.Tx) error {
		var err error
		view, err = contributor.GetBuyerStatus(ctx, tx, id, slot, buyer)
		return err
	})
	return view, err
}

type writeFunc func(ctx context.Context, tx contributor.Tx, env contributor.Env) error

// write runs fn as one serialized, atomic call. When needConfig is set the
// stored config is loaded into the call environment first.
func (s *contributorService) write(ctx context.Context, method string, fn writeFunc, needConfig bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	defer func() {
		metrics.CallDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	}()

	err := s.store.RunInTx(ctx, func(ctx context.Context, tx contributor.Tx) error {
		env := contributor.Env{Now: s.now().UTC()}
		if needConfig {
			cfg, err := contributor.LoadConfig(ctx, tx)
			if err != nil {
				return err
			}
			env.Config = cfg
		}
		return fn(ctx, tx, env)
	})
	err = toServiceError(err)
	if err != nil && apperrors.IsInternalError(err) {
		s.logger.Error("call failed with internal error", zap.String("method", method), zap.Error(err))
	}
	return err
}

func (s *contributorService) read(ctx context.Context, fn func(ctx context.Context, tx contributor.Tx) error) error {
	return toServiceError(s.store.RunInTx(ctx, fn))
}

// toServiceError maps domain errors to service error categories. The user
// facing message is the domain sentinel; the full chain is kept for logging.
func toServiceError(err error) error {
	if err == nil {
		return nil
	}
	var svcErr *apperrors.ServiceError
	if errors.As(err, &svcErr) {
		return err
	}

	for _, m := range errorMappings {
		if errors.Is(err, m.sentinel) {
			return m.wrap(err, m.sentinel.Error())
		}
	}
	return apperrors.GeneralError(err)
}

var errorMappings = []struct {
	sentinel error
	wrap     func(error, string) error
}{
	{contributor.ErrUnauthorizedOrMalformedVAA, apperrors.UnAuthorizedError},
	{contributor.ErrVAAAlreadyConsumed, apperrors.ConflictError},
	{contributor.ErrUnsupportedConductor, apperrors.BadRequestError},
	{contributor.ErrDuplicateSale, apperrors.ConflictError},
	{contributor.ErrUnknownSale, apperrors.ResourceNotFoundError},
	{contributor.ErrSaleNotActive, apperrors.ConflictError},
	{contributor.ErrSaleNotSealed, apperrors.ConflictError},
	{contributor.ErrSaleNotAborted, apperrors.ConflictError},
	{contributor.ErrSaleNotYetEnded, apperrors.LockedError},
	{contributor.ErrOutsideContributionWindow, apperrors.LockedError},
	{contributor.ErrInvalidAssetSlot, apperrors.BadRequestError},
	{contributor.ErrZeroAmount, apperrors.BadRequestError},
	{contributor.ErrContributionExceedsCap, apperrors.BadRequestError},
	{contributor.ErrContributionAlreadyReconciled, apperrors.ConflictError},
	{contributor.ErrAlreadyClaimed, apperrors.ConflictError},
	{contributor.ErrArithmeticOverflow, apperrors.BadRequestError},
	{contributor.ErrConfigNotInitialized, apperrors.ResourceNotFoundError},
	{contributor.ErrConfigAlreadyInitialized, apperrors.ConflictError},
	{contributor.ErrUnknownContributionEvent, apperrors.ResourceNotFoundError},
	{contributor.ErrAllocationLocked, apperrors.LockedError},
	{contributor.ErrContributionNotReconciled, apperrors.LockedError},
}

package contributor

import (
	"errors"

	"github.com/chainsafe/icco-contributor/pkg/amount"
)

var (
	ErrUnauthorizedOrMalformedVAA    = errors.New("unauthorized or malformed vaa")
	ErrVAAAlreadyConsumed            = errors.New("vaa already consumed")
	ErrUnsupportedConductor          = errors.New("unsupported conductor")
	ErrDuplicateSale                 = errors.New("sale already exists")
	ErrUnknownSale                   = errors.New("unknown sale")
	ErrSaleNotActive                 = errors.New("sale is not active")
	ErrSaleNotSealed                 = errors.New("sale is not sealed")
	ErrSaleNotAborted                = errors.New("sale is not aborted")
	ErrSaleNotYetEnded               = errors.New("sale has not ended")
	ErrOutsideContributionWindow     = errors.New("outside contribution window")
	ErrInvalidAssetSlot              = errors.New("invalid asset slot")
	ErrZeroAmount                    = errors.New("amount must be greater than zero")
	ErrContributionExceedsCap        = errors.New("contribution exceeds cap")
	ErrContributionAlreadyReconciled = errors.New("contribution already reconciled")
	ErrAlreadyClaimed                = errors.New("already claimed")
	ErrArithmeticOverflow            = amount.ErrOverflow

	ErrConfigNotInitialized     = errors.New("config not initialized")
	ErrConfigAlreadyInitialized = errors.New("config already initialized")
	ErrUnknownContributionEvent = errors.New("unknown contribution event")
	ErrAllocationLocked         = errors.New("allocation is locked")
	// ErrContributionNotReconciled blocks a refund until escrow has confirmed every pull.
	ErrContributionNotReconciled = errors.New("contribution not reconciled")

	// ErrNotFound is returned by stores when a keyed record does not exist.
	ErrNotFound = errors.New("not found")
)

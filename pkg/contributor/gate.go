package contributor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/chainsafe/icco-contributor/pkg/icco"
	"github.com/chainsafe/icco-contributor/pkg/vaa"
)

// Env is the execution context of a single call. Config is loaded from
// storage at the start of every call; Now is the host's current time.
type Env struct {
	Config *Config
	Now    time.Time
}

func (e Env) unix() uint64 {
	if e.Now.Unix() < 0 {
		return 0
	}
	return uint64(e.Now.Unix())
}

// VAAResult describes an applied conductor message.
type VAAResult struct {
	Fingerprint common.Hash
	Kind        string
	SaleID      SaleID
	Status      SaleStatus
}

// Gate authenticates conductor VAAs, enforces single consumption and
// dispatches the decoded action to the sale registry.
type Gate struct {
	verifier vaa.Verifier
}

// NewGate creates a Gate that checks signatures with verifier.
func NewGate(verifier vaa.Verifier) *Gate {
	return &Gate{verifier: verifier}
}

// Admit verifies and decodes a signed VAA and records its fingerprint.
// Nothing is written when an error is returned.
func (g *Gate) Admit(ctx context.Context, tx Tx, env Env, signed []byte) (icco.Action, common.Hash, error) {
	v, err := vaa.Unmarshal(signed)
	if err != nil {
		return nil, common.Hash{}, fmt.Errorf("%w: %v", ErrUnauthorizedOrMalformedVAA, err)
	}
	if err := g.verifier.Verify(v); err != nil {
		return nil, common.Hash{}, fmt.Errorf("%w: %v", ErrUnauthorizedOrMalformedVAA, err)
	}
	if v.EmitterChain != env.Config.ConductorChain {
		return nil, common.Hash{}, fmt.Errorf("%w: emitter chain %d is not the conductor chain", ErrUnauthorizedOrMalformedVAA, v.EmitterChain)
	}
	if v.EmitterAddress != env.Config.ConductorAddress {
		return nil, common.Hash{}, fmt.Errorf("%w: emitter %s is not the conductor", ErrUnauthorizedOrMalformedVAA, v.EmitterAddress)
	}

	fingerprint := v.Hash()
	consumed, err := tx.IsVAAConsumed(ctx, fingerprint)
	if err != nil {
		return nil, common.Hash{}, fmt.Errorf("failed to check vaa fingerprint: %w", err)
	}
	if consumed {
		return nil, common.Hash{}, fmt.Errorf("%w: %s", ErrVAAAlreadyConsumed, fingerprint.Hex())
	}

	action, err := icco.DecodeAction(v.Payload)
	if err != nil {
		return nil, common.Hash{}, fmt.Errorf("%w: %v", ErrUnauthorizedOrMalformedVAA, err)
	}

	if err := tx.InsertConsumedVAA(ctx, &ConsumedVAA{
		Fingerprint:  fingerprint,
		Kind:         action.Kind(),
		SaleID:       action.Sale(),
		EmitterChain: v.EmitterChain,
		Sequence:     v.Sequence,
		ConsumedAt:   env.Now,
	}); err != nil {
		return nil, common.Hash{}, fmt.Errorf("failed to record vaa fingerprint: %w", err)
	}
	return action, fingerprint, nil
}

// Apply admits a signed VAA and applies its action within the same call.
func (g *Gate) Apply(ctx context.Context, tx Tx, env Env, signed []byte) (*VAAResult, error) {
	action, fingerprint, err := g.Admit(ctx, tx, env, signed)
	if err != nil {
		return nil, err
	}

	res := &VAAResult{Fingerprint: fingerprint, Kind: action.Kind(), SaleID: action.Sale()}
	switch a := action.(type) {
	case icco.SaleInit:
		err = InitSale(ctx, tx, env, a)
		res.Status = SaleStatusActive
	case icco.SaleSealed:
		err = SealSale(ctx, tx, env, a)
		res.Status = SaleStatusSealed
	case icco.SaleAborted:
		err = AbortSale(ctx, tx, env, a)
		res.Status = SaleStatusAborted
	default:
		err = fmt.Errorf("%w: unhandled action %T", ErrUnauthorizedOrMalformedVAA, action)
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

// IsVAARejection reports whether err was raised by VAA authentication or replay checks.
func IsVAARejection(err error) bool {
	return errors.Is(err, ErrUnauthorizedOrMalformedVAA) || errors.Is(err, ErrVAAAlreadyConsumed)
}

package vaa

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	// ErrGuardianSetMismatch is returned when a VAA names a guardian set other than the configured one.
	ErrGuardianSetMismatch = errors.New("guardian set index mismatch")
	// ErrNoQuorum is returned when too few valid guardian signatures are present.
	ErrNoQuorum = errors.New("no guardian quorum")
	// ErrInvalidSignature is returned when a signature does not recover to the expected guardian.
	ErrInvalidSignature = errors.New("invalid guardian signature")
)

// Verifier checks that a decoded VAA carries a valid signature quorum.
type Verifier interface {
	Verify(v *VAA) error
}

// GuardianSet is a static, indexed list of guardian signing addresses.
type GuardianSet struct {
	Index uint32
	Keys  []common.Address
}

// NewGuardianSet parses hex guardian addresses into a GuardianSet.
func NewGuardianSet(index uint32, hexKeys []string) (*GuardianSet, error) {
	if len(hexKeys) == 0 {
		return nil, fmt.Errorf("guardian set %d is empty", index)
	}
	keys := make([]common.Address, 0, len(hexKeys))
	for _, k := range hexKeys {
		if !common.IsHexAddress(k) {
			return nil, fmt.Errorf("invalid guardian address %q", k)
		}
		keys = append(keys, common.HexToAddress(k))
	}
	return &GuardianSet{Index: index, Keys: keys}, nil
}

// Quorum returns the minimum number of signatures required: floor(2n/3)+1.
func (gs *GuardianSet) Quorum() int {
	return len(gs.Keys)*2/3 + 1
}

// Verify implements Verifier. Signatures must reference strictly increasing
// guardian indices and each must recover to the guardian at that index.
func (gs *GuardianSet) Verify(v *VAA) error {
	if v.GuardianSetIndex != gs.Index {
		return fmt.Errorf("%w: got %d, want %d", ErrGuardianSetMismatch, v.GuardianSetIndex, gs.Index)
	}
	if len(v.Signatures) < gs.Quorum() {
		return fmt.Errorf("%w: %d of %d signatures", ErrNoQuorum, len(v.Signatures), gs.Quorum())
	}

	digest := v.SigningDigest()
	last := -1
	for _, sig := range v.Signatures {
		idx := int(sig.Index)
		if idx <= last {
			return fmt.Errorf("%w: guardian index %d out of order", ErrInvalidSignature, idx)
		}
		if idx >= len(gs.Keys) {
			return fmt.Errorf("%w: guardian index %d out of range", ErrInvalidSignature, idx)
		}
		last = idx

		raw := sig.Signature
		if raw[64] >= 27 {
			raw[64] -= 27
		}
		pub, err := crypto.SigToPub(digest.Bytes(), raw[:])
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		}
		if crypto.PubkeyToAddress(*pub) != gs.Keys[idx] {
			return fmt.Errorf("%w: guardian %d", ErrInvalidSignature, idx)
		}
	}
	return nil
}

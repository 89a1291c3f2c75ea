// Package contributortest provides guardian keys, signed conductor messages
// and a default deployment for tests.
package contributortest

import (
	"crypto/ecdsa"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/chainsafe/icco-contributor/pkg/contributor"
	"github.com/chainsafe/icco-contributor/pkg/icco"
	"github.com/chainsafe/icco-contributor/pkg/vaa"
)

const (
	LocalChain     vaa.ChainID = 3
	ConductorChain vaa.ChainID = 2

	SaleStart  uint64 = 1_000
	SaleEnd    uint64 = 2_000
	SaleUnlock uint64 = 3_000
)

var (
	ConductorAddress = vaa.Address{12: 0xc0, 31: 0x01}
	SaleToken        = vaa.Address{31: 0x5a}
	Recipient        = vaa.Address{31: 0x7e}
	Owner            = common.HexToAddress("0x00000000000000000000000000000000000000aa")
)

// Fixture signs VAAs with a freshly generated guardian set.
type Fixture struct {
	t         *testing.T
	Keys      []*ecdsa.PrivateKey
	Guardians *vaa.GuardianSet
	Config    *contributor.Config
	seq       uint64
}

// New returns a Fixture with a guardian set of n keys.
func New(t *testing.T, n int) *Fixture {
	t.Helper()

	keys := make([]*ecdsa.PrivateKey, n)
	hexKeys := make([]string, n)
	for i := range keys {
		k, err := crypto.GenerateKey()
		require.NoError(t, err)
		keys[i] = k
		hexKeys[i] = crypto.PubkeyToAddress(k.PublicKey).Hex()
	}
	gs, err := vaa.NewGuardianSet(0, hexKeys)
	require.NoError(t, err)

	return &Fixture{
		t:         t,
		Keys:      keys,
		Guardians: gs,
		Config: &contributor.Config{
			ChainID:             LocalChain,
			BridgeEndpoint:      "0x0000000000000000000000000000000000000b01",
			TokenBridgeEndpoint: "0x0000000000000000000000000000000000000b02",
			ConductorChain:      ConductorChain,
			ConductorAddress:    ConductorAddress,
			Owner:               Owner,
		},
	}
}

// GuardianHexKeys returns the guardian addresses as hex strings.
func (f *Fixture) GuardianHexKeys() []string {
	out := make([]string, len(f.Guardians.Keys))
	for i, k := range f.Guardians.Keys {
		out[i] = k.Hex()
	}
	return out
}

// Sign wraps payload in a VAA emitted by the configured conductor and signed
// by every guardian. Each call uses a new sequence number.
func (f *Fixture) Sign(payload []byte) []byte {
	return f.SignFrom(ConductorChain, ConductorAddress, payload)
}

// SignFrom is Sign with an explicit emitter.
func (f *Fixture) SignFrom(chain vaa.ChainID, emitter vaa.Address, payload []byte) []byte {
	f.t.Helper()

	f.seq++
	v := &vaa.VAA{
		Version:          vaa.SupportedVersion,
		GuardianSetIndex: f.Guardians.Index,
		Timestamp:        time.Unix(1_700_000_000, 0).UTC(),
		Nonce:            1,
		EmitterChain:     chain,
		EmitterAddress:   emitter,
		Sequence:         f.seq,
		ConsistencyLevel: 1,
		Payload:          payload,
	}
	for i, k := range f.Keys {
		require.NoError(f.t, v.AddSignature(k, uint8(i)))
	}
	return v.Marshal()
}

// SaleID builds a sale id whose last byte is n.
func SaleID(n byte) icco.SaleID {
	return icco.SaleID{31: n}
}

// Token builds an accepted token with the given chain, address suffix,
// decimals and cap.
func Token(chain vaa.ChainID, addr byte, decimals uint8, capacity uint64) icco.AcceptedToken {
	return icco.AcceptedToken{
		TokenChain:   chain,
		TokenAddress: vaa.Address{31: addr},
		Decimals:     decimals,
		Cap:          uint256.NewInt(capacity),
	}
}

// SaleInit builds a SaleInit for the default window with a foreign sale token.
func SaleInit(id icco.SaleID, tokens ...icco.AcceptedToken) icco.SaleInit {
	return icco.SaleInit{
		SaleID:         id,
		TokenAddress:   SaleToken,
		TokenChain:     ConductorChain,
		TokenDecimals:  18,
		SaleStart:      SaleStart,
		SaleEnd:        SaleEnd,
		UnlockTime:     SaleUnlock,
		ConductorChain: ConductorChain,
		Recipient:      Recipient,
		AcceptedTokens: tokens,
	}
}

// Env returns an execution environment at unix time ts.
func (f *Fixture) Env(ts uint64) contributor.Env {
	return contributor.Env{Config: f.Config, Now: time.Unix(int64(ts), 0).UTC()}
}

// Buyer returns a deterministic buyer address.
func Buyer(n byte) common.Address {
	return common.BytesToAddress([]byte{0xb0, n})
}

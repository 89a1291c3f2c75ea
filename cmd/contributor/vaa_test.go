package main

import (
	"encoding/hex"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainsafe/icco-contributor/pkg/icco"
	"github.com/chainsafe/icco-contributor/pkg/vaa"
)

func encodeVAA(payload []byte) string {
	v := &vaa.VAA{
		Version:        vaa.SupportedVersion,
		Timestamp:      time.Unix(1700000000, 0),
		EmitterChain:   2,
		EmitterAddress: vaa.Address{31: 0xc0},
		Sequence:       7,
		Payload:        payload,
	}
	return "0x" + hex.EncodeToString(v.Marshal())
}

func TestInspectVAA(t *testing.T) {
	out, err := inspectVAA(encodeVAA(icco.SaleAborted{SaleID: icco.SaleID{31: 5}}.Encode()))
	require.NoError(t, err)
	assert.Equal(t, "sale_aborted", out.Kind)
	assert.Equal(t, uint16(2), out.EmitterChain)
	assert.Equal(t, uint64(7), out.Sequence)
	assert.Equal(t, "2023-11-14T22:13:20Z", out.Timestamp)
	assert.Equal(t, 0, out.Signatures)

	sealed := icco.ContributionsSealed{
		SaleID:        icco.SaleID{31: 5},
		ChainID:       3,
		Contributions: []icco.Contribution{{Slot: 1, Amount: uint256.NewInt(10)}},
	}
	out, err = inspectVAA(encodeVAA(sealed.Encode()))
	require.NoError(t, err)
	assert.Equal(t, "contributions_sealed", out.Kind)

	out, err = inspectVAA(encodeVAA([]byte{0xff}))
	require.NoError(t, err)
	assert.Equal(t, "unknown", out.Kind)
	assert.Nil(t, out.Action)

	_, err = inspectVAA("not-hex")
	assert.Error(t, err)
}

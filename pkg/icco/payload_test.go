package icco

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainsafe/icco-contributor/pkg/vaa"
)

func TestDecodeAction_SaleInit(t *testing.T) {
	in := SaleInit{
		SaleID:         SaleID{31: 1},
		TokenAddress:   vaa.Address{31: 0xaa},
		TokenChain:     2,
		TokenDecimals:  18,
		SaleStart:      100,
		SaleEnd:        200,
		UnlockTime:     300,
		ConductorChain: 2,
		Recipient:      vaa.Address{31: 0xbb},
		AcceptedTokens: []AcceptedToken{
			{TokenChain: 3, TokenAddress: vaa.Address{31: 0x01}, Decimals: 6, Cap: uint256.NewInt(1000)},
			{TokenChain: 2, TokenAddress: vaa.Address{31: 0x02}, Decimals: 18, Cap: uint256.NewInt(0)},
		},
	}

	action, err := DecodeAction(in.Encode())
	require.NoError(t, err)

	got, ok := action.(SaleInit)
	require.True(t, ok)
	assert.Equal(t, "sale_init", got.Kind())
	assert.Equal(t, in.SaleID, got.Sale())
	assert.Equal(t, in.TokenDecimals, got.TokenDecimals)
	assert.Equal(t, in.SaleEnd, got.SaleEnd)
	assert.Equal(t, in.UnlockTime, got.UnlockTime)
	assert.Equal(t, in.ConductorChain, got.ConductorChain)
	require.Len(t, got.AcceptedTokens, 2)
	assert.Equal(t, uint64(1000), got.AcceptedTokens[0].Cap.Uint64())
	assert.Equal(t, vaa.ChainID(3), got.AcceptedTokens[0].TokenChain)
}

func TestDecodeAction_SaleSealed(t *testing.T) {
	in := SaleSealed{
		SaleID: SaleID{31: 9},
		Allocations: []Allocation{
			{Slot: 0, Allocated: uint256.NewInt(1000), ExcessContribution: uint256.NewInt(5)},
			{Slot: 2, Allocated: uint256.NewInt(7), ExcessContribution: uint256.NewInt(0)},
		},
	}

	action, err := DecodeAction(in.Encode())
	require.NoError(t, err)

	got, ok := action.(SaleSealed)
	require.True(t, ok)
	require.Len(t, got.Allocations, 2)
	assert.Equal(t, uint8(2), got.Allocations[1].Slot)
	assert.Equal(t, uint64(1000), got.Allocations[0].Allocated.Uint64())
	assert.Equal(t, uint64(5), got.Allocations[0].ExcessContribution.Uint64())
}

func TestDecodeAction_SaleAborted(t *testing.T) {
	action, err := DecodeAction(SaleAborted{SaleID: SaleID{0: 0xff}}.Encode())
	require.NoError(t, err)
	assert.Equal(t, "sale_aborted", action.Kind())
	assert.Equal(t, SaleID{0: 0xff}, action.Sale())
}

func TestDecodeAction_Malformed(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
	}{
		{name: "empty", payload: nil},
		{name: "unknown id", payload: []byte{9}},
		{name: "contributions payload is not an action", payload: ContributionsSealed{}.Encode()},
		{name: "truncated abort", payload: []byte{PayloadSaleAborted, 1, 2}},
		{name: "trailing bytes", payload: append(SaleAborted{}.Encode(), 0)},
		{
			name:    "end before start",
			payload: SaleInit{SaleStart: 10, SaleEnd: 5}.Encode(),
		},
		{
			name: "duplicate sealed slot",
			payload: SaleSealed{Allocations: []Allocation{
				{Slot: 1, Allocated: uint256.NewInt(1), ExcessContribution: uint256.NewInt(0)},
				{Slot: 1, Allocated: uint256.NewInt(1), ExcessContribution: uint256.NewInt(0)},
			}}.Encode(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeAction(tt.payload)
			require.ErrorIs(t, err, ErrMalformedPayload)
		})
	}
}

func TestContributionsSealed_RoundTrip(t *testing.T) {
	in := ContributionsSealed{
		SaleID:  SaleID{31: 3},
		ChainID: 3,
		Contributions: []Contribution{
			{Slot: 0, Amount: uint256.NewInt(970)},
			{Slot: 4, Amount: uint256.NewInt(0)},
		},
	}

	got, err := DecodeContributionsSealed(in.Encode())
	require.NoError(t, err)
	assert.Equal(t, in.SaleID, got.SaleID)
	assert.Equal(t, in.ChainID, got.ChainID)
	require.Len(t, got.Contributions, 2)
	assert.Equal(t, uint64(970), got.Contributions[0].Amount.Uint64())
	assert.Equal(t, uint8(4), got.Contributions[1].Slot)

	_, err = DecodeContributionsSealed([]byte{PayloadSaleAborted})
	require.ErrorIs(t, err, ErrMalformedPayload)
}

func TestSaleID_String(t *testing.T) {
	assert.Equal(t, "0x00000000000000000000000000000000000000000000000000000000000000ff", SaleID{31: 0xff}.String())
}

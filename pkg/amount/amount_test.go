package amount

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func maxUint256() *uint256.Int {
	return new(uint256.Int).SetAllOne()
}

func TestAddSub(t *testing.T) {
	sum, err := Add(uint256.NewInt(600), uint256.NewInt(400))
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), sum.Uint64())

	_, err = Add(maxUint256(), uint256.NewInt(1))
	require.ErrorIs(t, err, ErrOverflow)

	diff, err := Sub(uint256.NewInt(100), uint256.NewInt(3))
	require.NoError(t, err)
	assert.Equal(t, uint64(97), diff.Uint64())

	_, err = Sub(uint256.NewInt(3), uint256.NewInt(100))
	require.ErrorIs(t, err, ErrOverflow)
}

func TestSubClamp(t *testing.T) {
	assert.True(t, SubClamp(uint256.NewInt(3), uint256.NewInt(5)).IsZero())
	assert.Equal(t, uint64(2), SubClamp(uint256.NewInt(5), uint256.NewInt(3)).Uint64())
}

func TestMulDiv_RoundsDown(t *testing.T) {
	tests := []struct {
		name     string
		x, y, d  uint64
		expected uint64
	}{
		{name: "one third", x: 1000, y: 1000, d: 3000, expected: 333},
		{name: "two thirds", x: 1000, y: 2000, d: 3000, expected: 666},
		{name: "exact", x: 500, y: 10, d: 5, expected: 1000},
		{name: "zero divisor", x: 1000, y: 10, d: 0, expected: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MulDiv(uint256.NewInt(tt.x), uint256.NewInt(tt.y), uint256.NewInt(tt.d))
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got.Uint64())
		})
	}
}

func TestMulDiv_WideIntermediate(t *testing.T) {
	big := maxUint256()
	got, err := MulDiv(big, uint256.NewInt(7), uint256.NewInt(7))
	require.NoError(t, err)
	assert.True(t, got.Eq(big))

	_, err = MulDiv(big, uint256.NewInt(2), uint256.NewInt(1))
	require.ErrorIs(t, err, ErrOverflow)
}

func TestRescale(t *testing.T) {
	down, err := Rescale(uint256.NewInt(1_234_567_890_123_456_789), 18, 8)
	require.NoError(t, err)
	assert.Equal(t, uint64(123_456_789), down.Uint64())

	up, err := Rescale(uint256.NewInt(15), 6, 8)
	require.NoError(t, err)
	assert.Equal(t, uint64(1500), up.Uint64())

	same, err := Rescale(uint256.NewInt(42), 8, 8)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), same.Uint64())

	_, err = Rescale(maxUint256(), 0, 18)
	require.ErrorIs(t, err, ErrOverflow)
}

func TestWrappedDecimals(t *testing.T) {
	assert.Equal(t, uint8(8), WrappedDecimals(18))
	assert.Equal(t, uint8(6), WrappedDecimals(6))
}

func TestParse(t *testing.T) {
	v, err := Parse("1000")
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), v.Uint64())

	v, err = Parse("0x3e8")
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), v.Uint64())

	for _, bad := range []string{"", "-1", "1.5", "abc"} {
		_, err = Parse(bad)
		assert.Error(t, err, bad)
	}
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "1.5", Format(uint256.NewInt(1_500_000), 6))
	assert.Equal(t, "1000", Format(uint256.NewInt(1000), 0))
	assert.Equal(t, "0", Format(nil, 18))
}

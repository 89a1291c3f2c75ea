// Package amount provides checked 256-bit token amount arithmetic.
package amount

import (
	"errors"
	"fmt"
	"strings"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// MaxWrappedDecimals is the precision cap applied by the token bridge to
// assets that are wrapped on a foreign chain.
const MaxWrappedDecimals uint8 = 8

// ErrOverflow is returned when a result does not fit in 256 bits or a
// subtraction would go below zero.
var ErrOverflow = errors.New("arithmetic overflow")

// Zero returns a new zero amount.
func Zero() *uint256.Int {
	return new(uint256.Int)
}

// Clone returns a copy of x, treating nil as zero.
func Clone(x *uint256.Int) *uint256.Int {
	if x == nil {
		return Zero()
	}
	return new(uint256.Int).Set(x)
}

// Add returns a+b or ErrOverflow.
func Add(a, b *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).AddOverflow(a, b)
	if overflow {
		return nil, ErrOverflow
	}
	return z, nil
}

// Sub returns a-b or ErrOverflow when b > a.
func Sub(a, b *uint256.Int) (*uint256.Int, error) {
	z, underflow := new(uint256.Int).SubOverflow(a, b)
	if underflow {
		return nil, ErrOverflow
	}
	return z, nil
}

// SubClamp returns a-b, or zero when b > a.
func SubClamp(a, b *uint256.Int) *uint256.Int {
	if b.Gt(a) {
		return Zero()
	}
	return new(uint256.Int).Sub(a, b)
}

// Min returns a copy of the smaller of a and b.
func Min(a, b *uint256.Int) *uint256.Int {
	if a.Lt(b) {
		return Clone(a)
	}
	return Clone(b)
}

// MulDiv returns floor(x*y/d) computed with a 512-bit intermediate product.
// A zero divisor yields zero.
func MulDiv(x, y, d *uint256.Int) (*uint256.Int, error) {
	if d.IsZero() {
		return Zero(), nil
	}
	z, overflow := new(uint256.Int).MulDivOverflow(x, y, d)
	if overflow {
		return nil, ErrOverflow
	}
	return z, nil
}

// Pow10 returns 10^n.
func Pow10(n uint8) *uint256.Int {
	return new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(n)))
}

// Rescale converts x from one decimal precision to another. Scaling down
// rounds toward zero; scaling up fails with ErrOverflow when the result does
// not fit.
func Rescale(x *uint256.Int, from, to uint8) (*uint256.Int, error) {
	switch {
	case from == to:
		return Clone(x), nil
	case from > to:
		return new(uint256.Int).Div(x, Pow10(from-to)), nil
	default:
		z, overflow := new(uint256.Int).MulOverflow(x, Pow10(to-from))
		if overflow {
			return nil, ErrOverflow
		}
		return z, nil
	}
}

// WrappedDecimals returns the precision an asset with the given native
// decimals has once wrapped on a foreign chain.
func WrappedDecimals(native uint8) uint8 {
	if native > MaxWrappedDecimals {
		return MaxWrappedDecimals
	}
	return native
}

// Parse reads a base-10 integer or a 0x-prefixed hex amount.
func Parse(s string) (*uint256.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty amount")
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		z, err := uint256.FromHex(s)
		if err != nil {
			return nil, fmt.Errorf("invalid hex amount %q: %w", s, err)
		}
		return z, nil
	}
	z, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return z, nil
}

// Format renders x as a decimal number with the given precision, e.g.
// 1500000 with 6 decimals is "1.5".
func Format(x *uint256.Int, decimals uint8) string {
	if x == nil {
		return "0"
	}
	return decimal.NewFromBigInt(x.ToBig(), -int32(decimals)).String()
}

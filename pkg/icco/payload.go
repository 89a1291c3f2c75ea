// Package icco encodes and decodes the conductor/contributor message payloads
// carried inside VAAs.
package icco

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"github.com/chainsafe/icco-contributor/pkg/vaa"
)

// Payload identifiers.
const (
	PayloadSaleInit            uint8 = 1
	PayloadContributionsSealed uint8 = 2
	PayloadSaleSealed          uint8 = 3
	PayloadSaleAborted         uint8 = 4
)

// SaleID is the conductor-assigned sale identifier.
type SaleID [32]byte

// String returns the 0x-prefixed hex encoding.
func (id SaleID) String() string {
	return fmt.Sprintf("0x%x", id[:])
}

func (id SaleID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// ErrMalformedPayload is returned for payloads that cannot be decoded.
var ErrMalformedPayload = errors.New("malformed icco payload")

// Action is a decoded conductor message. The set of implementations is
// closed: SaleInit, SaleSealed and SaleAborted.
type Action interface {
	Kind() string
	Sale() SaleID
	isAction()
}

// AcceptedToken is one asset slot offered by a sale.
type AcceptedToken struct {
	TokenChain   vaa.ChainID
	TokenAddress vaa.Address
	Decimals     uint8
	// Cap is the maximum total raise for the slot; zero means uncapped.
	Cap *uint256.Int
}

// SaleInit creates a sale.
type SaleInit struct {
	SaleID         SaleID
	TokenAddress   vaa.Address
	TokenChain     vaa.ChainID
	TokenDecimals  uint8
	SaleStart      uint64
	SaleEnd        uint64
	UnlockTime     uint64
	ConductorChain vaa.ChainID
	Recipient      vaa.Address
	AcceptedTokens []AcceptedToken
}

// Allocation is the sealed outcome for a single slot.
type Allocation struct {
	Slot               uint8
	Allocated          *uint256.Int
	ExcessContribution *uint256.Int
}

// SaleSealed finalizes a successful sale.
type SaleSealed struct {
	SaleID      SaleID
	Allocations []Allocation
}

// SaleAborted cancels a sale.
type SaleAborted struct {
	SaleID SaleID
}

// Contribution is a per-slot total reported back to the conductor.
type Contribution struct {
	Slot   uint8
	Amount *uint256.Int
}

// ContributionsSealed is the attestation a contributor publishes after a sale ends.
type ContributionsSealed struct {
	SaleID        SaleID
	ChainID       vaa.ChainID
	Contributions []Contribution
}

func (SaleInit) Kind() string    { return "sale_init" }
func (SaleSealed) Kind() string  { return "sale_sealed" }
func (SaleAborted) Kind() string { return "sale_aborted" }

func (a SaleInit) Sale() SaleID    { return a.SaleID }
func (a SaleSealed) Sale() SaleID  { return a.SaleID }
func (a SaleAborted) Sale() SaleID { return a.SaleID }

func (SaleInit) isAction()    {}
func (SaleSealed) isAction()  {}
func (SaleAborted) isAction() {}

// DecodeAction parses a conductor payload into its typed action.
func DecodeAction(payload []byte) (Action, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrMalformedPayload)
	}
	r := &reader{buf: payload[1:]}

	var (
		action Action
		err    error
	)
	switch payload[0] {
	case PayloadSaleInit:
		action, err = decodeSaleInit(r)
	case PayloadSaleSealed:
		action, err = decodeSaleSealed(r)
	case PayloadSaleAborted:
		a := SaleAborted{}
		r.bytes32((*[32]byte)(&a.SaleID))
		action = a
	default:
		return nil, fmt.Errorf("%w: unexpected payload id %d", ErrMalformedPayload, payload[0])
	}
	if err != nil {
		return nil, err
	}
	if r.err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, r.err)
	}
	if len(r.buf) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformedPayload, len(r.buf))
	}
	return action, nil
}

func decodeSaleInit(r *reader) (SaleInit, error) {
	a := SaleInit{}
	r.bytes32((*[32]byte)(&a.SaleID))
	r.bytes32((*[32]byte)(&a.TokenAddress))
	a.TokenChain = vaa.ChainID(r.u16())
	a.TokenDecimals = r.u8()
	a.SaleStart = r.u64()
	a.SaleEnd = r.u64()
	a.UnlockTime = r.u64()
	a.ConductorChain = vaa.ChainID(r.u16())
	r.bytes32((*[32]byte)(&a.Recipient))

	n := int(r.u8())
	a.AcceptedTokens = make([]AcceptedToken, 0, n)
	for i := 0; i < n && r.err == nil; i++ {
		t := AcceptedToken{}
		t.TokenChain = vaa.ChainID(r.u16())
		r.bytes32((*[32]byte)(&t.TokenAddress))
		t.Decimals = r.u8()
		t.Cap = r.u256()
		a.AcceptedTokens = append(a.AcceptedTokens, t)
	}
	if r.err == nil && a.SaleEnd < a.SaleStart {
		return a, fmt.Errorf("%w: sale end %d before start %d", ErrMalformedPayload, a.SaleEnd, a.SaleStart)
	}
	return a, nil
}

func decodeSaleSealed(r *reader) (SaleSealed, error) {
	a := SaleSealed{}
	r.bytes32((*[32]byte)(&a.SaleID))
	n := int(r.u8())
	a.Allocations = make([]Allocation, 0, n)
	seen := make(map[uint8]bool, n)
	for i := 0; i < n && r.err == nil; i++ {
		al := Allocation{Slot: r.u8()}
		al.Allocated = r.u256()
		al.ExcessContribution = r.u256()
		if seen[al.Slot] {
			return a, fmt.Errorf("%w: duplicate allocation for slot %d", ErrMalformedPayload, al.Slot)
		}
		seen[al.Slot] = true
		a.Allocations = append(a.Allocations, al)
	}
	return a, nil
}

// Encode serializes a SaleInit payload.
func (a SaleInit) Encode() []byte {
	w := new(bytes.Buffer)
	w.WriteByte(PayloadSaleInit)
	w.Write(a.SaleID[:])
	w.Write(a.TokenAddress[:])
	writeU16(w, uint16(a.TokenChain))
	w.WriteByte(a.TokenDecimals)
	writeU64(w, a.SaleStart)
	writeU64(w, a.SaleEnd)
	writeU64(w, a.UnlockTime)
	writeU16(w, uint16(a.ConductorChain))
	w.Write(a.Recipient[:])
	w.WriteByte(uint8(len(a.AcceptedTokens)))
	for _, t := range a.AcceptedTokens {
		writeU16(w, uint16(t.TokenChain))
		w.Write(t.TokenAddress[:])
		w.WriteByte(t.Decimals)
		writeU256(w, t.Cap)
	}
	return w.Bytes()
}

// Encode serializes a SaleSealed payload.
func (a SaleSealed) Encode() []byte {
	w := new(bytes.Buffer)
	w.WriteByte(PayloadSaleSealed)
	w.Write(a.SaleID[:])
	w.WriteByte(uint8(len(a.Allocations)))
	for _, al := range a.Allocations {
		w.WriteByte(al.Slot)
		writeU256(w, al.Allocated)
		writeU256(w, al.ExcessContribution)
	}
	return w.Bytes()
}

// Encode serializes a SaleAborted payload.
func (a SaleAborted) Encode() []byte {
	return append([]byte{PayloadSaleAborted}, a.SaleID[:]...)
}

// Encode serializes a ContributionsSealed payload.
func (c ContributionsSealed) Encode() []byte {
	w := new(bytes.Buffer)
	w.WriteByte(PayloadContributionsSealed)
	w.Write(c.SaleID[:])
	writeU16(w, uint16(c.ChainID))
	w.WriteByte(uint8(len(c.Contributions)))
	for _, ct := range c.Contributions {
		w.WriteByte(ct.Slot)
		writeU256(w, ct.Amount)
	}
	return w.Bytes()
}

// DecodeContributionsSealed parses a ContributionsSealed payload.
func DecodeContributionsSealed(payload []byte) (ContributionsSealed, error) {
	c := ContributionsSealed{}
	if len(payload) == 0 || payload[0] != PayloadContributionsSealed {
		return c, fmt.Errorf("%w: not a contributions payload", ErrMalformedPayload)
	}
	r := &reader{buf: payload[1:]}
	r.bytes32((*[32]byte)(&c.SaleID))
	c.ChainID = vaa.ChainID(r.u16())
	n := int(r.u8())
	for i := 0; i < n && r.err == nil; i++ {
		c.Contributions = append(c.Contributions, Contribution{Slot: r.u8(), Amount: r.u256()})
	}
	if r.err != nil {
		return c, fmt.Errorf("%w: %v", ErrMalformedPayload, r.err)
	}
	if len(r.buf) != 0 {
		return c, fmt.Errorf("%w: %d trailing bytes", ErrMalformedPayload, len(r.buf))
	}
	return c, nil
}

type reader struct {
	buf []byte
	err error
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return make([]byte, n)
	}
	if len(r.buf) < n {
		r.err = fmt.Errorf("need %d bytes, have %d", n, len(r.buf))
		return make([]byte, n)
	}
	out := r.buf[:n]
	r.buf = r.buf[n:]
	return out
}

func (r *reader) u8() uint8             { return r.take(1)[0] }
func (r *reader) u16() uint16           { return binary.BigEndian.Uint16(r.take(2)) }
func (r *reader) u64() uint64           { return binary.BigEndian.Uint64(r.take(8)) }
func (r *reader) u256() *uint256.Int    { return new(uint256.Int).SetBytes32(r.take(32)) }
func (r *reader) bytes32(dst *[32]byte) { copy(dst[:], r.take(32)) }

func writeU16(w *bytes.Buffer, v uint16) { _ = binary.Write(w, binary.BigEndian, v) }
func writeU64(w *bytes.Buffer, v uint64) { _ = binary.Write(w, binary.BigEndian, v) }

func writeU256(w *bytes.Buffer, v *uint256.Int) {
	if v == nil {
		v = new(uint256.Int)
	}
	b := v.Bytes32()
	w.Write(b[:])
}

// Package vaa decodes and verifies guardian-signed bridge messages (VAAs).
package vaa

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// SupportedVersion is the only envelope version accepted by Unmarshal.
const SupportedVersion uint8 = 1

const (
	signatureLength = 65
	headerLength    = 1 + 4 + 1
	bodyFixedLength = 4 + 4 + 2 + 32 + 8 + 1
)

var (
	// ErrMalformed is returned for envelopes that cannot be decoded.
	ErrMalformed = errors.New("malformed vaa")
	// ErrUnsupportedVersion is returned for envelopes with an unknown version byte.
	ErrUnsupportedVersion = errors.New("unsupported vaa version")
)

// ChainID is the bridge-assigned identifier of a chain.
type ChainID uint16

// Address is a 32-byte, chain-agnostic account or contract identity.
type Address [32]byte

// String returns the lowercase hex encoding without prefix.
func (a Address) String() string {
	return hex.EncodeToString(a[:])
}

// MarshalText renders the address as 0x-prefixed hex.
func (a Address) MarshalText() ([]byte, error) {
	return []byte("0x" + a.String()), nil
}

// Bytes returns a copy of the address bytes.
func (a Address) Bytes() []byte {
	return append([]byte(nil), a[:]...)
}

// IsZero reports whether every byte of the address is zero.
func (a Address) IsZero() bool {
	return a == Address{}
}

// EVMAddress returns the right-most 20 bytes as an EVM address.
func (a Address) EVMAddress() common.Address {
	return common.BytesToAddress(a[12:])
}

// AddressFromEVM left-pads an EVM address to 32 bytes.
func AddressFromEVM(addr common.Address) Address {
	var out Address
	copy(out[12:], addr.Bytes())
	return out
}

// ParseAddress decodes a hex string of up to 32 bytes, left-padding shorter input.
func ParseAddress(s string) (Address, error) {
	var out Address
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return out, fmt.Errorf("invalid address hex: %w", err)
	}
	if len(b) == 0 || len(b) > 32 {
		return out, fmt.Errorf("invalid address length %d", len(b))
	}
	copy(out[32-len(b):], b)
	return out, nil
}

// Signature is one guardian's signature over the VAA digest.
type Signature struct {
	Index     uint8
	Signature [signatureLength]byte
}

// VAA is a decoded guardian-signed message.
type VAA struct {
	Version          uint8
	GuardianSetIndex uint32
	Signatures       []Signature

	Timestamp        time.Time
	Nonce            uint32
	EmitterChain     ChainID
	EmitterAddress   Address
	Sequence         uint64
	ConsistencyLevel uint8
	Payload          []byte
}

// Unmarshal decodes a serialized VAA.
func Unmarshal(data []byte) (*VAA, error) {
	if len(data) < headerLength {
		return nil, fmt.Errorf("%w: %d bytes is shorter than the header", ErrMalformed, len(data))
	}

	v := &VAA{Version: data[0]}
	if v.Version != SupportedVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, v.Version)
	}
	v.GuardianSetIndex = binary.BigEndian.Uint32(data[1:5])

	numSigs := int(data[5])
	offset := headerLength
	if len(data) < offset+numSigs*(1+signatureLength) {
		return nil, fmt.Errorf("%w: truncated signatures", ErrMalformed)
	}
	v.Signatures = make([]Signature, numSigs)
	for i := 0; i < numSigs; i++ {
		v.Signatures[i].Index = data[offset]
		copy(v.Signatures[i].Signature[:], data[offset+1:offset+1+signatureLength])
		offset += 1 + signatureLength
	}

	body := data[offset:]
	if len(body) < bodyFixedLength {
		return nil, fmt.Errorf("%w: truncated body", ErrMalformed)
	}
	v.Timestamp = time.Unix(int64(binary.BigEndian.Uint32(body[0:4])), 0).UTC()
	v.Nonce = binary.BigEndian.Uint32(body[4:8])
	v.EmitterChain = ChainID(binary.BigEndian.Uint16(body[8:10]))
	copy(v.EmitterAddress[:], body[10:42])
	v.Sequence = binary.BigEndian.Uint64(body[42:50])
	v.ConsistencyLevel = body[50]
	v.Payload = append([]byte(nil), body[51:]...)

	return v, nil
}

// Marshal serializes the VAA including its signatures.
func (v *VAA) Marshal() []byte {
	buf := new(bytes.Buffer)
	buf.WriteByte(v.Version)
	_ = binary.Write(buf, binary.BigEndian, v.GuardianSetIndex)
	buf.WriteByte(uint8(len(v.Signatures)))
	for _, sig := range v.Signatures {
		buf.WriteByte(sig.Index)
		buf.Write(sig.Signature[:])
	}
	buf.Write(v.Body())
	return buf.Bytes()
}

// Body returns the signed portion of the VAA.
func (v *VAA) Body() []byte {
	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.BigEndian, uint32(v.Timestamp.Unix()))
	_ = binary.Write(buf, binary.BigEndian, v.Nonce)
	_ = binary.Write(buf, binary.BigEndian, uint16(v.EmitterChain))
	buf.Write(v.EmitterAddress[:])
	_ = binary.Write(buf, binary.BigEndian, v.Sequence)
	buf.WriteByte(v.ConsistencyLevel)
	buf.Write(v.Payload)
	return buf.Bytes()
}

// Hash is the keccak256 of the body. It identifies the message regardless
// of which guardians signed it and is used as the replay fingerprint.
func (v *VAA) Hash() common.Hash {
	return crypto.Keccak256Hash(v.Body())
}

// SigningDigest is the value the guardians sign: keccak256(keccak256(body)).
func (v *VAA) SigningDigest() common.Hash {
	h := v.Hash()
	return crypto.Keccak256Hash(h.Bytes())
}

// AddSignature signs the VAA with key as guardian index and appends the signature.
func (v *VAA) AddSignature(key *ecdsa.PrivateKey, index uint8) error {
	sig, err := crypto.Sign(v.SigningDigest().Bytes(), key)
	if err != nil {
		return err
	}
	if len(sig) != signatureLength {
		return fmt.Errorf("unexpected signature length %d", len(sig))
	}
	s := Signature{Index: index}
	copy(s.Signature[:], sig)
	v.Signatures = append(v.Signatures, s)
	return nil
}

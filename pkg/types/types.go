// Package types holds the small shared types of xorvault: names, addresses,
// chunks and operation ids. Everything here is a plain value type; the
// behaviour lives in the packages that consume them.
package types

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// MaxChunkSize is the ceiling for a serialized chunk: 1 MiB of payload plus
// 10 KiB of headroom. A chunk whose payload exceeds this is rejected
// everywhere it shows up.
const MaxChunkSize = 1024*1024 + 10*1024

// XorName is a 256-bit identifier. Node names and chunk addresses share this
// type and are compared in the XOR metric.
type XorName [32]byte

// ChunkAddress is the name a chunk lives at. For public chunks it is the
// SHA-256 of the payload.
type ChunkAddress = XorName

func (n XorName) String() string {
	return hex.EncodeToString(n[:])
}

func (n XorName) Bytes() []byte {
	return n[:]
}

func (n XorName) IsZero() bool {
	return n == XorName{}
}

func (n *XorName) FromBytes(b []byte) error {
	if len(b) != 32 {
		return fmt.Errorf("invalid byte length for XorName: %d", len(b))
	}
	copy(n[:], b)
	return nil
}

// NameFromHex parses a 64 character lowercase hex string.
func NameFromHex(s string) (XorName, error) {
	var n XorName
	b, err := hex.DecodeString(s)
	if err != nil {
		return n, fmt.Errorf("decode name %q: %w", s, err)
	}
	if err := n.FromBytes(b); err != nil {
		return n, err
	}
	return n, nil
}

// NameOf returns the content address of a payload.
func NameOf(value []byte) XorName {
	return XorName(sha256.Sum256(value))
}

// Distance returns the XOR of two names, interpreted as a big-endian
// integer by CmpDistance.
func Distance(a, b XorName) XorName {
	var d XorName
	for i := range a {
		d[i] = a[i] ^ b[i]
	}
	return d
}

// CmpDistance orders a and b by their distance to target: -1 if a is
// closer, 1 if b is closer, 0 if equidistant.
func CmpDistance(target, a, b XorName) int {
	da := Distance(target, a)
	db := Distance(target, b)
	return bytes.Compare(da[:], db[:])
}

// Chunk is an immutable content-addressed blob.
type Chunk struct {
	Address ChunkAddress
	Value   []byte
}

// NewChunk builds a chunk from its payload, deriving the address.
func NewChunk(value []byte) Chunk {
	return Chunk{Address: NameOf(value), Value: value}
}

// Verify recomputes the address of the payload. Private chunks carry an
// owner-wrapped payload, which is still what the address binds to.
func (c Chunk) Verify() bool {
	return NameOf(c.Value) == c.Address
}

// WithinLimit reports whether the chunk fits the serialized ceiling.
func (c Chunk) WithinLimit() bool {
	return len(c.Value) <= MaxChunkSize
}

// Scope tags a blob address as publicly readable or owner-encrypted.
type Scope uint8

const (
	Public Scope = iota
	Private
)

func (s Scope) String() string {
	switch s {
	case Public:
		return "Public"
	case Private:
		return "Private"
	}
	return "Unknown"
}

// BlobAddress is what callers hold after an upload: the root chunk's
// address plus the scope it was written under.
type BlobAddress struct {
	Root  ChunkAddress
	Scope Scope
}

func (a BlobAddress) String() string {
	return fmt.Sprintf("%s:%s", a.Scope, a.Root)
}

// OpID identifies one outstanding query from an elder to an adult. It is
// reproducible from the address and nonce so the response can cancel the
// pending op exactly.
type OpID [32]byte

func (o OpID) String() string {
	return hex.EncodeToString(o[:8])
}

// OperationID derives the op id for a query against an address.
func OperationID(addr ChunkAddress, nonce uint64) OpID {
	var buf [40]byte
	copy(buf[:32], addr[:])
	binary.LittleEndian.PutUint64(buf[32:], nonce)
	return OpID(sha256.Sum256(buf[:]))
}

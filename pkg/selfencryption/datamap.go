package selfencryption

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/i5heu/xorvault/pkg/types"
)

// Level tags a serialized data map. FirstLevel entries point at leaves of
// the caller's bytes; AdditionalLevel entries point at chunks that reassemble
// into another serialized data map.
type Level uint8

const (
	FirstLevel Level = iota
	AdditionalLevel
)

func (l Level) String() string {
	switch l {
	case FirstLevel:
		return "FirstLevel"
	case AdditionalLevel:
		return "AdditionalLevel"
	}
	return "Unknown"
}

// ChunkInfo describes one leaf of a self-encrypted stream, in source order.
type ChunkInfo struct {
	PreHash  [32]byte // hash of the plaintext leaf
	PostHash [32]byte // hash of the ciphertext; doubles as the chunk address
	Length   uint32   // plaintext length
}

// DataMap lists every leaf of one self-encryption level.
type DataMap struct {
	Level   Level
	Entries []ChunkInfo
}

// entrySize is the wire size of one ChunkInfo: 32 + 32 + 4.
const entrySize = 68

// headerSize is the wire size of the level tag plus the entry count.
const headerSize = 1 + 4

var ErrMalformedDataMap = errors.New("selfencryption: malformed data map")

// SerializedSize returns the exact byte length Serialize will produce.
func (m DataMap) SerializedSize() int {
	return headerSize + entrySize*len(m.Entries)
}

// Serialize produces the pinned wire form of the map:
//
//	level_tag (u8) || entry_count (u32 LE) || entries
//	entry = pre_hash (32) || post_hash (32) || length (u32 LE)
//
// Implementations must agree on this byte-for-byte.
func (m DataMap) Serialize() []byte {
	out := make([]byte, m.SerializedSize())
	out[0] = byte(m.Level)
	binary.LittleEndian.PutUint32(out[1:5], uint32(len(m.Entries)))
	off := headerSize
	for _, e := range m.Entries {
		copy(out[off:off+32], e.PreHash[:])
		copy(out[off+32:off+64], e.PostHash[:])
		binary.LittleEndian.PutUint32(out[off+64:off+68], e.Length)
		off += entrySize
	}
	return out
}

// ParseDataMap is the inverse of Serialize.
func ParseDataMap(b []byte) (DataMap, error) {
	if len(b) < headerSize {
		return DataMap{}, fmt.Errorf("%w: %d bytes", ErrMalformedDataMap, len(b))
	}
	level := Level(b[0])
	if level != FirstLevel && level != AdditionalLevel {
		return DataMap{}, fmt.Errorf("%w: bad level tag %d", ErrMalformedDataMap, b[0])
	}
	count := binary.LittleEndian.Uint32(b[1:5])
	if count == 0 {
		return DataMap{}, fmt.Errorf("%w: empty map", ErrMalformedDataMap)
	}
	want := headerSize + int(count)*entrySize
	if len(b) != want {
		return DataMap{}, fmt.Errorf("%w: length %d, want %d for %d entries",
			ErrMalformedDataMap, len(b), want, count)
	}
	entries := make([]ChunkInfo, count)
	off := headerSize
	for i := range entries {
		copy(entries[i].PreHash[:], b[off:off+32])
		copy(entries[i].PostHash[:], b[off+32:off+64])
		entries[i].Length = binary.LittleEndian.Uint32(b[off+64 : off+68])
		off += entrySize
	}
	return DataMap{Level: level, Entries: entries}, nil
}

// Addresses returns the chunk address of every leaf, in source order.
func (m DataMap) Addresses() []types.ChunkAddress {
	addrs := make([]types.ChunkAddress, len(m.Entries))
	for i, e := range m.Entries {
		addrs[i] = types.ChunkAddress(e.PostHash)
	}
	return addrs
}

// TotalSize is the combined plaintext length of all leaves.
func (m DataMap) TotalSize() uint64 {
	var total uint64
	for _, e := range m.Entries {
		total += uint64(e.Length)
	}
	return total
}

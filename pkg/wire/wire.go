// Package wire defines the payload shapes exchanged between clients, elders
// and adults, with a gob codec. The transport that moves these bytes is out
// of scope; tests and the demo use the in-process loopback.
package wire

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/i5heu/xorvault/pkg/types"
)

// ErrKind names a failure on the wire. It mirrors the error kinds raised by
// the chunk store and the replication controller.
type ErrKind uint8

const (
	KindNone ErrKind = iota
	KindBadAddress
	KindNotFound
	KindNoSpace
	KindAccessDenied
	KindTimeout
)

func (k ErrKind) String() string {
	switch k {
	case KindNone:
		return "None"
	case KindBadAddress:
		return "BadAddress"
	case KindNotFound:
		return "NotFound"
	case KindNoSpace:
		return "NoSpace"
	case KindAccessDenied:
		return "AccessDenied"
	case KindTimeout:
		return "Timeout"
	}
	return "Unknown"
}

// Message is implemented by every payload shape in this package.
type Message interface {
	msg()
}

// StoreChunk asks an adult to persist a chunk.
type StoreChunk struct {
	Chunk         types.Chunk
	RequesterAuth []byte
}

// StoreAck confirms a durable store of the chunk at Address.
type StoreAck struct {
	Address types.ChunkAddress
}

// StoreErr reports a failed store.
type StoreErr struct {
	Address types.ChunkAddress
	Kind    ErrKind
}

// GetChunk asks an adult for the chunk at Address. The op id is registered
// with the liveness tracker until the response arrives.
type GetChunk struct {
	Address types.ChunkAddress
	OpID    types.OpID
}

// ChunkData answers a GetChunk.
type ChunkData struct {
	Address types.ChunkAddress
	OpID    types.OpID
	Value   []byte
}

// GetErr answers a GetChunk that could not be served.
type GetErr struct {
	Address types.ChunkAddress
	OpID    types.OpID
	Kind    ErrKind
}

// DeleteChunk asks an adult to remove a private chunk. Honoured only when
// the requester key matches the owner key embedded in the chunk.
type DeleteChunk struct {
	Address       types.ChunkAddress
	RequesterAuth []byte
}

// DeleteAck confirms a delete (or that nothing was there to delete).
type DeleteAck struct {
	Address types.ChunkAddress
	Kind    ErrKind
}

// MembersChanged notifies adults of a membership change so they can start
// churn repair.
type MembersChanged struct {
	Added     []types.XorName
	Removed   []types.XorName
	Remaining []types.XorName
}

// StorageLevel reports an adult's used-space level (0..10). Sent once per
// level transition.
type StorageLevel struct {
	Node  types.XorName
	Level uint8
}

func (StoreChunk) msg()     {}
func (StoreAck) msg()       {}
func (StoreErr) msg()       {}
func (GetChunk) msg()       {}
func (ChunkData) msg()      {}
func (GetErr) msg()         {}
func (DeleteChunk) msg()    {}
func (DeleteAck) msg()      {}
func (MembersChanged) msg() {}
func (StorageLevel) msg()   {}

func init() {
	gob.Register(StoreChunk{})
	gob.Register(StoreAck{})
	gob.Register(StoreErr{})
	gob.Register(GetChunk{})
	gob.Register(ChunkData{})
	gob.Register(GetErr{})
	gob.Register(DeleteChunk{})
	gob.Register(DeleteAck{})
	gob.Register(MembersChanged{})
	gob.Register(StorageLevel{})
}

// Encode serializes a message for the transport.
func Encode(m Message) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&m); err != nil {
		return nil, fmt.Errorf("encode %T: %w", m, err)
	}
	return buf.Bytes(), nil
}

// Decode is the inverse of Encode.
func Decode(b []byte) (Message, error) {
	var m Message
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&m); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	return m, nil
}

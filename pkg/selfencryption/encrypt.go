// Package selfencryption turns a byte stream into a set of content-addressed
// encrypted chunks plus a root data map, and back. The codec is
// deterministic: identical public input yields identical chunk addresses on
// any implementation that honours the interop contract (leaf sizing in
// sizes.go, key schedule in keys.go, data-map wire form in datamap.go).
package selfencryption

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/i5heu/xorvault/pkg/types"
)

var (
	ErrTooSmall      = errors.New("selfencryption: input below minimum encryptable size")
	ErrChunkTooLarge = errors.New("selfencryption: produced chunk exceeds the size ceiling")
)

// Encrypt splits and encrypts public bytes. It returns the blob address and
// every chunk that must be stored: all leaves of every level plus the root
// data-map chunk (last).
func Encrypt(data []byte) (types.BlobAddress, []types.Chunk, error) {
	return EncryptWith(DefaultParams(), data, nil)
}

// EncryptPrivate is Encrypt with the root payload wrapped under ownerPk, so
// the resulting address binds to the owner.
func EncryptPrivate(data, ownerPk []byte) (types.BlobAddress, []types.Chunk, error) {
	if len(ownerPk) == 0 {
		return types.BlobAddress{}, nil, fmt.Errorf("selfencryption: empty owner key")
	}
	return EncryptWith(DefaultParams(), data, ownerPk)
}

// EncryptWith is the parameterized core of Encrypt. A nil ownerPk selects
// public scope.
func EncryptWith(p Params, data []byte, ownerPk []byte) (types.BlobAddress, []types.Chunk, error) {
	if len(data) < p.minInput() {
		return types.BlobAddress{}, nil, fmt.Errorf("%w: %d < %d", ErrTooSmall, len(data), p.minInput())
	}

	var chunks []types.Chunk

	level := FirstLevel
	payload := data
	rootLimit := p.MaxChunkSize
	if ownerPk != nil {
		rootLimit -= ownerOverhead
	}

	for {
		dm, levelChunks, err := encryptLevel(p, payload, level)
		if err != nil {
			return types.BlobAddress{}, nil, err
		}
		chunks = append(chunks, levelChunks...)

		ser := dm.Serialize()
		if len(ser) <= rootLimit {
			rootPayload := ser
			scope := types.Public
			if ownerPk != nil {
				rootPayload, err = wrapRoot(ser, ownerPk)
				if err != nil {
					return types.BlobAddress{}, nil, err
				}
				scope = types.Private
			}
			root := types.NewChunk(rootPayload)
			if !root.WithinLimit() {
				return types.BlobAddress{}, nil, ErrChunkTooLarge
			}
			chunks = append(chunks, root)
			return types.BlobAddress{Root: root.Address, Scope: scope}, chunks, nil
		}

		// The map itself is too big for one chunk: self-encrypt its
		// serialized form and tag the next level so the decoder recurses.
		payload = ser
		level = AdditionalLevel
	}
}

// encryptLevel runs the leaf pipeline over one payload: split, pre-hash,
// derive neighbour-mixed keys, seal, post-hash.
func encryptLevel(p Params, data []byte, level Level) (DataMap, []types.Chunk, error) {
	sizes := p.leafSizes(len(data))
	n := len(sizes)

	leaves := make([][]byte, n)
	pre := make([][32]byte, n)
	off := 0
	for i, s := range sizes {
		leaves[i] = data[off : off+s]
		pre[i] = sha256.Sum256(leaves[i])
		off += s
	}

	dm := DataMap{Level: level, Entries: make([]ChunkInfo, n)}
	chunks := make([]types.Chunk, n)
	for i := range leaves {
		key, nonce, err := leafKey(pre[i], pre[(i+n-1)%n], pre[(i+n-2)%n])
		if err != nil {
			return DataMap{}, nil, err
		}
		ct, err := sealLeaf(key, nonce, leaves[i])
		if err != nil {
			return DataMap{}, nil, fmt.Errorf("seal leaf %d: %w", i, err)
		}
		if len(ct) > p.MaxChunkSize {
			return DataMap{}, nil, ErrChunkTooLarge
		}
		post := sha256.Sum256(ct)
		chunks[i] = types.Chunk{Address: types.ChunkAddress(post), Value: ct}
		dm.Entries[i] = ChunkInfo{
			PreHash:  pre[i],
			PostHash: post,
			Length:   uint32(len(leaves[i])),
		}
	}
	return dm, chunks, nil
}

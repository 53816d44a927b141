package selfencryption

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/i5heu/xorvault/pkg/types"
	"github.com/i5heu/xorvault/pkg/workerpool"
)

var (
	ErrMissingChunk      = errors.New("selfencryption: chunk not found")
	ErrIntegrityMismatch = errors.New("selfencryption: integrity mismatch")
)

// FetchFunc retrieves a chunk payload by address. The codec is I/O-agnostic;
// callers inject network, disk or cache lookups here. A fetch that cannot
// find the chunk should wrap or return ErrMissingChunk.
type FetchFunc func(ctx context.Context, addr types.ChunkAddress) ([]byte, error)

// Decrypt reassembles the original public bytes from a root chunk,
// recursing down any additional data-map levels.
func Decrypt(ctx context.Context, root types.Chunk, fetch FetchFunc) ([]byte, error) {
	return DecryptWith(ctx, DefaultParams(), root, nil, fetch)
}

// DecryptPrivate unwraps an owner-encrypted root before decoding.
func DecryptPrivate(ctx context.Context, root types.Chunk, ownerPk []byte, fetch FetchFunc) ([]byte, error) {
	return DecryptWith(ctx, DefaultParams(), root, ownerPk, fetch)
}

// DecryptWith is the parameterized core of Decrypt.
func DecryptWith(ctx context.Context, p Params, root types.Chunk, ownerPk []byte, fetch FetchFunc) ([]byte, error) {
	if !root.Verify() {
		return nil, fmt.Errorf("%w: root chunk", ErrIntegrityMismatch)
	}

	payload := root.Value
	if ownerPk != nil {
		var err error
		payload, err = unwrapRoot(payload, ownerPk)
		if err != nil {
			return nil, err
		}
	}

	for {
		dm, err := ParseDataMap(payload)
		if err != nil {
			return nil, err
		}
		joined, err := fetchAndJoin(ctx, p, dm, fetch)
		if err != nil {
			return nil, err
		}
		if dm.Level == FirstLevel {
			return joined, nil
		}
		// AdditionalLevel: the joined bytes are a serialized map one
		// level down.
		payload = joined
	}
}

// fetchAndJoin pulls every leaf of one map level in parallel, decrypts each
// with its neighbour-derived key and concatenates them in source order.
func fetchAndJoin(ctx context.Context, p Params, dm DataMap, fetch FetchFunc) ([]byte, error) {
	n := len(dm.Entries)
	plain := make([][]byte, n)

	fanOut := p.FanOut
	pool := workerpool.NewWorkerPool(workerpool.Config{WorkerCount: fanOut})

	tasks := make([]func(context.Context) error, n)
	for i := range dm.Entries {
		i := i
		tasks[i] = func(ctx context.Context) error {
			leaf, err := decryptLeaf(ctx, dm, i, fetch)
			if err != nil {
				return err
			}
			plain[i] = leaf
			return nil
		}
	}
	if err := pool.Do(ctx, tasks...); err != nil {
		return nil, err
	}

	out := make([]byte, 0, dm.TotalSize())
	for _, leaf := range plain {
		out = append(out, leaf...)
	}
	return out, nil
}

func decryptLeaf(ctx context.Context, dm DataMap, i int, fetch FetchFunc) ([]byte, error) {
	n := len(dm.Entries)
	e := dm.Entries[i]
	addr := types.ChunkAddress(e.PostHash)

	ct, err := fetch(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("fetch leaf %d (%s): %w", i, addr, err)
	}
	if sha256.Sum256(ct) != e.PostHash {
		return nil, fmt.Errorf("%w: leaf %d ciphertext", ErrIntegrityMismatch, i)
	}

	key, nonce, err := leafKey(e.PreHash, dm.Entries[(i+n-1)%n].PreHash, dm.Entries[(i+n-2)%n].PreHash)
	if err != nil {
		return nil, err
	}
	leaf, err := openLeaf(key, nonce, ct)
	if err != nil {
		return nil, fmt.Errorf("%w: leaf %d: %v", ErrIntegrityMismatch, i, err)
	}
	if uint32(len(leaf)) != e.Length || sha256.Sum256(leaf) != e.PreHash {
		return nil, fmt.Errorf("%w: leaf %d plaintext", ErrIntegrityMismatch, i)
	}
	return leaf, nil
}

// Package backup exports a chunk store to a single xz-compressed stream
// and restores it. Restores verify every chunk against its address, so a
// tampered archive never reaches disk.
package backup

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/ulikunitz/xz"

	"github.com/i5heu/xorvault/internal/chunkstore"
	"github.com/i5heu/xorvault/pkg/types"
)

// Stream format inside the xz layer: magic, then per chunk a 32-byte
// address and a u32-LE length followed by the value bytes.
var streamMagic = []byte("XVBK1")

var ErrBadArchive = errors.New("backup: malformed archive")

// Export writes every chunk in the store to w.
func Export(ctx context.Context, store *chunkstore.Store, w io.Writer) error {
	xw, err := xz.NewWriter(w)
	if err != nil {
		return fmt.Errorf("backup: open compressor: %w", err)
	}
	if _, err := xw.Write(streamMagic); err != nil {
		return fmt.Errorf("backup: write header: %w", err)
	}

	addrs, err := store.Keys()
	if err != nil {
		return fmt.Errorf("backup: list chunks: %w", err)
	}

	var lenBuf [4]byte
	for _, addr := range addrs {
		if err := ctx.Err(); err != nil {
			return err
		}
		chunk, err := store.Get(addr)
		if err != nil {
			if errors.Is(err, chunkstore.ErrNotFound) {
				continue
			}
			return fmt.Errorf("backup: read %s: %w", addr, err)
		}
		value := chunk.Value
		binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(value)))
		if _, err := xw.Write(addr.Bytes()); err != nil {
			return fmt.Errorf("backup: write chunk: %w", err)
		}
		if _, err := xw.Write(lenBuf[:]); err != nil {
			return fmt.Errorf("backup: write chunk: %w", err)
		}
		if _, err := xw.Write(value); err != nil {
			return fmt.Errorf("backup: write chunk: %w", err)
		}
	}
	if err := xw.Close(); err != nil {
		return fmt.Errorf("backup: finish archive: %w", err)
	}
	return nil
}

// Import restores chunks from r into the store and returns how many were
// written. Chunks already present are skipped by the store's idempotent
// put.
func Import(ctx context.Context, store *chunkstore.Store, r io.Reader) (int, error) {
	xr, err := xz.NewReader(r)
	if err != nil {
		return 0, fmt.Errorf("backup: open archive: %w", err)
	}

	magic := make([]byte, len(streamMagic))
	if _, err := io.ReadFull(xr, magic); err != nil {
		return 0, fmt.Errorf("%w: missing header", ErrBadArchive)
	}
	if string(magic) != string(streamMagic) {
		return 0, fmt.Errorf("%w: bad header", ErrBadArchive)
	}

	restored := 0
	var addrBuf [32]byte
	var lenBuf [4]byte
	for {
		if err := ctx.Err(); err != nil {
			return restored, err
		}
		if _, err := io.ReadFull(xr, addrBuf[:]); err != nil {
			if errors.Is(err, io.EOF) {
				return restored, nil
			}
			return restored, fmt.Errorf("%w: truncated entry", ErrBadArchive)
		}
		if _, err := io.ReadFull(xr, lenBuf[:]); err != nil {
			return restored, fmt.Errorf("%w: truncated entry", ErrBadArchive)
		}
		length := binary.LittleEndian.Uint32(lenBuf[:])
		if length == 0 || length > uint32(types.MaxChunkSize) {
			return restored, fmt.Errorf("%w: entry size %d", ErrBadArchive, length)
		}
		value := make([]byte, length)
		if _, err := io.ReadFull(xr, value); err != nil {
			return restored, fmt.Errorf("%w: truncated entry", ErrBadArchive)
		}

		var addr types.XorName
		if err := addr.FromBytes(addrBuf[:]); err != nil {
			return restored, fmt.Errorf("%w: %v", ErrBadArchive, err)
		}
		chunk := types.Chunk{Address: addr, Value: value}
		if !chunk.Verify() {
			return restored, fmt.Errorf("%w: chunk does not match address %s", ErrBadArchive, addr)
		}
		if err := store.Put(chunk); err != nil {
			return restored, fmt.Errorf("backup: restore %s: %w", addr, err)
		}
		restored++
	}
}

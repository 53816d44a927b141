// Package chunkstore persists chunks on an adult's local disk. The layout is
// a two-level prefix tree derived from the address bytes, which bounds
// directory fan-out:
//
//	root/hex(addr[0])/hex(addr[1])/<64-char lowercase hex address>
//
// Files carry the raw payload with no header or trailer.
package chunkstore

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/i5heu/xorvault/pkg/selfencryption"
	"github.com/i5heu/xorvault/pkg/types"
)

var (
	ErrBadAddress   = errors.New("chunkstore: payload hash disagrees with address")
	ErrNotFound     = errors.New("chunkstore: chunk not found")
	ErrNoSpace      = errors.New("chunkstore: insufficient space")
	ErrAccessDenied = errors.New("chunkstore: requester key does not match owner")
	ErrTooLarge     = errors.New("chunkstore: chunk exceeds size ceiling")
)

type Config struct {
	// Root is the chunk store directory; created if absent.
	Root string
	// MaxBytes caps the total payload bytes stored. Zero means no cap.
	MaxBytes uint64
	// MinFreeBytes refuses writes when the filesystem has less free space
	// than this. Zero disables the guard.
	MinFreeBytes uint64
	Logger       *logrus.Logger
}

// Store is safe for concurrent use. Writes go through create-temp, write,
// fsync, rename, so a crash never leaves a partial payload readable at its
// final name; the integrity-on-read check catches anything that slips
// through anyway.
type Store struct {
	config    Config
	log       *logrus.Logger
	usedBytes atomic.Uint64

	// putMu serializes same-address puts only; distinct addresses do not
	// contend. has->put is still not atomic for callers, which is fine
	// because put is idempotent.
	putMu sync.Map // types.ChunkAddress -> *sync.Mutex
}

func New(config Config) (*Store, error) {
	if config.Logger == nil {
		config.Logger = logrus.New()
	}
	if config.Root == "" {
		return nil, fmt.Errorf("chunkstore: root path is required")
	}
	if err := os.MkdirAll(filepath.Join(config.Root, "tmp"), 0o700); err != nil {
		return nil, fmt.Errorf("chunkstore: create root: %w", err)
	}

	s := &Store{config: config, log: config.Logger}

	used, err := s.scanUsedBytes()
	if err != nil {
		return nil, fmt.Errorf("chunkstore: scan existing chunks: %w", err)
	}
	s.usedBytes.Store(used)

	s.log.WithFields(logrus.Fields{
		"root":      config.Root,
		"usedBytes": used,
	}).Info("chunk store opened")
	return s, nil
}

// Put persists a chunk. Idempotent: storing an address that already exists
// succeeds without touching disk.
func (s *Store) Put(chunk types.Chunk) error {
	if !chunk.WithinLimit() {
		return fmt.Errorf("%w: %d bytes", ErrTooLarge, len(chunk.Value))
	}
	if !chunk.Verify() {
		return fmt.Errorf("%w: %s", ErrBadAddress, chunk.Address)
	}

	mu := s.lockFor(chunk.Address)
	mu.Lock()
	defer mu.Unlock()

	path := s.pathFor(chunk.Address)
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	if err := s.checkSpace(uint64(len(chunk.Value))); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("chunkstore: create prefix dirs: %w", err)
	}
	if err := s.writeDurable(path, chunk.Value); err != nil {
		return err
	}
	s.usedBytes.Add(uint64(len(chunk.Value)))
	return nil
}

// Get reads a chunk and re-derives its address. A missing file, a short
// read and a corrupted payload all come back as ErrNotFound; corruption is
// additionally logged.
func (s *Store) Get(addr types.ChunkAddress) (types.Chunk, error) {
	value, err := os.ReadFile(s.pathFor(addr))
	if err != nil {
		if os.IsNotExist(err) {
			return types.Chunk{}, ErrNotFound
		}
		return types.Chunk{}, fmt.Errorf("chunkstore: read %s: %w", addr, err)
	}
	if types.NameOf(value) != addr {
		s.log.WithField("address", addr.String()).Warn("stored payload fails integrity check")
		return types.Chunk{}, ErrNotFound
	}
	return types.Chunk{Address: addr, Value: value}, nil
}

// Has reports whether the address exists on disk. Not atomic with respect
// to a concurrent Put.
func (s *Store) Has(addr types.ChunkAddress) bool {
	_, err := os.Stat(s.pathFor(addr))
	return err == nil
}

// Delete removes a private chunk if requesterKey hashes to the owner tag
// embedded in the payload. Public chunks (no parsable tag) are never
// deleted through this path.
func (s *Store) Delete(addr types.ChunkAddress, requesterKey []byte) error {
	mu := s.lockFor(addr)
	mu.Lock()
	defer mu.Unlock()

	path := s.pathFor(addr)
	value, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("chunkstore: read %s: %w", addr, err)
	}

	tag, ok := selfencryption.OwnerTag(value)
	if !ok || tag != selfencryption.OwnerTagOf(requesterKey) {
		return ErrAccessDenied
	}

	if err := os.Remove(path); err != nil {
		return fmt.Errorf("chunkstore: remove %s: %w", addr, err)
	}
	used := s.usedBytes.Load()
	if n := uint64(len(value)); used >= n {
		s.usedBytes.Add(^(n - 1))
	}
	return nil
}

// Keys walks the prefix tree and yields every stored address.
func (s *Store) Keys() ([]types.ChunkAddress, error) {
	var addrs []types.ChunkAddress
	err := filepath.WalkDir(s.config.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == "tmp" && filepath.Dir(path) == s.config.Root {
				return filepath.SkipDir
			}
			return nil
		}
		addr, perr := types.NameFromHex(d.Name())
		if perr != nil {
			// Stray file; not ours.
			return nil
		}
		addrs = append(addrs, addr)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("chunkstore: walk: %w", err)
	}
	return addrs, nil
}

// UsedBytes returns the tracked payload byte total.
func (s *Store) UsedBytes() uint64 {
	return s.usedBytes.Load()
}

// StorageLevel maps used space onto 0..10. Each step is ten percent of the
// configured cap; with no cap the level stays at zero.
func (s *Store) StorageLevel() uint8 {
	if s.config.MaxBytes == 0 {
		return 0
	}
	level := 10 * s.usedBytes.Load() / s.config.MaxBytes
	if level > 10 {
		level = 10
	}
	return uint8(level)
}

func (s *Store) pathFor(addr types.ChunkAddress) string {
	hexAddr := addr.String()
	return filepath.Join(
		s.config.Root,
		hex.EncodeToString(addr[:1]),
		hex.EncodeToString(addr[1:2]),
		hexAddr,
	)
}

func (s *Store) lockFor(addr types.ChunkAddress) *sync.Mutex {
	v, _ := s.putMu.LoadOrStore(addr, &sync.Mutex{})
	return v.(*sync.Mutex)
}

func (s *Store) checkSpace(incoming uint64) error {
	if s.config.MaxBytes > 0 && s.usedBytes.Load()+incoming > s.config.MaxBytes {
		return ErrNoSpace
	}
	if s.config.MinFreeBytes > 0 {
		free, err := freeDiskBytes(s.config.Root)
		if err != nil {
			s.log.WithError(err).Warn("cannot determine free disk space")
			return nil
		}
		if free < s.config.MinFreeBytes+incoming {
			return ErrNoSpace
		}
	}
	return nil
}

func (s *Store) writeDurable(path string, value []byte) error {
	tmp, err := os.CreateTemp(filepath.Join(s.config.Root, "tmp"), "put-*")
	if err != nil {
		return fmt.Errorf("chunkstore: create temp: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		return fmt.Errorf("chunkstore: write temp: %w", err)
	}
	// The sync is what guarantees the next read sees a complete payload.
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("chunkstore: sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("chunkstore: close temp: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("chunkstore: rename into place: %w", err)
	}
	return nil
}

func (s *Store) scanUsedBytes() (uint64, error) {
	var total uint64
	err := filepath.WalkDir(s.config.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == "tmp" && filepath.Dir(path) == s.config.Root {
				return filepath.SkipDir
			}
			return nil
		}
		info, ierr := d.Info()
		if ierr != nil {
			return ierr
		}
		total += uint64(info.Size())
		return nil
	})
	return total, err
}

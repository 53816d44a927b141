// Package registry implements the elder-side chunk records registry: which
// adults were chosen to hold each chunk and which of them acked the store.
// It is a rebuildable cache persisted in BadgerDB under the elder's data
// root; repair falls back to pure placement when a record is missing, so the
// chunk store stays the only authoritative persistence.
package registry

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"github.com/i5heu/xorvault/pkg/types"
)

// prefixRecord is the BadgerDB key prefix for chunk records.
const prefixRecord = "reg:chunk:"

// Record tracks one chunk's holder bookkeeping.
type Record struct {
	Address   types.ChunkAddress
	Holders   []types.XorName
	Acked     []types.XorName
	WrittenAt time.Time
	UpdatedAt time.Time
}

// AckCount returns how many holders confirmed the store.
func (r *Record) AckCount() int {
	return len(r.Acked)
}

func (r *Record) hasAck(holder types.XorName) bool {
	for _, a := range r.Acked {
		if a == holder {
			return true
		}
	}
	return false
}

// Registry is safe for concurrent use.
type Registry struct {
	db  *badger.DB
	log *logrus.Logger
	mu  sync.Mutex

	// active holds records of writes still collecting acks.
	active map[types.ChunkAddress]*Record
}

// Open creates or reopens a registry at path.
func Open(path string, log *logrus.Logger) (*Registry, error) {
	if log == nil {
		log = logrus.New()
	}
	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("registry: open badger at %s: %w", path, err)
	}
	return &Registry{
		db:     db,
		log:    log,
		active: make(map[types.ChunkAddress]*Record),
	}, nil
}

func (r *Registry) Close() error {
	return r.db.Close()
}

// RecordTargets notes the holder set chosen for a chunk at write time.
func (r *Registry) RecordTargets(addr types.ChunkAddress, holders []types.XorName) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	rec := &Record{
		Address:   addr,
		Holders:   append([]types.XorName(nil), holders...),
		WrittenAt: now,
		UpdatedAt: now,
	}
	if err := r.persist(rec); err != nil {
		return err
	}
	r.active[addr] = rec
	return nil
}

// RecordAck registers a holder's store ack and returns the new ack count.
func (r *Registry) RecordAck(addr types.ChunkAddress, holder types.XorName) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.active[addr]
	if !ok {
		var err error
		rec, err = r.load(addr)
		if err != nil {
			return 0, fmt.Errorf("registry: no record for %s: %w", addr, err)
		}
		r.active[addr] = rec
	}

	if !rec.hasAck(holder) {
		rec.Acked = append(rec.Acked, holder)
		rec.UpdatedAt = time.Now()
		if err := r.persist(rec); err != nil {
			return 0, err
		}
	}
	return rec.AckCount(), nil
}

// SetHolders replaces a chunk's holder set after repair re-placed it.
func (r *Registry) SetHolders(addr types.ChunkAddress, holders []types.XorName) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, err := r.load(addr)
	if err != nil {
		rec = &Record{Address: addr, WrittenAt: time.Now()}
	}
	rec.Holders = append([]types.XorName(nil), holders...)
	rec.UpdatedAt = time.Now()
	delete(r.active, addr)
	return r.persist(rec)
}

// Holders returns the recorded holder set for a chunk, or ok=false when the
// chunk was never registered here.
func (r *Registry) Holders(addr types.ChunkAddress) ([]types.XorName, bool) {
	r.mu.Lock()
	if rec, ok := r.active[addr]; ok {
		holders := append([]types.XorName(nil), rec.Holders...)
		r.mu.Unlock()
		return holders, true
	}
	r.mu.Unlock()

	rec, err := r.load(addr)
	if err != nil {
		return nil, false
	}
	return rec.Holders, true
}

// RecordsLosingHolders scans for chunks whose recorded holder set
// intersects the removed names. Used on churn to find repair candidates.
func (r *Registry) RecordsLosingHolders(removed types.NameSet) ([]Record, error) {
	var out []Record
	err := r.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(prefixRecord)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			err := item.Value(func(v []byte) error {
				var rec Record
				if derr := gob.NewDecoder(bytes.NewReader(v)).Decode(&rec); derr != nil {
					// Skip corrupted records.
					return nil
				}
				for _, h := range rec.Holders {
					if removed.Has(h) {
						out = append(out, rec)
						break
					}
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("registry: scan: %w", err)
	}
	return out, nil
}

// Forget drops a chunk's record, after a delete propagated.
func (r *Registry) Forget(addr types.ChunkAddress) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.active, addr)
	err := r.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(keyFor(addr))
	})
	if err != nil {
		return fmt.Errorf("registry: forget %s: %w", addr, err)
	}
	return nil
}

func keyFor(addr types.ChunkAddress) []byte {
	return []byte(prefixRecord + addr.String())
}

func (r *Registry) persist(rec *Record) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(rec); err != nil {
		return fmt.Errorf("registry: encode record: %w", err)
	}
	err := r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(keyFor(rec.Address), buf.Bytes())
	})
	if err != nil {
		return fmt.Errorf("registry: persist record: %w", err)
	}
	return nil
}

func (r *Registry) load(addr types.ChunkAddress) (*Record, error) {
	var rec Record
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(keyFor(addr))
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			return gob.NewDecoder(bytes.NewReader(v)).Decode(&rec)
		})
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Package adult implements the storage node role: it serves the chunk wire
// messages from a local chunk store, reports fill-level transitions to its
// elders and pushes replicas to new holders on membership changes.
package adult

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/i5heu/xorvault/internal/chunkstore"
	"github.com/i5heu/xorvault/pkg/placement"
	"github.com/i5heu/xorvault/pkg/types"
	"github.com/i5heu/xorvault/pkg/wire"
)

// PeerClient pushes a replica to another adult during churn repair.
type PeerClient interface {
	Store(ctx context.Context, peer types.XorName, msg wire.StoreChunk) (wire.Message, error)
}

// LevelReporter delivers a storage-level transition to the elders.
type LevelReporter interface {
	ReportStorageLevel(ctx context.Context, msg wire.StorageLevel) error
}

type Config struct {
	Name              types.XorName
	ReplicationFactor int
	RepairBatchSize   int
	RepairThrottle    time.Duration
	Logger            *logrus.Logger
}

func (c *Config) applyDefaults() {
	if c.ReplicationFactor == 0 {
		c.ReplicationFactor = placement.DefaultReplicationFactor
	}
	if c.RepairBatchSize == 0 {
		c.RepairBatchSize = 50
	}
	if c.RepairThrottle == 0 {
		c.RepairThrottle = 5 * time.Second
	}
	if c.Logger == nil {
		c.Logger = logrus.New()
	}
}

// Node is one adult. Safe for concurrent use.
type Node struct {
	config   Config
	log      *logrus.Logger
	store    *chunkstore.Store
	peers    PeerClient
	reporter LevelReporter

	mu            sync.Mutex
	members       types.NameSet
	reportedLevel uint8
}

func NewNode(config Config, store *chunkstore.Store, peers PeerClient, reporter LevelReporter) *Node {
	config.applyDefaults()
	return &Node{
		config:   config,
		log:      config.Logger,
		store:    store,
		peers:    peers,
		reporter: reporter,
		members:  make(types.NameSet),
	}
}

// Name returns the adult's network name.
func (n *Node) Name() types.XorName {
	return n.config.Name
}

// Store gives direct access to the local chunk store, for export tooling.
func (n *Node) Store() *chunkstore.Store {
	return n.store
}

// HandleStore persists the chunk and acks. A repeated store of the same
// chunk acks without touching disk. Level transitions caused by the write
// are reported before the ack goes out, so elders never ack a write on an
// adult they should already consider fuller.
func (n *Node) HandleStore(ctx context.Context, msg wire.StoreChunk) wire.Message {
	addr := msg.Chunk.Address
	if err := n.store.Put(msg.Chunk); err != nil {
		return wire.StoreErr{Address: addr, Kind: storeErrKind(err)}
	}
	n.maybeReportLevel(ctx)
	return wire.StoreAck{Address: addr}
}

// HandleGet serves a chunk read. Corrupt on-disk data surfaces as NotFound.
func (n *Node) HandleGet(_ context.Context, msg wire.GetChunk) wire.Message {
	chunk, err := n.store.Get(msg.Address)
	if err != nil {
		return wire.GetErr{Address: msg.Address, OpID: msg.OpID, Kind: storeErrKind(err)}
	}
	return wire.ChunkData{Address: msg.Address, OpID: msg.OpID, Value: chunk.Value}
}

// HandleDelete removes a private chunk when the requester is its owner.
// Deleting an absent chunk acks cleanly.
func (n *Node) HandleDelete(ctx context.Context, msg wire.DeleteChunk) wire.Message {
	err := n.store.Delete(msg.Address, msg.RequesterAuth)
	switch {
	case err == nil, errors.Is(err, chunkstore.ErrNotFound):
		n.maybeReportLevel(ctx)
		return wire.DeleteAck{Address: msg.Address, Kind: wire.KindNone}
	case errors.Is(err, chunkstore.ErrAccessDenied):
		return wire.DeleteAck{Address: msg.Address, Kind: wire.KindAccessDenied}
	default:
		n.log.WithError(err).WithField("address", msg.Address.String()).
			Warn("delete failed")
		return wire.DeleteAck{Address: msg.Address, Kind: wire.KindBadAddress}
	}
}

// HandleMembersChanged updates the local membership view and pushes
// replicas of locally held chunks to their new holders.
func (n *Node) HandleMembersChanged(ctx context.Context, msg wire.MembersChanged) error {
	oldMembers := n.swapMembers(msg.Remaining)
	if len(oldMembers) == 0 {
		// First view; nothing to compare placements against.
		return nil
	}
	return n.pushReplicas(ctx, oldMembers)
}

// SeedMembers installs an initial membership view without triggering repair.
func (n *Node) SeedMembers(members []types.XorName) {
	n.swapMembers(members)
}

func (n *Node) swapMembers(remaining []types.XorName) types.NameSet {
	next := make(types.NameSet, len(remaining))
	for _, m := range remaining {
		next.Add(m)
	}
	n.mu.Lock()
	old := n.members
	n.members = next
	n.mu.Unlock()
	return old
}

func (n *Node) currentMembers() types.NameSet {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.members.Clone()
}

// maybeReportLevel reports the store's level if it moved past the last
// reported one. Levels only go up on the wire; frees do not walk reports
// back because elders treat levels as monotonic anyway.
func (n *Node) maybeReportLevel(ctx context.Context) {
	if n.reporter == nil {
		return
	}
	level := n.store.StorageLevel()

	n.mu.Lock()
	if level <= n.reportedLevel {
		n.mu.Unlock()
		return
	}
	n.reportedLevel = level
	n.mu.Unlock()

	report := wire.StorageLevel{Node: n.config.Name, Level: level}
	if err := n.reporter.ReportStorageLevel(ctx, report); err != nil {
		n.log.WithError(err).Warn("cannot report storage level")
		return
	}
	n.log.WithFields(logrus.Fields{
		"level": level,
	}).Info("reported storage level transition")
}

func storeErrKind(err error) wire.ErrKind {
	switch {
	case errors.Is(err, chunkstore.ErrBadAddress), errors.Is(err, chunkstore.ErrTooLarge):
		return wire.KindBadAddress
	case errors.Is(err, chunkstore.ErrNotFound):
		return wire.KindNotFound
	case errors.Is(err, chunkstore.ErrNoSpace):
		return wire.KindNoSpace
	case errors.Is(err, chunkstore.ErrAccessDenied):
		return wire.KindAccessDenied
	default:
		return wire.KindBadAddress
	}
}

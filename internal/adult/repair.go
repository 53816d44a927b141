package adult

import (
	"context"
	"errors"
	"time"

	"github.com/i5heu/xorvault/internal/chunkstore"
	"github.com/i5heu/xorvault/pkg/placement"
	"github.com/i5heu/xorvault/pkg/types"
	"github.com/i5heu/xorvault/pkg/wire"
)

// pushReplicas walks the local chunk keys and pushes each chunk this adult
// held under the old placement to holders that are new under the current
// one. Work runs in throttled batches so a large store does not flood the
// section right after churn.
func (n *Node) pushReplicas(ctx context.Context, oldMembers types.NameSet) error {
	if n.peers == nil {
		return nil
	}
	newMembers := n.currentMembers()

	addrs, err := n.store.Keys()
	if err != nil {
		return err
	}

	pushed := 0
	for _, addr := range addrs {
		oldHolders := placement.Holders(addr, oldMembers, n.config.ReplicationFactor)
		if !contains(oldHolders, n.config.Name) {
			continue
		}
		newHolders := placement.Holders(addr, newMembers, n.config.ReplicationFactor)
		for _, holder := range newHolders {
			if holder == n.config.Name || contains(oldHolders, holder) {
				continue
			}
			if err := n.pushOne(ctx, addr, holder); err != nil {
				n.log.WithError(err).WithField("address", addr.String()).
					Warn("replica push failed")
				continue
			}
			pushed++
			if pushed%n.config.RepairBatchSize == 0 {
				select {
				case <-time.After(n.config.RepairThrottle):
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	}
	if pushed > 0 {
		n.log.WithField("replicas", pushed).Info("pushed replicas after membership change")
	}
	return nil
}

func (n *Node) pushOne(ctx context.Context, addr types.ChunkAddress, holder types.XorName) error {
	chunk, err := n.store.Get(addr)
	if err != nil {
		// The key iterator raced a delete; nothing to push.
		if errors.Is(err, chunkstore.ErrNotFound) {
			return nil
		}
		return err
	}
	resp, err := n.peers.Store(ctx, holder, wire.StoreChunk{Chunk: chunk})
	if err != nil {
		return err
	}
	if rej, ok := resp.(wire.StoreErr); ok {
		return errors.New("replica rejected: " + rej.Kind.String())
	}
	return nil
}

func contains(names []types.XorName, name types.XorName) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

package replication

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/i5heu/xorvault/internal/capacity"
	"github.com/i5heu/xorvault/pkg/placement"
	"github.com/i5heu/xorvault/pkg/types"
	"github.com/i5heu/xorvault/pkg/wire"
)

// HandleChurn applies a membership change: the view and trackers are
// updated, every remaining adult is notified so the holder-side push
// replication starts, and the elder re-places the chunks it knows lost a
// holder. The elder-side pass is a safety net on top of the adult push; it
// only covers chunks with a registry record and degrades to nothing when
// the registry is empty.
func (c *Controller) HandleChurn(ctx context.Context, newView types.SectionView) error {
	oldView := c.View()

	added := make([]types.XorName, 0)
	removed := make(types.NameSet)
	for name := range newView.Members {
		if oldView.Members == nil || !oldView.Members.Has(name) {
			added = append(added, name)
		}
	}
	for name := range oldView.Members {
		if !newView.Members.Has(name) {
			removed.Add(name)
		}
	}

	c.UpdateView(newView)

	if len(added) == 0 && len(removed) == 0 {
		return nil
	}
	c.log.WithFields(logrus.Fields{
		"added":   len(added),
		"removed": len(removed),
		"members": len(newView.Members),
	}).Info("section membership changed")

	notice := wire.MembersChanged{
		Added:     added,
		Removed:   removed.Sorted(),
		Remaining: newView.Members.Sorted(),
	}
	for _, adult := range notice.Remaining {
		if err := c.client.Notify(ctx, adult, notice); err != nil {
			c.log.WithError(err).WithField("adult", adult.String()).
				Warn("cannot deliver membership notice")
		}
	}

	if len(removed) == 0 || c.registry == nil {
		return nil
	}
	return c.repairLostHolders(ctx, removed)
}

// repairLostHolders re-places every registered chunk that lost a holder,
// in throttled batches so repair traffic does not starve client ops.
func (c *Controller) repairLostHolders(ctx context.Context, removed types.NameSet) error {
	records, err := c.registry.RecordsLosingHolders(removed)
	if err != nil {
		return fmt.Errorf("replication: find repair candidates: %w", err)
	}
	if len(records) == 0 {
		return nil
	}
	c.log.WithField("chunks", len(records)).Info("repairing chunks after churn")

	view := c.View()
	full := c.capacity.FullAdults()

	for i, rec := range records {
		if i > 0 && i%c.config.BatchSize == 0 {
			select {
			case <-time.After(c.config.Throttle):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err := c.repairOne(ctx, rec.Address, rec.Holders, view, full, removed); err != nil {
			c.log.WithError(err).WithField("address", rec.Address.String()).
				Warn("repair failed for chunk")
		}
	}
	return nil
}

func (c *Controller) repairOne(
	ctx context.Context,
	addr types.ChunkAddress,
	oldHolders []types.XorName,
	view types.SectionView,
	full types.NameSet,
	removed types.NameSet,
) error {
	newTargets := placement.HoldersExcluding(addr, view.Members, full, c.config.ReplicationFactor)
	if len(newTargets) == 0 {
		return ErrNoAdults
	}

	surviving := make(types.NameSet)
	for _, h := range oldHolders {
		if !removed.Has(h) {
			surviving.Add(h)
		}
	}

	missing := make([]types.XorName, 0, len(newTargets))
	for _, t := range newTargets {
		if !surviving.Has(t) {
			missing = append(missing, t)
		}
	}
	if len(missing) == 0 {
		return c.registry.SetHolders(addr, newTargets)
	}

	chunk, err := c.GetChunk(ctx, addr)
	if err != nil {
		return fmt.Errorf("fetch for repair: %w", err)
	}

	msg := wire.StoreChunk{Chunk: chunk}
	for _, target := range missing {
		resp, err := c.client.Store(ctx, target, msg)
		if err != nil {
			return fmt.Errorf("repair store to %s: %w", target, err)
		}
		if rej, ok := resp.(wire.StoreErr); ok {
			if rej.Kind == wire.KindNoSpace {
				c.capacity.RecordFill(target, capacity.FullThreshold)
			}
			return fmt.Errorf("%w during repair by %s: %s", ErrStoreRejected, target, rej.Kind)
		}
	}
	return c.registry.SetHolders(addr, newTargets)
}

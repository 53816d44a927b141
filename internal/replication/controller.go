// Package replication implements the elder-side chunk replication
// controller: write fan-out with a durability quorum, parallel reads with
// first-valid-response wins, and churn-driven repair.
package replication

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/i5heu/xorvault/internal/capacity"
	"github.com/i5heu/xorvault/internal/liveness"
	"github.com/i5heu/xorvault/internal/registry"
	"github.com/i5heu/xorvault/pkg/cache"
	"github.com/i5heu/xorvault/pkg/placement"
	"github.com/i5heu/xorvault/pkg/types"
	"github.com/i5heu/xorvault/pkg/wire"
)

var (
	ErrNotFound      = errors.New("replication: chunk not found on any holder")
	ErrNoQuorum      = errors.New("replication: store did not reach durability quorum")
	ErrNoAdults      = errors.New("replication: no adults available")
	ErrAccessDenied  = errors.New("replication: delete denied")
	ErrStoreRejected = errors.New("replication: store rejected")
)

// AdultClient moves wire messages to one adult. The QUIC transport behind it
// is out of scope; tests use the loopback.
type AdultClient interface {
	Store(ctx context.Context, adult types.XorName, msg wire.StoreChunk) (wire.Message, error)
	Get(ctx context.Context, adult types.XorName, msg wire.GetChunk) (wire.Message, error)
	Delete(ctx context.Context, adult types.XorName, msg wire.DeleteChunk) (wire.Message, error)
	Notify(ctx context.Context, adult types.XorName, msg wire.MembersChanged) error
}

type Config struct {
	ReplicationFactor int
	BatchSize         int
	Throttle          time.Duration
	Logger            *logrus.Logger
}

func (c *Config) applyDefaults() {
	if c.ReplicationFactor == 0 {
		c.ReplicationFactor = placement.DefaultReplicationFactor
	}
	if c.BatchSize == 0 {
		c.BatchSize = 50
	}
	if c.Throttle == 0 {
		c.Throttle = 5 * time.Second
	}
	if c.Logger == nil {
		c.Logger = logrus.New()
	}
}

// Controller is safe for concurrent use.
type Controller struct {
	config   Config
	log      *logrus.Logger
	client   AdultClient
	capacity *capacity.Tracker
	liveness *liveness.Tracker
	registry *registry.Registry // optional; repair degrades without it
	cache    *cache.Cache       // optional read acceleration

	viewMu sync.RWMutex
	view   types.SectionView

	nonce atomic.Uint64
}

func NewController(
	config Config,
	client AdultClient,
	cap *capacity.Tracker,
	live *liveness.Tracker,
	reg *registry.Registry,
	chunkCache *cache.Cache,
) *Controller {
	config.applyDefaults()
	return &Controller{
		config:   config,
		log:      config.Logger,
		client:   client,
		capacity: cap,
		liveness: live,
		registry: reg,
		cache:    chunkCache,
	}
}

// UpdateView replaces the membership snapshot and reconciles the trackers.
func (c *Controller) UpdateView(view types.SectionView) {
	c.viewMu.Lock()
	old := c.view
	c.view = view
	c.viewMu.Unlock()

	c.capacity.RetainMembersOnly(view.Members)
	c.liveness.RetainMembersOnly(view.Members)
	for name := range view.Members {
		if old.Members == nil || !old.Members.Has(name) {
			c.capacity.AddNewAdult(name)
			c.liveness.AddNewAdult(name)
		}
	}
}

// View returns the current membership snapshot.
func (c *Controller) View() types.SectionView {
	c.viewMu.RLock()
	defer c.viewMu.RUnlock()
	return c.view
}

func (c *Controller) quorum() int {
	return placement.Quorum(c.config.ReplicationFactor)
}

// StoreChunk fans the chunk out to its holders and returns once the
// durability quorum acked. Full adults are not offered new chunks. A
// NoSpace rejection marks the adult full immediately; other rejections
// surface after the fan-out if the quorum was missed.
func (c *Controller) StoreChunk(ctx context.Context, chunk types.Chunk) error {
	view := c.View()
	targets := placement.HoldersExcluding(
		chunk.Address, view.Members, c.capacity.FullAdults(), c.config.ReplicationFactor)
	if len(targets) == 0 {
		return ErrNoAdults
	}

	if c.registry != nil {
		if err := c.registry.RecordTargets(chunk.Address, targets); err != nil {
			c.log.WithError(err).Warn("cannot record store targets")
		}
	}

	msg := wire.StoreChunk{Chunk: chunk}

	var (
		mu       sync.Mutex
		acks     int
		firstErr error
	)
	var wg sync.WaitGroup
	for _, target := range targets {
		target := target
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := c.client.Store(ctx, target, msg)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				if firstErr == nil {
					firstErr = fmt.Errorf("store to %s: %w", target, err)
				}
			default:
				switch m := resp.(type) {
				case wire.StoreAck:
					acks++
					if c.registry != nil {
						if _, rerr := c.registry.RecordAck(chunk.Address, target); rerr != nil {
							c.log.WithError(rerr).Warn("cannot record store ack")
						}
					}
				case wire.StoreErr:
					if m.Kind == wire.KindNoSpace {
						// Report once per transition; RecordFill is
						// monotonic so repeats are no-ops.
						c.capacity.RecordFill(target, capacity.FullThreshold)
					}
					if firstErr == nil {
						firstErr = fmt.Errorf("%w by %s: %s", ErrStoreRejected, target, m.Kind)
					}
				}
			}
		}()
	}
	wg.Wait()

	if acks >= c.quorum() {
		if c.cache != nil {
			c.cache.Insert(chunk.Address, chunk.Value)
		}
		return nil
	}
	if firstErr != nil {
		return fmt.Errorf("%w (%d/%d acks): %v", ErrNoQuorum, acks, c.quorum(), firstErr)
	}
	return fmt.Errorf("%w (%d/%d acks)", ErrNoQuorum, acks, c.quorum())
}

// GetChunk queries the read candidates in parallel and returns the first
// response whose payload verifies against the address; the rest are
// cancelled. Every issued query is registered as a pending op until its
// response arrives.
func (c *Controller) GetChunk(ctx context.Context, addr types.ChunkAddress) (types.Chunk, error) {
	if c.cache != nil {
		if value, ok := c.cache.Get(addr); ok {
			return types.Chunk{Address: addr, Value: value}, nil
		}
	}

	view := c.View()
	targets := placement.ReadCandidates(addr, view.Members, c.capacity.FullAdults(), c.config.ReplicationFactor)
	if len(targets) == 0 {
		return types.Chunk{}, ErrNoAdults
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		chunk types.Chunk
		ok    bool
	}
	results := make(chan result, len(targets))

	for _, target := range targets {
		target := target
		op := types.OperationID(addr, c.nonce.Add(1))
		c.liveness.RegisterPending(target, op)
		go func() {
			resp, err := c.client.Get(ctx, target, wire.GetChunk{Address: addr, OpID: op})
			if err != nil {
				// No response: the pending op stays until a later
				// response or membership reconciliation clears it.
				results <- result{}
				return
			}
			c.liveness.Resolve(target, op)
			data, ok := resp.(wire.ChunkData)
			if !ok {
				results <- result{}
				return
			}
			chunk := types.Chunk{Address: addr, Value: data.Value}
			if !chunk.Verify() {
				c.log.WithFields(logrus.Fields{
					"address": addr.String(),
					"adult":   target.String(),
				}).Warn("holder returned corrupt chunk")
				results <- result{}
				return
			}
			results <- result{chunk: chunk, ok: true}
		}()
	}

	for range targets {
		select {
		case res := <-results:
			if res.ok {
				if c.cache != nil {
					c.cache.Insert(addr, res.chunk.Value)
				}
				return res.chunk, nil
			}
		case <-ctx.Done():
			return types.Chunk{}, ctx.Err()
		}
	}
	return types.Chunk{}, ErrNotFound
}

// DeleteChunk propagates a private-chunk delete to every holder. Access
// denial from any holder fails the operation; a holder that no longer has
// the chunk counts as done.
func (c *Controller) DeleteChunk(ctx context.Context, addr types.ChunkAddress, requesterAuth []byte) error {
	view := c.View()
	var targets []types.XorName
	var ok bool
	if c.registry != nil {
		targets, ok = c.registry.Holders(addr)
	}
	if !ok || len(targets) == 0 {
		targets = placement.Holders(addr, view.Members, c.config.ReplicationFactor)
	}
	if len(targets) == 0 {
		return ErrNoAdults
	}

	msg := wire.DeleteChunk{Address: addr, RequesterAuth: requesterAuth}
	var (
		mu       sync.Mutex
		firstErr error
	)
	var wg sync.WaitGroup
	for _, target := range targets {
		target := target
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := c.client.Delete(ctx, target, msg)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = fmt.Errorf("delete at %s: %w", target, err)
				}
				return
			}
			if ack, ok := resp.(wire.DeleteAck); ok && ack.Kind == wire.KindAccessDenied {
				firstErr = ErrAccessDenied
			}
		}()
	}
	wg.Wait()

	if firstErr != nil {
		return firstErr
	}
	if c.registry != nil {
		if err := c.registry.Forget(addr); err != nil {
			c.log.WithError(err).Warn("cannot drop chunk record")
		}
	}
	if c.cache != nil {
		c.cache.Remove(addr)
	}
	return nil
}

// Unresponsive returns the liveness tracker's current verdicts for the
// membership layer.
func (c *Controller) Unresponsive() []liveness.Verdict {
	return c.liveness.Unresponsive()
}

// RecordStorageLevel applies an adult's reported fill level.
func (c *Controller) RecordStorageLevel(adult types.XorName, level uint8) bool {
	changed := c.capacity.RecordFill(adult, level)
	if changed {
		c.log.WithFields(logrus.Fields{
			"adult":    adult.String(),
			"level":    level,
			"avgUsage": c.capacity.AvgUsage(),
		}).Info("storage level recorded")
	}
	return changed
}

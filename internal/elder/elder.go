// Package elder wires the section-authority side together: the replication
// controller, the capacity and liveness trackers and the chunk registry,
// plus the periodic liveness sweep that surfaces unresponsive adults.
package elder

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/i5heu/xorvault/internal/capacity"
	"github.com/i5heu/xorvault/internal/liveness"
	"github.com/i5heu/xorvault/internal/registry"
	"github.com/i5heu/xorvault/internal/replication"
	"github.com/i5heu/xorvault/pkg/cache"
	"github.com/i5heu/xorvault/pkg/types"
	"github.com/i5heu/xorvault/pkg/wire"
)

type Config struct {
	Name              types.XorName
	ReplicationFactor int
	CacheCapacity     int
	RegistryPath      string // empty disables the registry
	SweepInterval     time.Duration
	Logger            *logrus.Logger
}

func (c *Config) applyDefaults() {
	if c.CacheCapacity == 0 {
		c.CacheCapacity = 512
	}
	if c.SweepInterval == 0 {
		c.SweepInterval = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = logrus.New()
	}
}

// UnresponsiveFunc receives the verdicts of each liveness sweep. The
// membership layer behind it decides whether to eject anyone.
type UnresponsiveFunc func(verdicts []liveness.Verdict)

// Elder is one section authority node. Safe for concurrent use.
type Elder struct {
	config     Config
	log        *logrus.Logger
	controller *replication.Controller
	capacity   *capacity.Tracker
	registry   *registry.Registry

	onUnresponsive UnresponsiveFunc

	sweepMu  sync.Mutex
	sweeping bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func New(config Config, client replication.AdultClient, view types.SectionView) (*Elder, error) {
	config.applyDefaults()

	var reg *registry.Registry
	if config.RegistryPath != "" {
		var err error
		reg, err = registry.Open(config.RegistryPath, config.Logger)
		if err != nil {
			return nil, err
		}
	}

	capTracker := capacity.NewTracker(capacity.FullThreshold, config.Logger)
	liveTracker := liveness.NewTracker(view.Members.Sorted(), config.Logger)
	controller := replication.NewController(
		replication.Config{
			ReplicationFactor: config.ReplicationFactor,
			Logger:            config.Logger,
		},
		client, capTracker, liveTracker, reg,
		cache.New(config.CacheCapacity),
	)
	controller.UpdateView(view)

	return &Elder{
		config:     config,
		log:        config.Logger,
		controller: controller,
		capacity:   capTracker,
		registry:   reg,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}, nil
}

// Name returns the elder's network name.
func (e *Elder) Name() types.XorName {
	return e.config.Name
}

// Controller exposes the replication controller for the client surface.
func (e *Elder) Controller() *replication.Controller {
	return e.controller
}

// StoreChunk handles a client write.
func (e *Elder) StoreChunk(ctx context.Context, chunk types.Chunk) error {
	return e.controller.StoreChunk(ctx, chunk)
}

// GetChunk handles a client read.
func (e *Elder) GetChunk(ctx context.Context, addr types.ChunkAddress) (types.Chunk, error) {
	return e.controller.GetChunk(ctx, addr)
}

// DeleteChunk handles a client delete of a private chunk.
func (e *Elder) DeleteChunk(ctx context.Context, addr types.ChunkAddress, requesterAuth []byte) error {
	return e.controller.DeleteChunk(ctx, addr, requesterAuth)
}

// HandleStorageLevel applies an adult's fill-level report.
func (e *Elder) HandleStorageLevel(msg wire.StorageLevel) {
	e.controller.RecordStorageLevel(msg.Node, msg.Level)
}

// HandleChurn applies a membership change and kicks off repair.
func (e *Elder) HandleChurn(ctx context.Context, view types.SectionView) error {
	return e.controller.HandleChurn(ctx, view)
}

// MetadataForSuccessor snapshots the capacity levels for handover to a
// newly promoted elder.
func (e *Elder) MetadataForSuccessor() map[types.XorName]uint8 {
	return e.capacity.AllLevels()
}

// AbsorbMetadata merges a predecessor elder's capacity snapshot.
func (e *Elder) AbsorbMetadata(levels map[types.XorName]uint8) {
	e.capacity.SetLevels(levels)
}

// StartSweep runs the periodic liveness sweep until Close. Verdicts go to
// fn; a nil fn only logs them. Repeated calls are no-ops.
func (e *Elder) StartSweep(fn UnresponsiveFunc) {
	e.sweepMu.Lock()
	defer e.sweepMu.Unlock()
	if e.sweeping {
		return
	}
	e.onUnresponsive = fn
	e.sweeping = true
	go e.sweepLoop()
}

func (e *Elder) sweepLoop() {
	defer close(e.done)
	ticker := time.NewTicker(e.config.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			verdicts := e.controller.Unresponsive()
			if len(verdicts) == 0 {
				continue
			}
			if e.onUnresponsive != nil {
				e.onUnresponsive(verdicts)
			}
		case <-e.stop:
			return
		}
	}
}

// Close stops the sweep loop and releases the registry.
func (e *Elder) Close() error {
	e.stopOnce.Do(func() {
		close(e.stop)
	})
	e.sweepMu.Lock()
	sweeping := e.sweeping
	e.sweepMu.Unlock()
	if sweeping {
		<-e.done
	}
	if e.registry != nil {
		return e.registry.Close()
	}
	return nil
}

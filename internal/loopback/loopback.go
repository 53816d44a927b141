// Package loopback is an in-process transport connecting elders and adults
// through the gob wire codec. It backs the integration tests and the demo
// command; a networked transport would implement the same client
// interfaces.
package loopback

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/i5heu/xorvault/internal/adult"
	"github.com/i5heu/xorvault/pkg/types"
	"github.com/i5heu/xorvault/pkg/wire"
)

// LevelSink receives the storage-level reports adults emit.
type LevelSink interface {
	HandleStorageLevel(msg wire.StorageLevel)
}

// Network routes wire messages between registered nodes. Messages pass
// through Encode/Decode so the codec is exercised on every hop. Safe for
// concurrent use.
type Network struct {
	mu     sync.RWMutex
	adults map[types.XorName]*adult.Node
	sink   LevelSink
	log    *logrus.Logger

	// FailStores drops StoreChunk deliveries to the named adults, for
	// fault-injection in tests.
	failStores types.NameSet
}

func NewNetwork(log *logrus.Logger) *Network {
	if log == nil {
		log = logrus.New()
	}
	return &Network{
		adults:     make(map[types.XorName]*adult.Node),
		failStores: make(types.NameSet),
		log:        log,
	}
}

// AddAdult registers an adult under its name.
func (n *Network) AddAdult(node *adult.Node) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.adults[node.Name()] = node
}

// RemoveAdult unregisters an adult, simulating a node leaving. Its chunk
// store stays on disk untouched.
func (n *Network) RemoveAdult(name types.XorName) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.adults, name)
}

// SetLevelSink routes adult storage-level reports to an elder.
func (n *Network) SetLevelSink(sink LevelSink) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sink = sink
}

// FailStoresTo makes future StoreChunk deliveries to the adult fail at the
// transport, without removing it.
func (n *Network) FailStoresTo(name types.XorName) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failStores.Add(name)
}

func (n *Network) lookup(name types.XorName) (*adult.Node, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	node, ok := n.adults[name]
	if !ok {
		return nil, fmt.Errorf("loopback: no adult %s", name)
	}
	return node, nil
}

// roundTrip encodes, decodes and dispatches one message to one adult.
func (n *Network) roundTrip(ctx context.Context, name types.XorName, msg wire.Message) (wire.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	node, err := n.lookup(name)
	if err != nil {
		return nil, err
	}

	raw, err := wire.Encode(msg)
	if err != nil {
		return nil, err
	}
	decoded, err := wire.Decode(raw)
	if err != nil {
		return nil, err
	}

	var resp wire.Message
	switch m := decoded.(type) {
	case wire.StoreChunk:
		n.mu.RLock()
		blocked := n.failStores.Has(name)
		n.mu.RUnlock()
		if blocked {
			return nil, fmt.Errorf("loopback: store delivery to %s failed", name)
		}
		resp = node.HandleStore(ctx, m)
	case wire.GetChunk:
		resp = node.HandleGet(ctx, m)
	case wire.DeleteChunk:
		resp = node.HandleDelete(ctx, m)
	default:
		return nil, fmt.Errorf("loopback: unroutable message %T", decoded)
	}

	rawResp, err := wire.Encode(resp)
	if err != nil {
		return nil, err
	}
	return wire.Decode(rawResp)
}

// Store implements the elder-side and adult-side store clients.
func (n *Network) Store(ctx context.Context, name types.XorName, msg wire.StoreChunk) (wire.Message, error) {
	return n.roundTrip(ctx, name, msg)
}

func (n *Network) Get(ctx context.Context, name types.XorName, msg wire.GetChunk) (wire.Message, error) {
	return n.roundTrip(ctx, name, msg)
}

func (n *Network) Delete(ctx context.Context, name types.XorName, msg wire.DeleteChunk) (wire.Message, error) {
	return n.roundTrip(ctx, name, msg)
}

// Notify delivers a membership notice; the adult runs its repair inline so
// callers observe a settled network when Notify returns.
func (n *Network) Notify(ctx context.Context, name types.XorName, msg wire.MembersChanged) error {
	node, err := n.lookup(name)
	if err != nil {
		return err
	}
	return node.HandleMembersChanged(ctx, msg)
}

// ReportStorageLevel implements the adult's level reporter.
func (n *Network) ReportStorageLevel(_ context.Context, msg wire.StorageLevel) error {
	n.mu.RLock()
	sink := n.sink
	n.mu.RUnlock()
	if sink == nil {
		return nil
	}
	sink.HandleStorageLevel(msg)
	return nil
}

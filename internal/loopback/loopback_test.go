package loopback

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i5heu/xorvault/internal/adult"
	"github.com/i5heu/xorvault/internal/chunkstore"
	"github.com/i5heu/xorvault/pkg/types"
	"github.com/i5heu/xorvault/pkg/wire"
)

func newAdult(t *testing.T, name string) *adult.Node {
	t.Helper()
	store, err := chunkstore.New(chunkstore.Config{Root: t.TempDir()})
	require.NoError(t, err)
	return adult.NewNode(adult.Config{Name: types.NameOf([]byte(name))}, store, nil, nil)
}

func TestRoundTrip_StoreAndGet(t *testing.T) {
	network := NewNetwork(nil)
	node := newAdult(t, "adult-a")
	network.AddAdult(node)
	ctx := context.Background()

	chunk := types.NewChunk([]byte("over the loopback"))
	resp, err := network.Store(ctx, node.Name(), wire.StoreChunk{Chunk: chunk})
	require.NoError(t, err)
	require.IsType(t, wire.StoreAck{}, resp)

	got, err := network.Get(ctx, node.Name(), wire.GetChunk{Address: chunk.Address})
	require.NoError(t, err)
	data, ok := got.(wire.ChunkData)
	require.True(t, ok)
	assert.Equal(t, chunk.Value, data.Value)
}

func TestUnknownAdult(t *testing.T) {
	network := NewNetwork(nil)
	_, err := network.Get(context.Background(), types.NameOf([]byte("ghost")), wire.GetChunk{})
	assert.Error(t, err)
}

func TestRemoveAdult(t *testing.T) {
	network := NewNetwork(nil)
	node := newAdult(t, "leaving")
	network.AddAdult(node)
	network.RemoveAdult(node.Name())

	_, err := network.Get(context.Background(), node.Name(), wire.GetChunk{})
	assert.Error(t, err)
}

func TestFailStoresTo(t *testing.T) {
	network := NewNetwork(nil)
	node := newAdult(t, "flaky")
	network.AddAdult(node)
	network.FailStoresTo(node.Name())
	ctx := context.Background()

	chunk := types.NewChunk([]byte("dropped"))
	_, err := network.Store(ctx, node.Name(), wire.StoreChunk{Chunk: chunk})
	assert.Error(t, err)

	// Reads still go through.
	_, err = network.Get(ctx, node.Name(), wire.GetChunk{Address: chunk.Address})
	assert.NoError(t, err, "GetErr is a response, not a transport error")
}

func TestCanceledContext(t *testing.T) {
	network := NewNetwork(nil)
	node := newAdult(t, "adult-b")
	network.AddAdult(node)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := network.Store(ctx, node.Name(), wire.StoreChunk{Chunk: types.NewChunk([]byte("late"))})
	assert.ErrorIs(t, err, context.Canceled)
}

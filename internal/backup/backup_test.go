package backup

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i5heu/xorvault/internal/chunkstore"
	"github.com/i5heu/xorvault/pkg/types"
)

func newStore(t *testing.T) *chunkstore.Store {
	t.Helper()
	store, err := chunkstore.New(chunkstore.Config{Root: t.TempDir()})
	require.NoError(t, err)
	return store
}

func TestExportImportRoundTrip(t *testing.T) {
	ctx := context.Background()
	source := newStore(t)

	expected := make(map[types.ChunkAddress][]byte)
	for i := 0; i < 20; i++ {
		chunk := types.NewChunk([]byte(fmt.Sprintf("chunk payload %d", i)))
		require.NoError(t, source.Put(chunk))
		expected[chunk.Address] = chunk.Value
	}

	var archive bytes.Buffer
	require.NoError(t, Export(ctx, source, &archive))

	target := newStore(t)
	restored, err := Import(ctx, target, bytes.NewReader(archive.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 20, restored)

	for addr, value := range expected {
		chunk, err := target.Get(addr)
		require.NoError(t, err)
		assert.Equal(t, value, chunk.Value)
	}
}

func TestImport_IdempotentOverExistingChunks(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	chunk := types.NewChunk([]byte("already here"))
	require.NoError(t, store.Put(chunk))

	var archive bytes.Buffer
	require.NoError(t, Export(ctx, store, &archive))

	restored, err := Import(ctx, store, bytes.NewReader(archive.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 1, restored)

	keys, err := store.Keys()
	require.NoError(t, err)
	assert.Len(t, keys, 1)
}

func TestImport_RejectsGarbage(t *testing.T) {
	store := newStore(t)
	_, err := Import(context.Background(), store, bytes.NewReader([]byte("definitely not xz")))
	assert.Error(t, err)
}

func TestExport_EmptyStore(t *testing.T) {
	ctx := context.Background()
	var archive bytes.Buffer
	require.NoError(t, Export(ctx, newStore(t), &archive))

	restored, err := Import(ctx, newStore(t), bytes.NewReader(archive.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 0, restored)
}

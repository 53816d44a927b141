package xorvault_test

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i5heu/xorvault"
	"github.com/i5heu/xorvault/internal/adult"
	"github.com/i5heu/xorvault/internal/chunkstore"
	"github.com/i5heu/xorvault/internal/elder"
	"github.com/i5heu/xorvault/internal/loopback"
	"github.com/i5heu/xorvault/pkg/selfencryption"
	"github.com/i5heu/xorvault/pkg/types"
	"github.com/i5heu/xorvault/pkg/wire"
)

func wireMembersSeed(members []types.XorName) wire.MembersChanged {
	return wire.MembersChanged{Remaining: members}
}

type testSection struct {
	network *loopback.Network
	elder   *elder.Elder
	members types.NameSet
}

func startSection(t *testing.T, adultCount int) *testSection {
	t.Helper()
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	network := loopback.NewNetwork(log)
	members := make(types.NameSet)
	for i := 0; i < adultCount; i++ {
		name := types.NameOf([]byte(fmt.Sprintf("adult-%d", i)))
		store, err := chunkstore.New(chunkstore.Config{Root: t.TempDir(), Logger: log})
		require.NoError(t, err)
		node := adult.NewNode(adult.Config{
			Name:           name,
			RepairThrottle: time.Millisecond,
			Logger:         log,
		}, store, network, network)
		network.AddAdult(node)
		members.Add(name)
	}

	section, err := elder.New(elder.Config{
		Name:   types.NameOf([]byte("elder")),
		Logger: log,
	}, network, types.SectionView{Members: members})
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := section.Close(); err != nil {
			t.Errorf("close elder: %v", err)
		}
	})
	network.SetLevelSink(section)

	memberList := members.Sorted()
	for _, name := range memberList {
		// Seed each adult's view so later churn notices diff against it.
		require.NoError(t, network.Notify(context.Background(),
			name, wireMembersSeed(memberList)))
	}

	return &testSection{network: network, elder: section, members: members}
}

func newTestClient(t *testing.T, s *testSection) *xorvault.Client {
	t.Helper()
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	client, err := xorvault.NewClient(xorvault.Config{
		Elder:          s.elder,
		InitialBackoff: time.Millisecond,
		Logger:         log,
	})
	require.NoError(t, err)
	return client
}

func randomBlob(t *testing.T, n int) []byte {
	t.Helper()
	data := make([]byte, n)
	rng := rand.New(rand.NewSource(42))
	if _, err := rng.Read(data); err != nil {
		t.Fatalf("generate blob: %v", err)
	}
	return data
}

func TestClient_UploadReadRoundTrip(t *testing.T) {
	s := startSection(t, 8)
	client := newTestClient(t, s)
	ctx := context.Background()

	blob := randomBlob(t, 1<<20)
	addr, err := client.Upload(ctx, blob)
	require.NoError(t, err)
	assert.Equal(t, types.Public, addr.Scope)

	got, err := client.Read(ctx, addr)
	require.NoError(t, err)
	assert.Equal(t, blob, got)
}

func TestClient_UploadTooSmall(t *testing.T) {
	s := startSection(t, 4)
	client := newTestClient(t, s)

	_, err := client.Upload(context.Background(), []byte("tiny"))
	assert.ErrorIs(t, err, selfencryption.ErrTooSmall)
}

func TestClient_PrivateLifecycle(t *testing.T) {
	s := startSection(t, 8)
	client := newTestClient(t, s)
	ctx := context.Background()
	ownerPk := []byte("private blob owner")

	blob := randomBlob(t, 64*1024)
	addr, err := client.UploadPrivate(ctx, blob, ownerPk)
	require.NoError(t, err)
	require.Equal(t, types.Private, addr.Scope)

	got, err := client.ReadPrivate(ctx, addr, ownerPk)
	require.NoError(t, err)
	assert.Equal(t, blob, got)

	// The wrong key cannot read or delete.
	_, err = client.ReadPrivate(ctx, addr, []byte("imposter"))
	assert.ErrorIs(t, err, selfencryption.ErrWrongOwner)
	assert.Error(t, client.Delete(ctx, addr, []byte("imposter")))

	require.NoError(t, client.Delete(ctx, addr, ownerPk))

	// The root is gone; a fresh client (no cache) cannot read it back.
	fresh := newTestClient(t, s)
	_, err = fresh.ReadPrivate(ctx, addr, ownerPk)
	assert.Error(t, err)
}

func TestClient_DeletePublicRejected(t *testing.T) {
	s := startSection(t, 4)
	client := newTestClient(t, s)
	err := client.Delete(context.Background(),
		types.BlobAddress{Root: types.NameOf([]byte("x")), Scope: types.Public}, nil)
	assert.ErrorIs(t, err, xorvault.ErrNotPrivate)
}

func TestClient_ReadSurvivesChurn(t *testing.T) {
	s := startSection(t, 8)
	client := newTestClient(t, s)
	ctx := context.Background()

	blob := randomBlob(t, 256*1024)
	addr, err := client.Upload(ctx, blob)
	require.NoError(t, err)

	// Two adults leave, the section repairs, a cache-less client still
	// reads the blob.
	gone := 0
	for name := range s.members {
		if gone == 2 {
			break
		}
		s.network.RemoveAdult(name)
		s.members.Remove(name)
		gone++
	}
	require.NoError(t, s.elder.HandleChurn(ctx, types.SectionView{Members: s.members}))

	fresh := newTestClient(t, s)
	got, err := fresh.Read(ctx, addr)
	require.NoError(t, err)
	assert.Equal(t, blob, got)
}

type flakyElder struct {
	inner    xorvault.Elder
	failures atomic.Int32
	calls    atomic.Int32
}

func (f *flakyElder) StoreChunk(ctx context.Context, chunk types.Chunk) error {
	f.calls.Add(1)
	if f.failures.Add(-1) >= 0 {
		return errors.New("transient store failure")
	}
	return f.inner.StoreChunk(ctx, chunk)
}

func (f *flakyElder) GetChunk(ctx context.Context, addr types.ChunkAddress) (types.Chunk, error) {
	f.calls.Add(1)
	if f.failures.Add(-1) >= 0 {
		return types.Chunk{}, errors.New("transient get failure")
	}
	return f.inner.GetChunk(ctx, addr)
}

func (f *flakyElder) DeleteChunk(ctx context.Context, addr types.ChunkAddress, auth []byte) error {
	return f.inner.DeleteChunk(ctx, addr, auth)
}

func TestClient_RetriesTransientFailures(t *testing.T) {
	s := startSection(t, 8)
	flaky := &flakyElder{inner: s.elder}
	flaky.failures.Store(3)

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	client, err := xorvault.NewClient(xorvault.Config{
		Elder:          flaky,
		InitialBackoff: time.Millisecond,
		Logger:         log,
	})
	require.NoError(t, err)

	blob := randomBlob(t, 8192)
	addr, err := client.Upload(context.Background(), blob)
	require.NoError(t, err, "three transient failures fit in ten attempts")

	got, err := client.Read(context.Background(), addr)
	require.NoError(t, err)
	assert.Equal(t, blob, got)
}

func TestClient_RetriesExhausted(t *testing.T) {
	s := startSection(t, 8)
	flaky := &flakyElder{inner: s.elder}
	flaky.failures.Store(1 << 20)

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	client, err := xorvault.NewClient(xorvault.Config{
		Elder:          flaky,
		MaxRetries:     3,
		InitialBackoff: time.Millisecond,
		Logger:         log,
	})
	require.NoError(t, err)

	_, err = client.Upload(context.Background(), randomBlob(t, 8192))
	assert.ErrorIs(t, err, xorvault.ErrExhausted)
	calls := flaky.calls.Load()
	assert.GreaterOrEqual(t, calls, int32(3), "the failing chunk gets its full attempt budget")
	assert.LessOrEqual(t, calls, int32(9), "three parallel leaves, at most three attempts each")
}

type recordingElder struct {
	inner xorvault.Elder
	mu    sync.Mutex
	order []types.ChunkAddress
}

func (r *recordingElder) StoreChunk(ctx context.Context, chunk types.Chunk) error {
	err := r.inner.StoreChunk(ctx, chunk)
	if err == nil {
		r.mu.Lock()
		r.order = append(r.order, chunk.Address)
		r.mu.Unlock()
	}
	return err
}

func (r *recordingElder) GetChunk(ctx context.Context, addr types.ChunkAddress) (types.Chunk, error) {
	return r.inner.GetChunk(ctx, addr)
}

func (r *recordingElder) DeleteChunk(ctx context.Context, addr types.ChunkAddress, auth []byte) error {
	return r.inner.DeleteChunk(ctx, addr, auth)
}

func TestClient_UploadStoresRootLast(t *testing.T) {
	s := startSection(t, 8)
	rec := &recordingElder{inner: s.elder}

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	client, err := xorvault.NewClient(xorvault.Config{
		Elder:          rec,
		InitialBackoff: time.Millisecond,
		Logger:         log,
	})
	require.NoError(t, err)

	addr, err := client.Upload(context.Background(), randomBlob(t, 256*1024))
	require.NoError(t, err)

	require.NotEmpty(t, rec.order)
	assert.Equal(t, addr.Root, rec.order[len(rec.order)-1],
		"the root chunk must only be stored once every leaf is durable")
}

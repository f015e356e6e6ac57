package manager

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matzehuels/storagex/pkg/cache"
	"github.com/matzehuels/storagex/pkg/chunker"
	"github.com/matzehuels/storagex/pkg/cloud"
	"github.com/matzehuels/storagex/pkg/cloud/memory"
	"github.com/matzehuels/storagex/pkg/config"
	serrors "github.com/matzehuels/storagex/pkg/errors"
)

func testChunk(t *testing.T, name, data string) *chunker.Chunk {
	t.Helper()
	fc, err := chunker.New(1024)
	require.NoError(t, err)
	chunks := fc.Split([]byte(data), name)
	require.Len(t, chunks, 1)
	return &chunks[0]
}

func newManager(opts ...Option) *Manager {
	return New(append([]Option{WithRetry(3, 0)}, opts...)...)
}

func TestAddAndLookup(t *testing.T) {
	m := newManager()
	a := memory.New("a", 0)

	assert.True(t, m.Add(a))
	assert.False(t, m.Add(memory.New("a", 0)), "duplicate ID must be ignored")
	assert.True(t, m.Add(memory.New("b", 0)))

	assert.Len(t, m.Backends(), 2)
	assert.Same(t, a, m.Lookup("memory:a"))
	assert.Nil(t, m.Lookup("memory:zzz"))
}

func TestUploadNoBackends(t *testing.T) {
	_, err := newManager().UploadChunk(context.Background(), testChunk(t, "f", "data"))
	require.Error(t, err)
	assert.True(t, serrors.Is(err, serrors.ErrCodeNoStorage))
}

func TestUploadFirstPlacement(t *testing.T) {
	ctx := context.Background()
	m := newManager()
	a, b := memory.New("a", 0), memory.New("b", 0)
	m.Add(a)
	m.Add(b)

	c := testChunk(t, "f", "hello")
	s, err := m.UploadChunk(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, "memory:a", s.ID())
	assert.True(t, a.Has(c.Name))
	assert.False(t, b.Has(c.Name))
}

func TestUploadRetriesTransientErrors(t *testing.T) {
	m := newManager()
	a := memory.New("a", 0)
	a.Fail(cloud.OpUpload, cloud.Retryable(errors.New("timeout")))
	m.Add(a)

	s, err := m.UploadChunk(context.Background(), testChunk(t, "f", "hello"))
	require.NoError(t, err)
	assert.Equal(t, "memory:a", s.ID())
	assert.Equal(t, 2, a.Calls(cloud.OpUpload))
}

func TestUploadFailover(t *testing.T) {
	m := newManager()
	a, b := memory.New("a", 0), memory.New("b", 0)
	a.Fail(cloud.OpUpload, errors.New("unauthorized"))
	m.Add(a)
	m.Add(b)

	c := testChunk(t, "f", "hello")
	s, err := m.UploadChunk(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, "memory:b", s.ID())
	assert.Equal(t, 1, a.Calls(cloud.OpUpload), "permanent errors are not retried")
	assert.True(t, b.Has(c.Name))
}

func TestUploadAllBackendsFail(t *testing.T) {
	m := newManager()
	a, b := memory.New("a", 0), memory.New("b", 0)
	a.Fail(cloud.OpUpload, errors.New("down"))
	b.Fail(cloud.OpUpload, errors.New("down"))
	m.Add(a)
	m.Add(b)

	_, err := m.UploadChunk(context.Background(), testChunk(t, "f", "hello"))
	require.Error(t, err)
	assert.True(t, serrors.Is(err, serrors.ErrCodeNetwork))
	assert.Contains(t, err.Error(), "memory: upload f-chunk-0 failed")
}

func TestUploadSkipsFullBackends(t *testing.T) {
	m := newManager()
	small, big := memory.New("small", 10), memory.New("big", 0)
	m.Add(small)
	m.Add(big)

	s, err := m.UploadChunk(context.Background(), testChunk(t, "f", "hello"))
	require.NoError(t, err)
	assert.Equal(t, "memory:big", s.ID())
	assert.Equal(t, 0, small.Calls(cloud.OpUpload))
}

func TestUploadStorageFull(t *testing.T) {
	m := newManager()
	m.Add(memory.New("small", 10))

	_, err := m.UploadChunk(context.Background(), testChunk(t, "f", "hello"))
	require.Error(t, err)
	assert.True(t, serrors.Is(err, serrors.ErrCodeStorageFull))
}

func TestUploadUnknownFreeSpaceStillEligible(t *testing.T) {
	m := newManager()
	a := memory.New("a", 0)
	a.Fail(cloud.OpQuota, errors.New("quota endpoint down"))
	m.Add(a)

	s, err := m.UploadChunk(context.Background(), testChunk(t, "f", "hello"))
	require.NoError(t, err)
	assert.Equal(t, "memory:a", s.ID())
}

func TestUploadMostFree(t *testing.T) {
	ctx := context.Background()

	m := newManager(WithPlacement(config.PlacementMostFree))
	m.Add(memory.New("a", 1000))
	m.Add(memory.New("b", 5000))
	s, err := m.UploadChunk(ctx, testChunk(t, "f", "hello"))
	require.NoError(t, err)
	assert.Equal(t, "memory:b", s.ID())

	m.Add(memory.New("c", 0))
	s, err = m.UploadChunk(ctx, testChunk(t, "g", "hello"))
	require.NoError(t, err)
	assert.Equal(t, "memory:c", s.ID(), "unlimited backends rank first")
}

func TestUploadRoundRobin(t *testing.T) {
	ctx := context.Background()
	m := newManager(WithPlacement(config.PlacementRoundRobin))
	m.Add(memory.New("a", 0))
	m.Add(memory.New("b", 0))

	var got []string
	for _, name := range []string{"x", "y", "z"} {
		s, err := m.UploadChunk(ctx, testChunk(t, name, "hello"))
		require.NoError(t, err)
		got = append(got, s.ID())
	}
	assert.Equal(t, []string{"memory:a", "memory:b", "memory:a"}, got)
}

func TestFreeSpaceReusedAcrossChunks(t *testing.T) {
	ctx := context.Background()
	m := newManager()
	a := memory.New("a", 1000)
	m.Add(a)

	for _, name := range []string{"x", "y", "z"} {
		_, err := m.UploadChunk(ctx, testChunk(t, name, "hello"))
		require.NoError(t, err)
	}
	assert.Equal(t, 1, a.Calls(cloud.OpQuota))

	m = newManager(WithFreeSpaceTTL(0))
	b := memory.New("b", 1000)
	m.Add(b)
	for _, name := range []string{"x", "y", "z"} {
		_, err := m.UploadChunk(ctx, testChunk(t, name, "hello"))
		require.NoError(t, err)
	}
	assert.Equal(t, 3, b.Calls(cloud.OpQuota))
}

func TestFreeSpaceDebitedByPlacedChunks(t *testing.T) {
	ctx := context.Background()
	m := newManager()
	chunkBytes := int64(len(testChunk(t, "x", "hello").Bytes()))
	a := memory.New("a", 2*chunkBytes)
	m.Add(a)

	for _, name := range []string{"x", "y"} {
		_, err := m.UploadChunk(ctx, testChunk(t, name, "hello"))
		require.NoError(t, err)
	}
	_, err := m.UploadChunk(ctx, testChunk(t, "z", "hello"))
	assert.True(t, serrors.Is(err, serrors.ErrCodeStorageFull))
	assert.Equal(t, 1, a.Calls(cloud.OpQuota))
	assert.Equal(t, 2, a.Calls(cloud.OpUpload), "the full backend is not tried")

	require.NoError(t, m.DeleteChunk(ctx, "memory:a", chunker.Name("x", 0)))
	_, err = m.UploadChunk(ctx, testChunk(t, "z", "hello"))
	require.NoError(t, err, "a delete refreshes the free space")
}

func TestFreeSpaceFailuresNotRemembered(t *testing.T) {
	ctx := context.Background()
	m := newManager()
	a := memory.New("a", 0)
	a.Fail(cloud.OpQuota, errors.New("quota endpoint down"))
	m.Add(a)

	for _, name := range []string{"x", "y"} {
		_, err := m.UploadChunk(ctx, testChunk(t, name, "hello"))
		require.NoError(t, err)
	}
	assert.Equal(t, 2, a.Calls(cloud.OpQuota))
}

func TestUploadCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m := newManager()
	m.Add(memory.New("a", 0))

	_, err := m.UploadChunk(ctx, testChunk(t, "f", "hello"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGetChunk(t *testing.T) {
	ctx := context.Background()
	m := newManager()
	a := memory.New("a", 0)
	m.Add(a)

	c := testChunk(t, "f", "hello")
	_, err := m.UploadChunk(ctx, c)
	require.NoError(t, err)

	got, err := m.GetChunk(ctx, "memory:a", c.Name)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got.Data)
	assert.Equal(t, c.Checksum, got.Checksum)
	assert.Equal(t, c.Name, got.Name)
}

func TestGetChunkErrors(t *testing.T) {
	ctx := context.Background()
	m := newManager()
	a := memory.New("a", 0)
	m.Add(a)

	_, err := m.GetChunk(ctx, "dropbox:nope", "f-chunk-0")
	assert.True(t, serrors.Is(err, serrors.ErrCodeStorageNotFound))

	_, err = m.GetChunk(ctx, "memory:a", "missing")
	assert.True(t, serrors.Is(err, serrors.ErrCodeChunkNotFound))

	c := testChunk(t, "f", "hello")
	_, err = m.UploadChunk(ctx, c)
	require.NoError(t, err)
	require.True(t, a.Corrupt(c.Name, chunker.HeaderSize+1))
	_, err = m.GetChunk(ctx, "memory:a", c.Name)
	assert.True(t, serrors.Is(err, serrors.ErrCodeChecksumMismatch))
}

func TestGetChunkReadsThroughCache(t *testing.T) {
	ctx := context.Background()
	fc, err := cache.NewFileCache(t.TempDir())
	require.NoError(t, err)
	m := newManager(WithCache(fc, 0))
	a := memory.New("a", 0)
	m.Add(a)

	c := testChunk(t, "f", "hello")
	_, err = m.UploadChunk(ctx, c)
	require.NoError(t, err)

	_, err = m.GetChunk(ctx, "memory:a", c.Name)
	require.NoError(t, err)
	assert.Equal(t, 1, a.Calls(cloud.OpDownload))

	got, err := m.GetChunk(ctx, "memory:a", c.Name)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got.Data)
	assert.Equal(t, 1, a.Calls(cloud.OpDownload), "second read should be served from cache")

	require.NoError(t, m.DeleteChunk(ctx, "memory:a", c.Name))
	_, err = m.GetChunk(ctx, "memory:a", c.Name)
	assert.True(t, serrors.Is(err, serrors.ErrCodeChunkNotFound), "delete must evict the cache entry")
}

func TestDeleteChunk(t *testing.T) {
	ctx := context.Background()
	m := newManager()
	a := memory.New("a", 0)
	m.Add(a)

	c := testChunk(t, "f", "hello")
	_, err := m.UploadChunk(ctx, c)
	require.NoError(t, err)

	require.NoError(t, m.DeleteChunk(ctx, "memory:a", c.Name))
	assert.False(t, a.Has(c.Name))

	err = m.DeleteChunk(ctx, "memory:a", c.Name)
	assert.True(t, serrors.Is(err, serrors.ErrCodeChunkNotFound))

	err = m.DeleteChunk(ctx, "memory:zzz", c.Name)
	assert.True(t, serrors.Is(err, serrors.ErrCodeStorageNotFound))
}

func TestStatus(t *testing.T) {
	m := newManager()
	a, b := memory.New("a", 100), memory.New("b", 0)
	b.Fail(cloud.OpQuota, errors.New("no quota api"))
	m.Add(a)
	m.Add(b)

	st := m.Status(context.Background())
	require.Len(t, st, 2)
	assert.Equal(t, BackendStatus{ID: "memory:a", Provider: "memory", Free: 100}, st[0])
	assert.Equal(t, "memory:b", st[1].ID)
	assert.Equal(t, cloud.Unlimited, st[1].Free)
	assert.Contains(t, st[1].Error, "no quota api")

	assert.NoError(t, m.Close())
}

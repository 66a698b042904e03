package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	require.NoError(t, s.Store(ctx, "doc:1", []byte("meta"), []byte("blob")))
	meta, blob, err := s.Load(ctx, "doc:1")
	require.NoError(t, err)
	assert.Equal(t, []byte("meta"), meta)
	assert.Equal(t, []byte("blob"), blob)
}

func TestMemoryLoadMissingReturnsNotFound(t *testing.T) {
	s := NewMemory()
	_, _, err := s.Load(context.Background(), "missing")
	require.Error(t, err)
	var serr *Error
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, ErrNotFound, serr.Kind)
}

func TestMemoryDeleteReportsPresence(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	ok, err := s.Delete(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, s.Store(ctx, "doc:1", []byte("m"), []byte("b")))
	ok, err = s.Delete(ctx, "doc:1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryStatsTracksSize(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	require.NoError(t, s.Store(ctx, "a", []byte("11"), []byte("2222")))
	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.DocumentCount)
	assert.Equal(t, int64(6), stats.TotalSizeBytes)
	_, err = s.Delete(ctx, "a")
	require.NoError(t, err)
	stats, err = s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.TotalSizeBytes)
}

func TestMemoryListGlob(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	require.NoError(t, s.Store(ctx, "user:1", nil, nil))
	require.NoError(t, s.Store(ctx, "user:2", nil, nil))
	require.NoError(t, s.Store(ctx, "room:1", nil, nil))
	ids, err := s.List(ctx, "user:*")
	require.NoError(t, err)
	assert.Len(t, ids, 2)
}

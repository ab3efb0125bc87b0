package task

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRecord() Record {
	return Record{
		FileDeps: map[string]Signature{"data/raw.parquet": {ModTime: 1700000000000000000, Size: 2048}},
		RunAt:    time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func exerciseStore(t *testing.T, s StateStore) {
	t.Helper()
	ctx := context.Background()

	_, ok, err := s.Load(ctx, "pull")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Save(ctx, "pull", sampleRecord()))
	require.NoError(t, s.Save(ctx, "excerpt", sampleRecord()))
	got, ok, err := s.Load(ctx, "pull")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, sampleRecord().FileDeps, got.FileDeps)
	assert.True(t, got.RunAt.Equal(sampleRecord().RunAt))

	require.NoError(t, s.Forget(ctx, "pull"))
	_, ok, _ = s.Load(ctx, "pull")
	assert.False(t, ok)
	_, ok, _ = s.Load(ctx, "excerpt")
	assert.True(t, ok)

	require.NoError(t, s.Forget(ctx))
	_, ok, _ = s.Load(ctx, "excerpt")
	assert.False(t, ok)
}

func TestFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", ".dashdata-state.json")
	s, err := NewFileStore(path)
	require.NoError(t, err)
	exerciseStore(t, s)

	require.NoError(t, s.Save(context.Background(), "pull", sampleRecord()))
	reopened, err := NewFileStore(path)
	require.NoError(t, err)
	_, ok, err := reopened.Load(context.Background(), "pull")
	require.NoError(t, err)
	assert.True(t, ok, "records survive reopening")
}

func TestFileStoreCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
	s, err := NewFileStore(path)
	require.NoError(t, err)
	assert.Empty(t, s.Snapshot())
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	s, err := NewRedisStore(context.Background(), "redis://"+mr.Addr(), "")
	require.NoError(t, err)
	defer s.Close()

	exerciseStore(t, s)

	require.NoError(t, s.Save(context.Background(), "pull", sampleRecord()))
	assert.True(t, mr.Exists(DefaultRedisKey))
	mr.HSet(DefaultRedisKey, "broken", "not json")
	_, ok, err := s.Load(context.Background(), "broken")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisStoreUnreachable(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	addr := mr.Addr()
	mr.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = NewRedisStore(ctx, "redis://"+addr, "")
	assert.Error(t, err)

	_, err = NewRedisStore(ctx, "not a url", "")
	assert.Error(t, err)
}

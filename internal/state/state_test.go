package state

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_AbsentMeansNeverRebalanced(t *testing.T) {
	store := NewStore(t.TempDir())

	last, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, last)
}

func TestStore_Roundtrip(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)
	stamp := time.Date(2026, 8, 20, 15, 30, 0, 0, time.UTC)

	require.NoError(t, store.Save(stamp))

	last, err := store.Load()
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.True(t, last.Equal(stamp))

	// 临时文件不应残留
	_, err = os.Stat(filepath.Join(dir, "."+stateFileName+".tmp"))
	assert.True(t, os.IsNotExist(err))
}

func TestStore_SaveOverwrites(t *testing.T) {
	store := NewStore(t.TempDir())
	first := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	second := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.Save(first))
	require.NoError(t, store.Save(second))

	last, err := store.Load()
	require.NoError(t, err)
	assert.True(t, last.Equal(second))
}

func TestStore_CorruptFileIsAnError(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, stateFileName), []byte("{not json"), 0o644))

	_, err := NewStore(dir).Load()
	assert.Error(t, err)
}

func TestLock_AcquireReleaseReacquire(t *testing.T) {
	lock, err := NewLock(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, lock.Acquire(ctx))
	require.NoError(t, lock.Release())
	require.NoError(t, lock.Acquire(ctx))
	require.NoError(t, lock.Release())
}

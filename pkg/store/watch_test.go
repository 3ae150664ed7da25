package store

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatchReportsTierWrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan struct{}, 8)
	require.NoError(t, Watch(ctx, []string{path}, 20*time.Millisecond, func() {
		changes <- struct{}{}
	}))

	tier := NewFileTier(SyncTierName, path)
	require.NoError(t, tier.Set(context.Background(), Values{"pinnedMode": true}))

	select {
	case <-changes:
	case <-time.After(2 * time.Second):
		t.Fatal("no change notification after write")
	}
}

func TestWatchIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	require.NoError(t, Watch(ctx, []string{filepath.Join(dir, "settings.yaml")}, 10*time.Millisecond, func() {
		calls.Add(1)
	}))

	other := NewFileTier(LocalTierName, filepath.Join(dir, "other.yaml"))
	require.NoError(t, other.Set(context.Background(), Values{"pinnedMode": true}))

	time.Sleep(150 * time.Millisecond)
	assert.Zero(t, calls.Load())
}

func TestWatchNoFiles(t *testing.T) {
	assert.NoError(t, Watch(context.Background(), nil, DefaultDebounce, func() {}))
}

func TestWatchPathsSkipsNonFileTiers(t *testing.T) {
	s := New(NewMemoryTier(SyncTierName), NewFileTier(LocalTierName, "/tmp/x/local.yaml"))
	assert.Equal(t, []string{"/tmp/x/local.yaml"}, WatchPaths(s))
}

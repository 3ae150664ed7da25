package store

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileTierMissingFileIsEmpty(t *testing.T) {
	tier := NewFileTier(SyncTierName, filepath.Join(t.TempDir(), "settings.yaml"))

	vals, err := tier.Get(context.Background(), []string{"webAppUrl"})
	require.NoError(t, err)
	assert.Empty(t, vals)
}

func TestFileTierRoundTripTypes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "settings.yaml")
	tier := NewFileTier(SyncTierName, path)
	ctx := context.Background()

	require.NoError(t, tier.Set(ctx, Values{
		"webAppUrl":    "https://example.com/app",
		"pinnedMode":   true,
		"overlayWidth": 20.0,
	}))

	vals, err := NewFileTier(SyncTierName, path).Get(ctx, []string{"webAppUrl", "pinnedMode", "overlayWidth"})
	require.NoError(t, err)

	url, _ := vals.String("webAppUrl")
	assert.Equal(t, "https://example.com/app", url)
	pinned, ok := vals.Bool("pinnedMode")
	assert.True(t, ok)
	assert.True(t, pinned)
	width, ok := vals.Float("overlayWidth")
	assert.True(t, ok, "whole-number floats may come back as yaml ints")
	assert.Equal(t, 20.0, width)
}

func TestFileTierSetKeepsOtherKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	ctx := context.Background()
	a := NewFileTier(SyncTierName, path)
	b := NewFileTier(SyncTierName, path)

	require.NoError(t, a.Set(ctx, Values{"pinnedMode": true}))
	require.NoError(t, b.Set(ctx, Values{"overlayWidth": 30.5}))

	vals, err := a.Get(ctx, []string{"pinnedMode", "overlayWidth"})
	require.NoError(t, err)
	assert.Len(t, vals, 2)
}

func TestFileTierConcurrentWritersDoNotLoseKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	ctx := context.Background()

	keys := []string{"k0", "k1", "k2", "k3", "k4", "k5", "k6", "k7"}
	var wg sync.WaitGroup
	for _, k := range keys {
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			// separate instances model separate processes sharing the file
			tier := NewFileTier(SyncTierName, path)
			assert.NoError(t, tier.Set(ctx, Values{key: true}))
		}(k)
	}
	wg.Wait()

	vals, err := NewFileTier(SyncTierName, path).Get(ctx, keys)
	require.NoError(t, err)
	assert.Len(t, vals, len(keys))
}

func TestFileTierQuota(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	tier := NewFileTier(SyncTierName, path, WithQuotaBytesPerItem(32))
	ctx := context.Background()

	err := tier.Set(ctx, Values{"webAppUrl": "https://example.com/" + strings.Repeat("a", 64)})
	require.ErrorIs(t, err, ErrQuotaExceeded)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr), "rejected write must not touch the file")

	require.NoError(t, tier.Set(ctx, Values{"pinnedMode": true}))
}

func TestFileTierQuotaFallsBackToLocal(t *testing.T) {
	dir := t.TempDir()
	syncTier := NewFileTier(SyncTierName, filepath.Join(dir, "sync.yaml"), WithQuotaBytesPerItem(16))
	local := NewFileTier(LocalTierName, filepath.Join(dir, "local.yaml"))
	s := New(syncTier, local)
	ctx := context.Background()

	tier, err := s.SetVia(ctx, Values{"webAppUrl": "https://a-rather-long-host.example/app"})
	require.NoError(t, err)
	assert.Equal(t, LocalTierName, tier)

	vals, err := local.Get(ctx, []string{"webAppUrl"})
	require.NoError(t, err)
	assert.True(t, vals.Has("webAppUrl"))
}

func TestFileTierCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("webAppUrl: [unterminated"), 0644))

	_, err := NewFileTier(SyncTierName, path).Get(context.Background(), []string{"webAppUrl"})
	assert.Error(t, err)
}

func TestFileTierGetHonoursCancelledContext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	tier := NewFileTier(SyncTierName, path)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := tier.Get(ctx, []string{"webAppUrl"})
	assert.ErrorIs(t, err, context.Canceled)
}

package store

import (
	"fmt"

	"github.com/b/webapp-overlay/pkg/config"
)

const (
	SyncTierName  = "sync"
	LocalTierName = "local"
)

// Open builds the two-tier store described by cfg. The returned close func
// releases backend connections and is always non-nil.
func Open(cfg config.Storage) (*Store, func() error, error) {
	noop := func() error { return nil }
	local := NewFileTier(LocalTierName, cfg.Local.Path)

	switch cfg.Sync.Backend {
	case config.BackendRedis:
		sync, closeFn, err := DialRedisTier(SyncTierName, cfg.Sync.RedisURL, cfg.Sync.RedisPrefix)
		if err != nil {
			return nil, noop, err
		}
		return New(sync, local), closeFn, nil
	case config.BackendFile, "":
		sync := NewFileTier(SyncTierName, cfg.Sync.Path, WithQuotaBytesPerItem(cfg.Sync.QuotaBytesPerItem))
		return New(sync, local), noop, nil
	default:
		return nil, noop, fmt.Errorf("%w: %q", config.ErrUnknownBackend, cfg.Sync.Backend)
	}
}

// WatchPaths returns the files behind s's file tiers, for Watch.
func WatchPaths(s *Store) []string {
	var out []string
	for _, t := range []Tier{s.Primary(), s.Fallback()} {
		if ft, ok := t.(*FileTier); ok {
			out = append(out, ft.Path())
		}
	}
	return out
}

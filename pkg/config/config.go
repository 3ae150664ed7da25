package config

import (
	"time"

	"github.com/b/webapp-overlay/pkg/paths"
)

// Config is the runtime configuration shared by the daemon, page hosts,
// options editor and bridge. User-facing overlay preferences live in the
// settings store, not here.
type Config struct {
	Session string  `yaml:"session"`
	Storage Storage `yaml:"storage"`
	Timing  Timing  `yaml:"timing"`
	Bridge  Bridge  `yaml:"bridge"`
	Options Options `yaml:"options"`
	UI      UI      `yaml:"ui"`
}

type Storage struct {
	Sync  SyncTier  `yaml:"sync"`
	Local LocalTier `yaml:"local"`
}

type SyncTier struct {
	Backend           string `yaml:"backend"`              // "file" (default) or "redis"
	Path              string `yaml:"path"`                 // file backend (default: <config>/settings-sync.yaml)
	RedisURL          string `yaml:"redis_url"`            // redis backend, e.g. redis://localhost:6379/0
	RedisPrefix       string `yaml:"redis_prefix"`         // key prefix (default: webapp-overlay)
	QuotaBytesPerItem int    `yaml:"quota_bytes_per_item"` // 0 disables (default: 8192)
}

type LocalTier struct {
	Path string `yaml:"path"` // default: <state>/settings-local.yaml
}

type Timing struct {
	FrameIntervalMs  int `yaml:"frame_interval_ms"`  // resize coalescing frame (default: 16)
	RequestTimeoutMs int `yaml:"request_timeout_ms"` // coordinator -> agent requests (default: 2000)
	PersistTimeoutMs int `yaml:"persist_timeout_ms"` // fire-and-forget store writes (default: 5000)
}

type Bridge struct {
	Host string `yaml:"host"` // loopback only (default: 127.0.0.1)
	Port int    `yaml:"port"` // default: 8787
}

type Options struct {
	Command string `yaml:"command"` // options editor binary (default: overlay-options next to the daemon)
	PopupW  string `yaml:"popup_width"`
	PopupH  string `yaml:"popup_height"`
}

type UI struct {
	Theme  string `yaml:"theme"`  // "auto" (default), "dark" or "light"
	Accent string `yaml:"accent"` // panel title colour (default: #2c3e50)
}

const (
	BackendFile  = "file"
	BackendRedis = "redis"
)

func (t Timing) FrameInterval() time.Duration {
	return time.Duration(t.FrameIntervalMs) * time.Millisecond
}

func (t Timing) RequestTimeout() time.Duration {
	return time.Duration(t.RequestTimeoutMs) * time.Millisecond
}

func (t Timing) PersistTimeout() time.Duration {
	return time.Duration(t.PersistTimeoutMs) * time.Millisecond
}

func DefaultConfigPath() string {
	return paths.ConfigPath()
}

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	colorful "github.com/lucasb-eyer/go-colorful"
	"gopkg.in/yaml.v3"

	"github.com/b/webapp-overlay/pkg/paths"
)

var (
	ErrUnknownBackend = errors.New("unknown storage backend")
	ErrMissingRedis   = errors.New("redis backend requires redis_url")
	ErrUnknownTheme   = errors.New("unknown ui theme")
	ErrBadAccent      = errors.New("ui accent must be a #rrggbb color")
)

// LoadConfig reads the yaml config at path and fills defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse yaml: %w", err)
	}
	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault is LoadConfig that treats a missing file as an empty one.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := LoadConfig(path)
	if err == nil {
		return cfg, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return nil, err
}

// Default returns a config with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// SaveConfig writes the config to the specified path
func SaveConfig(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Session == "" {
		cfg.Session = "default"
	}
	if cfg.Storage.Sync.Backend == "" {
		cfg.Storage.Sync.Backend = BackendFile
	}
	if cfg.Storage.Sync.Path == "" {
		cfg.Storage.Sync.Path = paths.SyncSettingsPath()
	}
	if cfg.Storage.Sync.RedisPrefix == "" {
		cfg.Storage.Sync.RedisPrefix = "webapp-overlay"
	}
	if cfg.Storage.Sync.QuotaBytesPerItem == 0 {
		cfg.Storage.Sync.QuotaBytesPerItem = 8192
	}
	if cfg.Storage.Local.Path == "" {
		cfg.Storage.Local.Path = paths.LocalSettingsPath()
	}
	if cfg.Timing.FrameIntervalMs <= 0 {
		cfg.Timing.FrameIntervalMs = 16
	}
	if cfg.Timing.RequestTimeoutMs <= 0 {
		cfg.Timing.RequestTimeoutMs = 2000
	}
	if cfg.Timing.PersistTimeoutMs <= 0 {
		cfg.Timing.PersistTimeoutMs = 5000
	}
	if cfg.Bridge.Host == "" {
		cfg.Bridge.Host = "127.0.0.1"
	}
	if cfg.Bridge.Port == 0 {
		cfg.Bridge.Port = 8787
	}
	if cfg.Options.PopupW == "" {
		cfg.Options.PopupW = "70%"
	}
	if cfg.Options.PopupH == "" {
		cfg.Options.PopupH = "60%"
	}
	if cfg.UI.Theme == "" {
		cfg.UI.Theme = "auto"
	}
	if cfg.UI.Accent == "" {
		cfg.UI.Accent = "#2c3e50"
	}
}

func validate(cfg *Config) error {
	switch cfg.Storage.Sync.Backend {
	case BackendFile:
	case BackendRedis:
		if cfg.Storage.Sync.RedisURL == "" {
			return ErrMissingRedis
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Storage.Sync.Backend)
	}
	switch cfg.UI.Theme {
	case "auto", "dark", "light":
	default:
		return fmt.Errorf("%w: %q", ErrUnknownTheme, cfg.UI.Theme)
	}
	if _, err := colorful.Hex(cfg.UI.Accent); err != nil {
		return fmt.Errorf("%w: %q", ErrBadAccent, cfg.UI.Accent)
	}
	return nil
}

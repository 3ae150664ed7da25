package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sys/unix"
	"gopkg.in/yaml.v3"
)

const lockPollInterval = 10 * time.Millisecond

// FileTier stores values in a yaml document. Several processes (daemon, page
// hosts, options editor) share the same file, so each Set is a locked
// read-modify-write of the keys it touches: individual key writes never
// clobber other keys, but a multi-key Set is not atomic against a crash.
type FileTier struct {
	name  string
	path  string
	quota int

	mu sync.Mutex
}

// FileTierOption configures a FileTier.
type FileTierOption func(*FileTier)

// WithQuotaBytesPerItem rejects any single key whose JSON encoding (key
// included) exceeds n bytes. n <= 0 disables the check.
func WithQuotaBytesPerItem(n int) FileTierOption {
	return func(t *FileTier) {
		t.quota = n
	}
}

// NewFileTier creates a tier backed by the yaml file at path. The file and its
// directory are created lazily on first Set.
func NewFileTier(name, path string, opts ...FileTierOption) *FileTier {
	t := &FileTier{name: name, path: path}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *FileTier) Name() string { return t.name }

// Path returns the backing file.
func (t *FileTier) Path() string { return t.path }

func (t *FileTier) Get(ctx context.Context, keys []string) (Values, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := t.load()
	if err != nil {
		return nil, err
	}
	return data.Only(keys), nil
}

func (t *FileTier) Set(ctx context.Context, values Values) error {
	if err := t.checkQuota(values); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(t.path), 0750); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}
	unlock, err := t.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	data, err := t.load()
	if err != nil {
		return err
	}
	for k, v := range values {
		data[k] = v
	}
	return t.save(data)
}

func (t *FileTier) checkQuota(values Values) error {
	if t.quota <= 0 {
		return nil
	}
	for k, v := range values {
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to encode %s: %w", k, err)
		}
		if size := len(k) + len(encoded); size > t.quota {
			return fmt.Errorf("%w: %s is %d bytes (limit %d)", ErrQuotaExceeded, k, size, t.quota)
		}
	}
	return nil
}

func (t *FileTier) load() (Values, error) {
	raw, err := os.ReadFile(t.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return make(Values), nil
		}
		return nil, fmt.Errorf("failed to read settings file: %w", err)
	}
	data := make(Values)
	if err := yaml.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("failed to parse settings file: %w", err)
	}
	if data == nil {
		data = make(Values)
	}
	return data, nil
}

// save writes through a temp file and renames it into place so readers never
// observe a half-written document.
func (t *FileTier) save(data Values) error {
	out, err := yaml.Marshal(map[string]any(data))
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(t.path), filepath.Base(t.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp settings file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(out); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp settings file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp settings file: %w", err)
	}
	if err := os.Rename(tmpPath, t.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp settings file: %w", err)
	}
	return nil
}

// lock takes an exclusive advisory lock on a sidecar file, polling so the
// wait honours ctx.
func (t *FileTier) lock(ctx context.Context) (func(), error) {
	f, err := os.OpenFile(t.path+".lock", os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open settings lock: %w", err)
	}
	for {
		err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			break
		}
		if !errors.Is(err, unix.EWOULDBLOCK) && !errors.Is(err, unix.EINTR) {
			f.Close()
			return nil, fmt.Errorf("failed to lock settings: %w", err)
		}
		select {
		case <-ctx.Done():
			f.Close()
			return nil, fmt.Errorf("waiting for settings lock: %w", ctx.Err())
		case <-time.After(lockPollInterval):
		}
	}
	return func() {
		unix.Flock(int(f.Fd()), unix.LOCK_UN)
		f.Close()
	}, nil
}

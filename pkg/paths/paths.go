// Package paths resolves where webapp-overlay keeps its files.
//
//	config   $OVERLAY_CONFIG_DIR, else $XDG_CONFIG_HOME/webapp-overlay, else ~/.config/webapp-overlay
//	         config.yaml, settings-sync.yaml
//	state    $OVERLAY_STATE_DIR, else $XDG_STATE_HOME/webapp-overlay, else ~/.local/state/webapp-overlay
//	         settings-local.yaml, installed-version, bridge-token
//	runtime  $TMPDIR/webapp-overlay-<session>-<name>
//	         sockets and logs
package paths

import (
	"os"
	"path/filepath"
	"sync"
)

const appName = "webapp-overlay"

// dir is a base directory resolved once per process.
type dir struct {
	override string   // app specific env var
	xdg      string   // XDG base directory env var
	home     []string // fallback below $HOME

	once sync.Once
	path string
}

func (d *dir) get() string {
	d.once.Do(func() {
		if v := os.Getenv(d.override); v != "" {
			d.path = v
			return
		}
		if v := os.Getenv(d.xdg); filepath.IsAbs(v) {
			d.path = filepath.Join(v, appName)
			return
		}
		home, err := os.UserHomeDir()
		if err != nil {
			d.path = "."
			return
		}
		d.path = filepath.Join(append(append([]string{home}, d.home...), appName)...)
	})
	return d.path
}

var (
	configDir = &dir{override: "OVERLAY_CONFIG_DIR", xdg: "XDG_CONFIG_HOME", home: []string{".config"}}
	stateDir  = &dir{override: "OVERLAY_STATE_DIR", xdg: "XDG_STATE_HOME", home: []string{".local", "state"}}
)

// ConfigDir holds user-edited files.
func ConfigDir() string { return configDir.get() }

// StateDir holds files the programs write for themselves.
func StateDir() string { return stateDir.get() }

func ConfigPath() string { return filepath.Join(ConfigDir(), "config.yaml") }

// SyncSettingsPath is the default file behind the synced settings tier.
func SyncSettingsPath() string { return filepath.Join(ConfigDir(), "settings-sync.yaml") }

// LocalSettingsPath is the default file behind the local settings tier.
func LocalSettingsPath() string { return filepath.Join(StateDir(), "settings-local.yaml") }

func StatePath(name string) string { return filepath.Join(StateDir(), name) }

// RuntimePath names a per-session file in the temp dir, so
// RuntimePath("$1", "daemon.sock") is /tmp/webapp-overlay-$1-daemon.sock.
// An empty session maps to "default".
func RuntimePath(sessionID, name string) string {
	if sessionID == "" {
		sessionID = "default"
	}
	return filepath.Join(os.TempDir(), appName+"-"+sessionID+"-"+name)
}

// ResetForTest forgets resolved directories so the environment is read again.
func ResetForTest() {
	for _, d := range []*dir{configDir, stateDir} {
		d.once = sync.Once{}
		d.path = ""
	}
}

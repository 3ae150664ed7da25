package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

// detectInstallReason compares the running version with the one recorded at
// path and records the running one. It returns ReasonInstall when nothing was
// recorded, ReasonUpdate when the version changed, and "" otherwise.
func detectInstallReason(path, running string) (string, error) {
	reason := ""
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		reason = ReasonInstall
	case err != nil:
		return "", fmt.Errorf("read installed version: %w", err)
	case strings.TrimSpace(string(data)) != running:
		reason = ReasonUpdate
	default:
		return "", nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return reason, fmt.Errorf("record installed version: %w", err)
	}
	if err := os.WriteFile(path, []byte(running+"\n"), 0644); err != nil {
		return reason, fmt.Errorf("record installed version: %w", err)
	}
	return reason, nil
}

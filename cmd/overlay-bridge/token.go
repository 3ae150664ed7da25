package main

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/b/webapp-overlay/pkg/paths"
)

const tokenBytes = 32

func defaultTokenPath() string {
	return paths.StatePath("bridge-token")
}

// loadToken returns the token stored at path, minting and storing a new one
// when the file is missing or empty, or when rotate is set.
func loadToken(path string, rotate bool) (string, error) {
	if !rotate {
		data, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("read token: %w", err)
		}
		if tok := strings.TrimSpace(string(data)); tok != "" {
			return tok, nil
		}
	}

	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("mint token: %w", err)
	}
	// URL-safe so it can ride in the websocket query string
	tok := base64.RawURLEncoding.EncodeToString(buf)

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return "", fmt.Errorf("store token: %w", err)
	}
	if err := os.WriteFile(path, []byte(tok+"\n"), 0600); err != nil {
		return "", fmt.Errorf("store token: %w", err)
	}
	return tok, nil
}

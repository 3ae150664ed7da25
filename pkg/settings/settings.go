// Package settings defines the overlay preferences persisted in the settings
// store: their keys, defaults, and the validation rules every component
// applies to them.
package settings

import (
	"errors"
	"fmt"
	"math"
	"net/url"
	"strings"

	"github.com/b/webapp-overlay/pkg/store"
)

// Store keys. The layout is flat; every component reads and writes these.
const (
	KeyWebAppURL               = "webAppUrl"
	KeyOverlayEnabledByDefault = "overlayEnabledByDefault"
	KeyUseBackdrop             = "useBackdrop"
	KeyPinnedModeDefault       = "pinnedModeDefault"
	KeyOverlayWidth            = "overlayWidth"
	KeyPinnedMode              = "pinnedMode"
)

// AllKeys lists every persisted key.
var AllKeys = []string{
	KeyWebAppURL,
	KeyOverlayEnabledByDefault,
	KeyUseBackdrop,
	KeyPinnedModeDefault,
	KeyOverlayWidth,
	KeyPinnedMode,
}

const (
	MinWidth     = 10.0
	MaxWidth     = 50.0
	DefaultWidth = 16.666
)

var (
	ErrInvalidURL      = errors.New("web app url must be an absolute http or https url")
	ErrWidthOutOfRange = fmt.Errorf("overlay width must be between %g and %g", MinWidth, MaxWidth)
)

// Settings is a fully defaulted view of the store.
type Settings struct {
	WebAppURL               string
	OverlayEnabledByDefault bool
	UseBackdrop             bool
	PinnedModeDefault       bool
	OverlayWidth            float64
	PinnedMode              bool
}

// Defaults returns the documented defaults.
func Defaults() Settings {
	return Settings{OverlayWidth: DefaultWidth}
}

// FromValues applies defaults to whatever subset of keys was present. Values
// of the wrong type are treated as missing, and width is clamped.
func FromValues(v store.Values) Settings {
	s := Defaults()
	if u, ok := v.String(KeyWebAppURL); ok {
		s.WebAppURL = u
	}
	if b, ok := v.Bool(KeyOverlayEnabledByDefault); ok {
		s.OverlayEnabledByDefault = b
	}
	if b, ok := v.Bool(KeyUseBackdrop); ok {
		s.UseBackdrop = b
	}
	if b, ok := v.Bool(KeyPinnedModeDefault); ok {
		s.PinnedModeDefault = b
	}
	if w, ok := v.Float(KeyOverlayWidth); ok {
		s.OverlayWidth = ClampWidth(w)
	}
	if b, ok := v.Bool(KeyPinnedMode); ok {
		s.PinnedMode = b
	}
	return s
}

// Values converts s back into store form with every key present.
func (s Settings) Values() store.Values {
	return store.Values{
		KeyWebAppURL:               s.WebAppURL,
		KeyOverlayEnabledByDefault: s.OverlayEnabledByDefault,
		KeyUseBackdrop:             s.UseBackdrop,
		KeyPinnedModeDefault:       s.PinnedModeDefault,
		KeyOverlayWidth:            ClampWidth(s.OverlayWidth),
		KeyPinnedMode:              s.PinnedMode,
	}
}

// HasValidURL reports whether the overlay can embed WebAppURL.
func (s Settings) HasValidURL() bool {
	return IsValidWebAppURL(s.WebAppURL)
}

// IsValidWebAppURL reports whether raw parses as an absolute http(s) URL.
// Anything else (empty, malformed, other schemes) means "not configured".
func IsValidWebAppURL(raw string) bool {
	if strings.TrimSpace(raw) == "" {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return u.Host != ""
}

// ClampWidth forces a width percentage into [MinWidth, MaxWidth]. NaN falls
// back to the default.
func ClampWidth(w float64) float64 {
	if math.IsNaN(w) {
		return DefaultWidth
	}
	return math.Max(MinWidth, math.Min(MaxWidth, w))
}

// WidthFromPointer computes the panel width for a right-docked panel whose
// left edge follows the pointer: (viewport - x) / viewport * 100, clamped.
func WidthFromPointer(pointerX, viewportWidth float64) float64 {
	if viewportWidth <= 0 {
		return DefaultWidth
	}
	return ClampWidth((viewportWidth - pointerX) / viewportWidth * 100)
}

// ValidateURLInput is the options editor's rule: empty is allowed (clears the
// setting), anything else must be a valid web-app URL.
func ValidateURLInput(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	if !IsValidWebAppURL(raw) {
		return ErrInvalidURL
	}
	return nil
}

// ValidateWidthInput is the options editor's rule for the width field.
func ValidateWidthInput(w float64) error {
	if math.IsNaN(w) || w < MinWidth || w > MaxWidth {
		return ErrWidthOutOfRange
	}
	return nil
}

package settings

import "strings"

// EmbedSandbox is the capability set the embedded web app runs with. Top-level
// navigation is deliberately absent. allow-same-origin lets the app use its own
// storage and auth, which also means it can read its origin's surface: only
// point webAppUrl at origins you trust.
var EmbedSandbox = []string{
	"allow-scripts",
	"allow-forms",
	"allow-same-origin",
	"allow-popups",
	"allow-downloads",
}

// SandboxAttr renders EmbedSandbox as an iframe sandbox attribute value.
func SandboxAttr() string {
	return strings.Join(EmbedSandbox, " ")
}

// Content is what the overlay panel shows: either an embedded frame or the
// "not configured" placeholder linking to the options editor.
type Content struct {
	EmbedURL string   // empty for the placeholder
	Sandbox  []string // nil for the placeholder
}

// Placeholder reports whether c is the unconfigured placeholder.
func (c Content) Placeholder() bool {
	return c.EmbedURL == ""
}

// ContentFor picks the panel content for rawURL.
func ContentFor(rawURL string) Content {
	if !IsValidWebAppURL(rawURL) {
		return Content{}
	}
	sandbox := make([]string, len(EmbedSandbox))
	copy(sandbox, EmbedSandbox)
	return Content{EmbedURL: rawURL, Sandbox: sandbox}
}

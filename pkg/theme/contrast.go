package theme

import (
	colorful "github.com/lucasb-eyer/go-colorful"
)

// Luminance calculates the relative luminance of a hex color per the WCAG
// formula: 0 for black, 1 for white. Invalid colors count as black.
func Luminance(hex string) float64 {
	c, err := colorful.Hex(hex)
	if err != nil {
		return 0
	}
	r, g, b := c.LinearRgb()
	return 0.2126*r + 0.7152*g + 0.0722*b
}

// ContrastRatio is the WCAG contrast ratio between two colors, from 1 (none)
// to 21 (black on white).
func ContrastRatio(fg, bg string) float64 {
	l1, l2 := Luminance(fg), Luminance(bg)
	if l1 < l2 {
		l1, l2 = l2, l1
	}
	return (l1 + 0.05) / (l2 + 0.05)
}

// EnsureContrast moves fg away from bg until the pair reaches minRatio
// (4.5 for WCAG AA). It falls back to black or white.
func EnsureContrast(fg, bg string, minRatio float64) string {
	if ContrastRatio(fg, bg) >= minRatio {
		return fg
	}
	c, err := colorful.Hex(fg)
	if err != nil {
		return TextOn(bg)
	}

	target := colorful.Color{R: 0, G: 0, B: 0}
	if Luminance(fg) > Luminance(bg) {
		target = colorful.Color{R: 1, G: 1, B: 1}
	}
	for step := 0.1; step <= 1.0; step += 0.1 {
		adjusted := c.BlendRgb(target, step).Clamped().Hex()
		if ContrastRatio(adjusted, bg) >= minRatio {
			return adjusted
		}
	}
	return TextOn(bg)
}

// TextOn picks black or white text, whichever reads better on bg.
func TextOn(bg string) string {
	if ContrastRatio("#000000", bg) >= ContrastRatio("#ffffff", bg) {
		return "#000000"
	}
	return "#ffffff"
}

// IsLight reports whether hex is closer to white than black.
func IsLight(hex string) bool {
	return Luminance(hex) > 0.5
}

// Shade lightens (amount > 0) or darkens (amount < 0) hex by mixing it with
// white or black.
func Shade(hex string, amount float64) string {
	c, err := colorful.Hex(hex)
	if err != nil {
		return hex
	}
	if amount >= 0 {
		return c.BlendRgb(colorful.Color{R: 1, G: 1, B: 1}, amount).Clamped().Hex()
	}
	return c.BlendRgb(colorful.Color{}, -amount).Clamped().Hex()
}

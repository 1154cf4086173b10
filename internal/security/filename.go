// Package security holds input-hygiene helpers for values that cross from
// requests into the filesystem.
package security

import "strings"

// SanitizeFilename makes a safe filename component from an arbitrary
// identifier such as a product kind or provider id. Characters outside
// ASCII letters, digits, dot, underscore and dash become underscores,
// runs of underscores collapse, and the result is length-capped so derived
// artifact paths stay portable.
func SanitizeFilename(s string) string {
	if s == "" {
		return "unknown"
	}
	const maxLen = 128
	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		if b.Len() >= maxLen {
			break
		}
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			lastUnderscore = false
		case r == '.' || r == '_' || r == '-':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteRune('_')
				lastUnderscore = true
			}
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "unknown"
	}
	return out
}

package textutil

import "strings"

// SanitizeToken lowercases a value and replaces anything outside
// [a-z0-9-_] with underscores so it is safe for tag-like fields.
// Empty input sanitizes to "unknown".
func SanitizeToken(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	var b strings.Builder
	b.Grow(len(trimmed))
	for _, r := range strings.ToLower(trimmed) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	token := strings.Trim(b.String(), "_-")
	if token == "" {
		return "unknown"
	}
	return token
}

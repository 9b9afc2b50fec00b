package infra

import "strings"

// SanitizeName replaces every character outside [-+:,;._ A-Za-z0-9] with an
// underscore. Window class and title strings are untrusted input; sanitized
// names are safe as map keys and as regex match subjects.
func SanitizeName(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z',
			r >= 'A' && r <= 'Z',
			r >= '0' && r <= '9',
			strings.ContainsRune("-+:,;._ ", r):
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

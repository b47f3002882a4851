package tools

import (
	"strings"
	"unicode"
)

// MaxNameLength is the longest normalized tool name providers accept.
const MaxNameLength = 64

// Normalize derives the dispatch key for a declared tool name. Lower-to-upper
// camelCase boundaries become underscores, everything is lowercased, runs of
// characters outside [a-z0-9_] become a single underscore, and the result is
// trimmed and capped at MaxNameLength. An empty result becomes "tool".
// Normalize is pure and idempotent.
func Normalize(name string) string {
	var b strings.Builder
	b.Grow(len(name))

	var prev rune
	underscore := false
	for i, r := range name {
		if i > 0 && unicode.IsUpper(r) && (unicode.IsLower(prev) || unicode.IsDigit(prev)) && !underscore {
			b.WriteByte('_')
			underscore = true
		}
		prev = r

		lr := unicode.ToLower(r)
		if (lr >= 'a' && lr <= 'z') || (lr >= '0' && lr <= '9') {
			b.WriteRune(lr)
			underscore = false
			continue
		}
		if !underscore {
			b.WriteByte('_')
			underscore = true
		}
	}

	out := strings.Trim(b.String(), "_")
	if len(out) > MaxNameLength {
		out = strings.TrimRight(out[:MaxNameLength], "_")
	}
	if out == "" {
		return "tool"
	}
	return out
}

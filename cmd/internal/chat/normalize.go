package chat

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxIDLen bounds user and chat identifiers in bytes.
const MaxIDLen = 128

// NormalizeID trims surrounding whitespace. Identifiers stay case-sensitive:
// "Go" and "go" are different chats.
func NormalizeID(s string) string {
	return strings.TrimSpace(s)
}

// validID reports whether s is a usable identifier after normalization.
func validID(s string) bool {
	if s == "" || len(s) > MaxIDLen || !utf8.ValidString(s) {
		return false
	}
	for _, r := range s {
		if unicode.IsControl(r) {
			return false
		}
	}
	return true
}

// ValidID reports whether s is acceptable as a user or chat identifier.
func ValidID(s string) bool {
	return validID(NormalizeID(s))
}

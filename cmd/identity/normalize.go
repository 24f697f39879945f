package identity

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

const maxDisplayNameRunes = 64

var usernameRe = regexp.MustCompile(`^[a-zA-Z0-9_]{3,32}$`)

// NormalizeUsername is the lookup key for usernames: trimmed and lowercased.
// "Ada" and " ada " name the same account.
func NormalizeUsername(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ValidUsername reports whether s (already trimmed) is 3-32 ASCII letters,
// digits or underscores.
func ValidUsername(s string) bool {
	return usernameRe.MatchString(s)
}

// NormalizeDisplayName converts s to NFC, drops control and format
// characters and collapses whitespace runs to a single space, so visually
// identical names are stored identically.
func NormalizeDisplayName(s string) string {
	s = norm.NFC.String(s)

	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		switch {
		case unicode.IsSpace(r):
			space = b.Len() > 0
			continue
		case unicode.IsControl(r) || unicode.Is(unicode.Cf, r):
			continue
		}
		if space {
			b.WriteByte(' ')
			space = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

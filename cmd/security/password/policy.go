package password

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// commonPasswords is a small deny list checked case-insensitively. It is no
// substitute for a breach corpus; it catches what users type first.
var commonPasswords = map[string]struct{}{
	"password":    {},
	"password1":   {},
	"password123": {},
	"passw0rd":    {},
	"123456":      {},
	"12345678":    {},
	"123456789":   {},
	"1234567890":  {},
	"qwerty":      {},
	"qwerty123":   {},
	"qwertyuiop":  {},
	"iloveyou":    {},
	"letmein":     {},
	"welcome":     {},
	"chirp":       {},
	"chirpchirp":  {},
	"chirp123":    {},
}

// Validate checks the password against the policy. Lengths count runes.
func (c Config) Validate(password string) error {
	n := utf8.RuneCountInString(password)
	switch {
	case n < c.Policy.MinLength:
		return ErrPasswordTooShort
	case n > c.Policy.MaxLength:
		return ErrPasswordTooLong
	case c.Policy.RejectVeryWeak && looksVeryWeak(password):
		return ErrWeakPassword
	}
	return nil
}

// looksVeryWeak rejects only obvious patterns: deny-listed words, short
// PIN-like digit strings, straight runs ("abcdefg", "98765") and a unit of up
// to three characters repeated ("aaaa", "abab", "xyzxyz").
func looksVeryWeak(pw string) bool {
	s := []rune(strings.ToLower(strings.TrimSpace(pw)))
	if len(s) == 0 {
		return true
	}
	if _, ok := commonPasswords[string(s)]; ok {
		return true
	}
	if len(s) < 12 && allDigits(s) {
		return true
	}
	return isStraightRun(s) || repeatsShortUnit(s)
}

func allDigits(s []rune) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

func isStraightRun(s []rune) bool {
	if len(s) < 3 {
		return false
	}
	step := s[1] - s[0]
	if step != 1 && step != -1 {
		return false
	}
	for i := 2; i < len(s); i++ {
		if s[i]-s[i-1] != step {
			return false
		}
	}
	return true
}

func repeatsShortUnit(s []rune) bool {
	for unit := 1; unit <= 3 && 2*unit <= len(s); unit++ {
		match := true
		for i := unit; i < len(s); i++ {
			if s[i] != s[i%unit] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

package token

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

const (
	// MinSecretBytes is the lower bound of random bytes in a refresh secret.
	MinSecretBytes = 48

	// MinHMACKeyBytes is the lower bound for the optional pepper key.
	MinHMACKeyBytes = 32
)

// GenerateSecret returns nBytes of crypto/rand output as lowercase hex.
// The result is the plaintext refresh secret; it must never be stored or logged.
func GenerateSecret(nBytes int) (string, error) {
	if nBytes < MinSecretBytes {
		return "", fmt.Errorf("%w: got %d, want >= %d", ErrSecretTooShort, nBytes, MinSecretBytes)
	}

	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("refresh secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// HashSHA256Hex returns a SHA-256 hex digest of s.
func HashSHA256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// HashHMACSHA256Hex returns an HMAC-SHA256 hex digest of s using key.
func HashHMACSHA256Hex(s string, key []byte) string {
	m := hmac.New(sha256.New, key)
	_, _ = m.Write([]byte(s))
	return hex.EncodeToString(m.Sum(nil))
}

// Hasher reduces refresh secrets to their storage digest.
// The zero value hashes with plain SHA-256.
type Hasher struct {
	key []byte
}

// NewHasher returns a Hasher. An empty key selects plain SHA-256;
// a non-empty key must be at least MinHMACKeyBytes long.
func NewHasher(key []byte) (Hasher, error) {
	if len(key) == 0 {
		return Hasher{}, nil
	}
	if len(key) < MinHMACKeyBytes {
		return Hasher{}, ErrHMACKeyTooShort
	}
	k := make([]byte, len(key))
	copy(k, key)
	return Hasher{key: k}, nil
}

// HMACEnabled reports whether the hasher runs in pepper mode.
func (h Hasher) HMACEnabled() bool { return len(h.key) > 0 }

// Hash returns the 64-char hex digest of secret.
func (h Hasher) Hash(secret string) string {
	if len(h.key) == 0 {
		return HashSHA256Hex(secret)
	}
	return HashHMACSHA256Hex(secret, h.key)
}

// Algorithm names the digest function, for startup logs.
func (h Hasher) Algorithm() string {
	if h.HMACEnabled() {
		return "hmac-sha256"
	}
	return "sha256"
}

// Equal compares two hex digests in constant time.
func Equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}


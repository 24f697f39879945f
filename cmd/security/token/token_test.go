package token

import (
	"errors"
	"strings"
	"testing"
)

func TestGenerateSecret_LengthAndAlphabet(t *testing.T) {
	t.Parallel()

	s, err := GenerateSecret(MinSecretBytes)
	if err != nil {
		t.Fatalf("GenerateSecret: %v", err)
	}
	if len(s) != 2*MinSecretBytes {
		t.Fatalf("len=%d want=%d", len(s), 2*MinSecretBytes)
	}
	if strings.Trim(s, "0123456789abcdef") != "" {
		t.Fatalf("secret is not lowercase hex: %q", s)
	}
}

func TestGenerateSecret_RejectsSmallSizes(t *testing.T) {
	t.Parallel()

	_, err := GenerateSecret(32)
	if !errors.Is(err, ErrSecretTooShort) {
		t.Fatalf("expected ErrSecretTooShort, got %v", err)
	}
}

func TestGenerateSecret_NoCollisions(t *testing.T) {
	if testing.Short() {
		t.Skip("short mode")
	}

	const n = 100_000
	seen := make(map[string]struct{}, n)
	for i := 0; i < n; i++ {
		s, err := GenerateSecret(MinSecretBytes)
		if err != nil {
			t.Fatalf("GenerateSecret: %v", err)
		}
		if _, dup := seen[s]; dup {
			t.Fatalf("collision after %d secrets", i)
		}
		seen[s] = struct{}{}
	}
}

func TestHasher_Deterministic(t *testing.T) {
	t.Parallel()

	h := Hasher{}
	s, err := GenerateSecret(MinSecretBytes)
	if err != nil {
		t.Fatalf("GenerateSecret: %v", err)
	}

	a, b := h.Hash(s), h.Hash(s)
	if a != b {
		t.Fatalf("hash not deterministic: %q vs %q", a, b)
	}
	if len(a) != 64 {
		t.Fatalf("digest len=%d want=64", len(a))
	}
	if a != HashSHA256Hex(s) {
		t.Fatalf("zero Hasher must be plain SHA-256")
	}
}

func TestHasher_KnownVector(t *testing.T) {
	t.Parallel()

	// SHA-256("abc")
	const want = "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got := (Hasher{}).Hash("abc"); got != want {
		t.Fatalf("Hash(abc)=%s want=%s", got, want)
	}
}

func TestNewHasher(t *testing.T) {
	t.Parallel()

	if _, err := NewHasher([]byte("short")); !errors.Is(err, ErrHMACKeyTooShort) {
		t.Fatalf("expected ErrHMACKeyTooShort, got %v", err)
	}

	key := []byte(strings.Repeat("k", MinHMACKeyBytes))
	h, err := NewHasher(key)
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}
	if !h.HMACEnabled() || h.Algorithm() != "hmac-sha256" {
		t.Fatalf("expected hmac mode")
	}
	if h.Hash("x") == HashSHA256Hex("x") {
		t.Fatalf("hmac digest must differ from plain digest")
	}

	plain, err := NewHasher(nil)
	if err != nil {
		t.Fatalf("NewHasher(nil): %v", err)
	}
	if plain.HMACEnabled() {
		t.Fatalf("nil key must select sha256")
	}
}

func TestEqual(t *testing.T) {
	t.Parallel()

	a := HashSHA256Hex("a")
	if !Equal(a, HashSHA256Hex("a")) {
		t.Fatalf("expected equal digests")
	}
	if Equal(a, HashSHA256Hex("b")) {
		t.Fatalf("expected different digests")
	}
}

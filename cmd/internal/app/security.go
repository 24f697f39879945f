package app

import (
	"errors"
	"fmt"

	"chirp/cmd/security/token"
)

// NewTokenHasher builds the refresh-secret hasher and enforces the HMAC
// policy at startup. Falling back to plain SHA-256 under
// REQUIRE_TOKEN_HMAC is a startup error.
func NewTokenHasher(cfg Config) (token.Hasher, error) {
	if cfg.RequireTokenHMAC && cfg.TokenHMACKey == "" {
		return token.Hasher{}, errors.New("security policy: CHIRP_REQUIRE_TOKEN_HMAC=true but CHIRP_TOKEN_HMAC_KEY is missing")
	}

	// The key is used as raw bytes, so its length is measured in bytes.
	h, err := token.NewHasher([]byte(cfg.TokenHMACKey))
	if err != nil {
		if errors.Is(err, token.ErrHMACKeyTooShort) {
			return token.Hasher{}, fmt.Errorf("security policy: CHIRP_TOKEN_HMAC_KEY is too short (min %d bytes)", token.MinHMACKeyBytes)
		}
		return token.Hasher{}, err
	}

	if cfg.RequireTokenHMAC && !h.HMACEnabled() {
		return token.Hasher{}, errors.New("security policy: CHIRP_REQUIRE_TOKEN_HMAC=true but token hasher is not in HMAC mode")
	}
	return h, nil
}

package session

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config defines all runtime configuration for the session subsystem.
//
// It controls token lifetimes, the reuse-detection grace period, refresh
// entropy, the HS256 signing secret and the per-call store timeout.
type Config struct {
	// Issuer and Audience are written to and required on every access token.
	Issuer   string `env:"ISSUER"`
	Audience string `env:"AUDIENCE"`

	// SigningSecret is the HMAC-SHA256 key for access tokens (>= 32 bytes).
	SigningSecret string `env:"SIGNING_SECRET"`

	AccessTokenTTL  time.Duration `env:"ACCESS_TTL"`
	RefreshTokenTTL time.Duration `env:"REFRESH_TTL"`

	// GracePeriod is how long after a rotation a duplicate presentation of
	// the retired secret is answered with ErrStaleRefreshToken instead of
	// being treated as reuse.
	GracePeriod time.Duration `env:"GRACE_PERIOD"`

	// ClockSkew is the leeway applied to exp/iat checks.
	ClockSkew time.Duration `env:"CLOCK_SKEW"`

	// RefreshTokenBytes is the number of random bytes per refresh secret.
	RefreshTokenBytes int `env:"REFRESH_TOKEN_BYTES"`

	// StoreTimeout bounds every store round-trip made on behalf of one call.
	StoreTimeout time.Duration `env:"STORE_TIMEOUT"`

	// NotifyTimeout bounds the fire-and-forget forced-logout push.
	NotifyTimeout time.Duration `env:"NOTIFY_TIMEOUT"`
}

// DefaultConfig returns the production defaults minus the signing secret.
func DefaultConfig() Config {
	return Config{
		Issuer:            "chirp",
		Audience:          "chirp-api",
		AccessTokenTTL:    15 * time.Minute,
		RefreshTokenTTL:   30 * 24 * time.Hour,
		GracePeriod:       10 * time.Second,
		RefreshTokenBytes: 48,
		StoreTimeout:      3 * time.Second,
		NotifyTimeout:     2 * time.Second,
	}
}

// LoadConfigFromEnv overlays CHIRP_AUTH_* variables on DefaultConfig.
//
// Required:
//   - CHIRP_AUTH_SIGNING_SECRET
//
// Optional (durations are Go duration strings):
//   - CHIRP_AUTH_ISSUER, CHIRP_AUTH_AUDIENCE
//   - CHIRP_AUTH_ACCESS_TTL, CHIRP_AUTH_REFRESH_TTL
//   - CHIRP_AUTH_GRACE_PERIOD, CHIRP_AUTH_CLOCK_SKEW
//   - CHIRP_AUTH_REFRESH_TOKEN_BYTES
//   - CHIRP_AUTH_STORE_TIMEOUT, CHIRP_AUTH_NOTIFY_TIMEOUT
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "CHIRP_AUTH_"}); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate enforces the invariants the authority relies on.
func (c Config) Validate() error {
	switch {
	case c.Issuer == "" || c.Audience == "":
		return fmt.Errorf("%w: issuer and audience are required", ErrConfig)
	case len(c.SigningSecret) < 32:
		return fmt.Errorf("%w: signing secret must be at least 32 bytes", ErrConfig)
	case c.AccessTokenTTL <= 0 || c.RefreshTokenTTL <= 0:
		return fmt.Errorf("%w: token ttls must be positive", ErrConfig)
	case c.AccessTokenTTL >= c.RefreshTokenTTL:
		return fmt.Errorf("%w: access ttl must be shorter than refresh ttl", ErrConfig)
	case c.GracePeriod < 0 || c.GracePeriod > 5*time.Minute:
		return fmt.Errorf("%w: grace period out of range [0..5m]", ErrConfig)
	case c.ClockSkew < 0 || c.ClockSkew > 2*time.Minute:
		return fmt.Errorf("%w: clock skew out of range [0..2m]", ErrConfig)
	case c.RefreshTokenBytes < 48 || c.RefreshTokenBytes > 128:
		return fmt.Errorf("%w: refresh token bytes out of range [48..128]", ErrConfig)
	case c.StoreTimeout <= 0 || c.NotifyTimeout <= 0:
		return fmt.Errorf("%w: timeouts must be positive", ErrConfig)
	}
	return nil
}

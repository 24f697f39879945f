package authapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config controls auth API behavior and security defaults.
type Config struct {
	TrustProxy       bool  `env:"TRUST_PROXY"`
	MaxBodyBytes     int64 `env:"MAX_BODY_BYTES"`
	RegistrationOpen bool  `env:"REGISTRATION_OPEN"`

	LoginIPMax    int           `env:"LOGIN_IP_MAX"`
	LoginIPWindow time.Duration `env:"LOGIN_IP_WINDOW"`

	LoginUserWindow        time.Duration `env:"LOGIN_USER_WINDOW"`
	LockoutShortThreshold  int           `env:"LOGIN_LOCKOUT_SHORT_THRESHOLD"`
	LockoutShortDuration   time.Duration `env:"LOGIN_LOCKOUT_SHORT_DURATION"`
	LockoutLongThreshold   int           `env:"LOGIN_LOCKOUT_LONG_THRESHOLD"`
	LockoutLongDuration    time.Duration `env:"LOGIN_LOCKOUT_LONG_DURATION"`
	LockoutSevereThreshold int           `env:"LOGIN_LOCKOUT_SEVERE_THRESHOLD"`
	LockoutSevereDuration  time.Duration `env:"LOGIN_LOCKOUT_SEVERE_DURATION"`

	// Browser clients keep the refresh secret in an HttpOnly cookie guarded
	// by a double-submit CSRF token instead of in the JSON body.
	WebRefreshCookieEnabled bool   `env:"WEB_REFRESH_COOKIE"`
	RefreshCookieName       string `env:"REFRESH_COOKIE_NAME"`
	CSRFCookieName          string `env:"CSRF_COOKIE_NAME"`
	CSRFHeaderName          string `env:"CSRF_HEADER_NAME"`
	CookiePath              string `env:"COOKIE_PATH"`
	CookieDomain            string `env:"COOKIE_DOMAIN"`
	CookieSecure            bool   `env:"COOKIE_SECURE"`
	CookieSameSiteMode      string `env:"COOKIE_SAMESITE"`
}

// DefaultConfig returns safe defaults.
func DefaultConfig() Config {
	return Config{
		MaxBodyBytes:            1 << 20, // 1 MiB
		LoginIPMax:              20,
		LoginIPWindow:           5 * time.Minute,
		LoginUserWindow:         15 * time.Minute,
		LockoutShortThreshold:   5,
		LockoutShortDuration:    5 * time.Minute,
		LockoutLongThreshold:    10,
		LockoutLongDuration:     30 * time.Minute,
		LockoutSevereThreshold:  20,
		LockoutSevereDuration:   2 * time.Hour,
		WebRefreshCookieEnabled: true,
		RefreshCookieName:       "chirp_refresh_token",
		CSRFCookieName:          "chirp_csrf_token",
		CSRFHeaderName:          "X-CSRF-Token",
		CookiePath:              "/auth",
		CookieSecure:            true,
		CookieSameSiteMode:      "strict",
	}
}

// LoadConfigFromEnv overlays CHIRP_API_* variables on DefaultConfig.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "CHIRP_API_"}); err != nil {
		return Config{}, fmt.Errorf("authapi: parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations that would silently disable protections.
func (c Config) Validate() error {
	if c.MaxBodyBytes <= 0 {
		return errors.New("authapi: MAX_BODY_BYTES must be > 0")
	}
	if c.LoginIPMax < 0 || c.LoginIPWindow < 0 || c.LoginUserWindow < 0 {
		return errors.New("authapi: login throttle settings must be >= 0")
	}
	if c.WebRefreshCookieEnabled {
		if strings.TrimSpace(c.RefreshCookieName) == "" || strings.TrimSpace(c.CSRFCookieName) == "" || strings.TrimSpace(c.CSRFHeaderName) == "" {
			return errors.New("authapi: cookie and csrf names are required when the web refresh cookie is enabled")
		}
		if c.RefreshCookieName == c.CSRFCookieName {
			return errors.New("authapi: csrf cookie name must differ from refresh cookie name")
		}
	}
	switch strings.ToLower(strings.TrimSpace(c.CookieSameSiteMode)) {
	case "", "lax", "strict":
	case "none":
		// Browsers drop SameSite=None cookies that are not Secure.
		if !c.CookieSecure {
			return errors.New("authapi: COOKIE_SAMESITE=none requires COOKIE_SECURE=true")
		}
	default:
		return errors.New("authapi: COOKIE_SAMESITE must be lax, strict or none")
	}
	return nil
}

func (c Config) cookieSameSite() http.SameSite {
	switch strings.ToLower(strings.TrimSpace(c.CookieSameSiteMode)) {
	case "lax":
		return http.SameSiteLaxMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteStrictMode
	}
}

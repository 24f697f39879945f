package authapi

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigFromEnv_Overrides(t *testing.T) {
	t.Setenv("CHIRP_API_TRUST_PROXY", "true")
	t.Setenv("CHIRP_API_LOGIN_IP_MAX", "7")
	t.Setenv("CHIRP_API_COOKIE_SAMESITE", "lax")

	cfg, err := LoadConfigFromEnv()
	require.NoError(t, err)
	require.True(t, cfg.TrustProxy)
	require.Equal(t, 7, cfg.LoginIPMax)
	require.Equal(t, http.SameSiteLaxMode, cfg.cookieSameSite())
	require.Equal(t, int64(1<<20), cfg.MaxBodyBytes)
}

func TestLoadConfigFromEnv_CookieGuardrails(t *testing.T) {
	t.Setenv("CHIRP_API_REFRESH_COOKIE_NAME", "chirp_token")
	t.Setenv("CHIRP_API_CSRF_COOKIE_NAME", "chirp_token")

	_, err := LoadConfigFromEnv()
	require.Error(t, err)
}

func TestConfigValidate_SameSiteNoneNeedsSecure(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CookieSameSiteMode = "none"
	cfg.CookieSecure = false
	require.Error(t, cfg.Validate())

	cfg.CookieSecure = true
	require.NoError(t, cfg.Validate())
	require.Equal(t, http.SameSiteNoneMode, cfg.cookieSameSite())
}

func TestConfigValidate_UnknownSameSite(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CookieSameSiteMode = "sometimes"
	require.Error(t, cfg.Validate())
}

func TestCookieSameSite_DefaultsToStrict(t *testing.T) {
	require.Equal(t, http.SameSiteStrictMode, Config{}.cookieSameSite())
}

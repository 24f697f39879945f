package authapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"chirp/cmd/identity"
	"chirp/cmd/internal/auth/session"
	"chirp/cmd/internal/invite"
	"chirp/cmd/security/password"
	"chirp/cmd/security/token"

	"github.com/stretchr/testify/require"
)

const (
	testPassword    = "correct-horse-battery-9"
	testNewPassword = "another-long-passphrase-7"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type apiFixture struct {
	srv      *httptest.Server
	clock    *testClock
	audit    *MemoryAuditLog
	accounts *identity.Accounts
}

func newAPIFixture(t *testing.T, mutate func(*Config)) *apiFixture {
	t.Helper()

	clk := &testClock{t: time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)}

	pw := password.DefaultConfig()
	pw.Params.MemoryKiB = 8 * 1024
	pw.Params.Iterations = 1
	pw.Params.Parallelism = 1
	accounts, err := identity.NewAccounts(identity.NewMemoryStore(), pw, clk)
	require.NoError(t, err)

	sessCfg := session.DefaultConfig()
	sessCfg.SigningSecret = strings.Repeat("k", 32)
	codec, err := session.NewAccessTokenCodec(sessCfg, clk)
	require.NoError(t, err)
	hasher, err := token.NewHasher(nil)
	require.NoError(t, err)

	authority, err := session.NewAuthority(sessCfg, session.Deps{
		Store:  session.NewMemoryStore(),
		Users:  accounts,
		Hasher: hasher,
		Codec:  codec,
		Clock:  clk,
	})
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.RegistrationOpen = true
	if mutate != nil {
		mutate(&cfg)
	}

	invites, err := invite.NewService(invite.NewMemoryStore(), invite.WithHasher(hasher))
	require.NoError(t, err)

	audit := NewMemoryAuditLog()
	h, err := NewHandler(cfg, Deps{
		Authority: authority,
		Guard:     session.NewGuard(accounts, sessCfg, nil, nil),
		Accounts:  accounts,
		Audit:     audit,
		Invites:   invites,
		Clock:     clk,
	})
	require.NoError(t, err)

	mux := http.NewServeMux()
	h.Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return &apiFixture{srv: srv, clock: clk, audit: audit, accounts: accounts}
}

type reqOpt func(*http.Request)

func withBearer(tok string) reqOpt {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+tok) }
}

func withCookies(cs ...*http.Cookie) reqOpt {
	return func(r *http.Request) {
		for _, c := range cs {
			r.AddCookie(c)
		}
	}
}

func withHeader(k, v string) reqOpt {
	return func(r *http.Request) { r.Header.Set(k, v) }
}

func (f *apiFixture) do(t *testing.T, method, path string, body any, opts ...reqOpt) (*http.Response, []byte) {
	t.Helper()

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, rd)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, o := range opts {
		o(req)
	}

	resp, err := f.srv.Client().Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func (f *apiFixture) register(t *testing.T, username string) loginResponse {
	t.Helper()
	resp, body := f.do(t, http.MethodPost, "/auth/register", map[string]string{
		"username":     username,
		"display_name": "Ada Lovelace",
		"password":     testPassword,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var out loginResponse
	require.NoError(t, json.Unmarshal(body, &out))
	return out
}

func (f *apiFixture) refresh(t *testing.T, secret string) (*http.Response, []byte) {
	t.Helper()
	return f.do(t, http.MethodPost, "/auth/refresh", map[string]string{"refresh_token": secret})
}

func errorCode(t *testing.T, body []byte) string {
	t.Helper()
	var e errorResponse
	require.NoError(t, json.Unmarshal(body, &e), string(body))
	return e.Error.Code
}

func TestAuthAPI_RegisterLoginMe(t *testing.T) {
	f := newAPIFixture(t, nil)
	reg := f.register(t, "ada")
	require.NotEmpty(t, reg.Session.AccessToken)
	require.NotEmpty(t, reg.Session.RefreshToken)
	require.Equal(t, "ada", reg.User.Username)

	resp, body := f.do(t, http.MethodPost, "/auth/login", map[string]string{
		"username": "ADA",
		"password": testPassword,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var login loginResponse
	require.NoError(t, json.Unmarshal(body, &login))
	require.NotEqual(t, reg.Session.FamilyID, login.Session.FamilyID)

	resp, body = f.do(t, http.MethodGet, "/me", nil, withBearer(login.Session.AccessToken))
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var me meResponse
	require.NoError(t, json.Unmarshal(body, &me))
	require.Equal(t, reg.User.ID, me.User.ID)
	require.Equal(t, "Ada Lovelace", me.User.DisplayName)

	resp, _ = f.do(t, http.MethodGet, "/me", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAuthAPI_LoginFailure_NoEnumeration(t *testing.T) {
	f := newAPIFixture(t, nil)
	f.register(t, "ada")

	respA, bodyA := f.do(t, http.MethodPost, "/auth/login", map[string]string{
		"username": "nobody_here",
		"password": testPassword,
	})
	respB, bodyB := f.do(t, http.MethodPost, "/auth/login", map[string]string{
		"username": "ada",
		"password": "wrong-password-123",
	})

	require.Equal(t, http.StatusUnauthorized, respA.StatusCode)
	require.Equal(t, http.StatusUnauthorized, respB.StatusCode)
	require.JSONEq(t, string(bodyA), string(bodyB))
	require.Equal(t, "invalid_credentials", errorCode(t, bodyA))
}

func TestAuthAPI_ValidationErrors(t *testing.T) {
	f := newAPIFixture(t, nil)

	resp, body := f.do(t, http.MethodPost, "/auth/login", map[string]string{"username": "ada"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "invalid_request", errorCode(t, body))
	require.Contains(t, string(body), "password is required")

	resp, body = f.do(t, http.MethodPost, "/auth/login", map[string]any{"username": "ada", "password": testPassword, "extra": 1})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "invalid_json", errorCode(t, body))

	resp, body = f.do(t, http.MethodPost, "/auth/login", map[string]string{"username": "ada", "password": testPassword, "platform": "fax"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Contains(t, string(body), "platform must be one of")

	resp, _ = f.do(t, http.MethodGet, "/auth/login", nil)
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestAuthAPI_RegisterConflictAndClosed(t *testing.T) {
	f := newAPIFixture(t, nil)
	f.register(t, "ada")

	resp, body := f.do(t, http.MethodPost, "/auth/register", map[string]string{
		"username": "Ada",
		"password": testPassword,
	})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	require.Equal(t, "conflict", errorCode(t, body))

	closed := newAPIFixture(t, func(c *Config) { c.RegistrationOpen = false })
	resp, body = closed.do(t, http.MethodPost, "/auth/register", map[string]string{
		"username": "grace",
		"password": testPassword,
	})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	require.Equal(t, "registration_closed", errorCode(t, body))
}

func TestAuthAPI_RefreshRotationGraceAndReuse(t *testing.T) {
	f := newAPIFixture(t, nil)
	reg := f.register(t, "ada")
	first := reg.Session.RefreshToken

	f.clock.Advance(time.Minute)
	resp, body := f.refresh(t, first)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var rotated refreshResponse
	require.NoError(t, json.Unmarshal(body, &rotated))
	require.NotEqual(t, first, rotated.Session.RefreshToken)
	require.Equal(t, reg.Session.FamilyID, rotated.Session.FamilyID)

	// Replay inside the grace period: the client raced itself.
	f.clock.Advance(time.Second)
	resp, body = f.refresh(t, first)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	require.Equal(t, "stale_refresh_token", errorCode(t, body))
	require.Equal(t, "1", resp.Header.Get("Retry-After"))

	// Replay after the grace period is theft; the whole family dies.
	f.clock.Advance(time.Minute)
	resp, body = f.refresh(t, first)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, "session_not_active", errorCode(t, body))

	resp, _ = f.refresh(t, rotated.Session.RefreshToken)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Contains(t, f.audit.Actions(), actionRefreshReuse)
}

func TestAuthAPI_RefreshUnknownAndMissing(t *testing.T) {
	f := newAPIFixture(t, nil)

	resp, body := f.refresh(t, strings.Repeat("ab", 48))
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, "session_not_active", errorCode(t, body))

	resp, body = f.do(t, http.MethodPost, "/auth/refresh", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "invalid_request", errorCode(t, body))
}

func TestAuthAPI_LogoutIsIdempotent(t *testing.T) {
	f := newAPIFixture(t, nil)
	reg := f.register(t, "ada")

	for i := 0; i < 2; i++ {
		resp, _ := f.do(t, http.MethodPost, "/auth/logout", map[string]string{"refresh_token": reg.Session.RefreshToken})
		require.Equal(t, http.StatusNoContent, resp.StatusCode)
	}

	resp, _ := f.refresh(t, reg.Session.RefreshToken)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAuthAPI_LogoutAll(t *testing.T) {
	f := newAPIFixture(t, nil)
	reg := f.register(t, "ada")

	resp, body := f.do(t, http.MethodPost, "/auth/login", map[string]string{"username": "ada", "password": testPassword})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var second loginResponse
	require.NoError(t, json.Unmarshal(body, &second))

	resp, _ = f.do(t, http.MethodPost, "/auth/logout_all", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPost, "/auth/logout_all", nil, withBearer(reg.Session.AccessToken))
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	for _, secret := range []string{reg.Session.RefreshToken, second.Session.RefreshToken} {
		resp, _ = f.refresh(t, secret)
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}
}

func TestAuthAPI_PasswordChangeInvalidatesOlderTokens(t *testing.T) {
	f := newAPIFixture(t, nil)
	reg := f.register(t, "ada")

	f.clock.Advance(2 * time.Second)
	resp, body := f.do(t, http.MethodPost, "/auth/password", map[string]string{
		"current_password": "not-the-password",
		"new_password":     testNewPassword,
	}, withBearer(reg.Session.AccessToken))
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	require.Equal(t, "invalid_credentials", errorCode(t, body))

	resp, body = f.do(t, http.MethodPost, "/auth/password", map[string]string{
		"current_password": testPassword,
		"new_password":     testNewPassword,
	}, withBearer(reg.Session.AccessToken))
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var fresh loginResponse
	require.NoError(t, json.Unmarshal(body, &fresh))

	// The old access token still verifies statelessly but fails the guard.
	resp, _ = f.do(t, http.MethodGet, "/me", nil, withBearer(reg.Session.AccessToken))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = f.do(t, http.MethodDelete, "/me", nil, withBearer(reg.Session.AccessToken))
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = f.refresh(t, reg.Session.RefreshToken)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body = f.refresh(t, fresh.Session.RefreshToken)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	resp, _ = f.do(t, http.MethodPost, "/auth/login", map[string]string{"username": "ada", "password": testPassword})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp, _ = f.do(t, http.MethodPost, "/auth/login", map[string]string{"username": "ada", "password": testNewPassword})
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAuthAPI_DeleteMeDisablesAccount(t *testing.T) {
	f := newAPIFixture(t, nil)
	reg := f.register(t, "ada")

	resp, _ := f.do(t, http.MethodDelete, "/me", nil, withBearer(reg.Session.AccessToken))
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = f.refresh(t, reg.Session.RefreshToken)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPost, "/auth/login", map[string]string{"username": "ada", "password": testPassword})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = f.do(t, http.MethodDelete, "/me", nil, withBearer(reg.Session.AccessToken))
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Contains(t, f.audit.Actions(), actionAccountDisabled)
}

func TestAuthAPI_WebCookieTransport(t *testing.T) {
	f := newAPIFixture(t, nil)
	f.register(t, "ada")

	resp, body := f.do(t, http.MethodPost, "/auth/login", map[string]string{
		"username": "ada",
		"password": testPassword,
		"platform": "web",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var login loginResponse
	require.NoError(t, json.Unmarshal(body, &login))
	require.Empty(t, login.Session.RefreshToken)

	var refreshCookie, csrfCookie *http.Cookie
	for _, c := range resp.Cookies() {
		switch c.Name {
		case "chirp_refresh_token":
			refreshCookie = c
		case "chirp_csrf_token":
			csrfCookie = c
		}
	}
	require.NotNil(t, refreshCookie)
	require.NotNil(t, csrfCookie)

	resp, body = f.do(t, http.MethodPost, "/auth/refresh", nil, withCookies(refreshCookie, csrfCookie))
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	require.Equal(t, "csrf_invalid", errorCode(t, body))

	resp, body = f.do(t, http.MethodPost, "/auth/refresh", nil,
		withCookies(refreshCookie, csrfCookie),
		withHeader("X-CSRF-Token", csrfCookie.Value),
	)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var rotated refreshResponse
	require.NoError(t, json.Unmarshal(body, &rotated))
	require.Empty(t, rotated.Session.RefreshToken)
	require.NotEmpty(t, rotated.Session.AccessToken)
}

func TestAuthAPI_LoginThrottledByIP(t *testing.T) {
	f := newAPIFixture(t, func(c *Config) {
		c.LoginIPMax = 2
		c.LoginIPWindow = time.Minute
	})
	f.register(t, "ada")

	for i := 0; i < 2; i++ {
		resp, _ := f.do(t, http.MethodPost, "/auth/login", map[string]string{"username": "ada", "password": "wrong-password-123"})
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}

	resp, body := f.do(t, http.MethodPost, "/auth/login", map[string]string{"username": "ada", "password": testPassword})
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	require.Equal(t, "rate_limited", errorCode(t, body))
	require.Equal(t, "60", resp.Header.Get("Retry-After"))

	f.clock.Advance(2 * time.Minute)
	resp, _ = f.do(t, http.MethodPost, "/auth/login", map[string]string{"username": "ada", "password": testPassword})
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAuthAPI_InviteOnlyRegistration(t *testing.T) {
	f := newAPIFixture(t, func(c *Config) { c.RegistrationOpen = false })
	_, err := f.accounts.Register(context.Background(), "ada", "Ada", testPassword)
	require.NoError(t, err)

	resp, body := f.do(t, http.MethodPost, "/auth/login", map[string]string{"username": "ada", "password": testPassword})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var login loginResponse
	require.NoError(t, json.Unmarshal(body, &login))

	resp, _ = f.do(t, http.MethodPost, "/auth/invites", map[string]any{})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body = f.do(t, http.MethodPost, "/auth/invites", map[string]any{"ttl_seconds": 90 * 24 * 3600}, withBearer(login.Session.AccessToken))
	require.Equal(t, http.StatusBadRequest, resp.StatusCode, string(body))

	resp, body = f.do(t, http.MethodPost, "/auth/invites", map[string]any{"max_uses": 1, "note": "for grace"}, withBearer(login.Session.AccessToken))
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var inv inviteResponse
	require.NoError(t, json.Unmarshal(body, &inv))
	require.NotEmpty(t, inv.Token)
	require.Equal(t, 1, inv.MaxUses)

	resp, body = f.do(t, http.MethodPost, "/auth/register", map[string]string{
		"username": "grace", "password": testPassword, "invite_token": "bogus",
	})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	require.Equal(t, "invite_invalid", errorCode(t, body))

	resp, body = f.do(t, http.MethodPost, "/auth/register", map[string]string{
		"username": "grace", "password": testPassword, "invite_token": inv.Token,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	resp, body = f.do(t, http.MethodPost, "/auth/register", map[string]string{
		"username": "heidi", "password": testPassword, "invite_token": inv.Token,
	})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	require.Equal(t, "invite_invalid", errorCode(t, body))

	require.Contains(t, f.audit.Actions(), actionInviteCreated)

	resp, body = f.do(t, http.MethodPost, "/auth/invites", map[string]any{"max_uses": 3}, withBearer(login.Session.AccessToken))
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var second inviteResponse
	require.NoError(t, json.Unmarshal(body, &second))

	resp, _ = f.do(t, http.MethodDelete, "/auth/invites/"+second.ID, nil, withBearer(login.Session.AccessToken))
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.Contains(t, f.audit.Actions(), actionInviteRevoked)

	resp, body = f.do(t, http.MethodPost, "/auth/register", map[string]string{
		"username": "ivan", "password": testPassword, "invite_token": second.Token,
	})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	require.Equal(t, "invite_invalid", errorCode(t, body))

	resp, _ = f.do(t, http.MethodDelete, "/auth/invites/01HZZZZZZZZZZZZZZZZZZZZZZZ", nil, withBearer(login.Session.AccessToken))
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

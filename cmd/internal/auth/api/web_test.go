package authapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestShouldUseWebCookieTransport(t *testing.T) {
	h := &Handler{cfg: Config{WebRefreshCookieEnabled: true}}
	if !h.shouldUseWebCookieTransport("web") {
		t.Fatalf("expected web cookie transport enabled for web platform")
	}
	if !h.shouldUseWebCookieTransport(" WEB ") {
		t.Fatalf("expected platform match to be case-insensitive")
	}
	if h.shouldUseWebCookieTransport("ios") {
		t.Fatalf("expected web cookie transport disabled for non-web platform")
	}

	h.cfg.WebRefreshCookieEnabled = false
	if h.shouldUseWebCookieTransport("web") {
		t.Fatalf("expected web cookie transport disabled by config")
	}
}

func TestSetWebSessionCookies(t *testing.T) {
	h := &Handler{cfg: Config{
		WebRefreshCookieEnabled: true,
		RefreshCookieName:       "chirp_refresh_token",
		CSRFCookieName:          "chirp_csrf_token",
		CookiePath:              "/auth",
		CookieSecure:            true,
		CookieSameSiteMode:      "strict",
	}}

	rr := httptest.NewRecorder()
	exp := time.Now().UTC().Add(30 * time.Minute)
	csrf, err := h.setWebSessionCookies(rr, "refresh-token-123", exp)
	if err != nil {
		t.Fatalf("setWebSessionCookies: %v", err)
	}
	if csrf == "" {
		t.Fatalf("expected csrf token")
	}

	cookies := rr.Result().Cookies()
	if len(cookies) != 2 {
		t.Fatalf("expected 2 cookies, got %d", len(cookies))
	}
	for _, c := range cookies {
		if c.SameSite != http.SameSiteStrictMode || !c.Secure {
			t.Fatalf("cookie %s: unexpected attributes %+v", c.Name, c)
		}
		if c.Name == "chirp_refresh_token" && !c.HttpOnly {
			t.Fatalf("refresh cookie must be HttpOnly")
		}
		if c.Name == "chirp_csrf_token" && c.HttpOnly {
			t.Fatalf("csrf cookie must be readable by scripts")
		}
	}
}

func TestCSRFDoubleSubmitValidation(t *testing.T) {
	h := &Handler{cfg: Config{
		WebRefreshCookieEnabled: true,
		CSRFCookieName:          "chirp_csrf_token",
		CSRFHeaderName:          "X-CSRF-Token",
	}}

	req := httptest.NewRequest(http.MethodPost, "/auth/refresh", nil)
	req.AddCookie(&http.Cookie{Name: "chirp_csrf_token", Value: "csrf-abc"})
	req.Header.Set("X-CSRF-Token", "csrf-abc")

	if !h.csrfDoubleSubmitValid(req) {
		t.Fatalf("expected csrf validation success")
	}

	req.Header.Set("X-CSRF-Token", "csrf-def")
	if h.csrfDoubleSubmitValid(req) {
		t.Fatalf("expected csrf validation failure on mismatch")
	}
}

func TestRefreshTokenFromCookie(t *testing.T) {
	h := &Handler{cfg: Config{
		WebRefreshCookieEnabled: true,
		RefreshCookieName:       "chirp_refresh_token",
	}}

	req := httptest.NewRequest(http.MethodPost, "/auth/refresh", nil)
	req.AddCookie(&http.Cookie{Name: "chirp_refresh_token", Value: "tok-123"})

	token, ok := h.refreshTokenFromCookie(req)
	if !ok {
		t.Fatalf("expected cookie token to be found")
	}
	if token != "tok-123" {
		t.Fatalf("unexpected cookie token: %q", token)
	}
}

func TestClearWebSessionCookies(t *testing.T) {
	h := &Handler{cfg: Config{
		WebRefreshCookieEnabled: true,
		RefreshCookieName:       "chirp_refresh_token",
		CSRFCookieName:          "chirp_csrf_token",
		CookiePath:              "/auth",
	}}

	rr := httptest.NewRecorder()
	h.clearWebSessionCookies(rr)

	cookies := rr.Result().Cookies()
	if len(cookies) != 2 {
		t.Fatalf("expected 2 cookies, got %d", len(cookies))
	}
	for _, c := range cookies {
		if c.MaxAge >= 0 || c.Value != "" {
			t.Fatalf("cookie %s not expired: %+v", c.Name, c)
		}
	}

	h.cfg.WebRefreshCookieEnabled = false
	rr = httptest.NewRecorder()
	h.clearWebSessionCookies(rr)
	if n := len(rr.Result().Cookies()); n != 0 {
		t.Fatalf("expected no cookies when transport is off, got %d", n)
	}
}

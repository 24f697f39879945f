package authapi

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"net/http"
	"strings"
	"time"
)

const (
	platformWeb = "web"
	csrfBytes   = 32
)

// shouldUseWebCookieTransport reports whether the refresh secret travels in
// the HttpOnly cookie instead of the JSON body.
func (h *Handler) shouldUseWebCookieTransport(platform string) bool {
	return h != nil && h.cfg.WebRefreshCookieEnabled && strings.EqualFold(strings.TrimSpace(platform), platformWeb)
}

// setWebSessionCookies stores the refresh secret in an HttpOnly cookie and
// pairs it with a script-readable CSRF cookie. It returns the CSRF value.
func (h *Handler) setWebSessionCookies(w http.ResponseWriter, refreshToken string, refreshExp time.Time) (string, error) {
	raw := make([]byte, csrfBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	csrf := base64.RawURLEncoding.EncodeToString(raw)

	http.SetCookie(w, h.webCookie(h.cfg.RefreshCookieName, refreshToken, refreshExp, true))
	http.SetCookie(w, h.webCookie(h.cfg.CSRFCookieName, csrf, refreshExp, false))
	return csrf, nil
}

// clearWebSessionCookies expires both cookies; harmless for non-web clients.
func (h *Handler) clearWebSessionCookies(w http.ResponseWriter) {
	if h == nil || w == nil || !h.cfg.WebRefreshCookieEnabled {
		return
	}
	for _, c := range []*http.Cookie{
		h.webCookie(h.cfg.RefreshCookieName, "", time.Unix(0, 0).UTC(), true),
		h.webCookie(h.cfg.CSRFCookieName, "", time.Unix(0, 0).UTC(), false),
	} {
		c.MaxAge = -1
		http.SetCookie(w, c)
	}
}

func (h *Handler) webCookie(name, value string, exp time.Time, httpOnly bool) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     h.cfg.CookiePath,
		Domain:   h.cfg.CookieDomain,
		Expires:  exp,
		HttpOnly: httpOnly,
		Secure:   h.cfg.CookieSecure,
		SameSite: h.cfg.cookieSameSite(),
	}
}

func (h *Handler) cookieValue(r *http.Request, name string) string {
	if h == nil || r == nil || !h.cfg.WebRefreshCookieEnabled {
		return ""
	}
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(c.Value)
}

func (h *Handler) refreshTokenFromCookie(r *http.Request) (string, bool) {
	v := h.cookieValue(r, h.cfg.RefreshCookieName)
	return v, v != ""
}

// csrfDoubleSubmitValid requires the CSRF cookie to be echoed in the
// configured header. A cross-site page can send the cookie but cannot read it.
func (h *Handler) csrfDoubleSubmitValid(r *http.Request) bool {
	cv := h.cookieValue(r, h.cfg.CSRFCookieName)
	if cv == "" {
		return false
	}
	hv := strings.TrimSpace(r.Header.Get(h.cfg.CSRFHeaderName))
	return len(hv) == len(cv) && subtle.ConstantTimeCompare([]byte(cv), []byte(hv)) == 1
}

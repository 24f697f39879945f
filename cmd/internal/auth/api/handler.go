package authapi

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"chirp/cmd/identity"
	"chirp/cmd/internal/auth/session"
	"chirp/cmd/internal/invite"

	"github.com/go-playground/validator/v10"
)

// Handler wires HTTP auth endpoints to the identity and session services.
type Handler struct {
	log *slog.Logger
	cfg Config

	authority *session.Authority
	guard     *session.Guard
	accounts  *identity.Accounts
	audit     AuditLog
	invites   *invite.Service
	clock     session.Clock

	validate *validator.Validate
}

// Deps are the collaborators a Handler is built from.
// Authority, Guard and Accounts are required. Without Invites, registration
// is possible only while it is open.
type Deps struct {
	Authority *session.Authority
	Guard     *session.Guard
	Accounts  *identity.Accounts
	Audit     AuditLog
	Invites   *invite.Service
	Clock     session.Clock
	Logger    *slog.Logger
}

// NewHandler constructs an auth Handler.
func NewHandler(cfg Config, d Deps) (*Handler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if d.Authority == nil || d.Guard == nil || d.Accounts == nil {
		return nil, errors.New("authapi: authority, guard and accounts are required")
	}
	if d.Audit == nil {
		d.Audit = NewMemoryAuditLog()
	}
	if d.Clock == nil {
		d.Clock = session.SystemClock{}
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}

	return &Handler{
		log:       d.Logger,
		cfg:       cfg,
		authority: d.Authority,
		guard:     d.Guard,
		accounts:  d.Accounts,
		audit:     d.Audit,
		invites:   d.Invites,
		clock:     d.Clock,
		validate:  newValidator(),
	}, nil
}

// Register wires auth routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("/auth/login", h.handleLogin)
	mux.HandleFunc("/auth/register", h.handleRegister)
	mux.HandleFunc("/auth/refresh", h.handleRefresh)
	mux.HandleFunc("/auth/logout", h.handleLogout)
	mux.HandleFunc("/auth/logout_all", h.handleLogoutAll)
	mux.HandleFunc("/auth/password", h.handlePasswordChange)
	mux.HandleFunc("/auth/invites", h.handleCreateInvite)
	mux.HandleFunc("DELETE /auth/invites/{id}", h.handleRevokeInvite)
	mux.HandleFunc("/me", h.handleMe)
}

// ---- handlers ----

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req loginRequest
	if !h.decodeRequest(w, r, &req) {
		return
	}

	ctx := r.Context()
	now := h.clock.Now()
	ip := clientIP(r, h.cfg.TrustProxy)
	ua := strings.TrimSpace(r.UserAgent())
	identifier := identity.NormalizeUsername(req.Username)

	// IP-based throttling before the password check.
	if blocked, retryAfter, err := h.checkLoginIPThrottle(ctx, ip, now); err != nil {
		h.log.Error("auth.login.throttle_ip.fail", "err", err)
		writeError(w, http.StatusServiceUnavailable, "server_busy", "please retry later")
		return
	} else if blocked {
		h.auditLoginRateLimited(ctx, ip, ua, identifier, retryAfter)
		writeRateLimited(w, retryAfter)
		return
	}
	// Identifier-based throttling before the password check to avoid extra Argon2id load.
	if blocked, retryAfter, err := h.checkLoginIdentifierThrottle(ctx, identifier, now); err != nil {
		h.log.Error("auth.login.throttle_identifier.fail", "err", err)
		writeError(w, http.StatusServiceUnavailable, "server_busy", "please retry later")
		return
	} else if blocked {
		h.auditLoginRateLimited(ctx, ip, ua, identifier, retryAfter)
		writeRateLimited(w, retryAfter)
		return
	}

	u, err := h.accounts.Authenticate(ctx, req.Username, req.Password)
	if err != nil {
		if session.KindOf(err) == session.KindInvalidCredentials {
			h.auditLoginFailed(ctx, "", ip, ua, identifier, "invalid_credentials")
			writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
			return
		}
		h.log.Error("auth.login.lookup.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.issueAndRespond(w, r, u, req.Platform, http.StatusOK, actionLoginSuccess, identifier)
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req registerRequest
	if !h.decodeRequest(w, r, &req) {
		return
	}

	ctx := r.Context()
	inviteToken := strings.TrimSpace(req.InviteToken)
	if !h.cfg.RegistrationOpen {
		if inviteToken == "" || h.invites == nil {
			writeError(w, http.StatusForbidden, "registration_closed", "registration is closed")
			return
		}
		ok, _, err := h.invites.ValidateInvite(ctx, inviteToken, h.clock.Now())
		if err != nil {
			h.log.Error("auth.register.invite_check.fail", "err", err)
			writeError(w, http.StatusServiceUnavailable, "server_busy", "please retry later")
			return
		}
		if !ok {
			writeError(w, http.StatusForbidden, "invite_invalid", "invite is invalid or expired")
			return
		}
	}

	u, err := h.accounts.Register(ctx, req.Username, req.DisplayName, req.Password)
	if err != nil {
		var opErr identity.OpError
		switch {
		case identity.IsConflict(err):
			writeError(w, http.StatusConflict, "conflict", "username already exists")
		case identity.IsInvalidInput(err) && errors.As(err, &opErr) && opErr.Msg != "":
			writeError(w, http.StatusBadRequest, "invalid_request", opErr.Msg)
		case identity.IsInvalidInput(err):
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid input")
		default:
			h.log.Error("auth.register.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		}
		return
	}

	if !h.cfg.RegistrationOpen && !h.consumeInvite(w, r, inviteToken, u.ID) {
		return
	}

	h.issueAndRespond(w, r, u, req.Platform, http.StatusCreated, actionSignup, u.UsernameNorm)
}

// consumeInvite takes one use of the invite for the account just created.
// Losing a race for the last use disables that account again.
func (h *Handler) consumeInvite(w http.ResponseWriter, r *http.Request, inviteToken, userID string) bool {
	ctx := r.Context()
	_, err := h.invites.ConsumeInvite(ctx, invite.ConsumeInput{
		Token:      inviteToken,
		ConsumedBy: &userID,
		Now:        h.clock.Now(),
	})
	if err == nil {
		return true
	}

	if derr := h.accounts.Disable(ctx, userID); derr != nil {
		h.log.Error("auth.register.invite_rollback.fail", "user_id", userID, "err", derr)
	}
	if errors.Is(err, invite.ErrNotActive) || errors.Is(err, invite.ErrNotFound) {
		writeError(w, http.StatusForbidden, "invite_invalid", "invite is invalid or expired")
		return false
	}
	h.log.Error("auth.register.invite_consume.fail", "err", err)
	writeError(w, http.StatusServiceUnavailable, "server_busy", "please retry later")
	return false
}

func (h *Handler) handleCreateInvite(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h.invites == nil {
		writeError(w, http.StatusNotFound, "not_found", "invites are not enabled")
		return
	}

	p, ok := h.requireSensitiveAuth(w, r)
	if !ok {
		return
	}

	var req createInviteRequest
	if !h.decodeRequest(w, r, &req) {
		return
	}

	ctx := r.Context()
	createdBy := string(p.UserID)
	inv, tok, err := h.invites.CreateInvite(ctx, invite.CreateInput{
		CreatedBy: &createdBy,
		TTL:       time.Duration(req.TTLSeconds) * time.Second,
		MaxUses:   req.MaxUses,
		Note:      req.Note,
		Now:       h.clock.Now(),
	})
	if err != nil {
		if errors.Is(err, invite.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid invite parameters")
			return
		}
		h.log.Error("auth.invite.create.fail", "err", err)
		writeError(w, http.StatusServiceUnavailable, "server_busy", "please retry later")
		return
	}

	h.insertAudit(ctx, actionInviteCreated, createdBy, clientIP(r, h.cfg.TrustProxy), r.UserAgent(), map[string]any{
		"invite_id": inv.ID,
		"max_uses":  inv.MaxUses,
	})
	writeJSON(w, http.StatusCreated, inviteResponse{
		ID:        inv.ID,
		Token:     tok,
		ExpiresAt: inv.ExpiresAt,
		MaxUses:   inv.MaxUses,
	})
}

func (h *Handler) handleRevokeInvite(w http.ResponseWriter, r *http.Request) {
	if h.invites == nil {
		writeError(w, http.StatusNotFound, "not_found", "invites are not enabled")
		return
	}

	p, ok := h.requireSensitiveAuth(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	revokedBy := string(p.UserID)
	id := r.PathValue("id")
	err := h.invites.RevokeInvite(ctx, invite.RevokeInput{ID: id, RevokedBy: &revokedBy, Now: h.clock.Now()})
	switch {
	case err == nil:
	case errors.Is(err, invite.ErrNotFound), errors.Is(err, invite.ErrInvalidInput):
		writeError(w, http.StatusNotFound, "not_found", "invite not found")
		return
	default:
		h.log.Error("auth.invite.revoke.fail", "err", err)
		writeError(w, http.StatusServiceUnavailable, "server_busy", "please retry later")
		return
	}

	h.insertAudit(ctx, actionInviteRevoked, revokedBy, clientIP(r, h.cfg.TrustProxy), r.UserAgent(), map[string]any{
		"invite_id": id,
	})
	w.WriteHeader(http.StatusNoContent)
}

// issueAndRespond opens a new token family for u and writes the login response.
func (h *Handler) issueAndRespond(w http.ResponseWriter, r *http.Request, u identity.User, platform string, status int, action, identifier string) {
	ctx := r.Context()

	issued, err := h.authority.Login(ctx, session.UserID(u.ID), u.DisplayName, u.Username)
	if err != nil {
		h.log.Error("auth.login.issue_session.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.insertAudit(ctx, action, u.ID, clientIP(r, h.cfg.TrustProxy), r.UserAgent(), map[string]any{
		"identifier": identifier,
		"family_id":  string(issued.FamilyID),
	})

	respSession, ok := h.sessionForTransport(w, issued, platform)
	if !ok {
		return
	}
	writeJSON(w, status, loginResponse{
		User:    toUserResponse(u),
		Session: respSession,
	})
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req refreshRequest
	if r.ContentLength != 0 {
		if !h.decodeRequest(w, r, &req) {
			return
		}
	}
	refreshToken := strings.TrimSpace(req.RefreshToken)
	fromCookie := false
	if cookieToken, ok := h.refreshTokenFromCookie(r); ok {
		fromCookie = true
		if refreshToken == "" {
			refreshToken = cookieToken
		}
	}
	if refreshToken == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "refresh_token is required")
		return
	}
	if fromCookie && !h.csrfDoubleSubmitValid(r) {
		writeError(w, http.StatusForbidden, "csrf_invalid", "missing or invalid csrf token")
		return
	}

	ctx := r.Context()
	ip := clientIP(r, h.cfg.TrustProxy)
	ua := strings.TrimSpace(r.UserAgent())

	issued, err := h.authority.Refresh(ctx, refreshToken)
	if err != nil {
		switch session.KindOf(err) {
		case session.KindStaleRefreshToken:
			var stale *session.StaleRefreshTokenError
			if errors.As(err, &stale) {
				setRetryAfter(w, stale.RetryAfter)
			}
			writeError(w, http.StatusConflict, "stale_refresh_token", "refresh already in progress; retry with the newest token")
		case session.KindTokenFamilyReused:
			h.insertAudit(ctx, actionRefreshReuse, "", ip, ua, nil)
			h.clearWebSessionCookies(w)
			writeError(w, http.StatusUnauthorized, "session_not_active", "session not active")
		case session.KindRefreshTokenNotFound,
			session.KindRefreshTokenExpired,
			session.KindRefreshTokenRevoked,
			session.KindSessionRevoked:
			h.clearWebSessionCookies(w)
			writeError(w, http.StatusUnauthorized, "session_not_active", "session not active")
		default:
			writeError(w, http.StatusServiceUnavailable, "server_busy", "please retry later")
		}
		return
	}

	h.insertAudit(ctx, actionRefreshSuccess, string(issued.UserID), ip, ua, map[string]any{
		"family_id": string(issued.FamilyID),
	})

	platform := req.Platform
	if fromCookie {
		platform = platformWeb
	}
	respSession, ok := h.sessionForTransport(w, issued, platform)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, refreshResponse{Session: respSession})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req logoutRequest
	if r.ContentLength != 0 {
		if !h.decodeRequest(w, r, &req) {
			return
		}
	}
	refreshToken := strings.TrimSpace(req.RefreshToken)
	if refreshToken == "" {
		if cookieToken, ok := h.refreshTokenFromCookie(r); ok {
			if !h.csrfDoubleSubmitValid(r) {
				writeError(w, http.StatusForbidden, "csrf_invalid", "missing or invalid csrf token")
				return
			}
			refreshToken = cookieToken
		}
	}
	if refreshToken == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "refresh_token is required")
		return
	}

	ctx := r.Context()
	if err := h.authority.Logout(ctx, refreshToken); err != nil {
		writeError(w, http.StatusServiceUnavailable, "server_busy", "please retry later")
		return
	}

	h.insertAudit(ctx, actionLogout, "", clientIP(r, h.cfg.TrustProxy), r.UserAgent(), nil)
	h.clearWebSessionCookies(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	p, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	n, err := h.authority.RevokeAllForUser(ctx, p.UserID, session.ReasonLogoutAll)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "server_busy", "please retry later")
		return
	}

	h.insertAudit(ctx, actionLogoutAll, string(p.UserID), clientIP(r, h.cfg.TrustProxy), r.UserAgent(), map[string]any{
		"revoked": n,
	})
	h.clearWebSessionCookies(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handlePasswordChange(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	p, ok := h.requireSensitiveAuth(w, r)
	if !ok {
		return
	}

	var req passwordChangeRequest
	if !h.decodeRequest(w, r, &req) {
		return
	}

	ctx := r.Context()
	if _, err := h.accounts.ChangePassword(ctx, string(p.UserID), req.CurrentPassword, req.NewPassword); err != nil {
		var opErr identity.OpError
		switch {
		case errors.Is(err, identity.ErrInvalidCredentials):
			writeError(w, http.StatusForbidden, "invalid_credentials", "current password is incorrect")
		case identity.IsInvalidInput(err) && errors.As(err, &opErr) && opErr.Msg != "":
			writeError(w, http.StatusBadRequest, "invalid_request", opErr.Msg)
		case identity.IsNotFound(err), identity.IsNotActive(err):
			writeError(w, http.StatusUnauthorized, "unauthorized", "unauthorized")
		default:
			h.log.Error("auth.password.change.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		}
		return
	}

	// The guard already rejects older access tokens; revoking the refresh
	// families ends every other device within one access TTL.
	if _, err := h.authority.RevokeAllForUser(ctx, p.UserID, session.ReasonPasswordChanged); err != nil {
		writeError(w, http.StatusServiceUnavailable, "server_busy", "please retry later")
		return
	}

	u, err := h.accounts.Get(ctx, string(p.UserID))
	if err != nil {
		h.log.Error("auth.password.reload.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	h.issueAndRespond(w, r, u, req.Platform, http.StatusOK, actionPasswordChanged, u.UsernameNorm)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.handleMeGet(w, r)
	case http.MethodDelete:
		h.handleMeDelete(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleMeGet(w http.ResponseWriter, r *http.Request) {
	p, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	u, err := h.accounts.Get(r.Context(), string(p.UserID))
	if err != nil {
		if identity.IsNotFound(err) {
			writeError(w, http.StatusUnauthorized, "unauthorized", "unauthorized")
			return
		}
		h.log.Error("auth.me.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	writeJSON(w, http.StatusOK, meResponse{User: toUserResponse(u)})
}

func (h *Handler) handleMeDelete(w http.ResponseWriter, r *http.Request) {
	p, ok := h.requireSensitiveAuth(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	if err := h.accounts.Disable(ctx, string(p.UserID)); err != nil {
		if identity.IsNotFound(err) {
			writeError(w, http.StatusUnauthorized, "unauthorized", "unauthorized")
			return
		}
		h.log.Error("auth.me.disable.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	if _, err := h.authority.RevokeAllForUser(ctx, p.UserID, session.ReasonAccountDisabled); err != nil {
		writeError(w, http.StatusServiceUnavailable, "server_busy", "please retry later")
		return
	}

	h.insertAudit(ctx, actionAccountDisabled, string(p.UserID), clientIP(r, h.cfg.TrustProxy), r.UserAgent(), nil)
	h.clearWebSessionCookies(w)
	w.WriteHeader(http.StatusNoContent)
}

// ---- helpers ----

// requireAuth verifies the bearer token statelessly.
func (h *Handler) requireAuth(w http.ResponseWriter, r *http.Request) (session.Principal, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized", "unauthorized")
		return session.Principal{}, false
	}
	p, err := h.authority.Validate(token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "unauthorized")
		return session.Principal{}, false
	}
	return p, true
}

// requireSensitiveAuth additionally re-checks live account state.
func (h *Handler) requireSensitiveAuth(w http.ResponseWriter, r *http.Request) (session.Principal, bool) {
	p, ok := h.requireAuth(w, r)
	if !ok {
		return session.Principal{}, false
	}
	if err := h.guard.Check(r.Context(), p); err != nil {
		if errors.Is(err, session.ErrSessionRevoked) {
			writeError(w, http.StatusUnauthorized, "unauthorized", "unauthorized")
			return session.Principal{}, false
		}
		h.log.Error("auth.guard.fail", "err", err)
		writeError(w, http.StatusServiceUnavailable, "server_busy", "please retry later")
		return session.Principal{}, false
	}
	return p, true
}

// sessionForTransport moves the refresh secret into cookies for web clients.
func (h *Handler) sessionForTransport(w http.ResponseWriter, issued session.Issued, platform string) (sessionResponse, bool) {
	resp := toSessionResponse(issued)
	if !h.shouldUseWebCookieTransport(platform) {
		return resp, true
	}
	if _, err := h.setWebSessionCookies(w, issued.RefreshToken, issued.RefreshExp); err != nil {
		h.log.Error("auth.web_cookie.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return sessionResponse{}, false
	}
	resp.RefreshToken = ""
	return resp, true
}

func toUserResponse(u identity.User) userResponse {
	return userResponse{
		ID:          u.ID,
		Username:    u.Username,
		DisplayName: u.DisplayName,
		CreatedAt:   u.CreatedAt,
	}
}

func toSessionResponse(issued session.Issued) sessionResponse {
	return sessionResponse{
		FamilyID:         string(issued.FamilyID),
		AccessToken:      issued.AccessToken,
		AccessExpiresAt:  issued.AccessExp,
		RefreshToken:     issued.RefreshToken,
		RefreshExpiresAt: issued.RefreshExp,
	}
}

func bearerToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if raw == "" {
		return ""
	}
	parts := strings.SplitN(raw, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func clientIP(r *http.Request, trustProxy bool) net.IP {
	if trustProxy {
		if ip := parseForwardedIP(r.Header.Get("X-Forwarded-For")); ip != nil {
			return ip
		}
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		if ip := net.ParseIP(host); ip != nil {
			return ip
		}
	}
	return nil
}

func parseForwardedIP(raw string) net.IP {
	if raw == "" {
		return nil
	}
	for _, p := range strings.Split(raw, ",") {
		if ip := net.ParseIP(strings.TrimSpace(p)); ip != nil {
			return ip
		}
	}
	return nil
}

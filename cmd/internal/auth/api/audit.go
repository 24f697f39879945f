package authapi

import (
	"context"
	"encoding/json"
	"net"
	"strings"
	"sync"
	"time"

	"chirp/cmd/identity/ids"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Audit actions written by the handlers.
const (
	actionLoginFailed      = "auth.login.failed"
	actionLoginSuccess     = "auth.login.success"
	actionLoginRateLimited = "auth.login.rate_limited"
	actionRefreshSuccess   = "auth.refresh.success"
	actionRefreshReuse     = "auth.refresh.reuse_detected"
	actionLogout           = "auth.logout"
	actionLogoutAll        = "auth.logout_all"
	actionPasswordChanged  = "auth.password.changed"
	actionAccountDisabled  = "auth.account.disabled"
	actionSignup           = "auth.signup"
	actionInviteCreated    = "auth.invite.created"
	actionInviteRevoked    = "auth.invite.revoked"
)

// AuditEvent is one row of the audit trail.
type AuditEvent struct {
	UserID    string
	Action    string
	At        time.Time
	IP        net.IP
	UserAgent string
	Meta      map[string]any
}

// AuditFilter narrows CountSince. Empty fields match everything.
type AuditFilter struct {
	UserID string
	IP     net.IP
	// Identifier matches meta.identifier (the normalized login name).
	Identifier string
}

// AuditLog persists security events and answers the counting queries the
// login throttle is built on.
type AuditLog interface {
	Record(ctx context.Context, ev AuditEvent) error
	CountSince(ctx context.Context, action string, f AuditFilter, since time.Time) (int, error)
}

// ---- handler helpers ----

func (h *Handler) auditLoginFailed(ctx context.Context, userID string, ip net.IP, ua, identifier, reason string) {
	h.insertAudit(ctx, actionLoginFailed, userID, ip, ua, map[string]any{
		"identifier": identifier,
		"reason":     reason,
	})
}

func (h *Handler) auditLoginRateLimited(ctx context.Context, ip net.IP, ua, identifier string, retryAfter time.Duration) {
	h.insertAudit(ctx, actionLoginRateLimited, "", ip, ua, map[string]any{
		"identifier":    identifier,
		"retry_after_s": int64(retryAfter.Seconds()),
	})
}

func (h *Handler) insertAudit(ctx context.Context, action, userID string, ip net.IP, ua string, meta map[string]any) {
	if h == nil || h.audit == nil {
		return
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return
	}

	err := h.audit.Record(ctx, AuditEvent{
		UserID:    strings.TrimSpace(userID),
		Action:    action,
		At:        h.clock.Now(),
		IP:        ip,
		UserAgent: strings.TrimSpace(ua),
		Meta:      meta,
	})
	if err != nil {
		h.log.Error("auth.audit.insert.fail", "err", err, "action", action)
	}
}

// ---- Postgres ----

// PostgresAuditLog writes chirp.audit_log.
type PostgresAuditLog struct {
	pool *pgxpool.Pool
}

// NewPostgresAuditLog constructs a PostgresAuditLog.
func NewPostgresAuditLog(pool *pgxpool.Pool) *PostgresAuditLog {
	return &PostgresAuditLog{pool: pool}
}

// Record implements AuditLog.
func (l *PostgresAuditLog) Record(ctx context.Context, ev AuditEvent) error {
	id, err := ids.NewULID(ev.At)
	if err != nil {
		return err
	}

	var ipVal any
	if ev.IP != nil {
		ipVal = ev.IP.String()
	}

	meta := []byte("{}")
	if len(ev.Meta) > 0 {
		if b, err := json.Marshal(ev.Meta); err == nil {
			meta = b
		}
	}

	_, err = l.pool.Exec(ctx, `
		INSERT INTO chirp.audit_log (
			id, user_id, action, created_at, ip, user_agent, meta
		) VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb)
	`, id, trimOrNil(ev.UserID), ev.Action, ev.At, ipVal, trimOrNil(ev.UserAgent), string(meta))
	return err
}

// CountSince implements AuditLog.
func (l *PostgresAuditLog) CountSince(ctx context.Context, action string, f AuditFilter, since time.Time) (int, error) {
	var ipVal any
	if f.IP != nil {
		ipVal = f.IP.String()
	}

	var n int
	err := l.pool.QueryRow(ctx, `
		SELECT count(*)
		FROM chirp.audit_log
		WHERE action = $1
		  AND created_at >= $2
		  AND ($3::text IS NULL OR user_id = $3)
		  AND ($4::inet IS NULL OR ip = $4)
		  AND ($5::text IS NULL OR meta->>'identifier' = $5)
	`, action, since, trimOrNil(f.UserID), ipVal, trimOrNil(f.Identifier)).Scan(&n)
	return n, err
}

func trimOrNil(s string) any {
	v := strings.TrimSpace(s)
	if v == "" {
		return nil
	}
	return v
}

// ---- memory ----

// MemoryAuditLog keeps events in process memory. It backs the
// database-less mode and tests.
type MemoryAuditLog struct {
	mu     sync.Mutex
	events []AuditEvent
}

// NewMemoryAuditLog constructs an empty MemoryAuditLog.
func NewMemoryAuditLog() *MemoryAuditLog {
	return &MemoryAuditLog{}
}

// Record implements AuditLog.
func (l *MemoryAuditLog) Record(_ context.Context, ev AuditEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
	return nil
}

// CountSince implements AuditLog.
func (l *MemoryAuditLog) CountSince(_ context.Context, action string, f AuditFilter, since time.Time) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for _, ev := range l.events {
		if ev.Action != action || ev.At.Before(since) {
			continue
		}
		if f.UserID != "" && ev.UserID != f.UserID {
			continue
		}
		if f.IP != nil && !f.IP.Equal(ev.IP) {
			continue
		}
		if f.Identifier != "" {
			if id, _ := ev.Meta["identifier"].(string); id != f.Identifier {
				continue
			}
		}
		n++
	}
	return n, nil
}

// Actions returns the recorded actions in order.
func (l *MemoryAuditLog) Actions() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]string, 0, len(l.events))
	for _, ev := range l.events {
		out = append(out, ev.Action)
	}
	return out
}

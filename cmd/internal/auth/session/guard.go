package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// UserState is the slice of account state the session core reads.
// DisplayName and Username feed the claims of rotated access tokens.
type UserState struct {
	Exists            bool
	Disabled          bool
	PasswordChangedAt time.Time
	DisplayName       string
	Username          string
}

// UserLookup reads live account state.
//
// A missing user is reported as UserState{Exists: false} with a nil error;
// errors are reserved for store faults.
type UserLookup interface {
	LookupUserState(ctx context.Context, userID UserID) (UserState, error)
}

// Guard re-checks a verified access token against live account state on
// sensitive routes (password change, account deletion).
type Guard struct {
	users   UserLookup
	timeout time.Duration
	log     *slog.Logger
	metrics *Metrics
}

// NewGuard constructs a Guard.
func NewGuard(users UserLookup, cfg Config, log *slog.Logger, metrics *Metrics) *Guard {
	if log == nil {
		log = slog.Default()
	}
	return &Guard{users: users, timeout: cfg.StoreTimeout, log: log, metrics: metrics}
}

// Check returns ErrSessionRevoked when the account is gone, disabled, or had
// its password changed after the token was issued. Lookup faults fail closed.
func (g *Guard) Check(ctx context.Context, p Principal) error {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	st, err := g.users.LookupUserState(ctx, p.UserID)
	if err != nil {
		return fmt.Errorf("guard: lookup user: %w", err)
	}

	var cause string
	switch {
	case !st.Exists:
		cause = "user_missing"
	case st.Disabled:
		cause = "user_disabled"
	// Same-instant issue passes: the fresh pair after a change is minted at
	// the change instant or later.
	case st.PasswordChangedAt.Truncate(issuePrecision).After(p.IssuedAt):
		cause = "password_changed"
	default:
		return nil
	}

	g.metrics.guardRejection()
	g.log.Info("auth.guard.reject",
		slog.String("user_id", string(p.UserID)),
		slog.String("cause", cause),
	)
	return ErrSessionRevoked
}

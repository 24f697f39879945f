package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"chirp/cmd/identity/ids"
	"chirp/cmd/internal/auth/session"
	"chirp/cmd/security/password"
)

// Accounts implements registration, credential checks and the account
// state changes that invalidate sessions.
type Accounts struct {
	store     Store
	passwords password.Config
	clock     session.Clock
	dummyHash string
}

// NewAccounts builds an Accounts service. A dummy hash is derived up front so
// logins for unknown usernames spend the same Argon2id work as real ones.
func NewAccounts(store Store, passwords password.Config, clock session.Clock) (*Accounts, error) {
	if store == nil {
		return nil, errors.New("identity: nil store")
	}
	if clock == nil {
		clock = session.SystemClock{}
	}
	dummy, err := passwords.DummyHash()
	if err != nil {
		return nil, fmt.Errorf("identity: dummy hash: %w", err)
	}
	return &Accounts{store: store, passwords: passwords, clock: clock, dummyHash: dummy}, nil
}

// Register creates an account.
func (a *Accounts) Register(ctx context.Context, username, displayName, plain string) (User, error) {
	const op = "identity.Register"

	username = strings.TrimSpace(username)
	if !ValidUsername(username) {
		return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "username must be 3-32 letters, digits or underscores"}
	}
	displayName = NormalizeDisplayName(displayName)
	if displayName == "" {
		displayName = username
	}
	if utf8.RuneCountInString(displayName) > maxDisplayNameRunes {
		return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "display name too long"}
	}

	hash, err := a.passwords.Hash(plain)
	if err != nil {
		return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: err.Error()}
	}

	now := a.clock.Now()
	id, err := ids.NewULID(now)
	if err != nil {
		return User{}, err
	}

	return a.store.CreateUser(ctx, NewUser{
		ID:           id,
		Username:     username,
		DisplayName:  displayName,
		PasswordHash: hash,
		Now:          now,
	})
}

// Authenticate checks a username/password pair. Unknown users, wrong
// passwords and disabled accounts all return ErrInvalidCredentials.
func (a *Accounts) Authenticate(ctx context.Context, username, plain string) (User, error) {
	u, err := a.store.GetByUsername(ctx, username)
	if err != nil {
		if !IsNotFound(err) {
			return User{}, err
		}
		_, _ = a.passwords.Verify(a.dummyHash, plain)
		return User{}, ErrInvalidCredentials
	}

	ok, err := a.passwords.Verify(u.PasswordHash, plain)
	if err != nil {
		return User{}, fmt.Errorf("identity.Authenticate: %w", err)
	}
	if !ok || u.Disabled() {
		return User{}, ErrInvalidCredentials
	}

	if a.passwords.NeedsRehash(u.PasswordHash) {
		if hash, err := a.passwords.Hash(plain); err == nil {
			// Keep password_changed_at: a rehash is not a credential change.
			_ = a.store.Rehash(ctx, u.ID, hash)
		}
	}
	return u, nil
}

// ChangePassword verifies current and stores next. The returned time is the
// new password_changed_at; tokens issued before it stop passing the guard.
func (a *Accounts) ChangePassword(ctx context.Context, userID, current, next string) (time.Time, error) {
	const op = "identity.ChangePassword"

	u, err := a.store.GetByID(ctx, userID)
	if err != nil {
		return time.Time{}, err
	}
	if u.Disabled() {
		return time.Time{}, OpError{Op: op, Kind: ErrNotActive}
	}

	ok, err := a.passwords.Verify(u.PasswordHash, current)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s: %w", op, err)
	}
	if !ok {
		return time.Time{}, ErrInvalidCredentials
	}
	if current == next {
		return time.Time{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "new password must differ"}
	}

	hash, err := a.passwords.Hash(next)
	if err != nil {
		return time.Time{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: err.Error()}
	}

	// Microseconds: what Postgres keeps and what access tokens carry.
	now := a.clock.Now().UTC().Truncate(time.Microsecond)
	if err := a.store.SetPasswordHash(ctx, userID, hash, now); err != nil {
		return time.Time{}, err
	}
	return now, nil
}

// Disable marks the account disabled.
func (a *Accounts) Disable(ctx context.Context, userID string) error {
	return a.store.Disable(ctx, userID, a.clock.Now())
}

// Get loads a user by id.
func (a *Accounts) Get(ctx context.Context, userID string) (User, error) {
	return a.store.GetByID(ctx, userID)
}

// LookupUserState implements session.UserLookup.
func (a *Accounts) LookupUserState(ctx context.Context, userID session.UserID) (session.UserState, error) {
	u, err := a.store.GetByID(ctx, string(userID))
	if IsNotFound(err) {
		return session.UserState{}, nil
	}
	if err != nil {
		return session.UserState{}, err
	}
	return session.UserState{
		Exists:            true,
		Disabled:          u.Disabled(),
		PasswordChangedAt: u.PasswordChangedAt,
		DisplayName:       u.DisplayName,
		Username:          u.Username,
	}, nil
}

var _ session.UserLookup = (*Accounts)(nil)

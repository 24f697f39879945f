package identity

import (
	"context"
	"time"
)

// User is chirp's account record.
type User struct {
	ID                string
	Username          string
	UsernameNorm      string
	DisplayName       string
	PasswordHash      string
	PasswordChangedAt time.Time
	DisabledAt        *time.Time
	CreatedAt         time.Time
}

// Disabled reports whether the account has been disabled.
func (u User) Disabled() bool { return u.DisabledAt != nil }

// NewUser is the row inserted by Store.CreateUser. PasswordHash is already
// encoded; the store never sees plaintext passwords.
type NewUser struct {
	ID           string
	Username     string
	DisplayName  string
	PasswordHash string
	Now          time.Time
}

// Store is the account persistence boundary.
type Store interface {
	// CreateUser inserts a user. A taken username is a ConflictError.
	CreateUser(ctx context.Context, in NewUser) (User, error)

	// GetByID and GetByUsername return a NotFoundError for missing rows.
	GetByID(ctx context.Context, id string) (User, error)
	GetByUsername(ctx context.Context, username string) (User, error)

	// SetPasswordHash replaces the hash and stamps password_changed_at.
	SetPasswordHash(ctx context.Context, id, hash string, now time.Time) error

	// Rehash upgrades the stored hash without touching password_changed_at.
	Rehash(ctx context.Context, id, hash string) error

	// Disable stamps disabled_at once; disabling twice is a no-op.
	Disable(ctx context.Context, id string, now time.Time) error
}

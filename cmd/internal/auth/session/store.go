package session

import (
	"context"
	"time"
)

// RevocationReason records why a refresh record stopped being usable.
type RevocationReason string

const (
	// ReasonRotation marks a record retired by a successful refresh.
	ReasonRotation RevocationReason = "rotation"
	// ReasonLogout marks a record revoked by single-session logout.
	ReasonLogout RevocationReason = "logout"
	// ReasonReuseDetected marks every record of a family revoked after replay.
	ReasonReuseDetected RevocationReason = "reuse_detected"
	// ReasonLogoutAll marks records revoked by a user-initiated mass logout.
	ReasonLogoutAll RevocationReason = "logout_all"
	// ReasonPasswordChanged marks records revoked after a password change.
	ReasonPasswordChanged RevocationReason = "password_changed"
	// ReasonAccountDisabled marks records revoked when the account was disabled.
	ReasonAccountDisabled RevocationReason = "account_disabled"
)

// Record mirrors one chirp.refresh_tokens row.
type Record struct {
	ID               RecordID
	TokenHash        TokenHash
	UserID           UserID
	FamilyID         FamilyID
	ExpiresAt        time.Time
	IsRevoked        bool
	RevokedAt        *time.Time
	RevocationReason RevocationReason
	CreatedAt        time.Time
}

// ExpiredAt reports whether now is strictly past the record's expiry; the
// expiry instant itself is still usable.
func (r Record) ExpiredAt(now time.Time) bool { return now.After(r.ExpiresAt) }

// Store abstracts persistence for refresh records.
//
// RevokeIfActive is the only mutual-exclusion primitive the authority relies
// on: for any hash, at most one concurrent caller may observe true.
type Store interface {
	// Save inserts a new record. Hash collisions are an error.
	Save(ctx context.Context, rec Record) error

	// FindByHash loads a record by digest or returns ErrRecordNotFound.
	FindByHash(ctx context.Context, hash TokenHash) (Record, error)

	// RevokeIfActive atomically flips an unrevoked, unexpired record to revoked.
	RevokeIfActive(ctx context.Context, hash TokenHash, now time.Time, reason RevocationReason) (bool, error)

	// FindLatestRevokedInFamily returns the most recently revoked record of a
	// family, or ErrRecordNotFound. Equal revoked_at values are broken by the
	// greater id.
	FindLatestRevokedInFamily(ctx context.Context, family FamilyID) (Record, error)

	// RevokeFamily revokes every still-active record of a family.
	RevokeFamily(ctx context.Context, family FamilyID, now time.Time, reason RevocationReason) (int64, error)

	// RevokeAllForUser revokes every still-active record of a user.
	RevokeAllForUser(ctx context.Context, userID UserID, now time.Time, reason RevocationReason) (int64, error)

	// DeleteExpired removes records that are both expired and revoked.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// TxStore is a Store that can run a unit of work atomically.
//
// fn receives a Store bound to the transaction; returning an error rolls
// every write back.
type TxStore interface {
	Store
	InTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
}

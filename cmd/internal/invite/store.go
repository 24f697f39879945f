package invite

import (
	"context"
	"time"
)

// CreateRecord is a normalized invite insert payload.
type CreateRecord struct {
	ID        string
	TokenHash string
	CreatedBy *string
	CreatedAt time.Time
	ExpiresAt time.Time
	MaxUses   int
	Note      *string
}

// ConsumeRecord describes a token consumption.
type ConsumeRecord struct {
	TokenHash  string
	ConsumedBy *string
	Now        time.Time
}

// RevokeRecord describes a revocation. A non-nil CreatedBy restricts it to
// invites created by that user; other invites report ErrNotFound.
type RevokeRecord struct {
	ID        string
	CreatedBy *string
	Now       time.Time
}

// Store is the persistence boundary for invites.
//
// Consume must be a single atomic step: it succeeds only while the invite
// is unrevoked and unexpired, with uses left. It returns ErrNotFound
// for unknown hashes and ErrNotActive otherwise.
type Store interface {
	Create(ctx context.Context, in CreateRecord) (Invite, error)
	GetByTokenHash(ctx context.Context, tokenHash string) (Invite, error)
	Consume(ctx context.Context, in ConsumeRecord) (Invite, error)
	Revoke(ctx context.Context, in RevokeRecord) error
}

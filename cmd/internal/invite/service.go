// Package invite gates account creation when open registration is off.
// Invite tokens are opaque bearer strings; only their digest is stored.
package invite

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"strings"
	"time"

	"chirp/cmd/identity/ids"
	"chirp/cmd/security/token"
)

const (
	defaultTokenBytes = 32
	defaultTTL        = 7 * 24 * time.Hour
	maxNoteLen        = 512
)

// Invite represents an invite row. The plaintext token is never part of it.
type Invite struct {
	ID         string
	CreatedBy  *string
	CreatedAt  time.Time
	ExpiresAt  time.Time
	MaxUses    int
	UsedCount  int
	RevokedAt  *time.Time
	Note       *string
	ConsumedAt *time.Time
	ConsumedBy *string
}

// Active reports whether the invite can still be consumed at now.
func (i Invite) Active(now time.Time) bool {
	if i.RevokedAt != nil {
		return false
	}
	if !i.ExpiresAt.After(now) {
		return false
	}
	return i.UsedCount < i.MaxUses
}

// CreateInput describes invite creation.
type CreateInput struct {
	CreatedBy *string
	TTL       time.Duration
	MaxUses   int
	Note      *string
	Now       time.Time
}

// ConsumeInput describes invite consumption. ConsumedBy is the username
// being registered.
type ConsumeInput struct {
	Token      string
	ConsumedBy *string
	Now        time.Time
}

// Service manages invite creation, validation, and consumption.
type Service struct {
	store      Store
	hasher     token.Hasher
	tokenBytes int
	maxTTL     time.Duration
}

// Option configures the Service.
type Option func(*Service) error

// WithTokenBytes sets the length of generated invite tokens in bytes.
func WithTokenBytes(n int) Option {
	return func(s *Service) error {
		if n < 16 {
			return ErrInvalidInput
		}
		s.tokenBytes = n
		return nil
	}
}

// WithHasher digests invite tokens with h, so the refresh-token pepper
// covers invites too.
func WithHasher(h token.Hasher) Option {
	return func(s *Service) error {
		s.hasher = h
		return nil
	}
}

// WithMaxTTL caps the lifetime a caller may request.
func WithMaxTTL(d time.Duration) Option {
	return func(s *Service) error {
		if d <= 0 {
			return ErrInvalidInput
		}
		s.maxTTL = d
		return nil
	}
}

// NewService constructs a Service with safe defaults.
func NewService(store Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, ErrInvalidInput
	}
	s := &Service{store: store, tokenBytes: defaultTokenBytes, maxTTL: 30 * 24 * time.Hour}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// CreateInvite creates a new invite and returns the invite plus its plain token.
func (s *Service) CreateInvite(ctx context.Context, in CreateInput) (Invite, string, error) {
	if err := ctx.Err(); err != nil {
		return Invite{}, "", err
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	ttl := in.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if ttl > s.maxTTL {
		return Invite{}, "", ErrInvalidInput
	}
	maxUses := in.MaxUses
	if maxUses <= 0 {
		maxUses = 1
	}
	note := trimPtr(in.Note)
	if note != nil && len(*note) > maxNoteLen {
		return Invite{}, "", ErrInvalidInput
	}

	tokenPlain, err := newOpaqueToken(s.tokenBytes)
	if err != nil {
		return Invite{}, "", err
	}
	inviteID, err := ids.NewULID(now)
	if err != nil {
		return Invite{}, "", err
	}

	inv, err := s.store.Create(ctx, CreateRecord{
		ID:        inviteID,
		TokenHash: s.hasher.Hash(tokenPlain),
		CreatedBy: trimPtr(in.CreatedBy),
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
		MaxUses:   maxUses,
		Note:      note,
	})
	if err != nil {
		return Invite{}, "", err
	}
	return inv, tokenPlain, nil
}

// ValidateInvite checks whether a token is valid and active at the given time.
// Unknown tokens report false with a nil error.
func (s *Service) ValidateInvite(ctx context.Context, tokenStr string, now time.Time) (bool, Invite, error) {
	if err := ctx.Err(); err != nil {
		return false, Invite{}, err
	}
	tokenStr = strings.TrimSpace(tokenStr)
	if tokenStr == "" {
		return false, Invite{}, ErrInvalidInput
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	inv, err := s.store.GetByTokenHash(ctx, s.hasher.Hash(tokenStr))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, Invite{}, nil
		}
		return false, Invite{}, err
	}
	return inv.Active(now), inv, nil
}

// ConsumeInvite atomically takes one use of an active invite.
func (s *Service) ConsumeInvite(ctx context.Context, in ConsumeInput) (Invite, error) {
	if err := ctx.Err(); err != nil {
		return Invite{}, err
	}
	tokenStr := strings.TrimSpace(in.Token)
	if tokenStr == "" {
		return Invite{}, ErrInvalidInput
	}
	consumedBy := trimPtr(in.ConsumedBy)
	if consumedBy == nil {
		return Invite{}, ErrInvalidInput
	}
	if in.Now.IsZero() {
		in.Now = time.Now().UTC()
	}

	return s.store.Consume(ctx, ConsumeRecord{
		TokenHash:  s.hasher.Hash(tokenStr),
		ConsumedBy: consumedBy,
		Now:        in.Now,
	})
}

// RevokeInput describes invite revocation. RevokedBy, when set, must be
// the invite's creator.
type RevokeInput struct {
	ID        string
	RevokedBy *string
	Now       time.Time
}

// RevokeInvite stops further use of an invite. Past consumptions stand.
func (s *Service) RevokeInvite(ctx context.Context, in RevokeInput) error {
	id := strings.TrimSpace(in.ID)
	if id == "" {
		return ErrInvalidInput
	}
	if in.Now.IsZero() {
		in.Now = time.Now().UTC()
	}
	return s.store.Revoke(ctx, RevokeRecord{ID: id, CreatedBy: trimPtr(in.RevokedBy), Now: in.Now})
}

func newOpaqueToken(nBytes int) (string, error) {
	if nBytes <= 0 {
		nBytes = defaultTokenBytes
	}
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func trimPtr(v *string) *string {
	if v == nil {
		return nil
	}
	s := strings.TrimSpace(*v)
	if s == "" {
		return nil
	}
	return &s
}

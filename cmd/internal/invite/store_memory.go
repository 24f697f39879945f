package invite

import (
	"context"
	"strings"
	"sync"
)

// MemoryStore keeps invites in process memory. Used when no database is
// configured and in tests.
type MemoryStore struct {
	mu     sync.Mutex
	byHash map[string]*Invite
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byHash: make(map[string]*Invite)}
}

// Create implements Store.
func (s *MemoryStore) Create(ctx context.Context, in CreateRecord) (Invite, error) {
	if err := ctx.Err(); err != nil {
		return Invite{}, err
	}
	if strings.TrimSpace(in.ID) == "" || strings.TrimSpace(in.TokenHash) == "" || in.MaxUses <= 0 {
		return Invite{}, ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byHash[in.TokenHash]; ok {
		return Invite{}, ErrInvalidInput
	}
	inv := &Invite{
		ID:        in.ID,
		CreatedBy: in.CreatedBy,
		CreatedAt: in.CreatedAt,
		ExpiresAt: in.ExpiresAt,
		MaxUses:   in.MaxUses,
		Note:      in.Note,
	}
	s.byHash[in.TokenHash] = inv
	return *inv, nil
}

// GetByTokenHash implements Store.
func (s *MemoryStore) GetByTokenHash(ctx context.Context, tokenHash string) (Invite, error) {
	if err := ctx.Err(); err != nil {
		return Invite{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.byHash[tokenHash]
	if !ok {
		return Invite{}, ErrNotFound
	}
	return *inv, nil
}

// Consume implements Store.
func (s *MemoryStore) Consume(ctx context.Context, in ConsumeRecord) (Invite, error) {
	if err := ctx.Err(); err != nil {
		return Invite{}, err
	}
	if in.ConsumedBy == nil {
		return Invite{}, ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.byHash[in.TokenHash]
	if !ok {
		return Invite{}, ErrNotFound
	}
	if !inv.Active(in.Now) {
		return Invite{}, ErrNotActive
	}
	now := in.Now
	by := *in.ConsumedBy
	inv.UsedCount++
	inv.ConsumedAt = &now
	inv.ConsumedBy = &by
	return *inv, nil
}

// Revoke implements Store.
func (s *MemoryStore) Revoke(ctx context.Context, in RevokeRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, inv := range s.byHash {
		if inv.ID != in.ID {
			continue
		}
		if in.CreatedBy != nil && (inv.CreatedBy == nil || *inv.CreatedBy != *in.CreatedBy) {
			return ErrNotFound
		}
		if inv.RevokedAt == nil {
			at := in.Now
			inv.RevokedAt = &at
		}
		return nil
	}
	return ErrNotFound
}

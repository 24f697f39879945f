package identity

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for development mode and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	byID   map[string]User
	byNorm map[string]string
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: map[string]User{}, byNorm: map[string]string{}}
}

var _ Store = (*MemoryStore)(nil)

// CreateUser implements Store.
func (s *MemoryStore) CreateUser(_ context.Context, in NewUser) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	norm := NormalizeUsername(in.Username)
	if _, taken := s.byNorm[norm]; taken {
		return User{}, ConflictError{Op: "identity.CreateUser", Field: "username"}
	}
	if _, taken := s.byID[in.ID]; taken {
		return User{}, ConflictError{Op: "identity.CreateUser", Field: "id"}
	}

	u := User{
		ID:                in.ID,
		Username:          strings.TrimSpace(in.Username),
		UsernameNorm:      norm,
		DisplayName:       strings.TrimSpace(in.DisplayName),
		PasswordHash:      in.PasswordHash,
		PasswordChangedAt: in.Now,
		CreatedAt:         in.Now,
	}
	s.byID[u.ID] = u
	s.byNorm[norm] = u.ID
	return u, nil
}

// GetByID implements Store.
func (s *MemoryStore) GetByID(_ context.Context, id string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.byID[id]
	if !ok {
		return User{}, NotFoundError{Op: "identity.GetByID", Resource: "user"}
	}
	return u, nil
}

// GetByUsername implements Store.
func (s *MemoryStore) GetByUsername(_ context.Context, username string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byNorm[NormalizeUsername(username)]
	if !ok {
		return User{}, NotFoundError{Op: "identity.GetByUsername", Resource: "user"}
	}
	return s.byID[id], nil
}

// SetPasswordHash implements Store.
func (s *MemoryStore) SetPasswordHash(_ context.Context, id, hash string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[id]
	if !ok {
		return NotFoundError{Op: "identity.SetPasswordHash", Resource: "user"}
	}
	u.PasswordHash = hash
	u.PasswordChangedAt = now
	s.byID[id] = u
	return nil
}

// Rehash implements Store.
func (s *MemoryStore) Rehash(_ context.Context, id, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[id]
	if !ok {
		return NotFoundError{Op: "identity.Rehash", Resource: "user"}
	}
	u.PasswordHash = hash
	s.byID[id] = u
	return nil
}

// Disable implements Store.
func (s *MemoryStore) Disable(_ context.Context, id string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[id]
	if !ok {
		return NotFoundError{Op: "identity.Disable", Resource: "user"}
	}
	if u.DisabledAt == nil {
		at := now
		u.DisabledAt = &at
		s.byID[id] = u
	}
	return nil
}
